package data

import "errors"

// ErrTypeMismatch reports an operation applied to a value of an
// incompatible kind. State is left unchanged by the caller.
var ErrTypeMismatch = errors.New("type mismatch")

// AddNumber adds by to v, creating the arithmetic used by the store's
// increment/decrement. A None value counts as integer zero. Count
// values saturate at zero on underflow rather than wrapping.
func AddNumber(v Value, by Value) (Value, error) {
	if v.kind == KindNone {
		v = NewInt(0)
	}
	switch v.kind {
	case KindCount:
		switch by.kind {
		case KindCount:
			return NewCount(v.u + by.u), nil
		case KindInt:
			if by.i < 0 && uint64(-by.i) > v.u {
				return NewCount(0), nil
			}
			if by.i < 0 {
				return NewCount(v.u - uint64(-by.i)), nil
			}
			return NewCount(v.u + uint64(by.i)), nil
		}
	case KindInt:
		switch by.kind {
		case KindCount:
			return NewInt(v.i + int64(by.u)), nil
		case KindInt:
			return NewInt(v.i + by.i), nil
		}
	case KindReal:
		switch by.kind {
		case KindReal:
			return NewReal(v.f + by.f), nil
		case KindInt:
			return NewReal(v.f + float64(by.i)), nil
		case KindCount:
			return NewReal(v.f + float64(by.u)), nil
		}
	}
	return Value{}, ErrTypeMismatch
}

// Negate flips the sign of a numeric amount, for decrement.
func Negate(v Value) (Value, error) {
	switch v.kind {
	case KindCount:
		return NewInt(-int64(v.u)), nil
	case KindInt:
		return NewInt(-v.i), nil
	case KindReal:
		return NewReal(-v.f), nil
	default:
		return Value{}, ErrTypeMismatch
	}
}

// SetAdd returns v with elem inserted. A None value becomes an empty
// set first.
func SetAdd(v Value, elem Value) (Value, error) {
	if v.kind == KindNone {
		v = NewSet()
	}
	if v.kind != KindSet {
		return Value{}, ErrTypeMismatch
	}
	cp := v.Clone()
	cp.list = insertSorted(cp.list, elem.Clone())
	return cp, nil
}

// SetRemove returns v with elem removed; removing from an absent set
// yields an empty set.
func SetRemove(v Value, elem Value) (Value, error) {
	if v.kind == KindNone {
		v = NewSet()
	}
	if v.kind != KindSet {
		return Value{}, ErrTypeMismatch
	}
	cp := v.Clone()
	cp.list = removeSorted(cp.list, elem)
	return cp, nil
}

// PushLeft prepends items to a vector, preserving item order: pushing
// [a b] onto [x] gives [a b x].
func PushLeft(v Value, items []Value) (Value, error) {
	if v.kind == KindNone {
		v = NewVector()
	}
	if v.kind != KindVector {
		return Value{}, ErrTypeMismatch
	}
	out := Value{kind: KindVector, list: make([]Value, 0, len(items)+len(v.list))}
	for _, it := range items {
		out.list = append(out.list, it.Clone())
	}
	for _, e := range v.list {
		out.list = append(out.list, e.Clone())
	}
	return out, nil
}

// PushRight appends items to a vector.
func PushRight(v Value, items []Value) (Value, error) {
	if v.kind == KindNone {
		v = NewVector()
	}
	if v.kind != KindVector {
		return Value{}, ErrTypeMismatch
	}
	out := v.Clone()
	for _, it := range items {
		out.list = append(out.list, it.Clone())
	}
	return out, nil
}

// ErrEmpty reports a pop from an empty or absent vector.
var ErrEmpty = errors.New("empty")

// PopLeft removes and returns the first element.
func PopLeft(v Value) (Value, Value, error) {
	return pop(v, true)
}

// PopRight removes and returns the last element.
func PopRight(v Value) (Value, Value, error) {
	return pop(v, false)
}

func pop(v Value, left bool) (rest Value, elem Value, err error) {
	if v.kind == KindNone {
		return Value{}, Value{}, ErrEmpty
	}
	if v.kind != KindVector {
		return Value{}, Value{}, ErrTypeMismatch
	}
	if len(v.list) == 0 {
		return Value{}, Value{}, ErrEmpty
	}
	cp := v.Clone()
	if left {
		elem = cp.list[0]
		cp.list = cp.list[1:]
	} else {
		elem = cp.list[len(cp.list)-1]
		cp.list = cp.list[:len(cp.list)-1]
	}
	return cp, elem, nil
}
