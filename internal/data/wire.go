package data

import (
	"fmt"
	"net/netip"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// wireValue is the CBOR shape of a Value. Scalar payloads ride in the
// field matching their kind; containers recurse through List, with
// tables encoded as alternating key/value elements.
type wireValue struct {
	Kind  uint8       `cbor:"k"`
	Bool  bool        `cbor:"b,omitempty"`
	Uint  uint64      `cbor:"u,omitempty"`
	Int   int64       `cbor:"i,omitempty"`
	Real  float64     `cbor:"f,omitempty"`
	Str   string      `cbor:"s,omitempty"`
	Bytes []byte      `cbor:"y,omitempty"`
	Aux   uint8       `cbor:"x,omitempty"`
	List  []wireValue `cbor:"l,omitempty"`
}

// Encode serializes a value for transport or as a backend key/value
// blob. The encoding is deterministic for a given value because sets
// and tables hold their elements in total order.
func Encode(v Value) ([]byte, error) {
	return cbor.Marshal(v.toWire())
}

// Decode is the inverse of Encode.
func Decode(b []byte) (Value, error) {
	var w wireValue
	if err := cbor.Unmarshal(b, &w); err != nil {
		return Value{}, fmt.Errorf("decode value: %w", err)
	}
	return fromWire(w)
}

// MarshalCBOR lets envelopes embed Values directly.
func (v Value) MarshalCBOR() ([]byte, error) { return Encode(v) }

// UnmarshalCBOR is the inverse of MarshalCBOR.
func (v *Value) UnmarshalCBOR(b []byte) error {
	dec, err := Decode(b)
	if err != nil {
		return err
	}
	*v = dec
	return nil
}

func (v Value) toWire() wireValue {
	w := wireValue{Kind: uint8(v.kind)}
	switch v.kind {
	case KindNone:
	case KindBool:
		w.Bool = v.b
	case KindCount:
		w.Uint = v.u
	case KindInt:
		w.Int = v.i
	case KindReal:
		w.Real = v.f
	case KindString, KindEnum:
		w.Str = v.s
	case KindAddress:
		w.Bytes = v.addr.AsSlice()
	case KindSubnet:
		w.Bytes = v.pfx.Addr().AsSlice()
		w.Aux = uint8(v.pfx.Bits())
	case KindPort:
		w.Uint = v.u
		w.Aux = uint8(v.proto)
	case KindTime:
		w.Int = v.tm.UnixNano()
	case KindInterval:
		w.Int = int64(v.dur)
	case KindSet, KindVector, KindRecord:
		w.List = make([]wireValue, len(v.list))
		for i, e := range v.list {
			w.List[i] = e.toWire()
		}
	case KindTable:
		w.List = make([]wireValue, 0, 2*len(v.pairs))
		for _, p := range v.pairs {
			w.List = append(w.List, p.Key.toWire(), p.Val.toWire())
		}
	}
	return w
}

func fromWire(w wireValue) (Value, error) {
	switch Kind(w.Kind) {
	case KindNone:
		return None(), nil
	case KindBool:
		return NewBool(w.Bool), nil
	case KindCount:
		return NewCount(w.Uint), nil
	case KindInt:
		return NewInt(w.Int), nil
	case KindReal:
		return NewReal(w.Real), nil
	case KindString:
		return NewString(w.Str), nil
	case KindEnum:
		return NewEnum(w.Str), nil
	case KindAddress:
		addr, ok := netip.AddrFromSlice(w.Bytes)
		if !ok {
			return Value{}, fmt.Errorf("decode value: bad address length %d", len(w.Bytes))
		}
		return NewAddress(addr), nil
	case KindSubnet:
		addr, ok := netip.AddrFromSlice(w.Bytes)
		if !ok {
			return Value{}, fmt.Errorf("decode value: bad subnet length %d", len(w.Bytes))
		}
		pfx := netip.PrefixFrom(addr, int(w.Aux))
		if !pfx.IsValid() {
			return Value{}, fmt.Errorf("decode value: bad prefix bits %d", w.Aux)
		}
		return NewSubnet(pfx), nil
	case KindPort:
		if w.Uint > 0xffff {
			return Value{}, fmt.Errorf("decode value: port %d out of range", w.Uint)
		}
		return NewPort(uint16(w.Uint), Protocol(w.Aux)), nil
	case KindTime:
		return NewTime(time.Unix(0, w.Int)), nil
	case KindInterval:
		return NewInterval(time.Duration(w.Int)), nil
	case KindSet, KindVector, KindRecord:
		elems := make([]Value, len(w.List))
		for i, we := range w.List {
			e, err := fromWire(we)
			if err != nil {
				return Value{}, err
			}
			elems[i] = e
		}
		switch Kind(w.Kind) {
		case KindSet:
			return NewSet(elems...), nil
		case KindVector:
			return NewVector(elems...), nil
		default:
			return NewRecord(elems...), nil
		}
	case KindTable:
		if len(w.List)%2 != 0 {
			return Value{}, fmt.Errorf("decode value: odd table encoding length %d", len(w.List))
		}
		pairs := make([]Pair, 0, len(w.List)/2)
		for i := 0; i < len(w.List); i += 2 {
			k, err := fromWire(w.List[i])
			if err != nil {
				return Value{}, err
			}
			val, err := fromWire(w.List[i+1])
			if err != nil {
				return Value{}, err
			}
			pairs = append(pairs, Pair{Key: k, Val: val})
		}
		return NewTable(pairs...), nil
	default:
		return Value{}, fmt.Errorf("decode value: unknown kind %d", w.Kind)
	}
}
