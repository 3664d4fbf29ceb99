package data

// Compare imposes a total order over all values: first by kind, then by
// the kind's natural order. Sets and table keys depend on this order
// being total and deterministic.
func Compare(a, b Value) int {
	if a.kind != b.kind {
		return int(a.kind) - int(b.kind)
	}
	switch a.kind {
	case KindNone:
		return 0
	case KindBool:
		return cmpBool(a.b, b.b)
	case KindCount:
		return cmpUint64(a.u, b.u)
	case KindInt:
		return cmpInt64(a.i, b.i)
	case KindReal:
		switch {
		case a.f < b.f:
			return -1
		case a.f > b.f:
			return 1
		default:
			return 0
		}
	case KindString, KindEnum:
		return cmpString(a.s, b.s)
	case KindAddress:
		return a.addr.Compare(b.addr)
	case KindSubnet:
		if c := a.pfx.Addr().Compare(b.pfx.Addr()); c != 0 {
			return c
		}
		return a.pfx.Bits() - b.pfx.Bits()
	case KindPort:
		if c := cmpUint64(a.u, b.u); c != 0 {
			return c
		}
		return int(a.proto) - int(b.proto)
	case KindTime:
		return a.tm.Compare(b.tm)
	case KindInterval:
		return cmpInt64(int64(a.dur), int64(b.dur))
	case KindSet, KindVector, KindRecord:
		return cmpValues(a.list, b.list)
	case KindTable:
		return cmpPairs(a.pairs, b.pairs)
	default:
		return 0
	}
}

// Equal is structural equality, consistent with Compare.
func Equal(a, b Value) bool { return Compare(a, b) == 0 }

func cmpValues(a, b []Value) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if c := Compare(a[i], b[i]); c != 0 {
			return c
		}
	}
	return len(a) - len(b)
}

func cmpPairs(a, b []Pair) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if c := Compare(a[i].Key, b[i].Key); c != 0 {
			return c
		}
		if c := Compare(a[i].Val, b[i].Val); c != 0 {
			return c
		}
	}
	return len(a) - len(b)
}

func cmpBool(a, b bool) int {
	switch {
	case a == b:
		return 0
	case !a:
		return -1
	default:
		return 1
	}
}

func cmpUint64(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cmpInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cmpString(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
