// Package data defines the tagged-union Value type used as the payload
// for all broker messages and store entries. The zero Value is None.
package data

import (
	"fmt"
	"net/netip"
	"sort"
	"strings"
	"time"
)

type Kind uint8

const (
	KindNone Kind = iota
	KindBool
	KindCount
	KindInt
	KindReal
	KindString
	KindAddress
	KindSubnet
	KindPort
	KindTime
	KindInterval
	KindEnum
	KindSet
	KindVector
	KindTable
	KindRecord
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindBool:
		return "bool"
	case KindCount:
		return "count"
	case KindInt:
		return "int"
	case KindReal:
		return "real"
	case KindString:
		return "string"
	case KindAddress:
		return "address"
	case KindSubnet:
		return "subnet"
	case KindPort:
		return "port"
	case KindTime:
		return "time"
	case KindInterval:
		return "interval"
	case KindEnum:
		return "enum"
	case KindSet:
		return "set"
	case KindVector:
		return "vector"
	case KindTable:
		return "table"
	case KindRecord:
		return "record"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Protocol qualifies a port value.
type Protocol uint8

const (
	ProtoUnknown Protocol = iota
	ProtoTCP
	ProtoUDP
	ProtoICMP
)

func (p Protocol) String() string {
	switch p {
	case ProtoTCP:
		return "tcp"
	case ProtoUDP:
		return "udp"
	case ProtoICMP:
		return "icmp"
	default:
		return "unknown"
	}
}

// Pair is one table entry.
type Pair struct {
	Key Value
	Val Value
}

// Value is a closed sum over the broker data kinds. Values are treated
// as immutable once embedded in a set or used as a table key; Clone
// produces the deep copies the store relies on.
type Value struct {
	kind  Kind
	b     bool
	u     uint64
	i     int64
	f     float64
	s     string
	addr  netip.Addr
	pfx   netip.Prefix
	tm    time.Time
	dur   time.Duration
	proto Protocol
	list  []Value // set (sorted, unique), vector, record
	pairs []Pair  // table, sorted by key
}

func None() Value                { return Value{} }
func NewBool(v bool) Value       { return Value{kind: KindBool, b: v} }
func NewCount(v uint64) Value    { return Value{kind: KindCount, u: v} }
func NewInt(v int64) Value       { return Value{kind: KindInt, i: v} }
func NewReal(v float64) Value    { return Value{kind: KindReal, f: v} }
func NewString(v string) Value   { return Value{kind: KindString, s: v} }
func NewEnum(name string) Value  { return Value{kind: KindEnum, s: name} }
func NewAddress(a netip.Addr) Value {
	return Value{kind: KindAddress, addr: a}
}
func NewSubnet(p netip.Prefix) Value {
	return Value{kind: KindSubnet, pfx: p.Masked()}
}
func NewPort(number uint16, proto Protocol) Value {
	return Value{kind: KindPort, u: uint64(number), proto: proto}
}
func NewTime(t time.Time) Value {
	return Value{kind: KindTime, tm: t.UTC()}
}
func NewInterval(d time.Duration) Value {
	return Value{kind: KindInterval, dur: d}
}

// NewSet builds a set value; duplicates collapse and elements are kept
// in total order so equality stays structural.
func NewSet(elems ...Value) Value {
	s := Value{kind: KindSet}
	for _, e := range elems {
		s.list = insertSorted(s.list, e.Clone())
	}
	return s
}

func NewVector(elems ...Value) Value {
	v := Value{kind: KindVector, list: make([]Value, 0, len(elems))}
	for _, e := range elems {
		v.list = append(v.list, e.Clone())
	}
	return v
}

func NewRecord(fields ...Value) Value {
	r := Value{kind: KindRecord, list: make([]Value, 0, len(fields))}
	for _, f := range fields {
		r.list = append(r.list, f.Clone())
	}
	return r
}

func NewTable(pairs ...Pair) Value {
	t := Value{kind: KindTable}
	for _, p := range pairs {
		t.pairs = tablePut(t.pairs, p.Key.Clone(), p.Val.Clone())
	}
	return t
}

func (v Value) Kind() Kind   { return v.kind }
func (v Value) IsNone() bool { return v.kind == KindNone }

func (v Value) Bool() (bool, bool)     { return v.b, v.kind == KindBool }
func (v Value) Count() (uint64, bool)  { return v.u, v.kind == KindCount }
func (v Value) Int() (int64, bool)     { return v.i, v.kind == KindInt }
func (v Value) Real() (float64, bool)  { return v.f, v.kind == KindReal }
func (v Value) Str() (string, bool)    { return v.s, v.kind == KindString }
func (v Value) Enum() (string, bool)   { return v.s, v.kind == KindEnum }
func (v Value) Address() (netip.Addr, bool) {
	return v.addr, v.kind == KindAddress
}
func (v Value) Subnet() (netip.Prefix, bool) {
	return v.pfx, v.kind == KindSubnet
}
func (v Value) Port() (uint16, Protocol, bool) {
	return uint16(v.u), v.proto, v.kind == KindPort
}
func (v Value) Time() (time.Time, bool) { return v.tm, v.kind == KindTime }
func (v Value) Interval() (time.Duration, bool) {
	return v.dur, v.kind == KindInterval
}

// Elems returns the elements of a set, vector, or record.
func (v Value) Elems() ([]Value, bool) {
	switch v.kind {
	case KindSet, KindVector, KindRecord:
		return v.list, true
	default:
		return nil, false
	}
}

// Pairs returns the entries of a table in key order.
func (v Value) Pairs() ([]Pair, bool) {
	if v.kind != KindTable {
		return nil, false
	}
	return v.pairs, true
}

// Contains reports set membership.
func (v Value) Contains(elem Value) bool {
	if v.kind != KindSet {
		return false
	}
	_, found := searchSorted(v.list, elem)
	return found
}

// TableGet looks up a table key.
func (v Value) TableGet(key Value) (Value, bool) {
	if v.kind != KindTable {
		return Value{}, false
	}
	idx := sort.Search(len(v.pairs), func(i int) bool {
		return Compare(v.pairs[i].Key, key) >= 0
	})
	if idx < len(v.pairs) && Compare(v.pairs[idx].Key, key) == 0 {
		return v.pairs[idx].Val, true
	}
	return Value{}, false
}

// Clone returns a deep copy. Scalars share nothing mutable, so only
// container kinds allocate.
func (v Value) Clone() Value {
	switch v.kind {
	case KindSet, KindVector, KindRecord:
		cp := v
		cp.list = make([]Value, len(v.list))
		for i, e := range v.list {
			cp.list[i] = e.Clone()
		}
		return cp
	case KindTable:
		cp := v
		cp.pairs = make([]Pair, len(v.pairs))
		for i, p := range v.pairs {
			cp.pairs[i] = Pair{Key: p.Key.Clone(), Val: p.Val.Clone()}
		}
		return cp
	default:
		return v
	}
}

func (v Value) String() string {
	switch v.kind {
	case KindNone:
		return "nil"
	case KindBool:
		if v.b {
			return "T"
		}
		return "F"
	case KindCount:
		return fmt.Sprintf("%d", v.u)
	case KindInt:
		return fmt.Sprintf("%+d", v.i)
	case KindReal:
		return fmt.Sprintf("%g", v.f)
	case KindString:
		return fmt.Sprintf("%q", v.s)
	case KindEnum:
		return v.s
	case KindAddress:
		return v.addr.String()
	case KindSubnet:
		return v.pfx.String()
	case KindPort:
		return fmt.Sprintf("%d/%s", v.u, v.proto)
	case KindTime:
		return v.tm.Format(time.RFC3339Nano)
	case KindInterval:
		return v.dur.String()
	case KindSet:
		return "{" + joinValues(v.list) + "}"
	case KindVector:
		return "[" + joinValues(v.list) + "]"
	case KindRecord:
		return "(" + joinValues(v.list) + ")"
	case KindTable:
		parts := make([]string, len(v.pairs))
		for i, p := range v.pairs {
			parts[i] = p.Key.String() + " -> " + p.Val.String()
		}
		return "{" + strings.Join(parts, ", ") + "}"
	default:
		return v.kind.String()
	}
}

func joinValues(vs []Value) string {
	parts := make([]string, len(vs))
	for i, e := range vs {
		parts[i] = e.String()
	}
	return strings.Join(parts, ", ")
}

func insertSorted(list []Value, v Value) []Value {
	idx, found := searchSorted(list, v)
	if found {
		return list
	}
	list = append(list, Value{})
	copy(list[idx+1:], list[idx:])
	list[idx] = v
	return list
}

func removeSorted(list []Value, v Value) []Value {
	idx, found := searchSorted(list, v)
	if !found {
		return list
	}
	return append(list[:idx], list[idx+1:]...)
}

func searchSorted(list []Value, v Value) (int, bool) {
	idx := sort.Search(len(list), func(i int) bool {
		return Compare(list[i], v) >= 0
	})
	return idx, idx < len(list) && Compare(list[idx], v) == 0
}

func tablePut(pairs []Pair, k, v Value) []Pair {
	idx := sort.Search(len(pairs), func(i int) bool {
		return Compare(pairs[i].Key, k) >= 0
	})
	if idx < len(pairs) && Compare(pairs[idx].Key, k) == 0 {
		pairs[idx].Val = v
		return pairs
	}
	pairs = append(pairs, Pair{})
	copy(pairs[idx+1:], pairs[idx:])
	pairs[idx] = Pair{Key: k, Val: v}
	return pairs
}
