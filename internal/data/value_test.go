package data

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZeroValueIsNone(t *testing.T) {
	var v Value
	assert.Equal(t, KindNone, v.Kind())
	assert.True(t, v.IsNone())
}

func TestScalarAccessors(t *testing.T) {
	b, ok := NewBool(true).Bool()
	require.True(t, ok)
	assert.True(t, b)

	u, ok := NewCount(42).Count()
	require.True(t, ok)
	assert.Equal(t, uint64(42), u)

	i, ok := NewInt(-7).Int()
	require.True(t, ok)
	assert.Equal(t, int64(-7), i)

	s, ok := NewString("hi").Str()
	require.True(t, ok)
	assert.Equal(t, "hi", s)

	// wrong-kind access reports not-ok, never a wrong variant
	_, ok = NewInt(1).Count()
	assert.False(t, ok)
}

func TestSetCollapsesDuplicates(t *testing.T) {
	s := NewSet(NewInt(2), NewInt(1), NewInt(2))
	elems, ok := s.Elems()
	require.True(t, ok)
	require.Len(t, elems, 2)
	assert.True(t, Equal(elems[0], NewInt(1)))
	assert.True(t, Equal(elems[1], NewInt(2)))
	assert.True(t, s.Contains(NewInt(2)))
	assert.False(t, s.Contains(NewInt(3)))
}

func TestTableLastWriteWinsAndLookup(t *testing.T) {
	tbl := NewTable(
		Pair{Key: NewString("a"), Val: NewInt(1)},
		Pair{Key: NewString("a"), Val: NewInt(2)},
		Pair{Key: NewString("b"), Val: NewInt(3)},
	)
	pairs, ok := tbl.Pairs()
	require.True(t, ok)
	require.Len(t, pairs, 2)

	got, found := tbl.TableGet(NewString("a"))
	require.True(t, found)
	assert.True(t, Equal(got, NewInt(2)))

	_, found = tbl.TableGet(NewString("c"))
	assert.False(t, found)
}

func TestCompareIsTotalAcrossKinds(t *testing.T) {
	// distinct kinds order by kind tag
	assert.Negative(t, Compare(None(), NewBool(false)))
	assert.Positive(t, Compare(NewString("x"), NewInt(999)))

	// containers order lexicographically then by length
	assert.Negative(t, Compare(NewVector(NewInt(1)), NewVector(NewInt(1), NewInt(0))))
	assert.Positive(t, Compare(NewVector(NewInt(2)), NewVector(NewInt(1), NewInt(9))))
	assert.Zero(t, Compare(NewVector(NewInt(1)), NewVector(NewInt(1))))
}

func TestCloneIsDeep(t *testing.T) {
	inner := NewVector(NewInt(1))
	outer := NewVector(inner)
	cp := outer.Clone()

	elems, _ := outer.Elems()
	innerElems, _ := elems[0].Elems()
	innerElems[0] = NewInt(99)

	cpElems, _ := cp.Elems()
	cpInner, _ := cpElems[0].Elems()
	assert.True(t, Equal(cpInner[0], NewInt(1)))
}

func TestWireRoundTripAllKinds(t *testing.T) {
	addr := netip.MustParseAddr("2001:db8::1")
	pfx := netip.MustParsePrefix("10.0.0.0/8")
	when := time.Date(2024, 5, 1, 12, 30, 0, 123456789, time.UTC)

	values := []Value{
		None(),
		NewBool(true),
		NewCount(1 << 40),
		NewInt(-12345),
		NewReal(3.25),
		NewString("topic/a"),
		NewEnum("Cluster::NODE"),
		NewAddress(addr),
		NewSubnet(pfx),
		NewPort(443, ProtoTCP),
		NewTime(when),
		NewInterval(90 * time.Second),
		NewSet(NewString("x"), NewString("y")),
		NewVector(NewInt(1), NewInt(2), NewInt(3)),
		NewRecord(NewString("name"), NewCount(2)),
		NewTable(Pair{Key: NewString("k"), Val: NewVector(NewBool(false))}),
	}

	// one nested composite covering recursion
	values = append(values, NewTable(Pair{
		Key: NewVector(NewAddress(addr), NewPort(53, ProtoUDP)),
		Val: NewSet(NewSubnet(pfx), NewInterval(time.Minute)),
	}))

	for _, v := range values {
		raw, err := Encode(v)
		require.NoError(t, err, "encode %s", v)
		back, err := Decode(raw)
		require.NoError(t, err, "decode %s", v)
		assert.True(t, Equal(v, back), "round trip %s != %s", v, back)
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := Decode([]byte{0xff, 0x00, 0x01})
	assert.Error(t, err)
}
