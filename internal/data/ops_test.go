package data

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddNumberCreatesFromNone(t *testing.T) {
	got, err := AddNumber(None(), NewInt(5))
	require.NoError(t, err)
	assert.True(t, Equal(got, NewInt(5)))
}

func TestAddNumberRoundTrip(t *testing.T) {
	v, err := AddNumber(NewInt(10), NewInt(7))
	require.NoError(t, err)
	neg, err := Negate(NewInt(7))
	require.NoError(t, err)
	v, err = AddNumber(v, neg)
	require.NoError(t, err)
	assert.True(t, Equal(v, NewInt(10)))
}

func TestAddNumberCountUnderflowSaturates(t *testing.T) {
	got, err := AddNumber(NewCount(3), NewInt(-10))
	require.NoError(t, err)
	assert.True(t, Equal(got, NewCount(0)))
}

func TestAddNumberTypeMismatch(t *testing.T) {
	_, err := AddNumber(NewString("nope"), NewInt(1))
	assert.ErrorIs(t, err, ErrTypeMismatch)
}

func TestSetAddRemove(t *testing.T) {
	s, err := SetAdd(None(), NewInt(1))
	require.NoError(t, err)
	s, err = SetAdd(s, NewInt(1))
	require.NoError(t, err)
	elems, _ := s.Elems()
	assert.Len(t, elems, 1)

	s, err = SetRemove(s, NewInt(1))
	require.NoError(t, err)
	elems, _ = s.Elems()
	assert.Empty(t, elems)

	// removal from an absent set yields an empty set
	s, err = SetRemove(None(), NewInt(9))
	require.NoError(t, err)
	assert.Equal(t, KindSet, s.Kind())
}

func TestPushPopOrdering(t *testing.T) {
	v, err := PushRight(None(), []Value{NewInt(1), NewInt(2), NewInt(3)})
	require.NoError(t, err)
	v, err = PushLeft(v, []Value{NewInt(0)})
	require.NoError(t, err)

	rest, elem, err := PopLeft(v)
	require.NoError(t, err)
	assert.True(t, Equal(elem, NewInt(0)))
	assert.True(t, Equal(rest, NewVector(NewInt(1), NewInt(2), NewInt(3))))

	rest, elem, err = PopRight(rest)
	require.NoError(t, err)
	assert.True(t, Equal(elem, NewInt(3)))
	assert.True(t, Equal(rest, NewVector(NewInt(1), NewInt(2))))
}

func TestPopEmptyAndAbsent(t *testing.T) {
	_, _, err := PopLeft(None())
	assert.ErrorIs(t, err, ErrEmpty)

	_, _, err = PopRight(NewVector())
	assert.ErrorIs(t, err, ErrEmpty)

	_, _, err = PopLeft(NewString("not a vector"))
	assert.ErrorIs(t, err, ErrTypeMismatch)
}
