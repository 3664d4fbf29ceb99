package store

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/littlebaby/bro/internal/data"
	"github.com/littlebaby/bro/internal/query"
)

func TestExpiryDeadline(t *testing.T) {
	now := time.Unix(1000, 0)

	dl, ok := AbsoluteExpiry(now.Add(time.Minute)).Deadline(now)
	require.True(t, ok)
	assert.Equal(t, now.Add(time.Minute).UnixNano(), dl.UnixNano())

	dl, ok = RelativeExpiry(30 * time.Second).Deadline(now)
	require.True(t, ok)
	assert.Equal(t, now.Add(30*time.Second).UnixNano(), dl.UnixNano())

	_, ok = (*Expiry)(nil).Deadline(now)
	assert.False(t, ok)
}

func TestExpiredEntriesVanishFromReads(t *testing.T) {
	f := &fabric{}
	clk := clock.NewMock()
	reg := newTestRegistry(f, "node-m", clk)
	m, err := reg.CreateMaster("cache", Memory, nil)
	require.NoError(t, err)
	defer m.Close()

	key := data.NewString("session")
	require.True(t, m.Insert(key, data.NewCount(1), RelativeExpiry(5*time.Second)))

	clk.Add(3 * time.Second)
	res := waitResult(t, mustQuery(t)(m.Lookup(key, time.Second)))
	assert.Equal(t, query.StatusSuccess, res.Status)

	// past the deadline the entry is gone from reads even before the
	// sweeper runs
	clk.Add(3 * time.Second)
	res = waitResult(t, mustQuery(t)(m.Lookup(key, time.Second)))
	assert.Equal(t, query.StatusError, res.Status)
	assert.ErrorIs(t, res.Err, query.ErrNoSuchKey)

	res = waitResult(t, mustQuery(t)(m.Exists(key, time.Second)))
	assert.True(t, data.Equal(data.NewBool(false), res.Value))
}

func TestSweepBroadcastsEraseDeltas(t *testing.T) {
	f := &fabric{}
	clk := clock.NewMock()
	masterReg := newTestRegistry(f, "node-m", clk)
	cloneReg := newTestRegistry(f, "node-c", clk)

	m, err := masterReg.CreateMaster("cache", Memory, nil)
	require.NoError(t, err)
	defer m.Close()
	c, err := cloneReg.CreateClone("cache", Memory, nil, time.Minute)
	require.NoError(t, err)
	defer c.Close()

	key := data.NewString("k")
	require.True(t, m.Insert(key, data.NewCount(1), AbsoluteExpiry(clk.Now().Add(2*time.Second))))

	res := waitResult(t, mustQuery(t)(c.Lookup(key, time.Second)))
	require.Equal(t, query.StatusSuccess, res.Status)

	// the ticker fires inside Add; the eviction reaches the clone on
	// the sweeper goroutine, so poll for it
	clk.Add(3 * time.Second)
	require.Eventually(t, func() bool {
		res := waitResult(t, mustQuery(t)(c.Lookup(key, time.Second)))
		return res.Status == query.StatusError
	}, 5*time.Second, 10*time.Millisecond)
}

func TestMutationRefreshesRelativeExpiry(t *testing.T) {
	f := &fabric{}
	clk := clock.NewMock()
	reg := newTestRegistry(f, "node-m", clk)
	m, err := reg.CreateMaster("cache", Memory, nil)
	require.NoError(t, err)
	defer m.Close()

	key := data.NewString("hits")
	require.True(t, m.Insert(key, data.NewCount(1), RelativeExpiry(5*time.Second)))

	// a mutation without an explicit policy keeps the old one but
	// restarts its relative window
	clk.Add(3 * time.Second)
	require.True(t, m.Increment(key, data.NewCount(1)))

	clk.Add(4 * time.Second) // 7s after insert, 4s after increment
	res := waitResult(t, mustQuery(t)(m.Lookup(key, time.Second)))
	assert.Equal(t, query.StatusSuccess, res.Status)

	clk.Add(2 * time.Second)
	res = waitResult(t, mustQuery(t)(m.Lookup(key, time.Second)))
	assert.Equal(t, query.StatusError, res.Status)
}

func TestReinsertReplacesExpiryPolicy(t *testing.T) {
	f := &fabric{}
	clk := clock.NewMock()
	reg := newTestRegistry(f, "node-m", clk)
	m, err := reg.CreateMaster("cache", Memory, nil)
	require.NoError(t, err)
	defer m.Close()

	key := data.NewString("k")
	require.True(t, m.Insert(key, data.NewCount(1), RelativeExpiry(2*time.Second)))
	require.True(t, m.Insert(key, data.NewCount(2), nil)) // no policy now

	clk.Add(time.Hour)
	res := waitResult(t, mustQuery(t)(m.Lookup(key, time.Second)))
	assert.Equal(t, query.StatusSuccess, res.Status)
}
