package store

import (
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/littlebaby/bro/internal/data"
	"github.com/littlebaby/bro/internal/query"
)

// fabric is a loopback publisher: every published message is delivered
// to every attached registry, the originator included, mirroring the
// endpoint's local store subscription.
type fabric struct {
	mu   sync.Mutex
	regs []*Registry
}

func (f *fabric) attach(r *Registry) {
	f.mu.Lock()
	f.regs = append(f.regs, r)
	f.mu.Unlock()
}

func (f *fabric) PublishStoreMessage(msg *Message) {
	f.mu.Lock()
	regs := append([]*Registry{}, f.regs...)
	f.mu.Unlock()
	for _, r := range regs {
		r.Dispatch(msg)
	}
}

func newTestRegistry(f *fabric, node string, clk clock.Clock) *Registry {
	reg := NewRegistry(node, f, query.NewScheduler(clk), clk, slog.Default())
	f.attach(reg)
	return reg
}

func waitResult(t *testing.T, p *query.Pending) query.Result {
	t.Helper()
	select {
	case res := <-p.Result():
		return res
	case <-time.After(5 * time.Second):
		t.Fatal("query did not resolve")
		panic("unreachable")
	}
}

func TestMasterMutationsAndQueries(t *testing.T) {
	f := &fabric{}
	reg := newTestRegistry(f, "node-m", clock.NewMock())
	m, err := reg.CreateMaster("sessions", Memory, nil)
	require.NoError(t, err)
	defer m.Close()

	key := data.NewString("k")

	require.True(t, m.Insert(key, data.NewCount(7), nil))
	p, err := m.Lookup(key, time.Second)
	require.NoError(t, err)
	res := waitResult(t, p)
	require.Equal(t, query.StatusSuccess, res.Status)
	assert.True(t, data.Equal(data.NewCount(7), res.Value))

	// absent key
	p, err = m.Lookup(data.NewString("missing"), time.Second)
	require.NoError(t, err)
	res = waitResult(t, p)
	assert.Equal(t, query.StatusError, res.Status)
	assert.ErrorIs(t, res.Err, query.ErrNoSuchKey)

	p, err = m.Exists(key, time.Second)
	require.NoError(t, err)
	res = waitResult(t, p)
	require.Equal(t, query.StatusSuccess, res.Status)
	assert.True(t, data.Equal(data.NewBool(true), res.Value))

	// erase succeeds even for keys that were never there
	require.True(t, m.Erase(data.NewString("missing")))
	require.True(t, m.Erase(key))
	p, _ = m.Exists(key, time.Second)
	res = waitResult(t, p)
	assert.True(t, data.Equal(data.NewBool(false), res.Value))
}

func TestMasterIncrementCreatesFromZero(t *testing.T) {
	f := &fabric{}
	reg := newTestRegistry(f, "node-m", clock.NewMock())
	m, err := reg.CreateMaster("counters", Memory, nil)
	require.NoError(t, err)
	defer m.Close()

	key := data.NewString("hits")
	require.True(t, m.Increment(key, data.NewCount(5)))
	require.True(t, m.Increment(key, data.NewCount(2)))
	require.True(t, m.Decrement(key, data.NewCount(3)))

	res := waitResult(t, mustQuery(t)(m.Lookup(key, time.Second)))
	require.Equal(t, query.StatusSuccess, res.Status)
	got, ok := res.Value.Int()
	require.True(t, ok)
	assert.Equal(t, int64(4), got)

	// numeric ops on a string fail and leave state untouched
	skey := data.NewString("name")
	require.True(t, m.Insert(skey, data.NewString("bob"), nil))
	assert.False(t, m.Increment(skey, data.NewCount(1)))
	res = waitResult(t, mustQuery(t)(m.Lookup(skey, time.Second)))
	assert.True(t, data.Equal(data.NewString("bob"), res.Value))
}

// mustQuery curries over t so the (pending, error) pair a query method
// returns can feed the returned func directly.
func mustQuery(t *testing.T) func(*query.Pending, error) *query.Pending {
	return func(p *query.Pending, err error) *query.Pending {
		t.Helper()
		require.NoError(t, err)
		return p
	}
}

func TestMasterSetAndVectorOps(t *testing.T) {
	f := &fabric{}
	reg := newTestRegistry(f, "node-m", clock.NewMock())
	m, err := reg.CreateMaster("collections", Memory, nil)
	require.NoError(t, err)
	defer m.Close()

	skey := data.NewString("set")
	require.True(t, m.AddToSet(skey, data.NewCount(1)))
	require.True(t, m.AddToSet(skey, data.NewCount(2)))
	require.True(t, m.AddToSet(skey, data.NewCount(1))) // duplicate
	require.True(t, m.RemoveFromSet(skey, data.NewCount(2)))

	res := waitResult(t, mustQuery(t)(m.Lookup(skey, time.Second)))
	require.Equal(t, query.StatusSuccess, res.Status)
	assert.True(t, data.Equal(data.NewSet(data.NewCount(1)), res.Value))

	vkey := data.NewString("vec")
	require.True(t, m.PushRight(vkey, data.NewCount(2), data.NewCount(3)))
	require.True(t, m.PushLeft(vkey, data.NewCount(0), data.NewCount(1)))

	res = waitResult(t, mustQuery(t)(m.PopLeft(vkey, time.Second)))
	require.Equal(t, query.StatusSuccess, res.Status)
	assert.True(t, data.Equal(data.NewCount(0), res.Value))

	res = waitResult(t, mustQuery(t)(m.PopRight(vkey, time.Second)))
	require.Equal(t, query.StatusSuccess, res.Status)
	assert.True(t, data.Equal(data.NewCount(3), res.Value))

	res = waitResult(t, mustQuery(t)(m.Lookup(vkey, time.Second)))
	assert.True(t, data.Equal(data.NewVector(data.NewCount(1), data.NewCount(2)), res.Value))

	// popping an empty vector is an error result, not a timeout
	require.True(t, m.Clear())
	res = waitResult(t, mustQuery(t)(m.PopLeft(vkey, time.Second)))
	assert.Equal(t, query.StatusError, res.Status)
}

func TestClearTwiceEquivalentToOnce(t *testing.T) {
	f := &fabric{}
	clk := clock.NewMock()
	masterReg := newTestRegistry(f, "node-m", clk)
	cloneReg := newTestRegistry(f, "node-c", clk)

	m, err := masterReg.CreateMaster("sessions", Memory, nil)
	require.NoError(t, err)
	defer m.Close()
	require.True(t, m.Insert(data.NewString("a"), data.NewCount(1), nil))
	require.True(t, m.Insert(data.NewString("b"), data.NewCount(2), nil))

	c, err := cloneReg.CreateClone("sessions", Memory, nil, time.Second)
	require.NoError(t, err)
	defer c.Close()
	require.True(t, c.Synced())

	require.True(t, m.Clear())
	require.True(t, m.Clear())

	res := waitResult(t, mustQuery(t)(m.Size(time.Second)))
	require.Equal(t, query.StatusSuccess, res.Status)
	assert.True(t, data.Equal(data.NewCount(0), res.Value))

	// the clone follows both clear deltas and stays in sync
	require.True(t, c.Synced())
	res = waitResult(t, mustQuery(t)(c.Size(time.Second)))
	require.Equal(t, query.StatusSuccess, res.Status)
	assert.True(t, data.Equal(data.NewCount(0), res.Value))

	res = waitResult(t, mustQuery(t)(c.Lookup(data.NewString("a"), time.Second)))
	assert.Equal(t, query.StatusError, res.Status)
	assert.ErrorIs(t, res.Err, query.ErrNoSuchKey)
}

func TestMasterKeysSortedAndSize(t *testing.T) {
	f := &fabric{}
	reg := newTestRegistry(f, "node-m", clock.NewMock())
	m, err := reg.CreateMaster("inventory", Memory, nil)
	require.NoError(t, err)
	defer m.Close()

	require.True(t, m.Insert(data.NewString("b"), data.NewCount(1), nil))
	require.True(t, m.Insert(data.NewString("a"), data.NewCount(2), nil))
	require.True(t, m.Insert(data.NewCount(9), data.NewCount(3), nil))

	res := waitResult(t, mustQuery(t)(m.Size(time.Second)))
	require.Equal(t, query.StatusSuccess, res.Status)
	assert.True(t, data.Equal(data.NewCount(3), res.Value))

	res = waitResult(t, mustQuery(t)(m.Keys(time.Second)))
	require.Equal(t, query.StatusSuccess, res.Status)
	keys, ok := res.Value.Elems()
	require.True(t, ok)
	require.Len(t, keys, 3)
	for i := 1; i < len(keys); i++ {
		assert.Less(t, data.Compare(keys[i-1], keys[i]), 0)
	}
}

func TestCloneSyncsAndServesReads(t *testing.T) {
	f := &fabric{}
	clk := clock.NewMock()
	masterReg := newTestRegistry(f, "node-m", clk)
	cloneReg := newTestRegistry(f, "node-c", clk)

	m, err := masterReg.CreateMaster("sessions", Memory, nil)
	require.NoError(t, err)
	defer m.Close()
	require.True(t, m.Insert(data.NewString("pre"), data.NewCount(1), nil))

	// the loopback fabric answers the initial snapshot request inline
	c, err := cloneReg.CreateClone("sessions", Memory, nil, time.Second)
	require.NoError(t, err)
	defer c.Close()
	require.True(t, c.Synced())

	res := waitResult(t, mustQuery(t)(c.Lookup(data.NewString("pre"), time.Second)))
	require.Equal(t, query.StatusSuccess, res.Status)
	assert.True(t, data.Equal(data.NewCount(1), res.Value))

	// post-sync deltas follow the broadcast path
	require.True(t, m.Insert(data.NewString("post"), data.NewCount(2), nil))
	res = waitResult(t, mustQuery(t)(c.Lookup(data.NewString("post"), time.Second)))
	require.Equal(t, query.StatusSuccess, res.Status)
	assert.True(t, data.Equal(data.NewCount(2), res.Value))

	// clones never apply local mutations
	assert.False(t, c.Insert(data.NewString("x"), data.NewCount(3), nil))
	assert.False(t, c.Erase(data.NewString("pre")))
}

// capture swallows published messages for tests that drive a store by
// hand-fed Dispatch calls.
type capture struct {
	mu   sync.Mutex
	msgs []*Message
}

func (c *capture) PublishStoreMessage(msg *Message) {
	c.mu.Lock()
	c.msgs = append(c.msgs, msg)
	c.mu.Unlock()
}

func (c *capture) ofType(t MsgType) []*Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*Message
	for _, m := range c.msgs {
		if m.Type == t {
			out = append(out, m)
		}
	}
	return out
}

func TestCloneSequenceGapTriggersResync(t *testing.T) {
	cap := &capture{}
	reg := NewRegistry("node-c", cap, query.NewScheduler(clock.NewMock()), clock.NewMock(), slog.Default())

	c, err := reg.CreateClone("sessions", Memory, nil, time.Second)
	require.NoError(t, err)
	defer c.Close()
	require.False(t, c.Synced())

	// feed the snapshot the clone asked for
	reg.Dispatch(&Message{
		Type:    MsgSnapshot,
		Store:   "sessions",
		Origin:  "node-m",
		Target:  "node-c",
		Seq:     4,
		Entries: []SnapEntry{{Key: data.NewString("a"), Val: data.NewCount(1)}},
	})
	require.True(t, c.Synced())

	// contiguous delta applies
	reg.Dispatch(&Message{
		Type: MsgDelta, Store: "sessions", Origin: "node-m", Seq: 5,
		Deltas: []Delta{{Op: DeltaInsert, Key: data.NewString("b"), Val: data.NewCount(2)}},
	})
	res := waitResult(t, mustQuery(t)(c.Lookup(data.NewString("b"), time.Second)))
	assert.Equal(t, query.StatusSuccess, res.Status)

	before := len(cap.ofType(MsgSnapshotRequest))

	// a gap knocks the clone out of sync and re-requests a snapshot
	reg.Dispatch(&Message{
		Type: MsgDelta, Store: "sessions", Origin: "node-m", Seq: 9,
		Deltas: []Delta{{Op: DeltaInsert, Key: data.NewString("z"), Val: data.NewCount(9)}},
	})
	assert.False(t, c.Synced())
	assert.Greater(t, len(cap.ofType(MsgSnapshotRequest)), before)
}

func TestCloneResyncsWhenMasterRestarts(t *testing.T) {
	cap := &capture{}
	clk := clock.NewMock()
	reg := NewRegistry("node-c", cap, query.NewScheduler(clk), clk, slog.Default())

	c, err := reg.CreateClone("sessions", Memory, nil, time.Second)
	require.NoError(t, err)
	defer c.Close()

	reg.Dispatch(&Message{
		Type:    MsgSnapshot,
		Store:   "sessions",
		Origin:  "node-m1",
		Target:  "node-c",
		Seq:     5,
		Entries: []SnapEntry{{Key: data.NewString("a"), Val: data.NewCount(1)}},
	})
	require.True(t, c.Synced())

	before := len(cap.ofType(MsgSnapshotRequest))

	// a restarted master begins its counter over; its low sequence
	// numbers must not be mistaken for duplicate redeliveries
	reg.Dispatch(&Message{
		Type: MsgDelta, Store: "sessions", Origin: "node-m2", Seq: 1,
		Deltas: []Delta{{Op: DeltaInsert, Key: data.NewString("a"), Val: data.NewCount(2)}},
	})
	require.False(t, c.Synced())
	require.Greater(t, len(cap.ofType(MsgSnapshotRequest)), before)

	// the new incarnation's snapshot brings the clone current
	reg.Dispatch(&Message{
		Type:    MsgSnapshot,
		Store:   "sessions",
		Origin:  "node-m2",
		Target:  "node-c",
		Seq:     1,
		Entries: []SnapEntry{{Key: data.NewString("a"), Val: data.NewCount(2)}},
	})
	require.True(t, c.Synced())

	res := waitResult(t, mustQuery(t)(c.Lookup(data.NewString("a"), time.Second)))
	require.Equal(t, query.StatusSuccess, res.Status)
	assert.True(t, data.Equal(data.NewCount(2), res.Value))
}

func TestCloneBuffersQueriesUntilSynced(t *testing.T) {
	cap := &capture{}
	clk := clock.NewMock()
	reg := NewRegistry("node-c", cap, query.NewScheduler(clk), clk, slog.Default())

	c, err := reg.CreateClone("sessions", Memory, nil, time.Second)
	require.NoError(t, err)
	defer c.Close()

	p := mustQuery(t)(c.Lookup(data.NewString("a"), time.Minute))
	select {
	case <-p.Result():
		t.Fatal("query resolved before sync")
	default:
	}

	reg.Dispatch(&Message{
		Type:    MsgSnapshot,
		Store:   "sessions",
		Origin:  "node-m",
		Target:  "node-c",
		Seq:     1,
		Entries: []SnapEntry{{Key: data.NewString("a"), Val: data.NewCount(42)}},
	})

	res := waitResult(t, p)
	require.Equal(t, query.StatusSuccess, res.Status)
	assert.True(t, data.Equal(data.NewCount(42), res.Value))
}

func TestFrontendForwardsToMaster(t *testing.T) {
	f := &fabric{}
	clk := clock.NewMock()
	masterReg := newTestRegistry(f, "node-m", clk)
	frontReg := newTestRegistry(f, "node-f", clk)

	m, err := masterReg.CreateMaster("sessions", Memory, nil)
	require.NoError(t, err)
	defer m.Close()

	fe, err := frontReg.CreateFrontend("sessions")
	require.NoError(t, err)
	defer fe.Close()

	// fire-and-forget mutation lands on the master
	require.True(t, fe.Insert(data.NewString("k"), data.NewCount(1), nil))
	res := waitResult(t, mustQuery(t)(m.Lookup(data.NewString("k"), time.Second)))
	require.Equal(t, query.StatusSuccess, res.Status)

	// queries resolve through an addressed response
	res = waitResult(t, mustQuery(t)(fe.Lookup(data.NewString("k"), time.Second)))
	require.Equal(t, query.StatusSuccess, res.Status)
	assert.True(t, data.Equal(data.NewCount(1), res.Value))

	res = waitResult(t, mustQuery(t)(fe.Lookup(data.NewString("nope"), time.Second)))
	assert.Equal(t, query.StatusError, res.Status)
	assert.ErrorIs(t, res.Err, query.ErrNoSuchKey)
}

func TestFrontendQueryTimesOutWithoutMaster(t *testing.T) {
	cap := &capture{}
	clk := clock.NewMock()
	reg := NewRegistry("node-f", cap, query.NewScheduler(clk), clk, slog.Default())

	fe, err := reg.CreateFrontend("orphan")
	require.NoError(t, err)
	defer fe.Close()

	p := mustQuery(t)(fe.Lookup(data.NewString("k"), 100*time.Millisecond))
	clk.Add(200 * time.Millisecond)

	res := waitResult(t, p)
	assert.Equal(t, query.StatusTimeout, res.Status)
}

func TestQueryRequiresTimeout(t *testing.T) {
	f := &fabric{}
	reg := newTestRegistry(f, "node-m", clock.NewMock())
	m, err := reg.CreateMaster("sessions", Memory, nil)
	require.NoError(t, err)
	defer m.Close()

	_, err = m.Lookup(data.NewString("k"), -time.Second)
	assert.ErrorIs(t, err, query.ErrNoTimeout)
}

func TestCloseResolvesPendingQueries(t *testing.T) {
	cap := &capture{}
	clk := clock.NewMock()
	reg := NewRegistry("node-f", cap, query.NewScheduler(clk), clk, slog.Default())

	fe, err := reg.CreateFrontend("sessions")
	require.NoError(t, err)

	p := mustQuery(t)(fe.Lookup(data.NewString("k"), time.Hour))
	fe.Close()

	res := waitResult(t, p)
	assert.Equal(t, query.StatusClosed, res.Status)

	// a closed handle rejects further use
	assert.False(t, fe.Insert(data.NewString("k"), data.NewCount(1), nil))
	p = mustQuery(t)(fe.Lookup(data.NewString("k"), time.Second))
	res = waitResult(t, p)
	assert.Equal(t, query.StatusClosed, res.Status)
}

func TestCreateCollapsesToSharedInstance(t *testing.T) {
	f := &fabric{}
	reg := newTestRegistry(f, "node-m", clock.NewMock())

	a, err := reg.CreateMaster("sessions", Memory, nil)
	require.NoError(t, err)
	b, err := reg.CreateMaster("sessions", Memory, nil)
	require.NoError(t, err)
	assert.Same(t, a, b)

	// conflicting roles coexist as separate instances
	c, err := reg.CreateFrontend("sessions")
	require.NoError(t, err)
	assert.NotSame(t, a, c)

	// closing one handle invalidates them all; a later create starts a
	// fresh instance
	a.Close()
	assert.False(t, b.Insert(data.NewString("k"), data.NewCount(1), nil))
	d, err := reg.CreateMaster("sessions", Memory, nil)
	require.NoError(t, err)
	assert.NotSame(t, a, d)
	assert.True(t, d.Insert(data.NewString("k"), data.NewCount(1), nil))

	reg.CloseAll()
}
