// Package query correlates asynchronous store queries with their
// callers: every issued query resolves exactly once, with a value, a
// timeout, or a store-closed error.
package query

import (
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/littlebaby/bro/internal/data"
	"github.com/littlebaby/bro/internal/metrics"
)

var (
	// ErrNoTimeout rejects queries issued without a timeout before
	// they reach any engine.
	ErrNoTimeout = errors.New("queries must specify a timeout")

	// ErrStoreClosed resolves queries outstanding when their store
	// handle is closed.
	ErrStoreClosed = errors.New("store closed")

	// ErrNoSuchKey is the engine-level miss result.
	ErrNoSuchKey = errors.New("no such key")
)

type Status uint8

const (
	StatusSuccess Status = iota
	StatusTimeout
	StatusClosed
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusTimeout:
		return "timeout"
	case StatusClosed:
		return "closed"
	default:
		return "error"
	}
}

// Result is the single outcome of a pending query.
type Result struct {
	Status Status
	Value  data.Value
	Err    error
}

// Pending is the caller's handle on an in-flight query. The result
// channel is buffered so resolution never blocks the resolver.
type Pending struct {
	id      uint64
	storeID string
	ch      chan Result
	timer   *clock.Timer
}

// ID is the correlation id carried on the wire for forwarded queries.
func (p *Pending) ID() uint64 { return p.id }

// Result is the await point: exactly one Result arrives.
func (p *Pending) Result() <-chan Result { return p.ch }

// Wait blocks until the query resolves. The deadline timer guarantees
// this returns.
func (p *Pending) Wait() Result { return <-p.ch }

// Scheduler is the outstanding-query table. Safe for concurrent use.
type Scheduler struct {
	mu      sync.Mutex
	nextID  uint64
	pending map[uint64]*Pending
	clk     clock.Clock
}

func NewScheduler(clk clock.Clock) *Scheduler {
	if clk == nil {
		clk = clock.New()
	}
	return &Scheduler{
		pending: make(map[uint64]*Pending),
		clk:     clk,
	}
}

// Issue registers a query against storeID with the caller's timeout.
// A negative timeout is a usage error and never reaches the engine.
func (s *Scheduler) Issue(storeID string, timeout time.Duration) (*Pending, error) {
	if timeout < 0 {
		return nil, ErrNoTimeout
	}

	s.mu.Lock()
	s.nextID++
	p := &Pending{
		id:      s.nextID,
		storeID: storeID,
		ch:      make(chan Result, 1),
	}
	s.pending[p.id] = p
	// armed under the lock so Resolve always sees the timer; the
	// callback runs on its own goroutine, never synchronously
	id := p.id
	p.timer = s.clk.AfterFunc(timeout, func() {
		s.Resolve(id, Result{Status: StatusTimeout})
	})
	s.mu.Unlock()
	return p, nil
}

// Resolve delivers res to the pending query, if it is still pending.
// A second resolution for the same id is discarded, which is what
// makes late results after a timeout harmless.
func (s *Scheduler) Resolve(id uint64, res Result) bool {
	s.mu.Lock()
	p, ok := s.pending[id]
	if ok {
		delete(s.pending, id)
	}
	s.mu.Unlock()

	if !ok {
		return false
	}
	if p.timer != nil {
		p.timer.Stop()
	}
	metrics.QueriesResolved.WithLabelValues(res.Status.String()).Inc()
	p.ch <- res
	return true
}

// CancelStore resolves every query pending against storeID with a
// store-closed result and reports how many it cancelled.
func (s *Scheduler) CancelStore(storeID string) int {
	s.mu.Lock()
	var ids []uint64
	for id, p := range s.pending {
		if p.storeID == storeID {
			ids = append(ids, id)
		}
	}
	s.mu.Unlock()

	for _, id := range ids {
		s.Resolve(id, Result{Status: StatusClosed, Err: ErrStoreClosed})
	}
	return len(ids)
}

// Outstanding reports the number of unresolved queries.
func (s *Scheduler) Outstanding() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}
