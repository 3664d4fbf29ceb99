// Package store implements the replicated key-value stores riding the
// broker's messaging fabric. A store id names one logical store; each
// process holds it in one of three roles. The MASTER owns the
// authoritative state and broadcasts deltas, CLONEs follow those
// deltas and answer reads locally, and FRONTENDs hold no state and
// forward everything to the master.
package store

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/littlebaby/bro/internal/data"
	"github.com/littlebaby/bro/internal/metrics"
	"github.com/littlebaby/bro/internal/query"
)

type Role uint8

const (
	Master Role = iota
	Clone
	Frontend
)

func (r Role) String() string {
	switch r {
	case Master:
		return "master"
	case Clone:
		return "clone"
	case Frontend:
		return "frontend"
	default:
		return "unknown"
	}
}

type waitingQuery struct {
	op *OpRequest
	id uint64
}

// Store is a handle on one (id, role) instance. Handles from repeated
// create calls share the same Store; Close invalidates all of them.
type Store struct {
	id     string
	role   Role
	reg    *Registry
	logger *slog.Logger

	mu       sync.Mutex
	closed   bool
	backend  Backend // nil for frontends
	seq      uint64  // master: last broadcast; clone: last applied
	origin   string  // clones: node id of the master being followed
	synced   bool    // clones flip this on their first snapshot
	buffered []*Message
	waiting  []waitingQuery
	resync   time.Duration
	journal  *Journal
	exp      *expiryIndex
	stop     chan struct{}
}

func (s *Store) ID() string { return s.id }
func (s *Store) Role() Role { return s.role }

// Close invalidates the handle (and every other handle on the same
// instance), resolves outstanding queries with a store-closed result,
// and releases the backend.
func (s *Store) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	if s.stop != nil {
		close(s.stop)
	}
	backend := s.backend
	journal := s.journal
	s.mu.Unlock()

	s.reg.sched.CancelStore(s.id)
	s.reg.remove(s)

	if journal != nil {
		if err := journal.Close(); err != nil {
			s.logger.Error("journal close failed", "store", s.id, "error", err)
		}
	}
	if backend != nil {
		if err := backend.Close(); err != nil {
			s.logger.Error("backend close failed", "store", s.id, "error", err)
		}
	}
	s.logger.Info("store closed", "store", s.id, "role", s.role.String())
}

// Insert writes key -> val, optionally attaching an expiry policy.
func (s *Store) Insert(key, val data.Value, expiry *Expiry) bool {
	return s.mutate(&OpRequest{Code: OpInsert, Key: key, Val: val, Expiry: expiry})
}

// Erase removes key; erasing an absent key is a no-op that still
// succeeds.
func (s *Store) Erase(key data.Value) bool {
	return s.mutate(&OpRequest{Code: OpErase, Key: key})
}

// Clear removes every entry.
func (s *Store) Clear() bool {
	return s.mutate(&OpRequest{Code: OpClear})
}

// Increment adds by to the numeric value at key, creating it as zero
// first when absent.
func (s *Store) Increment(key, by data.Value) bool {
	return s.mutate(&OpRequest{Code: OpIncrement, Key: key, Val: by})
}

// Decrement subtracts by from the numeric value at key.
func (s *Store) Decrement(key, by data.Value) bool {
	return s.mutate(&OpRequest{Code: OpDecrement, Key: key, Val: by})
}

// AddToSet inserts elem into the set at key, creating the set when
// absent.
func (s *Store) AddToSet(key, elem data.Value) bool {
	return s.mutate(&OpRequest{Code: OpAddToSet, Key: key, Val: elem})
}

// RemoveFromSet removes elem from the set at key.
func (s *Store) RemoveFromSet(key, elem data.Value) bool {
	return s.mutate(&OpRequest{Code: OpRemoveFromSet, Key: key, Val: elem})
}

// PushLeft prepends items to the vector at key, preserving item order.
func (s *Store) PushLeft(key data.Value, items ...data.Value) bool {
	return s.mutate(&OpRequest{Code: OpPushLeft, Key: key, Items: items})
}

// PushRight appends items to the vector at key.
func (s *Store) PushRight(key data.Value, items ...data.Value) bool {
	return s.mutate(&OpRequest{Code: OpPushRight, Key: key, Items: items})
}

func (s *Store) mutate(op *OpRequest) bool {
	metrics.StoreOpsTotal.WithLabelValues(op.Code.String()).Inc()

	switch s.role {
	case Master:
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return false
		}
		deltas, ok := s.applyMutation(op)
		var broadcast *Message
		if ok && len(deltas) > 0 {
			broadcast = s.broadcastLocked(deltas)
		}
		s.mu.Unlock()
		if broadcast != nil {
			s.reg.publish(broadcast)
		}
		return ok

	case Clone:
		// clones are read-mostly; local writes never apply
		return false

	case Frontend:
		s.mu.Lock()
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return false
		}
		s.reg.publish(&Message{
			Type:   MsgOpRequest,
			Store:  s.id,
			Origin: s.reg.node,
			Op:     op,
		})
		return true

	default:
		return false
	}
}

// Lookup resolves with the value at key, or a no-such-key error
// result.
func (s *Store) Lookup(key data.Value, timeout time.Duration) (*query.Pending, error) {
	return s.query(&OpRequest{Code: OpLookup, Key: key}, timeout)
}

// Exists resolves with a boolean value.
func (s *Store) Exists(key data.Value, timeout time.Duration) (*query.Pending, error) {
	return s.query(&OpRequest{Code: OpExists, Key: key}, timeout)
}

// Keys resolves with a vector of all keys, in total order.
func (s *Store) Keys(timeout time.Duration) (*query.Pending, error) {
	return s.query(&OpRequest{Code: OpKeys}, timeout)
}

// Size resolves with the entry count.
func (s *Store) Size(timeout time.Duration) (*query.Pending, error) {
	return s.query(&OpRequest{Code: OpSize}, timeout)
}

// PopLeft removes and resolves with the first element of the vector at
// key. Popping an absent key or empty vector resolves with an error
// result.
func (s *Store) PopLeft(key data.Value, timeout time.Duration) (*query.Pending, error) {
	return s.query(&OpRequest{Code: OpPopLeft, Key: key}, timeout)
}

// PopRight removes and resolves with the last element.
func (s *Store) PopRight(key data.Value, timeout time.Duration) (*query.Pending, error) {
	return s.query(&OpRequest{Code: OpPopRight, Key: key}, timeout)
}

func (s *Store) query(op *OpRequest, timeout time.Duration) (*query.Pending, error) {
	p, err := s.reg.sched.Issue(s.id, timeout)
	if err != nil {
		// usage error, never reaches the engine
		return nil, err
	}
	metrics.StoreOpsTotal.WithLabelValues(op.Code.String()).Inc()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.reg.sched.Resolve(p.ID(), query.Result{Status: query.StatusClosed, Err: ErrHandleInvalid})
		return p, nil
	}

	switch s.role {
	case Master:
		res, deltas := s.executeQuery(op)
		var broadcast *Message
		if len(deltas) > 0 {
			broadcast = s.broadcastLocked(deltas)
		}
		s.mu.Unlock()
		if broadcast != nil {
			s.reg.publish(broadcast)
		}
		s.reg.sched.Resolve(p.ID(), res)

	case Clone:
		if !s.synced {
			// queue until the first snapshot lands; the deadline
			// timer still bounds the wait
			s.waiting = append(s.waiting, waitingQuery{op: op, id: p.ID()})
			s.mu.Unlock()
			return p, nil
		}
		res, _ := s.executeQuery(op)
		s.mu.Unlock()
		s.reg.sched.Resolve(p.ID(), res)

	case Frontend:
		s.mu.Unlock()
		s.reg.publish(&Message{
			Type:    MsgOpRequest,
			Store:   s.id,
			Origin:  s.reg.node,
			QueryID: p.ID(),
			Op:      op,
		})
	}
	return p, nil
}

// broadcastLocked stamps the next sequence number on a delta batch and
// journals it. Runs under s.mu; the caller publishes the returned
// message after unlocking.
func (s *Store) broadcastLocked(deltas []Delta) *Message {
	s.seq++
	if s.journal != nil {
		if err := s.journal.Append(s.seq, deltas); err != nil {
			s.logger.Error("journal append failed", "store", s.id, "seq", s.seq, "error", err)
		}
	}
	metrics.StoreDeltasTotal.WithLabelValues(s.id, "sent").Inc()
	if n, err := s.backend.Size(); err == nil {
		metrics.StoreEntries.WithLabelValues(s.id).Set(float64(n))
	}
	return &Message{
		Type:   MsgDelta,
		Store:  s.id,
		Origin: s.reg.node,
		Seq:    s.seq,
		Deltas: deltas,
	}
}

func sortKeys(keys []data.Value) {
	sort.Slice(keys, func(i, j int) bool {
		return data.Compare(keys[i], keys[j]) < 0
	})
}
