package store

import (
	"time"

	"github.com/littlebaby/bro/internal/data"
	"github.com/littlebaby/bro/internal/query"
)

// applyMutation executes op against the authoritative backend and
// returns the normalized deltas to broadcast. A false return means the
// operation failed (type mismatch, backend error) and state is
// unchanged. Runs under s.mu.
func (s *Store) applyMutation(op *OpRequest) ([]Delta, bool) {
	switch op.Code {
	case OpInsert:
		return s.putLocked(op.Key, op.Val, op.Expiry)

	case OpErase:
		if err := s.backend.Delete(op.Key); err != nil {
			s.logger.Error("erase failed", "store", s.id, "error", err)
			return nil, false
		}
		if enc, err := data.Encode(op.Key); err == nil {
			s.exp.drop(string(enc))
		}
		return []Delta{{Op: DeltaErase, Key: op.Key}}, true

	case OpClear:
		if err := s.backend.Clear(); err != nil {
			s.logger.Error("clear failed", "store", s.id, "error", err)
			return nil, false
		}
		s.exp.clear()
		return []Delta{{Op: DeltaClear}}, true

	case OpIncrement, OpDecrement:
		cur, expiry, _, err := s.backend.Get(op.Key)
		if err != nil {
			return nil, false
		}
		by := op.Val
		if op.Code == OpDecrement {
			if by, err = data.Negate(by); err != nil {
				return nil, false
			}
		}
		next, err := data.AddNumber(cur, by)
		if err != nil {
			// numeric op on a non-numeric value: fatal to the
			// operation, state untouched
			return nil, false
		}
		return s.putLocked(op.Key, next, pick(op.Expiry, expiry))

	case OpAddToSet, OpRemoveFromSet:
		cur, expiry, _, err := s.backend.Get(op.Key)
		if err != nil {
			return nil, false
		}
		var next data.Value
		if op.Code == OpAddToSet {
			next, err = data.SetAdd(cur, op.Val)
		} else {
			next, err = data.SetRemove(cur, op.Val)
		}
		if err != nil {
			return nil, false
		}
		return s.putLocked(op.Key, next, pick(op.Expiry, expiry))

	case OpPushLeft, OpPushRight:
		cur, expiry, _, err := s.backend.Get(op.Key)
		if err != nil {
			return nil, false
		}
		var next data.Value
		if op.Code == OpPushLeft {
			next, err = data.PushLeft(cur, op.Items)
		} else {
			next, err = data.PushRight(cur, op.Items)
		}
		if err != nil {
			return nil, false
		}
		return s.putLocked(op.Key, next, pick(op.Expiry, expiry))

	default:
		return nil, false
	}
}

// putLocked writes an entry, refreshes its expiry deadline, and
// returns the matching insert delta.
func (s *Store) putLocked(key, val data.Value, expiry *Expiry) ([]Delta, bool) {
	if err := s.backend.Put(key, val, expiry); err != nil {
		s.logger.Error("put failed", "store", s.id, "error", err)
		return nil, false
	}
	if enc, err := data.Encode(key); err == nil {
		s.exp.track(string(enc), expiry, s.reg.clk.Now())
	}
	return []Delta{{Op: DeltaInsert, Key: key, Val: val, Expiry: expiry}}, true
}

// pick keeps an explicitly supplied expiry, else the entry's existing
// one; mutation with a new policy replaces the old.
func pick(supplied, existing *Expiry) *Expiry {
	if supplied != nil {
		return supplied
	}
	return existing
}

// executeQuery answers a read (or pop) against local state. Pops also
// return deltas for the master to broadcast. Runs under s.mu.
func (s *Store) executeQuery(op *OpRequest) (query.Result, []Delta) {
	switch op.Code {
	case OpLookup:
		val, _, found, err := s.backend.Get(op.Key)
		if err != nil {
			return query.Result{Status: query.StatusError, Err: err}, nil
		}
		if !found || s.expiredLocked(op.Key) {
			return query.Result{Status: query.StatusError, Err: query.ErrNoSuchKey}, nil
		}
		return query.Result{Status: query.StatusSuccess, Value: val}, nil

	case OpExists:
		_, _, found, err := s.backend.Get(op.Key)
		if err != nil {
			return query.Result{Status: query.StatusError, Err: err}, nil
		}
		if found && s.expiredLocked(op.Key) {
			found = false
		}
		return query.Result{Status: query.StatusSuccess, Value: data.NewBool(found)}, nil

	case OpKeys:
		keys, err := s.backend.Keys()
		if err != nil {
			return query.Result{Status: query.StatusError, Err: err}, nil
		}
		sortKeys(keys)
		return query.Result{Status: query.StatusSuccess, Value: data.NewVector(keys...)}, nil

	case OpSize:
		n, err := s.backend.Size()
		if err != nil {
			return query.Result{Status: query.StatusError, Err: err}, nil
		}
		return query.Result{Status: query.StatusSuccess, Value: data.NewCount(n)}, nil

	case OpPopLeft, OpPopRight:
		if s.role != Master {
			// pops mutate; only the master may serve them
			return query.Result{Status: query.StatusError, Err: ErrHandleInvalid}, nil
		}
		cur, expiry, found, err := s.backend.Get(op.Key)
		if err != nil {
			return query.Result{Status: query.StatusError, Err: err}, nil
		}
		if !found {
			return query.Result{Status: query.StatusError, Err: query.ErrNoSuchKey}, nil
		}
		var rest, elem data.Value
		if op.Code == OpPopLeft {
			rest, elem, err = data.PopLeft(cur)
		} else {
			rest, elem, err = data.PopRight(cur)
		}
		if err != nil {
			return query.Result{Status: query.StatusError, Err: err}, nil
		}
		deltas, ok := s.putLocked(op.Key, rest, expiry)
		if !ok {
			return query.Result{Status: query.StatusError, Err: ErrHandleInvalid}, nil
		}
		return query.Result{Status: query.StatusSuccess, Value: elem}, deltas

	default:
		return query.Result{Status: query.StatusError, Err: query.ErrNoSuchKey}, nil
	}
}

// expiredLocked reports whether the master already knows the entry to
// be past its deadline but not yet swept.
func (s *Store) expiredLocked(key data.Value) bool {
	if s.role != Master {
		return false
	}
	enc, err := data.Encode(key)
	if err != nil {
		return false
	}
	dl, ok := s.exp.deadlines[string(enc)]
	return ok && !dl.After(s.reg.clk.Now())
}

// handleMasterMessage serves snapshot requests and forwarded
// operations. Returned messages are published by the registry.
func (s *Store) handleMasterMessage(msg *Message) []*Message {
	switch msg.Type {
	case MsgSnapshotRequest:
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return nil
		}
		entries, err := s.backend.Snapshot()
		seq := s.seq
		if err == nil && s.journal != nil && seq > 0 {
			// the snapshot supersedes everything before seq
			if first, ferr := s.journal.FirstSeq(); ferr == nil && first > 0 && first < seq {
				if terr := s.journal.TruncateBefore(seq); terr != nil {
					s.logger.Error("journal truncate failed", "store", s.id, "seq", seq, "error", terr)
				}
			}
		}
		s.mu.Unlock()
		if err != nil {
			s.logger.Error("snapshot failed", "store", s.id, "error", err)
			return nil
		}
		snap := make([]SnapEntry, len(entries))
		for i, e := range entries {
			snap[i] = SnapEntry{Key: e.Key, Val: e.Val, Expiry: e.Expiry}
		}
		return []*Message{{
			Type:    MsgSnapshot,
			Store:   s.id,
			Origin:  s.reg.node,
			Target:  msg.Origin,
			Seq:     seq,
			Entries: snap,
		}}

	case MsgOpRequest:
		if msg.Op == nil {
			return nil
		}
		if msg.Op.Code.Mutating() && msg.QueryID == 0 {
			// forwarded fire-and-forget mutation
			s.mu.Lock()
			if s.closed {
				s.mu.Unlock()
				return nil
			}
			deltas, ok := s.applyMutation(msg.Op)
			var out []*Message
			if ok && len(deltas) > 0 {
				out = append(out, s.broadcastLocked(deltas))
			}
			s.mu.Unlock()
			return out
		}

		// forwarded query (including pops)
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return nil
		}
		res, deltas := s.executeQuery(msg.Op)
		var out []*Message
		if len(deltas) > 0 {
			out = append(out, s.broadcastLocked(deltas))
		}
		s.mu.Unlock()
		out = append(out, &Message{
			Type:    MsgOpResponse,
			Store:   s.id,
			Origin:  s.reg.node,
			Target:  msg.Origin,
			QueryID: msg.QueryID,
			Result:  toOpResult(res),
		})
		return out

	default:
		// masters ignore deltas and snapshots, their own included
		return nil
	}
}

// runExpiry drives the master's eviction sweep until the store closes.
func (s *Store) runExpiry(interval time.Duration) {
	ticker := s.reg.clk.Ticker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			if s.closed {
				s.mu.Unlock()
				return
			}
			// ticks are dropped while a sweep is in flight, so the
			// tick's own timestamp can lag; evict against the clock
			deltas := s.sweepExpired(s.reg.clk.Now())
			var broadcast *Message
			if len(deltas) > 0 {
				broadcast = s.broadcastLocked(deltas)
			}
			s.mu.Unlock()
			if broadcast != nil {
				s.reg.publish(broadcast)
			}
		}
	}
}

func toOpResult(res query.Result) *OpResult {
	switch res.Status {
	case query.StatusSuccess:
		return &OpResult{Status: OpOK, Value: res.Value}
	default:
		out := &OpResult{Status: OpFailed}
		if res.Err != nil {
			out.Error = res.Err.Error()
			if res.Err == query.ErrNoSuchKey || res.Err == data.ErrEmpty {
				out.Status = OpNoSuchKey
			}
		}
		return out
	}
}

func fromOpResult(r *OpResult) query.Result {
	if r == nil {
		return query.Result{Status: query.StatusError, Err: query.ErrNoSuchKey}
	}
	switch r.Status {
	case OpOK:
		return query.Result{Status: query.StatusSuccess, Value: r.Value}
	case OpNoSuchKey:
		return query.Result{Status: query.StatusError, Err: query.ErrNoSuchKey}
	default:
		err := query.ErrNoSuchKey
		if r.Error != "" {
			err = &remoteError{msg: r.Error}
		}
		return query.Result{Status: query.StatusError, Err: err}
	}
}

// remoteError carries a master-side failure text back to the caller.
type remoteError struct{ msg string }

func (e *remoteError) Error() string { return e.msg }
