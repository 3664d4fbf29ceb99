package store

import (
	"sort"
	"time"

	"github.com/littlebaby/bro/internal/metrics"
)

// handleCloneMessage applies replication traffic to a clone. Returned
// messages (resync requests) are published by the registry.
func (s *Store) handleCloneMessage(msg *Message) []*Message {
	switch msg.Type {
	case MsgDelta:
		return s.applyDelta(msg)
	case MsgSnapshot:
		s.applySnapshot(msg)
		return nil
	default:
		return nil
	}
}

func (s *Store) applyDelta(msg *Message) []*Message {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}

	if !s.synced {
		// hold early deltas; the snapshot decides which still apply
		s.buffered = append(s.buffered, msg)
		s.mu.Unlock()
		return nil
	}

	if msg.Origin != s.origin {
		// a different master owns the stream now (restart, failover);
		// its counter says nothing about ours, so resync
		s.logger.Warn("delta from new master, requesting snapshot",
			"store", s.id, "following", s.origin, "got", msg.Origin)
		s.synced = false
		s.buffered = append(s.buffered, msg)
		s.mu.Unlock()
		return []*Message{s.snapshotRequest()}
	}

	switch {
	case msg.Seq <= s.seq:
		// duplicate redelivery
		s.mu.Unlock()
		return nil
	case msg.Seq == s.seq+1:
		s.applyDeltasLocked(msg.Deltas)
		s.seq = msg.Seq
		s.mu.Unlock()
		return nil
	default:
		// gap: fall back to a full resync
		s.logger.Warn("delta sequence gap, requesting snapshot",
			"store", s.id, "have", s.seq, "got", msg.Seq)
		s.synced = false
		s.buffered = append(s.buffered, msg)
		s.mu.Unlock()
		return []*Message{s.snapshotRequest()}
	}
}

func (s *Store) applySnapshot(msg *Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if s.synced && msg.Origin == s.origin && msg.Seq <= s.seq {
		return
	}

	if err := s.backend.Clear(); err != nil {
		s.logger.Error("snapshot clear failed", "store", s.id, "error", err)
		return
	}
	for _, e := range msg.Entries {
		if err := s.backend.Put(e.Key, e.Val, e.Expiry); err != nil {
			s.logger.Error("snapshot apply failed", "store", s.id, "error", err)
			return
		}
	}
	s.seq = msg.Seq
	s.origin = msg.Origin
	firstSync := !s.synced
	s.synced = true
	s.logger.Info("clone synchronized", "store", s.id, "seq", s.seq, "entries", len(msg.Entries))

	// replay buffered deltas newer than the snapshot, in order; deltas
	// from any other master are stale and dropped
	buffered := s.buffered
	s.buffered = nil
	sort.Slice(buffered, func(i, j int) bool { return buffered[i].Seq < buffered[j].Seq })
	for _, b := range buffered {
		if b.Origin == s.origin && b.Seq == s.seq+1 {
			s.applyDeltasLocked(b.Deltas)
			s.seq = b.Seq
		}
	}

	if n, err := s.backend.Size(); err == nil {
		metrics.StoreEntries.WithLabelValues(s.id).Set(float64(n))
	}

	if firstSync {
		s.drainWaitingLocked()
	}
}

func (s *Store) applyDeltasLocked(deltas []Delta) {
	for _, d := range deltas {
		var err error
		switch d.Op {
		case DeltaInsert:
			err = s.backend.Put(d.Key, d.Val, d.Expiry)
		case DeltaErase:
			err = s.backend.Delete(d.Key)
		case DeltaClear:
			err = s.backend.Clear()
		}
		if err != nil {
			s.logger.Error("delta apply failed", "store", s.id, "error", err)
		}
	}
	metrics.StoreDeltasTotal.WithLabelValues(s.id, "applied").Inc()
}

// drainWaitingLocked answers the reads queued before the first sync.
// Result channels are buffered, so resolving under the lock cannot
// block.
func (s *Store) drainWaitingLocked() {
	waiting := s.waiting
	s.waiting = nil
	for _, w := range waiting {
		res, _ := s.executeQuery(w.op)
		s.reg.sched.Resolve(w.id, res)
	}
}

func (s *Store) snapshotRequest() *Message {
	return &Message{
		Type:   MsgSnapshotRequest,
		Store:  s.id,
		Origin: s.reg.node,
	}
}

// runResync re-requests a snapshot on every tick for as long as the
// clone is out of sync. After the first sync it only reactivates when
// a sequence gap knocks the clone back out.
func (s *Store) runResync(interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
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
			needSync := !s.synced
			s.mu.Unlock()
			if needSync {
				s.reg.publish(s.snapshotRequest())
			}
		}
	}
}

// Synced reports whether the clone has completed its first
// synchronization.
func (s *Store) Synced() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.synced
}
