package store

import (
	"time"

	"github.com/littlebaby/bro/internal/data"
	"github.com/littlebaby/bro/internal/metrics"
)

type ExpiryKind uint8

const (
	ExpiryAbsolute ExpiryKind = iota + 1
	ExpiryRelative
)

// Expiry is the eviction policy attached to a single entry. At most
// one policy is active; a new policy set on mutation replaces the old
// one.
type Expiry struct {
	Kind  ExpiryKind `cbor:"k"`
	At    int64      `cbor:"a,omitempty"` // unix nanos, absolute
	After int64      `cbor:"r,omitempty"` // nanos since last modification
}

func AbsoluteExpiry(t time.Time) *Expiry {
	return &Expiry{Kind: ExpiryAbsolute, At: t.UnixNano()}
}

func RelativeExpiry(d time.Duration) *Expiry {
	return &Expiry{Kind: ExpiryRelative, After: int64(d)}
}

// Deadline computes the eviction time given the entry's last
// modification. The absolute field wins when set; the relative field
// is consulted only afterwards.
func (e *Expiry) Deadline(modified time.Time) (time.Time, bool) {
	if e == nil {
		return time.Time{}, false
	}
	if e.Kind == ExpiryAbsolute {
		return time.Unix(0, e.At), true
	}
	if e.Kind == ExpiryRelative {
		return modified.Add(time.Duration(e.After)), true
	}
	return time.Time{}, false
}

// expiryIndex tracks per-key eviction deadlines for a master store.
// Keys are the encoded form used by the backends. Access is serialized
// by the owning store's mutex.
type expiryIndex struct {
	deadlines map[string]time.Time
}

func newExpiryIndex() *expiryIndex {
	return &expiryIndex{deadlines: make(map[string]time.Time)}
}

func (x *expiryIndex) track(encKey string, exp *Expiry, modified time.Time) {
	if dl, ok := exp.Deadline(modified); ok {
		x.deadlines[encKey] = dl
		return
	}
	delete(x.deadlines, encKey)
}

func (x *expiryIndex) drop(encKey string) {
	delete(x.deadlines, encKey)
}

func (x *expiryIndex) clear() {
	x.deadlines = make(map[string]time.Time)
}

// due returns the encoded keys whose deadline has passed.
func (x *expiryIndex) due(now time.Time) []string {
	var out []string
	for k, dl := range x.deadlines {
		if !dl.After(now) {
			out = append(out, k)
		}
	}
	return out
}

// sweepExpired evicts due entries on the master, broadcasting each
// eviction as an erase delta so clones follow. Runs under s.mu.
func (s *Store) sweepExpired(now time.Time) []Delta {
	var deltas []Delta
	for _, encKey := range s.exp.due(now) {
		key, err := data.Decode([]byte(encKey))
		if err != nil {
			s.exp.drop(encKey)
			continue
		}
		if err := s.backend.Delete(key); err != nil {
			s.logger.Error("expiry eviction failed", "store", s.id, "error", err)
			continue
		}
		s.exp.drop(encKey)
		metrics.StoreExpirations.WithLabelValues(s.id).Inc()
		deltas = append(deltas, Delta{Op: DeltaErase, Key: key})
	}
	return deltas
}
