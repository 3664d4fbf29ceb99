package store

import (
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/littlebaby/bro/internal/data"
	"github.com/littlebaby/bro/internal/metrics"
	"github.com/littlebaby/bro/internal/query"
)

// expirySweepInterval paces the master's eviction scan.
const expirySweepInterval = time.Second

// Publisher hands store messages to the messaging fabric. The broker
// endpoint implements it; tests use a loopback.
type Publisher interface {
	PublishStoreMessage(msg *Message)
}

type storeKey struct {
	id   string
	role Role
}

// Registry owns every store instance of one endpoint. It replaces a
// process-wide singleton so independent endpoints can coexist in one
// process.
type Registry struct {
	node   string
	pub    Publisher
	sched  *query.Scheduler
	clk    clock.Clock
	logger *slog.Logger

	mu     sync.Mutex
	stores map[storeKey]*Store
}

func NewRegistry(node string, pub Publisher, sched *query.Scheduler, clk clock.Clock, logger *slog.Logger) *Registry {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		node:   node,
		pub:    pub,
		sched:  sched,
		clk:    clk,
		logger: logger,
		stores: make(map[storeKey]*Store),
	}
}

// Scheduler exposes the query table, for resolving forwarded results.
func (r *Registry) Scheduler() *query.Scheduler { return r.sched }

// CreateMaster opens (or re-references) the authoritative instance of
// id. Options: "path" for on-disk backends, "journal" for the delta
// journal directory.
func (r *Registry) CreateMaster(id string, kind BackendKind, opts Options) (*Store, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := storeKey{id: id, role: Master}
	if existing, ok := r.stores[key]; ok {
		return existing, nil
	}

	backend, err := OpenBackend(kind, opts)
	if err != nil {
		return nil, err
	}

	s := &Store{
		id:      id,
		role:    Master,
		reg:     r,
		logger:  r.logger,
		backend: backend,
		synced:  true,
		exp:     newExpiryIndex(),
		stop:    make(chan struct{}),
	}

	if dir, ok := opts["journal"]; ok && dir != "" {
		journal, last, err := OpenJournal(dir)
		if err != nil {
			backend.Close()
			return nil, err
		}
		s.journal = journal
		s.seq = last
	}

	// rebuild expiry deadlines for persisted entries
	entries, err := backend.Snapshot()
	if err != nil {
		s.closeResources()
		return nil, err
	}
	now := r.clk.Now()
	for _, e := range entries {
		if enc, err2 := s.encodedKey(e.Key); err2 == nil {
			s.exp.track(enc, e.Expiry, now)
		}
	}

	r.stores[key] = s
	go s.runExpiry(expirySweepInterval)
	r.logger.Info("store created", "store", id, "role", "master", "backend", kind.String())
	return s, nil
}

// CreateClone opens (or re-references) a read replica of id that
// follows the master's broadcasts, re-requesting a snapshot every
// resync interval while out of sync.
func (r *Registry) CreateClone(id string, kind BackendKind, opts Options, resync time.Duration) (*Store, error) {
	r.mu.Lock()
	key := storeKey{id: id, role: Clone}
	if existing, ok := r.stores[key]; ok {
		r.mu.Unlock()
		return existing, nil
	}

	backend, err := OpenBackend(kind, opts)
	if err != nil {
		r.mu.Unlock()
		return nil, err
	}

	s := &Store{
		id:      id,
		role:    Clone,
		reg:     r,
		logger:  r.logger,
		backend: backend,
		resync:  resync,
		exp:     newExpiryIndex(),
		stop:    make(chan struct{}),
	}
	r.stores[key] = s
	r.mu.Unlock()

	go s.runResync(resync)
	r.pub.PublishStoreMessage(s.snapshotRequest())
	r.logger.Info("store created", "store", id, "role", "clone", "backend", kind.String())
	return s, nil
}

// CreateFrontend opens (or re-references) a stateless proxy for id.
func (r *Registry) CreateFrontend(id string) (*Store, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := storeKey{id: id, role: Frontend}
	if existing, ok := r.stores[key]; ok {
		return existing, nil
	}

	s := &Store{
		id:     id,
		role:   Frontend,
		reg:    r,
		logger: r.logger,
		stop:   make(chan struct{}),
	}
	r.stores[key] = s
	r.logger.Info("store created", "store", id, "role", "frontend")
	return s, nil
}

// Dispatch delivers an inbound store message to the local instances of
// its store id, publishing whatever they answer with. Messages
// addressed to another node are dropped here.
func (r *Registry) Dispatch(msg *Message) {
	if msg.Target != "" && msg.Target != r.node {
		return
	}

	if msg.Type == MsgOpResponse {
		r.sched.Resolve(msg.QueryID, fromOpResult(msg.Result))
		return
	}

	r.mu.Lock()
	var targets []*Store
	for key, s := range r.stores {
		if key.id == msg.Store {
			targets = append(targets, s)
		}
	}
	r.mu.Unlock()

	for _, s := range targets {
		var responses []*Message
		switch s.role {
		case Master:
			responses = s.handleMasterMessage(msg)
		case Clone:
			// a clone ignores its own resync requests
			if msg.Type != MsgSnapshotRequest || msg.Origin != r.node {
				responses = s.handleCloneMessage(msg)
			}
		}
		for _, resp := range responses {
			r.publish(resp)
		}
	}
}

// IDs lists the ids with at least one local instance, for the
// endpoint's topic interest advertisement.
func (r *Registry) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[string]struct{})
	var out []string
	for key := range r.stores {
		if _, dup := seen[key.id]; !dup {
			seen[key.id] = struct{}{}
			out = append(out, key.id)
		}
	}
	return out
}

// CloseAll tears down every instance, resolving pending queries with
// store-closed.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	stores := make([]*Store, 0, len(r.stores))
	for _, s := range r.stores {
		stores = append(stores, s)
	}
	r.mu.Unlock()
	for _, s := range stores {
		s.Close()
	}
}

func (r *Registry) publish(msg *Message) {
	r.pub.PublishStoreMessage(msg)
}

func (r *Registry) remove(s *Store) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := storeKey{id: s.id, role: s.role}
	if r.stores[key] == s {
		delete(r.stores, key)
	}
	metrics.StoreEntries.DeleteLabelValues(s.id)
}

func (s *Store) encodedKey(key data.Value) (string, error) {
	enc, err := data.Encode(key)
	if err != nil {
		return "", err
	}
	return string(enc), nil
}

func (s *Store) closeResources() {
	if s.journal != nil {
		s.journal.Close()
	}
	if s.backend != nil {
		s.backend.Close()
	}
}
