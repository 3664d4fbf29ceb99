package broker

import (
	"time"

	"github.com/littlebaby/bro/internal/peer"
	"github.com/littlebaby/bro/internal/store"
	"github.com/littlebaby/bro/internal/topic"
)

// Store re-exports the store handle; mutations return bool, queries
// return a pending result and require a timeout.
type Store = store.Store

// Options carries backend-specific settings; unrecognized keys are
// ignored.
type Options = store.Options

type BackendKind = store.BackendKind

const (
	BackendMemory  = store.Memory
	BackendSQLite  = store.SQLite
	BackendLevelDB = store.LevelDB
)

// AbsoluteExpiry evicts the entry at a fixed point in time.
func AbsoluteExpiry(at time.Time) *Expiry { return store.AbsoluteExpiry(at) }

// RelativeExpiry evicts the entry a fixed interval after its last
// modification.
func RelativeExpiry(after time.Duration) *Expiry { return store.RelativeExpiry(after) }

// CreateMaster opens the authoritative instance of a store on this
// endpoint.
func (e *Endpoint) CreateMaster(id string, kind BackendKind, opts Options) (*Store, error) {
	return e.reg.CreateMaster(id, kind, opts)
}

// CreateClone opens a read replica following the master's broadcasts,
// re-requesting a snapshot every resync interval while out of sync.
func (e *Endpoint) CreateClone(id string, kind BackendKind, opts Options, resync time.Duration) (*Store, error) {
	return e.reg.CreateClone(id, kind, opts, resync)
}

// CreateFrontend opens a stateless proxy forwarding every operation to
// the master.
func (e *Endpoint) CreateFrontend(id string) (*Store, error) {
	return e.reg.CreateFrontend(id)
}

// StoreIDs lists the store ids with a local instance.
func (e *Endpoint) StoreIDs() []string {
	return e.reg.IDs()
}

// PublishStoreMessage implements store.Publisher: store traffic rides
// the fabric like any publication, on the store's reserved topic.
// Local instances receive it through the endpoint's own store
// subscription.
func (e *Endpoint) PublishStoreMessage(msg *store.Message) {
	encoded, err := store.EncodeMessage(msg)
	if err != nil {
		e.logger.Error("encode store message failed", "store", msg.Store, "error", err)
		return
	}
	e.publish(topic.ClassStore, &peer.Publication{
		Class: uint8(topic.ClassStore),
		Topic: store.Topic(msg.Store),
		Store: encoded,
	})
}
