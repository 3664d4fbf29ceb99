package store

import "github.com/littlebaby/bro/internal/data"

// BackendKind selects the storage implementation behind a master or
// clone. The choice is fixed at store creation.
type BackendKind uint8

const (
	Memory BackendKind = iota
	SQLite
	LevelDB
)

func (k BackendKind) String() string {
	switch k {
	case Memory:
		return "memory"
	case SQLite:
		return "sqlite"
	case LevelDB:
		return "leveldb"
	default:
		return "unknown"
	}
}

// Options is the open configuration record passed to backends.
// Recognized keys vary per backend ("path" for the on-disk ones);
// unrecognized keys are ignored.
type Options map[string]string

// Entry is one stored (key, value, expiry) tuple.
type Entry struct {
	Key    data.Value
	Val    data.Value
	Expiry *Expiry
}

// Backend is the storage contract shared by all implementations.
// Behavior is identical across backends; only persistence differs.
// Callers serialize access.
type Backend interface {
	Put(key, val data.Value, expiry *Expiry) error
	Get(key data.Value) (data.Value, *Expiry, bool, error)
	Delete(key data.Value) error
	Clear() error
	Keys() ([]data.Value, error)
	Size() (uint64, error)
	Snapshot() ([]Entry, error)
	Close() error
}

// OpenBackend constructs the backend named by kind.
func OpenBackend(kind BackendKind, opts Options) (Backend, error) {
	switch kind {
	case Memory:
		return newMemoryBackend(), nil
	case SQLite:
		path, ok := opts["path"]
		if !ok || path == "" {
			return nil, ErrMissingPath
		}
		return openSQLiteBackend(path)
	case LevelDB:
		path, ok := opts["path"]
		if !ok || path == "" {
			return nil, ErrMissingPath
		}
		return openLevelDBBackend(path)
	default:
		return nil, ErrUnknownBackend
	}
}
