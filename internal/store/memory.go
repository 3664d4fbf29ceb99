package store

import "github.com/littlebaby/bro/internal/data"

type memoryEntry struct {
	key    data.Value
	val    data.Value
	expiry *Expiry
}

// memoryBackend keeps entries in a map keyed by the encoded key bytes,
// so arbitrary Value keys work without hashing the structural form.
type memoryBackend struct {
	entries map[string]memoryEntry
}

func newMemoryBackend() *memoryBackend {
	return &memoryBackend{entries: make(map[string]memoryEntry)}
}

func (m *memoryBackend) Put(key, val data.Value, expiry *Expiry) error {
	enc, err := data.Encode(key)
	if err != nil {
		return err
	}
	m.entries[string(enc)] = memoryEntry{
		key:    key.Clone(),
		val:    val.Clone(),
		expiry: expiry,
	}
	return nil
}

func (m *memoryBackend) Get(key data.Value) (data.Value, *Expiry, bool, error) {
	enc, err := data.Encode(key)
	if err != nil {
		return data.Value{}, nil, false, err
	}
	e, ok := m.entries[string(enc)]
	if !ok {
		return data.Value{}, nil, false, nil
	}
	return e.val.Clone(), e.expiry, true, nil
}

func (m *memoryBackend) Delete(key data.Value) error {
	enc, err := data.Encode(key)
	if err != nil {
		return err
	}
	delete(m.entries, string(enc))
	return nil
}

func (m *memoryBackend) Clear() error {
	m.entries = make(map[string]memoryEntry)
	return nil
}

func (m *memoryBackend) Keys() ([]data.Value, error) {
	keys := make([]data.Value, 0, len(m.entries))
	for _, e := range m.entries {
		keys = append(keys, e.key.Clone())
	}
	return keys, nil
}

func (m *memoryBackend) Size() (uint64, error) {
	return uint64(len(m.entries)), nil
}

func (m *memoryBackend) Snapshot() ([]Entry, error) {
	out := make([]Entry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, Entry{Key: e.key.Clone(), Val: e.val.Clone(), Expiry: e.expiry})
	}
	return out, nil
}

func (m *memoryBackend) Close() error {
	m.entries = nil
	return nil
}
