package store

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/syndtr/goleveldb/leveldb"
	lerrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/littlebaby/bro/internal/data"
)

// levelEntry is the stored value record: the entry's value plus its
// expiry policy, encoded together.
type levelEntry struct {
	Val    data.Value `cbor:"v"`
	Expiry *Expiry    `cbor:"e,omitempty"`
}

// leveldbBackend is the log-structured on-disk backend.
type leveldbBackend struct {
	db *leveldb.DB
}

func openLevelDBBackend(path string) (*leveldbBackend, error) {
	db, err := leveldb.OpenFile(path, nil)
	if lerrors.IsCorrupted(err) {
		db, err = leveldb.RecoverFile(path, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("open leveldb: %w", err)
	}
	return &leveldbBackend{db: db}, nil
}

func (l *leveldbBackend) Put(key, val data.Value, expiry *Expiry) error {
	encKey, err := data.Encode(key)
	if err != nil {
		return err
	}
	encVal, err := cbor.Marshal(levelEntry{Val: val, Expiry: expiry})
	if err != nil {
		return err
	}
	return l.db.Put(encKey, encVal, nil)
}

func (l *leveldbBackend) Get(key data.Value) (data.Value, *Expiry, bool, error) {
	encKey, err := data.Encode(key)
	if err != nil {
		return data.Value{}, nil, false, err
	}
	raw, err := l.db.Get(encKey, nil)
	if err == leveldb.ErrNotFound {
		return data.Value{}, nil, false, nil
	}
	if err != nil {
		return data.Value{}, nil, false, fmt.Errorf("get: %w", err)
	}
	var e levelEntry
	if err := cbor.Unmarshal(raw, &e); err != nil {
		return data.Value{}, nil, false, fmt.Errorf("decode entry: %w", err)
	}
	return e.Val, e.Expiry, true, nil
}

func (l *leveldbBackend) Delete(key data.Value) error {
	encKey, err := data.Encode(key)
	if err != nil {
		return err
	}
	return l.db.Delete(encKey, nil)
}

func (l *leveldbBackend) Clear() error {
	batch := new(leveldb.Batch)
	iter := l.db.NewIterator(&util.Range{}, nil)
	for iter.Next() {
		batch.Delete(append([]byte(nil), iter.Key()...))
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return fmt.Errorf("clear: %w", err)
	}
	return l.db.Write(batch, nil)
}

func (l *leveldbBackend) Keys() ([]data.Value, error) {
	var keys []data.Value
	iter := l.db.NewIterator(&util.Range{}, nil)
	for iter.Next() {
		key, err := data.Decode(iter.Key())
		if err != nil {
			iter.Release()
			return nil, err
		}
		keys = append(keys, key)
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("iterate keys: %w", err)
	}
	return keys, nil
}

func (l *leveldbBackend) Size() (uint64, error) {
	var n uint64
	iter := l.db.NewIterator(&util.Range{}, nil)
	for iter.Next() {
		n++
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return 0, fmt.Errorf("size: %w", err)
	}
	return n, nil
}

func (l *leveldbBackend) Snapshot() ([]Entry, error) {
	var out []Entry
	iter := l.db.NewIterator(&util.Range{}, nil)
	for iter.Next() {
		key, err := data.Decode(iter.Key())
		if err != nil {
			iter.Release()
			return nil, err
		}
		var e levelEntry
		if err := cbor.Unmarshal(iter.Value(), &e); err != nil {
			iter.Release()
			return nil, fmt.Errorf("decode entry: %w", err)
		}
		out = append(out, Entry{Key: key, Val: e.Val, Expiry: e.Expiry})
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("iterate snapshot: %w", err)
	}
	return out, nil
}

func (l *leveldbBackend) Close() error {
	return l.db.Close()
}
