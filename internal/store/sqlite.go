package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/fxamacker/cbor/v2"

	"github.com/littlebaby/bro/internal/data"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS entries (
	key    BLOB PRIMARY KEY,
	value  BLOB NOT NULL,
	expiry BLOB
);
`

// sqliteBackend persists entries in an embedded SQLite database.
// Keys and values are stored as their encoded wire form.
type sqliteBackend struct {
	db *sql.DB
}

func openSQLiteBackend(path string) (*sqliteBackend, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect sqlite: %w", err)
	}

	// SQLite allows one writer; a single connection avoids
	// SQLITE_BUSY under the store's serialized access anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &sqliteBackend{db: db}, nil
}

func (s *sqliteBackend) Put(key, val data.Value, expiry *Expiry) error {
	encKey, err := data.Encode(key)
	if err != nil {
		return err
	}
	encVal, err := data.Encode(val)
	if err != nil {
		return err
	}
	var encExp []byte
	if expiry != nil {
		encExp, err = cbor.Marshal(expiry)
		if err != nil {
			return err
		}
	}
	_, err = s.db.Exec(`
		INSERT INTO entries (key, value, expiry) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, expiry = excluded.expiry
	`, encKey, encVal, encExp)
	if err != nil {
		return fmt.Errorf("put: %w", err)
	}
	return nil
}

func (s *sqliteBackend) Get(key data.Value) (data.Value, *Expiry, bool, error) {
	encKey, err := data.Encode(key)
	if err != nil {
		return data.Value{}, nil, false, err
	}

	var encVal, encExp []byte
	err = s.db.QueryRow(`SELECT value, expiry FROM entries WHERE key = ?`, encKey).
		Scan(&encVal, &encExp)
	if err == sql.ErrNoRows {
		return data.Value{}, nil, false, nil
	}
	if err != nil {
		return data.Value{}, nil, false, fmt.Errorf("get: %w", err)
	}

	val, err := data.Decode(encVal)
	if err != nil {
		return data.Value{}, nil, false, err
	}
	var expiry *Expiry
	if len(encExp) > 0 {
		expiry = &Expiry{}
		if err := cbor.Unmarshal(encExp, expiry); err != nil {
			return data.Value{}, nil, false, fmt.Errorf("decode expiry: %w", err)
		}
	}
	return val, expiry, true, nil
}

func (s *sqliteBackend) Delete(key data.Value) error {
	encKey, err := data.Encode(key)
	if err != nil {
		return err
	}
	if _, err := s.db.Exec(`DELETE FROM entries WHERE key = ?`, encKey); err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	return nil
}

func (s *sqliteBackend) Clear() error {
	if _, err := s.db.Exec(`DELETE FROM entries`); err != nil {
		return fmt.Errorf("clear: %w", err)
	}
	return nil
}

func (s *sqliteBackend) Keys() ([]data.Value, error) {
	rows, err := s.db.Query(`SELECT key FROM entries`)
	if err != nil {
		return nil, fmt.Errorf("keys: %w", err)
	}
	defer rows.Close()

	var keys []data.Value
	for rows.Next() {
		var encKey []byte
		if err := rows.Scan(&encKey); err != nil {
			return nil, err
		}
		key, err := data.Decode(encKey)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate keys: %w", err)
	}
	return keys, nil
}

func (s *sqliteBackend) Size() (uint64, error) {
	var n uint64
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM entries`).Scan(&n); err != nil {
		return 0, fmt.Errorf("size: %w", err)
	}
	return n, nil
}

func (s *sqliteBackend) Snapshot() ([]Entry, error) {
	rows, err := s.db.Query(`SELECT key, value, expiry FROM entries`)
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var encKey, encVal, encExp []byte
		if err := rows.Scan(&encKey, &encVal, &encExp); err != nil {
			return nil, err
		}
		key, err := data.Decode(encKey)
		if err != nil {
			return nil, err
		}
		val, err := data.Decode(encVal)
		if err != nil {
			return nil, err
		}
		var expiry *Expiry
		if len(encExp) > 0 {
			expiry = &Expiry{}
			if err := cbor.Unmarshal(encExp, expiry); err != nil {
				return nil, err
			}
		}
		out = append(out, Entry{Key: key, Val: val, Expiry: expiry})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshot: %w", err)
	}
	return out, nil
}

func (s *sqliteBackend) Close() error {
	return s.db.Close()
}
