package storage

import (
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteKV is a durable KV backed by a single sqlite table. Writes are
// buffered in memory and flushed in one transaction on Commit, mirroring the
// commit discipline of flash-backed stores. The sqlite handle is not safe
// for concurrent writers, so all operations are serialized by a mutex.
type SQLiteKV struct {
	mu        sync.Mutex
	db        *sql.DB
	namespace string
	pending   map[string]*[]byte // nil value slice means pending erase
}

// OpenSQLiteKV opens (creating if necessary) the store at path under the
// given namespace.
func OpenSQLiteKV(path, namespace string) (*SQLiteKV, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS kv (
		namespace TEXT NOT NULL,
		key       TEXT NOT NULL,
		value     BLOB NOT NULL,
		PRIMARY KEY (namespace, key)
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: create schema: %w", err)
	}
	return &SQLiteKV{
		db:        db,
		namespace: namespace,
		pending:   make(map[string]*[]byte),
	}, nil
}

// Get returns the value for key, preferring uncommitted writes over the
// durable state so a Set/Get sequence behaves as expected before Commit.
func (s *SQLiteKV) Get(key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if v, ok := s.pending[key]; ok {
		if v == nil {
			return nil, ErrKeyNotFound
		}
		out := make([]byte, len(*v))
		copy(out, *v)
		return out, nil
	}

	var value []byte
	err := s.db.QueryRow(
		`SELECT value FROM kv WHERE namespace = ? AND key = ?`,
		s.namespace, key,
	).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get %q: %w", key, err)
	}
	return value, nil
}

func (s *SQLiteKV) Set(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := make([]byte, len(value))
	copy(v, value)
	s.pending[key] = &v
	return nil
}

func (s *SQLiteKV) Erase(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[key] = nil
	return nil
}

// Commit flushes all buffered writes and erases in a single transaction.
func (s *SQLiteKV) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.pending) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("storage: begin commit: %w", err)
	}
	for key, value := range s.pending {
		if value == nil {
			_, err = tx.Exec(`DELETE FROM kv WHERE namespace = ? AND key = ?`, s.namespace, key)
		} else {
			_, err = tx.Exec(
				`INSERT INTO kv (namespace, key, value) VALUES (?, ?, ?)
				 ON CONFLICT (namespace, key) DO UPDATE SET value = excluded.value`,
				s.namespace, key, *value,
			)
		}
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("storage: commit %q: %w", key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage: commit: %w", err)
	}
	s.pending = make(map[string]*[]byte)
	return nil
}

// Close discards uncommitted writes and closes the database.
func (s *SQLiteKV) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = make(map[string]*[]byte)
	return s.db.Close()
}
