// Package store implements the write-ahead durable state store: sessions,
// confirmation requirements, dead letters, and idempotency keys, all backed
// by a single-writer SQLite database opened with WAL-equivalent pragmas.
package store

import (
	"fmt"
	"net/url"
	"time"

	"github.com/jmoiron/sqlx"

	_ "github.com/mattn/go-sqlite3"
)

// Config controls how the durable store connects to its backing file.
type Config struct {
	// Path is the filesystem path to the SQLite database file. ":memory:"
	// is accepted for tests but loses all state across process restarts.
	Path string
	// BusyTimeout bounds how long a writer waits on a lock before failing.
	BusyTimeout time.Duration
}

// DefaultBusyTimeout matches the 5s bound named in the durable store
// contract.
const DefaultBusyTimeout = 5 * time.Second

// Store is the durable state store handle. It is passed by dependency
// injection to every component that needs durability; there is no package
// global.
type Store struct {
	db *sqlx.DB
}

// Open opens (creating if absent) the SQLite database at cfg.Path with the
// pragma-equivalent guarantees named by the durable store contract:
// WAL journaling, synchronous=NORMAL, foreign-keys=ON, and a bounded
// busy-wait. The single *sql.DB is intended for single-writer use; SQLite
// itself serializes writers, and callers should avoid wide connection pools
// for write traffic.
func Open(cfg Config) (*Store, error) {
	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = DefaultBusyTimeout
	}
	dsn := fmt.Sprintf(
		"file:%s?_journal_mode=WAL&_synchronous=NORMAL&_foreign_keys=on&_busy_timeout=%d",
		url.PathEscape(cfg.Path), busy.Milliseconds(),
	)
	db, err := sqlx.Connect("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	return &Store{db: db}, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying *sqlx.DB for migration tooling. Repositories
// within this package should prefer the typed methods instead.
func (s *Store) DB() *sqlx.DB {
	return s.db
}
