package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ctxmem/engine/internal/engerrors"
)

// Store wraps a pooled connection to the embedded SQLite database.
// Pool sizing (max 10, blocking get) and pragma set follow §4.1
// directly; the pooling *shape* — bounded open conns, conn lifetime,
// ping-on-connect with a timeout — is carried over from the teacher's
// internal/persistence/databases/factory.go newPgPool, adapted from
// pgxpool.Config to database/sql's SetMaxOpenConns/SetConnMaxLifetime.
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) the SQLite file at path, applies
// pragmas, runs the migration ladder, and returns a ready Store.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, engerrors.Storage("store.Open", path, engerrors.StorageBusy, err)
	}

	// §4.1: pooled connections, max 10, blocking get. SQLite's single
	// writer means we additionally keep this modest to avoid
	// "database is locked" thrash under WAL.
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -2000", // ~2MB page cache
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, engerrors.Storage("store.Open.pragma", p, engerrors.StorageBusy, err)
		}
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, engerrors.Storage("store.Open.ping", path, engerrors.StorageBusy, err)
	}

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases pooled connections, truncating the WAL first (§4.1:
// "at shutdown the WAL is truncated").
func (s *Store) Close() error {
	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.db.Close()
}

// DB exposes the underlying *sql.DB for packages (tests, maintenance)
// that need direct access; production code should prefer the typed
// methods below.
func (s *Store) DB() *sql.DB { return s.db }

// Maintenance runs ANALYZE, an incremental vacuum, and an integrity
// check on demand (§4.1).
func (s *Store) Maintenance(ctx context.Context) error {
	stmts := []string{"ANALYZE", "PRAGMA incremental_vacuum", "PRAGMA integrity_check"}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return engerrors.Storage("store.Maintenance", stmt, engerrors.StorageBusy, err)
		}
	}
	return nil
}
