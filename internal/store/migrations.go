package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ctxmem/engine/internal/engerrors"
)

type migration struct {
	version     int
	description string
	apply       func(tx *sql.Tx) error
}

var migrations = []migration{
	{
		version:     1,
		description: "initial schema",
		apply: func(tx *sql.Tx) error {
			stmts := []string{
				`CREATE TABLE IF NOT EXISTS sessions (
					id TEXT PRIMARY KEY,
					created_at TIMESTAMP NOT NULL,
					last_accessed TIMESTAMP NOT NULL,
					title TEXT NOT NULL DEFAULT '',
					tags TEXT NOT NULL DEFAULT '',
					pinned INTEGER NOT NULL DEFAULT 0,
					metadata TEXT NOT NULL DEFAULT '{}'
				)`,
				`CREATE TABLE IF NOT EXISTS messages (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
					message_index INTEGER NOT NULL,
					role TEXT NOT NULL,
					content TEXT NOT NULL,
					token_count INTEGER NOT NULL DEFAULT 0,
					ts TIMESTAMP NOT NULL,
					importance REAL NOT NULL DEFAULT 0.5,
					embedding_generated INTEGER NOT NULL DEFAULT 0,
					UNIQUE(session_id, message_index)
				)`,
				`CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, message_index)`,
				`CREATE INDEX IF NOT EXISTS idx_messages_content ON messages(content)`,
				`CREATE TABLE IF NOT EXISTS summaries (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
					start_index INTEGER NOT NULL,
					end_index INTEGER NOT NULL,
					text TEXT NOT NULL,
					ratio REAL NOT NULL DEFAULT 0,
					topics TEXT NOT NULL DEFAULT '',
					generated_at TIMESTAMP NOT NULL
				)`,
				`CREATE INDEX IF NOT EXISTS idx_summaries_session ON summaries(session_id)`,
				`CREATE TABLE IF NOT EXISTS details (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					message_id INTEGER NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
					type_tag TEXT NOT NULL,
					content TEXT NOT NULL,
					context TEXT NOT NULL DEFAULT '',
					importance REAL NOT NULL DEFAULT 0,
					access_count INTEGER NOT NULL DEFAULT 0,
					last_accessed TIMESTAMP NOT NULL
				)`,
				`CREATE TABLE IF NOT EXISTS embeddings (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					message_id INTEGER NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
					vector BLOB NOT NULL,
					model TEXT NOT NULL,
					generated_at TIMESTAMP NOT NULL,
					UNIQUE(message_id, model)
				)`,
				`CREATE TABLE IF NOT EXISTS kv_snapshots (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
					message_index INTEGER NOT NULL,
					content_hash TEXT NOT NULL,
					size_bytes INTEGER NOT NULL,
					snapshot_type TEXT NOT NULL,
					created_at TIMESTAMP NOT NULL
				)`,
				`CREATE INDEX IF NOT EXISTS idx_kv_snapshots_session ON kv_snapshots(session_id, created_at)`,
				`CREATE TABLE IF NOT EXISTS kv_cache_entries (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					snapshot_id INTEGER NOT NULL REFERENCES kv_snapshots(id) ON DELETE CASCADE,
					key_hash TEXT NOT NULL,
					key_bytes BLOB,
					value_bytes BLOB NOT NULL,
					key_type TEXT NOT NULL,
					layer_index INTEGER NOT NULL DEFAULT 0,
					head_index INTEGER,
					importance REAL NOT NULL DEFAULT 0,
					access_count INTEGER NOT NULL DEFAULT 0,
					last_accessed TIMESTAMP NOT NULL
				)`,
				`CREATE INDEX IF NOT EXISTS idx_kv_entries_snapshot ON kv_cache_entries(snapshot_id)`,
				`CREATE TABLE IF NOT EXISTS kv_cache_metadata (
					session_id TEXT PRIMARY KEY REFERENCES sessions(id) ON DELETE CASCADE,
					conversation_count INTEGER NOT NULL DEFAULT 0,
					last_cleared_at TIMESTAMP,
					last_snapshot_id INTEGER,
					cache_size_bytes INTEGER NOT NULL DEFAULT 0,
					entry_count INTEGER NOT NULL DEFAULT 0,
					metadata TEXT NOT NULL DEFAULT '{}'
				)`,
			}
			for _, s := range stmts {
				if _, err := tx.Exec(s); err != nil {
					return fmt.Errorf("migration 1: %w", err)
				}
			}
			return nil
		},
	},
}

func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at TIMESTAMP NOT NULL
	)`); err != nil {
		return engerrors.Storage("store.migrate", "schema_version", engerrors.StorageCorrupt, err)
	}

	var current int
	row := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_version`)
	if err := row.Scan(&current); err != nil {
		return engerrors.Storage("store.migrate", "schema_version", engerrors.StorageCorrupt, err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return engerrors.Storage("store.migrate", m.description, engerrors.StorageBusy, err)
		}
		if err := m.apply(tx); err != nil {
			tx.Rollback()
			return engerrors.Storage("store.migrate", m.description, engerrors.StorageCorrupt, err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_version(version, applied_at) VALUES (?, datetime('now'))`, m.version); err != nil {
			tx.Rollback()
			return engerrors.Storage("store.migrate", m.description, engerrors.StorageCorrupt, err)
		}
		if err := tx.Commit(); err != nil {
			return engerrors.Storage("store.migrate", m.description, engerrors.StorageCorrupt, err)
		}
	}
	return nil
}
