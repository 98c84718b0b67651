package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/ctxmem/engine/internal/engerrors"
)

// CreateSession inserts a new session row, optionally with a title.
// §4.2 "ensure_session_exists": callers must never auto-generate
// placeholder titles — an empty title is stored as empty, not guessed.
func (s *Store) CreateSession(ctx context.Context, id, title string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions(id, created_at, last_accessed, title, tags, pinned, metadata)
		VALUES (?, ?, ?, ?, '', 0, '{}')
		ON CONFLICT(id) DO NOTHING`,
		id, now, now, title)
	if err != nil {
		return engerrors.Storage("store.CreateSession", id, engerrors.StorageBusy, err)
	}
	return nil
}

// EnsureSession creates the session if absent; it is a no-op otherwise.
func (s *Store) EnsureSession(ctx context.Context, id string) error {
	var exists int
	row := s.db.QueryRowContext(ctx, `SELECT 1 FROM sessions WHERE id = ?`, id)
	if err := row.Scan(&exists); err == nil {
		return nil
	} else if !errors.Is(err, sql.ErrNoRows) {
		return engerrors.Storage("store.EnsureSession", id, engerrors.StorageBusy, err)
	}
	return s.CreateSession(ctx, id, "")
}

// GetSession fetches a session by id.
func (s *Store) GetSession(ctx context.Context, id string) (Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, created_at, last_accessed, title, tags, pinned, metadata FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, engerrors.NotFound("store.GetSession", id, err)
	}
	if err != nil {
		return Session{}, engerrors.Storage("store.GetSession", id, engerrors.StorageBusy, err)
	}
	return sess, nil
}

// ListSessionsWithTitle returns sessions whose title is set, per §6's
// GET /conversations ("only sessions whose title is set").
func (s *Store) ListSessionsWithTitle(ctx context.Context) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, created_at, last_accessed, title, tags, pinned, metadata
		FROM sessions WHERE title != '' ORDER BY last_accessed DESC`)
	if err != nil {
		return nil, engerrors.Storage("store.ListSessionsWithTitle", "", engerrors.StorageBusy, err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, engerrors.Storage("store.ListSessionsWithTitle", "", engerrors.StorageCorrupt, err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// UpdateTitle sets a session's title; empty titles are rejected by the
// HTTP layer per §7, not here (store methods trust validated input).
func (s *Store) UpdateTitle(ctx context.Context, id, title string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE sessions SET title = ? WHERE id = ?`, title, id)
	if err != nil {
		return engerrors.Storage("store.UpdateTitle", id, engerrors.StorageBusy, err)
	}
	return requireRowsAffected(res, "store.UpdateTitle", id)
}

// UpdatePinned sets a session's pinned flag.
func (s *Store) UpdatePinned(ctx context.Context, id string, pinned bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE sessions SET pinned = ? WHERE id = ?`, boolToInt(pinned), id)
	if err != nil {
		return engerrors.Storage("store.UpdatePinned", id, engerrors.StorageBusy, err)
	}
	return requireRowsAffected(res, "store.UpdatePinned", id)
}

// DeleteSession removes a session; foreign keys cascade to its
// messages, summaries, details, embeddings, and KV snapshots/entries.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return engerrors.Storage("store.DeleteSession", id, engerrors.StorageBusy, err)
	}
	return requireRowsAffected(res, "store.DeleteSession", id)
}

// TouchLastAccessed bumps a session's last_accessed timestamp to now.
func (s *Store) TouchLastAccessed(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE sessions SET last_accessed = ? WHERE id = ?`, time.Now().UTC(), id)
	if err != nil {
		return engerrors.Storage("store.TouchLastAccessed", id, engerrors.StorageBusy, err)
	}
	return nil
}

// MessageCount returns the session's message count (for GET /conversations).
func (s *Store) MessageCount(ctx context.Context, id string) (int, error) {
	var n int
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE session_id = ?`, id)
	if err := row.Scan(&n); err != nil {
		return 0, engerrors.Storage("store.MessageCount", id, engerrors.StorageBusy, err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (Session, error) {
	var sess Session
	var tags, metadata string
	var pinned int
	if err := row.Scan(&sess.ID, &sess.CreatedAt, &sess.LastAccessed, &sess.Title, &tags, &pinned, &metadata); err != nil {
		return Session{}, err
	}
	sess.Pinned = pinned != 0
	if tags != "" {
		sess.Tags = strings.Split(tags, ",")
	}
	if metadata != "" {
		_ = json.Unmarshal([]byte(metadata), &sess.Metadata)
	}
	if sess.Metadata == nil {
		sess.Metadata = map[string]string{}
	}
	return sess, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func requireRowsAffected(res sql.Result, op, subject string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return engerrors.Storage(op, subject, engerrors.StorageBusy, err)
	}
	if n == 0 {
		return engerrors.NotFound(op, subject, sql.ErrNoRows)
	}
	return nil
}
