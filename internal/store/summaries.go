package store

import (
	"context"
	"strings"
	"time"

	"github.com/ctxmem/engine/internal/engerrors"
)

// StoreSummary inserts a summary row. Callers are responsible for the
// non-overlap invariant (§3); the store does not enforce it since
// overlap semantics depend on the caller's summarization key.
func (s *Store) StoreSummary(ctx context.Context, sum Summary) (int64, error) {
	if sum.GeneratedAt.IsZero() {
		sum.GeneratedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO summaries(session_id, start_index, end_index, text, ratio, topics, generated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sum.SessionID, sum.Start, sum.End, sum.Text, sum.Ratio, strings.Join(sum.Topics, ","), sum.GeneratedAt)
	if err != nil {
		return 0, engerrors.Storage("store.StoreSummary", sum.SessionID, engerrors.StorageBusy, err)
	}
	return res.LastInsertId()
}

// ListSummaries returns all summaries for a session ordered by start index.
func (s *Store) ListSummaries(ctx context.Context, sessionID string) ([]Summary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, start_index, end_index, text, ratio, topics, generated_at
		FROM summaries WHERE session_id = ? ORDER BY start_index ASC`, sessionID)
	if err != nil {
		return nil, engerrors.Storage("store.ListSummaries", sessionID, engerrors.StorageBusy, err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var sum Summary
		var topics string
		if err := rows.Scan(&sum.ID, &sum.SessionID, &sum.Start, &sum.End, &sum.Text, &sum.Ratio, &topics, &sum.GeneratedAt); err != nil {
			return nil, engerrors.Storage("store.ListSummaries", sessionID, engerrors.StorageCorrupt, err)
		}
		if topics != "" {
			sum.Topics = strings.Split(topics, ",")
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

// DeleteSummary removes a summary by id.
func (s *Store) DeleteSummary(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM summaries WHERE id = ?`, id)
	if err != nil {
		return engerrors.Storage("store.DeleteSummary", "", engerrors.StorageBusy, err)
	}
	return nil
}

// CleanupSummaries keeps only the newest keepLast summaries per session.
func (s *Store) CleanupSummaries(ctx context.Context, sessionID string, keepLast int) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM summaries WHERE session_id = ? AND id NOT IN (
			SELECT id FROM summaries WHERE session_id = ? ORDER BY generated_at DESC LIMIT ?
		)`, sessionID, sessionID, keepLast)
	if err != nil {
		return engerrors.Storage("store.CleanupSummaries", sessionID, engerrors.StorageBusy, err)
	}
	return nil
}
