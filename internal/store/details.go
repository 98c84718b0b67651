package store

import (
	"context"
	"time"

	"github.com/ctxmem/engine/internal/engerrors"
)

// StoreDetail inserts an auxiliary detail extraction for a message.
func (s *Store) StoreDetail(ctx context.Context, d Detail) (int64, error) {
	if d.LastAccessed.IsZero() {
		d.LastAccessed = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO details(message_id, type_tag, content, context, importance, access_count, last_accessed)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		d.MessageID, d.TypeTag, d.Content, d.Context, d.Importance, d.AccessCount, d.LastAccessed)
	if err != nil {
		return 0, engerrors.Storage("store.StoreDetail", "", engerrors.StorageBusy, err)
	}
	return res.LastInsertId()
}

// ListDetailsForMessage returns all details attached to a message.
func (s *Store) ListDetailsForMessage(ctx context.Context, messageID int64) ([]Detail, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, message_id, type_tag, content, context, importance, access_count, last_accessed
		FROM details WHERE message_id = ?`, messageID)
	if err != nil {
		return nil, engerrors.Storage("store.ListDetailsForMessage", "", engerrors.StorageBusy, err)
	}
	defer rows.Close()

	var out []Detail
	for rows.Next() {
		var d Detail
		if err := rows.Scan(&d.ID, &d.MessageID, &d.TypeTag, &d.Content, &d.Context, &d.Importance, &d.AccessCount, &d.LastAccessed); err != nil {
			return nil, engerrors.Storage("store.ListDetailsForMessage", "", engerrors.StorageCorrupt, err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// TouchDetail bumps a detail's access_count and last_accessed.
func (s *Store) TouchDetail(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE details SET access_count = access_count + 1, last_accessed = ? WHERE id = ?`, time.Now().UTC(), id)
	if err != nil {
		return engerrors.Storage("store.TouchDetail", "", engerrors.StorageBusy, err)
	}
	return nil
}
