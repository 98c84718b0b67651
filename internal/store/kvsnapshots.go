package store

import (
	"context"
	"fmt"
	"time"

	"github.com/ctxmem/engine/internal/engerrors"
)

// CreateKVSnapshot atomically inserts one snapshot row plus its entry
// rows plus a metadata upsert, all within a single transaction (§4.1,
// §8 "Snapshot atomicity": a failed attempt leaves no rows behind).
func (s *Store) CreateKVSnapshot(ctx context.Context, sessionID string, messageIndex int, contentHash, snapshotType string, entries []KVCacheEntry) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, engerrors.Storage("store.CreateKVSnapshot", sessionID, engerrors.StorageBusy, err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	size := 0
	for _, e := range entries {
		size += len(e.ValueBytes)
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO kv_snapshots(session_id, message_index, content_hash, size_bytes, snapshot_type, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		sessionID, messageIndex, contentHash, size, snapshotType, now)
	if err != nil {
		return 0, engerrors.Storage("store.CreateKVSnapshot", sessionID, engerrors.StorageConflict, err)
	}
	snapshotID, err := res.LastInsertId()
	if err != nil {
		return 0, engerrors.Storage("store.CreateKVSnapshot", sessionID, engerrors.StorageBusy, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO kv_cache_entries(snapshot_id, key_hash, key_bytes, value_bytes, key_type, layer_index, head_index, importance, access_count, last_accessed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, engerrors.Storage("store.CreateKVSnapshot", sessionID, engerrors.StorageBusy, err)
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx, snapshotID, e.KeyHash, e.KeyBytes, e.ValueBytes, e.KeyType, e.LayerIndex, e.HeadIndex, e.Importance, e.AccessCount, e.LastAccessed); err != nil {
			return 0, engerrors.Storage("store.CreateKVSnapshot", sessionID, engerrors.StorageConflict, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO kv_cache_metadata(session_id, conversation_count, last_cleared_at, last_snapshot_id, cache_size_bytes, entry_count, metadata)
		VALUES (?, 0, ?, ?, ?, ?, '{}')
		ON CONFLICT(session_id) DO UPDATE SET
			last_cleared_at = excluded.last_cleared_at,
			last_snapshot_id = excluded.last_snapshot_id,
			cache_size_bytes = excluded.cache_size_bytes,
			entry_count = excluded.entry_count`,
		sessionID, now, snapshotID, size, len(entries)); err != nil {
		return 0, engerrors.Storage("store.CreateKVSnapshot", sessionID, engerrors.StorageConflict, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, engerrors.Storage("store.CreateKVSnapshot", sessionID, engerrors.StorageBusy, err)
	}
	return snapshotID, nil
}

// GetRecentKVSnapshots returns up to limit of the most recent snapshots
// for a session, newest first.
func (s *Store) GetRecentKVSnapshots(ctx context.Context, sessionID string, limit int) ([]KVSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, message_index, content_hash, size_bytes, snapshot_type, created_at
		FROM kv_snapshots WHERE session_id = ? ORDER BY created_at DESC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, engerrors.Storage("store.GetRecentKVSnapshots", sessionID, engerrors.StorageBusy, err)
	}
	defer rows.Close()

	var out []KVSnapshot
	for rows.Next() {
		var sn KVSnapshot
		if err := rows.Scan(&sn.ID, &sn.SessionID, &sn.MessageIndex, &sn.ContentHash, &sn.SizeBytes, &sn.SnapshotType, &sn.CreatedAt); err != nil {
			return nil, engerrors.Storage("store.GetRecentKVSnapshots", sessionID, engerrors.StorageCorrupt, err)
		}
		out = append(out, sn)
	}
	return out, rows.Err()
}

// GetKVSnapshotEntries fetches all entry rows for a snapshot.
func (s *Store) GetKVSnapshotEntries(ctx context.Context, snapshotID int64) ([]KVCacheEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, snapshot_id, key_hash, key_bytes, value_bytes, key_type, layer_index, head_index, importance, access_count, last_accessed
		FROM kv_cache_entries WHERE snapshot_id = ?`, snapshotID)
	if err != nil {
		return nil, engerrors.Storage("store.GetKVSnapshotEntries", fmt.Sprint(snapshotID), engerrors.StorageBusy, err)
	}
	defer rows.Close()

	var out []KVCacheEntry
	for rows.Next() {
		var e KVCacheEntry
		if err := rows.Scan(&e.ID, &e.SnapshotID, &e.KeyHash, &e.KeyBytes, &e.ValueBytes, &e.KeyType, &e.LayerIndex, &e.HeadIndex, &e.Importance, &e.AccessCount, &e.LastAccessed); err != nil {
			return nil, engerrors.Storage("store.GetKVSnapshotEntries", fmt.Sprint(snapshotID), engerrors.StorageCorrupt, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// PruneOldKVSnapshots keeps only the newest keep snapshots per session,
// deleting the rest (entries cascade).
func (s *Store) PruneOldKVSnapshots(ctx context.Context, sessionID string, keep int) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM kv_snapshots WHERE session_id = ? AND id NOT IN (
			SELECT id FROM kv_snapshots WHERE session_id = ? ORDER BY created_at DESC LIMIT ?
		)`, sessionID, sessionID, keep)
	if err != nil {
		return 0, engerrors.Storage("store.PruneOldKVSnapshots", sessionID, engerrors.StorageBusy, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// CleanupSessionSnapshots deletes every snapshot for a session.
func (s *Store) CleanupSessionSnapshots(ctx context.Context, sessionID string) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM kv_snapshots WHERE session_id = ?`, sessionID)
	if err != nil {
		return 0, engerrors.Storage("store.CleanupSessionSnapshots", sessionID, engerrors.StorageBusy, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// UpdateSessionCacheMetadata upserts the KV-cache session state row.
func (s *Store) UpdateSessionCacheMetadata(ctx context.Context, sessionID string, conversationCount int, lastClearedAt *time.Time, lastSnapshotID *int64, cacheSizeBytes, entryCount int, metadataJSON string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv_cache_metadata(session_id, conversation_count, last_cleared_at, last_snapshot_id, cache_size_bytes, entry_count, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			conversation_count = excluded.conversation_count,
			last_cleared_at = excluded.last_cleared_at,
			last_snapshot_id = excluded.last_snapshot_id,
			cache_size_bytes = excluded.cache_size_bytes,
			entry_count = excluded.entry_count,
			metadata = excluded.metadata`,
		sessionID, conversationCount, lastClearedAt, lastSnapshotID, cacheSizeBytes, entryCount, metadataJSON)
	if err != nil {
		return engerrors.Storage("store.UpdateSessionCacheMetadata", sessionID, engerrors.StorageBusy, err)
	}
	return nil
}
