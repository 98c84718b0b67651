package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ctxmem/engine/internal/engerrors"
)

// AppendMessage inserts one message at the given index.
func (s *Store) AppendMessage(ctx context.Context, m Message) (int64, error) {
	if len(m.Content) > 64*1024 {
		return 0, engerrors.InvalidInput("store.AppendMessage", m.SessionID, fmt.Errorf("content exceeds 64KiB"))
	}
	if strings.ContainsRune(m.Content, 0) {
		return 0, engerrors.InvalidInput("store.AppendMessage", m.SessionID, fmt.Errorf("content contains NUL byte"))
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO messages(session_id, message_index, role, content, token_count, ts, importance, embedding_generated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.SessionID, m.MessageIndex, m.Role, m.Content, m.TokenCount, m.Timestamp, m.Importance, boolToInt(m.EmbeddingGenerated))
	if err != nil {
		return 0, engerrors.Storage("store.AppendMessage", m.SessionID, engerrors.StorageConflict, err)
	}
	return res.LastInsertId()
}

// AppendMessagesBatch inserts several messages in one transaction,
// each assigned the next consecutive message_index starting at
// startIndex (§4.2's store_tier3 contract).
func (s *Store) AppendMessagesBatch(ctx context.Context, sessionID string, msgs []Message, startIndex int) error {
	if len(msgs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return engerrors.Storage("store.AppendMessagesBatch", sessionID, engerrors.StorageBusy, err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO messages(session_id, message_index, role, content, token_count, ts, importance, embedding_generated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return engerrors.Storage("store.AppendMessagesBatch", sessionID, engerrors.StorageBusy, err)
	}
	defer stmt.Close()

	idx := startIndex
	for _, m := range msgs {
		ts := m.Timestamp
		if ts.IsZero() {
			ts = time.Now().UTC()
		}
		if _, err := stmt.ExecContext(ctx, sessionID, idx, m.Role, m.Content, m.TokenCount, ts, m.Importance, boolToInt(m.EmbeddingGenerated)); err != nil {
			return engerrors.Storage("store.AppendMessagesBatch", sessionID, engerrors.StorageConflict, err)
		}
		idx++
	}
	if err := tx.Commit(); err != nil {
		return engerrors.Storage("store.AppendMessagesBatch", sessionID, engerrors.StorageBusy, err)
	}
	return nil
}

// GetSessionMessages returns up to limit messages starting at offset,
// ordered by message_index ascending.
func (s *Store) GetSessionMessages(ctx context.Context, sessionID string, limit, offset int) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, message_index, role, content, token_count, ts, importance, embedding_generated
		FROM messages WHERE session_id = ? ORDER BY message_index ASC LIMIT ? OFFSET ?`,
		sessionID, limit, offset)
	if err != nil {
		return nil, engerrors.Storage("store.GetSessionMessages", sessionID, engerrors.StorageBusy, err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// GetMessageByID materializes a single message row, used by semantic
// retrieval (§4.5) to resolve embedding-index hits back into messages.
func (s *Store) GetMessageByID(ctx context.Context, id int64) (Message, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, session_id, message_index, role, content, token_count, ts, importance, embedding_generated
		FROM messages WHERE id = ?`, id)
	var m Message
	var embedded int
	if err := row.Scan(&m.ID, &m.SessionID, &m.MessageIndex, &m.Role, &m.Content, &m.TokenCount, &m.Timestamp, &m.Importance, &embedded); err != nil {
		return Message{}, engerrors.NotFound("store.GetMessageByID", "", err)
	}
	m.EmbeddingGenerated = embedded != 0
	return m, nil
}

// SearchMessagesByKeywords performs a case-insensitive LIKE search for
// any of the given keywords within a single session.
func (s *Store) SearchMessagesByKeywords(ctx context.Context, sessionID string, keywords []string, limit int) ([]Message, error) {
	if len(keywords) == 0 {
		return nil, nil
	}
	clauses := make([]string, 0, len(keywords))
	args := []any{sessionID}
	for _, kw := range keywords {
		clauses = append(clauses, "LOWER(content) LIKE ?")
		args = append(args, "%"+strings.ToLower(kw)+"%")
	}
	args = append(args, limit)
	q := fmt.Sprintf(`
		SELECT id, session_id, message_index, role, content, token_count, ts, importance, embedding_generated
		FROM messages WHERE session_id = ? AND (%s) ORDER BY ts DESC LIMIT ?`, strings.Join(clauses, " OR "))
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, engerrors.Storage("store.SearchMessagesByKeywords", sessionID, engerrors.StorageBusy, err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// SearchMessagesCrossSession searches every session except excludeSessionID.
func (s *Store) SearchMessagesCrossSession(ctx context.Context, excludeSessionID string, keywords []string, limit int) ([]Message, error) {
	if len(keywords) == 0 {
		return nil, nil
	}
	clauses := make([]string, 0, len(keywords))
	args := []any{excludeSessionID}
	for _, kw := range keywords {
		clauses = append(clauses, "LOWER(content) LIKE ?")
		args = append(args, "%"+strings.ToLower(kw)+"%")
	}
	args = append(args, limit)
	q := fmt.Sprintf(`
		SELECT id, session_id, message_index, role, content, token_count, ts, importance, embedding_generated
		FROM messages WHERE session_id != ? AND (%s) ORDER BY ts DESC LIMIT ?`, strings.Join(clauses, " OR "))
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, engerrors.Storage("store.SearchMessagesCrossSession", excludeSessionID, engerrors.StorageBusy, err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// ExistingRoleContent returns the set of (role, content) pairs already
// stored for a session, used by the tier manager's dedup-on-insert
// logic (§4.2, §9 "Dedup key").
func (s *Store) ExistingRoleContent(ctx context.Context, sessionID string, scanLimit int) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT role, content FROM messages WHERE session_id = ? ORDER BY message_index DESC LIMIT ?`,
		sessionID, scanLimit)
	if err != nil {
		return nil, engerrors.Storage("store.ExistingRoleContent", sessionID, engerrors.StorageBusy, err)
	}
	defer rows.Close()

	seen := map[string]bool{}
	for rows.Next() {
		var role, content string
		if err := rows.Scan(&role, &content); err != nil {
			return nil, engerrors.Storage("store.ExistingRoleContent", sessionID, engerrors.StorageCorrupt, err)
		}
		seen[dedupKey(role, content)] = true
	}
	return seen, rows.Err()
}

func dedupKey(role, content string) string { return role + "\x00" + content }

// MarkEmbeddingGenerated flips the embedding_generated flag for a message.
func (s *Store) MarkEmbeddingGenerated(ctx context.Context, messageID int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE messages SET embedding_generated = 1 WHERE id = ?`, messageID)
	if err != nil {
		return engerrors.Storage("store.MarkEmbeddingGenerated", fmt.Sprint(messageID), engerrors.StorageBusy, err)
	}
	return nil
}

func scanMessages(rows interface{ Next() bool; Scan(...any) error; Err() error }) ([]Message, error) {
	var out []Message
	for rows.Next() {
		var m Message
		var embedGen int
		if err := rows.Scan(&m.ID, &m.SessionID, &m.MessageIndex, &m.Role, &m.Content, &m.TokenCount, &m.Timestamp, &m.Importance, &embedGen); err != nil {
			return nil, engerrors.Storage("store.scanMessages", m.SessionID, engerrors.StorageCorrupt, err)
		}
		m.EmbeddingGenerated = embedGen != 0
		out = append(out, m)
	}
	return out, rows.Err()
}
