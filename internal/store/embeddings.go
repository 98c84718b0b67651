package store

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/ctxmem/engine/internal/engerrors"
)

// StoreEmbedding upserts by (message, model), per §4.1.
func (s *Store) StoreEmbedding(ctx context.Context, e Embedding) (int64, error) {
	if e.GeneratedAt.IsZero() {
		e.GeneratedAt = time.Now().UTC()
	}
	blob := encodeVector(e.Vector)
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO embeddings(message_id, vector, model, generated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(message_id, model) DO UPDATE SET vector = excluded.vector, generated_at = excluded.generated_at`,
		e.MessageID, blob, e.Model, e.GeneratedAt)
	if err != nil {
		return 0, engerrors.Storage("store.StoreEmbedding", fmt.Sprint(e.MessageID), engerrors.StorageBusy, err)
	}
	return res.LastInsertId()
}

// GetEmbeddingByMessage fetches the embedding for (messageID, model).
func (s *Store) GetEmbeddingByMessage(ctx context.Context, messageID int64, model string) (Embedding, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, message_id, vector, model, generated_at FROM embeddings WHERE message_id = ? AND model = ?`,
		messageID, model)
	var e Embedding
	var blob []byte
	if err := row.Scan(&e.ID, &e.MessageID, &blob, &e.Model, &e.GeneratedAt); err != nil {
		return Embedding{}, engerrors.NotFound("store.GetEmbeddingByMessage", fmt.Sprint(messageID), err)
	}
	e.Vector = decodeVector(blob)
	return e, nil
}

// ListEmbeddingsForModel returns every stored embedding for model, used
// to (re)build the in-process ANN index on startup (§4.7).
func (s *Store) ListEmbeddingsForModel(ctx context.Context, model string) ([]Embedding, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, message_id, vector, model, generated_at FROM embeddings WHERE model = ?`, model)
	if err != nil {
		return nil, engerrors.Storage("store.ListEmbeddingsForModel", model, engerrors.StorageBusy, err)
	}
	defer rows.Close()

	var out []Embedding
	for rows.Next() {
		var e Embedding
		var blob []byte
		if err := rows.Scan(&e.ID, &e.MessageID, &blob, &e.Model, &e.GeneratedAt); err != nil {
			return nil, engerrors.Storage("store.ListEmbeddingsForModel", model, engerrors.StorageCorrupt, err)
		}
		e.Vector = decodeVector(blob)
		out = append(out, e)
	}
	return out, rows.Err()
}

// EmbeddingStatsFor returns count and dimension for a model (count,0 if none).
func (s *Store) EmbeddingStatsFor(ctx context.Context, model string) (int, int, error) {
	var count int
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM embeddings WHERE model = ?`, model)
	if err := row.Scan(&count); err != nil {
		return 0, 0, engerrors.Storage("store.EmbeddingStatsFor", model, engerrors.StorageBusy, err)
	}
	if count == 0 {
		return 0, 0, nil
	}
	var blob []byte
	row = s.db.QueryRowContext(ctx, `SELECT vector FROM embeddings WHERE model = ? LIMIT 1`, model)
	if err := row.Scan(&blob); err != nil {
		return count, 0, engerrors.Storage("store.EmbeddingStatsFor", model, engerrors.StorageCorrupt, err)
	}
	return count, len(blob) / 4, nil
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(buf []byte) []float32 {
	n := len(buf) / 4
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return out
}
