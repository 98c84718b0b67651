package store_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ctxmem/engine/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	dir := t.TempDir()
	s, err := store.Open(context.Background(), filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCreateAndGetSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateSession(ctx, "s1", "hello"))
	sess, err := s.GetSession(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, "s1", sess.ID)
	require.Equal(t, "hello", sess.Title)
}

func TestMessageIndexingIsContiguous(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.EnsureSession(ctx, "s1"))

	var msgs []store.Message
	for i := 0; i < 5; i++ {
		msgs = append(msgs, store.Message{Role: "user", Content: fmt.Sprintf("msg-%d", i)})
	}
	require.NoError(t, s.AppendMessagesBatch(ctx, "s1", msgs, 0))

	got, err := s.GetSessionMessages(ctx, "s1", 100, 0)
	require.NoError(t, err)
	require.Len(t, got, 5)
	for i, m := range got {
		require.Equal(t, i, m.MessageIndex)
	}

	n, err := s.MessageCount(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, 5, n)
}

func TestAppendMessageRejectsOversizedContent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.EnsureSession(ctx, "s1"))

	huge := make([]byte, 64*1024+1)
	for i := range huge {
		huge[i] = 'a'
	}
	_, err := s.AppendMessage(ctx, store.Message{SessionID: "s1", Role: "user", Content: string(huge)})
	require.Error(t, err)
}

func TestEmbeddingUpsertByMessageAndModel(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.EnsureSession(ctx, "s1"))
	id, err := s.AppendMessage(ctx, store.Message{SessionID: "s1", MessageIndex: 0, Role: "user", Content: "hi"})
	require.NoError(t, err)

	_, err = s.StoreEmbedding(ctx, store.Embedding{MessageID: id, Vector: []float32{0.1, 0.2, 0.3}, Model: "m1"})
	require.NoError(t, err)
	_, err = s.StoreEmbedding(ctx, store.Embedding{MessageID: id, Vector: []float32{0.4, 0.5, 0.6}, Model: "m1"})
	require.NoError(t, err)

	e, err := s.GetEmbeddingByMessage(ctx, id, "m1")
	require.NoError(t, err)
	require.InDelta(t, 0.4, e.Vector[0], 1e-6)

	count, dim, err := s.EmbeddingStatsFor(ctx, "m1")
	require.NoError(t, err)
	require.Equal(t, 1, count)
	require.Equal(t, 3, dim)
}

func TestKVSnapshotAtomicity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.EnsureSession(ctx, "s1"))

	entries := []store.KVCacheEntry{
		{KeyHash: "a", ValueBytes: []byte("v1"), KeyType: "attention_key", Importance: 0.9},
		{KeyHash: "b", ValueBytes: []byte("v2"), KeyType: "system_prompt", Importance: 0.8},
	}
	id, err := s.CreateKVSnapshot(ctx, "s1", 10, "hash1", "full", entries)
	require.NoError(t, err)

	got, err := s.GetKVSnapshotEntries(ctx, id)
	require.NoError(t, err)
	require.Len(t, got, 2)
}

func TestMain(m *testing.M) {
	os.Exit(m.Run())
}
