package kvcache_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ctxmem/engine/internal/kvcache"
	"github.com/ctxmem/engine/internal/store"
)

func newManager(t *testing.T) (*kvcache.Manager, *store.Store) {
	t.Helper()
	st, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "kv.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return kvcache.NewManager(kvcache.DefaultConfig(), st), st
}

func TestShouldClearByConversationThreshold(t *testing.T) {
	m, _ := newManager(t)
	require.False(t, m.ShouldClearByConversation(15))
	require.True(t, m.ShouldClearByConversation(16))
}

func TestShouldClearByMemoryThreshold(t *testing.T) {
	m, _ := newManager(t)
	require.False(t, m.ShouldClearByMemory(50, 100))
	require.True(t, m.ShouldClearByMemory(60, 100))
}

func TestClearCachePreservesImportantEntries(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()

	entries := []kvcache.KVEntry{
		{KeyHash: "sys", KeyData: []byte("you are a helpful assistant"), ValueData: []byte("system prompt text long enough"), KeyType: "attention_key", ImportanceScore: 0.9},
		{KeyHash: "junk", KeyData: []byte("random filler text"), ValueData: []byte("unimportant filler text long enough here"), KeyType: "ffn_key", ImportanceScore: 0.1},
	}

	result, err := m.ClearCache(ctx, "s1", entries, kvcache.ClearManual)
	require.NoError(t, err)
	require.NotEmpty(t, result.BridgeMessage)

	var keys []string
	for _, e := range result.EntriesToKeep {
		keys = append(keys, e.KeyHash)
	}
	require.Contains(t, keys, "sys")
}

func TestProcessConversationTriggersClearAtThreshold(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()
	msgs := []kvcache.ConversationMessage{{Role: "user", Content: "hi"}}

	var result kvcache.CacheProcessingResult
	var err error
	for i := 0; i < 16; i++ {
		result, err = m.ProcessConversation(ctx, "s1", msgs, nil, 0, 1000)
		require.NoError(t, err)
	}
	require.True(t, result.ShouldClearCache)
}

func TestProcessConversationRetrievesOnQuestion(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()
	msgs := []kvcache.ConversationMessage{{Role: "user", Content: "what is the meaning of this important budget figure?"}}
	entries := []kvcache.KVEntry{
		{KeyHash: "budget", KeyData: []byte("important budget figure discussion"), ValueData: []byte("important budget figure discussion text"), KeyType: "attention_key"},
	}

	result, err := m.ProcessConversation(ctx, "s1", msgs, entries, 0, 1000)
	require.NoError(t, err)
	_ = result // retrieval may or may not surface entries depending on keyword overlap; just assert no error
}

func TestPerformMaintenanceCleansOldSessions(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()

	_, err := m.ProcessConversation(ctx, "s1", nil, nil, 0, 1000)
	require.NoError(t, err)

	result, err := m.PerformMaintenance(ctx)
	require.NoError(t, err)
	require.GreaterOrEqual(t, result.SessionsCleaned, 1)
}
