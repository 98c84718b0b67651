package tiering_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ctxmem/engine/internal/store"
	"github.com/ctxmem/engine/internal/tiering"
)

func newManager(t *testing.T) *tiering.Manager {
	t.Helper()
	st, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "t.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return tiering.NewManager(st, 50, 1000, 500, time.Hour)
}

func TestStoreTier1Truncation(t *testing.T) {
	m := newManager(t)
	var msgs []store.Message
	for i := 0; i < 60; i++ {
		msgs = append(msgs, store.Message{Content: "m"})
	}
	m.StoreTier1("s1", msgs)
	require.Len(t, m.GetTier1("s1"), 50)
}

func TestStoreTier3Dedup(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()

	msgs := []store.Message{
		{Role: "user", Content: "hello"},
		{Role: "assistant", Content: "hi there"},
	}
	require.NoError(t, m.StoreTier3(ctx, "s1", msgs))
	require.NoError(t, m.StoreTier3(ctx, "s1", msgs)) // identical re-send is a no-op

	stats, err := m.GetTierStats(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, 2, stats.Tier3Count)
}

func TestExtractKeywordsFiltersStopwordsAndShortWords(t *testing.T) {
	kws := tiering.ExtractKeywords("What did we discuss about the budget yesterday")
	require.Contains(t, kws, "discuss")
	require.Contains(t, kws, "budget")
	require.Contains(t, kws, "yesterday")
	require.NotContains(t, kws, "the")
	require.NotContains(t, kws, "did")
}
