package kvcache_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ctxmem/engine/internal/kvcache"
)

func TestCreateClearBridgeListsKeywords(t *testing.T) {
	b := kvcache.NewContextBridge()
	msg := b.CreateClearBridge(5, 3, []string{"budget", "pricing", "timeline", "extra"})
	require.Contains(t, msg, "budget, pricing, timeline")
	require.NotContains(t, msg, "extra")
}

func TestCreateClearBridgeDefaultsWithoutKeywords(t *testing.T) {
	b := kvcache.NewContextBridge()
	msg := b.CreateClearBridge(2, 1, nil)
	require.Contains(t, msg, "various topics")
}

func TestStatsAggregatesHistory(t *testing.T) {
	b := kvcache.NewContextBridge()
	b.CreateClearBridge(1, 1, nil)
	sim := 0.9
	b.CreateRetrievalBridge(2, 1, []string{"a"}, &sim)

	stats := b.Stats()
	require.Equal(t, 2, stats.TotalTransitions)
	require.Equal(t, kvcache.TransitionRetrieved, stats.LastTransitionType)
}
