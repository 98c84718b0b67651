package kvcache_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ctxmem/engine/internal/kvcache"
)

func TestScoreEntryClampedToOne(t *testing.T) {
	s := kvcache.NewScorer(kvcache.DefaultScoringConfig())
	score := s.ScoreEntry(kvcache.EntryParams{
		KeyHash:                "k1",
		KeyData:                []byte("this is a critical important system prompt"),
		KeyType:                "attention_key",
		LayerIndex:             1,
		AccessCount:            1000,
		LastAccessedSecondsAgo: 0,
		ValueSizeBytes:         100000,
	})
	require.LessOrEqual(t, score, 1.0)
	require.GreaterOrEqual(t, score, 0.0)
}

func TestScoreEntryRecencyDominatesWhenFresh(t *testing.T) {
	s := kvcache.NewScorer(kvcache.DefaultScoringConfig())
	fresh := s.ScoreEntry(kvcache.EntryParams{KeyHash: "a", KeyType: "attention_key", LastAccessedSecondsAgo: 0})
	stale := s.ScoreEntry(kvcache.EntryParams{KeyHash: "b", KeyType: "attention_key", LastAccessedSecondsAgo: 100000})
	require.Greater(t, fresh, stale)
}

func TestUpdateEngagementIncreasesOnRetrieval(t *testing.T) {
	s := kvcache.NewScorer(kvcache.DefaultScoringConfig())
	before := s.ScoreEntry(kvcache.EntryParams{KeyHash: "k", KeyType: "attention_key"})
	s.UpdateEngagement("k", true)
	after := s.ScoreEntry(kvcache.EntryParams{KeyHash: "k", KeyType: "attention_key"})
	require.Greater(t, after, before)
}

func TestUpdateEngagementDecaysOtherKeys(t *testing.T) {
	s := kvcache.NewScorer(kvcache.DefaultScoringConfig())
	s.UpdateEngagement("other", true)
	before := s.ScoreEntry(kvcache.EntryParams{KeyHash: "other", KeyType: "attention_key"})
	s.UpdateEngagement("k", true)
	after := s.ScoreEntry(kvcache.EntryParams{KeyHash: "other", KeyType: "attention_key"})
	require.LessOrEqual(t, after, before)
}

func TestExtractKeywordsFiltersStopwordsAndShort(t *testing.T) {
	s := kvcache.NewScorer(kvcache.DefaultScoringConfig())
	kws := s.ExtractKeywords([]byte("the important budget proposal was discussed"))
	require.Contains(t, kws, "important")
	require.Contains(t, kws, "budget")
	require.NotContains(t, kws, "the")
	require.NotContains(t, kws, "was")
}

func TestExtractKeywordsCapsAtFive(t *testing.T) {
	s := kvcache.NewScorer(kvcache.DefaultScoringConfig())
	kws := s.ExtractKeywords([]byte("alpha beta gamma delta epsilon zeta eta theta"))
	require.LessOrEqual(t, len(kws), 5)
}
