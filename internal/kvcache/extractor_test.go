package kvcache_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ctxmem/engine/internal/kvcache"
)

func TestExtractEntriesFiltersByValueSize(t *testing.T) {
	scorer := kvcache.NewScorer(kvcache.DefaultScoringConfig())
	ex := kvcache.NewExtractor(kvcache.DefaultExtractorConfig(), scorer)

	entries := []kvcache.KVEntry{
		{KeyHash: "tiny", ValueData: []byte("x"), KeyType: "attention_key"},
		{KeyHash: "ok", ValueData: []byte("a value long enough to pass the size floor"), KeyType: "attention_key"},
	}
	extracted := ex.ExtractEntries(entries)
	require.Len(t, extracted, 1)
	require.Equal(t, "ok", extracted[0].KeyHash)
}

func TestClassifyEntryDetectsSystemPrompt(t *testing.T) {
	scorer := kvcache.NewScorer(kvcache.DefaultScoringConfig())
	ex := kvcache.NewExtractor(kvcache.DefaultExtractorConfig(), scorer)

	entries := []kvcache.KVEntry{
		{KeyHash: "sp", KeyData: []byte("you are a helpful assistant"), ValueData: []byte("system prompt content goes here"), KeyType: "attention_key"},
	}
	extracted := ex.ExtractEntries(entries)
	require.Len(t, extracted, 1)
	require.Equal(t, kvcache.TypeSystemPrompt, extracted[0].EntryType)
}

func TestFilterPreservedEntriesKeepsImportantConcept(t *testing.T) {
	scorer := kvcache.NewScorer(kvcache.DefaultScoringConfig())
	ex := kvcache.NewExtractor(kvcache.DefaultExtractorConfig(), scorer)

	entries := []kvcache.ExtractedCacheEntry{
		{EntryType: kvcache.TypeImportantConcept, ImportanceScore: 0.71, KeyHash: "ic"},
		{EntryType: kvcache.TypeFFNKey, ImportanceScore: 0.71, KeyHash: "low"},
	}
	preserved := ex.FilterPreservedEntries(entries, 0.7, true, true)
	var keys []string
	for _, e := range preserved {
		keys = append(keys, e.KeyHash)
	}
	require.Contains(t, keys, "ic")
	require.NotContains(t, keys, "low")
}
