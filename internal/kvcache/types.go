// Package kvcache implements the KV-cache manager (§4.8): classifies
// raw attention/FFN cache entries, scores their importance, decides
// when to clear or retrieve context from them, and produces the
// human-readable bridge messages that narrate those transitions to the
// conversation.
// Grounded on original_source/crates/offline-intelligence/src/cache_management/
// (cache_manager.rs, cache_extractor.rs, cache_scorer.rs, cache_bridge.rs, cache_config.rs).
package kvcache

import "time"

// EntryType is the source's CacheEntryType enum.
type EntryType string

const (
	TypeAttentionKey     EntryType = "attention_key"
	TypeAttentionValue   EntryType = "attention_value"
	TypeFFNKey           EntryType = "ffn_key"
	TypeFFNValue         EntryType = "ffn_value"
	TypeSystemPrompt     EntryType = "system_prompt"
	TypeCodeBlock        EntryType = "code_block"
	TypeImportantConcept EntryType = "important_concept"
	TypeQuestion         EntryType = "question"
	TypeNumericData      EntryType = "numeric_data"
)

// CustomType builds the Custom(name) variant's string form.
func CustomType(name string) EntryType { return EntryType(name) }

// KVEntry is a raw cache entry as produced by the LLM runtime.
type KVEntry struct {
	KeyHash         string
	KeyData         []byte
	ValueData       []byte
	KeyType         string
	LayerIndex      int
	HeadIndex       *int
	ImportanceScore float64
	AccessCount     int
	LastAccessed    time.Time
}

// ExtractedCacheEntry is a KVEntry after classification and keyword
// extraction.
type ExtractedCacheEntry struct {
	EntryType       EntryType
	KeyHash         string
	KeyData         []byte
	ValueData       []byte
	LayerIndex      int
	HeadIndex       *int
	ImportanceScore float64
	AccessCount     int
	Keywords        []string
}

// ClearReason is the source's ClearReason enum.
type ClearReason string

const (
	ClearConversationLimit ClearReason = "conversation_limit"
	ClearMemoryThreshold   ClearReason = "memory_threshold"
	ClearManual            ClearReason = "manual"
	ClearErrorRecovery     ClearReason = "error_recovery"
)

// RetrievalStrategy is the source's RetrievalStrategy enum.
type RetrievalStrategy string

const (
	StrategyKeywordOnly         RetrievalStrategy = "keyword_only"
	StrategySemanticOnly        RetrievalStrategy = "semantic_only"
	StrategyKeywordThenSemantic RetrievalStrategy = "keyword_then_semantic"
	StrategySemanticThenKeyword RetrievalStrategy = "semantic_then_keyword"
	StrategyHybrid              RetrievalStrategy = "hybrid"
)

// SnapshotStrategyKind is the source's SnapshotStrategy enum discriminant.
type SnapshotStrategyKind string

const (
	SnapshotNone        SnapshotStrategyKind = "none"
	SnapshotFull        SnapshotStrategyKind = "full"
	SnapshotIncremental SnapshotStrategyKind = "incremental"
	SnapshotAdaptive    SnapshotStrategyKind = "adaptive"
)

// SnapshotStrategy bundles the discriminant with its parameters.
type SnapshotStrategy struct {
	Kind                  SnapshotStrategyKind
	IntervalConversations int
	MaxSnapshots          int
	MinImportanceThreshold float64
}

// Config holds every §4.8 knob, defaulted per cache_config.rs.
type Config struct {
	Enabled                 bool
	RetrievalEnabled        bool
	ClearAfterConversations int
	MemoryThresholdPercent  float64
	BridgeEnabled           bool
	MaxCacheEntries         int
	MinImportanceToPreserve float64
	GenerateCacheEmbeddings bool
	RetrievalStrategy       RetrievalStrategy
	PreserveSystemPrompts   bool
	PreserveCodeEntries     bool
	SnapshotStrategy        SnapshotStrategy

	// ArchiveBucket, if set, enables cold-storage archival of a
	// snapshot's preserved entries to S3 (or an S3-compatible store)
	// when one is created. ArchiveRegion is the AWS region to use.
	ArchiveBucket string
	ArchiveRegion string
}

// DefaultConfig returns the source's Default impl.
func DefaultConfig() Config {
	return Config{
		Enabled:                 true,
		RetrievalEnabled:        true,
		ClearAfterConversations: 16,
		MemoryThresholdPercent:  0.6,
		BridgeEnabled:           true,
		MaxCacheEntries:         1000,
		MinImportanceToPreserve: 0.7,
		GenerateCacheEmbeddings: true,
		RetrievalStrategy:       StrategyKeywordThenSemantic,
		PreserveSystemPrompts:   true,
		PreserveCodeEntries:     true,
		SnapshotStrategy: SnapshotStrategy{
			Kind:                  SnapshotIncremental,
			IntervalConversations: 4,
			MaxSnapshots:          4,
		},
	}
}

// SessionCacheState tracks one session's cache lifecycle.
type SessionCacheState struct {
	SessionID         string
	ConversationCount int
	LastClearedAt     *time.Time
	LastSnapshotID    *int64
	CacheSizeBytes    int
	EntryCount        int
	Metadata          map[string]string
}

// CacheClearResult is clear_cache's return value.
type CacheClearResult struct {
	EntriesToKeep     []ExtractedCacheEntry
	EntriesCleared    int
	BridgeMessage     string
	SnapshotID        *int64
	PreservedKeywords []string
	ClearReason       ClearReason
}

// RetrievedEntry is one hit from retrieve_context.
type RetrievedEntry struct {
	Entry            KVEntry
	SimilarityScore  float64
	SourceTier       int
	MatchedKeywords  []string
	RetrievalTime    time.Time
}

// RetrievalResult is retrieve_context's return value.
type RetrievalResult struct {
	RetrievedEntries []RetrievedEntry
	BridgeMessage    string
	KeywordsUsed     []string
	TiersSearched    []int
}

// CacheProcessingResult is process_conversation's aggregated return value.
type CacheProcessingResult struct {
	ShouldClearCache    bool
	ClearResult         *CacheClearResult
	ShouldRetrieve      bool
	RetrievalResult     *RetrievalResult
	BridgeMessages      []string
	UpdatedSessionState SessionCacheState
}

// MaintenanceResult is perform_maintenance's return value.
type MaintenanceResult struct {
	SessionsCleaned int
	SnapshotsPruned int
	Errors          []string
}
