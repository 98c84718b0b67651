package kvcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ctxmem/engine/internal/store"
)

// ConversationMessage is the minimal shape the manager needs from a
// conversation turn.
type ConversationMessage struct {
	Role    string
	Content string
}

// Manager is the KV-cache manager (§4.8): the engine's single entry
// point for classifying, scoring, clearing, retrieving, and restoring
// LLM attention/FFN cache entries across a session's lifetime.
type Manager struct {
	config    Config
	store     *store.Store
	extractor *Extractor
	scorer    *Scorer
	bridge    *ContextBridge

	mu           sync.Mutex
	sessionState map[string]*SessionCacheState
	stats        Statistics

	archiver *Archiver
}

// Statistics mirrors cache_manager.rs's CacheStatistics.
type Statistics struct {
	TotalClears       int
	TotalRetrievals   int
	EntriesPreserved  int
	EntriesCleared    int
	EntriesRetrieved  int
	LastOperation     time.Time
}

// NewManager constructs a KV-cache manager bound to st for snapshot
// persistence. When config.ArchiveBucket is set, snapshot creation also
// uploads preserved entries to S3 for cold storage; a failure to reach
// S3 at startup only disables archival and is logged, never fatal.
func NewManager(config Config, st *store.Store) *Manager {
	scorer := NewScorer(DefaultScoringConfig())
	m := &Manager{
		config:       config,
		store:        st,
		extractor:    NewExtractor(DefaultExtractorConfig(), scorer),
		scorer:       scorer,
		bridge:       NewContextBridge(),
		sessionState: make(map[string]*SessionCacheState),
	}
	if config.ArchiveBucket != "" {
		archiver, err := NewArchiver(context.Background(), config.ArchiveBucket, config.ArchiveRegion)
		if err != nil {
			log.Warn().Err(err).Msg("kvcache: archival disabled, could not construct S3 client")
		} else {
			m.archiver = archiver
		}
	}
	return m
}

func (m *Manager) stateFor(sessionID string) *SessionCacheState {
	st, ok := m.sessionState[sessionID]
	if !ok {
		st = &SessionCacheState{SessionID: sessionID, Metadata: make(map[string]string)}
		m.sessionState[sessionID] = st
	}
	return st
}

// ShouldClearByConversation implements §4.8 step 2's conversation-count check.
func (m *Manager) ShouldClearByConversation(conversationCount int) bool {
	return conversationCount >= m.config.ClearAfterConversations
}

// ShouldClearByMemory implements §4.8 step 2's memory-pressure check.
func (m *Manager) ShouldClearByMemory(currentBytes, maxBytes int) bool {
	if maxBytes == 0 {
		return false
	}
	return float64(currentBytes)/float64(maxBytes) >= m.config.MemoryThresholdPercent
}

func (m *Manager) shouldRetrieveContext(messages []ConversationMessage) bool {
	if !m.config.RetrievalEnabled {
		return false
	}
	var lastUser string
	found := false
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			lastUser, found = messages[i].Content, true
			break
		}
	}
	if !found {
		return false
	}
	return strings.Contains(lastUser, "?") ||
		len(lastUser) > 100 ||
		strings.Contains(lastUser, "```") ||
		strings.Contains(lastUser, "explain") ||
		strings.Contains(lastUser, "how to") ||
		strings.Contains(lastUser, "what is")
}

// ProcessConversation implements §4.8's process_conversation.
func (m *Manager) ProcessConversation(ctx context.Context, sessionID string, messages []ConversationMessage, currentEntries []KVEntry, currentCacheSizeBytes, maxCacheSizeBytes int) (CacheProcessingResult, error) {
	if err := m.store.EnsureSession(ctx, sessionID); err != nil {
		return CacheProcessingResult{}, err
	}

	m.mu.Lock()
	currentCount := 0
	if st, ok := m.sessionState[sessionID]; ok {
		currentCount = st.ConversationCount
	}
	shouldClearByConvo := m.ShouldClearByConversation(currentCount + 1)
	shouldClearByMemory := m.ShouldClearByMemory(currentCacheSizeBytes, maxCacheSizeBytes)

	state := m.stateFor(sessionID)
	state.ConversationCount++
	state.CacheSizeBytes = currentCacheSizeBytes
	state.EntryCount = len(currentEntries)
	result := CacheProcessingResult{UpdatedSessionState: *state}
	m.mu.Unlock()

	if shouldClearByConvo || shouldClearByMemory {
		reason := ClearMemoryThreshold
		if shouldClearByConvo {
			reason = ClearConversationLimit
		}

		clearResult, err := m.ClearCache(ctx, sessionID, currentEntries, reason)
		if err != nil {
			return CacheProcessingResult{}, err
		}
		result.ShouldClearCache = true
		result.ClearResult = &clearResult
		result.BridgeMessages = append(result.BridgeMessages, clearResult.BridgeMessage)

		m.mu.Lock()
		st := m.stateFor(sessionID)
		st.ConversationCount = 0
		now := time.Now()
		st.LastClearedAt = &now
		result.UpdatedSessionState = *st
		m.mu.Unlock()
	}

	if m.shouldRetrieveContext(messages) {
		var lastUser string
		for i := len(messages) - 1; i >= 0; i-- {
			if messages[i].Role == "user" {
				lastUser = messages[i].Content
				break
			}
		}
		if lastUser != "" {
			retrieval, err := m.RetrieveContext(ctx, sessionID, lastUser, currentEntries)
			if err != nil {
				return CacheProcessingResult{}, err
			}
			if len(retrieval.RetrievedEntries) > 0 {
				result.ShouldRetrieve = true
				result.RetrievalResult = &retrieval
				if retrieval.BridgeMessage != "" {
					result.BridgeMessages = append(result.BridgeMessages, retrieval.BridgeMessage)
				}
			}
		}
	}

	m.mu.Lock()
	st := m.stateFor(sessionID)
	stateCopy := *st
	m.mu.Unlock()

	if err := m.persistState(ctx, sessionID, stateCopy); err != nil {
		return CacheProcessingResult{}, err
	}

	return result, nil
}

func (m *Manager) persistState(ctx context.Context, sessionID string, state SessionCacheState) error {
	metaJSON := "{}"
	return m.store.UpdateSessionCacheMetadata(ctx, sessionID, state.ConversationCount, state.LastClearedAt, state.LastSnapshotID, state.CacheSizeBytes, state.EntryCount, metaJSON)
}

// ClearCache implements §4.8's Clear algorithm.
func (m *Manager) ClearCache(ctx context.Context, sessionID string, currentEntries []KVEntry, reason ClearReason) (CacheClearResult, error) {
	extracted := m.extractor.ExtractEntries(currentEntries)
	toPreserve := m.extractor.FilterPreservedEntries(extracted, m.config.MinImportanceToPreserve, m.config.PreserveSystemPrompts, m.config.PreserveCodeEntries)

	var snapshotID *int64
	if m.shouldCreateSnapshot(reason) {
		id, err := m.createSnapshot(ctx, sessionID, toPreserve)
		if err != nil {
			return CacheClearResult{}, err
		}
		snapshotID = &id
	}

	var preservedKeywords []string
	for _, e := range toPreserve {
		preservedKeywords = append(preservedKeywords, e.Keywords...)
		if len(preservedKeywords) >= 10 {
			preservedKeywords = preservedKeywords[:10]
			break
		}
	}

	bridgeMessage := m.bridge.CreateClearBridge(len(currentEntries)-len(toPreserve), len(toPreserve), preservedKeywords)

	m.mu.Lock()
	m.stats.TotalClears++
	m.stats.EntriesPreserved += len(toPreserve)
	m.stats.EntriesCleared += len(currentEntries) - len(toPreserve)
	m.stats.LastOperation = time.Now()

	st := m.stateFor(sessionID)
	st.EntryCount = len(toPreserve)
	st.LastSnapshotID = snapshotID
	now := time.Now()
	st.LastClearedAt = &now
	st.Metadata["last_clear_reason"] = string(reason)
	m.mu.Unlock()

	return CacheClearResult{
		EntriesToKeep:     toPreserve,
		EntriesCleared:    len(currentEntries) - len(toPreserve),
		BridgeMessage:     bridgeMessage,
		SnapshotID:        snapshotID,
		PreservedKeywords: preservedKeywords,
		ClearReason:       reason,
	}, nil
}

func (m *Manager) shouldCreateSnapshot(reason ClearReason) bool {
	if !m.config.Enabled {
		return false
	}
	switch m.config.SnapshotStrategy.Kind {
	case SnapshotNone:
		return false
	case SnapshotFull, SnapshotAdaptive:
		return true
	case SnapshotIncremental:
		return reason == ClearConversationLimit
	default:
		return false
	}
}

func (m *Manager) createSnapshot(ctx context.Context, sessionID string, preserved []ExtractedCacheEntry) (int64, error) {
	entries := make([]store.KVCacheEntry, 0, len(preserved))
	now := time.Now()
	for _, e := range preserved {
		entries = append(entries, store.KVCacheEntry{
			KeyHash:      e.KeyHash,
			KeyBytes:     e.KeyData,
			ValueBytes:   e.ValueData,
			KeyType:      string(e.EntryType),
			LayerIndex:   e.LayerIndex,
			HeadIndex:    e.HeadIndex,
			Importance:   e.ImportanceScore,
			AccessCount:  e.AccessCount,
			LastAccessed: now,
		})
	}

	contentHash := hashEntries(entries)
	id, err := m.store.CreateKVSnapshot(ctx, sessionID, 0, contentHash, "incremental", entries)
	if err != nil {
		return 0, err
	}

	if m.archiver != nil {
		go func() {
			archiveCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := m.archiver.ArchiveSnapshot(archiveCtx, sessionID, id, preserved); err != nil {
				log.Warn().Err(err).Str("session_id", sessionID).Int64("snapshot_id", id).Msg("kvcache: snapshot archival failed")
			}
		}()
	}
	return id, nil
}

func hashEntries(entries []store.KVCacheEntry) string {
	h := sha256.New()
	for _, e := range entries {
		h.Write([]byte(e.KeyHash))
		h.Write(e.ValueBytes)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// RetrieveContext implements §4.8's Retrieve algorithm over tier 1
// (live entries), tier 2 (recent snapshots), and tier 3 (persisted
// messages), thresholds ascending 0.3/0.4/0.5, caps 10/15/10, merged
// total cap 20.
func (m *Manager) RetrieveContext(ctx context.Context, sessionID, query string, currentEntries []KVEntry) (RetrievalResult, error) {
	keywords := extractQueryKeywords(query)

	var results []RetrievedEntry
	var tiersSearched []int

	if len(currentEntries) > 0 {
		tiersSearched = append(tiersSearched, 1)
		results = append(results, m.searchTier1(currentEntries, keywords)...)
	}

	if len(results) < 5 {
		tiersSearched = append(tiersSearched, 2)
		tier2, err := m.searchTier2(ctx, sessionID, keywords)
		if err != nil {
			return RetrievalResult{}, err
		}
		results = append(results, tier2...)
	}

	if len(results) < 3 {
		tiersSearched = append(tiersSearched, 3)
		tier3, err := m.searchTier3(ctx, sessionID, keywords)
		if err != nil {
			return RetrievalResult{}, err
		}
		results = append(results, tier3...)
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].SimilarityScore > results[j].SimilarityScore })
	if len(results) > 20 {
		results = results[:20]
	}

	for _, r := range results {
		m.scorer.UpdateEngagement(r.Entry.KeyHash, true)
	}

	var bridgeMessage string
	if len(results) > 0 {
		primaryTier := 1
		var simSum float64
		for _, r := range results {
			if r.SourceTier > primaryTier {
				primaryTier = r.SourceTier
			}
			simSum += r.SimilarityScore
		}
		avgSim := simSum / float64(len(results))
		bridgeMessage = m.bridge.CreateRetrievalBridge(len(results), primaryTier, keywords, &avgSim)
	}

	m.mu.Lock()
	m.stats.TotalRetrievals++
	m.stats.EntriesRetrieved += len(results)
	m.stats.LastOperation = time.Now()
	m.mu.Unlock()

	return RetrievalResult{
		RetrievedEntries: results,
		BridgeMessage:    bridgeMessage,
		KeywordsUsed:     keywords,
		TiersSearched:    tiersSearched,
	}, nil
}

func (m *Manager) searchTier1(entries []KVEntry, keywords []string) []RetrievedEntry {
	var out []RetrievedEntry
	for _, entry := range entries {
		sim := m.keywordSimilarity(entry, keywords)
		if sim > 0.3 {
			out = append(out, RetrievedEntry{
				Entry: entry, SimilarityScore: sim, SourceTier: 1,
				MatchedKeywords: m.matchingKeywords(entry, keywords), RetrievalTime: time.Now(),
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].SimilarityScore != out[j].SimilarityScore {
			return out[i].SimilarityScore > out[j].SimilarityScore
		}
		return out[i].Entry.AccessCount > out[j].Entry.AccessCount
	})
	if len(out) > 10 {
		out = out[:10]
	}
	return out
}

func (m *Manager) searchTier2(ctx context.Context, sessionID string, keywords []string) ([]RetrievedEntry, error) {
	snapshots, err := m.store.GetRecentKVSnapshots(ctx, sessionID, 3)
	if err != nil {
		return nil, err
	}

	var out []RetrievedEntry
	for _, snap := range snapshots {
		entries, err := m.store.GetKVSnapshotEntries(ctx, snap.ID)
		if err != nil {
			return nil, err
		}
		for _, se := range entries {
			entry := storeEntryToKVEntry(se)
			sim := m.keywordSimilarity(entry, keywords)
			if sim > 0.4 {
				out = append(out, RetrievedEntry{
					Entry: entry, SimilarityScore: sim, SourceTier: 2,
					MatchedKeywords: m.matchingKeywords(entry, keywords), RetrievalTime: time.Now(),
				})
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SimilarityScore > out[j].SimilarityScore })
	if len(out) > 15 {
		out = out[:15]
	}
	return out, nil
}

func (m *Manager) searchTier3(ctx context.Context, sessionID string, keywords []string) ([]RetrievedEntry, error) {
	if len(keywords) == 0 {
		return nil, nil
	}
	messages, err := m.store.SearchMessagesByKeywords(ctx, sessionID, keywords, 20)
	if err != nil {
		return nil, err
	}

	var out []RetrievedEntry
	for _, msg := range messages {
		entry := KVEntry{
			KeyHash:         fmt.Sprintf("msg_%d", msg.ID),
			KeyData:         []byte(msg.Content),
			ValueData:       []byte(msg.Content),
			KeyType:         "message",
			ImportanceScore: msg.Importance,
			AccessCount:     1,
			LastAccessed:    msg.Timestamp,
		}
		sim := m.keywordSimilarity(entry, keywords)
		if sim > 0.5 {
			out = append(out, RetrievedEntry{
				Entry: entry, SimilarityScore: sim, SourceTier: 3,
				MatchedKeywords: keywords, RetrievalTime: time.Now(),
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Entry.LastAccessed.Equal(out[j].Entry.LastAccessed) {
			return out[i].Entry.LastAccessed.After(out[j].Entry.LastAccessed)
		}
		return out[i].SimilarityScore > out[j].SimilarityScore
	})
	if len(out) > 10 {
		out = out[:10]
	}
	return out, nil
}

func (m *Manager) keywordSimilarity(entry KVEntry, keywords []string) float64 {
	if len(keywords) == 0 {
		return 0
	}
	entryKeywords := m.scorer.ExtractKeywords(entry.KeyData)
	if len(entryKeywords) == 0 {
		return 0
	}

	var matches float64
	for _, kw := range keywords {
		kwLower := strings.ToLower(kw)
		for _, ek := range entryKeywords {
			if strings.Contains(ek, kwLower) || strings.Contains(kwLower, ek) {
				matches++
				break
			}
		}
	}
	return matches / float64(len(keywords))
}

func (m *Manager) matchingKeywords(entry KVEntry, keywords []string) []string {
	entryKeywords := m.scorer.ExtractKeywords(entry.KeyData)
	var out []string
	for _, kw := range keywords {
		kwLower := strings.ToLower(kw)
		for _, ek := range entryKeywords {
			if strings.Contains(ek, kwLower) || strings.Contains(kwLower, ek) {
				out = append(out, kw)
				break
			}
		}
	}
	return out
}

func storeEntryToKVEntry(e store.KVCacheEntry) KVEntry {
	return KVEntry{
		KeyHash:         e.KeyHash,
		KeyData:         e.KeyBytes,
		ValueData:       e.ValueBytes,
		KeyType:         e.KeyType,
		LayerIndex:      e.LayerIndex,
		HeadIndex:       e.HeadIndex,
		ImportanceScore: e.Importance,
		AccessCount:     e.AccessCount,
		LastAccessed:    e.LastAccessed,
	}
}

// extractQueryKeywords reuses the scorer's keyword extractor on plain
// query text, unifying what the source implements twice (once on
// *Scorer for key bytes, once inline in KVCacheManager for queries)
// with near-identical stopword lists and logic.
func extractQueryKeywords(query string) []string {
	s := NewScorer(DefaultScoringConfig())
	return s.ExtractKeywords([]byte(query))
}

// RecordEngagement bumps the scorer's engagement for the keywords in a
// completed (query, response) turn, satisfying the orchestrator's
// EngagementRecorder. ClearCache does not read this engagement: its
// preservation pass uses each entry's own ImportanceScore.
// ctx and sessionID are accepted to match the orchestrator's call
// shape; engagement state is process-global per scorer key, not
// session-scoped.
func (m *Manager) RecordEngagement(ctx context.Context, sessionID, query, response string) {
	for _, kw := range extractQueryKeywords(query + " " + response) {
		m.scorer.UpdateEngagement(kw, true)
	}
}

// RestoreFromSnapshot implements §4.8's Restore.
func (m *Manager) RestoreFromSnapshot(ctx context.Context, sessionID string, snapshotID int64) ([]KVEntry, string, error) {
	storeEntries, err := m.store.GetKVSnapshotEntries(ctx, snapshotID)
	if err != nil {
		return nil, "", err
	}

	var entries []KVEntry
	if len(storeEntries) == 0 && m.archiver != nil {
		entries, err = m.restoreFromArchive(ctx, sessionID, snapshotID)
		if err != nil {
			return nil, "", err
		}
	} else {
		entries = make([]KVEntry, 0, len(storeEntries))
		for _, e := range storeEntries {
			entries = append(entries, storeEntryToKVEntry(e))
		}
	}

	m.mu.Lock()
	st := m.stateFor(sessionID)
	st.EntryCount = len(entries)
	id := snapshotID
	st.LastSnapshotID = &id
	m.stats.LastOperation = time.Now()
	m.mu.Unlock()

	bridgeMessage := m.bridge.CreateRestoreBridge(len(entries), nil)
	return entries, bridgeMessage, nil
}

// restoreFromArchive is the cold-storage fallback for a snapshot that
// has been pruned from the local database but was previously uploaded
// by createSnapshot.
func (m *Manager) restoreFromArchive(ctx context.Context, sessionID string, snapshotID int64) ([]KVEntry, error) {
	archived, err := m.archiver.FetchArchived(ctx, sessionID, snapshotID)
	if err != nil {
		return nil, err
	}
	entries := make([]KVEntry, 0, len(archived))
	for _, e := range archived {
		entries = append(entries, KVEntry{
			KeyHash:         e.KeyHash,
			KeyData:         e.KeyData,
			ValueData:       e.ValueData,
			KeyType:         string(e.EntryType),
			LayerIndex:      e.LayerIndex,
			HeadIndex:       e.HeadIndex,
			ImportanceScore: e.ImportanceScore,
			AccessCount:     e.AccessCount,
			LastAccessed:    time.Now(),
		})
	}
	return entries, nil
}

// PerformMaintenance implements §4.8's Maintenance: drop session state
// idle (since last clear, or never cleared) for more than 24 hours, and
// prune snapshots beyond the configured max per session.
func (m *Manager) PerformMaintenance(ctx context.Context) (MaintenanceResult, error) {
	result := MaintenanceResult{}
	cutoff := time.Now().Add(-24 * time.Hour)

	m.mu.Lock()
	var toClean []string
	for id, st := range m.sessionState {
		if st.LastClearedAt == nil || st.LastClearedAt.Before(cutoff) {
			toClean = append(toClean, id)
		}
	}
	m.mu.Unlock()

	for _, sessionID := range toClean {
		if _, err := m.store.CleanupSessionSnapshots(ctx, sessionID); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("failed to cleanup session %s: %v", sessionID, err))
			continue
		}
		m.mu.Lock()
		delete(m.sessionState, sessionID)
		m.mu.Unlock()
		result.SessionsCleaned++
	}

	if m.config.SnapshotStrategy.Kind == SnapshotIncremental {
		m.mu.Lock()
		sessions := make([]string, 0, len(m.sessionState))
		for id := range m.sessionState {
			sessions = append(sessions, id)
		}
		m.mu.Unlock()

		for _, sessionID := range sessions {
			pruned, err := m.store.PruneOldKVSnapshots(ctx, sessionID, m.config.SnapshotStrategy.MaxSnapshots)
			if err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("failed to prune snapshots for %s: %v", sessionID, err))
				continue
			}
			result.SnapshotsPruned += pruned
		}
	}

	return result, nil
}

// Statistics returns a snapshot of the manager's running statistics.
func (m *Manager) Statistics() Statistics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}
