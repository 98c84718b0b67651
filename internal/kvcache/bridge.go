package kvcache

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// TransitionType is the source's TransitionType enum.
type TransitionType string

const (
	TransitionCleared  TransitionType = "cache_cleared"
	TransitionRetrieved TransitionType = "cache_retrieved"
	TransitionRestored TransitionType = "cache_restored"
)

// Transition is one recorded cache_bridge.rs CacheTransition.
type Transition struct {
	Type             TransitionType
	PreservedEntries int
	RetrievedEntries int
	Timestamp        time.Time
	Keywords         []string
}

// BridgeStats is get_stats()'s return value.
type BridgeStats struct {
	TotalTransitions     int
	AvgPreservedEntries  float64
	AvgRetrievedEntries  float64
	LastTransitionType   TransitionType
}

const maxTransitionHistory = 50

// ContextBridge narrates cache lifecycle transitions as chat-visible
// system messages and keeps a bounded history of them.
type ContextBridge struct {
	mu      sync.Mutex
	history []Transition
}

// NewContextBridge constructs an empty bridge.
func NewContextBridge() *ContextBridge {
	return &ContextBridge{}
}

// CreateClearBridge narrates a clear operation.
func (b *ContextBridge) CreateClearBridge(clearedCount, preservedCount int, keywords []string) string {
	b.recordTransition(TransitionCleared, preservedCount, 0, keywords)

	keywordList := "various topics"
	if len(keywords) > 0 {
		take := keywords
		if len(take) > 3 {
			take = take[:3]
		}
		keywordList = strings.Join(take, ", ")
	}

	return fmt.Sprintf(
		"[Cache Management] Cleared %d entries from cache, preserved %d important entries related to: %s. Continuing with optimized context.",
		clearedCount, preservedCount, keywordList,
	)
}

// CreateRetrievalBridge narrates a retrieval operation.
func (b *ContextBridge) CreateRetrievalBridge(retrievedCount, sourceTier int, keywords []string, similarityScore *float64) string {
	b.recordTransition(TransitionRetrieved, 0, retrievedCount, keywords)

	sourceDesc := "storage"
	switch sourceTier {
	case 1:
		sourceDesc = "active cache"
	case 2:
		sourceDesc = "recent snapshots"
	case 3:
		sourceDesc = "long-term memory"
	}

	similarityText := ""
	if similarityScore != nil {
		similarityText = fmt.Sprintf(" (similarity: %.2f)", *similarityScore)
	}

	keywordList := "relevant context"
	if len(keywords) > 0 {
		take := keywords
		if len(take) > 3 {
			take = take[:3]
		}
		keywordList = fmt.Sprintf("'%s'", strings.Join(take, "', '"))
	}

	return fmt.Sprintf(
		"[Memory Retrieval] Retrieved %d entries from %s for %s%s. Integrating into current context.",
		retrievedCount, sourceDesc, keywordList, similarityText,
	)
}

// CreateRestoreBridge narrates a restore-from-snapshot operation.
func (b *ContextBridge) CreateRestoreBridge(restoredCount int, snapshotAge *time.Duration) string {
	b.recordTransition(TransitionRestored, restoredCount, 0, nil)

	ageText := ""
	if snapshotAge != nil {
		minutes := int(snapshotAge.Minutes())
		if minutes > 0 {
			ageText = fmt.Sprintf(" (%d minutes old)", minutes)
		}
	}

	return fmt.Sprintf(
		"[Cache Restoration] Restored %d entries from previous snapshot%s. Context has been expanded.",
		restoredCount, ageText,
	)
}

func (b *ContextBridge) recordTransition(t TransitionType, preserved, retrieved int, keywords []string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.history = append(b.history, Transition{
		Type:             t,
		PreservedEntries: preserved,
		RetrievedEntries: retrieved,
		Timestamp:        time.Now(),
		Keywords:         append([]string(nil), keywords...),
	})

	if len(b.history) > maxTransitionHistory {
		excess := len(b.history) - maxTransitionHistory
		b.history = b.history[excess:]
	}
}

// Stats returns the bridge's aggregated transition history.
func (b *ContextBridge) Stats() BridgeStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	total := len(b.history)
	if total == 0 {
		return BridgeStats{}
	}

	var preservedSum, retrievedSum int
	for _, t := range b.history {
		preservedSum += t.PreservedEntries
		retrievedSum += t.RetrievedEntries
	}

	return BridgeStats{
		TotalTransitions:    total,
		AvgPreservedEntries: float64(preservedSum) / float64(total),
		AvgRetrievedEntries: float64(retrievedSum) / float64(total),
		LastTransitionType:  b.history[total-1].Type,
	}
}

// ClearHistory discards all recorded transitions.
func (b *ContextBridge) ClearHistory() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.history = nil
}
