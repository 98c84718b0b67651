package tiering

import (
	"context"
	"strings"
	"time"

	"github.com/ctxmem/engine/internal/engerrors"
	"github.com/ctxmem/engine/internal/store"
)

// stopWords is the 33-word stopword list used for tier-3 keyword
// extraction, following §9's "Open question — search stopwords": the
// source's tier_manager.rs ships this exact list; it intentionally
// differs from kvcache's 44-word list (see DESIGN.md decision 1).
var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "but": true,
	"in": true, "on": true, "at": true, "to": true, "for": true, "of": true,
	"with": true, "by": true, "from": true, "is": true, "are": true, "was": true,
	"were": true, "be": true, "been": true, "being": true, "have": true, "has": true,
	"had": true, "do": true, "does": true, "did": true, "will": true, "would": true,
	"could": true, "should": true, "can": true,
}

// TierStats is §4.2's get_tier_stats() result.
type TierStats struct {
	Tier1Count int
	Tier2Count int
	Tier3Count int
}

// Manager owns tier-1 (live messages) and tier-2 (summaries) bounded
// caches and mediates all tier-3 reads/writes through the store.
// Grounded on original_source/src/memory/tier_manager.rs.
type Manager struct {
	store *store.Store

	tier1Max int
	tier1    *ttlCache[[]store.Message]
	tier2    *ttlCache[[]store.Summary]
}

// NewManager constructs a tier manager. tier1Max is the default 50
// (§4.2); cap1/cap2 are the bounded-capacity defaults 1000/500 (§3);
// ttl is the default idle timeout of 3600s.
func NewManager(st *store.Store, tier1Max, cap1, cap2 int, ttl time.Duration) *Manager {
	return &Manager{
		store:    st,
		tier1Max: tier1Max,
		tier1:    newTTLCache[[]store.Message](cap1, ttl),
		tier2:    newTTLCache[[]store.Summary](cap2, ttl),
	}
}

// StoreTier1 replaces a session's live cache with the tail suffix of
// messages truncated to tier1Max.
func (m *Manager) StoreTier1(sessionID string, messages []store.Message) {
	if len(messages) > m.tier1Max {
		messages = messages[len(messages)-m.tier1Max:]
	}
	cp := make([]store.Message, len(messages))
	copy(cp, messages)
	m.tier1.set(sessionID, cp)
}

// GetTier1 returns the cached live messages, or nil if absent.
func (m *Manager) GetTier1(sessionID string) []store.Message {
	v, ok := m.tier1.get(sessionID)
	if !ok {
		return nil
	}
	return v
}

// GetTier2 returns cached summaries, reading through to the store on
// a cache miss.
func (m *Manager) GetTier2(ctx context.Context, sessionID string) ([]store.Summary, error) {
	if v, ok := m.tier2.get(sessionID); ok {
		return v, nil
	}
	sums, err := m.store.ListSummaries(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	m.tier2.set(sessionID, sums)
	return sums, nil
}

// EnsureSessionExists creates the session row if absent — never
// auto-generating a placeholder title (§4.2).
func (m *Manager) EnsureSessionExists(ctx context.Context, sessionID, title string) error {
	if title != "" {
		return m.store.CreateSession(ctx, sessionID, title)
	}
	return m.store.EnsureSession(ctx, sessionID)
}

// StoreTier3 persists new messages to the store: ensures the session
// exists, reads the last 10,000 stored messages, deduplicates by exact
// (role, content), assigns consecutive message_index starting at the
// existing count, and inserts the remainder in one batch (§4.2, §9
// "Dedup key").
func (m *Manager) StoreTier3(ctx context.Context, sessionID string, newMessages []store.Message) error {
	if err := m.store.EnsureSession(ctx, sessionID); err != nil {
		return err
	}

	existing, err := m.store.ExistingRoleContent(ctx, sessionID, 10000)
	if err != nil {
		return err
	}
	startIndex, err := m.store.MessageCount(ctx, sessionID)
	if err != nil {
		return err
	}

	var toInsert []store.Message
	for _, msg := range newMessages {
		key := msg.Role + "\x00" + msg.Content
		if existing[key] {
			continue
		}
		existing[key] = true
		toInsert = append(toInsert, msg)
	}
	if len(toInsert) == 0 {
		return nil
	}
	return m.store.AppendMessagesBatch(ctx, sessionID, toInsert, startIndex)
}

// SearchTier3 performs a case-insensitive substring search over the
// last 1000 stored messages, returning at most limit.
func (m *Manager) SearchTier3(ctx context.Context, sessionID, query string, limit int) ([]store.Message, error) {
	total, err := m.store.MessageCount(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	offset := total - 1000
	if offset < 0 {
		offset = 0
	}
	recent, err := m.store.GetSessionMessages(ctx, sessionID, 1000, offset)
	if err != nil {
		return nil, err
	}
	q := strings.ToLower(query)
	var out []store.Message
	for i := len(recent) - 1; i >= 0 && len(out) < limit; i-- {
		if strings.Contains(strings.ToLower(recent[i].Content), q) {
			out = append(out, recent[i])
		}
	}
	return out, nil
}

// SearchCrossSession extracts keywords (length > 3, not a stopword)
// from query and delegates to the store's cross-session keyword
// search, excluding currentSession.
func (m *Manager) SearchCrossSession(ctx context.Context, currentSession, query string, limit int) ([]store.Message, error) {
	keywords := ExtractKeywords(query)
	if len(keywords) == 0 {
		return nil, nil
	}
	return m.store.SearchMessagesCrossSession(ctx, currentSession, keywords, limit)
}

// ExtractKeywords splits text into lowercase words longer than 3
// characters, excluding stopwords, per §4.2.
func ExtractKeywords(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	})
	var out []string
	seen := map[string]bool{}
	for _, w := range fields {
		if len(w) <= 3 || stopWords[w] || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
	}
	return out
}

// GetTierStats returns tier1/tier2/tier3 counts for a session.
func (m *Manager) GetTierStats(ctx context.Context, sessionID string) (TierStats, error) {
	t1 := len(m.GetTier1(sessionID))
	t2, err := m.GetTier2(ctx, sessionID)
	if err != nil {
		return TierStats{}, engerrors.Unavailable("tiering.GetTierStats", sessionID, err)
	}
	t3, err := m.store.MessageCount(ctx, sessionID)
	if err != nil {
		return TierStats{}, err
	}
	return TierStats{Tier1Count: t1, Tier2Count: len(t2), Tier3Count: t3}, nil
}

// CleanupCache invalidates both tier-1 and tier-2 caches older than
// olderThan, returning the combined removed count.
func (m *Manager) CleanupCache(olderThan time.Duration) int {
	return m.tier1.invalidate(olderThan) + m.tier2.invalidate(olderThan)
}
