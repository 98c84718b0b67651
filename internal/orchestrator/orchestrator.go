package orchestrator

import (
	"context"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/ctxmem/engine/internal/ctxbuild"
	"github.com/ctxmem/engine/internal/embedindex"
	"github.com/ctxmem/engine/internal/engerrors"
	"github.com/ctxmem/engine/internal/retrieval"
	"github.com/ctxmem/engine/internal/store"
	"github.com/ctxmem/engine/internal/tiering"
)

// Orchestrator composes the tier manager, retrieval planner, embedding
// index and context builder into the single process_conversation
// entrypoint (§4.4). Disabled by construction when Enabled is false.
type Orchestrator struct {
	Enabled bool

	tiers      *tiering.Manager
	store      *store.Store
	embeddings *embedindex.Index
	gateway    EmbeddingGenerator
	engagement EngagementRecorder

	cfg       Config
	buildCfg  ctxbuild.Config
}

// New builds an orchestrator. gateway and embeddings may be nil (the
// semantic-retrieval step is then always skipped); engagement may be
// nil (step 8 becomes a no-op).
func New(enabled bool, tiers *tiering.Manager, st *store.Store, embeddings *embedindex.Index, gateway EmbeddingGenerator, engagement EngagementRecorder, cfg Config, buildCfg ctxbuild.Config) *Orchestrator {
	return &Orchestrator{
		Enabled:    enabled,
		tiers:      tiers,
		store:      st,
		embeddings: embeddings,
		gateway:    gateway,
		engagement: engagement,
		cfg:        cfg,
		buildCfg:   buildCfg,
	}
}

// planReads is the mutable scratch state plan execution (§4.5) fills in.
type planReads struct {
	tier1        []store.Message
	tier2        []store.Summary
	tier3        []store.Message
	crossSession []store.Message
}

// ProcessConversation implements §4.4's nine-step sequence.
func (o *Orchestrator) ProcessConversation(ctx context.Context, sessionID string, messages []Message, userQuery string) ([]Message, error) {
	if !o.Enabled || len(messages) == 0 {
		return messages, nil
	}

	storeMsgs := toStoreMessages(sessionID, messages)
	o.tiers.StoreTier1(sessionID, storeMsgs)

	last := messages[len(messages)-1]
	if last.Role == "user" {
		if err := o.tiers.StoreTier3(ctx, sessionID, storeMsgs[len(storeMsgs)-1:]); err != nil {
			log.Warn().Err(err).Str("session_id", sessionID).Msg("orchestrator: tier3 persist failed")
		}
	}

	stats, err := o.tiers.GetTierStats(ctx, sessionID)
	if err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("orchestrator: tier stats failed")
	}

	plan := retrieval.BuildPlan(retrieval.Input{
		SessionID:            sessionID,
		CurrentMessages:      toRetrievalMessages(messages),
		MaxContextTokens:     o.cfg.MaxContextTokens,
		UserQuery:            userQuery,
		SessionHasSummaries:  stats.Tier2Count > 0,
		SessionHasDBMessages: stats.Tier3Count > 0,
		ConversationLength:   len(messages),
	})

	if !plan.NeedsRetrieval {
		return messages, nil
	}

	reads := o.executePlan(ctx, sessionID, plan, userQuery)

	built := ctxbuild.Build(ctxbuild.Input{
		CurrentMessages:      messages,
		Tier1Content:         toCtxMessages(reads.tier1),
		Tier2Summaries:       toCtxSummaries(reads.tier2),
		Tier3Messages:        toCtxMessages(reads.tier3),
		CrossSessionMessages: toCtxMessages(reads.crossSession),
		UserQuery:            userQuery,
		QueryTopics:          plan.Topics,
	}, o.buildCfg)

	return built, nil
}

// executePlan implements §4.5's read sequence: tier1/tier2/semantic and
// cross-session run concurrently; keyword tier3 retrieval runs after
// semantic completes so it can apply the semantic-precedence merge
// rule. All read errors are logged and downgraded to empty results.
func (o *Orchestrator) executePlan(ctx context.Context, sessionID string, plan retrieval.Plan, userQuery string) planReads {
	var reads planReads
	var semantic []store.Message

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		reads.tier1 = o.tiers.GetTier1(sessionID)
		return nil
	})

	g.Go(func() error {
		if !plan.UseTier2 {
			return nil
		}
		s, err := o.tiers.GetTier2(gctx, sessionID)
		if err != nil {
			log.Warn().Err(err).Str("session_id", sessionID).Msg("orchestrator: tier2 read failed")
			return nil
		}
		reads.tier2 = s
		return nil
	})

	g.Go(func() error {
		if !plan.CrossSessionSearch {
			return nil
		}
		words := strings.Join(plan.Topics, " ")
		msgs, err := o.tiers.SearchCrossSession(gctx, sessionID, words, 10)
		if err != nil {
			log.Warn().Err(err).Str("session_id", sessionID).Msg("orchestrator: cross-session search failed")
			return nil
		}
		reads.crossSession = msgs
		return nil
	})

	g.Go(func() error {
		if !plan.SemanticSearch || o.gateway == nil || o.embeddings == nil {
			return nil
		}
		total, _, _ := o.embeddings.Stats()
		if total == 0 {
			return nil
		}
		vecs, err := o.gateway.GenerateEmbeddings(gctx, "", []string{userQuery})
		if err != nil || len(vecs) == 0 {
			log.Warn().Err(err).Str("session_id", sessionID).Msg("orchestrator: query embedding failed")
			return nil
		}
		matches := o.embeddings.Search(vecs[0], 2*maxInt(plan.MaxMessages, 1), 0.3)
		for _, match := range matches {
			msg, err := o.store.GetMessageByID(gctx, match.MessageID)
			if err != nil {
				continue
			}
			semantic = append(semantic, msg)
		}
		return nil
	})

	_ = g.Wait()

	reads.tier3 = o.mergeKeywordTier3(ctx, sessionID, plan, semantic)
	return reads
}

// mergeKeywordTier3 implements §4.5 step 4: per-topic tier-3 keyword
// retrieval, merged with the semantic set by message id (semantic
// takes precedence; keyword rows only fill gaps), falling back to
// semantic-only or a plain paginated read when keyword search is off.
func (o *Orchestrator) mergeKeywordTier3(ctx context.Context, sessionID string, plan retrieval.Plan, semantic []store.Message) []store.Message {
	if !plan.KeywordSearch {
		if len(semantic) > 0 {
			return semantic
		}
		msgs, err := o.store.GetSessionMessages(ctx, sessionID, maxInt(plan.MaxMessages, 10), 0)
		if err != nil {
			log.Warn().Err(err).Str("session_id", sessionID).Msg("orchestrator: paginated fallback read failed")
			return nil
		}
		return msgs
	}

	if len(plan.Topics) == 0 {
		if len(semantic) > 0 {
			return semantic
		}
		return nil
	}

	limitPerTopic := maxInt(plan.MaxMessages/len(plan.Topics), 1)

	seen := make(map[int64]bool, len(semantic))
	merged := make([]store.Message, 0, len(semantic))
	for _, m := range semantic {
		if !seen[m.ID] {
			seen[m.ID] = true
			merged = append(merged, m)
		}
	}

	var anyKeyword bool
	for _, topic := range plan.Topics {
		keywords := strings.Fields(topic)
		msgs, err := o.tiers.SearchTier3(ctx, sessionID, strings.Join(keywords, " "), limitPerTopic)
		if err != nil {
			log.Warn().Err(err).Str("session_id", sessionID).Msg("orchestrator: tier3 keyword search failed")
			continue
		}
		for _, m := range msgs {
			anyKeyword = true
			if !seen[m.ID] {
				seen[m.ID] = true
				merged = append(merged, m)
			}
		}
	}

	if !anyKeyword && len(semantic) > 0 {
		return semantic
	}
	return merged
}

// SaveAssistantResponse appends a single assistant message via tier-3,
// per §4.4's auxiliary API. It does not record engagement; that is
// RecordTurnEngagement's job.
func (o *Orchestrator) SaveAssistantResponse(ctx context.Context, sessionID, text string) error {
	if err := o.tiers.StoreTier3(ctx, sessionID, []store.Message{{
		SessionID: sessionID,
		Role:      "assistant",
		Content:   text,
	}}); err != nil {
		return engerrors.Storage("orchestrator.SaveAssistantResponse", sessionID, engerrors.StorageBusy, err)
	}
	return nil
}

// RecordTurnEngagement implements §4.4 step 8, called once the
// response text is available (immediately for non-streaming turns,
// after the stream completes for streaming ones — see §4.10).
func (o *Orchestrator) RecordTurnEngagement(ctx context.Context, sessionID, query, response string) {
	if o.engagement == nil {
		return
	}
	o.engagement.RecordEngagement(ctx, sessionID, query, response)
}

// SearchMessages implements §4.4's auxiliary search_messages: keyword
// search scoped to a session, or an empty result for a global search
// (not implemented by the core, per §4.1).
func (o *Orchestrator) SearchMessages(ctx context.Context, sessionID string, keywords []string, limit int) ([]Message, error) {
	if sessionID == "" {
		return nil, nil
	}
	msgs, err := o.store.SearchMessagesByKeywords(ctx, sessionID, keywords, limit)
	if err != nil {
		return nil, engerrors.Storage("orchestrator.SearchMessages", sessionID, engerrors.StorageBusy, err)
	}
	sortByTimestamp(msgs)
	return toCtxMessages(msgs), nil
}

func sortByTimestamp(msgs []store.Message) {
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].Timestamp.Before(msgs[j].Timestamp) })
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func toStoreMessages(sessionID string, msgs []Message) []store.Message {
	out := make([]store.Message, len(msgs))
	for i, m := range msgs {
		out[i] = store.Message{SessionID: sessionID, Role: m.Role, Content: m.Content}
	}
	return out
}

func toRetrievalMessages(msgs []Message) []retrieval.Message {
	out := make([]retrieval.Message, len(msgs))
	for i, m := range msgs {
		out[i] = retrieval.Message{Role: m.Role, Content: m.Content}
	}
	return out
}

func toCtxMessages(msgs []store.Message) []Message {
	if msgs == nil {
		return nil
	}
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = Message{Role: m.Role, Content: m.Content}
	}
	return out
}

func toCtxSummaries(summaries []store.Summary) []ctxbuild.Summary {
	if summaries == nil {
		return nil
	}
	out := make([]ctxbuild.Summary, len(summaries))
	for i, s := range summaries {
		out[i] = ctxbuild.Summary{Text: s.Text, Ratio: s.Ratio, Topics: s.Topics, GeneratedAt: s.GeneratedAt}
	}
	return out
}
