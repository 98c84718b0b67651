// Package streaming implements the streaming turn pipeline (§4.10): it
// wires shared in-memory session state, the context orchestrator, and
// the LLM gateway into a single SSE response per request.
// Grounded on original_source's api/stream_api.rs, with SSE framing
// generalized from the teacher's internal/a2a/sse/sse.go.
package streaming

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ctxmem/engine/internal/engerrors"
	"github.com/ctxmem/engine/internal/llmgateway"
	"github.com/ctxmem/engine/internal/orchestrator"
	"github.com/ctxmem/engine/internal/sharedstate"
	"github.com/ctxmem/engine/internal/store"
	"github.com/ctxmem/engine/internal/tiering"
)

// ChatMessage is the pipeline's request-body message shape.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is POST /generate/stream's body.
type Request struct {
	Model       string        `json:"model,omitempty"`
	Messages    []ChatMessage `json:"messages"`
	SessionID   string        `json:"session_id"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
	Stream      bool          `json:"stream"`
}

// DefaultMaxTokens and DefaultTemperature are §4.10's stated defaults.
const (
	DefaultMaxTokens   = 2000
	DefaultTemperature = 0.7
	keepAliveInterval  = 15 * time.Second
)

// Pipeline composes the shared session table, the tier/orchestrator
// stack, and an LLM gateway into the streaming turn handler.
type Pipeline struct {
	Hierarchy *sharedstate.ConversationHierarchy
	Counters  *sharedstate.AtomicCounters
	Store     *store.Store
	Tiers     *tiering.Manager
	Orch      *orchestrator.Orchestrator
	Gateway   llmgateway.Gateway
}

// HandleStream implements §4.10's 7-step sequence, writing an SSE
// response to w. Returns a typed engerrors.Error for request-shape
// problems detectable before the stream starts (e.g. empty messages);
// callers map that to an HTTP status before calling NewWriter.
func (p *Pipeline) HandleStream(ctx context.Context, w http.ResponseWriter, req Request) error {
	p.Counters.IncTotalRequests()

	if len(req.Messages) == 0 {
		return engerrors.InvalidInput("streaming.HandleStream", req.SessionID, errEmptyMessages)
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = DefaultMaxTokens
	}
	if req.Temperature == 0 {
		req.Temperature = DefaultTemperature
	}

	p.Hierarchy.GetOrCreateSession(req.SessionID)
	p.Hierarchy.ReplaceMessages(req.SessionID, toSharedMessages(req.Messages))

	lastUser := req.Messages[len(req.Messages)-1]
	go p.persistUserMessageBackground(req.SessionID, lastUser)

	optimized := p.optimizeContext(ctx, req)

	sse := NewWriter(w)
	assistantText, streamErr := p.pumpStream(ctx, sse, llmgateway.GenerateRequest{
		Model:       req.Model,
		Messages:    toGatewayMessages(optimized),
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stream:      true,
	})
	if streamErr != nil {
		_ = sse.SendJSON(map[string]string{"error": streamErr.Error()})
		return nil
	}
	sse.SendDone()

	p.finishTurn(context.Background(), req.SessionID, lastUser.Content, assistantText)
	return nil
}

var errEmptyMessages = errors.New("messages must not be empty")

// persistUserMessageBackground implements step 3: fire-and-forget DB
// persistence of the latest user message, not on the response's
// critical path.
func (p *Pipeline) persistUserMessageBackground(sessionID string, msg ChatMessage) {
	ctx := context.Background()
	if err := p.Tiers.EnsureSessionExists(ctx, sessionID, ""); err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("streaming: ensure session failed")
		return
	}
	if err := p.Tiers.StoreTier3(ctx, sessionID, []store.Message{{SessionID: sessionID, Role: msg.Role, Content: msg.Content}}); err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("streaming: user message persist failed")
	}
}

// optimizeContext implements step 4: orchestrator-built context, with
// a raw-message fallback on error.
func (p *Pipeline) optimizeContext(ctx context.Context, req Request) []ChatMessage {
	if p.Orch == nil {
		return req.Messages
	}
	msgs := toOrchMessages(req.Messages)
	lastUser := req.Messages[len(req.Messages)-1]

	built, err := p.Orch.ProcessConversation(ctx, req.SessionID, msgs, lastUser.Content)
	if err != nil {
		log.Warn().Err(err).Str("session_id", req.SessionID).Msg("streaming: context optimization failed, using raw messages")
		return req.Messages
	}
	out := make([]ChatMessage, len(built))
	for i, m := range built {
		out[i] = ChatMessage{Role: m.Role, Content: m.Content}
	}
	return out
}

// pumpStream implements steps 5-6: requests a stream from the
// gateway, forwards each token to the client as it arrives, and sends
// a keep-alive comment every 15s while waiting on upstream chunks.
func (p *Pipeline) pumpStream(ctx context.Context, sse *Writer, req llmgateway.GenerateRequest) (string, error) {
	type result struct {
		chunk llmgateway.StreamChunk
		err   error
	}
	chunks := make(chan result, 16)

	go func() {
		defer close(chunks)
		err := p.Gateway.GenerateStream(ctx, req, func(c llmgateway.StreamChunk) error {
			chunks <- result{chunk: c}
			return nil
		})
		if err != nil {
			chunks <- result{err: err}
		}
	}()

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	var assistantText string
	for {
		select {
		case r, ok := <-chunks:
			if !ok {
				return assistantText, nil
			}
			if r.err != nil {
				return assistantText, r.err
			}
			if r.chunk.Done {
				return assistantText, nil
			}
			assistantText += r.chunk.Content
			if err := sse.SendJSON(map[string]string{"content": r.chunk.Content}); err != nil {
				return assistantText, err
			}
		case <-ticker.C:
			sse.Ping()
		case <-ctx.Done():
			return assistantText, ctx.Err()
		}
	}
}

// finishTurn implements step 7: persist the assistant message, then
// spawn detached embedding generation for the (user, assistant) pair.
func (p *Pipeline) finishTurn(ctx context.Context, sessionID, userText, assistantText string) {
	if err := p.Tiers.StoreTier3(ctx, sessionID, []store.Message{{SessionID: sessionID, Role: "assistant", Content: assistantText}}); err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("streaming: assistant message persist failed")
	}
	if p.Orch != nil {
		p.Orch.RecordTurnEngagement(ctx, sessionID, userText, assistantText)
	}

	go p.generateEmbeddingsBackground(sessionID, userText, assistantText)
}

// generateEmbeddingsBackground implements the detached embedding task:
// failures are logged as warnings, never surfaced to the client.
func (p *Pipeline) generateEmbeddingsBackground(sessionID, userText, assistantText string) {
	if p.Gateway == nil {
		return
	}
	ctx := context.Background()

	msgs, err := p.Store.GetSessionMessages(ctx, sessionID, 1000, 0)
	if err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("streaming: embedding lookup failed")
		return
	}

	var userMsg, assistantMsg *store.Message
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if assistantMsg == nil && m.Role == "assistant" && m.Content == assistantText {
			assistantMsg = &msgs[i]
			continue
		}
		if userMsg == nil && m.Role == "user" && m.Content == userText {
			userMsg = &msgs[i]
		}
		if userMsg != nil && assistantMsg != nil {
			break
		}
	}

	vecs, err := p.Gateway.GenerateEmbeddings(ctx, "", []string{userText, assistantText})
	if err != nil || len(vecs) < 2 {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("streaming: embedding generation failed")
		return
	}

	now := time.Now().UTC()
	if userMsg != nil {
		if _, err := p.Store.StoreEmbedding(ctx, store.Embedding{MessageID: userMsg.ID, Vector: vecs[0], GeneratedAt: now}); err == nil {
			_ = p.Store.MarkEmbeddingGenerated(ctx, userMsg.ID)
		}
	}
	if assistantMsg != nil {
		if _, err := p.Store.StoreEmbedding(ctx, store.Embedding{MessageID: assistantMsg.ID, Vector: vecs[1], GeneratedAt: now}); err == nil {
			_ = p.Store.MarkEmbeddingGenerated(ctx, assistantMsg.ID)
		}
	}
}

func toSharedMessages(msgs []ChatMessage) []sharedstate.ChatMessage {
	out := make([]sharedstate.ChatMessage, len(msgs))
	for i, m := range msgs {
		out[i] = sharedstate.ChatMessage{Role: m.Role, Content: m.Content}
	}
	return out
}

func toOrchMessages(msgs []ChatMessage) []orchestrator.Message {
	out := make([]orchestrator.Message, len(msgs))
	for i, m := range msgs {
		out[i] = orchestrator.Message{Role: m.Role, Content: m.Content}
	}
	return out
}

func toGatewayMessages(msgs []ChatMessage) []llmgateway.ChatMessage {
	out := make([]llmgateway.ChatMessage, len(msgs))
	for i, m := range msgs {
		out[i] = llmgateway.ChatMessage{Role: m.Role, Content: m.Content}
	}
	return out
}
