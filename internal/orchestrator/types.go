// Package orchestrator implements the context orchestrator (§4.4) and
// its plan-execution step (§4.5): it drives the tier manager, the
// retrieval planner, the embedding index, and the context builder to
// turn a raw conversation into the message list sent to the model.
// Grounded on original_source/src/context_engine/orchestrator.rs.
package orchestrator

import (
	"context"

	"github.com/ctxmem/engine/internal/ctxbuild"
)

// Message is the orchestrator's view of a single turn.
type Message = ctxbuild.Message

// EmbeddingGenerator is the slice of the LLM gateway the semantic
// retrieval step needs. Defined locally so the orchestrator can be
// built and tested before internal/llmgateway exists; the real
// gateway satisfies this interface once wired in cmd/engined.
type EmbeddingGenerator interface {
	GenerateEmbeddings(ctx context.Context, model string, texts []string) ([][]float32, error)
}

// EngagementRecorder receives the (query, response) pair for a turn
// once the response is observable, per §4.4 step 8. Satisfied by
// *kvcache.Manager in production wiring; optional (nil-safe) so the
// orchestrator can be exercised without a cache manager.
type EngagementRecorder interface {
	RecordEngagement(ctx context.Context, sessionID, query, response string)
}

// Config carries the orchestrator's own tunables, separate from the
// tier manager's and builder's (which it composes unchanged).
type Config struct {
	MaxContextTokens int
	CurrentModel     string
}

// DefaultConfig mirrors §4.4/§4.6's 4000-token default budget.
func DefaultConfig() Config {
	return Config{MaxContextTokens: 4000, CurrentModel: "default"}
}
