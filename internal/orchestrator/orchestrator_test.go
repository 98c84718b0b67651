package orchestrator_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ctxmem/engine/internal/ctxbuild"
	"github.com/ctxmem/engine/internal/embedindex"
	"github.com/ctxmem/engine/internal/orchestrator"
	"github.com/ctxmem/engine/internal/store"
	"github.com/ctxmem/engine/internal/tiering"
)

type stubGateway struct {
	calls int
	vec   []float32
}

func (g *stubGateway) GenerateEmbeddings(ctx context.Context, model string, texts []string) ([][]float32, error) {
	g.calls++
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = g.vec
	}
	return out, nil
}

type stubEngagement struct {
	sessionID, query, response string
	calls                      int
}

func (e *stubEngagement) RecordEngagement(ctx context.Context, sessionID, query, response string) {
	e.calls++
	e.sessionID, e.query, e.response = sessionID, query, response
}

func newOrchestrator(t *testing.T) (*orchestrator.Orchestrator, *store.Store, *tiering.Manager) {
	t.Helper()
	st, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "o.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	tiers := tiering.NewManager(st, 50, 1000, 500, time.Hour)
	idx := embedindex.New(3, embedindex.DefaultParams())
	o := orchestrator.New(true, tiers, st, idx, nil, nil, orchestrator.DefaultConfig(), ctxbuild.DefaultConfig())
	return o, st, tiers
}

func TestProcessConversationReturnsUnchangedWhenDisabled(t *testing.T) {
	tiers := tiering.NewManager(nil, 50, 1000, 500, time.Hour)
	o := orchestrator.New(false, tiers, nil, nil, nil, nil, orchestrator.DefaultConfig(), ctxbuild.DefaultConfig())
	msgs := []orchestrator.Message{{Role: "user", Content: "hi"}}
	out, err := o.ProcessConversation(context.Background(), "s1", msgs, "hi")
	require.NoError(t, err)
	require.Equal(t, msgs, out)
}

func TestProcessConversationReturnsUnchangedWhenNoRetrievalNeeded(t *testing.T) {
	o, _, _ := newOrchestrator(t)
	msgs := []orchestrator.Message{{Role: "user", Content: "hi there"}}
	out, err := o.ProcessConversation(context.Background(), "s1", msgs, "hi there")
	require.NoError(t, err)
	require.Equal(t, msgs, out)
}

func TestProcessConversationTriggersRetrievalForPastReference(t *testing.T) {
	o, _, tiers := newOrchestrator(t)
	ctx := context.Background()

	require.NoError(t, tiers.EnsureSessionExists(ctx, "s1", ""))
	var seed []store.Message
	for i := 0; i < 5; i++ {
		seed = append(seed, store.Message{SessionID: "s1", Role: "user", Content: "discussing the budget plan"})
	}
	require.NoError(t, tiers.StoreTier3(ctx, "s1", seed))

	msgs := []orchestrator.Message{
		{Role: "user", Content: "as we discussed earlier, what was the budget figure?"},
	}
	out, err := o.ProcessConversation(ctx, "s1", msgs, "as we discussed earlier, what was the budget figure?")
	require.NoError(t, err)
	require.NotEmpty(t, out)
}

func TestExecutePlanUsesSemanticSearchWhenIndexPopulated(t *testing.T) {
	st, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "sem.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	ctx := context.Background()

	tiers := tiering.NewManager(st, 50, 1000, 500, time.Hour)
	require.NoError(t, tiers.EnsureSessionExists(ctx, "s1", ""))

	id, err := st.AppendMessage(ctx, store.Message{SessionID: "s1", MessageIndex: 0, Role: "user", Content: "tell me about the rocket engine design"})
	require.NoError(t, err)

	idx := embedindex.New(3, embedindex.DefaultParams())
	idx.Add(id, []float32{1, 0, 0})
	idx.Build()

	gw := &stubGateway{vec: []float32{1, 0, 0}}
	o := orchestrator.New(true, tiers, st, idx, gw, nil, orchestrator.DefaultConfig(), ctxbuild.DefaultConfig())

	var seed []store.Message
	for i := 0; i < 35; i++ {
		seed = append(seed, store.Message{SessionID: "s1", Role: "user", Content: "filler conversation text here"})
	}
	require.NoError(t, tiers.StoreTier3(ctx, "s1", seed))

	msgs := []orchestrator.Message{{Role: "user", Content: "tell me specifically about the rocket engine design"}}
	out, err := o.ProcessConversation(ctx, "s1", msgs, "tell me specifically about the rocket engine design")
	require.NoError(t, err)
	require.NotEmpty(t, out)
	require.Equal(t, 1, gw.calls)
}

func TestSaveAssistantResponseAndEngagement(t *testing.T) {
	o, _, tiers := newOrchestrator(t)
	ctx := context.Background()
	require.NoError(t, tiers.EnsureSessionExists(ctx, "s1", ""))
	require.NoError(t, o.SaveAssistantResponse(ctx, "s1", "here is the answer"))

	eng := &stubEngagement{}
	o2 := orchestrator.New(true, tiers, nil, nil, nil, eng, orchestrator.DefaultConfig(), ctxbuild.DefaultConfig())
	o2.RecordTurnEngagement(ctx, "s1", "q", "r")
	require.Equal(t, 1, eng.calls)
	require.Equal(t, "s1", eng.sessionID)
}

func TestSearchMessagesEmptyForGlobalSearch(t *testing.T) {
	o, _, _ := newOrchestrator(t)
	out, err := o.SearchMessages(context.Background(), "", []string{"anything"}, 10)
	require.NoError(t, err)
	require.Empty(t, out)
}
