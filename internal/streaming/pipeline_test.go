package streaming_test

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ctxmem/engine/internal/llmgateway"
	"github.com/ctxmem/engine/internal/sharedstate"
	"github.com/ctxmem/engine/internal/store"
	"github.com/ctxmem/engine/internal/streaming"
	"github.com/ctxmem/engine/internal/tiering"
)

type fakeGateway struct {
	chunks []string
}

func (g *fakeGateway) HealthCheck(ctx context.Context) error { return nil }
func (g *fakeGateway) Generate(ctx context.Context, req llmgateway.GenerateRequest) (llmgateway.GenerateResponse, error) {
	return llmgateway.GenerateResponse{Content: strings.Join(g.chunks, "")}, nil
}
func (g *fakeGateway) GenerateStream(ctx context.Context, req llmgateway.GenerateRequest, handler llmgateway.StreamHandler) error {
	for _, c := range g.chunks {
		if err := handler(llmgateway.StreamChunk{Content: c}); err != nil {
			return err
		}
	}
	return handler(llmgateway.StreamChunk{Done: true})
}
func (g *fakeGateway) GenerateEmbeddings(ctx context.Context, model string, texts []string) ([][]float32, error) {
	vecs := make([][]float32, len(texts))
	for i := range texts {
		vecs[i] = []float32{0.1, 0.2}
	}
	return vecs, nil
}
func (g *fakeGateway) GenerateTitle(ctx context.Context, prompt string) (string, error) { return "", nil }

func newPipeline(t *testing.T, gw llmgateway.Gateway) (*streaming.Pipeline, *store.Store) {
	t.Helper()
	st, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "s.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	counters := &sharedstate.AtomicCounters{}
	return &streaming.Pipeline{
		Hierarchy: sharedstate.NewConversationHierarchy(counters),
		Counters:  counters,
		Store:     st,
		Tiers:     tiering.NewManager(st, 50, 1000, 500, time.Hour),
		Gateway:   gw,
	}, st
}

func TestHandleStreamRejectsEmptyMessages(t *testing.T) {
	p, _ := newPipeline(t, &fakeGateway{})
	rec := httptest.NewRecorder()
	err := p.HandleStream(context.Background(), rec, streaming.Request{SessionID: "s1"})
	require.Error(t, err)
}

func TestHandleStreamForwardsChunksAndPersists(t *testing.T) {
	gw := &fakeGateway{chunks: []string{"hel", "lo"}}
	p, st := newPipeline(t, gw)
	rec := httptest.NewRecorder()

	req := streaming.Request{
		SessionID: "s1",
		Messages:  []streaming.ChatMessage{{Role: "user", Content: "hi there"}},
	}
	err := p.HandleStream(context.Background(), rec, req)
	require.NoError(t, err)

	body := rec.Body.String()
	require.Contains(t, body, "hel")
	require.Contains(t, body, "lo")
	require.Contains(t, body, "[DONE]")

	msgs, err := st.GetSessionMessages(context.Background(), "s1", 10, 0)
	require.NoError(t, err)
	var roles []string
	for _, m := range msgs {
		roles = append(roles, m.Role)
	}
	require.Contains(t, roles, "user")
	require.Contains(t, roles, "assistant")
}

func TestHandleStreamDefaultsMaxTokensAndTemperature(t *testing.T) {
	gw := &fakeGateway{chunks: []string{"ok"}}
	p, _ := newPipeline(t, gw)
	rec := httptest.NewRecorder()

	req := streaming.Request{SessionID: "s2", Messages: []streaming.ChatMessage{{Role: "user", Content: "hi"}}}
	require.NoError(t, p.HandleStream(context.Background(), rec, req))
}
