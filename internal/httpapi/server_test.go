package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ctxmem/engine/internal/embedindex"
	"github.com/ctxmem/engine/internal/httpapi"
	"github.com/ctxmem/engine/internal/llmgateway"
	"github.com/ctxmem/engine/internal/sharedstate"
	"github.com/ctxmem/engine/internal/store"
	"github.com/ctxmem/engine/internal/streaming"
	"github.com/ctxmem/engine/internal/tiering"
)

type stubGateway struct{ healthErr error }

func (g *stubGateway) HealthCheck(ctx context.Context) error { return g.healthErr }
func (g *stubGateway) Generate(ctx context.Context, req llmgateway.GenerateRequest) (llmgateway.GenerateResponse, error) {
	return llmgateway.GenerateResponse{}, nil
}
func (g *stubGateway) GenerateStream(ctx context.Context, req llmgateway.GenerateRequest, handler llmgateway.StreamHandler) error {
	return handler(llmgateway.StreamChunk{Content: "ok", Done: true})
}
func (g *stubGateway) GenerateEmbeddings(ctx context.Context, model string, texts []string) ([][]float32, error) {
	return nil, nil
}
func (g *stubGateway) GenerateTitle(ctx context.Context, prompt string) (string, error) {
	return "a title", nil
}

func newTestServer(t *testing.T) (*httpapi.Server, *store.Store) {
	t.Helper()
	st, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "s.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	tiers := tiering.NewManager(st, 50, 1000, 500, time.Hour)
	counters := &sharedstate.AtomicCounters{}
	gw := &stubGateway{}
	pipeline := &streaming.Pipeline{
		Hierarchy: sharedstate.NewConversationHierarchy(counters),
		Counters:  counters,
		Store:     st,
		Tiers:     tiers,
		Gateway:   gw,
	}
	embeds := embedindex.New(2, embedindex.DefaultParams())

	srv := httpapi.NewServer(st, tiers, nil, gw, embeds, nil, pipeline)
	return srv, st
}

func TestHealthzReportsOKWhenGatewayHealthy(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestGenerateStreamRejectsEmptyMessages(t *testing.T) {
	srv, _ := newTestServer(t)
	body, _ := json.Marshal(streaming.Request{SessionID: "s1"})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/generate/stream", bytes.NewReader(body))
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGenerateStreamForwardsSSEContent(t *testing.T) {
	srv, _ := newTestServer(t)
	body, _ := json.Marshal(streaming.Request{
		SessionID: "s1",
		Messages:  []streaming.ChatMessage{{Role: "user", Content: "hi"}},
	})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/generate/stream", bytes.NewReader(body))
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "ok")
}

func TestGenerateTitleReturnsTitle(t *testing.T) {
	srv, _ := newTestServer(t)
	body, _ := json.Marshal(map[string]string{"prompt": "summarize"})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/generate/title", bytes.NewReader(body))
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Equal(t, "a title", resp["title"])
}

func TestConversationLifecycle(t *testing.T) {
	srv, st := newTestServer(t)
	require.NoError(t, st.CreateSession(context.Background(), "conv1", "Untitled"))
	require.NoError(t, st.AppendMessagesBatch(context.Background(), "conv1", []store.Message{{SessionID: "conv1", Role: "user", Content: "hello"}}, 0))

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/conversations/conv1", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, _ := json.Marshal(map[string]string{"title": "Renamed"})
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/conversations/conv1/title", bytes.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/conversations/conv1", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)
}

func TestGetConversationNotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/conversations/missing", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSearchRequiresKeywords(t *testing.T) {
	srv, _ := newTestServer(t)
	body, _ := json.Marshal(map[string]any{"session_id": "s1"})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/search", bytes.NewReader(body))
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEngineStatsReportsEmbeddingIndex(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}
