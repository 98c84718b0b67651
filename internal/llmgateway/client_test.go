package llmgateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func gatewayAgainst(t *testing.T, srv *httptest.Server) *HTTPGateway {
	t.Helper()
	rm := NewRuntimeManager()
	rm.holder.Store(&runtimeHolder{baseURL: srv.URL})
	return NewHTTPGateway(rm, 5*time.Second)
}

func TestHealthCheckSucceedsOn200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	g := gatewayAgainst(t, srv)
	require.NoError(t, g.HealthCheck(context.Background()))
}

func TestHealthCheckFailsWithoutRuntime(t *testing.T) {
	g := NewHTTPGateway(NewRuntimeManager(), time.Second)
	require.Error(t, g.HealthCheck(context.Background()))
}

func TestGenerateReturnsContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req GenerateRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		require.False(t, req.Stream)
		_ = json.NewEncoder(w).Encode(GenerateResponse{Content: "hello there", FinishReason: "stop"})
	}))
	defer srv.Close()

	g := gatewayAgainst(t, srv)
	resp, err := g.Generate(context.Background(), GenerateRequest{Messages: []ChatMessage{{Role: "user", Content: "hi"}}})
	require.NoError(t, err)
	require.Equal(t, "hello there", resp.Content)
}

func TestGenerateStreamParsesSSEUntilDone(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		fmt.Fprintf(w, "data: %s\n\n", `{"content":"he"}`)
		flusher.Flush()
		fmt.Fprintf(w, "data: %s\n\n", `{"content":"llo"}`)
		flusher.Flush()
		fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
	}))
	defer srv.Close()

	g := gatewayAgainst(t, srv)
	var got string
	var done bool
	err := g.GenerateStream(context.Background(), GenerateRequest{Messages: []ChatMessage{{Role: "user", Content: "hi"}}}, func(c StreamChunk) error {
		if c.Done {
			done = true
			return nil
		}
		got += c.Content
		return nil
	})
	require.NoError(t, err)
	require.True(t, done)
	require.Equal(t, "hello", got)
}

func TestGenerateEmbeddingsParsesVectors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"embedding": []float32{0.1, 0.2}},
				{"embedding": []float32{0.3, 0.4}},
			},
		})
	}))
	defer srv.Close()

	g := gatewayAgainst(t, srv)
	vecs, err := g.GenerateEmbeddings(context.Background(), "", []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	require.Equal(t, float32(0.1), vecs[0][0])
}

func TestGenerateEmbeddingsEmptyInputShortCircuits(t *testing.T) {
	g := NewHTTPGateway(NewRuntimeManager(), time.Second)
	vecs, err := g.GenerateEmbeddings(context.Background(), "", nil)
	require.NoError(t, err)
	require.Nil(t, vecs)
}

func TestGenerateTitleTrimsAndCapsTokens(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req GenerateRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		require.Equal(t, 20, req.MaxTokens)
		require.Equal(t, 0.3, req.Temperature)
		_ = json.NewEncoder(w).Encode(GenerateResponse{Content: "  A Title  "})
	}))
	defer srv.Close()

	g := gatewayAgainst(t, srv)
	title, err := g.GenerateTitle(context.Background(), "summarize this conversation")
	require.NoError(t, err)
	require.Equal(t, "A Title", title)
}
