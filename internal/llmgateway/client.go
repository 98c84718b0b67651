package llmgateway

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ctxmem/engine/internal/engerrors"
)

// HTTPGateway implements Gateway against a RuntimeManager-supervised
// child process speaking the unified API over HTTP. Grounded on the
// teacher's raw-HTTP MLX client (callMLXWithHTTP) — hand-rolled
// net/http rather than a provider SDK, since the gateway talks to a
// local process, not a cloud API.
type HTTPGateway struct {
	runtime *RuntimeManager
	client  *http.Client
}

// NewHTTPGateway wraps a RuntimeManager with an HTTP client using the
// given request timeout (0 disables the timeout, required for
// long-lived streaming requests).
func NewHTTPGateway(runtime *RuntimeManager, timeout time.Duration) *HTTPGateway {
	return &HTTPGateway{runtime: runtime, client: &http.Client{Timeout: timeout}}
}

func (g *HTTPGateway) baseURL() (string, error) {
	url := g.runtime.BaseURL()
	if url == "" {
		return "", engerrors.Unavailable("llmgateway", "", fmt.Errorf("no runtime initialized"))
	}
	return url, nil
}

// HealthCheck implements health_check().
func (g *HTTPGateway) HealthCheck(ctx context.Context) error {
	base, err := g.baseURL()
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/health", nil)
	if err != nil {
		return engerrors.Internal("llmgateway.HealthCheck", "", err)
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return engerrors.Gateway("llmgateway.HealthCheck", "", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return engerrors.Gateway("llmgateway.HealthCheck", "", fmt.Errorf("status %d", resp.StatusCode))
	}
	return nil
}

// Generate implements generate() for stream=false.
func (g *HTTPGateway) Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, error) {
	req.Stream = false
	base, err := g.baseURL()
	if err != nil {
		return GenerateResponse{}, err
	}

	body, err := json.Marshal(req)
	if err != nil {
		return GenerateResponse{}, engerrors.Internal("llmgateway.Generate", "", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return GenerateResponse{}, engerrors.Internal("llmgateway.Generate", "", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return GenerateResponse{}, engerrors.Gateway("llmgateway.Generate", "", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return GenerateResponse{}, engerrors.Gateway("llmgateway.Generate", "", fmt.Errorf("status %d", resp.StatusCode))
	}

	var out GenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return GenerateResponse{}, engerrors.Gateway("llmgateway.Generate", "", err)
	}
	return out, nil
}

// GenerateStream implements generate_stream(): each upstream
// "data: {...}" line is decoded into a StreamChunk and passed to
// handler; "data: [DONE]" ends the stream with a chunk whose Done is
// set. Lines that are not "data:" lines or fail to decode are skipped.
func (g *HTTPGateway) GenerateStream(ctx context.Context, req GenerateRequest, handler StreamHandler) error {
	req.Stream = true
	base, err := g.baseURL()
	if err != nil {
		return err
	}

	body, err := json.Marshal(req)
	if err != nil {
		return engerrors.Internal("llmgateway.GenerateStream", "", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return engerrors.Internal("llmgateway.GenerateStream", "", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return engerrors.Gateway("llmgateway.GenerateStream", "", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return engerrors.Gateway("llmgateway.GenerateStream", "", fmt.Errorf("status %d", resp.StatusCode))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" {
			return handler(StreamChunk{Done: true})
		}
		var chunk struct {
			Content      string `json:"content"`
			FinishReason string `json:"finish_reason"`
		}
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			continue
		}
		if err := handler(StreamChunk{Content: chunk.Content, FinishReason: chunk.FinishReason}); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return engerrors.Gateway("llmgateway.GenerateStream", "", err)
	}
	return nil
}

// GenerateEmbeddings implements generate_embeddings(texts).
func (g *HTTPGateway) GenerateEmbeddings(ctx context.Context, model string, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	base, err := g.baseURL()
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(struct {
		Model string   `json:"model,omitempty"`
		Input []string `json:"input"`
	}{Model: model, Input: texts})
	if err != nil {
		return nil, engerrors.Internal("llmgateway.GenerateEmbeddings", "", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/v1/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, engerrors.Internal("llmgateway.GenerateEmbeddings", "", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, engerrors.Gateway("llmgateway.GenerateEmbeddings", "", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, engerrors.Gateway("llmgateway.GenerateEmbeddings", "", fmt.Errorf("status %d: %s", resp.StatusCode, string(b)))
	}

	var out struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, engerrors.Gateway("llmgateway.GenerateEmbeddings", "", err)
	}

	vecs := make([][]float32, len(out.Data))
	for i, d := range out.Data {
		vecs[i] = d.Embedding
	}
	return vecs, nil
}

// GenerateTitle implements generate_title(prompt): a thin wrapper over
// a non-stream chat completion, capped at 20 tokens, temperature 0.3.
func (g *HTTPGateway) GenerateTitle(ctx context.Context, prompt string) (string, error) {
	resp, err := g.Generate(ctx, GenerateRequest{
		Messages:    []ChatMessage{{Role: "user", Content: prompt}},
		MaxTokens:   20,
		Temperature: 0.3,
	})
	if err != nil {
		return "", err
	}
	return trimSurroundingQuotes(strings.TrimSpace(resp.Content)), nil
}

// trimSurroundingQuotes strips one matching layer of surrounding double
// quotes, then one matching layer of surrounding single quotes.
func trimSurroundingQuotes(s string) string {
	s = trimMatchingQuote(s, '"')
	s = trimMatchingQuote(s, '\'')
	return s
}

func trimMatchingQuote(s string, q byte) string {
	if len(s) >= 2 && s[0] == q && s[len(s)-1] == q {
		return s[1 : len(s)-1]
	}
	return s
}
