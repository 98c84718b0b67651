package llmgateway

import "context"

// ChatMessage is the wire shape sent to the child-process runtime.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerateRequest is the unified non-/stream chat request (§4.9).
type GenerateRequest struct {
	Model       string        `json:"model,omitempty"`
	Messages    []ChatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
	Stream      bool          `json:"stream"`
}

// GenerateResponse is the non-stream generate() result.
type GenerateResponse struct {
	Content      string `json:"content"`
	FinishReason string `json:"finish_reason"`
}

// StreamChunk is one parsed upstream SSE payload.
type StreamChunk struct {
	Content      string
	FinishReason string
	Done         bool
}

// StreamHandler receives chunks as GenerateStream consumes the
// upstream SSE response.
type StreamHandler func(chunk StreamChunk) error

// Gateway is the engine's single logical LLM interface; concrete
// backends (GGUF/GGML/ONNX/TensorRT/Safetensors/CoreML) are selected
// at runtime-manager level and are transparent to callers.
type Gateway interface {
	HealthCheck(ctx context.Context) error
	Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, error)
	GenerateStream(ctx context.Context, req GenerateRequest, handler StreamHandler) error
	GenerateEmbeddings(ctx context.Context, model string, texts []string) ([][]float32, error)
	GenerateTitle(ctx context.Context, prompt string) (string, error)
}
