package streaming

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Writer wraps an http.ResponseWriter with SSE framing, generalizing
// the teacher's internal/a2a/sse/sse.go (which frames JSON-RPC
// responses) to arbitrary JSON payloads and raw keep-alive comments.
type Writer struct {
	w http.ResponseWriter
	f http.Flusher
}

// NewWriter sets the SSE response headers and returns a Writer. Panics
// if the underlying ResponseWriter cannot flush, matching the
// teacher's NewSSEWriter contract.
func NewWriter(w http.ResponseWriter) *Writer {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	flusher, ok := w.(http.Flusher)
	if !ok {
		panic("streaming is not supported by the underlying http.ResponseWriter")
	}
	return &Writer{w: w, f: flusher}
}

// SendJSON marshals v and writes it as one "data: …\n\n" event.
func (s *Writer) SendJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal sse payload: %w", err)
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return err
	}
	s.f.Flush()
	return nil
}

// SendDone writes the terminal "data: [DONE]\n\n" marker.
func (s *Writer) SendDone() {
	fmt.Fprint(s.w, "data: [DONE]\n\n")
	s.f.Flush()
}

// Ping writes an SSE comment line, ignored by clients but sufficient
// to keep intermediary proxies and idle connections alive.
func (s *Writer) Ping() {
	fmt.Fprint(s.w, ": keep-alive\n\n")
	s.f.Flush()
}
