// Package httpapi exposes the engine's HTTP surface (§6): the
// streaming turn endpoint, conversation management, title generation,
// and operational status routes. Routing follows the teacher's
// internal/httpapi convention of Go 1.22+ http.ServeMux pattern
// syntax ("METHOD /path/{param}") with r.PathValue lookups.
package httpapi

import (
	"net/http"

	"github.com/ctxmem/engine/internal/embedindex"
	"github.com/ctxmem/engine/internal/kvcache"
	"github.com/ctxmem/engine/internal/llmgateway"
	"github.com/ctxmem/engine/internal/orchestrator"
	"github.com/ctxmem/engine/internal/store"
	"github.com/ctxmem/engine/internal/streaming"
	"github.com/ctxmem/engine/internal/tiering"
)

// Server wires the engine's subsystems into an http.Handler.
type Server struct {
	store    *store.Store
	tiers    *tiering.Manager
	orch     *orchestrator.Orchestrator
	gateway  llmgateway.Gateway
	embeds   *embedindex.Index
	kv       *kvcache.Manager
	pipeline *streaming.Pipeline
	mux      *http.ServeMux
}

// NewServer builds a Server and registers all routes.
func NewServer(st *store.Store, tiers *tiering.Manager, orch *orchestrator.Orchestrator, gateway llmgateway.Gateway, embeds *embedindex.Index, kv *kvcache.Manager, pipeline *streaming.Pipeline) *Server {
	s := &Server{
		store:    st,
		tiers:    tiers,
		orch:     orch,
		gateway:  gateway,
		embeds:   embeds,
		kv:       kv,
		pipeline: pipeline,
		mux:      http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("POST /generate/stream", s.handleGenerateStream)
	s.mux.HandleFunc("POST /generate/title", s.handleGenerateTitle)

	s.mux.HandleFunc("GET /conversations", s.handleListConversations)
	s.mux.HandleFunc("GET /conversations/{id}", s.handleGetConversation)
	s.mux.HandleFunc("PUT /conversations/{id}/title", s.handleUpdateTitle)
	s.mux.HandleFunc("POST /conversations/{id}/pinned", s.handleSetPinned)
	s.mux.HandleFunc("DELETE /conversations/{id}", s.handleDeleteConversation)

	s.mux.HandleFunc("GET /conversations/{id}/stats", s.handleTierStats)
	s.mux.HandleFunc("POST /conversations/{id}/context/preview", s.handleContextPreview)
	s.mux.HandleFunc("POST /search", s.handleSearch)

	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.HandleFunc("GET /stats", s.handleEngineStats)
}
