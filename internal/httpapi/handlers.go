package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/ctxmem/engine/internal/ctxbuild"
	"github.com/ctxmem/engine/internal/engerrors"
	"github.com/ctxmem/engine/internal/streaming"
)

func (s *Server) handleGenerateStream(w http.ResponseWriter, r *http.Request) {
	var req streaming.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.pipeline.HandleStream(r.Context(), w, req); err != nil {
		respondError(w, statusFromError(err), err)
	}
}

type titleRequest struct {
	Prompt string `json:"prompt"`
}

type titleResponse struct {
	Title string `json:"title"`
}

func (s *Server) handleGenerateTitle(w http.ResponseWriter, r *http.Request) {
	var req titleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if req.Prompt == "" {
		respondError(w, http.StatusBadRequest, errors.New("prompt is required"))
		return
	}
	title, err := s.gateway.GenerateTitle(r.Context(), req.Prompt)
	if err != nil {
		respondError(w, statusFromError(err), err)
		return
	}
	respondJSON(w, http.StatusOK, titleResponse{Title: title})
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.store.ListSessionsWithTitle(r.Context())
	if err != nil {
		respondError(w, statusFromError(err), err)
		return
	}
	respondJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	session, err := s.store.GetSession(r.Context(), id)
	if err != nil {
		respondError(w, statusFromError(err), err)
		return
	}
	limit := intQuery(r, "limit", 100)
	offset := intQuery(r, "offset", 0)
	messages, err := s.store.GetSessionMessages(r.Context(), id, limit, offset)
	if err != nil {
		respondError(w, statusFromError(err), err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"session":  session,
		"messages": messages,
	})
}

type titleUpdateRequest struct {
	Title string `json:"title"`
}

func (s *Server) handleUpdateTitle(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req titleUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.store.UpdateTitle(r.Context(), id, req.Title); err != nil {
		respondError(w, statusFromError(err), err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type pinnedRequest struct {
	Pinned bool `json:"pinned"`
}

func (s *Server) handleSetPinned(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req pinnedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.store.UpdatePinned(r.Context(), id, req.Pinned); err != nil {
		respondError(w, statusFromError(err), err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.store.DeleteSession(r.Context(), id); err != nil {
		respondError(w, statusFromError(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type contextPreviewRequest struct {
	Query string `json:"query"`
}

// handleContextPreview runs the retrieval+build pipeline against a
// session's stored messages without driving generation, useful for
// inspecting what context a turn would receive.
func (s *Server) handleContextPreview(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if s.orch == nil {
		respondError(w, http.StatusServiceUnavailable, errors.New("orchestrator not configured"))
		return
	}
	var req contextPreviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	stored, err := s.store.GetSessionMessages(r.Context(), id, 1000, 0)
	if err != nil {
		respondError(w, statusFromError(err), err)
		return
	}
	msgs := make([]ctxbuild.Message, len(stored))
	for i, m := range stored {
		msgs[i] = ctxbuild.Message{Role: m.Role, Content: m.Content}
	}

	built, err := s.orch.ProcessConversation(r.Context(), id, msgs, req.Query)
	if err != nil {
		respondError(w, statusFromError(err), err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"context": built})
}

func (s *Server) handleTierStats(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	stats, err := s.tiers.GetTierStats(r.Context(), id)
	if err != nil {
		respondError(w, statusFromError(err), err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

type searchRequest struct {
	SessionID    string   `json:"session_id"`
	Keywords     []string `json:"keywords"`
	CrossSession bool     `json:"cross_session"`
	Limit        int      `json:"limit"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if len(req.Keywords) == 0 {
		respondError(w, http.StatusBadRequest, errors.New("keywords must not be empty"))
		return
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 20
	}

	var (
		messages any
		err      error
	)
	if req.CrossSession {
		messages, err = s.store.SearchMessagesCrossSession(r.Context(), req.SessionID, req.Keywords, limit)
	} else {
		if req.SessionID == "" {
			respondError(w, http.StatusBadRequest, errors.New("session_id is required unless cross_session is set"))
			return
		}
		messages, err = s.store.SearchMessagesByKeywords(r.Context(), req.SessionID, req.Keywords, limit)
	}
	if err != nil {
		respondError(w, statusFromError(err), err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if s.gateway != nil {
		if err := s.gateway.HealthCheck(r.Context()); err != nil {
			status = "degraded"
			code = http.StatusServiceUnavailable
		}
	}
	respondJSON(w, code, map[string]string{"status": status})
}

func (s *Server) handleEngineStats(w http.ResponseWriter, r *http.Request) {
	count, dimension, indexType := s.embeds.Stats()
	resp := map[string]any{
		"embedding_index": map[string]any{
			"count":      count,
			"dimension":  dimension,
			"index_type": indexType,
		},
	}
	if s.kv != nil {
		resp["kv_cache"] = s.kv.Statistics()
	}
	respondJSON(w, http.StatusOK, resp)
}

func intQuery(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, err error) {
	respondJSON(w, status, map[string]any{"error": err.Error()})
}

// statusFromError maps an engerrors.Kind to an HTTP status per §7.
func statusFromError(err error) int {
	switch engerrors.KindOf(err) {
	case engerrors.KindInvalidInput:
		return http.StatusBadRequest
	case engerrors.KindNotFound:
		return http.StatusNotFound
	case engerrors.KindUnavailable:
		return http.StatusServiceUnavailable
	case engerrors.KindGateway:
		return http.StatusBadGateway
	case engerrors.KindStorage:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
