package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/biolink/semindex/internal/log"
	"github.com/biolink/semindex/internal/rag"
)

// MaxQueryBodyBytes caps the request body; questions are short.
const MaxQueryBodyBytes = 64 << 10

// QueryEngine answers questions. Satisfied by *rag.Engine.
type QueryEngine interface {
	Query(ctx context.Context, req rag.Request) (rag.Answer, error)
}

// QueryHandler handles the query endpoint.
type QueryHandler struct {
	engine QueryEngine
	logger log.Logger
}

// NewQueryHandler creates a new query handler.
func NewQueryHandler(engine QueryEngine, logger log.Logger) *QueryHandler {
	if logger == nil {
		logger = log.NewNop()
	}
	return &QueryHandler{engine: engine, logger: logger}
}

// RegisterRoutes registers query routes on the given mux.
func (h *QueryHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/query", h.query)
}

// query answers one question. Grounding and timeout outcomes are 200s with a
// typed status; only infrastructure failures map to error codes.
func (h *QueryHandler) query(w http.ResponseWriter, r *http.Request) {
	var req rag.Request
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxQueryBodyBytes))
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "request body must be valid JSON")
		return
	}

	answer, err := h.engine.Query(r.Context(), req)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, answer)
	case errors.Is(err, rag.ErrEmptyQuestion):
		writeError(w, http.StatusBadRequest, "empty_question", "question must not be empty")
	case errors.Is(err, rag.ErrUnavailable):
		h.logger.Error("query failed, vector store unavailable", "error", err)
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", "vector store unavailable, try again later")
	default:
		h.logger.Error("query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "query could not be answered")
	}
}
