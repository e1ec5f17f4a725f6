package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/mtlprog/chorequorum/internal/command"
	"github.com/mtlprog/chorequorum/internal/domain"
	"github.com/mtlprog/chorequorum/internal/handler/dto"
	"github.com/mtlprog/chorequorum/internal/middleware"
	"github.com/mtlprog/chorequorum/internal/service"
)

// Pinger reports whether the entity store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	db             Pinger
	taskService    *service.TaskService
	dispatcher     *command.Dispatcher
	authMiddleware *middleware.AuthMiddleware
	now            func() time.Time
}

// New creates a new Handler instance with all dependencies.
func New(db Pinger, taskService *service.TaskService) *Handler {
	return &Handler{
		db:             db,
		taskService:    taskService,
		dispatcher:     command.NewDispatcher(taskService),
		authMiddleware: middleware.NewAuthMiddleware(taskService),
		now:            time.Now,
	}
}

// RegisterRoutes registers all HTTP routes.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Health check
	mux.HandleFunc("GET /healthz", h.handleHealthz)

	auth := func(fn http.HandlerFunc) http.Handler {
		return h.authMiddleware.Authenticate(fn)
	}

	// Tasks
	mux.Handle("GET /api/v1/tasks", auth(h.handleListTasks))
	mux.Handle("POST /api/v1/tasks", auth(h.handleCreateTask))
	mux.Handle("GET /api/v1/tasks/{id}", auth(h.handleGetTask))
	mux.Handle("GET /api/v1/tasks/{id}/history", auth(h.handleTaskHistory))
	mux.Handle("GET /api/v1/tasks/{id}/workflows", auth(h.handleTaskWorkflows))
	mux.Handle("POST /api/v1/tasks/{id}/claim", auth(h.handleClaimTask))
	mux.Handle("POST /api/v1/tasks/{id}/takeover", auth(h.handleTakeoverTask))
	mux.Handle("POST /api/v1/tasks/{id}/force-reopen", auth(h.handleForceReopen))
	mux.Handle("POST /api/v1/tasks/{id}/deletion", auth(h.handleRequestDeletion))

	// Workflows
	mux.Handle("POST /api/v1/workflows/batch-resolve", auth(h.handleBatchResolve))
	mux.Handle("GET /api/v1/workflows/{id}", auth(h.handleGetWorkflow))
	mux.Handle("POST /api/v1/workflows/{id}/resolve", auth(h.handleResolveWorkflow))
	mux.Handle("POST /api/v1/workflows/{id}/cancel", auth(h.handleCancelWorkflow))

	// Vote rounds
	mux.Handle("GET /api/v1/rounds/{id}", auth(h.handleGetRound))
	mux.Handle("POST /api/v1/rounds/{id}/votes", auth(h.handleCastVote))

	// Command envelope
	mux.Handle("POST /api/v1/commands", auth(h.handleCommand))

	mux.Handle("GET /api/v1/stats", auth(h.handleGetStats))
}

// handleHealthz returns 200 OK if the database is reachable.
func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := h.db.Ping(ctx); err != nil {
		slog.Error("database health check failed", "error", err)
		http.Error(w, "database unavailable", http.StatusServiceUnavailable)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// Ping checks if the database is reachable (used for testing).
func (h *Handler) Ping(ctx context.Context) error {
	return h.db.Ping(ctx)
}

// respondJSON writes a JSON response with the given status code.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

// respondError writes a standard error response.
func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, dto.NewErrorResponse(code, message))
}

// respondDomainError maps a service error to the standard error response.
func respondDomainError(w http.ResponseWriter, err error) {
	status, code, message := dto.MapDomainError(err)
	respondError(w, status, code, message)
}

// currentParticipant returns the authenticated participant.
// Returns (nil, false) if missing (error already sent to client).
func currentParticipant(w http.ResponseWriter, r *http.Request) (*domain.Participant, bool) {
	p, err := middleware.GetParticipantFromContext(r.Context())
	if err != nil {
		respondError(w, http.StatusUnauthorized, "INVALID_TOKEN", "Authentication required")
		return nil, false
	}
	return p, true
}

// extractID extracts and validates the {id} path parameter.
// Returns (id, true) if valid, ("", false) if invalid (error already sent to client).
func extractID(w http.ResponseWriter, r *http.Request, what string) (string, bool) {
	id := r.PathValue("id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", what+" id is required")
		return "", false
	}

	if _, err := uuid.Parse(id); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", what+" id must be a valid UUID")
		return "", false
	}

	return id, true
}

// decodeBody decodes a JSON request body. An empty body leaves v untouched.
// Returns false if invalid (error already sent to client).
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
		return false
	}
	return true
}
