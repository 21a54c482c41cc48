package apikey

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wisbric/vigil/internal/auth"
	"github.com/wisbric/vigil/internal/httpserver"
)

// Handler provides HTTP handlers for the API key CRUD API. This sits outside
// the core scanning pipeline (spec §1 Non-goals) so it stays a thin wrapper
// around Service.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler creates an API key Handler backed by the given pool.
func NewHandler(logger *slog.Logger, pool *pgxpool.Pool) *Handler {
	return &Handler{
		logger:  logger,
		service: NewService(pool, logger),
	}
}

// Routes returns a chi.Router with all API key routes mounted. It must be
// mounted under session authentication.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.handleCreate)
	r.Get("/", h.handleList)
	r.Delete("/{id}", h.handleRevoke)
	return r
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	sess := auth.SessionFromContext(r.Context())
	if sess == nil {
		httpserver.RespondError(w, http.StatusUnauthorized, "SESSION_REQUIRED", "session required")
		return
	}

	resp, err := h.service.Create(r.Context(), sess.OrgID, sess.UserID, req)
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			httpserver.RespondError(w, http.StatusBadRequest, "INVALID_GUARD_CONFIG", err.Error())
			return
		}
		h.logger.Error("creating api key", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "DB_ERROR", "failed to create api key")
		return
	}

	httpserver.Respond(w, http.StatusCreated, resp)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	sess := auth.SessionFromContext(r.Context())
	if sess == nil {
		httpserver.RespondError(w, http.StatusUnauthorized, "SESSION_REQUIRED", "session required")
		return
	}

	items, err := h.service.List(r.Context(), sess.OrgID)
	if err != nil {
		h.logger.Error("listing api keys", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "DB_ERROR", "failed to list api keys")
		return
	}

	httpserver.Respond(w, http.StatusOK, map[string]any{
		"keys":  items,
		"count": len(items),
	})
}

func (h *Handler) handleRevoke(w http.ResponseWriter, r *http.Request) {
	sess := auth.SessionFromContext(r.Context())
	if sess == nil {
		httpserver.RespondError(w, http.StatusUnauthorized, "SESSION_REQUIRED", "session required")
		return
	}

	keyID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid api key id")
		return
	}

	if err := h.service.Revoke(r.Context(), sess.OrgID, keyID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			httpserver.RespondError(w, http.StatusNotFound, "KEY_NOT_FOUND", "api key not found")
			return
		}
		h.logger.Error("revoking api key", "error", err, "id", keyID)
		httpserver.RespondError(w, http.StatusInternalServerError, "DB_ERROR", "failed to revoke api key")
		return
	}

	httpserver.Respond(w, http.StatusNoContent, nil)
}
