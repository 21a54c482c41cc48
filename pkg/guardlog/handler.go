package guardlog

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wisbric/vigil/internal/auth"
	"github.com/wisbric/vigil/internal/httpserver"
)

// Handler serves the audit-log read APIs: listing and stats.
type Handler struct {
	logger *slog.Logger
	store  *Store
}

// NewHandler creates a Handler backed by pool.
func NewHandler(logger *slog.Logger, pool *pgxpool.Pool) *Handler {
	return &Handler{logger: logger, store: NewStore(pool)}
}

// HandleList and HandleStats are mounted directly by the caller at
// /v1/guard/logs and /v1/guard/stats, alongside the API-key-protected guard
// scan routes — both wrapped in session auth.

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	sess := auth.SessionFromContext(r.Context())
	if sess == nil {
		httpserver.RespondError(w, http.StatusUnauthorized, "SESSION_REQUIRED", "session required")
		return
	}

	f, err := parseFilter(r)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	page, err := h.store.List(r.Context(), sess.OrgID, f)
	if err != nil {
		h.logger.Error("listing guard logs", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "DB_ERROR", "failed to list guard logs")
		return
	}

	httpserver.Respond(w, http.StatusOK, page)
}

func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	sess := auth.SessionFromContext(r.Context())
	if sess == nil {
		httpserver.RespondError(w, http.StatusUnauthorized, "SESSION_REQUIRED", "session required")
		return
	}

	stats, err := h.store.Stats(r.Context(), sess.OrgID)
	if err != nil {
		h.logger.Error("computing guard stats", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "DB_ERROR", "failed to compute stats")
		return
	}

	httpserver.Respond(w, http.StatusOK, stats)
}

func parseFilter(r *http.Request) (Filter, error) {
	q := r.URL.Query()
	f := Filter{
		Status:      q.Get("status"),
		RequestType: q.Get("request_type"),
		IPPrefix:    q.Get("ip"),
		Page:        1,
		PerPage:     httpserver.DefaultPageSize,
	}

	if v := q.Get("category"); v != "" {
		f.Categories = strings.Split(v, ",")
	}

	if v := q.Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return Filter{}, errInvalidParam("page")
		}
		f.Page = n
	}

	if v := q.Get("per_page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return Filter{}, errInvalidParam("per_page")
		}
		if n > httpserver.MaxPageSize {
			n = httpserver.MaxPageSize
		}
		f.PerPage = n
	}

	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return Filter{}, errInvalidParam("from")
		}
		f.From = &t
	}

	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return Filter{}, errInvalidParam("to")
		}
		f.To = &t
	}

	if v := q.Get("cursor"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return Filter{}, errInvalidParam("cursor")
		}
		f.Cursor = &id
	}

	return f, nil
}

func errInvalidParam(name string) error {
	return fmt.Errorf("invalid %s parameter", name)
}
