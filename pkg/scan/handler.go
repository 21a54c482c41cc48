package scan

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/wisbric/vigil/internal/auth"
	"github.com/wisbric/vigil/internal/httpserver"
	"github.com/wisbric/vigil/internal/telemetry"
)

// Handler serves the scan lifecycle APIs: start, list, get, results, logs,
// events (SSE), cancel, and retest.
type Handler struct {
	logger *slog.Logger
	store  *Store
	orch   *Orchestrator
}

// NewHandler creates a Handler.
func NewHandler(logger *slog.Logger, store *Store, orch *Orchestrator) *Handler {
	return &Handler{logger: logger, store: store, orch: orch}
}

// Routes mounts the scan endpoints. Callers must wrap it with session auth.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/start", h.handleStart)
	r.Get("/list", h.handleList)
	r.Post("/retest", h.handleRetest)
	r.Route("/{scanID}", func(r chi.Router) {
		r.Get("/", h.handleGet)
		r.Get("/results", h.handleResults)
		r.Get("/logs", h.handleLogs)
		r.Get("/events", h.handleEvents)
		r.Post("/cancel", h.handleCancel)
	})
	return r
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	sess := auth.SessionFromContext(r.Context())
	if sess == nil {
		httpserver.RespondError(w, http.StatusUnauthorized, "SESSION_REQUIRED", "session required")
		return
	}

	var req StartRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	sc, err := h.orch.Start(r.Context(), sess.OrgID, sess.UserID, req)
	if err != nil {
		if errors.Is(err, ErrTooManyScans) {
			httpserver.RespondError(w, http.StatusTooManyRequests, "TOO_MANY_SCANS", "maximum concurrent scans reached, try again shortly")
			return
		}
		h.logger.Error("starting scan", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "SCAN_START_FAILED", "failed to start scan")
		return
	}

	httpserver.Respond(w, http.StatusCreated, sc)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	sess := auth.SessionFromContext(r.Context())
	if sess == nil {
		httpserver.RespondError(w, http.StatusUnauthorized, "SESSION_REQUIRED", "session required")
		return
	}

	params, err := httpserver.ParseOffsetParams(r)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	items, total, err := h.store.List(r.Context(), sess.UserID, params.PageSize, params.Offset)
	if err != nil {
		h.logger.Error("listing scans", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "DB_ERROR", "failed to list scans")
		return
	}

	httpserver.Respond(w, http.StatusOK, httpserver.NewOffsetPage(items, params, total))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	sess := auth.SessionFromContext(r.Context())
	if sess == nil {
		httpserver.RespondError(w, http.StatusUnauthorized, "SESSION_REQUIRED", "session required")
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "scanID"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid scan id")
		return
	}

	sc, err := h.store.GetByID(r.Context(), sess.UserID, id)
	if err != nil {
		httpserver.RespondError(w, http.StatusNotFound, "SCAN_NOT_FOUND", "scan not found")
		return
	}

	httpserver.Respond(w, http.StatusOK, sc)
}

func (h *Handler) handleResults(w http.ResponseWriter, r *http.Request) {
	sess := auth.SessionFromContext(r.Context())
	if sess == nil {
		httpserver.RespondError(w, http.StatusUnauthorized, "SESSION_REQUIRED", "session required")
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "scanID"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid scan id")
		return
	}

	if _, err := h.store.GetByID(r.Context(), sess.UserID, id); err != nil {
		httpserver.RespondError(w, http.StatusNotFound, "SCAN_NOT_FOUND", "scan not found")
		return
	}

	params, err := httpserver.ParseOffsetParams(r)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	items, total, err := h.store.ListResults(r.Context(), id, params.PageSize, params.Offset)
	if err != nil {
		h.logger.Error("listing scan results", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "DB_ERROR", "failed to list scan results")
		return
	}

	httpserver.Respond(w, http.StatusOK, httpserver.NewOffsetPage(items, params, total))
}

func (h *Handler) handleLogs(w http.ResponseWriter, r *http.Request) {
	sess := auth.SessionFromContext(r.Context())
	if sess == nil {
		httpserver.RespondError(w, http.StatusUnauthorized, "SESSION_REQUIRED", "session required")
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "scanID"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid scan id")
		return
	}

	if _, err := h.store.GetByID(r.Context(), sess.UserID, id); err != nil {
		httpserver.RespondError(w, http.StatusNotFound, "SCAN_NOT_FOUND", "scan not found")
		return
	}

	logs, err := h.store.ListLogs(r.Context(), id)
	if err != nil {
		h.logger.Error("listing scan logs", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "DB_ERROR", "failed to list scan logs")
		return
	}

	httpserver.Respond(w, http.StatusOK, map[string]any{"items": logs})
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	sess := auth.SessionFromContext(r.Context())
	if sess == nil {
		httpserver.RespondError(w, http.StatusUnauthorized, "SESSION_REQUIRED", "session required")
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "scanID"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid scan id")
		return
	}

	res, err := h.orch.Cancel(r.Context(), sess.UserID, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			httpserver.RespondError(w, http.StatusNotFound, "SCAN_NOT_FOUND", "scan not found")
			return
		}
		h.logger.Error("cancelling scan", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "SCAN_CANCEL_FAILED", "failed to cancel scan")
		return
	}

	httpserver.Respond(w, http.StatusOK, res)
}

func (h *Handler) handleRetest(w http.ResponseWriter, r *http.Request) {
	sess := auth.SessionFromContext(r.Context())
	if sess == nil {
		httpserver.RespondError(w, http.StatusUnauthorized, "SESSION_REQUIRED", "session required")
		return
	}

	var req RetestRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	resp, err := h.orch.Retest(r.Context(), sess.UserID, req)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			httpserver.RespondError(w, http.StatusNotFound, "VULNERABILITY_NOT_FOUND", "vulnerability not found")
			return
		}
		h.logger.Error("retesting vulnerability", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "RETEST_FAILED", "failed to retest vulnerability")
		return
	}

	httpserver.Respond(w, http.StatusOK, resp)
}

// sseHeartbeatInterval is the keep-alive cadence for the scan events stream.
const sseHeartbeatInterval = 15 * time.Second

// sseEventPollInterval is how often handleEvents re-reads the scan row.
// Tighter than the driver's own PollInterval since a human is watching.
const sseEventPollInterval = 2 * time.Second

// sseEventMaxDuration is a generous backstop so a forgotten tab doesn't
// hold a connection open forever; comprehensive scans legitimately run for
// tens of minutes so this must not be tightened into a per-scan timeout.
const sseEventMaxDuration = 50 * time.Minute

// handleEvents streams progress, vulnerability, and terminal-status events
// for a single scan until it reaches a terminal state or the client
// disconnects. Unlike the guard_log stream this is not pub/sub backed —
// each connection polls the same store rows the driver itself writes, since
// a single scan's event volume is low and short-lived.
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	sess := auth.SessionFromContext(r.Context())
	if sess == nil {
		httpserver.RespondError(w, http.StatusUnauthorized, "SESSION_REQUIRED", "session required")
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "scanID"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid scan id")
		return
	}

	sc, err := h.store.GetByID(r.Context(), sess.UserID, id)
	if err != nil {
		httpserver.RespondError(w, http.StatusNotFound, "SCAN_NOT_FOUND", "scan not found")
		return
	}

	httpserver.SetSSEHeaders(w)
	telemetry.SSEConnectionsGauge.Inc()
	defer telemetry.SSEConnectionsGauge.Dec()

	ctx, cancel := context.WithTimeout(r.Context(), sseEventMaxDuration)
	defer cancel()
	_ = httpserver.WriteSSEEvent(w, "connected", map[string]any{"scan_id": sc.ID})

	if sc.Status == StatusCompleted || sc.Status == StatusFailed || sc.Status == StatusCancelled {
		payload, _ := json.Marshal(sc)
		var data map[string]any
		_ = json.Unmarshal(payload, &data)
		_ = httpserver.WriteSSEEvent(w, sc.Status, data)
		return
	}

	ticker := time.NewTicker(sseEventPollInterval)
	defer ticker.Stop()
	heartbeat := time.NewTicker(sseHeartbeatInterval)
	defer heartbeat.Stop()

	sent := 0
	lastProgress := -1

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			if err := httpserver.WriteSSEComment(w, "keep-alive"); err != nil {
				return
			}
		case <-ticker.C:
			cur, err := h.store.GetByID(r.Context(), sess.UserID, id)
			if err != nil {
				return
			}

			if cur.Progress != lastProgress {
				lastProgress = cur.Progress
				if err := httpserver.WriteSSEEvent(w, "progress", map[string]any{
					"progress":              cur.Progress,
					"probes_completed":      cur.ProbesCompleted,
					"probes_total":          cur.ProbesTotal,
					"vulnerabilities_found": cur.VulnerabilitiesFound,
				}); err != nil {
					return
				}
			}

			newResults, err := h.store.ListResultsSince(r.Context(), id, sent)
			if err != nil {
				h.logger.Error("polling new scan results for sse", "error", err)
			} else {
				for _, res := range newResults {
					if err := httpserver.WriteSSEEvent(w, "vulnerability", res); err != nil {
						return
					}
					sent++
				}
			}

			if cur.Status == StatusCompleted || cur.Status == StatusFailed || cur.Status == StatusCancelled {
				payload, _ := json.Marshal(cur)
				var data map[string]any
				_ = json.Unmarshal(payload, &data)
				_ = httpserver.WriteSSEEvent(w, cur.Status, data)
				return
			}
		}
	}
}
