package guard

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wisbric/vigil/internal/auth"
	"github.com/wisbric/vigil/internal/httpserver"
)

// Handler serves the guard scan API: single scan, output validate, batch
// scan, and advanced scan. Every route requires an admitted API key.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds a Handler backed by service.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// Routes mounts the guard endpoints. Callers must wrap it with
// auth.RequireAPIKey.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/scan", h.handleScan)
	r.Post("/validate", h.handleValidate)
	r.Post("/batch", h.handleBatch)
	r.Post("/advanced-scan", h.handleAdvancedScan)
	return r
}

func (h *Handler) handleScan(w http.ResponseWriter, r *http.Request) {
	key := auth.APIKeyFromContext(r.Context())
	if key == nil {
		httpserver.RespondError(w, http.StatusUnauthorized, "API_KEY_REQUIRED", "api key required")
		return
	}

	var req ScanRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}
	if len(req.Prompt) == 0 || len(req.Prompt) > maxPromptBytes {
		httpserver.RespondError(w, http.StatusBadRequest, "INVALID_REQUEST", "prompt must be non-empty and within the size limit")
		return
	}

	if adm := h.service.Admit(r.Context(), key); !adm.Allowed {
		respondAdmissionDenied(w, adm)
		return
	}

	resp, err := h.service.ScanPrompt(r.Context(), key, req, clientIP(r), r.UserAgent())
	if err != nil {
		respondGatewayError(w, err)
		return
	}

	httpserver.Respond(w, http.StatusOK, resp)
}

func (h *Handler) handleValidate(w http.ResponseWriter, r *http.Request) {
	key := auth.APIKeyFromContext(r.Context())
	if key == nil {
		httpserver.RespondError(w, http.StatusUnauthorized, "API_KEY_REQUIRED", "api key required")
		return
	}

	var req ValidateRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}
	if len(req.Output) == 0 || len(req.Output) > maxOutputBytes {
		httpserver.RespondError(w, http.StatusBadRequest, "INVALID_REQUEST", "output must be non-empty and within the size limit")
		return
	}

	if adm := h.service.Admit(r.Context(), key); !adm.Allowed {
		respondAdmissionDenied(w, adm)
		return
	}

	resp, err := h.service.Validate(r.Context(), key, req, clientIP(r), r.UserAgent())
	if err != nil {
		respondGatewayError(w, err)
		return
	}

	httpserver.Respond(w, http.StatusOK, resp)
}

func (h *Handler) handleBatch(w http.ResponseWriter, r *http.Request) {
	key := auth.APIKeyFromContext(r.Context())
	if key == nil {
		httpserver.RespondError(w, http.StatusUnauthorized, "API_KEY_REQUIRED", "api key required")
		return
	}

	var req BatchRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	n := len(req.Prompts)
	if n < minBatchSize {
		httpserver.RespondError(w, http.StatusBadRequest, "EMPTY_BATCH", errEmptyBatch.Error())
		return
	}
	if n > maxBatchSize {
		httpserver.RespondError(w, http.StatusBadRequest, "BATCH_TOO_LARGE", errBatchTooLarge.Error())
		return
	}
	for _, p := range req.Prompts {
		if len(p.Prompt) == 0 || len(p.Prompt) > maxPromptBytes {
			httpserver.RespondError(w, http.StatusBadRequest, "INVALID_REQUEST", "each prompt must be non-empty and within the size limit")
			return
		}
	}

	if adm := h.service.AdmitBatch(r.Context(), key, n); !adm.Allowed {
		respondAdmissionDenied(w, adm)
		return
	}

	resp, err := h.service.Batch(r.Context(), key, req, clientIP(r), r.UserAgent())
	if err != nil {
		respondGatewayError(w, err)
		return
	}

	httpserver.Respond(w, http.StatusOK, resp)
}

func (h *Handler) handleAdvancedScan(w http.ResponseWriter, r *http.Request) {
	key := auth.APIKeyFromContext(r.Context())
	if key == nil {
		httpserver.RespondError(w, http.StatusUnauthorized, "API_KEY_REQUIRED", "api key required")
		return
	}

	var req AdvancedScanRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}
	if req.Prompt == "" && req.Output == "" {
		httpserver.RespondError(w, http.StatusBadRequest, "INVALID_REQUEST", "at least one of prompt or output is required")
		return
	}
	if len(req.Prompt) > maxAdvancedFieldBytes || len(req.Output) > maxAdvancedFieldBytes {
		httpserver.RespondError(w, http.StatusBadRequest, "INVALID_REQUEST", "prompt and output must be within the size limit")
		return
	}

	if adm := h.service.Admit(r.Context(), key); !adm.Allowed {
		respondAdmissionDenied(w, adm)
		return
	}

	resp, err := h.service.AdvancedScan(r.Context(), key, req, r.Header.Get("X-Scan-Type"), clientIP(r), r.UserAgent())
	if err != nil {
		respondGatewayError(w, err)
		return
	}

	httpserver.Respond(w, http.StatusOK, resp)
}

func respondAdmissionDenied(w http.ResponseWriter, adm AdmissionResult) {
	switch adm.Code {
	case "QUOTA_EXCEEDED":
		if adm.QuotaLimit > 0 {
			detail := strconv.Itoa(adm.QuotaUsed) + "/" + strconv.Itoa(adm.QuotaLimit) + " requests used"
			httpserver.RespondError(w, http.StatusTooManyRequests, "QUOTA_EXCEEDED", "monthly request quota exceeded", detail)
			return
		}
		httpserver.RespondError(w, http.StatusTooManyRequests, "QUOTA_EXCEEDED", "monthly request quota exceeded")
	default:
		if adm.RetryAfter > 0 {
			secs := int(adm.RetryAfter / time.Second)
			if secs < 1 {
				secs = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(secs))
		}
		httpserver.RespondError(w, http.StatusTooManyRequests, "RATE_LIMITED", "rate limit exceeded")
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
