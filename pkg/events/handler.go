package events

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wisbric/vigil/internal/auth"
	"github.com/wisbric/vigil/internal/httpserver"
	"github.com/wisbric/vigil/internal/telemetry"
	"github.com/wisbric/vigil/pkg/guardlog"
)

const (
	pubsubChannel     = "guard_log_events"
	statsInterval     = 10 * time.Second
	heartbeatInterval = 15 * time.Second
)

// Handler serves the SSE ticket mint endpoint and the guard_log event
// stream itself.
type Handler struct {
	logger  *slog.Logger
	redis   *redis.Client
	tickets *Tickets
	stats   *guardlog.Store
}

// NewHandler creates a Handler.
func NewHandler(logger *slog.Logger, rdb *redis.Client, tickets *Tickets, stats *guardlog.Store) *Handler {
	return &Handler{logger: logger, redis: rdb, tickets: tickets, stats: stats}
}

// MintTicket and Stream are mounted separately by the caller, each under
// its own middleware — MintTicket requires a full session, Stream accepts
// either a session or a redeemed ticket.

// MintTicket issues a short-lived, single-use SSE connection ticket for the
// caller's session.
func (h *Handler) MintTicket(w http.ResponseWriter, r *http.Request) {
	sess := auth.SessionFromContext(r.Context())
	if sess == nil {
		httpserver.RespondError(w, http.StatusUnauthorized, "SESSION_REQUIRED", "session required")
		return
	}

	ticket, err := h.tickets.Mint(r.Context(), sess)
	if err != nil {
		h.logger.Error("minting sse ticket", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "TICKET_MINT_FAILED", "failed to mint connection ticket")
		return
	}

	httpserver.Respond(w, http.StatusOK, map[string]any{"ticket": ticket, "expires_in": int(ticketTTL.Seconds())})
}

// Stream fans out org-scoped guard_log events over SSE. It subscribes to
// the single global pub/sub channel and filters by organization_id
// in-process, since Redis pub/sub has no per-tenant channel partitioning
// here and the message volume is low enough that a filter is cheaper than
// N subscriptions.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	sess := auth.SessionFromContext(r.Context())
	if sess == nil {
		httpserver.RespondError(w, http.StatusUnauthorized, "SESSION_REQUIRED", "session required")
		return
	}

	httpserver.SetSSEHeaders(w)
	telemetry.SSEConnectionsGauge.Inc()
	defer telemetry.SSEConnectionsGauge.Dec()

	ctx := r.Context()
	pubsub := h.redis.Subscribe(ctx, pubsubChannel)
	defer pubsub.Close()
	msgCh := pubsub.Channel()

	if err := httpserver.WriteSSEEvent(w, "connected", map[string]any{
		"organization_id": sess.OrgID,
		"user_id":         sess.UserID,
		"message":         "connected to guard event stream",
	}); err != nil {
		return
	}

	if stats, err := h.stats.Stats(ctx, sess.OrgID); err == nil {
		_ = httpserver.WriteSSEEvent(w, "stats_update", stats)
	}

	statsTicker := time.NewTicker(statsInterval)
	defer statsTicker.Stop()
	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgCh:
			if !ok {
				return
			}
			if err := h.forwardEvent(w, sess, msg); err != nil {
				return
			}
		case <-statsTicker.C:
			stats, err := h.stats.Stats(ctx, sess.OrgID)
			if err != nil {
				h.logger.Warn("computing sse stats_update", "error", err)
				continue
			}
			if err := httpserver.WriteSSEEvent(w, "stats_update", stats); err != nil {
				return
			}
		case <-heartbeat.C:
			if err := httpserver.WriteSSEComment(w, "keep-alive"); err != nil {
				return
			}
		}
	}
}

func (h *Handler) forwardEvent(w http.ResponseWriter, sess *auth.SessionIdentity, msg *redis.Message) error {
	var ev guardlog.Event
	if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
		h.logger.Warn("decoding guard_log event", "error", err)
		return nil
	}
	if ev.OrgID != sess.OrgID {
		return nil
	}
	return httpserver.WriteSSEEvent(w, "guard_log", ev)
}
