package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/wisbric/vigil/internal/httpserver"
)

const sessionCookieName = "better-auth.session_token"

// RequireAPIKey authenticates via X-API-Key, falling back to an
// Authorization: Bearer header, and stores the resolved APIKeyIdentity in
// the request context.
func RequireAPIKey(authr *APIKeyAuthenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := r.Header.Get("X-API-Key")
			if raw == "" {
				raw = bearerToken(r)
			}
			if raw == "" {
				httpserver.RespondError(w, http.StatusUnauthorized, "API_KEY_REQUIRED",
					"API key required. Use X-API-Key header or Authorization: Bearer <key>")
				return
			}

			identity, err := authr.Authenticate(r.Context(), raw)
			if err != nil {
				httpserver.RespondError(w, http.StatusUnauthorized, "API_KEY_INVALID", "invalid API key")
				return
			}

			ctx := NewAPIKeyContext(r.Context(), identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireSession authenticates via an Authorization: Bearer header, falling
// back to the better-auth.session_token cookie, and stores the resolved
// SessionIdentity in the request context.
func RequireSession(authr *SessionAuthenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				if c, err := r.Cookie(sessionCookieName); err == nil {
					token = c.Value
				}
			}
			if token == "" {
				httpserver.RespondError(w, http.StatusUnauthorized, "SESSION_REQUIRED",
					"session token required. Please log in.")
				return
			}

			identity, err := authr.Authenticate(r.Context(), token)
			if err != nil {
				httpserver.RespondError(w, http.StatusUnauthorized, "SESSION_INVALID", "invalid or expired session")
				return
			}

			ctx := NewSessionContext(r.Context(), identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireSessionOrTicket authenticates an event stream connection: a
// redeemed ticket takes precedence, then a Bearer header, then the session
// cookie. Raw session tokens as query parameters are never accepted — the
// caller must not look at r.URL.Query() for credentials.
func RequireSessionOrTicket(tickets TicketRedeemer, authr *SessionAuthenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if raw := r.URL.Query().Get("ticket"); raw != "" {
				identity, err := tickets.Redeem(r.Context(), raw)
				if err != nil {
					httpserver.RespondError(w, http.StatusUnauthorized, "TICKET_INVALID", "invalid or expired ticket")
					return
				}
				ctx := NewSessionContext(r.Context(), identity)
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			token := bearerToken(r)
			if token == "" {
				if c, err := r.Cookie(sessionCookieName); err == nil {
					token = c.Value
				}
			}
			if token == "" {
				httpserver.RespondError(w, http.StatusUnauthorized, "SESSION_REQUIRED", "session token required")
				return
			}

			identity, err := authr.Authenticate(r.Context(), token)
			if err != nil {
				httpserver.RespondError(w, http.StatusUnauthorized, "SESSION_INVALID", "invalid or expired session")
				return
			}
			ctx := NewSessionContext(r.Context(), identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// TicketRedeemer resolves a single-use SSE ticket to the session identity
// that minted it. Implemented by pkg/events against Redis.
type TicketRedeemer interface {
	Redeem(ctx context.Context, ticket string) (*SessionIdentity, error)
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
}
