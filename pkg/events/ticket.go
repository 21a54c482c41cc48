// Package events implements the guard_log SSE fabric: single-use connection
// tickets and the org-scoped event stream that fans out pub/sub messages
// published by pkg/guardlog's write buffer.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/wisbric/vigil/internal/auth"
)

// ticketTTL bounds how long a minted ticket is redeemable. Short-lived
// because the ticket only needs to survive the round trip from mint to the
// browser opening the EventSource connection.
const ticketTTL = 30 * time.Second

const ticketKeyPrefix = "sse:ticket:"

// Tickets mints and redeems single-use SSE connection tickets backed by
// Redis. A raw session token must never be passed as a query parameter, so
// the browser exchanges its session for a one-shot ticket first.
type Tickets struct {
	redis *redis.Client
}

// NewTickets creates a Tickets store backed by rdb.
func NewTickets(rdb *redis.Client) *Tickets {
	return &Tickets{redis: rdb}
}

// Mint generates a fresh ticket bound to identity and stores it in Redis
// with a short TTL.
func (t *Tickets) Mint(ctx context.Context, identity *auth.SessionIdentity) (string, error) {
	ticket := uuid.New().String()

	payload, err := json.Marshal(identity)
	if err != nil {
		return "", fmt.Errorf("encoding ticket identity: %w", err)
	}

	if err := t.redis.Set(ctx, ticketKeyPrefix+ticket, payload, ticketTTL).Err(); err != nil {
		return "", fmt.Errorf("storing ticket: %w", err)
	}

	return ticket, nil
}

// Redeem atomically fetches and deletes the ticket, so a ticket can only
// ever authenticate a single connection. It implements auth.TicketRedeemer.
func (t *Tickets) Redeem(ctx context.Context, ticket string) (*auth.SessionIdentity, error) {
	key := ticketKeyPrefix + ticket

	payload, err := t.redis.GetDel(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, fmt.Errorf("ticket not found or already used")
		}
		return nil, fmt.Errorf("redeeming ticket: %w", err)
	}

	var identity auth.SessionIdentity
	if err := json.Unmarshal(payload, &identity); err != nil {
		return nil, fmt.Errorf("decoding ticket identity: %w", err)
	}
	return &identity, nil
}
