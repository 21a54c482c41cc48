package sidecar

import (
	"context"
	"fmt"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
)

const clientTTL = 300 * time.Second

// cachedClient wraps a gRPC connection with the time it was constructed.
type cachedClient struct {
	conn      *grpc.ClientConn
	createdAt time.Time
}

func (c *cachedClient) expired() bool {
	return time.Since(c.createdAt) >= clientTTL
}

// ClientPool provides a single shared, breaker-gated gRPC connection to the
// ML sidecar, refreshed on a TTL.
type ClientPool struct {
	addr           string
	connectTimeout time.Duration

	mu      sync.RWMutex
	cached  *cachedClient
	breaker breaker
}

// NewClientPool creates a pool targeting addr.
func NewClientPool(addr string, connectTimeout time.Duration) *ClientPool {
	return &ClientPool{addr: addr, connectTimeout: connectTimeout}
}

// Get returns a ready gRPC connection, constructing or refreshing it as
// needed. Readers take the shared lock and reuse the cached connection;
// writers hold the exclusive lock only for construction.
func (p *ClientPool) Get(ctx context.Context) (*grpc.ClientConn, error) {
	p.mu.RLock()
	if p.cached != nil && !p.cached.expired() {
		conn := p.cached.conn
		p.mu.RUnlock()
		return conn, nil
	}
	p.mu.RUnlock()

	if err := p.breaker.allow(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cached != nil && !p.cached.expired() {
		return p.cached.conn, nil
	}

	conn, err := p.construct(ctx)
	if err != nil {
		p.breaker.recordFailure()
		return nil, fmt.Errorf("constructing ml sidecar client: %w", err)
	}

	if p.cached != nil {
		_ = p.cached.conn.Close()
	}
	p.cached = &cachedClient{conn: conn, createdAt: time.Now()}
	p.breaker.recordSuccess()
	return conn, nil
}

// construct builds a new connection. grpc.NewClient resolves lazily rather
// than dialing eagerly, and ctx is not used; connectTimeout is applied as
// the keepalive ping timeout.
func (p *ClientPool) construct(ctx context.Context) (*grpc.ClientConn, error) {
	_ = ctx
	return grpc.NewClient(p.addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                30 * time.Second,
			Timeout:             p.connectTimeout,
			PermitWithoutStream: true,
		}),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(jsonCodecName)),
	)
}
