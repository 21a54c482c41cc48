package sidecar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"

	"github.com/wisbric/vigil/internal/cryptoutil"
	"github.com/wisbric/vigil/internal/telemetry"
)

// Per-RPC deadlines (table in the ML gateway design).
const (
	deadlineHealth            = 30 * time.Second
	deadlineScanPrompt        = 60 * time.Second
	deadlineScanOutput        = 60 * time.Second
	deadlineAdvancedScan      = 120 * time.Second
	deadlineStartGarakScan    = 30 * time.Second
	deadlineGetGarakStatus    = 15 * time.Second
	deadlineRetestProbe       = 120 * time.Second
	deadlineCancelGarakScan   = 30 * time.Second
)

const cacheTTL = 300 * time.Second

// Gateway fronts the ML sidecar: it resolves a ready client from the pool,
// invokes the requested RPC with the appropriate deadline, and (for the
// scan RPCs) consults a prompt-hash cache before calling out.
type Gateway struct {
	pool   *ClientPool
	redis  *redis.Client
	logger *slog.Logger
}

// NewGateway builds a Gateway against addr, using rdb for response caching.
func NewGateway(addr string, connectTimeout time.Duration, rdb *redis.Client, logger *slog.Logger) *Gateway {
	return &Gateway{pool: NewClientPool(addr, connectTimeout), redis: rdb, logger: logger}
}

func (g *Gateway) invoke(ctx context.Context, method string, deadline time.Duration, req, resp any) error {
	conn, err := g.pool.Get(ctx)
	if err != nil {
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	start := time.Now()
	err = conn.Invoke(callCtx, method, req, resp, grpc.CallContentSubtype(jsonCodecName))
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	telemetry.SidecarRPCDuration.WithLabelValues(method, outcome).Observe(time.Since(start).Seconds())
	return err
}

// Health calls the sidecar health check RPC.
func (g *Gateway) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := g.invoke(ctx, "/sidecar.ScanService/Health", deadlineHealth, &struct{}{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ScanPrompt calls the legacy simple-scan RPC, consulting the prompt-hash
// cache first. The returned bool reports whether resp was served from cache.
func (g *Gateway) ScanPrompt(ctx context.Context, prompt string, req ScanPromptRequest) (*ScanResponse, bool, error) {
	hash := cryptoutil.HashPrompt(prompt)
	if cached, ok := g.lookupCache(ctx, hash); ok {
		return cached, true, nil
	}

	var resp ScanResponse
	start := time.Now()
	if err := g.invoke(ctx, "/sidecar.ScanService/ScanPrompt", deadlineScanPrompt, &req, &resp); err != nil {
		return nil, false, err
	}
	resp.LatencyMS = time.Since(start).Milliseconds()

	g.storeCache(ctx, hash, &resp)
	return &resp, false, nil
}

// ScanOutput calls the output-validate RPC. Output responses are never
// cached by prompt hash.
func (g *Gateway) ScanOutput(ctx context.Context, req ScanOutputRequest) (*ScanResponse, error) {
	var resp ScanResponse
	start := time.Now()
	if err := g.invoke(ctx, "/sidecar.ScanService/ScanOutput", deadlineScanOutput, &req, &resp); err != nil {
		return nil, err
	}
	resp.LatencyMS = time.Since(start).Milliseconds()
	return &resp, nil
}

// AdvancedScan calls the advanced-scan RPC, consulting the prompt-hash cache
// when a prompt is present. The returned bool reports a cache hit.
func (g *Gateway) AdvancedScan(ctx context.Context, req AdvancedScanRequest) (*ScanResponse, bool, error) {
	var hash string
	if req.Prompt != "" {
		hash = cryptoutil.HashPrompt(req.Prompt)
		if cached, ok := g.lookupCache(ctx, hash); ok {
			return cached, true, nil
		}
	}

	var resp ScanResponse
	start := time.Now()
	if err := g.invoke(ctx, "/sidecar.ScanService/AdvancedScan", deadlineAdvancedScan, &req, &resp); err != nil {
		return nil, false, err
	}
	resp.LatencyMS = time.Since(start).Milliseconds()

	if hash != "" {
		g.storeCache(ctx, hash, &resp)
	}
	return &resp, false, nil
}

// StartGarakScan starts a red-team scan on the sidecar.
func (g *Gateway) StartGarakScan(ctx context.Context, req StartGarakScanRequest) (*StartGarakScanResponse, error) {
	var resp StartGarakScanResponse
	if err := g.invoke(ctx, "/sidecar.GarakService/StartScan", deadlineStartGarakScan, &req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetGarakStatus polls a started scan.
func (g *Gateway) GetGarakStatus(ctx context.Context, remoteScanID string) (*GetGarakStatusResponse, error) {
	var resp GetGarakStatusResponse
	req := GetGarakStatusRequest{RemoteScanID: remoteScanID}
	if err := g.invoke(ctx, "/sidecar.GarakService/GetStatus", deadlineGetGarakStatus, &req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CancelGarakScan signals cancellation to the sidecar.
func (g *Gateway) CancelGarakScan(ctx context.Context, remoteScanID string) error {
	var resp CancelGarakScanResponse
	req := CancelGarakScanRequest{RemoteScanID: remoteScanID}
	return g.invoke(ctx, "/sidecar.GarakService/CancelScan", deadlineCancelGarakScan, &req, &resp)
}

// RetestProbe re-runs a single probe.
func (g *Gateway) RetestProbe(ctx context.Context, req RetestProbeRequest) (*RetestProbeResponse, error) {
	var resp RetestProbeResponse
	if err := g.invoke(ctx, "/sidecar.GarakService/RetestProbe", deadlineRetestProbe, &req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func cacheKey(hash string) string {
	return fmt.Sprintf("guard:scan:%s", hash)
}

// lookupCache returns a cached response and true on a usable hit. On a
// deserialization failure the stale key is deleted and the caller proceeds
// with a fresh scan.
func (g *Gateway) lookupCache(ctx context.Context, hash string) (*ScanResponse, bool) {
	raw, err := g.redis.Get(ctx, cacheKey(hash)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			g.logger.Warn("guard cache read failed", "error", err)
		}
		return nil, false
	}

	var resp ScanResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		g.logger.Warn("guard cache entry corrupt, evicting", "error", err)
		_ = g.redis.Del(ctx, cacheKey(hash)).Err()
		return nil, false
	}

	telemetry.GuardCacheHitsTotal.Inc()
	return &resp, true
}

// storeCache writes resp with a ~300s TTL. Failures are logged but non-fatal.
func (g *Gateway) storeCache(ctx context.Context, hash string, resp *ScanResponse) {
	raw, err := json.Marshal(resp)
	if err != nil {
		g.logger.Warn("marshaling guard cache entry", "error", err)
		return
	}
	if err := g.redis.Set(ctx, cacheKey(hash), raw, cacheTTL).Err(); err != nil {
		g.logger.Warn("writing guard cache entry", "error", err)
	}
}
