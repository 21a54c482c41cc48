package guardlog

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/wisbric/vigil/internal/telemetry"
)

const (
	bufferCapacity = 10_000
	flushBatchSize = 100
	flushInterval  = 500 * time.Millisecond

	pubsubChannel = "guard_log_events"
)

// Writer is the single-consumer, many-producer audit write buffer. It
// absorbs scan traffic without blocking request handlers on database
// latency.
type Writer struct {
	pool    *pgxpool.Pool
	redis   *redis.Client
	logger  *slog.Logger
	entries chan Entry
	wg      sync.WaitGroup
}

// NewWriter creates a Writer. Call Start to begin the background flush loop.
func NewWriter(pool *pgxpool.Pool, rdb *redis.Client, logger *slog.Logger) *Writer {
	return &Writer{
		pool:    pool,
		redis:   rdb,
		logger:  logger,
		entries: make(chan Entry, bufferCapacity),
	}
}

// Start begins the background goroutine that batches and flushes entries.
func (w *Writer) Start(ctx context.Context) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run(ctx)
	}()
}

// Close drains the channel and waits for the final flush.
func (w *Writer) Close() {
	close(w.entries)
	w.wg.Wait()
}

// Queue enqueues entry without blocking. If the buffer is full the entry is
// dropped and a warning is logged — audit loss is preferable to
// client-visible latency on the guard request hot path.
func (w *Writer) Queue(entry Entry) {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	select {
	case w.entries <- entry:
	default:
		telemetry.WriteBufferDroppedTotal.Inc()
		w.logger.Warn("guard log write buffer full, dropping entry",
			"request_type", entry.RequestType, "api_key_id", entry.APIKeyID)
	}
}

// QueueBlocking enqueues entry, applying backpressure instead of dropping.
// Not exercised on the request hot path; reserved for callers that must not
// lose an entry.
func (w *Writer) QueueBlocking(ctx context.Context, entry Entry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	select {
	case w.entries <- entry:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Writer) run(ctx context.Context) {
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]Entry, 0, flushBatchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		w.flush(batch)
		batch = batch[:0]
	}

	for {
		select {
		case entry, ok := <-w.entries:
			if !ok {
				flush()
				return
			}
			batch = append(batch, entry)
			if len(batch) >= flushBatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-ctx.Done():
			for {
				select {
				case entry, ok := <-w.entries:
					if !ok {
						flush()
						return
					}
					batch = append(batch, entry)
				default:
					flush()
					return
				}
			}
		}
	}
}

// flush performs a single multi-row insert carrying the full column set,
// then publishes a compact event per successfully persisted entry. If the
// insert fails the whole batch is logged and discarded — there is no retry
// in the base design.
func (w *Writer) flush(batch []Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := w.insertBatch(ctx, batch); err != nil {
		w.logger.Error("flushing guard log batch, discarding", "error", err, "count", len(batch))
		return
	}

	for _, e := range batch {
		payload, err := json.Marshal(e.toEvent())
		if err != nil {
			w.logger.Warn("marshaling guard log event", "error", err, "id", e.ID)
			continue
		}
		if err := w.redis.Publish(ctx, pubsubChannel, payload).Err(); err != nil {
			w.logger.Warn("publishing guard log event", "error", err, "id", e.ID)
		}
	}
}

func (w *Writer) insertBatch(ctx context.Context, batch []Entry) error {
	rows := make([][]any, len(batch))
	for i, e := range batch {
		var responseID any
		if e.ResponseID != uuid.Nil {
			responseID = e.ResponseID
		}
		rows[i] = []any{
			e.ID, e.OrgID, e.APIKeyID, e.PromptHash, e.IsSafe, e.RiskScore,
			nullableJSON(e.ThreatsDetected), e.ThreatCategories, e.LatencyMS, e.Cached, nullableString(e.IP), nullableString(e.PromptText),
			nullableString(e.SanitizedPrompt), e.RequestType, nullableJSON(e.ScanOptions), nullableString(e.UserAgent), responseID, e.CreatedAt,
		}
	}

	_, err := w.pool.CopyFrom(ctx,
		pgx.Identifier{"guard_log_entries"},
		[]string{"id", "org_id", "api_key_id", "prompt_hash", "is_safe", "risk_score",
			"threats_detected", "threat_categories", "latency_ms", "cached", "ip", "prompt_text",
			"sanitized_prompt", "request_type", "scan_options", "user_agent", "response_id", "created_at"},
		pgx.CopyFromRows(rows),
	)
	return err
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
