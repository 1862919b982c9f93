// Package journal persists an audit trail of relay decisions: sync
// confirmations and failures, relayed purchases, and rejected payloads.
// Rows are append-only and batched before insert.
package journal

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dkovar/sale-relay/internal/relay"
)

// Config holds journal writer configuration.
type Config struct {
	BatchSize     int           // Rows per insert batch (default: 100)
	FlushInterval time.Duration // Max time a row waits in the batch (default: 1s)
	BufferSize    int           // Input channel capacity (default: 1000)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:     100,
		FlushInterval: time.Second,
		BufferSize:    1000,
	}
}

// Metrics contains journal writer counters.
type Metrics struct {
	Inserts int64
	Flushes int64
	Errors  int64
	Dropped int64
}

// Writer implements relay.Recorder against Postgres.
type Writer struct {
	cfg    Config
	db     *pgxpool.Pool
	logger *slog.Logger

	input chan relay.Record

	batch       []relay.Record
	batchMu     sync.Mutex
	flushTicker *time.Ticker

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	metrics Metrics
}

// NewWriter creates a journal writer.
func NewWriter(cfg Config, db *pgxpool.Pool, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{
		cfg:    cfg,
		db:     db,
		logger: logger,
		input:  make(chan relay.Record, cfg.BufferSize),
		batch:  make([]relay.Record, 0, cfg.BatchSize),
	}
}

// Record queues an entry for persistence. Never blocks; drops with a
// warning when the buffer is full.
func (w *Writer) Record(rec relay.Record) {
	select {
	case w.input <- rec:
	default:
		w.batchMu.Lock()
		w.metrics.Dropped++
		w.batchMu.Unlock()
		w.logger.Warn("journal buffer full, dropping record", "kind", rec.Kind)
	}
}

// Start begins consuming records and writing to the database.
func (w *Writer) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.flushTicker = time.NewTicker(w.cfg.FlushInterval)

	w.wg.Add(1)
	go w.consumeLoop()

	w.wg.Add(1)
	go w.flushLoop()

	w.logger.Info("journal writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop gracefully shuts down the writer, flushing what remains. The
// final flush runs on the caller's context: the internal one is already
// cancelled and would abort the insert.
func (w *Writer) Stop(ctx context.Context) error {
	if w.cancel != nil {
		w.cancel()
	}
	if w.flushTicker != nil {
		w.flushTicker.Stop()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("journal writer stopped")
	case <-ctx.Done():
		w.logger.Warn("journal writer stop timed out")
	}

	w.drain()
	w.flush(ctx)
	return nil
}

// Stats returns current metrics.
func (w *Writer) Stats() Metrics {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.metrics
}

// consumeLoop accumulates records into batches.
func (w *Writer) consumeLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case rec := <-w.input:
			w.batchMu.Lock()
			w.batch = append(w.batch, rec)
			shouldFlush := len(w.batch) >= w.cfg.BatchSize
			w.batchMu.Unlock()

			if shouldFlush {
				w.flush(w.ctx)
			}
		}
	}
}

// flushLoop periodically flushes the batch.
func (w *Writer) flushLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.flushTicker.C:
			w.flush(w.ctx)
		}
	}
}

// drain moves records still queued on the input channel into the batch.
// The consume loop has exited by the time this is called, so records
// left on the channel would otherwise never be written.
func (w *Writer) drain() {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()

	for {
		select {
		case rec := <-w.input:
			w.batch = append(w.batch, rec)
		default:
			return
		}
	}
}

// flush writes the current batch to the database.
func (w *Writer) flush(ctx context.Context) {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}
	batch := w.batch
	w.batch = make([]relay.Record, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	start := time.Now()

	if err := w.batchInsert(ctx, batch); err != nil {
		w.logger.Error("journal insert failed", "error", err, "count", len(batch))
		w.batchMu.Lock()
		w.metrics.Errors++
		w.batchMu.Unlock()
		return
	}

	w.batchMu.Lock()
	w.metrics.Inserts += int64(len(batch))
	w.metrics.Flushes++
	w.batchMu.Unlock()

	w.logger.Debug("flushed journal",
		"count", len(batch),
		"duration", time.Since(start),
	)
}

// batchInsert inserts rows using pgx.Batch.
func (w *Writer) batchInsert(ctx context.Context, recs []relay.Record) error {
	batch := &pgx.Batch{}
	for _, r := range recs {
		sql, args := insertArgs(r)
		batch.Queue(sql, args...)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range recs {
		if _, err := results.Exec(); err != nil {
			return err
		}
	}

	return nil
}

// insertArgs builds the insert statement for one record.
func insertArgs(r relay.Record) (string, []any) {
	const sql = `
		INSERT INTO relay_journal (at, kind, field, target, value, receipt, detail)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	return sql, []any{
		r.At.UnixMicro(),
		string(r.Kind),
		string(r.Field),
		r.Target,
		r.Value,
		r.Receipt,
		r.Detail,
	}
}
