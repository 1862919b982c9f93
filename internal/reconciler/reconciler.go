// Package reconciler periodically re-fetches the authoritative sale state
// and feeds it back into the relay as ordinary events. The orchestrator's
// change-detection guard turns a no-change cycle into a no-op, so the
// reconciler is safe to run at any interval; it exists to catch updates
// missed during downstream outages or reconnect windows.
package reconciler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dkovar/sale-relay/internal/model"
)

// StateSource fetches the authoritative sale state.
type StateSource interface {
	GetSaleState(ctx context.Context) (model.SaleState, error)
}

// EventSink receives reconciliation events.
type EventSink interface {
	Enqueue(ev model.Event) bool
}

// Config holds reconciler configuration.
type Config struct {
	Interval time.Duration // Reconcile interval (default: 5m)
	Timeout  time.Duration // Per-fetch timeout (default: 10s)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval: 5 * time.Minute,
		Timeout:  10 * time.Second,
	}
}

// Reconciler periodically syncs the relay with the authoritative source.
type Reconciler struct {
	cfg    Config
	src    StateSource
	sink   EventSink
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Reconciler.
func New(cfg Config, src StateSource, sink EventSink, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		cfg:    cfg,
		src:    src,
		sink:   sink,
		logger: logger,
	}
}

// Start begins the reconciliation loop.
func (r *Reconciler) Start(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)

	r.wg.Add(1)
	go r.run()

	r.logger.Info("reconciler started", "interval", r.cfg.Interval)
	return nil
}

// Stop gracefully shuts down the reconciler.
func (r *Reconciler) Stop(ctx context.Context) error {
	if r.cancel != nil {
		r.cancel()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("reconciler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run is the main reconciliation loop.
func (r *Reconciler) run() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.reconcile()
		}
	}
}

// reconcile fetches the authoritative state and re-submits it.
func (r *Reconciler) reconcile() {
	start := time.Now()

	ctx, cancel := context.WithTimeout(r.ctx, r.cfg.Timeout)
	st, err := r.src.GetSaleState(ctx)
	cancel()

	if err != nil {
		r.logger.Error("reconciliation fetch failed", "error", err)
		return
	}

	w := st.Window
	now := time.Now()
	r.sink.Enqueue(model.Event{
		Type:       model.EventSaleWindowChanged,
		Window:     &w,
		ReceivedAt: now,
	})
	r.sink.Enqueue(model.Event{
		Type:       model.EventBalanceChanged,
		Balance:    st.Balance,
		ReceivedAt: now,
	})

	r.logger.Debug("reconciliation complete", "duration", time.Since(start))
}
