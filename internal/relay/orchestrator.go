package relay

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dkovar/sale-relay/internal/model"
	"github.com/dkovar/sale-relay/internal/target"
)

// Orchestrator drives idempotent state-sync calls from observed events.
// All snapshot and state-machine mutation happens on a single goroutine
// fed by the event and result channels.
type Orchestrator struct {
	cfg     Config
	targets []target.Target
	rec     Recorder
	logger  *slog.Logger

	events  chan model.Event
	results chan syncResult

	// Touched only from the run loop.
	snap   snapshot
	fields map[model.Field]*fieldState
	ops    map[model.Field]*pendingOp

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	stats Stats
}

// New creates an orchestrator. rec may be nil to disable journaling.
func New(cfg Config, targets []target.Target, rec Recorder, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}

	return &Orchestrator{
		cfg:     cfg,
		targets: targets,
		rec:     rec,
		logger:  logger,
		events:  make(chan model.Event, cfg.EventBuffer),
		results: make(chan syncResult, len(targets)*2+1),
		fields:  make(map[model.Field]*fieldState),
		ops:     make(map[model.Field]*pendingOp),
	}
}

// Start begins the processing loop.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.ctx, o.cancel = context.WithCancel(ctx)

	o.wg.Add(1)
	go o.run()

	names := make([]string, 0, len(o.targets))
	for _, t := range o.targets {
		names = append(names, t.Name())
	}
	o.logger.Info("orchestrator started",
		"targets", names,
		"retry_attempts", o.cfg.RetryAttempts,
	)
	return nil
}

// Stop gracefully shuts down.
func (o *Orchestrator) Stop(ctx context.Context) error {
	if o.cancel != nil {
		o.cancel()
	}

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		o.logger.Info("orchestrator stopped")
		return nil
	case <-ctx.Done():
		o.logger.Warn("orchestrator stop timed out")
		return ctx.Err()
	}
}

// Enqueue submits an event for processing. Returns false if the queue is
// full and the event was dropped.
func (o *Orchestrator) Enqueue(ev model.Event) bool {
	select {
	case o.events <- ev:
		return true
	default:
		o.logger.Warn("event buffer full, dropping event", "type", ev.Type)
		return false
	}
}

// Bootstrap enqueues a forced sync of the authoritative state so every
// target is brought up to date regardless of whether values changed. Call
// after Start, before the live stream is attached.
func (o *Orchestrator) Bootstrap(st model.SaleState) {
	w := st.Window
	o.Enqueue(model.Event{
		Type:       model.EventSaleWindowChanged,
		Window:     &w,
		Forced:     true,
		ReceivedAt: time.Now(),
	})
	o.Enqueue(model.Event{
		Type:       model.EventBalanceChanged,
		Balance:    st.Balance,
		Forced:     true,
		ReceivedAt: time.Now(),
	})
}

// Stats returns current counters.
func (o *Orchestrator) Stats() Stats {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stats
}

// run is the single consumer of events and downstream results.
func (o *Orchestrator) run() {
	defer o.wg.Done()

	for {
		select {
		case <-o.ctx.Done():
			return
		case res := <-o.results:
			o.handleResult(res)
		case ev := <-o.events:
			o.handleEvent(ev)
		}
	}
}

func (o *Orchestrator) handleEvent(ev model.Event) {
	o.count(func(s *Stats) { s.EventsProcessed++ })

	switch ev.Type {
	case model.EventSaleWindowChanged:
		o.handleField(model.FieldSaleWindow, ev)
	case model.EventBalanceChanged:
		o.handleField(model.FieldBalance, ev)
	case model.EventPurchase:
		o.handlePurchase(ev)
	default:
		o.logger.Warn("unhandled event type", "type", ev.Type)
	}
}

// handleField runs the per-field state machine for one observation.
func (o *Orchestrator) handleField(f model.Field, ev model.Event) {
	fs := o.field(f)

	if fs.inflight {
		// Hold the newest observation; it is evaluated after the
		// in-flight operation completes.
		fs.deferred = &ev
		return
	}

	// After a failure the downstream state is uncertain, so the guard is
	// bypassed until a sync confirms again.
	if !ev.Forced && fs.state != StateFailed && o.matchesSnapshot(f, ev) {
		o.logger.Debug("value unchanged, skipping sync", "field", f)
		o.count(func(s *Stats) { s.Skipped++ })
		return
	}

	o.startSync(f, ev)
}

// matchesSnapshot reports whether the observed value equals the last
// confirmed one. Unknown (never confirmed) fields never match, so the
// first observation always syncs.
func (o *Orchestrator) matchesSnapshot(f model.Field, ev model.Event) bool {
	switch f {
	case model.FieldSaleWindow:
		return o.snap.windowKnown && *ev.Window == o.snap.window
	case model.FieldBalance:
		return o.snap.balanceKnown && ev.Balance == o.snap.balance
	}
	return false
}

// startSync fans the new value out to every target.
func (o *Orchestrator) startSync(f model.Field, ev model.Event) {
	val := fieldValue{}
	switch f {
	case model.FieldSaleWindow:
		val.window = *ev.Window
	case model.FieldBalance:
		val.balance = ev.Balance
	}

	fs := o.field(f)

	if len(o.targets) == 0 {
		o.applySnapshot(f, val)
		fs.state = StateSynced
		return
	}

	fs.state = StatePending
	fs.inflight = true
	o.ops[f] = &pendingOp{value: val, remaining: len(o.targets)}

	o.logger.Info("syncing field",
		"field", f,
		"value", renderValue(f, val),
		"forced", ev.Forced,
	)

	for _, tgt := range o.targets {
		o.count(func(s *Stats) { s.SyncCalls++ })
		o.wg.Add(1)
		go o.syncTarget(f, val, tgt)
	}
}

// syncTarget performs one target's sync call off the loop and reports the
// outcome back through the results channel.
func (o *Orchestrator) syncTarget(f model.Field, val fieldValue, tgt target.Target) {
	defer o.wg.Done()

	receipt, err := o.callWithRetry(f, val, tgt)

	select {
	case o.results <- syncResult{field: f, target: tgt.Name(), receipt: receipt, err: err}:
	case <-o.ctx.Done():
	}
}

// callWithRetry issues the sync call with bounded exponential backoff.
func (o *Orchestrator) callWithRetry(f model.Field, val fieldValue, tgt target.Target) (target.Receipt, error) {
	backoff := o.cfg.RetryBackoff
	var lastErr error

	for attempt := 0; attempt <= o.cfg.RetryAttempts; attempt++ {
		if attempt > 0 {
			o.logger.Debug("retrying sync call",
				"field", f,
				"target", tgt.Name(),
				"attempt", attempt,
				"backoff", backoff,
			)
			select {
			case <-o.ctx.Done():
				return "", o.ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		ctx, cancel := context.WithTimeout(o.ctx, o.cfg.CallTimeout)
		receipt, err := o.call(ctx, f, val, tgt)
		cancel()

		if err == nil {
			return receipt, nil
		}
		lastErr = err
	}

	return "", lastErr
}

func (o *Orchestrator) call(ctx context.Context, f model.Field, val fieldValue, tgt target.Target) (target.Receipt, error) {
	switch f {
	case model.FieldSaleWindow:
		return tgt.SetSaleWindow(ctx, val.window)
	case model.FieldBalance:
		return tgt.SetBalance(ctx, val.balance)
	}
	return "", fmt.Errorf("unknown field %q", f)
}

// handleResult processes one target's confirmation or failure.
func (o *Orchestrator) handleResult(res syncResult) {
	op, ok := o.ops[res.field]
	if !ok {
		return
	}

	if res.err != nil {
		op.failed++
		o.count(func(s *Stats) { s.SyncFailed++ })
		o.logger.Error("sync failed",
			"field", res.field,
			"target", res.target,
			"error", res.err,
		)
	} else {
		o.count(func(s *Stats) { s.SyncConfirmed++ })
		o.logger.Info("sync confirmed",
			"field", res.field,
			"target", res.target,
			"receipt", res.receipt,
		)
	}

	o.record(Record{
		At:      time.Now(),
		Kind:    RecordSync,
		Field:   res.field,
		Target:  res.target,
		Value:   renderValue(res.field, op.value),
		Receipt: string(res.receipt),
		Detail:  errText(res.err),
	})

	op.remaining--
	if op.remaining > 0 {
		return
	}
	delete(o.ops, res.field)

	fs := o.field(res.field)
	fs.inflight = false

	if op.failed == 0 {
		o.applySnapshot(res.field, op.value)
		fs.state = StateSynced
	} else {
		// Snapshot deliberately untouched: the next event for this field
		// is still compared against the last confirmed value.
		fs.state = StateFailed
	}

	if fs.deferred != nil {
		ev := *fs.deferred
		fs.deferred = nil
		o.handleField(res.field, ev)
	}
}

func (o *Orchestrator) applySnapshot(f model.Field, val fieldValue) {
	switch f {
	case model.FieldSaleWindow:
		o.snap.window = val.window
		o.snap.windowKnown = true
	case model.FieldBalance:
		o.snap.balance = val.balance
		o.snap.balanceKnown = true
	}
}

// handlePurchase validates and relays a one-shot purchase. No snapshot or
// dedup logic: every occurrence is a distinct action.
func (o *Orchestrator) handlePurchase(ev model.Event) {
	p := *ev.Purchase

	if p.Amount <= 0 || p.Buyer == "" {
		o.logger.Warn("rejecting invalid purchase",
			"buyer", p.Buyer,
			"amount", p.Amount,
		)
		o.count(func(s *Stats) { s.PurchasesRejected++ })
		o.record(Record{
			At:     time.Now(),
			Kind:   RecordReject,
			Value:  fmt.Sprintf("buyer=%s amount=%d", p.Buyer, p.Amount),
			Detail: "invalid purchase payload",
		})
		return
	}

	o.count(func(s *Stats) { s.PurchasesRelayed++ })

	for _, tgt := range o.targets {
		o.wg.Add(1)
		go func(tgt target.Target) {
			defer o.wg.Done()

			ctx, cancel := context.WithTimeout(o.ctx, o.cfg.CallTimeout)
			receipt, err := tgt.RecordPurchase(ctx, p)
			cancel()

			if err != nil {
				o.logger.Error("purchase relay failed",
					"target", tgt.Name(),
					"buyer", p.Buyer,
					"error", err,
				)
			} else {
				o.logger.Info("purchase relayed",
					"target", tgt.Name(),
					"buyer", p.Buyer,
					"amount", p.Amount,
					"receipt", receipt,
				)
			}
			o.record(Record{
				At:      time.Now(),
				Kind:    RecordPurchase,
				Target:  tgt.Name(),
				Value:   fmt.Sprintf("buyer=%s amount=%d value=%s chain=%d", p.Buyer, p.Amount, p.Value, p.ChainID),
				Receipt: string(receipt),
				Detail:  errText(err),
			})
		}(tgt)
	}
}

func (o *Orchestrator) field(f model.Field) *fieldState {
	fs, ok := o.fields[f]
	if !ok {
		fs = &fieldState{state: StateSynced}
		o.fields[f] = fs
	}
	return fs
}

func (o *Orchestrator) record(rec Record) {
	if o.rec != nil {
		o.rec.Record(rec)
	}
}

func (o *Orchestrator) count(fn func(*Stats)) {
	o.mu.Lock()
	fn(&o.stats)
	o.mu.Unlock()
}

func renderValue(f model.Field, val fieldValue) string {
	switch f {
	case model.FieldSaleWindow:
		return fmt.Sprintf("[%d,%d]", val.window.StartsAt, val.window.EndsAt)
	case model.FieldBalance:
		return val.balance
	}
	return ""
}

func errText(err error) string {
	if err != nil {
		return err.Error()
	}
	return ""
}
