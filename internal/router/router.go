// Package router decodes raw stream messages into typed domain events.
// Malformed payloads are reported and dropped here; semantic validation
// (e.g. purchase amounts) belongs to the orchestrator.
package router

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/dkovar/sale-relay/internal/connection"
	"github.com/dkovar/sale-relay/internal/model"
)

// RouterConfig holds configuration for the event router.
type RouterConfig struct {
	EventBufferSize int // Default: 1000
}

// DefaultRouterConfig returns default configuration.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		EventBufferSize: 1000,
	}
}

// RouterStats contains runtime statistics.
type RouterStats struct {
	MessagesReceived int64
	EventsRouted     int64
	ParseErrors      int64
	UnknownMessages  int64
}

// Router parses raw messages from the Connection Manager into events for
// the orchestrator.
type Router struct {
	cfg    RouterConfig
	logger *slog.Logger

	input  <-chan connection.RawMessage
	events chan model.Event

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu              sync.RWMutex
	received        int64
	routed          int64
	parseErrors     int64
	unknownMessages int64
}

// NewRouter creates a new event router.
func NewRouter(cfg RouterConfig, input <-chan connection.RawMessage, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}

	return &Router{
		cfg:    cfg,
		logger: logger,
		input:  input,
		events: make(chan model.Event, cfg.EventBufferSize),
	}
}

// Start begins routing messages.
func (r *Router) Start(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)

	r.wg.Add(1)
	go r.routeLoop()

	r.logger.Info("event router started", "buffer", r.cfg.EventBufferSize)
	return nil
}

// Stop gracefully shuts down the router.
func (r *Router) Stop(ctx context.Context) error {
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
		r.logger.Info("event router stopped")
	case <-ctx.Done():
		r.logger.Warn("event router stop timed out")
	}

	close(r.events)
	return nil
}

// Events returns the typed event stream.
func (r *Router) Events() <-chan model.Event {
	return r.events
}

// Stats returns current statistics.
func (r *Router) Stats() RouterStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return RouterStats{
		MessagesReceived: r.received,
		EventsRouted:     r.routed,
		ParseErrors:      r.parseErrors,
		UnknownMessages:  r.unknownMessages,
	}
}

// routeLoop is the main routing goroutine.
func (r *Router) routeLoop() {
	defer r.wg.Done()

	for {
		select {
		case <-r.ctx.Done():
			return
		case raw, ok := <-r.input:
			if !ok {
				r.logger.Info("input channel closed")
				return
			}
			r.route(raw)
		}
	}
}

// route parses a single raw message and forwards the decoded event.
func (r *Router) route(raw connection.RawMessage) {
	r.mu.Lock()
	r.received++
	r.mu.Unlock()

	ev, err := Decode(raw)
	if err != nil {
		if errors.Is(err, errUnknownType) {
			r.mu.Lock()
			r.unknownMessages++
			r.mu.Unlock()
			r.logger.Debug("unknown message type, skipping")
			return
		}
		r.logger.Warn("failed to decode event",
			"session", raw.SessionID,
			"error", err,
		)
		r.mu.Lock()
		r.parseErrors++
		r.mu.Unlock()
		return
	}

	select {
	case r.events <- ev:
		r.mu.Lock()
		r.routed++
		r.mu.Unlock()
	case <-r.ctx.Done():
	}
}

var errUnknownType = errors.New("unknown event type")
