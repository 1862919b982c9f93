package connection

import (
	"log/slog"
	"sync"
	"time"
)

// Monitor implements the keep-alive cycle for one session: every interval
// it sends a probe and arms a pong deadline. A pong cancels the deadline;
// a missed deadline calls expire, which force-terminates the transport.
//
// All timers belong to the session the Monitor was created for and are
// cancelled by Stop, so a superseded session can never be acted on late.
type Monitor struct {
	interval time.Duration
	timeout  time.Duration
	probe    func() error
	expire   func()
	logger   *slog.Logger

	mu       sync.Mutex
	deadline *time.Timer
	stopped  bool

	done chan struct{}
	wg   sync.WaitGroup
}

// NewMonitor creates a keep-alive monitor. probe sends a liveness probe,
// expire is invoked when a probe goes unanswered for timeout.
func NewMonitor(interval, timeout time.Duration, probe func() error, expire func(), logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		interval: interval,
		timeout:  timeout,
		probe:    probe,
		expire:   expire,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Start begins the probe cycle in the background.
func (m *Monitor) Start() {
	m.wg.Add(1)
	go m.run()
}

func (m *Monitor) run() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.sendProbe()
		}
	}
}

func (m *Monitor) sendProbe() {
	m.mu.Lock()
	if m.stopped || m.deadline != nil {
		// Previous probe still awaiting its pong; the armed deadline
		// covers liveness, re-probing would only reset it.
		m.mu.Unlock()
		return
	}
	m.deadline = time.AfterFunc(m.timeout, m.onDeadline)
	m.mu.Unlock()

	if err := m.probe(); err != nil {
		m.logger.Debug("keep-alive probe failed", "error", err)
		return
	}
	m.logger.Debug("keep-alive probe sent")
}

func (m *Monitor) onDeadline() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.deadline = nil
	m.mu.Unlock()

	m.logger.Warn("no pong within deadline, terminating connection",
		"timeout", m.timeout,
	)
	m.expire()
}

// PongReceived cancels the pending pong deadline.
func (m *Monitor) PongReceived() {
	m.mu.Lock()
	if m.deadline != nil {
		m.deadline.Stop()
		m.deadline = nil
	}
	m.mu.Unlock()

	m.logger.Debug("pong received")
}

// Stop cancels the probe cycle and any pending deadline. Safe to call
// more than once.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	if m.deadline != nil {
		m.deadline.Stop()
		m.deadline = nil
	}
	m.mu.Unlock()

	close(m.done)
	m.wg.Wait()
}
