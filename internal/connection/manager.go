package connection

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DialFunc produces a Client for one connection attempt.
type DialFunc func() Client

// Manager owns the single live session to the sale gateway. It wires every
// session to a keep-alive Monitor, replaces lost sessions through the
// reconnection scheduler, and exposes a stable message stream to upper
// layers across reconnects.
type Manager struct {
	cfg    ManagerConfig
	cb     Callbacks
	dial   DialFunc
	logger *slog.Logger

	messages chan RawMessage

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	sess      *session
	attempts  int
	reconnect *time.Timer
	stopped   bool
	fatalErr  error

	done     chan struct{}
	doneOnce sync.Once
}

// session is one underlying connection plus its timers.
type session struct {
	info    SessionInfo
	client  Client
	monitor *Monitor
	sever   *time.Timer

	// lost ensures a session schedules at most one reconnect, whatever
	// order its error and close frames arrive in.
	lost sync.Once
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithDialFunc overrides how the manager creates clients.
func WithDialFunc(dial DialFunc) ManagerOption {
	return func(m *Manager) {
		m.dial = dial
	}
}

// NewManager creates a new Connection Manager.
func NewManager(cfg ManagerConfig, cb Callbacks, logger *slog.Logger, opts ...ManagerOption) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	m := &Manager{
		cfg:      cfg,
		cb:       cb,
		logger:   logger,
		messages: make(chan RawMessage, cfg.MessageBufferSize),
		done:     make(chan struct{}),
	}
	m.dial = func() Client {
		ccfg := DefaultClientConfig()
		ccfg.URL = cfg.URL
		ccfg.APIKey = cfg.APIKey
		if cfg.WriteTimeout > 0 {
			ccfg.WriteTimeout = cfg.WriteTimeout
		}
		if cfg.MessageBufferSize > 0 {
			ccfg.BufferSize = cfg.MessageBufferSize
		}
		return NewClient(ccfg, logger)
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Start begins connecting in the background. The manager is usable as a
// handle immediately; callers needing the open connection should wait for
// the OnOpen callback.
func (m *Manager) Start(ctx context.Context) error {
	m.ctx, m.cancel = context.WithCancel(ctx)

	go m.connect()

	m.logger.Info("connection manager started", "url", m.cfg.URL)
	return nil
}

// Stop shuts the manager down permanently.
func (m *Manager) Stop() error {
	m.mu.Lock()
	alreadyStopped := m.stopped
	m.stopped = true
	if m.reconnect != nil {
		m.reconnect.Stop()
		m.reconnect = nil
	}
	s := m.sess
	m.sess = nil
	m.mu.Unlock()

	if m.cancel != nil {
		m.cancel()
	}
	if s != nil {
		s.monitor.Stop()
		if s.sever != nil {
			s.sever.Stop()
		}
		s.client.Close()
	}

	m.wg.Wait()
	m.doneOnce.Do(func() { close(m.done) })

	if !alreadyStopped {
		m.logger.Info("connection manager stopped")
	}
	return nil
}

// Messages returns the stream of data messages. The channel is stable
// across reconnects.
func (m *Manager) Messages() <-chan RawMessage {
	return m.messages
}

// Done is closed when the manager stops permanently, either via Stop or
// after exhausting the reconnect attempts.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// Err reports why the manager stopped permanently. ErrMaxReconnects after
// the attempt cap, nil after a plain Stop.
func (m *Manager) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fatalErr
}

// Stats returns current manager state.
func (m *Manager) Stats() ManagerStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := ManagerStats{Attempts: m.attempts}
	if m.sess != nil {
		st.Connected = m.sess.client.IsConnected()
		st.SessionID = m.sess.info.ID
	}
	return st
}

// connect performs one connection attempt.
func (m *Manager) connect() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	client := m.dial()
	if err := client.Connect(m.ctx); err != nil {
		m.logger.Warn("connect failed", "url", m.cfg.URL, "error", err)
		if m.cb.OnError != nil {
			m.cb.OnError(SessionInfo{}, err)
		}
		m.scheduleReconnect()
		return
	}

	s := &session{
		info:   SessionInfo{ID: uuid.New(), ConnectedAt: time.Now()},
		client: client,
	}
	s.monitor = NewMonitor(
		m.cfg.PingInterval,
		m.cfg.PongTimeout,
		client.Ping,
		func() { client.Terminate() },
		m.logger.With("session", s.info.ID),
	)

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		client.Close()
		return
	}
	m.sess = s
	m.attempts = 0
	m.mu.Unlock()

	m.logger.Info("connected", "session", s.info.ID)

	s.monitor.Start()

	if m.cfg.SeverAfter > 0 {
		s.sever = time.AfterFunc(m.cfg.SeverAfter, func() {
			m.logger.Warn("diagnostic sever, terminating session",
				"session", s.info.ID,
				"uptime", m.cfg.SeverAfter,
			)
			client.Terminate()
		})
	}

	if m.cb.OnOpen != nil {
		m.cb.OnOpen(s.info)
	}

	m.wg.Add(1)
	go m.frameLoop(s)
}

// frameLoop consumes the session's frames one at a time, in arrival order.
func (m *Manager) frameLoop(s *session) {
	defer m.wg.Done()

	for {
		select {
		case <-m.ctx.Done():
			return

		case f, ok := <-s.client.Frames():
			if !ok {
				// Frame channel closed without a FrameClosed frame; treat
				// it as the close it is.
				if m.cb.OnClose != nil {
					m.cb.OnClose(s.info)
				}
				m.sessionLost(s)
				return
			}

			switch f.Type {
			case FramePong:
				s.monitor.PongReceived()
				if m.cb.OnPong != nil {
					m.cb.OnPong(s.info)
				}

			case FrameMessage:
				msg := RawMessage{
					Data:       f.Data,
					SessionID:  s.info.ID,
					ReceivedAt: time.Now(),
				}
				select {
				case m.messages <- msg:
				case <-m.ctx.Done():
					return
				default:
					m.logger.Warn("message buffer full, dropping",
						"session", s.info.ID,
					)
				}

			case FrameError:
				m.logger.Warn("connection error",
					"session", s.info.ID,
					"error", f.Err,
				)
				if m.cb.OnError != nil {
					m.cb.OnError(s.info, f.Err)
				}
				m.sessionLost(s)

			case FrameClosed:
				if m.cb.OnClose != nil {
					m.cb.OnClose(s.info)
				}
				m.sessionLost(s)
				return
			}
		}
	}
}

// sessionLost tears down a lost session and schedules a reconnect, exactly
// once per session regardless of how many error/close frames arrive.
func (m *Manager) sessionLost(s *session) {
	s.lost.Do(func() {
		s.monitor.Stop()
		if s.sever != nil {
			s.sever.Stop()
		}
		s.client.Close()

		m.logger.Info("session lost", "session", s.info.ID)
		m.scheduleReconnect()
	})
}

// scheduleReconnect arms the next connection attempt with exponential
// backoff, or stops permanently once the attempt cap is reached.
func (m *Manager) scheduleReconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return
	}

	if m.attempts >= m.cfg.MaxReconnects {
		m.stopped = true
		m.fatalErr = ErrMaxReconnects
		m.logger.Error("max reconnect attempts reached, giving up",
			"attempts", m.attempts,
		)
		m.doneOnce.Do(func() { close(m.done) })
		return
	}

	delay := backoffDelay(m.cfg.ReconnectBase, m.attempts)
	m.attempts++

	m.logger.Info("scheduling reconnect",
		"attempt", m.attempts,
		"delay", delay,
	)

	m.reconnect = time.AfterFunc(delay, m.connect)
}

// backoffDelay returns the delay before reconnect attempt attempts+1:
// base doubled once per prior consecutive failure.
func backoffDelay(base time.Duration, attempts int) time.Duration {
	return base << attempts
}
