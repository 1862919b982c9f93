package connection

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Client represents a single WebSocket connection to the sale gateway.
type Client interface {
	// Connect establishes the WebSocket connection.
	Connect(ctx context.Context) error

	// Close gracefully closes the connection with a close handshake.
	Close() error

	// Terminate hard-closes the connection without a handshake. Used when
	// the peer stopped responding to keep-alive probes.
	Terminate() error

	// Send writes raw bytes to the connection.
	Send(data []byte) error

	// Ping writes a keep-alive probe control frame.
	Ping() error

	// Frames returns the ordered stream of frames from this connection.
	// The channel is closed once the session is over; a FrameClosed frame
	// precedes the close when it can still be delivered.
	Frames() <-chan Frame

	// IsConnected returns current connection state.
	IsConnected() bool
}

// wsClient implements Client over gorilla/websocket.
type wsClient struct {
	cfg    ClientConfig
	logger *slog.Logger

	conn *websocket.Conn

	frames chan Frame
	done   chan struct{}

	// Write serialization
	writeMu sync.Mutex

	mu        sync.RWMutex
	connected bool
	closed    bool
}

// NewClient creates a new WebSocket client.
func NewClient(cfg ClientConfig, logger *slog.Logger) Client {
	if logger == nil {
		logger = slog.Default()
	}

	return &wsClient{
		cfg:    cfg,
		logger: logger,
		frames: make(chan Frame, cfg.BufferSize),
		done:   make(chan struct{}),
	}
}

// Connect establishes the WebSocket connection.
func (c *wsClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrAlreadyClosed
	}
	c.mu.Unlock()

	header := http.Header{}
	header.Set("Accept", "application/json")
	if c.cfg.APIKey != "" {
		header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	// Server pings are answered directly; pongs to our probes surface as
	// FramePong so the keep-alive monitor can cancel its deadline.
	conn.SetPingHandler(func(data string) error {
		return conn.WriteControl(
			websocket.PongMessage,
			[]byte(data),
			time.Now().Add(time.Second),
		)
	})
	conn.SetPongHandler(func(string) error {
		c.emit(Frame{Type: FramePong})
		return nil
	})

	go c.readLoop()

	c.logger.Debug("websocket connected", "url", c.cfg.URL)

	return nil
}

// Close gracefully closes the connection.
func (c *wsClient) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.connected = false
	c.mu.Unlock()

	close(c.done)

	if c.conn != nil {
		c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		return c.conn.Close()
	}

	return nil
}

// Terminate hard-closes the underlying connection.
func (c *wsClient) Terminate() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.connected = false
	c.mu.Unlock()

	close(c.done)

	if c.conn != nil {
		// No close handshake: the peer already stopped responding.
		return c.conn.Close()
	}

	return nil
}

// Send writes raw bytes to the connection.
func (c *wsClient) Send(data []byte) error {
	c.mu.RLock()
	if !c.connected {
		c.mu.RUnlock()
		return ErrNotConnected
	}
	c.mu.RUnlock()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Ping writes a keep-alive probe.
func (c *wsClient) Ping() error {
	c.mu.RLock()
	if !c.connected {
		c.mu.RUnlock()
		return ErrNotConnected
	}
	conn := c.conn
	c.mu.RUnlock()

	deadline := time.Now().Add(c.cfg.WriteTimeout)
	return conn.WriteControl(websocket.PingMessage, []byte("keepalive"), deadline)
}

// Frames returns the frame channel.
func (c *wsClient) Frames() <-chan Frame {
	return c.frames
}

// IsConnected returns the current connection state.
func (c *wsClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// emit delivers a control frame, giving up if the client was closed.
func (c *wsClient) emit(f Frame) {
	select {
	case c.frames <- f:
	case <-c.done:
	}
}

// readLoop reads messages from the WebSocket and turns them into frames.
// It is the sole sender on c.frames, so closing the channel on exit is the
// terminal signal and cannot be lost. A plain FrameClosed emit could be
// dropped when Close or Terminate already closed done, leaving the
// consumer waiting forever.
func (c *wsClient) readLoop() {
	defer close(c.frames)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			closedLocally := c.closed
			c.connected = false
			c.mu.Unlock()

			if !closedLocally && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.emit(Frame{Type: FrameError, Err: err})
			}
			c.emit(Frame{Type: FrameClosed})
			return
		}

		select {
		case c.frames <- Frame{Type: FrameMessage, Data: data}:
		case <-c.done:
			return
		default:
			c.logger.Warn("frame buffer full, dropping message")
		}
	}
}
