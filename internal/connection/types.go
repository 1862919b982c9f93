package connection

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Errors
var (
	ErrNotConnected  = errors.New("not connected")
	ErrAlreadyClosed = errors.New("already closed")
	ErrMaxReconnects = errors.New("max reconnect attempts reached")
)

// FrameType classifies frames emitted by a Client.
type FrameType int

const (
	// FrameMessage carries an application-level payload.
	FrameMessage FrameType = iota
	// FramePong is the response to a keep-alive probe.
	FramePong
	// FrameError reports a transport-level failure.
	FrameError
	// FrameClosed is the final frame of a session.
	FrameClosed
)

// Frame is a single control or data frame from the transport.
type Frame struct {
	Type FrameType
	Data []byte // payload (FrameMessage only)
	Err  error  // transport error (FrameError only)
}

// RawMessage is a data message handed to upper layers, tagged with the
// session it arrived on so late arrivals from a superseded session can be
// recognized.
type RawMessage struct {
	Data       []byte
	SessionID  uuid.UUID
	ReceivedAt time.Time
}

// SessionInfo identifies one underlying connection.
type SessionInfo struct {
	ID          uuid.UUID
	ConnectedAt time.Time
}

// Callbacks are lifecycle hooks invoked from the session frame loop.
// Nil entries are skipped.
type Callbacks struct {
	OnOpen  func(SessionInfo)
	OnClose func(SessionInfo)
	OnPong  func(SessionInfo)
	OnError func(SessionInfo, error)
}

// ClientConfig configures a single WebSocket client.
type ClientConfig struct {
	URL          string        // WebSocket URL of the sale gateway
	APIKey       string        // Bearer token (empty = unauthenticated)
	WriteTimeout time.Duration // Write deadline for sends
	BufferSize   int           // Frame channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		WriteTimeout: 5 * time.Second,
		BufferSize:   1000,
	}
}

// ManagerConfig configures the Connection Manager.
type ManagerConfig struct {
	URL           string
	APIKey        string
	PingInterval  time.Duration // Keep-alive probe interval
	PongTimeout   time.Duration // Deadline for a pong after a probe
	ReconnectBase time.Duration // First reconnect delay, doubled per attempt
	MaxReconnects int           // Attempts before giving up permanently

	// SeverAfter hard-kills the session after this uptime to exercise the
	// reconnection path. Diagnostic only; zero disables it.
	SeverAfter time.Duration

	WriteTimeout      time.Duration
	MessageBufferSize int
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		PingInterval:      15 * time.Second,
		PongTimeout:       10 * time.Second,
		ReconnectBase:     1 * time.Second,
		MaxReconnects:     10,
		WriteTimeout:      5 * time.Second,
		MessageBufferSize: 1000,
	}
}

// ManagerStats provides a snapshot of manager state.
type ManagerStats struct {
	Connected bool
	SessionID uuid.UUID
	Attempts  int // consecutive failed attempts since the last open
}
