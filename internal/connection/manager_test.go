package connection

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// fakeClient is a scriptable Client for manager tests.
type fakeClient struct {
	connectErr error
	frames     chan Frame

	mu        sync.Mutex
	connected bool
	closed    bool
	pings     int
}

func newFakeClient(connectErr error) *fakeClient {
	return &fakeClient{
		connectErr: connectErr,
		frames:     make(chan Frame, 16),
	}
}

func (f *fakeClient) Connect(ctx context.Context) error {
	if f.connectErr != nil {
		return f.connectErr
	}
	f.mu.Lock()
	f.connected = true
	f.mu.Unlock()
	return nil
}

func (f *fakeClient) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	f.closed = true
	return nil
}

func (f *fakeClient) Terminate() error { return f.Close() }

func (f *fakeClient) Send(data []byte) error { return nil }

func (f *fakeClient) Ping() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pings++
	return nil
}

func (f *fakeClient) Frames() <-chan Frame { return f.frames }

func (f *fakeClient) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

// dropSession simulates the transport dying: an error frame, then the
// closed frame, then no more frames.
func (f *fakeClient) dropSession() {
	f.frames <- Frame{Type: FrameError, Err: context.DeadlineExceeded}
	f.frames <- Frame{Type: FrameClosed}
}

// scriptedDialer hands out fake clients one per connection attempt.
type scriptedDialer struct {
	mu      sync.Mutex
	clients []*fakeClient
	dials   int
}

func (d *scriptedDialer) dial() Client {
	d.mu.Lock()
	defer d.mu.Unlock()
	var c *fakeClient
	if d.dials < len(d.clients) {
		c = d.clients[d.dials]
	} else {
		c = newFakeClient(nil)
	}
	d.dials++
	return c
}

func (d *scriptedDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func testManagerConfig() ManagerConfig {
	return ManagerConfig{
		URL:               "ws://fake",
		PingInterval:      time.Hour, // keep the monitor quiet
		PongTimeout:       time.Minute,
		ReconnectBase:     time.Millisecond,
		MaxReconnects:     3,
		WriteTimeout:      time.Second,
		MessageBufferSize: 16,
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if cond() {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
		case <-time.After(2 * time.Millisecond):
		}
	}
}

func TestBackoffDelay(t *testing.T) {
	base := time.Second
	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
	}
	for attempts, w := range want {
		if got := backoffDelay(base, attempts); got != w {
			t.Errorf("backoffDelay(1s, %d) = %v, want %v", attempts, got, w)
		}
	}
}

func TestManager_DefaultDialUsesClientDefaults(t *testing.T) {
	m := NewManager(ManagerConfig{URL: "ws://gateway", APIKey: "k"}, Callbacks{}, nil)

	c, ok := m.dial().(*wsClient)
	if !ok {
		t.Fatalf("default dial produced %T, want *wsClient", m.dial())
	}

	def := DefaultClientConfig()
	if c.cfg.WriteTimeout != def.WriteTimeout {
		t.Errorf("WriteTimeout = %v, want default %v", c.cfg.WriteTimeout, def.WriteTimeout)
	}
	if c.cfg.BufferSize != def.BufferSize {
		t.Errorf("BufferSize = %d, want default %d", c.cfg.BufferSize, def.BufferSize)
	}
	if c.cfg.URL != "ws://gateway" || c.cfg.APIKey != "k" {
		t.Errorf("cfg = %+v, endpoint settings not carried over", c.cfg)
	}
}

func TestManager_ConnectAndDeliver(t *testing.T) {
	fc := newFakeClient(nil)
	d := &scriptedDialer{clients: []*fakeClient{fc}}

	opened := make(chan SessionInfo, 1)
	m := NewManager(testManagerConfig(), Callbacks{
		OnOpen: func(info SessionInfo) { opened <- info },
	}, nil, WithDialFunc(d.dial))

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer m.Stop()

	var info SessionInfo
	select {
	case info = <-opened:
	case <-time.After(2 * time.Second):
		t.Fatal("OnOpen never fired")
	}

	fc.frames <- Frame{Type: FrameMessage, Data: []byte(`{"type":"x"}`)}

	select {
	case msg := <-m.Messages():
		if string(msg.Data) != `{"type":"x"}` {
			t.Errorf("data = %q", msg.Data)
		}
		if msg.SessionID != info.ID {
			t.Errorf("session id = %v, want %v", msg.SessionID, info.ID)
		}
		if msg.ReceivedAt.IsZero() {
			t.Error("ReceivedAt not set")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("message never delivered")
	}

	st := m.Stats()
	if !st.Connected {
		t.Error("Stats().Connected = false")
	}
	if st.Attempts != 0 {
		t.Errorf("Stats().Attempts = %d, want 0", st.Attempts)
	}
}

func TestManager_ReconnectsAfterLoss(t *testing.T) {
	first := newFakeClient(nil)
	second := newFakeClient(nil)
	d := &scriptedDialer{clients: []*fakeClient{first, second}}

	var mu sync.Mutex
	var opens []SessionInfo
	m := NewManager(testManagerConfig(), Callbacks{
		OnOpen: func(info SessionInfo) {
			mu.Lock()
			opens = append(opens, info)
			mu.Unlock()
		},
	}, nil, WithDialFunc(d.dial))

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer m.Stop()

	waitFor(t, "first open", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(opens) == 1
	})

	first.dropSession()

	waitFor(t, "second open", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(opens) == 2
	})

	mu.Lock()
	if opens[0].ID == opens[1].ID {
		t.Error("replacement session reused the old identity")
	}
	mu.Unlock()

	// Counter reset on the successful open.
	if st := m.Stats(); st.Attempts != 0 {
		t.Errorf("Attempts = %d after successful reconnect, want 0", st.Attempts)
	}

	// Error + closed frames from one session must schedule one dial.
	if n := d.dialCount(); n != 2 {
		t.Errorf("dialed %d times, want 2", n)
	}
}

func TestManager_MessageChannelStableAcrossReconnect(t *testing.T) {
	first := newFakeClient(nil)
	second := newFakeClient(nil)
	d := &scriptedDialer{clients: []*fakeClient{first, second}}

	m := NewManager(testManagerConfig(), Callbacks{}, nil, WithDialFunc(d.dial))
	msgs := m.Messages()

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer m.Stop()

	waitFor(t, "first session", func() bool { return first.IsConnected() })
	first.frames <- Frame{Type: FrameMessage, Data: []byte("a")}
	first.dropSession()

	waitFor(t, "second session", func() bool { return second.IsConnected() })
	second.frames <- Frame{Type: FrameMessage, Data: []byte("b")}

	for _, want := range []string{"a", "b"} {
		select {
		case msg := <-msgs:
			if string(msg.Data) != want {
				t.Errorf("got %q, want %q", msg.Data, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("message %q never arrived", want)
		}
	}
}

func TestManager_GivesUpAfterMaxAttempts(t *testing.T) {
	// Every dial fails.
	d := &scriptedDialer{clients: []*fakeClient{
		newFakeClient(context.DeadlineExceeded),
		newFakeClient(context.DeadlineExceeded),
		newFakeClient(context.DeadlineExceeded),
		newFakeClient(context.DeadlineExceeded),
	}}

	cfg := testManagerConfig()
	cfg.MaxReconnects = 3

	m := NewManager(cfg, Callbacks{}, nil, WithDialFunc(d.dial))
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer m.Stop()

	select {
	case <-m.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("manager never gave up")
	}

	if err := m.Err(); err != ErrMaxReconnects {
		t.Errorf("Err() = %v, want ErrMaxReconnects", err)
	}

	// Initial attempt plus per-failure retries up to the cap.
	if n := d.dialCount(); n != 4 {
		t.Errorf("dialed %d times, want 4", n)
	}

	// No further dials after giving up.
	time.Sleep(20 * time.Millisecond)
	if n := d.dialCount(); n != 4 {
		t.Errorf("dialed %d times after giving up, want 4", n)
	}
}

func TestManager_StopCancelsPendingReconnect(t *testing.T) {
	d := &scriptedDialer{clients: []*fakeClient{
		newFakeClient(context.DeadlineExceeded),
	}}

	cfg := testManagerConfig()
	cfg.ReconnectBase = time.Hour // pending timer must be cancelled, not waited out

	m := NewManager(cfg, Callbacks{}, nil, WithDialFunc(d.dial))
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	waitFor(t, "failed dial", func() bool { return d.dialCount() == 1 })

	done := make(chan struct{})
	go func() {
		m.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop blocked on pending reconnect timer")
	}

	if err := m.Err(); err != nil {
		t.Errorf("Err() = %v after plain Stop, want nil", err)
	}
}

func TestManager_StopClosesSession(t *testing.T) {
	fc := newFakeClient(nil)
	d := &scriptedDialer{clients: []*fakeClient{fc}}

	m := NewManager(testManagerConfig(), Callbacks{}, nil, WithDialFunc(d.dial))
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	waitFor(t, "session", func() bool { return fc.IsConnected() })

	if err := m.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	fc.mu.Lock()
	closed := fc.closed
	fc.mu.Unlock()
	if !closed {
		t.Error("session client not closed by Stop")
	}

	select {
	case <-m.Done():
	default:
		t.Error("Done not closed after Stop")
	}
}

func TestManager_ReconnectsAfterLivenessFailure(t *testing.T) {
	// The server accepts but never reads, so keep-alive probes go
	// unanswered and the monitor force-terminates the session. That
	// termination must surface as a session loss and a reconnect, not a
	// silent hang.
	var conns atomic.Int64
	block := make(chan struct{})
	server := mockWSServer(t, func(conn *websocket.Conn) {
		conns.Add(1)
		<-block
	})
	defer server.Close()
	defer close(block)

	cfg := testManagerConfig()
	cfg.URL = wsURL(server)
	cfg.PingInterval = 20 * time.Millisecond
	cfg.PongTimeout = 20 * time.Millisecond

	m := NewManager(cfg, Callbacks{}, nil)
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer m.Stop()

	waitFor(t, "reconnect after missed pong", func() bool {
		return conns.Load() >= 2
	})
}

func TestManager_SeverTerminatesSession(t *testing.T) {
	first := newFakeClient(nil)
	second := newFakeClient(nil)
	d := &scriptedDialer{clients: []*fakeClient{first, second}}

	cfg := testManagerConfig()
	cfg.SeverAfter = 10 * time.Millisecond

	m := NewManager(cfg, Callbacks{}, nil, WithDialFunc(d.dial))
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer m.Stop()

	waitFor(t, "first session", func() bool { return first.IsConnected() })

	// The sever timer terminates the transport; the fake surfaces that as
	// a dropped session, which must trigger a reconnect.
	waitFor(t, "sever", func() bool {
		first.mu.Lock()
		defer first.mu.Unlock()
		return first.closed
	})
	first.dropSession()

	waitFor(t, "replacement session", func() bool { return second.IsConnected() })
}
