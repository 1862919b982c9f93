package connection

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestMonitor_ProbesAtInterval(t *testing.T) {
	var probes atomic.Int64

	m := NewMonitor(20*time.Millisecond, time.Second,
		func() error { probes.Add(1); return nil },
		func() { t.Error("unexpected expire") },
		nil,
	)
	m.Start()
	defer m.Stop()

	// Answer every probe so the deadline never fires and the next tick
	// sends a fresh probe.
	deadline := time.After(500 * time.Millisecond)
	for probes.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("only %d probes sent", probes.Load())
		case <-time.After(5 * time.Millisecond):
			m.PongReceived()
		}
	}
}

func TestMonitor_ExpiresWithoutPong(t *testing.T) {
	var probedAt atomic.Int64
	expired := make(chan time.Time, 1)

	timeout := 50 * time.Millisecond
	m := NewMonitor(20*time.Millisecond, timeout,
		func() error {
			probedAt.CompareAndSwap(0, time.Now().UnixNano())
			return nil
		},
		func() { expired <- time.Now() },
		nil,
	)
	m.Start()
	defer m.Stop()

	select {
	case at := <-expired:
		sent := time.Unix(0, probedAt.Load())
		// Never before the deadline; some scheduling slack after.
		if elapsed := at.Sub(sent); elapsed < timeout {
			t.Errorf("expired after %v, want >= %v", elapsed, timeout)
		}
	case <-time.After(time.Second):
		t.Fatal("monitor never expired")
	}
}

func TestMonitor_PongCancelsDeadline(t *testing.T) {
	var expires atomic.Int64

	m := NewMonitor(15*time.Millisecond, 40*time.Millisecond,
		func() error { return nil },
		func() { expires.Add(1) },
		nil,
	)
	m.Start()

	// Answer promptly for a while.
	done := time.After(200 * time.Millisecond)
answering:
	for {
		select {
		case <-done:
			break answering
		case <-time.After(5 * time.Millisecond):
			m.PongReceived()
		}
	}
	m.Stop()

	if n := expires.Load(); n != 0 {
		t.Errorf("expire fired %d times despite prompt pongs", n)
	}
}

func TestMonitor_SingleDeadlinePerProbe(t *testing.T) {
	var probes atomic.Int64

	// Interval much shorter than timeout: ticks while a deadline is armed
	// must not send additional probes.
	m := NewMonitor(10*time.Millisecond, 300*time.Millisecond,
		func() error { probes.Add(1); return nil },
		func() {},
		nil,
	)
	m.Start()

	time.Sleep(120 * time.Millisecond)
	m.Stop()

	if n := probes.Load(); n != 1 {
		t.Errorf("sent %d probes while awaiting a pong, want 1", n)
	}
}

func TestMonitor_StopIdempotent(t *testing.T) {
	m := NewMonitor(10*time.Millisecond, 20*time.Millisecond,
		func() error { return nil },
		func() {},
		nil,
	)
	m.Start()
	m.Stop()
	m.Stop()
}

func TestMonitor_NoExpireAfterStop(t *testing.T) {
	var expires atomic.Int64

	m := NewMonitor(10*time.Millisecond, 30*time.Millisecond,
		func() error { return nil },
		func() { expires.Add(1) },
		nil,
	)
	m.Start()

	// Let a probe go out, then stop before its deadline fires.
	time.Sleep(15 * time.Millisecond)
	m.Stop()
	time.Sleep(60 * time.Millisecond)

	if n := expires.Load(); n != 0 {
		t.Errorf("expire fired %d times after Stop", n)
	}
}
