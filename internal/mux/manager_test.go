package mux

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/groblegark/coop/internal/wire"
)

// fakeUpstream is a minimal coop health/screen endpoint whose liveness can
// be toggled.
type fakeUpstream struct {
	healthy atomic.Bool
	ts      *httptest.Server
}

func newFakeUpstream(t *testing.T) *fakeUpstream {
	f := &fakeUpstream{}
	f.healthy.Store(true)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/health", func(w http.ResponseWriter, r *http.Request) {
		if !f.healthy.Load() {
			http.Error(w, "down", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"status":"ok"}`))
	})
	mux.HandleFunc("GET /api/v1/screen", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"lines":["tile"],"cols":80,"rows":24}`))
	})
	f.ts = httptest.NewServer(mux)
	t.Cleanup(f.ts.Close)
	return f
}

func startManager(t *testing.T, cfg ManagerConfig) *Manager {
	t.Helper()
	m := NewManager(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	m.Bind(ctx)
	go m.Run(ctx)
	return m
}

// drainEvents collects manager events until the predicate matches or the
// deadline passes.
func drainEvents(t *testing.T, m *Manager, timeout time.Duration, match func(event) bool) []event {
	t.Helper()
	var seen []event
	deadline := time.After(timeout)
	for {
		select {
		case ev := <-m.Events():
			seen = append(seen, ev)
			if match(ev) {
				return seen
			}
		case <-deadline:
			t.Fatalf("expected event never arrived; saw %d events", len(seen))
		}
	}
}

func TestRegisterProbesUpstream(t *testing.T) {
	m := startManager(t, ManagerConfig{HealthInterval: time.Hour})

	if err := m.Register("dead", "http://127.0.0.1:1", nil); err == nil {
		t.Fatal("unreachable upstream accepted")
	}
	if m.Registry.Has("dead") {
		t.Fatal("unreachable upstream was recorded")
	}

	up := newFakeUpstream(t)
	if err := m.Register("live", up.ts.URL, nil); err != nil {
		t.Fatalf("register: %v", err)
	}
	drainEvents(t, m, 5*time.Second, func(ev event) bool {
		online, ok := ev.payload.(wire.SessionOnline)
		return ok && online.ID == "live"
	})
}

func TestRegisterValidation(t *testing.T) {
	m := startManager(t, ManagerConfig{HealthInterval: time.Hour})
	if err := m.Register("", "http://x", nil); err == nil {
		t.Fatal("empty id accepted")
	}
	if err := m.Register("x", "", nil); err == nil {
		t.Fatal("empty url accepted")
	}
}

func TestHealthEviction(t *testing.T) {
	// S5: after strictly more than max consecutive failures the record is
	// evicted and session:offline broadcast; a healthy survivor is untouched.
	m := startManager(t, ManagerConfig{
		HealthInterval:    50 * time.Millisecond,
		MaxHealthFailures: 3,
	})

	victim := newFakeUpstream(t)
	survivor := newFakeUpstream(t)
	if err := m.Register("victim", victim.ts.URL, nil); err != nil {
		t.Fatal(err)
	}
	if err := m.Register("survivor", survivor.ts.URL, nil); err != nil {
		t.Fatal(err)
	}

	victim.healthy.Store(false)

	drainEvents(t, m, 10*time.Second, func(ev event) bool {
		off, ok := ev.payload.(wire.SessionOffline)
		return ok && off.ID == "victim"
	})

	if m.Registry.Has("victim") {
		t.Fatal("victim still registered after eviction")
	}
	if !m.Registry.Has("survivor") {
		t.Fatal("survivor was evicted too")
	}
}

func TestEvictionRequiresConsecutiveFailures(t *testing.T) {
	// P6: an intervening success resets the counter.
	m := startManager(t, ManagerConfig{HealthInterval: time.Hour, MaxHealthFailures: 3})
	up := newFakeUpstream(t)
	m.Register("a", up.ts.URL, nil)

	for i := 0; i < 3; i++ {
		m.Registry.HealthFailure("a")
	}
	m.Registry.HealthSuccess("a")
	for i := 0; i < 3; i++ {
		if got := m.Registry.HealthFailure("a"); got > 3 {
			t.Fatalf("counter did not reset: %d", got)
		}
	}
	if !m.Registry.Has("a") {
		t.Fatal("record disappeared")
	}
}

func TestDeregisterIdempotent(t *testing.T) {
	m := startManager(t, ManagerConfig{HealthInterval: time.Hour})
	up := newFakeUpstream(t)
	m.Register("a", up.ts.URL, nil)

	m.Deregister("a")
	if m.Registry.Has("a") {
		t.Fatal("record survived deregister")
	}
	m.Deregister("a") // second call is a no-op
}

func TestScreenPollFeedsCache(t *testing.T) {
	m := startManager(t, ManagerConfig{
		HealthInterval:  time.Hour,
		ScreenPollEvery: 20 * time.Millisecond,
	})
	up := newFakeUpstream(t)
	if err := m.Register("a", up.ts.URL, nil); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		rec, _ := m.Registry.Get("a")
		if rec.Screen != nil && len(rec.Screen.Lines) > 0 && rec.Screen.Lines[0] == "tile" {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("polled screen never cached")
}
