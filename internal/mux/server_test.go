package mux

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/groblegark/coop/internal/wire"
)

func startMuxServer(t *testing.T) (*httptest.Server, *Server, *Manager) {
	t.Helper()
	m := NewManager(ManagerConfig{HealthInterval: time.Hour})
	srv := NewServer(m, "", "")

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	m.Bind(ctx)
	go m.Run(ctx)
	go srv.broadcaster(ctx)

	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return ts, srv, m
}

func muxPost(t *testing.T, url string, payload any) *http.Response {
	t.Helper()
	data, _ := json.Marshal(payload)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	resp.Body.Close()
	return resp
}

func TestRegistryCRUD(t *testing.T) {
	ts, _, _ := startMuxServer(t)
	up := newFakeUpstream(t)

	// Register probes, then records.
	resp := muxPost(t, ts.URL+"/api/v1/sessions", map[string]any{"id": "s1", "url": up.ts.URL})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("register status = %d", resp.StatusCode)
	}

	// Unreachable upstream rejected.
	resp = muxPost(t, ts.URL+"/api/v1/sessions", map[string]any{"id": "s2", "url": "http://127.0.0.1:1"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unreachable register status = %d", resp.StatusCode)
	}

	// Conflicting url rejected.
	other := newFakeUpstream(t)
	resp = muxPost(t, ts.URL+"/api/v1/sessions", map[string]any{"id": "s1", "url": other.ts.URL})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("conflict register status = %d", resp.StatusCode)
	}

	// List shows the record.
	listResp, err := http.Get(ts.URL + "/api/v1/sessions")
	if err != nil {
		t.Fatal(err)
	}
	var list struct {
		Sessions []wire.MuxSession `json:"sessions"`
	}
	json.NewDecoder(listResp.Body).Decode(&list)
	listResp.Body.Close()
	if len(list.Sessions) != 1 || list.Sessions[0].ID != "s1" {
		t.Fatalf("list = %+v", list.Sessions)
	}

	// Idempotent delete.
	for i := 0; i < 2; i++ {
		req, _ := http.NewRequest("DELETE", ts.URL+"/api/v1/sessions/s1", nil)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("delete %d status = %d", i, resp.StatusCode)
		}
	}
}

func TestMuxWSLifecycleOrder(t *testing.T) {
	ts, _, _ := startMuxServer(t)
	up := newFakeUpstream(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/mux"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.CloseNow()

	// Snapshot first.
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	var env wire.Envelope
	json.Unmarshal(data, &env)
	if env.Type != wire.TypeSessions {
		t.Fatalf("first frame = %q, want sessions", env.Type)
	}

	// Register upstream: online must precede any state/screen for it.
	muxPost(t, ts.URL+"/api/v1/sessions", map[string]any{"id": "s1", "url": up.ts.URL})

	sawOnline := false
	for !sawOnline {
		_, data, err = conn.Read(ctx)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		json.Unmarshal(data, &env)
		switch env.Type {
		case wire.TypeSessionOnline:
			var online wire.SessionOnline
			json.Unmarshal(data, &online)
			if online.ID != "s1" {
				t.Fatalf("online id = %q", online.ID)
			}
			sawOnline = true
		case wire.TypeMuxState, wire.TypeScreenBatch:
			t.Fatalf("%s for s1 before session:online", env.Type)
		}
	}

	// Deregister: offline arrives, and nothing for s1 after it.
	req, _ := http.NewRequest("DELETE", ts.URL+"/api/v1/sessions/s1", nil)
	resp, _ := http.DefaultClient.Do(req)
	resp.Body.Close()

	for {
		_, data, err = conn.Read(ctx)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		json.Unmarshal(data, &env)
		if env.Type == wire.TypeSessionOffline {
			return
		}
	}
}

func TestCredentialFramesRelayed(t *testing.T) {
	ts, _, _ := startMuxServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/mux"

	broker, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial broker: %v", err)
	}
	defer broker.CloseNow()
	browser, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial browser: %v", err)
	}
	defer browser.CloseNow()

	broker.Read(ctx)  // sessions snapshot
	browser.Read(ctx) // sessions snapshot

	// An opaque broker frame reaches the other connection byte-for-byte.
	frame := []byte(`{"type":"credential:rotated","account":"a1","expires":120}`)
	if err := broker.Write(ctx, websocket.MessageText, frame); err != nil {
		t.Fatal(err)
	}
	_, got, err := browser.Read(ctx)
	if err != nil {
		t.Fatalf("read relay: %v", err)
	}
	if string(got) != string(frame) {
		t.Fatalf("relayed frame = %s, want %s", got, frame)
	}

	// The sender does not hear its own frame back.
	echoCtx, echoCancel := context.WithTimeout(ctx, 300*time.Millisecond)
	defer echoCancel()
	if _, data, err := broker.Read(echoCtx); err == nil {
		t.Fatalf("frame echoed to sender: %s", data)
	}
}

func TestInputSendForwarding(t *testing.T) {
	// The mux forwards input:send to the upstream's REST input endpoint.
	var gotInput atomic.Value
	upstream := http.NewServeMux()
	upstream.HandleFunc("GET /api/v1/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"ok"}`))
	})
	upstream.HandleFunc("GET /api/v1/screen", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"lines":[],"cols":80,"rows":24}`))
	})
	upstream.HandleFunc("POST /api/v1/input", func(w http.ResponseWriter, r *http.Request) {
		var in wire.Input
		json.NewDecoder(r.Body).Decode(&in)
		gotInput.Store(in.Text)
		w.Write([]byte(`{"ok":true}`))
	})
	upTS := httptest.NewServer(upstream)
	defer upTS.Close()

	ts, _, m := startMuxServer(t)
	if err := m.Register("s1", upTS.URL, nil); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/mux"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.CloseNow()
	conn.Read(ctx) // sessions snapshot

	msg, _ := json.Marshal(wire.InputSend{Type: wire.TypeInputSend, Session: "s1", Text: "run tests"})
	if err := conn.Write(ctx, websocket.MessageText, msg); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if v := gotInput.Load(); v != nil {
			if v.(string) != "run tests" {
				t.Fatalf("forwarded text = %q", v)
			}
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("input never reached the upstream")
}
