package mux

import (
	"context"
	"encoding/json"
	"net/http"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/groblegark/coop/internal/logger"
	"github.com/groblegark/coop/internal/wire"
)

const wsWriteTimeout = 10 * time.Second

// browserConn is one dashboard WebSocket with its subscription narrowing.
type browserConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
	subs map[string]bool // empty = everything
}

func (b *browserConn) subscribed(session string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.subs) == 0 {
		return true
	}
	return b.subs[session]
}

func (b *browserConn) setSubs(sessions []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = make(map[string]bool, len(sessions))
	for _, s := range sessions {
		b.subs[s] = true
	}
}

func (b *browserConn) write(ctx context.Context, frame []byte) error {
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return b.conn.Write(writeCtx, websocket.MessageText, frame)
}

// Server is the coopmux transport: registry CRUD over REST plus the browser
// fan-out WebSocket and the per-session passthrough.
type Server struct {
	manager      *Manager
	authToken    string
	launchScript string
	mux          *http.ServeMux

	browserMu sync.Mutex
	browsers  map[*browserConn]struct{}
}

// NewServer builds the mux transport. launchScript may be empty, disabling
// POST /sessions/launch.
func NewServer(manager *Manager, authToken, launchScript string) *Server {
	s := &Server{
		manager:      manager,
		authToken:    authToken,
		launchScript: launchScript,
		mux:          http.NewServeMux(),
		browsers:     make(map[*browserConn]struct{}),
	}

	s.mux.HandleFunc("GET /api/v1/health", s.handleHealth)
	s.mux.HandleFunc("GET /api/v1/sessions", s.handleListSessions)
	s.mux.HandleFunc("POST /api/v1/sessions", s.handleRegister)
	s.mux.HandleFunc("DELETE /api/v1/sessions/{id}", s.handleDeregister)
	s.mux.HandleFunc("GET /api/v1/sessions/{id}/screen", s.handleSessionScreen)
	s.mux.HandleFunc("POST /api/v1/sessions/launch", s.handleLaunch)
	s.mux.HandleFunc("GET /ws/mux", s.handleMuxWS)
	s.mux.HandleFunc("GET /ws/{session}", s.handlePassthroughWS)

	return s
}

func (s *Server) authed(r *http.Request) bool {
	if s.authToken == "" {
		return true
	}
	token := r.URL.Query().Get("token")
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		token = strings.TrimPrefix(auth, "Bearer ")
	}
	return token == s.authToken
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/api/v1/health" && !s.authed(r) {
		writeError(w, http.StatusUnauthorized, wire.CodeUnauthorized, "missing or invalid token")
		return
	}
	s.mux.ServeHTTP(w, r)
}

// Run starts the broadcaster and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	s.manager.Bind(ctx)
	go s.manager.Run(ctx)
	go s.broadcaster(ctx)

	httpSrv := &http.Server{Addr: addr, Handler: s}
	errCh := make(chan error, 1)
	go func() { errCh <- httpSrv.ListenAndServe() }()
	logger.Info("coopmux listening", "addr", addr)

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpSrv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// broadcaster is the single goroutine that writes manager events to
// browsers, so per-session ordering (online before state/screen, offline
// last) holds for every tile.
func (s *Server) broadcaster(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-s.manager.Events():
			if ev.batch != nil {
				s.sendScreenBatch(ctx, ev.batch)
				continue
			}
			frame, err := json.Marshal(ev.payload)
			if err != nil {
				continue
			}
			s.fanOut(ctx, ev.session, frame)
		}
	}
}

func (s *Server) fanOut(ctx context.Context, session string, frame []byte) {
	for _, b := range s.browserList() {
		if session != "" && !b.subscribed(session) {
			continue
		}
		b.write(ctx, frame)
	}
}

// sendScreenBatch filters per browser subscription and drops entries for
// sessions no longer registered, which keeps screen data from trailing a
// session:offline.
func (s *Server) sendScreenBatch(ctx context.Context, entries []wire.ScreenEntry) {
	live := entries[:0]
	for _, e := range entries {
		if s.manager.Registry.Has(e.Session) {
			live = append(live, e)
		}
	}
	if len(live) == 0 {
		return
	}
	for _, b := range s.browserList() {
		var visible []wire.ScreenEntry
		for _, e := range live {
			if b.subscribed(e.Session) {
				visible = append(visible, e)
			}
		}
		if len(visible) == 0 {
			continue
		}
		frame, err := json.Marshal(wire.ScreenBatch{Type: wire.TypeScreenBatch, Screens: visible})
		if err != nil {
			continue
		}
		b.write(ctx, frame)
	}
}

func (s *Server) browserList() []*browserConn {
	s.browserMu.Lock()
	defer s.browserMu.Unlock()
	out := make([]*browserConn, 0, len(s.browsers))
	for b := range s.browsers {
		out = append(out, b)
	}
	return out
}

// ---- REST ----

type errorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	var env errorEnvelope
	env.Error.Code = code
	env.Error.Message = msg
	writeJSON(w, status, env)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": len(s.manager.Registry.List()),
	})
}

func recordToWire(rec Record) wire.MuxSession {
	return wire.MuxSession{
		ID:           rec.ID,
		URL:          rec.URL,
		Metadata:     rec.Metadata,
		RegisteredAt: rec.RegisteredAt.Unix(),
		State:        rec.State,
	}
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	records := s.manager.Registry.List()
	out := make([]wire.MuxSession, len(records))
	for i, rec := range records {
		out[i] = recordToWire(rec)
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID       string            `json:"id"`
		URL      string            `json:"url"`
		Metadata map[string]string `json:"metadata,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, wire.CodeBadRequest, "invalid JSON")
		return
	}
	if err := s.manager.Register(req.ID, req.URL, req.Metadata); err != nil {
		writeError(w, http.StatusBadRequest, wire.CodeBadRequest, err.Error())
		return
	}
	rec, _ := s.manager.Registry.Get(req.ID)
	writeJSON(w, http.StatusOK, recordToWire(rec))
}

func (s *Server) handleDeregister(w http.ResponseWriter, r *http.Request) {
	s.manager.Deregister(r.PathValue("id"))
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleSessionScreen(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.manager.Registry.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, wire.CodeBadRequest, "no such session")
		return
	}
	if rec.Screen == nil {
		writeJSON(w, http.StatusOK, wire.ScreenEntry{Session: rec.ID})
		return
	}
	writeJSON(w, http.StatusOK, *rec.Screen)
}

// handleLaunch shells out to the configured launch script. The script's
// contract (flags, output) is owned by the deployment, not the mux.
func (s *Server) handleLaunch(w http.ResponseWriter, r *http.Request) {
	if s.launchScript == "" {
		writeError(w, http.StatusNotFound, wire.CodeBadRequest, "no launch script configured")
		return
	}
	var body json.RawMessage
	json.NewDecoder(r.Body).Decode(&body)

	ctx, cancel := context.WithTimeout(r.Context(), 60*time.Second)
	defer cancel()
	cmd := exec.CommandContext(ctx, s.launchScript)
	cmd.Stdin = strings.NewReader(string(body))
	out, err := cmd.Output()
	if err != nil {
		writeError(w, http.StatusInternalServerError, wire.CodeInternal, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(out)
}

// ---- WebSocket ----

func (s *Server) handleMuxWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		return
	}
	defer conn.CloseNow()

	b := &browserConn{conn: conn}
	s.browserMu.Lock()
	s.browsers[b] = struct{}{}
	s.browserMu.Unlock()
	defer func() {
		s.browserMu.Lock()
		delete(s.browsers, b)
		s.browserMu.Unlock()
	}()

	ctx := r.Context()

	// Registry snapshot first; everything else follows through the
	// broadcaster.
	records := s.manager.Registry.List()
	sessions := make([]wire.MuxSession, len(records))
	for i, rec := range records {
		sessions[i] = recordToWire(rec)
	}
	frame, _ := json.Marshal(wire.SessionsMsg{Type: wire.TypeSessions, Sessions: sessions})
	if err := b.write(ctx, frame); err != nil {
		return
	}

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var env wire.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		switch env.Type {
		case wire.TypeSubscribe:
			var msg wire.Subscribe
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}
			b.setSubs(msg.Sessions)

		case wire.TypeInputSend:
			var msg wire.InputSend
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}
			if err := s.manager.SendInput(msg.Session, msg.Text); err != nil {
				s.writeWSError(ctx, b, err.Error())
			}

		case wire.TypeInputSendRaw:
			var msg wire.InputSendRaw
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}
			if err := s.manager.SendInputRaw(msg.Session, msg.Data); err != nil {
				s.writeWSError(ctx, b, err.Error())
			}

		default:
			// credential:* frames from a credential broker are relayed to
			// every other connection unchanged; the mux does not interpret
			// them.
			if strings.HasPrefix(env.Type, wire.PrefixCredential) {
				s.relayCredential(ctx, b, data)
			}
		}
	}
}

// relayCredential forwards an opaque broker frame to every mux connection
// except the sender.
func (s *Server) relayCredential(ctx context.Context, from *browserConn, frame []byte) {
	for _, b := range s.browserList() {
		if b == from {
			continue
		}
		b.write(ctx, frame)
	}
}

func (s *Server) writeWSError(ctx context.Context, b *browserConn, msg string) {
	frame, _ := json.Marshal(wire.ErrorMsg{Type: wire.TypeError, Code: wire.CodeBadRequest, Message: msg})
	b.write(ctx, frame)
}

// handlePassthroughWS proxies a browser WebSocket straight to the upstream
// coop's /ws, both directions, until either side closes.
func (s *Server) handlePassthroughWS(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.manager.Registry.Get(r.PathValue("session"))
	if !ok {
		http.Error(w, "no such session", http.StatusNotFound)
		return
	}

	upstreamURL := wsURL(rec.URL) + "/ws"
	if q := r.URL.RawQuery; q != "" {
		upstreamURL += "?" + q
	}
	ctx := r.Context()
	upstream, _, err := websocket.Dial(ctx, upstreamURL, nil)
	if err != nil {
		http.Error(w, "upstream dial failed", http.StatusBadGateway)
		return
	}
	defer upstream.CloseNow()
	upstream.SetReadLimit(4 * 1024 * 1024)

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(4 * 1024 * 1024)

	pump := func(dst, src *websocket.Conn, done chan<- struct{}) {
		defer close(done)
		for {
			typ, data, err := src.Read(ctx)
			if err != nil {
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
			err = dst.Write(writeCtx, typ, data)
			cancel()
			if err != nil {
				return
			}
		}
	}

	up := make(chan struct{})
	down := make(chan struct{})
	go pump(upstream, conn, up)
	go pump(conn, upstream, down)
	select {
	case <-up:
	case <-down:
	case <-ctx.Done():
	}
}
