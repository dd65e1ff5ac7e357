package mux

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/groblegark/coop/internal/client"
	"github.com/groblegark/coop/internal/logger"
	"github.com/groblegark/coop/internal/wire"
)

// ManagerConfig tunes the health loop and taps.
type ManagerConfig struct {
	HealthInterval    time.Duration // probe cadence, default 5s
	MaxHealthFailures int           // eviction needs strictly more, default 3
	BatchInterval     time.Duration // screen batch tick
	ScreenPollEvery   time.Duration // bound on HTTP screen polling, default 2s
	UpstreamToken     string        // bearer token presented to coops
}

func (c *ManagerConfig) defaults() {
	if c.HealthInterval <= 0 {
		c.HealthInterval = 5 * time.Second
	}
	if c.MaxHealthFailures <= 0 {
		c.MaxHealthFailures = 3
	}
	if c.BatchInterval <= 0 {
		c.BatchInterval = DefaultBatchInterval
	}
	if c.ScreenPollEvery <= 0 {
		c.ScreenPollEvery = 2 * time.Second
	}
}

// outbound events routed through the transport's single broadcaster.
type event struct {
	session string // "" = not session-scoped
	payload any    // marshaled and fanned out
	batch   []wire.ScreenEntry
}

// sessionTap is one upstream link: WS for state/screen plus bounded HTTP
// screen polling.
type sessionTap struct {
	cancel context.CancelFunc
	client *client.Client
}

// Manager owns the registry, taps, and health loops.
type Manager struct {
	cfg ManagerConfig

	Registry *Registry
	agg      *Aggregator
	httpc    *http.Client

	mu   sync.Mutex
	taps map[string]*sessionTap

	events chan event
	ctx    context.Context
}

func NewManager(cfg ManagerConfig) *Manager {
	cfg.defaults()
	return &Manager{
		cfg:      cfg,
		Registry: NewRegistry(),
		agg:      NewAggregator(),
		httpc:    &http.Client{Timeout: 3 * time.Second},
		taps:     make(map[string]*sessionTap),
		events:   make(chan event, 256),
		ctx:      context.Background(),
	}
}

// Events is consumed by the transport's broadcaster goroutine.
func (m *Manager) Events() <-chan event { return m.events }

// Bind attaches the lifetime context for taps and health loops. Must run
// before the transport starts accepting registrations.
func (m *Manager) Bind(ctx context.Context) {
	m.ctx = ctx
}

// Run starts the aggregator; taps and health loops start per registration.
func (m *Manager) Run(ctx context.Context) {
	m.Bind(ctx)
	go m.agg.Run(ctx, m.cfg.BatchInterval, func(entries []wire.ScreenEntry) {
		m.emit(event{batch: entries})
	})
	<-ctx.Done()
}

func (m *Manager) emit(ev event) {
	select {
	case m.events <- ev:
	default:
		logger.Warn("mux event queue overflow, dropping", "session", ev.session)
	}
}

// Register probes the upstream and, when reachable, adds the record and
// starts its tap and health loop.
func (m *Manager) Register(id, url string, metadata map[string]string) error {
	if id == "" || url == "" {
		return fmt.Errorf("id and url are required")
	}
	url = strings.TrimSuffix(url, "/")
	if err := m.probe(url); err != nil {
		return fmt.Errorf("upstream unreachable: %w", err)
	}

	created, err := m.Registry.Register(id, url, metadata)
	if err != nil {
		return err
	}
	if !created {
		return nil // idempotent re-registration
	}

	m.emit(event{session: id, payload: wire.SessionOnline{
		Type: wire.TypeSessionOnline, ID: id, URL: url, Metadata: metadata,
	}})
	m.startTap(id, url)
	go m.healthLoop(id, url)
	logger.Info("session registered", "id", id, "url", url)
	return nil
}

// Deregister stops the tap and removes the record; idempotent.
func (m *Manager) Deregister(id string) {
	m.stopTap(id)
	m.agg.Remove(id)
	if m.Registry.Remove(id) {
		m.emit(event{session: id, payload: wire.SessionOffline{Type: wire.TypeSessionOffline, ID: id}})
		logger.Info("session deregistered", "id", id)
	}
}

func (m *Manager) evict(id string) {
	logger.Warn("session evicted after repeated health failures", "id", id)
	m.Deregister(id)
}

func (m *Manager) probe(url string) error {
	req, err := http.NewRequest(http.MethodGet, url+"/api/v1/health", nil)
	if err != nil {
		return err
	}
	resp, err := m.httpc.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health returned %d", resp.StatusCode)
	}
	return nil
}

// healthLoop probes until deregistration or eviction. Eviction requires
// strictly more than MaxHealthFailures consecutive failures.
func (m *Manager) healthLoop(id, url string) {
	ticker := time.NewTicker(m.cfg.HealthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
		}
		if !m.Registry.Has(id) {
			return
		}
		if err := m.probe(url); err != nil {
			failures := m.Registry.HealthFailure(id)
			logger.Debug("health probe failed", "id", id, "failures", failures, "err", err)
			if failures > m.cfg.MaxHealthFailures {
				m.evict(id)
				return
			}
			continue
		}
		m.Registry.HealthSuccess(id)
	}
}

// startTap opens the WS tap plus the bounded HTTP screen poller.
func (m *Manager) startTap(id, url string) {
	tapCtx, cancel := context.WithCancel(m.ctx)

	c := &client.Client{
		URL:       wsURL(url) + "/ws",
		Token:     m.cfg.UpstreamToken,
		Subscribe: []string{"state", "screen"},
		OnState: func(sc wire.StateChange) {
			m.Registry.SetState(id, sc.Next)
			m.emit(event{session: id, payload: wire.MuxState{
				Type: wire.TypeMuxState, Session: id, Next: sc.Next,
			}})
		},
		OnScreen: func(sm wire.ScreenMsg) {
			entry := ScreenEntryFromMsg(id, sm)
			m.Registry.SetScreen(id, entry)
			m.agg.Update(id, entry)
		},
	}
	// Prime the cache on every (re)connect instead of waiting for the next
	// transition or frame change upstream.
	c.OnConnState = func(state string, err error) {
		if state != "connected" {
			return
		}
		go func() {
			reqCtx, cancel := context.WithTimeout(tapCtx, 5*time.Second)
			defer cancel()
			c.Send(reqCtx, wire.Envelope{Type: wire.TypeStateRequest})
			c.Send(reqCtx, wire.Envelope{Type: wire.TypeScreenRequest})
		}()
	}

	tap := &sessionTap{cancel: cancel, client: c}
	m.mu.Lock()
	m.taps[id] = tap
	m.mu.Unlock()

	go c.Run(tapCtx)
	go m.pollScreens(tapCtx, id, url)
}

func (m *Manager) stopTap(id string) {
	m.mu.Lock()
	tap, ok := m.taps[id]
	if ok {
		delete(m.taps, id)
	}
	m.mu.Unlock()
	if ok {
		tap.cancel()
	}
}

// pollScreens backstops the WS tap with REST screen fetches, bounded by a
// rate limiter so a tight reconnect loop cannot hammer the upstream.
func (m *Manager) pollScreens(ctx context.Context, id, url string) {
	lim := rate.NewLimiter(rate.Every(m.cfg.ScreenPollEvery), 1)
	for {
		if err := lim.Wait(ctx); err != nil {
			return
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url+"/api/v1/screen", nil)
		if err != nil {
			return
		}
		if m.cfg.UpstreamToken != "" {
			req.Header.Set("Authorization", "Bearer "+m.cfg.UpstreamToken)
		}
		resp, err := m.httpc.Do(req)
		if err != nil {
			continue
		}
		var snap struct {
			Lines []string `json:"lines"`
			ANSI  []string `json:"ansi"`
			Cols  int      `json:"cols"`
			Rows  int      `json:"rows"`
		}
		err = json.NewDecoder(resp.Body).Decode(&snap)
		resp.Body.Close()
		if err != nil {
			continue
		}
		lines, ansi := trimTrailingBlank(snap.Lines, snap.ANSI)
		entry := wire.ScreenEntry{Session: id, Cols: snap.Cols, Rows: snap.Rows, Lines: lines, ANSI: ansi}
		m.Registry.SetScreen(id, entry)
		m.agg.Update(id, entry)
	}
}

// SendInput forwards text input to an upstream over REST.
func (m *Manager) SendInput(id, text string) error {
	rec, ok := m.Registry.Get(id)
	if !ok {
		return fmt.Errorf("unknown session %q", id)
	}
	body, _ := json.Marshal(wire.Input{Text: text, Enter: true})
	req, err := http.NewRequest(http.MethodPost, rec.URL+"/api/v1/input", strings.NewReader(string(body)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if m.cfg.UpstreamToken != "" {
		req.Header.Set("Authorization", "Bearer "+m.cfg.UpstreamToken)
	}
	resp, err := m.httpc.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("upstream input returned %d", resp.StatusCode)
	}
	return nil
}

// SendInputRaw forwards raw bytes over the session's tap WebSocket.
func (m *Manager) SendInputRaw(id string, b64 string) error {
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return fmt.Errorf("data is not valid base64")
	}
	m.mu.Lock()
	tap, ok := m.taps[id]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown session %q", id)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tap.client.SendAuth(ctx); err != nil {
		return err
	}
	return tap.client.SendRaw(ctx, data)
}

func wsURL(httpURL string) string {
	switch {
	case strings.HasPrefix(httpURL, "https://"):
		return "wss://" + strings.TrimPrefix(httpURL, "https://")
	case strings.HasPrefix(httpURL, "http://"):
		return "ws://" + strings.TrimPrefix(httpURL, "http://")
	default:
		return httpURL
	}
}
