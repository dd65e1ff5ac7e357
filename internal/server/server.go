// Package server is the coop transport: the REST surface and the session
// WebSocket. It owns no agent state — every mutation goes through the
// session loop, every read is a snapshot copy.
package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/groblegark/coop/internal/hooks"
	"github.com/groblegark/coop/internal/logger"
	"github.com/groblegark/coop/internal/session"
)

// Server wires the session and hook gate into an http.Handler.
type Server struct {
	sess      *session.Session
	gate      *hooks.Gate
	authToken string
	rateLimit *RateLimiter
	mux       *http.ServeMux

	// OnShutdown is invoked after POST /shutdown has terminated the child;
	// Run installs it to stop the HTTP listener.
	OnShutdown func()
}

// New builds the coop server.
func New(sess *session.Session, gate *hooks.Gate, authToken string) *Server {
	s := &Server{
		sess:      sess,
		gate:      gate,
		authToken: authToken,
		rateLimit: NewRateLimiter(50, 100),
		mux:       http.NewServeMux(),
	}

	s.mux.HandleFunc("GET /api/v1/health", s.handleHealth)
	s.mux.HandleFunc("GET /api/v1/ready", s.handleReady)
	s.mux.HandleFunc("GET /api/v1/status", s.handleStatus)
	s.mux.HandleFunc("GET /api/v1/screen", s.handleScreen)
	s.mux.HandleFunc("GET /api/v1/screen/text", s.handleScreenText)
	s.mux.HandleFunc("GET /api/v1/output", s.handleOutput)

	s.mux.HandleFunc("POST /api/v1/input", s.handleInput)
	s.mux.HandleFunc("POST /api/v1/input/raw", s.handleInputRaw)
	s.mux.HandleFunc("POST /api/v1/input/keys", s.handleInputKeys)
	s.mux.HandleFunc("POST /api/v1/resize", s.handleResize)
	s.mux.HandleFunc("POST /api/v1/signal", s.handleSignal)

	s.mux.HandleFunc("GET /api/v1/agent", s.handleAgent)
	s.mux.HandleFunc("POST /api/v1/agent/nudge", s.handleNudge)
	s.mux.HandleFunc("POST /api/v1/agent/respond", s.handleRespond)

	s.mux.HandleFunc("POST /api/v1/hooks/stop", s.handleHookStop)
	s.mux.HandleFunc("POST /api/v1/hooks/start", s.handleHookStart)
	s.mux.HandleFunc("POST /api/v1/stop/resolve", s.handleStopResolve)

	s.mux.HandleFunc("GET /api/v1/config/stop", s.handleGetStopConfig)
	s.mux.HandleFunc("PUT /api/v1/config/stop", s.handlePutStopConfig)
	s.mux.HandleFunc("GET /api/v1/config/start", s.handleGetStartConfig)
	s.mux.HandleFunc("PUT /api/v1/config/start", s.handlePutStartConfig)

	s.mux.HandleFunc("GET /api/v1/transcripts", s.handleTranscripts)
	s.mux.HandleFunc("GET /api/v1/transcripts/catchup", s.handleTranscriptCatchup)
	s.mux.HandleFunc("GET /api/v1/transcripts/{n}", s.handleTranscript)

	s.mux.HandleFunc("POST /api/v1/session/switch", s.handleSwitch)
	s.mux.HandleFunc("POST /api/v1/shutdown", s.handleShutdown)

	s.mux.HandleFunc("GET /ws", s.handleWS)

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.shouldRateLimit(r.Method, r.URL.Path) && !s.rateLimit.Allow(clientIP(r)) {
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		return
	}
	s.requireAuth(s.mux).ServeHTTP(w, r)
}

// shouldRateLimit covers mutating API calls; hook endpoints are exempt
// because the agent runtime calls them on every turn.
func (s *Server) shouldRateLimit(method, path string) bool {
	if strings.HasPrefix(path, "/api/v1/hooks/") {
		return false
	}
	return method == http.MethodPost || method == http.MethodPut
}

// Run serves until ctx is cancelled or POST /shutdown fires.
func (s *Server) Run(ctx context.Context, addr string) error {
	httpSrv := &http.Server{
		Addr:    addr,
		Handler: s,
	}
	s.OnShutdown = func() {
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpSrv.Shutdown(shCtx)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- httpSrv.ListenAndServe() }()
	logger.Info("coop listening", "addr", addr)

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
