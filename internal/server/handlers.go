package server

import (
	"encoding/base64"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/groblegark/coop/internal/detect"
	"github.com/groblegark/coop/internal/hooks"
	"github.com/groblegark/coop/internal/session"
	"github.com/groblegark/coop/internal/wire"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := s.sess.Status()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"session_id":  st.SessionID,
		"pid":         st.PID,
		"uptime_secs": st.UptimeSecs,
		"agent":       st.Agent,
		"terminal":    map[string]int{"cols": st.Cols, "rows": st.Rows},
		"ws_clients":  s.sess.Bus.Count(),
		"ready":       s.sess.Ready(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if !s.sess.Ready() {
		writeError(w, http.StatusServiceUnavailable, wire.CodeNotReady, "session not ready")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ready": true})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sess.Status())
}

func (s *Server) handleScreen(w http.ResponseWriter, r *http.Request) {
	snap := s.sess.Screen()
	resp := map[string]any{
		"lines":      snap.Lines,
		"ansi":       snap.ANSI,
		"cols":       snap.Cols,
		"rows":       snap.Rows,
		"alt_screen": snap.AltScreen,
		"seq":        snap.Seq,
	}
	if r.URL.Query().Get("cursor") == "true" {
		resp["cursor"] = map[string]int{"row": snap.CursorRow, "col": snap.CursorCol}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleScreenText(w http.ResponseWriter, r *http.Request) {
	snap := s.sess.Screen()
	var lines []string
	if r.URL.Query().Get("scrollback") == "true" {
		lines = append(lines, s.sess.Scrollback()...)
	}
	lines = append(lines, snap.Lines...)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(strings.Join(lines, "\n") + "\n"))
}

func (s *Server) handleOutput(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	offset := int64(0)
	if v := q.Get("offset"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, wire.CodeBadRequest, "invalid offset")
			return
		}
		offset = parsed
	}
	limit := 0
	if v := q.Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, wire.CodeBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}

	data, next, total := s.sess.Ring().Read(offset, limit)
	writeJSON(w, http.StatusOK, map[string]any{
		"data":          base64.StdEncoding.EncodeToString(data),
		"next_offset":   next,
		"total_written": total,
	})
}

func (s *Server) handleInput(w http.ResponseWriter, r *http.Request) {
	var req wire.Input
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, wire.CodeBadRequest, "invalid JSON")
		return
	}
	if err := s.sess.WriteInput(req.Text, req.Enter); err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleInputRaw(w http.ResponseWriter, r *http.Request) {
	var req wire.InputRaw
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, wire.CodeBadRequest, "invalid JSON")
		return
	}
	data, err := base64.StdEncoding.DecodeString(req.Data)
	if err != nil {
		writeError(w, http.StatusBadRequest, wire.CodeBadRequest, "data is not valid base64")
		return
	}
	if err := s.sess.WriteRaw(data); err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleInputKeys(w http.ResponseWriter, r *http.Request) {
	var req wire.Keys
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, wire.CodeBadRequest, "invalid JSON")
		return
	}
	var data []byte
	for _, name := range req.Keys {
		b, ok := wire.KeyBytes(name)
		if !ok {
			writeError(w, http.StatusBadRequest, wire.CodeBadRequest, "unknown key "+strconv.Quote(name))
			return
		}
		data = append(data, b...)
	}
	if err := s.sess.WriteRaw(data); err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleResize(w http.ResponseWriter, r *http.Request) {
	var req wire.ResizeMsg
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, wire.CodeBadRequest, "invalid JSON")
		return
	}
	if req.Cols <= 0 || req.Rows <= 0 {
		writeError(w, http.StatusBadRequest, wire.CodeBadRequest, "cols and rows must be > 0")
		return
	}
	if err := s.sess.Resize(req.Cols, req.Rows); err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleSignal(w http.ResponseWriter, r *http.Request) {
	var req wire.SignalMsg
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, wire.CodeBadRequest, "invalid JSON")
		return
	}
	if _, err := session.SignalFromName(req.Name); err != nil {
		writeError(w, http.StatusBadRequest, wire.CodeBadRequest, err.Error())
		return
	}
	if err := s.sess.Signal(req.Name); err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleAgent(w http.ResponseWriter, r *http.Request) {
	state, seq, prompt := s.sess.State()
	cat, detail := s.sess.ErrorInfo()
	resp := map[string]any{
		"agent":     s.sess.AgentKind(),
		"state":     state,
		"state_seq": seq,
	}
	if prompt != nil {
		resp["prompt"] = prompt
	}
	if state == detect.StateError {
		resp["error_category"] = cat
		resp["error_detail"] = detail
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleNudge(w http.ResponseWriter, r *http.Request) {
	var req wire.Nudge
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Message == "" {
		writeError(w, http.StatusBadRequest, wire.CodeBadRequest, "message is required")
		return
	}
	if err := s.sess.Nudge(req.Message); err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleRespond(w http.ResponseWriter, r *http.Request) {
	var req wire.Respond
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, wire.CodeBadRequest, "invalid JSON")
		return
	}
	if err := s.sess.Respond(req); err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleHookStop(w http.ResponseWriter, r *http.Request) {
	var req hooks.StopRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, wire.CodeBadRequest, "invalid JSON")
		return
	}
	verdict := s.gate.StopVerdict(req)
	// The hook doubles as the authoritative quiescence signal.
	if verdict.Decision == "allow" {
		s.sess.PostEvent(detect.Event{Tier: detect.TierHooks, Cause: detect.CauseIdle, Evidence: "stop hook"})
	}
	writeJSON(w, http.StatusOK, verdict)
}

func (s *Server) handleHookStart(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Event string `json:"event,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		req.Event = ""
	}
	s.sess.PostEvent(detect.Event{Tier: detect.TierHooks, Cause: detect.CauseWorking, Evidence: "start hook"})

	inj := s.gate.StartInjection(req.Event)
	resp := map[string]any{"text": inj.Text}
	// Shell injection executes inside the agent's PTY: only hand it to
	// loopback callers; remote peers get the text portion only.
	if inj.Shell != "" && isLoopback(r.RemoteAddr) {
		resp["shell"] = inj.Shell
	}
	writeJSON(w, http.StatusOK, resp)
}

func isLoopback(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func (s *Server) handleStopResolve(w http.ResponseWriter, r *http.Request) {
	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeError(w, http.StatusBadRequest, wire.CodeBadRequest, "invalid JSON")
		return
	}
	if err := s.gate.Resolve(raw); err != nil {
		writeError(w, http.StatusUnprocessableEntity, wire.CodeBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleGetStopConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.gate.StopConfig())
}

func (s *Server) handlePutStopConfig(w http.ResponseWriter, r *http.Request) {
	var cfg hooks.StopConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, wire.CodeBadRequest, "invalid JSON")
		return
	}
	if err := s.gate.SetStopConfig(cfg); err != nil {
		writeError(w, http.StatusBadRequest, wire.CodeBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.gate.StopConfig())
}

func (s *Server) handleGetStartConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.gate.StartConfig())
}

func (s *Server) handlePutStartConfig(w http.ResponseWriter, r *http.Request) {
	var cfg hooks.StartConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, wire.CodeBadRequest, "invalid JSON")
		return
	}
	s.gate.SetStartConfig(cfg)
	writeJSON(w, http.StatusOK, s.gate.StartConfig())
}

func (s *Server) handleTranscripts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"transcripts": s.sess.Transcripts().List()})
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.Atoi(r.PathValue("n"))
	if err != nil {
		writeError(w, http.StatusBadRequest, wire.CodeBadRequest, "invalid transcript index")
		return
	}
	tr, ok := s.sess.Transcripts().Get(n)
	if !ok {
		writeError(w, http.StatusNotFound, wire.CodeBadRequest, "no such transcript")
		return
	}
	writeJSON(w, http.StatusOK, tr)
}

func (s *Server) handleTranscriptCatchup(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sinceT, _ := strconv.Atoi(q.Get("since_transcript"))
	sinceL, _ := strconv.Atoi(q.Get("since_line"))
	writeJSON(w, http.StatusOK, map[string]any{
		"transcripts": s.sess.Transcripts().Catchup(sinceT, sinceL),
	})
}

func (s *Server) handleSwitch(w http.ResponseWriter, r *http.Request) {
	var req session.SwitchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, wire.CodeBadRequest, "invalid JSON")
		return
	}
	if err := s.sess.RequestSwitch(req); err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"accepted": true})
}

func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	exit, err := s.sess.Shutdown(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, wire.CodeInternal, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"exit_code": exit.Code, "signal": exit.Signal})
	if s.OnShutdown != nil {
		go s.OnShutdown()
	}
}
