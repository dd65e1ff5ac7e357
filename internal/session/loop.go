package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/groblegark/coop/internal/agent"
	"github.com/groblegark/coop/internal/bus"
	"github.com/groblegark/coop/internal/detect"
	"github.com/groblegark/coop/internal/logger"
	"github.com/groblegark/coop/internal/term"
	"github.com/groblegark/coop/internal/wire"
)

// Sentinel errors the transport maps onto its error envelope.
var (
	ErrExited           = errors.New("agent exited")
	ErrSwitchInProgress = errors.New("switch already in progress")
	ErrAgentBusy        = errors.New("agent busy")
	ErrNoPrompt         = errors.New("no active prompt")
	ErrBadRespond       = errors.New("respond does not match the prompt")
)

// Config describes one supervised agent.
type Config struct {
	AgentKind string
	ExtraArgv []string          // argv tail after "--"
	Env       map[string]string // overrides merged over the forwarded host env
	CWD       string
	Cols      int
	Rows      int

	RingCapacity  int
	IdleGrace     time.Duration
	SwitchTimeout time.Duration // default wait-for-idle bound
	ExitGrace     time.Duration // SIGTERM→SIGKILL window on shutdown

	Home string // driver log path base; defaults to os.UserHomeDir
}

// SwitchRequest asks the loop to restart the child under new credentials.
type SwitchRequest struct {
	Credentials map[string]string `json:"credentials,omitempty"`
	Force       bool              `json:"force,omitempty"`
	TimeoutSecs int               `json:"timeout_secs,omitempty"`
}

// Status is the snapshot served by /status and /health.
type Status struct {
	SessionID    string `json:"session_id"`
	Agent        string `json:"agent"`
	PID          int    `json:"pid"`
	State        string `json:"state"`
	StateSeq     uint64 `json:"state_seq"`
	ScreenSeq    uint64 `json:"screen_seq"`
	Cols         int    `json:"cols"`
	Rows         int    `json:"rows"`
	UptimeSecs   int64  `json:"uptime_secs"`
	TotalWritten int64  `json:"total_written"`
	Exited       bool   `json:"exited"`
	ExitCode     int    `json:"exit_code,omitempty"`
	ExitSignal   string `json:"exit_signal,omitempty"`
	SwitchError  string `json:"switch_error,omitempty"`
}

type ptyChunk struct {
	src  *Backend
	data []byte
}

// Inbound message variants. The loop pattern-matches on these; there is no
// dispatch table.
type inputMsg struct {
	data  []byte
	reply chan error
}
type resizeMsg struct {
	cols, rows int
	reply      chan error
}
type signalMsg struct {
	sig   unix.Signal
	reply chan error
}
type switchMsg struct {
	req   SwitchRequest
	reply chan error
}
type respondMsg struct {
	r     wire.Respond
	reply chan error
}
type shutdownMsg struct {
	reply chan ExitStatus
}

// Session is the root of one supervised agent. Long-lived resources (ring,
// bus, transcripts) are owned here at process scope; Backend, Emulator, and
// detectors belong to the current child and are rebuilt on switch.
type Session struct {
	cfg    Config
	driver agent.Driver

	Bus         *bus.Bus
	ring        *term.Ring
	transcripts *TranscriptStore

	events  chan detect.Event
	inbound chan any
	ptyCh   chan ptyChunk

	loopDone chan struct{}

	mu            sync.RWMutex
	id            string
	backend       *Backend
	emu           *term.Emulator
	machine       *detect.Machine
	state         string
	stateSeq      uint64
	prompt        *wire.PromptContext
	errCategory   string
	errDetail     string
	startedAt     time.Time
	exited        bool
	exitStatus    ExitStatus
	switchPending bool
	lastSwitchErr string

	detectCancel context.CancelFunc
	lastScreen   uint64
	shuttingDown bool
	shutdownWait []chan ExitStatus
	pendingSw    SwitchRequest
	swArmed      bool
	swDeadline   time.Time
}

// New validates the agent kind and builds an unstarted session.
func New(cfg Config) (*Session, error) {
	driver, err := agent.Lookup(cfg.AgentKind)
	if err != nil {
		return nil, err
	}
	if cfg.Cols <= 0 {
		cfg.Cols = 80
	}
	if cfg.Rows <= 0 {
		cfg.Rows = 24
	}
	if cfg.SwitchTimeout <= 0 {
		cfg.SwitchTimeout = 30 * time.Second
	}
	if cfg.ExitGrace <= 0 {
		cfg.ExitGrace = 3 * time.Second
	}
	if cfg.Home == "" {
		cfg.Home, _ = os.UserHomeDir()
	}
	return &Session{
		cfg:         cfg,
		driver:      driver,
		Bus:         bus.New(),
		ring:        term.NewRing(cfg.RingCapacity),
		transcripts: NewTranscriptStore(),
		events:      make(chan detect.Event, 256),
		inbound:     make(chan any, 64),
		ptyCh:       make(chan ptyChunk, 256),
		loopDone:    make(chan struct{}),
		state:       detect.StateStarting,
	}, nil
}

// Start spawns the first child and runs the session loop until exit or
// shutdown.
func (s *Session) Start(ctx context.Context) error {
	backend, err := s.spawnChild(nil, "")
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.id = uuid.New().String()
	s.backend = backend
	s.emu = term.NewEmulator(s.cfg.Cols, s.cfg.Rows)
	s.machine = detect.NewMachine(s.cfg.IdleGrace)
	s.startedAt = time.Now()
	s.mu.Unlock()

	s.startChildTasks(ctx, backend)
	go s.run(ctx)
	return nil
}

// spawnChild builds argv/env for a (re)spawn. envOverrides and resumeID are
// set on credential switches.
func (s *Session) spawnChild(envOverrides map[string]string, resumeID string) (*Backend, error) {
	name, args := s.driver.Command(s.cfg.ExtraArgv)
	if resumeID != "" {
		if extra := s.driver.ResumeArgs(resumeID); extra != nil {
			args = append(append([]string(nil), args...), extra...)
		}
	}
	argv := append([]string{name}, args...)

	envMap := make(map[string]string)
	for _, k := range []string{"HOME", "PATH", "TERM", "LANG", "USER", "SHELL"} {
		if v := os.Getenv(k); v != "" {
			envMap[k] = v
		}
	}
	if _, ok := envMap["TERM"]; !ok {
		envMap["TERM"] = "xterm-256color"
	}
	for _, k := range s.driver.EnvVars() {
		if v := os.Getenv(k); v != "" {
			envMap[k] = v
		}
	}
	for k, v := range s.cfg.Env {
		envMap[k] = v
	}
	for k, v := range envOverrides {
		envMap[k] = v
	}
	env := make([]string, 0, len(envMap))
	for k, v := range envMap {
		env = append(env, k+"="+v)
	}

	return Spawn(argv, env, s.cfg.CWD, s.cfg.Cols, s.cfg.Rows)
}

// startChildTasks launches the PTY reader, detectors, and startup watchdog
// for one child.
func (s *Session) startChildTasks(ctx context.Context, backend *Backend) {
	detectCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.detectCancel = cancel
	emu := s.emu
	s.mu.Unlock()

	go backend.ReadLoop(func(data []byte) {
		select {
		case s.ptyCh <- ptyChunk{src: backend, data: data}:
		case <-s.loopDone:
		}
	})

	if logPath := s.driver.LogPath(s.cfg.Home, s.cfg.CWD); logPath != "" {
		w := &detect.LogWatcher{
			Path:     logPath,
			Classify: s.driver.ClassifyLogLine,
			Events:   s.events,
		}
		go w.Run(detectCtx)
	}
	sw := &detect.ScreenWatcher{
		Source:   emu,
		Classify: s.driver.ClassifyScreen,
		Events:   s.events,
	}
	go sw.Run(detectCtx)

	go s.startupWatchdog(backend)
}

// startupWatchdog logs diagnostics when the child stays silent.
func (s *Session) startupWatchdog(backend *Backend) {
	timer := time.NewTimer(15 * time.Second)
	defer timer.Stop()
	select {
	case <-backend.Done():
		return
	case <-timer.C:
	}
	if s.ring.TotalWritten() > 0 {
		return
	}
	if err := backend.Signal(unix.Signal(0)); err != nil {
		logger.Warn("watchdog: no output and process is dead", "pid", backend.PID(), "err", err)
		return
	}
	logger.Warn("watchdog: no PTY output after 15s, process alive", "pid", backend.PID())
}

// run is the session loop: the sole mutator of state, emulator, and ring.
func (s *Session) run(ctx context.Context) {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		s.mu.RLock()
		backend := s.backend
		s.mu.RUnlock()

		select {
		case chunk := <-s.ptyCh:
			if chunk.src != backend {
				continue // stale chunk from a replaced child
			}
			offset := s.ring.Append(chunk.data)
			s.mu.RLock()
			emu := s.emu
			s.mu.RUnlock()
			emu.Write(chunk.data)
			s.Bus.PublishPTY(chunk.data, offset)

		case ev := <-s.events:
			s.handleEvent(ev)

		case msg := <-s.inbound:
			s.dispatch(ctx, msg)

		case <-backend.Done():
			if s.handleChildExit(ctx, backend) {
				return
			}

		case <-ticker.C:
			s.tick()

		case <-ctx.Done():
			s.mu.RLock()
			b := s.backend
			s.mu.RUnlock()
			exit := b.Terminate(s.cfg.ExitGrace)
			s.drainPTY(b)
			s.finishExit(exit)
			return
		}
	}
}

func (s *Session) handleEvent(ev detect.Event) {
	if ev.Cause == detect.CauseLogLine {
		s.transcripts.Append(ev.Line)
		return
	}
	s.mu.RLock()
	machine := s.machine
	s.mu.RUnlock()
	if tr, ok := machine.Apply(ev, time.Now()); ok {
		s.publishTransition(tr, nil)
	}
	// A pending non-forced switch proceeds the moment the agent settles.
	if s.switchWaiting() && machine.State() == detect.StateIdle {
		s.armSwitch()
	}
}

func (s *Session) tick() {
	s.mu.RLock()
	machine := s.machine
	emu := s.emu
	s.mu.RUnlock()

	if tr, ok := machine.Tick(time.Now()); ok {
		s.publishTransition(tr, nil)
	}

	if s.switchWaiting() {
		if machine.State() == detect.StateIdle {
			s.armSwitch()
		} else if time.Now().After(s.swDeadline) {
			// Timed out waiting for idle: abandon with no state change.
			s.mu.Lock()
			s.switchPending = false
			s.lastSwitchErr = wire.CodeAgentBusy
			s.mu.Unlock()
			logger.Warn("credential switch abandoned: agent busy past timeout")
		}
	}

	// Screen fan-out: publish when the frame moved.
	snap := emu.Snapshot()
	if snap.Seq != s.lastScreen {
		s.lastScreen = snap.Seq
		s.Bus.Publish(bus.SubScreen, screenMsg(snap))
	}
}

func screenMsg(snap term.Screen) wire.ScreenMsg {
	return wire.ScreenMsg{
		Type:      wire.TypeScreen,
		Lines:     snap.Lines,
		ANSI:      snap.ANSI,
		Cols:      snap.Cols,
		Rows:      snap.Rows,
		AltScreen: snap.AltScreen,
		CursorRow: snap.CursorRow,
		CursorCol: snap.CursorCol,
		Seq:       snap.Seq,
	}
}

// switchWaiting reports a pending, not-yet-armed switch.
func (s *Session) switchWaiting() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.switchPending && !s.swArmed
}

// armSwitch publishes the switching transition and hangs up the child. The
// rebuild happens when the backend reports EOF.
func (s *Session) armSwitch() {
	s.mu.Lock()
	if !s.switchPending || s.swArmed {
		s.mu.Unlock()
		return
	}
	s.swArmed = true
	machine := s.machine
	backend := s.backend
	s.mu.Unlock()

	s.publishTransition(machine.MarkSwitching(), nil)
	if err := backend.Signal(unix.SIGHUP); err != nil {
		logger.Warn("switch: SIGHUP failed", "err", err)
	}
}

func (s *Session) dispatch(ctx context.Context, msg any) {
	switch m := msg.(type) {
	case inputMsg:
		_, err := s.currentBackend().Write(m.data)
		m.reply <- err

	case resizeMsg:
		err := s.currentBackend().Resize(m.cols, m.rows)
		if err == nil {
			s.mu.Lock()
			s.cfg.Cols, s.cfg.Rows = m.cols, m.rows
			emu := s.emu
			s.mu.Unlock()
			emu.Resize(m.cols, m.rows)
			s.Bus.PublishAll(wire.ResizeMsg{Type: wire.TypeResize, Cols: m.cols, Rows: m.rows})
		}
		m.reply <- err

	case signalMsg:
		m.reply <- s.currentBackend().Signal(m.sig)

	case switchMsg:
		m.reply <- s.acceptSwitch(m.req)

	case respondMsg:
		m.reply <- s.applyRespond(m.r)

	case shutdownMsg:
		s.mu.Lock()
		s.shuttingDown = true
		s.shutdownWait = append(s.shutdownWait, m.reply)
		backend := s.backend
		s.mu.Unlock()
		backend.Signal(unix.SIGTERM)
		go func() {
			timer := time.NewTimer(s.cfg.ExitGrace)
			defer timer.Stop()
			select {
			case <-backend.Done():
			case <-timer.C:
				backend.Signal(unix.SIGKILL)
			}
		}()
	}
}

func (s *Session) acceptSwitch(req SwitchRequest) error {
	s.mu.Lock()
	if s.switchPending {
		s.mu.Unlock()
		return ErrSwitchInProgress
	}
	if s.exited {
		s.mu.Unlock()
		return ErrExited
	}
	timeout := s.cfg.SwitchTimeout
	if req.TimeoutSecs > 0 {
		timeout = time.Duration(req.TimeoutSecs) * time.Second
	}
	s.switchPending = true
	s.swArmed = false
	s.pendingSw = req
	s.swDeadline = time.Now().Add(timeout)
	s.lastSwitchErr = ""
	idle := s.machine.State() == detect.StateIdle
	s.mu.Unlock()

	if req.Force || idle {
		s.armSwitch()
	}
	return nil
}

// applyRespond translates a prompt response into PTY bytes. The mapping is
// driver-independent: option lists select by index digit, accept picks the
// first option, reject sends escape, free text is typed and submitted.
func (s *Session) applyRespond(r wire.Respond) error {
	s.mu.RLock()
	machine := s.machine
	prompt := machine.Prompt()
	state := machine.State()
	s.mu.RUnlock()

	if state != detect.StatePrompt || prompt == nil {
		return ErrNoPrompt
	}
	backend := s.currentBackend()

	switch {
	case len(r.Answers) > 0:
		if len(prompt.Questions) == 0 {
			return ErrBadRespond
		}
		for _, answer := range r.Answers {
			if _, err := backend.Write([]byte(answer + "\r")); err != nil {
				return err
			}
			if tr, ok := machine.AdvanceQuestion(); ok {
				s.publishTransition(tr, nil)
			}
		}
		return nil

	case r.Option != "":
		for i, opt := range prompt.Options {
			if opt == r.Option {
				_, err := backend.Write([]byte{byte('1' + i)})
				return err
			}
		}
		return ErrBadRespond

	case r.Accept != nil:
		if *r.Accept {
			_, err := backend.Write([]byte{'1'})
			return err
		}
		_, err := backend.Write([]byte{0x1b})
		return err

	case r.Text != "":
		_, err := backend.Write([]byte(r.Text + "\r"))
		return err
	}
	return ErrBadRespond
}

// handleChildExit rebuilds on a pending switch, otherwise finishes the
// session. Returns true when the loop should stop.
func (s *Session) handleChildExit(ctx context.Context, backend *Backend) bool {
	exit := backend.Wait()
	s.drainPTY(backend)

	s.mu.RLock()
	pending := s.switchPending && s.swArmed
	shuttingDown := s.shuttingDown
	s.mu.RUnlock()

	if pending && !shuttingDown {
		if err := s.rebuild(ctx); err != nil {
			logger.Error("switch rebuild failed", "err", err)
			s.finishExit(exit)
			return true
		}
		return false
	}

	s.finishExit(exit)
	return true
}

// drainPTY flushes chunks the reader delivered before EOF so the tail of the
// child's output reaches the ring and subscribers.
func (s *Session) drainPTY(backend *Backend) {
	for {
		select {
		case chunk := <-s.ptyCh:
			if chunk.src != backend {
				continue
			}
			offset := s.ring.Append(chunk.data)
			s.mu.RLock()
			emu := s.emu
			s.mu.RUnlock()
			emu.Write(chunk.data)
			s.Bus.PublishPTY(chunk.data, offset)
		default:
			return
		}
	}
}

// rebuild tears down the child-scoped resources and spawns the next child.
// Ring offsets restart at zero and every subscriber gate resets; screen and
// state sequences continue.
func (s *Session) rebuild(ctx context.Context) error {
	s.mu.Lock()
	req := s.pendingSw
	resumeID := s.machine.AgentSessionID()
	oldEmu := s.emu
	oldScreenSeq := oldEmu.Seq()
	cancel := s.detectCancel
	s.mu.Unlock()

	cancel()
	oldEmu.Close()

	backend, err := s.spawnChild(req.Credentials, resumeID)
	if err != nil {
		return fmt.Errorf("respawn: %w", err)
	}

	newID := uuid.New().String()
	emu := term.NewEmulator(s.cfg.Cols, s.cfg.Rows)
	emu.SetSeq(oldScreenSeq)

	s.ring.Reset()
	s.Bus.ResetGates()
	s.transcripts.Rotate()

	s.mu.Lock()
	s.id = newID
	s.backend = backend
	s.emu = emu
	s.startedAt = time.Now()
	s.switchPending = false
	s.swArmed = false
	machine := s.machine
	s.mu.Unlock()

	s.startChildTasks(ctx, backend)

	tr := machine.MarkStarting()
	s.publishTransition(tr, &wire.SwitchedInfo{
		NewSessionID:      newID,
		StateSeqContinues: true,
	})
	logger.Info("credential switch complete", "session_id", newID, "pid", backend.PID())
	return nil
}

func (s *Session) finishExit(exit ExitStatus) {
	s.mu.Lock()
	s.exited = true
	s.exitStatus = exit
	machine := s.machine
	cancel := s.detectCancel
	waiters := s.shutdownWait
	s.shutdownWait = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.publishTransition(machine.MarkExited(), nil)
	s.Bus.PublishAll(wire.Exit{Type: wire.TypeExit, Code: exit.Code, Signal: exit.Signal})
	close(s.loopDone)
	for _, w := range waiters {
		w <- exit
	}
}

func (s *Session) publishTransition(tr detect.Transition, switched *wire.SwitchedInfo) {
	s.mu.Lock()
	s.state = tr.Next
	s.stateSeq = tr.Seq
	s.prompt = tr.Prompt
	if tr.Next == detect.StateError {
		s.errCategory = tr.ErrorCategory
		s.errDetail = tr.ErrorDetail
	}
	s.mu.Unlock()

	s.Bus.Publish(bus.SubState, wire.StateChange{
		Type:          wire.TypeStateChange,
		Prev:          tr.Prev,
		Next:          tr.Next,
		Seq:           tr.Seq,
		Prompt:        tr.Prompt,
		ErrorCategory: tr.ErrorCategory,
		ErrorDetail:   tr.ErrorDetail,
		Switched:      switched,
	})
}

func (s *Session) currentBackend() *Backend {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.backend
}

// ---- public API (called from transports) ----

// post sends a message to the loop unless it has finished.
func (s *Session) post(msg any) error {
	select {
	case s.inbound <- msg:
		return nil
	case <-s.loopDone:
		return ErrExited
	}
}

func (s *Session) call(msg any, reply chan error) error {
	if err := s.post(msg); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-s.loopDone:
		return ErrExited
	}
}

// WriteInput types text, optionally submitting with Enter.
func (s *Session) WriteInput(text string, enter bool) error {
	data := []byte(text)
	if enter {
		data = append(data, '\r')
	}
	reply := make(chan error, 1)
	return s.call(inputMsg{data: data, reply: reply}, reply)
}

// WriteRaw writes bytes verbatim to the PTY.
func (s *Session) WriteRaw(data []byte) error {
	reply := make(chan error, 1)
	return s.call(inputMsg{data: data, reply: reply}, reply)
}

// WriteKeys resolves named keys and writes their sequences.
func (s *Session) WriteKeys(names []string) error {
	var data []byte
	for _, name := range names {
		b, ok := wire.KeyBytes(name)
		if !ok {
			return fmt.Errorf("unknown key %q", name)
		}
		data = append(data, b...)
	}
	reply := make(chan error, 1)
	return s.call(inputMsg{data: data, reply: reply}, reply)
}

// Nudge delivers a follow-up message to the agent.
func (s *Session) Nudge(message string) error {
	return s.WriteInput(message, true)
}

// Resize changes the PTY and emulator dimensions.
func (s *Session) Resize(cols, rows int) error {
	reply := make(chan error, 1)
	return s.call(resizeMsg{cols: cols, rows: rows, reply: reply}, reply)
}

// Signal delivers a named UNIX signal.
func (s *Session) Signal(name string) error {
	sig, err := SignalFromName(name)
	if err != nil {
		return err
	}
	reply := make(chan error, 1)
	return s.call(signalMsg{sig: sig, reply: reply}, reply)
}

// RequestSwitch posts a credential switch. The switch itself runs
// asynchronously inside the loop.
func (s *Session) RequestSwitch(req SwitchRequest) error {
	reply := make(chan error, 1)
	return s.call(switchMsg{req: req, reply: reply}, reply)
}

// Respond answers the active prompt.
func (s *Session) Respond(r wire.Respond) error {
	reply := make(chan error, 1)
	return s.call(respondMsg{r: r, reply: reply}, reply)
}

// PostEvent feeds a hook-tier detection event into the loop.
func (s *Session) PostEvent(ev detect.Event) {
	select {
	case s.events <- ev:
	case <-s.loopDone:
	}
}

// Shutdown terminates the child and waits for the loop to finish.
func (s *Session) Shutdown(ctx context.Context) (ExitStatus, error) {
	reply := make(chan ExitStatus, 1)
	if err := s.post(shutdownMsg{reply: reply}); err != nil {
		s.mu.RLock()
		defer s.mu.RUnlock()
		return s.exitStatus, nil
	}
	select {
	case exit := <-reply:
		return exit, nil
	case <-ctx.Done():
		return ExitStatus{}, ctx.Err()
	}
}

// Ring exposes the raw output ring for offset-addressed reads.
func (s *Session) Ring() *term.Ring { return s.ring }

// Transcripts exposes the in-process transcript store.
func (s *Session) Transcripts() *TranscriptStore { return s.transcripts }

// Screen renders the current frame.
func (s *Session) Screen() term.Screen {
	s.mu.RLock()
	emu := s.emu
	s.mu.RUnlock()
	return emu.Snapshot()
}

// Scrollback returns the plain lines scrolled off the top of the screen.
func (s *Session) Scrollback() []string {
	s.mu.RLock()
	emu := s.emu
	s.mu.RUnlock()
	return emu.Scrollback()
}

// State returns the current agent state, its sequence, and the prompt.
func (s *Session) State() (state string, seq uint64, prompt *wire.PromptContext) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state, s.stateSeq, s.prompt
}

// ErrorInfo returns the current error classification.
func (s *Session) ErrorInfo() (category, detail string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.errCategory, s.errDetail
}

// Exited reports whether the child is gone for good.
func (s *Session) Exited() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.exited
}

// Ready reports whether the session is serving.
func (s *Session) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.backend != nil && !s.exited
}

// AgentKind returns the configured agent name.
func (s *Session) AgentKind() string { return s.cfg.AgentKind }

// Status builds the health/status snapshot.
func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cols, rows := s.cfg.Cols, s.cfg.Rows
	pid := 0
	if s.backend != nil {
		cols, rows = s.backend.Size()
		pid = s.backend.PID()
	}
	var screenSeq uint64
	if s.emu != nil {
		screenSeq = s.emu.Seq()
	}
	return Status{
		SessionID:    s.id,
		Agent:        s.cfg.AgentKind,
		PID:          pid,
		State:        s.state,
		StateSeq:     s.stateSeq,
		ScreenSeq:    screenSeq,
		Cols:         cols,
		Rows:         rows,
		UptimeSecs:   int64(time.Since(s.startedAt).Seconds()),
		TotalWritten: s.ring.TotalWritten(),
		Exited:       s.exited,
		ExitCode:     s.exitStatus.Code,
		ExitSignal:   s.exitStatus.Signal,
		SwitchError:  s.lastSwitchErr,
	}
}
