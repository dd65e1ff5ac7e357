package detect

import (
	"reflect"
	"time"

	"github.com/groblegark/coop/internal/wire"
)

// Agent states.
const (
	StateStarting  = "starting"
	StateWorking   = "working"
	StateIdle      = "idle"
	StatePrompt    = "prompt"
	StateError     = "error"
	StateExited    = "exited"
	StateUnknown   = "unknown"
	StateSwitching = "switching"
)

// DefaultIdleGrace is how long the machine sits on an idle observation before
// committing it. A screen-detected idle during a log-detected working burst
// must not flap the state.
const DefaultIdleGrace = 1500 * time.Millisecond

// Transition is one accepted state change. Seq increases by exactly one per
// transition; (Prev, Next, Seq) uniquely identifies it.
type Transition struct {
	Prev          string
	Next          string
	Seq           uint64
	Prompt        *wire.PromptContext
	ErrorCategory string
	ErrorDetail   string
}

// Machine applies detector events in tier order and owns the agent state.
// Not safe for concurrent use: the session loop is the sole caller.
type Machine struct {
	state  string
	seq    uint64
	prompt *wire.PromptContext

	errCategory string
	errDetail   string

	idleGrace    time.Duration
	idleCand     bool
	idleTier     Tier
	idleDeadline time.Time

	// strongest tier of recent activity; a weaker tier replaces it only after
	// a gap longer than idleGrace since the last activity
	lastActivityTier Tier
	lastActivityAt   time.Time

	agentSessionID string
}

// NewMachine starts in the starting state with seq 0.
func NewMachine(idleGrace time.Duration) *Machine {
	if idleGrace <= 0 {
		idleGrace = DefaultIdleGrace
	}
	return &Machine{state: StateStarting, idleGrace: idleGrace}
}

// State returns the current state.
func (m *Machine) State() string { return m.state }

// Seq returns the current transition sequence.
func (m *Machine) Seq() uint64 { return m.seq }

// Prompt returns the active prompt context, or nil outside the prompt state.
func (m *Machine) Prompt() *wire.PromptContext { return m.prompt }

// ErrorInfo returns the category and detail of the current error state.
func (m *Machine) ErrorInfo() (category, detail string) {
	return m.errCategory, m.errDetail
}

// AgentSessionID returns the agent-internal session id, when a detector has
// extracted one. Used to build --resume argv on credential switch.
func (m *Machine) AgentSessionID() string { return m.agentSessionID }

// Apply consumes one event and returns the transition it caused, if any.
func (m *Machine) Apply(ev Event, now time.Time) (Transition, bool) {
	switch ev.Cause {
	case CauseSessionID:
		m.agentSessionID = ev.SessionID
		return Transition{}, false

	case CauseLogLine:
		// Transcript lines are consumed by the session loop, not the machine.
		return Transition{}, false

	case CauseError:
		// Terminal for the current state regardless of what we were doing,
		// but only the authoritative tiers may declare failure.
		if ev.Tier < TierLog {
			return Transition{}, false
		}
		m.clearIdleCandidate()
		m.noteActivity(ev.Tier, now)
		cat := ev.ErrorCategory
		if cat == "" {
			cat = ErrOther
		}
		return m.transition(StateError, func() {
			m.errCategory = cat
			m.errDetail = ev.ErrorDetail
			m.prompt = nil
		}), true

	case CausePrompt:
		if m.state == StateError {
			return Transition{}, false
		}
		m.clearIdleCandidate()
		m.noteActivity(ev.Tier, now)
		prompt := ev.Prompt
		if prompt == nil {
			prompt = &wire.PromptContext{Kind: "question", Ready: true}
		}
		// The screen tier re-reports a static prompt on every poll; only a
		// changed context is a transition.
		if m.state == StatePrompt && reflect.DeepEqual(m.prompt, prompt) {
			return Transition{}, false
		}
		return m.transition(StatePrompt, func() { m.prompt = prompt }), true

	case CauseStart, CauseWorking:
		if m.state == StateError || m.state == StateExited {
			return Transition{}, false
		}
		m.clearIdleCandidate()
		m.noteActivity(ev.Tier, now)
		if m.state == StateWorking {
			return Transition{}, false
		}
		return m.transition(StateWorking, func() { m.prompt = nil }), true

	case CauseIdle:
		if m.state == StateError || m.state == StateExited || m.state == StateIdle {
			return Transition{}, false
		}
		// An idle seen by a tier at least as strong as the last activity
		// starts the grace clock; weaker observations during a stronger
		// tier's working period are ignored.
		if ev.Tier < m.lastActivityTier && now.Sub(m.lastActivityAt) < m.idleGrace {
			return Transition{}, false
		}
		if !m.idleCand || ev.Tier > m.idleTier {
			m.idleCand = true
			m.idleTier = ev.Tier
			m.idleDeadline = now.Add(m.idleGrace)
		}
		return Transition{}, false
	}
	return Transition{}, false
}

// Tick commits a pending idle candidate once its grace deadline passes with
// no stronger-tier activity in between. The session loop calls this on a
// coarse timer.
func (m *Machine) Tick(now time.Time) (Transition, bool) {
	if !m.idleCand || now.Before(m.idleDeadline) {
		return Transition{}, false
	}
	if m.lastActivityTier > m.idleTier && m.lastActivityAt.After(m.idleDeadline.Add(-m.idleGrace)) {
		// Stronger tier was active during the grace window; drop the candidate.
		m.idleCand = false
		return Transition{}, false
	}
	m.idleCand = false
	if m.state == StateIdle || m.state == StateError || m.state == StateExited {
		return Transition{}, false
	}
	return m.transition(StateIdle, func() { m.prompt = nil }), true
}

// MarkSwitching is driven by the session loop when a credential switch is
// accepted.
func (m *Machine) MarkSwitching() Transition {
	m.clearIdleCandidate()
	return m.transition(StateSwitching, func() { m.prompt = nil })
}

// MarkStarting is driven by the session loop after a backend rebuild. Error
// state and the idle clock are cleared; seq continues monotonically.
func (m *Machine) MarkStarting() Transition {
	m.clearIdleCandidate()
	return m.transition(StateStarting, func() {
		m.prompt = nil
		m.errCategory = ""
		m.errDetail = ""
		m.lastActivityTier = TierScreen
	})
}

// MarkExited is driven by the session loop on PTY EOF without a pending
// switch.
func (m *Machine) MarkExited() Transition {
	m.clearIdleCandidate()
	return m.transition(StateExited, func() { m.prompt = nil })
}

// AdvanceQuestion moves a multi-question prompt forward and re-publishes the
// prompt context. Returns false when there is no multi-question prompt or it
// is already on the last question.
func (m *Machine) AdvanceQuestion() (Transition, bool) {
	if m.state != StatePrompt || m.prompt == nil || len(m.prompt.Questions) == 0 {
		return Transition{}, false
	}
	if m.prompt.QuestionCurrent+1 >= len(m.prompt.Questions) {
		return Transition{}, false
	}
	next := *m.prompt
	next.QuestionCurrent++
	return m.transition(StatePrompt, func() { m.prompt = &next }), true
}

func (m *Machine) transition(next string, mutate func()) Transition {
	prev := m.state
	m.state = next
	if mutate != nil {
		mutate()
	}
	m.seq++
	tr := Transition{
		Prev: prev,
		Next: next,
		Seq:  m.seq,
	}
	if next == StatePrompt {
		tr.Prompt = m.prompt
	}
	if next == StateError {
		tr.ErrorCategory = m.errCategory
		tr.ErrorDetail = m.errDetail
	}
	return tr
}

func (m *Machine) noteActivity(tier Tier, now time.Time) {
	if tier >= m.lastActivityTier || now.Sub(m.lastActivityAt) > m.idleGrace {
		m.lastActivityTier = tier
	}
	m.lastActivityAt = now
}

func (m *Machine) clearIdleCandidate() {
	m.idleCand = false
}
