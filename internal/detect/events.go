// Package detect turns agent observations into state transitions. Three
// detector tiers (hooks, log tail, screen scraping) post events into one
// channel; the Machine is the single writer of the agent state and applies
// tier precedence deterministically.
package detect

import "github.com/groblegark/coop/internal/wire"

// Tier orders detector strength. Higher values win conflicts.
type Tier int

const (
	TierScreen Tier = iota // heuristic scraping of the rendered screen
	TierLog                // tail of the agent's session log
	TierHooks              // out-of-band hook messages from the agent runtime
)

func (t Tier) String() string {
	switch t {
	case TierHooks:
		return "hooks"
	case TierLog:
		return "log"
	default:
		return "screen"
	}
}

// Cause names what a detector saw.
type Cause string

const (
	CauseStart     Cause = "start"      // agent runtime reported start
	CauseWorking   Cause = "working"    // agent is producing work
	CauseIdle      Cause = "idle"       // agent appears quiescent
	CausePrompt    Cause = "prompt"     // interactive prompt visible
	CauseError     Cause = "error"      // detector-classified failure
	CauseSessionID Cause = "session_id" // agent session id extracted (for resume)
	CauseLogLine   Cause = "log_line"   // transcript line parsed from the log
)

// Error categories attached to CauseError events.
const (
	ErrUnauthorized = "unauthorized"
	ErrOutOfCredits = "out_of_credits"
	ErrRateLimited  = "rate_limited"
	ErrNoInternet   = "no_internet"
	ErrServerError  = "server_error"
	ErrOther        = "other"
)

// Event is one detector observation. Events are ephemeral; the machine
// consumes them as produced.
type Event struct {
	Tier     Tier
	Cause    Cause
	Evidence string

	// CausePrompt
	Prompt *wire.PromptContext

	// CauseError
	ErrorCategory string
	ErrorDetail   string

	// CauseSessionID
	SessionID string

	// CauseLogLine
	Line string
}
