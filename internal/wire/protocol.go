// Package wire defines the JSON messages exchanged over the coop and coopmux
// WebSockets, the REST error envelope, and the named-key table. Every byte
// payload crossing JSON is standard padded base64; offsets are absolute byte
// positions carried as signed int64 and never negative on the wire; the
// envelope is a flat object with a "type" field for routing.
package wire

// Message types for the coop session WebSocket.
const (
	// Server → client
	TypeOutput      = "output"       // live PTY bytes
	TypeReplay      = "replay"       // historical bytes [offset, next_offset)
	TypeScreen      = "screen"       // rendered screen snapshot
	TypeStateChange = "state_change" // agent state transition
	TypeExit        = "exit"         // child exited
	TypeResize      = "resize"       // terminal dimensions changed
	TypeError       = "error"        // protocol or request error
	TypePong        = "pong"

	// Client → server
	TypePing          = "ping"
	TypeAuth          = "auth"
	TypeScreenRequest = "screen_request"
	TypeStateRequest  = "state_request"
	TypeReplayRequest = "replay" // client form carries only offset
	TypeInput         = "input"
	TypeInputRaw      = "input_raw"
	TypeKeys          = "keys"
	TypeNudge         = "nudge"
	TypeRespond       = "respond"
	TypeSignal        = "signal"
)

// Message types for the coopmux WebSocket.
const (
	// Mux → browser
	TypeSessions       = "sessions"        // snapshot on connect
	TypeSessionOnline  = "session:online"  // record registered
	TypeSessionOffline = "session:offline" // record deregistered or evicted
	TypeMuxState       = "state"           // upstream state transition
	TypeScreenBatch    = "screen_batch"    // aggregated screen tick

	// Browser → mux
	TypeSubscribe    = "subscribe"      // narrow fan-out to visible tiles
	TypeInputSend    = "input:send"     // text input forwarded upstream
	TypeInputSendRaw = "input:send:raw" // raw bytes forwarded via per-session WS

	// Credential broker passthrough prefix; mux relays these opaquely.
	PrefixCredential = "credential:"
)

// Error codes shared by the REST envelope and WS error frames.
const (
	CodeUnauthorized     = "UNAUTHORIZED"
	CodeBadRequest       = "BAD_REQUEST"
	CodeNoDriver         = "NO_DRIVER"
	CodeNotReady         = "NOT_READY"
	CodeAgentBusy        = "AGENT_BUSY"
	CodeNoPrompt         = "NO_PROMPT"
	CodeSwitchInProgress = "SWITCH_IN_PROGRESS"
	CodeExited           = "EXITED"
	CodeInternal         = "INTERNAL"
)

// Envelope wraps every WebSocket message with a type field for routing.
type Envelope struct {
	Type string `json:"type"`
}

// Output carries live PTY bytes at an absolute offset.
type Output struct {
	Type   string `json:"type"`
	Data   string `json:"data"` // base64
	Offset int64  `json:"offset"`
}

// Replay carries historical bytes [NextOffset-len, NextOffset). The client
// gate derives is_first locally; it is not a wire field.
type Replay struct {
	Type       string `json:"type"`
	Data       string `json:"data"` // base64
	Offset     int64  `json:"offset"`
	NextOffset int64  `json:"next_offset"`
}

// ReplayReq asks the server to retransmit from an absolute offset.
type ReplayReq struct {
	Type   string `json:"type"`
	Offset int64  `json:"offset"`
}

// ScreenMsg is a rendered snapshot with its frame sequence.
type ScreenMsg struct {
	Type      string   `json:"type"`
	Lines     []string `json:"lines"`
	ANSI      []string `json:"ansi,omitempty"`
	Cols      int      `json:"cols"`
	Rows      int      `json:"rows"`
	AltScreen bool     `json:"alt_screen"`
	CursorRow int      `json:"cursor_row"`
	CursorCol int      `json:"cursor_col"`
	Seq       uint64   `json:"seq"`
}

// StateChange announces one state machine transition.
type StateChange struct {
	Type          string         `json:"type"`
	Prev          string         `json:"prev"`
	Next          string         `json:"next"`
	Seq           uint64         `json:"seq"`
	Prompt        *PromptContext `json:"prompt,omitempty"`
	ErrorDetail   string         `json:"error_detail,omitempty"`
	ErrorCategory string         `json:"error_category,omitempty"`
	// Switched is set on the transition that completes a credential switch.
	Switched *SwitchedInfo `json:"session_switched,omitempty"`
}

// SwitchedInfo documents the outcome of a credential switch: the new child's
// session id, and that both sequence counters continue rather than reset.
type SwitchedInfo struct {
	NewSessionID      string `json:"new_session_id"`
	StateSeqContinues bool   `json:"state_seq_continues"`
}

// PromptContext describes the interactive prompt the agent is showing.
type PromptContext struct {
	Kind            string     `json:"kind"` // permission | plan | question | setup
	Subtype         string     `json:"subtype,omitempty"`
	Tool            string     `json:"tool,omitempty"`
	Input           string     `json:"input,omitempty"`
	Options         []string   `json:"options,omitempty"`
	OptionsFallback bool       `json:"options_fallback,omitempty"`
	Questions       []Question `json:"questions,omitempty"`
	QuestionCurrent int        `json:"question_current,omitempty"`
	Ready           bool       `json:"ready"`
}

// Question is one entry of a multi-question prompt.
type Question struct {
	Text    string   `json:"text"`
	Options []string `json:"options,omitempty"`
}

// Exit announces child termination.
type Exit struct {
	Type   string `json:"type"`
	Code   int    `json:"code"`
	Signal string `json:"signal,omitempty"`
}

// ResizeMsg carries terminal dimensions, both directions.
type ResizeMsg struct {
	Type string `json:"type"`
	Cols int    `json:"cols"`
	Rows int    `json:"rows"`
}

// ErrorMsg is sent for protocol or request errors.
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Auth upgrades an unauthenticated connection.
type Auth struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

// Input is text typed into the agent, with an optional trailing Enter.
type Input struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Enter bool   `json:"enter,omitempty"`
}

// InputRaw is base64 bytes written verbatim to the PTY.
type InputRaw struct {
	Type string `json:"type"`
	Data string `json:"data"` // base64
}

// Keys is a sequence of named keys from the key table.
type Keys struct {
	Type string   `json:"type"`
	Keys []string `json:"keys"`
}

// Nudge delivers a follow-up message to an idle agent.
type Nudge struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Respond answers the current prompt. Exactly one of the field groups applies
// depending on the prompt kind.
type Respond struct {
	Type    string   `json:"type"`
	Accept  *bool    `json:"accept,omitempty"`  // permission/plan
	Option  string   `json:"option,omitempty"`  // option list selection
	Text    string   `json:"text,omitempty"`    // freeform answer
	Answers []string `json:"answers,omitempty"` // multi-question prompts
}

// SignalMsg delivers a named UNIX signal to the child.
type SignalMsg struct {
	Type string `json:"type"`
	Name string `json:"signal"`
}
