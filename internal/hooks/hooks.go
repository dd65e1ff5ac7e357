// Package hooks implements the stop/start hook gating the agent runtime
// calls from inside the PTY. The stop gate decides whether the agent may
// finish its turn; the start config injects text or shell into a freshly
// started agent. Both configs are process-wide and mutated over HTTP.
package hooks

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/groblegark/coop/internal/detect"
)

// Stop gate modes.
const (
	ModeAllow = "allow" // every stop hook passes
	ModeAuto  = "auto"  // block until a resolve arrives, then auto-continue
	ModeGate  = "gate"  // block until a resolve arrives
)

// Schema is the minimal shape validation applied to resolve payloads:
// required field names plus per-property type names
// (string|number|boolean|array|object).
type Schema struct {
	Required   []string          `json:"required,omitempty" yaml:"required,omitempty"`
	Properties map[string]string `json:"properties,omitempty" yaml:"properties,omitempty"`
}

// Validate checks a decoded resolve body against the schema.
func (s *Schema) Validate(body map[string]any) error {
	if s == nil {
		return nil
	}
	for _, field := range s.Required {
		if _, ok := body[field]; !ok {
			return fmt.Errorf("missing required field %q", field)
		}
	}
	for field, want := range s.Properties {
		v, ok := body[field]
		if !ok {
			continue
		}
		if !typeMatches(v, want) {
			return fmt.Errorf("field %q: want %s", field, want)
		}
	}
	return nil
}

func typeMatches(v any, want string) bool {
	switch want {
	case "string":
		_, ok := v.(string)
		return ok
	case "number":
		_, ok := v.(float64)
		return ok
	case "boolean":
		_, ok := v.(bool)
		return ok
	case "array":
		_, ok := v.([]any)
		return ok
	case "object":
		_, ok := v.(map[string]any)
		return ok
	}
	return false
}

// ValidSchemaTypes reports whether every property names a known type. Used by
// PUT /config/stop to reject malformed schemas.
func (s *Schema) ValidSchemaTypes() error {
	if s == nil {
		return nil
	}
	for field, typ := range s.Properties {
		switch typ {
		case "string", "number", "boolean", "array", "object":
		default:
			return fmt.Errorf("property %q: unknown type %q", field, typ)
		}
	}
	return nil
}

// StopConfig gates the agent's stop hook.
type StopConfig struct {
	Mode   string  `json:"mode" yaml:"mode"`
	Prompt string  `json:"prompt,omitempty" yaml:"prompt,omitempty"`
	Schema *Schema `json:"schema,omitempty" yaml:"schema,omitempty"`
}

// Validate rejects unknown modes and malformed schemas.
func (c *StopConfig) Validate() error {
	switch c.Mode {
	case ModeAllow, ModeAuto, ModeGate:
	default:
		return fmt.Errorf("unknown stop mode %q", c.Mode)
	}
	return c.Schema.ValidSchemaTypes()
}

// StartEvent is one per-event override of the start injection.
type StartEvent struct {
	Text  string `json:"text,omitempty" yaml:"text,omitempty"`
	Shell string `json:"shell,omitempty" yaml:"shell,omitempty"`
}

// StartConfig selects what gets injected when the agent runtime reports
// start. Events overrides the default per event name.
type StartConfig struct {
	Text   string                `json:"text,omitempty" yaml:"text,omitempty"`
	Shell  string                `json:"shell,omitempty" yaml:"shell,omitempty"`
	Events map[string]StartEvent `json:"events,omitempty" yaml:"events,omitempty"`
}

// StopRequest is the body of POST /hooks/stop.
type StopRequest struct {
	Event string         `json:"event,omitempty"`
	Data  map[string]any `json:"data,omitempty"`
}

// Verdict is the stop gate's answer.
type Verdict struct {
	Decision string         `json:"decision"` // allow | block
	Reason   string         `json:"reason,omitempty"`
	Payload  map[string]any `json:"payload,omitempty"` // resolve body, on unblock
}

// StateFunc reports the current agent state and error category; the gate
// consults it for the unrecoverable-error safety valve.
type StateFunc func() (state string, errorCategory string)

// Gate holds both hook configs and the one-shot resolve payload.
type Gate struct {
	mu      sync.RWMutex
	stop    StopConfig
	start   StartConfig
	resolve map[string]any // pending one-shot payload, nil when absent
	state   StateFunc
}

// NewGate starts in allow mode with an empty start config.
func NewGate(state StateFunc) *Gate {
	return &Gate{
		stop:  StopConfig{Mode: ModeAllow},
		state: state,
	}
}

// StopConfig returns a copy of the current stop config.
func (g *Gate) StopConfig() StopConfig {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.stop
}

// SetStopConfig replaces the stop config after validation.
func (g *Gate) SetStopConfig(c StopConfig) error {
	if err := c.Validate(); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stop = c
	return nil
}

// StartConfig returns a copy of the current start config.
func (g *Gate) StartConfig() StartConfig {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.start
}

// SetStartConfig replaces the start config.
func (g *Gate) SetStartConfig(c StartConfig) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.start = c
}

// StartInjection resolves the injection for a start event, applying the
// per-event override when present.
func (g *Gate) StartInjection(event string) StartEvent {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if ev, ok := g.start.Events[event]; ok {
		return ev
	}
	return StartEvent{Text: g.start.Text, Shell: g.start.Shell}
}

// StopVerdict answers one stop hook invocation.
func (g *Gate) StopVerdict(req StopRequest) Verdict {
	// Safety valve: a stop hook already in flight must never be re-blocked.
	if active, ok := req.Data["stop_hook_active"].(bool); ok && active {
		return Verdict{Decision: "allow"}
	}

	// Unrecoverable agent errors: let it stop.
	if g.state != nil {
		if state, cat := g.state(); state == detect.StateError &&
			(cat == detect.ErrUnauthorized || cat == detect.ErrOutOfCredits) {
			return Verdict{Decision: "allow"}
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	switch g.stop.Mode {
	case ModeAllow:
		return Verdict{Decision: "allow"}
	case ModeAuto, ModeGate:
		if g.resolve != nil {
			payload := g.resolve
			g.resolve = nil // one-shot
			return Verdict{Decision: "allow", Payload: payload}
		}
		reason := g.stop.Prompt
		if reason == "" {
			reason = "stop gated; post /stop/resolve to continue"
		}
		return Verdict{Decision: "block", Reason: reason}
	default:
		return Verdict{Decision: "allow"}
	}
}

// Resolve validates and stores the one-shot payload that unblocks the next
// stop hook.
func (g *Gate) Resolve(raw json.RawMessage) error {
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		return fmt.Errorf("decode resolve body: %w", err)
	}
	g.mu.Lock()
	schema := g.stop.Schema
	g.mu.Unlock()
	if err := schema.Validate(body); err != nil {
		return err
	}
	g.mu.Lock()
	g.resolve = body
	g.mu.Unlock()
	return nil
}
