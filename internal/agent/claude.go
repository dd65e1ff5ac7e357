package agent

import (
	"encoding/json"
	"path/filepath"
	"strings"

	"github.com/groblegark/coop/internal/detect"
	"github.com/groblegark/coop/internal/term"
	"github.com/groblegark/coop/internal/wire"
)

type claudeDriver struct{}

func (d *claudeDriver) Kind() string { return "claude" }

func (d *claudeDriver) Command(extra []string) (string, []string) {
	return "claude", extra
}

func (d *claudeDriver) ResumeArgs(agentSessionID string) []string {
	if agentSessionID == "" {
		return nil
	}
	return []string{"--resume", agentSessionID}
}

func (d *claudeDriver) EnvVars() []string {
	return []string{"ANTHROPIC_API_KEY", "CLAUDE_CODE_OAUTH_TOKEN"}
}

func (d *claudeDriver) LogPath(home, cwd string) string {
	dir := projectLogDir(home, cwd, ".claude")
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "session.jsonl")
}

// claudeLogLine is the subset of session log records the classifier reads.
// The log is JSONL; records that do not parse fall through silently.
type claudeLogLine struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	Error     string `json:"error"`
}

func (d *claudeDriver) ClassifyLogLine(line string) (detect.Event, bool) {
	var rec claudeLogLine
	if err := json.Unmarshal([]byte(line), &rec); err != nil {
		return detect.Event{}, false
	}
	if rec.SessionID != "" && rec.Type == "" {
		return detect.Event{Cause: detect.CauseSessionID, SessionID: rec.SessionID}, true
	}
	switch rec.Type {
	case "assistant", "tool_use":
		ev := detect.Event{Cause: detect.CauseWorking, Evidence: "assistant turn"}
		if rec.SessionID != "" {
			ev.SessionID = rec.SessionID
		}
		return ev, true
	case "result":
		return detect.Event{Cause: detect.CauseIdle, Evidence: "turn result"}, true
	case "error":
		return detect.Event{
			Cause:         detect.CauseError,
			ErrorCategory: classifyErrorText(rec.Error),
			ErrorDetail:   rec.Error,
		}, true
	}
	return detect.Event{}, false
}

func (d *claudeDriver) ClassifyScreen(s term.Screen) (detect.Event, bool) {
	if detect.ContainsAny(s.Lines, "esc to interrupt") {
		return detect.Event{Cause: detect.CauseWorking, Evidence: "interrupt hint"}, true
	}
	if detect.ContainsAny(s.Lines, "do you want to", "allow this tool") {
		return detect.Event{
			Cause:  detect.CausePrompt,
			Prompt: promptFromOptionsScreen(s, "permission"),
		}, true
	}
	return detect.Event{}, false
}

// classifyErrorText maps error text onto the shared category set.
func classifyErrorText(text string) string {
	t := strings.ToLower(text)
	switch {
	case strings.Contains(t, "unauthorized"), strings.Contains(t, "401"), strings.Contains(t, "invalid api key"):
		return detect.ErrUnauthorized
	case strings.Contains(t, "credit"), strings.Contains(t, "billing"), strings.Contains(t, "quota"):
		return detect.ErrOutOfCredits
	case strings.Contains(t, "rate limit"), strings.Contains(t, "429"), strings.Contains(t, "overloaded"):
		return detect.ErrRateLimited
	case strings.Contains(t, "no internet"), strings.Contains(t, "econnrefused"), strings.Contains(t, "dns"), strings.Contains(t, "getaddrinfo"):
		return detect.ErrNoInternet
	case strings.Contains(t, "internal server"), strings.Contains(t, "502"), strings.Contains(t, "503"):
		return detect.ErrServerError
	default:
		return detect.ErrOther
	}
}

// promptFromOptionsScreen builds a PromptContext from numbered menu lines
// ("1. Yes", "2) No"). When nothing parses, options_fallback tells clients
// to render freeform input instead.
func promptFromOptionsScreen(s term.Screen, kind string) *wire.PromptContext {
	var opts []string
	for _, line := range s.Lines {
		t := strings.TrimSpace(line)
		t = strings.TrimPrefix(t, "❯ ")
		if len(t) > 2 && t[0] >= '1' && t[0] <= '9' && (t[1] == '.' || t[1] == ')') {
			opts = append(opts, strings.TrimSpace(t[2:]))
		}
	}
	return &wire.PromptContext{
		Kind:            kind,
		Options:         opts,
		OptionsFallback: len(opts) == 0,
		Ready:           true,
	}
}
