package agent

import (
	"encoding/json"
	"path/filepath"

	"github.com/groblegark/coop/internal/detect"
	"github.com/groblegark/coop/internal/term"
)

type codexDriver struct{}

func (d *codexDriver) Kind() string { return "codex" }

func (d *codexDriver) Command(extra []string) (string, []string) {
	return "codex", extra
}

func (d *codexDriver) ResumeArgs(agentSessionID string) []string {
	if agentSessionID == "" {
		return nil
	}
	return []string{"resume", agentSessionID}
}

func (d *codexDriver) EnvVars() []string {
	return []string{"OPENAI_API_KEY"}
}

func (d *codexDriver) LogPath(home, cwd string) string {
	if home == "" {
		return ""
	}
	return filepath.Join(home, ".codex", "sessions", "latest.jsonl")
}

type codexLogLine struct {
	Type    string `json:"type"`
	ID      string `json:"id"`
	Payload struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"payload"`
}

func (d *codexDriver) ClassifyLogLine(line string) (detect.Event, bool) {
	var rec codexLogLine
	if err := json.Unmarshal([]byte(line), &rec); err != nil {
		return detect.Event{}, false
	}
	switch rec.Type {
	case "session_meta":
		return detect.Event{Cause: detect.CauseSessionID, SessionID: rec.ID}, true
	case "event_msg":
		switch rec.Payload.Type {
		case "task_started", "agent_reasoning":
			return detect.Event{Cause: detect.CauseWorking, Evidence: rec.Payload.Type}, true
		case "task_complete":
			return detect.Event{Cause: detect.CauseIdle, Evidence: "task complete"}, true
		case "error":
			return detect.Event{
				Cause:         detect.CauseError,
				ErrorCategory: classifyErrorText(rec.Payload.Message),
				ErrorDetail:   rec.Payload.Message,
			}, true
		}
	}
	return detect.Event{}, false
}

func (d *codexDriver) ClassifyScreen(s term.Screen) (detect.Event, bool) {
	if detect.ContainsAny(s.Lines, "working", "thinking") && s.AltScreen {
		return detect.Event{Cause: detect.CauseWorking, Evidence: "status line"}, true
	}
	if detect.ContainsAny(s.Lines, "allow command", "approve") {
		return detect.Event{
			Cause:  detect.CausePrompt,
			Prompt: promptFromOptionsScreen(s, "permission"),
		}, true
	}
	return detect.Event{}, false
}
