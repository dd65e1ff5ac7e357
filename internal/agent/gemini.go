package agent

import (
	"path/filepath"
	"strings"

	"github.com/groblegark/coop/internal/detect"
	"github.com/groblegark/coop/internal/term"
)

type geminiDriver struct{}

func (d *geminiDriver) Kind() string { return "gemini" }

func (d *geminiDriver) Command(extra []string) (string, []string) {
	return "gemini", extra
}

// Gemini has no resume flag; a switch starts a fresh conversation.
func (d *geminiDriver) ResumeArgs(string) []string { return nil }

func (d *geminiDriver) EnvVars() []string {
	return []string{"GEMINI_API_KEY", "GOOGLE_API_KEY"}
}

func (d *geminiDriver) LogPath(home, cwd string) string {
	dir := projectLogDir(home, cwd, ".gemini")
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "logs.json")
}

// Gemini's log is not line-structured JSON; classify on plain markers.
func (d *geminiDriver) ClassifyLogLine(line string) (detect.Event, bool) {
	l := strings.ToLower(line)
	switch {
	case strings.Contains(l, "\"role\":\"model\""):
		return detect.Event{Cause: detect.CauseWorking, Evidence: "model turn"}, true
	case strings.Contains(l, "quota exceeded"), strings.Contains(l, "resource_exhausted"):
		return detect.Event{
			Cause:         detect.CauseError,
			ErrorCategory: detect.ErrRateLimited,
			ErrorDetail:   strings.TrimSpace(line),
		}, true
	case strings.Contains(l, "permission_denied"), strings.Contains(l, "api key not valid"):
		return detect.Event{
			Cause:         detect.CauseError,
			ErrorCategory: detect.ErrUnauthorized,
			ErrorDetail:   strings.TrimSpace(line),
		}, true
	}
	return detect.Event{}, false
}

func (d *geminiDriver) ClassifyScreen(s term.Screen) (detect.Event, bool) {
	if detect.ContainsAny(s.Lines, "esc to cancel") {
		return detect.Event{Cause: detect.CauseWorking, Evidence: "cancel hint"}, true
	}
	if detect.ContainsAny(s.Lines, "apply this change", "allow execution") {
		return detect.Event{
			Cause:  detect.CausePrompt,
			Prompt: promptFromOptionsScreen(s, "permission"),
		}, true
	}
	return detect.Event{}, false
}
