// Package agent holds the per-agent drivers: how to launch each supported
// coding agent, where its session log lives, how to resume a session after a
// credential switch, and the log/screen classifiers the detectors run. The
// core consumes only the Driver interface; everything agent-specific stays
// behind it.
package agent

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/groblegark/coop/internal/detect"
	"github.com/groblegark/coop/internal/term"
)

// Driver adapts one agent kind to the supervisor.
type Driver interface {
	// Kind returns the agent name ("claude", "codex", "gemini").
	Kind() string

	// Command returns the executable and base argv for an interactive session.
	// Extra is the argv tail the operator passed after "--".
	Command(extra []string) (name string, args []string)

	// ResumeArgs returns the argv additions that resume a previous agent
	// session, or nil when the agent does not support resuming.
	ResumeArgs(agentSessionID string) []string

	// EnvVars lists environment variable names forwarded from the host when
	// not explicitly overridden.
	EnvVars() []string

	// LogPath returns the session log file to tail for the log tier, or ""
	// when the agent writes no usable log.
	LogPath(home, cwd string) string

	// ClassifyLogLine is the log-tier classifier (the watcher stamps the tier).
	ClassifyLogLine(line string) (detect.Event, bool)

	// ClassifyScreen is the screen-tier classifier.
	ClassifyScreen(s term.Screen) (detect.Event, bool)
}

var drivers = map[string]Driver{
	"claude": &claudeDriver{},
	"codex":  &codexDriver{},
	"gemini": &geminiDriver{},
}

// Lookup returns the driver for the given agent kind.
func Lookup(kind string) (Driver, error) {
	d, ok := drivers[kind]
	if !ok {
		return nil, fmt.Errorf("no driver for agent %q", kind)
	}
	return d, nil
}

// Kinds returns the supported agent kinds.
func Kinds() []string {
	return []string{"claude", "codex", "gemini"}
}

// projectLogDir resolves the per-project log directory agents derive from a
// sanitized absolute working directory path.
func projectLogDir(home, cwd, vendor string) string {
	if home == "" || cwd == "" {
		return ""
	}
	sanitized := strings.NewReplacer("/", "-", ".", "-").Replace(cwd)
	return filepath.Join(home, vendor, "projects", sanitized)
}
