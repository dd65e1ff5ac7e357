package agent

import (
	"github.com/groblegark/coop/internal/detect"
	"github.com/groblegark/coop/internal/term"
)

// Register adds a driver to the registry. Tests use it to supervise plain
// shells instead of real agents.
func Register(d Driver) {
	drivers[d.Kind()] = d
}

// ShellDriver supervises a plain shell; no log tier, no screen heuristics.
type ShellDriver struct {
	Name string
}

func (d *ShellDriver) Kind() string {
	if d.Name != "" {
		return d.Name
	}
	return "shell"
}

func (d *ShellDriver) Command(extra []string) (string, []string) {
	return "sh", extra
}

func (d *ShellDriver) ResumeArgs(string) []string { return nil }

func (d *ShellDriver) EnvVars() []string { return nil }

func (d *ShellDriver) LogPath(home, cwd string) string { return "" }

func (d *ShellDriver) ClassifyLogLine(string) (detect.Event, bool) {
	return detect.Event{}, false
}

func (d *ShellDriver) ClassifyScreen(term.Screen) (detect.Event, bool) {
	return detect.Event{}, false
}
