package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadCoopMissingFileIsDefault(t *testing.T) {
	cfg, err := LoadCoop(filepath.Join(t.TempDir(), "nope.yaml"), false)
	if err != nil {
		t.Fatalf("implicit missing file: %v", err)
	}
	if cfg.Port != 0 || cfg.Agent != "" {
		t.Fatalf("defaults = %+v", cfg)
	}

	if _, err := LoadCoop(filepath.Join(t.TempDir(), "nope.yaml"), true); err == nil {
		t.Fatal("explicit missing file accepted")
	}
}

func TestLoadCoopParsesHooks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "coop.yaml")
	doc := `
host: 0.0.0.0
port: 9090
agent: claude
stop_hook:
  mode: gate
  prompt: summarize first
  schema:
    required: [summary]
    properties:
      summary: string
start_hook:
  text: read AGENTS.md
  events:
    resume:
      shell: git log -1
`
	if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadCoop(path, true)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != 9090 || cfg.Agent != "claude" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.StopHook == nil || cfg.StopHook.Mode != "gate" || cfg.StopHook.Schema.Required[0] != "summary" {
		t.Fatalf("stop hook = %+v", cfg.StopHook)
	}
	if cfg.StartHook.Events["resume"].Shell != "git log -1" {
		t.Fatalf("start hook = %+v", cfg.StartHook)
	}
}

func TestLoadMuxBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "coopmux.yaml")
	os.WriteFile(path, []byte("port: [not a number"), 0644)
	if _, err := LoadMux(path, true); err == nil {
		t.Fatal("malformed YAML accepted")
	}
}
