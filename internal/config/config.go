// Package config loads the optional YAML config files for coop and coopmux.
// Flags and environment variables override file values; everything has a
// usable default so both binaries run with no file at all.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/groblegark/coop/internal/hooks"
)

// Coop is the per-supervisor config file (coop.yaml).
type Coop struct {
	Host      string `yaml:"host,omitempty"`
	Port      int    `yaml:"port,omitempty"`
	AuthToken string `yaml:"auth_token,omitempty"`
	Agent     string `yaml:"agent,omitempty"`
	CWD       string `yaml:"cwd,omitempty"`
	Cols      int    `yaml:"cols,omitempty"`
	Rows      int    `yaml:"rows,omitempty"`

	RingCapacity  int `yaml:"ring_capacity,omitempty"`
	IdleGraceMS   int `yaml:"idle_grace_ms,omitempty"`
	SwitchTimeout int `yaml:"switch_timeout_secs,omitempty"`

	LogLevel  string `yaml:"log_level,omitempty"`
	LogFormat string `yaml:"log_format,omitempty"`
	LogFile   string `yaml:"log_file,omitempty"`

	Env map[string]string `yaml:"env,omitempty"`

	// Initial hook gating; mutable later over HTTP.
	StopHook  *hooks.StopConfig  `yaml:"stop_hook,omitempty"`
	StartHook *hooks.StartConfig `yaml:"start_hook,omitempty"`
}

// Mux is the coopmux config file (coopmux.yaml).
type Mux struct {
	Host      string `yaml:"host,omitempty"`
	Port      int    `yaml:"port,omitempty"`
	AuthToken string `yaml:"auth_token,omitempty"`

	UpstreamToken     string `yaml:"upstream_token,omitempty"`
	HealthCheckMS     int    `yaml:"health_check_ms,omitempty"`
	MaxHealthFailures int    `yaml:"max_health_failures,omitempty"`
	BatchMS           int    `yaml:"batch_ms,omitempty"`
	ScreenPollMS      int    `yaml:"screen_poll_ms,omitempty"`
	LaunchScript      string `yaml:"launch_script,omitempty"`

	LogLevel  string `yaml:"log_level,omitempty"`
	LogFormat string `yaml:"log_format,omitempty"`
	LogFile   string `yaml:"log_file,omitempty"`
}

// LoadCoop reads a coop config file. A missing path returns zero-value
// defaults; a missing explicit file is an error only when explicit is true.
func LoadCoop(path string, explicit bool) (*Coop, error) {
	var cfg Coop
	if err := load(path, explicit, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadMux reads a coopmux config file.
func LoadMux(path string, explicit bool) (*Mux, error) {
	var cfg Mux
	if err := load(path, explicit, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func load(path string, explicit bool, out any) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// IdleGrace converts the configured grace to a duration, 0 meaning default.
func (c *Coop) IdleGrace() time.Duration {
	return time.Duration(c.IdleGraceMS) * time.Millisecond
}
