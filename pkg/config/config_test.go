package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/odvcencio/palaver/pkg/conversation"
	"github.com/odvcencio/palaver/pkg/errors"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Agent.Mode != "request" {
		t.Errorf("default mode = %q, want request", cfg.Agent.Mode)
	}
	if cfg.Dispatch.BaseContext != 20000 {
		t.Errorf("base context = %d, want 20000", cfg.Dispatch.BaseContext)
	}
	if cfg.Dispatch.FinalizedCap != 2000 {
		t.Errorf("finalized cap = %d, want 2000", cfg.Dispatch.FinalizedCap)
	}
}

func TestDefaultPhasesMatchPhaseMachine(t *testing.T) {
	got := DefaultConfig().Phases.Timeouts()
	if want := conversation.DefaultPhaseTimeouts(); got != want {
		t.Errorf("default phases = %+v, want %+v", got, want)
	}
}

func TestPhasesTimeoutsCarriesOverrides(t *testing.T) {
	p := PhasesConfig{
		Initial:          time.Second,
		Streaming:        2 * time.Second,
		Extended:         3 * time.Second,
		MaxIdleStreaming: 7,
	}
	pt := p.Timeouts()
	if pt.Initial != time.Second || pt.MaxIdleStreaming != 7 {
		t.Errorf("timeouts = %+v", pt)
	}
	if got := conversation.PhaseStreaming.Timeout(pt); got != 2*time.Second {
		t.Errorf("streaming timeout = %v", got)
	}
}

func TestLoadFromPathMergesOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
agent:
  mode: bot
dispatch:
  base_context: 30000
phases:
  streaming: 4s
  max_idle_streaming: 0
metrics:
  enabled: true
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath: %v", err)
	}

	if cfg.Agent.Mode != "bot" {
		t.Errorf("mode = %q, want bot", cfg.Agent.Mode)
	}
	if cfg.Dispatch.BaseContext != 30000 {
		t.Errorf("base context = %d, want 30000", cfg.Dispatch.BaseContext)
	}
	if cfg.Phases.Streaming != 4*time.Second {
		t.Errorf("streaming timeout = %v, want 4s", cfg.Phases.Streaming)
	}
	// Explicit zero is honored; absent fields keep defaults.
	if cfg.Phases.MaxIdleStreaming != 0 {
		t.Errorf("max idle streaming = %d, want explicit 0", cfg.Phases.MaxIdleStreaming)
	}
	if cfg.Phases.MaxIdleCompacting != 30 {
		t.Errorf("max idle compacting = %d, want default 30", cfg.Phases.MaxIdleCompacting)
	}
	if !cfg.Metrics.Enabled {
		t.Error("metrics should be enabled")
	}
	if cfg.Dispatch.FinalizedCap != 2000 {
		t.Errorf("finalized cap = %d, want default 2000", cfg.Dispatch.FinalizedCap)
	}
}

func TestLoadFromPathRejectsBadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("agent: [not a map"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := LoadFromPath(path)
	if err == nil {
		t.Fatal("expected parse error")
	}
	if !errors.IsCode(err, errors.ErrCodeConfigLoad) {
		t.Errorf("code = %v, want %v", errors.GetCode(err), errors.ErrCodeConfigLoad)
	}
}

func TestLoadFromPathMissingFile(t *testing.T) {
	_, err := LoadFromPath(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error for missing explicit path")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad mode", func(c *Config) { c.Agent.Mode = "yolo" }},
		{"bad backend", func(c *Config) { c.Bus.Backend = "kafka" }},
		{"zero finalized cap", func(c *Config) { c.Dispatch.FinalizedCap = 0 }},
		{"zero base context", func(c *Config) { c.Dispatch.BaseContext = 0 }},
		{"bad log level", func(c *Config) { c.Logging.Level = "trace" }},
		{"zero phase timeout", func(c *Config) { c.Phases.Initial = 0 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PALAVER_MODE", "auto")
	t.Setenv("PALAVER_BASE_CONTEXT", "45000")
	t.Setenv("PALAVER_METRICS_ENABLED", "true")
	t.Setenv("PALAVER_BUS_URL", "nats://example:4222")

	cfg := DefaultConfig()
	applyEnvOverrides(cfg)

	if cfg.Agent.Mode != "auto" {
		t.Errorf("mode = %q, want auto", cfg.Agent.Mode)
	}
	if cfg.Dispatch.BaseContext != 45000 {
		t.Errorf("base context = %d, want 45000", cfg.Dispatch.BaseContext)
	}
	if !cfg.Metrics.Enabled {
		t.Error("metrics should be enabled")
	}
	if cfg.Bus.Backend != "nats" {
		t.Errorf("backend = %q, want nats after url override", cfg.Bus.Backend)
	}
}
