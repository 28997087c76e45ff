package config

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/odvcencio/palaver/pkg/errors"
)

// loadAndMerge loads a YAML file and merges it into the config. Missing
// files come back as the raw read error so callers can ignore them.
func loadAndMerge(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var override Config
	if err := yaml.Unmarshal(data, &override); err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigParse, "parsing YAML")
	}

	// Zero values are ambiguous in YAML (absent vs explicit false/0), so
	// merging consults the raw document for field presence.
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigParse, "parsing YAML")
	}

	mergeConfigs(cfg, &override, raw)
	return nil
}

// mergeConfigs merges override into base.
func mergeConfigs(base, override *Config, raw map[string]any) {
	if override == nil {
		return
	}

	if override.Agent.Mode != "" {
		base.Agent.Mode = override.Agent.Mode
	}

	if override.Dispatch.BaseContext != 0 {
		base.Dispatch.BaseContext = override.Dispatch.BaseContext
	}
	if override.Dispatch.FinalizedCap != 0 {
		base.Dispatch.FinalizedCap = override.Dispatch.FinalizedCap
	}
	if override.Dispatch.PlansDir != "" {
		base.Dispatch.PlansDir = override.Dispatch.PlansDir
	}

	if override.Phases.Initial != 0 {
		base.Phases.Initial = override.Phases.Initial
	}
	if override.Phases.Streaming != 0 {
		base.Phases.Streaming = override.Phases.Streaming
	}
	if override.Phases.Extended != 0 {
		base.Phases.Extended = override.Phases.Extended
	}
	if fieldSet(raw, "phases", "max_idle_initial") {
		base.Phases.MaxIdleInitial = override.Phases.MaxIdleInitial
	}
	if fieldSet(raw, "phases", "max_idle_streaming") {
		base.Phases.MaxIdleStreaming = override.Phases.MaxIdleStreaming
	}
	if fieldSet(raw, "phases", "max_idle_tool_pending") {
		base.Phases.MaxIdleToolPending = override.Phases.MaxIdleToolPending
	}
	if fieldSet(raw, "phases", "max_idle_compacting") {
		base.Phases.MaxIdleCompacting = override.Phases.MaxIdleCompacting
	}

	if override.Bus.Backend != "" {
		base.Bus.Backend = override.Bus.Backend
	}
	if override.Bus.URL != "" {
		base.Bus.URL = override.Bus.URL
	}
	if override.Bus.Name != "" {
		base.Bus.Name = override.Bus.Name
	}
	if override.Bus.Timeout != 0 {
		base.Bus.Timeout = override.Bus.Timeout
	}

	if override.Logging.Dir != "" {
		base.Logging.Dir = override.Logging.Dir
	}
	if override.Logging.Level != "" {
		base.Logging.Level = override.Logging.Level
	}

	if fieldSet(raw, "metrics", "enabled") {
		base.Metrics.Enabled = override.Metrics.Enabled
	}
	if override.Metrics.Bind != "" {
		base.Metrics.Bind = override.Metrics.Bind
	}
}

func fieldSet(raw map[string]any, path ...string) bool {
	if len(path) == 0 || raw == nil {
		return false
	}
	current := any(raw)
	for _, key := range path {
		m, ok := current.(map[string]any)
		if !ok {
			return false
		}
		val, ok := m[key]
		if !ok {
			return false
		}
		current = val
	}
	return true
}
