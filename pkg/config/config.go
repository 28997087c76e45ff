// Package config loads palaver configuration with layered precedence:
// built-in defaults, user config (~/.palaver/config.yaml), project config
// (./.palaver/config.yaml), then environment overrides.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/odvcencio/palaver/pkg/conversation"
	"github.com/odvcencio/palaver/pkg/errors"
)

// Default configuration values exported for documentation and validation
const (
	DefaultMode         = "request"
	DefaultBaseContext  = 20000
	DefaultFinalizedCap = 2000
	DefaultPlansDir     = ".palaver/plans"
	DefaultBusURL       = "nats://127.0.0.1:4222"
	DefaultMetricsBind  = "127.0.0.1:9477"
	DefaultLogLevel     = "info"
)

var validModes = map[string]bool{
	"auto":    true,
	"request": true,
	"plan":    true,
	"bot":     true,
}

// Config is the complete palaver configuration.
type Config struct {
	Agent    AgentConfig    `yaml:"agent"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Phases   PhasesConfig   `yaml:"phases"`
	Bus      BusConfig      `yaml:"bus"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// AgentConfig controls how agent permission prompts are handled.
type AgentConfig struct {
	// Mode determines permission routing: auto, request, plan, bot
	// - auto: approve every prompt without asking
	// - request: queue prompts for the human
	// - plan: like request, with plan-approval flow enabled
	// - bot: an automated reviewer triages prompts before the queue
	Mode string `yaml:"mode"`
}

// DispatchConfig tunes the event dispatcher.
type DispatchConfig struct {
	// BaseContext is the system-prompt overhead added to post-compaction
	// token counts when reporting total context usage.
	BaseContext uint64 `yaml:"base_context"`

	// FinalizedCap bounds the remembered set of finished background tasks
	// used to suppress duplicate completion echoes.
	FinalizedCap int `yaml:"finalized_cap"`

	// PlansDir is where plan documents are expected to land; writes under
	// it are captured as plan content.
	PlansDir string `yaml:"plans_dir"`
}

// PhasesConfig tunes per-phase poll timeouts and idle tolerances.
type PhasesConfig struct {
	Initial   time.Duration `yaml:"initial"`
	Streaming time.Duration `yaml:"streaming"`
	Extended  time.Duration `yaml:"extended"`

	MaxIdleInitial     int `yaml:"max_idle_initial"`
	MaxIdleStreaming   int `yaml:"max_idle_streaming"`
	MaxIdleToolPending int `yaml:"max_idle_tool_pending"`
	MaxIdleCompacting  int `yaml:"max_idle_compacting"`
}

// Timeouts converts the config section into the form the phase machine
// consumes.
func (p PhasesConfig) Timeouts() conversation.PhaseTimeouts {
	return conversation.PhaseTimeouts{
		Initial:            p.Initial,
		Streaming:          p.Streaming,
		Extended:           p.Extended,
		MaxIdleInitial:     p.MaxIdleInitial,
		MaxIdleStreaming:   p.MaxIdleStreaming,
		MaxIdleToolPending: p.MaxIdleToolPending,
		MaxIdleCompacting:  p.MaxIdleCompacting,
	}
}

// BusConfig contains message bus connection settings.
type BusConfig struct {
	// Backend selects the bus implementation: memory | nats
	Backend string        `yaml:"backend"`
	URL     string        `yaml:"url"`
	Name    string        `yaml:"name"`
	Timeout time.Duration `yaml:"timeout"`
}

// LoggingConfig controls structured log output.
type LoggingConfig struct {
	Dir   string `yaml:"dir"`
	Level string `yaml:"level"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Bind    string `yaml:"bind"`
}

// defaultPhases mirrors the phase machine's tuned defaults so config stays
// the single point of override, not a second source of numbers.
func defaultPhases() PhasesConfig {
	t := conversation.DefaultPhaseTimeouts()
	return PhasesConfig{
		Initial:            t.Initial,
		Streaming:          t.Streaming,
		Extended:           t.Extended,
		MaxIdleInitial:     t.MaxIdleInitial,
		MaxIdleStreaming:   t.MaxIdleStreaming,
		MaxIdleToolPending: t.MaxIdleToolPending,
		MaxIdleCompacting:  t.MaxIdleCompacting,
	}
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Agent: AgentConfig{
			Mode: DefaultMode,
		},
		Dispatch: DispatchConfig{
			BaseContext:  DefaultBaseContext,
			FinalizedCap: DefaultFinalizedCap,
			PlansDir:     DefaultPlansDir,
		},
		Phases: defaultPhases(),
		Bus: BusConfig{
			Backend: "memory",
			URL:     DefaultBusURL,
			Name:    "palaver",
			Timeout: 5 * time.Second,
		},
		Logging: LoggingConfig{
			Dir:   "",
			Level: DefaultLogLevel,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Bind:    DefaultMetricsBind,
		},
	}
}

// Load loads configuration from default locations with proper precedence
func Load() (*Config, error) {
	cfg := DefaultConfig()

	home, err := os.UserHomeDir()
	if err != nil {
		home = os.Getenv("HOME")
	}
	if home != "" {
		userPath := filepath.Join(home, ".palaver", "config.yaml")
		if err := loadAndMerge(cfg, userPath); err != nil && !os.IsNotExist(err) {
			return nil, errors.Wrap(err, errors.ErrCodeConfigLoad, "loading user config").
				WithContext("path", userPath)
		}
	}

	projectPath := filepath.Join(".", ".palaver", "config.yaml")
	if err := loadAndMerge(cfg, projectPath); err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrap(err, errors.ErrCodeConfigLoad, "loading project config").
			WithContext("path", projectPath)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromPath loads configuration from a specific file path
func LoadFromPath(path string) (*Config, error) {
	cfg := DefaultConfig()

	if err := loadAndMerge(cfg, path); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeConfigLoad, "loading config").
			WithContext("path", path)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PALAVER_MODE"); v != "" {
		cfg.Agent.Mode = v
	}
	if v := os.Getenv("PALAVER_BUS_URL"); v != "" {
		cfg.Bus.URL = v
		cfg.Bus.Backend = "nats"
	}
	if v := os.Getenv("PALAVER_BUS_BACKEND"); v != "" {
		cfg.Bus.Backend = v
	}
	if v := os.Getenv("PALAVER_LOG_DIR"); v != "" {
		cfg.Logging.Dir = v
	}
	if v := os.Getenv("PALAVER_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("PALAVER_PLANS_DIR"); v != "" {
		cfg.Dispatch.PlansDir = v
	}
	if v := strings.TrimSpace(os.Getenv("PALAVER_BASE_CONTEXT")); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil && n > 0 {
			cfg.Dispatch.BaseContext = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("PALAVER_FINALIZED_CAP")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Dispatch.FinalizedCap = n
		}
	}
	if v, ok := envBool("PALAVER_METRICS_ENABLED"); ok {
		cfg.Metrics.Enabled = v
	}
	if v := os.Getenv("PALAVER_METRICS_BIND"); v != "" {
		cfg.Metrics.Bind = v
		cfg.Metrics.Enabled = true
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if !validModes[c.Agent.Mode] {
		return errors.New(errors.ErrCodeConfigInvalid, "unknown agent mode").
			WithContext("mode", c.Agent.Mode)
	}
	switch c.Bus.Backend {
	case "memory", "nats":
	default:
		return errors.New(errors.ErrCodeConfigInvalid, "unknown bus backend").
			WithContext("backend", c.Bus.Backend)
	}
	if c.Dispatch.FinalizedCap <= 0 {
		return errors.New(errors.ErrCodeConfigInvalid, "finalized_cap must be positive")
	}
	if c.Dispatch.BaseContext == 0 {
		return errors.New(errors.ErrCodeConfigInvalid, "base_context must be positive")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return errors.New(errors.ErrCodeConfigInvalid, "unknown log level").
			WithContext("level", c.Logging.Level)
	}
	if c.Phases.Initial <= 0 || c.Phases.Streaming <= 0 || c.Phases.Extended <= 0 {
		return errors.New(errors.ErrCodeConfigInvalid, "phase timeouts must be positive")
	}
	return nil
}

func envBool(key string) (bool, bool) {
	val := os.Getenv(key)
	if val == "" {
		return false, false
	}
	switch strings.ToLower(val) {
	case "1", "true", "yes", "on":
		return true, true
	case "0", "false", "no", "off":
		return false, true
	}
	return false, false
}
