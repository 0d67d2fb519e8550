// Package config provides configuration loading for fixd.
//
// Configuration is read from a YAML file and overridden by environment
// variables, with hardcoded defaults underneath. Secrets (API keys, VCS
// tokens) use the Secret type so they are redacted in logs and serialized
// output.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the complete fixd configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Observability ObservabilityConfig `koanf:"observability"`
	Logging       LoggingConfig       `koanf:"logging"`
	Engine        EngineConfig        `koanf:"engine"`
	Oracle        OracleConfig        `koanf:"oracle"`
	VCS           VCSConfig           `koanf:"vcs"`
	Validation    ValidationConfig    `koanf:"validation"`
	Store         StoreConfig         `koanf:"store"`
	Diff          DiffConfig          `koanf:"diff"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`

	// SessionRateLimit is the per-client sessions-per-minute budget for the
	// create endpoint.
	SessionRateLimit int `koanf:"session_rate_limit"`
}

// ObservabilityConfig holds OpenTelemetry configuration.
type ObservabilityConfig struct {
	Enabled        bool   `koanf:"enabled"`
	ServiceName    string `koanf:"service_name"`
	ServiceVersion string `koanf:"service_version"`
	Endpoint       string `koanf:"endpoint"`
	Insecure       bool   `koanf:"insecure"`
}

// LoggingConfig holds logger configuration.
type LoggingConfig struct {
	Level  string `koanf:"level"`  // debug, info, warn, error
	Format string `koanf:"format"` // json or console
}

// EngineConfig holds fix-orchestration defaults. Per-session requests may
// lower but never raise MaxRetries.
type EngineConfig struct {
	MaxRetries       int      `koanf:"max_retries"`
	SelfHealing      bool     `koanf:"self_healing"`
	AIReview         bool     `koanf:"ai_review"`
	MaxRegenerations int      `koanf:"max_regenerations"`
	Workers          int      `koanf:"workers"`
	QueueSize        int      `koanf:"queue_size"`
	DraftOnExhausted bool     `koanf:"draft_on_exhausted"`
	OracleTimeout    Duration `koanf:"oracle_timeout"`
}

// OracleConfig holds code-generation service configuration.
type OracleConfig struct {
	APIKey  Secret `koanf:"api_key"`
	BaseURL string `koanf:"base_url"`
	Model   string `koanf:"model"`
}

// VCSConfig holds version-control platform configuration.
type VCSConfig struct {
	Token      Secret `koanf:"token"`
	Owner      string `koanf:"owner"`
	Repo       string `koanf:"repo"`
	BaseBranch string `koanf:"base_branch"`
	// BaseURL overrides the API endpoint for GitHub Enterprise.
	BaseURL string `koanf:"base_url"`
}

// ValidationConfig holds verification-step configuration. Commands are argv
// vectors; empty commands in exec mode are a validation error.
type ValidationConfig struct {
	Mode        string   `koanf:"mode"` // simulated or exec
	Typecheck   []string `koanf:"typecheck"`
	Lint        []string `koanf:"lint"`
	UnitTest    []string `koanf:"unit_test"`
	E2E         []string `koanf:"e2e"`
	WorkDir     string   `koanf:"work_dir"`
	StepTimeout Duration `koanf:"step_timeout"`
	OutputCap   int      `koanf:"output_cap"`
}

// StoreConfig holds persistence configuration.
type StoreConfig struct {
	Driver string `koanf:"driver"` // sqlite or memory
	DSN    string `koanf:"dsn"`
}

// DiffConfig holds diff-engine bounds.
type DiffConfig struct {
	ContextLines  int `koanf:"context_lines"`
	MaxHunks      int `koanf:"max_hunks"`
	MaxBytes      int `koanf:"max_bytes"`
	MaxInputLines int `koanf:"max_input_lines"`
}

// Default returns the built-in configuration defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             "localhost",
			Port:             8790,
			ShutdownTimeout:  Duration(10 * time.Second),
			SessionRateLimit: 10,
		},
		Observability: ObservabilityConfig{
			Enabled:        false,
			ServiceName:    "fixd",
			ServiceVersion: "dev",
			Endpoint:       "localhost:4317",
			Insecure:       true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Engine: EngineConfig{
			MaxRetries:       3,
			SelfHealing:      true,
			AIReview:         true,
			MaxRegenerations: 3,
			Workers:          4,
			QueueSize:        64,
			DraftOnExhausted: true,
			OracleTimeout:    Duration(60 * time.Second),
		},
		Oracle: OracleConfig{
			Model: "gpt-4o-mini",
		},
		VCS: VCSConfig{
			BaseBranch: "main",
		},
		Validation: ValidationConfig{
			Mode:        "simulated",
			StepTimeout: Duration(5 * time.Minute),
			OutputCap:   16 * 1024,
		},
		Store: StoreConfig{
			Driver: "memory",
		},
		Diff: DiffConfig{
			ContextLines:  3,
			MaxHunks:      100,
			MaxBytes:      256 * 1024,
			MaxInputLines: 10000,
		},
	}
}

// Validate checks cross-field constraints that the loader cannot express.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Engine.MaxRetries < 0 {
		return errors.New("engine.max_retries cannot be negative")
	}
	if c.Engine.MaxRegenerations < 0 {
		return errors.New("engine.max_regenerations cannot be negative")
	}
	if c.Engine.Workers < 1 {
		return errors.New("engine.workers must be at least 1")
	}
	if c.Engine.QueueSize < 1 {
		return errors.New("engine.queue_size must be at least 1")
	}

	switch c.Validation.Mode {
	case "simulated":
	case "exec":
		if len(c.Validation.Typecheck) == 0 || len(c.Validation.Lint) == 0 || len(c.Validation.UnitTest) == 0 {
			return errors.New("validation mode exec requires typecheck, lint and unit_test commands")
		}
	default:
		return fmt.Errorf("validation.mode %q must be simulated or exec", c.Validation.Mode)
	}

	switch c.Store.Driver {
	case "memory":
	case "sqlite":
		if c.Store.DSN == "" {
			return errors.New("store driver sqlite requires a dsn")
		}
	default:
		return fmt.Errorf("store.driver %q must be sqlite or memory", c.Store.Driver)
	}

	if c.Diff.ContextLines < 0 {
		return errors.New("diff.context_lines cannot be negative")
	}
	return nil
}
