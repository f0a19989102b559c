// Package config loads the orchestrator configuration from a YAML file with
// environment variable overrides for the settings most often tuned per
// deployment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/parlourhq/parlour/core"
)

// Default configuration values exported for documentation and validation.
const (
	DefaultPoolCapacity  = 10
	DefaultMaxTurns      = 25
	DefaultMaxParallel   = 5
	DefaultApprovalMode  = "confirm"
	DefaultModelProvider = "openai"
	DefaultModelName     = "gpt-4o-mini"
	DefaultLogLevel      = "info"
	DefaultServerTimeout = 30 * time.Second
)

// Config is the complete orchestrator configuration.
type Config struct {
	Pool     PoolConfig     `yaml:"pool"`
	Model    ModelConfig    `yaml:"model"`
	Approval ApprovalConfig `yaml:"approval"`
	Projects ProjectsConfig `yaml:"projects"`
	Servers  []ServerConfig `yaml:"servers"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// PoolConfig bounds resident sessions and their turn budgets.
type PoolConfig struct {
	Capacity int `yaml:"capacity"`
	MaxTurns int `yaml:"max_turns"`
}

// ModelConfig names the default model applied to new sessions.
type ModelConfig struct {
	Provider    string  `yaml:"provider"`
	Name        string  `yaml:"name"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int64   `yaml:"max_tokens"`
}

// ApprovalConfig controls confirmation gating of dangerous tool calls.
// Mode is "confirm" (ask the user) or "auto" (approve everything).
type ApprovalConfig struct {
	Mode        string `yaml:"mode"`
	MaxParallel int    `yaml:"max_parallel"`
}

// ProjectsConfig lists directories sessions may be created under.
type ProjectsConfig struct {
	AllowedRoots []string `yaml:"allowed_roots"`
	TaskBase     string   `yaml:"task_base"`
}

// ServerConfig points at one external tool server.
type ServerConfig struct {
	Name     string        `yaml:"name"`
	Endpoint string        `yaml:"endpoint"`
	Timeout  time.Duration `yaml:"timeout"`
}

// LoggingConfig tunes the structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a Config populated with the package defaults.
func Default() *Config {
	return &Config{
		Pool:     PoolConfig{Capacity: DefaultPoolCapacity, MaxTurns: DefaultMaxTurns},
		Model:    ModelConfig{Provider: DefaultModelProvider, Name: DefaultModelName},
		Approval: ApprovalConfig{Mode: DefaultApprovalMode, MaxParallel: DefaultMaxParallel},
		Logging:  LoggingConfig{Level: DefaultLogLevel, Format: "text"},
	}
}

// Load reads the YAML file at path over the defaults and applies environment
// overrides. A missing file is not an error; the defaults apply.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// Fall through to env overrides.
		case err != nil:
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("config: parsing %s: %w", path, err)
			}
		}
	}
	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the pool or scheduler cannot honor.
func (c *Config) Validate() error {
	if c.Pool.Capacity <= 0 {
		return fmt.Errorf("config: pool.capacity must be positive, got %d", c.Pool.Capacity)
	}
	if c.Pool.MaxTurns <= 0 {
		return fmt.Errorf("config: pool.max_turns must be positive, got %d", c.Pool.MaxTurns)
	}
	if c.Approval.Mode != "confirm" && c.Approval.Mode != "auto" {
		return fmt.Errorf("config: approval.mode must be confirm or auto, got %q", c.Approval.Mode)
	}
	for _, srv := range c.Servers {
		if srv.Name == "" || srv.Endpoint == "" {
			return fmt.Errorf("config: external server entries need name and endpoint")
		}
	}
	return nil
}

// AutoApprove reports whether confirmation gating is disabled.
func (c *Config) AutoApprove() bool { return c.Approval.Mode == "auto" }

// SessionModel converts the configured default model to the session form.
func (c *Config) SessionModel() core.ModelConfig {
	return core.ModelConfig{
		Provider:    c.Model.Provider,
		Name:        c.Model.Name,
		Temperature: c.Model.Temperature,
		MaxTokens:   c.Model.MaxTokens,
	}
}

// applyEnv overrides the settings most often tuned per deployment.
func applyEnv(cfg *Config) {
	if v := os.Getenv("PARLOUR_POOL_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pool.Capacity = n
		}
	}
	if v := os.Getenv("PARLOUR_MAX_TURNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pool.MaxTurns = n
		}
	}
	if v := os.Getenv("PARLOUR_MODEL"); v != "" {
		cfg.Model.Name = v
	}
	if v := os.Getenv("PARLOUR_MODEL_PROVIDER"); v != "" {
		cfg.Model.Provider = v
	}
	if v := os.Getenv("PARLOUR_APPROVAL_MODE"); v != "" {
		cfg.Approval.Mode = v
	}
	if v := os.Getenv("PARLOUR_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}
