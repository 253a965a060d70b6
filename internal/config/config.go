// Package config loads the runtime configuration from a YAML file with
// ${ENV} expansion and environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the aria runtime.
type Config struct {
	Admin     AdminConfig     `yaml:"admin"`
	Database  DatabaseConfig  `yaml:"database"`
	LLM       LLMConfig       `yaml:"llm"`
	Edge      EdgeConfig      `yaml:"edge"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Artifacts ArtifactsConfig `yaml:"artifacts"`
	Tracing   TracingConfig   `yaml:"tracing"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// AdminConfig describes the loopback admin API the CLI talks to.
type AdminConfig struct {
	Host  string `yaml:"host"`
	Port  int    `yaml:"port"`
	Token string `yaml:"token"`
}

// Addr returns the listen address for the admin server.
func (a AdminConfig) Addr() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}

type DatabaseConfig struct {
	URL             string        `yaml:"url"`
	MaxConnections  int           `yaml:"max_connections"`
	MaxIdle         int           `yaml:"max_idle"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
}

// LLMConfig points at the chat-completions gateway and names the model
// fallback chain in priority order.
type LLMConfig struct {
	GatewayURL        string        `yaml:"gateway_url"`
	APIKey            string        `yaml:"api_key"`
	Timeout           time.Duration `yaml:"timeout"`
	Models            []ModelConfig `yaml:"models"`
	MaxToolIterations int           `yaml:"max_tool_iterations"`
	ContextWindow     int           `yaml:"context_window"`
	SystemPrompt      string        `yaml:"system_prompt"`
}

type ModelConfig struct {
	Model     string `yaml:"model"`
	MaxTokens int    `yaml:"max_tokens"`
}

// EdgeConfig points at the external edge collaborator that owns the
// Telegram long-poll. Optional: with no URL the telegram_poll action
// reports itself unconfigured instead of dispatching.
type EdgeConfig struct {
	URL     string        `yaml:"url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

type SchedulerConfig struct {
	Enabled bool          `yaml:"enabled"`
	Workers int           `yaml:"workers"`
	Tick    time.Duration `yaml:"tick"`
}

type ArtifactsConfig struct {
	Root string `yaml:"root"`
}

type TracingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads and parses the configuration file, expanding ${ENV}
// references, then applies environment overrides and defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromEnv builds a configuration purely from environment variables, for
// deployments that carry no config file.
func FromEnv() (*Config, error) {
	var cfg Config
	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnvOverrides lets ARIA_* variables win over file values.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ARIA_DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("ARIA_GATEWAY_URL"); v != "" {
		cfg.LLM.GatewayURL = v
	}
	if v := os.Getenv("ARIA_GATEWAY_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("ARIA_EDGE_URL"); v != "" {
		cfg.Edge.URL = v
	}
	if v := os.Getenv("ARIA_EDGE_API_KEY"); v != "" {
		cfg.Edge.APIKey = v
	}
	if v := os.Getenv("ARIA_ADMIN_TOKEN"); v != "" {
		cfg.Admin.Token = v
	}
	if v := os.Getenv("ARIA_ADMIN_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Admin.Port = port
		}
	}
	if v := os.Getenv("ARIA_ARTIFACT_ROOT"); v != "" {
		cfg.Artifacts.Root = v
	}
	if v := os.Getenv("ARIA_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("ARIA_OTLP_ENDPOINT"); v != "" {
		cfg.Tracing.Endpoint = v
		cfg.Tracing.Enabled = true
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Admin.Host == "" {
		cfg.Admin.Host = "127.0.0.1"
	}
	if cfg.Admin.Port == 0 {
		cfg.Admin.Port = 8790
	}
	if cfg.Database.MaxConnections == 0 {
		cfg.Database.MaxConnections = 6
	}
	if cfg.Database.MaxIdle == 0 {
		cfg.Database.MaxIdle = 3
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 30 * time.Minute
	}
	if cfg.Database.ConnectTimeout == 0 {
		cfg.Database.ConnectTimeout = 10 * time.Second
	}
	if cfg.LLM.Timeout == 0 {
		cfg.LLM.Timeout = 120 * time.Second
	}
	if cfg.LLM.MaxToolIterations == 0 {
		cfg.LLM.MaxToolIterations = 10
	}
	if cfg.LLM.ContextWindow == 0 {
		cfg.LLM.ContextWindow = 40
	}
	if len(cfg.LLM.Models) == 0 {
		cfg.LLM.Models = []ModelConfig{
			{Model: "claude-sonnet-4", MaxTokens: 8192},
			{Model: "gpt-4o", MaxTokens: 8192},
		}
	}
	if cfg.Edge.Timeout == 0 {
		cfg.Edge.Timeout = 30 * time.Second
	}
	if cfg.Scheduler.Workers == 0 {
		cfg.Scheduler.Workers = 4
	}
	if cfg.Scheduler.Tick == 0 {
		cfg.Scheduler.Tick = time.Second
	}
	if cfg.Artifacts.Root == "" {
		cfg.Artifacts.Root = "artifacts"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// Validate rejects configurations the runtime cannot start with.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("database.url is required (or ARIA_DATABASE_URL)")
	}
	if c.LLM.GatewayURL == "" {
		return fmt.Errorf("llm.gateway_url is required (or ARIA_GATEWAY_URL)")
	}
	for i, m := range c.LLM.Models {
		if m.Model == "" {
			return fmt.Errorf("llm.models[%d].model is empty", i)
		}
	}
	if c.Scheduler.Workers < 1 {
		return fmt.Errorf("scheduler.workers must be at least 1")
	}
	return nil
}
