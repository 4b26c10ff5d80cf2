// Package config holds the unified selfforge configuration.
// Config lives in .forge/config.yaml inside the assistant workspace.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all selfforge configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// LLM oracle configuration
	LLM LLMConfig `yaml:"llm"`

	// Source tree configuration
	Source SourceConfig `yaml:"source"`

	// Feature-request workflow configuration
	Workflow WorkflowConfig `yaml:"workflow"`

	// Restart trigger configuration
	Restart RestartConfig `yaml:"restart"`

	// Change-set history store
	History HistoryConfig `yaml:"history"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// LLMConfig configures the language-model oracle.
type LLMConfig struct {
	Provider    string  `yaml:"provider"` // openai, gemini
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	BaseURL     string  `yaml:"base_url"`
	Timeout     string  `yaml:"timeout"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

// SourceConfig configures the tree indexer.
type SourceConfig struct {
	// Directory roots scanned for source files, relative to the workspace.
	Roots []string `yaml:"roots"`

	// File suffixes treated as source files.
	Extensions []string `yaml:"extensions"`

	// Per-file content excerpt length (bytes) included in oracle prompts.
	ExcerptLimit int `yaml:"excerpt_limit"`

	// Watch enables fsnotify-based re-indexing of external edits.
	Watch bool `yaml:"watch"`
}

// WorkflowConfig configures the feature-request state machine.
type WorkflowConfig struct {
	// Minimum classification confidence to open a feature conversation.
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
}

// RestartConfig configures the detached self-restart.
type RestartConfig struct {
	Command    string   `yaml:"command"`
	Args       []string `yaml:"args"`
	GraceDelay string   `yaml:"grace_delay"`
	ExitDelay  string   `yaml:"exit_delay"`
}

// HistoryConfig configures the sqlite change-set audit store.
type HistoryConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// LoggingConfig configures the categorized file logger.
// Mirrors the struct read directly by internal/logging.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Level      string          `yaml:"level"` // debug, info, warn, error
	Categories map[string]bool `yaml:"categories"`
}

// DefaultConfigPath returns the config path inside a workspace.
func DefaultConfigPath(workspace string) string {
	return filepath.Join(workspace, ".forge", "config.yaml")
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "selfforge",
		Version: "0.3.0",

		LLM: LLMConfig{
			Provider:    "openai",
			Model:       "gpt-4o-mini",
			BaseURL:     "https://api.openai.com/v1",
			Timeout:     "120s",
			Temperature: 0.3,
			MaxTokens:   4096,
		},

		Source: SourceConfig{
			Roots:        []string{"src", "modules"},
			Extensions:   []string{".js", ".ts"},
			ExcerptLimit: 500,
			Watch:        false,
		},

		Workflow: WorkflowConfig{
			ConfidenceThreshold: 0.7,
		},

		Restart: RestartConfig{
			Command:    "npm",
			Args:       []string{"start"},
			GraceDelay: "2s",
			ExitDelay:  "1s",
		},

		History: HistoryConfig{
			DatabasePath: ".forge/history.db",
		},

		Logging: LoggingConfig{
			DebugMode: false,
			Level:     "info",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Return defaults if config file doesn't exist
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	// API key from environment (check in priority order)
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		c.LLM.APIKey = key
		if c.LLM.Provider == "" {
			c.LLM.Provider = "openai"
		}
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.LLM.APIKey = key
		c.LLM.Provider = "gemini"
	}
	if key := os.Getenv("SELFFORGE_API_KEY"); key != "" {
		c.LLM.APIKey = key
	}

	if path := os.Getenv("SELFFORGE_DB"); path != "" {
		c.History.DatabasePath = path
	}
}

// GetLLMTimeout returns the oracle timeout as a duration.
func (c *Config) GetLLMTimeout() time.Duration {
	d, err := time.ParseDuration(c.LLM.Timeout)
	if err != nil {
		return 120 * time.Second
	}
	return d
}

// GetGraceDelay returns the restart grace delay as a duration.
func (c *Config) GetGraceDelay() time.Duration {
	d, err := time.ParseDuration(c.Restart.GraceDelay)
	if err != nil {
		return 2 * time.Second
	}
	return d
}

// GetExitDelay returns the post-launch exit delay as a duration.
func (c *Config) GetExitDelay() time.Duration {
	d, err := time.ParseDuration(c.Restart.ExitDelay)
	if err != nil {
		return time.Second
	}
	return d
}

// ValidProviders lists all supported oracle providers.
var ValidProviders = []string{"openai", "gemini"}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.LLM.APIKey == "" {
		return fmt.Errorf("oracle API key not configured (set OPENAI_API_KEY or GEMINI_API_KEY)")
	}

	validProvider := false
	for _, p := range ValidProviders {
		if c.LLM.Provider == p {
			validProvider = true
			break
		}
	}
	if !validProvider {
		return fmt.Errorf("invalid oracle provider: %s (valid: %v)", c.LLM.Provider, ValidProviders)
	}

	if len(c.Source.Roots) == 0 {
		return fmt.Errorf("no source roots configured")
	}

	if c.Workflow.ConfidenceThreshold < 0 || c.Workflow.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence threshold must be in [0,1], got %v", c.Workflow.ConfidenceThreshold)
	}

	return nil
}
