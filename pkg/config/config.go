// Package config loads the recall daemon configuration from a YAML file.
//
// Every field has a sensible default; a missing config file yields a fully
// usable default configuration. API keys are never stored in the file — the
// file names the environment variable to read them from.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the recall daemon.
type Config struct {
	// DataDir is the root directory for persisted memory and logs.
	DataDir string `yaml:"data_dir"`

	// Watch configures the recording-folder watcher.
	Watch WatchConfig `yaml:"watch"`

	// Inference configures the video annotation client.
	Inference InferenceConfig `yaml:"inference"`

	// Summarizer configures the LLM provider used by the memory core.
	Summarizer SummarizerConfig `yaml:"summarizer"`

	// Memory configures tier token budgets.
	Memory MemoryConfig `yaml:"memory"`

	// Storage selects the snapshot persistence backend.
	Storage StorageConfig `yaml:"storage"`

	// Server configures the HTTP surface.
	Server ServerConfig `yaml:"server"`
}

// WatchConfig configures recording detection.
type WatchConfig struct {
	// Dir is the directory to watch for new recordings. Empty disables watching.
	Dir string `yaml:"dir"`

	// Patterns are glob patterns a file name must match to be considered a
	// recording (e.g. "*.mp4").
	Patterns []string `yaml:"patterns"`

	// PollInterval is how often the directory is scanned.
	PollInterval time.Duration `yaml:"poll_interval"`

	// StablePolls is how many consecutive unchanged scans mark a file complete.
	StablePolls int `yaml:"stable_polls"`
}

// InferenceConfig configures the external multimodal annotation service.
type InferenceConfig struct {
	// Model is the multimodal model used to annotate recordings.
	Model string `yaml:"model"`

	// APIKeyEnv names the environment variable carrying the API key.
	APIKeyEnv string `yaml:"api_key_env"`

	// UploadTimeout bounds how long to wait for an uploaded file to become
	// available for inference.
	UploadTimeout time.Duration `yaml:"upload_timeout"`
}

// SummarizerConfig configures the LLM provider behind the memory core's
// summarize capability.
type SummarizerConfig struct {
	// Provider is "openai" or "anthropic".
	Provider string `yaml:"provider"`

	// Model is the model name passed to the provider.
	Model string `yaml:"model"`

	// APIKeyEnv names the environment variable carrying the API key.
	// Empty falls back to the provider's conventional variable.
	APIKeyEnv string `yaml:"api_key_env"`

	// BaseURL overrides the provider endpoint (OpenAI-compatible servers).
	BaseURL string `yaml:"base_url"`
}

// MemoryConfig configures tier token budgets. Zero values take defaults.
type MemoryConfig struct {
	STMBudget          int `yaml:"stm_budget"`
	LTMBudget          int `yaml:"ltm_budget"`
	WMBudget           int `yaml:"wm_budget"`
	ConsolidationSlice int `yaml:"consolidation_slice"`
	WMWindow           int `yaml:"wm_window"`
}

// StorageConfig selects the snapshot persistence backend.
type StorageConfig struct {
	// Backend is "file" or "postgres".
	Backend string `yaml:"backend"`

	// PostgresURL is the connection string when Backend is "postgres".
	PostgresURL string `yaml:"postgres_url"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	// Addr is the listen address. Empty disables the server.
	Addr string `yaml:"addr"`
}

// Default returns the default configuration.
func Default() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return &Config{
		DataDir: filepath.Join(home, ".recall"),
		Watch: WatchConfig{
			Patterns:     []string{"*.mp4", "*.mov", "*.webm"},
			PollInterval: 2 * time.Second,
			StablePolls:  3,
		},
		Inference: InferenceConfig{
			Model:         "gemini-2.5-flash",
			APIKeyEnv:     "GEMINI_API_KEY",
			UploadTimeout: 5 * time.Minute,
		},
		Summarizer: SummarizerConfig{
			Provider: "openai",
			Model:    "gpt-4o",
		},
		Memory: MemoryConfig{
			STMBudget:          8000,
			LTMBudget:          8000,
			WMBudget:           4000,
			ConsolidationSlice: 3000,
			WMWindow:           20,
		},
		Storage: StorageConfig{
			Backend: "file",
		},
		Server: ServerConfig{
			Addr: ":8787",
		},
	}
}

// DefaultPath returns the conventional config file location.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".recall", "config.yaml")
}

// Load reads the YAML config at path, layered over defaults. A missing file
// is not an error; the defaults are returned unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.Summarizer.Provider {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("config: unknown summarizer provider %q", c.Summarizer.Provider)
	}

	switch c.Storage.Backend {
	case "file":
	case "postgres":
		if c.Storage.PostgresURL == "" {
			return fmt.Errorf("config: storage backend postgres requires postgres_url")
		}
	default:
		return fmt.Errorf("config: unknown storage backend %q", c.Storage.Backend)
	}

	if c.Watch.StablePolls < 1 {
		c.Watch.StablePolls = 1
	}
	if c.Watch.PollInterval <= 0 {
		c.Watch.PollInterval = 2 * time.Second
	}

	return nil
}

// SummarizerAPIKey resolves the summarizer API key from the environment.
func (c *Config) SummarizerAPIKey() string {
	if c.Summarizer.APIKeyEnv != "" {
		return os.Getenv(c.Summarizer.APIKeyEnv)
	}
	return ""
}

// InferenceAPIKey resolves the inference API key from the environment.
func (c *Config) InferenceAPIKey() string {
	return os.Getenv(c.Inference.APIKeyEnv)
}
