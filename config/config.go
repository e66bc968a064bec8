package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"chatwrap/model"
)

// Duration decodes TOML strings such as "60s" or "1500ms".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// APIConfig configures the Model API backend.
type APIConfig struct {
	Provider          string   `toml:"provider"`
	Key               string   `toml:"key"`
	BaseURL           string   `toml:"base_url"`
	Model             string   `toml:"model"`
	Timeout           Duration `toml:"timeout"`
	RetryAttempts     int      `toml:"retry_attempts"`
	RetryDelay        Duration `toml:"retry_delay"`
	RequestsPerSecond float64  `toml:"requests_per_second"`
	Burst             int      `toml:"burst"`
}

// StorageConfig selects the key-value backend.
type StorageConfig struct {
	Backend       string `toml:"backend"`
	Encrypt       bool   `toml:"encrypt"`
	PassphraseEnv string `toml:"passphrase_env"`
}

// TranslationConfig points at an optional OpenAI-compatible translation
// service. An empty BaseURL means translation falls back to the Model API.
type TranslationConfig struct {
	BaseURL string `toml:"base_url"`
	APIKey  string `toml:"api_key"`
	Model   string `toml:"model"`
}

// LogConfig configures the zerolog logger.
type LogConfig struct {
	Level  string `toml:"level"`
	Pretty bool   `toml:"pretty"`
	File   string `toml:"file"`
}

// PluginsConfig lists built-in plugins to enable at startup.
type PluginsConfig struct {
	Enabled []string `toml:"enabled"`
}

type Config struct {
	DataDirectory string            `toml:"data_directory"`
	API           APIConfig         `toml:"api"`
	Storage       StorageConfig     `toml:"storage"`
	Translation   TranslationConfig `toml:"translation"`
	Chat          model.Settings    `toml:"chat"`
	Log           LogConfig         `toml:"log"`
	Plugins       PluginsConfig     `toml:"plugins"`
}

// Provider and storage backend names accepted by Validate.
var (
	knownProviders = []string{"anthropic", "anthropic-sdk", "openai", "openrouter", "ollama"}
	knownBackends  = []string{"file", "sqlite", "memory"}
)

func (c *Config) DataDir() string {
	return ExpandPath(c.DataDirectory)
}

// Passphrase returns the encryption passphrase from the configured env var.
func (c *Config) Passphrase() string {
	name := c.Storage.PassphraseEnv
	if name == "" {
		name = "CHATWRAP_PASSPHRASE"
	}
	return os.Getenv(name)
}

func (c *Config) applyEnvOverrides() {
	for _, name := range []string{"CHATWRAP_API_KEY", "ANTHROPIC_API_KEY", "CLAUDE_API_KEY"} {
		if key := os.Getenv(name); key != "" {
			c.API.Key = key
			break
		}
	}
	if baseURL := os.Getenv("CHATWRAP_BASE_URL"); baseURL != "" {
		c.API.BaseURL = baseURL
	}
	if dataDir := os.Getenv("CHATWRAP_DATA_DIR"); dataDir != "" {
		c.DataDirectory = dataDir
	}
	if CheckDebug() {
		c.Log.Level = "debug"
	}
}

// CheckDebug reports whether CHATWRAP_DEBUG is set to a truthy value.
func CheckDebug() bool {
	switch strings.ToLower(os.Getenv("CHATWRAP_DEBUG")) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// Validate rejects configurations the runtime cannot honour.
func (c *Config) Validate() error {
	if !contains(knownProviders, c.API.Provider) {
		return fmt.Errorf("unknown api provider %q", c.API.Provider)
	}
	if !contains(knownBackends, c.Storage.Backend) {
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if c.API.RetryAttempts < 1 {
		return fmt.Errorf("api.retry_attempts must be at least 1, got %d", c.API.RetryAttempts)
	}
	if c.API.RetryDelay.Duration < 0 {
		return fmt.Errorf("api.retry_delay must not be negative")
	}
	if c.API.Timeout.Duration <= 0 {
		return fmt.Errorf("api.timeout must be positive")
	}
	if c.API.RequestsPerSecond < 0 {
		return fmt.Errorf("api.requests_per_second must not be negative")
	}
	if err := c.Chat.Validate(); err != nil {
		return fmt.Errorf("chat defaults: %w", err)
	}
	return nil
}

// Load reads the TOML file at path over DefaultConfig and applies env
// overrides. An empty path means GetConfigFilePath(); a missing file is
// created from the commented template.
func Load(path string) (*Config, error) {
	if path == "" {
		path = GetConfigFilePath()
	}

	cfg, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	if cfg.Storage.Backend != "memory" {
		dataDir := cfg.DataDir()
		if err := EnsureDataDirPermissions(dataDir); err != nil {
			return nil, fmt.Errorf("failed to prepare data directory: %w", err)
		}
	}

	return cfg, nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
