package config

import (
	"time"

	"chatwrap/model"
)

func DefaultConfig() *Config {
	return &Config{
		DataDirectory: DefaultDataDir(),
		API: APIConfig{
			Provider:      "anthropic",
			BaseURL:       "https://api.anthropic.com/v1",
			Timeout:       Duration{60 * time.Second},
			RetryAttempts: 3,
			RetryDelay:    Duration{time.Second},
			Burst:         1,
		},
		Storage: StorageConfig{
			Backend:       "file",
			PassphraseEnv: "CHATWRAP_PASSPHRASE",
		},
		Translation: TranslationConfig{
			Model: "gpt-4o-mini",
		},
		Chat: model.DefaultSettings(),
		Log: LogConfig{
			Level: "info",
		},
		Plugins: PluginsConfig{
			Enabled: []string{},
		},
	}
}

func GenerateConfigTemplate() string {
	return `# chatwrap configuration
# Location: ~/.config/chatwrap/config.toml
# This file uses TOML format: https://toml.io

# Directory where sessions, plugin settings and templates are stored
data_directory = "~/.local/share/chatwrap"

[api]
# Backend: anthropic | anthropic-sdk | openai | openrouter | ollama
provider = "anthropic"

# API key (prefer CHATWRAP_API_KEY or ANTHROPIC_API_KEY in the environment)
key = ""
base_url = "https://api.anthropic.com/v1"

# Per-attempt timeout and linear retry backoff (retry_delay * attempt)
timeout = "60s"
retry_attempts = 3
retry_delay = "1s"

# Client-side rate limit; 0 disables it
requests_per_second = 0
burst = 1

[storage]
# file | sqlite | memory
backend = "file"
# Encrypt stored blobs with a passphrase read from passphrase_env
encrypt = false
passphrase_env = "CHATWRAP_PASSPHRASE"

[translation]
# Optional OpenAI-compatible translation service. Leave base_url empty to
# translate through the Model API instead.
base_url = ""
api_key = ""
model = "gpt-4o-mini"

[chat]
model = "claude-3-5-sonnet-20241022"
temperature = 0.7
max_tokens = 4000
system_prompt = "You are a helpful AI assistant."
language = "en"
theme = "auto"
typing_speed = 50
auto_save = true
context_window = 20

[log]
# debug | info | warn | error
level = "info"
pretty = false
# Optional log file; empty logs to stderr
file = ""

[plugins]
# Built-in plugins to enable at startup: prompt-templates, auto-translator
enabled = []
`
}
