// Package provider implements the Transport Client: it turns a structured
// chat request into model replies while hiding transient network and server
// failures.
//
// Several backends implement the same model.Provider contract:
//   - provider.Client talks to the Anthropic /messages endpoint over plain
//     HTTP with its own retry policy and SSE decoder (the default)
//   - provider.SDKProvider uses the official Anthropic Go SDK
//   - provider.OpenAIProvider serves OpenAI and OpenRouter
//   - provider.OllamaProvider serves a local Ollama server
//   - provider.New() builds one of them from a Config
//
// # Usage
//
//	p, err := provider.New(provider.Config{
//	    Type:   provider.ProviderTypeAnthropic,
//	    APIKey: os.Getenv("ANTHROPIC_API_KEY"),
//	})
//	if err != nil {
//	    // handle error
//	}
//	resp, err := p.SendMessage(ctx, req)
package provider

import (
	"time"

	"github.com/rs/zerolog"

	"chatwrap/metrics"
)

// Note: The Provider interface is defined in the model package
// (model/provider.go) to avoid import cycles. This package implements model.Provider.

// ProviderType identifies the provider implementation.
type ProviderType string

const (
	ProviderTypeAnthropic    ProviderType = "anthropic"
	ProviderTypeAnthropicSDK ProviderType = "anthropic-sdk"
	ProviderTypeOpenAI       ProviderType = "openai"
	ProviderTypeOpenRouter   ProviderType = "openrouter"
	ProviderTypeOllama       ProviderType = "ollama"
)

// Config holds provider-specific configuration. Zero values select defaults.
type Config struct {
	Type    ProviderType
	BaseURL string
	Model   string
	APIKey  string

	Timeout       time.Duration
	RetryAttempts int
	RetryDelay    time.Duration

	// RequestsPerSecond enables client-side rate limiting when positive.
	RequestsPerSecond float64
	Burst             int

	Logger  zerolog.Logger
	Metrics *metrics.Metrics
}
