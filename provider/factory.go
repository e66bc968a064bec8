package provider

import (
	"context"
	"fmt"

	"chatwrap/model"
)

// ModelLister is implemented by providers that can enumerate models.
type ModelLister interface {
	ListModels(ctx context.Context) ([]string, error)
}

// ListModels returns p's models, or the known Claude models when p cannot
// enumerate them.
func ListModels(ctx context.Context, p model.Provider) ([]string, error) {
	if l, ok := p.(ModelLister); ok {
		return l.ListModels(ctx)
	}
	return KnownModels(), nil
}

// New creates a provider based on configuration.
//
// Supported provider types:
//   - ProviderTypeAnthropic: built-in HTTP client with retry and SSE decoding (default)
//   - ProviderTypeAnthropicSDK: the official Anthropic SDK
//   - ProviderTypeOpenAI, ProviderTypeOpenRouter: OpenAI-compatible APIs
//   - ProviderTypeOllama: a local Ollama server
func New(cfg Config) (model.Provider, error) {
	switch cfg.Type {
	case ProviderTypeAnthropic, "":
		return NewClient(cfg)
	case ProviderTypeAnthropicSDK:
		return NewSDKProvider(cfg)
	case ProviderTypeOpenAI:
		return NewOpenAIProvider(cfg)
	case ProviderTypeOpenRouter:
		return NewOpenRouterProvider(cfg)
	case ProviderTypeOllama:
		return NewOllamaProvider(cfg)
	default:
		return nil, fmt.Errorf("unknown provider type: %s", cfg.Type)
	}
}

// MapProviderIDToType converts a config provider id to a ProviderType.
// Unknown ids pass through unchanged so New reports them.
func MapProviderIDToType(id string) ProviderType {
	switch id {
	case "", "claude":
		return ProviderTypeAnthropic
	default:
		return ProviderType(id)
	}
}
