package provider

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"chatwrap/model"
	"chatwrap/ollama"
)

// OllamaProvider wraps ollama.Client to implement model.Provider against a
// local Ollama server.
type OllamaProvider struct {
	client *ollama.Client
	log    zerolog.Logger
}

// NewOllamaProvider creates an Ollama provider. An empty base URL or model
// selects the local defaults.
func NewOllamaProvider(cfg Config) (*OllamaProvider, error) {
	m := cfg.Model
	if strings.HasPrefix(m, "claude-") {
		m = ""
	}
	client, err := ollama.NewClient(cfg.BaseURL, m)
	if err != nil {
		return nil, fmt.Errorf("failed to create Ollama client: %w", err)
	}
	return &OllamaProvider{
		client: client,
		log:    cfg.Logger.With().Str("component", "ollama").Logger(),
	}, nil
}

func (p *OllamaProvider) modelFor(req model.ChatRequest) string {
	if req.Model == "" || strings.HasPrefix(req.Model, "claude-") {
		return p.client.Model()
	}
	return req.Model
}

func ollamaOptions(req model.ChatRequest) ollama.Options {
	return ollama.Options{Temperature: req.Temperature, MaxTokens: req.MaxTokens}
}

// SendMessage implements model.Provider.
func (p *OllamaProvider) SendMessage(ctx context.Context, req model.ChatRequest) (*model.ChatResponse, error) {
	start := time.Now()
	var content strings.Builder

	m := p.modelFor(req)
	tokens, err := p.client.Chat(ctx, m, toOllamaMessages(req), ollamaOptions(req), false, func(chunk string) error {
		content.WriteString(chunk)
		return nil
	})
	if err != nil {
		return nil, networkError(err)
	}

	return &model.ChatResponse{
		Content:      content.String(),
		Model:        m,
		OutputTokens: tokens,
		Duration:     time.Since(start),
	}, nil
}

// SendMessageStream implements model.Provider.
func (p *OllamaProvider) SendMessageStream(ctx context.Context, req model.ChatRequest, h model.StreamHandler) {
	done := &completion{h: h}
	var full strings.Builder

	_, err := p.client.Chat(ctx, p.modelFor(req), toOllamaMessages(req), ollamaOptions(req), true, func(chunk string) error {
		full.WriteString(chunk)
		if h.OnChunk != nil {
			h.OnChunk(chunk)
		}
		return nil
	})
	if err != nil {
		p.log.Warn().Err(err).Msg("Ollama stream failed")
		done.fail(&StreamError{Partial: full.String(), Err: networkError(err)})
		return
	}
	done.complete(full.String())
}

// ValidateAPIKey reports whether the server is reachable; Ollama has no keys.
func (p *OllamaProvider) ValidateAPIKey(ctx context.Context) bool {
	return p.client.Ping(ctx) == nil
}

// ListModels returns the locally installed models.
func (p *OllamaProvider) ListModels(ctx context.Context) ([]string, error) {
	return p.client.ListModels(ctx)
}
