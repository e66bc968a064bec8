package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rs/zerolog"

	"chatwrap/model"
)

// SDKProvider implements model.Provider using Anthropic's official Go SDK.
// Retries and timeouts are delegated to the SDK.
type SDKProvider struct {
	client       *anthropic.Client
	defaultModel string
	log          zerolog.Logger
}

// NewSDKProvider creates a provider backed by anthropic-sdk-go.
// Returns an error if the API key is missing.
func NewSDKProvider(cfg Config) (*SDKProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("Anthropic API key is required")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}
	// The SDK appends /v1 itself.
	baseURL = strings.TrimSuffix(strings.TrimRight(baseURL, "/"), "/v1")

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	retries := cfg.RetryAttempts
	if retries <= 0 {
		retries = DefaultRetryAttempts
	}

	defaultModel := cfg.Model
	if defaultModel == "" {
		defaultModel = model.ModelClaudeSonnet
	}

	client := anthropic.NewClient(
		option.WithBaseURL(baseURL),
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(retries-1),
		option.WithRequestTimeout(timeout),
		option.WithHTTPClient(&http.Client{}),
	)

	return &SDKProvider{
		client:       &client,
		defaultModel: defaultModel,
		log:          cfg.Logger.With().Str("component", "anthropic-sdk").Logger(),
	}, nil
}

func (p *SDKProvider) params(req model.ChatRequest) anthropic.MessageNewParams {
	msgs, system := toAnthropicParams(req)

	m := req.Model
	if m == "" {
		m = p.defaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(m),
		Messages:  msgs,
		MaxTokens: int64(maxTokens),
	}
	if len(system) > 0 {
		params.System = system
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}
	return params
}

// SendMessage implements model.Provider.
func (p *SDKProvider) SendMessage(ctx context.Context, req model.ChatRequest) (*model.ChatResponse, error) {
	start := time.Now()
	params := p.params(req)

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fromSDKError(err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	return &model.ChatResponse{
		Content:      text.String(),
		Model:        string(params.Model),
		OutputTokens: int(msg.Usage.OutputTokens),
		Duration:     time.Since(start),
	}, nil
}

// SendMessageStream implements model.Provider.
func (p *SDKProvider) SendMessageStream(ctx context.Context, req model.ChatRequest, h model.StreamHandler) {
	done := &completion{h: h}

	stream := p.client.Messages.NewStreaming(ctx, p.params(req))
	defer stream.Close()

	msg := anthropic.Message{}
	var full strings.Builder

	for stream.Next() {
		event := stream.Current()
		if err := msg.Accumulate(event); err != nil {
			done.fail(&StreamError{Partial: full.String(), Err: fmt.Errorf("error accumulating message: %w", err)})
			return
		}

		switch eventVariant := event.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			switch deltaVariant := eventVariant.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				full.WriteString(deltaVariant.Text)
				if h.OnChunk != nil {
					h.OnChunk(deltaVariant.Text)
				}
			}
		}
	}

	if err := stream.Err(); err != nil {
		p.log.Warn().Err(err).Msg("Anthropic stream failed")
		done.fail(&StreamError{Partial: full.String(), Err: fromSDKError(err)})
		return
	}
	done.complete(full.String())
}

// ValidateAPIKey implements model.Provider with a one-token probe.
func (p *SDKProvider) ValidateAPIKey(ctx context.Context) bool {
	_, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(model.ModelClaudeHaiku),
		MaxTokens: probeMaxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock("Hello")),
		},
	})
	return err == nil
}

// ListModels returns the known Claude models; the endpoint has no listing call.
func (p *SDKProvider) ListModels(ctx context.Context) ([]string, error) {
	return KnownModels(), nil
}

// fromSDKError maps SDK failures onto the package error taxonomy.
func fromSDKError(err error) error {
	var apierr *anthropic.Error
	if errors.As(err, &apierr) {
		return &APIError{
			Message:    apierr.Error(),
			StatusCode: apierr.StatusCode,
			Err:        err,
		}
	}
	return networkError(err)
}
