package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/rs/zerolog"

	"chatwrap/model"
)

const (
	openAIBaseURL     = "https://api.openai.com/v1"
	openRouterBaseURL = "https://openrouter.ai/api/v1"
	openAIModel       = "gpt-4o-mini"
)

// OpenAIProvider implements model.Provider for OpenAI-compatible chat
// completion APIs. OpenRouter uses it with its own base URL.
type OpenAIProvider struct {
	client       openai.Client
	defaultModel string
	log          zerolog.Logger
}

// NewOpenAIProvider creates an OpenAI provider.
// Returns an error if the API key is missing.
func NewOpenAIProvider(cfg Config) (*OpenAIProvider, error) {
	return newOpenAICompatible(cfg, openAIBaseURL, "openai")
}

// NewOpenRouterProvider creates an OpenAI-compatible provider pointed at OpenRouter.
func NewOpenRouterProvider(cfg Config) (*OpenAIProvider, error) {
	return newOpenAICompatible(cfg, openRouterBaseURL, "openrouter")
}

func newOpenAICompatible(cfg Config, defaultBaseURL, name string) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%s API key is required", name)
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	m := cfg.Model
	if m == "" {
		m = openAIModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	retries := cfg.RetryAttempts
	if retries <= 0 {
		retries = DefaultRetryAttempts
	}

	client := openai.NewClient(
		option.WithBaseURL(baseURL),
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(retries-1),
		option.WithRequestTimeout(timeout),
	)

	return &OpenAIProvider{
		client:       client,
		defaultModel: m,
		log:          cfg.Logger.With().Str("component", name).Logger(),
	}, nil
}

func (p *OpenAIProvider) params(req model.ChatRequest) openai.ChatCompletionNewParams {
	m := req.Model
	// Claude model ids from session settings are meaningless here.
	if m == "" || strings.HasPrefix(m, "claude-") {
		m = p.defaultModel
	}

	params := openai.ChatCompletionNewParams{
		Messages: toOpenAIMessages(req),
		Model:    openai.ChatModel(m),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}
	return params
}

// SendMessage implements model.Provider.
func (p *OpenAIProvider) SendMessage(ctx context.Context, req model.ChatRequest) (*model.ChatResponse, error) {
	start := time.Now()
	params := p.params(req)

	completion, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fromOpenAIError(err)
	}
	if len(completion.Choices) == 0 {
		return nil, &APIError{Message: "response contained no choices", StatusCode: 200, Code: CodeInvalidResponse}
	}

	return &model.ChatResponse{
		Content:      completion.Choices[0].Message.Content,
		Model:        string(params.Model),
		OutputTokens: int(completion.Usage.CompletionTokens),
		Duration:     time.Since(start),
	}, nil
}

// SendMessageStream implements model.Provider.
func (p *OpenAIProvider) SendMessageStream(ctx context.Context, req model.ChatRequest, h model.StreamHandler) {
	done := &completion{h: h}

	stream := p.client.Chat.Completions.NewStreaming(ctx, p.params(req))
	defer stream.Close()

	var full strings.Builder
	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
			content := chunk.Choices[0].Delta.Content
			full.WriteString(content)
			if h.OnChunk != nil {
				h.OnChunk(content)
			}
		}
	}

	if err := stream.Err(); err != nil {
		p.log.Warn().Err(err).Msg("Chat completion stream failed")
		done.fail(&StreamError{Partial: full.String(), Err: fromOpenAIError(err)})
		return
	}
	done.complete(full.String())
}

// ValidateAPIKey implements model.Provider by listing models.
func (p *OpenAIProvider) ValidateAPIKey(ctx context.Context) bool {
	_, err := p.client.Models.List(ctx)
	return err == nil
}

// ListModels returns the model ids the remote reports.
func (p *OpenAIProvider) ListModels(ctx context.Context) ([]string, error) {
	page, err := p.client.Models.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list models: %w", err)
	}
	out := make([]string, 0, len(page.Data))
	for _, m := range page.Data {
		out = append(out, m.ID)
	}
	return out, nil
}

func fromOpenAIError(err error) error {
	var apierr *openai.Error
	if errors.As(err, &apierr) {
		return &APIError{
			Message:    apierr.Error(),
			StatusCode: apierr.StatusCode,
			Err:        err,
		}
	}
	return networkError(err)
}
