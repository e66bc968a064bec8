package translator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"chatwrap/model"
)

// Translator turns text from one language into another.
type Translator interface {
	Translate(ctx context.Context, text, from, to string) (string, error)
}

var ErrEmptyTranslation = errors.New("translation returned no text")

func prompt(text, from, to string) string {
	return fmt.Sprintf("Please translate the following text from %s to %s. Only provide the translation, no additional commentary:\n\n%s",
		LanguageName(from), LanguageName(to), text)
}

// Defaults for the Model API fallback translator.
const (
	FallbackModel       = model.ModelClaudeHaiku
	FallbackTemperature = 0.3
	FallbackMaxTokens   = 2000
)

// ModelTranslator uses the chat Model API itself as a translator.
type ModelTranslator struct {
	Provider    model.Provider
	Model       string
	Temperature float64
	MaxTokens   int
}

func NewModelTranslator(p model.Provider) *ModelTranslator {
	return &ModelTranslator{
		Provider:    p,
		Model:       FallbackModel,
		Temperature: FallbackTemperature,
		MaxTokens:   FallbackMaxTokens,
	}
}

func (t *ModelTranslator) Translate(ctx context.Context, text, from, to string) (string, error) {
	temp := t.Temperature
	resp, err := t.Provider.SendMessage(ctx, model.ChatRequest{
		Messages:    []model.WireMessage{{Role: model.RoleUser, Content: prompt(text, from, to)}},
		Model:       t.Model,
		MaxTokens:   t.MaxTokens,
		Temperature: &temp,
	})
	if err != nil {
		return "", fmt.Errorf("model translation failed: %w", err)
	}
	out := strings.TrimSpace(resp.Content)
	if out == "" {
		return "", ErrEmptyTranslation
	}
	return out, nil
}

// OpenAITranslator calls a dedicated OpenAI-compatible endpoint.
type OpenAITranslator struct {
	client openai.Client
	model  string
}

const defaultServiceModel = "gpt-4o-mini"

func NewOpenAITranslator(baseURL, apiKey, modelID string) *OpenAITranslator {
	if modelID == "" {
		modelID = defaultServiceModel
	}
	client := openai.NewClient(
		option.WithBaseURL(baseURL),
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(1),
	)
	return &OpenAITranslator{client: client, model: modelID}
}

func (t *OpenAITranslator) Translate(ctx context.Context, text, from, to string) (string, error) {
	completion, err := t.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(t.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage("You are a translation service. Reply with the translation only."),
			openai.UserMessage(prompt(text, from, to)),
		},
		Temperature: openai.Float(0),
	})
	if err != nil {
		return "", fmt.Errorf("translation service unavailable: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", ErrEmptyTranslation
	}
	out := strings.TrimSpace(completion.Choices[0].Message.Content)
	if out == "" {
		return "", ErrEmptyTranslation
	}
	return out, nil
}

// Chain tries each translator in order and returns the first success.
type Chain []Translator

func (c Chain) Translate(ctx context.Context, text, from, to string) (string, error) {
	if len(c) == 0 {
		return "", errors.New("no translator configured")
	}
	var errs []error
	for _, t := range c {
		out, err := t.Translate(ctx, text, from, to)
		if err == nil {
			return out, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		errs = append(errs, err)
	}
	return "", errors.Join(errs...)
}
