// Package ollama wraps the Ollama API client for local model servers.
package ollama

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/ollama/ollama/api"
)

const (
	DefaultBaseURL = "http://localhost:11434"
	DefaultModel   = "llama3.1:latest"
)

type Client struct {
	client  *api.Client
	model   string
	baseURL string
}

// ChunkFunc receives each streamed content fragment.
type ChunkFunc func(chunk string) error

// Options are per-request sampling options.
type Options struct {
	Temperature *float64
	MaxTokens   int
}

func (o Options) toMap() map[string]any {
	m := map[string]any{}
	if o.Temperature != nil {
		m["temperature"] = *o.Temperature
	}
	if o.MaxTokens > 0 {
		m["num_predict"] = o.MaxTokens
	}
	if len(m) == 0 {
		return nil
	}
	return m
}

func NewClient(baseURL, model string) (*Client, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if model == "" {
		model = DefaultModel
	}

	parsedURL, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid Ollama URL: %w", err)
	}

	return &Client{
		client:  api.NewClient(parsedURL, http.DefaultClient),
		model:   model,
		baseURL: baseURL,
	}, nil
}

// Chat sends messages and reports content through fn. With stream false the
// server replies once and fn is called a single time.
func (c *Client) Chat(ctx context.Context, model string, messages []api.Message, opts Options, stream bool, fn ChunkFunc) (evalCount int, err error) {
	if model == "" {
		model = c.model
	}
	req := &api.ChatRequest{
		Model:    model,
		Messages: messages,
		Stream:   &stream,
		Options:  opts.toMap(),
	}

	err = c.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		if resp.Done {
			evalCount = resp.EvalCount
		}
		if fn != nil && resp.Message.Content != "" {
			return fn(resp.Message.Content)
		}
		return nil
	})
	return evalCount, err
}

// ListModels returns the names of the locally installed models.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	resp, err := c.client.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list models: %w", err)
	}

	models := make([]string, len(resp.Models))
	for i, m := range resp.Models {
		models[i] = m.Name
	}
	return models, nil
}

func (c *Client) Model() string {
	return c.model
}

func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := c.client.List(ctx)
	return err
}
