package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"chatwrap/metrics"
	"chatwrap/model"
)

const (
	DefaultBaseURL       = "https://api.anthropic.com/v1"
	DefaultTimeout       = 60 * time.Second
	DefaultRetryAttempts = 3
	DefaultRetryDelay    = time.Second
	DefaultMaxTokens     = 4000

	anthropicVersion = "2023-06-01"
	maxResponseBytes = 10 << 20
	probeMaxTokens   = 10
)

// Client is the HTTP Transport Client for the Anthropic /messages endpoint.
// It holds only static configuration and is safe for concurrent use.
type Client struct {
	apiKey        string
	baseURL       string
	defaultModel  string
	timeout       time.Duration
	retryAttempts int
	retryDelay    time.Duration

	httpClient *http.Client
	limiter    *rate.Limiter
	log        zerolog.Logger
	metrics    *metrics.Metrics

	// sleep waits between attempts; tests replace it to record delays.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient creates a Transport Client. APIKey is required; the other
// fields fall back to the package defaults.
func NewClient(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("API key is required")
	}

	c := &Client{
		apiKey:        cfg.APIKey,
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		defaultModel:  cfg.Model,
		timeout:       cfg.Timeout,
		retryAttempts: cfg.RetryAttempts,
		retryDelay:    cfg.RetryDelay,
		httpClient:    &http.Client{},
		log:           cfg.Logger.With().Str("component", "transport").Logger(),
		metrics:       cfg.Metrics,
		sleep:         sleepContext,
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.defaultModel == "" {
		c.defaultModel = model.ModelClaudeSonnet
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.retryAttempts <= 0 {
		c.retryAttempts = DefaultRetryAttempts
	}
	if c.retryDelay < 0 {
		c.retryDelay = 0
	} else if c.retryDelay == 0 {
		c.retryDelay = DefaultRetryDelay
	}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return c, nil
}

// wireRequest is the JSON body of a /messages call.
type wireRequest struct {
	Model       string              `json:"model"`
	MaxTokens   int                 `json:"max_tokens"`
	Temperature *float64            `json:"temperature,omitempty"`
	System      string              `json:"system,omitempty"`
	Messages    []model.WireMessage `json:"messages"`
	Stream      bool                `json:"stream"`
}

type wireResponse struct {
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// buildRequest applies defaults and folds system-role messages into the
// system field, which is where the endpoint expects them.
func (c *Client) buildRequest(req model.ChatRequest, stream bool) wireRequest {
	out := wireRequest{
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stream:      stream,
	}
	if out.Model == "" {
		out.Model = c.defaultModel
	}
	if out.MaxTokens <= 0 {
		out.MaxTokens = DefaultMaxTokens
	}

	system := splitSystem(req.SystemPrompt, req.Messages)
	out.System = system.prompt
	out.Messages = system.messages
	return out
}

// SendMessage performs a non-streaming exchange under the retry policy.
func (c *Client) SendMessage(ctx context.Context, req model.ChatRequest) (*model.ChatResponse, error) {
	body, err := json.Marshal(c.buildRequest(req, false))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	start := time.Now()
	var out *model.ChatResponse
	err = c.withRetry(ctx, func(ctx context.Context) error {
		actx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		resp, err := c.post(actx, body, false)
		if err != nil {
			return c.transportError(ctx, actx, err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return c.transportError(ctx, actx, err)
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return parseAPIError(resp.StatusCode, data)
		}

		out, err = decodeResponse(data)
		return err
	})
	if err != nil {
		return nil, err
	}

	out.Duration = time.Since(start)
	if out.Model == "" {
		out.Model = c.buildRequest(req, false).Model
	}
	return out, nil
}

// SendMessageStream streams the reply. Only the handshake is retried; once
// the body is flowing, a failure ends the call through h.OnError. Each read
// must make progress within the configured timeout.
func (c *Client) SendMessageStream(ctx context.Context, req model.ChatRequest, h model.StreamHandler) {
	done := &completion{h: h}

	body, err := json.Marshal(c.buildRequest(req, true))
	if err != nil {
		done.fail(&StreamError{Err: fmt.Errorf("failed to marshal request: %w", err)})
		return
	}

	var (
		resp      *http.Response
		cancelReq context.CancelFunc
	)
	err = c.withRetry(ctx, func(ctx context.Context) error {
		actx, cancel := context.WithCancel(ctx)
		timer := time.AfterFunc(c.timeout, cancel)

		r, err := c.post(actx, body, true)
		if err != nil {
			timer.Stop()
			cancel()
			return c.transportError(ctx, actx, err)
		}
		if r.StatusCode < 200 || r.StatusCode > 299 {
			data, _ := io.ReadAll(io.LimitReader(r.Body, maxResponseBytes))
			r.Body.Close()
			timer.Stop()
			cancel()
			return parseAPIError(r.StatusCode, data)
		}

		timer.Stop()
		resp, cancelReq = r, cancel
		return nil
	})
	if err != nil {
		done.fail(err)
		return
	}
	defer cancelReq()

	if resp.Body == nil || resp.Body == http.NoBody {
		done.fail(&StreamError{Err: &APIError{Message: "no response body", Code: CodeStreamError}})
		return
	}

	stream := newIdleBody(resp.Body, c.timeout, cancelReq)
	defer stream.Close()

	full, err := decodeStream(ctx, stream, h.OnChunk, c.log, c.metrics)
	if err != nil {
		c.log.Warn().Err(err).Int("partial_chars", len(full)).Msg("Stream ended with error")
		done.fail(err)
		return
	}
	done.complete(full)
}

// ValidateAPIKey issues a minimal probe and reports whether it succeeded.
func (c *Client) ValidateAPIKey(ctx context.Context) bool {
	_, err := c.SendMessage(ctx, model.ChatRequest{
		Model:     model.ModelClaudeHaiku,
		MaxTokens: probeMaxTokens,
		Messages:  []model.WireMessage{{Role: model.RoleUser, Content: "Hello"}},
	})
	if err != nil {
		c.log.Debug().Err(err).Msg("API key probe failed")
		return false
	}
	return true
}

// ListModels returns the known Claude models; the endpoint has no listing call.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	return KnownModels(), nil
}

// KnownModels lists the Claude models offered in settings.
func KnownModels() []string {
	return []string{model.ModelClaudeSonnet, model.ModelClaudeOpus, model.ModelClaudeHaiku}
}

// withRetry runs fn up to retryAttempts times. 4xx and decode failures are
// returned immediately; network failures and 5xx responses are retried
// after retryDelay*attempt. The last error is returned as-is.
func (c *Client) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 1; attempt <= c.retryAttempts; attempt++ {
		if c.limiter != nil {
			if werr := c.limiter.Wait(ctx); werr != nil {
				if err == nil {
					err = networkError(werr)
				}
				return err
			}
		}

		start := time.Now()
		err = fn(ctx)
		c.metrics.RecordAttempt(statusOf(err), time.Since(start))

		if err == nil || !IsRetryable(err) {
			return err
		}
		if attempt == c.retryAttempts || ctx.Err() != nil {
			return err
		}

		delay := c.retryDelay * time.Duration(attempt)
		c.metrics.RecordRetry()
		c.log.Debug().
			Err(err).
			Int("attempt", attempt).
			Int("status", statusOf(err)).
			Int("max_attempts", c.retryAttempts).
			Dur("delay", delay).
			Msg("Retrying Model API request")

		if serr := c.sleep(ctx, delay); serr != nil {
			return err
		}
	}
	return err
}

func (c *Client) post(ctx context.Context, body []byte, stream bool) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)
	if stream {
		req.Header.Set("Accept", "text/event-stream")
		req.Header.Set("Cache-Control", "no-cache")
	}
	return c.httpClient.Do(req)
}

// transportError labels attempt-deadline expiry distinctly from caller
// cancellation. Both are network errors.
func (c *Client) transportError(parent, attempt context.Context, err error) error {
	if parent.Err() == nil && attempt.Err() != nil {
		return networkError(fmt.Errorf("request timed out after %s: %w", c.timeout, err))
	}
	return networkError(err)
}

func decodeResponse(data []byte) (*model.ChatResponse, error) {
	var wr wireResponse
	if err := json.Unmarshal(data, &wr); err != nil {
		return nil, &APIError{
			Message:    "invalid response body",
			StatusCode: http.StatusOK,
			Code:       CodeInvalidResponse,
			Err:        err,
		}
	}

	var text strings.Builder
	for _, block := range wr.Content {
		if block.Type == "" || block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return &model.ChatResponse{
		Content:      text.String(),
		Model:        wr.Model,
		OutputTokens: wr.Usage.OutputTokens,
	}, nil
}

func statusOf(err error) int {
	if err == nil {
		return http.StatusOK
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
