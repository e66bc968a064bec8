package provider

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatwrap/metrics"
	"chatwrap/model"
	ptest "chatwrap/provider/testutil"
)

// delayRecorder replaces the client's sleep so retries run instantly.
type delayRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (d *delayRecorder) sleep(ctx context.Context, delay time.Duration) error {
	d.mu.Lock()
	d.delays = append(d.delays, delay)
	d.mu.Unlock()
	return ctx.Err()
}

func (d *delayRecorder) recorded() []time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]time.Duration(nil), d.delays...)
}

func newTestClient(t *testing.T, url string, cfg Config) (*Client, *delayRecorder) {
	t.Helper()
	cfg.BaseURL = url
	if cfg.APIKey == "" {
		cfg.APIKey = "test-key"
	}
	c, err := NewClient(cfg)
	require.NoError(t, err)

	rec := &delayRecorder{}
	c.sleep = rec.sleep
	return c, rec
}

func TestNewClientDefaults(t *testing.T) {
	_, err := NewClient(Config{})
	assert.Error(t, err, "API key is required")

	c, err := NewClient(Config{APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, DefaultBaseURL, c.baseURL)
	assert.Equal(t, DefaultTimeout, c.timeout)
	assert.Equal(t, DefaultRetryAttempts, c.retryAttempts)
	assert.Equal(t, DefaultRetryDelay, c.retryDelay)
	assert.Nil(t, c.limiter)

	c, err = NewClient(Config{APIKey: "k", BaseURL: "http://x/v1/", RequestsPerSecond: 2})
	require.NoError(t, err)
	assert.Equal(t, "http://x/v1", c.baseURL)
	assert.NotNil(t, c.limiter)
}

func TestSendMessageRequestShape(t *testing.T) {
	var got wireRequest
	var headers http.Header
	var path string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers = r.Header.Clone()
		path = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		io.WriteString(w, ptest.MessageResponse("Hi there", 3))
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv.URL+"/v1", Config{APIKey: "secret"})

	req := ptest.SingleUserMessage("Hello")
	req.Messages = append([]model.WireMessage{{Role: model.RoleSystem, Content: "Be brief."}}, req.Messages...)
	resp, err := c.SendMessage(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, "/v1/messages", path)
	assert.Equal(t, "secret", headers.Get("x-api-key"))
	assert.Equal(t, anthropicVersion, headers.Get("anthropic-version"))
	assert.Equal(t, "application/json", headers.Get("Content-Type"))

	assert.Equal(t, model.ModelClaudeSonnet, got.Model)
	assert.Equal(t, 4000, got.MaxTokens)
	require.NotNil(t, got.Temperature)
	assert.Equal(t, 0.7, *got.Temperature)
	assert.Equal(t, "You are a helpful AI assistant.\n\nBe brief.", got.System)
	assert.False(t, got.Stream)
	require.Len(t, got.Messages, 1, "system messages are folded into the system field")
	assert.Equal(t, model.RoleUser, got.Messages[0].Role)

	assert.Equal(t, "Hi there", resp.Content)
	assert.Equal(t, 3, resp.OutputTokens)
	assert.Equal(t, model.ModelClaudeSonnet, resp.Model)
}

func TestSendMessageZeroTemperature(t *testing.T) {
	var raw map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &raw))
		io.WriteString(w, ptest.MessageResponse("ok", 1))
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv.URL, Config{})
	zero := 0.0
	_, err := c.SendMessage(context.Background(), model.ChatRequest{
		Messages:    []model.WireMessage{{Role: model.RoleUser, Content: "x"}},
		Temperature: &zero,
	})
	require.NoError(t, err)
	assert.Equal(t, 0.0, raw["temperature"], "zero temperature is sent, not replaced")

	_, err = c.SendMessage(context.Background(), model.ChatRequest{
		Messages: []model.WireMessage{{Role: model.RoleUser, Content: "x"}},
	})
	require.NoError(t, err)
	_, present := raw["temperature"]
	assert.False(t, present)
}

func TestRetryPolicy(t *testing.T) {
	tests := []struct {
		name         string
		statuses     []int
		wantAttempts int32
		wantErr      bool
		wantStatus   int
		wantDelays   []time.Duration
	}{
		{
			name:         "4xx is attempted once",
			statuses:     []int{400},
			wantAttempts: 1,
			wantErr:      true,
			wantStatus:   400,
		},
		{
			name:         "401 is not retried",
			statuses:     []int{401, 200},
			wantAttempts: 1,
			wantErr:      true,
			wantStatus:   401,
		},
		{
			name:         "5xx exhausts attempts with increasing delay",
			statuses:     []int{500, 502, 503},
			wantAttempts: 3,
			wantErr:      true,
			wantStatus:   503,
			wantDelays:   []time.Duration{100 * time.Millisecond, 200 * time.Millisecond},
		},
		{
			name:         "529 twice then success",
			statuses:     []int{529, 529, 200},
			wantAttempts: 3,
			wantDelays:   []time.Duration{100 * time.Millisecond, 200 * time.Millisecond},
		},
		{
			name:         "first attempt succeeds",
			statuses:     []int{200},
			wantAttempts: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var attempts atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				n := int(attempts.Add(1)) - 1
				status := tt.statuses[min(n, len(tt.statuses)-1)]
				if status != http.StatusOK {
					w.WriteHeader(status)
					io.WriteString(w, ptest.ErrorResponse("overloaded_error", "Overloaded"))
					return
				}
				io.WriteString(w, ptest.MessageResponse("done", 1))
			}))
			defer srv.Close()

			c, rec := newTestClient(t, srv.URL, Config{RetryAttempts: 3, RetryDelay: 100 * time.Millisecond})
			resp, err := c.SendMessage(context.Background(), ptest.SingleUserMessage("Hello"))

			assert.Equal(t, tt.wantAttempts, attempts.Load())
			assert.Equal(t, tt.wantDelays, rec.recorded())

			if !tt.wantErr {
				require.NoError(t, err)
				assert.Equal(t, "done", resp.Content)
				return
			}

			require.Error(t, err)
			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tt.wantStatus, apiErr.StatusCode)
			assert.Equal(t, "Overloaded", apiErr.Message)
			assert.Equal(t, "overloaded_error", apiErr.Code)
		})
	}
}

func TestRetryDelaysStrictlyIncrease(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c, rec := newTestClient(t, srv.URL, Config{RetryAttempts: 5, RetryDelay: time.Second})
	_, err := c.SendMessage(context.Background(), ptest.SingleUserMessage("Hello"))
	require.Error(t, err)

	delays := rec.recorded()
	require.Len(t, delays, 4)
	for i := 1; i < len(delays); i++ {
		assert.Greater(t, delays[i], delays[i-1])
	}

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "API request failed", apiErr.Message, "empty error body keeps the default message")
}

func TestNetworkErrorIsRetried(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c, rec := newTestClient(t, url, Config{RetryAttempts: 2, RetryDelay: 10 * time.Millisecond})
	_, err := c.SendMessage(context.Background(), ptest.SingleUserMessage("Hello"))

	require.Error(t, err)
	assert.True(t, IsNetworkError(err))
	assert.True(t, IsRetryable(err))
	assert.Len(t, rec.recorded(), 1)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, CodeNetworkError, apiErr.Code)
	assert.Zero(t, apiErr.StatusCode)
}

func TestAttemptTimeoutIsRetried(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
			return
		}
		io.WriteString(w, ptest.MessageResponse("late but fine", 2))
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv.URL, Config{Timeout: 50 * time.Millisecond, RetryAttempts: 2})
	resp, err := c.SendMessage(context.Background(), ptest.SingleUserMessage("Hello"))

	require.NoError(t, err)
	assert.Equal(t, "late but fine", resp.Content)
	assert.Equal(t, int32(2), attempts.Load())
}

func TestCallerCancellationStopsRetries(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv.URL, Config{RetryAttempts: 5, RetryDelay: time.Hour})
	c.sleep = sleepContext

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := c.SendMessage(ctx, ptest.SingleUserMessage("Hello"))
	require.Error(t, err)
	assert.Equal(t, int32(1), attempts.Load())
}

func TestInvalidResponseBody(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		io.WriteString(w, "not json")
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv.URL, Config{})
	_, err := c.SendMessage(context.Background(), ptest.SingleUserMessage("Hello"))

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, CodeInvalidResponse, apiErr.Code)
	assert.Equal(t, int32(1), attempts.Load())
}

func TestValidateAPIKey(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   bool
	}{
		{"valid key", http.StatusOK, true},
		{"rejected key", http.StatusUnauthorized, false},
		{"server down", http.StatusInternalServerError, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got wireRequest
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				body, _ := io.ReadAll(r.Body)
				json.Unmarshal(body, &got)
				w.WriteHeader(tt.status)
				if tt.status == http.StatusOK {
					io.WriteString(w, ptest.MessageResponse("Hi", 1))
				}
			}))
			defer srv.Close()

			c, _ := newTestClient(t, srv.URL, Config{RetryAttempts: 1})
			assert.Equal(t, tt.want, c.ValidateAPIKey(context.Background()))
			assert.Equal(t, model.ModelClaudeHaiku, got.Model)
			assert.Equal(t, probeMaxTokens, got.MaxTokens)
		})
	}
}

func TestClientRecordsMetrics(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		io.WriteString(w, ptest.MessageResponse("ok", 1))
	}))
	defer srv.Close()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	c, _ := newTestClient(t, srv.URL, Config{Metrics: m})

	_, err := c.SendMessage(context.Background(), ptest.SingleUserMessage("Hello"))
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.APIRetriesTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.APIRequestsTotal.WithLabelValues("502")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.APIRequestsTotal.WithLabelValues("200")))
}

func TestRateLimiterBoundsAttempts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, ptest.MessageResponse("ok", 1))
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv.URL, Config{RequestsPerSecond: 0.001, Burst: 1})
	_, err := c.SendMessage(context.Background(), ptest.SingleUserMessage("first"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.SendMessage(ctx, ptest.SingleUserMessage("second"))
	assert.True(t, IsNetworkError(err), "waiting past the deadline surfaces as a network error")
}
