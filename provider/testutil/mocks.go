package testutil

import (
	"context"
	"sync"

	"chatwrap/model"
)

// MockProvider implements model.Provider for testing and records every request.
type MockProvider struct {
	// Configurable responses
	SendFunc     func(ctx context.Context, req model.ChatRequest) (*model.ChatResponse, error)
	StreamFunc   func(ctx context.Context, req model.ChatRequest, h model.StreamHandler)
	ValidateFunc func(ctx context.Context) bool

	mu       sync.Mutex
	requests []model.ChatRequest
}

// NewMockProvider creates a mock provider that replies with reply.
func NewMockProvider(reply string) *MockProvider {
	mock := &MockProvider{}
	mock.SendFunc = func(ctx context.Context, req model.ChatRequest) (*model.ChatResponse, error) {
		return &model.ChatResponse{Content: reply, Model: req.Model, OutputTokens: len(reply)}, nil
	}
	mock.StreamFunc = func(ctx context.Context, req model.ChatRequest, h model.StreamHandler) {
		if h.OnChunk != nil {
			h.OnChunk(reply)
		}
		if h.OnComplete != nil {
			h.OnComplete(reply)
		}
	}
	mock.ValidateFunc = func(ctx context.Context) bool { return true }
	return mock
}

func (m *MockProvider) record(req model.ChatRequest) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req.Messages = append([]model.WireMessage(nil), req.Messages...)
	m.requests = append(m.requests, req)
}

func (m *MockProvider) SendMessage(ctx context.Context, req model.ChatRequest) (*model.ChatResponse, error) {
	m.record(req)
	return m.SendFunc(ctx, req)
}

func (m *MockProvider) SendMessageStream(ctx context.Context, req model.ChatRequest, h model.StreamHandler) {
	m.record(req)
	m.StreamFunc(ctx, req, h)
}

func (m *MockProvider) ValidateAPIKey(ctx context.Context) bool {
	return m.ValidateFunc(ctx)
}

// Requests returns a copy of every request received so far.
func (m *MockProvider) Requests() []model.ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.ChatRequest(nil), m.requests...)
}

// LastRequest returns the most recent request, or the zero value.
func (m *MockProvider) LastRequest() model.ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.requests) == 0 {
		return model.ChatRequest{}
	}
	return m.requests[len(m.requests)-1]
}
