package model

import (
	"context"
	"time"
)

// Provider abstracts the Model API behind a provider-agnostic request shape.
//
// This interface is defined in the model package (not provider package) to avoid
// import cycles: provider implementations import model, and the chat store and
// plugins depend on this interface without importing provider.
type Provider interface {
	// SendMessage performs one non-streaming exchange.
	SendMessage(ctx context.Context, req ChatRequest) (*ChatResponse, error)

	// SendMessageStream streams the reply through h. Exactly one of
	// h.OnComplete or h.OnError is invoked before it returns.
	SendMessageStream(ctx context.Context, req ChatRequest, h StreamHandler)

	// ValidateAPIKey issues a minimal probe and reports whether it succeeded.
	ValidateAPIKey(ctx context.Context) bool
}

// WireMessage is a message as sent to the Model API.
type WireMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ChatRequest carries the context window plus the effective settings subset.
// A nil Temperature leaves the choice to the backend.
type ChatRequest struct {
	Messages     []WireMessage
	Model        string
	MaxTokens    int
	Temperature  *float64
	SystemPrompt string
}

// ChatResponse is a completed model reply.
type ChatResponse struct {
	Content      string
	Model        string
	OutputTokens int
	Duration     time.Duration
}

// StreamHandler receives streaming callbacks. Any field may be nil.
type StreamHandler struct {
	OnChunk    func(text string)
	OnComplete func(full string)
	OnError    func(err error)
}

// ToWire converts stored messages into the Model API shape.
func ToWire(msgs []Message) []WireMessage {
	out := make([]WireMessage, len(msgs))
	for i, m := range msgs {
		out[i] = WireMessage{Role: m.Role, Content: m.Content}
	}
	return out
}

// NewChatRequest builds a request from a context window and effective settings.
func NewChatRequest(window []Message, s Settings) ChatRequest {
	temp := s.Temperature
	return ChatRequest{
		Messages:     ToWire(window),
		Model:        s.Model,
		MaxTokens:    s.MaxTokens,
		Temperature:  &temp,
		SystemPrompt: s.SystemPrompt,
	}
}
