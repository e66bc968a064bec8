package testutil

import (
	"fmt"
	"strings"
	"time"

	"chatwrap/model"
)

// TestMessages returns a sample conversation for testing
func TestMessages() []model.Message {
	return []model.Message{
		{ID: "u1", Role: model.RoleUser, Content: "Hello, how are you?", Timestamp: time.Now()},
		{ID: "a1", Role: model.RoleAssistant, Content: "I'm doing well, thank you!", ParentID: "u1", Timestamp: time.Now()},
		{ID: "u2", Role: model.RoleUser, Content: "Can you help me with a task?", Timestamp: time.Now()},
	}
}

// SingleUserMessage returns a single-message request for simple tests
func SingleUserMessage(content string) model.ChatRequest {
	temp := 0.7
	return model.ChatRequest{
		Messages:     []model.WireMessage{{Role: model.RoleUser, Content: content}},
		Model:        model.ModelClaudeSonnet,
		MaxTokens:    4000,
		Temperature:  &temp,
		SystemPrompt: "You are a helpful AI assistant.",
	}
}

// SSEDelta renders one content_block_delta frame.
func SSEDelta(text string) string {
	return fmt.Sprintf("data: {\"type\":\"content_block_delta\",\"index\":0,\"delta\":{\"type\":\"text_delta\",\"text\":%q}}\n\n", text)
}

// SSEStream renders a complete stream of deltas terminated by [DONE].
func SSEStream(chunks ...string) string {
	var b strings.Builder
	b.WriteString("event: message_start\ndata: {\"type\":\"message_start\",\"message\":{\"id\":\"msg_1\"}}\n\n")
	for _, c := range chunks {
		b.WriteString(SSEDelta(c))
	}
	b.WriteString("data: [DONE]\n\n")
	return b.String()
}

// MessageResponse renders a non-streaming /messages response body.
func MessageResponse(text string, outputTokens int) string {
	return fmt.Sprintf(`{"id":"msg_1","type":"message","role":"assistant","model":%q,"content":[{"type":"text","text":%q}],"usage":{"input_tokens":5,"output_tokens":%d}}`,
		model.ModelClaudeSonnet, text, outputTokens)
}

// ErrorResponse renders a Model API error body.
func ErrorResponse(kind, message string) string {
	return fmt.Sprintf(`{"type":"error","error":{"type":%q,"message":%q}}`, kind, message)
}
