package provider

import (
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/ollama/ollama/api"
	"github.com/openai/openai-go/v3"

	"chatwrap/model"
)

// systemSplit is a request's conversation with system-role messages folded
// into one prompt.
type systemSplit struct {
	prompt   string
	messages []model.WireMessage
}

// splitSystem merges the configured system prompt with any system-role
// messages in the window, in order, separated by a blank line.
func splitSystem(prompt string, msgs []model.WireMessage) systemSplit {
	parts := make([]string, 0, 1)
	if strings.TrimSpace(prompt) != "" {
		parts = append(parts, prompt)
	}

	out := make([]model.WireMessage, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == model.RoleSystem {
			if strings.TrimSpace(m.Content) != "" {
				parts = append(parts, m.Content)
			}
			continue
		}
		out = append(out, m)
	}

	return systemSplit{prompt: strings.Join(parts, "\n\n"), messages: out}
}

// toAnthropicParams converts a request into SDK message params plus system blocks.
func toAnthropicParams(req model.ChatRequest) ([]anthropic.MessageParam, []anthropic.TextBlockParam) {
	split := splitSystem(req.SystemPrompt, req.Messages)

	var system []anthropic.TextBlockParam
	if split.prompt != "" {
		system = []anthropic.TextBlockParam{{Text: split.prompt}}
	}

	msgs := make([]anthropic.MessageParam, 0, len(split.messages))
	for _, m := range split.messages {
		switch m.Role {
		case model.RoleAssistant:
			msgs = append(msgs, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			msgs = append(msgs, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	return msgs, system
}

// toOpenAIMessages converts a request for chat-completions style APIs, where
// the system prompt leads the message list.
func toOpenAIMessages(req model.ChatRequest) []openai.ChatCompletionMessageParamUnion {
	split := splitSystem(req.SystemPrompt, req.Messages)

	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(split.messages)+1)
	if split.prompt != "" {
		msgs = append(msgs, openai.SystemMessage(split.prompt))
	}
	for _, m := range split.messages {
		switch m.Role {
		case model.RoleAssistant:
			msgs = append(msgs, openai.AssistantMessage(m.Content))
		default:
			msgs = append(msgs, openai.UserMessage(m.Content))
		}
	}
	return msgs
}

// toOllamaMessages converts a request for the Ollama chat API.
func toOllamaMessages(req model.ChatRequest) []api.Message {
	split := splitSystem(req.SystemPrompt, req.Messages)

	msgs := make([]api.Message, 0, len(split.messages)+1)
	if split.prompt != "" {
		msgs = append(msgs, api.Message{Role: string(model.RoleSystem), Content: split.prompt})
	}
	for _, m := range split.messages {
		msgs = append(msgs, api.Message{Role: string(m.Role), Content: m.Content})
	}
	return msgs
}
