package models

import (
	"errors"
	"strings"
)

// ErrEmptyConversation is returned when a request carries no messages
var ErrEmptyConversation = errors.New("conversation has no messages")

// Chat roles as understood by OpenAI-compatible backends.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is a single entry in a role exchange. Name records the speaker
// (for example "Research_Assistant") so replies can be filtered per role.
type Message struct {
	Role       string     `json:"role"`
	Name       string     `json:"name,omitempty"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall is a tool invocation requested by a model. Arguments is the raw
// JSON object as produced by the model.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolSpec declares a tool to the model.
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Usage reports token consumption of a single completion.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// HasToolCalls reports whether the message requests a tool invocation.
func (m Message) HasToolCalls() bool { return len(m.ToolCalls) > 0 }

// IsBlank reports whether the message carries neither text nor tool calls.
func (m Message) IsBlank() bool {
	return !m.HasToolCalls() && m.Role != RoleTool && strings.TrimSpace(m.Content) == ""
}

// LastMessage returns the final message of a conversation.
func LastMessage(msgs []Message) (Message, error) {
	if len(msgs) == 0 {
		return Message{}, ErrEmptyConversation
	}
	return msgs[len(msgs)-1], nil
}

// ChatRequest is a single chat-completion call
type ChatRequest struct {
	Model       string
	Temperature float64
	Messages    []Message
	Tools       []ToolSpec
}

// ChatResponse is the model's reply to a ChatRequest
type ChatResponse struct {
	Message      Message
	Usage        Usage
	FinishReason string
}
