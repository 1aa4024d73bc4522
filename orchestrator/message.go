// Package orchestrator ties the panel layer to the LLM providers: it
// aggregates panel tools, builds observed-panel context, drives the
// conversation loop over a streaming provider, and dispatches tool calls
// back to the owning panels.
package orchestrator

import (
	"time"

	"github.com/google/uuid"
)

// Role is a message's conversational role.
type Role string

// Failures are flagged with IsError on the assistant message rather than a
// dedicated role; the system prompt is regenerated per request and never
// stored as a message.
const (
	RoleUser        Role = "user"
	RoleAssistant   Role = "assistant"
	RoleToolResults Role = "tool_results"
)

// ToolCallRecord is one tool invocation attached to an assistant message.
// Arguments is the raw accumulated argument text; it is parsed only at
// dispatch time.
type ToolCallRecord struct {
	ID        string `json:"id"`
	Name      string `json:"functionName"`
	Arguments string `json:"rawArgumentsText"`
}

// Message is one turn in a conversation.
type Message struct {
	ID          string           `json:"id"`
	Role        Role             `json:"role"`
	Content     string           `json:"content,omitempty"`
	ToolCalls   []ToolCallRecord `json:"toolCalls,omitempty"`
	Results     []ToolResult     `json:"results,omitempty"`
	IsStreaming bool             `json:"isStreaming,omitempty"`
	IsError     bool             `json:"isError,omitempty"`
	Timestamp   time.Time        `json:"timestamp"`
}

func newMessage(role Role, content string) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	}
}
