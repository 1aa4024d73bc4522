// Package provider defines the LLM provider interface and common types.
package provider

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/graphstudio/graphstudio/stream"
)

// Provider is the interface for LLM providers.
type Provider interface {
	// Chat sends a chat completion request and returns the full response.
	Chat(ctx context.Context, req *Request) (*Response, error)
	// ChatStream sends a streaming chat completion request. fn is invoked
	// once per normalized chunk, strictly in arrival order; returning an
	// error from fn aborts the stream.
	ChatStream(ctx context.Context, req *Request, fn func(stream.Chunk) error) error
}

// Request represents a chat completion request.
type Request struct {
	Messages []Message
	Tools    []ToolDef
}

// Message represents a chat message in OpenAI format (internal canonical format).
type Message struct {
	Role       string     `json:"role"`                   // system, user, assistant, tool
	Content    string     `json:"content,omitempty"`      // text content
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`   // for assistant messages
	ToolCallID string     `json:"tool_call_id,omitempty"` // for tool result messages
	Name       string     `json:"name,omitempty"`         // tool name for tool results
}

// ToolCall represents a tool invocation by the model.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"` // "function"
	Function FunctionCall `json:"function"`
}

// FunctionCall represents a function call within a tool call.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // JSON string
}

// Response represents a chat completion response.
type Response struct {
	Content      string     // final text response
	ToolCalls    []ToolCall // tool calls (if any)
	FinishReason string     // terminal status from the provider
	Usage        Usage      // token usage
}

// HasToolCalls returns true if the response contains tool calls.
func (r *Response) HasToolCalls() bool {
	return len(r.ToolCalls) > 0
}

// Usage represents token usage information.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ToolDef defines a tool for the LLM (OpenAI function calling format).
type ToolDef struct {
	Type     string      `json:"type"` // "function"
	Function FunctionDef `json:"function"`
}

// FunctionDef defines a function that the model can call.
type FunctionDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"` // JSON Schema
}

// ModelInfo describes one selectable model of a provider.
type ModelInfo struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Context int    `json:"context"`
}

// Constructor builds a provider for the requested model/runtime settings.
type Constructor func(apiKey, apiBase, model string, maxTokens int, temperature float64) Provider

// Registration defines metadata and constructor for a provider.
type Registration struct {
	Models       []ModelInfo
	DefaultModel string
	EnvKey       string
	EnvBase      string
	Constructor  Constructor
}

var registry = map[string]Registration{}

// Register registers provider metadata and constructor.
func Register(name string, reg Registration) {
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}
	registry[name] = reg
}

// SupportedProviders returns all registered provider names in sorted order.
func SupportedProviders() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ModelsFor returns the model catalog for the given provider.
func ModelsFor(name string) []ModelInfo {
	reg, ok := registry[name]
	if !ok {
		return nil
	}
	out := make([]ModelInfo, len(reg.Models))
	copy(out, reg.Models)
	return out
}

// DefaultModelFor returns the default model id for a provider.
func DefaultModelFor(name string) string {
	return registry[name].DefaultModel
}

// Validate checks that the provider is registered and a model is set.
// Models outside the catalog are allowed (custom deployments behind apiBase
// overrides), so the model id itself is not checked against the list.
func Validate(name, model string) error {
	if _, ok := registry[name]; !ok {
		return errors.New("unknown provider: " + name)
	}
	if model == "" {
		return errors.New("no model configured for provider " + name)
	}
	return nil
}

// New constructs a provider by registered name.
func New(name, apiKey, apiBase, model string, maxTokens int, temperature float64) (Provider, error) {
	reg, ok := registry[name]
	if !ok {
		return nil, errors.New("unknown provider: " + name)
	}
	if model == "" {
		model = reg.DefaultModel
	}
	return reg.Constructor(apiKey, apiBase, model, maxTokens, temperature), nil
}

// UserMessage creates a user message.
func UserMessage(content string) Message {
	return Message{Role: "user", Content: content}
}

// SystemMessage creates a system message.
func SystemMessage(content string) Message {
	return Message{Role: "system", Content: content}
}

// AssistantMessage creates an assistant message.
func AssistantMessage(content string) Message {
	return Message{Role: "assistant", Content: content}
}

// AssistantMessageWithTools creates an assistant message with tool calls.
func AssistantMessageWithTools(content string, toolCalls []ToolCall) Message {
	return Message{Role: "assistant", Content: content, ToolCalls: toolCalls}
}

// ToolResultMessage creates a tool result message.
func ToolResultMessage(toolCallID, name, content string) Message {
	return Message{Role: "tool", ToolCallID: toolCallID, Name: name, Content: content}
}

// inputChars sums role and content lengths for request logging.
func inputChars(messages []Message) int {
	total := 0
	for _, m := range messages {
		total += len(m.Role)
		total += len(m.Content)
	}
	return total
}
