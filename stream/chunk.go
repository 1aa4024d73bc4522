// Package stream defines the normalized streaming chunk model shared by
// providers, the studio server, and the decoder, plus the incremental
// decoder that folds a chunk sequence into accumulated text and tool calls.
package stream

// Chunk is one unit of a streamed completion response, normalized across
// providers. Any non-exclusive combination of fields may be set.
type Chunk struct {
	Type           string          `json:"type,omitempty"` // "chunk", "done" or "error"
	Content        string          `json:"content,omitempty"`
	ToolCalls      []ToolCallDelta `json:"tool_calls,omitempty"`
	ToolCallStart  *ToolCallStart  `json:"tool_call_start,omitempty"`
	ToolInputDelta string          `json:"tool_input_delta,omitempty"`
	FinishReason   string          `json:"finish_reason,omitempty"`
	Error          string          `json:"error,omitempty"`
}

// ToolCallDelta is a partial tool-call fragment tagged with its position in
// the full tool-call list (OpenAI-style indexed encoding).
type ToolCallDelta struct {
	Index    int           `json:"index"`
	ID       string        `json:"id,omitempty"`
	Function FunctionDelta `json:"function,omitempty"`
}

// FunctionDelta carries partial name and argument text for one tool call.
type FunctionDelta struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// ToolCallStart opens a new tool call in the start/delta encoding used by
// Anthropic-style streams, which carries no stable indices.
type ToolCallStart struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
}

// ToolCall is a fully accumulated tool invocation. Arguments is the raw
// concatenated argument text; it is not validated as JSON here.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// DoneChunk is the terminal frame emitted after a stream completes.
func DoneChunk() Chunk {
	return Chunk{Type: "done"}
}

// ErrorChunk wraps a transport or provider error as a stream frame.
func ErrorChunk(msg string) Chunk {
	return Chunk{Type: "error", Error: msg}
}
