// Package panel defines the panel capability contract, the panel type
// registry, and the live panel instance store. Panels own their state
// exclusively; the orchestration layer only reaches it through the
// capability methods and the update callback.
package panel

import (
	"context"
	"errors"
	"sort"
	"strings"
)

// State is a panel's opaque state mapping. Key semantics are private to the
// owning panel type.
type State map[string]any

// Clone returns a shallow copy of the state.
func (s State) Clone() State {
	out := make(State, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// UpdateFunc applies a partial state as a shallow merge onto the panel's
// current state.
type UpdateFunc func(partial State)

// ToolDefinition is a capability exposed by a panel type. Name is unique
// within the panel type only; global uniqueness comes from namespacing at
// aggregation time.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema,omitempty"`
}

// ContextDescriptor summarizes a panel for inclusion in the system prompt.
// Data is either a string or a JSON-serializable structure.
type ContextDescriptor struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Empty reports whether the descriptor carries no content.
func (d ContextDescriptor) Empty() bool {
	if d.Data == nil {
		return true
	}
	if s, ok := d.Data.(string); ok {
		return strings.TrimSpace(s) == ""
	}
	return false
}

// Capabilities is the contract every panel type implements. Embed
// BaseCapabilities to get the documented defaults for methods a panel type
// does not participate in.
type Capabilities interface {
	// MCPTools lists the tools this panel offers given its current state.
	// Returns an empty list, not an error, when no tools apply.
	MCPTools(ctx context.Context, state State) ([]ToolDefinition, error)

	// ExecuteMCPTool runs the named tool. name is the original,
	// un-namespaced tool name. State mutation goes through update only.
	ExecuteMCPTool(ctx context.Context, name string, args map[string]any, state State, update UpdateFunc) (any, error)

	// LLMContext returns the panel's context descriptor for observed-panel
	// snapshots.
	LLMContext(ctx context.Context, state State) (ContextDescriptor, error)
}

// ErrNotImplemented is returned by the default executor for panel types that
// expose no executable tools.
var ErrNotImplemented = errors.New("tool execution not implemented for this panel type")

// BaseCapabilities provides the default contract behavior: no tools, no
// executable anything, empty context.
type BaseCapabilities struct{}

func (BaseCapabilities) MCPTools(ctx context.Context, state State) ([]ToolDefinition, error) {
	return []ToolDefinition{}, nil
}

func (BaseCapabilities) ExecuteMCPTool(ctx context.Context, name string, args map[string]any, state State, update UpdateFunc) (any, error) {
	return nil, ErrNotImplemented
}

func (BaseCapabilities) LLMContext(ctx context.Context, state State) (ContextDescriptor, error) {
	return ContextDescriptor{}, nil
}

// Definition describes one panel type.
type Definition struct {
	ID           string // type id, used as the tool namespace prefix
	Title        string
	Protected    bool // protected panels cannot be removed from the store
	Capabilities Capabilities
	InitialState func() State // nil means empty state
}

// Registry maps panel type ids to definitions.
type Registry struct {
	defs map[string]Definition
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]Definition)}
}

// Register adds or replaces a panel type definition.
func (r *Registry) Register(def Definition) {
	if def.ID == "" {
		return
	}
	if def.Capabilities == nil {
		def.Capabilities = BaseCapabilities{}
	}
	r.defs[def.ID] = def
}

// Lookup returns the definition for a type id.
func (r *Registry) Lookup(typeID string) (Definition, bool) {
	def, ok := r.defs[typeID]
	return def, ok
}

// Types returns all registered type ids in sorted order.
func (r *Registry) Types() []string {
	out := make([]string, 0, len(r.defs))
	for id := range r.defs {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Builtin returns a registry populated with the built-in panel types.
func Builtin() *Registry {
	r := NewRegistry()
	r.Register(workspaceDefinition())
	r.Register(notesDefinition())
	r.Register(kanbanDefinition())
	r.Register(flowchartDefinition())
	r.Register(Definition{ID: "canvas", Title: "Canvas", Capabilities: BaseCapabilities{}})
	r.Register(Definition{ID: "chat", Title: "Chat", Protected: true, Capabilities: BaseCapabilities{}})
	return r
}
