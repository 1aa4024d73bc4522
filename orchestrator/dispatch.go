package orchestrator

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/graphstudio/graphstudio/logger"
	"github.com/graphstudio/graphstudio/panel"
	"github.com/graphstudio/graphstudio/stream"
)

// ToolResult is the structured outcome of one tool call. Failures are data,
// not errors: the conversation loop folds them into the tool_results message
// so the model can react to them.
type ToolResult struct {
	Success    bool   `json:"success"`
	Result     any    `json:"result,omitempty"`
	Error      string `json:"error,omitempty"`
	ToolName   string `json:"toolName,omitempty"`
	PanelTitle string `json:"panelTitle,omitempty"`
}

func failure(toolName, msg string) ToolResult {
	return ToolResult{Success: false, Error: msg, ToolName: toolName}
}

// Dispatcher routes resolved tool calls to the owning panel's executor.
type Dispatcher struct {
	store *panel.Store
}

// NewDispatcher returns a dispatcher over the given store.
func NewDispatcher(store *panel.Store) *Dispatcher {
	return &Dispatcher{store: store}
}

// Dispatch executes one tool call. The lookup table comes from aggregation,
// but the panel instance and its state are re-resolved here: the panel may
// have been removed or mutated since the tools were aggregated. All failure
// modes return a structured result; Dispatch never panics or errors.
func (d *Dispatcher) Dispatch(ctx context.Context, call stream.ToolCall, lookup map[string]AggregatedTool) ToolResult {
	tool, ok := lookup[call.Name]
	if !ok {
		return failure(call.Name, "Unknown tool: "+call.Name)
	}

	args := map[string]any{}
	if call.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			logger.Warn("tool arguments unparseable", "tool", call.Name, "err", err)
			return failure(call.Name, "Invalid tool arguments: "+err.Error())
		}
	}

	inst, ok := d.store.Get(tool.PanelID)
	if !ok {
		return failure(call.Name, "Panel no longer exists: "+tool.PanelTitle)
	}
	def, ok := d.store.Registry().Lookup(inst.TypeID)
	if !ok {
		return failure(call.Name, "Panel type not registered: "+inst.TypeID)
	}

	update := func(partial panel.State) {
		if err := d.store.UpdateState(inst.ID, partial); err != nil {
			logger.Warn("panel state update failed", "panelId", inst.ID, "err", err)
		}
	}

	result, err := def.Capabilities.ExecuteMCPTool(ctx, tool.OriginalName, args, inst.State, update)
	if err != nil {
		logger.Info("tool execution failed", "tool", call.Name, "panelId", inst.ID, "err", err)
		return ToolResult{
			Success:    false,
			Error:      err.Error(),
			ToolName:   call.Name,
			PanelTitle: inst.Title,
		}
	}

	logger.Debug("tool executed", "tool", call.Name, "panelId", inst.ID)
	return ToolResult{
		Success:    true,
		Result:     result,
		ToolName:   call.Name,
		PanelTitle: inst.Title,
	}
}

// DispatchAll executes every call concurrently and reassembles the results
// in original call order.
func (d *Dispatcher) DispatchAll(ctx context.Context, calls []stream.ToolCall, lookup map[string]AggregatedTool) []ToolResult {
	results := make([]ToolResult, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call stream.ToolCall) {
			defer wg.Done()
			results[i] = d.Dispatch(ctx, call, lookup)
		}(i, call)
	}
	wg.Wait()
	return results
}
