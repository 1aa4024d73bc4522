package orchestrator

import (
	"context"
	"sync"

	"github.com/graphstudio/graphstudio/logger"
	"github.com/graphstudio/graphstudio/panel"
	"github.com/graphstudio/graphstudio/provider"
)

// AggregatedTool is a panel tool enriched with routing metadata. Name is the
// globally-unique namespaced form {panelTypeId}_{name}; OriginalName is what
// the panel's executor expects back.
type AggregatedTool struct {
	Name         string
	OriginalName string
	Description  string
	InputSchema  map[string]any
	PanelID      string
	PanelTypeID  string
	PanelTitle   string
}

// Aggregator collects tools from all live panel instances and maintains the
// dispatch lookup table. Results are cached against the store revision, so
// repeated aggregation with an unchanged panel set is free.
type Aggregator struct {
	store *panel.Store

	mu       sync.Mutex
	cacheRev uint64
	cacheOK  bool
	tools    []AggregatedTool
	lookup   map[string]AggregatedTool
}

// NewAggregator returns an aggregator over the given store.
func NewAggregator(store *panel.Store) *Aggregator {
	return &Aggregator{store: store}
}

// Aggregate lists tools from every panel and returns them in stable panel
// insertion order, plus the lookup map keyed by namespaced name. Per-panel
// listing runs concurrently; a single panel's failure is logged and its
// contribution skipped.
func (a *Aggregator) Aggregate(ctx context.Context) ([]AggregatedTool, map[string]AggregatedTool) {
	rev := a.store.Revision()

	a.mu.Lock()
	if a.cacheOK && a.cacheRev == rev {
		tools, lookup := a.tools, a.lookup
		a.mu.Unlock()
		return tools, lookup
	}
	a.mu.Unlock()

	instances := a.store.List()
	registry := a.store.Registry()

	perPanel := make([][]AggregatedTool, len(instances))
	var wg sync.WaitGroup
	for i, inst := range instances {
		def, ok := registry.Lookup(inst.TypeID)
		if !ok {
			logger.Warn("panel type missing during aggregation", "panelId", inst.ID, "typeId", inst.TypeID)
			continue
		}
		wg.Add(1)
		go func(i int, inst panel.Instance, def panel.Definition) {
			defer wg.Done()
			defs, err := def.Capabilities.MCPTools(ctx, inst.State)
			if err != nil {
				logger.Warn("panel tool listing failed", "panelId", inst.ID, "typeId", inst.TypeID, "err", err)
				return
			}
			tools := make([]AggregatedTool, 0, len(defs))
			for _, td := range defs {
				tools = append(tools, AggregatedTool{
					Name:         inst.TypeID + "_" + td.Name,
					OriginalName: td.Name,
					Description:  td.Description,
					InputSchema:  td.InputSchema,
					PanelID:      inst.ID,
					PanelTypeID:  inst.TypeID,
					PanelTitle:   inst.Title,
				})
			}
			perPanel[i] = tools
		}(i, inst, def)
	}
	wg.Wait()

	// Assembly follows panel order, not completion order, so prompts stay
	// deterministic for identical panel sets.
	var tools []AggregatedTool
	lookup := make(map[string]AggregatedTool)
	for _, panelTools := range perPanel {
		for _, t := range panelTools {
			tools = append(tools, t)
			lookup[t.Name] = t
		}
	}

	a.mu.Lock()
	a.cacheRev = rev
	a.cacheOK = true
	a.tools = tools
	a.lookup = lookup
	a.mu.Unlock()

	logger.Debug("tools aggregated", "panels", len(instances), "tools", len(tools), "revision", rev)
	return tools, lookup
}

// ProviderTools renders aggregated tools in the function-calling schema sent
// to the backend. A missing input schema defaults to an empty object schema.
func ProviderTools(tools []AggregatedTool) []provider.ToolDef {
	if len(tools) == 0 {
		return nil
	}
	out := make([]provider.ToolDef, 0, len(tools))
	for _, t := range tools {
		params := t.InputSchema
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		out = append(out, provider.ToolDef{
			Type: "function",
			Function: provider.FunctionDef{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		})
	}
	return out
}
