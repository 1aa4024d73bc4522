package orchestrator

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/graphstudio/graphstudio/panel"
)

func TestAggregateIdempotent(t *testing.T) {
	t.Parallel()

	store := panel.NewStore(panel.Builtin())
	if _, err := store.Add("workspace", ""); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := store.Add("notes", ""); err != nil {
		t.Fatalf("Add: %v", err)
	}

	a := NewAggregator(store)
	first, _ := a.Aggregate(context.Background())
	second, _ := a.Aggregate(context.Background())

	if !reflect.DeepEqual(first, second) {
		t.Fatalf("aggregation not idempotent with unchanged panel set")
	}
	if len(first) == 0 {
		t.Fatalf("expected tools from builtin panels")
	}

	// Stable panel order: all workspace tools precede all notes tools.
	lastWorkspace, firstNotes := -1, -1
	for i, tool := range first {
		switch tool.PanelTypeID {
		case "workspace":
			lastWorkspace = i
		case "notes":
			if firstNotes < 0 {
				firstNotes = i
			}
		}
	}
	if lastWorkspace < 0 || firstNotes < 0 || lastWorkspace > firstNotes {
		t.Fatalf("tool order does not follow panel order")
	}

	for _, tool := range first {
		if !strings.HasPrefix(tool.Name, tool.PanelTypeID+"_") {
			t.Fatalf("tool %q not namespaced by type id %q", tool.Name, tool.PanelTypeID)
		}
		if tool.Name != tool.PanelTypeID+"_"+tool.OriginalName {
			t.Fatalf("namespaced name %q does not match original %q", tool.Name, tool.OriginalName)
		}
	}
}

func TestAggregateRebuildsOnPanelChange(t *testing.T) {
	t.Parallel()

	store := panel.NewStore(panel.Builtin())
	a := NewAggregator(store)

	tools, _ := a.Aggregate(context.Background())
	if len(tools) != 0 {
		t.Fatalf("expected no tools from empty store")
	}

	if _, err := store.Add("workspace", ""); err != nil {
		t.Fatalf("Add: %v", err)
	}
	tools, lookup := a.Aggregate(context.Background())
	if len(tools) == 0 {
		t.Fatalf("cache not invalidated after panel added")
	}
	if _, ok := lookup["workspace_list_files"]; !ok {
		t.Fatalf("lookup missing workspace_list_files: %v", lookup)
	}
}

type failingTools struct {
	panel.BaseCapabilities
}

func (failingTools) MCPTools(ctx context.Context, state panel.State) ([]panel.ToolDefinition, error) {
	return nil, errors.New("listing broke")
}

func TestAggregateSkipsFailingPanel(t *testing.T) {
	t.Parallel()

	registry := panel.Builtin()
	registry.Register(panel.Definition{ID: "broken", Title: "Broken", Capabilities: failingTools{}})

	store := panel.NewStore(registry)
	store.Add("broken", "")
	store.Add("workspace", "")

	tools, _ := NewAggregator(store).Aggregate(context.Background())
	if len(tools) == 0 {
		t.Fatalf("failing panel aborted aggregation for others")
	}
	for _, tool := range tools {
		if tool.PanelTypeID == "broken" {
			t.Fatalf("failing panel contributed tools: %+v", tool)
		}
	}
}

func TestRenderSystemPromptTruncatesPerPanel(t *testing.T) {
	t.Parallel()

	store := panel.NewStore(panel.Builtin())
	b := NewContextBuilder(store, 0, 0)

	big := strings.Repeat("x", maxPanelContextChars+500)
	snap := Snapshot{ObservedPanels: []ObservedPanel{
		{PanelID: "p1", PanelType: "notes", PanelTitle: "First", Context: panel.ContextDescriptor{Type: "notes", Data: big}},
		{PanelID: "p2", PanelType: "notes", PanelTitle: "Second", Context: panel.ContextDescriptor{Type: "notes", Data: big}},
	}}

	prompt := b.RenderSystemPrompt(snap, nil)
	if n := strings.Count(prompt, "... (truncated)"); n != 2 {
		t.Fatalf("expected both panels truncated independently, got %d markers", n)
	}
	if !strings.Contains(prompt, "First") || !strings.Contains(prompt, "Second") {
		t.Fatalf("panel headings missing from prompt")
	}
	// Each panel keeps its own budget; the second panel is not starved.
	if len(prompt) < 2*maxPanelContextChars {
		t.Fatalf("per-panel cap applied globally: prompt length %d", len(prompt))
	}
}

func TestSnapshotOnlyObservedPanels(t *testing.T) {
	t.Parallel()

	store := panel.NewStore(panel.Builtin())
	observed, _ := store.Add("notes", "Watched")
	store.Add("notes", "Ignored")
	store.SetObserving(observed.ID, true)
	store.UpdateState(observed.ID, panel.State{"content": "# Hello"})

	snap := NewContextBuilder(store, 0, 0).Snapshot(context.Background())
	if len(snap.ObservedPanels) != 1 {
		t.Fatalf("expected 1 observed panel, got %d", len(snap.ObservedPanels))
	}
	if snap.ObservedPanels[0].PanelTitle != "Watched" {
		t.Fatalf("wrong panel observed: %+v", snap.ObservedPanels[0])
	}
}

func TestProviderToolsDefaultSchema(t *testing.T) {
	t.Parallel()

	defs := ProviderTools([]AggregatedTool{{Name: "canvas_ping", Description: "ping"}})
	if len(defs) != 1 {
		t.Fatalf("expected 1 tool def")
	}
	params := defs[0].Function.Parameters
	if params["type"] != "object" {
		t.Fatalf("missing schema did not default to empty object schema: %v", params)
	}
}
