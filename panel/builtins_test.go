package panel

import (
	"context"
	"errors"
	"testing"
)

// execOn runs a builtin tool against a store-held instance, routing state
// mutation through the store the way the dispatcher does.
func execOn(t *testing.T, s *Store, id, tool string, args map[string]any) (any, error) {
	t.Helper()
	inst, ok := s.Get(id)
	if !ok {
		t.Fatalf("instance %s not found", id)
	}
	def, ok := s.Registry().Lookup(inst.TypeID)
	if !ok {
		t.Fatalf("type %s not registered", inst.TypeID)
	}
	return def.Capabilities.ExecuteMCPTool(context.Background(), tool, args, inst.State, func(partial State) {
		if err := s.UpdateState(id, partial); err != nil {
			t.Fatalf("UpdateState: %v", err)
		}
	})
}

func TestWorkspaceFileTools(t *testing.T) {
	t.Parallel()

	s := NewStore(Builtin())
	ws, _ := s.Add("workspace", "")

	if _, err := execOn(t, s, ws.ID, "write_file", map[string]any{"path": "a.txt", "content": "alpha"}); err != nil {
		t.Fatalf("write_file: %v", err)
	}
	if _, err := execOn(t, s, ws.ID, "write_file", map[string]any{"path": "b.txt", "content": "beta"}); err != nil {
		t.Fatalf("write_file: %v", err)
	}

	res, err := execOn(t, s, ws.ID, "list_files", nil)
	if err != nil {
		t.Fatalf("list_files: %v", err)
	}
	listing := res.(map[string]any)
	if listing["count"] != 2 {
		t.Fatalf("expected 2 files, got %v", listing["count"])
	}

	res, err = execOn(t, s, ws.ID, "read_file", map[string]any{"path": "a.txt"})
	if err != nil {
		t.Fatalf("read_file: %v", err)
	}
	if res.(map[string]any)["content"] != "alpha" {
		t.Fatalf("read_file content wrong: %v", res)
	}

	if _, err := execOn(t, s, ws.ID, "read_file", map[string]any{"path": "missing.txt"}); err == nil {
		t.Fatalf("expected read of missing file to fail")
	}

	if _, err := execOn(t, s, ws.ID, "delete_file", map[string]any{"path": "a.txt"}); err != nil {
		t.Fatalf("delete_file: %v", err)
	}
	res, _ = execOn(t, s, ws.ID, "list_files", nil)
	if res.(map[string]any)["count"] != 1 {
		t.Fatalf("delete did not stick: %v", res)
	}
}

func TestNotesToolsAndOutline(t *testing.T) {
	t.Parallel()

	s := NewStore(Builtin())
	notes, _ := s.Add("notes", "")

	if _, err := execOn(t, s, notes.ID, "set_notes", map[string]any{"content": "# Plan\n\n## Phase 1\ntext"}); err != nil {
		t.Fatalf("set_notes: %v", err)
	}
	if _, err := execOn(t, s, notes.ID, "append_notes", map[string]any{"content": "## Phase 2"}); err != nil {
		t.Fatalf("append_notes: %v", err)
	}

	res, err := execOn(t, s, notes.ID, "get_notes", nil)
	if err != nil {
		t.Fatalf("get_notes: %v", err)
	}
	content := res.(map[string]any)["content"].(string)
	if content != "# Plan\n\n## Phase 1\ntext\n## Phase 2" {
		t.Fatalf("unexpected notes content: %q", content)
	}

	inst, _ := s.Get(notes.ID)
	desc, err := notesCapabilities{}.LLMContext(context.Background(), inst.State)
	if err != nil {
		t.Fatalf("LLMContext: %v", err)
	}
	outline := desc.Data.(map[string]any)["outline"].([]string)
	want := []string{"Plan", "  Phase 1", "  Phase 2"}
	if len(outline) != len(want) {
		t.Fatalf("outline length %d, want %d: %v", len(outline), len(want), outline)
	}
	for i := range want {
		if outline[i] != want[i] {
			t.Fatalf("outline[%d] = %q, want %q", i, outline[i], want[i])
		}
	}
}

func TestKanbanAddAndMoveCard(t *testing.T) {
	t.Parallel()

	s := NewStore(Builtin())
	board, _ := s.Add("kanban", "")

	res, err := execOn(t, s, board.ID, "add_card", map[string]any{"column": "todo", "title": "ship it"})
	if err != nil {
		t.Fatalf("add_card: %v", err)
	}
	cardID := res.(map[string]any)["card_id"].(string)

	if _, err := execOn(t, s, board.ID, "move_card", map[string]any{"card_id": cardID, "to_column": "done"}); err != nil {
		t.Fatalf("move_card: %v", err)
	}

	res, err = execOn(t, s, board.ID, "list_board", nil)
	if err != nil {
		t.Fatalf("list_board: %v", err)
	}
	columns := res.(map[string]any)["columns"].([]kanbanColumn)
	for _, col := range columns {
		switch col.ID {
		case "todo":
			if len(col.Cards) != 0 {
				t.Fatalf("card left behind in todo: %v", col.Cards)
			}
		case "done":
			if len(col.Cards) != 1 || col.Cards[0].ID != cardID {
				t.Fatalf("card not in done: %v", col.Cards)
			}
		}
	}

	if _, err := execOn(t, s, board.ID, "move_card", map[string]any{"card_id": "nope", "to_column": "done"}); err == nil {
		t.Fatalf("expected move of unknown card to fail")
	}
}

func TestFlowchartConnectRequiresNodes(t *testing.T) {
	t.Parallel()

	s := NewStore(Builtin())
	fc, _ := s.Add("flowchart", "")

	res, err := execOn(t, s, fc.ID, "add_node", map[string]any{"label": "start"})
	if err != nil {
		t.Fatalf("add_node: %v", err)
	}
	from := res.(map[string]any)["node_id"].(string)
	res, err = execOn(t, s, fc.ID, "add_node", map[string]any{"label": "end"})
	if err != nil {
		t.Fatalf("add_node: %v", err)
	}
	to := res.(map[string]any)["node_id"].(string)

	if _, err := execOn(t, s, fc.ID, "connect_nodes", map[string]any{"from": from, "to": to}); err != nil {
		t.Fatalf("connect_nodes: %v", err)
	}
	if _, err := execOn(t, s, fc.ID, "connect_nodes", map[string]any{"from": from, "to": "ghost"}); err == nil {
		t.Fatalf("expected connect to unknown node to fail")
	}

	res, _ = execOn(t, s, fc.ID, "list_nodes", nil)
	graph := res.(map[string]any)
	if len(graph["nodes"].([]flowNode)) != 2 || len(graph["edges"].([]flowEdge)) != 1 {
		t.Fatalf("unexpected graph: %v", graph)
	}
}

func TestBaseCapabilitiesDefaults(t *testing.T) {
	t.Parallel()

	base := BaseCapabilities{}
	tools, err := base.MCPTools(context.Background(), State{})
	if err != nil || len(tools) != 0 {
		t.Fatalf("expected empty tool list, got %v, %v", tools, err)
	}

	_, err = base.ExecuteMCPTool(context.Background(), "anything", nil, State{}, func(State) {})
	if !errors.Is(err, ErrNotImplemented) {
		t.Fatalf("expected ErrNotImplemented, got %v", err)
	}

	desc, err := base.LLMContext(context.Background(), State{})
	if err != nil || !desc.Empty() {
		t.Fatalf("expected empty descriptor, got %+v, %v", desc, err)
	}
}
