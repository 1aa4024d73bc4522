package panel

import (
	"path/filepath"
	"testing"
)

func TestStoreAddListOrder(t *testing.T) {
	t.Parallel()

	s := NewStore(Builtin())
	a, err := s.Add("workspace", "")
	if err != nil {
		t.Fatalf("Add workspace: %v", err)
	}
	b, err := s.Add("notes", "My Notes")
	if err != nil {
		t.Fatalf("Add notes: %v", err)
	}

	list := s.List()
	if len(list) != 2 {
		t.Fatalf("expected 2 panels, got %d", len(list))
	}
	if list[0].ID != a.ID || list[1].ID != b.ID {
		t.Fatalf("insertion order not preserved")
	}
	if list[0].Title != "Workspace" {
		t.Fatalf("default title not applied: %q", list[0].Title)
	}
	if list[1].Title != "My Notes" {
		t.Fatalf("explicit title lost: %q", list[1].Title)
	}
}

func TestStoreAddUnknownType(t *testing.T) {
	t.Parallel()

	s := NewStore(Builtin())
	if _, err := s.Add("spreadsheet", ""); err == nil {
		t.Fatalf("expected error for unknown panel type")
	}
}

func TestStoreRemoveProtected(t *testing.T) {
	t.Parallel()

	s := NewStore(Builtin())
	chat, err := s.Add("chat", "")
	if err != nil {
		t.Fatalf("Add chat: %v", err)
	}
	if err := s.Remove(chat.ID); err == nil {
		t.Fatalf("expected protected panel removal to fail")
	}
	if _, ok := s.Get(chat.ID); !ok {
		t.Fatalf("protected panel was removed")
	}

	canvas, err := s.Add("canvas", "")
	if err != nil {
		t.Fatalf("Add canvas: %v", err)
	}
	if err := s.Remove(canvas.ID); err != nil {
		t.Fatalf("Remove canvas: %v", err)
	}
	if _, ok := s.Get(canvas.ID); ok {
		t.Fatalf("canvas panel still present after removal")
	}
}

func TestStoreUpdateStateShallowMerge(t *testing.T) {
	t.Parallel()

	s := NewStore(Builtin())
	inst, err := s.Add("notes", "")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	before := s.Revision()
	if err := s.UpdateState(inst.ID, State{"content": "# Plan", "cursor": 6}); err != nil {
		t.Fatalf("UpdateState: %v", err)
	}
	if s.Revision() <= before {
		t.Fatalf("revision did not advance on state update")
	}

	got, _ := s.Get(inst.ID)
	if got.State["content"] != "# Plan" {
		t.Fatalf("merged key missing: %v", got.State)
	}
	if got.State["cursor"] != 6 {
		t.Fatalf("second merged key missing: %v", got.State)
	}

	// A later partial update must not erase untouched keys.
	if err := s.UpdateState(inst.ID, State{"cursor": 7}); err != nil {
		t.Fatalf("UpdateState: %v", err)
	}
	got, _ = s.Get(inst.ID)
	if got.State["content"] != "# Plan" {
		t.Fatalf("shallow merge erased sibling key")
	}
}

func TestStoreGetReturnsSnapshot(t *testing.T) {
	t.Parallel()

	s := NewStore(Builtin())
	inst, _ := s.Add("notes", "")

	snap, _ := s.Get(inst.ID)
	snap.State["content"] = "mutated locally"

	fresh, _ := s.Get(inst.ID)
	if fresh.State["content"] == "mutated locally" {
		t.Fatalf("Get exposed live state")
	}
}

func TestStoreSaveLoadRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "workspace.json")

	s := NewStore(Builtin())
	if err := s.LoadFile(path); err != nil {
		t.Fatalf("LoadFile on missing file: %v", err)
	}
	ws, _ := s.Add("workspace", "")
	notes, _ := s.Add("notes", "")
	if err := s.UpdateState(notes.ID, State{"content": "# Saved"}); err != nil {
		t.Fatalf("UpdateState: %v", err)
	}
	if err := s.SetObserving(ws.ID, true); err != nil {
		t.Fatalf("SetObserving: %v", err)
	}
	if err := s.SaveFile(); err != nil {
		t.Fatalf("SaveFile: %v", err)
	}

	loaded := NewStore(Builtin())
	if err := loaded.LoadFile(path); err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	list := loaded.List()
	if len(list) != 2 {
		t.Fatalf("expected 2 panels after load, got %d", len(list))
	}
	if list[0].ID != ws.ID || list[1].ID != notes.ID {
		t.Fatalf("panel order lost across save/load")
	}
	if !list[0].Observing {
		t.Fatalf("observing flag lost across save/load")
	}
	got, _ := loaded.Get(notes.ID)
	if got.State["content"] != "# Saved" {
		t.Fatalf("state lost across save/load: %v", got.State)
	}
}
