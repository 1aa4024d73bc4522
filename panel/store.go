package panel

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"github.com/tidwall/sjson"

	"github.com/graphstudio/graphstudio/logger"
)

// Instance is a live, addressable panel with its own state.
type Instance struct {
	ID        string    `json:"id"`
	TypeID    string    `json:"panelTypeId"`
	Title     string    `json:"title"`
	State     State     `json:"state"`
	Observing bool      `json:"isObserving"`
	CreatedAt time.Time `json:"createdAt"`
}

// Store holds the set of live panel instances. It is constructor-injected
// into the orchestrator rather than accessed as a global, so tests can run
// against a fake panel set.
//
// The store keeps a JSON document mirror of its contents; mutations are
// applied to the mirror as targeted patches so that autosave writes are
// cheap and the on-disk shape stays stable.
type Store struct {
	mu       sync.RWMutex
	registry *Registry

	instances []*Instance
	byID      map[string]*Instance
	revision  uint64

	doc   []byte
	path  string
	dirty bool

	scheduler gocron.Scheduler
}

const emptyDoc = `{"panels":{},"order":[]}`

// NewStore returns an empty store backed by the given type registry.
func NewStore(registry *Registry) *Store {
	return &Store{
		registry: registry,
		byID:     make(map[string]*Instance),
		doc:      []byte(emptyDoc),
	}
}

// Add creates a new panel instance of the given type. An empty title falls
// back to the type's title.
func (s *Store) Add(typeID, title string) (Instance, error) {
	def, ok := s.registry.Lookup(typeID)
	if !ok {
		return Instance{}, fmt.Errorf("unknown panel type: %s", typeID)
	}
	if title == "" {
		title = def.Title
	}
	state := State{}
	if def.InitialState != nil {
		state = def.InitialState()
	}

	inst := &Instance{
		ID:        uuid.NewString(),
		TypeID:    typeID,
		Title:     title,
		State:     state,
		CreatedAt: time.Now(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.instances = append(s.instances, inst)
	s.byID[inst.ID] = inst
	s.patchInstance(inst)
	s.patchOrder()
	s.bump()
	return snapshot(inst), nil
}

// Remove destroys a panel instance. Protected panel types cannot be removed.
func (s *Store) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inst, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("panel not found: %s", id)
	}
	if def, ok := s.registry.Lookup(inst.TypeID); ok && def.Protected {
		return fmt.Errorf("panel type %s is protected from removal", inst.TypeID)
	}

	delete(s.byID, id)
	for i, p := range s.instances {
		if p.ID == id {
			s.instances = append(s.instances[:i], s.instances[i+1:]...)
			break
		}
	}
	s.doc, _ = sjson.DeleteBytes(s.doc, "panels."+id)
	s.patchOrder()
	s.bump()
	return nil
}

// Get returns a snapshot of the instance with the given id.
func (s *Store) Get(id string) (Instance, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inst, ok := s.byID[id]
	if !ok {
		return Instance{}, false
	}
	return snapshot(inst), true
}

// List returns snapshots of all instances in insertion order.
func (s *Store) List() []Instance {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Instance, 0, len(s.instances))
	for _, inst := range s.instances {
		out = append(out, snapshot(inst))
	}
	return out
}

// UpdateState shallow-merges partial into the instance's state.
func (s *Store) UpdateState(id string, partial State) error {
	if len(partial) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	inst, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("panel not found: %s", id)
	}
	rewrite := false
	for k, v := range partial {
		inst.State[k] = v
		if strings.ContainsAny(k, ".*?") {
			rewrite = true
		}
	}
	if rewrite {
		// Key would be misread as a path expression; rewrite the whole
		// state object instead of patching per key.
		s.doc, _ = sjson.SetBytes(s.doc, "panels."+id+".state", inst.State)
	} else {
		for k, v := range partial {
			s.doc, _ = sjson.SetBytes(s.doc, "panels."+id+".state."+k, v)
		}
	}
	s.bump()
	return nil
}

// SetObserving toggles whether the panel's content is included in
// context-building.
func (s *Store) SetObserving(id string, observing bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inst, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("panel not found: %s", id)
	}
	inst.Observing = observing
	s.doc, _ = sjson.SetBytes(s.doc, "panels."+id+".isObserving", observing)
	s.bump()
	return nil
}

// Revision returns the mutation counter. It increases on every change to the
// panel set or any panel's state, and keys the aggregator's cache.
func (s *Store) Revision() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.revision
}

// Registry returns the type registry backing this store.
func (s *Store) Registry() *Registry {
	return s.registry
}

func (s *Store) bump() {
	s.revision++
	s.dirty = true
}

func (s *Store) patchInstance(inst *Instance) {
	s.doc, _ = sjson.SetBytes(s.doc, "panels."+inst.ID, inst)
}

func (s *Store) patchOrder() {
	order := make([]string, 0, len(s.instances))
	for _, inst := range s.instances {
		order = append(order, inst.ID)
	}
	s.doc, _ = sjson.SetBytes(s.doc, "order", order)
}

func snapshot(inst *Instance) Instance {
	out := *inst
	out.State = inst.State.Clone()
	return out
}

type storeDoc struct {
	Panels map[string]*Instance `json:"panels"`
	Order  []string             `json:"order"`
}

// LoadFile reads a previously saved store document. A missing file is not an
// error; the store stays empty and the path is remembered for saving.
func (s *Store) LoadFile(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.path = path

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read workspace file: %w", err)
	}

	var doc storeDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to parse workspace file: %w", err)
	}

	s.instances = s.instances[:0]
	s.byID = make(map[string]*Instance)
	for _, id := range doc.Order {
		inst, ok := doc.Panels[id]
		if !ok || inst == nil {
			continue
		}
		if inst.State == nil {
			inst.State = State{}
		}
		s.instances = append(s.instances, inst)
		s.byID[inst.ID] = inst
	}
	s.doc = data
	s.revision++
	s.dirty = false
	logger.Info("workspace loaded", "path", path, "panels", len(s.instances))
	return nil
}

// SaveFile writes the store document to its configured path if the store has
// unsaved changes.
func (s *Store) SaveFile() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

func (s *Store) saveLocked() error {
	if s.path == "" || !s.dirty {
		return nil
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, s.doc, 0o644); err != nil {
		return fmt.Errorf("failed to write workspace file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace workspace file: %w", err)
	}
	s.dirty = false
	return nil
}

// StartAutosave schedules periodic saves of the store document.
func (s *Store) StartAutosave(interval time.Duration) error {
	if interval <= 0 {
		return nil
	}
	sched, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("failed to create autosave scheduler: %w", err)
	}
	_, err = sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			if err := s.SaveFile(); err != nil {
				logger.Error("workspace autosave failed", "err", err)
			}
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule autosave: %w", err)
	}
	sched.Start()
	s.scheduler = sched
	logger.Info("workspace autosave started", "interval", interval.String())
	return nil
}

// StopAutosave stops the autosave scheduler and performs a final save.
func (s *Store) StopAutosave() error {
	if s.scheduler != nil {
		if err := s.scheduler.Shutdown(); err != nil {
			logger.Warn("autosave scheduler shutdown failed", "err", err)
		}
		s.scheduler = nil
	}
	return s.SaveFile()
}
