// Package contextsel holds the per-notebook context selection: which sources
// and notes are visible to the assistant, and at what depth.
//
// Selections live in memory only. They are rebuilt whenever a notebook view
// is opened and are never written back to the server.
package contextsel

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
)

// ErrUnknownItem is returned when an item is selected that is not in the
// notebook's catalog.
var ErrUnknownItem = errors.New("unknown item")

// Selections maps item ids to their inclusion mode.
type Selections struct {
	Sources map[string]Mode
	Notes   map[string]Mode
}

// Item is one entry of the context payload.
type Item struct {
	ID      string `json:"id"`
	Content string `json:"content"`
}

// Payload is the context block attached to a chat request.
type Payload struct {
	Sources []Item `json:"sources"`
	Notes   []Item `json:"notes"`
}

// Empty reports whether nothing is included.
func (p Payload) Empty() bool {
	return len(p.Sources) == 0 && len(p.Notes) == 0
}

// Counts summarizes a selection for display.
type Counts struct {
	SourcesInsights int
	SourcesFull     int
	NotesFull       int
}

// Model is the mutable selection for one open notebook. Writes come from the
// user toggle path; readers take a snapshot at send time.
type Model struct {
	mu  sync.RWMutex
	sel Selections

	// catalog is nil until SetItems is called.
	sources []string
	notes   []string
	catalog bool
}

func New() *Model {
	return &Model{sel: Selections{
		Sources: make(map[string]Mode),
		Notes:   make(map[string]Mode),
	}}
}

// SetMode records the inclusion mode of one item. Once SetItems has supplied
// a catalog, only listed items can be switched on.
func (m *Model) SetMode(kind Kind, itemID string, mode Mode) error {
	itemID = strings.TrimSpace(itemID)
	if itemID == "" {
		return fmt.Errorf("item id cannot be empty")
	}
	if !kind.Allowed(mode) {
		return fmt.Errorf("%w: %s cannot use %q", ErrInvalidMode, kind, mode)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	target := m.target(kind)
	if mode == ModeOff {
		delete(target, itemID)
		return nil
	}
	if m.catalog && !slices.Contains(m.listed(kind), itemID) {
		return fmt.Errorf("%w: %s %s", ErrUnknownItem, kind, itemID)
	}
	target[itemID] = mode
	return nil
}

func (m *Model) listed(kind Kind) []string {
	if kind == KindNote {
		return m.notes
	}
	return m.sources
}

// Mode returns the mode of an item; unknown items are off.
func (m *Model) Mode(kind Kind, itemID string) Mode {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if mode, ok := m.target(kind)[itemID]; ok {
		return mode
	}
	return ModeOff
}

// SetItems records the items currently in the notebook and prunes any
// selection whose item no longer exists.
func (m *Model) SetItems(sources, notes []string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sources = append([]string(nil), sources...)
	m.notes = append([]string(nil), notes...)
	m.catalog = true
	prune(m.sel.Sources, m.sources)
	prune(m.sel.Notes, m.notes)
}

// Reset drops every selection and the known catalog.
func (m *Model) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sel = Selections{Sources: make(map[string]Mode), Notes: make(map[string]Mode)}
	m.sources, m.notes, m.catalog = nil, nil, false
}

// Snapshot copies the current selections.
func (m *Model) Snapshot() Selections {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Selections{Sources: cloneModes(m.sel.Sources), Notes: cloneModes(m.sel.Notes)}
}

// Payload builds the context block from the latest selections. Before the
// notebook catalog is known the selected ids are used in sorted order.
func (m *Model) Payload() Payload {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sources, notes := m.sources, m.notes
	if !m.catalog {
		sources = sortedKeys(m.sel.Sources)
		notes = sortedKeys(m.sel.Notes)
	}
	return ComputePayload(m.sel, sources, notes)
}

// Counts reports how many items are included per mode.
func (m *Model) Counts() Counts {
	p := m.Payload()
	var c Counts
	for _, item := range p.Sources {
		if item.Content == ContentInsights {
			c.SourcesInsights++
		} else {
			c.SourcesFull++
		}
	}
	c.NotesFull = len(p.Notes)
	return c
}

func (m *Model) target(kind Kind) map[string]Mode {
	if kind == KindNote {
		return m.sel.Notes
	}
	return m.sel.Sources
}

// ComputePayload walks the notebook's sources and notes in order and emits
// one payload item per included entry. Items without a mode are off; notes
// only contribute when full.
func ComputePayload(sel Selections, sources, notes []string) Payload {
	payload := Payload{Sources: []Item{}, Notes: []Item{}}

	for _, id := range sources {
		if tag, ok := contentTag(sel.Sources[id]); ok {
			payload.Sources = append(payload.Sources, Item{ID: id, Content: tag})
		}
	}
	for _, id := range notes {
		if sel.Notes[id] != ModeFull {
			continue
		}
		payload.Notes = append(payload.Notes, Item{ID: id, Content: ContentFull})
	}
	return payload
}

func prune(modes map[string]Mode, present []string) {
	keep := make(map[string]struct{}, len(present))
	for _, id := range present {
		keep[id] = struct{}{}
	}
	for id := range modes {
		if _, ok := keep[id]; !ok {
			delete(modes, id)
		}
	}
}

func cloneModes(in map[string]Mode) map[string]Mode {
	out := make(map[string]Mode, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func sortedKeys(in map[string]Mode) []string {
	keys := make([]string, 0, len(in))
	for k := range in {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
