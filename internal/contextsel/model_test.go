package contextsel

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputePayloadScenario(t *testing.T) {
	m := New()
	require.NoError(t, m.SetMode(KindSource, "A", ModeInsights))
	require.NoError(t, m.SetMode(KindSource, "B", ModeFull))
	require.NoError(t, m.SetMode(KindNote, "C", ModeOff))
	m.SetItems([]string{"A", "B"}, []string{"C"})

	got := m.Payload()
	assert.Equal(t, []Item{{ID: "A", Content: "insights"}, {ID: "B", Content: "full content"}}, got.Sources)
	assert.Empty(t, got.Notes)

	raw, err := json.Marshal(got)
	require.NoError(t, err)
	assert.JSONEq(t, `{"sources":[{"id":"A","content":"insights"},{"id":"B","content":"full content"}],"notes":[]}`, string(raw))
}

func TestComputePayloadNeverIncludesOff(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	sourceModes := []Mode{ModeOff, ModeInsights, ModeFull, ""}
	noteModes := []Mode{ModeOff, ModeFull, ""}

	for round := 0; round < 200; round++ {
		sel := Selections{Sources: map[string]Mode{}, Notes: map[string]Mode{}}
		var sources, notes []string
		for i := 0; i < 8; i++ {
			id := fmt.Sprintf("s%d", i)
			sources = append(sources, id)
			if mode := sourceModes[rng.Intn(len(sourceModes))]; mode != "" {
				sel.Sources[id] = mode
			}
			nid := fmt.Sprintf("n%d", i)
			notes = append(notes, nid)
			if mode := noteModes[rng.Intn(len(noteModes))]; mode != "" {
				sel.Notes[nid] = mode
			}
		}

		payload := ComputePayload(sel, sources, notes)
		for _, item := range payload.Sources {
			mode := sel.Sources[item.ID]
			assert.NotEqual(t, ModeOff, mode)
			assert.NotEmpty(t, mode)
		}
		for _, item := range payload.Notes {
			assert.Equal(t, ModeFull, sel.Notes[item.ID])
			assert.Equal(t, ContentFull, item.Content)
		}
	}
}

func TestNotesRejectInsights(t *testing.T) {
	m := New()
	err := m.SetMode(KindNote, "n1", ModeInsights)
	require.ErrorIs(t, err, ErrInvalidMode)
	assert.Equal(t, ModeOff, m.Mode(KindNote, "n1"))
}

func TestSetItemsPrunesStaleSelections(t *testing.T) {
	m := New()
	require.NoError(t, m.SetMode(KindSource, "kept", ModeFull))
	require.NoError(t, m.SetMode(KindSource, "gone", ModeInsights))
	require.NoError(t, m.SetMode(KindNote, "old-note", ModeFull))

	m.SetItems([]string{"kept", "new"}, nil)

	snap := m.Snapshot()
	assert.Equal(t, map[string]Mode{"kept": ModeFull}, snap.Sources)
	assert.Empty(t, snap.Notes)
	assert.Equal(t, ModeOff, m.Mode(KindSource, "new"))
}

func TestSetModeRejectsItemsOutsideCatalog(t *testing.T) {
	m := New()
	m.SetItems([]string{"a"}, []string{"n1"})

	err := m.SetMode(KindSource, "ghost", ModeFull)
	require.ErrorIs(t, err, ErrUnknownItem)
	require.ErrorIs(t, m.SetMode(KindNote, "ghost-note", ModeFull), ErrUnknownItem)
	require.NoError(t, m.SetMode(KindSource, "ghost", ModeOff))
	require.NoError(t, m.SetMode(KindSource, "a", ModeInsights))

	snap := m.Snapshot()
	assert.Equal(t, map[string]Mode{"a": ModeInsights}, snap.Sources)
	assert.Empty(t, snap.Notes)
	assert.Equal(t, ModeOff, m.Mode(KindSource, "ghost"))
}

func TestPayloadFollowsCatalogOrder(t *testing.T) {
	m := New()
	m.SetItems([]string{"z", "a", "m"}, []string{"n2", "n1"})
	require.NoError(t, m.SetMode(KindSource, "a", ModeFull))
	require.NoError(t, m.SetMode(KindSource, "z", ModeInsights))
	require.NoError(t, m.SetMode(KindNote, "n1", ModeFull))
	require.NoError(t, m.SetMode(KindNote, "n2", ModeFull))

	p := m.Payload()
	require.Len(t, p.Sources, 2)
	assert.Equal(t, "z", p.Sources[0].ID)
	assert.Equal(t, "a", p.Sources[1].ID)
	assert.Equal(t, []Item{{ID: "n2", Content: ContentFull}, {ID: "n1", Content: ContentFull}}, p.Notes)
}

func TestSetModeOffRemovesEntry(t *testing.T) {
	m := New()
	require.NoError(t, m.SetMode(KindSource, "A", ModeFull))
	require.NoError(t, m.SetMode(KindSource, "A", ModeOff))
	assert.Empty(t, m.Snapshot().Sources)
	assert.True(t, m.Payload().Empty())
}

func TestCounts(t *testing.T) {
	m := New()
	require.NoError(t, m.SetMode(KindSource, "a", ModeInsights))
	require.NoError(t, m.SetMode(KindSource, "b", ModeInsights))
	require.NoError(t, m.SetMode(KindSource, "c", ModeFull))
	require.NoError(t, m.SetMode(KindNote, "n", ModeFull))

	assert.Equal(t, Counts{SourcesInsights: 2, SourcesFull: 1, NotesFull: 1}, m.Counts())
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		input string
		want  Mode
		err   bool
	}{
		{"insights", ModeInsights, false},
		{"FULL", ModeFull, false},
		{"full content", ModeFull, false},
		{"off", ModeOff, false},
		{"", ModeOff, false},
		{"partial", ModeOff, true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseMode(tt.input)
			if tt.err {
				assert.ErrorIs(t, err, ErrInvalidMode)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
