package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nbassist/internal/contextsel"
)

func TestParseSelection(t *testing.T) {
	tests := []struct {
		name    string
		kind    contextsel.Kind
		raw     string
		want    Selection
		wantErr bool
	}{
		{"bare source", contextsel.KindSource, "src:1", Selection{contextsel.KindSource, "src:1", contextsel.ModeInsights}, false},
		{"bare note", contextsel.KindNote, "note:1", Selection{contextsel.KindNote, "note:1", contextsel.ModeFull}, false},
		{"source full", contextsel.KindSource, "src:1=full", Selection{contextsel.KindSource, "src:1", contextsel.ModeFull}, false},
		{"source off", contextsel.KindSource, " src:1 = off ", Selection{contextsel.KindSource, "src:1", contextsel.ModeOff}, false},
		{"note insights", contextsel.KindNote, "note:1=insights", Selection{}, true},
		{"unknown mode", contextsel.KindSource, "src:1=most", Selection{}, true},
		{"missing id", contextsel.KindSource, "=full", Selection{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSelection(tt.kind, tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestApplySelections(t *testing.T) {
	sels, err := ParseSelections([]string{"s1=full", "s9"}, []string{"n1"})
	require.NoError(t, err)

	model := contextsel.New()
	model.SetItems([]string{"s1", "s2"}, []string{"n1"})
	unknown, err := ApplySelections(model, sels, []string{"s1", "s2"}, []string{"n1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"source s9"}, unknown)

	payload := model.Payload()
	require.Len(t, payload.Sources, 1)
	assert.Equal(t, contextsel.Item{ID: "s1", Content: contextsel.ContentFull}, payload.Sources[0])
	require.Len(t, payload.Notes, 1)
	assert.Equal(t, "n1", payload.Notes[0].ID)
}

func TestApplySelectionsWithoutCatalog(t *testing.T) {
	sels, err := ParseSelections([]string{"s1"}, nil)
	require.NoError(t, err)

	model := contextsel.New()
	unknown, err := ApplySelections(model, sels, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, unknown)
	assert.Equal(t, contextsel.ModeInsights, model.Mode(contextsel.KindSource, "s1"))
}
