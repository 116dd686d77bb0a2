package cli

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"nbassist/internal/contextsel"
)

// Selection is one --source or --note flag value.
type Selection struct {
	Kind contextsel.Kind
	ID   string
	Mode contextsel.Mode
}

// ParseSelection reads "id" or "id=mode". A bare source id means insights
// and a bare note id means full content.
func ParseSelection(kind contextsel.Kind, raw string) (Selection, error) {
	id, modeText, hasMode := strings.Cut(strings.TrimSpace(raw), "=")
	id = strings.TrimSpace(id)
	if id == "" {
		return Selection{}, fmt.Errorf("%s selection %q has no id", kind, raw)
	}

	mode := contextsel.ModeFull
	if kind == contextsel.KindSource {
		mode = contextsel.ModeInsights
	}
	if hasMode {
		parsed, err := contextsel.ParseMode(modeText)
		if err != nil {
			return Selection{}, err
		}
		mode = parsed
	}
	if !kind.Allowed(mode) {
		return Selection{}, fmt.Errorf("%w: %s cannot use %q", contextsel.ErrInvalidMode, kind, mode)
	}
	return Selection{Kind: kind, ID: id, Mode: mode}, nil
}

// ParseSelections parses the --source and --note flag values.
func ParseSelections(sources, notes []string) ([]Selection, error) {
	out := make([]Selection, 0, len(sources)+len(notes))
	for _, raw := range sources {
		sel, err := ParseSelection(contextsel.KindSource, raw)
		if err != nil {
			return nil, err
		}
		out = append(out, sel)
	}
	for _, raw := range notes {
		sel, err := ParseSelection(contextsel.KindNote, raw)
		if err != nil {
			return nil, err
		}
		out = append(out, sel)
	}
	return out, nil
}

// ApplySelections writes sels into model. Ids missing from a known catalog
// are returned so the caller can warn; they would never reach the payload.
func ApplySelections(model *contextsel.Model, sels []Selection, sources, notes []string) ([]string, error) {
	var unknown []string
	for _, sel := range sels {
		err := model.SetMode(sel.Kind, sel.ID, sel.Mode)
		if errors.Is(err, contextsel.ErrUnknownItem) {
			unknown = append(unknown, string(sel.Kind)+" "+sel.ID)
			continue
		}
		if err != nil {
			return nil, err
		}
		catalog := sources
		if sel.Kind == contextsel.KindNote {
			catalog = notes
		}
		if catalog != nil && sel.Mode != contextsel.ModeOff && !slices.Contains(catalog, sel.ID) {
			unknown = append(unknown, string(sel.Kind)+" "+sel.ID)
		}
	}
	return unknown, nil
}
