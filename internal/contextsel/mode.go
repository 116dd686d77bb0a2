package contextsel

import (
	"errors"
	"fmt"
	"strings"
)

// Kind identifies which collection of the notebook an item belongs to.
type Kind string

const (
	KindSource Kind = "source"
	KindNote   Kind = "note"
)

// Mode controls how much of an item is sent to the assistant.
type Mode string

const (
	ModeOff      Mode = "off"
	ModeInsights Mode = "insights"
	ModeFull     Mode = "full"
)

// Payload content tags understood by the remote assistant.
const (
	ContentInsights = "insights"
	ContentFull     = "full content"
)

// ErrInvalidMode is returned when a mode is not allowed for the item kind.
var ErrInvalidMode = errors.New("invalid inclusion mode")

// ParseMode accepts the user facing spellings of a mode.
func ParseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "off", "none", "exclude":
		return ModeOff, nil
	case "insights", "insight", "summary":
		return ModeInsights, nil
	case "full", "full content", "all":
		return ModeFull, nil
	default:
		return ModeOff, fmt.Errorf("%w: %q", ErrInvalidMode, raw)
	}
}

// ParseKind accepts "source"/"sources" and "note"/"notes".
func ParseKind(raw string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "source", "sources":
		return KindSource, nil
	case "note", "notes":
		return KindNote, nil
	default:
		return "", fmt.Errorf("unknown item kind %q", raw)
	}
}

// Allowed reports whether mode is valid for kind. Notes have no insights.
func (k Kind) Allowed(mode Mode) bool {
	switch mode {
	case ModeOff, ModeFull:
		return k == KindSource || k == KindNote
	case ModeInsights:
		return k == KindSource
	default:
		return false
	}
}

// contentTag maps an included mode to its payload tag.
func contentTag(mode Mode) (string, bool) {
	switch mode {
	case ModeInsights:
		return ContentInsights, true
	case ModeFull:
		return ContentFull, true
	default:
		return "", false
	}
}
