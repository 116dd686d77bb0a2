// Package timeutil formats timestamps for listings.
package timeutil

import (
	"fmt"
	"strings"
	"time"
)

// Server timestamps come in a few shapes depending on the backend version.
var layouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05.999999",
	time.DateTime,
}

// Parse reads a server timestamp. Timestamps without a zone are UTC.
func Parse(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Ago describes how long before now t happened.
func Ago(t, now time.Time) string {
	if t.IsZero() {
		return ""
	}
	d := now.Sub(t)
	if d < 0 {
		d = 0
	}

	switch minutes := int(d.Minutes()); {
	case d < 30*time.Second:
		return "just now"
	case d < 90*time.Second:
		return "a minute ago"
	case minutes < 45:
		return fmt.Sprintf("%d minutes ago", minutes)
	case minutes < 90:
		return "an hour ago"
	case d < 24*time.Hour:
		return fmt.Sprintf("%d hours ago", int(d.Hours()))
	}

	switch days := int(d.Hours() / 24); {
	case days == 1:
		return "yesterday"
	case days < 7:
		return fmt.Sprintf("%d days ago", days)
	case t.Year() == now.Year():
		return "on " + t.Format("Jan 2")
	default:
		return "on " + t.Format("Jan 2, 2006")
	}
}

// AgoString is Ago for a raw server timestamp. Unparseable input is
// returned unchanged.
func AgoString(raw string, now time.Time) string {
	t, ok := Parse(raw)
	if !ok {
		return raw
	}
	return Ago(t, now)
}

// Duration formats d compactly, e.g. "850ms", "12s", "3m", "2h".
func Duration(d time.Duration) string {
	switch {
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}
