package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAgo(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		offset time.Duration
		want   string
	}{
		{10 * time.Second, "just now"},
		{time.Minute, "a minute ago"},
		{20 * time.Minute, "20 minutes ago"},
		{time.Hour, "an hour ago"},
		{5 * time.Hour, "5 hours ago"},
		{30 * time.Hour, "yesterday"},
		{4 * 24 * time.Hour, "4 days ago"},
		{30 * 24 * time.Hour, "on May 16"},
		{400 * 24 * time.Hour, "on May 11, 2024"},
		{-time.Hour, "just now"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Ago(now.Add(-tt.offset), now), "offset %s", tt.offset)
	}
	assert.Empty(t, Ago(time.Time{}, now))
}

func TestParse(t *testing.T) {
	for _, raw := range []string{
		"2025-06-15T10:00:00Z",
		"2025-06-15T10:00:00.123456",
		"2025-06-15 10:00:00.123456",
		"2025-06-15 10:00:00",
	} {
		got, ok := Parse(raw)
		if assert.True(t, ok, raw) {
			assert.Equal(t, 10, got.Hour())
		}
	}
	_, ok := Parse("yesterday-ish")
	assert.False(t, ok)
}

func TestAgoString(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, "2 hours ago", AgoString("2025-06-15T10:00:00Z", now))
	assert.Equal(t, "garbled", AgoString("garbled", now))
	assert.Equal(t, "", AgoString("", now))
}

func TestDuration(t *testing.T) {
	assert.Equal(t, "850ms", Duration(850*time.Millisecond))
	assert.Equal(t, "12s", Duration(12*time.Second))
	assert.Equal(t, "3m", Duration(3*time.Minute))
	assert.Equal(t, "2h", Duration(2*time.Hour))
	assert.Equal(t, "3d", Duration(72*time.Hour))
}
