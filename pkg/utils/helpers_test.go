package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		value string
		want  time.Duration
	}{
		{"seconds", "2", 2 * time.Second},
		{"fractional", "1.5", 1500 * time.Millisecond},
		{"http date", "Sun, 01 Mar 2026 12:00:30 GMT", 30 * time.Second},
		{"past date", "Sun, 01 Mar 2026 11:00:00 GMT", 0},
		{"empty", "", 0},
		{"garbage", "soon", 0},
		{"negative", "-4", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseRetryAfter(tt.value, now))
		})
	}
}

func TestParseUsagePair(t *testing.T) {
	s, d, ok := ParseUsagePair("41, 302")
	assert.True(t, ok)
	assert.Equal(t, 41, s)
	assert.Equal(t, 302, d)

	_, _, ok = ParseUsagePair("41")
	assert.False(t, ok)
	_, _, ok = ParseUsagePair("a,b")
	assert.False(t, ok)
}

func TestBackoff(t *testing.T) {
	assert.Equal(t, 100*time.Millisecond, Backoff(0, 100*time.Millisecond, time.Second))
	assert.Equal(t, 400*time.Millisecond, Backoff(2, 100*time.Millisecond, time.Second))
	assert.Equal(t, time.Second, Backoff(10, 100*time.Millisecond, time.Second))
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"ALICE", "BOB"}, SplitList(" ALICE, ,BOB,"))
	assert.Nil(t, SplitList(""))
}
