package automation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestInterpolate(t *testing.T) {
	ts := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	ctx := TemplateContext{
		SessionName: "jat_nova_2",
		AgentName:   "nova",
		Timestamp:   ts,
		MatchedText: "Working on task jat-42ab",
		Captures:    []string{"jat-42ab", "80"},
	}

	tests := []struct {
		name  string
		value string
		want  string
	}{
		{"plain text untouched", "continue", "continue"},
		{"session", "session={session}", "session=jat_nova_2"},
		{"agent", "hello {agent}", "hello nova"},
		{"timestamp rfc3339", "{timestamp}", "2026-03-14T09:26:53Z"},
		{"match", "saw: {match}", "saw: Working on task jat-42ab"},
		{"dollar zero aliases match", "{$0}", "Working on task jat-42ab"},
		{"capture groups", `{"taskId":"{$1}","pct":{$2}}`, `{"taskId":"jat-42ab","pct":80}`},
		{"out of range capture empty", "[{$9}]", "[]"},
		{"unknown token empty", "x{nope}y", "xy"},
		{"mixed tokens", "{agent}/{$1}@{session}", "nova/jat-42ab@jat_nova_2"},
		{"unmatched brace literal", "a { b } c", "a { b } c"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Interpolate(tt.value, ctx))
		})
	}
}

func TestInterpolateEmptyContext(t *testing.T) {
	// Interpolation never fails; an empty context resolves everything to "".
	got := Interpolate("{session}{agent}{match}{$1}", TemplateContext{})
	assert.Equal(t, "", got)
}

func TestDeriveAgentName(t *testing.T) {
	tests := []struct {
		session string
		want    string
	}{
		{"jat_nova_2", "nova"},
		{"jat_nova", "nova"},
		{"jat_code_review_3", "code_review"},
		{"unprefixed", "unprefixed"},
		{"jat_7", "7"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DeriveAgentName(tt.session), "session %q", tt.session)
	}
}
