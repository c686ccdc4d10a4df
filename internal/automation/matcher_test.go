package automation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatcherModes(t *testing.T) {
	m := NewMatcher()
	text := "Error: API is overloaded\nRetrying in 5s"

	tests := []struct {
		name    string
		pattern Pattern
		want    bool
	}{
		{
			name:    "contains match",
			pattern: Pattern{ID: "p1", Mode: MatchContains, Value: "api is overloaded"},
			want:    true,
		},
		{
			name:    "contains case sensitive miss",
			pattern: Pattern{ID: "p2", Mode: MatchContains, Value: "api is overloaded", CaseSensitive: true},
			want:    false,
		},
		{
			name:    "contains case sensitive hit",
			pattern: Pattern{ID: "p3", Mode: MatchContains, Value: "API is overloaded", CaseSensitive: true},
			want:    true,
		},
		{
			name:    "exact is whole-blob equality",
			pattern: Pattern{ID: "p4", Mode: MatchExact, Value: "Error: API is overloaded"},
			want:    false,
		},
		{
			name:    "exact full blob",
			pattern: Pattern{ID: "p5", Mode: MatchExact, Value: "error: api is overloaded\nretrying in 5s"},
			want:    true,
		},
		{
			name:    "starts_with",
			pattern: Pattern{ID: "p6", Mode: MatchStartsWith, Value: "error:"},
			want:    true,
		},
		{
			name:    "ends_with",
			pattern: Pattern{ID: "p7", Mode: MatchEndsWith, Value: "in 5s"},
			want:    true,
		},
		{
			name:    "regex",
			pattern: Pattern{ID: "p8", Mode: MatchRegex, Value: `Retrying in \d+s`},
			want:    true,
		},
		{
			name:    "regex case insensitive by default",
			pattern: Pattern{ID: "p9", Mode: MatchRegex, Value: `retrying IN \d+s`},
			want:    true,
		},
		{
			name:    "regex case sensitive",
			pattern: Pattern{ID: "p10", Mode: MatchRegex, Value: `retrying in \d+s`, CaseSensitive: true},
			want:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, m.Matches(&tt.pattern, text))
		})
	}
}

func TestMatcherNegate(t *testing.T) {
	m := NewMatcher()

	absent := Pattern{ID: "n1", Mode: MatchContains, Value: "esc to interrupt", Negate: true}
	assert.True(t, m.Matches(&absent, "❯ waiting at prompt"))
	assert.False(t, m.Matches(&absent, "esc to interrupt"))

	// Negated patterns never contribute captures, even when they "match".
	matched, caps, err := m.Captures(&absent, "❯ waiting at prompt")
	require.NoError(t, err)
	assert.True(t, matched)
	assert.Nil(t, caps)
}

func TestMatcherCaptures(t *testing.T) {
	m := NewMatcher()

	p := Pattern{ID: "c1", Mode: MatchRegex, Value: `Working on task (jat-[a-z0-9]+) \((\d+)%\)`}
	matched, caps, err := m.Captures(&p, "Working on task jat-42ab (80%)")
	require.NoError(t, err)
	require.True(t, matched)
	require.Len(t, caps, 3)
	assert.Equal(t, "Working on task jat-42ab (80%)", caps[0])
	assert.Equal(t, "jat-42ab", caps[1])
	assert.Equal(t, "80", caps[2])

	// Literal modes report the pattern value as the matched text.
	lit := Pattern{ID: "c2", Mode: MatchContains, Value: "rate limit"}
	matched, caps, err = m.Captures(&lit, "provider rate limit reached")
	require.NoError(t, err)
	require.True(t, matched)
	require.Len(t, caps, 1)
	assert.Equal(t, "rate limit", caps[0])
}

func TestMatcherInvalidRegexFailsClosed(t *testing.T) {
	m := NewMatcher()
	bad := Pattern{ID: "bad1", Mode: MatchRegex, Value: `([unclosed`}

	// Never matches, never panics, and a sibling pattern still works.
	assert.False(t, m.Matches(&bad, "([unclosed"))
	assert.False(t, m.Matches(&bad, "anything"))

	good := Pattern{ID: "good1", Mode: MatchRegex, Value: `anything`}
	assert.True(t, m.Matches(&good, "anything"))
}

func TestMatcherBrokenRegexIsDistinctFromNoMatch(t *testing.T) {
	m := NewMatcher()

	// A regex that no longer compiles must not turn into an always-match
	// once negation is applied on top of "did not match".
	negBad := Pattern{ID: "nb1", Mode: MatchRegex, Value: `([unclosed`, Negate: true}
	assert.False(t, m.Matches(&negBad, "any output"))

	matched, caps, err := m.Captures(&negBad, "any output")
	require.ErrorIs(t, err, ErrBrokenPattern)
	assert.False(t, matched)
	assert.Nil(t, caps)

	// A healthy pattern that simply misses reports no error.
	miss := Pattern{ID: "nb2", Mode: MatchRegex, Value: `absent`}
	matched, _, err = m.Captures(&miss, "any output")
	require.NoError(t, err)
	assert.False(t, matched)
}

func TestMatcherCacheFollowsValueChange(t *testing.T) {
	m := NewMatcher()
	p := Pattern{ID: "cache1", Mode: MatchRegex, Value: `alpha`}
	assert.True(t, m.Matches(&p, "alpha"))

	// Same ID, new value: the stale compiled regex must not be reused.
	p.Value = `beta`
	assert.False(t, m.Matches(&p, "alpha"))
	assert.True(t, m.Matches(&p, "beta"))

	m.Invalidate(p.ID)
	assert.True(t, m.Matches(&p, "beta"))
}
