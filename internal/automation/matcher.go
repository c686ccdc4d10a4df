package automation

import (
	"errors"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"github.com/jathq/jat-sentinel/internal/logging"
)

var matchLog = logging.ForComponent(logging.CompMatch)

// ErrBrokenPattern marks a stored regex that no longer compiles. It is a
// third state distinct from match/no-match: negation must not apply to it,
// or a corrupted negated pattern would become an always-match.
var ErrBrokenPattern = errors.New("pattern regex does not compile")

// Matcher evaluates patterns against captured output text. Regex patterns are
// compiled once and cached by pattern ID; the cache entry is invalidated when
// the pattern's value changes, so per-tick latency stays bounded.
type Matcher struct {
	mu    sync.RWMutex
	cache map[string]*cachedRegex
}

type cachedRegex struct {
	source string // pattern value the entry was compiled from
	re     *regexp.Regexp
	bad    bool // compile failed; fail closed without retrying every tick
}

// NewMatcher creates an empty matcher.
func NewMatcher() *Matcher {
	return &Matcher{cache: make(map[string]*cachedRegex)}
}

// regexSource returns the regex source for a pattern, folding case via the
// (?i) flag when the pattern is case-insensitive.
func regexSource(p *Pattern) string {
	if p.CaseSensitive {
		return p.Value
	}
	return "(?i)" + p.Value
}

// Matches tests one pattern against a text blob and applies negation.
// A pattern whose regex does not compile never matches, negated or not.
func (m *Matcher) Matches(p *Pattern, text string) bool {
	ok, _, err := m.matchRaw(p, text)
	if err != nil {
		return false
	}
	if p.Negate {
		return !ok
	}
	return ok
}

// Captures tests a pattern and, for regex patterns, returns the capture
// groups of the first match: captures[0] is the full matched text, followed
// by the numbered groups. Non-regex matches report the pattern value as the
// matched text. Negated patterns never contribute captures. A regex that
// fails to compile reports ErrBrokenPattern before negation is considered,
// so callers can skip the owning rule outright.
func (m *Matcher) Captures(p *Pattern, text string) (matched bool, captures []string, err error) {
	ok, caps, err := m.matchRaw(p, text)
	if err != nil {
		return false, nil, err
	}
	if p.Negate {
		return !ok, nil, nil
	}
	return ok, caps, nil
}

func (m *Matcher) matchRaw(p *Pattern, text string) (bool, []string, error) {
	switch p.Mode {
	case MatchRegex:
		re := m.compiled(p)
		if re == nil {
			return false, nil, ErrBrokenPattern
		}
		caps := re.FindStringSubmatch(text)
		if caps == nil {
			return false, nil, nil
		}
		return true, caps, nil
	case MatchContains:
		if fold(p, text, strings.Contains) {
			return true, []string{p.Value}, nil
		}
	case MatchExact:
		// Whole-blob equality, not line-wise.
		if fold(p, text, func(a, b string) bool { return a == b }) {
			return true, []string{p.Value}, nil
		}
	case MatchStartsWith:
		if fold(p, text, strings.HasPrefix) {
			return true, []string{p.Value}, nil
		}
	case MatchEndsWith:
		if fold(p, text, strings.HasSuffix) {
			return true, []string{p.Value}, nil
		}
	}
	return false, nil, nil
}

func fold(p *Pattern, text string, test func(text, value string) bool) bool {
	if p.CaseSensitive {
		return test(text, p.Value)
	}
	return test(strings.ToLower(text), strings.ToLower(p.Value))
}

// compiled returns the cached regex for a pattern, compiling on first use or
// after the value changed. Returns nil when the pattern does not compile.
func (m *Matcher) compiled(p *Pattern) *regexp.Regexp {
	source := regexSource(p)

	m.mu.RLock()
	entry, ok := m.cache[p.ID]
	m.mu.RUnlock()
	if ok && entry.source == source {
		return entry.re // nil when entry.bad
	}

	re, err := regexp.Compile(source)
	entry = &cachedRegex{source: source, re: re}
	if err != nil {
		// Validation should have caught this at save time; a corrupted
		// stored rule still must not take down the match path.
		entry.re = nil
		entry.bad = true
		matchLog.Warn("invalid_regex_skipped",
			slog.String("pattern_id", p.ID),
			slog.String("value", p.Value),
			slog.String("error", err.Error()))
	}

	m.mu.Lock()
	m.cache[p.ID] = entry
	m.mu.Unlock()
	return entry.re
}

// Invalidate drops the cached regex for a pattern ID. Called when a rule is
// deleted or its patterns rewritten.
func (m *Matcher) Invalidate(patternID string) {
	m.mu.Lock()
	delete(m.cache, patternID)
	m.mu.Unlock()
}
