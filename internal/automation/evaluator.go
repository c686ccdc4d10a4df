package automation

import (
	"sort"
	"time"
)

// Match pairs a rule that fully matched with the template context derived
// from its patterns.
type Match struct {
	Rule    *Rule
	Context TemplateContext
}

// Evaluator produces the ordered list of rules to fire for one
// (session, output, state) observation. Evaluation is side-effect-free: it
// never mutates limiter state, which makes it reusable for dry-run testing
// and the pattern-tester tool, and keeps concurrent session ticks from
// racing over shared throttle slots (the slot is spent only when the engine
// commits to firing).
type Evaluator struct {
	matcher *Matcher
	limiter *Limiter
}

// NewEvaluator creates an evaluator sharing the engine's matcher cache and
// limiter.
func NewEvaluator(matcher *Matcher, limiter *Limiter) *Evaluator {
	return &Evaluator{matcher: matcher, limiter: limiter}
}

// Evaluate returns the rules that should fire for the given observation, in
// firing order. Steps: master switch, enabled filter, session-state scope,
// AND pattern match with short-circuit, rate-limit gate (denied rules are
// silently dropped; denial is expected behavior, not an error), then a
// stable sort by ascending priority so ties keep declaration order.
func (e *Evaluator) Evaluate(rules []*Rule, cfg GlobalConfig, session, output string, state SessionState, now time.Time) []Match {
	if !cfg.Enabled {
		return nil
	}

	var matches []Match
	for _, rule := range rules {
		if !rule.Enabled || !rule.AppliesTo(state) {
			continue
		}
		ctx, ok := e.matchRule(rule, output)
		if !ok {
			continue
		}
		if e.limiter != nil &&
			!e.limiter.MayFire(rule.ID, time.Duration(rule.CooldownSeconds)*time.Second, rule.MaxTriggersPerHour, now) {
			continue
		}
		ctx.SessionName = session
		ctx.AgentName = DeriveAgentName(session)
		ctx.Timestamp = now
		matches = append(matches, Match{Rule: rule, Context: ctx})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Rule.Priority < matches[j].Rule.Priority
	})
	return matches
}

// matchRule tests all patterns in declared order with AND semantics,
// short-circuiting on the first non-match. A pattern whose stored regex no
// longer compiles disqualifies the whole rule, so a corrupted rule is
// skipped rather than half-evaluated. Capture groups from regex patterns
// are numbered sequentially in pattern-declaration order; the matched text
// is the full match of the first regex pattern (falling back to the first
// literal pattern's value).
func (e *Evaluator) matchRule(rule *Rule, output string) (TemplateContext, bool) {
	var ctx TemplateContext
	var literalText string
	for i := range rule.Patterns {
		p := &rule.Patterns[i]
		matched, caps, err := e.matcher.Captures(p, output)
		if err != nil || !matched {
			return TemplateContext{}, false
		}
		if len(caps) == 0 {
			continue
		}
		if p.Mode == MatchRegex {
			if ctx.MatchedText == "" {
				ctx.MatchedText = caps[0]
			}
			ctx.Captures = append(ctx.Captures, caps[1:]...)
		} else if literalText == "" {
			literalText = caps[0]
		}
	}
	if ctx.MatchedText == "" {
		ctx.MatchedText = literalText
	}
	return ctx, true
}
