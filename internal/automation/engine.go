package automation

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jathq/jat-sentinel/internal/logging"
)

var engineLog = logging.ForComponent(logging.CompEngine)

// excerptLimit caps the matched-text excerpt stored per activity event.
const excerptLimit = 200

// Engine wires the evaluator, interpolator, executor, activity log, and rate
// limiter together. An external poller calls Tick once per monitored session
// per polling cycle; ticks for different sessions may run concurrently.
//
// Rules and config are cached in memory and refreshed when the store's
// change marker moves, so edits made by the CLI or web API while the daemon
// runs are picked up without a restart.
type Engine struct {
	store     Store
	matcher   *Matcher
	limiter   *Limiter
	evaluator *Evaluator
	executor  *Executor
	activity  *ActivityLog

	mu      sync.RWMutex
	rules   []*Rule
	cfg     GlobalConfig
	lastMod int64

	firings sync.WaitGroup
}

// NewEngine creates an engine and loads rules and config from the store.
func NewEngine(store Store, sessions SessionActions, signals SignalEmitter, activityCapacity int) (*Engine, error) {
	cfg, err := store.Config()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	matcher := NewMatcher()
	limiter := NewLimiter(time.Duration(cfg.GlobalCooldownSeconds)*time.Second, cfg.MaxActionsPerMinute)

	e := &Engine{
		store:     store,
		matcher:   matcher,
		limiter:   limiter,
		evaluator: NewEvaluator(matcher, limiter),
		executor:  NewExecutor(sessions, signals),
		activity:  NewActivityLog(activityCapacity),
		cfg:       cfg,
	}
	if err := e.ReloadRules(); err != nil {
		return nil, err
	}

	// Hydrate the in-memory audit trail from persisted history.
	if history, err := store.RecentActivity(activityCapacity); err == nil {
		for i := len(history) - 1; i >= 0; i-- {
			e.activity.Append(history[i])
		}
	}
	return e, nil
}

// Tick evaluates one (session, output, state) observation and fires the
// surviving rules. Each firing runs as its own goroutine so a long action
// delay never stalls other sessions' evaluation.
func (e *Engine) Tick(session, output string, state SessionState) {
	e.mu.RLock()
	rules := e.rules
	cfg := e.cfg
	e.mu.RUnlock()

	now := time.Now()
	matches := e.evaluator.Evaluate(rules, cfg, session, output, state, now)
	if len(matches) == 0 {
		return
	}

	for _, m := range matches {
		rule := m.Rule
		// Re-check and spend the rate-limit slot atomically: another
		// session's tick may have consumed global capacity between
		// evaluation and now.
		if !e.limiter.TryAcquire(rule.ID, time.Duration(rule.CooldownSeconds)*time.Second, rule.MaxTriggersPerHour, now) {
			continue
		}
		match := m
		e.firings.Add(1)
		go func() {
			defer e.firings.Done()
			e.fire(match, output)
		}()
	}
}

// fire executes one rule's actions strictly in declared order and records
// the outcome. A failing action is recorded independently and does not stop
// its siblings.
func (e *Engine) fire(m Match, output string) {
	rule := m.Rule
	outcomes := make([]Outcome, 0, len(rule.Actions))
	for _, action := range rule.Actions {
		value := Interpolate(action.Value, m.Context)
		outcomes = append(outcomes, e.executor.Execute(action, value, m.Context.SessionName))
	}

	ev := ActivityEvent{
		ID:        uuid.NewString(),
		Timestamp: m.Context.Timestamp,
		RuleID:    rule.ID,
		RuleName:  rule.Name,
		Session:   m.Context.SessionName,
		Excerpt:   makeExcerpt(m.Context.MatchedText, output),
		Outcomes:  outcomes,
	}
	e.activity.Append(ev)
	if err := e.store.AppendActivity(ev); err != nil {
		engineLog.Warn("activity_persist_failed", slog.String("error", err.Error()))
	}

	engineLog.Info("rule_fired",
		slog.String("rule", rule.Name),
		slog.String("session", m.Context.SessionName),
		slog.Int("actions", len(outcomes)))
}

// TestEvaluate runs a side-effect-free evaluation for the pattern tester and
// the web API's dry-run endpoint. No rate-limit slot is spent and nothing is
// executed or logged.
func (e *Engine) TestEvaluate(session, output string, state SessionState) []Match {
	e.mu.RLock()
	rules := e.rules
	cfg := e.cfg
	e.mu.RUnlock()
	return e.evaluator.Evaluate(rules, cfg, session, output, state, time.Now())
}

// ReloadRules replaces the cached rule set from the store. Corrupted rows
// are skipped by the store layer; an error here means the store itself is
// unavailable.
func (e *Engine) ReloadRules() error {
	rules, err := e.store.ListRules()
	if err != nil {
		return fmt.Errorf("load rules: %w", err)
	}
	mod, _ := e.store.LastModified()

	e.mu.Lock()
	e.rules = rules
	e.lastMod = mod
	e.mu.Unlock()
	return nil
}

// CheckReload reloads rules and config if the store's change marker moved
// since the last load. Called once per polling cycle.
func (e *Engine) CheckReload() {
	mod, err := e.store.LastModified()
	if err != nil {
		return
	}
	e.mu.RLock()
	unchanged := mod == e.lastMod
	e.mu.RUnlock()
	if unchanged {
		return
	}

	if cfg, err := e.store.Config(); err == nil {
		e.mu.Lock()
		e.cfg = cfg
		e.mu.Unlock()
		e.limiter.SetGlobalLimits(time.Duration(cfg.GlobalCooldownSeconds)*time.Second, cfg.MaxActionsPerMinute)
	}
	if err := e.ReloadRules(); err != nil {
		engineLog.Warn("rule_reload_failed", slog.String("error", err.Error()))
		return
	}
	engineLog.Info("rules_reloaded", slog.Int64("marker", mod))
}

// Rules returns the cached rule set.
func (e *Engine) Rules() []*Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]*Rule(nil), e.rules...)
}

// Config returns the cached global config.
func (e *Engine) Config() GlobalConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg
}

// SaveConfig persists new global config and applies it immediately.
func (e *Engine) SaveConfig(cfg GlobalConfig) error {
	if err := e.store.SaveConfig(cfg); err != nil {
		return err
	}
	e.mu.Lock()
	e.cfg = cfg
	e.mu.Unlock()
	e.limiter.SetGlobalLimits(time.Duration(cfg.GlobalCooldownSeconds)*time.Second, cfg.MaxActionsPerMinute)
	return nil
}

// SaveRule validates and persists a rule, then refreshes the cache. Compiled
// regex entries for both the previous revision's patterns and the new ones
// are invalidated: updates usually replace patterns under fresh IDs, and the
// old IDs would otherwise pin dead entries in the matcher cache.
func (e *Engine) SaveRule(r *Rule) error {
	if err := r.Validate(); err != nil {
		return err
	}
	prev, err := e.store.GetRule(r.ID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	r.UpdatedAt = time.Now().UTC()
	if err := e.store.SaveRule(r); err != nil {
		return err
	}
	if prev != nil {
		for _, p := range prev.Patterns {
			e.matcher.Invalidate(p.ID)
		}
	}
	for _, p := range r.Patterns {
		e.matcher.Invalidate(p.ID)
	}
	return e.ReloadRules()
}

// DeleteRule removes a rule and its runtime trigger state.
func (e *Engine) DeleteRule(id string) error {
	rule, err := e.store.GetRule(id)
	if err != nil {
		return err
	}
	if err := e.store.DeleteRule(id); err != nil {
		return err
	}
	e.limiter.Forget(id)
	for _, p := range rule.Patterns {
		e.matcher.Invalidate(p.ID)
	}
	return e.ReloadRules()
}

// Activity returns the in-memory audit trail.
func (e *Engine) Activity() *ActivityLog {
	return e.activity
}

// Store returns the underlying persistence collaborator.
func (e *Engine) Store() Store {
	return e.store
}

// Wait blocks until all in-flight firings complete. Used on shutdown and in
// tests.
func (e *Engine) Wait() {
	e.firings.Wait()
}

// makeExcerpt returns the matched text truncated to excerptLimit, falling
// back to the last non-empty output line when no pattern produced text
// (e.g. a purely negated rule).
func makeExcerpt(matched, output string) string {
	s := matched
	if s == "" {
		lines := strings.Split(strings.TrimRight(output, "\n"), "\n")
		for i := len(lines) - 1; i >= 0; i-- {
			if t := strings.TrimSpace(lines[i]); t != "" {
				s = t
				break
			}
		}
	}
	if len(s) > excerptLimit {
		s = s[:excerptLimit]
	}
	return s
}
