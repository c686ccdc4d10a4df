// Package automation implements the session automation rules engine: it
// watches text captured from monitored agent sessions, matches it against
// user-defined rules, and executes automated responses (input injection,
// multiplexer commands, signal emission, or log-only notifications).
package automation

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
)

// SessionState is the lifecycle phase of a monitored session, used to scope
// rule applicability.
type SessionState string

const (
	StateWorking SessionState = "working"
	StateIdle    SessionState = "idle"
	StateWaiting SessionState = "waiting"
	StateError   SessionState = "error"
)

// RuleCategory groups rules for presentation and preset installation.
type RuleCategory string

const (
	CategoryRecovery     RuleCategory = "recovery"
	CategoryPrompt       RuleCategory = "prompt"
	CategoryStall        RuleCategory = "stall"
	CategoryNotification RuleCategory = "notification"
	CategoryCustom       RuleCategory = "custom"
)

// PatternMode selects how a pattern's value is tested against captured output.
type PatternMode string

const (
	MatchRegex      PatternMode = "regex"
	MatchContains   PatternMode = "contains"
	MatchExact      PatternMode = "exact"
	MatchStartsWith PatternMode = "starts_with"
	MatchEndsWith   PatternMode = "ends_with"
)

// ActionType selects the side effect an action performs.
type ActionType string

const (
	ActionSendText    ActionType = "send_text"
	ActionSendKeys    ActionType = "send_keys"
	ActionTmuxCommand ActionType = "tmux_command"
	ActionSignal      ActionType = "signal"
	ActionNotifyOnly  ActionType = "notify_only"
)

// Pattern is one text-matching condition. All of a rule's patterns must match
// (AND semantics) for the rule to fire.
type Pattern struct {
	ID            string      `json:"id"`
	Mode          PatternMode `json:"mode"`
	Value         string      `json:"value"`
	CaseSensitive bool        `json:"case_sensitive"`
	Negate        bool        `json:"negate"`
}

// Action is one automated response. Value is a template string; see
// Interpolate for the supported tokens.
type Action struct {
	ID      string     `json:"id"`
	Type    ActionType `json:"type"`
	Value   string     `json:"value"`
	DelayMs int        `json:"delay_ms,omitempty"`
}

// Rule maps AND-combined patterns (optionally scoped to session states) to an
// ordered action list.
type Rule struct {
	ID                 string         `json:"id"`
	Name               string         `json:"name"`
	Description        string         `json:"description,omitempty"`
	Enabled            bool           `json:"enabled"`
	Category           RuleCategory   `json:"category"`
	Patterns           []Pattern      `json:"patterns"`
	Actions            []Action       `json:"actions"`
	CooldownSeconds    int            `json:"cooldown_seconds"`
	MaxTriggersPerHour int            `json:"max_triggers_per_hour,omitempty"` // 0 = unlimited
	SessionStates      []SessionState `json:"session_states,omitempty"`        // empty = all states
	Priority           int            `json:"priority"` // lower fires first
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

// GlobalConfig is the process-wide engine configuration.
type GlobalConfig struct {
	Enabled               bool `json:"enabled"`
	GlobalCooldownSeconds int  `json:"global_cooldown_seconds"`
	MaxActionsPerMinute   int  `json:"max_actions_per_minute"`
}

// DefaultGlobalConfig returns the configuration applied on first run.
func DefaultGlobalConfig() GlobalConfig {
	return GlobalConfig{
		Enabled:               true,
		GlobalCooldownSeconds: 2,
		MaxActionsPerMinute:   10,
	}
}

// Outcome records the result of one executed action.
type Outcome struct {
	ActionID string     `json:"action_id"`
	Type     ActionType `json:"type"`
	Success  bool       `json:"success"`
	Error    string     `json:"error,omitempty"`
}

// ActivityEvent is one audit-trail entry for a rule firing.
type ActivityEvent struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	RuleID    string    `json:"rule_id"`
	RuleName  string    `json:"rule_name"`
	Session   string    `json:"session"`
	Excerpt   string    `json:"excerpt"`
	Outcomes  []Outcome `json:"outcomes"`
}

// Validation errors returned by Rule.Validate. Rules failing validation are
// rejected at save time and never persisted.
var (
	ErrNoPatterns    = errors.New("rule must have at least one pattern")
	ErrNoActions     = errors.New("rule must have at least one action")
	ErrEmptyName     = errors.New("rule must have a name")
	ErrInvalidMode   = errors.New("invalid pattern mode")
	ErrInvalidAction = errors.New("invalid action type")
	ErrNotFound      = errors.New("rule not found")
)

// NewRule creates an enabled rule with a fresh ID and timestamps. Pattern and
// action IDs are filled in if absent.
func NewRule(name string, category RuleCategory) *Rule {
	now := time.Now().UTC()
	return &Rule{
		ID:              uuid.NewString(),
		Name:            name,
		Enabled:         true,
		Category:        category,
		CooldownSeconds: 30,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// Validate checks the rule's structural invariants: at least one pattern, at
// least one action, known modes/types, and compilable regex values. Regex
// validation happens here, at save time, never on the match path.
func (r *Rule) Validate() error {
	if r.Name == "" {
		return ErrEmptyName
	}
	if len(r.Patterns) == 0 {
		return ErrNoPatterns
	}
	if len(r.Actions) == 0 {
		return ErrNoActions
	}
	switch r.Category {
	case CategoryRecovery, CategoryPrompt, CategoryStall, CategoryNotification, CategoryCustom:
	case "":
		r.Category = CategoryCustom
	default:
		return fmt.Errorf("invalid category %q", r.Category)
	}
	for i := range r.Patterns {
		if err := validatePattern(&r.Patterns[i]); err != nil {
			return fmt.Errorf("pattern %d: %w", i+1, err)
		}
	}
	for i := range r.Actions {
		if err := validateAction(&r.Actions[i]); err != nil {
			return fmt.Errorf("action %d: %w", i+1, err)
		}
	}
	return nil
}

func validatePattern(p *Pattern) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	switch p.Mode {
	case MatchRegex:
		if _, err := regexp.Compile(regexSource(p)); err != nil {
			return fmt.Errorf("invalid regex %q: %w", p.Value, err)
		}
	case MatchContains, MatchExact, MatchStartsWith, MatchEndsWith:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidMode, p.Mode)
	}
	if p.Value == "" {
		return errors.New("pattern value must not be empty")
	}
	return nil
}

func validateAction(a *Action) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	switch a.Type {
	case ActionSendText, ActionSendKeys, ActionTmuxCommand, ActionSignal, ActionNotifyOnly:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidAction, a.Type)
	}
	if a.DelayMs < 0 {
		a.DelayMs = 0
	}
	return nil
}

// Clone returns a deep copy of the rule with a fresh ID and timestamps.
// Used for preset installation.
func (r *Rule) Clone() *Rule {
	now := time.Now().UTC()
	c := *r
	c.ID = uuid.NewString()
	c.CreatedAt = now
	c.UpdatedAt = now
	c.Patterns = make([]Pattern, len(r.Patterns))
	for i, p := range r.Patterns {
		p.ID = uuid.NewString()
		c.Patterns[i] = p
	}
	c.Actions = make([]Action, len(r.Actions))
	for i, a := range r.Actions {
		a.ID = uuid.NewString()
		c.Actions[i] = a
	}
	c.SessionStates = append([]SessionState(nil), r.SessionStates...)
	return &c
}

// AppliesTo reports whether the rule is scoped to the given session state.
// An empty allow-list means the rule applies in every state.
func (r *Rule) AppliesTo(state SessionState) bool {
	if len(r.SessionStates) == 0 {
		return true
	}
	for _, s := range r.SessionStates {
		if s == state {
			return true
		}
	}
	return false
}
