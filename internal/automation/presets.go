package automation

import "fmt"

// Preset is a built-in rule template. Installing a preset clones its rule
// with fresh IDs, so installed copies can be edited or deleted independently.
type Preset struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Rule        *Rule  `json:"rule"`
}

// Presets returns the built-in rule templates, ordered for display.
func Presets() []Preset {
	return []Preset{
		{
			ID:          "api-overload-recovery",
			Name:        "API overload recovery",
			Description: "Retries when the agent reports the API is overloaded.",
			Rule: &Rule{
				Name:               "API overload recovery",
				Description:        "Sends a continue prompt after transient API overload errors.",
				Enabled:            true,
				Category:           CategoryRecovery,
				CooldownSeconds:    120,
				MaxTriggersPerHour: 5,
				SessionStates:      []SessionState{StateError, StateIdle},
				Priority:           10,
				Patterns: []Pattern{
					{Mode: MatchContains, Value: "API is overloaded"},
				},
				Actions: []Action{
					{Type: ActionSendText, Value: "continue", DelayMs: 5000},
				},
			},
		},
		{
			ID:          "rate-limit-wait",
			Name:        "Rate limit notification",
			Description: "Logs and signals when the agent hits a provider rate limit.",
			Rule: &Rule{
				Name:            "Rate limit notification",
				Enabled:         true,
				Category:        CategoryNotification,
				CooldownSeconds: 300,
				Priority:        20,
				Patterns: []Pattern{
					{Mode: MatchRegex, Value: `rate limit(ed)?`},
				},
				Actions: []Action{
					{Type: ActionSignal, Value: `rate_limited {"session":"{session}","at":"{timestamp}"}`},
					{Type: ActionNotifyOnly, Value: "rate limited"},
				},
			},
		},
		{
			ID:          "task-progress-signal",
			Name:        "Task progress signal",
			Description: "Signals the dashboard when an agent picks up a task.",
			Rule: &Rule{
				Name:            "Task progress signal",
				Enabled:         true,
				Category:        CategoryNotification,
				CooldownSeconds: 30,
				SessionStates:   []SessionState{StateWorking},
				Priority:        30,
				Patterns: []Pattern{
					{Mode: MatchRegex, Value: `Working on task (jat-[a-z0-9]+)`},
				},
				Actions: []Action{
					{Type: ActionSignal, Value: `working {"taskId":"{$1}"}`},
				},
			},
		},
		{
			ID:          "permission-prompt",
			Name:        "Trusted permission prompt",
			Description: "Answers the agent's confirmation prompt in trusted sessions.",
			Rule: &Rule{
				Name:            "Trusted permission prompt",
				Enabled:         false, // opt-in: auto-answering prompts is a deliberate choice
				Category:        CategoryPrompt,
				CooldownSeconds: 10,
				SessionStates:   []SessionState{StateWaiting},
				Priority:        5,
				Patterns: []Pattern{
					{Mode: MatchContains, Value: "Do you want to proceed"},
				},
				Actions: []Action{
					{Type: ActionSendText, Value: "1"},
				},
			},
		},
		{
			ID:          "stalled-session",
			Name:        "Stalled session nudge",
			Description: "Flags sessions that sit idle at the prompt with work remaining.",
			Rule: &Rule{
				Name:               "Stalled session nudge",
				Enabled:            true,
				Category:           CategoryStall,
				CooldownSeconds:    600,
				MaxTriggersPerHour: 3,
				SessionStates:      []SessionState{StateIdle},
				Priority:           50,
				Patterns: []Pattern{
					{Mode: MatchContains, Value: "esc to interrupt", Negate: true},
					{Mode: MatchRegex, Value: `(?m)^❯`},
				},
				Actions: []Action{
					{Type: ActionSignal, Value: `stalled {"session":"{session}","agent":"{agent}"}`},
					{Type: ActionNotifyOnly, Value: "session stalled at prompt"},
				},
			},
		},
	}
}

// FindPreset returns the preset with the given ID.
func FindPreset(id string) (Preset, error) {
	for _, p := range Presets() {
		if p.ID == id {
			return p, nil
		}
	}
	return Preset{}, fmt.Errorf("unknown preset %q", id)
}

// InstallPreset clones a preset's rule with fresh IDs and saves it.
func InstallPreset(store Store, presetID string) (*Rule, error) {
	preset, err := FindPreset(presetID)
	if err != nil {
		return nil, err
	}
	rule := preset.Rule.Clone()
	if err := rule.Validate(); err != nil {
		return nil, fmt.Errorf("preset %s: %w", presetID, err)
	}
	if err := store.SaveRule(rule); err != nil {
		return nil, fmt.Errorf("install preset %s: %w", presetID, err)
	}
	return rule, nil
}
