package poller

import (
	"regexp"
	"strings"

	"github.com/jathq/jat-sentinel/internal/automation"
)

// Lightweight session-state classification from pane content. The engine
// only needs a coarse lifecycle phase to scope rules; the dashboard's richer
// per-tool status detection stays out of the matching path.

// busyIndicators mark an agent actively producing output.
var busyIndicators = []string{
	"esc to interrupt",
	"ctrl+c to interrupt",
	"esc to cancel",
	"thinking...",
	"generating...",
}

// waitingIndicators mark an agent blocked on a user decision.
var waitingIndicators = []string{
	"do you want",
	"y/n",
	"yes/no",
	"press enter to",
	"waiting for input",
}

// errorIndicators mark a crashed or failing session.
var errorIndicators = []string{
	"panic:",
	"traceback (most recent call last)",
	"command not found",
	"fatal:",
}

// spinnerBusy matches a spinner glyph leading a line with a trailing
// ellipsis, the activity marker agent TUIs render while working.
var spinnerBusy = regexp.MustCompile(`(?m)^[✳✽✶✻✢·⠋⠙⠹⠸⠼⠴⠦⠧⠇⠏]\s*.+…`)

// Classify derives a coarse session state from trailing pane content.
// Precedence: waiting beats working (a prompt means output stopped), working
// beats error (error strings scroll past while the agent keeps going), and
// anything else is idle.
func Classify(content string) automation.SessionState {
	lower := strings.ToLower(content)

	for _, ind := range waitingIndicators {
		if strings.Contains(lower, ind) {
			return automation.StateWaiting
		}
	}
	for _, ind := range busyIndicators {
		if strings.Contains(lower, ind) {
			return automation.StateWorking
		}
	}
	if spinnerBusy.MatchString(content) {
		return automation.StateWorking
	}
	for _, ind := range errorIndicators {
		if strings.Contains(lower, ind) {
			return automation.StateError
		}
	}
	return automation.StateIdle
}
