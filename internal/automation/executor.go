package automation

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jathq/jat-sentinel/internal/logging"
)

var execLog = logging.ForComponent(logging.CompExec)

// SessionActions is the narrow interface the executor needs from the
// terminal multiplexer. Implementations address panes by session name.
type SessionActions interface {
	// SendText delivers literal text to the session followed by Enter.
	SendText(session, text string) error
	// SendKeys delivers raw key names (e.g. "C-c", "Escape") without an
	// automatic submission.
	SendKeys(session, keys string) error
	// RunCommand runs an arbitrary multiplexer command.
	RunCommand(session, command string) error
}

// SignalEmitter hands structured state signals to the external signal
// subsystem. The executor only constructs the payload string.
type SignalEmitter interface {
	Emit(session, signalType, payload string) error
}

// Executor dispatches interpolated actions by type. One Execute call handles
// one action; the engine drives a rule's actions strictly in declared order
// inside a single firing goroutine, so per-action delays add up within the
// firing without stalling other sessions.
type Executor struct {
	sessions SessionActions
	signals  SignalEmitter

	// sleep is swappable for tests.
	sleep func(time.Duration)
}

// NewExecutor creates an executor bound to its collaborators.
func NewExecutor(sessions SessionActions, signals SignalEmitter) *Executor {
	return &Executor{
		sessions: sessions,
		signals:  signals,
		sleep:    time.Sleep,
	}
}

// Execute performs one action. value is the already-interpolated action
// value. A failure (session gone, command error) is reported in the Outcome
// and never propagates: sibling actions and other rules proceed unaffected.
func (e *Executor) Execute(action Action, value, session string) Outcome {
	if action.DelayMs > 0 {
		e.sleep(time.Duration(action.DelayMs) * time.Millisecond)
	}

	out := Outcome{ActionID: action.ID, Type: action.Type, Success: true}
	var err error

	switch action.Type {
	case ActionSendText:
		err = e.sessions.SendText(session, value)
	case ActionSendKeys:
		err = e.sessions.SendKeys(session, value)
	case ActionTmuxCommand:
		err = e.sessions.RunCommand(session, value)
	case ActionSignal:
		signalType, payload := splitSignal(value)
		if signalType == "" {
			err = fmt.Errorf("signal action has empty type")
		} else {
			err = e.signals.Emit(session, signalType, payload)
		}
	case ActionNotifyOnly:
		// No external effect; the firing is recorded in the activity log.
	default:
		err = fmt.Errorf("unknown action type %q", action.Type)
	}

	if err != nil {
		out.Success = false
		out.Error = err.Error()
		execLog.Warn("action_failed",
			slog.String("session", session),
			slog.String("action_type", string(action.Type)),
			slog.String("error", err.Error()))
	}
	return out
}

// splitSignal splits a signal action value into its type and JSON payload:
// `working {"taskId":"jat-xyz"}` -> ("working", `{"taskId":"jat-xyz"}`).
// A value without a payload yields an empty payload.
func splitSignal(value string) (signalType, payload string) {
	value = strings.TrimSpace(value)
	if i := strings.IndexAny(value, " \t"); i >= 0 {
		return value[:i], strings.TrimSpace(value[i+1:])
	}
	return value, ""
}
