package automation

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSessions records executor calls and fails on demand.
type fakeSessions struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]error // keyed by method name
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{fail: make(map[string]error)}
}

func (f *fakeSessions) record(method, session, arg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fmt.Sprintf("%s(%s,%s)", method, session, arg))
	return f.fail[method]
}

func (f *fakeSessions) SendText(session, text string) error {
	return f.record("SendText", session, text)
}

func (f *fakeSessions) SendKeys(session, keys string) error {
	return f.record("SendKeys", session, keys)
}

func (f *fakeSessions) RunCommand(session, command string) error {
	return f.record("RunCommand", session, command)
}

func (f *fakeSessions) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type fakeSignals struct {
	mu      sync.Mutex
	emitted []string
	err     error
}

func (f *fakeSignals) Emit(session, signalType, payload string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emitted = append(f.emitted, fmt.Sprintf("%s:%s:%s", session, signalType, payload))
	return f.err
}

func (f *fakeSignals) Emitted() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.emitted...)
}

func newTestExecutor(sessions *fakeSessions, signals *fakeSignals) (*Executor, *[]time.Duration) {
	e := NewExecutor(sessions, signals)
	var slept []time.Duration
	e.sleep = func(d time.Duration) { slept = append(slept, d) }
	return e, &slept
}

func TestExecuteDispatch(t *testing.T) {
	sessions := newFakeSessions()
	signals := &fakeSignals{}
	exec, _ := newTestExecutor(sessions, signals)

	tests := []struct {
		name   string
		action Action
		value  string
		want   string
	}{
		{"send_text", Action{ID: "a1", Type: ActionSendText}, "continue", "SendText(jat_a,continue)"},
		{"send_keys", Action{ID: "a2", Type: ActionSendKeys}, "C-c", "SendKeys(jat_a,C-c)"},
		{"tmux_command", Action{ID: "a3", Type: ActionTmuxCommand}, "kill-session", "RunCommand(jat_a,kill-session)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := exec.Execute(tt.action, tt.value, "jat_a")
			assert.True(t, out.Success)
			assert.Contains(t, sessions.Calls(), tt.want)
		})
	}
}

func TestExecuteSignal(t *testing.T) {
	signals := &fakeSignals{}
	exec, _ := newTestExecutor(newFakeSessions(), signals)

	out := exec.Execute(Action{ID: "s1", Type: ActionSignal},
		`working {"taskId":"jat-42ab"}`, "jat_nova")
	require.True(t, out.Success)
	require.Len(t, signals.Emitted(), 1)
	assert.Equal(t, `jat_nova:working:{"taskId":"jat-42ab"}`, signals.Emitted()[0])

	// Bare type, no payload.
	out = exec.Execute(Action{ID: "s2", Type: ActionSignal}, "stalled", "jat_nova")
	require.True(t, out.Success)
	assert.Equal(t, "jat_nova:stalled:", signals.Emitted()[1])

	// Empty value is a recorded failure, not a panic.
	out = exec.Execute(Action{ID: "s3", Type: ActionSignal}, "", "jat_nova")
	assert.False(t, out.Success)
	assert.NotEmpty(t, out.Error)
}

func TestExecuteNotifyOnly(t *testing.T) {
	sessions := newFakeSessions()
	signals := &fakeSignals{}
	exec, _ := newTestExecutor(sessions, signals)

	out := exec.Execute(Action{ID: "n1", Type: ActionNotifyOnly}, "stalled at prompt", "jat_a")
	assert.True(t, out.Success)
	assert.Empty(t, sessions.Calls())
	assert.Empty(t, signals.Emitted())
}

func TestExecuteDelay(t *testing.T) {
	exec, slept := newTestExecutor(newFakeSessions(), &fakeSignals{})

	exec.Execute(Action{ID: "d1", Type: ActionNotifyOnly, DelayMs: 5000}, "", "jat_a")
	require.Len(t, *slept, 1)
	assert.Equal(t, 5*time.Second, (*slept)[0])

	exec.Execute(Action{ID: "d2", Type: ActionNotifyOnly}, "", "jat_a")
	assert.Len(t, *slept, 1)
}

func TestExecuteFailureIsolated(t *testing.T) {
	sessions := newFakeSessions()
	sessions.fail["SendText"] = errors.New("no session found")
	exec, _ := newTestExecutor(sessions, &fakeSignals{})

	out := exec.Execute(Action{ID: "f1", Type: ActionSendText}, "continue", "jat_gone")
	assert.False(t, out.Success)
	assert.Equal(t, "no session found", out.Error)
	assert.Equal(t, ActionSendText, out.Type)

	// A sibling action on a healthy path still succeeds.
	out = exec.Execute(Action{ID: "f2", Type: ActionSendKeys}, "Escape", "jat_gone")
	assert.True(t, out.Success)
}

func TestSplitSignal(t *testing.T) {
	tests := []struct {
		value       string
		wantType    string
		wantPayload string
	}{
		{`working {"taskId":"x"}`, "working", `{"taskId":"x"}`},
		{"stalled", "stalled", ""},
		{"  padded   payload here ", "padded", "payload here"},
		{"", "", ""},
	}
	for _, tt := range tests {
		typ, payload := splitSignal(tt.value)
		assert.Equal(t, tt.wantType, typ, "value %q", tt.value)
		assert.Equal(t, tt.wantPayload, payload, "value %q", tt.value)
	}
}
