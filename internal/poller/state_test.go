package poller

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jathq/jat-sentinel/internal/automation"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    automation.SessionState
	}{
		{
			name:    "empty pane is idle",
			content: "",
			want:    automation.StateIdle,
		},
		{
			name:    "plain prompt is idle",
			content: "$ ls\nfile.txt\n❯ ",
			want:    automation.StateIdle,
		},
		{
			name:    "interrupt hint means working",
			content: "Writing tests... (esc to interrupt)",
			want:    automation.StateWorking,
		},
		{
			name:    "spinner line means working",
			content: "✳ Compiling the project…",
			want:    automation.StateWorking,
		},
		{
			name:    "braille spinner means working",
			content: "⠙ Fetching dependencies…",
			want:    automation.StateWorking,
		},
		{
			name:    "confirmation prompt means waiting",
			content: "Do you want to proceed? (y/n)",
			want:    automation.StateWaiting,
		},
		{
			name:    "press enter means waiting",
			content: "Press Enter to continue",
			want:    automation.StateWaiting,
		},
		{
			name:    "panic means error",
			content: "panic: runtime error: index out of range",
			want:    automation.StateError,
		},
		{
			name:    "python traceback means error",
			content: "Traceback (most recent call last):\n  File ...",
			want:    automation.StateError,
		},
		{
			name:    "waiting beats working",
			content: "thinking...\nDo you want to apply this change?",
			want:    automation.StateWaiting,
		},
		{
			name:    "working beats error",
			content: "fatal: not a git repository\nRetrying... esc to interrupt",
			want:    automation.StateWorking,
		},
		{
			name:    "case insensitive indicators",
			content: "ESC TO INTERRUPT",
			want:    automation.StateWorking,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.content))
		})
	}
}
