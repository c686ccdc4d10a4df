// Package tmux is the narrow terminal-multiplexer adapter the engine depends
// on: capture a pane's trailing output, send text or key sequences to a
// session, and run multiplexer commands, all addressed by session name.
package tmux

import (
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/jathq/jat-sentinel/internal/logging"
)

var tmuxLog = logging.ForComponent(logging.CompTmux)

// SessionPrefix marks tmux sessions managed by the jat dashboard.
const SessionPrefix = "jat_"

// DefaultCaptureLines caps how much trailing output is scanned per tick so
// regex cost stays bounded against size-unbounded, untrusted pane content.
const DefaultCaptureLines = 200

// ErrNoSession is returned when the target session does not exist.
var ErrNoSession = errors.New("tmux session not found")

// Session cache: one `tmux list-sessions` per tick instead of a has-session
// subprocess per monitored session. RefreshSessions is called once per poll
// cycle; Exists reads from the cache.
var (
	cacheMu    sync.RWMutex
	cacheNames map[string]struct{}
	cacheTime  time.Time
	refreshSF  singleflight.Group
)

// Client runs tmux subprocesses. It implements automation.SessionActions.
type Client struct {
	// CaptureLines bounds CapturePane output (0 = DefaultCaptureLines).
	CaptureLines int
}

// NewClient returns a client with default limits.
func NewClient() *Client {
	return &Client{CaptureLines: DefaultCaptureLines}
}

// IsAvailable checks that the tmux binary is present.
func IsAvailable() error {
	if _, err := exec.LookPath("tmux"); err != nil {
		return fmt.Errorf("tmux not found in PATH: %w", err)
	}
	return nil
}

// RefreshSessions updates the cache of existing tmux sessions. Concurrent
// callers share one subprocess via singleflight.
func RefreshSessions() {
	_, _, _ = refreshSF.Do("refresh", func() (any, error) {
		out, err := exec.Command("tmux", "list-sessions", "-F", "#{session_name}").Output()
		names := make(map[string]struct{})
		if err == nil {
			for _, name := range strings.Split(strings.TrimSpace(string(out)), "\n") {
				if name != "" {
					names[name] = struct{}{}
				}
			}
		}
		// "no server running" is a normal state: cache goes empty.
		cacheMu.Lock()
		cacheNames = names
		cacheTime = time.Now()
		cacheMu.Unlock()
		return nil, nil
	})
}

// Exists reports whether the session is in the cache, falling back to a
// direct has-session check when the cache has never been filled.
func Exists(session string) bool {
	cacheMu.RLock()
	names := cacheNames
	cacheMu.RUnlock()
	if names == nil {
		return exec.Command("tmux", "has-session", "-t", session).Run() == nil
	}
	_, ok := names[session]
	return ok
}

// ListManagedSessions returns the cached session names carrying the managed
// prefix, sorted by tmux's own ordering.
func ListManagedSessions() []string {
	cacheMu.RLock()
	defer cacheMu.RUnlock()
	var out []string
	for name := range cacheNames {
		if strings.HasPrefix(name, SessionPrefix) {
			out = append(out, name)
		}
	}
	return out
}

// CapturePane returns the trailing visible output of the session's active
// pane, capped at the configured line count.
func (c *Client) CapturePane(session string) (string, error) {
	if !Exists(session) {
		return "", fmt.Errorf("%w: %s", ErrNoSession, session)
	}
	lines := c.CaptureLines
	if lines <= 0 {
		lines = DefaultCaptureLines
	}
	out, err := exec.Command("tmux", "capture-pane", "-p", "-t", session,
		"-S", "-"+strconv.Itoa(lines)).Output()
	if err != nil {
		return "", fmt.Errorf("capture-pane %s: %w", session, err)
	}
	return string(out), nil
}

// SendText delivers literal text to the session followed by Enter, for
// answering prompts. Large text is chunked to stay under tmux buffer limits,
// and the Enter is sent separately after a short delay: tmux 3.2+ wraps
// literal sends in bracketed paste sequences, and an Enter arriving in the
// same PTY buffer as the paste-end marker gets swallowed by async TUI
// frameworks.
func (c *Client) SendText(session, text string) error {
	if !Exists(session) {
		return fmt.Errorf("%w: %s", ErrNoSession, session)
	}
	if err := sendLiteralChunked(session, text); err != nil {
		return err
	}
	time.Sleep(100 * time.Millisecond)
	if err := exec.Command("tmux", "send-keys", "-t", session, "Enter").Run(); err != nil {
		return fmt.Errorf("send enter to %s: %w", session, err)
	}
	return nil
}

// SendKeys delivers raw key names (e.g. "C-c", "Escape", "Up Up Enter")
// without automatic submission, for interrupts and navigation. The value is
// passed through to tmux's key-name parser unquoted.
func (c *Client) SendKeys(session, keys string) error {
	if !Exists(session) {
		return fmt.Errorf("%w: %s", ErrNoSession, session)
	}
	args := append([]string{"send-keys", "-t", session}, strings.Fields(keys)...)
	if err := exec.Command("tmux", args...).Run(); err != nil {
		return fmt.Errorf("send-keys to %s: %w", session, err)
	}
	return nil
}

// RunCommand runs an arbitrary tmux command string. The command is executed
// through the shell so rule authors can use quoting; this is the most
// powerful action type and is intended only for trusted rule authors.
func (c *Client) RunCommand(session, command string) error {
	if !Exists(session) {
		return fmt.Errorf("%w: %s", ErrNoSession, session)
	}
	cmd := NormalizeCommand(command)
	out, err := exec.Command("sh", "-c", cmd).CombinedOutput()
	if err != nil {
		return fmt.Errorf("tmux command %q: %w: %s", command, err, strings.TrimSpace(string(out)))
	}
	tmuxLog.Debug("command_ran",
		slog.String("session", session),
		slog.String("command", cmd))
	return nil
}

// NormalizeCommand ensures the command string invokes tmux: a value like
// "kill-session -t {session}" becomes "tmux kill-session -t ...", while a
// value already starting with "tmux " is left alone.
func NormalizeCommand(command string) string {
	trimmed := strings.TrimSpace(command)
	if trimmed == "tmux" || strings.HasPrefix(trimmed, "tmux ") {
		return trimmed
	}
	return "tmux " + trimmed
}

const (
	chunkSize  = 4096
	chunkDelay = 50 * time.Millisecond
)

// sendLiteralChunked sends text with the -l flag (literal, no key-name
// interpretation), splitting content over 4KB at newline boundaries.
func sendLiteralChunked(session, text string) error {
	chunks := SplitIntoChunks(text, chunkSize)
	for i, chunk := range chunks {
		if err := exec.Command("tmux", "send-keys", "-l", "-t", session, "--", chunk).Run(); err != nil {
			return fmt.Errorf("send chunk %d/%d to %s: %w", i+1, len(chunks), session, err)
		}
		if i < len(chunks)-1 {
			time.Sleep(chunkDelay)
		}
	}
	return nil
}

// SplitIntoChunks splits content into chunks of at most maxSize bytes,
// preferring newline boundaries. A single line longer than maxSize is split
// at the byte boundary as a fallback.
func SplitIntoChunks(content string, maxSize int) []string {
	if content == "" {
		return []string{""}
	}
	if len(content) <= maxSize {
		return []string{content}
	}

	var chunks []string
	remaining := content
	for len(remaining) > 0 {
		if len(remaining) <= maxSize {
			chunks = append(chunks, remaining)
			break
		}
		cut := strings.LastIndex(remaining[:maxSize], "\n")
		if cut > 0 {
			chunks = append(chunks, remaining[:cut+1])
			remaining = remaining[cut+1:]
		} else {
			chunks = append(chunks, remaining[:maxSize])
			remaining = remaining[maxSize:]
		}
	}
	return chunks
}
