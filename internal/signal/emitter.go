// Package signal hands structured state signals from the rules engine to the
// jat dashboard. Each signal is written atomically (tmp file + rename) as a
// JSON document in the signals directory, where the dashboard's watcher
// consumes and deletes it.
package signal

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/jathq/jat-sentinel/internal/logging"
)

var sigLog = logging.ForComponent(logging.CompSignal)

// Event is the on-disk signal document.
type Event struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Session   string          `json:"session"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// FileEmitter implements automation.SignalEmitter by writing one JSON file
// per signal.
type FileEmitter struct {
	dir string
}

// NewFileEmitter creates an emitter writing into dir.
func NewFileEmitter(dir string) *FileEmitter {
	return &FileEmitter{dir: dir}
}

// DefaultDir returns the signals directory under the sentinel home.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".jat-sentinel", "signals")
	}
	return filepath.Join(home, ".jat-sentinel", "signals")
}

// Emit writes a signal document atomically. The payload string comes from
// the rules engine already interpolated; it is carried verbatim when it is
// valid JSON, or wrapped as a JSON string otherwise, so a malformed rule
// template still produces a readable document rather than an error.
func (e *FileEmitter) Emit(session, signalType, payload string) error {
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return fmt.Errorf("create signals dir: %w", err)
	}

	ev := Event{
		ID:        uuid.NewString(),
		Type:      signalType,
		Session:   session,
		Payload:   normalizePayload(payload),
		CreatedAt: time.Now().UTC(),
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal signal: %w", err)
	}

	finalPath := filepath.Join(e.dir, ev.ID+".json")
	tmpPath := finalPath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write signal: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return fmt.Errorf("publish signal: %w", err)
	}

	sigLog.Debug("signal_emitted",
		slog.String("type", signalType),
		slog.String("session", session))
	return nil
}

// normalizePayload returns the payload as raw JSON, quoting it when it is
// not already valid JSON. Empty payloads are omitted.
func normalizePayload(payload string) json.RawMessage {
	if payload == "" {
		return nil
	}
	if json.Valid([]byte(payload)) {
		return json.RawMessage(payload)
	}
	quoted, _ := json.Marshal(payload)
	return quoted
}

// CleanStale removes signal files older than maxAge that the dashboard never
// consumed.
func (e *FileEmitter) CleanStale(maxAge time.Duration) {
	entries, err := os.ReadDir(e.dir)
	if err != nil {
		return
	}
	cutoff := time.Now().Add(-maxAge)
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			_ = os.Remove(filepath.Join(e.dir, entry.Name()))
		}
	}
}
