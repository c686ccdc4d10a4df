package signal

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readSignals(t *testing.T, dir string) []Event {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var events []Event
	for _, entry := range entries {
		if filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		require.NoError(t, err)
		var ev Event
		require.NoError(t, json.Unmarshal(data, &ev))
		events = append(events, ev)
	}
	return events
}

func TestEmitWritesDocument(t *testing.T) {
	dir := t.TempDir()
	e := NewFileEmitter(dir)

	require.NoError(t, e.Emit("jat_nova", "working", `{"taskId":"jat-42ab"}`))

	events := readSignals(t, dir)
	require.Len(t, events, 1)
	ev := events[0]
	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, "working", ev.Type)
	assert.Equal(t, "jat_nova", ev.Session)
	assert.JSONEq(t, `{"taskId":"jat-42ab"}`, string(ev.Payload))
	assert.False(t, ev.CreatedAt.IsZero())

	// The file is named after the event ID and no tmp files remain.
	_, err := os.Stat(filepath.Join(dir, ev.ID+".json"))
	assert.NoError(t, err)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, entry := range entries {
		assert.False(t, strings.HasSuffix(entry.Name(), ".tmp"), "leftover tmp file %s", entry.Name())
	}
}

func TestEmitCreatesDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "signals")
	e := NewFileEmitter(dir)
	require.NoError(t, e.Emit("jat_a", "stalled", ""))
	assert.Len(t, readSignals(t, dir), 1)
}

func TestNormalizePayload(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    string
	}{
		{"empty omitted", "", ""},
		{"object verbatim", `{"a":1}`, `{"a":1}`},
		{"array verbatim", `[1,2]`, `[1,2]`},
		{"bare string quoted", "not json at all", `"not json at all"`},
		{"broken json quoted", `{"a":`, `"{\"a\":"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := normalizePayload(tt.payload)
			if tt.want == "" {
				assert.Nil(t, got)
			} else {
				assert.Equal(t, tt.want, string(got))
			}
		})
	}
}

func TestCleanStale(t *testing.T) {
	dir := t.TempDir()
	e := NewFileEmitter(dir)

	require.NoError(t, e.Emit("jat_a", "fresh", ""))

	stale := filepath.Join(dir, "stale.json")
	require.NoError(t, os.WriteFile(stale, []byte("{}"), 0o644))
	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(stale, old, old))

	// Non-signal files are never touched.
	other := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(other, []byte("keep"), 0o644))
	require.NoError(t, os.Chtimes(other, old, old))

	e.CleanStale(24 * time.Hour)

	_, err := os.Stat(stale)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(other)
	assert.NoError(t, err)
	assert.Len(t, readSignals(t, dir), 1)
}
