package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// syncBuffer guards a bytes.Buffer against the flush goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := strings.TrimSpace(b.buf.String())
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

func TestAggregatorSummarizesCounts(t *testing.T) {
	var out syncBuffer
	logger := slog.New(slog.NewJSONHandler(&out, nil))

	agg := NewAggregator(logger, 60)
	agg.Start()

	for i := 0; i < 25; i++ {
		agg.Record("poll", "tick_working")
	}
	agg.Record("poll", "cycle", slog.Int("sessions", 4))
	agg.Stop()

	lines := out.Lines()
	require.Len(t, lines, 2)

	byEvent := make(map[string]map[string]any)
	for _, line := range lines {
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		assert.Equal(t, "event_summary", entry["msg"])
		byEvent[entry["event"].(string)] = entry
	}

	require.Contains(t, byEvent, "tick_working")
	assert.Equal(t, float64(25), byEvent["tick_working"]["count"])
	assert.Equal(t, "poll", byEvent["tick_working"]["component"])

	require.Contains(t, byEvent, "cycle")
	assert.Equal(t, float64(1), byEvent["cycle"]["count"])
	assert.Equal(t, float64(4), byEvent["cycle"]["sessions"])
}

func TestAggregatorEmptyFlushEmitsNothing(t *testing.T) {
	var out syncBuffer
	logger := slog.New(slog.NewJSONHandler(&out, nil))

	agg := NewAggregator(logger, 60)
	agg.Start()
	agg.Stop()

	assert.Empty(t, out.Lines())
}

func TestAggregatorNilLoggerDropsSilently(t *testing.T) {
	agg := NewAggregator(nil, 60)
	agg.Start()
	agg.Record("poll", "cycle")
	agg.Stop()
}

func TestSplitKey(t *testing.T) {
	c, e := splitKey("poll\x00tick_idle")
	assert.Equal(t, "poll", c)
	assert.Equal(t, "tick_idle", e)

	c, e = splitKey("nodelimiter")
	assert.Equal(t, "nodelimiter", c)
	assert.Empty(t, e)
}
