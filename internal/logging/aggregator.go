package logging

import (
	"log/slog"
	"sync"
	"time"
)

// Aggregator batches high-frequency events (per-tick matcher hits, capture
// stats) and emits periodic count summaries instead of one line per event.
type Aggregator struct {
	logger   *slog.Logger
	interval time.Duration

	mu     sync.Mutex
	counts map[string]int64
	fields map[string][]slog.Attr

	done chan struct{}
	wg   sync.WaitGroup
}

// NewAggregator creates an aggregator that flushes every intervalSecs seconds.
// If logger is nil, recorded events are silently dropped.
func NewAggregator(logger *slog.Logger, intervalSecs int) *Aggregator {
	if intervalSecs <= 0 {
		intervalSecs = 30
	}
	return &Aggregator{
		logger:   logger,
		interval: time.Duration(intervalSecs) * time.Second,
		counts:   make(map[string]int64),
		fields:   make(map[string][]slog.Attr),
		done:     make(chan struct{}),
	}
}

// Start begins the background flush goroutine.
func (a *Aggregator) Start() {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ticker := time.NewTicker(a.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				a.flush()
			case <-a.done:
				return
			}
		}
	}()
}

// Stop flushes remaining entries and stops the background goroutine.
func (a *Aggregator) Stop() {
	close(a.done)
	a.wg.Wait()
	a.flush()
}

// Record increments the counter for an event. The most recent call's fields
// are kept as context for the summary line.
func (a *Aggregator) Record(component, event string, fields ...slog.Attr) {
	key := component + "\x00" + event
	a.mu.Lock()
	a.counts[key]++
	if len(fields) > 0 {
		a.fields[key] = fields
	}
	a.mu.Unlock()
}

func (a *Aggregator) flush() {
	a.mu.Lock()
	if len(a.counts) == 0 {
		a.mu.Unlock()
		return
	}
	counts := a.counts
	fields := a.fields
	a.counts = make(map[string]int64)
	a.fields = make(map[string][]slog.Attr)
	a.mu.Unlock()

	if a.logger == nil {
		return
	}

	for key, count := range counts {
		component, event := splitKey(key)
		attrs := []any{
			slog.String("component", component),
			slog.String("event", event),
			slog.Int64("count", count),
			slog.Int("window_seconds", int(a.interval.Seconds())),
		}
		for _, f := range fields[key] {
			attrs = append(attrs, f)
		}
		a.logger.Info("event_summary", attrs...)
	}
}

func splitKey(key string) (component, event string) {
	for i := 0; i < len(key); i++ {
		if key[i] == 0 {
			return key[:i], key[i+1:]
		}
	}
	return key, ""
}
