package automation

import (
	"sync"
)

// DefaultActivityCapacity bounds the in-memory audit trail.
const DefaultActivityCapacity = 500

// ActivityLog is a bounded, append-only audit trail of rule firings. The
// oldest entries are evicted past capacity so a long-running daemon never
// grows without bound. Kept separate from the limiter's sliding-window
// bookkeeping so log richness never affects matching-path latency.
type ActivityLog struct {
	mu       sync.Mutex
	events   []ActivityEvent // chronological; len <= capacity
	capacity int

	subscribers map[chan ActivityEvent]struct{}
}

// NewActivityLog creates a log holding at most capacity events.
func NewActivityLog(capacity int) *ActivityLog {
	if capacity <= 0 {
		capacity = DefaultActivityCapacity
	}
	return &ActivityLog{
		capacity:    capacity,
		subscribers: make(map[chan ActivityEvent]struct{}),
	}
}

// Append records an event, evicting the oldest entry when full, and fans the
// event out to subscribers. Slow subscribers are skipped, never blocked on.
func (l *ActivityLog) Append(ev ActivityEvent) {
	l.mu.Lock()
	if len(l.events) >= l.capacity {
		copy(l.events, l.events[1:])
		l.events = l.events[:len(l.events)-1]
	}
	l.events = append(l.events, ev)
	for ch := range l.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
	l.mu.Unlock()
}

// Recent returns up to limit events, most recent first. limit <= 0 returns
// everything.
func (l *ActivityLog) Recent(limit int) []ActivityEvent {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := len(l.events)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]ActivityEvent, n)
	for i := 0; i < n; i++ {
		out[i] = l.events[len(l.events)-1-i]
	}
	return out
}

// Len returns the number of retained events.
func (l *ActivityLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

// Clear removes all retained events.
func (l *ActivityLog) Clear() {
	l.mu.Lock()
	l.events = nil
	l.mu.Unlock()
}

// Subscribe returns a channel that receives every event appended after the
// call. The caller must Unsubscribe when done.
func (l *ActivityLog) Subscribe() chan ActivityEvent {
	ch := make(chan ActivityEvent, 16)
	l.mu.Lock()
	l.subscribers[ch] = struct{}{}
	l.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber channel and closes it.
func (l *ActivityLog) Unsubscribe(ch chan ActivityEvent) {
	l.mu.Lock()
	if _, ok := l.subscribers[ch]; ok {
		delete(l.subscribers, ch)
		close(ch)
	}
	l.mu.Unlock()
}
