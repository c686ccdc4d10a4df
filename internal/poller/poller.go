// Package poller drives the rules engine: once per interval it refreshes the
// tmux session cache, captures each monitored session's trailing output,
// classifies its state, and hands the observation to the engine.
package poller

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jathq/jat-sentinel/internal/automation"
	"github.com/jathq/jat-sentinel/internal/logging"
	"github.com/jathq/jat-sentinel/internal/signal"
	"github.com/jathq/jat-sentinel/internal/tmux"
)

var pollLog = logging.ForComponent(logging.CompPoll)

// Poller runs the polling loop. Sessions within one cycle are evaluated
// concurrently up to a bound; the engine's shared limiter keeps global caps
// correct across the interleaving.
type Poller struct {
	engine  *automation.Engine
	client  *tmux.Client
	signals *signal.FileEmitter

	mu            sync.Mutex
	interval      time.Duration
	maxConcurrent int
	signalMaxAge  time.Duration
}

// New creates a poller.
func New(engine *automation.Engine, client *tmux.Client, signals *signal.FileEmitter) *Poller {
	return &Poller{
		engine:        engine,
		client:        client,
		signals:       signals,
		interval:      time.Second,
		maxConcurrent: 8,
		signalMaxAge:  24 * time.Hour,
	}
}

// Configure applies polling settings; safe to call while running (config hot
// reload).
func (p *Poller) Configure(intervalMs, captureLines, maxConcurrent, signalMaxAgeHours int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if intervalMs >= 100 {
		p.interval = time.Duration(intervalMs) * time.Millisecond
	}
	if captureLines > 0 {
		p.client.CaptureLines = captureLines
	}
	if maxConcurrent > 0 {
		p.maxConcurrent = maxConcurrent
	}
	if signalMaxAgeHours > 0 {
		p.signalMaxAge = time.Duration(signalMaxAgeHours) * time.Hour
	}
}

// Run loops until the context is canceled.
func (p *Poller) Run(ctx context.Context) error {
	cleanup := time.NewTicker(time.Hour)
	defer cleanup.Stop()

	for {
		p.mu.Lock()
		interval := p.interval
		p.mu.Unlock()

		select {
		case <-ctx.Done():
			p.engine.Wait()
			return ctx.Err()
		case <-cleanup.C:
			p.mu.Lock()
			maxAge := p.signalMaxAge
			p.mu.Unlock()
			if p.signals != nil {
				p.signals.CleanStale(maxAge)
			}
		case <-time.After(interval):
			p.tickAll()
		}
	}
}

// tickAll runs one polling cycle.
func (p *Poller) tickAll() {
	tmux.RefreshSessions()
	p.engine.CheckReload()

	sessions := tmux.ListManagedSessions()
	if len(sessions) == 0 {
		return
	}

	p.mu.Lock()
	maxConcurrent := p.maxConcurrent
	p.mu.Unlock()

	sem := make(chan struct{}, maxConcurrent)
	var wg sync.WaitGroup
	for _, session := range sessions {
		wg.Add(1)
		sem <- struct{}{}
		go func(name string) {
			defer wg.Done()
			defer func() { <-sem }()
			p.tickOne(name)
		}(session)
	}
	wg.Wait()

	logging.Aggregate(logging.CompPoll, "cycle", slog.Int("sessions", len(sessions)))
}

// tickOne captures and evaluates one session. Capture failures (session
// killed mid-cycle) are logged and skipped; one session's problems never
// affect another's evaluation.
func (p *Poller) tickOne(session string) {
	output, err := p.client.CapturePane(session)
	if err != nil {
		pollLog.Debug("capture_failed",
			slog.String("session", session),
			slog.String("error", err.Error()))
		return
	}
	state := Classify(output)
	p.engine.Tick(session, output, state)
	logging.Aggregate(logging.CompPoll, "tick_"+string(state))
}
