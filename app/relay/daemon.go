package relay

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Daemon repeats relay runs on an interval and on demand.
type Daemon struct {
	relay    *Relay
	interval time.Duration
	trigger  chan struct{}

	mu      sync.RWMutex
	last    *Summary
	lastErr error
	runs    int
}

func NewDaemon(relay *Relay, interval time.Duration) *Daemon {
	return &Daemon{
		relay:    relay,
		interval: interval,
		trigger:  make(chan struct{}, 1),
	}
}

// Start runs immediately and then on every tick or trigger until ctx is done.
func (d *Daemon) Start(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	d.runOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.runOnce(ctx)
		case <-d.trigger:
			d.runOnce(ctx)
		}
	}
}

// Trigger asks for an extra run. It returns false when one is already queued.
func (d *Daemon) Trigger() bool {
	select {
	case d.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// LastRun returns the summary of the most recent run, if any.
func (d *Daemon) LastRun() (Summary, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.last == nil {
		return Summary{}, false
	}
	return *d.last, true
}

// LastError returns the error of the most recent run.
func (d *Daemon) LastError() error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lastErr
}

func (d *Daemon) Runs() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.runs
}

func (d *Daemon) runOnce(ctx context.Context) {
	summary, err := d.relay.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("Relay run failed", "run", summary.RunID, "error", err)
	}

	d.mu.Lock()
	d.last = &summary
	d.lastErr = err
	d.runs++
	d.mu.Unlock()
}
