package tally

import (
	"context"
	"sync"
	"time"
)

// BackgroundSync runs a sync callback on a fixed interval and on demand.
// It does nothing until Enable is called, and stops on Disable or when the
// callback returns false.
type BackgroundSync struct {
	run    func(ctx context.Context) bool
	logger Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	kick   chan struct{}
	done   chan struct{}
}

// NewBackgroundSync creates a disabled BackgroundSync. run performs one pass
// and reports whether the trigger should stay enabled.
func NewBackgroundSync(run func(ctx context.Context) bool, logger Logger) *BackgroundSync {
	return &BackgroundSync{run: run, logger: logger}
}

// Enable starts the trigger. Calling Enable while enabled is a no-op.
func (b *BackgroundSync) Enable(interval time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.done != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	b.kick = make(chan struct{}, 1)
	b.done = make(chan struct{})

	go b.loop(ctx, interval, b.kick, b.done)
	b.logger.Info("background sync enabled", "interval", interval)
}

// Disable stops the trigger and waits for an in-flight pass to return.
func (b *BackgroundSync) Disable() {
	b.mu.Lock()
	cancel, done := b.cancel, b.done
	b.cancel, b.kick, b.done = nil, nil, nil
	b.mu.Unlock()

	if done == nil {
		return
	}
	cancel()
	<-done
	b.logger.Info("background sync disabled")
}

// Enabled reports whether the trigger is running.
func (b *BackgroundSync) Enabled() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.done != nil
}

// Kick requests a pass as soon as the current one, if any, finishes.
// It does nothing while the trigger is disabled.
func (b *BackgroundSync) Kick() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.kick == nil {
		return
	}
	select {
	case b.kick <- struct{}{}:
	default:
	}
}

func (b *BackgroundSync) loop(ctx context.Context, interval time.Duration, kick <-chan struct{}, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-kick:
		}

		if b.run(ctx) {
			continue
		}

		b.mu.Lock()
		if b.done == done {
			b.cancel()
			b.cancel, b.kick, b.done = nil, nil, nil
		}
		b.mu.Unlock()
		b.logger.Warn("background sync stopped")
		return
	}
}
