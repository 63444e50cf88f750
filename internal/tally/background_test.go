package tally_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"tally-go/internal/tally"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestBackgroundSync_RunsOnInterval(t *testing.T) {
	var runs atomic.Int32
	b := tally.NewBackgroundSync(func(context.Context) bool {
		runs.Add(1)
		return true
	}, tally.NewNopLogger())

	if b.Enabled() {
		t.Error("Enabled() = true before Enable")
	}
	b.Enable(10 * time.Millisecond)
	b.Enable(10 * time.Millisecond)
	if !b.Enabled() {
		t.Error("Enabled() = false after Enable")
	}

	waitFor(t, "three passes", func() bool { return runs.Load() >= 3 })

	b.Disable()
	if b.Enabled() {
		t.Error("Enabled() = true after Disable")
	}
	after := runs.Load()
	time.Sleep(50 * time.Millisecond)
	if got := runs.Load(); got != after {
		t.Errorf("passes after Disable = %d, want %d", got, after)
	}

	b.Disable()
}

func TestBackgroundSync_Kick(t *testing.T) {
	var runs atomic.Int32
	b := tally.NewBackgroundSync(func(context.Context) bool {
		runs.Add(1)
		return true
	}, tally.NewNopLogger())

	b.Kick()
	if runs.Load() != 0 {
		t.Error("Kick() while disabled ran a pass")
	}

	b.Enable(time.Hour)
	defer b.Disable()

	b.Kick()
	waitFor(t, "kicked pass", func() bool { return runs.Load() == 1 })
}

func TestBackgroundSync_StopsWhenRunReturnsFalse(t *testing.T) {
	var runs atomic.Int32
	b := tally.NewBackgroundSync(func(context.Context) bool {
		runs.Add(1)
		return false
	}, tally.NewNopLogger())

	b.Enable(10 * time.Millisecond)
	waitFor(t, "trigger to stop", func() bool { return !b.Enabled() })

	time.Sleep(50 * time.Millisecond)
	if got := runs.Load(); got != 1 {
		t.Errorf("passes = %d, want 1", got)
	}

	b.Enable(10 * time.Millisecond)
	waitFor(t, "second pass after re-enable", func() bool { return runs.Load() == 2 })
	b.Disable()
}

func TestBackgroundSync_DisableWaitsForPass(t *testing.T) {
	started := make(chan struct{})
	var finished atomic.Bool
	b := tally.NewBackgroundSync(func(ctx context.Context) bool {
		close(started)
		<-ctx.Done()
		time.Sleep(20 * time.Millisecond)
		finished.Store(true)
		return true
	}, tally.NewNopLogger())

	b.Enable(time.Hour)
	b.Kick()
	<-started

	b.Disable()
	if !finished.Load() {
		t.Error("Disable() returned before the in-flight pass finished")
	}
}
