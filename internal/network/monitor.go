package network

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"tally-go/internal/tally"
)

// Prober answers whether the remote API is reachable. A failed probe is
// reported as false, never as an error.
type Prober interface {
	Probe(ctx context.Context) bool
}

// Monitor implements tally.NetworkMonitor on top of a Prober.
type Monitor struct {
	prober Prober
	logger tally.Logger
	group  singleflight.Group

	mu       sync.Mutex
	status   tally.Connectivity
	appState tally.AppState
	subs     map[int]func(tally.Connectivity)
	nextSub  int
}

var _ tally.NetworkMonitor = (*Monitor)(nil)

// NewMonitor creates a Monitor with Unknown status.
func NewMonitor(prober Prober, logger tally.Logger) *Monitor {
	return &Monitor{
		prober: prober,
		logger: logger,
		subs:   make(map[int]func(tally.Connectivity)),
	}
}

// Status returns the last known connectivity.
func (m *Monitor) Status() tally.Connectivity {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Check probes connectivity and publishes the result. Concurrent callers
// share one probe.
func (m *Monitor) Check(ctx context.Context) tally.Connectivity {
	v, _, _ := m.group.Do("check", func() (any, error) {
		// Callers joining this check share its result, so one caller
		// giving up must not turn it into offline for all of them.
		if m.prober.Probe(context.WithoutCancel(ctx)) {
			return tally.ConnectivityOnline, nil
		}
		return tally.ConnectivityOffline, nil
	})
	status := v.(tally.Connectivity)
	m.set(status)
	return status
}

// set records status and notifies subscribers on a change.
func (m *Monitor) set(status tally.Connectivity) {
	m.mu.Lock()
	if m.status == status {
		m.mu.Unlock()
		return
	}
	prev := m.status
	m.status = status
	fns := make([]func(tally.Connectivity), 0, len(m.subs))
	for _, fn := range m.subs {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	m.logger.Info("connectivity changed", "from", prev.String(), "to", status.String())
	for _, fn := range fns {
		fn(status)
	}
}

// Subscribe registers fn for connectivity changes.
func (m *Monitor) Subscribe(fn func(tally.Connectivity)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}
}

// AppStateChanged records the application's lifecycle state. Returning to
// the foreground re-checks connectivity, since the network may have changed
// while suspended.
func (m *Monitor) AppStateChanged(ctx context.Context, state tally.AppState) {
	m.mu.Lock()
	prev := m.appState
	m.appState = state
	m.mu.Unlock()

	m.logger.Debug("app state changed", "from", prev.String(), "to", state.String())
	if prev == tally.AppStateBackground && state == tally.AppStateActive {
		m.Check(ctx)
	}
}

// AppState returns the last recorded lifecycle state.
func (m *Monitor) AppState() tally.AppState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appState
}

// Run checks connectivity immediately and then every interval until ctx is
// done. Polling pauses while the app is in the background.
func (m *Monitor) Run(ctx context.Context, interval time.Duration) {
	m.Check(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if m.AppState() == tally.AppStateBackground {
				continue
			}
			m.Check(ctx)
		}
	}
}
