package testutil

import (
	"context"
	"testing"

	"tally-go/internal/network"
	"tally-go/internal/remote"
	"tally-go/internal/tally"
)

// NewTestRemote creates an in-memory remote API that accepts any username.
func NewTestRemote(clock tally.Clock) *remote.MemoryRemote {
	return remote.NewMemoryRemote(clock)
}

// NewTestMonitor creates a network monitor backed by a StaticProber, with
// one check already completed so Status reflects online.
func NewTestMonitor(t *testing.T, online bool) (*network.Monitor, *network.StaticProber) {
	t.Helper()
	prober := network.NewStaticProber(online)
	monitor := network.NewMonitor(prober, tally.NewNopLogger())
	monitor.Check(context.Background())
	return monitor, prober
}
