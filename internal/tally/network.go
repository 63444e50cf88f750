package tally

import "context"

// Connectivity is the tri-state network signal.
type Connectivity int

const (
	ConnectivityUnknown Connectivity = iota // no check has completed yet
	ConnectivityOnline
	ConnectivityOffline
)

func (c Connectivity) String() string {
	switch c {
	case ConnectivityOnline:
		return "online"
	case ConnectivityOffline:
		return "offline"
	default:
		return "unknown"
	}
}

// AppState is the application's lifecycle state.
type AppState int

const (
	AppStateActive AppState = iota
	AppStateBackground
)

func (s AppState) String() string {
	if s == AppStateBackground {
		return "background"
	}
	return "active"
}

// NetworkMonitor reports whether the remote API is reachable.
type NetworkMonitor interface {
	// Status returns the last known connectivity without probing.
	Status() Connectivity

	// Check probes connectivity. Concurrent calls share one probe.
	Check(ctx context.Context) Connectivity

	// Subscribe registers fn to be called on every connectivity change.
	// The returned function removes the subscription.
	Subscribe(fn func(Connectivity)) (unsubscribe func())
}
