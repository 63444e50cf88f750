//go:build !unix

package main

import "tally-go/internal/tally"

// appStateSignals returns a channel that never delivers on platforms
// without user signals.
func appStateSignals() (<-chan tally.AppState, func()) {
	return make(chan tally.AppState), func() {}
}
