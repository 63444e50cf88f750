//go:build unix

package main

import (
	"os"
	"os/signal"
	"syscall"

	"tally-go/internal/tally"
)

// appStateSignals maps SIGUSR1 to AppStateBackground and SIGUSR2 to
// AppStateActive. The returned function stops delivery.
func appStateSignals() (<-chan tally.AppState, func()) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGUSR1, syscall.SIGUSR2)

	states := make(chan tally.AppState, 1)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case sig := <-sigs:
				state := tally.AppStateActive
				if sig == syscall.SIGUSR1 {
					state = tally.AppStateBackground
				}
				select {
				case states <- state:
				case <-done:
					return
				}
			}
		}
	}()

	return states, func() {
		signal.Stop(sigs)
		close(done)
	}
}
