package network

import (
	"fmt"
	"time"

	"tally-go/internal/config"
	"tally-go/internal/tally"
)

// NewMonitorFromConfig creates a Monitor with the prober named by the network
// config type.
func NewMonitorFromConfig(cfg config.NetworkConfig, logger tally.Logger) (*Monitor, error) {
	switch cfg.Type {
	case "http":
		if cfg.ProbeURL == "" {
			return nil, fmt.Errorf("probe_url required for http network monitor")
		}
		return NewMonitor(NewHTTPProber(cfg.ProbeURL, 5*time.Second), logger), nil
	case "static":
		return NewMonitor(NewStaticProber(cfg.StaticOnline), logger), nil
	default:
		return nil, fmt.Errorf("unknown network type: %s", cfg.Type)
	}
}
