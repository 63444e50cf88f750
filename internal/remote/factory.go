package remote

import (
	"fmt"

	"tally-go/internal/config"
	"tally-go/internal/tally"
)

// NewRemoteFromConfig creates a Remote implementation based on the remote config type.
func NewRemoteFromConfig(cfg config.RemoteConfig, clock tally.Clock, logger tally.Logger) (tally.Remote, error) {
	switch cfg.Type {
	case "http":
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("base_url required for http remote")
		}
		return NewHTTPRemote(cfg.BaseURL, cfg.Timeout(), logger), nil
	case "memory":
		return NewMemoryRemote(clock), nil
	default:
		return nil, fmt.Errorf("unknown remote type: %s", cfg.Type)
	}
}
