package tally

import (
	"context"
	"encoding/json"
)

// Remote is the authoritative server API. Implementations classify failures:
// a refused request wraps ErrRemoteRejection (usually as *RejectionError),
// an unreachable server wraps ErrConnectivity, and refused credentials wrap
// ErrAuth.
type Remote interface {
	// Create stores a new entity and returns the server-assigned id.
	// refs holds resolved references as remote field name to server id.
	Create(ctx context.Context, kind Kind, payload json.RawMessage, refs map[string]string) (string, error)

	// Update replaces the entity stored under serverID.
	Update(ctx context.Context, kind Kind, serverID string, payload json.RawMessage, refs map[string]string) error

	// Delete removes the entity stored under serverID. Deleting an entity the
	// server no longer has succeeds.
	Delete(ctx context.Context, kind Kind, serverID string) error

	// Login exchanges credentials for a session token.
	Login(ctx context.Context, username, password string) (string, error)

	// Logout invalidates the current token.
	Logout(ctx context.Context) error

	// SetToken sets the bearer token sent with subsequent requests.
	SetToken(token string)
}
