package tally

import (
	"errors"
	"fmt"
)

var (
	// ErrStorageInit means the local store could not be opened or migrated.
	// It is fatal at startup.
	ErrStorageInit = errors.New("local store initialization failed")

	// ErrStorageWrite means a local write failed. It propagates to the caller
	// of the mutation.
	ErrStorageWrite = errors.New("local store write failed")

	// ErrNotFound means no live row exists for the given kind and local id.
	ErrNotFound = errors.New("row not found")

	// ErrInvalidEntity means an entity failed validation.
	ErrInvalidEntity = errors.New("invalid entity")

	// ErrStaleRow means a row changed locally while its push was in flight.
	ErrStaleRow = errors.New("row modified since push")

	// ErrRemoteRejection means the remote API refused a single request.
	ErrRemoteRejection = errors.New("remote rejected request")

	// ErrConnectivity means the remote API could not be reached.
	ErrConnectivity = errors.New("remote unreachable")

	// ErrAuth means the remote API refused the session's credentials.
	ErrAuth = errors.New("authentication required")

	// ErrPlatformUnsupported means the local store cannot run on this build.
	ErrPlatformUnsupported = errors.New("local store not supported on this platform")
)

// RejectionError carries the message the remote API returned when it refused
// a request. It matches ErrRemoteRejection with errors.Is.
type RejectionError struct {
	Status  int
	Message string
}

func (e *RejectionError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("remote rejected request (status %d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("remote rejected request: %s", e.Message)
}

func (e *RejectionError) Unwrap() error { return ErrRemoteRejection }

// rejectionMessage extracts the server-provided message from err, falling back
// to the error text.
func rejectionMessage(err error) string {
	var rej *RejectionError
	if errors.As(err, &rej) && rej.Message != "" {
		return rej.Message
	}
	return err.Error()
}
