package tally

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

// Summary is the outcome of one sync pass.
type Summary struct {
	// Success is true when the pass ran to completion, even if some rows
	// were rejected by the server.
	Success bool

	// Skipped is true when the pass did not start: the network was not
	// online, the session was signed out, or another pass was running.
	Skipped bool

	SyncedCount   int
	FailedCount   int
	DeferredCount int

	// AuthRequired is set when the server refused the session's credentials.
	AuthRequired bool

	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Engine error messages reported in Summary.Error.
const (
	msgOffline    = "network offline"
	msgInProgress = "sync already in progress"
	msgSignedOut  = "not signed in"
	msgReauth     = "session expired: re-authenticate"
)

// SyncEngine pushes unsynced local rows to the remote API. It keeps no state
// of its own beyond an in-progress flag; everything it needs to resume after
// a crash lives in the Store.
type SyncEngine struct {
	store   Store
	remote  Remote
	network NetworkMonitor
	logger  Logger
	clock   Clock
	order   []Kind

	running atomic.Bool
}

// NewSyncEngine creates a SyncEngine that pushes kinds in SyncOrder.
func NewSyncEngine(store Store, remote Remote, network NetworkMonitor, logger Logger, clock Clock) *SyncEngine {
	return &SyncEngine{
		store:   store,
		remote:  remote,
		network: network,
		logger:  logger,
		clock:   clock,
		order:   SyncOrder,
	}
}

// Running reports whether a pass is in progress.
func (e *SyncEngine) Running() bool {
	return e.running.Load()
}

// Run performs one sync pass. At most one pass runs at a time; a call made
// while a pass is in progress, or while the network is not online, returns
// immediately with Skipped set.
//
// A row the server rejects is marked FAILED and the pass continues. Losing
// connectivity or authentication ends the pass, leaving the remaining rows
// as they were.
func (e *SyncEngine) Run(ctx context.Context) *Summary {
	sum := &Summary{StartedAt: e.clock.Now()}
	defer func() { sum.FinishedAt = e.clock.Now() }()

	if !e.running.CompareAndSwap(false, true) {
		sum.Skipped = true
		sum.Error = msgInProgress
		return sum
	}
	defer e.running.Store(false)

	if !e.online(ctx) {
		sum.Skipped = true
		sum.Error = msgOffline
		return sum
	}

	e.logger.Debug("sync pass started")
	for _, kind := range e.order {
		if err := e.syncKind(ctx, kind, sum); err != nil {
			e.abort(sum, err)
			return sum
		}
	}

	sum.Success = true
	e.logger.Info("sync pass complete",
		"synced", sum.SyncedCount,
		"failed", sum.FailedCount,
		"deferred", sum.DeferredCount)
	return sum
}

// online reports whether a pass may start, probing once if no check has
// completed yet.
func (e *SyncEngine) online(ctx context.Context) bool {
	status := e.network.Status()
	if status == ConnectivityUnknown {
		status = e.network.Check(ctx)
	}
	return status == ConnectivityOnline
}

// abort records why a pass ended early.
func (e *SyncEngine) abort(sum *Summary, err error) {
	switch {
	case errors.Is(err, ErrAuth):
		sum.AuthRequired = true
		sum.Error = msgReauth
		e.logger.Warn("sync halted: authentication required", "error", err)
	case errors.Is(err, ErrConnectivity):
		sum.Error = err.Error()
		e.logger.Warn("sync aborted: connectivity lost", "error", err,
			"synced", sum.SyncedCount)
	default:
		sum.Error = err.Error()
		e.logger.Error("sync aborted", "error", err)
	}
}

// syncKind pushes every unsynced row of one kind. It returns an error only
// when the whole pass must stop.
func (e *SyncEngine) syncKind(ctx context.Context, kind Kind, sum *Summary) error {
	rows, err := e.store.ListUnsynced(ctx, kind)
	if err != nil {
		return fmt.Errorf("listing unsynced %s rows: %w", kind, err)
	}
	if len(rows) == 0 {
		return nil
	}

	e.logger.Debug("pushing rows", "kind", kind, "count", len(rows))
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("sync pass interrupted: %w", err)
		}
		if err := e.syncRow(ctx, row, sum); err != nil {
			return err
		}
	}
	return nil
}

// syncRow pushes one row and records the outcome.
func (e *SyncEngine) syncRow(ctx context.Context, row *Row, sum *Summary) error {
	if row.Deleted {
		return e.pushDelete(ctx, row, sum)
	}

	refs, err := e.resolveReferences(ctx, row)
	if err != nil {
		var unresolved *unresolvedReferenceError
		switch {
		case errors.As(err, &unresolved):
			sum.DeferredCount++
			e.logger.Debug("row deferred", "kind", row.Kind, "local_id", row.LocalID,
				"reason", unresolved.Error())
			return nil
		case errors.Is(err, ErrRemoteRejection):
			return e.markFailed(ctx, row, err, sum)
		default:
			return err
		}
	}

	serverID := row.ServerID
	if serverID == "" {
		serverID, err = e.remote.Create(ctx, row.Kind, row.Payload, refs)
	} else {
		err = e.remote.Update(ctx, row.Kind, serverID, row.Payload, refs)
	}
	if err != nil {
		return e.handlePushError(ctx, row, err, sum)
	}

	// The server has applied the push; recording it must not be cut short
	// by cancellation or the next pass would create the row again.
	settle := context.WithoutCancel(ctx)

	err = e.store.MarkSynced(settle, row.Kind, row.LocalID, serverID, row.UpdatedAt)
	switch {
	case err == nil:
		sum.SyncedCount++
		e.logger.Debug("row synced", "kind", row.Kind, "local_id", row.LocalID, "server_id", serverID)
		return nil
	case errors.Is(err, ErrNotFound):
		// Deleted locally while the push was in flight. A never-synced row
		// leaves no tombstone, so the record just created is removed here.
		e.logger.Debug("synced row no longer exists", "kind", row.Kind, "local_id", row.LocalID)
		if row.ServerID == "" {
			e.deleteOrphan(settle, row.Kind, serverID)
		}
		return nil
	case errors.Is(err, ErrStaleRow):
		sum.DeferredCount++
		e.logger.Debug("row changed during push; retrying next pass", "kind", row.Kind, "local_id", row.LocalID)
		return nil
	default:
		return fmt.Errorf("marking %s %s synced: %w", row.Kind, row.LocalID, err)
	}
}

// pushDelete deletes a tombstone's remote entity and purges it locally.
func (e *SyncEngine) pushDelete(ctx context.Context, row *Row, sum *Summary) error {
	if err := e.remote.Delete(ctx, row.Kind, row.ServerID); err != nil {
		return e.handlePushError(ctx, row, err, sum)
	}

	err := e.store.Purge(context.WithoutCancel(ctx), row.Kind, row.LocalID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("purging %s %s: %w", row.Kind, row.LocalID, err)
	}
	sum.SyncedCount++
	e.logger.Debug("row deleted remotely", "kind", row.Kind, "local_id", row.LocalID, "server_id", row.ServerID)
	return nil
}

// deleteOrphan removes a remote record whose local row is gone. Failure is
// logged only: there is no local row left to retry from.
func (e *SyncEngine) deleteOrphan(ctx context.Context, kind Kind, serverID string) {
	if err := e.remote.Delete(ctx, kind, serverID); err != nil {
		e.logger.Warn("orphaned remote record not deleted", "kind", kind, "server_id", serverID, "error", err)
		return
	}
	e.logger.Debug("orphaned remote record deleted", "kind", kind, "server_id", serverID)
}

// handlePushError marks a rejected row FAILED and lets the pass continue.
// Connectivity and auth failures are returned to stop the pass. Remote errors
// that are neither are treated as connectivity failures so no row is marked.
func (e *SyncEngine) handlePushError(ctx context.Context, row *Row, err error, sum *Summary) error {
	switch {
	case errors.Is(err, ErrRemoteRejection):
		return e.markFailed(ctx, row, err, sum)
	case errors.Is(err, ErrAuth), errors.Is(err, ErrConnectivity):
		return err
	default:
		return fmt.Errorf("%w: %v", ErrConnectivity, err)
	}
}

func (e *SyncEngine) markFailed(ctx context.Context, row *Row, cause error, sum *Summary) error {
	msg := rejectionMessage(cause)
	err := e.store.MarkFailed(context.WithoutCancel(ctx), row.Kind, row.LocalID, msg)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("marking %s %s failed: %w", row.Kind, row.LocalID, err)
	}
	sum.FailedCount++
	e.logger.Warn("row rejected", "kind", row.Kind, "local_id", row.LocalID, "message", msg)
	return nil
}

// unresolvedReferenceError means a referenced row exists but has not been
// created remotely yet.
type unresolvedReferenceError struct {
	ref Reference
}

func (e *unresolvedReferenceError) Error() string {
	return fmt.Sprintf("%s %s has not been synced yet", e.ref.Kind, e.ref.LocalID)
}

// resolveReferences maps the row's references to the referenced rows'
// server ids. A reference to a row that no longer exists is a rejection the
// row cannot recover from without an edit.
func (e *SyncEngine) resolveReferences(ctx context.Context, row *Row) (map[string]string, error) {
	entity, err := row.Entity()
	if err != nil {
		return nil, &RejectionError{Message: err.Error()}
	}
	referencing, ok := entity.(Referencing)
	if !ok {
		return nil, nil
	}

	refs := make(map[string]string)
	for _, ref := range referencing.References() {
		target, err := e.store.Get(ctx, ref.Kind, ref.LocalID)
		if errors.Is(err, ErrNotFound) {
			return nil, &RejectionError{Message: fmt.Sprintf("referenced %s %s does not exist", ref.Kind, ref.LocalID)}
		}
		if err != nil {
			return nil, fmt.Errorf("resolving %s reference: %w", ref.Field, err)
		}
		if target.ServerID == "" {
			return nil, &unresolvedReferenceError{ref: ref}
		}
		refs[ref.RemoteField] = target.ServerID
	}
	return refs, nil
}
