package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"tally-go/internal/database/migrations"
	"tally-go/internal/tally"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteStore implements tally.Store on SQLite. Each entity kind has its own
// table; payloads are stored as JSON text.
type SQLiteStore struct {
	db    *sql.DB
	path  string
	clock tally.Clock
	idgen tally.IDGenerator
}

var _ tally.Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens the store at path, creating and migrating it as needed.
// path can be a file path or ":memory:". Opening an existing store is safe.
// Failures wrap tally.ErrStorageInit, or tally.ErrPlatformUnsupported when
// SQLite is not available in this build.
func NewSQLiteStore(path string, clock tally.Clock, idgen tally.IDGenerator) (*SQLiteStore, error) {
	if !Available() {
		return nil, tally.ErrPlatformUnsupported
	}

	db, err := OpenConnection(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", tally.ErrStorageInit, err)
	}

	if err := migrations.MigrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %w", tally.ErrStorageInit, err)
	}

	return &SQLiteStore{db: db, path: path, clock: clock, idgen: idgen}, nil
}

// NewSQLiteStoreFromDB wraps an existing, migrated database connection.
func NewSQLiteStoreFromDB(db *sql.DB, clock tally.Clock, idgen tally.IDGenerator) *SQLiteStore {
	return &SQLiteStore{db: db, clock: clock, idgen: idgen}
}

// OpenConnection opens and configures a SQLite database connection.
// The pool is limited to one connection: writes are serialized, and an
// in-memory database stays a single database.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to configure database (%s): %w", p, err)
		}
	}

	return db, nil
}

var tables = map[tally.Kind]string{
	tally.KindCustomer:    "customers",
	tally.KindDealer:      "dealers",
	tally.KindBankAccount: "bank_accounts",
	tally.KindInvoice:     "invoices",
}

func tableFor(kind tally.Kind) (string, error) {
	table, ok := tables[kind]
	if !ok {
		return "", fmt.Errorf("unknown entity kind: %q", kind)
	}
	return table, nil
}

const rowColumns = "local_id, server_id, payload, sync_status, sync_error, deleted, created_at, updated_at, synced_at"

type scanner interface {
	Scan(dest ...any) error
}

func scanRow(s scanner, kind tally.Kind) (*tally.Row, error) {
	var (
		row       tally.Row
		serverID  sql.NullString
		payload   string
		status    string
		syncError sql.NullString
		createdAt int64
		updatedAt int64
		syncedAt  sql.NullInt64
	)
	if err := s.Scan(&row.LocalID, &serverID, &payload, &status, &syncError,
		&row.Deleted, &createdAt, &updatedAt, &syncedAt); err != nil {
		return nil, err
	}

	row.Kind = kind
	row.ServerID = serverID.String
	row.Payload = []byte(payload)
	row.Status = tally.SyncStatus(status)
	row.SyncError = syncError.String
	row.CreatedAt = fromNanos(createdAt)
	row.UpdatedAt = fromNanos(updatedAt)
	if syncedAt.Valid {
		t := fromNanos(syncedAt.Int64)
		row.SyncedAt = &t
	}
	return &row, nil
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func writeErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, tally.ErrStorageWrite, err)
}

// now returns the store clock's time, strictly after prev.
func (s *SQLiteStore) now(prev time.Time) time.Time {
	t := s.clock.Now().UTC().Round(0)
	if !t.After(prev) {
		t = prev.Add(time.Nanosecond)
	}
	return t
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// getRow loads a row by local id. Tombstones are only returned when
// withDeleted is set.
func getRow(ctx context.Context, q querier, kind tally.Kind, localID string, withDeleted bool) (*tally.Row, error) {
	table, err := tableFor(kind)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf("SELECT %s FROM %s WHERE local_id = ?", rowColumns, table)
	if !withDeleted {
		query += " AND deleted = 0"
	}

	row, err := scanRow(q.QueryRowContext(ctx, query, localID), kind)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s %s: %w", kind, localID, tally.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading %s %s: %w", kind, localID, err)
	}
	return row, nil
}

// Insert validates entity and stores it as a new UNSYNCED row.
func (s *SQLiteStore) Insert(ctx context.Context, entity tally.SyncableEntity) (*tally.Row, error) {
	kind := entity.Kind()
	table, err := tableFor(kind)
	if err != nil {
		return nil, err
	}

	payload, err := tally.EncodeEntity(entity)
	if err != nil {
		return nil, err
	}

	now := s.now(time.Time{})
	row := &tally.Row{
		Kind:      kind,
		LocalID:   s.idgen.New(),
		Payload:   payload,
		Status:    tally.StatusUnsynced,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err = s.db.ExecContext(ctx,
		fmt.Sprintf("INSERT INTO %s (local_id, payload, sync_status, created_at, updated_at) VALUES (?, ?, ?, ?, ?)", table),
		row.LocalID, string(payload), string(row.Status), now.UnixNano(), now.UnixNano())
	if err != nil {
		return nil, writeErr(fmt.Sprintf("inserting %s", kind), err)
	}
	return row, nil
}

// Get returns a live row.
func (s *SQLiteStore) Get(ctx context.Context, kind tally.Kind, localID string) (*tally.Row, error) {
	return getRow(ctx, s.db, kind, localID, false)
}

// Update merges patch into a live row. The row is demoted to UNSYNCED unless
// patch.MarkSynced is set, which requires the row to have a server id.
func (s *SQLiteStore) Update(ctx context.Context, kind tally.Kind, localID string, patch tally.Patch) (*tally.Row, error) {
	table, err := tableFor(kind)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, writeErr("beginning transaction", err)
	}
	defer tx.Rollback()

	row, err := getRow(ctx, tx, kind, localID, false)
	if err != nil {
		return nil, err
	}

	payload, err := tally.MergePayload(kind, row.Payload, patch.Fields)
	if err != nil {
		return nil, err
	}

	row.Payload = payload
	row.UpdatedAt = s.now(row.UpdatedAt)

	if patch.MarkSynced {
		if row.ServerID == "" {
			return nil, fmt.Errorf("marking %s %s synced: row has no server id", kind, localID)
		}
		syncedAt := row.UpdatedAt
		row.Status = tally.StatusSynced
		row.SyncError = ""
		row.SyncedAt = &syncedAt
		_, err = tx.ExecContext(ctx,
			fmt.Sprintf("UPDATE %s SET payload = ?, updated_at = ?, sync_status = ?, sync_error = NULL, synced_at = ? WHERE local_id = ?", table),
			string(payload), row.UpdatedAt.UnixNano(), string(row.Status), syncedAt.UnixNano(), localID)
	} else {
		row.Status = tally.StatusUnsynced
		_, err = tx.ExecContext(ctx,
			fmt.Sprintf("UPDATE %s SET payload = ?, updated_at = ?, sync_status = ? WHERE local_id = ?", table),
			string(payload), row.UpdatedAt.UnixNano(), string(row.Status), localID)
	}
	if err != nil {
		return nil, writeErr(fmt.Sprintf("updating %s %s", kind, localID), err)
	}

	if err := tx.Commit(); err != nil {
		return nil, writeErr("committing update", err)
	}
	return row, nil
}

// Delete removes a never-synced row, or tombstones a row the server knows.
func (s *SQLiteStore) Delete(ctx context.Context, kind tally.Kind, localID string) error {
	table, err := tableFor(kind)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return writeErr("beginning transaction", err)
	}
	defer tx.Rollback()

	row, err := getRow(ctx, tx, kind, localID, false)
	if err != nil {
		return err
	}

	if row.ServerID == "" {
		_, err = tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE local_id = ?", table), localID)
	} else {
		_, err = tx.ExecContext(ctx,
			fmt.Sprintf("UPDATE %s SET deleted = 1, sync_status = ?, updated_at = ? WHERE local_id = ?", table),
			string(tally.StatusUnsynced), s.now(row.UpdatedAt).UnixNano(), localID)
	}
	if err != nil {
		return writeErr(fmt.Sprintf("deleting %s %s", kind, localID), err)
	}

	if err := tx.Commit(); err != nil {
		return writeErr("committing delete", err)
	}
	return nil
}

func (s *SQLiteStore) listRows(ctx context.Context, kind tally.Kind, where string) ([]*tally.Row, error) {
	table, err := tableFor(kind)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf("SELECT %s FROM %s WHERE %s ORDER BY created_at, local_id", rowColumns, table, where))
	if err != nil {
		return nil, fmt.Errorf("listing %s rows: %w", kind, err)
	}
	defer rows.Close()

	var out []*tally.Row
	for rows.Next() {
		row, err := scanRow(rows, kind)
		if err != nil {
			return nil, fmt.Errorf("scanning %s row: %w", kind, err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing %s rows: %w", kind, err)
	}
	return out, nil
}

const unsyncedPredicate = "sync_status IN ('UNSYNCED', 'FAILED')"

// ListAll returns live rows ordered by creation time.
func (s *SQLiteStore) ListAll(ctx context.Context, kind tally.Kind) ([]*tally.Row, error) {
	return s.listRows(ctx, kind, "deleted = 0")
}

// ListUnsynced returns UNSYNCED and FAILED rows, tombstones included.
func (s *SQLiteStore) ListUnsynced(ctx context.Context, kind tally.Kind) ([]*tally.Row, error) {
	return s.listRows(ctx, kind, unsyncedPredicate)
}

// CountUnsynced returns the number of rows awaiting sync.
func (s *SQLiteStore) CountUnsynced(ctx context.Context, kind tally.Kind) (int, error) {
	table, err := tableFor(kind)
	if err != nil {
		return 0, err
	}

	var n int
	err = s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s", table, unsyncedPredicate)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting %s rows: %w", kind, err)
	}
	return n, nil
}

// MarkSynced records a successful push unless the row changed after seen.
func (s *SQLiteStore) MarkSynced(ctx context.Context, kind tally.Kind, localID, serverID string, seen time.Time) error {
	table, err := tableFor(kind)
	if err != nil {
		return err
	}
	if serverID == "" {
		return fmt.Errorf("marking %s %s synced: empty server id", kind, localID)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return writeErr("beginning transaction", err)
	}
	defer tx.Rollback()

	row, err := getRow(ctx, tx, kind, localID, true)
	if err != nil {
		return err
	}

	if !row.UpdatedAt.Equal(seen) {
		// Keep the server id so the next pass updates instead of creating a
		// duplicate.
		if row.ServerID == "" {
			if _, err := tx.ExecContext(ctx,
				fmt.Sprintf("UPDATE %s SET server_id = ? WHERE local_id = ?", table),
				serverID, localID); err != nil {
				return writeErr(fmt.Sprintf("recording server id for %s %s", kind, localID), err)
			}
			if err := tx.Commit(); err != nil {
				return writeErr("committing server id", err)
			}
		}
		return fmt.Errorf("%s %s: %w", kind, localID, tally.ErrStaleRow)
	}

	_, err = tx.ExecContext(ctx,
		fmt.Sprintf("UPDATE %s SET server_id = ?, sync_status = ?, sync_error = NULL, synced_at = ? WHERE local_id = ?", table),
		serverID, string(tally.StatusSynced), s.clock.Now().UTC().UnixNano(), localID)
	if err != nil {
		return writeErr(fmt.Sprintf("marking %s %s synced", kind, localID), err)
	}

	if err := tx.Commit(); err != nil {
		return writeErr("committing sync mark", err)
	}
	return nil
}

// MarkFailed records a rejected push without touching the server id.
func (s *SQLiteStore) MarkFailed(ctx context.Context, kind tally.Kind, localID, message string) error {
	table, err := tableFor(kind)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf("UPDATE %s SET sync_status = ?, sync_error = ? WHERE local_id = ?", table),
		string(tally.StatusFailed), message, localID)
	if err != nil {
		return writeErr(fmt.Sprintf("marking %s %s failed", kind, localID), err)
	}
	return expectOne(res, kind, localID)
}

// Purge removes a tombstone after its remote deletion.
func (s *SQLiteStore) Purge(ctx context.Context, kind tally.Kind, localID string) error {
	table, err := tableFor(kind)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE local_id = ? AND deleted = 1", table), localID)
	if err != nil {
		return writeErr(fmt.Sprintf("purging %s %s", kind, localID), err)
	}
	return expectOne(res, kind, localID)
}

func expectOne(res sql.Result, kind tally.Kind, localID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", kind, localID, tally.ErrNotFound)
	}
	return nil
}

// RecordSyncRun appends a sync pass to the run history.
func (s *SQLiteStore) RecordSyncRun(ctx context.Context, run *tally.SyncRun) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_runs (trigger_name, started_at, finished_at, success, synced_count, failed_count, deferred_count, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.Trigger, run.StartedAt.UnixNano(), run.FinishedAt.UnixNano(), run.Success,
		run.Synced, run.Failed, run.Deferred, nullString(run.Error))
	if err != nil {
		return writeErr("recording sync run", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading sync run id: %w", err)
	}
	run.ID = id
	return nil
}

// ListSyncRuns returns the most recent sync passes, newest first.
func (s *SQLiteStore) ListSyncRuns(ctx context.Context, limit int) ([]*tally.SyncRun, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, trigger_name, started_at, finished_at, success, synced_count, failed_count, deferred_count, error_message
		FROM sync_runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing sync runs: %w", err)
	}
	defer rows.Close()

	var out []*tally.SyncRun
	for rows.Next() {
		var (
			run                 tally.SyncRun
			startedAt, finished int64
			errMsg              sql.NullString
		)
		if err := rows.Scan(&run.ID, &run.Trigger, &startedAt, &finished, &run.Success,
			&run.Synced, &run.Failed, &run.Deferred, &errMsg); err != nil {
			return nil, fmt.Errorf("scanning sync run: %w", err)
		}
		run.StartedAt = fromNanos(startedAt)
		run.FinishedAt = fromNanos(finished)
		run.Error = errMsg.String
		out = append(out, &run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing sync runs: %w", err)
	}
	return out, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

// CheckMigrations verifies the schema is at the latest version.
func (s *SQLiteStore) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(s.db)
}

// BackupTo writes a consistent snapshot of the database to destPath, which
// must not exist.
func (s *SQLiteStore) BackupTo(destPath string) error {
	if _, err := s.db.Exec("VACUUM INTO ?", destPath); err != nil {
		return fmt.Errorf("backing up database: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
