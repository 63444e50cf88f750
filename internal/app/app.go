package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"tally-go/internal/config"
	"tally-go/internal/database"
	"tally-go/internal/encryption"
	"tally-go/internal/network"
	"tally-go/internal/remote"
	"tally-go/internal/session"
	"tally-go/internal/tally"
	"tally-go/internal/vault"
)

// ErrPendingRows is returned by RestoreBackup when unsynced rows would be
// overwritten.
var ErrPendingRows = errors.New("local store has unsynced rows")

// Options tune how a TallyApp is built.
type Options struct {
	// Verbose sends debug output to stderr as well as the log file.
	Verbose bool

	Clock tally.Clock
	IDGen tally.IDGenerator
}

// TallyApp is the application layer between the CLI and the sync layer.
// It constructs all dependencies from config, owns the process-wide store
// handle, and closes everything on Close.
type TallyApp struct {
	cfg      *config.Config
	store    *database.SQLiteStore
	remote   tally.Remote
	monitor  *network.Monitor
	sessions *session.FileStore
	sync     *tally.SyncContext
	logger   tally.Logger
	logFile  io.Closer
	clock    tally.Clock
	op       *Operation
}

// NewTallyApp creates a fully wired TallyApp from the given config.
// command identifies the CLI command being run (e.g. "sync", "customer add").
// The caller must call Close when done.
func NewTallyApp(ctx context.Context, cfg *config.Config, command string, opts Options) (*TallyApp, error) {
	clock := opts.Clock
	if clock == nil {
		clock = tally.RealClock{}
	}
	idgen := opts.IDGen
	if idgen == nil {
		idgen = tally.UUIDGenerator{}
	}

	op := NewOperation(command, clock, idgen)

	stderrLevel := slog.LevelWarn
	if opts.Verbose {
		stderrLevel = slog.LevelDebug
	}
	slogger, logFile, err := newLogger(cfg.LogDir, cfg.Log, op.RunID, stderrLevel)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: slogger}

	a := &TallyApp{
		cfg:     cfg,
		logger:  logger,
		logFile: logFile,
		clock:   clock,
		op:      op,
	}
	if err := a.init(ctx, idgen); err != nil {
		a.closeAll()
		logger.Error("startup failed", "command", command, "error", err)
		logFile.Close()
		return nil, err
	}

	logger.Debug("command started", "command", command, "device_id", cfg.DeviceID)
	return a, nil
}

func (a *TallyApp) init(ctx context.Context, idgen tally.IDGenerator) error {
	cfg := a.cfg

	store, err := database.NewStoreFromConfig(cfg.Database, cfg.DeviceID, a.clock, idgen)
	if err != nil {
		return fmt.Errorf("opening local store: %w", err)
	}
	a.store = store

	if err := store.CheckMigrations(); err != nil {
		return fmt.Errorf("local store schema out of date: %w", err)
	}

	a.remote, err = remote.NewRemoteFromConfig(cfg.Remote, a.clock, a.logger)
	if err != nil {
		return fmt.Errorf("creating remote: %w", err)
	}

	a.monitor, err = network.NewMonitorFromConfig(cfg.Network, a.logger)
	if err != nil {
		return fmt.Errorf("creating network monitor: %w", err)
	}

	a.sessions = session.NewFileStore(cfg.Session.Path)
	sess, err := a.sessions.Load()
	if err != nil {
		return fmt.Errorf("loading session: %w", err)
	}

	opts := tally.SyncOptions{
		Interval:      cfg.Sync.Interval(),
		Opportunistic: cfg.Sync.Opportunistic,
	}
	a.sync = tally.NewSyncContext(store, a.remote, a.monitor, a.sessions, sess, a.logger, a.clock, opts)
	if err := a.sync.Start(ctx); err != nil {
		return fmt.Errorf("starting sync: %w", err)
	}
	return nil
}

// Sync returns the sync context the CLI reads and writes through.
func (a *TallyApp) Sync() *tally.SyncContext {
	return a.sync
}

// Monitor returns the network monitor.
func (a *TallyApp) Monitor() *network.Monitor {
	return a.monitor
}

// Logger returns the run's logger.
func (a *TallyApp) Logger() tally.Logger {
	return a.logger
}

// Operation returns the command run being tracked.
func (a *TallyApp) Operation() *Operation {
	return a.op
}

// Config returns the loaded configuration.
func (a *TallyApp) Config() *config.Config {
	return a.cfg
}

// backupService builds a BackupService for the first configured vault.
// store may be nil for a restore.
func (a *TallyApp) backupService(ctx context.Context, store tally.Store) (*tally.BackupService, error) {
	if len(a.cfg.Vaults) == 0 {
		return nil, fmt.Errorf("no vaults configured")
	}
	v, err := vault.NewVaultFromConfig(ctx, a.cfg.Vaults[0])
	if err != nil {
		return nil, fmt.Errorf("creating vault: %w", err)
	}
	if err := v.ValidateSetup(); err != nil {
		return nil, fmt.Errorf("vault not ready: %w", err)
	}

	enc, err := encryption.NewEncryptorFromConfig(a.cfg.Encryption)
	if err != nil {
		return nil, fmt.Errorf("creating encryptor: %w", err)
	}
	if !enc.IsConfigured() {
		return nil, fmt.Errorf("encryption keys not set up: run `tally backup init`")
	}
	return tally.NewBackupService(store, v, enc, a.cfg.DeviceID, a.logger), nil
}

// PushBackup uploads an encrypted snapshot of the local store and returns
// its version.
func (a *TallyApp) PushBackup(ctx context.Context) (int64, error) {
	if a.store == nil {
		return 0, fmt.Errorf("local store is closed")
	}
	svc, err := a.backupService(ctx, a.store)
	if err != nil {
		return 0, err
	}
	return svc.Push()
}

// BackupVersion returns the version of this device's stored snapshot, or 0.
func (a *TallyApp) BackupVersion(ctx context.Context) (int64, error) {
	svc, err := a.backupService(ctx, nil)
	if err != nil {
		return 0, err
	}
	return svc.Version()
}

// RestoreBackup replaces the local store with the stored snapshot. It
// refuses while rows are waiting to sync unless force is set. The store is
// closed afterwards, so the app can only be closed once this returns.
func (a *TallyApp) RestoreBackup(ctx context.Context, passphrase string, force bool) error {
	if a.store == nil {
		return fmt.Errorf("local store is closed")
	}
	if n := a.sync.UnsyncedCount(); n > 0 && !force {
		return fmt.Errorf("%w: %d row(s) would be lost", ErrPendingRows, n)
	}

	dest, err := database.StorePath(a.cfg.Database, a.cfg.DeviceID)
	if err != nil {
		return fmt.Errorf("cannot restore: %w", err)
	}

	svc, err := a.backupService(ctx, nil)
	if err != nil {
		return err
	}

	a.sync.Close()
	if err := a.store.Close(); err != nil {
		return fmt.Errorf("closing local store: %w", err)
	}
	a.store = nil

	return svc.Restore(passphrase, dest)
}

// SetupEncryption generates the backup key pair.
func (a *TallyApp) SetupEncryption(passphrase string) error {
	enc, err := encryption.NewEncryptorFromConfig(a.cfg.Encryption)
	if err != nil {
		return fmt.Errorf("creating encryptor: %w", err)
	}
	if err := enc.Setup(passphrase); err != nil {
		return fmt.Errorf("setting up encryption: %w", err)
	}
	a.logger.Info("encryption keys created", "public_key", a.cfg.Encryption.PublicKeyPath)
	return nil
}

// passphraseChanger is implemented by encryptors whose private key can be
// re-wrapped under a new passphrase.
type passphraseChanger interface {
	ChangePassphrase(oldPassphrase, newPassphrase string) error
}

// ChangePassphrase re-encrypts the backup private key.
func (a *TallyApp) ChangePassphrase(oldPassphrase, newPassphrase string) error {
	enc, err := encryption.NewEncryptorFromConfig(a.cfg.Encryption)
	if err != nil {
		return fmt.Errorf("creating encryptor: %w", err)
	}
	changer, ok := enc.(passphraseChanger)
	if !ok {
		return fmt.Errorf("encryption type %q has no passphrase", a.cfg.Encryption.Type)
	}
	if err := changer.ChangePassphrase(oldPassphrase, newPassphrase); err != nil {
		return fmt.Errorf("changing passphrase: %w", err)
	}
	a.logger.Info("backup passphrase changed")
	return nil
}

// Watch keeps the process running with background sync enabled. It polls
// connectivity, applies session changes made by other processes, and feeds
// app state changes from states into the network monitor. It returns when
// ctx is cancelled.
func (a *TallyApp) Watch(ctx context.Context, states <-chan tally.AppState) error {
	watcher, err := session.NewWatcher(a.sessions, a.logger)
	if err != nil {
		return err
	}
	if err := watcher.Start(); err != nil {
		return err
	}
	defer watcher.Stop()

	monitorDone := make(chan struct{})
	go func() {
		defer close(monitorDone)
		a.monitor.Run(ctx, a.cfg.Network.CheckInterval())
	}()
	defer func() { <-monitorDone }()

	a.logger.Info("watching", "background_sync", a.sync.BackgroundEnabled(),
		"interval", a.cfg.Sync.Interval())

	sessions, errs := watcher.Sessions(), watcher.Errors()
	for {
		select {
		case <-ctx.Done():
			return nil
		case sess, ok := <-sessions:
			if !ok {
				return nil
			}
			a.sync.ApplySession(sess)
			a.logger.Info("session changed", "signed_in", sess.SignedIn,
				"background_sync", a.sync.BackgroundEnabled())
		case err, ok := <-errs:
			if !ok {
				return nil
			}
			a.logger.Warn("session watcher error", "error", err)
		case state := <-states:
			a.monitor.AppStateChanged(ctx, state)
		}
	}
}

// Close finalizes the operation and closes all resources.
func (a *TallyApp) Close() error {
	err := a.closeAll()
	if a.op.Failed() {
		a.logger.Warn("command failed", "command", a.op.Command, "error", a.op.Error,
			"duration", a.clock.Now().Sub(a.op.StartedAt).Truncate(time.Millisecond))
	} else {
		a.logger.Debug("command finished", "command", a.op.Command,
			"duration", a.clock.Now().Sub(a.op.StartedAt).Truncate(time.Millisecond))
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
	return err
}

func (a *TallyApp) closeAll() error {
	if a.sync != nil {
		a.sync.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			return fmt.Errorf("closing local store: %w", err)
		}
		a.store = nil
	}
	return nil
}
