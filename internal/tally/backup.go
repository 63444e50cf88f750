package tally

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrNoSnapshot means the vault holds no snapshot for this device.
var ErrNoSnapshot = errors.New("no snapshot stored for this device")

// BackupService copies encrypted snapshots of the local store to a vault and
// restores them.
type BackupService struct {
	store     Store
	vault     Vault
	encryptor Encryptor
	deviceID  string
	logger    Logger
}

// NewBackupService creates a BackupService. store may be nil for a service
// that only restores.
func NewBackupService(store Store, vault Vault, encryptor Encryptor, deviceID string, logger Logger) *BackupService {
	return &BackupService{
		store:     store,
		vault:     vault,
		encryptor: encryptor,
		deviceID:  deviceID,
		logger:    logger,
	}
}

// Push snapshots the store, encrypts the snapshot, and uploads it with the
// next version number. Returns the version stored.
func (b *BackupService) Push() (int64, error) {
	if b.store == nil {
		return 0, fmt.Errorf("no local store to back up")
	}

	tmpDir, err := os.MkdirTemp("", "tally-backup-*")
	if err != nil {
		return 0, fmt.Errorf("creating temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	plainPath := filepath.Join(tmpDir, "snapshot.db")
	if err := b.store.BackupTo(plainPath); err != nil {
		return 0, fmt.Errorf("snapshotting local store: %w", err)
	}

	encPath := filepath.Join(tmpDir, "snapshot.db.age")
	if err := b.encryptFile(plainPath, encPath); err != nil {
		return 0, err
	}

	current, err := b.vault.SnapshotVersion(b.deviceID)
	if err != nil {
		return 0, fmt.Errorf("checking stored snapshot version: %w", err)
	}
	version := current + 1

	f, err := os.Open(encPath)
	if err != nil {
		return 0, fmt.Errorf("opening encrypted snapshot: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat encrypted snapshot: %w", err)
	}

	if err := b.vault.PutSnapshot(b.deviceID, f, info.Size(), version); err != nil {
		return 0, fmt.Errorf("uploading snapshot: %w", err)
	}

	b.logger.Info("snapshot uploaded", "device_id", b.deviceID, "version", version, "size", info.Size())
	return version, nil
}

func (b *BackupService) encryptFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening snapshot: %w", err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("creating encrypted snapshot: %w", err)
	}

	if err := b.encryptor.Encrypt(in, out); err != nil {
		out.Close()
		return fmt.Errorf("encrypting snapshot: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("closing encrypted snapshot: %w", err)
	}
	return nil
}

// Version returns the version of the stored snapshot, or 0 if none.
func (b *BackupService) Version() (int64, error) {
	v, err := b.vault.SnapshotVersion(b.deviceID)
	if err != nil {
		return 0, fmt.Errorf("checking stored snapshot version: %w", err)
	}
	return v, nil
}

// Restore downloads the stored snapshot, decrypts it with passphrase, and
// atomically replaces destPath. The store at destPath must be closed.
func (b *BackupService) Restore(passphrase, destPath string) error {
	version, err := b.Version()
	if err != nil {
		return err
	}
	if version == 0 {
		return ErrNoSnapshot
	}

	dec, err := b.encryptor.Unlock(passphrase)
	if err != nil {
		return fmt.Errorf("unlocking private key: %w", err)
	}

	dir := filepath.Dir(destPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	encFile, err := os.CreateTemp(dir, ".tally-restore-*.age")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	encPath := encFile.Name()
	defer os.Remove(encPath)

	if err := b.vault.GetSnapshot(b.deviceID, encFile); err != nil {
		encFile.Close()
		return fmt.Errorf("downloading snapshot: %w", err)
	}
	if _, err := encFile.Seek(0, 0); err != nil {
		encFile.Close()
		return fmt.Errorf("rewinding snapshot: %w", err)
	}

	plainFile, err := os.CreateTemp(dir, ".tally-restore-*.db")
	if err != nil {
		encFile.Close()
		return fmt.Errorf("creating temp file: %w", err)
	}
	plainPath := plainFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(plainPath)
		}
	}()

	err = dec.Decrypt(encFile, plainFile)
	encFile.Close()
	if err != nil {
		plainFile.Close()
		return fmt.Errorf("decrypting snapshot: %w", err)
	}
	if err := plainFile.Close(); err != nil {
		return fmt.Errorf("closing restored snapshot: %w", err)
	}

	if err := os.Rename(plainPath, destPath); err != nil {
		return fmt.Errorf("replacing local store: %w", err)
	}
	success = true

	b.logger.Info("snapshot restored", "device_id", b.deviceID, "version", version, "path", destPath)
	return nil
}
