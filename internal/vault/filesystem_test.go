package vault

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewFileSystemVault(t *testing.T) {
	t.Run("creates directory structure", func(t *testing.T) {
		root := filepath.Join(t.TempDir(), "vault")

		v, err := NewFileSystemVault("test", root)
		if err != nil {
			t.Fatalf("NewFileSystemVault() error = %v", err)
		}

		if _, err := os.Stat(filepath.Join(root, "snapshots")); err != nil {
			t.Errorf("snapshots directory not created: %v", err)
		}
		if v.Name() != "test" {
			t.Errorf("Name() = %q, want %q", v.Name(), "test")
		}
	})

	t.Run("works with existing directory", func(t *testing.T) {
		if _, err := NewFileSystemVault("test", t.TempDir()); err != nil {
			t.Fatalf("NewFileSystemVault() error = %v", err)
		}
	})
}

func TestFileSystemVault_PutSnapshot(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		size    int64
		wantErr bool
	}{
		{name: "store snapshot", data: "hello world", size: 11},
		{name: "size mismatch", data: "hello", size: 10, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			v, err := NewFileSystemVault("test", root)
			if err != nil {
				t.Fatal(err)
			}

			err = v.PutSnapshot("device-1", strings.NewReader(tt.data), tt.size, 3)
			if (err != nil) != tt.wantErr {
				t.Fatalf("PutSnapshot() error = %v, wantErr %v", err, tt.wantErr)
			}

			snapshotPath := filepath.Join(root, "snapshots", "device-1.db.age")
			_, statErr := os.Stat(snapshotPath)
			if tt.wantErr {
				if statErr == nil {
					t.Error("snapshot file exists after failed put")
				}
				if got, _ := v.SnapshotVersion("device-1"); got != 0 {
					t.Errorf("SnapshotVersion() = %d after failed put, want 0", got)
				}
				return
			}
			if statErr != nil {
				t.Fatalf("snapshot file not written: %v", statErr)
			}

			var buf bytes.Buffer
			if err := v.GetSnapshot("device-1", &buf); err != nil {
				t.Fatalf("GetSnapshot() error = %v", err)
			}
			if buf.String() != tt.data {
				t.Errorf("GetSnapshot() = %q, want %q", buf.String(), tt.data)
			}
			if got, _ := v.SnapshotVersion("device-1"); got != 3 {
				t.Errorf("SnapshotVersion() = %d, want 3", got)
			}
		})
	}
}

func TestFileSystemVault_NoTempFilesLeft(t *testing.T) {
	root := t.TempDir()
	v, _ := NewFileSystemVault("test", root)

	v.PutSnapshot("device-1", strings.NewReader("abc"), 3, 1)
	v.PutSnapshot("device-1", strings.NewReader("abc"), 99, 2)

	entries, err := os.ReadDir(filepath.Join(root, "snapshots"))
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".tmp-") {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
	if got, _ := v.SnapshotVersion("device-1"); got != 1 {
		t.Errorf("SnapshotVersion() = %d, want 1", got)
	}
}

func TestFileSystemVault_SnapshotVersion(t *testing.T) {
	root := t.TempDir()
	v, _ := NewFileSystemVault("test", root)

	t.Run("missing is zero", func(t *testing.T) {
		got, err := v.SnapshotVersion("device-x")
		if err != nil {
			t.Fatalf("SnapshotVersion() error = %v", err)
		}
		if got != 0 {
			t.Errorf("SnapshotVersion() = %d, want 0", got)
		}
	})

	t.Run("corrupt version file", func(t *testing.T) {
		os.WriteFile(filepath.Join(root, "snapshots", "bad.version"), []byte("abc"), 0644)
		if _, err := v.SnapshotVersion("bad"); err == nil {
			t.Error("SnapshotVersion() error = nil, want parse error")
		}
	})
}

func TestFileSystemVault_GetMissing(t *testing.T) {
	v, _ := NewFileSystemVault("test", t.TempDir())
	var buf bytes.Buffer
	err := v.GetSnapshot("nobody", &buf)
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("GetSnapshot() error = %v, want not found", err)
	}
}

func TestFileSystemVault_ValidateSetup(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		v, _ := NewFileSystemVault("test", t.TempDir())
		if err := v.ValidateSetup(); err != nil {
			t.Errorf("ValidateSetup() error = %v", err)
		}
	})

	t.Run("root removed", func(t *testing.T) {
		root := filepath.Join(t.TempDir(), "vault")
		v, _ := NewFileSystemVault("test", root)
		os.RemoveAll(root)
		if err := v.ValidateSetup(); err == nil {
			t.Error("ValidateSetup() error = nil, want error")
		}
	})
}
