package session

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"tally-go/internal/tally"
)

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	claims := jwt.RegisteredClaims{Subject: "ana", ExpiresAt: jwt.NewNumericDate(exp)}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("k"))
	if err != nil {
		t.Fatal(err)
	}
	return token
}

func TestFileStore_LoadMissing(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "session.toml"))

	sess, err := s.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if sess.SignedIn {
		t.Error("SignedIn = true, want false for missing file")
	}
}

func TestFileStore_SaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "session.toml")
	s := NewFileStore(path)

	exp := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	signedInAt := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	want := &tally.Session{
		SignedIn:   true,
		Username:   "ana",
		Token:      signedToken(t, exp),
		SignedInAt: signedInAt,
	}

	if err := s.Save(want); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("session file not written: %v", err)
	}
	if mode := info.Mode().Perm(); mode != 0600 {
		t.Errorf("file mode = %o, want 600", mode)
	}

	got, err := s.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !got.SignedIn || got.Username != "ana" || got.Token != want.Token {
		t.Errorf("Load() = %+v, want %+v", got, want)
	}
	if !got.SignedInAt.Equal(signedInAt) {
		t.Errorf("SignedInAt = %v, want %v", got.SignedInAt, signedInAt)
	}
	if !got.ExpiresAt.Equal(exp) {
		t.Errorf("ExpiresAt = %v, want %v", got.ExpiresAt, exp)
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("directory has %d entries, want only the session file", len(entries))
	}
}

func TestFileStore_LoadCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.toml")
	if err := os.WriteFile(path, []byte("signed_in = maybe"), 0600); err != nil {
		t.Fatal(err)
	}

	if _, err := NewFileStore(path).Load(); err == nil {
		t.Error("Load() error = nil, want decode error")
	}
}

func TestTokenExpiry(t *testing.T) {
	exp := time.Date(2030, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		token string
		want  time.Time
	}{
		{"empty", "", time.Time{}},
		{"opaque token", "not-a-jwt", time.Time{}},
		{"jwt with exp", signedToken(t, exp), exp},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TokenExpiry(tt.token); !got.Equal(tt.want) {
				t.Errorf("TokenExpiry() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSessionActive(t *testing.T) {
	now := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

	tests := []struct {
		name string
		sess *tally.Session
		want bool
	}{
		{"nil", nil, false},
		{"signed out", &tally.Session{}, false},
		{"no expiry", &tally.Session{SignedIn: true}, true},
		{"unexpired", &tally.Session{SignedIn: true, ExpiresAt: now.Add(time.Minute)}, true},
		{"expired", &tally.Session{SignedIn: true, ExpiresAt: now.Add(-time.Minute)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.sess.Active(now); got != tt.want {
				t.Errorf("Active() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()

	sess, _ := s.Load()
	if sess.SignedIn {
		t.Error("initial SignedIn = true, want false")
	}

	if err := s.Save(&tally.Session{SignedIn: true, Username: "ana"}); err != nil {
		t.Fatal(err)
	}
	sess, _ = s.Load()
	if !sess.SignedIn || sess.Username != "ana" {
		t.Errorf("Load() = %+v, want signed in as ana", sess)
	}

	sess.Username = "mutated"
	again, _ := s.Load()
	if again.Username != "ana" {
		t.Errorf("stored session aliased caller's copy: Username = %q", again.Username)
	}
	if s.Saves() != 1 {
		t.Errorf("Saves() = %d, want 1", s.Saves())
	}
}

func TestWatcher(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.toml")
	store := NewFileStore(path)
	if err := store.Save(&tally.Session{SignedIn: true, Username: "ana"}); err != nil {
		t.Fatal(err)
	}

	w, err := NewWatcher(store, tally.NewNopLogger())
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer w.Stop()

	if err := w.Start(); err == nil {
		t.Error("second Start() error = nil, want error")
	}

	// Another process signs out.
	if err := NewFileStore(path).Save(&tally.Session{}); err != nil {
		t.Fatal(err)
	}

	timeout := time.After(5 * time.Second)
	for {
		select {
		case sess := <-w.Sessions():
			if !sess.SignedIn {
				return
			}
		case err := <-w.Errors():
			t.Fatalf("watcher error: %v", err)
		case <-timeout:
			t.Fatal("no signed-out session observed within 5s")
		}
	}
}

func TestWatcher_StopIdempotent(t *testing.T) {
	w, err := NewWatcher(NewFileStore(filepath.Join(t.TempDir(), "session.toml")), tally.NewNopLogger())
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	if err := w.Stop(); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
	if err := w.Stop(); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}
}
