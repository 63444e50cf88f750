package session

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/golang-jwt/jwt/v5"

	"tally-go/internal/tally"
)

// FileStore persists the session as a TOML file.
type FileStore struct {
	path string
}

var _ tally.SessionStore = (*FileStore)(nil)

// NewFileStore creates a store for the session file at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the session file path.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads the session file. A missing file is a signed-out session.
func (s *FileStore) Load() (*tally.Session, error) {
	var sess tally.Session
	if _, err := toml.DecodeFile(s.path, &sess); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &tally.Session{}, nil
		}
		return nil, fmt.Errorf("reading session from %s: %w", s.path, err)
	}
	sess.ExpiresAt = TokenExpiry(sess.Token)
	return &sess, nil
}

// Save replaces the session file atomically. The file is only readable by
// the owner since it holds the token.
func (s *FileStore) Save(sess *tally.Session) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("creating session directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".session-*.toml")
	if err != nil {
		return fmt.Errorf("creating temp session file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return fmt.Errorf("setting session file mode: %w", err)
	}
	if err := toml.NewEncoder(tmp).Encode(sess); err != nil {
		tmp.Close()
		return fmt.Errorf("encoding session: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing session file: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("replacing session file: %w", err)
	}
	return nil
}

// TokenExpiry returns the exp claim of a JWT, or the zero time when the token
// is not a JWT or carries no expiry. The signature is not verified; the
// server remains the authority and answers 401 for a bad token.
func TokenExpiry(token string) time.Time {
	if token == "" {
		return time.Time{}
	}

	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}
