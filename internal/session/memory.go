package session

import (
	"sync"

	"tally-go/internal/tally"
)

// MemoryStore keeps the session in memory.
type MemoryStore struct {
	mu    sync.Mutex
	sess  tally.Session
	saves int
}

var _ tally.SessionStore = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Load() (*tally.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.sess
	sess.ExpiresAt = TokenExpiry(sess.Token)
	return &sess, nil
}

func (s *MemoryStore) Save(sess *tally.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sess = *sess
	s.saves++
	return nil
}

// Saves returns how many times Save was called.
func (s *MemoryStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}
