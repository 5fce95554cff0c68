// Package qr holds the latest pairing artifact for each session.
package qr

import "sync"

// Store keeps at most one artifact per session. An artifact is present only
// while its session is waiting to be scanned; callers clear it on every
// transition out of that state.
type Store struct {
	mu    sync.RWMutex
	codes map[string][]byte
}

func NewStore() *Store {
	return &Store{codes: make(map[string][]byte)}
}

// Put replaces the artifact for sessionID.
func (s *Store) Put(sessionID string, code []byte) {
	cp := make([]byte, len(code))
	copy(cp, code)

	s.mu.Lock()
	s.codes[sessionID] = cp
	s.mu.Unlock()
}

// Get returns the artifact, or false when none is available.
func (s *Store) Get(sessionID string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	code, ok := s.codes[sessionID]
	return code, ok
}

func (s *Store) Clear(sessionID string) {
	s.mu.Lock()
	delete(s.codes, sessionID)
	s.mu.Unlock()
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.codes)
}
