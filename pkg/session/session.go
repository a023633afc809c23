// Package session tracks which aggregator account the gateway acts for.
package session

import (
	"strings"
	"sync"
)

// Session holds the acting aggregator id. The zero value is signed out.
type Session struct {
	mu      sync.RWMutex
	ownerID string
}

func New(ownerID string) *Session {
	s := &Session{}
	s.SignIn(ownerID)
	return s
}

// OwnerID reports false while nobody is signed in.
func (s *Session) OwnerID() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ownerID, s.ownerID != ""
}

// SignIn replaces the acting owner. A blank id signs out.
func (s *Session) SignIn(ownerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ownerID = strings.TrimSpace(ownerID)
}

func (s *Session) SignOut() {
	s.SignIn("")
}
