// Package mem provides an in-memory credential store, for tests and for
// processes that should not persist a session.
package mem

import (
	"context"
	"sync"

	"github.com/panyam/possession"
)

// CredentialStore keeps the session in process memory
type CredentialStore struct {
	mu     sync.RWMutex
	tokens possession.TokenPair
	user   *possession.UserProfile
	has    bool

	saves int
}

var _ possession.CredentialStore = (*CredentialStore)(nil)

// New creates an empty store
func New() *CredentialStore {
	return &CredentialStore{}
}

func (s *CredentialStore) Save(ctx context.Context, tokens possession.TokenPair, user *possession.UserProfile) error {
	if !tokens.Valid() {
		return possession.ErrInvalidTokenPair
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = tokens
	s.user = user.Clone()
	s.has = true
	s.saves++
	return nil
}

func (s *CredentialStore) Load(ctx context.Context) (*possession.StoredSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.has {
		return nil, nil
	}
	return &possession.StoredSession{Tokens: s.tokens, User: s.user.Clone()}, nil
}

func (s *CredentialStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = possession.TokenPair{}
	s.user = nil
	s.has = false
	return nil
}

// Saves returns how many times Save succeeded
func (s *CredentialStore) Saves() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saves
}
