// Package scs keeps the POS session inside an HTTP session managed by
// alexedwards/scs. A backend-for-frontend uses it to hold each browser's
// token pair server side, behind the session cookie.
//
//	sm := scs.New()
//	h := sm.LoadAndSave(mux)
//
//	func handler(w http.ResponseWriter, r *http.Request) {
//		store := scsstore.New(sm).For(r.Context())
//		sess := client.NewSession(baseURL, store)
//		...
//	}
package scs

import (
	"context"
	"log/slog"
	"sync"

	"github.com/alexedwards/scs/v2"

	"github.com/panyam/possession"
)

// Manager creates credential stores bound to scs sessions
type Manager struct {
	sm     *scs.SessionManager
	prefix string
	logger *slog.Logger

	mu sync.Mutex
}

// New wraps a session manager. Keys are stored as "pos.tokens" and "pos.user".
func New(sm *scs.SessionManager) *Manager {
	return &Manager{sm: sm, prefix: "pos.", logger: slog.Default()}
}

// WithLogger sets the logger used to report corrupt entries
func (m *Manager) WithLogger(logger *slog.Logger) *Manager {
	if logger != nil {
		m.logger = logger
	}
	return m
}

// For returns a store bound to the scs session loaded into ctx. The bound
// context is used for every call, so the store keeps working from the
// refresh timer and other goroutines that do not carry the request context.
func (m *Manager) For(ctx context.Context) *CredentialStore {
	return &CredentialStore{m: m, sessionCtx: ctx}
}

// CredentialStore is a possession.CredentialStore over one scs session
type CredentialStore struct {
	m          *Manager
	sessionCtx context.Context
}

var _ possession.CredentialStore = (*CredentialStore)(nil)

func (s *CredentialStore) key(field string) string {
	return s.m.prefix + field
}

func (s *CredentialStore) Save(_ context.Context, tokens possession.TokenPair, user *possession.UserProfile) error {
	tokensJSON, userJSON, err := possession.EncodeSession(tokens, user)
	if err != nil {
		return err
	}

	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	s.m.sm.Put(s.sessionCtx, s.key(possession.KeyTokens), tokensJSON)
	if userJSON != nil {
		s.m.sm.Put(s.sessionCtx, s.key(possession.KeyUser), userJSON)
	} else {
		s.m.sm.Remove(s.sessionCtx, s.key(possession.KeyUser))
	}
	return nil
}

func (s *CredentialStore) Load(_ context.Context) (*possession.StoredSession, error) {
	s.m.mu.Lock()
	tokensJSON := s.m.sm.GetBytes(s.sessionCtx, s.key(possession.KeyTokens))
	userJSON := s.m.sm.GetBytes(s.sessionCtx, s.key(possession.KeyUser))
	s.m.mu.Unlock()

	stored, err := possession.DecodeSession(tokensJSON, userJSON)
	if err != nil {
		s.m.logger.Warn("ignoring corrupt stored session", "err", err)
		return nil, nil
	}
	return stored, nil
}

func (s *CredentialStore) Clear(_ context.Context) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	s.m.sm.Remove(s.sessionCtx, s.key(possession.KeyTokens))
	s.m.sm.Remove(s.sessionCtx, s.key(possession.KeyUser))
	return nil
}
