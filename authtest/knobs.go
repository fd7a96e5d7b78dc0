package authtest

import (
	"time"
)

// SetAccessTokenExpiry sets the lifetime of tokens issued from now on
func (s *Server) SetAccessTokenExpiry(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessTTL = d
}

// SetRotateRefreshTokens controls whether each refresh invalidates the
// refresh token it used (the default) or keeps it
func (s *Server) SetRotateRefreshTokens(rotate bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rotate = rotate
}

// FailRefresh makes the refresh endpoint answer status; 0 restores normal behaviour
func (s *Server) FailRefresh(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshStatus = status
}

// SetRefreshMalformed makes the refresh endpoint answer 200 without a usable pair
func (s *Server) SetRefreshMalformed(malformed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshMalformed = malformed
}

// SetRefreshDelay slows every refresh down by d
func (s *Server) SetRefreshDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshDelay = d
}

// HoldRefresh makes refresh requests block until the returned release func
// is called. Calling release more than once is fine.
func (s *Server) HoldRefresh() (release func()) {
	gate := make(chan struct{})
	s.mu.Lock()
	s.refreshGate = gate
	s.mu.Unlock()

	released := false
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if !released {
			released = true
			close(gate)
			if s.refreshGate == gate {
				s.refreshGate = nil
			}
		}
	}
}

// SetRejectAll makes every protected endpoint answer 401 regardless of token
func (s *Server) SetRejectAll(reject bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejectAll = reject
}

// SetWrapLogin wraps login responses in {success, data:{user, tokens}}
func (s *Server) SetWrapLogin(wrap bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wrapLogin = wrap
}

// SetOmitUser leaves the user out of login responses
func (s *Server) SetOmitUser(omit bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.omitUser = omit
}

// RevokeAll invalidates every refresh token
func (s *Server) RevokeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshTokens = make(map[string]refreshRecord)
}

// ActiveRefreshTokens returns how many refresh tokens are currently valid
func (s *Server) ActiveRefreshTokens() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.refreshTokens)
}

// LoginCalls returns how many login requests were received
func (s *Server) LoginCalls() int { return int(s.loginCalls.Load()) }

// RefreshCalls returns how many refresh requests were received
func (s *Server) RefreshCalls() int { return int(s.refreshCalls.Load()) }

// LogoutCalls returns how many logout requests were received
func (s *Server) LogoutCalls() int { return int(s.logoutCalls.Load()) }

// VerifyCalls returns how many verify requests were answered
func (s *Server) VerifyCalls() int { return int(s.verifyCalls.Load()) }

// APICalls returns how many requests reached protected endpoints (including verify)
func (s *Server) APICalls() int { return int(s.apiCalls.Load()) }

// SeenTokens returns the bearer tokens presented to protected endpoints, in order
func (s *Server) SeenTokens() []string {
	s.seenMu.Lock()
	defer s.seenMu.Unlock()
	return append([]string(nil), s.seenTokens...)
}
