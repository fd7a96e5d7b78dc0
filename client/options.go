package client

import (
	"log/slog"
	"net/http"
	"time"
)

// Defaults for a Session
const (
	DefaultRefreshTimeout  = 10 * time.Second
	DefaultHTTPTimeout     = 30 * time.Second
	DefaultMinRefreshDelay = 5 * time.Second
)

// Endpoints are the auth routes relative to the API base URL
type Endpoints struct {
	Login   string
	Refresh string
	Logout  string
	Verify  string
}

// DefaultEndpoints returns the backend's standard auth routes
func DefaultEndpoints() Endpoints {
	return Endpoints{
		Login:   "/auth/login",
		Refresh: "/auth/refresh",
		Logout:  "/auth/logout",
		Verify:  "/auth/verify",
	}
}

// withDefaults fills unset routes
func (e Endpoints) withDefaults() Endpoints {
	d := DefaultEndpoints()
	if e.Login == "" {
		e.Login = d.Login
	}
	if e.Refresh == "" {
		e.Refresh = d.Refresh
	}
	if e.Logout == "" {
		e.Logout = d.Logout
	}
	if e.Verify == "" {
		e.Verify = d.Verify
	}
	return e
}

// Option configures a Session
type Option func(*Session)

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithLeadTime sets how long before expiry a token is refreshed proactively
func WithLeadTime(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.leadTime = d
		}
	}
}

// WithRefreshTimeout bounds each refresh network call
func WithRefreshTimeout(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.refreshTimeout = d
		}
	}
}

// WithMinRefreshDelay sets the shortest delay the proactive timer will use
func WithMinRefreshDelay(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.minRefreshDelay = d
		}
	}
}

// WithEndpoints overrides the auth routes
func WithEndpoints(e Endpoints) Option {
	return func(s *Session) {
		s.endpoints = e.withDefaults()
	}
}

// WithHTTPClient sets a custom base HTTP client (for timeouts, TLS config, etc.)
// The transport from this client will be wrapped with auth handling.
func WithHTTPClient(client *http.Client) Option {
	return func(s *Session) {
		if client == nil {
			return
		}
		if client.Transport != nil {
			s.baseTransport = client.Transport
		}
		s.httpTimeout = client.Timeout
		s.checkRedirect = client.CheckRedirect
		s.jar = client.Jar
	}
}

// WithTransport sets a custom base transport (for connection pooling, proxies, etc.)
func WithTransport(transport http.RoundTripper) Option {
	return func(s *Session) {
		if transport != nil {
			s.baseTransport = transport
		}
	}
}

// WithVerifyOnRestore makes Initialize re-fetch the profile from the verify
// endpoint after restoring a stored session
func WithVerifyOnRestore(verify bool) Option {
	return func(s *Session) {
		s.verifyOnRestore = verify
	}
}

// WithClock replaces time.Now, for tests
func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		if now != nil {
			s.now = now
		}
	}
}

// OnSessionExpired registers a callback that runs when a failed refresh ends
// the session. It runs on its own goroutine.
func OnSessionExpired(fn func(err error)) Option {
	return func(s *Session) {
		s.onExpired = fn
	}
}
