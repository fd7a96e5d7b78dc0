package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panyam/possession"
)

// DefaultBaseURL is the backend API root used when none is configured
const DefaultBaseURL = "http://localhost:5000/api"

// logoutTimeout bounds the best-effort logout call
const logoutTimeout = 5 * time.Second

// Status is the session lifecycle status
type Status string

const (
	StatusInitializing    Status = "initializing"
	StatusAuthenticated   Status = "authenticated"
	StatusUnauthenticated Status = "unauthenticated"
)

// State is a snapshot of the session
type State struct {
	User            *possession.UserProfile
	Tokens          *possession.TokenPair
	Status          Status
	Err             error
	RefreshInFlight bool
}

// LoginResult is what Login reports for expected failures (bad credentials,
// server down). Unexpected failures are returned as errors instead.
type LoginResult struct {
	Success bool
	User    *possession.UserProfile
	Reason  string
	Err     error
}

// Session owns the authenticated state of one user against one backend.
//
// It wires together the credential store, the refresh coordinator, the auth
// transport and the proactive refresh timer. Everything that talks to the
// backend on the user's behalf should use HTTPClient() or API() so requests
// carry the bearer token and take part in refresh.
//
// All methods are safe for concurrent use.
type Session struct {
	baseURL string
	store   possession.CredentialStore

	logger          *slog.Logger
	leadTime        time.Duration
	refreshTimeout  time.Duration
	minRefreshDelay time.Duration
	endpoints       Endpoints
	baseTransport   http.RoundTripper
	httpTimeout     time.Duration
	checkRedirect   func(req *http.Request, via []*http.Request) error
	jar             http.CookieJar
	verifyOnRestore bool
	now             func() time.Time
	onExpired       func(err error)

	coord      *Coordinator
	transport  *Transport
	httpClient *http.Client
	auth       *AuthAPI
	api        *APIClient
	timer      *refreshTimer

	mu     sync.RWMutex
	user   *possession.UserProfile
	tokens *possession.TokenPair
	status Status
	err    error

	logins atomic.Int32

	initOnce sync.Once
	ready    chan struct{}
}

// NewSession creates a session against the API rooted at baseURL, persisting
// credentials in store. Call Initialize before relying on Status.
func NewSession(baseURL string, store possession.CredentialStore, opts ...Option) *Session {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	s := &Session{
		baseURL:         normalizeBaseURL(baseURL),
		store:           store,
		logger:          slog.Default(),
		leadTime:        possession.DefaultLeadTime,
		refreshTimeout:  DefaultRefreshTimeout,
		minRefreshDelay: DefaultMinRefreshDelay,
		endpoints:       DefaultEndpoints(),
		baseTransport:   http.DefaultTransport,
		httpTimeout:     DefaultHTTPTimeout,
		now:             time.Now,
		status:          StatusInitializing,
		ready:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	direct := &http.Client{Transport: s.baseTransport, Timeout: s.refreshTimeout}
	s.auth = NewAuthAPI(s.baseURL, s.endpoints, nil, direct)

	s.coord = NewCoordinator(store, s.auth, CoordinatorHooks{
		OnRefreshed:   s.applyRefresh,
		OnAuthFailure: s.applyAuthFailure,
	})
	s.coord.timeout = s.refreshTimeout
	s.coord.leadTime = s.leadTime
	s.coord.now = s.now
	s.coord.logger = s.logger

	s.transport = NewTransport(s.baseTransport, store, s.coord)
	s.transport.leadTime = s.leadTime
	s.transport.now = s.now
	s.transport.logger = s.logger

	s.httpClient = &http.Client{
		Transport:     s.transport,
		Timeout:       s.httpTimeout,
		CheckRedirect: s.checkRedirect,
		Jar:           s.jar,
	}
	s.auth.gateway = s.httpClient
	s.api = NewAPIClient(s.baseURL, s.httpClient)
	s.timer = newRefreshTimer(s.onTimer)
	return s
}

// Login exchanges credentials for a session. Rejected credentials and network
// failures come back as an unsuccessful LoginResult; a malformed success
// response or a store failure is returned as an error.
func (s *Session) Login(ctx context.Context, creds possession.Credentials) (LoginResult, error) {
	s.logins.Add(1)
	defer s.logins.Add(-1)

	if err := creds.Validate(); err != nil {
		s.setError(err)
		return LoginResult{Reason: err.Error(), Err: err}, nil
	}

	lctx, cancel := context.WithTimeout(ctx, s.refreshTimeout)
	defer cancel()

	tokens, user, err := s.auth.Login(lctx, creds)
	if err != nil {
		var apiErr *APIError
		switch {
		case errors.As(err, &apiErr):
			s.setError(apiErr)
			return LoginResult{Reason: apiErr.Error(), Err: apiErr}, nil
		case errors.Is(err, ErrNetwork), errors.Is(err, context.DeadlineExceeded):
			s.setError(err)
			return LoginResult{Reason: ErrNetwork.Error(), Err: err}, nil
		}
		s.setError(err)
		return LoginResult{}, err
	}

	user = resolveUser(user, nil, tokens.AccessToken)
	if user == nil {
		err := fmt.Errorf("%w: login response has no user", ErrMalformedResponse)
		s.setError(err)
		return LoginResult{}, err
	}

	err = s.coord.Establish(ctx, tokens, user, func(gen uint64) {
		s.mu.Lock()
		s.setAuthenticated(tokens, user)
		s.mu.Unlock()
		s.armFor(tokens, gen)
	})
	if err != nil {
		err = fmt.Errorf("failed to store session: %w", err)
		s.setError(err)
		return LoginResult{}, err
	}

	s.logger.Info("logged in", "user", user.ID, "role", string(user.Role))
	return LoginResult{Success: true, User: user.Clone()}, nil
}

// Logout ends the session. The server is told to revoke the refresh token on
// a best-effort basis; the local teardown always happens. Calling it again,
// or while a refresh is running, leaves the session logged out.
func (s *Session) Logout(ctx context.Context) {
	s.timer.Stop()

	refreshToken := ""
	s.mu.RLock()
	if s.tokens != nil {
		refreshToken = s.tokens.RefreshToken
	}
	s.mu.RUnlock()
	if refreshToken == "" {
		if stored, err := s.store.Load(ctx); err == nil && stored != nil {
			refreshToken = stored.Tokens.RefreshToken
		}
	}

	if refreshToken != "" {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), logoutTimeout)
		if err := s.auth.Logout(lctx, refreshToken); err != nil {
			s.logger.Warn("logout request failed", "err", err)
		}
		cancel()
	}

	_, err := s.coord.End(ctx, func() {
		s.timer.Stop()
		s.mu.Lock()
		s.clearState(nil)
		s.mu.Unlock()
	})
	if err != nil {
		s.logger.Error("failed to clear credential store", "err", err)
	}
}

// Initialize restores a stored session. It runs once; later calls return the
// current status. A stored session whose access token has expired is
// refreshed before the status is decided.
func (s *Session) Initialize(ctx context.Context) Status {
	s.initOnce.Do(func() {
		defer close(s.ready)
		s.restore(ctx)
		s.mu.Lock()
		if s.status == StatusInitializing {
			s.status = StatusUnauthenticated
		}
		s.mu.Unlock()
	})
	return s.Status()
}

func (s *Session) restore(ctx context.Context) {
	// A Logout that lands while the store is being read bumps the generation;
	// nothing read before it may be applied after it.
	gen := s.coord.Generation()
	stored, err := s.store.Load(ctx)
	if err != nil {
		s.logger.Warn("failed to read credential store", "err", err)
		return
	}
	if stored == nil {
		return
	}

	tokens := stored.Tokens
	user := resolveUser(stored.User, nil, tokens.AccessToken)
	s.coord.WithLock(func(current uint64) {
		if current != gen {
			return
		}
		s.mu.Lock()
		s.user = user
		s.mu.Unlock()
	})

	if possession.IsExpired(tokens.AccessToken, s.now()) {
		if _, err := s.coord.Refresh(ctx, tokens.AccessToken); err != nil {
			if possession.IsAuthFatal(err) || errors.Is(err, possession.ErrSessionEnded) {
				s.logger.Info("stored session could not be refreshed", "err", err)
				return
			}
			// Keep the session; the timer and the next request will retry
			s.logger.Warn("refresh during restore failed, keeping session", "err", err)
			s.coord.WithLock(func(current uint64) {
				if current != gen || user == nil {
					return
				}
				s.mu.Lock()
				s.setAuthenticated(tokens, user)
				s.mu.Unlock()
				s.timer.Arm(s.minRefreshDelay, gen)
			})
		}
	} else {
		if user == nil {
			s.logger.Warn("stored session has no usable profile, discarding")
			s.coord.WithLock(func(current uint64) {
				if current != gen {
					return
				}
				if err := s.store.Clear(ctx); err != nil {
					s.logger.Error("failed to clear credential store", "err", err)
				}
			})
			return
		}
		s.coord.WithLock(func(current uint64) {
			if current != gen {
				s.logger.Info("session ended while restoring, not restoring it")
				return
			}
			s.mu.Lock()
			s.setAuthenticated(tokens, user)
			s.mu.Unlock()
			s.armFor(tokens, gen)
		})
	}

	if s.verifyOnRestore && s.IsAuthenticated() {
		s.verify(ctx)
	}
}

// verify refetches the profile for a restored session. A 401 that survived
// the transport's own refresh-and-retry ends the session.
func (s *Session) verify(ctx context.Context) {
	gen := s.coord.Generation()
	user, err := s.auth.Verify(ctx)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.IsUnauthorized() {
			s.logger.Info("restored session rejected by server")
			s.Logout(ctx)
			return
		}
		s.logger.Warn("session verification failed", "err", err)
		return
	}
	user = resolveUser(user, nil, "")
	s.coord.WithLock(func(current uint64) {
		if current != gen {
			return
		}
		s.mu.Lock()
		if s.status == StatusAuthenticated {
			s.user = user
		}
		s.mu.Unlock()
	})
}

// Ready is closed once Initialize has finished
func (s *Session) Ready() <-chan struct{} { return s.ready }

// WaitReady blocks until Initialize has finished or ctx is done
func (s *Session) WaitReady(ctx context.Context) (Status, error) {
	select {
	case <-s.ready:
		return s.Status(), nil
	case <-ctx.Done():
		return s.Status(), ctx.Err()
	}
}

// CurrentUser returns a copy of the logged in user, or nil
func (s *Session) CurrentUser() *possession.UserProfile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.status != StatusAuthenticated {
		return nil
	}
	return s.user.Clone()
}

// IsAuthenticated returns true when a user is logged in
func (s *Session) IsAuthenticated() bool {
	return s.Status() == StatusAuthenticated
}

// IsLoading returns true while initializing or logging in
func (s *Session) IsLoading() bool {
	return s.Status() == StatusInitializing || s.logins.Load() > 0
}

// Error returns the last login or session error
func (s *Session) Error() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// ClearError resets Error
func (s *Session) ClearError() {
	s.mu.Lock()
	s.err = nil
	s.mu.Unlock()
}

// Status returns the lifecycle status
func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// State returns a snapshot of the whole session
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := State{Status: s.status, Err: s.err, RefreshInFlight: s.coord.InFlight()}
	if s.status == StatusAuthenticated {
		st.User = s.user.Clone()
		tokens := *s.tokens
		st.Tokens = &tokens
	}
	return st
}

// HTTPClient returns a client whose requests carry the session's bearer token
func (s *Session) HTTPClient() *http.Client { return s.httpClient }

// API returns a JSON client for business endpoints
func (s *Session) API() *APIClient { return s.api }

// BaseURL returns the API root
func (s *Session) BaseURL() string { return s.baseURL }

// AccessToken returns a usable access token, refreshing first if the stored
// one is expiring. Returns ErrNotAuthenticated when there is no session.
func (s *Session) AccessToken(ctx context.Context) (string, error) {
	token, err := s.transport.AccessToken(ctx)
	if err != nil {
		return "", err
	}
	if token == "" {
		return "", possession.ErrNotAuthenticated
	}
	return token, nil
}

// Refresh returns a new access token. stale is the token a call was rejected
// with; if a refresh has already replaced it, the stored token comes back
// without another network call. An empty stale forces a refresh.
func (s *Session) Refresh(ctx context.Context, stale string) (string, error) {
	stored, err := s.store.Load(ctx)
	if err != nil {
		return "", err
	}
	if stored == nil {
		return "", possession.ErrNotAuthenticated
	}
	if stale == "" {
		stale = stored.Tokens.AccessToken
	}
	return s.coord.Refresh(ctx, stale)
}

// RequireRole returns ErrNotAuthenticated without a session and ErrForbidden
// when the user has none of roles. No roles admits any logged in user.
func (s *Session) RequireRole(roles ...possession.Role) error {
	user := s.CurrentUser()
	if user == nil {
		return possession.ErrNotAuthenticated
	}
	if !user.HasRole(roles...) {
		return fmt.Errorf("%w: role %q", possession.ErrForbidden, user.Role)
	}
	return nil
}

// Close stops the proactive timer. The stored session is left in place.
func (s *Session) Close() error {
	s.timer.Close()
	return nil
}

// applyRefresh runs under the coordinator lock after a refresh was stored
func (s *Session) applyRefresh(gen uint64, tokens possession.TokenPair, user *possession.UserProfile) {
	s.mu.Lock()
	user = resolveUser(user, s.user, tokens.AccessToken)
	if user != nil {
		s.setAuthenticated(tokens, user)
	}
	s.mu.Unlock()
	if user == nil {
		s.logger.Warn("refreshed session has no usable profile, not scheduling another refresh")
		return
	}
	s.armFor(tokens, gen)
}

// applyAuthFailure runs under the coordinator lock after a fatal refresh failure
func (s *Session) applyAuthFailure(err error) {
	s.timer.Stop()
	s.mu.Lock()
	wasAuthenticated := s.status == StatusAuthenticated
	s.clearState(err)
	s.mu.Unlock()
	if wasAuthenticated && s.onExpired != nil {
		go s.onExpired(err)
	}
}

// onTimer is the proactive refresh tick
func (s *Session) onTimer(gen uint64) {
	if s.coord.Generation() != gen {
		return
	}
	ctx := context.Background()
	if _, err := s.Refresh(ctx, ""); err != nil {
		if possession.IsTransient(err) {
			s.logger.Warn("proactive refresh failed, will retry", "err", err, "delay", s.minRefreshDelay)
			s.coord.WithLock(func(current uint64) {
				if current == gen {
					s.timer.Arm(s.minRefreshDelay, gen)
				}
			})
			return
		}
		s.logger.Info("proactive refresh failed", "err", err)
	}
}

func (s *Session) armFor(tokens possession.TokenPair, gen uint64) {
	d := refreshDelay(tokens, s.now(), s.leadTime, s.minRefreshDelay)
	s.logger.Debug("proactive refresh scheduled", "delay", d)
	s.timer.Arm(d, gen)
}

// setAuthenticated must be called with s.mu held
func (s *Session) setAuthenticated(tokens possession.TokenPair, user *possession.UserProfile) {
	s.tokens = &tokens
	s.user = user
	s.status = StatusAuthenticated
	s.err = nil
}

// clearState must be called with s.mu held
func (s *Session) clearState(err error) {
	s.tokens = nil
	s.user = nil
	s.status = StatusUnauthenticated
	s.err = err
}

func (s *Session) setError(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// resolveUser picks the profile to use: the server's, then the cached one,
// then one rebuilt from the access token's claims
func resolveUser(fromServer, cached *possession.UserProfile, accessToken string) *possession.UserProfile {
	user := fromServer
	if user == nil {
		user = cached
	}
	if user == nil && accessToken != "" {
		if p, err := possession.ProfileFromToken(accessToken); err == nil {
			user = p
		}
	}
	if user == nil {
		return nil
	}
	user = user.Clone()
	user.Role = user.Role.Normalize()
	return user
}
