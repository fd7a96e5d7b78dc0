package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/panyam/possession"
)

// Refresher performs the refresh network call. *AuthAPI implements it.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (possession.TokenPair, *possession.UserProfile, error)
}

// CoordinatorHooks let the owner of the session state follow the coordinator.
// Both run with the coordinator lock held and must not call back into it.
type CoordinatorHooks struct {
	// OnRefreshed runs after a refreshed pair has been stored
	OnRefreshed func(gen uint64, tokens possession.TokenPair, user *possession.UserProfile)

	// OnAuthFailure runs after an auth-fatal refresh failure cleared the store
	OnAuthFailure func(err error)
}

// Coordinator makes sure at most one refresh call is outstanding. Callers
// that ask for a refresh while one is running wait for that call and get
// its result.
//
// It also serializes every write of the token pair. Establish (login) and
// End (logout) bump a generation counter; a refresh that started under an
// older generation is discarded when it completes, so logout always wins.
type Coordinator struct {
	store     possession.CredentialStore
	refresher Refresher
	hooks     CoordinatorHooks
	timeout   time.Duration
	leadTime  time.Duration
	now       func() time.Time
	logger    *slog.Logger

	group singleflight.Group

	mu  sync.Mutex
	gen uint64

	inFlight atomic.Bool
	waiters  atomic.Int32
	calls    atomic.Int64
}

// NewCoordinator creates a Coordinator
func NewCoordinator(store possession.CredentialStore, refresher Refresher, hooks CoordinatorHooks) *Coordinator {
	return &Coordinator{
		store:     store,
		refresher: refresher,
		hooks:     hooks,
		timeout:   DefaultRefreshTimeout,
		leadTime:  possession.DefaultLeadTime,
		now:       time.Now,
		logger:    slog.Default(),
	}
}

// Refresh returns a fresh access token. stale is the token the caller found
// unusable; if the store already holds a different, non-expiring token the
// caller lost a race to a refresh that just finished and gets that token
// without another network call. Pass "" to force a refresh.
//
// The network call runs with its own timeout and is not cancelled when ctx
// is; ctx only bounds how long this caller waits.
func (c *Coordinator) Refresh(ctx context.Context, stale string) (string, error) {
	gen := c.Generation()
	key := "refresh:" + strconv.FormatUint(gen, 10)

	c.waiters.Add(1)
	defer c.waiters.Add(-1)

	flightCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		return c.run(flightCtx, gen, stale)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// run is the body of a single flight
func (c *Coordinator) run(ctx context.Context, gen uint64, stale string) (string, error) {
	c.inFlight.Store(true)
	defer c.inFlight.Store(false)

	stored, err := c.store.Load(ctx)
	if err != nil {
		// An unreadable store says nothing about the refresh token; don't log out over it
		c.logger.Warn("failed to read credential store before refresh", "err", err)
		return "", possession.NewRefreshError(possession.RefreshNetworkError, 0, "credential store unavailable", err)
	}
	if stored == nil || stored.Tokens.RefreshToken == "" {
		return "", c.fail(ctx, gen, possession.NewRefreshError(possession.NoRefreshToken, 0, "", nil))
	}

	current := stored.Tokens.AccessToken
	if stale != "" && current != stale && !possession.IsExpiringSoon(current, c.now(), possession.EffectiveLead(current, c.leadTime)) {
		return current, nil
	}

	rctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	c.calls.Add(1)
	tokens, user, err := c.refresher.Refresh(rctx, stored.Tokens.RefreshToken)
	if err != nil {
		var rerr *possession.RefreshError
		if !errors.As(err, &rerr) {
			rerr = possession.NewRefreshError(possession.RefreshNetworkError, 0, "", err)
		}
		return "", c.fail(ctx, gen, rerr)
	}
	if user == nil {
		user = stored.User
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		c.logger.Info("discarding refresh result for ended session")
		return "", possession.ErrSessionEnded
	}
	if err := c.store.Save(ctx, tokens, user); err != nil {
		return "", fmt.Errorf("failed to store refreshed tokens: %w", err)
	}
	if c.hooks.OnRefreshed != nil {
		c.hooks.OnRefreshed(gen, tokens, user)
	}
	return tokens.AccessToken, nil
}

// fail tears the session down for auth-fatal errors. Transient errors leave
// everything in place so the next request or timer tick can try again. A
// failure for a generation that has already ended reports ErrSessionEnded.
func (c *Coordinator) fail(ctx context.Context, gen uint64, err *possession.RefreshError) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return possession.ErrSessionEnded
	}
	if !err.AuthFatal() {
		c.logger.Warn("token refresh failed, keeping session", "err", err)
		return err
	}

	c.gen++
	c.logger.Warn("token refresh rejected, ending session", "kind", err.Kind.String(), "status", err.StatusCode)
	if cerr := c.store.Clear(ctx); cerr != nil {
		c.logger.Error("failed to clear credential store", "err", cerr)
	}
	if c.hooks.OnAuthFailure != nil {
		c.hooks.OnAuthFailure(err)
	}
	return err
}

// Establish stores a new session (login) and starts a new generation.
// apply runs under the coordinator lock with the new generation.
func (c *Coordinator) Establish(ctx context.Context, tokens possession.TokenPair, user *possession.UserProfile, apply func(gen uint64)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	if err := c.store.Save(ctx, tokens, user); err != nil {
		return err
	}
	if apply != nil {
		apply(c.gen)
	}
	return nil
}

// End clears the store (logout) and starts a new generation so no in-flight
// refresh can bring the session back. It returns what was stored.
func (c *Coordinator) End(ctx context.Context, apply func()) (*possession.StoredSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++

	stored, err := c.store.Load(ctx)
	if err != nil {
		c.logger.Warn("failed to read credential store during logout", "err", err)
	}
	cerr := c.store.Clear(ctx)
	if apply != nil {
		apply()
	}
	return stored, cerr
}

// WithLock runs fn under the coordinator lock with the current generation,
// for state changes that must not interleave with a refresh being applied
func (c *Coordinator) WithLock(fn func(gen uint64)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(c.gen)
}

// Generation returns the current session generation
func (c *Coordinator) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

// InFlight returns true while a refresh network call is outstanding
func (c *Coordinator) InFlight() bool { return c.inFlight.Load() }

// Waiters returns how many callers are currently waiting on a refresh
func (c *Coordinator) Waiters() int { return int(c.waiters.Load()) }

// Calls returns how many refresh network calls have been made
func (c *Coordinator) Calls() int64 { return c.calls.Load() }
