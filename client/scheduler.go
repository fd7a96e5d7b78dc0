package client

import (
	"sync"
	"time"

	"github.com/panyam/possession"
)

// refreshTimer is the proactive refresh timer. At most one is armed at a time.
type refreshTimer struct {
	mu     sync.Mutex
	timer  *time.Timer
	gen    uint64
	closed bool
	fire   func(gen uint64)
}

func newRefreshTimer(fire func(gen uint64)) *refreshTimer {
	return &refreshTimer{fire: fire}
}

// Arm schedules fire(gen) after d, stopping any timer armed before
func (t *refreshTimer) Arm(d time.Duration, gen uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	if t.timer != nil {
		t.timer.Stop()
	}
	t.gen = gen
	t.timer = time.AfterFunc(d, func() { t.fire(gen) })
}

// Stop cancels the armed timer, if any
func (t *refreshTimer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

// Close stops the timer for good
func (t *refreshTimer) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

// Armed reports whether a timer is currently scheduled
func (t *refreshTimer) Armed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.timer != nil
}

// refreshDelay computes when to refresh proactively: lead (capped at half
// the token's lifetime) before the token's exp claim, or one minute before
// the server's expiresIn hint when the token cannot be decoded. Never less
// than min.
func refreshDelay(tokens possession.TokenPair, now time.Time, lead, min time.Duration) time.Duration {
	var d time.Duration
	if exp, err := possession.DecodeExpiry(tokens.AccessToken); err == nil {
		d = exp.Sub(now) - possession.EffectiveLead(tokens.AccessToken, lead)
	} else {
		d = possession.ParseExpiresIn(tokens.ExpiresIn) - time.Minute
	}
	if d < min {
		d = min
	}
	return d
}
