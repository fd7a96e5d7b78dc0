package client

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/panyam/possession"
)

func TestRefreshDelay(t *testing.T) {
	now := time.Now()
	lead := time.Minute
	min := 5 * time.Second

	tests := []struct {
		name   string
		tokens possession.TokenPair
		want   time.Duration
	}{
		{
			name:   "from exp claim",
			tokens: possession.TokenPair{AccessToken: makeToken(t, "u1", now.Add(15*time.Minute))},
			want:   14 * time.Minute,
		},
		{
			name:   "inside lead window",
			tokens: possession.TokenPair{AccessToken: makeToken(t, "u1", now.Add(30*time.Second))},
			want:   min,
		},
		{
			name:   "lead capped at half a short lifetime",
			tokens: possession.TokenPair{AccessToken: makeIssuedToken(t, "u1", now, now.Add(30*time.Second))},
			want:   15 * time.Second,
		},
		{
			name:   "expired",
			tokens: possession.TokenPair{AccessToken: makeToken(t, "u1", now.Add(-time.Hour))},
			want:   min,
		},
		{
			name:   "opaque token uses expiresIn",
			tokens: possession.TokenPair{AccessToken: "opaque", ExpiresIn: "15m"},
			want:   14 * time.Minute,
		},
		{
			name:   "opaque token with seconds hint",
			tokens: possession.TokenPair{AccessToken: "opaque", ExpiresIn: "600"},
			want:   9 * time.Minute,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := refreshDelay(tt.tokens, now, lead, min)
			// exp claims have second resolution
			if diff := got - tt.want; diff < -time.Second || diff > time.Second {
				t.Errorf("refreshDelay() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRefreshTimer_ArmReplaces(t *testing.T) {
	var fired atomic.Int32
	var lastGen atomic.Uint64
	timer := newRefreshTimer(func(gen uint64) {
		fired.Add(1)
		lastGen.Store(gen)
	})
	defer timer.Close()

	timer.Arm(20*time.Millisecond, 1)
	timer.Arm(40*time.Millisecond, 2)
	if !timer.Armed() {
		t.Fatal("expected timer armed")
	}

	time.Sleep(150 * time.Millisecond)
	if fired.Load() != 1 || lastGen.Load() != 2 {
		t.Errorf("fired = %d with gen %d, want once with gen 2", fired.Load(), lastGen.Load())
	}
}

func TestRefreshTimer_StopAndClose(t *testing.T) {
	var fired atomic.Int32
	timer := newRefreshTimer(func(uint64) { fired.Add(1) })

	timer.Arm(20*time.Millisecond, 1)
	timer.Stop()
	if timer.Armed() {
		t.Error("Stop() should disarm")
	}

	timer.Close()
	timer.Arm(10*time.Millisecond, 2)
	if timer.Armed() {
		t.Error("a closed timer must not re-arm")
	}

	time.Sleep(60 * time.Millisecond)
	if fired.Load() != 0 {
		t.Errorf("fired = %d, want 0", fired.Load())
	}
}
