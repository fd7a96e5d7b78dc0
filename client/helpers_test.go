package client

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/panyam/possession"
	"github.com/panyam/possession/authtest"
	"github.com/panyam/possession/stores/mem"
)

const (
	testEmail    = "owner@pharm.test"
	testPassword = "correct-horse"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// newBackend starts a fake backend with one owner account
func newBackend(t *testing.T) (*authtest.Server, string) {
	t.Helper()
	srv := authtest.New()
	srv.Logger = quietLogger
	srv.AddUser(testEmail, testPassword, possession.UserProfile{
		ID:       "u1",
		Role:     possession.RoleOwner,
		TenantID: "pharm-1",
	})
	baseURL := srv.Start()
	t.Cleanup(srv.Close)
	return srv, baseURL
}

func newTestSession(t *testing.T, baseURL string, store possession.CredentialStore, opts ...Option) *Session {
	t.Helper()
	opts = append([]Option{WithLogger(quietLogger)}, opts...)
	s := NewSession(baseURL, store, opts...)
	t.Cleanup(func() { s.Close() })
	return s
}

// seedStore stores a pair issued by srv whose access token expires after ttl
func seedStore(t *testing.T, srv *authtest.Server, store possession.CredentialStore, ttl time.Duration) possession.TokenPair {
	t.Helper()
	pair, user, err := srv.IssuePair(testEmail, ttl)
	if err != nil {
		t.Fatalf("IssuePair() error = %v", err)
	}
	if err := store.Save(context.Background(), pair, user); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	return pair
}

// seedAgedStore stores a pair issued age ago whose access token has
// remaining left to live
func seedAgedStore(t *testing.T, srv *authtest.Server, store possession.CredentialStore, age, remaining time.Duration) possession.TokenPair {
	t.Helper()
	srv.SetNow(func() time.Time { return time.Now().Add(-age) })
	defer srv.SetNow(time.Now)
	return seedStore(t, srv, store, age+remaining)
}

// makeToken signs a throwaway JWT expiring at exp
func makeToken(t *testing.T, sub string, exp time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": sub,
		"exp": exp.Unix(),
		"jti": time.Now().UnixNano(),
	})
	s, err := token.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}
	return s
}

// makeIssuedToken is makeToken with an iat claim
func makeIssuedToken(t *testing.T, sub string, iat, exp time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": sub,
		"iat": iat.Unix(),
		"exp": exp.Unix(),
	})
	s, err := token.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}
	return s
}

// waitFor polls cond until it holds or the deadline passes
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func newMemStore() *mem.CredentialStore { return mem.New() }
