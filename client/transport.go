package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/panyam/possession"
)

type skipAuthKey struct{}

// WithoutAuth marks requests made with ctx to go out without a bearer token
// and without refresh handling
func WithoutAuth(ctx context.Context) context.Context {
	return context.WithValue(ctx, skipAuthKey{}, true)
}

func skipAuth(ctx context.Context) bool {
	v, _ := ctx.Value(skipAuthKey{}).(bool)
	return v
}

// Transport is an http.RoundTripper that adds auth and handles refresh.
//
// Before sending it reads the stored pair; an expired or expiring token is
// refreshed first (proactive). A request that carried a token and got 401 is
// sent again exactly once with a refreshed token (reactive). A second 401 is
// returned to the caller as is.
//
// When a proactive refresh fails the request still goes out with the old
// token if that token has not actually expired and the session survived.
// Otherwise the request is not sent and the refresh error is returned; it is
// never sent unauthenticated in place of an authenticated request.
type Transport struct {
	base     http.RoundTripper
	store    possession.CredentialStore
	coord    *Coordinator
	leadTime time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

// NewTransport wraps base with auth handling
func NewTransport(base http.RoundTripper, store possession.CredentialStore, coord *Coordinator) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &Transport{
		base:     base,
		store:    store,
		coord:    coord,
		leadTime: possession.DefaultLeadTime,
		now:      time.Now,
		logger:   slog.Default(),
	}
}

// AccessToken returns the token to attach to the next request, refreshing
// first if needed. "" with a nil error means there is no session.
func (t *Transport) AccessToken(ctx context.Context) (string, error) {
	stored, err := t.store.Load(ctx)
	if err != nil {
		t.logger.Warn("failed to read credential store", "err", err)
		return "", nil
	}
	if stored == nil || stored.Tokens.AccessToken == "" {
		return "", nil
	}

	current := stored.Tokens.AccessToken
	now := t.now()
	if !possession.IsExpiringSoon(current, now, possession.EffectiveLead(current, t.leadTime)) {
		return current, nil
	}

	fresh, err := t.coord.Refresh(ctx, current)
	if err == nil {
		return fresh, nil
	}
	if possession.IsTransient(err) && !possession.IsExpired(current, now) {
		return current, nil
	}
	return "", fmt.Errorf("token expired and refresh failed: %w", err)
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if skipAuth(req.Context()) {
		return t.base.RoundTrip(req)
	}

	token, err := t.AccessToken(req.Context())
	if err != nil {
		closeBody(req)
		return nil, err
	}
	if token == "" {
		return t.base.RoundTrip(req)
	}

	req, err = replayable(req)
	if err != nil {
		return nil, err
	}

	resp, err := t.base.RoundTrip(authorize(req, token))
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}

	// One reactive retry per request. The retry goes straight to base so it
	// cannot come back through here.
	fresh, rerr := t.coord.Refresh(req.Context(), token)
	if rerr != nil {
		t.logger.Warn("refresh after 401 failed", "err", rerr)
		return resp, nil
	}
	retry, err := rewind(req)
	if err != nil {
		t.logger.Warn("cannot replay request body", "err", err)
		return resp, nil
	}
	drain(resp.Body)
	return t.base.RoundTrip(authorize(retry, fresh))
}

// authorize returns a copy of req carrying the bearer token
func authorize(req *http.Request, token string) *http.Request {
	r := req.Clone(req.Context())
	r.Header.Set("Authorization", "Bearer "+token)
	return r
}

// replayable makes sure the request body can be sent twice
func replayable(req *http.Request) (*http.Request, error) {
	if req.Body == nil || req.Body == http.NoBody || req.GetBody != nil {
		return req, nil
	}
	data, err := io.ReadAll(req.Body)
	req.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to buffer request body: %w", err)
	}
	r := req.Clone(req.Context())
	r.Body = io.NopCloser(bytes.NewReader(data))
	r.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}
	return r, nil
}

// rewind returns a copy of req with a fresh body
func rewind(req *http.Request) (*http.Request, error) {
	r := req.Clone(req.Context())
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		r.Body = body
	}
	return r, nil
}

func drain(body io.ReadCloser) {
	io.Copy(io.Discard, io.LimitReader(body, 64<<10))
	body.Close()
}

func closeBody(req *http.Request) {
	if req.Body != nil {
		req.Body.Close()
	}
}
