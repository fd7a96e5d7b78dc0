package client

import (
	"context"

	"golang.org/x/oauth2"

	"github.com/panyam/possession"
)

// sessionTokenSource adapts a Session to oauth2.TokenSource
type sessionTokenSource struct {
	ctx context.Context
	s   *Session
}

// TokenSource returns an oauth2.TokenSource backed by the session, for
// libraries that take one (oauth2.NewClient, grpc oauth credentials).
// Every Token call goes through the same proactive refresh as HTTP requests.
func (s *Session) TokenSource(ctx context.Context) oauth2.TokenSource {
	return &sessionTokenSource{ctx: ctx, s: s}
}

func (ts *sessionTokenSource) Token() (*oauth2.Token, error) {
	access, err := ts.s.AccessToken(ts.ctx)
	if err != nil {
		return nil, err
	}
	tok := &oauth2.Token{AccessToken: access, TokenType: "Bearer"}
	if exp, err := possession.DecodeExpiry(access); err == nil {
		tok.Expiry = exp
	}
	return tok, nil
}
