package possession

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Fixed keys under which the session is persisted.
// Both are written and cleared together.
const (
	KeyTokens = "tokens"
	KeyUser   = "user"
)

var (
	ErrInvalidTokenPair = errors.New("token pair must carry both an access and a refresh token")
	ErrCorruptSession   = errors.New("stored session is corrupt")
)

// StoredSession is what a CredentialStore hands back on Load
type StoredSession struct {
	Tokens TokenPair    `json:"tokens"`
	User   *UserProfile `json:"user,omitempty"`
}

// CredentialStore persists the token pair and cached user profile.
//
// Implementations must make each call atomic: a concurrent Load never sees a
// new access token next to an old refresh token. Stored data that cannot be
// parsed is reported as absent (nil, nil), not as an error.
type CredentialStore interface {
	// Save replaces the stored pair and profile
	Save(ctx context.Context, tokens TokenPair, user *UserProfile) error

	// Load returns the stored session, or nil, nil if there is none
	Load(ctx context.Context) (*StoredSession, error)

	// Clear removes both entries. Clearing an empty store is not an error.
	Clear(ctx context.Context) error
}

// EncodeSession serializes the two entries of a session for key-value backends
func EncodeSession(tokens TokenPair, user *UserProfile) (tokensJSON, userJSON []byte, err error) {
	if !tokens.Valid() {
		return nil, nil, ErrInvalidTokenPair
	}
	if tokensJSON, err = json.Marshal(tokens); err != nil {
		return nil, nil, fmt.Errorf("failed to serialize tokens: %w", err)
	}
	if user != nil {
		if userJSON, err = json.Marshal(user); err != nil {
			return nil, nil, fmt.Errorf("failed to serialize user: %w", err)
		}
	}
	return tokensJSON, userJSON, nil
}

// DecodeSession is the inverse of EncodeSession. A missing tokens entry means
// no session (nil, nil). Unparseable data or an incomplete pair yields
// ErrCorruptSession so backends can log it before treating it as absent.
// A corrupt user entry alone is dropped; the profile can be rebuilt from the
// access token.
func DecodeSession(tokensJSON, userJSON []byte) (*StoredSession, error) {
	if len(tokensJSON) == 0 {
		return nil, nil
	}
	var out StoredSession
	if err := json.Unmarshal(tokensJSON, &out.Tokens); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptSession, err)
	}
	if !out.Tokens.Valid() {
		return nil, ErrCorruptSession
	}
	if len(userJSON) > 0 {
		var user UserProfile
		if err := json.Unmarshal(userJSON, &user); err == nil && user.ID != "" {
			out.User = &user
		}
	}
	return &out, nil
}
