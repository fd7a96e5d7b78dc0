// Package redis provides a Redis credential store, for sessions that must
// survive a terminal restart or be shared by processes on one till.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/panyam/possession"
)

// DefaultPrefix namespaces the session keys
const DefaultPrefix = "possession:"

// CredentialStore keeps the two session entries under <prefix>tokens and
// <prefix>user, written and deleted together in one MULTI/EXEC
type CredentialStore struct {
	rc     redis.UniversalClient
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

var _ possession.CredentialStore = (*CredentialStore)(nil)

// New creates a store. An empty prefix uses DefaultPrefix.
func New(rc redis.UniversalClient, prefix string) *CredentialStore {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &CredentialStore{rc: rc, prefix: prefix, logger: slog.Default()}
}

// WithTTL expires stored sessions after d of inactivity (0 keeps them forever)
func (s *CredentialStore) WithTTL(d time.Duration) *CredentialStore {
	s.ttl = d
	return s
}

// WithLogger sets the logger used to report corrupt entries
func (s *CredentialStore) WithLogger(logger *slog.Logger) *CredentialStore {
	if logger != nil {
		s.logger = logger
	}
	return s
}

// Key returns the full redis key for a logical session key
func (s *CredentialStore) Key(field string) string {
	return s.prefix + field
}

func (s *CredentialStore) Save(ctx context.Context, tokens possession.TokenPair, user *possession.UserProfile) error {
	if s.rc == nil {
		return errors.New("redis client is nil, cannot save session")
	}
	tokensJSON, userJSON, err := possession.EncodeSession(tokens, user)
	if err != nil {
		return err
	}

	_, err = s.rc.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.Key(possession.KeyTokens), tokensJSON, s.ttl)
		if userJSON != nil {
			pipe.Set(ctx, s.Key(possession.KeyUser), userJSON, s.ttl)
		} else {
			pipe.Del(ctx, s.Key(possession.KeyUser))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

func (s *CredentialStore) Load(ctx context.Context) (*possession.StoredSession, error) {
	if s.rc == nil {
		return nil, errors.New("redis client is nil, cannot load session")
	}
	vals, err := s.rc.MGet(ctx, s.Key(possession.KeyTokens), s.Key(possession.KeyUser)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	stored, err := possession.DecodeSession(bytesOf(vals, 0), bytesOf(vals, 1))
	if err != nil {
		s.logger.Warn("ignoring corrupt stored session", "prefix", s.prefix, "err", err)
		return nil, nil
	}
	return stored, nil
}

func (s *CredentialStore) Clear(ctx context.Context) error {
	if s.rc == nil {
		return errors.New("redis client is nil, cannot clear session")
	}
	if err := s.rc.Del(ctx, s.Key(possession.KeyTokens), s.Key(possession.KeyUser)).Err(); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return nil
}

// bytesOf picks an MGET result; missing keys come back as nil
func bytesOf(vals []any, i int) []byte {
	if i >= len(vals) {
		return nil
	}
	if s, ok := vals[i].(string); ok {
		return []byte(s)
	}
	return nil
}
