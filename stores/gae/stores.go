//go:build !wasm
// +build !wasm

package gae

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"cloud.google.com/go/datastore"

	"github.com/panyam/possession"
)

// CredentialStore implements possession.CredentialStore using Google Cloud
// Datastore. Both entries live in one entity so a Put replaces them together.
type CredentialStore struct {
	client    *datastore.Client
	namespace string
	key       string
	logger    *slog.Logger
}

var _ possession.CredentialStore = (*CredentialStore)(nil)

// NewCredentialStore creates a store for the session saved under key in
// namespace ("" is the default namespace)
func NewCredentialStore(client *datastore.Client, namespace, key string) *CredentialStore {
	if key == "" {
		key = "default"
	}
	return &CredentialStore{
		client:    client,
		namespace: namespace,
		key:       key,
		logger:    slog.Default(),
	}
}

// WithLogger sets the logger used to report corrupt entities
func (s *CredentialStore) WithLogger(logger *slog.Logger) *CredentialStore {
	if logger != nil {
		s.logger = logger
	}
	return s
}

func (s *CredentialStore) namespacedKey() *datastore.Key {
	key := datastore.NameKey(KindSession, s.key, nil)
	key.Namespace = s.namespace
	return key
}

func (s *CredentialStore) Save(ctx context.Context, tokens possession.TokenPair, user *possession.UserProfile) error {
	tokensJSON, userJSON, err := possession.EncodeSession(tokens, user)
	if err != nil {
		return err
	}
	key := s.namespacedKey()
	entity := &SessionEntity{
		Key:       key,
		Tokens:    tokensJSON,
		User:      userJSON,
		UpdatedAt: time.Now(),
	}
	_, err = s.client.Put(ctx, key, entity)
	return err
}

func (s *CredentialStore) Load(ctx context.Context) (*possession.StoredSession, error) {
	var entity SessionEntity
	if err := s.client.Get(ctx, s.namespacedKey(), &entity); err != nil {
		if errors.Is(err, datastore.ErrNoSuchEntity) {
			return nil, nil
		}
		var fieldErr *datastore.ErrFieldMismatch
		if !errors.As(err, &fieldErr) {
			return nil, err
		}
	}

	stored, err := possession.DecodeSession(entity.Tokens, entity.User)
	if err != nil {
		s.logger.Warn("ignoring corrupt stored session", "key", s.key, "err", err)
		return nil, nil
	}
	return stored, nil
}

func (s *CredentialStore) Clear(ctx context.Context) error {
	err := s.client.Delete(ctx, s.namespacedKey())
	if errors.Is(err, datastore.ErrNoSuchEntity) {
		return nil
	}
	return err
}
