//go:build !wasm
// +build !wasm

package gorm

import (
	"context"
	"errors"
	"log/slog"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/panyam/possession"
)

// AutoMigrate runs database migrations for the session table
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&SessionModel{})
}

// CredentialStore implements possession.CredentialStore using GORM.
// Both entries live in one row so every write is a single statement.
type CredentialStore struct {
	db     *gorm.DB
	key    string
	logger *slog.Logger
}

var _ possession.CredentialStore = (*CredentialStore)(nil)

// NewCredentialStore creates a store for the session saved under key
func NewCredentialStore(db *gorm.DB, key string) *CredentialStore {
	if key == "" {
		key = "default"
	}
	return &CredentialStore{db: db, key: key, logger: slog.Default()}
}

// WithLogger sets the logger used to report corrupt rows
func (s *CredentialStore) WithLogger(logger *slog.Logger) *CredentialStore {
	if logger != nil {
		s.logger = logger
	}
	return s
}

func (s *CredentialStore) Save(ctx context.Context, tokens possession.TokenPair, user *possession.UserProfile) error {
	tokensJSON, userJSON, err := possession.EncodeSession(tokens, user)
	if err != nil {
		return err
	}
	model := &SessionModel{Key: s.key, Tokens: tokensJSON, User: userJSON}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"tokens", "user", "updated_at"}),
	}).Create(model).Error
}

func (s *CredentialStore) Load(ctx context.Context) (*possession.StoredSession, error) {
	var model SessionModel
	err := s.db.WithContext(ctx).Where(&SessionModel{Key: s.key}).First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	stored, err := possession.DecodeSession(model.Tokens, model.User)
	if err != nil {
		s.logger.Warn("ignoring corrupt stored session", "key", s.key, "err", err)
		return nil, nil
	}
	return stored, nil
}

func (s *CredentialStore) Clear(ctx context.Context) error {
	return s.db.WithContext(ctx).Where(&SessionModel{Key: s.key}).Delete(&SessionModel{}).Error
}
