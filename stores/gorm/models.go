//go:build !wasm
// +build !wasm

package gorm

import (
	"time"
)

// SessionModel is the GORM model for a stored session.
// Tokens and User hold the JSON of the persisted "tokens" and "user" keys.
type SessionModel struct {
	Key       string    `gorm:"primaryKey;size:255"`
	Tokens    []byte    `gorm:"not null"`
	User      []byte    `gorm:""`
	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (SessionModel) TableName() string {
	return "pos_sessions"
}
