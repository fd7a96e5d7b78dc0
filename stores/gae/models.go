//go:build !wasm
// +build !wasm

package gae

import (
	"time"

	"cloud.google.com/go/datastore"
)

// KindSession is the Datastore kind for stored sessions
const KindSession = "PosSession"

// SessionEntity is the Datastore entity for a stored session.
// The key name is the session key.
type SessionEntity struct {
	Key       *datastore.Key `datastore:"__key__"`
	Tokens    []byte         `datastore:"tokens,noindex"` // JSON encoded
	User      []byte         `datastore:"user,noindex"`   // JSON encoded
	UpdatedAt time.Time      `datastore:"updated_at"`
}
