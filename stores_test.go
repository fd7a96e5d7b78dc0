package possession_test

import (
	"errors"
	"testing"

	pos "github.com/panyam/possession"
)

func TestEncodeDecodeSession(t *testing.T) {
	pair := pos.TokenPair{AccessToken: "a1", RefreshToken: "r1", ExpiresIn: "15m"}
	user := &pos.UserProfile{ID: "u1", Role: pos.RoleOwner}

	tokensJSON, userJSON, err := pos.EncodeSession(pair, user)
	if err != nil {
		t.Fatalf("EncodeSession() error = %v", err)
	}
	got, err := pos.DecodeSession(tokensJSON, userJSON)
	if err != nil {
		t.Fatalf("DecodeSession() error = %v", err)
	}
	if got.Tokens != pair || got.User == nil || got.User.ID != "u1" {
		t.Errorf("DecodeSession() = %+v", got)
	}

	// The profile is optional
	tokensJSON, userJSON, _ = pos.EncodeSession(pair, nil)
	if userJSON != nil {
		t.Error("nil user should encode to nil")
	}
	if got, _ := pos.DecodeSession(tokensJSON, nil); got == nil || got.User != nil {
		t.Errorf("DecodeSession() without user = %+v", got)
	}
}

func TestEncodeSession_RejectsHalfPair(t *testing.T) {
	_, _, err := pos.EncodeSession(pos.TokenPair{AccessToken: "a1"}, nil)
	if !errors.Is(err, pos.ErrInvalidTokenPair) {
		t.Errorf("EncodeSession() error = %v, want ErrInvalidTokenPair", err)
	}
}

func TestDecodeSession_Corrupt(t *testing.T) {
	tests := []struct {
		name    string
		tokens  string
		user    string
		wantNil bool
		wantErr error
	}{
		{"absent", "", "", true, nil},
		{"garbage", "{not json", "", true, pos.ErrCorruptSession},
		{"half pair", `{"accessToken":"a1"}`, "", true, pos.ErrCorruptSession},
		{"wrong shape", `["a1","r1"]`, "", true, pos.ErrCorruptSession},
		{"corrupt user dropped", `{"accessToken":"a1","refreshToken":"r1"}`, "{oops", false, nil},
		{"user without id dropped", `{"accessToken":"a1","refreshToken":"r1"}`, `{"email":"x@y.z"}`, false, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := pos.DecodeSession([]byte(tt.tokens), []byte(tt.user))
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("DecodeSession() error = %v, want %v", err, tt.wantErr)
			}
			if (got == nil) != tt.wantNil {
				t.Errorf("DecodeSession() = %+v, want nil = %v", got, tt.wantNil)
			}
			if got != nil && got.User != nil {
				t.Error("a bad profile should be dropped")
			}
		})
	}
}
