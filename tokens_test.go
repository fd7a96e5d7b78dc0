package possession_test

import (
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	pos "github.com/panyam/possession"
)

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("k"))
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}
	return s
}

func TestDecodeExpiry(t *testing.T) {
	exp := time.Now().Add(10 * time.Minute).Truncate(time.Second)
	token := signToken(t, jwt.MapClaims{"sub": "u1", "exp": exp.Unix()})

	got, err := pos.DecodeExpiry(token)
	if err != nil {
		t.Fatalf("DecodeExpiry() error = %v", err)
	}
	if !got.Equal(exp) {
		t.Errorf("DecodeExpiry() = %v, want %v", got, exp)
	}

	// Signature is not checked
	other, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"exp": exp.Unix()}).SignedString([]byte("different"))
	if _, err := pos.DecodeExpiry(other); err != nil {
		t.Errorf("DecodeExpiry() with foreign signature error = %v", err)
	}
}

func TestDecodeExpiry_Failures(t *testing.T) {
	noExp := signToken(t, jwt.MapClaims{"sub": "u1"})
	badExp := signToken(t, jwt.MapClaims{"sub": "u1", "exp": "tomorrow"})
	garbagePayload := "eyJhbGciOiJIUzI1NiJ9." + base64.RawURLEncoding.EncodeToString([]byte("not json")) + ".sig"

	tests := []struct {
		name  string
		token string
		want  error
	}{
		{"empty", "", pos.ErrEmptyToken},
		{"blank", "   ", pos.ErrEmptyToken},
		{"no exp", noExp, pos.ErrNoExpiry},
		{"non numeric exp", badExp, nil},
		{"one segment", "abc", nil},
		{"two segments", "abc.def", nil},
		{"garbage payload", garbagePayload, nil},
		{"not base64", "a.!!!.c", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := pos.DecodeExpiry(tt.token)
			if err == nil {
				t.Fatal("DecodeExpiry() should fail")
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("DecodeExpiry() error = %v, want %v", err, tt.want)
			}

			// Undecodable tokens fail closed
			now := time.Now()
			if !pos.IsExpired(tt.token, now) {
				t.Error("IsExpired() = false for an undecodable token")
			}
			if !pos.IsExpiringSoon(tt.token, now, 0) {
				t.Error("IsExpiringSoon() = false for an undecodable token")
			}
		})
	}
}

func TestIsExpiredAndExpiringSoon(t *testing.T) {
	now := time.Now()
	at := func(d time.Duration) string {
		return signToken(t, jwt.MapClaims{"sub": "u1", "exp": now.Add(d).Unix()})
	}

	tests := []struct {
		name         string
		token        string
		lead         time.Duration
		wantExpired  bool
		wantExpiring bool
	}{
		{"valid for an hour", at(time.Hour), time.Minute, false, false},
		{"inside lead window", at(30 * time.Second), time.Minute, false, true},
		{"just outside lead window", at(2 * time.Minute), time.Minute, false, false},
		{"expired", at(-time.Second * 5), time.Minute, true, true},
		{"zero lead", at(time.Minute), 0, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := pos.IsExpired(tt.token, now); got != tt.wantExpired {
				t.Errorf("IsExpired() = %v, want %v", got, tt.wantExpired)
			}
			if got := pos.IsExpiringSoon(tt.token, now, tt.lead); got != tt.wantExpiring {
				t.Errorf("IsExpiringSoon() = %v, want %v", got, tt.wantExpiring)
			}
		})
	}
}

func TestEffectiveLead(t *testing.T) {
	now := time.Now()
	issued := func(lifetime time.Duration) string {
		return signToken(t, jwt.MapClaims{"sub": "u1", "iat": now.Unix(), "exp": now.Add(lifetime).Unix()})
	}

	tests := []struct {
		name  string
		token string
		lead  time.Duration
		want  time.Duration
	}{
		{"long lived token keeps lead", issued(15 * time.Minute), time.Minute, time.Minute},
		{"short lived token halves lifetime", issued(30 * time.Second), time.Minute, 15 * time.Second},
		{"lead equal to half", issued(2 * time.Minute), time.Minute, time.Minute},
		{"no iat", signToken(t, jwt.MapClaims{"sub": "u1", "exp": now.Add(30 * time.Second).Unix()}), time.Minute, time.Minute},
		{"exp before iat", issued(-time.Minute), time.Minute, time.Minute},
		{"undecodable", "opaque", time.Minute, time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := pos.EffectiveLead(tt.token, tt.lead); got != tt.want {
				t.Errorf("EffectiveLead() = %v, want %v", got, tt.want)
			}
		})
	}

	// A freshly issued short token is not expiring the moment it arrives
	fresh := issued(30 * time.Second)
	if pos.IsExpiringSoon(fresh, now, pos.EffectiveLead(fresh, time.Minute)) {
		t.Error("fresh 30s token should not be expiring soon under a 60s lead")
	}
}

func TestParseExpiresIn(t *testing.T) {
	tests := []struct {
		hint string
		want time.Duration
	}{
		{"15m", 15 * time.Minute},
		{"2h", 2 * time.Hour},
		{"7d", 7 * 24 * time.Hour},
		{"30s", 30 * time.Second},
		{"900", 900 * time.Second},
		{"1h30m", 90 * time.Minute},
		{" 15M ", 15 * time.Minute},
		{"", pos.DefaultExpiresIn},
		{"0", pos.DefaultExpiresIn},
		{"-5m", pos.DefaultExpiresIn},
		{"soon", pos.DefaultExpiresIn},
		{"xd", pos.DefaultExpiresIn},
	}
	for _, tt := range tests {
		if got := pos.ParseExpiresIn(tt.hint); got != tt.want {
			t.Errorf("ParseExpiresIn(%q) = %v, want %v", tt.hint, got, tt.want)
		}
	}
}

func TestProfileFromToken(t *testing.T) {
	token := signToken(t, jwt.MapClaims{
		"sub":         "u9",
		"email":       "till@pharm.test",
		"role":        "pharmacy_attendant",
		"tenantId":    "pharm-2",
		"permissions": []any{pos.PermSalesCreate, pos.PermInventoryRead},
		"given_name":  "Ada",
		"exp":         time.Now().Add(time.Hour).Unix(),
	})

	user, err := pos.ProfileFromToken(token)
	if err != nil {
		t.Fatalf("ProfileFromToken() error = %v", err)
	}
	if user.ID != "u9" || user.Email != "till@pharm.test" || user.TenantID != "pharm-2" {
		t.Errorf("ProfileFromToken() = %+v", user)
	}
	if !user.Role.IsAttendant() {
		t.Errorf("role = %q, want an attendant", user.Role)
	}
	if !user.HasPermission(pos.PermSalesCreate) || user.HasPermission(pos.PermStaffManage) {
		t.Errorf("permissions = %v", user.Permissions)
	}
	if user.FirstName != "Ada" {
		t.Errorf("FirstName = %q", user.FirstName)
	}

	scoped := signToken(t, jwt.MapClaims{"id": "u3", "scopes": "inventory:read pos:sales"})
	user, err = pos.ProfileFromToken(scoped)
	if err != nil || len(user.Permissions) != 2 {
		t.Errorf("ProfileFromToken() with scopes = %+v, %v", user, err)
	}

	if _, err := pos.ProfileFromToken(signToken(t, jwt.MapClaims{"email": "x@y.z"})); err == nil {
		t.Error("ProfileFromToken() without subject should fail")
	}
	if _, err := pos.ProfileFromToken("garbage"); err == nil {
		t.Error("ProfileFromToken(garbage) should fail")
	}
}

func TestTokenPairValid(t *testing.T) {
	if (pos.TokenPair{AccessToken: "a"}).Valid() {
		t.Error("half pair should not be valid")
	}
	if !(pos.TokenPair{AccessToken: "a", RefreshToken: "r"}).Valid() {
		t.Error("full pair should be valid")
	}
}
