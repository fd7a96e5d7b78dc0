package possession

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Default token timing values
const (
	// DefaultLeadTime is how long before expiry an access token counts as expiring soon
	DefaultLeadTime = 60 * time.Second

	// DefaultExpiresIn is assumed when the server sends no usable expiresIn hint
	DefaultExpiresIn = 15 * time.Minute
)

var (
	ErrEmptyToken = errors.New("token is empty")
	ErrNoExpiry   = errors.New("token has no exp claim")
)

// TokenPair is the access/refresh credential pair issued by the auth endpoints.
// The two tokens are only ever stored and replaced together.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`

	// ExpiresIn is the server's lifetime hint for the access token, e.g. "15m"
	ExpiresIn string `json:"expiresIn,omitempty"`
}

// Valid returns true if both halves of the pair are present
func (p TokenPair) Valid() bool {
	return p.AccessToken != "" && p.RefreshToken != ""
}

// unverifiedParser only decodes. Signatures are checked by the server, never here.
var unverifiedParser = jwt.NewParser()

func decodeClaims(token string) (jwt.MapClaims, error) {
	if strings.TrimSpace(token) == "" {
		return nil, ErrEmptyToken
	}
	claims := jwt.MapClaims{}
	if _, _, err := unverifiedParser.ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("failed to decode token: %w", err)
	}
	return claims, nil
}

// DecodeExpiry returns the exp claim of a bearer token without verifying its
// signature. This is a client-side heuristic for scheduling refreshes; the
// server stays the only authority on whether a token is valid.
func DecodeExpiry(token string) (time.Time, error) {
	claims, err := decodeClaims(token)
	if err != nil {
		return time.Time{}, err
	}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid exp claim: %w", err)
	}
	if exp == nil {
		return time.Time{}, ErrNoExpiry
	}
	return exp.Time, nil
}

// IsExpired reports whether the token is expired at now.
// Tokens that cannot be decoded are treated as expired.
func IsExpired(token string, now time.Time) bool {
	exp, err := DecodeExpiry(token)
	if err != nil {
		return true
	}
	return !now.Before(exp)
}

// IsExpiringSoon reports whether the token expires within lead of now.
// Expired or undecodable tokens are always expiring soon.
func IsExpiringSoon(token string, now time.Time, lead time.Duration) bool {
	exp, err := DecodeExpiry(token)
	if err != nil {
		return true
	}
	return !now.Add(lead).Before(exp)
}

// EffectiveLead caps lead at half the token's lifetime (exp - iat), so a
// server issuing tokens shorter than lead does not get a refresh on every
// request. Tokens without both claims get lead unchanged.
func EffectiveLead(token string, lead time.Duration) time.Duration {
	claims, err := decodeClaims(token)
	if err != nil {
		return lead
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return lead
	}
	iat, err := claims.GetIssuedAt()
	if err != nil || iat == nil {
		return lead
	}
	lifetime := exp.Sub(iat.Time)
	if lifetime <= 0 {
		return lead
	}
	if half := lifetime / 2; lead > half {
		return half
	}
	return lead
}

// ParseExpiresIn converts a server lifetime hint into a duration.
// Accepts Go durations ("1h30m"), a number with a single unit suffix
// ("15m", "2h", "7d", "30s") or bare seconds ("900"). Anything else
// yields DefaultExpiresIn.
func ParseExpiresIn(hint string) time.Duration {
	hint = strings.TrimSpace(strings.ToLower(hint))
	if hint == "" {
		return DefaultExpiresIn
	}
	if secs, err := strconv.Atoi(hint); err == nil {
		if secs <= 0 {
			return DefaultExpiresIn
		}
		return time.Duration(secs) * time.Second
	}
	if strings.HasSuffix(hint, "d") {
		days, err := strconv.Atoi(strings.TrimSuffix(hint, "d"))
		if err != nil || days <= 0 {
			return DefaultExpiresIn
		}
		return time.Duration(days) * 24 * time.Hour
	}
	d, err := time.ParseDuration(hint)
	if err != nil || d <= 0 {
		return DefaultExpiresIn
	}
	return d
}

// ProfileFromToken rebuilds a UserProfile from the claims of an access token.
// Used when a session is restored with tokens but no cached profile.
func ProfileFromToken(token string) (*UserProfile, error) {
	claims, err := decodeClaims(token)
	if err != nil {
		return nil, err
	}

	user := &UserProfile{
		ID:        claimString(claims, "id", "userId", "sub"),
		Email:     claimString(claims, "email"),
		Role:      Role(claimString(claims, "role")),
		TenantID:  claimString(claims, "tenantId", "tenant_id", "pharmacyId"),
		FirstName: claimString(claims, "firstName", "given_name"),
		LastName:  claimString(claims, "lastName", "family_name"),
		Name:      claimString(claims, "name"),
	}
	user.Permissions = claimStrings(claims, "permissions")
	if len(user.Permissions) == 0 {
		user.Permissions = claimStrings(claims, "scopes")
	}

	if user.ID == "" {
		return nil, fmt.Errorf("token has no subject")
	}
	return user, nil
}

// claimString returns the first non-empty string claim among keys
func claimString(claims jwt.MapClaims, keys ...string) string {
	for _, k := range keys {
		if v, ok := claims[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func claimStrings(claims jwt.MapClaims, key string) []string {
	switch raw := claims[key].(type) {
	case []any:
		out := make([]string, 0, len(raw))
		for _, v := range raw {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		return strings.Fields(raw)
	}
	return nil
}
