package authtest

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/panyam/possession"
)

func newServer(t *testing.T) *Server {
	t.Helper()
	s := New()
	s.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	s.AddUser("owner@pharm.test", "pw", possession.UserProfile{ID: "u1", Role: possession.RoleOwner, TenantID: "pharm-1"})
	return s
}

func do(t *testing.T, h http.Handler, method, path, token string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	var out map[string]any
	json.Unmarshal(rr.Body.Bytes(), &out)
	return rr, out
}

func tokensOf(t *testing.T, out map[string]any) (string, string) {
	t.Helper()
	tokens, ok := out["tokens"].(map[string]any)
	if !ok {
		t.Fatalf("response has no tokens: %v", out)
	}
	access, _ := tokens["accessToken"].(string)
	refresh, _ := tokens["refreshToken"].(string)
	return access, refresh
}

func TestLoginRefreshLogout(t *testing.T) {
	s := newServer(t)
	h := s.Handler()

	rr, out := do(t, h, http.MethodPost, "/api/auth/login", "", map[string]string{"email": "owner@pharm.test", "password": "pw"})
	if rr.Code != http.StatusOK {
		t.Fatalf("login status = %d: %s", rr.Code, rr.Body.String())
	}
	access, refresh := tokensOf(t, out)
	if out["user"] == nil {
		t.Error("login should include the user")
	}

	if rr, _ := do(t, h, http.MethodGet, "/api/inventory", access, nil); rr.Code != http.StatusOK {
		t.Errorf("inventory status = %d", rr.Code)
	}

	rr, out = do(t, h, http.MethodPost, "/api/auth/refresh", "", map[string]string{"refreshToken": refresh})
	if rr.Code != http.StatusOK {
		t.Fatalf("refresh status = %d", rr.Code)
	}
	access2, refresh2 := tokensOf(t, out)
	if access2 == access || refresh2 == refresh {
		t.Error("refresh should rotate both tokens")
	}

	// Rotated token is single use
	if rr, _ := do(t, h, http.MethodPost, "/api/auth/refresh", "", map[string]string{"refreshToken": refresh}); rr.Code != http.StatusUnauthorized {
		t.Errorf("reused refresh status = %d, want 401", rr.Code)
	}

	do(t, h, http.MethodPost, "/api/auth/logout", "", map[string]string{"refreshToken": refresh2})
	if s.ActiveRefreshTokens() != 0 {
		t.Errorf("active refresh tokens = %d after logout", s.ActiveRefreshTokens())
	}
	if s.LoginCalls() != 1 || s.RefreshCalls() != 2 || s.LogoutCalls() != 1 {
		t.Errorf("calls = %d/%d/%d", s.LoginCalls(), s.RefreshCalls(), s.LogoutCalls())
	}
}

func TestLoginRejectsBadPassword(t *testing.T) {
	s := newServer(t)
	rr, out := do(t, s.Handler(), http.MethodPost, "/api/auth/login", "", map[string]string{"email": "owner@pharm.test", "password": "nope"})
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rr.Code)
	}
	if out["success"] != false || out["message"] == "" {
		t.Errorf("body = %v", out)
	}
}

func TestRequireAuth(t *testing.T) {
	s := newServer(t)
	h := s.Handler()

	expired, err := s.IssueAccessToken(&possession.UserProfile{ID: "u1"}, -time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		name  string
		token string
	}{
		{"no token", ""},
		{"garbage", "not-a-jwt"},
		{"expired", expired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rr, _ := do(t, h, http.MethodGet, "/api/inventory", tt.token, nil); rr.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", rr.Code)
			}
		})
	}

	valid, _ := s.IssueAccessToken(&possession.UserProfile{ID: "u1"}, time.Minute)
	s.SetRejectAll(true)
	if rr, _ := do(t, h, http.MethodGet, "/api/inventory", valid, nil); rr.Code != http.StatusUnauthorized {
		t.Errorf("reject-all status = %d, want 401", rr.Code)
	}
	if got := len(s.SeenTokens()); got != 4 {
		t.Errorf("seen tokens = %d, want 4", got)
	}
}

func TestStaffRequiresOwner(t *testing.T) {
	s := newServer(t)
	s.AddUser("till@pharm.test", "pw", possession.UserProfile{ID: "u2", Role: "pharmacy_attendant"})
	h := s.Handler()

	owner, _, _ := s.IssuePair("owner@pharm.test", time.Minute)
	till, _, _ := s.IssuePair("till@pharm.test", time.Minute)

	if rr, _ := do(t, h, http.MethodGet, "/api/staff", owner.AccessToken, nil); rr.Code != http.StatusOK {
		t.Errorf("owner status = %d", rr.Code)
	}
	if rr, _ := do(t, h, http.MethodGet, "/api/staff", till.AccessToken, nil); rr.Code != http.StatusForbidden {
		t.Errorf("attendant status = %d, want 403", rr.Code)
	}
}

func TestRefreshKnobs(t *testing.T) {
	s := newServer(t)
	h := s.Handler()
	pair, _, err := s.IssuePair("owner@pharm.test", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	body := map[string]string{"refreshToken": pair.RefreshToken}

	s.FailRefresh(http.StatusServiceUnavailable)
	if rr, _ := do(t, h, http.MethodPost, "/api/auth/refresh", "", body); rr.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rr.Code)
	}
	s.FailRefresh(0)

	s.SetRefreshMalformed(true)
	_, out := do(t, h, http.MethodPost, "/api/auth/refresh", "", body)
	if _, refresh := tokensOf(t, out); refresh != "" {
		t.Error("malformed refresh should not carry a refresh token")
	}
	s.SetRefreshMalformed(false)

	s.SetRotateRefreshTokens(false)
	_, out = do(t, h, http.MethodPost, "/api/auth/refresh", "", body)
	if _, refresh := tokensOf(t, out); refresh != pair.RefreshToken {
		t.Error("without rotation the same refresh token comes back")
	}
	if s.ActiveRefreshTokens() != 1 {
		t.Errorf("active refresh tokens = %d, want 1", s.ActiveRefreshTokens())
	}
}

func TestWrappedLoginAndOmitUser(t *testing.T) {
	s := newServer(t)
	s.SetWrapLogin(true)
	s.SetOmitUser(true)

	_, out := do(t, s.Handler(), http.MethodPost, "/api/auth/login", "", map[string]string{"email": "owner@pharm.test", "password": "pw"})
	data, ok := out["data"].(map[string]any)
	if !ok {
		t.Fatalf("body = %v, want a data envelope", out)
	}
	if data["tokens"] == nil || data["user"] != nil {
		t.Errorf("data = %v, want tokens only", data)
	}
}

func TestVerifyAccessToken(t *testing.T) {
	s := newServer(t)
	pair, _, _ := s.IssuePair("owner@pharm.test", time.Minute)

	user, err := s.VerifyAccessToken(pair.AccessToken)
	if err != nil || user.ID != "u1" {
		t.Errorf("VerifyAccessToken() = %+v, %v", user, err)
	}

	s.SetNow(func() time.Time { return time.Now().Add(time.Hour) })
	if _, err := s.VerifyAccessToken(pair.AccessToken); err != ErrInvalidToken {
		t.Errorf("VerifyAccessToken() after expiry error = %v", err)
	}

	if _, _, err := s.IssuePair("nobody@pharm.test", time.Minute); err != ErrUnknownUser {
		t.Errorf("IssuePair() for unknown user error = %v", err)
	}
}

func TestFormatExpiresIn(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{15 * time.Minute, "15m"},
		{90 * time.Second, "90"},
		{-time.Minute, "0"},
	}
	for _, tt := range tests {
		if got := formatExpiresIn(tt.d); got != tt.want {
			t.Errorf("formatExpiresIn(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}
