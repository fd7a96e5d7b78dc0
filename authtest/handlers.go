package authtest

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/panyam/possession"
)

type profileKey struct{}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type authBody struct {
	User   *possession.UserProfile `json:"user,omitempty"`
	Tokens *possession.TokenPair   `json:"tokens,omitempty"`
}

// handleLogin handles POST /api/auth/login
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	s.loginCalls.Add(1)

	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	u, ok := s.users[strings.ToLower(req.Email)]
	wrap, omitUser, ttl := s.wrapLogin, s.omitUser, s.accessTTL
	s.mu.Unlock()
	if !ok || bcrypt.CompareHashAndPassword(u.passwordHash, []byte(req.Password)) != nil {
		s.errorResponse(w, "Invalid email or password", http.StatusUnauthorized)
		return
	}

	profile := u.profile
	pair, err := s.issue(&profile, ttl)
	if err != nil {
		s.Logger.Error("failed to issue tokens", "err", err)
		s.errorResponse(w, "Failed to create session", http.StatusInternalServerError)
		return
	}

	body := authBody{Tokens: &pair}
	if !omitUser {
		body.User = &profile
	}
	if wrap {
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": body})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "user": body.User, "tokens": body.Tokens})
}

// handleRefresh handles POST /api/auth/refresh with {refreshToken}
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s.refreshCalls.Add(1)

	s.mu.Lock()
	delay, gate := s.refreshDelay, s.refreshGate
	failStatus, malformed := s.refreshStatus, s.refreshMalformed
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-r.Context().Done():
			return
		}
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}
	if failStatus != 0 {
		s.errorResponse(w, "Refresh failed", failStatus)
		return
	}
	if malformed {
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "tokens": map[string]string{"accessToken": "only-half"}})
		return
	}

	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
		s.errorResponse(w, "Refresh token required", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	rec, ok := s.refreshTokens[req.RefreshToken]
	if ok && s.rotate {
		delete(s.refreshTokens, req.RefreshToken)
	}
	u := s.usersByID[rec.userID]
	ttl := s.accessTTL
	s.mu.Unlock()

	if !ok || u == nil || s.now().After(rec.expiresAt) {
		s.errorResponse(w, "Invalid refresh token", http.StatusUnauthorized)
		return
	}

	profile := u.profile
	pair, err := s.issue(&profile, ttl)
	if err != nil {
		s.Logger.Error("failed to issue tokens", "err", err)
		s.errorResponse(w, "Failed to refresh session", http.StatusInternalServerError)
		return
	}
	if !s.rotate {
		// Keep handing out the same refresh token
		s.mu.Lock()
		delete(s.refreshTokens, pair.RefreshToken)
		s.mu.Unlock()
		pair.RefreshToken = req.RefreshToken
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "tokens": pair, "user": profile})
}

// handleLogout handles POST /api/auth/logout - revokes a refresh token
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.logoutCalls.Add(1)

	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err == nil && req.RefreshToken != "" {
		s.mu.Lock()
		delete(s.refreshTokens, req.RefreshToken)
		s.mu.Unlock()
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Logged out"})
}

// handleVerify handles GET /api/auth/verify
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	s.verifyCalls.Add(1)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "user": profileFrom(r.Context())})
}

func (s *Server) handleInventory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data": []map[string]any{
			{"id": "med-1", "name": "Paracetamol 500mg", "quantity": 120},
			{"id": "med-2", "name": "Amoxicillin 250mg", "quantity": 40},
		},
	})
}

// handleSale echoes the posted body back so tests can check it was replayed
func (s *Server) handleSale(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.errorResponse(w, "Invalid sale", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "data": body})
}

func (s *Server) handleStaff(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": []string{}})
}

// requireAuth rejects requests without a valid bearer token
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.apiCalls.Add(1)

		token := ""
		if h := r.Header.Get("Authorization"); len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
			token = h[7:]
		}
		s.seenMu.Lock()
		s.seenTokens = append(s.seenTokens, token)
		s.seenMu.Unlock()

		s.mu.Lock()
		rejectAll := s.rejectAll
		s.mu.Unlock()

		profile, err := s.VerifyAccessToken(token)
		if rejectAll || token == "" || err != nil {
			s.errorResponse(w, "Invalid or expired token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), profileKey{}, profile)))
	})
}

// requireRole answers 403 unless the user has role
func (s *Server) requireRole(role possession.Role, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !profileFrom(r.Context()).HasRole(role) {
			s.errorResponse(w, "Insufficient permissions", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func profileFrom(ctx context.Context) *possession.UserProfile {
	p, _ := ctx.Value(profileKey{}).(*possession.UserProfile)
	return p
}

func (s *Server) errorResponse(w http.ResponseWriter, message string, statusCode int) {
	writeJSON(w, statusCode, map[string]any{"success": false, "message": message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
