// Package authtest provides an in-process fake of the POS backend's auth and
// business endpoints, for tests and local development.
//
//	srv := authtest.New()
//	srv.AddUser("owner@pharm.test", "secret", possession.UserProfile{ID: "u1", Role: possession.RoleOwner})
//	baseURL := srv.Start()
//	defer srv.Close()
//
// The server issues HS256 access tokens and rotating opaque refresh tokens,
// counts calls per endpoint, and has knobs to make refresh slow, fail or
// answer garbage.
package authtest

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"golang.org/x/crypto/bcrypt"

	"github.com/panyam/possession"
)

// Default lifetimes of issued tokens
const (
	DefaultAccessTokenExpiry  = 15 * time.Minute
	DefaultRefreshTokenExpiry = 7 * 24 * time.Hour
)

var (
	ErrInvalidToken = errors.New("invalid or expired token")
	ErrUnknownUser  = errors.New("unknown user")
)

type user struct {
	profile      possession.UserProfile
	passwordHash []byte
}

type refreshRecord struct {
	userID    string
	expiresAt time.Time
}

// Server is a fake POS backend
type Server struct {
	// Secret signs access tokens
	Secret []byte

	// Issuer is the iss claim
	Issuer string

	// Now is the server clock. Defaults to time.Now. Use SetNow once the
	// server is running.
	Now     func() time.Time
	clockMu sync.RWMutex

	Logger *slog.Logger

	mu            sync.Mutex
	users         map[string]*user // by email
	usersByID     map[string]*user
	refreshTokens map[string]refreshRecord
	accessTTL     time.Duration
	rotate        bool

	refreshStatus    int
	refreshMalformed bool
	refreshDelay     time.Duration
	refreshGate      chan struct{}
	rejectAll        bool
	wrapLogin        bool
	omitUser         bool

	loginCalls   atomic.Int32
	refreshCalls atomic.Int32
	logoutCalls  atomic.Int32
	verifyCalls  atomic.Int32
	apiCalls     atomic.Int32

	seenMu     sync.Mutex
	seenTokens []string

	router *mux.Router
	http   *httptest.Server
}

// New creates a server with a random signing secret
func New() *Server {
	s := &Server{
		Secret:        []byte(uuid.NewString()),
		Issuer:        "possession-authtest",
		Now:           time.Now,
		Logger:        slog.Default(),
		users:         make(map[string]*user),
		usersByID:     make(map[string]*user),
		refreshTokens: make(map[string]refreshRecord),
		accessTTL:     DefaultAccessTokenExpiry,
		rotate:        true,
	}
	s.router = s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() *mux.Router {
	r := mux.NewRouter()
	api := r.PathPrefix("/api").Subrouter()

	api.HandleFunc("/auth/login", s.handleLogin).Methods(http.MethodPost)
	api.HandleFunc("/auth/refresh", s.handleRefresh).Methods(http.MethodPost)
	api.HandleFunc("/auth/logout", s.handleLogout).Methods(http.MethodPost)
	api.Handle("/auth/verify", s.requireAuth(http.HandlerFunc(s.handleVerify))).Methods(http.MethodGet)

	api.Handle("/inventory", s.requireAuth(http.HandlerFunc(s.handleInventory))).Methods(http.MethodGet)
	api.Handle("/pos/sales", s.requireAuth(http.HandlerFunc(s.handleSale))).Methods(http.MethodPost)
	api.Handle("/staff", s.requireAuth(s.requireRole(possession.RoleOwner, http.HandlerFunc(s.handleStaff)))).Methods(http.MethodGet)
	return r
}

// Handler returns the HTTP handler. Routes live under /api.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves on a local port and returns the API base URL (".../api")
func (s *Server) Start() string {
	s.http = httptest.NewServer(s.router)
	return s.http.URL + "/api"
}

// Close stops a started server
func (s *Server) Close() {
	if s.http != nil {
		s.http.Close()
	}
}

// AddUser registers a user who can log in with email and password
func (s *Server) AddUser(email, password string, profile possession.UserProfile) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		panic(fmt.Sprintf("authtest: hashing password: %v", err))
	}
	if profile.ID == "" {
		profile.ID = uuid.NewString()
	}
	if profile.Email == "" {
		profile.Email = email
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	u := &user{profile: profile, passwordHash: hash}
	s.users[strings.ToLower(email)] = u
	s.usersByID[profile.ID] = u
}

// IssuePair creates a session for a registered user directly, with an
// access token valid for accessTTL (negative for an already-expired token)
func (s *Server) IssuePair(email string, accessTTL time.Duration) (possession.TokenPair, *possession.UserProfile, error) {
	s.mu.Lock()
	u, ok := s.users[strings.ToLower(email)]
	s.mu.Unlock()
	if !ok {
		return possession.TokenPair{}, nil, ErrUnknownUser
	}
	pair, err := s.issue(&u.profile, accessTTL)
	if err != nil {
		return possession.TokenPair{}, nil, err
	}
	profile := u.profile
	return pair, &profile, nil
}

// IssueAccessToken signs an access token for profile that expires after ttl
func (s *Server) IssueAccessToken(profile *possession.UserProfile, ttl time.Duration) (string, error) {
	now := s.now()
	claims := jwt.MapClaims{
		"sub":      profile.ID,
		"id":       profile.ID,
		"email":    profile.Email,
		"role":     string(profile.Role),
		"tenantId": profile.TenantID,
		"iss":      s.Issuer,
		"iat":      now.Unix(),
		"exp":      now.Add(ttl).Unix(),
		"jti":      uuid.NewString(),
	}
	if len(profile.Permissions) > 0 {
		claims["permissions"] = profile.Permissions
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.Secret)
}

// VerifyAccessToken checks signature and expiry and returns the token's user
func (s *Server) VerifyAccessToken(tokenString string) (*possession.UserProfile, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.Secret, nil
	}, jwt.WithTimeFunc(s.now), jwt.WithIssuer(s.Issuer), jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}

	sub, _ := token.Claims.GetSubject()
	s.mu.Lock()
	u, ok := s.usersByID[sub]
	s.mu.Unlock()
	if !ok {
		return nil, ErrInvalidToken
	}
	profile := u.profile
	return &profile, nil
}

// issue creates an access token and a fresh refresh token for profile
func (s *Server) issue(profile *possession.UserProfile, accessTTL time.Duration) (possession.TokenPair, error) {
	access, err := s.IssueAccessToken(profile, accessTTL)
	if err != nil {
		return possession.TokenPair{}, err
	}
	refresh := uuid.NewString()
	expiresAt := s.now().Add(DefaultRefreshTokenExpiry)

	s.mu.Lock()
	s.refreshTokens[refresh] = refreshRecord{userID: profile.ID, expiresAt: expiresAt}
	s.mu.Unlock()

	return possession.TokenPair{AccessToken: access, RefreshToken: refresh, ExpiresIn: formatExpiresIn(accessTTL)}, nil
}

// SetNow replaces the server clock
func (s *Server) SetNow(now func() time.Time) {
	s.clockMu.Lock()
	defer s.clockMu.Unlock()
	s.Now = now
}

func (s *Server) now() time.Time {
	s.clockMu.RLock()
	defer s.clockMu.RUnlock()
	return s.Now()
}

// formatExpiresIn renders a lifetime the way the backend does ("15m", "900")
func formatExpiresIn(d time.Duration) string {
	if d > 0 && d%time.Minute == 0 {
		return fmt.Sprintf("%dm", int(d/time.Minute))
	}
	if d <= 0 {
		return "0"
	}
	return fmt.Sprintf("%d", int(d/time.Second))
}
