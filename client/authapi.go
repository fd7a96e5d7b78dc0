package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/panyam/possession"
)

// ErrMalformedResponse is returned when an auth endpoint answers 2xx with a
// body that does not carry what it should
var ErrMalformedResponse = errors.New("malformed response from auth server")

// loginRequest is the request body for the login endpoint
type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// refreshRequest carries the refresh token in the JSON body. This is the only
// convention used for the refresh endpoint.
type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type authPayload struct {
	User   *possession.UserProfile `json:"user,omitempty"`
	Tokens *possession.TokenPair   `json:"tokens,omitempty"`
}

// authResponse is the response from the login, refresh and verify endpoints.
// Some deployments wrap the payload in {success, data}.
type authResponse struct {
	authPayload
	Success *bool        `json:"success,omitempty"`
	Message string       `json:"message,omitempty"`
	Data    *authPayload `json:"data,omitempty"`
}

func (r *authResponse) payload() authPayload {
	p := r.authPayload
	if r.Data != nil {
		if p.User == nil {
			p.User = r.Data.User
		}
		if p.Tokens == nil {
			p.Tokens = r.Data.Tokens
		}
	}
	return p
}

func (r *authResponse) failed() bool {
	return r.Success != nil && !*r.Success
}

// AuthAPI makes the calls to the auth endpoints
type AuthAPI struct {
	baseURL   string
	endpoints Endpoints

	// gateway goes through the auth Transport
	gateway *http.Client

	// direct bypasses auth handling entirely so a refresh can never recurse
	direct *http.Client
}

// NewAuthAPI creates an AuthAPI. gateway is used for login, logout and verify,
// direct for refresh.
func NewAuthAPI(baseURL string, endpoints Endpoints, gateway, direct *http.Client) *AuthAPI {
	if direct == nil {
		direct = &http.Client{}
	}
	if gateway == nil {
		gateway = direct
	}
	return &AuthAPI{
		baseURL:   baseURL,
		endpoints: endpoints.withDefaults(),
		gateway:   gateway,
		direct:    direct,
	}
}

// Login exchanges credentials for a token pair. Non-2xx answers come back as
// *APIError, transport failures wrap ErrNetwork and 2xx answers without a
// valid pair wrap ErrMalformedResponse.
func (a *AuthAPI) Login(ctx context.Context, creds possession.Credentials) (possession.TokenPair, *possession.UserProfile, error) {
	body := loginRequest{Email: creds.Email, Password: creds.Password}
	status, raw, err := a.post(WithoutAuth(ctx), a.gateway, a.endpoints.Login, body)
	if err != nil {
		return possession.TokenPair{}, nil, fmt.Errorf("%w: %w", ErrNetwork, err)
	}
	if status < 200 || status > 299 {
		return possession.TokenPair{}, nil, newAPIError(status, raw)
	}

	var resp authResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return possession.TokenPair{}, nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if resp.failed() {
		return possession.TokenPair{}, nil, &APIError{StatusCode: status, Message: resp.Message}
	}
	p := resp.payload()
	if p.Tokens == nil || !p.Tokens.Valid() {
		return possession.TokenPair{}, nil, fmt.Errorf("%w: login response has no token pair", ErrMalformedResponse)
	}
	return *p.Tokens, p.User, nil
}

// Refresh exchanges a refresh token for a new pair. Every failure is a
// *possession.RefreshError.
func (a *AuthAPI) Refresh(ctx context.Context, refreshToken string) (possession.TokenPair, *possession.UserProfile, error) {
	if refreshToken == "" {
		return possession.TokenPair{}, nil, possession.NewRefreshError(possession.NoRefreshToken, 0, "", nil)
	}

	status, raw, err := a.post(ctx, a.direct, a.endpoints.Refresh, refreshRequest{RefreshToken: refreshToken})
	if err != nil {
		return possession.TokenPair{}, nil, possession.NewRefreshError(possession.RefreshNetworkError, 0, "", err)
	}
	if status < 200 || status > 299 {
		msg := errorMessage(raw)
		if transientStatus(status) {
			return possession.TokenPair{}, nil, possession.NewRefreshError(possession.RefreshNetworkError, status, msg, nil)
		}
		return possession.TokenPair{}, nil, possession.NewRefreshError(possession.RefreshRejected, status, msg, nil)
	}

	var resp authResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return possession.TokenPair{}, nil, possession.NewRefreshError(possession.RefreshMalformedResponse, status, "", err)
	}
	if resp.failed() {
		// A 2xx that says success:false is the server turning the token down
		return possession.TokenPair{}, nil, possession.NewRefreshError(possession.RefreshRejected, status, resp.Message, nil)
	}
	p := resp.payload()
	if p.Tokens == nil || !p.Tokens.Valid() {
		return possession.TokenPair{}, nil, possession.NewRefreshError(possession.RefreshMalformedResponse, status, "response has no token pair", nil)
	}
	return *p.Tokens, p.User, nil
}

// Logout tells the server to revoke the refresh token. Any HTTP answer counts
// as success; only transport failures are returned.
func (a *AuthAPI) Logout(ctx context.Context, refreshToken string) error {
	_, _, err := a.post(WithoutAuth(ctx), a.gateway, a.endpoints.Logout, refreshRequest{RefreshToken: refreshToken})
	return err
}

// Verify asks the server who the current bearer token belongs to
func (a *AuthAPI) Verify(ctx context.Context) (*possession.UserProfile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, joinURL(a.baseURL, a.endpoints.Verify), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := a.gateway.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNetwork, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, newAPIError(resp.StatusCode, raw)
	}

	var out authResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	p := out.payload()
	if p.User == nil || p.User.ID == "" {
		return nil, fmt.Errorf("%w: verify response has no user", ErrMalformedResponse)
	}
	return p.User, nil
}

// post sends a JSON body and returns the status and raw response body
func (a *AuthAPI) post(ctx context.Context, hc *http.Client, path string, body any) (int, []byte, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, joinURL(a.baseURL, path), bytes.NewReader(jsonBody))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := hc.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("failed to read response: %w", err)
	}
	return resp.StatusCode, raw, nil
}

// transientStatus is true for answers that say "try again later" rather than
// "your refresh token is no good"
func transientStatus(status int) bool {
	return status >= 500 || status == http.StatusRequestTimeout || status == http.StatusTooManyRequests
}
