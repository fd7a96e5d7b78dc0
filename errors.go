package possession

import (
	"errors"
	"fmt"
)

var (
	ErrNoRefreshToken   = errors.New("no refresh token available")
	ErrRefreshNetwork   = errors.New("token refresh failed")
	ErrRefreshRejected  = errors.New("refresh token rejected")
	ErrRefreshMalformed = errors.New("malformed refresh response")

	// ErrSessionEnded is returned to refresh waiters when a logout (or a new
	// login) happened while the refresh was in flight
	ErrSessionEnded = errors.New("session ended during refresh")

	ErrNotAuthenticated = errors.New("not authenticated")
	ErrForbidden        = errors.New("access forbidden for this role")
)

// RefreshErrorKind classifies a failed refresh
type RefreshErrorKind int

const (
	NoRefreshToken RefreshErrorKind = iota + 1
	RefreshNetworkError
	RefreshRejected
	RefreshMalformedResponse
)

func (k RefreshErrorKind) String() string {
	switch k {
	case NoRefreshToken:
		return "no_refresh_token"
	case RefreshNetworkError:
		return "network"
	case RefreshRejected:
		return "rejected"
	case RefreshMalformedResponse:
		return "malformed"
	}
	return fmt.Sprintf("unknown(%d)", int(k))
}

func (k RefreshErrorKind) sentinel() error {
	switch k {
	case NoRefreshToken:
		return ErrNoRefreshToken
	case RefreshNetworkError:
		return ErrRefreshNetwork
	case RefreshRejected:
		return ErrRefreshRejected
	case RefreshMalformedResponse:
		return ErrRefreshMalformed
	}
	return nil
}

// RefreshError describes why a refresh did not produce a new token pair
type RefreshError struct {
	Kind       RefreshErrorKind
	StatusCode int    // HTTP status from the refresh endpoint, 0 if none
	Message    string // server supplied message, if any
	Err        error  // underlying cause
}

func (e *RefreshError) Error() string {
	msg := "token refresh failed"
	if s := e.Kind.sentinel(); s != nil {
		msg = s.Error()
	}
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (HTTP %d)", e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	} else if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RefreshError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrRefreshRejected) and friends match on Kind
func (e *RefreshError) Is(target error) bool {
	return target != nil && target == e.Kind.sentinel()
}

// AuthFatal returns true if the failure means the session cannot continue
func (e *RefreshError) AuthFatal() bool {
	return e.Kind != RefreshNetworkError
}

// NewRefreshError builds a RefreshError
func NewRefreshError(kind RefreshErrorKind, status int, message string, cause error) *RefreshError {
	return &RefreshError{Kind: kind, StatusCode: status, Message: message, Err: cause}
}

// IsAuthFatal reports whether err should tear the session down
func IsAuthFatal(err error) bool {
	var re *RefreshError
	if errors.As(err, &re) {
		return re.AuthFatal()
	}
	return errors.Is(err, ErrNoRefreshToken)
}

// IsTransient reports whether err is a refresh failure that may succeed on retry
func IsTransient(err error) bool {
	var re *RefreshError
	return errors.As(err, &re) && re.Kind == RefreshNetworkError
}
