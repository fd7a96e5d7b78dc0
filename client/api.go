package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// ErrNetwork wraps failures where no HTTP response was received
var ErrNetwork = errors.New("network error, please check your connection")

// APIError is a non-2xx answer from a business or auth endpoint.
// The session layer does not interpret these; callers get them as is.
type APIError struct {
	StatusCode int
	Message    string
	Code       string
	Body       []byte
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = DescribeStatus(e.StatusCode)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, msg)
}

// IsUnauthorized returns true for 401 answers
func (e *APIError) IsUnauthorized() bool { return e.StatusCode == http.StatusUnauthorized }

// IsForbidden returns true for 403 answers
func (e *APIError) IsForbidden() bool { return e.StatusCode == http.StatusForbidden }

// DescribeStatus gives a user facing fallback message for a status code
func DescribeStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "Bad request"
	case http.StatusUnauthorized:
		return "Unauthorized access"
	case http.StatusForbidden:
		return "Access forbidden"
	case http.StatusNotFound:
		return "Resource not found"
	case http.StatusConflict:
		return "Conflict occurred"
	case http.StatusUnprocessableEntity:
		return "Validation failed"
	case http.StatusTooManyRequests:
		return "Too many requests"
	case http.StatusInternalServerError:
		return "Internal server error"
	case http.StatusServiceUnavailable:
		return "Service unavailable"
	}
	return fmt.Sprintf("HTTP error: %d", status)
}

type errorBody struct {
	Message   string `json:"message"`
	Error     string `json:"error"`
	ErrorDesc string `json:"error_description"`
	Code      string `json:"code"`
}

// errorMessage pulls a message out of an error body, if there is one
func errorMessage(raw []byte) string {
	var eb errorBody
	if len(raw) == 0 || json.Unmarshal(raw, &eb) != nil {
		return ""
	}
	switch {
	case eb.Message != "":
		return eb.Message
	case eb.ErrorDesc != "":
		return eb.ErrorDesc
	}
	return eb.Error
}

func newAPIError(status int, raw []byte) *APIError {
	e := &APIError{StatusCode: status, Message: errorMessage(raw), Body: raw}
	var eb errorBody
	if json.Unmarshal(raw, &eb) == nil {
		e.Code = eb.Code
		if e.Code == "" && eb.Message != "" {
			e.Code = eb.Error
		}
	}
	return e
}

// joinURL appends path to base without doubling or dropping slashes
func joinURL(base, path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(path, "/")
}

// normalizeBaseURL trims trailing slashes and defaults the scheme
func normalizeBaseURL(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err == nil && u.Scheme == "" && u.Host == "" && raw != "" {
		raw = "https://" + raw
	}
	return strings.TrimRight(raw, "/")
}

// APIClient issues JSON requests to business endpoints through the gateway
type APIClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewAPIClient creates a JSON client. httpClient should be a gateway client.
func NewAPIClient(baseURL string, httpClient *http.Client) *APIClient {
	return &APIClient{baseURL: normalizeBaseURL(baseURL), httpClient: httpClient}
}

// envelope is the backend's {success, data, message} wrapper
type envelope struct {
	Success *bool           `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

// Do sends in (if non-nil) as JSON and decodes the answer into out (if
// non-nil). {success, data} envelopes are unwrapped. Non-2xx answers and
// {success:false} bodies come back as *APIError.
func (c *APIClient) Do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, joinURL(c.baseURL, path), body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNetwork, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newAPIError(resp.StatusCode, raw)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err == nil && env.Success != nil {
		if !*env.Success {
			return &APIError{StatusCode: resp.StatusCode, Message: env.Message, Body: raw}
		}
		if out != nil && len(env.Data) > 0 {
			if err := json.Unmarshal(env.Data, out); err != nil {
				return fmt.Errorf("failed to decode response data: %w", err)
			}
			return nil
		}
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// Get issues a GET request
func (c *APIClient) Get(ctx context.Context, path string, out any) error {
	return c.Do(ctx, http.MethodGet, path, nil, out)
}

// Post issues a POST request
func (c *APIClient) Post(ctx context.Context, path string, in, out any) error {
	return c.Do(ctx, http.MethodPost, path, in, out)
}

// Put issues a PUT request
func (c *APIClient) Put(ctx context.Context, path string, in, out any) error {
	return c.Do(ctx, http.MethodPut, path, in, out)
}

// Patch issues a PATCH request
func (c *APIClient) Patch(ctx context.Context, path string, in, out any) error {
	return c.Do(ctx, http.MethodPatch, path, in, out)
}

// Delete issues a DELETE request
func (c *APIClient) Delete(ctx context.Context, path string, out any) error {
	return c.Do(ctx, http.MethodDelete, path, nil, out)
}
