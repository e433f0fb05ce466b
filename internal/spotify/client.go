// Package spotify talks to the external token-refresh collaborator and
// normalizes its loosely shaped responses at the boundary, before any data
// reaches the core session model.
package spotify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrRefreshRejected is returned when the refresh endpoint answers with a
// non-success status. The wrapped message carries the server-provided
// reason when one was present.
var ErrRefreshRejected = errors.New("token refresh rejected")

const defaultTimeout = 10 * time.Second

// Tokens is the normalized refresh result. RefreshToken is empty when the
// server did not rotate the refresh token.
type Tokens struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    int64 // epoch seconds
}

// Client calls the token refresh endpoint.
type Client struct {
	http     *http.Client
	endpoint string
	timeout  time.Duration
	now      func() time.Time
}

// NewClient creates a Client. httpClient may be nil for the default client;
// timeout <= 0 falls back to 10s.
func NewClient(httpClient *http.Client, endpoint string, timeout time.Duration) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		http:     httpClient,
		endpoint: endpoint,
		timeout:  timeout,
		now:      time.Now,
	}
}

// Refresh exchanges refreshToken for fresh credentials.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*Tokens, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(map[string]string{"refreshToken": refreshToken})
	if err != nil {
		return nil, fmt.Errorf("encode refresh request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("refresh request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read refresh response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if msg := serverMessage(raw); msg != "" {
			return nil, fmt.Errorf("%w: %s", ErrRefreshRejected, msg)
		}
		return nil, fmt.Errorf("%w: status %d", ErrRefreshRejected, resp.StatusCode)
	}

	tokens, err := normalizeTokens(raw, c.now())
	if err != nil {
		return nil, err
	}
	return tokens, nil
}

// normalizeTokens is the single place where the refresh endpoint's shape
// variations are absorbed: snake_case vs camelCase field names, expiresAt
// as number or numeric string, and expires_in seconds relative to now.
func normalizeTokens(raw []byte, now time.Time) (*Tokens, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("decode refresh response: %w", err)
	}

	tokens := &Tokens{
		AccessToken:  pickString(fields, "accessToken", "access_token"),
		RefreshToken: pickString(fields, "refreshToken", "refresh_token"),
		ExpiresAt:    pickInt(fields, "expiresAt", "expires_at"),
	}

	if tokens.ExpiresAt == 0 {
		if expiresIn := pickInt(fields, "expiresIn", "expires_in"); expiresIn > 0 {
			tokens.ExpiresAt = now.Unix() + expiresIn
		}
	}

	if tokens.AccessToken == "" {
		return nil, fmt.Errorf("%w: no access token in response", ErrRefreshRejected)
	}
	return tokens, nil
}

func serverMessage(raw []byte) string {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return ""
	}
	return pickString(fields, "error", "message", "error_description")
}

func pickString(fields map[string]json.RawMessage, keys ...string) string {
	for _, key := range keys {
		raw, ok := fields[key]
		if !ok {
			continue
		}
		var value string
		if err := json.Unmarshal(raw, &value); err == nil && value != "" {
			return value
		}
	}
	return ""
}

func pickInt(fields map[string]json.RawMessage, keys ...string) int64 {
	for _, key := range keys {
		raw, ok := fields[key]
		if !ok {
			continue
		}
		var number json.Number
		if err := json.Unmarshal(raw, &number); err == nil {
			if value, err := number.Int64(); err == nil {
				return value
			}
		}
		// Numeric strings show up from some proxies.
		var text string
		if err := json.Unmarshal(raw, &text); err == nil {
			var parsed json.Number = json.Number(text)
			if value, err := parsed.Int64(); err == nil {
				return value
			}
		}
	}
	return 0
}
