// Package linkapi talks to the external account-link collaborator: the POST
// that associates a Farcaster fid with a Spotify user id, and the GET that
// reports whether such an association exists. Response shapes are
// normalized here at the boundary.
package linkapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// ErrLinkRejected is returned when the link endpoint answers with a
// non-success status or an explicit failure body.
var ErrLinkRejected = errors.New("account link rejected")

const defaultTimeout = 10 * time.Second

// LinkResponse is the normalized result of a link attempt.
type LinkResponse struct {
	Success bool
	Error   string
}

// Client calls the link and link-status endpoints.
type Client struct {
	http      *http.Client
	linkURL   string
	statusURL string
	timeout   time.Duration
}

// NewClient creates a Client. httpClient may be nil for the default client;
// timeout <= 0 falls back to 10s.
func NewClient(httpClient *http.Client, linkURL, statusURL string, timeout time.Duration) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		http:      httpClient,
		linkURL:   linkURL,
		statusURL: statusURL,
		timeout:   timeout,
	}
}

// Link asks the server to associate fid with spotifyID. The server treats
// repeated calls with the same pair as idempotent; the client's only duty
// is to not fire them concurrently.
func (c *Client) Link(ctx context.Context, fid int64, spotifyID string) (*LinkResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(map[string]any{"fid": fid, "spotifyId": spotifyID})
	if err != nil {
		return nil, fmt.Errorf("encode link request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.linkURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build link request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("link request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read link response: %w", err)
	}

	result := normalizeLink(raw)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		result.Success = false
		if result.Error == "" {
			result.Error = fmt.Sprintf("status %d", resp.StatusCode)
		}
	}
	if !result.Success {
		if result.Error == "" {
			result.Error = "link failed"
		}
		return result, fmt.Errorf("%w: %s", ErrLinkRejected, result.Error)
	}
	return result, nil
}

// Status reports whether fid and spotifyID are associated server-side.
func (c *Client) Status(ctx context.Context, fid int64, spotifyID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	query := url.Values{}
	query.Set("fid", strconv.FormatInt(fid, 10))
	query.Set("spotifyId", spotifyID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.statusURL+"?"+query.Encode(), nil)
	if err != nil {
		return false, fmt.Errorf("build status request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("status request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return false, fmt.Errorf("read status response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, fmt.Errorf("status request: status %d", resp.StatusCode)
	}

	return normalizeStatus(raw), nil
}

func normalizeLink(raw []byte) *LinkResponse {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return &LinkResponse{}
	}

	result := &LinkResponse{}
	if ok := pickBool(fields, "success", "ok"); ok != nil {
		result.Success = *ok
	}
	result.Error = pickString(fields, "error", "message")
	return result
}

func normalizeStatus(raw []byte) bool {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return false
	}
	if linked := pickBool(fields, "linked", "isLinked", "is_linked"); linked != nil {
		return *linked
	}
	return false
}

func pickBool(fields map[string]json.RawMessage, keys ...string) *bool {
	for _, key := range keys {
		raw, ok := fields[key]
		if !ok {
			continue
		}
		var value bool
		if err := json.Unmarshal(raw, &value); err == nil {
			return &value
		}
	}
	return nil
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
