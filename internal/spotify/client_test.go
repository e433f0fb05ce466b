package spotify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRefreshSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if body["refreshToken"] != "rt_old" {
			t.Errorf("unexpected refresh token %q", body["refreshToken"])
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"accessToken":  "at_new",
			"refreshToken": "rt_new",
			"expiresAt":    1750000000,
		})
	}))
	defer server.Close()

	client := NewClient(nil, server.URL, time.Second)
	tokens, err := client.Refresh(context.Background(), "rt_old")
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if tokens.AccessToken != "at_new" || tokens.RefreshToken != "rt_new" || tokens.ExpiresAt != 1750000000 {
		t.Fatalf("unexpected tokens: %+v", tokens)
	}
}

func TestRefreshNormalizesAlternateShapes(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	cases := map[string]struct {
		body          string
		wantAccess    string
		wantRefresh   string
		wantExpiresAt int64
	}{
		"snake case": {
			body:          `{"access_token":"at","refresh_token":"rt","expires_at":1750000000}`,
			wantAccess:    "at",
			wantRefresh:   "rt",
			wantExpiresAt: 1750000000,
		},
		"expires_in relative": {
			body:          `{"access_token":"at","expires_in":3600}`,
			wantAccess:    "at",
			wantExpiresAt: now.Unix() + 3600,
		},
		"string epoch": {
			body:          `{"accessToken":"at","expiresAt":"1750000000"}`,
			wantAccess:    "at",
			wantExpiresAt: 1750000000,
		},
		"no rotation": {
			body:          `{"accessToken":"at","expiresAt":1750000000}`,
			wantAccess:    "at",
			wantExpiresAt: 1750000000,
		},
	}

	for name, tc := range cases {
		tokens, err := normalizeTokens([]byte(tc.body), now)
		if err != nil {
			t.Fatalf("%s: normalizeTokens failed: %v", name, err)
		}
		if tokens.AccessToken != tc.wantAccess {
			t.Fatalf("%s: access token %q, want %q", name, tokens.AccessToken, tc.wantAccess)
		}
		if tokens.RefreshToken != tc.wantRefresh {
			t.Fatalf("%s: refresh token %q, want %q", name, tokens.RefreshToken, tc.wantRefresh)
		}
		if tokens.ExpiresAt != tc.wantExpiresAt {
			t.Fatalf("%s: expiresAt %d, want %d", name, tokens.ExpiresAt, tc.wantExpiresAt)
		}
	}
}

func TestRefreshMissingAccessToken(t *testing.T) {
	if _, err := normalizeTokens([]byte(`{"expiresAt":1}`), time.Now()); !errors.Is(err, ErrRefreshRejected) {
		t.Fatalf("expected ErrRefreshRejected, got %v", err)
	}
}

func TestRefreshServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant"})
	}))
	defer server.Close()

	client := NewClient(nil, server.URL, time.Second)
	_, err := client.Refresh(context.Background(), "rt_revoked")
	if !errors.Is(err, ErrRefreshRejected) {
		t.Fatalf("expected ErrRefreshRejected, got %v", err)
	}
	if got := err.Error(); got != "token refresh rejected: invalid_grant" {
		t.Fatalf("server message not surfaced: %q", got)
	}
}

func TestRefreshTimeout(t *testing.T) {
	block := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-block
	}))
	defer server.Close()
	defer close(block)

	client := NewClient(nil, server.URL, 50*time.Millisecond)
	if _, err := client.Refresh(context.Background(), "rt"); err == nil {
		t.Fatal("expected timeout error")
	}
}
