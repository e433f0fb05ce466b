package tunelink

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/tunelink/tunelink/proofstore"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testRedis(t *testing.T) redis.UniversalClient {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

// newTestEngine builds an engine on a fresh miniredis with a test secret.
// mutate tweaks the config before Build; opts tweak the builder.
func newTestEngine(t *testing.T, mutate func(*Config), opts ...func(*Builder)) *Engine {
	t.Helper()

	cfg := DefaultConfig()
	cfg.Proof.Secret = "test-secret"
	if mutate != nil {
		mutate(&cfg)
	}

	b := New().
		WithConfig(cfg).
		WithRedis(testRedis(t)).
		WithLogger(testLogger())
	for _, opt := range opts {
		opt(b)
	}

	engine, err := b.Build(context.Background())
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)
	return engine
}

func TestStateReadsDirectlyFromSnapshot(t *testing.T) {
	engine := newTestEngine(t, nil)

	// State must be derivable from the by-value session copy itself.
	if got := engine.Session().State(); got != StateUnauthenticated {
		t.Fatalf("snapshot state = %v", got)
	}

	if err := engine.SetFarcasterAuth(context.Background(), FarcasterAuth{FID: 7, Username: "bob"}); err != nil {
		t.Fatalf("SetFarcasterAuth failed: %v", err)
	}
	if got := engine.State(); got != StateSingleProvider {
		t.Fatalf("State() = %v", got)
	}
	if got := engine.Session().State(); got != StateSingleProvider {
		t.Fatalf("snapshot state = %v", got)
	}
}

func TestBuildRequiresRedis(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Proof.Secret = "test-secret"

	_, err := New().WithConfig(cfg).WithLogger(testLogger()).Build(context.Background())
	if !errors.Is(err, ErrRedisRequired) {
		t.Fatalf("expected ErrRedisRequired, got %v", err)
	}
}

func TestBuildProductionRequiresSecret(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Production = true

	_, err := New().
		WithConfig(cfg).
		WithRedis(testRedis(t)).
		WithLogger(testLogger()).
		Build(context.Background())
	if !errors.Is(err, ErrSecretRequired) {
		t.Fatalf("expected ErrSecretRequired, got %v", err)
	}
}

func TestBuildRejectsExplicitDevSecretInProduction(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Production = true
	cfg.Proof.Secret = insecureDevSecret

	_, err := New().
		WithConfig(cfg).
		WithRedis(testRedis(t)).
		WithLogger(testLogger()).
		Build(context.Background())
	if err == nil {
		t.Fatal("expected error for dev secret in production")
	}
}

func TestBuilderIsSingleUse(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Proof.Secret = "test-secret"

	b := New().WithConfig(cfg).WithRedis(testRedis(t)).WithLogger(testLogger())
	engine, err := b.Build(context.Background())
	if err != nil {
		t.Fatalf("first Build failed: %v", err)
	}
	defer engine.Close()

	if _, err := b.Build(context.Background()); err == nil {
		t.Fatal("expected error on second Build")
	}
}

func TestDevFallbackSecretIsFlagged(t *testing.T) {
	engine := newTestEngine(t, func(cfg *Config) {
		cfg.Proof.Secret = ""
	})

	report := engine.SecurityReport()
	if !report.InsecureSecret {
		t.Fatal("expected InsecureSecret flag with dev fallback")
	}
	if !report.SelfSigned {
		t.Fatal("SelfSigned must always be true")
	}
	if report.ProductionMode {
		t.Fatal("unexpected ProductionMode")
	}
}

func TestSecurityReportReflectsConfig(t *testing.T) {
	engine := newTestEngine(t, func(cfg *Config) {
		cfg.Proof.MaxAge = 48 * time.Hour
		cfg.Session.ExpiryBuffer = 2 * time.Minute
		cfg.Metrics.Enabled = true
	})

	report := engine.SecurityReport()
	if report.InsecureSecret {
		t.Fatal("explicit secret flagged as insecure")
	}
	if report.ProofMaxAge != 48*time.Hour {
		t.Fatalf("ProofMaxAge = %v", report.ProofMaxAge)
	}
	if report.ExpiryBuffer != 2*time.Minute {
		t.Fatalf("ExpiryBuffer = %v", report.ExpiryBuffer)
	}
	if !report.MetricsEnabled {
		t.Fatal("MetricsEnabled not reported")
	}
}

func TestProofLifecycleThroughStore(t *testing.T) {
	engine := newTestEngine(t, nil)
	ctx := context.Background()

	payload := map[string]any{
		"tracks": []any{"track-1", "track-2"},
		"period": "4w",
	}

	att, err := engine.GenerateProof(ctx, "fid:42:spotify:alice", "/api/top-tracks", payload)
	if err != nil {
		t.Fatalf("GenerateProof failed: %v", err)
	}

	ok, err := engine.ValidateProof(ctx, att, payload)
	if err != nil || !ok {
		t.Fatalf("ValidateProof = (%v, %v), want (true, nil)", ok, err)
	}

	id, err := engine.StoreProof(ctx, att, payload)
	if err != nil {
		t.Fatalf("StoreProof failed: %v", err)
	}
	if id != att.ID {
		t.Fatalf("StoreProof returned %q, want %q", id, att.ID)
	}

	ok, err = engine.VerifyStored(ctx, id)
	if err != nil || !ok {
		t.Fatalf("VerifyStored = (%v, %v), want (true, nil)", ok, err)
	}
}

func TestStoreProofIsWriteOnce(t *testing.T) {
	engine := newTestEngine(t, nil)
	ctx := context.Background()

	payload := map[string]any{"artist": "artist-1"}
	att, err := engine.GenerateProof(ctx, "fid:42:spotify:alice", "/api/top-artists", payload)
	if err != nil {
		t.Fatalf("GenerateProof failed: %v", err)
	}

	if _, err := engine.StoreProof(ctx, att, payload); err != nil {
		t.Fatalf("first StoreProof failed: %v", err)
	}
	if _, err := engine.StoreProof(ctx, att, payload); !errors.Is(err, proofstore.ErrAlreadyStored) {
		t.Fatalf("expected ErrAlreadyStored, got %v", err)
	}
}

func TestValidateProofRejectsTamperedPayload(t *testing.T) {
	engine := newTestEngine(t, nil)
	ctx := context.Background()

	att, err := engine.GenerateProof(ctx, "fid:42:spotify:alice", "/api/top-tracks", map[string]any{"plays": 10})
	if err != nil {
		t.Fatalf("GenerateProof failed: %v", err)
	}

	ok, err := engine.ValidateProof(ctx, att, map[string]any{"plays": 9999})
	if ok {
		t.Fatal("tampered payload validated")
	}
	if !errors.Is(err, ErrProofHashMismatch) {
		t.Fatalf("expected ErrProofHashMismatch, got %v", err)
	}
}

func TestRetrieveProofUnknownID(t *testing.T) {
	engine := newTestEngine(t, nil)

	if _, err := engine.RetrieveProof(context.Background(), "no-such-id"); !errors.Is(err, ErrProofNotFound) {
		t.Fatalf("expected ErrProofNotFound, got %v", err)
	}
	if _, err := engine.VerifyStored(context.Background(), "no-such-id"); !errors.Is(err, ErrProofNotFound) {
		t.Fatalf("expected ErrProofNotFound from VerifyStored, got %v", err)
	}
}

func TestProofListings(t *testing.T) {
	engine := newTestEngine(t, nil)
	ctx := context.Background()
	subject := "fid:42:spotify:alice"

	for i, endpoint := range []string{"/api/top-tracks", "/api/top-artists", "/api/top-tracks"} {
		payload := map[string]any{"n": i}
		att, err := engine.GenerateProof(ctx, subject, endpoint, payload)
		if err != nil {
			t.Fatalf("GenerateProof %d failed: %v", i, err)
		}
		if _, err := engine.StoreProof(ctx, att, payload); err != nil {
			t.Fatalf("StoreProof %d failed: %v", i, err)
		}
	}

	bySubject, err := engine.ProofsBySubject(ctx, subject, 0)
	if err != nil {
		t.Fatalf("ProofsBySubject failed: %v", err)
	}
	if len(bySubject) != 3 {
		t.Fatalf("ProofsBySubject returned %d records, want 3", len(bySubject))
	}

	byEndpoint, err := engine.ProofsByEndpoint(ctx, "/api/top-tracks", 0)
	if err != nil {
		t.Fatalf("ProofsByEndpoint failed: %v", err)
	}
	if len(byEndpoint) != 2 {
		t.Fatalf("ProofsByEndpoint returned %d records, want 2", len(byEndpoint))
	}
}

func TestStorageOutageSurfacesAsUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := DefaultConfig()
	cfg.Proof.Secret = "test-secret"
	engine, err := New().WithConfig(cfg).WithRedis(client).WithLogger(testLogger()).Build(context.Background())
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer engine.Close()

	mr.Close()

	_, retrieveErr := engine.RetrieveProof(context.Background(), "any-id")
	if !errors.Is(retrieveErr, ErrStorageUnavailable) {
		t.Fatalf("expected ErrStorageUnavailable, got %v", retrieveErr)
	}
	// Unavailable must be distinguishable from not-found.
	if errors.Is(retrieveErr, ErrProofNotFound) {
		t.Fatal("outage misreported as not-found")
	}
}

func TestSubjectIDRequiresBothIdentities(t *testing.T) {
	engine := newTestEngine(t, nil)
	ctx := context.Background()

	if got := engine.SubjectID(); got != "" {
		t.Fatalf("SubjectID on empty session = %q", got)
	}

	if err := engine.SetFarcasterAuth(ctx, FarcasterAuth{FID: 42, Username: "alice"}); err != nil {
		t.Fatalf("SetFarcasterAuth failed: %v", err)
	}
	if got := engine.SubjectID(); got != "" {
		t.Fatalf("SubjectID with one identity = %q", got)
	}

	if err := engine.SetSpotifyAuth(ctx, SpotifyAuth{ID: "alice-spotify", AccessToken: "at"}); err != nil {
		t.Fatalf("SetSpotifyAuth failed: %v", err)
	}
	if got, want := engine.SubjectID(), "fid:42:spotify:alice-spotify"; got != want {
		t.Fatalf("SubjectID = %q, want %q", got, want)
	}
}

func TestNilEngineMethodsAreSafe(t *testing.T) {
	var engine *Engine

	if got := engine.Session(); got.State() != StateUnauthenticated {
		t.Fatalf("nil engine session state = %v", got.State())
	}
	if !engine.IsExpired() {
		t.Fatal("nil engine should report expired")
	}
	if _, err := engine.RefreshIfNeeded(context.Background()); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("expected ErrEngineNotReady, got %v", err)
	}
	if _, err := engine.GenerateProof(context.Background(), "s", "/e", nil); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("expected ErrEngineNotReady, got %v", err)
	}
	engine.Close()
}

func TestMetricsSnapshotCountsOperations(t *testing.T) {
	engine := newTestEngine(t, func(cfg *Config) {
		cfg.Metrics.Enabled = true
	})
	ctx := context.Background()

	payload := map[string]any{"x": 1}
	att, err := engine.GenerateProof(ctx, "subject", "/e", payload)
	if err != nil {
		t.Fatalf("GenerateProof failed: %v", err)
	}
	if _, err := engine.ValidateProof(ctx, att, payload); err != nil {
		t.Fatalf("ValidateProof failed: %v", err)
	}
	if _, err := engine.ValidateProof(ctx, att, map[string]any{"x": 2}); err == nil {
		t.Fatal("expected validation failure")
	}

	snapshot := engine.MetricsSnapshot()
	if got := snapshot.Counters[MetricProofGenerated]; got != 1 {
		t.Fatalf("MetricProofGenerated = %d, want 1", got)
	}
	if got := snapshot.Counters[MetricProofValid]; got != 1 {
		t.Fatalf("MetricProofValid = %d, want 1", got)
	}
	if got := snapshot.Counters[MetricProofHashMismatch]; got != 1 {
		t.Fatalf("MetricProofHashMismatch = %d, want 1", got)
	}
}
