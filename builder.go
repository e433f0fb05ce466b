package tunelink

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tunelink/tunelink/identity"
	"github.com/tunelink/tunelink/internal/linkapi"
	"github.com/tunelink/tunelink/internal/spotify"
	"github.com/tunelink/tunelink/proof"
	"github.com/tunelink/tunelink/proofstore"
)

// Builder assembles an Engine. A Builder is single-use: Build consumes it
// and a second Build returns an error.
type Builder struct {
	config        Config
	redis         redis.UniversalClient
	httpClient    *http.Client
	logger        *slog.Logger
	auditSink     AuditSink
	proofStore    proofstore.Store
	identityStore identity.Store
	now           func() time.Time
	built         bool
}

// New creates a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{config: DefaultConfig()}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the Redis client backing the identity and proof stores.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithHTTPClient sets the client used for collaborator calls. Nil keeps
// http.DefaultClient.
func (b *Builder) WithHTTPClient(client *http.Client) *Builder {
	b.httpClient = client
	return b
}

// WithLogger sets the engine logger. Nil keeps slog.Default.
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithAuditSink sets the sink receiving audit events. Only consulted when
// audit is enabled in the config.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithProofStore overrides the Redis-backed proof store.
func (b *Builder) WithProofStore(store proofstore.Store) *Builder {
	b.proofStore = store
	return b
}

// WithIdentityStore overrides the Redis-backed identity store.
func (b *Builder) WithIdentityStore(store identity.Store) *Builder {
	b.identityStore = store
	return b
}

// WithClock overrides the time source. For tests.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// WithMetricsEnabled toggles the metrics system without replacing the
// whole config.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// Build validates the configuration, wires the subsystems, and returns a
// ready Engine. In production a missing attestation secret is an error;
// otherwise the engine falls back to a well-known dev secret, logs a
// warning, and flags itself in the SecurityReport.
func (b *Builder) Build(ctx context.Context) (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}
	now := b.now
	if now == nil {
		now = time.Now
	}

	insecure := false
	secret := cfg.Proof.Secret
	if secret == "" {
		secret = insecureDevSecret
		insecure = true
		logger.Warn("no attestation secret configured, using insecure dev fallback; attestations are forgeable")
	}

	signer, err := proof.NewSigner(proof.Config{
		Secret: []byte(secret),
		MaxAge: cfg.Proof.MaxAge,
		Now:    now,
	})
	if err != nil {
		return nil, err
	}

	proofs := b.proofStore
	identities := b.identityStore
	if (proofs == nil || identities == nil) && b.redis == nil {
		return nil, ErrRedisRequired
	}
	if proofs == nil {
		proofs = proofstore.NewRedisStore(b.redis, cfg.Proof.RedisPrefix)
	}
	if identities == nil {
		identities = identity.NewRedisStore(b.redis, cfg.Session.RedisPrefix)
	}

	metrics := NewMetrics(cfg.Metrics)
	dispatcher := newAuditDispatcher(cfg.Audit, b.auditSink)

	refresher := spotify.NewClient(b.httpClient, cfg.Endpoints.TokenRefreshURL, cfg.Endpoints.RequestTimeout)
	linker := linkapi.NewClient(b.httpClient, cfg.Endpoints.LinkURL, cfg.Endpoints.LinkStatusURL, cfg.Endpoints.RequestTimeout)

	sessions, err := newSessionManager(ctx, cfg, refresher, identities, logger, dispatcher, metrics, now)
	if err != nil {
		dispatcher.Close()
		return nil, err
	}
	links := newLinkService(linker, sessions, logger, dispatcher, metrics)

	// Background probe fired when a provider write leaves both identities
	// present. CheckLinkedStatus swallows its own errors.
	if cfg.Endpoints.LinkStatusURL != "" {
		sessions.onBothPresent = func() {
			probeCtx, cancel := context.WithTimeout(context.Background(), cfg.Endpoints.RequestTimeout)
			defer cancel()
			links.CheckLinkedStatus(probeCtx)
		}
	}

	b.built = true

	return &Engine{
		config:         cfg,
		logger:         logger,
		sessions:       sessions,
		links:          links,
		signer:         signer,
		proofs:         proofs,
		audit:          dispatcher,
		metrics:        metrics,
		insecureSecret: insecure,
	}, nil
}
