package tunelink

import (
	"errors"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/tunelink/tunelink/proof"
)

// insecureDevSecret is the signing fallback used outside production when
// no secret is configured. Anyone who reads this source can forge or
// validate attestations signed with it, which is exactly why Build refuses
// it in production mode and flags it in the SecurityReport elsewhere.
const insecureDevSecret = "tunelink-dev-secret-do-not-ship"

// Config is the full engine configuration. Zero values are filled in by
// defaults; see DefaultConfig.
type Config struct {
	// Production switches the engine into fail-closed mode: a missing
	// attestation secret becomes a build error instead of a dev fallback.
	Production bool
	// ProfileID namespaces the persisted identifier record, so several
	// profiles can share one Redis. Defaults to "default".
	ProfileID string

	Proof     ProofConfig
	Session   SessionConfig
	Endpoints EndpointConfig
	Audit     AuditConfig
	Metrics   MetricsConfig
}

// ProofConfig tunes attestation generation and validation.
type ProofConfig struct {
	// Secret signs attestations (HMAC-SHA256). Required in production.
	Secret string
	// MaxAge is the attestation validity window. Default 30 days.
	MaxAge time.Duration
	// RedisPrefix namespaces attestation keys. Default "tlp".
	RedisPrefix string
}

// SessionConfig tunes the identity session manager.
type SessionConfig struct {
	// ExpiryBuffer treats a token as expired this long before the server
	// would, so no request is issued with a token that dies mid-flight.
	// Default 5 minutes.
	ExpiryBuffer time.Duration
	// RedisPrefix namespaces the persisted identifier record. Default "tli".
	RedisPrefix string
}

// EndpointConfig locates the external collaborators.
type EndpointConfig struct {
	// TokenRefreshURL accepts POST {refreshToken} and returns new tokens.
	TokenRefreshURL string
	// LinkURL accepts POST {fid, spotifyId} and returns {success, error?}.
	LinkURL string
	// LinkStatusURL accepts GET ?fid=&spotifyId= and returns {linked}.
	LinkStatusURL string
	// RequestTimeout bounds each collaborator call. Default 10s.
	RequestTimeout time.Duration
}

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	// DropIfFull drops events instead of blocking the caller when the
	// buffer is full. Dropped counts are observable via AuditDropped.
	DropIfFull bool
}

// MetricsConfig controls the in-process metrics system.
type MetricsConfig struct {
	Enabled bool
	// EnableLatencyHistograms additionally records validation latency
	// buckets.
	EnableLatencyHistograms bool
}

// DefaultConfig returns the configuration the engine starts from before
// builder overrides.
func DefaultConfig() Config {
	return Config{
		ProfileID: "default",
		Proof: ProofConfig{
			MaxAge:      proof.DefaultMaxAge,
			RedisPrefix: "tlp",
		},
		Session: SessionConfig{
			ExpiryBuffer: 5 * time.Minute,
			RedisPrefix:  "tli",
		},
		Endpoints: EndpointConfig{
			RequestTimeout: 10 * time.Second,
		},
		Audit: AuditConfig{
			BufferSize: 256,
			DropIfFull: true,
		},
	}
}

func cloneConfig(cfg Config) Config {
	// All fields are values; a shallow copy is a deep copy today. Kept as
	// a seam so reference-typed fields added later get handled here.
	return cfg
}

// Validate normalizes defaults and rejects unusable configurations. In
// production mode a missing secret is an error; outside production the
// caller gets the flagged dev fallback from Build.
func (c *Config) Validate() error {
	if c.ProfileID == "" {
		c.ProfileID = "default"
	}
	if c.Proof.MaxAge <= 0 {
		c.Proof.MaxAge = proof.DefaultMaxAge
	}
	if c.Session.ExpiryBuffer <= 0 {
		c.Session.ExpiryBuffer = 5 * time.Minute
	}
	if c.Endpoints.RequestTimeout <= 0 {
		c.Endpoints.RequestTimeout = 10 * time.Second
	}
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		c.Audit.BufferSize = 256
	}

	if c.Production && c.Proof.Secret == "" {
		return ErrSecretRequired
	}
	if c.Production && c.Proof.Secret == insecureDevSecret {
		return errors.New("config: dev fallback secret configured explicitly in production")
	}
	return nil
}

type envConfig struct {
	Production      bool          `env:"PRODUCTION" envDefault:"false"`
	ProfileID       string        `env:"PROFILE_ID" envDefault:"default"`
	ProofSecret     string        `env:"PROOF_SECRET"`
	ProofMaxAge     time.Duration `env:"PROOF_MAX_AGE" envDefault:"720h"`
	ExpiryBuffer    time.Duration `env:"EXPIRY_BUFFER" envDefault:"5m"`
	TokenRefreshURL string        `env:"TOKEN_REFRESH_URL"`
	LinkURL         string        `env:"LINK_URL"`
	LinkStatusURL   string        `env:"LINK_STATUS_URL"`
	RequestTimeout  time.Duration `env:"REQUEST_TIMEOUT" envDefault:"10s"`
	AuditEnabled    bool          `env:"AUDIT_ENABLED" envDefault:"false"`
	MetricsEnabled  bool          `env:"METRICS_ENABLED" envDefault:"false"`
}

// ConfigFromEnv builds a Config from TUNELINK_-prefixed environment
// variables, layered over DefaultConfig.
func ConfigFromEnv() (Config, error) {
	parsed := envConfig{}
	if err := env.ParseWithOptions(&parsed, env.Options{Prefix: "TUNELINK_"}); err != nil {
		return Config{}, err
	}

	cfg := DefaultConfig()
	cfg.Production = parsed.Production
	cfg.ProfileID = parsed.ProfileID
	cfg.Proof.Secret = parsed.ProofSecret
	cfg.Proof.MaxAge = parsed.ProofMaxAge
	cfg.Session.ExpiryBuffer = parsed.ExpiryBuffer
	cfg.Endpoints.TokenRefreshURL = parsed.TokenRefreshURL
	cfg.Endpoints.LinkURL = parsed.LinkURL
	cfg.Endpoints.LinkStatusURL = parsed.LinkStatusURL
	cfg.Endpoints.RequestTimeout = parsed.RequestTimeout
	cfg.Audit.Enabled = parsed.AuditEnabled
	cfg.Metrics.Enabled = parsed.MetricsEnabled
	return cfg, nil
}
