package tunelink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tunelink/tunelink/proof"
	"github.com/tunelink/tunelink/proofstore"
)

// Engine is the facade over the identity session, account linking, and
// attestation subsystems. Build one with the Builder; the zero value is
// not usable. All methods are safe for concurrent use.
type Engine struct {
	config         Config
	logger         *slog.Logger
	sessions       *sessionManager
	links          *linkService
	signer         *proof.Signer
	proofs         proofstore.Store
	audit          *auditDispatcher
	metrics        *Metrics
	insecureSecret bool
}

func (e *Engine) ready() error {
	if e == nil || e.sessions == nil {
		return ErrEngineNotReady
	}
	return nil
}

// Session returns a deep copy of the current session. Mutating the copy
// has no effect on engine state.
func (e *Engine) Session() Session {
	if e.ready() != nil {
		return Session{}
	}
	return e.sessions.Snapshot()
}

// State returns the current position in the session state machine.
func (e *Engine) State() SessionState {
	return e.Session().State()
}

// SetProviderAuth records a sign-in for either provider. auth must be a
// FarcasterAuth or SpotifyAuth matching provider; the typed methods below
// are the preferred entry points.
func (e *Engine) SetProviderAuth(ctx context.Context, provider Provider, auth any) error {
	if err := e.ready(); err != nil {
		return err
	}
	switch provider {
	case ProviderFarcaster:
		fa, ok := auth.(FarcasterAuth)
		if !ok {
			return fmt.Errorf("provider %q requires a FarcasterAuth payload, got %T", provider, auth)
		}
		return e.sessions.SetFarcasterAuth(ctx, fa)
	case ProviderSpotify:
		sa, ok := auth.(SpotifyAuth)
		if !ok {
			return fmt.Errorf("provider %q requires a SpotifyAuth payload, got %T", provider, auth)
		}
		return e.sessions.SetSpotifyAuth(ctx, sa)
	}
	return fmt.Errorf("unknown provider %q", provider)
}

// SetFarcasterAuth records a Farcaster sign-in.
func (e *Engine) SetFarcasterAuth(ctx context.Context, auth FarcasterAuth) error {
	if err := e.ready(); err != nil {
		return err
	}
	return e.sessions.SetFarcasterAuth(ctx, auth)
}

// SetSpotifyAuth records a Spotify sign-in together with its credentials.
func (e *Engine) SetSpotifyAuth(ctx context.Context, auth SpotifyAuth) error {
	if err := e.ready(); err != nil {
		return err
	}
	return e.sessions.SetSpotifyAuth(ctx, auth)
}

// ClearProviderIdentity disconnects one provider, leaving the other
// untouched.
func (e *Engine) ClearProviderIdentity(ctx context.Context, provider Provider) error {
	if err := e.ready(); err != nil {
		return err
	}
	return e.sessions.ClearProviderIdentity(ctx, provider)
}

// ClearSession signs the user out of everything and wipes the persisted
// identifiers.
func (e *Engine) ClearSession(ctx context.Context) error {
	if err := e.ready(); err != nil {
		return err
	}
	return e.sessions.ClearSession(ctx)
}

// IsExpired reports whether the Spotify access token needs a refresh
// before its next use.
func (e *Engine) IsExpired() bool {
	if e.ready() != nil {
		return true
	}
	return e.sessions.IsExpired()
}

// RefreshIfNeeded ensures a usable access token, refreshing at most once
// across concurrent callers. It returns false with a nil error when the
// session holds no refresh token at all.
func (e *Engine) RefreshIfNeeded(ctx context.Context) (bool, error) {
	if err := e.ready(); err != nil {
		return false, err
	}
	return e.sessions.RefreshIfNeeded(ctx)
}

// LinkAccounts associates the two provider identities through the backend
// link API and records the outcome on the session.
func (e *Engine) LinkAccounts(ctx context.Context, fid int64, spotifyID string) (LinkResult, error) {
	if err := e.ready(); err != nil {
		return LinkResult{}, err
	}
	return e.links.LinkAccounts(ctx, fid, spotifyID)
}

// CheckLinkedStatus refreshes the session's linked flag from the backend.
// It never fails: errors are logged and the flag is left as-is. A session
// missing either identity makes this a no-op.
func (e *Engine) CheckLinkedStatus(ctx context.Context) {
	if e.ready() != nil {
		return
	}
	e.links.CheckLinkedStatus(ctx)
}

// SubjectID returns the composite attestation subject for the current
// session, or "" unless both identities are present.
func (e *Engine) SubjectID() string {
	if e.ready() != nil {
		return ""
	}
	fid, spotifyID, ok := e.sessions.identifiers()
	if !ok {
		return ""
	}
	return subjectID(fid, spotifyID)
}

// GenerateProof signs responseData for the given subject and endpoint.
func (e *Engine) GenerateProof(ctx context.Context, subject, endpoint string, responseData any) (*proof.Attestation, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	att, err := e.signer.Generate(subject, endpoint, responseData)
	if err != nil {
		return nil, err
	}

	e.metrics.Inc(MetricProofGenerated)
	e.audit.Emit(ctx, AuditEvent{
		EventType:     AuditProofGenerated,
		SubjectID:     subject,
		AttestationID: att.ID,
		Endpoint:      endpoint,
		Success:       true,
	})
	return att, nil
}

// ValidateProof checks an attestation against a payload. It returns
// (true, nil) when valid; otherwise (false, err) with the error wrapping
// ErrProofSignatureInvalid, ErrProofHashMismatch, or ErrProofExpired.
func (e *Engine) ValidateProof(ctx context.Context, att *proof.Attestation, responseData any) (bool, error) {
	if err := e.ready(); err != nil {
		return false, err
	}

	start := time.Now()
	err := e.signer.Validate(att, responseData)
	e.metrics.ObserveValidateLatency(time.Since(start))

	event := AuditEvent{
		EventType: AuditProofValidated,
		Success:   err == nil,
	}
	if att != nil {
		event.SubjectID = att.SubjectID
		event.AttestationID = att.ID
		event.Endpoint = att.Endpoint
	}

	switch {
	case err == nil:
		e.metrics.Inc(MetricProofValid)
	case errors.Is(err, proof.ErrSignatureInvalid):
		e.metrics.Inc(MetricProofSignatureInvalid)
	case errors.Is(err, proof.ErrHashMismatch):
		e.metrics.Inc(MetricProofHashMismatch)
	case errors.Is(err, proof.ErrExpired):
		e.metrics.Inc(MetricProofExpired)
	}
	if err != nil {
		event.Error = err.Error()
	}
	e.audit.Emit(ctx, event)

	if err != nil {
		return false, err
	}
	return true, nil
}

// StoreProof persists an attestation with its payload and returns the
// attestation id. Attestations are write-once; storing the same id twice
// returns proofstore.ErrAlreadyStored.
func (e *Engine) StoreProof(ctx context.Context, att *proof.Attestation, responseData any) (string, error) {
	if err := e.ready(); err != nil {
		return "", err
	}
	if att == nil {
		return "", proof.ErrMalformed
	}

	id, err := e.proofs.Store(ctx, att, responseData)
	if err != nil {
		if errors.Is(err, proofstore.ErrUnavailable) {
			e.metrics.Inc(MetricStorageUnavailable)
		}
		return "", storageUnavailable(err)
	}

	e.metrics.Inc(MetricProofStored)
	e.audit.Emit(ctx, AuditEvent{
		EventType:     AuditProofStored,
		SubjectID:     att.SubjectID,
		AttestationID: att.ID,
		Endpoint:      att.Endpoint,
		Success:       true,
	})
	return id, nil
}

// RetrieveProof loads a stored attestation record by id.
func (e *Engine) RetrieveProof(ctx context.Context, id string) (*proofstore.Record, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	record, err := e.proofs.Retrieve(ctx, id)
	if err != nil {
		if errors.Is(err, proofstore.ErrUnavailable) {
			e.metrics.Inc(MetricStorageUnavailable)
		}
		return nil, storageUnavailable(err)
	}
	return record, nil
}

// ProofsBySubject lists stored attestations for a subject, newest first.
// limit <= 0 means no limit.
func (e *Engine) ProofsBySubject(ctx context.Context, subject string, limit int) ([]*proof.Attestation, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	listed, err := e.proofs.ListBySubject(ctx, subject, limit)
	if err != nil {
		return nil, storageUnavailable(err)
	}
	return listed, nil
}

// ProofsByEndpoint lists stored attestations for an endpoint, newest
// first. limit <= 0 means no limit.
func (e *Engine) ProofsByEndpoint(ctx context.Context, endpoint string, limit int) ([]*proof.Attestation, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	listed, err := e.proofs.ListByEndpoint(ctx, endpoint, limit)
	if err != nil {
		return nil, storageUnavailable(err)
	}
	return listed, nil
}

// VerifyStored retrieves a stored attestation and re-validates it against
// the payload persisted alongside it. It catches both tampering with the
// stored record and attestations that have aged out since storage.
func (e *Engine) VerifyStored(ctx context.Context, id string) (bool, error) {
	if err := e.ready(); err != nil {
		return false, err
	}

	record, err := e.RetrieveProof(ctx, id)
	if err != nil {
		return false, err
	}
	return e.ValidateProof(ctx, record.Attestation, record.ResponseData)
}

// SecurityReport describes the engine's current security posture.
type SecurityReport struct {
	// ProductionMode reports fail-closed configuration handling.
	ProductionMode bool
	// SelfSigned is always true: the engine both signs and validates with
	// the same secret, so attestations prove integrity and origin within
	// this deployment, not to third parties.
	SelfSigned bool
	// InsecureSecret is true when the engine runs on the dev fallback
	// secret. Attestations signed with it are forgeable.
	InsecureSecret bool
	ProofMaxAge    time.Duration
	ExpiryBuffer   time.Duration
	AuditEnabled   bool
	MetricsEnabled bool
}

// SecurityReport summarizes the security-relevant configuration so an
// operator can audit a running engine without reading its config source.
func (e *Engine) SecurityReport() SecurityReport {
	if e.ready() != nil {
		return SecurityReport{}
	}
	return SecurityReport{
		ProductionMode: e.config.Production,
		SelfSigned:     true,
		InsecureSecret: e.insecureSecret,
		ProofMaxAge:    e.signer.MaxAge(),
		ExpiryBuffer:   e.config.Session.ExpiryBuffer,
		AuditEnabled:   e.config.Audit.Enabled,
		MetricsEnabled: e.config.Metrics.Enabled,
	}
}

// MetricsSnapshot returns a point-in-time copy of all engine metrics.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e.ready() != nil {
		return MetricsSnapshot{}
	}
	return e.metrics.Snapshot()
}

// AuditDropped reports how many audit events were dropped because the
// buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e.ready() != nil {
		return 0
	}
	return e.audit.Dropped()
}

// Close flushes and stops the audit dispatcher. The engine must not be
// used after Close.
func (e *Engine) Close() {
	if e.ready() != nil {
		return
	}
	e.audit.Close()
}
