package tunelink

import (
	"errors"

	"github.com/tunelink/tunelink/identity"
	"github.com/tunelink/tunelink/proof"
	"github.com/tunelink/tunelink/proofstore"
)

var (
	// ErrAuthExpired is returned when an operation needs a usable access
	// token and none is available.
	ErrAuthExpired = errors.New("access token expired")
	// ErrRefreshFailed is returned when the token refresh endpoint fails.
	// The access token is cleared; the next RefreshIfNeeded call tries
	// again on demand, there is no automatic retry.
	ErrRefreshFailed = errors.New("token refresh failed")
	// ErrLinkFailed is returned when the link endpoint declines or cannot
	// be reached. The UI decides whether to retry.
	ErrLinkFailed = errors.New("account link failed")
	// ErrLinkConflict is returned when LinkAccounts is called with
	// different arguments while another link request is still in flight.
	ErrLinkConflict = errors.New("another link request is in flight")
	// ErrSecretRequired is returned by Build in production mode when no
	// attestation signing secret is configured. The engine fails closed
	// rather than signing with a known fallback.
	ErrSecretRequired = errors.New("attestation secret required in production")
	// ErrEngineNotReady is returned when an Engine method is called on a
	// nil or incompletely built engine.
	ErrEngineNotReady = errors.New("engine not initialized")
	// ErrRedisRequired is returned by Build when no Redis client was
	// provided and no custom stores replace it.
	ErrRedisRequired = errors.New("redis client required")

	// ErrProofSignatureInvalid reports a failed signature check.
	ErrProofSignatureInvalid = proof.ErrSignatureInvalid
	// ErrProofHashMismatch reports payload tampering after signing.
	ErrProofHashMismatch = proof.ErrHashMismatch
	// ErrProofExpired reports an attestation older than the maximum age.
	ErrProofExpired = proof.ErrExpired
	// ErrProofNotFound reports a lookup for an attestation id that was
	// never stored. Distinct from ErrStorageUnavailable: "not found" and
	// "could not verify" must surface differently.
	ErrProofNotFound = proofstore.ErrNotFound
	// ErrStorageUnavailable reports that a persistence backend could not
	// be reached. Callers treat affected attestations as unverifiable,
	// not as a crash.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// storageUnavailable folds the per-store unavailability errors into the
// package-level taxonomy while keeping the original cause in the chain.
func storageUnavailable(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, proofstore.ErrUnavailable) || errors.Is(err, identity.ErrUnavailable) {
		return errors.Join(ErrStorageUnavailable, err)
	}
	return err
}
