package proof

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DefaultMaxAge is how long an attestation stays valid after signing.
const DefaultMaxAge = 30 * 24 * time.Hour

var (
	// ErrSignatureInvalid is returned when the recomputed HMAC does not
	// match the attestation signature.
	ErrSignatureInvalid = errors.New("attestation signature invalid")
	// ErrHashMismatch is returned when the payload no longer hashes to the
	// attested response hash.
	ErrHashMismatch = errors.New("attestation response hash mismatch")
	// ErrExpired is returned when the attestation is older than the
	// configured maximum age.
	ErrExpired = errors.New("attestation expired")
	// ErrSecretRequired is returned by NewSigner when no secret is given.
	ErrSecretRequired = errors.New("signing secret required")
	// ErrMalformed is returned when required attestation fields are missing.
	ErrMalformed = errors.New("attestation malformed")
)

// PublicData is the shareable subset of an attestation. It carries no
// signature material and can be shown in a UI or cast payload.
type PublicData struct {
	Endpoint  string `json:"endpoint"`
	Timestamp int64  `json:"timestamp"`
	SubjectID string `json:"subjectId"`
}

// Attestation asserts that a response payload was associated with a subject
// and endpoint at a point in time. Instances are immutable once generated;
// they are stored and retrieved, never mutated.
type Attestation struct {
	ID           string     `json:"id"`
	Timestamp    int64      `json:"timestamp"` // epoch milliseconds
	SubjectID    string     `json:"subjectId"`
	Endpoint     string     `json:"endpoint"`
	ResponseHash string     `json:"responseHash"` // hex SHA-256 of canonical payload
	Signature    string     `json:"signature"`    // hex HMAC-SHA256 over signingPayload
	PublicData   PublicData `json:"publicData"`
}

// Config tunes a Signer. Secret is mandatory. MaxAge defaults to
// DefaultMaxAge and Now to time.Now.
type Config struct {
	Secret []byte
	MaxAge time.Duration
	Now    func() time.Time
}

// Signer generates and validates attestations. It holds no mutable state
// and is safe for concurrent use.
type Signer struct {
	secret []byte
	maxAge time.Duration
	now    func() time.Time
}

// NewSigner creates a Signer from cfg.
func NewSigner(cfg Config) (*Signer, error) {
	if len(cfg.Secret) == 0 {
		return nil, ErrSecretRequired
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = DefaultMaxAge
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	secret := make([]byte, len(cfg.Secret))
	copy(secret, cfg.Secret)

	return &Signer{
		secret: secret,
		maxAge: cfg.MaxAge,
		now:    cfg.Now,
	}, nil
}

// MaxAge reports the configured validity window.
func (s *Signer) MaxAge() time.Duration {
	return s.maxAge
}

// Generate signs responseData for the given subject and endpoint and
// returns a new Attestation. Persisting the attestation together with the
// payload is the caller's responsibility.
func (s *Signer) Generate(subjectID, endpoint string, responseData any) (*Attestation, error) {
	canonical, err := CanonicalJSON(responseData)
	if err != nil {
		return nil, err
	}

	responseHash := sha256.Sum256(canonical)
	id := uuid.NewString()
	timestamp := s.now().UnixMilli()
	hashHex := hex.EncodeToString(responseHash[:])

	att := &Attestation{
		ID:           id,
		Timestamp:    timestamp,
		SubjectID:    subjectID,
		Endpoint:     endpoint,
		ResponseHash: hashHex,
		PublicData: PublicData{
			Endpoint:  endpoint,
			Timestamp: timestamp,
			SubjectID: subjectID,
		},
	}
	att.Signature = hex.EncodeToString(s.sign(att))

	return att, nil
}

// Validate checks att against responseData. A nil return means the
// attestation is valid. Failures are terminal for the attestation and map
// to ErrSignatureInvalid, ErrHashMismatch, or ErrExpired; the checks run in
// that order and the first failure wins.
func (s *Signer) Validate(att *Attestation, responseData any) error {
	if att == nil || att.ID == "" || att.ResponseHash == "" || att.Signature == "" {
		return ErrMalformed
	}

	provided, err := hex.DecodeString(att.Signature)
	if err != nil {
		return fmt.Errorf("%w: signature not hex", ErrSignatureInvalid)
	}
	// hmac.Equal is constant time; a byte-wise == would leak how much of
	// the signature matched.
	if !hmac.Equal(provided, s.sign(att)) {
		return ErrSignatureInvalid
	}

	canonical, err := CanonicalJSON(responseData)
	if err != nil {
		return err
	}
	payloadHash := sha256.Sum256(canonical)
	if hex.EncodeToString(payloadHash[:]) != att.ResponseHash {
		return ErrHashMismatch
	}

	age := s.now().UnixMilli() - att.Timestamp
	if age > s.maxAge.Milliseconds() {
		return ErrExpired
	}

	return nil
}

// signingPayload is the exact byte sequence covered by the signature:
// "{id}:{timestamp}:{subjectId}:{endpoint}:{responseHash}".
func signingPayload(att *Attestation) []byte {
	return fmt.Appendf(nil, "%s:%d:%s:%s:%s",
		att.ID, att.Timestamp, att.SubjectID, att.Endpoint, att.ResponseHash)
}

func (s *Signer) sign(att *Attestation) []byte {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(signingPayload(att))
	return mac.Sum(nil)
}
