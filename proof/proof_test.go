package proof

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func testSigner(t *testing.T, now func() time.Time) *Signer {
	t.Helper()
	signer, err := NewSigner(Config{
		Secret: []byte("unit-test-secret-0123456789abcdef"),
		Now:    now,
	})
	if err != nil {
		t.Fatalf("NewSigner failed: %v", err)
	}
	return signer
}

func TestNewSignerRequiresSecret(t *testing.T) {
	if _, err := NewSigner(Config{}); !errors.Is(err, ErrSecretRequired) {
		t.Fatalf("expected ErrSecretRequired, got %v", err)
	}
}

func TestGenerateValidateRoundTrip(t *testing.T) {
	signer := testSigner(t, nil)
	payload := map[string]any{
		"items": []any{
			map[string]any{"id": "t1", "name": "track one"},
			map[string]any{"id": "t2", "name": "track two"},
		},
		"total": 2,
	}

	att, err := signer.Generate("555:sp_1", "/me/top-tracks", payload)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if att.ID == "" || att.Signature == "" || att.ResponseHash == "" {
		t.Fatalf("attestation missing fields: %+v", att)
	}
	if att.PublicData.SubjectID != "555:sp_1" || att.PublicData.Endpoint != "/me/top-tracks" {
		t.Fatalf("public data mismatch: %+v", att.PublicData)
	}
	if att.PublicData.Timestamp != att.Timestamp {
		t.Fatalf("public timestamp %d != %d", att.PublicData.Timestamp, att.Timestamp)
	}

	if err := signer.Validate(att, payload); err != nil {
		t.Fatalf("Validate failed on untouched payload: %v", err)
	}
}

func TestValidateDetectsPayloadTamper(t *testing.T) {
	signer := testSigner(t, nil)
	payload := map[string]any{"items": []any{map[string]any{"id": "t1"}}}

	att, err := signer.Generate("555:sp_1", "/me/top-tracks", payload)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	payload["items"] = []any{map[string]any{"id": "t1-forged"}}
	if err := signer.Validate(att, payload); !errors.Is(err, ErrHashMismatch) {
		t.Fatalf("expected ErrHashMismatch, got %v", err)
	}
}

func TestValidateDetectsFieldTamper(t *testing.T) {
	signer := testSigner(t, nil)
	payload := map[string]any{"plays": 41}

	original, err := signer.Generate("sub", "/me/recent", payload)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	cases := map[string]func(a Attestation) Attestation{
		"subject":   func(a Attestation) Attestation { a.SubjectID = "other"; return a },
		"endpoint":  func(a Attestation) Attestation { a.Endpoint = "/other"; return a },
		"timestamp": func(a Attestation) Attestation { a.Timestamp++; return a },
		"hash": func(a Attestation) Attestation {
			a.ResponseHash = strings.Repeat("0", 64)
			return a
		},
		"signature": func(a Attestation) Attestation {
			a.Signature = strings.Repeat("0", 64)
			return a
		},
	}

	for name, mutate := range cases {
		tampered := mutate(*original)
		if err := signer.Validate(&tampered, payload); !errors.Is(err, ErrSignatureInvalid) {
			t.Fatalf("%s tamper: expected ErrSignatureInvalid, got %v", name, err)
		}
	}
}

func TestValidateRejectsForeignSecret(t *testing.T) {
	signer := testSigner(t, nil)
	other, err := NewSigner(Config{Secret: []byte("a-different-secret-entirely!!")})
	if err != nil {
		t.Fatalf("NewSigner failed: %v", err)
	}

	payload := map[string]any{"v": 1}
	att, err := other.Generate("sub", "/me", payload)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	if err := signer.Validate(att, payload); !errors.Is(err, ErrSignatureInvalid) {
		t.Fatalf("expected ErrSignatureInvalid across secrets, got %v", err)
	}
}

func TestValidateExpiryBoundary(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	current := base
	signer := testSigner(t, func() time.Time { return current })

	payload := map[string]any{"id": "t1"}
	att, err := signer.Generate("sub", "/me/top-tracks", payload)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	// One millisecond inside the window still validates.
	current = base.Add(DefaultMaxAge - time.Millisecond)
	if err := signer.Validate(att, payload); err != nil {
		t.Fatalf("expected valid inside window, got %v", err)
	}

	// Exactly at the window edge validates (age <= max age).
	current = base.Add(DefaultMaxAge)
	if err := signer.Validate(att, payload); err != nil {
		t.Fatalf("expected valid at window edge, got %v", err)
	}

	current = base.Add(DefaultMaxAge + time.Millisecond)
	if err := signer.Validate(att, payload); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired past window, got %v", err)
	}
}

func TestValidateChecksSignatureBeforeAge(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	current := base
	signer := testSigner(t, func() time.Time { return current })

	payload := map[string]any{"id": "t1"}
	att, err := signer.Generate("sub", "/me", payload)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	tampered := *att
	tampered.Signature = strings.Repeat("f", 64)
	current = base.Add(DefaultMaxAge + time.Hour)

	// Both checks would fail; the signature failure must be the one reported.
	if err := signer.Validate(&tampered, payload); !errors.Is(err, ErrSignatureInvalid) {
		t.Fatalf("expected ErrSignatureInvalid first, got %v", err)
	}
}

func TestValidateMalformedAttestation(t *testing.T) {
	signer := testSigner(t, nil)

	if err := signer.Validate(nil, map[string]any{}); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed for nil, got %v", err)
	}
	if err := signer.Validate(&Attestation{}, map[string]any{}); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed for empty, got %v", err)
	}
}
