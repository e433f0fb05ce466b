// Package proof produces and checks self-signed attestations over API
// response payloads.
//
// An attestation binds a response payload to a subject and endpoint at a
// point in time: the payload is canonically serialized and hashed with
// SHA-256, and the attestation fields are signed with HMAC-SHA256 under a
// shared secret. Validation recomputes both and additionally enforces a
// maximum attestation age.
//
// The scheme is tamper evidence, not notarization. The same party holds the
// signing secret and serves the data, so a valid attestation proves only
// that this system signed the payload and that the payload has not changed
// since. There is no independent third-party witness.
package proof
