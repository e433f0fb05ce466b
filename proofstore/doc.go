// Package proofstore persists attestations together with the exact payload
// they cover, so an attestation can be independently re-validated later.
//
// Records are write-once: an attestation is immutable evidence, and a store
// failure must never corrupt one that was already written. Lookup is by
// attestation id, by subject, or by endpoint; the index listings return
// newest first.
package proofstore
