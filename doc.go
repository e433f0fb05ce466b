// Package tunelink manages the dual-provider identity session for a
// Farcaster and Spotify client: who the user is on each provider, whether
// the two accounts are linked, and whether the Spotify access token is
// still usable. It also generates and validates HMAC-signed attestations
// over API response payloads and persists them through a write-once store.
//
// Build an Engine with the Builder:
//
//	engine, err := tunelink.New().
//		WithConfig(cfg).
//		WithRedis(redisClient).
//		Build(ctx)
//
// The session is an atomic aggregate: every mutation replaces it as a
// whole, and Session() returns a deep copy. Provider identifiers persist
// across restarts; tokens never do. RefreshIfNeeded and LinkAccounts
// deduplicate concurrent callers so at most one network request is in
// flight per concern.
//
// Attestations are self-signed: the same secret signs and validates, so
// they prove integrity and origin within one deployment, not to third
// parties. See SecurityReport.
package tunelink
