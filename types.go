package tunelink

import (
	"github.com/tunelink/tunelink/identity"
)

// Provider identifies one of the two identity providers a session can hold.
type Provider string

const (
	// ProviderFarcaster is the Farcaster identity provider.
	ProviderFarcaster Provider = "farcaster"
	// ProviderSpotify is the Spotify identity provider.
	ProviderSpotify Provider = "spotify"
)

// SessionState is the coarse position of a session in its lifecycle.
type SessionState uint8

const (
	// StateUnauthenticated means neither provider identity is present.
	StateUnauthenticated SessionState = iota
	// StateSingleProvider means exactly one provider identity is present.
	StateSingleProvider
	// StateDualUnlinked means both identities are present but the server
	// has not confirmed the association.
	StateDualUnlinked
	// StateLinked means the server has confirmed both identities are
	// associated.
	StateLinked
)

func (s SessionState) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateSingleProvider:
		return "single_provider"
	case StateDualUnlinked:
		return "dual_unlinked"
	case StateLinked:
		return "linked"
	}
	return "unknown"
}

// FarcasterIdentity is the Farcaster side of a session.
type FarcasterIdentity struct {
	FID         int64
	Username    string
	DisplayName string
}

// SpotifyProfile carries display fields from the Spotify user profile.
type SpotifyProfile struct {
	Name  string
	Email string
	Image string
}

// SpotifyIdentity is the Spotify side of a session. Credentials live in
// the separate VolatileCredentials struct, never here.
type SpotifyIdentity struct {
	ID      string
	Profile *SpotifyProfile
}

// VolatileCredentials holds the Spotify token set. It is memory-only by
// construction: the persistence layer accepts identity.Record values and
// has no field this struct could flow into, so a restart always comes up
// with empty credentials.
type VolatileCredentials struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    int64 // epoch seconds
}

// Session is the authentication aggregate: who the user is on each
// provider, whether the server confirmed the link, and the volatile
// Spotify credentials. Reads through Engine.Session return a deep copy;
// writers replace the whole aggregate in one step so a reader never
// observes a half-updated session.
type Session struct {
	Farcaster   *FarcasterIdentity
	Spotify     *SpotifyIdentity
	Credentials *VolatileCredentials
	Linked      bool
	LinkError   string
	// Error is the session-level human-readable message set by a failed
	// refresh and cleared by the next successful one.
	Error string
}

// State derives the lifecycle state from the aggregate. The value
// receiver keeps it callable on snapshot copies handed out by value.
func (s Session) State() SessionState {
	switch {
	case s.Farcaster == nil && s.Spotify == nil:
		return StateUnauthenticated
	case s.Farcaster == nil || s.Spotify == nil:
		return StateSingleProvider
	case s.Linked:
		return StateLinked
	default:
		return StateDualUnlinked
	}
}

// clone returns a deep copy of the session.
func (s *Session) clone() Session {
	if s == nil {
		return Session{}
	}
	out := *s
	if s.Farcaster != nil {
		fc := *s.Farcaster
		out.Farcaster = &fc
	}
	if s.Spotify != nil {
		sp := *s.Spotify
		if sp.Profile != nil {
			profile := *sp.Profile
			sp.Profile = &profile
		}
		out.Spotify = &sp
	}
	if s.Credentials != nil {
		creds := *s.Credentials
		out.Credentials = &creds
	}
	return out
}

// identityRecord projects the durable identifier subset out of the
// session. This is the only shape that ever reaches persistence.
func (s *Session) identityRecord() identity.Record {
	record := identity.Record{Linked: s.Linked}
	if s.Farcaster != nil {
		record.FID = s.Farcaster.FID
	}
	if s.Spotify != nil {
		record.SpotifyID = s.Spotify.ID
	}
	return record
}

// FarcasterAuth is the payload for SetFarcasterAuth.
type FarcasterAuth struct {
	FID         int64
	Username    string
	DisplayName string
}

// SpotifyAuth is the payload for SetSpotifyAuth. ExpiresAt is epoch
// seconds, as issued by the token endpoint.
type SpotifyAuth struct {
	ID           string
	AccessToken  string
	RefreshToken string
	ExpiresAt    int64
	Profile      *SpotifyProfile
}

// LinkResult is returned by LinkAccounts.
type LinkResult struct {
	Success bool
	Error   string
}
