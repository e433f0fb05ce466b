package tunelink

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tunelink/tunelink/identity"
	"github.com/tunelink/tunelink/internal/spotify"
)

// refreshErrorMessage is the session-level error surfaced after a failed
// refresh. The UI shows it and offers an explicit reconnect.
const refreshErrorMessage = "Spotify session expired, please reconnect"

// tokenRefresher is the collaborator that exchanges a refresh token for
// fresh credentials.
type tokenRefresher interface {
	Refresh(ctx context.Context, refreshToken string) (*spotify.Tokens, error)
}

// refreshFlight is one outstanding refresh request. Late callers wait on
// done and read the shared outcome instead of issuing their own request: a
// server that invalidates refresh tokens on use would fail one of two
// parallel refreshes spuriously.
type refreshFlight struct {
	done chan struct{}
	ok   bool
	err  error
}

// sessionManager is the single source of truth for the Session aggregate.
// Every write replaces the whole aggregate under the mutex; readers get a
// deep copy and can never observe a half-updated session.
type sessionManager struct {
	mu       sync.Mutex
	session  Session
	inflight *refreshFlight

	expiryBuffer time.Duration
	profileID    string
	now          func() time.Time

	refresher  tokenRefresher
	identities identity.Store
	logger     *slog.Logger
	audit      *auditDispatcher
	metrics    *Metrics

	// onBothPresent fires after a provider write leaves both identities
	// present. The engine points it at the linked-status probe.
	onBothPresent func()
}

// newSessionManager seeds the session from the persisted identifier record.
// Tokens are never persisted, so a process restart always comes up with
// identities but no credentials.
func newSessionManager(
	ctx context.Context,
	cfg Config,
	refresher tokenRefresher,
	identities identity.Store,
	logger *slog.Logger,
	audit *auditDispatcher,
	metrics *Metrics,
	now func() time.Time,
) (*sessionManager, error) {
	m := &sessionManager{
		expiryBuffer: cfg.Session.ExpiryBuffer,
		profileID:    cfg.ProfileID,
		now:          now,
		refresher:    refresher,
		identities:   identities,
		logger:       logger,
		audit:        audit,
		metrics:      metrics,
	}

	record, err := identities.Load(ctx, cfg.ProfileID)
	if err != nil {
		return nil, storageUnavailable(err)
	}
	if record.FID != 0 {
		m.session.Farcaster = &FarcasterIdentity{FID: record.FID}
	}
	if record.SpotifyID != "" {
		m.session.Spotify = &SpotifyIdentity{ID: record.SpotifyID}
	}
	// Linked is only honored when both identities survived persistence.
	m.session.Linked = record.Linked && m.session.Farcaster != nil && m.session.Spotify != nil

	return m, nil
}

// Snapshot returns a deep copy of the current session.
func (m *sessionManager) Snapshot() Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.clone()
}

// SetFarcasterAuth replaces the Farcaster identity in one atomic write.
func (m *sessionManager) SetFarcasterAuth(ctx context.Context, auth FarcasterAuth) error {
	m.mu.Lock()
	next := m.session.clone()
	next.Farcaster = &FarcasterIdentity{
		FID:         auth.FID,
		Username:    auth.Username,
		DisplayName: auth.DisplayName,
	}
	m.session = next
	record := next.identityRecord()
	both := next.Spotify != nil
	m.mu.Unlock()

	m.metrics.Inc(MetricFarcasterAuthSet)
	m.audit.Emit(ctx, AuditEvent{
		EventType: AuditAuthSet,
		Provider:  string(ProviderFarcaster),
		SubjectID: record.SpotifyID,
		Success:   true,
	})
	m.persistIdentifiers(ctx, record)
	m.triggerLinkProbe(both)
	return nil
}

// SetSpotifyAuth replaces the Spotify identity and the volatile
// credentials in one atomic write. A fresh login also clears any stale
// session error.
func (m *sessionManager) SetSpotifyAuth(ctx context.Context, auth SpotifyAuth) error {
	m.mu.Lock()
	next := m.session.clone()
	next.Spotify = &SpotifyIdentity{ID: auth.ID, Profile: auth.Profile}
	next.Credentials = &VolatileCredentials{
		AccessToken:  auth.AccessToken,
		RefreshToken: auth.RefreshToken,
		ExpiresAt:    auth.ExpiresAt,
	}
	next.Error = ""
	m.session = next
	record := next.identityRecord()
	both := next.Farcaster != nil
	m.mu.Unlock()

	m.metrics.Inc(MetricSpotifyAuthSet)
	m.audit.Emit(ctx, AuditEvent{
		EventType: AuditAuthSet,
		Provider:  string(ProviderSpotify),
		SubjectID: auth.ID,
		Success:   true,
	})
	m.persistIdentifiers(ctx, record)
	m.triggerLinkProbe(both)
	return nil
}

// ClearProviderIdentity removes one provider's identity. This is the only
// path from Linked or DualUnlinked back toward SingleProvider; a failed
// refresh clears the token, never the identity. Removing either identity
// forces Linked off.
func (m *sessionManager) ClearProviderIdentity(ctx context.Context, provider Provider) error {
	m.mu.Lock()
	next := m.session.clone()
	switch provider {
	case ProviderFarcaster:
		next.Farcaster = nil
	case ProviderSpotify:
		next.Spotify = nil
		next.Credentials = nil
	default:
		m.mu.Unlock()
		return fmt.Errorf("unknown provider %q", provider)
	}
	next.Linked = false
	next.LinkError = ""
	m.session = next
	record := next.identityRecord()
	m.mu.Unlock()

	m.audit.Emit(ctx, AuditEvent{
		EventType: AuditIdentityCleared,
		Provider:  string(provider),
		Success:   true,
	})
	m.persistIdentifiers(ctx, record)
	return nil
}

// ClearSession resets everything, including the persisted identifiers.
func (m *sessionManager) ClearSession(ctx context.Context) error {
	m.mu.Lock()
	m.session = Session{}
	m.mu.Unlock()

	m.metrics.Inc(MetricSessionCleared)
	m.audit.Emit(ctx, AuditEvent{EventType: AuditSessionCleared, Success: true})

	if err := m.identities.Clear(ctx, m.profileID); err != nil {
		return storageUnavailable(err)
	}
	return nil
}

// IsExpired reports whether the access token should be treated as expired.
// A token with no known expiry counts as expired. The buffer fires before
// the real expiry so a request never goes out with a token that dies
// mid-flight.
func (m *sessionManager) IsExpired() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isExpiredLocked()
}

func (m *sessionManager) isExpiredLocked() bool {
	creds := m.session.Credentials
	if creds == nil || creds.ExpiresAt == 0 {
		return true
	}
	return m.now().UnixMilli() >= creds.ExpiresAt*1000-m.expiryBuffer.Milliseconds()
}

// RefreshIfNeeded brings the access token back to usable, refreshing at
// most once no matter how many callers arrive concurrently. It returns
// false without touching the network when there is no refresh token, and
// true immediately when the current token is still fresh.
func (m *sessionManager) RefreshIfNeeded(ctx context.Context) (bool, error) {
	m.mu.Lock()
	creds := m.session.Credentials
	if creds == nil || creds.RefreshToken == "" {
		m.mu.Unlock()
		return false, nil
	}
	if creds.AccessToken != "" && !m.isExpiredLocked() {
		m.mu.Unlock()
		return true, nil
	}
	if flight := m.inflight; flight != nil {
		m.mu.Unlock()
		m.metrics.Inc(MetricRefreshDeduped)
		select {
		case <-flight.done:
			return flight.ok, flight.err
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
	flight := &refreshFlight{done: make(chan struct{})}
	m.inflight = flight
	refreshToken := creds.RefreshToken
	m.mu.Unlock()

	return m.runRefresh(ctx, flight, refreshToken)
}

// runRefresh performs the actual exchange. The in-flight guard is released
// in the deferred block on every path, so a timeout or panic can never
// leave the guard permanently set.
func (m *sessionManager) runRefresh(ctx context.Context, flight *refreshFlight, refreshToken string) (ok bool, err error) {
	defer func() {
		m.mu.Lock()
		m.inflight = nil
		m.mu.Unlock()
		flight.ok, flight.err = ok, err
		close(flight.done)
	}()

	tokens, callErr := m.refresher.Refresh(ctx, refreshToken)
	if callErr != nil {
		m.mu.Lock()
		next := m.session.clone()
		if next.Credentials != nil {
			creds := *next.Credentials
			creds.AccessToken = ""
			next.Credentials = &creds
		}
		next.Error = refreshErrorMessage
		m.session = next
		m.mu.Unlock()

		m.metrics.Inc(MetricRefreshFailure)
		m.audit.Emit(ctx, AuditEvent{
			EventType: AuditTokenRefresh,
			Provider:  string(ProviderSpotify),
			Success:   false,
			Error:     callErr.Error(),
		})
		m.logger.Warn("token refresh failed", "error", callErr)
		return false, fmt.Errorf("%w: %v", ErrRefreshFailed, callErr)
	}

	m.mu.Lock()
	next := m.session.clone()
	creds := VolatileCredentials{
		AccessToken:  tokens.AccessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    tokens.ExpiresAt,
	}
	if tokens.RefreshToken != "" {
		// The server rotated the refresh token; the old one is dead.
		creds.RefreshToken = tokens.RefreshToken
	}
	next.Credentials = &creds
	next.Error = ""
	m.session = next
	m.mu.Unlock()

	m.metrics.Inc(MetricRefreshSuccess)
	m.audit.Emit(ctx, AuditEvent{
		EventType: AuditTokenRefresh,
		Provider:  string(ProviderSpotify),
		Success:   true,
	})
	return true, nil
}

// setLinked updates only the linked flag, preserving any link error. Used
// by the status probe, which must not clobber a pending user-visible
// message.
func (m *sessionManager) setLinked(ctx context.Context, linked bool) {
	m.mu.Lock()
	next := m.session.clone()
	next.Linked = linked && next.Farcaster != nil && next.Spotify != nil
	m.session = next
	record := next.identityRecord()
	m.mu.Unlock()

	m.persistIdentifiers(ctx, record)
}

// setLinkOutcome records the result of an explicit link attempt.
func (m *sessionManager) setLinkOutcome(ctx context.Context, linked bool, linkError string) {
	m.mu.Lock()
	next := m.session.clone()
	next.Linked = linked && next.Farcaster != nil && next.Spotify != nil
	next.LinkError = linkError
	m.session = next
	record := next.identityRecord()
	m.mu.Unlock()

	m.persistIdentifiers(ctx, record)
}

// identifiers returns both provider ids; ok is false unless both are set.
func (m *sessionManager) identifiers() (fid int64, spotifyID string, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session.Farcaster == nil || m.session.Spotify == nil {
		return 0, "", false
	}
	return m.session.Farcaster.FID, m.session.Spotify.ID, true
}

// persistIdentifiers writes the durable identifier subset. Persistence
// failures are logged, not surfaced: the in-memory session stays the
// source of truth for the running process.
func (m *sessionManager) persistIdentifiers(ctx context.Context, record identity.Record) {
	if err := m.identities.Save(ctx, m.profileID, record); err != nil {
		m.metrics.Inc(MetricStorageUnavailable)
		m.logger.Warn("identity persistence failed", "error", err)
	}
}

func (m *sessionManager) triggerLinkProbe(bothPresent bool) {
	if bothPresent && m.onBothPresent != nil {
		go m.onBothPresent()
	}
}
