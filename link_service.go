package tunelink

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/tunelink/tunelink/internal/linkapi"
)

// linkClient is the collaborator that talks to the backend link API.
type linkClient interface {
	Link(ctx context.Context, fid int64, spotifyID string) (*linkapi.LinkResponse, error)
	Status(ctx context.Context, fid int64, spotifyID string) (bool, error)
}

// linkFlight is one outstanding link request. Callers with the same
// identifier pair share its outcome; callers with a different pair are
// rejected rather than queued, because two link attempts for different
// identities in one session is a logic error upstream.
type linkFlight struct {
	done      chan struct{}
	fid       int64
	spotifyID string
	result    LinkResult
	err       error
}

type linkService struct {
	mu       sync.Mutex
	inflight *linkFlight

	client   linkClient
	sessions *sessionManager
	logger   *slog.Logger
	audit    *auditDispatcher
	metrics  *Metrics
}

func newLinkService(client linkClient, sessions *sessionManager, logger *slog.Logger, audit *auditDispatcher, metrics *Metrics) *linkService {
	return &linkService{
		client:   client,
		sessions: sessions,
		logger:   logger,
		audit:    audit,
		metrics:  metrics,
	}
}

// LinkAccounts asks the backend to associate the two provider identities
// and records the outcome on the session. At most one link request is in
// flight at a time.
func (l *linkService) LinkAccounts(ctx context.Context, fid int64, spotifyID string) (LinkResult, error) {
	l.mu.Lock()
	if flight := l.inflight; flight != nil {
		if flight.fid == fid && flight.spotifyID == spotifyID {
			l.mu.Unlock()
			l.metrics.Inc(MetricLinkDeduped)
			select {
			case <-flight.done:
				return flight.result, flight.err
			case <-ctx.Done():
				return LinkResult{}, ctx.Err()
			}
		}
		l.mu.Unlock()
		return LinkResult{Error: ErrLinkConflict.Error()}, ErrLinkConflict
	}
	flight := &linkFlight{done: make(chan struct{}), fid: fid, spotifyID: spotifyID}
	l.inflight = flight
	l.mu.Unlock()

	return l.runLink(ctx, flight)
}

func (l *linkService) runLink(ctx context.Context, flight *linkFlight) (result LinkResult, err error) {
	defer func() {
		l.mu.Lock()
		l.inflight = nil
		l.mu.Unlock()
		flight.result, flight.err = result, err
		close(flight.done)
	}()

	resp, callErr := l.client.Link(ctx, flight.fid, flight.spotifyID)
	if callErr != nil {
		message := "account linking failed"
		if resp != nil && resp.Error != "" {
			message = resp.Error
		}
		l.sessions.setLinkOutcome(ctx, false, message)

		l.metrics.Inc(MetricLinkFailure)
		l.audit.Emit(ctx, AuditEvent{
			EventType: AuditAccountLink,
			SubjectID: subjectID(flight.fid, flight.spotifyID),
			Success:   false,
			Error:     message,
		})
		l.logger.Warn("account link failed",
			"fid", flight.fid,
			"spotify_id", flight.spotifyID,
			"error", callErr,
		)
		return LinkResult{Error: message}, fmt.Errorf("%w: %s", ErrLinkFailed, message)
	}

	l.sessions.setLinkOutcome(ctx, true, "")
	l.metrics.Inc(MetricLinkSuccess)
	l.audit.Emit(ctx, AuditEvent{
		EventType: AuditAccountLink,
		SubjectID: subjectID(flight.fid, flight.spotifyID),
		Success:   true,
	})
	return LinkResult{Success: true}, nil
}

// CheckLinkedStatus asks the backend whether the session's identity pair
// is already linked and updates the session flag. It is a best-effort
// probe: errors are logged and swallowed, and the call is a no-op unless
// both identities are present.
func (l *linkService) CheckLinkedStatus(ctx context.Context) {
	fid, spotifyID, ok := l.sessions.identifiers()
	if !ok {
		return
	}

	linked, err := l.client.Status(ctx, fid, spotifyID)
	if err != nil {
		l.logger.Warn("linked-status check failed",
			"fid", fid,
			"spotify_id", spotifyID,
			"error", err,
		)
		return
	}

	l.sessions.setLinked(ctx, linked)
	l.metrics.Inc(MetricLinkStatusChecked)
	l.audit.Emit(ctx, AuditEvent{
		EventType: AuditLinkStatus,
		SubjectID: subjectID(fid, spotifyID),
		Success:   true,
		Metadata:  map[string]string{"linked": strconv.FormatBool(linked)},
	})
}

// subjectID is the canonical composite identifier used for attestation
// subjects and audit records.
func subjectID(fid int64, spotifyID string) string {
	return "fid:" + strconv.FormatInt(fid, 10) + ":spotify:" + spotifyID
}
