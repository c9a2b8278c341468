// Package feed runs the per-request pipeline behind a calendar subscription:
// fresh credentials, then the upstream activity window, then synthesis.
package feed

import (
	"context"
	"errors"

	"github.com/activitycal/backend/internal/activities"
	"github.com/activitycal/backend/internal/auth"
	"github.com/activitycal/backend/internal/calendar"
	"github.com/activitycal/backend/internal/logging"
	"github.com/activitycal/backend/internal/metrics"
	"github.com/activitycal/backend/internal/models"
)

// Credentials is the subset of auth.Manager the pipeline needs.
type Credentials interface {
	Fresh(ctx context.Context, token string) (models.Credential, error)
	RecordAccess(ctx context.Context, token string) error
}

// Publisher receives every rendered document, e.g. to mirror it elsewhere.
type Publisher interface {
	Enqueue(ctx context.Context, token, body string) error
}

// Service produces activity windows and calendar documents for identity tokens.
type Service struct {
	credentials Credentials
	source      activities.Source
	publisher   Publisher
}

// NewService constructs a Service. publisher may be nil.
func NewService(credentials Credentials, source activities.Source, publisher Publisher) *Service {
	if credentials == nil {
		panic("feed: credentials must not be nil")
	}
	if source == nil {
		panic("feed: activity source must not be nil")
	}
	return &Service{credentials: credentials, source: source, publisher: publisher}
}

// Activities returns the recent activity window for token. Credentials are
// refreshed before any upstream call and access is recorded on success.
func (s *Service) Activities(ctx context.Context, token string) ([]models.Activity, error) {
	ctx, span := logging.StartSpan(logging.WithIdentity(ctx, token), "feed.activities")
	defer span.End()

	return s.fetch(ctx, token)
}

// Calendar renders the iCalendar document for token.
func (s *Service) Calendar(ctx context.Context, token string) (body string, err error) {
	ctx, span := logging.StartSpan(logging.WithIdentity(ctx, token), "feed.calendar")
	defer span.End()
	defer func() { metrics.RecordFeed(Outcome(err)) }()

	list, err := s.fetch(ctx, token)
	if err != nil {
		return "", err
	}

	doc := calendar.Synthesize(list)
	if skipped := calendar.Skipped(list); skipped > 0 {
		metrics.RecordSkipped(skipped)
		logging.FromContext(ctx).Debug("activities skipped", "skipped", skipped, "events", len(doc.Events))
	}

	body = calendar.Render(doc)

	if s.publisher != nil {
		if err := s.publisher.Enqueue(ctx, token, body); err != nil {
			logging.FromContext(ctx).Warn("feed mirror enqueue failed", "error", err)
		}
	}

	return body, nil
}

func (s *Service) fetch(ctx context.Context, token string) ([]models.Activity, error) {
	cred, err := s.credentials.Fresh(ctx, token)
	if err != nil {
		return nil, err
	}

	list, err := s.source.Recent(ctx, cred.AccessSecret)
	if err != nil {
		return nil, err
	}

	if err := s.credentials.RecordAccess(ctx, token); err != nil {
		return nil, err
	}
	return list, nil
}

// Outcome labels a pipeline result for metrics and logs.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, auth.ErrNotAuthorized):
		return "unauthorized"
	case errors.Is(err, auth.ErrUpstreamExchange):
		return "upstream_rejected"
	case errors.Is(err, auth.ErrUpstreamUnavailable):
		return "upstream_unavailable"
	case errors.Is(err, auth.ErrStorage):
		return "storage_error"
	default:
		return "error"
	}
}
