// Package activities retrieves the recent activity window for an account.
package activities

import (
	"context"
	"time"

	"github.com/activitycal/backend/internal/metrics"
	"github.com/activitycal/backend/internal/models"
)

// WindowSize is the number of most recent activities included in a feed.
const WindowSize = 100

// Lister performs the raw upstream activity listing.
type Lister interface {
	ListActivities(ctx context.Context, accessSecret string, limit int, before time.Time) ([]models.Activity, error)
}

// Source returns the recent activity window for a valid access secret.
type Source interface {
	Recent(ctx context.Context, accessSecret string) ([]models.Activity, error)
}

// Fetcher bounds each listing by a timeout and anchors the window at now.
type Fetcher struct {
	lister  Lister
	timeout time.Duration

	// NowFunc overrides the clock in tests.
	NowFunc func() time.Time
}

// NewFetcher constructs a Fetcher. A non-positive timeout disables the bound.
func NewFetcher(lister Lister, timeout time.Duration) *Fetcher {
	return &Fetcher{lister: lister, timeout: timeout}
}

// Recent lists up to WindowSize activities started before now.
func (f *Fetcher) Recent(ctx context.Context, accessSecret string) ([]models.Activity, error) {
	if f == nil || f.lister == nil {
		return nil, ErrSourceUnavailable
	}

	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	start := time.Now()
	list, err := f.lister.ListActivities(ctx, accessSecret, WindowSize, f.now())
	metrics.ObserveUpstream("activities", time.Since(start))
	if err != nil {
		return nil, err
	}
	return list, nil
}

func (f *Fetcher) now() time.Time {
	if f.NowFunc != nil {
		return f.NowFunc()
	}
	return time.Now().UTC()
}
