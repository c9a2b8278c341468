package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/activitycal/backend/internal/activities"
	"github.com/activitycal/backend/internal/auth"
	"github.com/activitycal/backend/internal/config"
	"github.com/activitycal/backend/internal/db"
	"github.com/activitycal/backend/internal/feed"
	"github.com/activitycal/backend/internal/handlers"
	"github.com/activitycal/backend/internal/middleware"
	"github.com/activitycal/backend/internal/repositories"
	"github.com/activitycal/backend/internal/storage"
	"github.com/activitycal/backend/internal/strava"
)

const (
	feedLimiterWindow = time.Minute
	feedLimiterTTL    = 10 * time.Minute
)

// credentialStore is a store that can also drop inactive identities.
type credentialStore interface {
	auth.CredentialStore
	auth.Pruner
}

// backend holds the long-lived collaborators shared by every command.
type backend struct {
	store   credentialStore
	manager *auth.Manager
	client  *strava.Client
	check   func(ctx context.Context) error
	closers []func(ctx context.Context) error
}

// Close releases resources in reverse order of acquisition.
func (b *backend) Close(ctx context.Context) error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	b.closers = nil
	return errors.Join(errs...)
}

// buildBackend opens the configured credential store and the upstream client.
func buildBackend(ctx context.Context, cfg config.Config) (*backend, error) {
	b := &backend{}

	switch cfg.Store {
	case config.StorePostgres:
		pool, err := db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		b.store = repositories.NewPostgresCredentialStore(pool)
		b.check = pool.Ping
		b.closers = append(b.closers, func(context.Context) error {
			pool.Close()
			return nil
		})
	case config.StoreSQLite:
		conn, err := db.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		store, err := repositories.NewSQLiteCredentialStore(ctx, conn)
		if err != nil {
			_ = conn.Close()
			return nil, err
		}
		b.store = store
		b.check = conn.PingContext
		b.closers = append(b.closers, func(context.Context) error { return conn.Close() })
	case config.StoreMemory:
		b.store = auth.NewInMemoryStore()
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}

	key, err := cfg.SecretKeyBytes()
	if err != nil {
		_ = b.Close(ctx)
		return nil, err
	}
	if key != nil {
		sealed, err := auth.NewSealedStore(b.store, key)
		if err != nil {
			_ = b.Close(ctx)
			return nil, err
		}
		b.store = sealed
	}

	b.client = strava.NewClient(cfg.Strava, cfg.PublicURL+"/logged_in", &http.Client{})
	b.manager = auth.NewManager(b.store, b.client, cfg.UpstreamTimeout)
	return b, nil
}

// buildDependencies wires together concrete implementations used by the HTTP handlers.
func buildDependencies(ctx context.Context, b *backend, cfg config.Config, logger *slog.Logger) (handlers.Dependencies, error) {
	var source activities.Source = activities.NewFetcher(b.client, cfg.UpstreamTimeout)
	if cfg.ActivityCacheTTL > 0 {
		source = activities.NewCachingSource(source, cfg.ActivityCacheTTL)
	}

	var publisher feed.Publisher
	if cfg.Mirror.Enabled() {
		objects, err := storage.NewS3Storage(ctx, cfg.Mirror)
		if err != nil {
			return handlers.Dependencies{}, err
		}
		mirror := feed.NewMirror(objects, feed.MirrorConfig{}, logger)
		b.closers = append(b.closers, mirror.Shutdown)
		publisher = mirror
	}

	return handlers.Dependencies{
		Credentials: b.manager,
		Feeds:       feed.NewService(b.manager, source, publisher),
		Provider:    b.client,
		FeedLimiter: middleware.NewIPRateLimiter(cfg.FeedRate, feedLimiterWindow, cfg.FeedBurst, feedLimiterTTL),
		HealthCheck: b.check,
		Metrics:     promhttp.Handler(),
		PublicURL:   cfg.PublicURL,
		AdminToken:  cfg.AdminToken,
		TrustProxy:  cfg.TrustProxy,
	}, nil
}
