package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/activitycal/backend/internal/identity"
	"github.com/activitycal/backend/internal/logging"
	"github.com/activitycal/backend/internal/metrics"
	"github.com/activitycal/backend/internal/models"
)

// Exchanger performs OAuth exchanges with the upstream provider. Implementations
// wrap rejections in ErrUpstreamExchange and transport failures in ErrUpstreamUnavailable.
type Exchanger interface {
	ExchangeCode(ctx context.Context, code string) (models.Grant, error)
	RefreshToken(ctx context.Context, refreshSecret string) (models.Grant, error)
}

// Authorization is the outcome of completing the OAuth flow for a new account.
type Authorization struct {
	IdentityToken string
	Credential    models.Credential
	Athlete       *models.Athlete
	IssuedAt      time.Time
}

// RefreshResult reports a credential rotation so callers can audit it.
type RefreshResult struct {
	PreviousAccessSecret string
	Credential           models.Credential
}

// Manager keeps stored credentials fresh. Credential state is computed on demand
// from the store: no record means unauthorized, now >= ExpiresAt means expired.
type Manager struct {
	store    CredentialStore
	upstream Exchanger
	timeout  time.Duration

	// NowFunc overrides the clock in tests.
	NowFunc func() time.Time

	group singleflight.Group
}

// detachedTimeout bounds work that outlives the request that started it: a
// shared refresh when no upstream timeout is configured, and the store write
// that follows a completed exchange.
const detachedTimeout = 30 * time.Second

// NewManager constructs a Manager. timeout bounds every upstream exchange; zero
// leaves the caller's context as the only bound for unshared exchanges.
func NewManager(store CredentialStore, upstream Exchanger, timeout time.Duration) *Manager {
	if store == nil {
		panic("auth: credential store must not be nil")
	}
	if upstream == nil {
		panic("auth: upstream exchanger must not be nil")
	}
	return &Manager{
		store:    store,
		upstream: upstream,
		timeout:  timeout,
	}
}

// Authorize exchanges an authorization code, derives a new identity token and
// persists the resulting credentials and an initial access record.
func (m *Manager) Authorize(ctx context.Context, code string) (Authorization, error) {
	if code == "" {
		return Authorization{}, errors.New("authorization code must be provided")
	}

	upCtx, cancel := m.upstreamContext(ctx)
	grant, err := m.upstream.ExchangeCode(upCtx, code)
	cancel()
	if err != nil {
		return Authorization{}, classifyUpstream(err)
	}

	now := m.now()
	token, err := identity.Generate(now, grant.AccessSecret)
	if err != nil {
		return Authorization{}, fmt.Errorf("%w: %w", ErrUpstreamExchange, err)
	}

	cred := models.Credential{
		IdentityToken: token,
		AccessSecret:  grant.AccessSecret,
		RefreshSecret: grant.RefreshSecret,
		ExpiresAt:     grant.ExpiresAt.UTC(),
	}
	if err := m.store.Put(ctx, cred); err != nil {
		return Authorization{}, wrapStorage("put credentials", err)
	}
	if err := m.store.RecordAccess(ctx, token, now); err != nil {
		return Authorization{}, wrapStorage("record access", err)
	}

	logging.FromContext(ctx).Info("account authorized", "expiresAt", cred.ExpiresAt)

	return Authorization{
		IdentityToken: token,
		Credential:    cred,
		Athlete:       grant.Athlete,
		IssuedAt:      now,
	}, nil
}

// EnsureFresh refreshes the stored credentials for token when they have expired.
// A missing record is not an error; callers detect it on the subsequent lookup.
// When the refresh fails the stored record is left untouched.
func (m *Manager) EnsureFresh(ctx context.Context, token string) error {
	_, _, err := m.ensure(ctx, token)
	return err
}

// Fresh ensures the credentials are fresh and returns them, or ErrNotAuthorized.
func (m *Manager) Fresh(ctx context.Context, token string) (models.Credential, error) {
	cred, found, err := m.ensure(ctx, token)
	if err != nil {
		return models.Credential{}, err
	}
	if !found {
		return models.Credential{}, ErrNotAuthorized
	}
	return cred, nil
}

// Refresh rotates the credentials for token regardless of their expiry.
func (m *Manager) Refresh(ctx context.Context, token string) (RefreshResult, error) {
	cred, found, err := m.store.Get(ctx, token)
	if err != nil {
		return RefreshResult{}, wrapStorage("get credentials", err)
	}
	if !found {
		return RefreshResult{}, ErrNotAuthorized
	}

	next, err := m.refresh(ctx, cred)
	if err != nil {
		return RefreshResult{}, err
	}

	return RefreshResult{PreviousAccessSecret: cred.AccessSecret, Credential: next}, nil
}

// LastAccess returns the last feed request instant for token or NeverAccessed.
func (m *Manager) LastAccess(ctx context.Context, token string) (time.Time, error) {
	at, err := m.store.LastAccess(ctx, token)
	if err != nil {
		return time.Time{}, wrapStorage("last access", err)
	}
	return at, nil
}

// RecordAccess stores now as the last feed request instant for token.
func (m *Manager) RecordAccess(ctx context.Context, token string) error {
	if err := m.store.RecordAccess(ctx, token, m.now()); err != nil {
		return wrapStorage("record access", err)
	}
	return nil
}

func (m *Manager) ensure(ctx context.Context, token string) (models.Credential, bool, error) {
	cred, found, err := m.store.Get(ctx, token)
	if err != nil {
		return models.Credential{}, false, wrapStorage("get credentials", err)
	}
	if !found {
		return models.Credential{}, false, nil
	}
	if !cred.Expired(m.now()) {
		return cred, true, nil
	}

	// Concurrent requests for the same identity share a single exchange. It runs
	// detached from any one caller so a cancelled request only fails itself.
	ch := m.group.DoChan(token, func() (any, error) {
		shared, cancel := m.detachedContext(ctx, m.timeout)
		defer cancel()
		return m.refresh(shared, cred)
	})

	select {
	case <-ctx.Done():
		return models.Credential{}, true, classifyUpstream(ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return models.Credential{}, true, res.Err
		}
		return res.Val.(models.Credential), true, nil
	}
}

func (m *Manager) refresh(ctx context.Context, cred models.Credential) (models.Credential, error) {
	logger := logging.FromContext(ctx)

	upCtx, cancel := m.upstreamContext(ctx)
	start := time.Now()
	grant, err := m.upstream.RefreshToken(upCtx, cred.RefreshSecret)
	cancel()
	metrics.ObserveUpstream("refresh", time.Since(start))
	if err != nil {
		err = classifyUpstream(err)
		metrics.RecordRefresh(refreshOutcome(err))
		logger.Warn("credential refresh failed", "error", err)
		return models.Credential{}, err
	}
	if grant.AccessSecret == "" {
		metrics.RecordRefresh("rejected")
		return models.Credential{}, fmt.Errorf("%w: empty access secret in refresh response", ErrUpstreamExchange)
	}

	next := models.Credential{
		IdentityToken: cred.IdentityToken,
		AccessSecret:  grant.AccessSecret,
		RefreshSecret: grant.RefreshSecret,
		ExpiresAt:     grant.ExpiresAt.UTC(),
	}
	if next.RefreshSecret == "" {
		next.RefreshSecret = cred.RefreshSecret
	}

	// The provider may already have rotated the refresh secret, so the write
	// must not be lost to a cancellation after the exchange.
	putCtx, cancelPut := m.detachedContext(ctx, detachedTimeout)
	err = m.store.Put(putCtx, next)
	cancelPut()
	if err != nil {
		metrics.RecordRefresh("storage_error")
		return models.Credential{}, wrapStorage("put refreshed credentials", err)
	}

	metrics.RecordRefresh("ok")
	logger.Info("credentials refreshed", "expiresAt", next.ExpiresAt)
	return next, nil
}

func (m *Manager) upstreamContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, m.timeout)
}

func (m *Manager) detachedContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = detachedTimeout
	}
	return context.WithTimeout(context.WithoutCancel(ctx), timeout)
}

func (m *Manager) now() time.Time {
	if m.NowFunc != nil {
		return m.NowFunc()
	}
	return time.Now().UTC()
}

func classifyUpstream(err error) error {
	if errors.Is(err, ErrUpstreamExchange) || errors.Is(err, ErrUpstreamUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
}

func wrapStorage(op string, err error) error {
	if errors.Is(err, ErrStorage) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStorage, err)
}

func refreshOutcome(err error) string {
	if errors.Is(err, ErrUpstreamExchange) {
		return "rejected"
	}
	return "unavailable"
}
