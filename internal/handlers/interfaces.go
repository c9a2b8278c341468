package handlers

import (
	"context"
	"time"

	"github.com/activitycal/backend/internal/auth"
	"github.com/activitycal/backend/internal/models"
)

// CredentialService captures the credential lifecycle operations exposed over HTTP.
type CredentialService interface {
	Authorize(ctx context.Context, code string) (auth.Authorization, error)
	Refresh(ctx context.Context, token string) (auth.RefreshResult, error)
	LastAccess(ctx context.Context, token string) (time.Time, error)
}

// FeedService produces feed content for an identity token.
type FeedService interface {
	Calendar(ctx context.Context, token string) (string, error)
	Activities(ctx context.Context, token string) ([]models.Activity, error)
}

// AuthorizationURLProvider builds the upstream consent page URL.
type AuthorizationURLProvider interface {
	AuthorizationURL(state string) string
}
