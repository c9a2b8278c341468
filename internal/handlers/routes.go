package handlers

import (
	"context"
	"net/http"
)

// RegisterRoutes wires HTTP handlers into the provided ServeMux.
func RegisterRoutes(mux *http.ServeMux, deps Dependencies) {
	health := HealthHandler{Check: deps.HealthCheck}
	auth := AuthHandler{Credentials: deps.Credentials, Provider: deps.Provider, PublicURL: deps.PublicURL}
	creds := CredentialHandler{Credentials: deps.Credentials, AdminToken: deps.AdminToken}
	feeds := FeedHandler{Feeds: deps.Feeds, Limiter: deps.FeedLimiter, TrustProxy: deps.TrustProxy}

	mux.HandleFunc("/healthz", health.Handle)
	mux.HandleFunc("/login", auth.Login)
	mux.HandleFunc("/logged_in", auth.LoggedIn)
	mux.HandleFunc("/calendar/{token}", feeds.Calendar)
	mux.HandleFunc("/api/v1/activities/{token}", feeds.Activities)
	mux.HandleFunc("/api/v1/credentials/{token}/refresh", creds.Refresh)
	mux.HandleFunc("/api/v1/credentials/{token}/last-access", creds.LastAccess)
	if deps.Metrics != nil {
		mux.Handle("/metrics", deps.Metrics)
	}
}

// Dependencies aggregates collaborators required by HTTP handlers.
type Dependencies struct {
	Credentials CredentialService
	Feeds       FeedService
	Provider    AuthorizationURLProvider
	FeedLimiter RateLimiter
	HealthCheck func(ctx context.Context) error
	Metrics     http.Handler
	PublicURL   string
	AdminToken  string
	TrustProxy  bool
}
