// Package strava talks to the upstream fitness provider: OAuth code and refresh
// exchanges plus the athlete activity listing.
package strava

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/activitycal/backend/internal/auth"
	"github.com/activitycal/backend/internal/config"
	"github.com/activitycal/backend/internal/models"
)

// Scope requests read access to all activities, including private ones.
const Scope = "activity:read_all"

// maxErrorBody bounds how much of an upstream error body is kept for logging.
const maxErrorBody = 512

// Client implements auth.Exchanger against the provider's OAuth endpoints and
// exposes the activity listing used to build calendar feeds.
type Client struct {
	oauth      *oauth2.Config
	apiURL     string
	httpClient *http.Client
}

// NewClient constructs a provider client. redirectURL is the public callback
// the provider sends users back to after approving access.
func NewClient(cfg config.StravaConfig, redirectURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  redirectURL,
			Scopes:       []string{Scope},
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthURL,
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		apiURL:     strings.TrimSuffix(cfg.APIURL, "/"),
		httpClient: httpClient,
	}
}

// AuthorizationURL returns the provider page where a user grants access.
func (c *Client) AuthorizationURL(state string) string {
	return c.oauth.AuthCodeURL(state, oauth2.SetAuthURLParam("approval_prompt", "auto"))
}

// ExchangeCode trades an authorization code for a grant.
func (c *Client) ExchangeCode(ctx context.Context, code string) (models.Grant, error) {
	tok, err := c.oauth.Exchange(c.clientContext(ctx), code)
	if err != nil {
		return models.Grant{}, classify(ctx, "exchange code", err)
	}
	return grantFromToken(tok)
}

// RefreshToken trades a refresh secret for a new grant.
func (c *Client) RefreshToken(ctx context.Context, refreshSecret string) (models.Grant, error) {
	if refreshSecret == "" {
		return models.Grant{}, fmt.Errorf("%w: no refresh secret stored", auth.ErrUpstreamExchange)
	}

	// An already-expired token forces the source to hit the token endpoint.
	src := c.oauth.TokenSource(c.clientContext(ctx), &oauth2.Token{
		RefreshToken: refreshSecret,
		Expiry:       time.Unix(1, 0),
	})
	tok, err := src.Token()
	if err != nil {
		return models.Grant{}, classify(ctx, "refresh token", err)
	}
	return grantFromToken(tok)
}

// ListActivities returns up to limit activities started before the given instant,
// newest first.
func (c *Client) ListActivities(ctx context.Context, accessSecret string, limit int, before time.Time) ([]models.Activity, error) {
	query := url.Values{}
	query.Set("per_page", strconv.Itoa(limit))
	query.Set("before", strconv.FormatInt(before.Unix(), 10))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+"/athlete/activities?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build activities request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessSecret)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classify(ctx, "list activities", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, statusError("list activities", resp.StatusCode, body)
	}

	var payload []activityPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: decode activities: %w", auth.ErrUpstreamUnavailable, err)
	}

	activities := make([]models.Activity, 0, len(payload))
	for _, p := range payload {
		activities = append(activities, p.toModel())
	}
	return activities, nil
}

func (c *Client) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

type activityPayload struct {
	ID          int64      `json:"id"`
	Name        string     `json:"name"`
	Description *string    `json:"description"`
	StartDate   *time.Time `json:"start_date"`
	ElapsedTime *int64     `json:"elapsed_time"`
	Distance    *float64   `json:"distance"`
}

func (p activityPayload) toModel() models.Activity {
	activity := models.Activity{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Distance:    p.Distance,
	}
	if p.StartDate != nil {
		start := p.StartDate.UTC()
		activity.StartTime = &start
	}
	if p.ElapsedTime != nil {
		elapsed := time.Duration(*p.ElapsedTime) * time.Second
		activity.ElapsedTime = &elapsed
	}
	return activity
}

func grantFromToken(tok *oauth2.Token) (models.Grant, error) {
	if tok == nil || tok.AccessToken == "" {
		return models.Grant{}, fmt.Errorf("%w: token response without access token", auth.ErrUpstreamExchange)
	}

	grant := models.Grant{
		AccessSecret:  tok.AccessToken,
		RefreshSecret: tok.RefreshToken,
		ExpiresAt:     tok.Expiry.UTC(),
	}

	// The provider reports an absolute expiry alongside expires_in; prefer it.
	if expiresAt, ok := numericExtra(tok.Extra("expires_at")); ok {
		grant.ExpiresAt = time.Unix(expiresAt, 0).UTC()
	}
	if grant.ExpiresAt.IsZero() {
		return models.Grant{}, fmt.Errorf("%w: token response without expiry", auth.ErrUpstreamExchange)
	}

	if raw := tok.Extra("athlete"); raw != nil {
		if encoded, err := json.Marshal(raw); err == nil {
			var athlete models.Athlete
			if json.Unmarshal(encoded, &athlete) == nil && athlete.ID != 0 {
				grant.Athlete = &athlete
			}
		}
	}

	return grant, nil
}

func numericExtra(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int64:
		return n, true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		return i, err == nil
	default:
		return 0, false
	}
}

// classify maps transport and OAuth failures onto the auth error kinds.
func classify(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %s: %w", auth.ErrUpstreamUnavailable, op, errors.Join(ctxErr, err))
	}

	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
		return statusError(op, retrieveErr.Response.StatusCode, retrieveErr.Body)
	}

	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: %s: %w", auth.ErrUpstreamUnavailable, op, err)
	case errors.As(err, &netErr):
		return fmt.Errorf("%w: %s: %w", auth.ErrUpstreamUnavailable, op, err)
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return fmt.Errorf("%w: %s: %w", auth.ErrUpstreamUnavailable, op, err)
	}

	return fmt.Errorf("%w: %s: %w", auth.ErrUpstreamExchange, op, err)
}

func statusError(op string, status int, body []byte) error {
	msg := strings.TrimSpace(string(body))
	if len(msg) > maxErrorBody {
		msg = msg[:maxErrorBody]
	}
	kind := auth.ErrUpstreamExchange
	if status == http.StatusTooManyRequests || status >= http.StatusInternalServerError {
		kind = auth.ErrUpstreamUnavailable
	}
	return fmt.Errorf("%w: %s: status %d: %s", kind, op, status, msg)
}

var _ auth.Exchanger = (*Client)(nil)
