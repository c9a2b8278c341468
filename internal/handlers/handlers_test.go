package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/activitycal/backend/internal/auth"
	"github.com/activitycal/backend/internal/models"
)

type stubCredentials struct {
	authz      auth.Authorization
	refresh    auth.RefreshResult
	lastAccess time.Time
	err        error
	codes      []string
	refreshed  []string
	lookedUp   []string
}

func (s *stubCredentials) Authorize(_ context.Context, code string) (auth.Authorization, error) {
	s.codes = append(s.codes, code)
	return s.authz, s.err
}

func (s *stubCredentials) Refresh(_ context.Context, token string) (auth.RefreshResult, error) {
	s.refreshed = append(s.refreshed, token)
	return s.refresh, s.err
}

func (s *stubCredentials) LastAccess(_ context.Context, token string) (time.Time, error) {
	s.lookedUp = append(s.lookedUp, token)
	return s.lastAccess, s.err
}

type stubFeeds struct {
	body       string
	activities []models.Activity
	err        error
	tokens     []string
}

func (s *stubFeeds) Calendar(_ context.Context, token string) (string, error) {
	s.tokens = append(s.tokens, token)
	return s.body, s.err
}

func (s *stubFeeds) Activities(_ context.Context, token string) ([]models.Activity, error) {
	s.tokens = append(s.tokens, token)
	return s.activities, s.err
}

type stubProvider struct{}

func (stubProvider) AuthorizationURL(state string) string {
	return "https://provider.test/oauth/authorize?client_id=123&scope=activity%3Aread_all&state=" + state
}

// withState attaches the login state cookie matching the callback query.
func withState(state string) http.Header {
	return http.Header{"Cookie": {stateCookie + "=" + state}}
}

type denyAll struct{ calls int }

func (d *denyAll) Allow(string) bool {
	d.calls++
	return false
}

func newMux(deps Dependencies) *http.ServeMux {
	mux := http.NewServeMux()
	RegisterRoutes(mux, deps)
	return mux
}

func serve(mux *http.ServeMux, method, target string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestLogin(t *testing.T) {
	mux := newMux(Dependencies{Provider: stubProvider{}})

	rec := serve(mux, http.MethodGet, "/login", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}

	var resp loginResponse
	decodeBody(t, rec, &resp)
	if !strings.HasPrefix(resp.AuthorizationURL, "https://provider.test/oauth/authorize") {
		t.Fatalf("unexpected authorization url %q", resp.AuthorizationURL)
	}

	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != stateCookie || cookies[0].Value == "" || !cookies[0].HttpOnly {
		t.Fatalf("expected http-only state cookie, got %+v", cookies)
	}
	if !strings.HasSuffix(resp.AuthorizationURL, "&state="+cookies[0].Value) {
		t.Fatalf("expected cookie state in authorization url %q", resp.AuthorizationURL)
	}

	if rec := serve(mux, http.MethodPost, "/login", nil); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 got %d", rec.Code)
	}
}

func TestLoggedIn(t *testing.T) {
	creds := &stubCredentials{authz: auth.Authorization{
		IdentityToken: "tok123",
		Credential:    models.Credential{ExpiresAt: time.Date(2024, time.January, 1, 14, 0, 0, 0, time.UTC)},
		Athlete:       &models.Athlete{ID: 7, FirstName: "Ada"},
	}}
	mux := newMux(Dependencies{Credentials: creds, PublicURL: "https://cal.example.com/"})

	rec := serve(mux, http.MethodGet, "/logged_in?code=abc&state=s1&scope=read,activity:read_all", withState("s1"))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rec.Code, rec.Body.String())
	}

	var resp loggedInResponse
	decodeBody(t, rec, &resp)
	if resp.IdentityToken != "tok123" || resp.CalendarURL != "https://cal.example.com/calendar/tok123" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if resp.Athlete == nil || resp.Athlete.ID != 7 {
		t.Fatalf("expected athlete in response, got %+v", resp.Athlete)
	}
	if len(creds.codes) != 1 || creds.codes[0] != "abc" {
		t.Fatalf("expected code to be exchanged, got %v", creds.codes)
	}
}

func TestLoggedInRejectsBadCallbacks(t *testing.T) {
	creds := &stubCredentials{}
	mux := newMux(Dependencies{Credentials: creds})

	if rec := serve(mux, http.MethodGet, "/logged_in?error=access_denied", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for declined authorization got %d", rec.Code)
	}
	if rec := serve(mux, http.MethodGet, "/logged_in?state=s1", withState("s1")); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing code got %d", rec.Code)
	}
	if rec := serve(mux, http.MethodGet, "/logged_in?code=abc", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for callback without state got %d", rec.Code)
	}
	if rec := serve(mux, http.MethodGet, "/logged_in?code=abc&state=forged", withState("s1")); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for mismatched state got %d", rec.Code)
	}
	if len(creds.codes) != 0 {
		t.Fatalf("expected no exchange, got %v", creds.codes)
	}

	creds.err = auth.ErrUpstreamExchange
	if rec := serve(mux, http.MethodGet, "/logged_in?code=bad&state=s1", withState("s1")); rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502 for rejected exchange got %d", rec.Code)
	}
}

func TestCalendarFeed(t *testing.T) {
	feeds := &stubFeeds{body: "BEGIN:VCALENDAR\r\nEND:VCALENDAR\r\n"}
	mux := newMux(Dependencies{Feeds: feeds})

	rec := serve(mux, http.MethodGet, "/calendar/abc123", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); got != "text/calendar; charset=utf-8" {
		t.Fatalf("unexpected content type %q", got)
	}
	if rec.Body.String() != feeds.body {
		t.Fatalf("unexpected body %q", rec.Body.String())
	}
	if len(feeds.tokens) != 1 || feeds.tokens[0] != "abc123" {
		t.Fatalf("expected token from path, got %v", feeds.tokens)
	}

	rec = serve(mux, http.MethodHead, "/calendar/abc123", nil)
	if rec.Code != http.StatusOK || rec.Body.Len() != 0 {
		t.Fatalf("expected empty 200 for HEAD, got %d with %d bytes", rec.Code, rec.Body.Len())
	}
}

func TestCalendarFeedErrorStatuses(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{err: auth.ErrNotAuthorized, want: http.StatusUnauthorized},
		{err: auth.ErrUpstreamExchange, want: http.StatusBadGateway},
		{err: auth.ErrUpstreamUnavailable, want: http.StatusServiceUnavailable},
		{err: auth.ErrStorage, want: http.StatusInternalServerError},
		{err: errors.New("boom"), want: http.StatusInternalServerError},
	}

	for _, tc := range tests {
		mux := newMux(Dependencies{Feeds: &stubFeeds{err: tc.err}})
		rec := serve(mux, http.MethodGet, "/calendar/abc123", nil)
		if rec.Code != tc.want {
			t.Fatalf("%v: expected %d got %d", tc.err, tc.want, rec.Code)
		}
		if tc.want == http.StatusServiceUnavailable && rec.Header().Get("Retry-After") == "" {
			t.Fatal("expected Retry-After on upstream unavailability")
		}
	}
}

func TestCalendarFeedRateLimited(t *testing.T) {
	feeds := &stubFeeds{}
	limiter := &denyAll{}
	mux := newMux(Dependencies{Feeds: feeds, FeedLimiter: limiter})

	rec := serve(mux, http.MethodGet, "/calendar/abc123", nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 got %d", rec.Code)
	}
	if len(feeds.tokens) != 0 {
		t.Fatal("expected feed not to be rendered when limited")
	}
	if limiter.calls != 1 {
		t.Fatalf("expected limiter consulted once got %d", limiter.calls)
	}
}

func TestActivitiesJSON(t *testing.T) {
	start := time.Date(2024, time.January, 1, 8, 0, 0, 0, time.UTC)
	elapsed := time.Hour
	distance := 10000.0
	feeds := &stubFeeds{activities: []models.Activity{
		{ID: 42, Name: "Run", StartTime: &start, ElapsedTime: &elapsed, Distance: &distance},
		{ID: 43, Name: "Yoga"},
	}}
	mux := newMux(Dependencies{Feeds: feeds})

	rec := serve(mux, http.MethodGet, "/api/v1/activities/abc123", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}

	var resp activitiesResponse
	decodeBody(t, rec, &resp)
	if len(resp.Activities) != 2 {
		t.Fatalf("expected 2 activities got %d", len(resp.Activities))
	}
	run := resp.Activities[0]
	if run.Stop == nil || !run.Stop.Equal(start.Add(time.Hour)) || run.Duration == nil || *run.Duration != 3600 {
		t.Fatalf("unexpected run view %+v", run)
	}
	if yoga := resp.Activities[1]; yoga.Start != nil || yoga.Stop != nil {
		t.Fatalf("expected missing fields to stay null, got %+v", yoga)
	}
}

func TestCredentialEndpointsRequireAdmin(t *testing.T) {
	creds := &stubCredentials{}

	disabled := newMux(Dependencies{Credentials: creds})
	if rec := serve(disabled, http.MethodPost, "/api/v1/credentials/abc123/refresh", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without admin token configured got %d", rec.Code)
	}

	mux := newMux(Dependencies{Credentials: creds, AdminToken: "s3cret"})
	if rec := serve(mux, http.MethodPost, "/api/v1/credentials/abc123/refresh", nil); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without bearer got %d", rec.Code)
	}
	wrong := http.Header{"Authorization": {"Bearer nope"}}
	if rec := serve(mux, http.MethodGet, "/api/v1/credentials/abc123/last-access", wrong); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 with wrong bearer got %d", rec.Code)
	}
	if len(creds.refreshed)+len(creds.lookedUp) != 0 {
		t.Fatal("expected no credential operations without admin access")
	}
}

func TestCredentialRefresh(t *testing.T) {
	expires := time.Date(2024, time.January, 1, 14, 0, 0, 0, time.UTC)
	creds := &stubCredentials{refresh: auth.RefreshResult{
		PreviousAccessSecret: "a1",
		Credential:           models.Credential{IdentityToken: "abc123", AccessSecret: "a2", RefreshSecret: "r2", ExpiresAt: expires},
	}}
	mux := newMux(Dependencies{Credentials: creds, AdminToken: "s3cret"})
	admin := http.Header{"Authorization": {"Bearer s3cret"}}

	rec := serve(mux, http.MethodPost, "/api/v1/credentials/abc123/refresh", admin)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}

	var resp refreshResponse
	decodeBody(t, rec, &resp)
	if resp.OldAccessToken != "a1" || resp.AccessToken != "a2" || resp.RefreshToken != "r2" || !resp.ExpiresAt.Equal(expires) {
		t.Fatalf("unexpected refresh response %+v", resp)
	}
	if len(creds.refreshed) != 1 || creds.refreshed[0] != "abc123" {
		t.Fatalf("expected refresh for path token, got %v", creds.refreshed)
	}

	creds.err = auth.ErrNotAuthorized
	if rec := serve(mux, http.MethodPost, "/api/v1/credentials/missing/refresh", admin); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unknown token got %d", rec.Code)
	}
}

func TestCredentialLastAccess(t *testing.T) {
	creds := &stubCredentials{lastAccess: auth.NeverAccessed}
	mux := newMux(Dependencies{Credentials: creds, AdminToken: "s3cret"})
	admin := http.Header{"Authorization": {"Bearer s3cret"}}

	rec := serve(mux, http.MethodGet, "/api/v1/credentials/abc123/last-access", admin)
	var resp lastAccessResponse
	decodeBody(t, rec, &resp)
	if !resp.NeverAccessed || resp.LastRequestAt != nil {
		t.Fatalf("expected never accessed sentinel, got %+v", resp)
	}

	at := time.Date(2024, time.February, 1, 10, 0, 0, 0, time.UTC)
	creds.lastAccess = at
	rec = serve(mux, http.MethodGet, "/api/v1/credentials/abc123/last-access", admin)
	resp = lastAccessResponse{}
	decodeBody(t, rec, &resp)
	if resp.NeverAccessed || resp.LastRequestAt == nil || !resp.LastRequestAt.Equal(at) {
		t.Fatalf("unexpected last access response %+v", resp)
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/calendar/x", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")

	if got := clientIP(req, false); got != "10.0.0.1" {
		t.Fatalf("expected forwarded header ignored without trusted proxy, got %q", got)
	}
	if got := clientIP(req, true); got != "203.0.113.9" {
		t.Fatalf("expected first forwarded hop behind trusted proxy, got %q", got)
	}
	if got := rateLimitKey(req, "calendar", false); got != "calendar:10.0.0.1" {
		t.Fatalf("unexpected rate limit key %q", got)
	}
}
