package handlers

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/activitycal/backend/internal/logging"
	"github.com/activitycal/backend/internal/models"
)

// AuthHandler implements the OAuth authorization flow endpoints.
type AuthHandler struct {
	Credentials CredentialService
	Provider    AuthorizationURLProvider
	PublicURL   string
}

// Login handles GET /login by returning the provider consent URL.
func (h AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	if h.Provider == nil {
		logging.FromContext(ctx).Error("authorization provider unavailable")
		respondJSON(ctx, w, http.StatusInternalServerError, map[string]string{"error": "authorization unavailable"})
		return
	}

	state := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     "/logged_in",
		MaxAge:   int(stateTTL.Seconds()),
		HttpOnly: true,
		Secure:   strings.HasPrefix(h.PublicURL, "https://"),
		SameSite: http.SameSiteLaxMode,
	})

	respondJSON(ctx, w, http.StatusOK, loginResponse{AuthorizationURL: h.Provider.AuthorizationURL(state)})
}

// LoggedIn handles GET /logged_in, the provider redirect after consent.
func (h AuthHandler) LoggedIn(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	logger := logging.FromContext(ctx)

	if h.Credentials == nil {
		logger.Error("credential service unavailable")
		respondJSON(ctx, w, http.StatusInternalServerError, map[string]string{"error": "authorization unavailable"})
		return
	}

	query := r.URL.Query()
	if reason := strings.TrimSpace(query.Get("error")); reason != "" {
		logger.Info("authorization declined", "reason", reason)
		respondJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": "authorization declined: " + reason})
		return
	}

	if !validState(r, query.Get("state")) {
		respondJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": "authorization state mismatch; start again at /login"})
		return
	}
	http.SetCookie(w, &http.Cookie{Name: stateCookie, Path: "/logged_in", MaxAge: -1})

	code := strings.TrimSpace(query.Get("code"))
	if code == "" {
		respondJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": "authorization code is required"})
		return
	}

	authz, err := h.Credentials.Authorize(ctx, code)
	if err != nil {
		respondServiceError(ctx, w, err)
		return
	}

	respondJSON(ctx, w, http.StatusOK, loggedInResponse{
		Athlete:       authz.Athlete,
		ExpiresAt:     authz.Credential.ExpiresAt,
		IdentityToken: authz.IdentityToken,
		CalendarURL:   calendarURL(h.PublicURL, authz.IdentityToken),
	})
}

// The login state travels in a short-lived cookie scoped to the callback.
const (
	stateCookie = "activitycal_oauth_state"
	stateTTL    = 10 * time.Minute
)

func validState(r *http.Request, state string) bool {
	cookie, err := r.Cookie(stateCookie)
	if err != nil || cookie.Value == "" || state == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(cookie.Value), []byte(state)) == 1
}

func calendarURL(publicURL, token string) string {
	return strings.TrimSuffix(publicURL, "/") + "/calendar/" + token
}

type loginResponse struct {
	AuthorizationURL string `json:"authorizationUrl"`
}

type loggedInResponse struct {
	Athlete       *models.Athlete `json:"athlete,omitempty"`
	ExpiresAt     time.Time       `json:"expiresAt"`
	IdentityToken string          `json:"identityToken"`
	CalendarURL   string          `json:"calendarUrl"`
}
