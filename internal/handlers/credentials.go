package handlers

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/activitycal/backend/internal/auth"
	"github.com/activitycal/backend/internal/logging"
)

// CredentialHandler exposes operator endpoints guarded by a static bearer token.
// An empty AdminToken disables them.
type CredentialHandler struct {
	Credentials CredentialService
	AdminToken  string
}

// Refresh handles POST /api/v1/credentials/{token}/refresh.
func (h CredentialHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !h.authorized(w, r) {
		return
	}

	ctx := logging.WithIdentity(r.Context(), r.PathValue("token"))
	result, err := h.Credentials.Refresh(ctx, r.PathValue("token"))
	if err != nil {
		respondServiceError(ctx, w, err)
		return
	}

	respondJSON(ctx, w, http.StatusOK, refreshResponse{
		OldAccessToken: result.PreviousAccessSecret,
		AccessToken:    result.Credential.AccessSecret,
		RefreshToken:   result.Credential.RefreshSecret,
		ExpiresAt:      result.Credential.ExpiresAt,
	})
}

// LastAccess handles GET /api/v1/credentials/{token}/last-access.
func (h CredentialHandler) LastAccess(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !h.authorized(w, r) {
		return
	}

	ctx := logging.WithIdentity(r.Context(), r.PathValue("token"))
	at, err := h.Credentials.LastAccess(ctx, r.PathValue("token"))
	if err != nil {
		respondServiceError(ctx, w, err)
		return
	}

	resp := lastAccessResponse{NeverAccessed: at.Equal(auth.NeverAccessed)}
	if !resp.NeverAccessed {
		resp.LastRequestAt = &at
	}
	respondJSON(ctx, w, http.StatusOK, resp)
}

func (h CredentialHandler) authorized(w http.ResponseWriter, r *http.Request) bool {
	ctx := r.Context()
	if h.AdminToken == "" || h.Credentials == nil {
		w.WriteHeader(http.StatusNotFound)
		return false
	}

	presented, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(presented)), []byte(h.AdminToken)) != 1 {
		logging.FromContext(ctx).Warn("admin request rejected")
		respondJSON(ctx, w, http.StatusForbidden, map[string]string{"error": "forbidden"})
		return false
	}
	return true
}

type refreshResponse struct {
	OldAccessToken string    `json:"oldAccessToken"`
	AccessToken    string    `json:"accessToken"`
	RefreshToken   string    `json:"refreshToken"`
	ExpiresAt      time.Time `json:"expiresAt"`
}

type lastAccessResponse struct {
	LastRequestAt *time.Time `json:"lastRequestAt"`
	NeverAccessed bool       `json:"neverAccessed"`
}
