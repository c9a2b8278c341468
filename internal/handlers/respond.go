package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/activitycal/backend/internal/auth"
	"github.com/activitycal/backend/internal/logging"
)

func respondJSON(ctx context.Context, w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logging.FromContext(ctx).Error("encode response body", "status", status, "error", err)
		return
	}

	logger := logging.FromContext(ctx)
	switch {
	case status >= http.StatusInternalServerError:
		logger.Error("request failed", "status", status, "response", payload)
	case status >= http.StatusBadRequest && status != http.StatusUnauthorized:
		logger.Warn("request returned client error", "status", status, "response", payload)
	}
}

// respondServiceError maps the credential and upstream error kinds onto HTTP
// statuses so clients can tell "re-authorize" from "retry later".
func respondServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	logger := logging.FromContext(ctx)

	switch {
	case errors.Is(err, auth.ErrNotAuthorized):
		respondJSON(ctx, w, http.StatusUnauthorized, map[string]string{"error": "not authorized"})
	case errors.Is(err, auth.ErrUpstreamExchange):
		logger.Warn("upstream rejected request", "error", err)
		respondJSON(ctx, w, http.StatusBadGateway, map[string]string{"error": "upstream provider rejected the request; re-authorize"})
	case errors.Is(err, auth.ErrUpstreamUnavailable):
		logger.Warn("upstream unavailable", "error", err)
		w.Header().Set("Retry-After", "30")
		respondJSON(ctx, w, http.StatusServiceUnavailable, map[string]string{"error": "upstream provider unavailable; retry later"})
	case errors.Is(err, auth.ErrStorage):
		logger.Error("storage failure", "error", err)
		respondJSON(ctx, w, http.StatusInternalServerError, map[string]string{"error": "storage failure"})
	default:
		logger.Error("unexpected error", "error", err)
		respondJSON(ctx, w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}
