package handlers

import (
	"io"
	"net/http"
	"time"

	"github.com/activitycal/backend/internal/calendar"
	"github.com/activitycal/backend/internal/logging"
	"github.com/activitycal/backend/internal/metrics"
	"github.com/activitycal/backend/internal/models"
)

// FeedHandler serves calendar subscriptions and the raw activity window.
type FeedHandler struct {
	Feeds      FeedService
	Limiter    RateLimiter
	TrustProxy bool
}

// Calendar handles GET /calendar/{token}.
func (h FeedHandler) Calendar(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	if !allowRequest(h.Limiter, r, "calendar", h.TrustProxy) {
		metrics.RecordFeed("rate_limited")
		w.Header().Set("Retry-After", "60")
		respondJSON(ctx, w, http.StatusTooManyRequests, map[string]string{"error": "too many requests"})
		return
	}
	if h.Feeds == nil {
		logging.FromContext(ctx).Error("feed service unavailable")
		respondJSON(ctx, w, http.StatusInternalServerError, map[string]string{"error": "feed unavailable"})
		return
	}

	body, err := h.Feeds.Calendar(ctx, r.PathValue("token"))
	if err != nil {
		respondServiceError(ctx, w, err)
		return
	}

	w.Header().Set("Content-Type", calendar.ContentType)
	w.Header().Set("Cache-Control", "private, no-cache")
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := io.WriteString(w, body); err != nil {
		logging.FromContext(ctx).Warn("write calendar body", "error", err)
	}
}

// Activities handles GET /api/v1/activities/{token}.
func (h FeedHandler) Activities(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	if !allowRequest(h.Limiter, r, "activities", h.TrustProxy) {
		w.Header().Set("Retry-After", "60")
		respondJSON(ctx, w, http.StatusTooManyRequests, map[string]string{"error": "too many requests"})
		return
	}
	if h.Feeds == nil {
		logging.FromContext(ctx).Error("feed service unavailable")
		respondJSON(ctx, w, http.StatusInternalServerError, map[string]string{"error": "feed unavailable"})
		return
	}

	list, err := h.Feeds.Activities(ctx, r.PathValue("token"))
	if err != nil {
		respondServiceError(ctx, w, err)
		return
	}

	resp := activitiesResponse{Activities: make([]activityView, 0, len(list))}
	for _, a := range list {
		resp.Activities = append(resp.Activities, newActivityView(a))
	}
	respondJSON(ctx, w, http.StatusOK, resp)
}

type activitiesResponse struct {
	Activities []activityView `json:"activities"`
}

type activityView struct {
	ID          int64      `json:"id"`
	Name        string     `json:"name"`
	Start       *time.Time `json:"start"`
	Stop        *time.Time `json:"stop"`
	Duration    *int64     `json:"durationSeconds"`
	Distance    *float64   `json:"distanceMeters"`
	Description *string    `json:"description,omitempty"`
}

func newActivityView(a models.Activity) activityView {
	view := activityView{
		ID:          a.ID,
		Name:        a.Name,
		Start:       a.StartTime,
		Distance:    a.Distance,
		Description: a.Description,
	}
	if a.ElapsedTime != nil {
		seconds := int64(a.ElapsedTime.Seconds())
		view.Duration = &seconds
		if a.StartTime != nil {
			stop := a.StartTime.Add(*a.ElapsedTime)
			view.Stop = &stop
		}
	}
	return view
}
