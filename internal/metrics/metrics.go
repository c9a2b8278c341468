// Package metrics registers the Prometheus collectors exported on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	feedRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "activitycal",
		Subsystem: "feed",
		Name:      "requests_total",
		Help:      "Feed requests labeled by outcome.",
	}, []string{"outcome"})

	skippedActivities = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "activitycal",
		Subsystem: "feed",
		Name:      "activities_skipped_total",
		Help:      "Activities dropped from feeds because start, duration or distance was missing.",
	})

	refreshes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "activitycal",
		Subsystem: "credentials",
		Name:      "refreshes_total",
		Help:      "Refresh exchanges with the upstream provider labeled by result.",
	}, []string{"result"})

	upstreamDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "activitycal",
		Subsystem: "upstream",
		Name:      "call_duration_seconds",
		Help:      "Latency of calls to the upstream provider.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 8),
	}, []string{"call"})

	mirrorUploads = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "activitycal",
		Subsystem: "mirror",
		Name:      "uploads_total",
		Help:      "Feed mirror uploads labeled by result.",
	}, []string{"result"})
)

func init() {
	prometheus.MustRegister(feedRequests, skippedActivities, refreshes, upstreamDuration, mirrorUploads)
}

// RecordFeed counts a feed request with the given outcome.
func RecordFeed(outcome string) {
	feedRequests.WithLabelValues(outcome).Inc()
}

// RecordSkipped adds n dropped activities.
func RecordSkipped(n int) {
	if n <= 0 {
		return
	}
	skippedActivities.Add(float64(n))
}

// RecordRefresh counts a refresh exchange with the given result.
func RecordRefresh(result string) {
	refreshes.WithLabelValues(result).Inc()
}

// ObserveUpstream records the latency of an upstream call.
func ObserveUpstream(call string, d time.Duration) {
	upstreamDuration.WithLabelValues(call).Observe(d.Seconds())
}

// RecordMirror counts a mirror upload with the given result.
func RecordMirror(result string) {
	mirrorUploads.WithLabelValues(result).Inc()
}
