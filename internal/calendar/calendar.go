// Package calendar maps upstream activities onto calendar events and renders
// them as an iCalendar document.
package calendar

import (
	"fmt"
	"strconv"
	"time"

	"github.com/activitycal/backend/internal/models"
)

const (
	// ProdID identifies the producer of generated documents.
	ProdID = "-//Strava Activities//"
	// Version is the iCalendar version header.
	Version = "2.0"
	// ActivityURLBase prefixes the canonical link placed in each event description.
	ActivityURLBase = "https://www.strava.com/activities/"
)

// Event is one calendar entry derived from an activity.
type Event struct {
	UID         string
	Start       time.Time
	End         time.Time
	Summary     string
	Description string
}

// Document is an ordered set of events with fixed header fields.
type Document struct {
	ProdID  string
	Version string
	Events  []Event
}

// NewDocument returns an empty document carrying the fixed headers.
func NewDocument() Document {
	return Document{ProdID: ProdID, Version: Version}
}

// Synthesize converts activities into events, preserving input order. Activities
// missing a start time, elapsed time or distance are dropped.
func Synthesize(activities []models.Activity) Document {
	doc := NewDocument()
	for _, activity := range activities {
		event, ok := eventFor(activity)
		if !ok {
			continue
		}
		doc.Events = append(doc.Events, event)
	}
	return doc
}

// Skipped reports how many of the given activities Synthesize would drop.
func Skipped(activities []models.Activity) int {
	n := 0
	for _, activity := range activities {
		if !eligible(activity) {
			n++
		}
	}
	return n
}

func eligible(a models.Activity) bool {
	return a.StartTime != nil && a.ElapsedTime != nil && a.Distance != nil
}

func eventFor(a models.Activity) (Event, bool) {
	if !eligible(a) {
		return Event{}, false
	}

	start := a.StartTime.UTC()
	return Event{
		UID:         fmt.Sprintf("activity-%d@activitycal", a.ID),
		Start:       start,
		End:         start.Add(*a.ElapsedTime),
		Summary:     Summary(a.Name, *a.Distance),
		Description: ActivityURL(a.ID),
	}, true
}

// Summary renders the activity name with its distance in kilometres. Distance is
// truncated to whole meters before conversion.
func Summary(name string, meters float64) string {
	km := float64(int64(meters)) / 1000
	return fmt.Sprintf("%s (%.1f km)", name, km)
}

// ActivityURL returns the canonical link for an activity.
func ActivityURL(id int64) string {
	return ActivityURLBase + strconv.FormatInt(id, 10)
}
