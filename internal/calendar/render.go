package calendar

import (
	ics "github.com/arran4/golang-ical"
)

// ContentType is the media type of a rendered document.
const ContentType = "text/calendar; charset=utf-8"

// Render serializes doc as iCalendar text. DTSTAMP mirrors the event start so
// identical input always renders identical output.
func Render(doc Document) string {
	cal := ics.NewCalendar()
	cal.SetProductId(doc.ProdID)
	cal.SetVersion(doc.Version)

	for _, e := range doc.Events {
		event := cal.AddEvent(e.UID)
		event.SetDtStampTime(e.Start)
		event.SetStartAt(e.Start)
		event.SetEndAt(e.End)
		event.SetSummary(e.Summary)
		event.SetDescription(e.Description)
	}

	return cal.Serialize()
}
