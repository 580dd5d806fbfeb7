package calendar

import (
	"time"

	ics "github.com/arran4/golang-ical"

	"github.com/fablab-manager/calendar-sync/internal/storage/models"
)

// ICSProductID identifies this service in exported feeds.
const ICSProductID = "-//Fablab Manager//Calendar Sync//FR"

// ExportICS renders events as an iCalendar feed of all-day events. Events
// whose start is not a date are skipped.
func ExportICS(events []models.CalendarEvent, name string, now time.Time) string {
	cal := ics.NewCalendar()
	cal.SetMethod(ics.MethodPublish)
	cal.SetProductId(ICSProductID)
	if name != "" {
		cal.SetXWRCalName(name)
	}

	for _, e := range events {
		start, ok := parseDate(e.Start)
		if !ok {
			continue
		}
		end, ok := parseDate(e.End)
		if !ok || !end.After(start) {
			end = start.AddDate(0, 0, 1)
		}

		ev := cal.AddEvent(e.ID)
		ev.SetDtStampTime(now.UTC())
		ev.SetSummary(e.Title)
		ev.SetAllDayStartAt(start)
		ev.SetAllDayEndAt(end)
		ev.AddProperty(ics.ComponentPropertyCategories, e.ExtendedProps.Type)
		if e.BackgroundColor != "" {
			ev.SetColor(e.BackgroundColor)
		}
		if e.IsFormation() {
			ev.SetStatus(icsStatus(e.ExtendedProps.Status))
		}
	}

	return cal.Serialize()
}

func icsStatus(status string) ics.ObjectStatus {
	switch status {
	case models.FormationStatusCancelled:
		return ics.ObjectStatusCancelled
	case models.FormationStatusPlanned:
		return ics.ObjectStatusTentative
	default:
		return ics.ObjectStatusConfirmed
	}
}
