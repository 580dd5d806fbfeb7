package calendar

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/fablab-manager/calendar-sync/internal/storage/models"
)

// DateLayout is the ISO date-only layout used for event start/end.
const DateLayout = "2006-01-02"

// Display colors of formation-derived events.
const (
	FormationBackgroundColor = "#2563eb"
	FormationBorderColor     = "#1d4ed8"
	FormationTextColor       = "#ffffff"
)

// EventIDPrefix prefixes the backend id in formation event ids.
const EventIDPrefix = "formation-"

const hashSeparator = "|"

// Hash fingerprints a formation list. Records are projected to
// id-start-end-name-status and sorted before hashing, so backend ordering
// never changes the result.
func Hash(formations []models.FormationRecord) string {
	parts := make([]string, len(formations))
	for i, f := range formations {
		parts[i] = strings.Join([]string{
			strconv.FormatInt(f.ID, 10),
			f.StartDate,
			f.EndDateOrEmpty(),
			f.Name,
			f.Status,
		}, "-")
	}
	sort.Strings(parts)

	sum := sha256.Sum256([]byte(strings.Join(parts, hashSeparator)))
	return hex.EncodeToString(sum[:])
}

// ToEvents converts formation records to calendar events, one per record.
func ToEvents(formations []models.FormationRecord) []models.CalendarEvent {
	events := make([]models.CalendarEvent, 0, len(formations))
	for _, f := range formations {
		events = append(events, ToEvent(f))
	}
	return events
}

// ToEvent converts a single formation record. Dates are cut to their day;
// a record without end date ends the day after it starts. Unparseable dates
// are passed through untouched.
func ToEvent(f models.FormationRecord) models.CalendarEvent {
	id := f.ID
	start, startOK := parseDate(f.StartDate)
	startStr := f.StartDate
	if startOK {
		startStr = start.Format(DateLayout)
	}

	var endStr string
	switch raw := f.EndDateOrEmpty(); {
	case raw != "":
		if end, ok := parseDate(raw); ok {
			endStr = end.Format(DateLayout)
		} else {
			endStr = raw
		}
	case startOK:
		endStr = start.AddDate(0, 0, 1).Format(DateLayout)
	default:
		endStr = startStr
	}

	return models.CalendarEvent{
		ID:              EventIDPrefix + strconv.FormatInt(f.ID, 10),
		Title:           f.Name,
		Start:           startStr,
		End:             endStr,
		AllDay:          true,
		BackgroundColor: FormationBackgroundColor,
		BorderColor:     FormationBorderColor,
		TextColor:       FormationTextColor,
		ExtendedProps: models.ExtendedProps{
			Type:        models.EventTypeFormation,
			Status:      f.Status,
			FormationID: &id,
		},
	}
}

// parseDate parses the date formats the backend is known to send.
func parseDate(value string) (time.Time, bool) {
	formats := []string{
		DateLayout,
		time.RFC3339,
		time.RFC3339Nano,
		"2006-01-02T15:04:05",
		"2006-01-02T15:04:05.000",
		"2006-01-02 15:04:05",
	}

	value = strings.TrimSpace(value)
	for _, format := range formats {
		if t, err := time.Parse(format, value); err == nil {
			return t, true
		}
	}

	return time.Time{}, false
}
