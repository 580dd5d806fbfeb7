package calendar

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/fablab-manager/calendar-sync/internal/storage/models"
)

// Display colors of static events.
const (
	StaticBackgroundColor = "#f59e0b"
	StaticTextColor       = "#1f2937"
)

// DefaultStaticEvents returns the built-in static events shown on every
// manager calendar.
func DefaultStaticEvents() []models.CalendarEvent {
	return []models.CalendarEvent{
		{
			ID:              "static-fermeture-estivale",
			Title:           "Fermeture estivale du fablab",
			Start:           "2025-08-01",
			End:             "2025-08-25",
			AllDay:          true,
			BackgroundColor: StaticBackgroundColor,
			TextColor:       StaticTextColor,
			ExtendedProps:   models.ExtendedProps{Type: models.EventTypeStatic},
		},
		{
			ID:              "static-portes-ouvertes",
			Title:           "Journée portes ouvertes",
			Start:           "2025-10-04",
			End:             "2025-10-05",
			AllDay:          true,
			BackgroundColor: StaticBackgroundColor,
			TextColor:       StaticTextColor,
			ExtendedProps:   models.ExtendedProps{Type: models.EventTypeStatic},
		},
		{
			ID:              "static-inventaire-materiel",
			Title:           "Inventaire du matériel",
			Start:           "2025-12-15",
			End:             "2025-12-16",
			AllDay:          true,
			BackgroundColor: StaticBackgroundColor,
			TextColor:       StaticTextColor,
			ExtendedProps:   models.ExtendedProps{Type: models.EventTypeStatic},
		},
	}
}

// staticEventsFile is the YAML layout of a static events file:
//
//	events:
//	  - id: static-fermeture
//	    title: Fermeture
//	    start: 2025-08-01
//	    end: 2025-08-25
type staticEventsFile struct {
	Events []models.CalendarEvent `yaml:"events"`
}

// LoadStaticEvents reads static events from a YAML file. An empty path
// yields DefaultStaticEvents.
func LoadStaticEvents(path string) ([]models.CalendarEvent, error) {
	if path == "" {
		return DefaultStaticEvents(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading static events: %w", err)
	}

	return ParseStaticEvents(data)
}

// ParseStaticEvents decodes and validates a static events YAML document.
func ParseStaticEvents(data []byte) ([]models.CalendarEvent, error) {
	var file staticEventsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decoding static events: %w", err)
	}

	seen := make(map[string]bool, len(file.Events))
	events := make([]models.CalendarEvent, 0, len(file.Events))
	for i, e := range file.Events {
		if e.ID == "" || e.Title == "" || e.Start == "" {
			return nil, fmt.Errorf("static event #%d: id, title and start are required", i+1)
		}
		if seen[e.ID] {
			return nil, fmt.Errorf("static event #%d: duplicate id %q", i+1, e.ID)
		}
		if _, ok := parseDate(e.Start); !ok {
			return nil, fmt.Errorf("static event %q: invalid start %q", e.ID, e.Start)
		}
		if e.ExtendedProps.Type == models.EventTypeFormation {
			return nil, errors.New("static events cannot use the formation type")
		}
		seen[e.ID] = true

		// Start and end are dates, so static events are always all-day.
		e.AllDay = true
		if e.ExtendedProps.Type == "" {
			e.ExtendedProps.Type = models.EventTypeStatic
		}
		if e.BackgroundColor == "" {
			e.BackgroundColor = StaticBackgroundColor
		}
		if e.TextColor == "" {
			e.TextColor = StaticTextColor
		}
		events = append(events, e)
	}

	return events, nil
}
