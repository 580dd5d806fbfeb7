package models

// EventType values carried in ExtendedProps.Type.
const (
	EventTypeFormation = "formation"
	EventTypeStatic    = "static"
)

// CalendarEvent is the shape published to the rendering layer.
// Start and End are ISO date-only strings (2006-01-02).
type CalendarEvent struct {
	ID              string        `json:"id" yaml:"id"`
	Title           string        `json:"title" yaml:"title"`
	Start           string        `json:"start" yaml:"start"`
	End             string        `json:"end,omitempty" yaml:"end,omitempty"`
	AllDay          bool          `json:"allDay" yaml:"all_day"`
	BackgroundColor string        `json:"backgroundColor,omitempty" yaml:"background_color,omitempty"`
	BorderColor     string        `json:"borderColor,omitempty" yaml:"border_color,omitempty"`
	TextColor       string        `json:"textColor,omitempty" yaml:"text_color,omitempty"`
	ExtendedProps   ExtendedProps `json:"extendedProps" yaml:"extended_props"`
}

// ExtendedProps is the metadata bag the rendering layer uses for click handling.
// FormationID is set on every formation event, including id 0, and nil on
// static events.
type ExtendedProps struct {
	Type        string `json:"type" yaml:"type"`
	Status      string `json:"status,omitempty" yaml:"status,omitempty"`
	FormationID *int64 `json:"formationId,omitempty" yaml:"formation_id,omitempty"`
}

// IsFormation reports whether the event was derived from a formation record.
func (e CalendarEvent) IsFormation() bool {
	return e.ExtendedProps.Type == EventTypeFormation
}
