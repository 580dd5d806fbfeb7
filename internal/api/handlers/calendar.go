package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/fablab-manager/calendar-sync/internal/api/middleware"
	"github.com/fablab-manager/calendar-sync/internal/calendar"
	"github.com/fablab-manager/calendar-sync/internal/storage/models"
)

// ICSCalendarName is the X-WR-CALNAME of the exported feed.
const ICSCalendarName = "Fablab - formations"

// EventsResponse is the published event list as served to the dashboard.
type EventsResponse struct {
	Events        []models.CalendarEvent `json:"events"`
	Hash          string                 `json:"hash,omitempty"`
	Source        string                 `json:"source"`
	LastUpdated   *time.Time             `json:"last_updated,omitempty"`
	NextRefreshAt *time.Time             `json:"next_refresh_at,omitempty"`
}

// RefreshResponse reports the outcome of a manual refresh.
type RefreshResponse struct {
	Outcome  string         `json:"outcome"`
	Calendar EventsResponse `json:"calendar"`
}

func eventsResponse(view *calendar.View) EventsResponse {
	snap := view.Synchronizer().Snapshot()
	resp := EventsResponse{
		Events:        snap.Events,
		Hash:          snap.Hash,
		Source:        string(snap.Source),
		NextRefreshAt: view.NextRefresh(),
	}
	if resp.Events == nil {
		resp.Events = []models.CalendarEvent{}
	}
	if !snap.LastUpdated.IsZero() {
		resp.LastUpdated = &snap.LastUpdated
	}
	return resp
}

// ListEvents returns the currently published calendar events.
func ListEvents(view *calendar.View) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(eventsResponse(view))
	}
}

// RefreshCalendar runs a refresh cycle. The refresh is forced unless
// ?force=false is given, matching the dashboard's refresh button.
func RefreshCalendar(view *calendar.View) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		force := true
		if raw := r.URL.Query().Get("force"); raw != "" {
			parsed, err := strconv.ParseBool(raw)
			if err != nil {
				middleware.WriteError(w, http.StatusBadRequest, middleware.ErrBadRequest, "force must be a boolean")
				return
			}
			force = parsed
		}

		outcome, err := view.TriggerRefresh(force)
		if errors.Is(err, calendar.ErrViewInactive) {
			middleware.WriteError(w, http.StatusServiceUnavailable, middleware.ErrUnavailable, "Calendar view is not active")
			return
		}
		if err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Refresh failed")
			return
		}

		response := RefreshResponse{
			Outcome:  string(outcome),
			Calendar: eventsResponse(view),
		}

		w.Header().Set("Content-Type", "application/json")
		if outcome == calendar.OutcomeFetchFailed {
			w.WriteHeader(http.StatusBadGateway)
		}
		json.NewEncoder(w).Encode(response)
	}
}

// ExportEventsICS serves the published events as an iCalendar feed.
func ExportEventsICS(view *calendar.View) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body := calendar.ExportICS(view.Synchronizer().Events(), ICSCalendarName, time.Now())

		w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
		w.Header().Set("Content-Disposition", `inline; filename="formations.ics"`)
		w.Write([]byte(body))
	}
}
