// Package api provides HTTP routing and handlers for the REST API.
package api

import (
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/fablab-manager/calendar-sync/internal/api/handlers"
	"github.com/fablab-manager/calendar-sync/internal/api/middleware"
	"github.com/fablab-manager/calendar-sync/internal/calendar"
	"github.com/fablab-manager/calendar-sync/internal/websocket"
)

// NewRouter creates and configures the HTTP router with all API routes.
func NewRouter(db handlers.Pinger, hub *websocket.Hub, view *calendar.View, logger zerolog.Logger) *mux.Router {
	r := mux.NewRouter()

	// Apply global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logging(logger))
	r.Use(middleware.Recovery(logger))

	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	api := r.PathPrefix("/api").Subrouter()

	api.HandleFunc("/health", handlers.HealthCheck(db, view, hub)).Methods("GET")
	api.HandleFunc("/ws", handlers.WebSocketUpgrade(hub, view.Synchronizer(), logger)).Methods("GET")

	api.HandleFunc("/calendar/events", handlers.ListEvents(view)).Methods("GET")
	api.HandleFunc("/calendar/events.ics", handlers.ExportEventsICS(view)).Methods("GET")
	api.HandleFunc("/calendar/refresh", handlers.RefreshCalendar(view)).Methods("POST")

	return r
}
