// Package handlers provides HTTP request handlers for the API endpoints.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/fablab-manager/calendar-sync/internal/calendar"
	"github.com/fablab-manager/calendar-sync/internal/websocket"
)

// Pinger is satisfied by *storage.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status           string     `json:"status"`
	DBConnected      bool       `json:"db_connected"`
	ViewActive       bool       `json:"view_active"`
	LastUpdated      *time.Time `json:"last_updated,omitempty"`
	NextRefreshAt    *time.Time `json:"next_refresh_at,omitempty"`
	WebSocketClients int        `json:"websocket_clients"`
}

// HealthCheck returns a handler that performs a health check.
func HealthCheck(db Pinger, view *calendar.View, hub *websocket.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		dbConnected := db.PingContext(ctx) == nil

		status := "healthy"
		if !dbConnected {
			status = "degraded"
		}

		response := HealthResponse{
			Status:        status,
			DBConnected:   dbConnected,
			ViewActive:    view.Active(),
			NextRefreshAt: view.NextRefresh(),
		}
		if updated := view.Synchronizer().LastUpdated(); !updated.IsZero() {
			response.LastUpdated = &updated
		}
		if hub != nil {
			response.WebSocketClients = hub.ClientCount()
		}

		w.Header().Set("Content-Type", "application/json")
		if status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(response)
	}
}
