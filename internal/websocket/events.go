package websocket

import (
	"github.com/fablab-manager/calendar-sync/internal/calendar"
)

// EventBroadcaster turns calendar publications into WebSocket messages.
// It implements calendar.Publisher and calendar.FailureListener.
type EventBroadcaster struct {
	hub *Hub
}

// NewEventBroadcaster creates a new event broadcaster.
func NewEventBroadcaster(hub *Hub) *EventBroadcaster {
	return &EventBroadcaster{hub: hub}
}

// Publish sends the published event list to every connected client.
func (b *EventBroadcaster) Publish(snapshot calendar.Snapshot) {
	b.broadcast(NewMessage(TypeCalendarEventsPublished, CalendarEventsPayload{
		Events:      snapshot.Events,
		Hash:        snapshot.Hash,
		Source:      string(snapshot.Source),
		LastUpdated: snapshot.LastUpdated,
	}))
}

// RefreshFailed tells clients a refresh could not reach the backend, so the
// calendar may be stale.
func (b *EventBroadcaster) RefreshFailed(outcome calendar.Outcome, err error) {
	msg := "backend unavailable"
	if err != nil {
		msg = err.Error()
	}
	b.broadcast(NewMessage(TypeCalendarRefreshFailed, RefreshFailedPayload{
		Outcome: string(outcome),
		Message: msg,
	}))
}

func (b *EventBroadcaster) broadcast(msg Message) {
	data, err := msg.JSON()
	if err != nil {
		b.hub.logger.Error().Err(err).Str("type", string(msg.Type)).Msg("encoding websocket message")
		return
	}

	b.hub.Broadcast(data)
}
