package websocket

import (
	"encoding/json"
	"time"

	"github.com/fablab-manager/calendar-sync/internal/storage/models"
)

// MessageType identifies the type of WebSocket message.
type MessageType string

const (
	// Server -> Client event types
	TypeCalendarEventsPublished MessageType = "calendar.events_published"
	TypeCalendarRefreshFailed   MessageType = "calendar.refresh_failed"

	// Client -> Server command types
	TypePing MessageType = "ping"

	// Server -> Client response types
	TypeHello MessageType = "hello"
	TypePong  MessageType = "pong"
	TypeError MessageType = "error"
)

// Message represents a WebSocket message envelope.
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   any         `json:"payload"`
}

// NewMessage creates a new message with the current timestamp.
func NewMessage(msgType MessageType, payload any) Message {
	return Message{
		Type:      msgType,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}

// JSON serializes the message to JSON bytes.
func (m Message) JSON() ([]byte, error) {
	return json.Marshal(m)
}

// CalendarEventsPayload is the payload for calendar.events_published events.
type CalendarEventsPayload struct {
	Events      []models.CalendarEvent `json:"events"`
	Hash        string                 `json:"hash,omitempty"`
	Source      string                 `json:"source"`
	LastUpdated time.Time              `json:"last_updated"`
}

// RefreshFailedPayload is the payload for calendar.refresh_failed events.
type RefreshFailedPayload struct {
	Outcome string `json:"outcome"`
	Message string `json:"message"`
}

// HelloPayload is sent once to a client right after it connects.
type HelloPayload struct {
	ClientID string `json:"client_id"`
}

// ErrorPayload is the payload for error messages.
type ErrorPayload struct {
	Code         string `json:"code"`
	Message      string `json:"message"`
	OriginalType string `json:"original_type,omitempty"`
}
