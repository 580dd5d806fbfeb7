package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/fablab-manager/calendar-sync/internal/calendar"
	ws "github.com/fablab-manager/calendar-sync/internal/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 65536
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The dashboard is served from another origin.
		return true
	},
}

// WebSocketUpgrade returns a handler that upgrades HTTP connections to
// WebSocket. A new client first receives a hello and the current event list.
func WebSocketUpgrade(hub *ws.Hub, sync *calendar.Synchronizer, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn().Err(err).Msg("websocket upgrade failed")
			return
		}

		client := ws.NewClient(hub)
		clientLogger := logger.With().Str("client_id", client.ID).Logger()

		// Queue the greeting before registering so it precedes broadcasts.
		queue(client, ws.NewMessage(ws.TypeHello, ws.HelloPayload{ClientID: client.ID}), clientLogger)
		snap := sync.Snapshot()
		queue(client, ws.NewMessage(ws.TypeCalendarEventsPublished, ws.CalendarEventsPayload{
			Events:      snap.Events,
			Hash:        snap.Hash,
			Source:      string(snap.Source),
			LastUpdated: snap.LastUpdated,
		}), clientLogger)

		hub.Register(client)

		go writePump(conn, client)
		go readPump(conn, client, hub, clientLogger)
	}
}

func queue(client *ws.Client, msg ws.Message, logger zerolog.Logger) {
	data, err := msg.JSON()
	if err != nil {
		logger.Error().Err(err).Str("type", string(msg.Type)).Msg("encoding websocket message")
		return
	}
	if !client.Queue(data) {
		logger.Warn().Str("type", string(msg.Type)).Msg("client unavailable, dropping message")
	}
}

// writePump pumps messages from the hub to the WebSocket connection.
func writePump(conn *websocket.Conn, client *ws.Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump pumps messages from the WebSocket connection to the hub.
func readPump(conn *websocket.Conn, client *ws.Client, hub *ws.Hub, logger zerolog.Logger) {
	defer func() {
		hub.Unregister(client)
		conn.Close()
	}()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Warn().Err(err).Msg("websocket read error")
			}
			break
		}

		handleClientMessage(message, client, logger)
	}
}

// handleClientMessage answers application-level pings. The calendar stream
// is push-only, so anything else is rejected.
func handleClientMessage(message []byte, client *ws.Client, logger zerolog.Logger) {
	var envelope struct {
		Type ws.MessageType `json:"type"`
	}
	if err := json.Unmarshal(message, &envelope); err != nil {
		queue(client, ws.NewMessage(ws.TypeError, ws.ErrorPayload{
			Code:    "invalid_message",
			Message: "message must be a JSON object with a type",
		}), logger)
		return
	}

	switch envelope.Type {
	case ws.TypePing:
		queue(client, ws.NewMessage(ws.TypePong, nil), logger)
	default:
		queue(client, ws.NewMessage(ws.TypeError, ws.ErrorPayload{
			Code:         "unsupported_type",
			Message:      "unsupported message type",
			OriginalType: string(envelope.Type),
		}), logger)
	}
}
