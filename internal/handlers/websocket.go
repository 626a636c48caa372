package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/transitwatch/internal/common"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// WSMessage is one frame sent to a websocket client
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// ConnectedPayload is the first frame a client receives
type ConnectedPayload struct {
	ServerInstanceID string    `json:"server_instance_id"`
	SubscriberID     string    `json:"subscriber_id"`
	Timestamp        time.Time `json:"timestamp"`
}

type WebSocketHandler struct {
	events           EventSource
	writeTimeout     time.Duration
	pingInterval     time.Duration
	serverInstanceID string // Clients use it to detect a server restart
	logger           arbor.ILogger
}

func NewWebSocketHandler(events EventSource, instanceID string, logger arbor.ILogger, config *common.WebSocketConfig) *WebSocketHandler {
	h := &WebSocketHandler{
		events:           events,
		writeTimeout:     10 * time.Second,
		pingInterval:     30 * time.Second,
		serverInstanceID: instanceID,
		logger:           logger,
	}
	if config != nil {
		if config.WriteTimeout > 0 {
			h.writeTimeout = config.WriteTimeout
		}
		if config.PingInterval > 0 {
			h.pingInterval = config.PingInterval
		}
	}

	logger.Info().Str("server_instance_id", h.serverInstanceID).Msg("WebSocket handler initialized with server instance ID")
	return h
}

// HandleWebSocket upgrades the connection and streams hub events until
// the client disconnects or is dropped for reading too slowly
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}

	sub := h.events.Subscribe()
	logger := h.logger.WithCorrelationId(sub.ID)
	logger.Debug().Msgf("WebSocket client connected (total: %d)", h.events.SubscriberCount())

	defer func() {
		sub.Close()
		conn.Close()
		logger.Debug().Msgf("WebSocket client disconnected (remaining: %d)", h.events.SubscriberCount())
	}()

	// Reader detects the client going away; inbound frames are ignored
	closed := make(chan struct{})
	pongWait := h.pingInterval * 2
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	common.SafeGo(logger, "websocket-reader", func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					logger.Warn().Err(err).Msg("WebSocket error")
				}
				return
			}
		}
	})

	if err := h.write(conn, WSMessage{
		Type: "connected",
		Payload: ConnectedPayload{
			ServerInstanceID: h.serverInstanceID,
			SubscriberID:     sub.ID,
			Timestamp:        time.Now(),
		},
	}); err != nil {
		return
	}

	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			return

		case event, ok := <-sub.Events():
			if !ok {
				// Dropped by the hub
				logger.Warn().Msg("WebSocket subscriber dropped, closing connection")
				h.closeWith(conn, websocket.ClosePolicyViolation, "subscriber too slow")
				return
			}
			if err := h.write(conn, WSMessage{Type: string(event.Type), Payload: event}); err != nil {
				logger.Debug().Err(err).Msg("Failed to send event to client")
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// write is only called from the connection's writer loop
func (h *WebSocketHandler) write(conn *websocket.Conn, msg WSMessage) error {
	conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
	return conn.WriteJSON(msg)
}

func (h *WebSocketHandler) closeWith(conn *websocket.Conn, code int, text string) {
	deadline := time.Now().Add(h.writeTimeout)
	conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), deadline)
}
