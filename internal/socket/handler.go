// ABOUTME: WebSocket endpoint handling addUser/sendMessage events per connection
// ABOUTME: Disconnects unregister the connection and rebroadcast presence

package socket

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/parleychat/relay/internal/presence"
	"github.com/parleychat/relay/internal/relay"
)

// Inbound event names.
const (
	eventAddUser     = "addUser"
	eventSendMessage = "sendMessage"
)

// sendMessagePayload is the inbound sendMessage event body.
type sendMessagePayload struct {
	SenderID       string `json:"senderId"`
	ReceiverID     string `json:"receiverId"`
	Body           string `json:"body"`
	ConversationID string `json:"conversationId"`
}

// Handler upgrades HTTP requests to WebSocket sessions and drives the
// per-connection event loop.
type Handler struct {
	registry *presence.Registry
	router   *relay.Router
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewHandler creates the WebSocket handler. Pass nil logger for default.
func NewHandler(registry *presence.Registry, router *relay.Router, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		registry: registry,
		router:   router,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Browser clients are served from a separate origin.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger.With("component", "socket"),
	}
}

// ServeHTTP upgrades the request and runs the read loop until the transport
// disconnects. Termination always unregisters the connection; there is no
// path back from a closed session.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	conn := NewConn(uuid.New().String(), ws, h.logger)
	go conn.WritePump()

	h.logger.Debug("connection opened", "conn_id", conn.ID())

	defer func() {
		h.registry.Unregister(conn)
		conn.Close()
		h.logger.Debug("connection closed", "conn_id", conn.ID())
	}()

	for {
		_, frame, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("read failed", "conn_id", conn.ID(), "error", err)
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(frame, &env); err != nil {
			h.logger.Warn("malformed frame", "conn_id", conn.ID(), "error", err)
			continue
		}

		h.handleEvent(r.Context(), conn, env)
	}
}

// handleEvent dispatches one inbound envelope. Failures on the send path are
// logged server-side only; this channel has no error event back to the
// sender, the REST send path carries structured errors instead.
func (h *Handler) handleEvent(ctx context.Context, conn *Conn, env Envelope) {
	switch env.Event {
	case eventAddUser:
		var userID string
		if err := json.Unmarshal(env.Data, &userID); err != nil || userID == "" {
			h.logger.Warn("addUser with missing user id", "conn_id", conn.ID())
			return
		}
		h.registry.Register(userID, conn)

	case eventSendMessage:
		var p sendMessagePayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			h.logger.Warn("malformed sendMessage payload", "conn_id", conn.ID(), "error", err)
			return
		}
		if _, err := h.router.Route(ctx, p.SenderID, p.ReceiverID, p.Body, p.ConversationID); err != nil {
			h.logger.Warn("send failed",
				"conn_id", conn.ID(),
				"sender_id", p.SenderID,
				"conversation_id", p.ConversationID,
				"error", err)
		}

	default:
		h.logger.Debug("unknown event", "conn_id", conn.ID(), "event", env.Event)
	}
}
