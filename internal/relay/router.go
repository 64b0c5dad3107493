// ABOUTME: Validates, persists and delivers messages to live connections
// ABOUTME: Durability precedes delivery; connections are re-resolved at emission

package relay

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/parleychat/relay/internal/presence"
	"github.com/parleychat/relay/internal/store"
)

// EventGetMessage is the outbound event delivering a single message.
const EventGetMessage = "getMessage"

// placeholderSenderName is used when the directory lookup for the sender's
// display name fails after the gate has already passed. The message still
// goes out; only the metadata is degraded.
const placeholderSenderName = "Unknown"

// MessageEvent is the wire payload of a getMessage delivery.
type MessageEvent struct {
	SenderID       string `json:"senderId"`
	SenderName     string `json:"senderName"`
	Body           string `json:"body"`
	ConversationID string `json:"conversationId"`
	ReceiverID     string `json:"receiverId"`
}

// ConnectionLookup resolves the live connection for an identity at the moment
// of emission.
type ConnectionLookup interface {
	Lookup(userID string) (presence.Conn, bool)
}

// Router validates, persists, and delivers messages to whichever of
// {sender, receiver} currently holds a live connection.
type Router struct {
	gate      *Gate
	directory Directory
	store     ConversationStore
	conns     ConnectionLookup
	logger    *slog.Logger
}

// NewRouter creates a message router. Pass nil logger for default.
func NewRouter(gate *Gate, directory Directory, convStore ConversationStore, conns ConnectionLookup, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		gate:      gate,
		directory: directory,
		store:     convStore,
		conns:     conns,
		logger:    logger.With("component", "router"),
	}
}

// Route runs the full send path for one message and returns the persisted
// message. Gate failures abort with no side effects; persistence failures
// propagate; delivery is best-effort and never fails the call.
func (r *Router) Route(ctx context.Context, senderID, receiverID, body, conversationID string) (*store.Message, error) {
	if senderID == "" || conversationID == "" {
		return nil, fmt.Errorf("%w: sender and conversation are required", ErrInvalidMessage)
	}
	if body == "" {
		return nil, fmt.Errorf("%w: empty body", ErrInvalidMessage)
	}

	// 1. Membership gate, before anything touches the store.
	conv, err := r.gate.Authorize(ctx, senderID, conversationID)
	if err != nil {
		return nil, err
	}

	// 2. Denormalize the sender's display name. A directory failure here
	// degrades to a placeholder; the message itself is not aborted.
	senderName := placeholderSenderName
	if sender, err := r.directory.GetUser(ctx, senderID); err == nil {
		senderName = sender.FullName
	} else {
		r.logger.Warn("sender name lookup failed, using placeholder",
			"sender_id", senderID,
			"error", err)
	}

	// 3. Persist before delivery. A crash after this point loses only the
	// live notification, never the message.
	msg := &store.Message{
		ID:             uuid.New().String(),
		ConversationID: conv.ID,
		SenderID:       senderID,
		SenderName:     senderName,
		Body:           body,
		SentAt:         time.Now().UTC(),
	}
	if err := r.store.AppendMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("persisting message: %w", err)
	}

	// 4. The message is durable; a failed conversation bump is logged,
	// not surfaced.
	if err := r.store.TouchConversation(ctx, conv.ID, msg.SentAt); err != nil {
		r.logger.Warn("conversation update failed after message persisted",
			"conversation_id", conv.ID,
			"error", err)
	}

	// 5+6. Resolve connections now, after the store call returned. Anyone
	// who disconnected while the message was being written is offline.
	event := MessageEvent{
		SenderID:       senderID,
		SenderName:     senderName,
		Body:           body,
		ConversationID: conv.ID,
		ReceiverID:     receiverID,
	}
	r.deliver(senderID, event)
	if receiverID != "" && receiverID != senderID {
		r.deliver(receiverID, event)
	}

	return msg, nil
}

// deliver pushes the event to userID's live connection, if there is one.
// Offline recipients and failed sends are equivalent: the message is already
// durable and no retry is attempted.
func (r *Router) deliver(userID string, event MessageEvent) {
	conn, ok := r.conns.Lookup(userID)
	if !ok {
		return
	}
	if err := conn.Send(EventGetMessage, event); err != nil {
		r.logger.Debug("live delivery failed",
			"user_id", userID,
			"conn_id", conn.ID(),
			"error", err)
	}
}
