// ABOUTME: Membership check guarding the message path
// ABOUTME: Verifies a claimed sender actually belongs to the target conversation

package relay

import (
	"context"
	"errors"
	"fmt"

	"github.com/parleychat/relay/internal/store"
)

// Gate authorizes senders against conversation membership. The socket send
// channel is unauthenticated, so this check must run before any persistence
// or delivery.
type Gate struct {
	store ConversationStore
}

// NewGate creates a membership gate backed by the given store.
func NewGate(convStore ConversationStore) *Gate {
	return &Gate{store: convStore}
}

// Authorize loads the conversation and verifies senderID is one of its two
// members. Returns ErrConversationNotFound or ErrNotAMember.
func (g *Gate) Authorize(ctx context.Context, senderID, conversationID string) (*store.Conversation, error) {
	conv, err := g.store.GetConversation(ctx, conversationID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading conversation: %w", err)
	}

	if !conv.IsMember(senderID) {
		return nil, ErrNotAMember
	}
	return conv, nil
}
