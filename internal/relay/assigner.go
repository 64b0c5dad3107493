// ABOUTME: Assigns admins to guest conversations with random load spreading
// ABOUTME: Dedupes by membership set so repeated assignment is idempotent

package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/parleychat/relay/internal/store"
)

// Directory is the identity-lookup surface the relay core consumes.
type Directory interface {
	GetUser(ctx context.Context, id string) (*store.User, error)
	ListAdmins(ctx context.Context) ([]*store.User, error)
}

// ConversationStore is what the relay core needs from persistence.
type ConversationStore interface {
	CreateConversation(ctx context.Context, conv *store.Conversation) error
	GetConversation(ctx context.Context, id string) (*store.Conversation, error)
	GetConversationByMembers(ctx context.Context, idA, idB string) (*store.Conversation, error)
	TouchConversation(ctx context.Context, id string, at time.Time) error
	AppendMessage(ctx context.Context, msg *store.Message) error
}

// PickFunc selects an index in [0, n). Injected so tests can fix the seed.
type PickFunc func(n int) int

// Assigner pairs guests with admin operators. Each call selects
// independently; there is no stickiness across assignments.
type Assigner struct {
	directory Directory
	store     ConversationStore
	pick      PickFunc
	logger    *slog.Logger
}

// NewAssigner creates an assigner. Pass nil pick for an unseeded default,
// nil logger for the process default.
func NewAssigner(directory Directory, convStore ConversationStore, pick PickFunc, logger *slog.Logger) *Assigner {
	if pick == nil {
		pick = rand.New(rand.NewSource(time.Now().UnixNano())).Intn
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Assigner{
		directory: directory,
		store:     convStore,
		pick:      pick,
		logger:    logger.With("component", "assigner"),
	}
}

// AssignAdmin picks a random admin for the user and returns the conversation
// between them, creating it if it does not exist. Returns ErrNoAdminAvailable
// when the admin pool is empty.
func (a *Assigner) AssignAdmin(ctx context.Context, userID string) (*store.Conversation, error) {
	admins, err := a.directory.ListAdmins(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing admins: %w", err)
	}
	if len(admins) == 0 {
		return nil, ErrNoAdminAvailable
	}

	admin := admins[a.pick(len(admins))]

	existing, err := a.store.GetConversationByMembers(ctx, admin.ID, userID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("looking up conversation: %w", err)
	}

	now := time.Now().UTC()
	conv := &store.Conversation{
		ID:        uuid.New().String(),
		AdminID:   admin.ID,
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := a.store.CreateConversation(ctx, conv); err != nil {
		// A concurrent assignment for the same pair may have won the insert.
		if errors.Is(err, store.ErrDuplicateConversation) {
			return a.store.GetConversationByMembers(ctx, admin.ID, userID)
		}
		return nil, fmt.Errorf("creating conversation: %w", err)
	}

	a.logger.Info("conversation assigned",
		"conversation_id", conv.ID,
		"admin_id", admin.ID,
		"user_id", userID)

	return conv, nil
}
