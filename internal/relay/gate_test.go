// ABOUTME: Tests for the membership gate
// ABOUTME: Members pass, strangers and unknown conversations are rejected

package relay

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleychat/relay/internal/store"
)

func seedConversation(t *testing.T, st *store.MockStore, id, adminID, userID string) {
	t.Helper()
	now := time.Now().UTC()
	err := st.CreateConversation(context.Background(), &store.Conversation{
		ID:        id,
		AdminID:   adminID,
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
	})
	require.NoError(t, err)
}

func TestGateAuthorizeMember(t *testing.T) {
	st := store.NewMockStore()
	seedConversation(t, st, "conv-1", "admin-1", "guest-1")
	g := NewGate(st)

	for _, member := range []string{"admin-1", "guest-1"} {
		conv, err := g.Authorize(context.Background(), member, "conv-1")
		require.NoError(t, err, "member %s", member)
		assert.Equal(t, "conv-1", conv.ID)
	}
}

func TestGateAuthorizeStranger(t *testing.T) {
	st := store.NewMockStore()
	seedConversation(t, st, "conv-1", "admin-1", "guest-1")
	g := NewGate(st)

	_, err := g.Authorize(context.Background(), "intruder", "conv-1")
	assert.ErrorIs(t, err, ErrNotAMember)
}

func TestGateAuthorizeUnknownConversation(t *testing.T) {
	g := NewGate(store.NewMockStore())

	_, err := g.Authorize(context.Background(), "guest-1", "no-such-conv")
	assert.ErrorIs(t, err, ErrConversationNotFound)
}
