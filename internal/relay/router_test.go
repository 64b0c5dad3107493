// ABOUTME: Tests for the message routing pipeline
// ABOUTME: Gate-then-persist-then-deliver ordering and offline tolerance

package relay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleychat/relay/internal/presence"
	"github.com/parleychat/relay/internal/store"
)

// fakeConn records events pushed to it.
type fakeConn struct {
	id string

	mu     sync.Mutex
	events []MessageEvent
	fail   error
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(event string, data any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail != nil {
		return c.fail
	}
	if msg, ok := data.(MessageEvent); ok {
		c.events = append(c.events, msg)
	}
	return nil
}

func (c *fakeConn) received() []MessageEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]MessageEvent, len(c.events))
	copy(out, c.events)
	return out
}

// fakeLookup is a mutable connection table.
type fakeLookup struct {
	mu    sync.Mutex
	conns map[string]*fakeConn
}

func newFakeLookup() *fakeLookup {
	return &fakeLookup{conns: make(map[string]*fakeConn)}
}

func (l *fakeLookup) bind(userID string) *fakeConn {
	l.mu.Lock()
	defer l.mu.Unlock()
	conn := &fakeConn{id: "conn-" + userID}
	l.conns[userID] = conn
	return conn
}

func (l *fakeLookup) unbind(userID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.conns, userID)
}

func (l *fakeLookup) Lookup(userID string) (presence.Conn, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	conn, ok := l.conns[userID]
	return conn, ok
}

func seedUser(t *testing.T, st *store.MockStore, id, name, role string) {
	t.Helper()
	err := st.CreateUser(context.Background(), &store.User{
		ID:        id,
		FullName:  name,
		Email:     id + "@example.com",
		Role:      role,
		CreatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
}

func newTestRouter(st *store.MockStore, lookup *fakeLookup) *Router {
	return NewRouter(NewGate(st), st, st, lookup, nil)
}

func TestRouteDeliversToBothMembers(t *testing.T) {
	st := store.NewMockStore()
	seedUser(t, st, "guest-1", "Grace Guest", store.RoleGuest)
	seedConversation(t, st, "conv-1", "admin-1", "guest-1")

	lookup := newFakeLookup()
	sender := lookup.bind("guest-1")
	receiver := lookup.bind("admin-1")

	r := newTestRouter(st, lookup)

	msg, err := r.Route(context.Background(), "guest-1", "admin-1", "hello", "conv-1")
	require.NoError(t, err)
	assert.Equal(t, "Grace Guest", msg.SenderName)
	assert.Equal(t, "conv-1", msg.ConversationID)

	for _, conn := range []*fakeConn{sender, receiver} {
		events := conn.received()
		require.Len(t, events, 1)
		assert.Equal(t, "guest-1", events[0].SenderID)
		assert.Equal(t, "Grace Guest", events[0].SenderName)
		assert.Equal(t, "hello", events[0].Body)
		assert.Equal(t, "conv-1", events[0].ConversationID)
	}

	stored, err := st.ListMessages(context.Background(), "conv-1", 0)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "hello", stored[0].Body)
}

func TestRoutePersistsForOfflineReceiver(t *testing.T) {
	st := store.NewMockStore()
	seedUser(t, st, "guest-1", "Grace Guest", store.RoleGuest)
	seedConversation(t, st, "conv-1", "admin-1", "guest-1")

	lookup := newFakeLookup()
	sender := lookup.bind("guest-1")
	// admin-1 is offline

	r := newTestRouter(st, lookup)

	_, err := r.Route(context.Background(), "guest-1", "admin-1", "anyone there?", "conv-1")
	require.NoError(t, err, "offline receiver must not fail the send")

	assert.Len(t, sender.received(), 1, "sender echo still happens")

	stored, err := st.ListMessages(context.Background(), "conv-1", 0)
	require.NoError(t, err)
	require.Len(t, stored, 1, "message is durable regardless of delivery")
}

func TestRouteRejectsNonMember(t *testing.T) {
	st := store.NewMockStore()
	seedUser(t, st, "intruder", "Mallory", store.RoleGuest)
	seedConversation(t, st, "conv-1", "admin-1", "guest-1")

	lookup := newFakeLookup()
	admin := lookup.bind("admin-1")

	r := newTestRouter(st, lookup)

	_, err := r.Route(context.Background(), "intruder", "admin-1", "let me in", "conv-1")
	assert.ErrorIs(t, err, ErrNotAMember)

	stored, listErr := st.ListMessages(context.Background(), "conv-1", 0)
	require.NoError(t, listErr)
	assert.Empty(t, stored, "rejected message must leave no trace")
	assert.Empty(t, admin.received())
}

func TestRouteValidatesInput(t *testing.T) {
	st := store.NewMockStore()
	r := newTestRouter(st, newFakeLookup())
	ctx := context.Background()

	tests := []struct {
		name           string
		senderID       string
		body           string
		conversationID string
	}{
		{"empty sender", "", "hi", "conv-1"},
		{"empty body", "guest-1", "", "conv-1"},
		{"empty conversation", "guest-1", "hi", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Route(ctx, tt.senderID, "admin-1", tt.body, tt.conversationID)
			assert.ErrorIs(t, err, ErrInvalidMessage)
		})
	}
}

func TestRoutePlaceholderNameOnDirectoryMiss(t *testing.T) {
	st := store.NewMockStore()
	// guest-1 is a member but was never written to the directory.
	seedConversation(t, st, "conv-1", "admin-1", "guest-1")

	lookup := newFakeLookup()
	receiver := lookup.bind("admin-1")

	r := newTestRouter(st, lookup)

	msg, err := r.Route(context.Background(), "guest-1", "admin-1", "hello", "conv-1")
	require.NoError(t, err, "a name lookup failure must not block the message")
	assert.Equal(t, "Unknown", msg.SenderName)

	events := receiver.received()
	require.Len(t, events, 1)
	assert.Equal(t, "Unknown", events[0].SenderName)
}

func TestRoutePersistenceFailurePropagates(t *testing.T) {
	st := store.NewMockStore()
	seedUser(t, st, "guest-1", "Grace Guest", store.RoleGuest)
	seedConversation(t, st, "conv-1", "admin-1", "guest-1")
	st.FailAppend = errors.New("disk full")

	lookup := newFakeLookup()
	sender := lookup.bind("guest-1")
	receiver := lookup.bind("admin-1")

	r := newTestRouter(st, lookup)

	_, err := r.Route(context.Background(), "guest-1", "admin-1", "hello", "conv-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, st.FailAppend)

	assert.Empty(t, sender.received(), "nothing is delivered when persistence fails")
	assert.Empty(t, receiver.received())
}

// disconnectOnAppend unbinds a user while the message is being written,
// modelling a client that drops mid-persist.
type disconnectOnAppend struct {
	*store.MockStore
	lookup *fakeLookup
	userID string
}

func (d *disconnectOnAppend) AppendMessage(ctx context.Context, msg *store.Message) error {
	d.lookup.unbind(d.userID)
	return d.MockStore.AppendMessage(ctx, msg)
}

func TestRouteReceiverDisconnectsDuringPersist(t *testing.T) {
	mock := store.NewMockStore()
	seedUser(t, mock, "guest-1", "Grace Guest", store.RoleGuest)
	seedConversation(t, mock, "conv-1", "admin-1", "guest-1")

	lookup := newFakeLookup()
	lookup.bind("guest-1")
	receiver := lookup.bind("admin-1")

	st := &disconnectOnAppend{MockStore: mock, lookup: lookup, userID: "admin-1"}
	r := NewRouter(NewGate(st), mock, st, lookup, nil)

	_, err := r.Route(context.Background(), "guest-1", "admin-1", "hello", "conv-1")
	require.NoError(t, err)

	// Connections are resolved after the write; the receiver was gone by then.
	assert.Empty(t, receiver.received())

	stored, err := mock.ListMessages(context.Background(), "conv-1", 0)
	require.NoError(t, err)
	require.Len(t, stored, 1)
}

func TestRouteSelfMessageDeliveredOnce(t *testing.T) {
	st := store.NewMockStore()
	seedUser(t, st, "guest-1", "Grace Guest", store.RoleGuest)
	seedConversation(t, st, "conv-1", "admin-1", "guest-1")

	lookup := newFakeLookup()
	sender := lookup.bind("guest-1")

	r := newTestRouter(st, lookup)

	_, err := r.Route(context.Background(), "guest-1", "guest-1", "note to self", "conv-1")
	require.NoError(t, err)
	assert.Len(t, sender.received(), 1, "sender and receiver being the same means one delivery")
}

func TestRouteFailedSendDoesNotFailCall(t *testing.T) {
	st := store.NewMockStore()
	seedUser(t, st, "guest-1", "Grace Guest", store.RoleGuest)
	seedConversation(t, st, "conv-1", "admin-1", "guest-1")

	lookup := newFakeLookup()
	sender := lookup.bind("guest-1")
	sender.fail = errors.New("queue full")

	r := newTestRouter(st, lookup)

	_, err := r.Route(context.Background(), "guest-1", "admin-1", "hello", "conv-1")
	require.NoError(t, err, "delivery is best-effort once the message is durable")
}

func TestRouteTouchesConversation(t *testing.T) {
	st := store.NewMockStore()
	seedUser(t, st, "guest-1", "Grace Guest", store.RoleGuest)

	created := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, st.CreateConversation(context.Background(), &store.Conversation{
		ID:        "conv-1",
		AdminID:   "admin-1",
		UserID:    "guest-1",
		CreatedAt: created,
		UpdatedAt: created,
	}))

	r := newTestRouter(st, newFakeLookup())

	msg, err := r.Route(context.Background(), "guest-1", "admin-1", "hello", "conv-1")
	require.NoError(t, err)

	conv, err := st.GetConversation(context.Background(), "conv-1")
	require.NoError(t, err)
	assert.Equal(t, msg.SentAt, conv.UpdatedAt)
}
