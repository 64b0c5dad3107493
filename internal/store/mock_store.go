// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu            sync.RWMutex
	users         map[string]*User         // keyed by user ID
	usersByEmail  map[string]string        // email -> user ID
	conversations map[string]*Conversation // keyed by conversation ID
	convByMembers map[string]string        // "lo|hi" -> conversation ID
	messages      map[string][]*Message    // keyed by conversation ID

	// FailAppend, when set, is returned from AppendMessage to simulate an
	// unavailable store.
	FailAppend error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		users:         make(map[string]*User),
		usersByEmail:  make(map[string]string),
		conversations: make(map[string]*Conversation),
		convByMembers: make(map[string]string),
		messages:      make(map[string][]*Message),
	}
}

// CreateUser stores a new user.
func (m *MockStore) CreateUser(ctx context.Context, user *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.usersByEmail[user.Email]; exists {
		return ErrDuplicateEmail
	}

	u := *user
	m.users[u.ID] = &u
	m.usersByEmail[u.Email] = u.ID
	return nil
}

// GetUser retrieves a user by ID.
func (m *MockStore) GetUser(ctx context.Context, id string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *u
	return &result, nil
}

// GetUserByEmail retrieves a user by email.
func (m *MockStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.usersByEmail[email]
	if !ok {
		return nil, ErrNotFound
	}
	result := *m.users[id]
	return &result, nil
}

// ListAdmins returns all users with the admin role.
func (m *MockStore) ListAdmins(ctx context.Context) ([]*User, error) {
	return m.listWhere(func(u *User) bool { return u.Role == RoleAdmin })
}

// ListUsers returns all non-admin users.
func (m *MockStore) ListUsers(ctx context.Context) ([]*User, error) {
	return m.listWhere(func(u *User) bool { return u.Role != RoleAdmin })
}

func (m *MockStore) listWhere(keep func(*User) bool) ([]*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var users []*User
	for _, u := range m.users {
		if keep(u) {
			result := *u
			users = append(users, &result)
		}
	}
	// Stable order for tests
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

// CountUsers returns the number of users with the given role (all when empty).
func (m *MockStore) CountUsers(ctx context.Context, role string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if role == "" {
		return len(m.users), nil
	}
	count := 0
	for _, u := range m.users {
		if u.Role == role {
			count++
		}
	}
	return count, nil
}

// CreateConversation stores a new conversation.
func (m *MockStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	lo, hi := memberPair(conv.AdminID, conv.UserID)
	key := lo + "|" + hi
	if _, exists := m.convByMembers[key]; exists {
		return ErrDuplicateConversation
	}

	c := *conv
	m.conversations[c.ID] = &c
	m.convByMembers[key] = c.ID
	return nil
}

// GetConversation retrieves a conversation by ID.
func (m *MockStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *c
	return &result, nil
}

// GetConversationByMembers retrieves the conversation for the member set.
func (m *MockStore) GetConversationByMembers(ctx context.Context, idA, idB string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	lo, hi := memberPair(idA, idB)
	id, ok := m.convByMembers[lo+"|"+hi]
	if !ok {
		return nil, ErrNotFound
	}
	result := *m.conversations[id]
	return &result, nil
}

// ListConversationsByMember returns conversations the user belongs to.
func (m *MockStore) ListConversationsByMember(ctx context.Context, userID string) ([]*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var convs []*Conversation
	for _, c := range m.conversations {
		if c.IsMember(userID) {
			result := *c
			convs = append(convs, &result)
		}
	}
	sort.Slice(convs, func(i, j int) bool { return convs[i].UpdatedAt.After(convs[j].UpdatedAt) })
	return convs, nil
}

// TouchConversation bumps updated_at.
func (m *MockStore) TouchConversation(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.conversations[id]
	if !ok {
		return ErrNotFound
	}
	c.UpdatedAt = at
	return nil
}

// AppendMessage stores a message.
func (m *MockStore) AppendMessage(ctx context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailAppend != nil {
		return m.FailAppend
	}

	message := *msg
	m.messages[message.ConversationID] = append(m.messages[message.ConversationID], &message)
	return nil
}

// ListMessages returns messages for a conversation in insertion order.
func (m *MockStore) ListMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msgs := m.messages[conversationID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[:limit]
	}
	result := make([]*Message, len(msgs))
	for i, msg := range msgs {
		c := *msg
		result[i] = &c
	}
	return result, nil
}

// Close is a no-op for the mock.
func (m *MockStore) Close() error {
	return nil
}
