// ABOUTME: Store interface and data types for relay persistence
// ABOUTME: Defines User, Conversation, Message structs and the Store interface

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateEmail is returned when creating a user with an email that is
// already registered
var ErrDuplicateEmail = errors.New("email already registered")

// ErrDuplicateConversation is returned when a conversation with the same
// member pair already exists
var ErrDuplicateConversation = errors.New("conversation already exists")

// User roles
const (
	RoleGuest = "guest"
	RoleAdmin = "admin"
	RoleOwner = "owner"
)

// User represents a directory identity: a guest, an admin operator, or the
// owner. Immutable once issued; looked up by ID.
type User struct {
	ID           string
	FullName     string
	Email        string
	PasswordHash string // empty for guests
	Role         string
	CreatedAt    time.Time
}

// Conversation is a fixed two-party channel between an admin and a user.
// Members never change after creation; only the message sequence grows.
type Conversation struct {
	ID        string
	AdminID   string
	UserID    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsMember reports whether the given user ID is one of the two members.
func (c *Conversation) IsMember(userID string) bool {
	return userID == c.AdminID || userID == c.UserID
}

// OtherMember returns the member that is not the given user ID.
// Returns an empty string if userID is not a member.
func (c *Conversation) OtherMember(userID string) string {
	switch userID {
	case c.AdminID:
		return c.UserID
	case c.UserID:
		return c.AdminID
	default:
		return ""
	}
}

// Message is a single chat message within a conversation. The sender's
// display name is denormalized at write time so history reads need no join.
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	SenderName     string
	Body           string
	SentAt         time.Time
}

// Store defines the interface for user, conversation and message persistence.
// GetConversationByMembers matches on the membership set, so argument order
// does not matter.
type Store interface {
	// Users (directory)
	CreateUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, id string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	ListAdmins(ctx context.Context) ([]*User, error)
	ListUsers(ctx context.Context) ([]*User, error)
	CountUsers(ctx context.Context, role string) (int, error)

	// Conversations
	CreateConversation(ctx context.Context, conv *Conversation) error
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	GetConversationByMembers(ctx context.Context, idA, idB string) (*Conversation, error)
	ListConversationsByMember(ctx context.Context, userID string) ([]*Conversation, error)
	TouchConversation(ctx context.Context, id string, at time.Time) error

	// Messages (append-only)
	AppendMessage(ctx context.Context, msg *Message) error
	ListMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error)

	// Close releases any resources held by the store
	Close() error
}
