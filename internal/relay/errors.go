// ABOUTME: Sentinel errors shared by the relay core
// ABOUTME: Matched with errors.Is at the transport boundaries

package relay

import "errors"

var (
	// ErrNoAdminAvailable means no identity with the admin role exists.
	ErrNoAdminAvailable = errors.New("no admin available")

	// ErrConversationNotFound means the target conversation does not exist.
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrNotAMember means the claimed sender is not a member of the
	// target conversation.
	ErrNotAMember = errors.New("sender is not a conversation member")

	// ErrInvalidMessage means a required message field is missing.
	ErrInvalidMessage = errors.New("invalid message")
)
