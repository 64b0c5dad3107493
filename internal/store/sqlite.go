// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides user/conversation/message persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// timeFormat is how timestamps are stored. Fixed-width fractional seconds so
// lexical order matches time order; RFC3339Nano trims trailing zeros and
// would sort "00:00:00.5Z" after "00:00:00.51Z".
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist.
// Conversations carry a normalized member pair (member_lo < member_hi) with a
// unique index, so duplicate conversations for the same pair cannot be created
// at the storage layer.
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS users (
			id            TEXT PRIMARY KEY,
			full_name     TEXT NOT NULL,
			email         TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL DEFAULT '',
			role          TEXT NOT NULL DEFAULT 'guest',
			created_at    TEXT NOT NULL,

			CHECK (role IN ('guest', 'admin', 'owner'))
		);

		CREATE INDEX IF NOT EXISTS idx_users_role ON users(role);

		CREATE TABLE IF NOT EXISTS conversations (
			id         TEXT PRIMARY KEY,
			admin_id   TEXT NOT NULL REFERENCES users(id),
			user_id    TEXT NOT NULL REFERENCES users(id),
			member_lo  TEXT NOT NULL,
			member_hi  TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_conversations_members
			ON conversations(member_lo, member_hi);

		CREATE TABLE IF NOT EXISTS messages (
			id              TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL REFERENCES conversations(id),
			sender_id       TEXT NOT NULL,
			sender_name     TEXT NOT NULL,
			body            TEXT NOT NULL,
			sent_at         TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation
			ON messages(conversation_id, sent_at);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}
	return nil
}

// memberPair normalizes two user IDs into a (lo, hi) pair so membership
// lookups are order-independent.
func memberPair(idA, idB string) (string, string) {
	if strings.Compare(idA, idB) <= 0 {
		return idA, idB
	}
	return idB, idA
}

// CreateUser inserts a new user.
func (s *SQLiteStore) CreateUser(ctx context.Context, user *User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, full_name, email, password_hash, role, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		user.ID, user.FullName, user.Email, user.PasswordHash, user.Role,
		user.CreatedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("inserting user: %w", err)
	}
	return nil
}

// GetUser retrieves a user by ID.
func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, full_name, email, password_hash, role, created_at
		FROM users WHERE id = ?`, id)
	return scanUser(row)
}

// GetUserByEmail retrieves a user by email address.
func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, full_name, email, password_hash, role, created_at
		FROM users WHERE email = ?`, email)
	return scanUser(row)
}

// ListAdmins returns all users with the admin role.
func (s *SQLiteStore) ListAdmins(ctx context.Context) ([]*User, error) {
	return s.listUsersWhere(ctx, `role = 'admin'`)
}

// ListUsers returns all non-admin users, for the admin UI.
func (s *SQLiteStore) ListUsers(ctx context.Context) ([]*User, error) {
	return s.listUsersWhere(ctx, `role != 'admin'`)
}

func (s *SQLiteStore) listUsersWhere(ctx context.Context, where string) ([]*User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, full_name, email, password_hash, role, created_at
		FROM users WHERE `+where+` ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("querying users: %w", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// CountUsers returns the number of users with the given role, or all users
// when role is empty.
func (s *SQLiteStore) CountUsers(ctx context.Context, role string) (int, error) {
	query := `SELECT COUNT(*) FROM users`
	args := []any{}
	if role != "" {
		query += ` WHERE role = ?`
		args = append(args, role)
	}

	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting users: %w", err)
	}
	return count, nil
}

// CreateConversation inserts a new conversation. Returns
// ErrDuplicateConversation if one already exists for the same member pair.
func (s *SQLiteStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	lo, hi := memberPair(conv.AdminID, conv.UserID)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, admin_id, user_id, member_lo, member_hi, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		conv.ID, conv.AdminID, conv.UserID, lo, hi,
		conv.CreatedAt.UTC().Format(timeFormat),
		conv.UpdatedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateConversation
		}
		return fmt.Errorf("inserting conversation: %w", err)
	}
	return nil
}

// GetConversation retrieves a conversation by ID.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, admin_id, user_id, created_at, updated_at
		FROM conversations WHERE id = ?`, id)
	return scanConversation(row)
}

// GetConversationByMembers retrieves the conversation whose membership set is
// exactly {idA, idB}, regardless of argument order.
func (s *SQLiteStore) GetConversationByMembers(ctx context.Context, idA, idB string) (*Conversation, error) {
	lo, hi := memberPair(idA, idB)
	row := s.db.QueryRowContext(ctx, `
		SELECT id, admin_id, user_id, created_at, updated_at
		FROM conversations WHERE member_lo = ? AND member_hi = ?`, lo, hi)
	return scanConversation(row)
}

// ListConversationsByMember returns all conversations the given user is a
// member of, most recently updated first.
func (s *SQLiteStore) ListConversationsByMember(ctx context.Context, userID string) ([]*Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, admin_id, user_id, created_at, updated_at
		FROM conversations
		WHERE admin_id = ? OR user_id = ?
		ORDER BY updated_at DESC`, userID, userID)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	var convs []*Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

// TouchConversation bumps the conversation's updated_at timestamp.
func (s *SQLiteStore) TouchConversation(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE conversations SET updated_at = ? WHERE id = ?`,
		at.UTC().Format(timeFormat), id)
	if err != nil {
		return fmt.Errorf("updating conversation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking update result: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendMessage persists a message. The referenced conversation must exist.
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *Message) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, sender_id, sender_name, body, sent_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ConversationID, msg.SenderID, msg.SenderName, msg.Body,
		msg.SentAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}
	return nil
}

// ListMessages returns messages for a conversation in insertion order.
// A limit of 0 means no limit.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error) {
	query := `
		SELECT id, conversation_id, sender_id, sender_name, body, sent_at
		FROM messages WHERE conversation_id = ? ORDER BY sent_at, id`
	args := []any{conversationID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		var m Message
		var sentAt string
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.SenderName, &m.Body, &sentAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		m.SentAt, err = time.Parse(timeFormat, sentAt)
		if err != nil {
			return nil, fmt.Errorf("parsing message timestamp: %w", err)
		}
		msgs = append(msgs, &m)
	}
	return msgs, rows.Err()
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// scanner abstracts sql.Row and sql.Rows for the scan helpers.
type scanner interface {
	Scan(dest ...any) error
}

func scanUser(row scanner) (*User, error) {
	var u User
	var createdAt string
	err := row.Scan(&u.ID, &u.FullName, &u.Email, &u.PasswordHash, &u.Role, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning user: %w", err)
	}
	u.CreatedAt, err = time.Parse(timeFormat, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing user timestamp: %w", err)
	}
	return &u, nil
}

func scanConversation(row scanner) (*Conversation, error) {
	var c Conversation
	var createdAt, updatedAt string
	err := row.Scan(&c.ID, &c.AdminID, &c.UserID, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning conversation: %w", err)
	}
	if c.CreatedAt, err = time.Parse(timeFormat, createdAt); err != nil {
		return nil, fmt.Errorf("parsing conversation timestamp: %w", err)
	}
	if c.UpdatedAt, err = time.Parse(timeFormat, updatedAt); err != nil {
		return nil, fmt.Errorf("parsing conversation timestamp: %w", err)
	}
	return &c, nil
}

// isUniqueViolation reports whether err is a SQLite unique constraint error.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
