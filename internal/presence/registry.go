// ABOUTME: In-memory registry binding identities to their live connections.
// ABOUTME: Linearizable mutations with in-order roster notification on every change.

package presence

import (
	"log/slog"
	"sync"
)

// Conn is a live transport session the relay can push events to.
// Implementations must be safe for concurrent Send calls.
type Conn interface {
	// ID returns the opaque connection handle, unique per transport session.
	ID() string

	// Send pushes a named event with a JSON-serializable payload.
	// Best-effort: an error means the event was not delivered.
	Send(event string, data any) error
}

// Entry is one registry binding: an identity and its live connection.
type Entry struct {
	UserID string
	Conn   Conn
}

// Notifier receives the full post-mutation roster after every registry change.
type Notifier interface {
	RosterChanged(entries []Entry)
}

// Registry maps each identity to at most one live connection. Binding an
// identity that is already bound supersedes the previous connection; the old
// connection is not closed here, that is the transport's job.
type Registry struct {
	// notifyMu serializes mutation+notify pairs so roster snapshots reach
	// the notifier in mutation order. Sends are non-blocking, so holding it
	// across the notifier call cannot stall the registry.
	notifyMu sync.Mutex

	mu       sync.Mutex
	bindings map[string]Conn
	order    []string // user IDs in insertion order, for stable snapshots
	notifier Notifier
	logger   *slog.Logger
}

// NewRegistry creates a registry. The notifier is invoked synchronously,
// once per mutation and in mutation order. Pass nil logger for default.
func NewRegistry(notifier Notifier, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		bindings: make(map[string]Conn),
		notifier: notifier,
		logger:   logger.With("component", "presence"),
	}
}

// Register binds an identity to a connection, replacing any prior binding for
// that identity. Idempotent upsert: registering the same pair again still
// counts as a mutation and rebroadcasts the roster.
func (r *Registry) Register(userID string, conn Conn) {
	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()

	r.mu.Lock()
	if _, bound := r.bindings[userID]; !bound {
		r.order = append(r.order, userID)
	}
	r.bindings[userID] = conn
	snapshot := r.snapshotLocked()
	r.mu.Unlock()

	r.logger.Debug("identity registered",
		"user_id", userID,
		"conn_id", conn.ID(),
		"online", len(snapshot))

	r.changed(snapshot)
}

// Unregister removes every binding held by the given connection. A connection
// may have claimed several identities through repeated registrations; its
// death must not leave any of them pointing at a dead transport. No-op (and no
// broadcast) if the connection holds nothing; a superseded connection no
// longer owns its identity's binding and is likewise a no-op.
func (r *Registry) Unregister(conn Conn) {
	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()

	r.mu.Lock()
	var removed []string
	for userID, bound := range r.bindings {
		if bound.ID() == conn.ID() {
			removed = append(removed, userID)
		}
	}
	if len(removed) == 0 {
		r.mu.Unlock()
		return
	}
	for _, userID := range removed {
		delete(r.bindings, userID)
	}
	kept := r.order[:0]
	for _, userID := range r.order {
		if _, still := r.bindings[userID]; still {
			kept = append(kept, userID)
		}
	}
	r.order = kept
	snapshot := r.snapshotLocked()
	r.mu.Unlock()

	r.logger.Debug("identities unregistered",
		"user_ids", removed,
		"conn_id", conn.ID(),
		"online", len(snapshot))

	r.changed(snapshot)
}

// Lookup returns the live connection bound to an identity, if any.
// Pure read, no side effects.
func (r *Registry) Lookup(userID string) (Conn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.bindings[userID]
	return conn, ok
}

// Snapshot returns all current bindings in insertion order. Callers must not
// rely on the ordering for anything beyond display.
func (r *Registry) Snapshot() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.snapshotLocked()
}

func (r *Registry) snapshotLocked() []Entry {
	entries := make([]Entry, 0, len(r.bindings))
	for _, userID := range r.order {
		entries = append(entries, Entry{UserID: userID, Conn: r.bindings[userID]})
	}
	return entries
}

func (r *Registry) changed(snapshot []Entry) {
	if r.notifier != nil {
		r.notifier.RosterChanged(snapshot)
	}
}
