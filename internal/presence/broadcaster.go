// ABOUTME: Roster fan-out for cross-client presence awareness
// ABOUTME: Pushes the full getUsers snapshot to every live connection on each change

package presence

import (
	"log/slog"
)

// EventGetUsers is the outbound event carrying the full presence roster.
const EventGetUsers = "getUsers"

// RosterEntry is the wire form of one online identity.
type RosterEntry struct {
	UserID string `json:"userId"`
	ConnID string `json:"connectionId"`
}

// Broadcaster emits the complete roster to every live connection whenever the
// registry changes. Deliberately O(connections) per mutation: clients assume
// each getUsers event is the full current roster, never a diff.
type Broadcaster struct {
	logger *slog.Logger
}

// NewBroadcaster creates a broadcaster. Pass nil logger for default.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		logger: logger.With("component", "broadcaster"),
	}
}

// RosterChanged implements Notifier. It sends the roster to each connection
// in the snapshot; a failed send is logged and skipped, never retried.
func (b *Broadcaster) RosterChanged(entries []Entry) {
	roster := make([]RosterEntry, len(entries))
	for i, e := range entries {
		roster[i] = RosterEntry{UserID: e.UserID, ConnID: e.Conn.ID()}
	}

	for _, e := range entries {
		if err := e.Conn.Send(EventGetUsers, roster); err != nil {
			b.logger.Debug("dropped roster update",
				"user_id", e.UserID,
				"conn_id", e.Conn.ID(),
				"error", err)
		}
	}
}
