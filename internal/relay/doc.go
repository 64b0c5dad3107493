// Package relay implements the message-routing core of the support chat:
// admin assignment, membership authorization, and live delivery.
//
// # Overview
//
// The relay package sits between the transport handlers (WebSocket events,
// REST endpoints) and the durable store. It owns the three decisions that
// make a support chat work:
//
//   - Assigner: which admin handles a new guest conversation
//   - Gate: whether a claimed sender may post into a conversation
//   - Router: who receives a message right now, and what is persisted
//
// # Assigner
//
// AssignAdmin picks uniformly at random among the currently registered
// admins. Selection is stateless: there is no affinity across calls, random
// choice spreads load without a round-robin cursor. The random source is
// injected so tests can fix the seed:
//
//	a := relay.NewAssigner(store, store, rng.Intn, logger)
//	conv, err := a.AssignAdmin(ctx, userID)
//
// Assignment is idempotent per member pair: if a conversation between the
// chosen admin and the user already exists it is returned unchanged, so a
// guest mashing "start chat" never multiplies conversations.
//
// # Gate
//
// Authorize loads the conversation and checks the sender is one of its two
// members. This is the only defense on the unauthenticated socket send path,
// so it always runs before any persistence or delivery.
//
// # Router
//
// Route orders its steps around one rule: durability precedes delivery.
//
//  1. Authorize the sender (no side effects on failure)
//  2. Resolve the sender's display name (placeholder on directory failure)
//  3. Persist the message
//  4. Bump the conversation's update time
//  5. Re-resolve live connections for sender and receiver
//  6. Emit getMessage to whichever of the two is connected
//
// Connections are resolved at emission time, never cached across the
// persistence call: a recipient that disconnects while the message is being
// written is simply offline, not an error. If neither party is connected the
// message stays durable and no event is sent; offline parties fetch history
// through the REST read path.
package relay
