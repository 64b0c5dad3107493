// ABOUTME: Package documentation for presence
// ABOUTME: Explains the registry/notifier split and broadcast semantics

// Package presence tracks which identities currently hold a live connection.
//
// The Registry is the single source of truth for online state: each identity
// maps to at most one connection, and registering again supersedes the
// previous binding. Every mutation produces a full roster snapshot that is
// handed to a Notifier; the Broadcaster implementation fans that snapshot out
// to every live connection as a getUsers event.
//
// Presence is deliberately ephemeral. Nothing here touches the store, and a
// process restart starts from an empty roster.
package presence
