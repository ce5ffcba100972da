// Package builtins provides in-process agents that ship with mcp-dispatch.
//
// # Notes agent
//
// Notes is a per-caller key/value notebook backed by store.NoteStore:
//
//   - set {key, value}: store or replace a note
//   - get {key}: read a note (NOT_FOUND when missing)
//   - list {}: {keys, count} in key order
//   - delete {key}: remove a note (NOT_FOUND when missing)
//
// Notes belong to the verified caller's subject, or to "anonymous" when the
// service runs without authentication. When authentication is on every action
// is marked Authenticated.
//
// Over WebSocket, a notes.watch message answers with a notes.keys frame, and
// every set or delete is broadcast to all clients as notes.changed.
package builtins
