// Package access implements the access decision flow: serialise on the
// door's lock, consult the permission store, queue the open command for
// the controller, then emit events and an audit entry.
//
// The decision itself is synchronous; event delivery and audit writes
// are best-effort and never fail a decision that has already been made.
package access
