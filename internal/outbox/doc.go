// Package outbox is the durable store-and-forward command queue for door
// controllers.
//
// Door controllers are polling-only embedded devices: they cannot receive
// pushed commands, and they are intermittently connected. The access
// decision flow therefore enqueues commands here, and a device claims
// everything pending for its door on each poll.
//
// Commands are persisted in SQLite so an enqueued command survives process
// restarts and device downtime. A command's status only ever moves
// pending -> executed, and commands for the same door are claimed in
// creation order.
//
// The claim is a single SQLite transaction (read the pending set, mark it
// executed, commit), so two near-simultaneous polls for the same door
// cannot both observe the same pending command. Devices should still treat
// repeated identical commands as idempotent; "open" applied twice is
// harmless.
package outbox
