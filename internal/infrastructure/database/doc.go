// Package database manages the SQLite connection and schema migrations
// for access-core.
//
// SQLite is the durable store for commands, webhook subscriptions and
// deliveries, access grants, and the audit trail. The connection is
// configured for a single writer with WAL mode so device polls can read
// while the access flow writes.
//
// Migrations are embedded via the top-level migrations package and applied
// on startup:
//
//	db, err := database.Open(ctx, database.Config{Path: "data/core.db"})
//	if err != nil { ... }
//	defer db.Close()
//	if err := db.Migrate(ctx); err != nil { ... }
package database
