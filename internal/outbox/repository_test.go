package outbox

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// setupTestDB creates an in-memory SQLite database with the commands table.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	// Each connection to :memory: gets its own database; pin to one.
	db.SetMaxOpenConns(1)

	schema := `
		CREATE TABLE commands (
			id          TEXT PRIMARY KEY,
			door_id     TEXT NOT NULL,
			action      TEXT NOT NULL,
			status      TEXT NOT NULL DEFAULT 'pending',
			created_at  TEXT NOT NULL,
			executed_at TEXT
		) STRICT;
		CREATE INDEX idx_commands_door_status ON commands(door_id, status, created_at);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		t.Fatalf("failed to create test schema: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

func TestEnqueue(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	cmd, err := repo.Enqueue(ctx, "door-7", ActionOpen)
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	if cmd.ID == "" {
		t.Error("Enqueue() returned empty ID")
	}
	if cmd.Status != StatusPending {
		t.Errorf("Status = %q, want pending", cmd.Status)
	}
	if cmd.ExecutedAt != nil {
		t.Error("ExecutedAt set on a pending command")
	}

	count, err := repo.CountPending(ctx, "door-7")
	if err != nil {
		t.Fatalf("CountPending() error = %v", err)
	}
	if count != 1 {
		t.Errorf("CountPending() = %d, want 1", count)
	}
}

func TestEnqueue_Validation(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	if _, err := repo.Enqueue(ctx, "", ActionOpen); !errors.Is(err, ErrInvalidDoor) {
		t.Errorf("Enqueue(empty door) = %v, want ErrInvalidDoor", err)
	}
	if _, err := repo.Enqueue(ctx, "door-1", "  "); !errors.Is(err, ErrInvalidAction) {
		t.Errorf("Enqueue(blank action) = %v, want ErrInvalidAction", err)
	}
}

func TestClaimPending_SingleCommand(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	if _, err := repo.Enqueue(ctx, "door-7", ActionOpen); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	claimed, err := repo.ClaimPending(ctx, "door-7")
	if err != nil {
		t.Fatalf("ClaimPending() error = %v", err)
	}
	if len(claimed) != 1 {
		t.Fatalf("ClaimPending() returned %d commands, want 1", len(claimed))
	}
	if claimed[0].Action != ActionOpen {
		t.Errorf("Action = %q, want open", claimed[0].Action)
	}
	if claimed[0].Status != StatusExecuted {
		t.Errorf("Status = %q, want executed", claimed[0].Status)
	}
	if claimed[0].ExecutedAt == nil {
		t.Error("ExecutedAt not set after claim")
	}

	// A second immediate claim returns nothing.
	again, err := repo.ClaimPending(ctx, "door-7")
	if err != nil {
		t.Fatalf("ClaimPending() error = %v", err)
	}
	if len(again) != 0 {
		t.Errorf("second ClaimPending() returned %d commands, want 0", len(again))
	}
}

func TestClaimPending_FIFOOrder(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	actions := []string{"open", "lock", "open"}
	for _, action := range actions {
		if _, err := repo.Enqueue(ctx, "door-3", action); err != nil {
			t.Fatalf("Enqueue(%q) error = %v", action, err)
		}
		// Distinct creation times for deterministic ordering.
		time.Sleep(2 * time.Millisecond)
	}

	claimed, err := repo.ClaimPending(ctx, "door-3")
	if err != nil {
		t.Fatalf("ClaimPending() error = %v", err)
	}
	if len(claimed) != len(actions) {
		t.Fatalf("ClaimPending() returned %d commands, want %d", len(claimed), len(actions))
	}
	for i, action := range actions {
		if claimed[i].Action != action {
			t.Errorf("claimed[%d].Action = %q, want %q (creation order)", i, claimed[i].Action, action)
		}
	}
}

func TestClaimPending_FIFOSubsecondTimestamps(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	// Fractional seconds ending in zero expose encodings that trim
	// trailing zeros: ".1Z" sorts after ".15Z" as text even though it
	// is the earlier instant. The stored layout must be fixed-width.
	first := time.Date(2026, 1, 1, 10, 0, 0, 100_000_000, time.UTC)
	second := first.Add(50 * time.Millisecond)

	insert := `INSERT INTO commands (id, door_id, action, status, created_at)
	           VALUES (?, ?, ?, ?, ?)`
	if _, err := db.Exec(insert, "cmd-early", "door-5", ActionOpen,
		string(StatusPending), first.Format(timeLayout)); err != nil {
		t.Fatalf("inserting first command: %v", err)
	}
	if _, err := db.Exec(insert, "cmd-late", "door-5", ActionLock,
		string(StatusPending), second.Format(timeLayout)); err != nil {
		t.Fatalf("inserting second command: %v", err)
	}

	claimed, err := repo.ClaimPending(ctx, "door-5")
	if err != nil {
		t.Fatalf("ClaimPending() error = %v", err)
	}
	if len(claimed) != 2 {
		t.Fatalf("ClaimPending() returned %d commands, want 2", len(claimed))
	}
	if claimed[0].ID != "cmd-early" || claimed[1].ID != "cmd-late" {
		t.Errorf("claim order = [%s %s], want [cmd-early cmd-late]",
			claimed[0].ID, claimed[1].ID)
	}
}

func TestClaimPending_IsolatedPerDoor(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	if _, err := repo.Enqueue(ctx, "door-1", ActionOpen); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if _, err := repo.Enqueue(ctx, "door-2", ActionLock); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	claimed, err := repo.ClaimPending(ctx, "door-1")
	if err != nil {
		t.Fatalf("ClaimPending() error = %v", err)
	}
	if len(claimed) != 1 || claimed[0].DoorID != "door-1" {
		t.Fatalf("ClaimPending(door-1) = %+v, want only door-1 commands", claimed)
	}

	count, err := repo.CountPending(ctx, "door-2")
	if err != nil {
		t.Fatalf("CountPending() error = %v", err)
	}
	if count != 1 {
		t.Errorf("door-2 pending = %d, want 1 (untouched)", count)
	}
}

func TestClaimPending_EmptyQueue(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))

	claimed, err := repo.ClaimPending(context.Background(), "door-offline")
	if err != nil {
		t.Fatalf("ClaimPending() error = %v", err)
	}
	if len(claimed) != 0 {
		t.Errorf("ClaimPending() on empty queue returned %d commands", len(claimed))
	}
}

func TestListByDoor(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := repo.Enqueue(ctx, "door-9", ActionOpen); err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
		time.Sleep(2 * time.Millisecond)
	}
	if _, err := repo.ClaimPending(ctx, "door-9"); err != nil {
		t.Fatalf("ClaimPending() error = %v", err)
	}

	// Listing covers executed commands too.
	listed, err := repo.ListByDoor(ctx, "door-9", 2)
	if err != nil {
		t.Fatalf("ListByDoor() error = %v", err)
	}
	if len(listed) != 2 {
		t.Fatalf("ListByDoor(limit=2) returned %d commands", len(listed))
	}
	if listed[0].CreatedAt.Before(listed[1].CreatedAt) {
		t.Error("ListByDoor() not ordered newest first")
	}
}
