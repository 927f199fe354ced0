package outbox

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// timeLayout is RFC 3339 with fixed-width nanoseconds. Timestamps are
// stored as TEXT and ClaimPending orders on them, so the encoding must
// sort lexicographically; RFC3339Nano trims trailing zeros and does not.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Repository defines the interface for command queue persistence.
// This abstraction allows for different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
type Repository interface {
	// Enqueue appends a new pending command for doorID. It succeeds even
	// if the target device is currently offline; the command waits in the
	// queue until the next poll. Storage failures propagate to the caller.
	Enqueue(ctx context.Context, doorID, action string) (*Command, error)

	// ClaimPending returns all pending commands for doorID in creation
	// order and marks them executed. It never blocks; the slice is empty
	// when nothing is pending.
	ClaimPending(ctx context.Context, doorID string) ([]Command, error)

	// CountPending returns the number of pending commands for doorID.
	CountPending(ctx context.Context, doorID string) (int, error)

	// ListByDoor returns the most recent commands for doorID regardless
	// of status, newest first, bounded by limit.
	ListByDoor(ctx context.Context, doorID string, limit int) ([]Command, error)
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed command repository.
// The db parameter should be an open SQLite connection.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Enqueue appends a new pending command for doorID.
func (r *SQLiteRepository) Enqueue(ctx context.Context, doorID, action string) (*Command, error) {
	if strings.TrimSpace(doorID) == "" {
		return nil, ErrInvalidDoor
	}
	if strings.TrimSpace(action) == "" {
		return nil, ErrInvalidAction
	}

	cmd := &Command{
		ID:        "cmd-" + uuid.NewString(),
		DoorID:    doorID,
		Action:    action,
		Status:    StatusPending,
		CreatedAt: time.Now().UTC(),
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO commands (id, door_id, action, status, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		cmd.ID, cmd.DoorID, cmd.Action, string(cmd.Status),
		cmd.CreatedAt.Format(timeLayout),
	)
	if err != nil {
		return nil, fmt.Errorf("inserting command: %w", err)
	}

	return cmd, nil
}

// ClaimPending returns all pending commands for doorID in creation order
// and marks them executed.
//
// The read and the status update run in one transaction, so concurrent
// polls for the same door each claim a disjoint set of commands
// (effectively-exactly-once rather than at-least-once).
func (r *SQLiteRepository) ClaimPending(ctx context.Context, doorID string) ([]Command, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning claim transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	rows, err := tx.QueryContext(ctx,
		`SELECT id, door_id, action, status, created_at, executed_at
		 FROM commands
		 WHERE door_id = ? AND status = ?
		 ORDER BY created_at, id`,
		doorID, string(StatusPending),
	)
	if err != nil {
		return nil, fmt.Errorf("querying pending commands: %w", err)
	}

	commands, err := scanCommands(rows)
	if err != nil {
		return nil, err
	}
	if len(commands) == 0 {
		return []Command{}, nil
	}

	executedAt := time.Now().UTC()
	for i := range commands {
		if _, err := tx.ExecContext(ctx,
			`UPDATE commands SET status = ?, executed_at = ?
			 WHERE id = ? AND status = ?`,
			string(StatusExecuted), executedAt.Format(timeLayout),
			commands[i].ID, string(StatusPending),
		); err != nil {
			return nil, fmt.Errorf("marking command executed: %w", err)
		}
		commands[i].Status = StatusExecuted
		at := executedAt
		commands[i].ExecutedAt = &at
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing claim: %w", err)
	}

	return commands, nil
}

// CountPending returns the number of pending commands for doorID.
func (r *SQLiteRepository) CountPending(ctx context.Context, doorID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM commands WHERE door_id = ? AND status = ?`,
		doorID, string(StatusPending),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting pending commands: %w", err)
	}
	return count, nil
}

// ListByDoor returns the most recent commands for doorID, newest first.
func (r *SQLiteRepository) ListByDoor(ctx context.Context, doorID string, limit int) ([]Command, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, door_id, action, status, created_at, executed_at
		 FROM commands
		 WHERE door_id = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		doorID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying commands: %w", err)
	}

	return scanCommands(rows)
}

// scanCommands reads Command rows and closes the row set.
func scanCommands(rows *sql.Rows) ([]Command, error) {
	defer rows.Close()

	var commands []Command
	for rows.Next() {
		var (
			cmd        Command
			status     string
			createdAt  string
			executedAt sql.NullString
		)
		if err := rows.Scan(&cmd.ID, &cmd.DoorID, &cmd.Action, &status, &createdAt, &executedAt); err != nil {
			return nil, fmt.Errorf("scanning command row: %w", err)
		}

		cmd.Status = Status(status)

		t, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing command created_at: %w", err)
		}
		cmd.CreatedAt = t

		if executedAt.Valid {
			et, err := time.Parse(time.RFC3339Nano, executedAt.String)
			if err != nil {
				return nil, fmt.Errorf("parsing command executed_at: %w", err)
			}
			cmd.ExecutedAt = &et
		}

		commands = append(commands, cmd)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating command rows: %w", err)
	}

	return commands, nil
}
