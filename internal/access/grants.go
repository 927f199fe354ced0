package access

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PermissionChecker answers whether a requester may open a door. The
// decision service depends on this interface only; deployments with an
// external permission system can swap in their own implementation.
type PermissionChecker interface {
	HasAccess(ctx context.Context, requesterID, doorID string) (bool, error)
}

// Grant records that a requester may open a door.
type Grant struct {
	RequesterID string    `json:"requester_id"`
	DoorID      string    `json:"door_id"`
	GrantedBy   string    `json:"granted_by,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// GrantRepository manages the access_grants table.
type GrantRepository interface {
	PermissionChecker

	Grant(ctx context.Context, requesterID, doorID, grantedBy string) error
	Revoke(ctx context.Context, requesterID, doorID string) error
	ListByRequester(ctx context.Context, requesterID string) ([]Grant, error)
}

// SQLiteGrantRepository stores grants in SQLite.
type SQLiteGrantRepository struct {
	db *sql.DB
}

// NewSQLiteGrantRepository creates a new grant repository.
func NewSQLiteGrantRepository(db *sql.DB) *SQLiteGrantRepository {
	return &SQLiteGrantRepository{db: db}
}

// HasAccess reports whether a grant exists for the requester/door pair.
func (r *SQLiteGrantRepository) HasAccess(ctx context.Context, requesterID, doorID string) (bool, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM access_grants WHERE requester_id = ? AND door_id = ?`,
		requesterID, doorID,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("checking access grant: %w", err)
	}
	return count > 0, nil
}

// Grant records a grant. Granting an existing pair is a no-op that
// keeps the original grantor and timestamp.
func (r *SQLiteGrantRepository) Grant(ctx context.Context, requesterID, doorID, grantedBy string) error {
	if requesterID == "" {
		return ErrInvalidRequester
	}
	if doorID == "" {
		return ErrInvalidDoor
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO access_grants (requester_id, door_id, granted_by, created_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (requester_id, door_id) DO NOTHING`,
		requesterID, doorID, grantedBy,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting access grant: %w", err)
	}
	return nil
}

// Revoke removes a grant.
func (r *SQLiteGrantRepository) Revoke(ctx context.Context, requesterID, doorID string) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM access_grants WHERE requester_id = ? AND door_id = ?`,
		requesterID, doorID,
	)
	if err != nil {
		return fmt.Errorf("deleting access grant: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking revoke result: %w", err)
	}
	if affected == 0 {
		return ErrGrantNotFound
	}
	return nil
}

// ListByRequester returns all grants held by a requester.
func (r *SQLiteGrantRepository) ListByRequester(ctx context.Context, requesterID string) ([]Grant, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT requester_id, door_id, granted_by, created_at
		 FROM access_grants
		 WHERE requester_id = ?
		 ORDER BY created_at`,
		requesterID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying access grants: %w", err)
	}
	defer rows.Close()

	var grants []Grant
	for rows.Next() {
		var g Grant
		var grantedBy sql.NullString
		var createdAt string
		if err := rows.Scan(&g.RequesterID, &g.DoorID, &grantedBy, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning access grant: %w", err)
		}
		if grantedBy.Valid {
			g.GrantedBy = grantedBy.String
		}
		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing grant timestamp %q: %w", createdAt, err)
		}
		g.CreatedAt = t
		grants = append(grants, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating access grants: %w", err)
	}

	return grants, nil
}
