package webhook

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
)

// SubscriptionRepository defines the interface for subscription persistence.
type SubscriptionRepository interface {
	// Create inserts a new subscription. Returns ErrSubscriptionExists if
	// the URL is already registered.
	Create(ctx context.Context, sub *Subscription) error

	// GetByID retrieves a subscription by ID.
	// Returns ErrSubscriptionNotFound if it does not exist.
	GetByID(ctx context.Context, id string) (*Subscription, error)

	// List retrieves all subscriptions.
	List(ctx context.Context) ([]Subscription, error)

	// ListActiveForEvent retrieves active subscriptions whose event set
	// contains the given event type or the wildcard marker.
	ListActiveForEvent(ctx context.Context, event string) ([]Subscription, error)

	// Update modifies an existing subscription.
	// Returns ErrSubscriptionNotFound if it does not exist.
	Update(ctx context.Context, sub *Subscription) error

	// Delete removes a subscription and (via cascade) its deliveries.
	// Returns ErrSubscriptionNotFound if it does not exist.
	Delete(ctx context.Context, id string) error
}

// SQLiteSubscriptionRepository implements SubscriptionRepository using SQLite.
type SQLiteSubscriptionRepository struct {
	db *sql.DB
}

// NewSQLiteSubscriptionRepository creates a new SQLite-backed subscription
// repository. The db parameter should be an open SQLite connection.
func NewSQLiteSubscriptionRepository(db *sql.DB) *SQLiteSubscriptionRepository {
	return &SQLiteSubscriptionRepository{db: db}
}

// Create inserts a new subscription.
func (r *SQLiteSubscriptionRepository) Create(ctx context.Context, sub *Subscription) error {
	if sub.ID == "" {
		sub.ID = "whk-" + uuid.NewString()
	}
	now := time.Now().UTC()
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = now
	}
	sub.UpdatedAt = now

	eventsJSON, err := json.Marshal(sub.Events)
	if err != nil {
		return fmt.Errorf("marshalling events: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO webhook_subscriptions
		 (id, name, url, secret, events, active, max_attempts, timeout_seconds, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.ID, sub.Name, sub.URL, sub.Secret, string(eventsJSON),
		boolToInt(sub.Active), sub.MaxAttempts, sub.TimeoutSeconds,
		sub.CreatedAt.Format(time.RFC3339), sub.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrSubscriptionExists
		}
		return fmt.Errorf("inserting subscription: %w", err)
	}

	return nil
}

// GetByID retrieves a subscription by ID.
func (r *SQLiteSubscriptionRepository) GetByID(ctx context.Context, id string) (*Subscription, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, name, url, secret, events, active, max_attempts, timeout_seconds, created_at, updated_at
		 FROM webhook_subscriptions WHERE id = ?`, id)

	sub, err := scanSubscription(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("querying subscription: %w", err)
	}
	return sub, nil
}

// List retrieves all subscriptions ordered by name.
func (r *SQLiteSubscriptionRepository) List(ctx context.Context) ([]Subscription, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, url, secret, events, active, max_attempts, timeout_seconds, created_at, updated_at
		 FROM webhook_subscriptions ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("querying subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning subscription row: %w", err)
		}
		subs = append(subs, *sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating subscription rows: %w", err)
	}
	return subs, nil
}

// ListActiveForEvent retrieves active subscriptions matching the event.
// The event-type filter is applied in Go: sets are small and stored as JSON.
func (r *SQLiteSubscriptionRepository) ListActiveForEvent(ctx context.Context, event string) ([]Subscription, error) {
	all, err := r.List(ctx)
	if err != nil {
		return nil, err
	}

	var matched []Subscription
	for i := range all {
		if all[i].Active && all[i].Matches(event) {
			matched = append(matched, all[i])
		}
	}
	return matched, nil
}

// Update modifies an existing subscription.
func (r *SQLiteSubscriptionRepository) Update(ctx context.Context, sub *Subscription) error {
	sub.UpdatedAt = time.Now().UTC()

	eventsJSON, err := json.Marshal(sub.Events)
	if err != nil {
		return fmt.Errorf("marshalling events: %w", err)
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE webhook_subscriptions
		 SET name = ?, url = ?, secret = ?, events = ?, active = ?,
		     max_attempts = ?, timeout_seconds = ?, updated_at = ?
		 WHERE id = ?`,
		sub.Name, sub.URL, sub.Secret, string(eventsJSON),
		boolToInt(sub.Active), sub.MaxAttempts, sub.TimeoutSeconds,
		sub.UpdatedAt.Format(time.RFC3339), sub.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrSubscriptionExists
		}
		return fmt.Errorf("updating subscription: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking update result: %w", err)
	}
	if rows == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

// Delete removes a subscription.
func (r *SQLiteSubscriptionRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM webhook_subscriptions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting subscription: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking delete result: %w", err)
	}
	if rows == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

// scanner abstracts sql.Row and sql.Rows for shared scan code.
type scanner interface {
	Scan(dest ...any) error
}

// scanSubscription scans a subscription from a row.
func scanSubscription(row scanner) (*Subscription, error) {
	var (
		sub        Subscription
		eventsJSON string
		active     int
		createdAt  string
		updatedAt  string
	)

	err := row.Scan(&sub.ID, &sub.Name, &sub.URL, &sub.Secret, &eventsJSON,
		&active, &sub.MaxAttempts, &sub.TimeoutSeconds, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(eventsJSON), &sub.Events); err != nil {
		return nil, fmt.Errorf("unmarshalling events: %w", err)
	}
	sub.Active = active != 0

	if sub.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if sub.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	return &sub, nil
}

// isUniqueViolation checks if a SQLite error is a UNIQUE constraint
// violation. Other constraint classes (CHECK, NOT NULL) are not duplicates
// and must not map to ErrSubscriptionExists.
func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

// boolToInt converts a bool to the 0/1 INTEGER representation SQLite uses.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
