package webhook

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// maxRecentDeliveries bounds delivery listings for the management API.
const maxRecentDeliveries = 100

// timeLayout is RFC 3339 with fixed-width nanoseconds so the TEXT
// created_at column sorts lexicographically in chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// DeliveryRepository defines the interface for delivery persistence.
type DeliveryRepository interface {
	// Create inserts a new delivery record.
	Create(ctx context.Context, d *Delivery) error

	// Update persists the mutable fields of a delivery after an attempt.
	// Returns ErrDeliveryNotFound if the delivery does not exist.
	Update(ctx context.Context, d *Delivery) error

	// GetByID retrieves a delivery by ID.
	GetByID(ctx context.Context, id string) (*Delivery, error)

	// ListBySubscription returns the most recent deliveries for a
	// subscription, newest first, bounded at 100.
	ListBySubscription(ctx context.Context, subscriptionID string, limit int) ([]Delivery, error)

	// ListUnfinished returns deliveries in a non-terminal state, oldest
	// first. Used to re-arm retries after a restart.
	ListUnfinished(ctx context.Context) ([]Delivery, error)
}

// SQLiteDeliveryRepository implements DeliveryRepository using SQLite.
type SQLiteDeliveryRepository struct {
	db *sql.DB
}

// NewSQLiteDeliveryRepository creates a new SQLite-backed delivery repository.
func NewSQLiteDeliveryRepository(db *sql.DB) *SQLiteDeliveryRepository {
	return &SQLiteDeliveryRepository{db: db}
}

// Create inserts a new delivery record.
func (r *SQLiteDeliveryRepository) Create(ctx context.Context, d *Delivery) error {
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO webhook_deliveries
		 (id, subscription_id, event, payload, attempts, max_attempts, status,
		  last_status_code, last_error, last_attempt_at, next_retry_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.SubscriptionID, d.Event, string(d.Payload),
		d.Attempts, d.MaxAttempts, string(d.Status),
		d.LastStatusCode, d.LastError,
		formatNullableTime(d.LastAttemptAt), formatNullableTime(d.NextRetryAt),
		d.CreatedAt.Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting delivery: %w", err)
	}
	return nil
}

// Update persists the mutable fields of a delivery after an attempt.
func (r *SQLiteDeliveryRepository) Update(ctx context.Context, d *Delivery) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE webhook_deliveries
		 SET attempts = ?, status = ?, last_status_code = ?, last_error = ?,
		     last_attempt_at = ?, next_retry_at = ?
		 WHERE id = ?`,
		d.Attempts, string(d.Status), d.LastStatusCode, d.LastError,
		formatNullableTime(d.LastAttemptAt), formatNullableTime(d.NextRetryAt),
		d.ID,
	)
	if err != nil {
		return fmt.Errorf("updating delivery: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking update result: %w", err)
	}
	if rows == 0 {
		return ErrDeliveryNotFound
	}
	return nil
}

// GetByID retrieves a delivery by ID.
func (r *SQLiteDeliveryRepository) GetByID(ctx context.Context, id string) (*Delivery, error) {
	row := r.db.QueryRowContext(ctx, deliverySelect+` WHERE id = ?`, id)

	d, err := scanDelivery(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeliveryNotFound
		}
		return nil, fmt.Errorf("querying delivery: %w", err)
	}
	return d, nil
}

// ListBySubscription returns the most recent deliveries for a subscription.
func (r *SQLiteDeliveryRepository) ListBySubscription(ctx context.Context, subscriptionID string, limit int) ([]Delivery, error) {
	if limit <= 0 || limit > maxRecentDeliveries {
		limit = maxRecentDeliveries
	}

	rows, err := r.db.QueryContext(ctx,
		deliverySelect+` WHERE subscription_id = ? ORDER BY created_at DESC LIMIT ?`,
		subscriptionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying deliveries: %w", err)
	}
	return scanDeliveries(rows)
}

// ListUnfinished returns non-terminal deliveries, oldest first.
func (r *SQLiteDeliveryRepository) ListUnfinished(ctx context.Context) ([]Delivery, error) {
	rows, err := r.db.QueryContext(ctx,
		deliverySelect+` WHERE status IN (?, ?) ORDER BY created_at`,
		string(DeliveryPending), string(DeliveryRetrying),
	)
	if err != nil {
		return nil, fmt.Errorf("querying unfinished deliveries: %w", err)
	}
	return scanDeliveries(rows)
}

const deliverySelect = `
	SELECT id, subscription_id, event, payload, attempts, max_attempts, status,
	       last_status_code, last_error, last_attempt_at, next_retry_at, created_at
	FROM webhook_deliveries`

// scanDelivery scans a delivery from a row.
func scanDelivery(row scanner) (*Delivery, error) {
	var (
		d             Delivery
		payload       string
		status        string
		lastAttemptAt sql.NullString
		nextRetryAt   sql.NullString
		createdAt     string
	)

	err := row.Scan(&d.ID, &d.SubscriptionID, &d.Event, &payload,
		&d.Attempts, &d.MaxAttempts, &status,
		&d.LastStatusCode, &d.LastError, &lastAttemptAt, &nextRetryAt, &createdAt)
	if err != nil {
		return nil, err
	}

	d.Payload = []byte(payload)
	d.Status = DeliveryStatus(status)

	if d.LastAttemptAt, err = parseNullableTime(lastAttemptAt); err != nil {
		return nil, fmt.Errorf("parsing last_attempt_at: %w", err)
	}
	if d.NextRetryAt, err = parseNullableTime(nextRetryAt); err != nil {
		return nil, fmt.Errorf("parsing next_retry_at: %w", err)
	}
	if d.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	return &d, nil
}

// scanDeliveries reads Delivery rows and closes the row set.
func scanDeliveries(rows *sql.Rows) ([]Delivery, error) {
	defer rows.Close()

	var deliveries []Delivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning delivery row: %w", err)
		}
		deliveries = append(deliveries, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating delivery rows: %w", err)
	}
	return deliveries, nil
}

// formatNullableTime renders an optional timestamp for a nullable TEXT column.
func formatNullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(timeLayout)
}

// parseNullableTime parses an optional timestamp from a nullable TEXT column.
func parseNullableTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
