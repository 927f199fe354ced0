package webhook

import (
	"encoding/json"
	"time"
)

// EventTypeAll is the wildcard marker: a subscription carrying it receives
// every event type.
const EventTypeAll = "*"

// Subscription is an external system's registration to receive webhook
// notifications for chosen event types.
type Subscription struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url"`

	// Secret signs outgoing payloads. It is generated server-side when not
	// supplied and is never serialized in API responses.
	Secret string `json:"-"`

	// Events the subscription wants, possibly including EventTypeAll.
	Events []string `json:"events"`

	Active bool `json:"active"`

	// MaxAttempts is the per-delivery retry budget.
	MaxAttempts int `json:"max_attempts"`

	// TimeoutSeconds bounds each HTTP attempt.
	TimeoutSeconds int `json:"timeout_seconds"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Matches reports whether the subscription should receive the given event
// type, honouring the wildcard marker.
func (s *Subscription) Matches(event string) bool {
	for _, e := range s.Events {
		if e == EventTypeAll || e == event {
			return true
		}
	}
	return false
}

// DeliveryStatus is the lifecycle state of a delivery.
type DeliveryStatus string

// Delivery statuses. delivered and failed are terminal.
const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliveryRetrying  DeliveryStatus = "retrying"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryFailed    DeliveryStatus = "failed"
)

// Terminal reports whether the status permits no further attempts.
func (s DeliveryStatus) Terminal() bool {
	return s == DeliveryDelivered || s == DeliveryFailed
}

// Delivery is one attempt-tracked notification instance for a
// subscription/event pair.
//
// Attempts is monotonically non-decreasing. NextRetryAt is only meaningful
// while the status is retrying. MaxAttempts is copied from the subscription
// at creation time so later subscription edits don't change in-flight
// deliveries.
type Delivery struct {
	ID             string          `json:"id"`
	SubscriptionID string          `json:"subscription_id"`
	Event          string          `json:"event"`
	Payload        json.RawMessage `json:"payload"`
	Attempts       int             `json:"attempts"`
	MaxAttempts    int             `json:"max_attempts"`
	Status         DeliveryStatus  `json:"status"`
	LastStatusCode *int            `json:"last_status_code,omitempty"`
	LastError      *string         `json:"last_error,omitempty"`
	LastAttemptAt  *time.Time      `json:"last_attempt_at,omitempty"`
	NextRetryAt    *time.Time      `json:"next_retry_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}
