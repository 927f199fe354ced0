package outbox

import "time"

// Status is the lifecycle state of a command.
type Status string

// Command statuses. The only legal transition is pending -> executed.
const (
	StatusPending  Status = "pending"
	StatusExecuted Status = "executed"
)

// Well-known command actions.
const (
	ActionOpen = "open"
	ActionLock = "lock"
)

// Command is a pending or executed instruction queued for a door controller.
type Command struct {
	ID         string     `json:"id"`
	DoorID     string     `json:"door_id"`
	Action     string     `json:"command"`
	Status     Status     `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	ExecutedAt *time.Time `json:"executed_at,omitempty"`
}
