package outbox

import "errors"

// Domain errors for the outbox package.
var (
	// ErrInvalidDoor is returned when a door identifier is empty.
	ErrInvalidDoor = errors.New("outbox: invalid door id")

	// ErrInvalidAction is returned when a command action is empty.
	ErrInvalidAction = errors.New("outbox: invalid action")
)
