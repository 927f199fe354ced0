package access

import "errors"

var (
	// ErrInvalidRequester is returned when the requester ID is blank.
	ErrInvalidRequester = errors.New("access: requester ID must not be empty")

	// ErrInvalidDoor is returned when the door ID is blank.
	ErrInvalidDoor = errors.New("access: door ID must not be empty")

	// ErrGrantNotFound is returned when revoking a grant that does not exist.
	ErrGrantNotFound = errors.New("access: grant not found")
)
