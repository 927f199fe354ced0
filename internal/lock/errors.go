package lock

import "errors"

// Domain errors for the lock package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, lock.ErrAcquireTimeout) {
//	    // handle timeout case
//	}
var (
	// ErrAcquireTimeout is returned when a waiter exceeds its wait budget
	// before becoming holder. The caller must retry the whole access flow
	// or deny the request; the arbiter does not retry internally.
	ErrAcquireTimeout = errors.New("lock: acquire timeout")

	// ErrNotHeld is returned when releasing a key that has no active lock.
	ErrNotHeld = errors.New("lock: not held")

	// ErrNotHolder is returned when a caller releases a lock it does not hold.
	ErrNotHolder = errors.New("lock: not holder")
)
