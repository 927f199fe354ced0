// Package lock provides per-door mutual exclusion for the access decision
// flow.
//
// Access requests for the same door are serialised through an Arbiter:
// exactly one caller holds a door's lock at any instant and waiters are
// served strictly in arrival order. This prevents two concurrent requests
// (a badge scan and a webhook-triggered override, say) from racing to issue
// conflicting open/lock commands for the same physical door.
//
// Locks live only in process memory. A background sweep force-releases any
// lock held past the idle timeout so a crashed caller cannot starve waiters
// indefinitely.
//
// # Usage
//
//	arbiter := lock.New(30*time.Second, 10*time.Second)
//	arbiter.Start(ctx)
//	defer arbiter.Close()
//
//	if err := arbiter.Acquire(ctx, doorID, requesterID, 5*time.Second); err != nil {
//	    // lock.ErrAcquireTimeout: deny the request or retry the whole flow
//	}
//	defer arbiter.Release(doorID, requesterID)
package lock
