package lock

import (
	"context"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Arbiter.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Default arbiter timings, used when New receives non-positive values.
const (
	// DefaultIdleTimeout is how long a lock may be held before the sweep
	// treats it as abandoned.
	DefaultIdleTimeout = 30 * time.Second

	// DefaultSweepInterval is how often the stale-lock sweep runs.
	DefaultSweepInterval = 10 * time.Second
)

// waiter is a queued acquire call. The ready channel is closed exactly once,
// under the arbiter mutex, when the waiter becomes holder.
type waiter struct {
	requesterID string
	ready       chan struct{}
	enqueuedAt  time.Time
}

// doorLock is the lock state for a single door key.
type doorLock struct {
	holderID   string
	acquiredAt time.Time
	queue      []*waiter
}

// Stats is a point-in-time snapshot of arbiter state.
type Stats struct {
	ActiveLocks   int `json:"active_locks"`
	QueuedWaiters int `json:"queued_waiters"`
}

// Arbiter provides per-key mutual exclusion with FIFO wait queues and
// stale-lock expiry.
//
// All state lives behind a single mutex: checking that a key is free and
// assigning the holder happen in one critical section, so two concurrent
// Acquire calls can never both become holder.
//
// Thread Safety: all methods are safe for concurrent use.
type Arbiter struct {
	mu    sync.Mutex
	locks map[string]*doorLock

	idleTimeout   time.Duration
	sweepInterval time.Duration

	logger Logger
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a new Arbiter. Non-positive durations fall back to the
// package defaults. The sweep does not run until Start is called.
func New(idleTimeout, sweepInterval time.Duration) *Arbiter {
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	if sweepInterval <= 0 {
		sweepInterval = DefaultSweepInterval
	}
	return &Arbiter{
		locks:         make(map[string]*doorLock),
		idleTimeout:   idleTimeout,
		sweepInterval: sweepInterval,
		logger:        noopLogger{},
	}
}

// SetLogger sets the logger for the arbiter.
func (a *Arbiter) SetLogger(logger Logger) {
	a.logger = logger
}

// Start launches the background stale-lock sweep. It returns immediately;
// the sweep runs until the context is cancelled or Close is called.
func (a *Arbiter) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.done = make(chan struct{})

	go func() {
		defer close(a.done)
		ticker := time.NewTicker(a.sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				a.sweep()
			}
		}
	}()
}

// Close stops the background sweep and waits for it to exit.
// Queued waiters are not failed; callers are expected to drain via their
// own wait timeouts during shutdown.
func (a *Arbiter) Close() {
	if a.cancel != nil {
		a.cancel()
		<-a.done
	}
}

// Acquire obtains the lock for key on behalf of requesterID.
//
// If the key is free the caller becomes holder immediately. Otherwise the
// caller joins the FIFO wait queue and blocks until it becomes holder, the
// wait budget elapses, or ctx is cancelled. On timeout or cancellation the
// waiter is removed from the queue with no side effects on other waiters
// and ErrAcquireTimeout is returned.
func (a *Arbiter) Acquire(ctx context.Context, key, requesterID string, wait time.Duration) error {
	now := time.Now()

	a.mu.Lock()
	dl, held := a.locks[key]
	if !held {
		a.locks[key] = &doorLock{holderID: requesterID, acquiredAt: now}
		a.mu.Unlock()
		a.logger.Debug("lock acquired", "key", key, "holder", requesterID)
		return nil
	}

	w := &waiter{
		requesterID: requesterID,
		ready:       make(chan struct{}),
		enqueuedAt:  now,
	}
	dl.queue = append(dl.queue, w)
	a.mu.Unlock()

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-w.ready:
		a.logger.Debug("lock acquired after wait",
			"key", key,
			"holder", requesterID,
			"waited_ms", time.Since(now).Milliseconds(),
		)
		return nil
	case <-timer.C:
	case <-ctx.Done():
	}

	// Timed out or cancelled. The grant happens under the mutex, so
	// re-check before removing ourselves: the lock may have been handed
	// over between the select firing and us getting here.
	a.mu.Lock()
	defer a.mu.Unlock()

	select {
	case <-w.ready:
		return nil
	default:
	}

	if dl, ok := a.locks[key]; ok {
		for i, queued := range dl.queue {
			if queued == w {
				dl.queue = append(dl.queue[:i], dl.queue[i+1:]...)
				break
			}
		}
	}

	a.logger.Debug("lock acquire timed out",
		"key", key,
		"requester", requesterID,
		"waited_ms", time.Since(now).Milliseconds(),
	)
	return ErrAcquireTimeout
}

// Release releases the lock for key. It must be called by the current
// holder. If the wait queue is non-empty, ownership transfers to the queue
// head and its Acquire call resolves; otherwise the lock entry is deleted.
func (a *Arbiter) Release(key, requesterID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	dl, ok := a.locks[key]
	if !ok {
		return ErrNotHeld
	}
	if dl.holderID != requesterID {
		return ErrNotHolder
	}

	a.handoffLocked(key, dl)
	return nil
}

// IsLocked reports whether key is currently held. Read-only.
func (a *Arbiter) IsLocked(key string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.locks[key]
	return ok
}

// Stats returns the active lock count and total queued waiters. Read-only.
func (a *Arbiter) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := Stats{ActiveLocks: len(a.locks)}
	for _, dl := range a.locks {
		s.QueuedWaiters += len(dl.queue)
	}
	return s
}

// handoffLocked transfers ownership to the queue head or removes the lock
// entry when the queue is empty. Caller must hold a.mu.
func (a *Arbiter) handoffLocked(key string, dl *doorLock) {
	if len(dl.queue) == 0 {
		delete(a.locks, key)
		return
	}

	next := dl.queue[0]
	dl.queue = dl.queue[1:]
	dl.holderID = next.requesterID
	dl.acquiredAt = time.Now()
	close(next.ready)
}

// sweep force-releases locks held past the idle timeout. A stale lock is
// recovery, not an error toward any caller, but it is logged with the prior
// holder so operators can find the misbehaving call site.
func (a *Arbiter) sweep() {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := time.Now()
	for key, dl := range a.locks {
		heldFor := now.Sub(dl.acquiredAt)
		if heldFor < a.idleTimeout {
			continue
		}

		a.logger.Warn("releasing stale lock",
			"key", key,
			"holder", dl.holderID,
			"held_ms", heldFor.Milliseconds(),
			"queued_waiters", len(dl.queue),
		)
		a.handoffLocked(key, dl)
	}
}
