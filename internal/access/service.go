package access

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/henryv2be-prog/access-core/internal/audit"
	"github.com/henryv2be-prog/access-core/internal/lock"
	"github.com/henryv2be-prog/access-core/internal/outbox"
	"github.com/henryv2be-prog/access-core/internal/webhook"
)

// DefaultAcquireWait bounds how long a decision waits for a contended
// door lock before giving up.
const DefaultAcquireWait = 5 * time.Second

// Decision reason codes returned to API clients.
const (
	ReasonGranted = "granted"
	ReasonNoGrant = "no_grant"
)

// Logger is the minimal logging interface the service needs.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any) {}
func (noopLogger) Warn(string, ...any) {}

// Notifier receives decision events. Satisfied by webhook.Dispatcher.
type Notifier interface {
	Trigger(ctx context.Context, event string, data map[string]any)
}

// Metrics is the optional time-series sink for decision outcomes and
// lock contention. Satisfied by the InfluxDB client.
type Metrics interface {
	WriteAccessDecision(doorID, requesterID string, granted bool)
	WriteLockWait(doorID string, waited time.Duration)
}

// Decision is the outcome of one access request.
type Decision struct {
	RequesterID string    `json:"requester_id"`
	DoorID      string    `json:"door_id"`
	Granted     bool      `json:"granted"`
	Reason      string    `json:"reason"`
	CommandID   string    `json:"command_id,omitempty"`
	DecidedAt   time.Time `json:"decided_at"`
}

// Service runs the access decision flow.
type Service struct {
	locks       *lock.Arbiter
	checker     PermissionChecker
	commands    outbox.Repository
	notifier    Notifier
	audit       audit.Repository
	metrics     Metrics
	acquireWait time.Duration
	logger      Logger
}

// NewService creates an access decision service. The notifier and audit
// repository are optional; pass nil to skip event emission or auditing.
func NewService(locks *lock.Arbiter, checker PermissionChecker, commands outbox.Repository) *Service {
	return &Service{
		locks:       locks,
		checker:     checker,
		commands:    commands,
		acquireWait: DefaultAcquireWait,
		logger:      noopLogger{},
	}
}

// SetLogger replaces the no-op logger.
func (s *Service) SetLogger(logger Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// SetNotifier attaches an event notifier for decision events.
func (s *Service) SetNotifier(n Notifier) { s.notifier = n }

// SetAuditRepository attaches an audit trail for decisions.
func (s *Service) SetAuditRepository(repo audit.Repository) { s.audit = repo }

// SetMetrics attaches a time-series sink for decisions and lock waits.
func (s *Service) SetMetrics(m Metrics) { s.metrics = m }

// SetAcquireWait overrides how long Request waits for a contended lock.
func (s *Service) SetAcquireWait(wait time.Duration) {
	if wait > 0 {
		s.acquireWait = wait
	}
}

// Request runs the decision flow for one requester at one door.
//
// The door lock serialises concurrent requests for the same door. A
// lock that cannot be acquired within the wait window is an error, not
// a denial: the caller cannot know what the decision would have been.
// Enqueue failures likewise surface as errors since a granted decision
// without a queued command must not be reported as success.
func (s *Service) Request(ctx context.Context, requesterID, doorID string) (*Decision, error) {
	if strings.TrimSpace(requesterID) == "" {
		return nil, ErrInvalidRequester
	}
	if strings.TrimSpace(doorID) == "" {
		return nil, ErrInvalidDoor
	}

	acquireStart := time.Now()
	if err := s.locks.Acquire(ctx, doorID, requesterID, s.acquireWait); err != nil {
		return nil, fmt.Errorf("acquiring door lock: %w", err)
	}
	if s.metrics != nil {
		s.metrics.WriteLockWait(doorID, time.Since(acquireStart))
	}

	decision, err := s.decideLocked(ctx, requesterID, doorID)

	if releaseErr := s.locks.Release(doorID, requesterID); releaseErr != nil {
		// The sweeper force-released us mid-decision. The decision
		// stands; the lock is already gone.
		s.logger.Warn("releasing door lock after decision",
			"door_id", doorID,
			"requester_id", requesterID,
			"error", releaseErr,
		)
	}
	if err != nil {
		return nil, err
	}

	s.emit(ctx, decision)
	s.record(ctx, decision)
	if s.metrics != nil {
		s.metrics.WriteAccessDecision(decision.DoorID, decision.RequesterID, decision.Granted)
	}
	return decision, nil
}

// decideLocked performs the permission check and command enqueue while
// the caller holds the door lock.
func (s *Service) decideLocked(ctx context.Context, requesterID, doorID string) (*Decision, error) {
	allowed, err := s.checker.HasAccess(ctx, requesterID, doorID)
	if err != nil {
		return nil, fmt.Errorf("checking permission: %w", err)
	}

	decision := &Decision{
		RequesterID: requesterID,
		DoorID:      doorID,
		Granted:     allowed,
		Reason:      ReasonNoGrant,
		DecidedAt:   time.Now().UTC(),
	}
	if !allowed {
		return decision, nil
	}

	cmd, err := s.commands.Enqueue(ctx, doorID, outbox.ActionOpen)
	if err != nil {
		return nil, fmt.Errorf("queueing open command: %w", err)
	}
	decision.Reason = ReasonGranted
	decision.CommandID = cmd.ID
	return decision, nil
}

// emit broadcasts the decision event. Best-effort: the dispatcher
// persists and retries on its own, and a nil notifier is skipped.
func (s *Service) emit(ctx context.Context, decision *Decision) {
	if s.notifier == nil {
		return
	}

	event := webhook.EventAccessDenied
	data := map[string]any{
		"requester_id": decision.RequesterID,
		"door_id":      decision.DoorID,
		"reason":       decision.Reason,
	}
	if decision.Granted {
		event = webhook.EventAccessGranted
		data["command_id"] = decision.CommandID
	}
	s.notifier.Trigger(ctx, event, data)
}

// record writes the audit entry. Best-effort.
func (s *Service) record(ctx context.Context, decision *Decision) {
	if s.audit == nil {
		return
	}

	action := audit.ActionAccessDenied
	if decision.Granted {
		action = audit.ActionAccessGranted
	}
	entry := &audit.Entry{
		Action:     action,
		EntityType: "door",
		EntityID:   decision.DoorID,
		UserID:     decision.RequesterID,
		Source:     "access",
		Details:    map[string]any{"reason": decision.Reason},
	}
	if decision.CommandID != "" {
		entry.Details["command_id"] = decision.CommandID
	}
	if err := s.audit.Create(ctx, entry); err != nil {
		s.logger.Warn("writing audit entry", "door_id", decision.DoorID, "error", err)
	}
}
