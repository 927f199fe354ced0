package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/henryv2be-prog/access-core/internal/audit"
)

// Logger defines the logging interface used by the Dispatcher.
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

// WSHub is the interface for broadcasting events to WebSocket clients.
type WSHub interface {
	// Broadcast sends an event to all clients subscribed to the given channel.
	Broadcast(channel string, payload any)
}

// EventMirror is the interface for the optional MQTT event mirror. Events
// published there are a local convenience; webhooks remain the guaranteed
// delivery path.
type EventMirror interface {
	PublishEvent(event string, payload []byte) error
}

// Metrics is the interface for the optional time-series sink.
type Metrics interface {
	WriteDeliveryOutcome(subscriptionID, event, status string, attempts int)
}

// Dispatcher defaults.
const (
	// DefaultBaseRetryDelay is the first retry delay; subsequent delays
	// double (1s, 2s, 4s, 8s, ...).
	DefaultBaseRetryDelay = time.Second

	// defaultAttemptTimeout bounds an attempt when the subscription
	// carries no timeout of its own.
	defaultAttemptTimeout = 10 * time.Second

	// userAgent identifies access-core to webhook receivers.
	userAgent = "accesscore-webhook/1.0"

	// maxErrorBodyBytes caps how much of an error response body is
	// recorded on the delivery.
	maxErrorBodyBytes = 512
)

// Dispatcher delivers webhook notifications with retry and exponential
// backoff.
//
// Attempts for a given delivery are strictly sequential: an attempt either
// finishes the delivery or schedules exactly one timer for the next try.
// Failures are contained; Trigger never returns an error to the operation
// that raised the event.
//
// Thread Safety: all methods are safe for concurrent use.
type Dispatcher struct {
	subs       SubscriptionRepository
	deliveries DeliveryRepository
	client     *http.Client
	logger     Logger

	hub     WSHub            // optional
	mirror  EventMirror      // optional
	metrics Metrics          // optional
	audit   audit.Repository // optional

	// baseDelay is the first retry delay. Configurable for tests.
	baseDelay time.Duration

	mu     sync.Mutex
	timers map[string]*time.Timer
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDispatcher creates a new dispatcher. The sweep of persisted retries
// does not start until Start is called.
func NewDispatcher(subs SubscriptionRepository, deliveries DeliveryRepository, logger Logger) *Dispatcher {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Dispatcher{
		subs:       subs,
		deliveries: deliveries,
		client:     &http.Client{},
		logger:     logger,
		baseDelay:  DefaultBaseRetryDelay,
		timers:     make(map[string]*time.Timer),
	}
}

// SetHub sets the optional WebSocket hub for event feed broadcasts.
func (d *Dispatcher) SetHub(hub WSHub) { d.hub = hub }

// SetEventMirror sets the optional MQTT event mirror.
func (d *Dispatcher) SetEventMirror(m EventMirror) { d.mirror = m }

// SetMetrics sets the optional delivery metrics sink.
func (d *Dispatcher) SetMetrics(m Metrics) { d.metrics = m }

// SetAuditRepository attaches an audit trail for permanent delivery failures.
func (d *Dispatcher) SetAuditRepository(repo audit.Repository) { d.audit = repo }

// SetBaseRetryDelay overrides the first retry delay. Intended for tests.
func (d *Dispatcher) SetBaseRetryDelay(delay time.Duration) {
	if delay > 0 {
		d.baseDelay = delay
	}
}

// SetHTTPClient overrides the HTTP client. Intended for tests.
func (d *Dispatcher) SetHTTPClient(client *http.Client) {
	if client != nil {
		d.client = client
	}
}

// Start re-arms persisted non-terminal deliveries and begins accepting
// triggers. Scheduled retries survive a restart: a delivery that was
// retrying with its backoff still in the future is re-timed for the
// remainder, anything overdue is attempted immediately.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.ctx, d.cancel = context.WithCancel(ctx)

	unfinished, err := d.deliveries.ListUnfinished(d.ctx)
	if err != nil {
		return fmt.Errorf("loading unfinished deliveries: %w", err)
	}

	rearmed := 0
	for i := range unfinished {
		delivery := unfinished[i]
		delay := time.Duration(0)
		if delivery.Status == DeliveryRetrying && delivery.NextRetryAt != nil {
			if remaining := time.Until(*delivery.NextRetryAt); remaining > 0 {
				delay = remaining
			}
		}
		d.scheduleAttempt(delivery.ID, delay)
		rearmed++
	}

	if rearmed > 0 {
		d.logger.Info("re-armed unfinished webhook deliveries", "count", rearmed)
	}
	return nil
}

// Close stops all pending retry timers and waits for in-flight attempts.
// Interrupted retries are re-armed on the next Start.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	for id, timer := range d.timers {
		// A stopped timer never runs its func, so balance the WaitGroup
		// here; timers that already fired balance it themselves.
		if timer.Stop() {
			d.wg.Done()
		}
		delete(d.timers, id)
	}
	d.mu.Unlock()

	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
}

// Trigger creates a delivery for every active subscription matching event
// and attempts each immediately. Errors are contained: they are logged and
// never propagate to the caller, since event delivery is best-effort
// relative to the operation that raised the event.
func (d *Dispatcher) Trigger(ctx context.Context, event string, data map[string]any) {
	payload, err := buildEnvelope(event, data)
	if err != nil {
		d.logger.Error("building webhook envelope", "event", event, "error", err)
		return
	}

	if d.hub != nil {
		d.hub.Broadcast("events", json.RawMessage(payload))
	}
	if d.mirror != nil {
		if err := d.mirror.PublishEvent(event, payload); err != nil {
			d.logger.Warn("mirroring event to MQTT", "event", event, "error", err)
		}
	}

	matched, err := d.subs.ListActiveForEvent(ctx, event)
	if err != nil {
		d.logger.Error("selecting subscriptions", "event", event, "error", err)
		return
	}

	for i := range matched {
		sub := matched[i]
		delivery := &Delivery{
			ID:             "del-" + uuid.NewString(),
			SubscriptionID: sub.ID,
			Event:          event,
			Payload:        payload,
			MaxAttempts:    sub.MaxAttempts,
			Status:         DeliveryPending,
		}
		if err := d.deliveries.Create(ctx, delivery); err != nil {
			d.logger.Error("creating delivery",
				"subscription_id", sub.ID,
				"event", event,
				"error", err,
			)
			continue
		}
		// No initial delay: first attempt fires immediately.
		d.scheduleAttempt(delivery.ID, 0)
	}
}

// TestSend sends a test event to a single subscription, bypassing its
// event filter. Used by the management API.
func (d *Dispatcher) TestSend(ctx context.Context, subscriptionID string) (*Delivery, error) {
	sub, err := d.subs.GetByID(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}

	payload, err := buildEnvelope(EventWebhookTest, map[string]any{
		"subscription_id": sub.ID,
		"message":         "test delivery from access-core",
	})
	if err != nil {
		return nil, fmt.Errorf("building test envelope: %w", err)
	}

	delivery := &Delivery{
		ID:             "del-" + uuid.NewString(),
		SubscriptionID: sub.ID,
		Event:          EventWebhookTest,
		Payload:        payload,
		MaxAttempts:    sub.MaxAttempts,
		Status:         DeliveryPending,
	}
	if err := d.deliveries.Create(ctx, delivery); err != nil {
		return nil, fmt.Errorf("creating test delivery: %w", err)
	}

	d.scheduleAttempt(delivery.ID, 0)
	return delivery, nil
}

// scheduleAttempt arranges for the delivery to be attempted after delay.
// A zero delay still goes through a goroutine so triggering call sites
// never block on network I/O.
func (d *Dispatcher) scheduleAttempt(deliveryID string, delay time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}

	d.wg.Add(1)
	timer := time.AfterFunc(delay, func() {
		defer d.wg.Done()

		d.mu.Lock()
		delete(d.timers, deliveryID)
		closed := d.closed
		d.mu.Unlock()
		if closed {
			return
		}
		d.attempt(deliveryID)
	})
	d.timers[deliveryID] = timer
}

// attempt performs one delivery attempt and either finishes the delivery
// or schedules the next retry.
func (d *Dispatcher) attempt(deliveryID string) {
	ctx := d.ctx
	if ctx == nil {
		ctx = context.Background()
	}

	delivery, err := d.deliveries.GetByID(ctx, deliveryID)
	if err != nil {
		// Deleted subscriptions cascade onto their deliveries; a missing
		// row just means there is nothing left to do.
		d.logger.Debug("delivery vanished before attempt", "delivery_id", deliveryID, "error", err)
		return
	}
	if delivery.Status.Terminal() {
		return
	}

	sub, err := d.subs.GetByID(ctx, delivery.SubscriptionID)
	if err != nil {
		d.logger.Warn("subscription gone, abandoning delivery",
			"delivery_id", delivery.ID,
			"subscription_id", delivery.SubscriptionID,
		)
		return
	}

	// A retry timer fires the delivery back into pending for this attempt.
	delivery.Status = DeliveryPending

	statusCode, err := d.send(ctx, delivery, sub)

	now := time.Now().UTC()
	delivery.LastAttemptAt = &now
	delivery.NextRetryAt = nil
	if statusCode != 0 {
		code := statusCode
		delivery.LastStatusCode = &code
	}

	if err == nil {
		delivery.Attempts++
		delivery.Status = DeliveryDelivered
		delivery.LastError = nil
		d.finish(ctx, delivery, sub)
		return
	}

	// Transient failure: non-2xx, timeout, or connection error all retry
	// the same way.
	delivery.Attempts++
	msg := err.Error()
	delivery.LastError = &msg

	if delivery.Attempts < delivery.MaxAttempts {
		delay := d.baseDelay << (delivery.Attempts - 1)
		retryAt := now.Add(delay)
		delivery.Status = DeliveryRetrying
		delivery.NextRetryAt = &retryAt

		if updateErr := d.deliveries.Update(ctx, delivery); updateErr != nil {
			d.logger.Error("persisting retrying delivery", "delivery_id", delivery.ID, "error", updateErr)
			return
		}

		d.logger.Warn("webhook delivery failed, retrying",
			"delivery_id", delivery.ID,
			"subscription_id", sub.ID,
			"event", delivery.Event,
			"attempt", delivery.Attempts,
			"max_attempts", delivery.MaxAttempts,
			"retry_in", delay.String(),
			"error", msg,
		)
		d.scheduleAttempt(delivery.ID, delay)
		return
	}

	delivery.Status = DeliveryFailed
	d.finish(ctx, delivery, sub)
}

// finish persists a terminal delivery state and emits the bookkeeping
// around it (logs, event feed, metrics, permanent-failure system event).
func (d *Dispatcher) finish(ctx context.Context, delivery *Delivery, sub *Subscription) {
	if err := d.deliveries.Update(ctx, delivery); err != nil {
		d.logger.Error("persisting delivery outcome", "delivery_id", delivery.ID, "error", err)
	}

	if d.metrics != nil {
		d.metrics.WriteDeliveryOutcome(sub.ID, delivery.Event, string(delivery.Status), delivery.Attempts)
	}
	if d.hub != nil {
		d.hub.Broadcast("deliveries", delivery)
	}

	if delivery.Status == DeliveryDelivered {
		d.logger.Info("webhook delivered",
			"delivery_id", delivery.ID,
			"subscription_id", sub.ID,
			"event", delivery.Event,
			"attempts", delivery.Attempts,
		)
		return
	}

	lastError := ""
	if delivery.LastError != nil {
		lastError = *delivery.LastError
	}
	d.logger.Error("webhook delivery permanently failed",
		"delivery_id", delivery.ID,
		"subscription_id", sub.ID,
		"subscription_name", sub.Name,
		"event", delivery.Event,
		"attempts", delivery.Attempts,
		"last_error", lastError,
	)

	if d.audit != nil {
		entry := &audit.Entry{
			Action:     audit.ActionDeliveryFailed,
			EntityType: "webhook",
			EntityID:   sub.ID,
			Source:     "dispatcher",
			Details: map[string]any{
				"delivery_id": delivery.ID,
				"event":       delivery.Event,
				"attempts":    delivery.Attempts,
				"last_error":  lastError,
			},
		}
		if err := d.audit.Create(ctx, entry); err != nil {
			d.logger.Warn("writing audit entry", "delivery_id", delivery.ID, "error", err)
		}
	}

	// Surface the permanent failure as a system event so external monitors
	// can react. Never re-raised for a failed system.delivery_failed
	// delivery, which would loop between broken subscriptions.
	if delivery.Event != EventDeliveryFailed {
		d.Trigger(ctx, EventDeliveryFailed, map[string]any{
			"delivery_id":     delivery.ID,
			"subscription_id": sub.ID,
			"event":           delivery.Event,
			"attempts":        delivery.Attempts,
			"last_error":      lastError,
		})
	}
}

// send performs the HTTP POST for one attempt. It returns the response
// status code when one was received, and a non-nil error for any outcome
// that is not a 2xx response.
func (d *Dispatcher) send(ctx context.Context, delivery *Delivery, sub *Subscription) (int, error) {
	timeout := defaultAttemptTimeout
	if sub.TimeoutSeconds > 0 {
		timeout = time.Duration(sub.TimeoutSeconds) * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(delivery.Payload))
	if err != nil {
		return 0, fmt.Errorf("building request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-Webhook-Signature", Sign(delivery.Payload, sub.Secret))
	req.Header.Set("X-Webhook-Event", delivery.Event)
	req.Header.Set("X-Webhook-Delivery", delivery.ID)

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // Best effort close

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, resp.Body) //nolint:errcheck // Best effort drain
		return resp.StatusCode, nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes)) //nolint:errcheck // Partial body is fine
	return resp.StatusCode, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
}

// buildEnvelope serializes the outgoing payload. A payload that already
// carries an "event" field is passed through untouched; otherwise it is
// wrapped in the standard {event, timestamp, data} envelope.
func buildEnvelope(event string, data map[string]any) ([]byte, error) {
	if data != nil {
		if _, ok := data["event"]; ok {
			return json.Marshal(data)
		}
	}
	if data == nil {
		data = map[string]any{}
	}
	return json.Marshal(map[string]any{
		"event":     event,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"data":      data,
	})
}
