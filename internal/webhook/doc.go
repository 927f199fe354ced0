// Package webhook provides the event dispatcher: subscription management,
// signed HTTP delivery with retry/backoff, and delivery outcome tracking.
//
// External systems register a Subscription (target URL, signing secret,
// event-type filter, retry policy). When an event is triggered, one
// Delivery is created per matching active subscription and attempted
// immediately. Failures are retried with exponential backoff (1s, 2s, 4s,
// ...) up to the subscription's attempt budget, after which the delivery is
// recorded as permanently failed and surfaced as a system event.
//
// Payloads are signed with HMAC-SHA256 over the exact serialized envelope;
// receivers verify with a constant-time comparison (see Verify).
//
// Deliveries are persisted in SQLite and non-terminal retries are re-armed
// when the dispatcher starts, so scheduled retries survive a restart.
//
// Delivery is best-effort relative to the operation that triggered the
// event: a dispatcher failure never fails an access decision.
package webhook
