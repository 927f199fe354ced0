package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteAccessDecision records one access decision outcome.
//
// The write is non-blocking; points are batched and sent asynchronously.
// Tags stay low-cardinality (door and outcome), the requester goes into
// a field.
func (c *Client) WriteAccessDecision(doorID, requesterID string, granted bool) {
	if !c.IsConnected() {
		return
	}

	outcome := "denied"
	if granted {
		outcome = "granted"
	}

	point := write.NewPoint(
		"access_decisions",
		map[string]string{
			"door_id": doorID,
			"outcome": outcome,
		},
		map[string]interface{}{
			"requester_id": requesterID,
			"count":        1,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteDeliveryOutcome records a terminal webhook delivery outcome.
// Satisfies the dispatcher's metrics hook.
func (c *Client) WriteDeliveryOutcome(subscriptionID, event, status string, attempts int) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"webhook_deliveries",
		map[string]string{
			"subscription_id": subscriptionID,
			"event":           event,
			"status":          status,
		},
		map[string]interface{}{
			"attempts": attempts,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteLockWait records how long an access request waited for a
// contended door lock. Zero-wait acquisitions are not recorded.
func (c *Client) WriteLockWait(doorID string, waited time.Duration) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"lock_waits",
		map[string]string{
			"door_id": doorID,
		},
		map[string]interface{}{
			"wait_ms": waited.Milliseconds(),
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
// Use for measurements that don't fit the helper methods.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}
