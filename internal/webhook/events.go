package webhook

// Event types emitted by access-core.
const (
	// EventAccessGranted fires when an access request is granted and an
	// open command has been queued.
	EventAccessGranted = "access.granted"

	// EventAccessDenied fires when an access request is denied.
	EventAccessDenied = "access.denied"

	// EventDoorOpened fires when a door reports it has opened.
	EventDoorOpened = "door.opened"

	// EventDoorLocked fires when a door reports it has locked.
	EventDoorLocked = "door.locked"

	// EventCommandExecuted fires when a controller claims queued commands.
	EventCommandExecuted = "command.executed"

	// EventDeliveryFailed fires when a webhook delivery exhausts its retry
	// budget. Emitted so an external monitor can react; it is never
	// delivered to the subscription that failed.
	EventDeliveryFailed = "system.delivery_failed"

	// EventWebhookTest is sent by the manual test-send management operation.
	EventWebhookTest = "webhook.test"
)

// EventTypeInfo describes one event type for the management API.
type EventTypeInfo struct {
	Type        string `json:"type"`
	Description string `json:"description"`
}

// EventTypes returns the catalog of subscribable event types with
// human-readable descriptions. The wildcard marker is listed so management
// UIs can offer it.
func EventTypes() []EventTypeInfo {
	return []EventTypeInfo{
		{EventTypeAll, "All events (wildcard)"},
		{EventAccessGranted, "An access request was granted and an open command queued"},
		{EventAccessDenied, "An access request was denied"},
		{EventDoorOpened, "A door reported it has opened"},
		{EventDoorLocked, "A door reported it has locked"},
		{EventCommandExecuted, "A door controller claimed its queued commands"},
		{EventDeliveryFailed, "A webhook delivery permanently failed"},
		{EventWebhookTest, "Manual test delivery"},
	}
}

// ValidEventType reports whether t is in the event catalog.
func ValidEventType(t string) bool {
	for _, info := range EventTypes() {
		if info.Type == t {
			return true
		}
	}
	return false
}
