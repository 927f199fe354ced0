package webhook

import "errors"

// Domain errors for the webhook package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, webhook.ErrSubscriptionNotFound) {
//	    // handle not found case
//	}
var (
	// ErrSubscriptionNotFound is returned when a subscription ID does not exist.
	ErrSubscriptionNotFound = errors.New("webhook: subscription not found")

	// ErrSubscriptionExists is returned when creating a subscription whose
	// URL is already registered.
	ErrSubscriptionExists = errors.New("webhook: subscription already exists")

	// ErrDeliveryNotFound is returned when a delivery ID does not exist.
	ErrDeliveryNotFound = errors.New("webhook: delivery not found")

	// ErrInvalidURL is returned when a subscription URL is empty or not http(s).
	ErrInvalidURL = errors.New("webhook: invalid url")

	// ErrInvalidName is returned when a subscription name is empty.
	ErrInvalidName = errors.New("webhook: invalid name")

	// ErrInvalidEvents is returned when a subscription registers no event types.
	ErrInvalidEvents = errors.New("webhook: no event types")

	// ErrUnknownEvent is returned when a subscription registers an event
	// type that is not in the catalog.
	ErrUnknownEvent = errors.New("webhook: unknown event type")
)
