// Package mqtt mirrors dispatched events onto an MQTT broker for
// building-management integrations that prefer a broker over webhooks.
//
// The mirror is publish-only: access-core never consumes commands from
// the broker (door controllers poll over HTTP). Each triggered event is
// published to accesscore/events/<type>, and the client maintains a
// retained status message on accesscore/system/status with a Last Will
// so integrations can detect an unexpected outage.
//
// The whole package is optional; when mqtt.enabled is false in the
// configuration nothing here is constructed.
package mqtt
