package mqtt

import "strings"

// topicPrefix is the root of the access-core topic namespace.
const topicPrefix = "accesscore"

// EventTopic returns the topic an event type is mirrored to, e.g.
// accesscore/events/access.granted.
func EventTopic(event string) string {
	return topicPrefix + "/events/" + event
}

// SystemStatusTopic is the retained online/offline status topic.
func SystemStatusTopic() string {
	return topicPrefix + "/system/status"
}

// validEvent reports whether an event type can form a topic segment.
// MQTT forbids the wildcard and separator characters inside a segment.
func validEvent(event string) bool {
	if event == "" {
		return false
	}
	return !strings.ContainsAny(event, "/#+")
}
