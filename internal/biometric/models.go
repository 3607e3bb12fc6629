// Package biometric collects liveness and environment telemetry captured
// during a session: blink and head-pose observations plus IP and geolocation
// samples. Events are buffered in memory and flushed to the store by a
// background worker so the signaling path never blocks on persistence.
package biometric

import (
	"time"

	"vkyc/pkg/domain"
)

// EventType enumerates the telemetry kinds accepted by the logger.
type EventType string

const (
	EventBlink    EventType = "blink"
	EventHeadPose EventType = "head_pose"
	EventIPSample EventType = "ip_sample"
	EventGeo      EventType = "geo_sample"
)

// ParseEventType validates a wire-level event type.
func ParseEventType(raw string) (EventType, bool) {
	switch EventType(raw) {
	case EventBlink, EventHeadPose, EventIPSample, EventGeo:
		return EventType(raw), true
	}
	return "", false
}

// Event is one telemetry observation.
type Event struct {
	SessionID  domain.SessionID
	Type       EventType
	CapturedAt time.Time
	// Payload carries type-specific fields, stored as-is.
	Payload map[string]any
}
