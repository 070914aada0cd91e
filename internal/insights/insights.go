// Package insights provides the telemetry channel for call lifecycle
// events, quality warnings, and scoped message-delivery reports.
package insights

import (
	"time"
)

// EventGroup buckets related events for downstream aggregation.
type EventGroup string

const (
	GroupConnection EventGroup = "connection"
	GroupSignaling  EventGroup = "signaling"
	GroupQuality    EventGroup = "quality"
	GroupFeedback   EventGroup = "feedback"
)

// Event is one telemetry record scoped to a call.
type Event struct {
	// Group buckets the event for aggregation.
	Group EventGroup `json:"group"`

	// Name identifies the event within its group, e.g. "accepted",
	// "ice-restart", "message-send-failed".
	Name string `json:"name"`

	// CallSid correlates the event with a call. May be the temporary
	// outbound id when the server has not assigned a CallSid yet.
	CallSid string `json:"call_sid,omitempty"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Payload carries event-specific details.
	Payload map[string]any `json:"payload,omitempty"`
}

// New constructs an Event stamped with the current time.
func New(group EventGroup, name, callSid string, payload map[string]any) Event {
	return Event{
		Group:     group,
		Name:      name,
		CallSid:   callSid,
		Timestamp: time.Now(),
		Payload:   payload,
	}
}
