package models

import "time"

// EventType enumerates change-fabric event kinds.
type EventType string

const (
	EventCreated EventType = "created"
	EventUpdated EventType = "updated"
	EventDeleted EventType = "deleted"
	EventPing    EventType = "ping"
)

// EventEnvelope is the wire format carried by the subject bus, SSE streams
// and webhook bodies. The context payload is deliberately omitted: selector
// context predicates cannot be evaluated against an envelope, which keeps
// fan-out cheap and prevents payload leakage through subscription channels.
//
// Visibility and sensitivity ride along so stored selectors with
// visibility_in / sensitivity_in predicates can match on the envelope alone.
type EventEnvelope struct {
	Type        EventType   `json:"type"`
	RecordID    string      `json:"record_id"`
	Owner       string      `json:"owner"`
	SchemaName  string      `json:"schema_name,omitempty"`
	Tags        []string    `json:"tags"`
	Version     int         `json:"version"`
	UpdatedAt   time.Time   `json:"updated_at"`
	Visibility  Visibility  `json:"visibility,omitempty"`
	Sensitivity Sensitivity `json:"sensitivity,omitempty"`
}

// HasTag reports whether the envelope carries tag t.
func (e *EventEnvelope) HasTag(t string) bool {
	for _, tag := range e.Tags {
		if tag == t {
			return true
		}
	}
	return false
}
