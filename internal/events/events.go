// Package events defines the wire envelopes exchanged over the work queue.
package events

import (
	"time"

	"github.com/google/uuid"
)

// EventHeader carries the identity and provenance of an event.
type EventHeader struct {
	EventID   string    `json:"event_id"`
	Timestamp time.Time `json:"timestamp"`
}

// NewHeader creates a header stamped with a fresh event ID.
func NewHeader() EventHeader {
	return EventHeader{
		EventID:   uuid.NewString(),
		Timestamp: time.Now().UTC(),
	}
}

// ReflectionRequestedEvent is one dispatched work item: generate and deliver
// a reflection for the named subscriber. Items carry no ordering guarantee
// and may be delivered more than once.
type ReflectionRequestedEvent struct {
	Header     EventHeader `json:"header"`
	Subscriber string      `json:"subscriber"`
}
