package access

import "time"

// EventKind what happened to a session
type EventKind string

// session events
const (
	EventPreviewStarted EventKind = "preview_started"
	EventTick           EventKind = "tick"
	EventPreviewEnded   EventKind = "preview_ended"
	EventPaymentPending EventKind = "payment_pending"
	EventPaymentFailed  EventKind = "payment_failed"
	EventUnlocked       EventKind = "unlocked"
	EventClosed         EventKind = "closed"
)

// Event pushed to session subscribers
type Event struct {
	Kind   EventKind `json:"kind"`
	View   View      `json:"view"`
	Reason string    `json:"reason,omitempty"`
	At     time.Time `json:"at"`
}

// DefaultSubscriberBuffer events buffered per subscriber before dropping
const DefaultSubscriberBuffer = 64

type subscriber struct {
	ch      chan Event
	dropped int
}
