package events

import (
	"context"
	"time"
)

// Event names mirror the channels the dashboard frontend subscribes to.
const (
	TypePatientCreated = "patient:created"
	TypePatientUpdated = "patient:updated"
	TypeBedCreated     = "bed:created"
	TypeBedUpdated     = "bed:updated"
)

// Event is a transport-agnostic notification about a state change.
// Payload carries the updated record as plain data.
type Event struct {
	Type       string    `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Payload    any       `json:"payload"`
}

// Publisher delivers events to the real-time broadcast layer.
// Implementations must not block mutations on delivery problems.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Nop discards all events. Used in tests and offline tooling.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
