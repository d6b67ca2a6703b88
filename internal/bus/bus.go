// Package bus distributes impulse and request state-change events to
// connected viewers. Delivery is best-effort, at-least-once: subscribers
// merge by id, publishers never block on a slow consumer.
package bus

import (
	"context"
	"encoding/json"
	"time"
)

// EventType names a state change carried by the bus.
type EventType string

const (
	// EventImpulseCreated announces a new impulse to viewers.
	EventImpulseCreated EventType = "impulse-created"
	// EventImpulseDeleted announces an impulse removed by its owner or by expiry.
	EventImpulseDeleted EventType = "impulse-deleted"
	// EventRequestCreated tells an impulse owner a join request arrived.
	EventRequestCreated EventType = "request-created"
	// EventRequestResolved tells a requester their request was accepted or rejected.
	EventRequestResolved EventType = "request-resolved"
)

// Event is a single state change. Events that share an ImpulseID are
// delivered to a given subscriber in emit order; there is no ordering
// guarantee across impulses.
type Event struct {
	Type      EventType       `json:"type"`
	ImpulseID string          `json:"impulse_id"`
	Payload   json.RawMessage `json:"payload"`
	EmittedAt time.Time       `json:"emitted_at"`
}

// Bus fans events out to subscribers in two scopes: broadcast reaches every
// current viewer, directed reaches a single identity. A subscription is a
// delta stream from its join point; callers needing current state list it
// separately. Cancelling the returned function (or the context) stops
// delivery with no further side effects.
type Bus interface {
	Broadcast(event Event)
	Direct(identity string, event Event)
	SubscribeBroadcast(ctx context.Context) (<-chan Event, func())
	SubscribeDirected(ctx context.Context, identity string) (<-chan Event, func())
}
