// Package bus defines the room transport the relay broadcasts through.
//
// A room is a pub/sub topic: joining subscribes, leaving unsubscribes and
// broadcasting publishes. Implementations live in internal/nats and
// internal/redisbus.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrClosed is returned by operations on a bus that has been closed.
var ErrClosed = errors.New("bus closed")

// Event is one server-to-client event published to a room.
type Event struct {
	Name string          `json:"event"`
	Data json.RawMessage `json:"data"`
	// Origin is the connection id of the publisher when the event must not be
	// echoed back to it. Empty means deliver to every member.
	Origin string `json:"origin,omitempty"`
}

// NewEvent marshals payload into an event named name.
func NewEvent(name string, payload any) (Event, error) {
	if raw, ok := payload.(json.RawMessage); ok {
		return Event{Name: name, Data: raw}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("failed to marshal %s payload: %w", name, err)
	}
	return Event{Name: name, Data: data}, nil
}

// Except returns a copy of e that will not be delivered to connection origin.
func (e Event) Except(origin string) Event {
	e.Origin = origin
	return e
}

// Handler receives events published to a subscribed room.
type Handler func(Event)

// Subscription is a single membership in a room.
type Subscription interface {
	Unsubscribe() error
}

// Bus is the room transport.
type Bus interface {
	// Publish broadcasts ev to every current member of room.
	Publish(ctx context.Context, room string, ev Event) error
	// Subscribe joins room. The membership is active when Subscribe returns.
	Subscribe(room string, fn Handler) (Subscription, error)
	// Healthy reports whether the bus can currently deliver events.
	Healthy() bool
	Close() error
}
