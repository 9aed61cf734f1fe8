package nats

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/cloudfly/chat-relay/internal/bus"
)

const (
	// SubjectPrefix is prepended to every room name.
	SubjectPrefix = "relay.room."

	headerEvent  = "Relay-Event"
	headerOrigin = "Relay-Origin"

	subscribeFlushTimeout = 5 * time.Second
)

// Bus publishes room events as NATS messages. The event name and origin ride
// in headers and the payload is the raw JSON data.
type Bus struct {
	client *Client
}

var _ bus.Bus = (*Bus)(nil)

// NewBus creates a room bus over client.
func NewBus(client *Client) *Bus {
	return &Bus{client: client}
}

// Subject returns the NATS subject for room.
func Subject(room string) string {
	return SubjectPrefix + room
}

// Publish sends ev to room.
func (b *Bus) Publish(ctx context.Context, room string, ev bus.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if b.client.Conn().IsClosed() {
		return bus.ErrClosed
	}

	msg := nats.NewMsg(Subject(room))
	msg.Header.Set(headerEvent, ev.Name)
	if ev.Origin != "" {
		msg.Header.Set(headerOrigin, ev.Origin)
	}
	msg.Data = ev.Data

	if err := b.client.Conn().PublishMsg(msg); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", room, err)
	}
	return nil
}

// Subscribe joins room. It flushes so the server has registered interest
// before the caller acknowledges the join.
func (b *Bus) Subscribe(room string, fn bus.Handler) (bus.Subscription, error) {
	nc := b.client.Conn()
	if nc.IsClosed() {
		return nil, bus.ErrClosed
	}

	sub, err := nc.Subscribe(Subject(room), func(msg *nats.Msg) {
		name := msg.Header.Get(headerEvent)
		if name == "" {
			b.client.logger.Debug("dropping message without event header", zap.String("subject", msg.Subject))
			return
		}
		fn(bus.Event{
			Name:   name,
			Data:   msg.Data,
			Origin: msg.Header.Get(headerOrigin),
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", room, err)
	}

	if err := nc.FlushTimeout(subscribeFlushTimeout); err != nil {
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("failed to register subscription to %s: %w", room, err)
	}
	return sub, nil
}

// Healthy reports whether the NATS connection is up.
func (b *Bus) Healthy() bool {
	return b.client.IsConnected()
}

// Close drains the connection.
func (b *Bus) Close() error {
	b.client.Close()
	return nil
}
