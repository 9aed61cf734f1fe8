// Package redisbus implements the room bus on Redis Pub/Sub.
//
// All rooms share a single Pub/Sub connection. Local handlers are kept per
// channel and the Redis subscription is dropped when the last one leaves.
package redisbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/cloudfly/chat-relay/internal/bus"
	"github.com/cloudfly/chat-relay/pkg/logger"
)

// ChannelPrefix is prepended to every room name.
const ChannelPrefix = "relay:room:"

// Config holds Redis connection configuration.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// Bus is a bus.Bus backed by Redis Pub/Sub.
type Bus struct {
	rdb    *redis.Client
	pubsub *redis.PubSub
	logger *logger.Logger

	mu       sync.Mutex
	handlers map[string]map[uint64]bus.Handler
	nextID   uint64
	closed   bool

	done chan struct{}
}

var _ bus.Bus = (*Bus)(nil)

// Channel returns the Redis channel for room.
func Channel(room string) string {
	return ChannelPrefix + room
}

// Connect dials Redis, verifies it with PING and starts the receive loop.
func Connect(ctx context.Context, cfg Config, log *logger.Logger) (*Bus, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	b := &Bus{
		rdb:      rdb,
		pubsub:   rdb.Subscribe(context.Background()),
		logger:   log,
		handlers: make(map[string]map[uint64]bus.Handler),
		done:     make(chan struct{}),
	}
	go b.receive()
	return b, nil
}

func (b *Bus) receive() {
	defer close(b.done)
	for msg := range b.pubsub.Channel(redis.WithChannelSize(1024)) {
		var ev bus.Event
		if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
			b.logger.Warn("dropping malformed room event", zap.String("channel", msg.Channel), zap.Error(err))
			continue
		}

		b.mu.Lock()
		hs := make([]bus.Handler, 0, len(b.handlers[msg.Channel]))
		for _, h := range b.handlers[msg.Channel] {
			hs = append(hs, h)
		}
		b.mu.Unlock()

		for _, h := range hs {
			h(ev)
		}
	}
}

// Publish sends ev to room.
func (b *Bus) Publish(ctx context.Context, room string, ev bus.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := b.rdb.Publish(ctx, Channel(room), payload).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", room, err)
	}
	return nil
}

// Subscribe registers fn for room, subscribing the shared connection to the
// channel if this is its first local member.
func (b *Bus) Subscribe(room string, fn bus.Handler) (bus.Subscription, error) {
	ch := Channel(room)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, bus.ErrClosed
	}

	if len(b.handlers[ch]) == 0 {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := b.pubsub.Subscribe(ctx, ch); err != nil {
			return nil, fmt.Errorf("failed to subscribe to %s: %w", room, err)
		}
		b.handlers[ch] = make(map[uint64]bus.Handler)
	}

	b.nextID++
	id := b.nextID
	b.handlers[ch][id] = fn
	return &subscription{bus: b, channel: ch, id: id}, nil
}

func (b *Bus) remove(ch string, id uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	hs, ok := b.handlers[ch]
	if !ok {
		return nil
	}
	delete(hs, id)
	if len(hs) > 0 {
		return nil
	}
	delete(b.handlers, ch)
	if b.closed {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.pubsub.Unsubscribe(ctx, ch); err != nil {
		return fmt.Errorf("failed to unsubscribe from %s: %w", ch, err)
	}
	return nil
}

// Healthy pings Redis.
func (b *Bus) Healthy() bool {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return b.rdb.Ping(ctx).Err() == nil
}

// Close closes the Pub/Sub connection and the client.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	err := b.pubsub.Close()
	<-b.done
	if cerr := b.rdb.Close(); err == nil {
		err = cerr
	}
	return err
}

type subscription struct {
	bus     *Bus
	channel string
	id      uint64
	once    sync.Once
}

func (s *subscription) Unsubscribe() error {
	var err error
	s.once.Do(func() {
		err = s.bus.remove(s.channel, s.id)
	})
	return err
}
