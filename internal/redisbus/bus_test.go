package redisbus

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudfly/chat-relay/internal/bus"
	"github.com/cloudfly/chat-relay/pkg/logger"
)

func newTestBus(t *testing.T) *Bus {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	b, err := Connect(context.Background(), Config{Addr: addr}, logger.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestBus_PublishSubscribe(t *testing.T) {
	b := newTestBus(t)
	assert.True(t, b.Healthy())

	room := "tenant_test_conv_" + time.Now().Format("150405.000000")
	got1 := make(chan bus.Event, 1)
	got2 := make(chan bus.Event, 1)
	sub1, err := b.Subscribe(room, func(ev bus.Event) { got1 <- ev })
	require.NoError(t, err)
	_, err = b.Subscribe(room, func(ev bus.Event) { got2 <- ev })
	require.NoError(t, err)

	// Subscription confirmation is asynchronous on Redis.
	time.Sleep(100 * time.Millisecond)

	ev, err := bus.NewEvent("user-online", map[string]string{"userId": "1"})
	require.NoError(t, err)
	require.NoError(t, b.Publish(context.Background(), room, ev.Except("c1")))

	for _, ch := range []chan bus.Event{got1, got2} {
		select {
		case e := <-ch:
			assert.Equal(t, "user-online", e.Name)
			assert.Equal(t, "c1", e.Origin)
			assert.JSONEq(t, `{"userId":"1"}`, string(e.Data))
		case <-time.After(2 * time.Second):
			t.Fatal("event not delivered")
		}
	}

	require.NoError(t, sub1.Unsubscribe())
	require.NoError(t, sub1.Unsubscribe())
	require.NoError(t, b.Publish(context.Background(), room, ev))

	select {
	case <-got2:
	case <-time.After(2 * time.Second):
		t.Fatal("remaining member lost its subscription")
	}
	select {
	case <-got1:
		t.Fatal("delivered after unsubscribe")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestBus_SubscribeAfterClose(t *testing.T) {
	b := newTestBus(t)
	require.NoError(t, b.Close())

	_, err := b.Subscribe("tenant_1_presence", func(bus.Event) {})
	assert.ErrorIs(t, err, bus.ErrClosed)
}

func TestChannel(t *testing.T) {
	assert.Equal(t, "relay:room:tenant_1_presence", Channel("tenant_1_presence"))
}
