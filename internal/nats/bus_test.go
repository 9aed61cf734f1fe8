package nats

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudfly/chat-relay/internal/bus"
	"github.com/cloudfly/chat-relay/pkg/logger"
)

func newTestBus(t *testing.T) *Bus {
	t.Helper()
	srv, err := StartEmbedded("127.0.0.1", -1)
	require.NoError(t, err)
	t.Cleanup(srv.Shutdown)

	client, err := Connect(Config{URL: srv.ClientURL()}, logger.NewNop())
	require.NoError(t, err)
	b := NewBus(client)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestBus_PublishSubscribe(t *testing.T) {
	b := newTestBus(t)
	assert.True(t, b.Healthy())

	got := make(chan bus.Event, 1)
	sub, err := b.Subscribe("tenant_1_conv_5", func(ev bus.Event) { got <- ev })
	require.NoError(t, err)

	ev, err := bus.NewEvent("new-message", map[string]any{"id": 9})
	require.NoError(t, err)
	require.NoError(t, b.Publish(context.Background(), "tenant_1_conv_5", ev.Except("conn-1")))

	select {
	case e := <-got:
		assert.Equal(t, "new-message", e.Name)
		assert.Equal(t, "conn-1", e.Origin)
		assert.JSONEq(t, `{"id":9}`, string(e.Data))
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}

	require.NoError(t, sub.Unsubscribe())
	require.NoError(t, b.Publish(context.Background(), "tenant_1_conv_5", ev))
	select {
	case <-got:
		t.Fatal("delivered after unsubscribe")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestBus_RoomsAreIsolated(t *testing.T) {
	b := newTestBus(t)

	got := make(chan bus.Event, 2)
	_, err := b.Subscribe("tenant_1_conv_5", func(ev bus.Event) { got <- ev })
	require.NoError(t, err)

	ev := bus.Event{Name: "user-typing", Data: json.RawMessage(`{}`)}
	require.NoError(t, b.Publish(context.Background(), "tenant_2_conv_5", ev))
	require.NoError(t, b.Publish(context.Background(), "tenant_1_conv_5", ev))

	select {
	case e := <-got:
		assert.Equal(t, "user-typing", e.Name)
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
	select {
	case <-got:
		t.Fatal("event leaked across tenants")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestBus_Closed(t *testing.T) {
	b := newTestBus(t)
	require.NoError(t, b.Close())

	assert.Eventually(t, func() bool { return b.client.Conn().IsClosed() }, 2*time.Second, 10*time.Millisecond)
	assert.False(t, b.Healthy())
	_, err := b.Subscribe("tenant_1_presence", func(bus.Event) {})
	assert.ErrorIs(t, err, bus.ErrClosed)
}

func TestSubject(t *testing.T) {
	assert.Equal(t, "relay.room.tenant_1_presence", Subject("tenant_1_presence"))
}
