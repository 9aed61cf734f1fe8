package handler

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudfly/chat-relay/internal/auth"
	"github.com/cloudfly/chat-relay/internal/coreapi"
	"github.com/cloudfly/chat-relay/internal/model"
	natsbus "github.com/cloudfly/chat-relay/internal/nats"
	"github.com/cloudfly/chat-relay/internal/service"
	"github.com/cloudfly/chat-relay/internal/socket"
	"github.com/cloudfly/chat-relay/pkg/logger"
)

var e2eKey = []byte("e2e-signing-key")

type relayEnv struct {
	url    string
	server *socket.Server
}

func startRelay(t *testing.T) *relayEnv {
	t.Helper()
	log := logger.NewNop()

	ns, err := natsbus.StartEmbedded("127.0.0.1", -1)
	require.NoError(t, err)
	t.Cleanup(ns.Shutdown)

	client, err := natsbus.Connect(natsbus.Config{URL: ns.ClientURL()}, log)
	require.NoError(t, err)
	b := natsbus.NewBus(client)
	t.Cleanup(func() { _ = b.Close() })

	core := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		if strings.HasPrefix(r.URL.Path, "/api/chat/send/") {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"id":1001,"conversationId":5,"body":"hello","status":"SENT"}`))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(core.Close)

	relay := service.NewRelay(b, coreapi.NewClient(core.URL, nil, log), 0, log)
	sockets := socket.NewServer(b, relay, []string{"*"}, log)
	router := NewRouter(
		RouterConfig{AllowedOrigins: []string{"*"}, NotifySecret: testSecret, RateLimitWindow: time.Minute},
		NewHealthHandler(b, "chat-relay", "test"),
		NewNotifyHandler(service.NewNotifier(b, log), log),
		NewSocketHandler(auth.NewJWTAuthenticator(e2eKey), sockets, log),
		log,
	)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	t.Cleanup(relay.Wait)

	return &relayEnv{url: srv.URL, server: sockets}
}

type wsClient struct {
	t    *testing.T
	conn *websocket.Conn
	seen []string
}

func (e *relayEnv) dial(t *testing.T, id auth.Identity) *wsClient {
	t.Helper()
	token, err := auth.IssueToken(e2eKey, id, time.Hour)
	require.NoError(t, err)

	wsURL := "ws" + strings.TrimPrefix(e.url, "http") + "/ws?token=" + token
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })
	return &wsClient{t: t, conn: conn}
}

func (c *wsClient) send(event string, data any) {
	c.t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(c.t, err)
	require.NoError(c.t, c.conn.WriteJSON(model.Frame{Event: event, Data: raw}))
}

// expect reads frames until one named event arrives.
func (c *wsClient) expect(event string) json.RawMessage {
	c.t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		_ = c.conn.SetReadDeadline(deadline)
		var f model.Frame
		if err := c.conn.ReadJSON(&f); err != nil {
			c.t.Fatalf("waiting for %s: %v", event, err)
		}
		c.seen = append(c.seen, f.Event)
		if f.Event == event {
			return f.Data
		}
	}
}

// expectNone fails if event arrives within wait. Reads time out at the end,
// which leaves the connection unusable.
func (c *wsClient) expectNone(event string, wait time.Duration) {
	c.t.Helper()
	deadline := time.Now().Add(wait)
	for {
		_ = c.conn.SetReadDeadline(deadline)
		var f model.Frame
		if err := c.conn.ReadJSON(&f); err != nil {
			return
		}
		if f.Event == event {
			c.t.Fatalf("unexpected %s: %s", event, f.Data)
		}
	}
}

func TestRelayEndToEnd(t *testing.T) {
	env := startRelay(t)

	ana := auth.Identity{UserID: "1", TenantID: "3", Roles: []string{"AGENT"}, UserName: "ana"}
	bob := auth.Identity{UserID: "2", TenantID: "3", Roles: []string{"AGENT"}, UserName: "bob"}
	eve := auth.Identity{UserID: "9", TenantID: "4", Roles: []string{"AGENT"}, UserName: "eve"}

	a := env.dial(t, ana)
	a.send(model.EventJoinConversation, map[string]any{"conversationId": 5})
	joined := a.expect(model.EventJoinedConversation)
	assert.JSONEq(t, `{"conversationId":"5","room":"tenant_3_conv_5"}`, string(joined))

	b := env.dial(t, bob)
	online := a.expect(model.EventUserOnline)
	assert.Contains(t, string(online), `"userId":"2"`)

	e := env.dial(t, eve)
	for _, c := range []*wsClient{b, e} {
		c.send(model.EventJoinConversation, map[string]any{"conversationId": 5})
		c.expect(model.EventJoinedConversation)
	}

	// Typing reaches peers but not the sender.
	a.send(model.EventTyping, map[string]any{"conversationId": 5})
	typing := b.expect(model.EventUserTyping)
	assert.JSONEq(t, `{"userId":"1","userName":"ana","conversationId":"5"}`, string(typing))

	// Sent messages reach the whole room, sender included, and no other tenant.
	a.send(model.EventSendMessage, map[string]any{"conversationId": 5, "body": "hello"})
	for _, c := range []*wsClient{a, b} {
		msg := c.expect(model.EventNewMessage)
		assert.JSONEq(t, `{"id":1001,"conversationId":5,"body":"hello","status":"SENT"}`, string(msg))
	}
	assert.NotContains(t, a.seen, model.EventUserTyping)
	e.expectNone(model.EventNewMessage, 200*time.Millisecond)

	// Webhook messages land in the same rooms.
	req, err := http.NewRequest(http.MethodPost, env.url+"/api/notify/new-message",
		strings.NewReader(`{"messageId":77,"conversationId":5,"tenantId":3,"body":"inbound"}`))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Secret", testSecret)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	inbound := b.expect(model.EventNewMessage)
	assert.Contains(t, string(inbound), `"body":"inbound"`)
	assert.Contains(t, string(inbound), `"status":"DELIVERED"`)

	// Malformed frames get an error back.
	require.NoError(t, a.conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	errFrame := a.expect(model.EventError)
	assert.JSONEq(t, `{"message":"invalid frame"}`, string(errFrame))

	// Disconnect announces offline to the tenant.
	require.NoError(t, b.conn.Close())
	offline := a.expect(model.EventUserOffline)
	assert.Contains(t, string(offline), `"userId":"2"`)
}

func TestRelayShutdownClosesSockets(t *testing.T) {
	env := startRelay(t)
	c := env.dial(t, auth.Identity{UserID: "1", TenantID: "3", UserName: "ana"})

	require.Eventually(t, func() bool { return env.server.Count() == 1 }, 2*time.Second, 10*time.Millisecond)

	ctx, cancel := contextWithTimeout(2 * time.Second)
	defer cancel()
	require.NoError(t, env.server.Shutdown(ctx))

	_ = c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := c.conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
	assert.Equal(t, 0, env.server.Count())
}
