package coreapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudfly/chat-relay/internal/model"
	"github.com/cloudfly/chat-relay/pkg/logger"
)

type recorded struct {
	method string
	path   string
	auth   string
	body   map[string]any
}

func newServer(t *testing.T, status int, response string) (*Client, <-chan recorded) {
	t.Helper()
	calls := make(chan recorded, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var body map[string]any
		_ = json.Unmarshal(raw, &body)
		calls <- recorded{method: r.Method, path: r.URL.Path, auth: r.Header.Get("Authorization"), body: body}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(response))
	}))
	t.Cleanup(srv.Close)
	return NewClient(srv.URL+"/", nil, logger.NewNop()), calls
}

func TestClient_SendMessage(t *testing.T) {
	client, calls := newServer(t, http.StatusOK, `{"id":77,"conversationId":5,"body":"hi"}`)

	msg, err := client.SendMessage(context.Background(), "tok", &model.CreateMessageRequest{
		ConversationID:          "5",
		TenantID:                "3",
		FromUserID:              "9",
		Direction:               model.DirectionOutbound,
		MessageType:             model.DefaultMessageType,
		Body:                    "hi",
		Platform:                model.DefaultPlatform,
		ExternalQuotedMessageID: "q1",
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":77,"conversationId":5,"body":"hi"}`, string(msg))

	call := <-calls
	assert.Equal(t, http.MethodPost, call.method)
	assert.Equal(t, "/api/chat/send/5", call.path)
	assert.Equal(t, "Bearer tok", call.auth)
	assert.Equal(t, "OUTBOUND", call.body["direction"])
	assert.Equal(t, "9", call.body["fromUserId"])
	assert.Equal(t, "3", call.body["tenantId"])
	assert.Equal(t, "q1", call.body["externalQuotedMessageId"])
	assert.Equal(t, "WHATSAPP", call.body["platform"])
}

func TestClient_SendMessage_ErrorStatus(t *testing.T) {
	client, _ := newServer(t, http.StatusBadRequest, `{"error":"conversation closed"}`)

	_, err := client.SendMessage(context.Background(), "tok", &model.CreateMessageRequest{ConversationID: "5"})
	require.Error(t, err)

	var apiErr *Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Contains(t, apiErr.Error(), "conversation closed")
}

func TestClient_MarkAsRead(t *testing.T) {
	client, calls := newServer(t, http.StatusNoContent, "")

	err := client.MarkAsRead(context.Background(), "tok", json.RawMessage(`[1,"2"]`))
	require.NoError(t, err)

	call := <-calls
	assert.Equal(t, http.MethodPatch, call.method)
	assert.Equal(t, "/api/chat/messages/read", call.path)
	assert.Equal(t, []any{float64(1), "2"}, call.body["messageIds"])
}

func TestClient_UpdateTypingStatus(t *testing.T) {
	client, calls := newServer(t, http.StatusOK, `{}`)

	require.NoError(t, client.UpdateTypingStatus(context.Background(), "tok", "5", true))

	call := <-calls
	assert.Equal(t, http.MethodPost, call.method)
	assert.Equal(t, "/api/chat/typing", call.path)
	assert.Equal(t, "5", call.body["conversationId"])
	assert.Equal(t, true, call.body["isTyping"])
}

func TestClient_Timeout(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(block)
		srv.Close()
	})

	client := NewClient(srv.URL, &http.Client{Timeout: 50 * time.Millisecond}, logger.NewNop())
	err := client.UpdateTypingStatus(context.Background(), "tok", "5", false)
	require.Error(t, err)
	var apiErr *Error
	assert.False(t, errors.As(err, &apiErr))
}
