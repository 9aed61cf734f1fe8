// Package coreapi is the HTTP client for the core API, the system of record
// for messages. Every call forwards the connection's bearer token.
package coreapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/cloudfly/chat-relay/internal/model"
	"github.com/cloudfly/chat-relay/pkg/logger"
	"github.com/cloudfly/chat-relay/pkg/metrics"
)

// DefaultTimeout bounds every core API call.
const DefaultTimeout = 10 * time.Second

// maxErrorBody caps how much of a failed response is kept in Error.
const maxErrorBody = 4 << 10

// Operation names used for spans and metrics.
const (
	OpSendMessage  = "send_message"
	OpMarkAsRead   = "mark_as_read"
	OpTypingStatus = "typing_status"
)

// Error is returned when the core API answers with a non-2xx status.
type Error struct {
	StatusCode int
	Body       string
}

func (e *Error) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("core API returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("core API returned status %d: %s", e.StatusCode, e.Body)
}

// API is the subset of the core API the relay depends on.
type API interface {
	SendMessage(ctx context.Context, token string, req *model.CreateMessageRequest) (json.RawMessage, error)
	MarkAsRead(ctx context.Context, token string, messageIDs json.RawMessage) error
	UpdateTypingStatus(ctx context.Context, token string, conversationID model.ID, isTyping bool) error
}

// Client calls the core API over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
	tracer  trace.Tracer
	logger  *logger.Logger
}

var _ API = (*Client)(nil)

// NewClient creates a client for the core API at baseURL. A nil httpClient
// gets a default client with DefaultTimeout.
func NewClient(baseURL string, httpClient *http.Client, log *logger.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		tracer:  otel.Tracer("github.com/cloudfly/chat-relay/internal/coreapi"),
		logger:  log,
	}
}

// SendMessage creates and sends an outbound message and returns the
// canonical message the core API stored.
func (c *Client) SendMessage(ctx context.Context, token string, req *model.CreateMessageRequest) (json.RawMessage, error) {
	path := "/api/chat/send/" + url.PathEscape(req.ConversationID.String())
	var out json.RawMessage
	if err := c.do(ctx, OpSendMessage, http.MethodPost, path, token, req, &out); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("core API returned an empty message")
	}
	return out, nil
}

// MarkAsRead records read receipts for messageIDs.
func (c *Client) MarkAsRead(ctx context.Context, token string, messageIDs json.RawMessage) error {
	return c.do(ctx, OpMarkAsRead, http.MethodPatch, "/api/chat/messages/read", token,
		&model.ReadReceiptRequest{MessageIDs: messageIDs}, nil)
}

// UpdateTypingStatus notifies the core API of a typing state change.
func (c *Client) UpdateTypingStatus(ctx context.Context, token string, conversationID model.ID, isTyping bool) error {
	return c.do(ctx, OpTypingStatus, http.MethodPost, "/api/chat/typing", token,
		&model.TypingStatusRequest{ConversationID: conversationID, IsTyping: isTyping}, nil)
}

func (c *Client) do(ctx context.Context, op, method, path, token string, body, out any) (err error) {
	ctx, span := c.tracer.Start(ctx, "coreapi."+op, trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("http.route", path),
		))
	start := time.Now()
	defer func() {
		metrics.RecordCoreAPICall(op, err, time.Since(start).Seconds())
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal %s request: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", op, err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		c.logger.Debug("core API error response",
			zap.String("operation", op),
			zap.Int("status", resp.StatusCode),
		)
		return &Error{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
		return fmt.Errorf("failed to decode %s response: %w", op, err)
	}
	return nil
}
