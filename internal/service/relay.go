// Package service implements the relay's event handlers and the inbound
// webhook gateway.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cloudfly/chat-relay/internal/auth"
	"github.com/cloudfly/chat-relay/internal/bus"
	"github.com/cloudfly/chat-relay/internal/coreapi"
	"github.com/cloudfly/chat-relay/internal/model"
	"github.com/cloudfly/chat-relay/internal/room"
	"github.com/cloudfly/chat-relay/pkg/logger"
	"github.com/cloudfly/chat-relay/pkg/metrics"
)

// Client-visible error messages.
const (
	MsgInvalidMessage       = "Invalid message data"
	MsgSendFailed           = "Failed to send message"
	MsgConversationRequired = "conversationId is required"
	MsgJoinFailed           = "Failed to join room"
	MsgInvalidFrame         = "invalid frame"
)

// Session is an authenticated realtime connection as seen by the handlers.
type Session interface {
	ID() string
	Identity() auth.Identity
	// Token is the bearer token presented at connect time.
	Token() string
	// Emit queues an event for this connection only.
	Emit(event string, payload any)
	Join(room string) error
	Leave(room string) error
}

type typingKey struct {
	connID         string
	conversationID model.ID
}

type typingTimer struct {
	timer *time.Timer
}

// DefaultMaxPendingSends bounds the send-message calls one connection may
// have outstanding against the core API.
const DefaultMaxPendingSends = 4

// Relay translates client events into core API calls and room broadcasts.
type Relay struct {
	bus           bus.Bus
	api           coreapi.API
	typingTimeout time.Duration
	maxSends      int
	logger        *logger.Logger
	now           func() time.Time

	// wg tracks work that outlives the event that started it.
	wg sync.WaitGroup

	mu     sync.Mutex
	typing map[typingKey]*typingTimer
	sends  map[string]chan struct{}
}

// NewRelay creates the event handlers. A typingTimeout of zero disables the
// automatic stop-typing broadcast.
func NewRelay(b bus.Bus, api coreapi.API, typingTimeout time.Duration, log *logger.Logger) *Relay {
	return &Relay{
		bus:           b,
		api:           api,
		typingTimeout: typingTimeout,
		maxSends:      DefaultMaxPendingSends,
		logger:        log,
		now:           time.Now,
		typing:        make(map[typingKey]*typingTimer),
		sends:         make(map[string]chan struct{}),
	}
}

// Dispatch routes one inbound frame. The core API call of a send-message runs
// in the background so a slow upstream does not stall the connection's other
// events; validation and typing cancellation happen before Dispatch returns.
// Once a connection has maxSends calls outstanding, Dispatch blocks until one
// finishes. Handler panics are recovered and logged.
func (r *Relay) Dispatch(ctx context.Context, s Session, frame model.Frame) {
	metrics.ClientEventsTotal.WithLabelValues(metricEventLabel(frame.Event)).Inc()

	defer r.recoverHandler(s, frame.Event)

	switch frame.Event {
	case model.EventSendMessage:
		req, ok := r.prepareSend(s, frame.Data)
		if !ok {
			return
		}
		release, ok := r.acquireSend(ctx, s.ID())
		if !ok {
			return
		}
		r.goTracked(s, frame.Event, func() {
			defer release()
			r.send(ctx, s, req)
		})
	case model.EventMarkAsRead:
		r.MarkAsRead(ctx, s, frame.Data)
	case model.EventTyping:
		r.Typing(ctx, s, frame.Data)
	case model.EventStopTyping:
		r.StopTyping(ctx, s, frame.Data)
	case model.EventJoinConversation:
		r.JoinConversation(ctx, s, frame.Data)
	case model.EventLeaveConversation:
		r.LeaveConversation(ctx, s, frame.Data)
	case model.EventSubscribePlatform:
		r.SubscribePlatform(ctx, s, frame.Data)
	default:
		r.logger.Debug("ignoring unknown event",
			zap.String("event", frame.Event),
			zap.String("conn_id", s.ID()),
		)
	}
}

// SendMessage forwards a new outbound message to the core API and, on
// success, broadcasts the stored message to the whole conversation room,
// sender included. It blocks until the core API answers.
func (r *Relay) SendMessage(ctx context.Context, s Session, data json.RawMessage) {
	req, ok := r.prepareSend(s, data)
	if !ok {
		return
	}
	r.send(ctx, s, req)
}

// prepareSend validates a send-message payload and ends the sender's typing
// state for the conversation.
func (r *Relay) prepareSend(s Session, data json.RawMessage) (*model.SendMessageRequest, bool) {
	var req model.SendMessageRequest
	if err := json.Unmarshal(data, &req); err != nil || !req.Valid() {
		s.Emit(model.EventError, model.ErrorEvent{Message: MsgInvalidMessage})
		return nil, false
	}
	r.cancelTyping(s.ID(), req.ConversationID)
	return &req, true
}

func (r *Relay) send(ctx context.Context, s Session, req *model.SendMessageRequest) {
	id := s.Identity()
	create := &model.CreateMessageRequest{
		ConversationID:          req.ConversationID,
		TenantID:                id.TenantID,
		FromUserID:              id.UserID,
		Direction:               model.DirectionOutbound,
		MessageType:             orDefault(req.MessageType, model.DefaultMessageType),
		Body:                    req.Body,
		MediaURL:                req.MediaURL,
		Platform:                orDefault(req.Platform, model.DefaultPlatform),
		ExternalQuotedMessageID: req.QuotedMessageID,
	}

	// The client cannot cancel a send once issued.
	msg, err := r.api.SendMessage(context.WithoutCancel(ctx), s.Token(), create)
	if err != nil {
		r.logger.Error("failed to send message",
			zap.String("conn_id", s.ID()),
			zap.String("tenant_id", id.TenantID),
			zap.String("conversation_id", req.ConversationID.String()),
			zap.Error(err),
		)
		s.Emit(model.EventError, model.ErrorEvent{Message: MsgSendFailed, Details: err.Error()})
		return
	}

	target := room.Conversation(id.TenantID, req.ConversationID.String())
	_ = r.broadcast(context.WithoutCancel(ctx), target, model.EventNewMessage, msg, "")
}

// MarkAsRead broadcasts a read receipt to the conversation room, sender
// excluded, and records it upstream on a best-effort basis. Payloads without a
// non-empty messageIds array are ignored.
func (r *Relay) MarkAsRead(ctx context.Context, s Session, data json.RawMessage) {
	var req model.MarkAsReadRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return
	}
	var ids []json.RawMessage
	if err := json.Unmarshal(req.MessageIDs, &ids); err != nil || len(ids) == 0 {
		return
	}
	if req.ConversationID.Empty() {
		return
	}

	id := s.Identity()
	token := s.Token()
	r.goTracked(s, model.EventMarkAsRead, func() {
		if err := r.api.MarkAsRead(context.WithoutCancel(ctx), token, req.MessageIDs); err != nil {
			r.logger.Warn("failed to persist read receipts",
				zap.String("conn_id", s.ID()),
				zap.String("conversation_id", req.ConversationID.String()),
				zap.Error(err),
			)
		}
	})

	target := room.Conversation(id.TenantID, req.ConversationID.String())
	_ = r.broadcast(ctx, target, model.EventMessagesRead, model.MessagesReadEvent{
		MessageIDs: req.MessageIDs,
		ReadBy:     id.UserID,
		ReadAt:     model.FormatTime(r.now()),
	}, s.ID())
}

// Typing broadcasts user-typing to the conversation room, sender excluded,
// and arms the idle timer.
func (r *Relay) Typing(ctx context.Context, s Session, data json.RawMessage) {
	conversationID, ok := conversationOf(data)
	if !ok {
		return
	}
	id := s.Identity()

	target := room.Conversation(id.TenantID, conversationID.String())
	_ = r.broadcast(ctx, target, model.EventUserTyping, model.TypingEvent{
		UserID:         id.UserID,
		UserName:       id.UserName,
		ConversationID: conversationID,
	}, s.ID())

	r.notifyTyping(ctx, s, conversationID, true)
	r.armTyping(s, conversationID)
}

// StopTyping broadcasts user-stop-typing to the conversation room, sender excluded.
func (r *Relay) StopTyping(ctx context.Context, s Session, data json.RawMessage) {
	conversationID, ok := conversationOf(data)
	if !ok {
		return
	}
	r.cancelTyping(s.ID(), conversationID)
	r.broadcastStopTyping(ctx, s, conversationID)
	r.notifyTyping(ctx, s, conversationID, false)
}

// JoinConversation subscribes the connection to a conversation room.
func (r *Relay) JoinConversation(ctx context.Context, s Session, data json.RawMessage) {
	conversationID, ok := conversationOf(data)
	if !ok {
		s.Emit(model.EventError, model.ErrorEvent{Message: MsgConversationRequired})
		return
	}

	target := room.Conversation(s.Identity().TenantID, conversationID.String())
	if err := s.Join(target); err != nil {
		r.logger.Error("failed to join conversation",
			zap.String("conn_id", s.ID()),
			zap.String("room", target),
			zap.Error(err),
		)
		s.Emit(model.EventError, model.ErrorEvent{Message: MsgJoinFailed, Details: err.Error()})
		return
	}
	s.Emit(model.EventJoinedConversation, model.JoinedConversationEvent{
		ConversationID: conversationID,
		Room:           target,
	})
}

// LeaveConversation unsubscribes the connection from a conversation room.
func (r *Relay) LeaveConversation(ctx context.Context, s Session, data json.RawMessage) {
	conversationID, ok := conversationOf(data)
	if !ok {
		return
	}

	target := room.Conversation(s.Identity().TenantID, conversationID.String())
	if err := s.Leave(target); err != nil {
		r.logger.Warn("failed to leave conversation",
			zap.String("conn_id", s.ID()),
			zap.String("room", target),
			zap.Error(err),
		)
	}
	s.Emit(model.EventLeftConversation, model.LeftConversationEvent{ConversationID: conversationID})
}

// SubscribePlatform subscribes the connection to contact-list updates for
// one messaging platform.
func (r *Relay) SubscribePlatform(ctx context.Context, s Session, data json.RawMessage) {
	var req model.PlatformRequest
	if err := json.Unmarshal(data, &req); err != nil || req.Platform == "" {
		return
	}

	target := room.Platform(s.Identity().TenantID, req.Platform)
	if err := s.Join(target); err != nil {
		r.logger.Error("failed to subscribe platform",
			zap.String("conn_id", s.ID()),
			zap.String("room", target),
			zap.Error(err),
		)
		s.Emit(model.EventError, model.ErrorEvent{Message: MsgJoinFailed, Details: err.Error()})
		return
	}
	s.Emit(model.EventSubscribedPlatform, model.SubscribedPlatformEvent{Platform: req.Platform})
}

// Online joins the tenant presence room and announces the connection to its
// other members. An error means the connection cannot take part in presence
// and should be closed.
func (r *Relay) Online(ctx context.Context, s Session) error {
	id := s.Identity()
	target := room.Presence(id.TenantID)
	if err := s.Join(target); err != nil {
		return fmt.Errorf("failed to join presence room: %w", err)
	}
	_ = r.broadcast(ctx, target, model.EventUserOnline, r.presence(id), s.ID())
	return nil
}

// Offline announces a closed connection and cancels its pending typing timers.
func (r *Relay) Offline(ctx context.Context, s Session) {
	id := s.Identity()
	r.cancelAllTyping(s.ID())
	r.mu.Lock()
	delete(r.sends, s.ID())
	r.mu.Unlock()
	_ = r.broadcast(ctx, room.Presence(id.TenantID), model.EventUserOffline, r.presence(id), s.ID())
}

// Wait blocks until background work started by handlers has finished.
func (r *Relay) Wait() {
	r.wg.Wait()
}

func (r *Relay) presence(id auth.Identity) model.PresenceEvent {
	return model.PresenceEvent{
		UserID:    id.UserID,
		UserName:  id.UserName,
		Timestamp: model.FormatTime(r.now()),
	}
}

func (r *Relay) broadcastStopTyping(ctx context.Context, s Session, conversationID model.ID) {
	id := s.Identity()
	target := room.Conversation(id.TenantID, conversationID.String())
	_ = r.broadcast(ctx, target, model.EventUserStopTyping, model.StopTypingEvent{
		UserID:         id.UserID,
		ConversationID: conversationID,
	}, s.ID())
}

func (r *Relay) notifyTyping(ctx context.Context, s Session, conversationID model.ID, isTyping bool) {
	token := s.Token()
	r.goTracked(s, "typing_status", func() {
		if err := r.api.UpdateTypingStatus(context.WithoutCancel(ctx), token, conversationID, isTyping); err != nil {
			r.logger.Debug("failed to update typing status",
				zap.String("conn_id", s.ID()),
				zap.String("conversation_id", conversationID.String()),
				zap.Bool("is_typing", isTyping),
				zap.Error(err),
			)
		}
	})
}

func (r *Relay) armTyping(s Session, conversationID model.ID) {
	if r.typingTimeout <= 0 {
		return
	}
	key := typingKey{connID: s.ID(), conversationID: conversationID}

	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.typing[key]; ok {
		prev.timer.Stop()
	}
	entry := &typingTimer{}
	entry.timer = time.AfterFunc(r.typingTimeout, func() {
		r.mu.Lock()
		current := r.typing[key] == entry
		if current {
			delete(r.typing, key)
		}
		r.mu.Unlock()
		if current {
			r.broadcastStopTyping(context.Background(), s, conversationID)
		}
	})
	r.typing[key] = entry
}

// acquireSend takes one of the connection's send slots. ok is false when ctx
// ends first.
func (r *Relay) acquireSend(ctx context.Context, connID string) (release func(), ok bool) {
	r.mu.Lock()
	slots, exists := r.sends[connID]
	if !exists {
		slots = make(chan struct{}, r.maxSends)
		r.sends[connID] = slots
	}
	r.mu.Unlock()

	select {
	case slots <- struct{}{}:
		return func() { <-slots }, true
	case <-ctx.Done():
		return nil, false
	}
}

func (r *Relay) cancelTyping(connID string, conversationID model.ID) {
	key := typingKey{connID: connID, conversationID: conversationID}
	r.mu.Lock()
	if entry, ok := r.typing[key]; ok {
		entry.timer.Stop()
		delete(r.typing, key)
	}
	r.mu.Unlock()
}

func (r *Relay) cancelAllTyping(connID string) {
	r.mu.Lock()
	for key, entry := range r.typing {
		if key.connID == connID {
			entry.timer.Stop()
			delete(r.typing, key)
		}
	}
	r.mu.Unlock()
}

// broadcast publishes payload to target. A non-empty except names the
// connection that must not receive it.
func (r *Relay) broadcast(ctx context.Context, target, event string, payload any, except string) error {
	ev, err := bus.NewEvent(event, payload)
	if err == nil {
		err = r.bus.Publish(ctx, target, ev.Except(except))
	}
	metrics.RecordBroadcast(event, err)
	if err != nil {
		r.logger.Error("broadcast failed",
			zap.String("event", event),
			zap.String("room", target),
			zap.Error(err),
		)
	}
	return err
}

func (r *Relay) goTracked(s Session, event string, fn func()) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.recoverHandler(s, event)
		fn()
	}()
}

func (r *Relay) recoverHandler(s Session, event string) {
	if rec := recover(); rec != nil {
		r.logger.Error("panic in event handler",
			zap.String("event", event),
			zap.String("conn_id", s.ID()),
			zap.Any("panic", rec),
			zap.Stack("stack"),
		)
	}
}

func conversationOf(data json.RawMessage) (model.ID, bool) {
	var req model.ConversationRequest
	if err := json.Unmarshal(data, &req); err != nil || req.ConversationID.Empty() {
		return "", false
	}
	return req.ConversationID, true
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// metricEventLabel keeps the label set bounded to known event names.
func metricEventLabel(event string) string {
	switch event {
	case model.EventSendMessage, model.EventMarkAsRead, model.EventTyping, model.EventStopTyping,
		model.EventJoinConversation, model.EventLeaveConversation, model.EventSubscribePlatform:
		return event
	default:
		return "unknown"
	}
}
