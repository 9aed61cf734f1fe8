package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/cloudfly/chat-relay/internal/bus"
	"github.com/cloudfly/chat-relay/internal/model"
	"github.com/cloudfly/chat-relay/internal/room"
	"github.com/cloudfly/chat-relay/pkg/logger"
	"github.com/cloudfly/chat-relay/pkg/metrics"
)

// Notification kinds, used as metric labels.
const (
	KindNewMessage    = "new_message"
	KindMessageStatus = "message_status"
)

var (
	newMessageRequired    = []string{"messageId", "conversationId", "tenantId"}
	messageStatusRequired = []string{"messageId", "status"}
)

// ErrInvalidSentAt is returned when sentAt is present but not epoch seconds.
var ErrInvalidSentAt = errors.New("sentAt must be a number of epoch seconds")

// ValidationError reports missing required webhook fields.
type ValidationError struct {
	Required []string
	Missing  []string
}

func (e *ValidationError) Error() string {
	return "missing required fields: " + strings.Join(e.Missing, ", ")
}

// Notifier fans server-to-server notifications into conversation and
// platform rooms.
type Notifier struct {
	bus    bus.Bus
	logger *logger.Logger
	now    func() time.Time
}

// NewNotifier creates the webhook gateway.
func NewNotifier(b bus.Bus, log *logger.Logger) *Notifier {
	return &Notifier{bus: b, logger: log, now: time.Now}
}

// NewMessage broadcasts a message that arrived outside any client connection.
// The message goes to its conversation room; a contact-update follows on the
// platform room and its failure does not fail the notification.
func (n *Notifier) NewMessage(ctx context.Context, req *model.NewMessageNotification) (resp *model.NotifyResponse, err error) {
	defer func() { recordNotification(KindNewMessage, err) }()

	if missing := req.MissingFields(); len(missing) > 0 {
		return nil, &ValidationError{Required: newMessageRequired, Missing: missing}
	}

	now := n.now()
	sentAt := now
	if req.SentAt != "" {
		t, ok := model.EpochSecondsToTime(req.SentAt)
		if !ok {
			return nil, ErrInvalidSentAt
		}
		// Senders use 0 for "unknown".
		if !t.Equal(time.Unix(0, 0)) {
			sentAt = t
		}
	}

	envelope := model.MessageEnvelope{
		ID:                req.MessageID,
		ConversationID:    req.ConversationID,
		TenantID:          req.TenantID,
		Platform:          req.Platform,
		Direction:         req.Direction,
		ExternalSenderID:  req.ExternalSenderID,
		ExternalMessageID: req.ExternalMessageID,
		Body:              req.Body,
		MessageType:       orDefault(req.MessageType, model.DefaultMessageType),
		DisplayName:       req.DisplayName,
		SentAt:            model.FormatTime(sentAt),
		ContactID:         req.ContactID,
		MediaURL:          req.MediaURL,
		CreatedAt:         model.FormatTime(now),
		Status:            model.StatusDelivered,
	}

	target := room.Conversation(req.TenantID.String(), req.ConversationID.String())
	if err := n.publish(ctx, target, model.EventNewMessage, envelope); err != nil {
		return nil, fmt.Errorf("failed to broadcast new message: %w", err)
	}

	if req.Platform == "" {
		n.logger.Debug("no platform on notification, skipping contact update",
			zap.String("message_id", req.MessageID.String()),
		)
	} else {
		lastMessage := req.Body
		if lastMessage == "" {
			lastMessage = model.MediaPlaceholder
		}
		platformRoom := room.Platform(req.TenantID.String(), req.Platform)
		if err := n.publish(ctx, platformRoom, model.EventContactUpdate, model.ContactUpdateEvent{
			ContactID:       req.ContactID,
			ConversationID:  req.ConversationID,
			LastMessage:     lastMessage,
			LastMessageTime: envelope.SentAt,
			HasUnread:       true,
		}); err != nil {
			n.logger.Warn("failed to broadcast contact update",
				zap.String("room", platformRoom),
				zap.Error(err),
			)
		}
	}

	n.logger.Info("new message notification relayed",
		zap.String("room", target),
		zap.String("message_id", req.MessageID.String()),
	)
	return &model.NotifyResponse{Success: true, Room: target, MessageID: req.MessageID}, nil
}

// MessageStatus broadcasts a delivery status change to the conversation room.
// An update without a conversation or tenant is acknowledged but reaches no
// room.
func (n *Notifier) MessageStatus(ctx context.Context, req *model.MessageStatusNotification) (resp *model.NotifyResponse, err error) {
	defer func() { recordNotification(KindMessageStatus, err) }()

	if missing := req.MissingFields(); len(missing) > 0 {
		return nil, &ValidationError{Required: messageStatusRequired, Missing: missing}
	}
	if !req.Routable() {
		n.logger.Warn("status update names no conversation, not broadcast",
			zap.String("message_id", req.MessageID.String()),
			zap.String("status", req.Status),
		)
		return &model.NotifyResponse{Success: true, MessageID: req.MessageID}, nil
	}

	target := room.Conversation(req.TenantID.String(), req.ConversationID.String())
	if err := n.publish(ctx, target, model.EventMessageStatusUpdate, model.MessageStatusEvent{
		MessageID: req.MessageID,
		Status:    req.Status,
		Timestamp: model.FormatTime(n.now()),
	}); err != nil {
		return nil, fmt.Errorf("failed to broadcast status update: %w", err)
	}

	return &model.NotifyResponse{Success: true, Room: target, MessageID: req.MessageID}, nil
}

func (n *Notifier) publish(ctx context.Context, target, event string, payload any) error {
	ev, err := bus.NewEvent(event, payload)
	if err == nil {
		err = n.bus.Publish(ctx, target, ev)
	}
	metrics.RecordBroadcast(event, err)
	return err
}

func recordNotification(kind string, err error) {
	result := "ok"
	var verr *ValidationError
	switch {
	case errors.As(err, &verr), errors.Is(err, ErrInvalidSentAt):
		result = "invalid"
	case err != nil:
		result = "error"
	}
	metrics.NotificationsTotal.WithLabelValues(kind, result).Inc()
}
