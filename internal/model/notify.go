package model

import (
	"encoding/json"
)

// NewMessageNotification is the body of POST /api/notify/new-message.
type NewMessageNotification struct {
	MessageID         ID          `json:"messageId"`
	ConversationID    ID          `json:"conversationId"`
	TenantID          ID          `json:"tenantId"`
	Platform          string      `json:"platform"`
	Direction         string      `json:"direction"`
	ExternalSenderID  ID          `json:"externalSenderId"`
	ExternalMessageID ID          `json:"externalMessageId"`
	Body              string      `json:"body"`
	MessageType       string      `json:"messageType"`
	DisplayName       string      `json:"displayName"`
	SentAt            json.Number `json:"sentAt"`
	ContactID         ID          `json:"contactId"`
	MediaURL          string      `json:"mediaUrl"`
}

// MissingFields lists the required fields that are absent.
func (n *NewMessageNotification) MissingFields() []string {
	var missing []string
	if n.MessageID.Empty() {
		missing = append(missing, "messageId")
	}
	if n.ConversationID.Empty() {
		missing = append(missing, "conversationId")
	}
	if n.TenantID.Empty() {
		missing = append(missing, "tenantId")
	}
	return missing
}

// MessageStatusNotification is the body of POST /api/notify/message-status.
type MessageStatusNotification struct {
	MessageID      ID     `json:"messageId"`
	ConversationID ID     `json:"conversationId"`
	TenantID       ID     `json:"tenantId"`
	Status         string `json:"status"`
}

// MissingFields lists the required fields that are absent.
func (n *MessageStatusNotification) MissingFields() []string {
	var missing []string
	if n.MessageID.Empty() {
		missing = append(missing, "messageId")
	}
	if n.Status == "" {
		missing = append(missing, "status")
	}
	return missing
}

// Routable reports whether the update names a conversation room.
func (n *MessageStatusNotification) Routable() bool {
	return !n.ConversationID.Empty() && !n.TenantID.Empty()
}

// NotifyResponse acknowledges an accepted notification.
type NotifyResponse struct {
	Success   bool   `json:"success"`
	Room      string `json:"room,omitempty"`
	MessageID ID     `json:"messageId,omitempty"`
}

// ValidationErrorResponse is returned with 400 when required fields are missing.
type ValidationErrorResponse struct {
	Error    string   `json:"error"`
	Required []string `json:"required"`
	Missing  []string `json:"missing"`
}
