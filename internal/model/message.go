package model

import (
	"encoding/json"
)

// Defaults and fixed values applied to messages.
const (
	DirectionOutbound  = "OUTBOUND"
	DefaultMessageType = "TEXT"
	DefaultPlatform    = "WHATSAPP"
	StatusDelivered    = "DELIVERED"
	MediaPlaceholder   = "[Media]"
)

// SendMessageRequest is the payload of send-message.
type SendMessageRequest struct {
	ConversationID  ID     `json:"conversationId"`
	Body            string `json:"body,omitempty"`
	MessageType     string `json:"messageType,omitempty"`
	MediaURL        string `json:"mediaUrl,omitempty"`
	QuotedMessageID ID     `json:"quotedMessageId,omitempty"`
	Platform        string `json:"platform,omitempty"`
}

// Valid reports whether the request names a conversation and carries content.
func (r *SendMessageRequest) Valid() bool {
	return !r.ConversationID.Empty() && (r.Body != "" || r.MediaURL != "")
}

// CreateMessageRequest is forwarded to the core API to create and send an
// outbound message.
type CreateMessageRequest struct {
	ConversationID          ID     `json:"conversationId"`
	TenantID                string `json:"tenantId"`
	FromUserID              string `json:"fromUserId"`
	Direction               string `json:"direction"`
	MessageType             string `json:"messageType"`
	Body                    string `json:"body,omitempty"`
	MediaURL                string `json:"mediaUrl,omitempty"`
	Platform                string `json:"platform"`
	ExternalQuotedMessageID ID     `json:"externalQuotedMessageId,omitempty"`
}

// MarkAsReadRequest is the payload of mark-as-read. MessageIDs is kept raw so
// the exact array (strings or numbers) is relayed unchanged.
type MarkAsReadRequest struct {
	MessageIDs     json.RawMessage `json:"messageIds"`
	ConversationID ID              `json:"conversationId"`
}

// ReadReceiptRequest is sent to the core API read-receipt endpoint.
type ReadReceiptRequest struct {
	MessageIDs json.RawMessage `json:"messageIds"`
}

// TypingStatusRequest is sent to the core API typing endpoint.
type TypingStatusRequest struct {
	ConversationID ID   `json:"conversationId"`
	IsTyping       bool `json:"isTyping"`
}

// MessageEnvelope is the normalized message broadcast as new-message when
// the message originates from the webhook gateway.
type MessageEnvelope struct {
	ID                ID     `json:"id"`
	ConversationID    ID     `json:"conversationId"`
	TenantID          ID     `json:"tenantId"`
	Platform          string `json:"platform,omitempty"`
	Direction         string `json:"direction,omitempty"`
	ExternalSenderID  ID     `json:"externalSenderId,omitempty"`
	ExternalMessageID ID     `json:"externalMessageId,omitempty"`
	Body              string `json:"body,omitempty"`
	MessageType       string `json:"messageType"`
	DisplayName       string `json:"displayName,omitempty"`
	SentAt            string `json:"sentAt"`
	ContactID         ID     `json:"contactId,omitempty"`
	MediaURL          string `json:"mediaUrl,omitempty"`
	CreatedAt         string `json:"createdAt"`
	Status            string `json:"status"`
}
