// Package model defines wire types for the realtime relay.
package model

import (
	"encoding/json"
)

// Client to server events.
const (
	EventSendMessage       = "send-message"
	EventMarkAsRead        = "mark-as-read"
	EventTyping            = "typing"
	EventStopTyping        = "stop-typing"
	EventJoinConversation  = "join-conversation"
	EventLeaveConversation = "leave-conversation"
	EventSubscribePlatform = "subscribe-platform"
)

// Server to client events.
const (
	EventNewMessage          = "new-message"
	EventMessagesRead        = "messages-read"
	EventUserTyping          = "user-typing"
	EventUserStopTyping      = "user-stop-typing"
	EventUserOnline          = "user-online"
	EventUserOffline         = "user-offline"
	EventContactUpdate       = "contact-update"
	EventMessageStatusUpdate = "message-status-update"
	EventJoinedConversation  = "joined-conversation"
	EventLeftConversation    = "left-conversation"
	EventSubscribedPlatform  = "subscribed-platform"
	EventError               = "error"
)

// Frame is a single realtime frame in either direction.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ErrorEvent is emitted to a single connection when its own command fails.
type ErrorEvent struct {
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// PresenceEvent is broadcast on user-online and user-offline.
type PresenceEvent struct {
	UserID    string `json:"userId"`
	UserName  string `json:"userName"`
	Timestamp string `json:"timestamp"`
}

// TypingEvent is broadcast on user-typing.
type TypingEvent struct {
	UserID         string `json:"userId"`
	UserName       string `json:"userName"`
	ConversationID ID     `json:"conversationId"`
}

// StopTypingEvent is broadcast on user-stop-typing.
type StopTypingEvent struct {
	UserID         string `json:"userId"`
	ConversationID ID     `json:"conversationId"`
}

// MessagesReadEvent is broadcast on messages-read.
type MessagesReadEvent struct {
	MessageIDs json.RawMessage `json:"messageIds"`
	ReadBy     string          `json:"readBy"`
	ReadAt     string          `json:"readAt"`
}

// ContactUpdateEvent lets contact-list views refresh without joining every conversation.
type ContactUpdateEvent struct {
	ContactID       ID     `json:"contactId"`
	ConversationID  ID     `json:"conversationId"`
	LastMessage     string `json:"lastMessage"`
	LastMessageTime string `json:"lastMessageTime"`
	HasUnread       bool   `json:"hasUnread"`
}

// MessageStatusEvent is broadcast on message-status-update.
type MessageStatusEvent struct {
	MessageID ID     `json:"messageId"`
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}
