package model

import (
	"bytes"
	"encoding/json"
	"strings"
)

// ConversationRequest is the payload of join-conversation, leave-conversation,
// typing and stop-typing.
type ConversationRequest struct {
	ConversationID ID `json:"conversationId"`
}

// JoinedConversationEvent acknowledges join-conversation.
type JoinedConversationEvent struct {
	ConversationID ID     `json:"conversationId"`
	Room           string `json:"room"`
}

// LeftConversationEvent acknowledges leave-conversation.
type LeftConversationEvent struct {
	ConversationID ID `json:"conversationId"`
}

// SubscribedPlatformEvent acknowledges subscribe-platform.
type SubscribedPlatformEvent struct {
	Platform string `json:"platform"`
}

// PlatformRequest is the payload of subscribe-platform. Clients send either a
// bare string ("WHATSAPP") or an object ({"platform": "WHATSAPP"}).
type PlatformRequest struct {
	Platform string
}

// UnmarshalJSON accepts both accepted shapes.
func (p *PlatformRequest) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		p.Platform = strings.TrimSpace(s)
		return nil
	}
	var obj struct {
		Platform string `json:"platform"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	p.Platform = strings.TrimSpace(obj.Platform)
	return nil
}
