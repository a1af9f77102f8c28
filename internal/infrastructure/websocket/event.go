package websocket

import (
	"encoding/json"
	"time"

	"lokapasar/internal/domain/entity"
	"lokapasar/pkg/errors"
)

// Client-to-server event types.
const (
	EventPing        = "ping"
	EventJoinChat    = "join_chat"
	EventLeaveChat   = "leave_chat"
	EventSendMessage = "send_message"
	EventTyping      = "typing"
	EventMarkRead    = "mark_read"
)

// Server-to-client event types.
const (
	EventPong         = "pong"
	EventNewMessage   = "new_message"
	EventChatUpdated  = "chat_updated"
	EventUserTyping   = "user_typing"
	EventMessagesRead = "messages_read"
	EventUserStatus   = "user_status"
	EventError        = "error"
)

// Envelope is the wire frame for every event in both directions.
type Envelope struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
}

type JoinChatData struct {
	ConversationID string `json:"conversation_id"`
}

type LeaveChatData struct {
	ConversationID string `json:"conversation_id"`
}

type SendMessageData struct {
	ConversationID string             `json:"conversation_id"`
	Content        string             `json:"content"`
	Type           string             `json:"type"`
	Attachment     *entity.Attachment `json:"attachment,omitempty"`
}

type TypingData struct {
	ConversationID string `json:"conversation_id"`
	IsTyping       bool   `json:"is_typing"`
}

type MarkReadData struct {
	ConversationID string `json:"conversation_id"`
}

type NewMessageData struct {
	ConversationID string          `json:"conversation_id"`
	Message        *entity.Message `json:"message"`
}

type ChatUpdatedData struct {
	Conversation *entity.Conversation `json:"conversation"`
}

type UserTypingData struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	IsTyping       bool   `json:"is_typing"`
}

type MessagesReadData struct {
	ConversationID string `json:"conversation_id"`
	ReadBy         string `json:"read_by"`
}

type UserStatusData struct {
	UserID   string     `json:"user_id"`
	IsOnline bool       `json:"is_online"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
}

type ErrorData struct {
	Message string `json:"message"`
}

// DecodeClientEvent parses and validates an inbound envelope into its typed
// payload. Every client event name maps to exactly one variant; anything
// else is rejected before handler logic runs.
func DecodeClientEvent(envelope *Envelope) (interface{}, error) {
	switch envelope.Type {
	case EventPing:
		return nil, nil

	case EventJoinChat:
		var data JoinChatData
		if err := unmarshalData(envelope.Data, &data); err != nil {
			return nil, err
		}
		if data.ConversationID == "" {
			return nil, errors.BadRequest("conversation_id is required", nil)
		}
		return &data, nil

	case EventLeaveChat:
		var data LeaveChatData
		if err := unmarshalData(envelope.Data, &data); err != nil {
			return nil, err
		}
		if data.ConversationID == "" {
			return nil, errors.BadRequest("conversation_id is required", nil)
		}
		return &data, nil

	case EventSendMessage:
		var data SendMessageData
		if err := unmarshalData(envelope.Data, &data); err != nil {
			return nil, err
		}
		if data.Type == "" {
			data.Type = entity.MessageTypeText
		}
		if data.ConversationID == "" {
			return nil, errors.BadRequest("conversation_id is required", nil)
		}
		if data.Content == "" && data.Attachment == nil {
			return nil, errors.BadRequest("content is required", nil)
		}
		if !entity.ValidMessageType(data.Type) {
			return nil, errors.BadRequest("unsupported message type", nil)
		}
		return &data, nil

	case EventTyping:
		var data TypingData
		if err := unmarshalData(envelope.Data, &data); err != nil {
			return nil, err
		}
		if data.ConversationID == "" {
			return nil, errors.BadRequest("conversation_id is required", nil)
		}
		return &data, nil

	case EventMarkRead:
		var data MarkReadData
		if err := unmarshalData(envelope.Data, &data); err != nil {
			return nil, err
		}
		if data.ConversationID == "" {
			return nil, errors.BadRequest("conversation_id is required", nil)
		}
		return &data, nil
	}

	return nil, errors.BadRequest("unknown event type", nil)
}

func unmarshalData(raw json.RawMessage, out interface{}) error {
	if len(raw) == 0 {
		return errors.BadRequest("missing event data", nil)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return errors.BadRequest("malformed event data", err)
	}
	return nil
}

// MarshalEvent frames a server event for the wire.
func MarshalEvent(eventType string, data interface{}) ([]byte, error) {
	var raw json.RawMessage
	if data != nil {
		encoded, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		raw = encoded
	}

	return json.Marshal(Envelope{
		Type:      eventType,
		Data:      raw,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}
