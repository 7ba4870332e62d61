package models

import (
	"encoding/json"
	"time"
)

// Inbound client event names.
const (
	EventConversationJoin  = "conversation:join"
	EventConversationLeave = "conversation:leave"
	EventMessageSend       = "message:send"
	EventMessageDelivered  = "message:delivered"
	EventChatMarkRead      = "chat:markRead"
	EventTypingStart       = "typing:start"
	EventTypingStop        = "typing:stop"
)

// Outbound server event names.
const (
	EventMessageNew     = "message:new"
	EventMessagesRead   = "messages:read"
	EventMessageDeleted = "message:deleted"
	EventUserTyping     = "user:typing"
	EventUserOnline     = "user:online"
	EventUserOffline    = "user:offline"
	EventError          = "error"
)

// ClientEvent is the envelope for inbound websocket frames.
type ClientEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// ServerEvent is the envelope broadcast to websocket clients.
type ServerEvent struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Inbound payloads.
type (
	ConversationPayload struct {
		OtherUserID int `json:"other_user_id"`
	}

	SendPayload struct {
		ReceiverID int    `json:"receiver_id"`
		Content    string `json:"content"`
		Type       string `json:"type"`
		ReplyToID  *int   `json:"reply_to_id,omitempty"`
		TempID     string `json:"temp_id,omitempty"`
	}

	DeliveredPayload struct {
		MessageID int `json:"message_id"`
	}

	MarkReadPayload struct {
		ConversationID string `json:"conversation_id"`
	}

	TypingPayload struct {
		ReceiverID int `json:"receiver_id"`
	}
)

// Outbound payloads.
type (
	// MessageNewEvent echoes temp_id so clients can reconcile optimistic state
	// against the persisted record.
	MessageNewEvent struct {
		Message Message `json:"message"`
		TempID  string  `json:"temp_id,omitempty"`
	}

	MessageDeliveredEvent struct {
		MessageID int `json:"message_id"`
	}

	MessagesReadEvent struct {
		ConversationID string    `json:"conversation_id"`
		ReadBy         int       `json:"read_by"`
		ReadAt         time.Time `json:"read_at"`
		Count          int       `json:"count"`
	}

	MessageDeletedEvent struct {
		MessageID int `json:"message_id"`
	}

	UserTypingEvent struct {
		UserID         int    `json:"user_id"`
		ConversationID string `json:"conversation_id"`
		IsTyping       bool   `json:"is_typing"`
	}

	UserOnlineEvent struct {
		UserID int `json:"user_id"`
	}

	UserOfflineEvent struct {
		UserID   int        `json:"user_id"`
		LastSeen *time.Time `json:"last_seen,omitempty"`
	}

	ErrorEvent struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		TempID  string `json:"temp_id,omitempty"`
	}
)

// Error codes carried by ErrorEvent.
const (
	ErrCodeValidation  = "validation_error"
	ErrCodePersistence = "persistence_error"
)
