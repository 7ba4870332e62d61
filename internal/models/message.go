package models

import "time"

// Message types accepted on send.
const (
	MessageTypeText   = "text"
	MessageTypeImage  = "image"
	MessageTypeFile   = "file"
	MessageTypeSystem = "system"
)

// Message represents a persisted chat message between two users.
//
// The delivered/read/deleted flags are monotonic: once set they are never
// cleared, and is_read implies is_delivered.
type Message struct {
	ID             int        `db:"id" json:"id"`
	ConversationID string     `db:"conversation_id" json:"conversation_id"`
	SenderID       int        `db:"sender_id" json:"sender_id"`
	ReceiverID     int        `db:"receiver_id" json:"receiver_id"`
	Content        string     `db:"content" json:"content"`
	Type           string     `db:"type" json:"type"`
	ReplyToID      *int       `db:"reply_to_id" json:"reply_to_id,omitempty"`
	ClientTag      *string    `db:"client_tag" json:"-"`
	Delivered      bool       `db:"is_delivered" json:"is_delivered"`
	DeliveredAt    *time.Time `db:"delivered_at" json:"delivered_at,omitempty"`
	Read           bool       `db:"is_read" json:"is_read"`
	ReadAt         *time.Time `db:"read_at" json:"read_at,omitempty"`
	Deleted        bool       `db:"is_deleted" json:"is_deleted"`
	DeletedAt      *time.Time `db:"deleted_at" json:"deleted_at,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
}

// ValidType reports whether t is an accepted message type.
func ValidType(t string) bool {
	switch t {
	case MessageTypeText, MessageTypeImage, MessageTypeFile, MessageTypeSystem:
		return true
	}
	return false
}
