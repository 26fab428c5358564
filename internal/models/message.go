package models

import (
	"strings"
	"time"
)

// MessageType is the closed set of message kinds.
type MessageType string

const (
	MessageTypeText  MessageType = "TEXT"
	MessageTypeImage MessageType = "IMAGE"
	MessageTypeFile  MessageType = "FILE"
	MessageTypeVoice MessageType = "VOICE"
	MessageTypeVideo MessageType = "VIDEO"
)

// StatusDelivered marks the sender-side acknowledgement of a routed message.
const StatusDelivered = "DELIVERED"

// ParseMessageType maps a client hint onto a known type. Empty or unknown
// hints fall back to TEXT; the fallback is not an error.
func ParseMessageType(hint string) MessageType {
	switch t := MessageType(strings.ToUpper(strings.TrimSpace(hint))); t {
	case MessageTypeText, MessageTypeImage, MessageTypeFile, MessageTypeVoice, MessageTypeVideo:
		return t
	default:
		return MessageTypeText
	}
}

// Message represents a direct message between two users.
type Message struct {
	ID         int64       `db:"id" json:"id" msgpack:"id"`
	SenderID   int64       `db:"sender_id" json:"senderId" msgpack:"sender_id"`
	ReceiverID int64       `db:"receiver_id" json:"receiverId" msgpack:"receiver_id"`
	Content    string      `db:"content" json:"content" msgpack:"content"`
	Type       MessageType `db:"type" json:"type" msgpack:"type"`
	SentTime   time.Time   `db:"sent_time" json:"sentTime" msgpack:"sent_time"`
	IsRead     bool        `db:"is_read" json:"isRead" msgpack:"is_read"`
}

// DeliveredMessage is the acknowledgement returned to the sender.
type DeliveredMessage struct {
	Message
	ClientMessageID *int64 `json:"clientMessageId,omitempty"`
	Status          string `json:"status"`
}
