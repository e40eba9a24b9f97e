package models

import "time"

// Message lifecycle states as seen by the sending client. For direct chats the
// lifecycle mirrors the recipient's delivery record.
const (
	MessageStateSending   = "sending"
	MessageStateSent      = "sent"
	MessageStateDelivered = "delivered"
	MessageStateRead      = "read"
)

// Message represents a chat message. Immutable once persisted: retries with the
// same client_message_id return the originally stored row.
type Message struct {
	MessageID       string    `db:"message_id" json:"messageId"`
	ClientMessageID string    `db:"client_message_id" json:"clientMessageId"`
	SenderID        string    `db:"sender_id" json:"senderId"`
	RecipientID     string    `db:"recipient_id" json:"recipientId,omitempty"`
	RoomID          string    `db:"room_id" json:"roomId,omitempty"`
	Content         string    `db:"content" json:"content"`
	State           string    `db:"state" json:"state"`
	CreatedAt       time.Time `db:"created_at" json:"timestamp"`
}

// IsRoomMessage reports whether the message targets a room rather than a
// single recipient.
func (m Message) IsRoomMessage() bool {
	return m.RoomID != ""
}
