package models

import "time"

// DeliveryState is the per-recipient delivery progression of a message.
type DeliveryState string

const (
	DeliveryPersisted DeliveryState = "PERSISTED"
	DeliverySent      DeliveryState = "SENT"
	DeliveryDelivered DeliveryState = "DELIVERED"
	DeliveryRead      DeliveryState = "READ"
)

// DeliveryRecord tracks one (message, recipient) pair. Timestamps are set
// exactly once, when the corresponding transition occurs, and never regress.
type DeliveryRecord struct {
	MessageID   string        `json:"messageId"`
	RecipientID string        `json:"recipientId"`
	State       DeliveryState `json:"state"`
	PersistedAt time.Time     `json:"persistedAt"`
	SentAt      time.Time     `json:"sentAt,omitempty"`
	DeliveredAt time.Time     `json:"deliveredAt,omitempty"`
	ReadAt      time.Time     `json:"readAt,omitempty"`
}

// RoomDeliveryStatus is the fan-out completion snapshot for one room message.
// The sender is excluded from both counts.
type RoomDeliveryStatus struct {
	DeliveredCount int  `json:"deliveredCount"`
	TotalCount     int  `json:"totalCount"`
	Complete       bool `json:"complete"`
}

// Room represents a group chat room.
type Room struct {
	RoomID    string    `db:"room_id" json:"roomId"`
	Name      string    `db:"name" json:"name"`
	OwnerID   string    `db:"owner_id" json:"ownerId"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}
