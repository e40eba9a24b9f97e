package models

import "time"

// Inbound websocket frame types.
const (
	FrameHello            = "HELLO"
	FrameMessageSend      = "MESSAGE_SEND"
	FrameDeliveredConfirm = "MESSAGE_DELIVERED_CONFIRM"
	FrameMessageRead      = "MESSAGE_READ"
)

// Outbound websocket frame types.
const (
	FrameHelloAck       = "HELLO_ACK"
	FrameMessageAck     = "MESSAGE_ACK"
	FrameMessageReceive = "MESSAGE_RECEIVE"
	FrameDeliveryStatus = "DELIVERY_STATUS"
	FrameMessageNack    = "MESSAGE_NACK"
	FrameSyncState      = "SYNC_STATE"
	FramePresence       = "PRESENCE"
	FrameRoomDelivered  = "ROOM_DELIVERED"
)

// Nack codes surfaced to the originating client.
const (
	NackInvalidPayload = "INVALID_PAYLOAD"
	NackPersistFailed  = "PERSIST_FAILED"
	NackNotFound       = "MESSAGE_NOT_FOUND"
)

// InboundFrame is the single envelope shape clients send. Type selects which
// fields are meaningful.
type InboundFrame struct {
	Type            string `json:"type"`
	RecipientID     string `json:"recipientId,omitempty"`
	RoomID          string `json:"roomId,omitempty"`
	Content         string `json:"content,omitempty"`
	ClientMessageID string `json:"clientMessageId,omitempty"`
	MessageID       string `json:"messageId,omitempty"`
	Version         string `json:"version,omitempty"`
}

// HelloAckFrame acknowledges the HELLO handshake.
type HelloAckFrame struct {
	Type     string `json:"type"`
	Version  string `json:"version"`
	ServerID string `json:"serverId"`
}

// AckFrame reports the persistence outcome of a MESSAGE_SEND.
type AckFrame struct {
	Type            string `json:"type"`
	MessageID       string `json:"messageId"`
	ClientMessageID string `json:"clientMessageId"`
	Status          string `json:"status"`
}

// ReceiveFrame carries a message to a recipient socket.
type ReceiveFrame struct {
	Type        string    `json:"type"`
	MessageID   string    `json:"messageId"`
	SenderID    string    `json:"senderId"`
	RecipientID string    `json:"recipientId,omitempty"`
	RoomID      string    `json:"roomId,omitempty"`
	Content     string    `json:"content"`
	Timestamp   time.Time `json:"timestamp"`
	State       string    `json:"state"`
}

// DeliveryStatusFrame notifies a sender about delivery progress.
type DeliveryStatusFrame struct {
	Type        string `json:"type"`
	MessageID   string `json:"messageId"`
	RecipientID string `json:"recipientId"`
	Status      string `json:"status"`
}

// NackFrame reports a rejected inbound frame.
type NackFrame struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// SyncStateFrame precedes replay so the client knows how many messages follow.
type SyncStateFrame struct {
	Type         string `json:"type"`
	PendingCount int    `json:"pendingCount"`
	ReadCursor   string `json:"readCursor,omitempty"`
}

// PresenceFrame announces an online/offline transition for a user.
type PresenceFrame struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
	Online bool   `json:"online"`
}

// RoomDeliveredFrame tells a sender the whole room confirmed delivery.
type RoomDeliveredFrame struct {
	Type      string `json:"type"`
	MessageID string `json:"messageId"`
	RoomID    string `json:"roomId"`
	RoomDeliveryStatus
}
