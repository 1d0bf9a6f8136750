package models

import "time"

type MessageType string

const (
	MessageTypeText   MessageType = "text"
	MessageTypeImage  MessageType = "image"
	MessageTypeFile   MessageType = "file"
	MessageTypeSystem MessageType = "system"
)

type DeliveryStatus string

const (
	DeliverySent      DeliveryStatus = "sent"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryRead      DeliveryStatus = "read"
)

// Rank orders delivery statuses; a delivery row only moves to a higher rank.
func (s DeliveryStatus) Rank() int {
	switch s {
	case DeliverySent:
		return 1
	case DeliveryDelivered:
		return 2
	case DeliveryRead:
		return 3
	}
	return 0
}

type Message struct {
	ID          int64       `db:"id"`
	ChatRoomID  int64       `db:"chat_room_id"`
	SenderID    *int64      `db:"sender_id"`
	Content     string      `db:"content"`
	MessageType MessageType `db:"message_type"`
	ReplyToID   *int64      `db:"reply_to_id"`
	CreatedAt   time.Time   `db:"created_at"`
	UpdatedAt   time.Time   `db:"updated_at"`
	IsEdited    bool        `db:"is_edited"`
	IsDeleted   bool        `db:"is_deleted"`
	DeletedAt   *time.Time  `db:"deleted_at"`
}

type MessageReaction struct {
	ID        int64     `json:"id" db:"id"`
	MessageID int64     `json:"message_id" db:"message_id"`
	UserID    int64     `json:"user_id" db:"user_id"`
	Reaction  string    `json:"reaction" db:"reaction"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type MessageDelivery struct {
	MessageID int64          `json:"message_id" db:"message_id"`
	UserID    int64          `json:"user_id" db:"user_id"`
	Status    DeliveryStatus `json:"status" db:"status"`
	Timestamp time.Time      `json:"timestamp" db:"timestamp"`
}

type ReplyPreview struct {
	ID        int64        `json:"id"`
	Content   string       `json:"content"`
	Sender    *UserSummary `json:"sender"`
	IsDeleted bool         `json:"is_deleted"`
}

// HydratedMessage is the client-facing view of a message. Content of deleted
// messages is never carried by this type.
type HydratedMessage struct {
	ID          int64             `json:"id"`
	ChatRoomID  int64             `json:"chat_room_id"`
	SenderID    *int64            `json:"sender_id"`
	Content     string            `json:"content"`
	MessageType MessageType       `json:"message_type"`
	ReplyToID   *int64            `json:"reply_to_id"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
	IsEdited    bool              `json:"is_edited"`
	IsDeleted   bool              `json:"is_deleted"`
	DeletedAt   *time.Time        `json:"deleted_at,omitempty"`
	Sender      *UserSummary      `json:"sender"`
	ReplyTo     *ReplyPreview     `json:"reply_to"`
	Reactions   []MessageReaction `json:"reactions"`
}

func (m *HydratedMessage) Redact() {
	if m.IsDeleted {
		m.Content = ""
	}
	if m.ReplyTo != nil && m.ReplyTo.IsDeleted {
		m.ReplyTo.Content = ""
	}
	if m.Reactions == nil {
		m.Reactions = []MessageReaction{}
	}
}

type MessageSend struct {
	ChatRoomID  int64       `json:"room_id" validate:"required,gt=0"`
	Content     string      `json:"content" validate:"required,max=10000"`
	MessageType MessageType `json:"message_type" validate:"omitempty,oneof=text image file system"`
	ReplyToID   *int64      `json:"reply_to_id" validate:"omitempty,gt=0"`
}

type MessagesSelect struct {
	ChatRoomID int64
	Page       uint64
	Limit      uint64
	Before     *time.Time
	After      *time.Time
}
