package models

import "time"

type UpdateMeta struct {
	Timestamp time.Time `json:"timestamp"`
	Audience  []int64   `json:"audience"`
}

type MessageSent struct {
	UpdateMeta
	Message HydratedMessage `json:"message"`
}

type MessageEdited struct {
	UpdateMeta
	Message HydratedMessage `json:"message"`
}

type MessageDeleted struct {
	UpdateMeta
	MessageID  int64 `json:"message_id"`
	ChatRoomID int64 `json:"chat_room_id"`
	DeletedBy  int64 `json:"deleted_by"`
}

type RoomCreated struct {
	UpdateMeta
	Room ChatRoom `json:"room"`
}

type MemberAdded struct {
	UpdateMeta
	ChatRoomID int64 `json:"chat_room_id"`
	UserID     int64 `json:"user_id"`
}

type MemberRemoved struct {
	UpdateMeta
	ChatRoomID int64 `json:"chat_room_id"`
	UserID     int64 `json:"user_id"`
}
