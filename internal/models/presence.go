package models

import "time"

type PresenceStatus string

const (
	PresenceOnline  PresenceStatus = "online"
	PresenceAway    PresenceStatus = "away"
	PresenceBusy    PresenceStatus = "busy"
	PresenceOffline PresenceStatus = "offline"
)

func (s PresenceStatus) Valid() bool {
	switch s {
	case PresenceOnline, PresenceAway, PresenceBusy, PresenceOffline:
		return true
	}
	return false
}

type UserPresence struct {
	UserID    int64          `json:"user_id" db:"user_id"`
	Status    PresenceStatus `json:"status" db:"status"`
	SocketID  *string        `json:"-" db:"socket_id"`
	LastSeen  time.Time      `json:"last_seen" db:"last_seen"`
	UpdatedAt time.Time      `json:"updated_at" db:"updated_at"`
}

type TypingIndicator struct {
	ChatRoomID int64     `json:"chat_room_id" db:"chat_room_id"`
	UserID     int64     `json:"user_id" db:"user_id"`
	StartedAt  time.Time `json:"started_at" db:"started_at"`
}

// UserWithPresence is a quartier user joined with their presence row, if any.
type UserWithPresence struct {
	User
	Status   PresenceStatus `json:"status" db:"status"`
	LastSeen *time.Time     `json:"last_seen" db:"last_seen"`
}
