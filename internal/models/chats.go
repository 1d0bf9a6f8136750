package models

import (
	"fmt"
	"time"
)

type RoomType string

const (
	RoomTypeGroup  RoomType = "group"
	RoomTypeDirect RoomType = "direct"
)

type MemberRole string

const (
	RoleAdmin     MemberRole = "admin"
	RoleModerator MemberRole = "moderator"
	RoleMember    MemberRole = "member"
)

// CanModerate reports whether the role may delete other members' messages.
func (r MemberRole) CanModerate() bool {
	return r == RoleAdmin || r == RoleModerator
}

type ChatRoom struct {
	ID                   int64     `json:"id" db:"id"`
	Name                 string    `json:"name" db:"name"`
	Description          *string   `json:"description,omitempty" db:"description"`
	QuartierID           int64     `json:"quartier_id" db:"quartier_id"`
	RoomType             RoomType  `json:"room_type" db:"room_type"`
	CreatedBy            *int64    `json:"created_by,omitempty" db:"created_by"`
	IsActive             bool      `json:"is_active" db:"is_active"`
	DirectRoomIdentifier *string   `json:"direct_room_identifier,omitempty" db:"direct_room_identifier"`
	CreatedAt            time.Time `json:"created_at" db:"created_at"`
	UpdatedAt            time.Time `json:"updated_at" db:"updated_at"`
}

type ChatRoomMember struct {
	ChatRoomID int64      `json:"chat_room_id" db:"chat_room_id"`
	UserID     int64      `json:"user_id" db:"user_id"`
	Role       MemberRole `json:"role" db:"role"`
	JoinedAt   time.Time  `json:"joined_at" db:"joined_at"`
	LastReadAt time.Time  `json:"last_read_at" db:"last_read_at"`
	IsMuted    bool       `json:"is_muted" db:"is_muted"`
}

// RoomMember is a membership row joined with the member's identity.
type RoomMember struct {
	ChatRoomMember
	Nom    string `json:"nom" db:"nom"`
	Prenom string `json:"prenom" db:"prenom"`
	Email  string `json:"email" db:"email"`
}

// RoomSummary is a room as listed for one of its members.
type RoomSummary struct {
	ChatRoom
	MemberCount int64            `json:"member_count" db:"member_count"`
	UnreadCount int64            `json:"unread_count" db:"unread_count"`
	LastMessage *HydratedMessage `json:"last_message" db:"-"`
}

// RoomDetail carries members and recent messages only when the requester is a member.
type RoomDetail struct {
	ChatRoom
	IsMember bool              `json:"is_member"`
	Members  []RoomMember      `json:"members,omitempty"`
	Messages []HydratedMessage `json:"messages,omitempty"`
}

type GroupRoomCreate struct {
	Name        string  `json:"name" validate:"required,max=255"`
	Description *string `json:"description" validate:"omitempty,max=2000"`
	MemberIDs   []int64 `json:"member_ids" validate:"dive,gt=0"`
}

// DirectRoomIdentifier is the canonical "min:max" key of an unordered user pair.
func DirectRoomIdentifier(userA, userB int64) string {
	if userA > userB {
		userA, userB = userB, userA
	}
	return fmt.Sprintf("%d:%d", userA, userB)
}

// DirectRoomName orders the display names by user id so that both sides of the
// conversation derive the same name.
func DirectRoomName(userA, userB int64, nameA, nameB string) string {
	if userA > userB {
		nameA, nameB = nameB, nameA
	}
	return fmt.Sprintf("%s & %s", nameA, nameB)
}
