package models

import "time"

const (
	EventMessageReceived         = "message_received"
	EventMessageUpdated          = "message_updated"
	EventMessageDeleted          = "message_deleted"
	EventUserJoinedRoom          = "user_joined_room"
	EventUserLeftRoom            = "user_left_room"
	EventTypingStart             = "typing_start"
	EventTypingStop              = "typing_stop"
	EventUserPresenceUpdated     = "user_presence_updated"
	EventReactionAdded           = "message_reaction_added"
	EventReactionRemoved         = "message_reaction_removed"
	EventRoomCreated             = "room_created"
	EventRoomUpdated             = "room_updated"
	EventUndeliveredNotification = "undelivered_messages_notification"

	// replies addressed to the issuing connection only
	EventRoomJoined         = "room_joined"
	EventRoomLeft           = "room_left"
	EventMessagesMarkedRead = "messages_marked_read"
	EventError              = "error"
)

// Event is the server to client frame.
type Event struct {
	Type      string      `json:"type"`
	RequestID string      `json:"request_id,omitempty"`
	Payload   interface{} `json:"payload"`
}

// Audience selects the live connections an event is fanned out to. Exactly one
// of RoomID, UserIDs or QuartierID is expected to be set.
type Audience struct {
	RoomID        int64   `json:"room_id,omitempty"`
	UserIDs       []int64 `json:"user_ids,omitempty"`
	QuartierID    int64   `json:"quartier_id,omitempty"`
	ExcludeUserID int64   `json:"exclude_user_id,omitempty"`
}

func RoomAudience(roomID int64) Audience {
	return Audience{RoomID: roomID}
}

func UsersAudience(userIDs ...int64) Audience {
	return Audience{UserIDs: userIDs}
}

type MessagePayload struct {
	Message *HydratedMessage `json:"message"`
}

type MessageDeletedPayload struct {
	Message   *HydratedMessage `json:"message"`
	DeletedBy *UserSummary     `json:"deleted_by"`
}

type RoomPayload struct {
	Room *ChatRoom `json:"room"`
}

type RoomMemberPayload struct {
	RoomID int64        `json:"room_id"`
	User   *UserSummary `json:"user"`
}

type TypingPayload struct {
	RoomID int64        `json:"room_id"`
	User   *UserSummary `json:"user"`
}

type PresencePayload struct {
	User     *UserSummary   `json:"user"`
	Status   PresenceStatus `json:"status"`
	LastSeen time.Time      `json:"last_seen"`
}

type ReactionPayload struct {
	Message  *HydratedMessage `json:"message"`
	Reaction string           `json:"reaction"`
	User     *UserSummary     `json:"user"`
}

type UndeliveredPayload struct {
	Count int64 `json:"count"`
}

// RoomJoinedPayload is the snapshot a connection receives after join_room.
type RoomJoinedPayload struct {
	Room   *RoomDetail       `json:"room"`
	Typing []TypingIndicator `json:"typing"`
}

type RoomLeftPayload struct {
	RoomID int64 `json:"room_id"`
}

type MessagesMarkedReadPayload struct {
	RoomID     *int64  `json:"room_id,omitempty"`
	MessageIDs []int64 `json:"message_ids"`
	Updated    int64   `json:"updated"`
}

type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}
