package storage

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/practice-sem-2/quartier-chat-service/internal/models"
)

type RoomsStore interface {
	CreateRoom(ctx context.Context, room *models.ChatRoom) (*models.ChatRoom, error)
	GetRoom(ctx context.Context, roomID int64) (*models.ChatRoom, error)
	GetActiveDirectRoom(ctx context.Context, identifier string) (*models.ChatRoom, error)
	FindDirectRoomByMembers(ctx context.Context, userA, userB int64) (*models.ChatRoom, error)
	SetDirectRoomIdentifier(ctx context.Context, roomID int64, identifier string) error
	ListUserRooms(ctx context.Context, userID int64) ([]models.RoomSummary, error)
	ListQuartierGroupRooms(ctx context.Context, quartierID int64) ([]models.RoomSummary, error)
	TouchRoom(ctx context.Context, roomID int64, at time.Time) error
	DeactivateRoom(ctx context.Context, roomID int64, at time.Time) error

	AddMembers(ctx context.Context, roomID int64, userIDs []int64, role models.MemberRole, at time.Time) error
	RemoveMember(ctx context.Context, roomID, userID int64) error
	IsMember(ctx context.Context, roomID, userID int64) (bool, error)
	GetMember(ctx context.Context, roomID, userID int64) (*models.ChatRoomMember, error)
	ListMembers(ctx context.Context, roomID int64) ([]models.RoomMember, error)
	MemberIDs(ctx context.Context, roomID int64) ([]int64, error)
	UpdateLastRead(ctx context.Context, roomID, userID int64, at time.Time) error
}

type MessagesStore interface {
	PutMessage(ctx context.Context, message *models.Message) (*models.Message, error)
	GetMessage(ctx context.Context, messageID int64) (*models.Message, error)
	GetHydrated(ctx context.Context, messageID int64) (*models.HydratedMessage, error)
	SelectMessages(ctx context.Context, selector sq.Sqlizer, options ...SelectOptions) ([]models.HydratedMessage, error)
	LastMessages(ctx context.Context, roomIDs []int64) (map[int64]models.HydratedMessage, error)
	UpdateContent(ctx context.Context, messageID int64, content string, at time.Time) error
	SoftDelete(ctx context.Context, messageID int64, at time.Time) error

	CreateDeliveries(ctx context.Context, messageID int64, userIDs []int64, at time.Time) error
	AdvanceDeliveries(ctx context.Context, userID int64, messageIDs []int64, status models.DeliveryStatus, at time.Time) (int64, error)
	MarkDelivered(ctx context.Context, messageID int64, userIDs []int64, at time.Time) (int64, error)
	MarkRoomDeliveriesRead(ctx context.Context, roomID, userID int64, at time.Time) (int64, error)
	GetDelivery(ctx context.Context, messageID, userID int64) (*models.MessageDelivery, error)
	CountUndelivered(ctx context.Context, userID int64) (int64, error)
	CountUnread(ctx context.Context, roomID, userID int64) (int64, error)

	AddReaction(ctx context.Context, reaction *models.MessageReaction) (*models.MessageReaction, bool, error)
	RemoveReaction(ctx context.Context, messageID, userID int64, reaction string) (bool, error)
	ListReactions(ctx context.Context, messageIDs []int64) (map[int64][]models.MessageReaction, error)
}

type PresenceStore interface {
	SetOnline(ctx context.Context, userID int64, socketID string, at time.Time) (*models.UserPresence, error)
	SetOffline(ctx context.Context, userID int64, socketID string, at time.Time) (bool, error)
	HandOver(ctx context.Context, userID int64, fromSocketID, toSocketID string, at time.Time) (bool, error)
	SetStatus(ctx context.Context, userID int64, status models.PresenceStatus, at time.Time) (*models.UserPresence, error)
	Touch(ctx context.Context, userID int64, at time.Time) error
	GetPresence(ctx context.Context, userID int64) (*models.UserPresence, error)
	OnlineInQuartier(ctx context.Context, quartierID int64, since time.Time) ([]models.UserWithPresence, error)
	SweepStale(ctx context.Context, before time.Time) (int64, error)

	UpsertTyping(ctx context.Context, roomID, userID int64, at time.Time) error
	DeleteTyping(ctx context.Context, roomID, userID int64) (bool, error)
	TypingUsers(ctx context.Context, roomID int64, since time.Time) ([]models.TypingIndicator, error)
	PurgeTyping(ctx context.Context, before time.Time) (int64, error)
}

type UsersStore interface {
	GetUser(ctx context.Context, userID int64) (*models.User, error)
	ListQuartierUsers(ctx context.Context, quartierID int64) ([]models.UserWithPresence, error)
}

type UpdatesPublisher interface {
	RoomCreated(room *models.RoomCreated) error
	MessageSent(msg *models.MessageSent) error
	MessageEdited(msg *models.MessageEdited) error
	MessageDeleted(msg *models.MessageDeleted) error
	MemberAdded(member *models.MemberAdded) error
	MemberRemoved(member *models.MemberRemoved) error
}
