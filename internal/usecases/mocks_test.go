package usecases

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/practice-sem-2/quartier-chat-service/internal/models"
	storage "github.com/practice-sem-2/quartier-chat-service/internal/storages"
	"github.com/stretchr/testify/mock"
)

type registryMock struct {
	rooms     *roomsStoreMock
	messages  *messagesStoreMock
	presence  *presenceStoreMock
	users     *usersStoreMock
	updates   *updatesMock
	atomicErr error
}

func newRegistryMock() *registryMock {
	return &registryMock{
		rooms:    &roomsStoreMock{},
		messages: &messagesStoreMock{},
		presence: &presenceStoreMock{},
		users:    &usersStoreMock{},
		updates:  &updatesMock{},
	}
}

func (r *registryMock) Atomic(_ context.Context, fn storage.AtomicFunc) error {
	if r.atomicErr != nil {
		return r.atomicErr
	}
	return fn(r)
}

func (r *registryMock) GetRoomsStore() storage.RoomsStore         { return r.rooms }
func (r *registryMock) GetMessagesStore() storage.MessagesStore   { return r.messages }
func (r *registryMock) GetPresenceStore() storage.PresenceStore   { return r.presence }
func (r *registryMock) GetUsersStore() storage.UsersStore         { return r.users }
func (r *registryMock) GetUpdatesStore() storage.UpdatesPublisher { return r.updates }

type roomsStoreMock struct{ mock.Mock }

func roomOrNil(v interface{}) *models.ChatRoom {
	room, _ := v.(*models.ChatRoom)
	return room
}

func (m *roomsStoreMock) CreateRoom(ctx context.Context, room *models.ChatRoom) (*models.ChatRoom, error) {
	args := m.Called(ctx, room)
	return roomOrNil(args.Get(0)), args.Error(1)
}

func (m *roomsStoreMock) GetRoom(ctx context.Context, roomID int64) (*models.ChatRoom, error) {
	args := m.Called(ctx, roomID)
	return roomOrNil(args.Get(0)), args.Error(1)
}

func (m *roomsStoreMock) GetActiveDirectRoom(ctx context.Context, identifier string) (*models.ChatRoom, error) {
	args := m.Called(ctx, identifier)
	return roomOrNil(args.Get(0)), args.Error(1)
}

func (m *roomsStoreMock) FindDirectRoomByMembers(ctx context.Context, userA, userB int64) (*models.ChatRoom, error) {
	args := m.Called(ctx, userA, userB)
	return roomOrNil(args.Get(0)), args.Error(1)
}

func (m *roomsStoreMock) SetDirectRoomIdentifier(ctx context.Context, roomID int64, identifier string) error {
	return m.Called(ctx, roomID, identifier).Error(0)
}

func (m *roomsStoreMock) ListUserRooms(ctx context.Context, userID int64) ([]models.RoomSummary, error) {
	args := m.Called(ctx, userID)
	rooms, _ := args.Get(0).([]models.RoomSummary)
	return rooms, args.Error(1)
}

func (m *roomsStoreMock) ListQuartierGroupRooms(ctx context.Context, quartierID int64) ([]models.RoomSummary, error) {
	args := m.Called(ctx, quartierID)
	rooms, _ := args.Get(0).([]models.RoomSummary)
	return rooms, args.Error(1)
}

func (m *roomsStoreMock) TouchRoom(ctx context.Context, roomID int64, at time.Time) error {
	return m.Called(ctx, roomID, at).Error(0)
}

func (m *roomsStoreMock) DeactivateRoom(ctx context.Context, roomID int64, at time.Time) error {
	return m.Called(ctx, roomID, at).Error(0)
}

func (m *roomsStoreMock) AddMembers(ctx context.Context, roomID int64, userIDs []int64, role models.MemberRole, at time.Time) error {
	return m.Called(ctx, roomID, userIDs, role, at).Error(0)
}

func (m *roomsStoreMock) RemoveMember(ctx context.Context, roomID, userID int64) error {
	return m.Called(ctx, roomID, userID).Error(0)
}

func (m *roomsStoreMock) IsMember(ctx context.Context, roomID, userID int64) (bool, error) {
	args := m.Called(ctx, roomID, userID)
	return args.Bool(0), args.Error(1)
}

func (m *roomsStoreMock) GetMember(ctx context.Context, roomID, userID int64) (*models.ChatRoomMember, error) {
	args := m.Called(ctx, roomID, userID)
	member, _ := args.Get(0).(*models.ChatRoomMember)
	return member, args.Error(1)
}

func (m *roomsStoreMock) ListMembers(ctx context.Context, roomID int64) ([]models.RoomMember, error) {
	args := m.Called(ctx, roomID)
	members, _ := args.Get(0).([]models.RoomMember)
	return members, args.Error(1)
}

func (m *roomsStoreMock) MemberIDs(ctx context.Context, roomID int64) ([]int64, error) {
	args := m.Called(ctx, roomID)
	ids, _ := args.Get(0).([]int64)
	return ids, args.Error(1)
}

func (m *roomsStoreMock) UpdateLastRead(ctx context.Context, roomID, userID int64, at time.Time) error {
	return m.Called(ctx, roomID, userID, at).Error(0)
}

type messagesStoreMock struct{ mock.Mock }

func (m *messagesStoreMock) PutMessage(ctx context.Context, message *models.Message) (*models.Message, error) {
	args := m.Called(ctx, message)
	msg, _ := args.Get(0).(*models.Message)
	return msg, args.Error(1)
}

func (m *messagesStoreMock) GetMessage(ctx context.Context, messageID int64) (*models.Message, error) {
	args := m.Called(ctx, messageID)
	msg, _ := args.Get(0).(*models.Message)
	return msg, args.Error(1)
}

func (m *messagesStoreMock) GetHydrated(ctx context.Context, messageID int64) (*models.HydratedMessage, error) {
	args := m.Called(ctx, messageID)
	msg, _ := args.Get(0).(*models.HydratedMessage)
	return msg, args.Error(1)
}

func (m *messagesStoreMock) SelectMessages(ctx context.Context, selector sq.Sqlizer, options ...storage.SelectOptions) ([]models.HydratedMessage, error) {
	args := m.Called(ctx, selector, options)
	msgs, _ := args.Get(0).([]models.HydratedMessage)
	return msgs, args.Error(1)
}

func (m *messagesStoreMock) LastMessages(ctx context.Context, roomIDs []int64) (map[int64]models.HydratedMessage, error) {
	args := m.Called(ctx, roomIDs)
	msgs, _ := args.Get(0).(map[int64]models.HydratedMessage)
	return msgs, args.Error(1)
}

func (m *messagesStoreMock) UpdateContent(ctx context.Context, messageID int64, content string, at time.Time) error {
	return m.Called(ctx, messageID, content, at).Error(0)
}

func (m *messagesStoreMock) SoftDelete(ctx context.Context, messageID int64, at time.Time) error {
	return m.Called(ctx, messageID, at).Error(0)
}

func (m *messagesStoreMock) CreateDeliveries(ctx context.Context, messageID int64, userIDs []int64, at time.Time) error {
	return m.Called(ctx, messageID, userIDs, at).Error(0)
}

func (m *messagesStoreMock) AdvanceDeliveries(ctx context.Context, userID int64, messageIDs []int64, status models.DeliveryStatus, at time.Time) (int64, error) {
	args := m.Called(ctx, userID, messageIDs, status, at)
	return args.Get(0).(int64), args.Error(1)
}

func (m *messagesStoreMock) MarkDelivered(ctx context.Context, messageID int64, userIDs []int64, at time.Time) (int64, error) {
	args := m.Called(ctx, messageID, userIDs, at)
	return args.Get(0).(int64), args.Error(1)
}

func (m *messagesStoreMock) MarkRoomDeliveriesRead(ctx context.Context, roomID, userID int64, at time.Time) (int64, error) {
	args := m.Called(ctx, roomID, userID, at)
	return args.Get(0).(int64), args.Error(1)
}

func (m *messagesStoreMock) GetDelivery(ctx context.Context, messageID, userID int64) (*models.MessageDelivery, error) {
	args := m.Called(ctx, messageID, userID)
	d, _ := args.Get(0).(*models.MessageDelivery)
	return d, args.Error(1)
}

func (m *messagesStoreMock) CountUndelivered(ctx context.Context, userID int64) (int64, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *messagesStoreMock) CountUnread(ctx context.Context, roomID, userID int64) (int64, error) {
	args := m.Called(ctx, roomID, userID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *messagesStoreMock) AddReaction(ctx context.Context, reaction *models.MessageReaction) (*models.MessageReaction, bool, error) {
	args := m.Called(ctx, reaction)
	r, _ := args.Get(0).(*models.MessageReaction)
	return r, args.Bool(1), args.Error(2)
}

func (m *messagesStoreMock) RemoveReaction(ctx context.Context, messageID, userID int64, reaction string) (bool, error) {
	args := m.Called(ctx, messageID, userID, reaction)
	return args.Bool(0), args.Error(1)
}

func (m *messagesStoreMock) ListReactions(ctx context.Context, messageIDs []int64) (map[int64][]models.MessageReaction, error) {
	args := m.Called(ctx, messageIDs)
	r, _ := args.Get(0).(map[int64][]models.MessageReaction)
	return r, args.Error(1)
}

type presenceStoreMock struct{ mock.Mock }

func (m *presenceStoreMock) SetOnline(ctx context.Context, userID int64, socketID string, at time.Time) (*models.UserPresence, error) {
	args := m.Called(ctx, userID, socketID, at)
	p, _ := args.Get(0).(*models.UserPresence)
	return p, args.Error(1)
}

func (m *presenceStoreMock) HandOver(ctx context.Context, userID int64, fromSocketID, toSocketID string, at time.Time) (bool, error) {
	args := m.Called(ctx, userID, fromSocketID, toSocketID, at)
	return args.Bool(0), args.Error(1)
}

func (m *presenceStoreMock) SetOffline(ctx context.Context, userID int64, socketID string, at time.Time) (bool, error) {
	args := m.Called(ctx, userID, socketID, at)
	return args.Bool(0), args.Error(1)
}

func (m *presenceStoreMock) SetStatus(ctx context.Context, userID int64, status models.PresenceStatus, at time.Time) (*models.UserPresence, error) {
	args := m.Called(ctx, userID, status, at)
	p, _ := args.Get(0).(*models.UserPresence)
	return p, args.Error(1)
}

func (m *presenceStoreMock) Touch(ctx context.Context, userID int64, at time.Time) error {
	return m.Called(ctx, userID, at).Error(0)
}

func (m *presenceStoreMock) GetPresence(ctx context.Context, userID int64) (*models.UserPresence, error) {
	args := m.Called(ctx, userID)
	p, _ := args.Get(0).(*models.UserPresence)
	return p, args.Error(1)
}

func (m *presenceStoreMock) OnlineInQuartier(ctx context.Context, quartierID int64, since time.Time) ([]models.UserWithPresence, error) {
	args := m.Called(ctx, quartierID, since)
	u, _ := args.Get(0).([]models.UserWithPresence)
	return u, args.Error(1)
}

func (m *presenceStoreMock) SweepStale(ctx context.Context, before time.Time) (int64, error) {
	args := m.Called(ctx, before)
	return args.Get(0).(int64), args.Error(1)
}

func (m *presenceStoreMock) UpsertTyping(ctx context.Context, roomID, userID int64, at time.Time) error {
	return m.Called(ctx, roomID, userID, at).Error(0)
}

func (m *presenceStoreMock) DeleteTyping(ctx context.Context, roomID, userID int64) (bool, error) {
	args := m.Called(ctx, roomID, userID)
	return args.Bool(0), args.Error(1)
}

func (m *presenceStoreMock) TypingUsers(ctx context.Context, roomID int64, since time.Time) ([]models.TypingIndicator, error) {
	args := m.Called(ctx, roomID, since)
	t, _ := args.Get(0).([]models.TypingIndicator)
	return t, args.Error(1)
}

func (m *presenceStoreMock) PurgeTyping(ctx context.Context, before time.Time) (int64, error) {
	args := m.Called(ctx, before)
	return args.Get(0).(int64), args.Error(1)
}

type usersStoreMock struct{ mock.Mock }

func (m *usersStoreMock) GetUser(ctx context.Context, userID int64) (*models.User, error) {
	args := m.Called(ctx, userID)
	u, _ := args.Get(0).(*models.User)
	return u, args.Error(1)
}

func (m *usersStoreMock) ListQuartierUsers(ctx context.Context, quartierID int64) ([]models.UserWithPresence, error) {
	args := m.Called(ctx, quartierID)
	u, _ := args.Get(0).([]models.UserWithPresence)
	return u, args.Error(1)
}

// updatesMock accepts every update. With hold set, every call waits until
// hold is closed.
type updatesMock struct {
	hold chan struct{}
}

func (m *updatesMock) wait() error {
	if m.hold != nil {
		<-m.hold
	}
	return nil
}

func (m *updatesMock) RoomCreated(*models.RoomCreated) error       { return m.wait() }
func (m *updatesMock) MessageSent(*models.MessageSent) error       { return m.wait() }
func (m *updatesMock) MessageEdited(*models.MessageEdited) error   { return m.wait() }
func (m *updatesMock) MessageDeleted(*models.MessageDeleted) error { return m.wait() }
func (m *updatesMock) MemberAdded(*models.MemberAdded) error       { return m.wait() }
func (m *updatesMock) MemberRemoved(*models.MemberRemoved) error   { return m.wait() }

type notifierMock struct{ mock.Mock }

func (m *notifierMock) Notify(audience models.Audience, event models.Event) {
	m.Called(audience, event)
}

func (m *notifierMock) Detach(roomID int64, userIDs ...int64) {
	m.Called(roomID, userIDs)
}
