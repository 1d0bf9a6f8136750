package usecases

import (
	"context"
	"testing"
	"time"

	"github.com/practice-sem-2/quartier-chat-service/internal/models"
	storage "github.com/practice-sem-2/quartier-chat-service/internal/storages"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

var fixedNow = time.Date(2024, 3, 14, 10, 0, 0, 0, time.UTC)

var (
	lucas  = &models.User{ID: 3, QuartierID: 1, Nom: "Martin", Prenom: "Lucas", Email: "lucas@example.org"}
	pierre = &models.User{ID: 34, QuartierID: 1, Nom: "Durand", Prenom: "Pierre", Email: "pierre@example.org"}
	remote = &models.User{ID: 77, QuartierID: 2, Nom: "Petit", Prenom: "Marie", Email: "marie@example.org"}
)

type usecaseSuite struct {
	suite.Suite
	registry *registryMock
	notifier *notifierMock
	logs     *test.Hook
	ctx      context.Context
}

func (s *usecaseSuite) SetupTest() {
	s.registry = newRegistryMock()
	s.notifier = &notifierMock{}
	s.ctx = context.Background()
}

func (s *usecaseSuite) options() []Option {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	s.logs = hook
	return []Option{
		WithClock(func() time.Time { return fixedNow }),
		WithNotifier(s.notifier),
		WithLogger(logger),
	}
}

func (s *usecaseSuite) assertExpectations() {
	t := s.T()
	s.registry.rooms.AssertExpectations(t)
	s.registry.messages.AssertExpectations(t)
	s.registry.presence.AssertExpectations(t)
	s.registry.users.AssertExpectations(t)
	s.notifier.AssertExpectations(t)
}

func (s *usecaseSuite) expectMember(room *models.ChatRoom, userID int64, isMember bool) {
	s.registry.rooms.On("GetRoom", mock.Anything, room.ID).Return(room, nil)
	s.registry.rooms.On("IsMember", mock.Anything, room.ID, userID).Return(isMember, nil)
}

type RoomsUsecaseTestSuite struct {
	usecaseSuite
	rooms *RoomsUsecase
}

func TestRoomsUsecaseTestSuite(t *testing.T) {
	suite.Run(t, &RoomsUsecaseTestSuite{})
}

func (s *RoomsUsecaseTestSuite) SetupTest() {
	s.usecaseSuite.SetupTest()
	s.rooms = NewRoomsUsecase(s.registry, s.options()...)
}

func (s *RoomsUsecaseTestSuite) Test_FindOrCreateDirectRoom_RejectsSelf() {
	_, _, err := s.rooms.FindOrCreateDirectRoom(s.ctx, lucas, lucas.ID)
	assert.ErrorIs(s.T(), err, ErrSelfDirectRoom)
	assert.Equal(s.T(), KindInvalidArgument, Classify(err))
}

func (s *RoomsUsecaseTestSuite) Test_FindOrCreateDirectRoom_RejectsOtherQuartier() {
	s.registry.users.On("GetUser", mock.Anything, remote.ID).Return(remote, nil)

	_, _, err := s.rooms.FindOrCreateDirectRoom(s.ctx, lucas, remote.ID)
	assert.ErrorIs(s.T(), err, ErrOutsideQuartier)
	s.assertExpectations()
}

func (s *RoomsUsecaseTestSuite) Test_FindOrCreateDirectRoom_Existing() {
	ident := "3:34"
	existing := &models.ChatRoom{ID: 8, RoomType: models.RoomTypeDirect, DirectRoomIdentifier: &ident, IsActive: true}
	s.registry.users.On("GetUser", mock.Anything, lucas.ID).Return(lucas, nil)
	s.registry.rooms.On("GetActiveDirectRoom", mock.Anything, ident).Return(existing, nil)

	room, created, err := s.rooms.FindOrCreateDirectRoom(s.ctx, pierre, lucas.ID)
	require.NoError(s.T(), err)
	assert.False(s.T(), created)
	assert.Equal(s.T(), int64(8), room.ID)
	s.assertExpectations()
}

func (s *RoomsUsecaseTestSuite) Test_FindOrCreateDirectRoom_BackfillsLegacyRoom() {
	legacy := &models.ChatRoom{ID: 5, RoomType: models.RoomTypeDirect, IsActive: true}
	s.registry.users.On("GetUser", mock.Anything, pierre.ID).Return(pierre, nil)
	s.registry.rooms.On("GetActiveDirectRoom", mock.Anything, "3:34").Return(nil, storage.ErrRoomNotFound)
	s.registry.rooms.On("FindDirectRoomByMembers", mock.Anything, lucas.ID, pierre.ID).Return(legacy, nil)
	s.registry.rooms.On("SetDirectRoomIdentifier", mock.Anything, int64(5), "3:34").Return(nil)

	room, created, err := s.rooms.FindOrCreateDirectRoom(s.ctx, lucas, pierre.ID)
	require.NoError(s.T(), err)
	assert.False(s.T(), created)
	require.NotNil(s.T(), room.DirectRoomIdentifier)
	assert.Equal(s.T(), "3:34", *room.DirectRoomIdentifier)
	s.assertExpectations()
}

func (s *RoomsUsecaseTestSuite) Test_FindOrCreateDirectRoom_Creates() {
	s.registry.users.On("GetUser", mock.Anything, lucas.ID).Return(lucas, nil)
	s.registry.rooms.On("GetActiveDirectRoom", mock.Anything, "3:34").Return(nil, storage.ErrRoomNotFound)
	s.registry.rooms.On("FindDirectRoomByMembers", mock.Anything, pierre.ID, lucas.ID).Return(nil, storage.ErrRoomNotFound)
	s.registry.rooms.On("CreateRoom", mock.Anything, mock.MatchedBy(func(r *models.ChatRoom) bool {
		return r.Name == "Lucas & Pierre" &&
			r.RoomType == models.RoomTypeDirect &&
			r.DirectRoomIdentifier != nil && *r.DirectRoomIdentifier == "3:34" &&
			r.QuartierID == 1
	})).Return(&models.ChatRoom{ID: 11, Name: "Lucas & Pierre", RoomType: models.RoomTypeDirect, CreatedAt: fixedNow}, nil)
	s.registry.rooms.On("AddMembers", mock.Anything, int64(11), []int64{lucas.ID}, models.RoleAdmin, fixedNow).Return(nil)
	s.registry.rooms.On("AddMembers", mock.Anything, int64(11), []int64{pierre.ID}, models.RoleMember, fixedNow).Return(nil)
	s.notifier.On("Notify", models.UsersAudience(pierre.ID, lucas.ID), mock.MatchedBy(func(e models.Event) bool {
		return e.Type == models.EventRoomCreated
	})).Once()

	room, created, err := s.rooms.FindOrCreateDirectRoom(s.ctx, pierre, lucas.ID)
	require.NoError(s.T(), err)
	assert.True(s.T(), created)
	assert.Equal(s.T(), "Lucas & Pierre", room.Name)
	s.assertExpectations()
}

func (s *RoomsUsecaseTestSuite) Test_FindOrCreateDirectRoom_RetriesOnConflict() {
	ident := "3:34"
	winner := &models.ChatRoom{ID: 12, RoomType: models.RoomTypeDirect, DirectRoomIdentifier: &ident}
	s.registry.users.On("GetUser", mock.Anything, pierre.ID).Return(pierre, nil)
	s.registry.rooms.On("GetActiveDirectRoom", mock.Anything, ident).Return(nil, storage.ErrRoomNotFound).Twice()
	s.registry.rooms.On("FindDirectRoomByMembers", mock.Anything, lucas.ID, pierre.ID).Return(nil, storage.ErrRoomNotFound).Once()
	s.registry.rooms.On("CreateRoom", mock.Anything, mock.Anything).Return(nil, storage.ErrDirectRoomExists).Once()
	s.registry.rooms.On("GetActiveDirectRoom", mock.Anything, ident).Return(winner, nil).Once()

	room, created, err := s.rooms.FindOrCreateDirectRoom(s.ctx, lucas, pierre.ID)
	require.NoError(s.T(), err, "a lost race is not an error")
	assert.False(s.T(), created)
	assert.Equal(s.T(), int64(12), room.ID)
	s.assertExpectations()
}

func (s *RoomsUsecaseTestSuite) Test_GetRoom_NonMemberIsForbidden() {
	room := &models.ChatRoom{ID: 4, RoomType: models.RoomTypeGroup, IsActive: true}
	s.expectMember(room, remote.ID, false)

	_, err := s.rooms.GetRoom(s.ctx, remote, room.ID)
	assert.ErrorIs(s.T(), err, ErrUserIsNotARoomMember)
	assert.Equal(s.T(), KindForbidden, Classify(err))
}

func (s *RoomsUsecaseTestSuite) Test_GetRoom_MessagesAreChronological() {
	room := &models.ChatRoom{ID: 4, RoomType: models.RoomTypeGroup, IsActive: true}
	s.expectMember(room, lucas.ID, true)
	s.registry.rooms.On("ListMembers", mock.Anything, room.ID).Return([]models.RoomMember{{}}, nil)
	s.registry.messages.On("SelectMessages", mock.Anything, mock.Anything, mock.Anything).
		Return([]models.HydratedMessage{{ID: 3}, {ID: 2}, {ID: 1}}, nil)

	detail, err := s.rooms.GetRoom(s.ctx, lucas, room.ID)
	require.NoError(s.T(), err)
	assert.True(s.T(), detail.IsMember)
	require.Len(s.T(), detail.Messages, 3)
	assert.Equal(s.T(), []int64{1, 2, 3}, []int64{detail.Messages[0].ID, detail.Messages[1].ID, detail.Messages[2].ID})
}

func (s *RoomsUsecaseTestSuite) Test_CreateGroupRoom() {
	s.registry.rooms.On("CreateRoom", mock.Anything, mock.MatchedBy(func(r *models.ChatRoom) bool {
		return r.Name == "Jardin partagé" && r.RoomType == models.RoomTypeGroup && *r.CreatedBy == lucas.ID
	})).Return(&models.ChatRoom{ID: 20, Name: "Jardin partagé"}, nil)
	s.registry.rooms.On("AddMembers", mock.Anything, int64(20), []int64{lucas.ID}, models.RoleAdmin, fixedNow).Return(nil)
	s.registry.rooms.On("AddMembers", mock.Anything, int64(20), []int64{pierre.ID}, models.RoleMember, fixedNow).Return(nil)
	s.notifier.On("Notify", models.UsersAudience(lucas.ID, pierre.ID), mock.Anything).Once()

	room, err := s.rooms.CreateGroupRoom(s.ctx, lucas, models.GroupRoomCreate{
		Name:      "  Jardin partagé ",
		MemberIDs: []int64{pierre.ID, lucas.ID},
	})
	require.NoError(s.T(), err)
	assert.Equal(s.T(), int64(20), room.ID)
	s.assertExpectations()
}

func (s *RoomsUsecaseTestSuite) Test_CreateGroupRoom_EmptyName() {
	_, err := s.rooms.CreateGroupRoom(s.ctx, lucas, models.GroupRoomCreate{Name: "   "})
	assert.Equal(s.T(), KindInvalidArgument, Classify(err))
}

func (s *RoomsUsecaseTestSuite) Test_CreateGroupRoom_RequiresUser() {
	_, err := s.rooms.CreateGroupRoom(s.ctx, nil, models.GroupRoomCreate{Name: "Room"})
	assert.Equal(s.T(), KindUnauthenticated, Classify(err))
}

func (s *RoomsUsecaseTestSuite) Test_JoinRoom_DirectIsRejected() {
	s.registry.rooms.On("GetRoom", mock.Anything, int64(9)).
		Return(&models.ChatRoom{ID: 9, QuartierID: 1, RoomType: models.RoomTypeDirect}, nil)

	_, err := s.rooms.JoinRoom(s.ctx, lucas, 9)
	assert.ErrorIs(s.T(), err, ErrDirectRoomMembership)
}

func (s *RoomsUsecaseTestSuite) Test_JoinRoom_AlreadyMemberIsNoop() {
	s.registry.rooms.On("GetRoom", mock.Anything, int64(9)).
		Return(&models.ChatRoom{ID: 9, QuartierID: 1, RoomType: models.RoomTypeGroup}, nil)
	s.registry.rooms.On("IsMember", mock.Anything, int64(9), lucas.ID).Return(true, nil)

	_, err := s.rooms.JoinRoom(s.ctx, lucas, 9)
	require.NoError(s.T(), err)
	s.registry.rooms.AssertNotCalled(s.T(), "AddMembers", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	s.notifier.AssertNotCalled(s.T(), "Notify", mock.Anything, mock.Anything)
}

func (s *RoomsUsecaseTestSuite) Test_JoinRoom() {
	s.registry.rooms.On("GetRoom", mock.Anything, int64(9)).
		Return(&models.ChatRoom{ID: 9, QuartierID: 1, RoomType: models.RoomTypeGroup}, nil)
	s.registry.rooms.On("IsMember", mock.Anything, int64(9), pierre.ID).Return(false, nil)
	s.registry.rooms.On("AddMembers", mock.Anything, int64(9), []int64{pierre.ID}, models.RoleMember, fixedNow).Return(nil)
	s.notifier.On("Notify", models.RoomAudience(9), mock.MatchedBy(func(e models.Event) bool {
		return e.Type == models.EventUserJoinedRoom
	})).Once()

	_, err := s.rooms.JoinRoom(s.ctx, pierre, 9)
	require.NoError(s.T(), err)
	s.assertExpectations()
}

func (s *RoomsUsecaseTestSuite) Test_LeaveRoom_DetachesConnections() {
	room := &models.ChatRoom{ID: 9, QuartierID: 1, RoomType: models.RoomTypeGroup}
	s.expectMember(room, pierre.ID, true)
	s.registry.rooms.On("RemoveMember", mock.Anything, int64(9), pierre.ID).Return(nil)
	s.notifier.On("Detach", int64(9), []int64{pierre.ID}).Once()
	s.notifier.On("Notify", models.RoomAudience(9), mock.Anything).Once()

	require.NoError(s.T(), s.rooms.LeaveRoom(s.ctx, pierre, 9))
	s.assertExpectations()
}

func (s *RoomsUsecaseTestSuite) Test_DeactivateRoom_RequiresAdmin() {
	room := &models.ChatRoom{ID: 9, QuartierID: 1, RoomType: models.RoomTypeGroup, IsActive: true}
	s.expectMember(room, pierre.ID, true)
	s.registry.rooms.On("GetMember", mock.Anything, int64(9), pierre.ID).
		Return(&models.ChatRoomMember{Role: models.RoleModerator}, nil)

	err := s.rooms.DeactivateRoom(s.ctx, pierre, 9)
	assert.ErrorIs(s.T(), err, ErrInsufficientRole)
	s.registry.rooms.AssertNotCalled(s.T(), "DeactivateRoom", mock.Anything, mock.Anything, mock.Anything)
}

func (s *RoomsUsecaseTestSuite) Test_DeactivateRoom() {
	room := &models.ChatRoom{ID: 9, QuartierID: 1, RoomType: models.RoomTypeGroup, IsActive: true}
	s.expectMember(room, lucas.ID, true)
	s.registry.rooms.On("GetMember", mock.Anything, int64(9), lucas.ID).
		Return(&models.ChatRoomMember{Role: models.RoleAdmin}, nil)
	s.registry.rooms.On("MemberIDs", mock.Anything, int64(9)).Return([]int64{lucas.ID, pierre.ID}, nil)
	s.registry.rooms.On("DeactivateRoom", mock.Anything, int64(9), fixedNow).Return(nil)
	s.notifier.On("Notify", models.UsersAudience(lucas.ID, pierre.ID), mock.MatchedBy(func(e models.Event) bool {
		payload, ok := e.Payload.(models.RoomPayload)
		return ok && e.Type == models.EventRoomUpdated && !payload.Room.IsActive
	})).Once()
	s.notifier.On("Detach", int64(9), []int64{lucas.ID, pierre.ID}).Once()

	require.NoError(s.T(), s.rooms.DeactivateRoom(s.ctx, lucas, 9))
	s.assertExpectations()
}

func (s *RoomsUsecaseTestSuite) Test_ListRoomsForUser_AttachesLastMessage() {
	s.registry.rooms.On("ListUserRooms", mock.Anything, lucas.ID).Return([]models.RoomSummary{
		{ChatRoom: models.ChatRoom{ID: 1}},
		{ChatRoom: models.ChatRoom{ID: 2}},
	}, nil)
	s.registry.messages.On("LastMessages", mock.Anything, []int64{1, 2}).
		Return(map[int64]models.HydratedMessage{2: {ID: 40, ChatRoomID: 2}}, nil)

	rooms, err := s.rooms.ListRoomsForUser(s.ctx, lucas)
	require.NoError(s.T(), err)
	assert.Nil(s.T(), rooms[0].LastMessage)
	require.NotNil(s.T(), rooms[1].LastMessage)
	assert.Equal(s.T(), int64(40), rooms[1].LastMessage.ID)
}
