package usecases

import (
	"context"
	"math"
	"testing"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/practice-sem-2/quartier-chat-service/internal/models"
	storage "github.com/practice-sem-2/quartier-chat-service/internal/storages"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type MessagesUsecaseTestSuite struct {
	usecaseSuite
	messages *MessagesUsecase
	room     *models.ChatRoom
}

func TestMessagesUsecaseTestSuite(t *testing.T) {
	suite.Run(t, &MessagesUsecaseTestSuite{})
}

func (s *MessagesUsecaseTestSuite) SetupTest() {
	s.usecaseSuite.SetupTest()
	s.messages = NewMessagesUsecase(s.registry, s.options()...)
	s.room = &models.ChatRoom{ID: 7, QuartierID: 1, RoomType: models.RoomTypeGroup, IsActive: true}
}

func (s *MessagesUsecaseTestSuite) message(id int64, sender *models.User) *models.Message {
	return &models.Message{ID: id, ChatRoomID: s.room.ID, SenderID: &sender.ID, Content: "Bonjour", MessageType: models.MessageTypeText}
}

func (s *MessagesUsecaseTestSuite) hydrated(id int64, sender *models.User) *models.HydratedMessage {
	return &models.HydratedMessage{ID: id, ChatRoomID: s.room.ID, SenderID: &sender.ID, Content: "Bonjour", Sender: sender.Summary()}
}

func (s *MessagesUsecaseTestSuite) Test_Send() {
	s.expectMember(s.room, lucas.ID, true)
	s.registry.messages.On("PutMessage", mock.Anything, mock.MatchedBy(func(m *models.Message) bool {
		return m.Content == "Bonjour" && m.MessageType == models.MessageTypeText && m.CreatedAt.Equal(fixedNow)
	})).Return(&models.Message{ID: 100, ChatRoomID: s.room.ID}, nil)
	s.registry.rooms.On("TouchRoom", mock.Anything, s.room.ID, fixedNow).Return(nil)
	s.registry.rooms.On("MemberIDs", mock.Anything, s.room.ID).Return([]int64{lucas.ID, pierre.ID}, nil)
	s.registry.messages.On("CreateDeliveries", mock.Anything, int64(100), []int64{pierre.ID}, fixedNow).Return(nil)
	s.registry.messages.On("GetHydrated", mock.Anything, int64(100)).Return(s.hydrated(100, lucas), nil)
	s.notifier.On("Notify", models.RoomAudience(s.room.ID), mock.MatchedBy(func(e models.Event) bool {
		payload, ok := e.Payload.(models.MessagePayload)
		return ok && e.Type == models.EventMessageReceived && payload.Message.ID == 100
	})).Once()

	msg, err := s.messages.Send(s.ctx, lucas, models.MessageSend{ChatRoomID: s.room.ID, Content: "  Bonjour\n"})
	require.NoError(s.T(), err)
	assert.Equal(s.T(), int64(100), msg.ID)
	s.assertExpectations()
}

func (s *MessagesUsecaseTestSuite) Test_Send_DoesNotWaitForUpdates() {
	hold := make(chan struct{})
	defer close(hold)
	s.registry.updates.hold = hold

	logger, hook := test.NewNullLogger()
	queue := NewUpdatesQueue(1, logger)
	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	go queue.Run(ctx)

	messages := NewMessagesUsecase(s.registry, append(s.options(), WithUpdatesQueue(queue))...)
	s.expectMember(s.room, lucas.ID, true)
	s.registry.messages.On("PutMessage", mock.Anything, mock.Anything).Return(&models.Message{ID: 100, ChatRoomID: s.room.ID}, nil)
	s.registry.rooms.On("TouchRoom", mock.Anything, s.room.ID, fixedNow).Return(nil)
	s.registry.rooms.On("MemberIDs", mock.Anything, s.room.ID).Return([]int64{lucas.ID, pierre.ID}, nil)
	s.registry.messages.On("CreateDeliveries", mock.Anything, int64(100), []int64{pierre.ID}, fixedNow).Return(nil)
	s.registry.messages.On("GetHydrated", mock.Anything, int64(100)).Return(s.hydrated(100, lucas), nil)
	s.notifier.On("Notify", models.RoomAudience(s.room.ID), mock.Anything)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 3; i++ {
			_, err := messages.Send(s.ctx, lucas, models.MessageSend{ChatRoomID: s.room.ID, Content: "Bonjour"})
			assert.NoError(s.T(), err)
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		s.T().Fatal("send waited for the updates stream")
	}
	require.NotNil(s.T(), hook.LastEntry())
	assert.Equal(s.T(), "updates queue is full, dropping update", hook.LastEntry().Message)
}

func (s *MessagesUsecaseTestSuite) Test_Send_Validation() {
	cases := []struct {
		name    string
		message models.MessageSend
		err     error
	}{
		{"blank content", models.MessageSend{ChatRoomID: s.room.ID, Content: "   "}, ErrBusinessLogicViolation},
		{"no room", models.MessageSend{Content: "hi"}, ErrBusinessLogicViolation},
		{"unknown type", models.MessageSend{ChatRoomID: s.room.ID, Content: "hi", MessageType: "video"}, ErrBusinessLogicViolation},
		{"system type", models.MessageSend{ChatRoomID: s.room.ID, Content: "hi", MessageType: models.MessageTypeSystem}, ErrSystemMessage},
	}

	for _, c := range cases {
		s.Run(c.name, func() {
			_, err := s.messages.Send(s.ctx, lucas, c.message)
			assert.ErrorIs(s.T(), err, c.err)
			assert.Equal(s.T(), KindInvalidArgument, Classify(err))
		})
	}
}

func (s *MessagesUsecaseTestSuite) Test_Send_NonMember() {
	s.expectMember(s.room, remote.ID, false)

	_, err := s.messages.Send(s.ctx, remote, models.MessageSend{ChatRoomID: s.room.ID, Content: "hi"})
	assert.ErrorIs(s.T(), err, ErrUserIsNotARoomMember)
	s.registry.messages.AssertNotCalled(s.T(), "PutMessage", mock.Anything, mock.Anything)
}

func (s *MessagesUsecaseTestSuite) Test_Send_CrossRoomReply() {
	s.expectMember(s.room, lucas.ID, true)
	other := &models.Message{ID: 55, ChatRoomID: 99}
	s.registry.messages.On("GetMessage", mock.Anything, int64(55)).Return(other, nil)

	replyTo := int64(55)
	_, err := s.messages.Send(s.ctx, lucas, models.MessageSend{ChatRoomID: s.room.ID, Content: "hi", ReplyToID: &replyTo})
	assert.ErrorIs(s.T(), err, ErrCrossRoomReply)
}

func (s *MessagesUsecaseTestSuite) Test_Send_ReplyToMissingMessage() {
	s.expectMember(s.room, lucas.ID, true)
	s.registry.messages.On("GetMessage", mock.Anything, int64(56)).Return(nil, storage.ErrMessageNotFound)

	replyTo := int64(56)
	_, err := s.messages.Send(s.ctx, lucas, models.MessageSend{ChatRoomID: s.room.ID, Content: "hi", ReplyToID: &replyTo})
	assert.ErrorIs(s.T(), err, storage.ErrRepliedMessageNotFound)
	assert.Equal(s.T(), KindNotFound, Classify(err))
}

func (s *MessagesUsecaseTestSuite) Test_Edit_OnlyAuthor() {
	s.registry.messages.On("GetMessage", mock.Anything, int64(100)).Return(s.message(100, lucas), nil)
	s.expectMember(s.room, pierre.ID, true)

	_, err := s.messages.Edit(s.ctx, pierre, 100, "changed")
	assert.ErrorIs(s.T(), err, ErrNotMessageAuthor)
	assert.Equal(s.T(), KindForbidden, Classify(err))
}

func (s *MessagesUsecaseTestSuite) Test_Edit() {
	s.registry.messages.On("GetMessage", mock.Anything, int64(100)).Return(s.message(100, lucas), nil)
	s.expectMember(s.room, lucas.ID, true)
	s.registry.messages.On("UpdateContent", mock.Anything, int64(100), "changed", fixedNow).Return(nil)
	edited := s.hydrated(100, lucas)
	edited.Content, edited.IsEdited = "changed", true
	s.registry.messages.On("GetHydrated", mock.Anything, int64(100)).Return(edited, nil)
	s.notifier.On("Notify", models.RoomAudience(s.room.ID), mock.MatchedBy(func(e models.Event) bool {
		return e.Type == models.EventMessageUpdated
	})).Once()

	msg, err := s.messages.Edit(s.ctx, lucas, 100, " changed ")
	require.NoError(s.T(), err)
	assert.True(s.T(), msg.IsEdited)
	s.assertExpectations()
}

func (s *MessagesUsecaseTestSuite) Test_Edit_DeletedMessage() {
	deleted := s.message(100, lucas)
	deleted.IsDeleted = true
	s.registry.messages.On("GetMessage", mock.Anything, int64(100)).Return(deleted, nil)

	_, err := s.messages.Edit(s.ctx, lucas, 100, "changed")
	assert.ErrorIs(s.T(), err, storage.ErrMessageNotFound)
}

func (s *MessagesUsecaseTestSuite) Test_Delete_ByModerator() {
	s.registry.messages.On("GetMessage", mock.Anything, int64(100)).Return(s.message(100, lucas), nil)
	s.expectMember(s.room, pierre.ID, true)
	s.registry.rooms.On("GetMember", mock.Anything, s.room.ID, pierre.ID).
		Return(&models.ChatRoomMember{Role: models.RoleModerator}, nil)
	s.registry.messages.On("SoftDelete", mock.Anything, int64(100), fixedNow).Return(nil)
	deleted := s.hydrated(100, lucas)
	deleted.Content, deleted.IsDeleted = "", true
	s.registry.messages.On("GetHydrated", mock.Anything, int64(100)).Return(deleted, nil)
	s.notifier.On("Notify", models.RoomAudience(s.room.ID), mock.MatchedBy(func(e models.Event) bool {
		payload, ok := e.Payload.(models.MessageDeletedPayload)
		return ok && e.Type == models.EventMessageDeleted && payload.DeletedBy.ID == pierre.ID
	})).Once()

	msg, err := s.messages.Delete(s.ctx, pierre, 100)
	require.NoError(s.T(), err)
	assert.True(s.T(), msg.IsDeleted)
	assert.Empty(s.T(), msg.Content)
	s.assertExpectations()
}

func (s *MessagesUsecaseTestSuite) Test_Delete_ByMember() {
	s.registry.messages.On("GetMessage", mock.Anything, int64(100)).Return(s.message(100, lucas), nil)
	s.expectMember(s.room, pierre.ID, true)
	s.registry.rooms.On("GetMember", mock.Anything, s.room.ID, pierre.ID).
		Return(&models.ChatRoomMember{Role: models.RoleMember}, nil)

	_, err := s.messages.Delete(s.ctx, pierre, 100)
	assert.ErrorIs(s.T(), err, ErrInsufficientRole)
	s.registry.messages.AssertNotCalled(s.T(), "SoftDelete", mock.Anything, mock.Anything, mock.Anything)
}

func (s *MessagesUsecaseTestSuite) Test_List_ClampsAndReverses() {
	s.expectMember(s.room, lucas.ID, true)
	before := fixedNow.Add(-time.Hour)
	s.registry.messages.On("SelectMessages", mock.Anything,
		sq.And{
			sq.Eq{"m.chat_room_id": s.room.ID, "m.is_deleted": false},
			sq.Lt{"m.created_at": before},
		},
		[]storage.SelectOptions{{
			Limit:   MaxPageLimit,
			Offset:  MaxPageLimit,
			OrderBy: []string{"m.created_at DESC", "m.id DESC"},
		}},
	).Return([]models.HydratedMessage{{ID: 9}, {ID: 8}}, nil)

	messages, err := s.messages.List(s.ctx, lucas, models.MessagesSelect{
		ChatRoomID: s.room.ID,
		Page:       2,
		Limit:      1000,
		Before:     &before,
	})
	require.NoError(s.T(), err)
	require.Len(s.T(), messages, 2)
	assert.Equal(s.T(), int64(8), messages[0].ID)
	assert.Equal(s.T(), int64(9), messages[1].ID)
	s.assertExpectations()
}

func (s *MessagesUsecaseTestSuite) Test_List_PageOutOfRange() {
	_, err := s.messages.List(s.ctx, lucas, models.MessagesSelect{ChatRoomID: s.room.ID, Page: math.MaxUint64})
	require.ErrorIs(s.T(), err, ErrPageOutOfRange)
	assert.Equal(s.T(), KindInvalidArgument, Classify(err))
	s.registry.messages.AssertNotCalled(s.T(), "SelectMessages", mock.Anything, mock.Anything, mock.Anything)

	s.expectMember(s.room, lucas.ID, true)
	s.registry.messages.On("SelectMessages", mock.Anything, mock.Anything, []storage.SelectOptions{{
		Limit:   DefaultPageLimit,
		Offset:  (MaxPage - 1) * DefaultPageLimit,
		OrderBy: []string{"m.created_at DESC", "m.id DESC"},
	}}).Return(nil, nil)

	_, err = s.messages.List(s.ctx, lucas, models.MessagesSelect{ChatRoomID: s.room.ID, Page: MaxPage})
	require.NoError(s.T(), err)
	s.assertExpectations()
}

func (s *MessagesUsecaseTestSuite) Test_MessageRoom() {
	s.registry.messages.On("GetMessage", mock.Anything, int64(100)).Return(s.message(100, lucas), nil)
	s.expectMember(s.room, pierre.ID, true)

	roomID, err := s.messages.MessageRoom(s.ctx, pierre, 100)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), s.room.ID, roomID)
}

func (s *MessagesUsecaseTestSuite) Test_MessageRoom_NonMember() {
	s.registry.messages.On("GetMessage", mock.Anything, int64(100)).Return(s.message(100, lucas), nil)
	s.expectMember(s.room, remote.ID, false)

	_, err := s.messages.MessageRoom(s.ctx, remote, 100)
	assert.ErrorIs(s.T(), err, ErrUserIsNotARoomMember)
}

func (s *MessagesUsecaseTestSuite) Test_AddReaction_Duplicate() {
	s.registry.messages.On("GetMessage", mock.Anything, int64(100)).Return(s.message(100, lucas), nil)
	s.expectMember(s.room, pierre.ID, true)
	s.registry.messages.On("AddReaction", mock.Anything, mock.Anything).
		Return(&models.MessageReaction{ID: 1}, false, nil)

	isNew, err := s.messages.AddReaction(s.ctx, pierre, 100, "👍")
	require.NoError(s.T(), err)
	assert.False(s.T(), isNew)
	s.notifier.AssertNotCalled(s.T(), "Notify", mock.Anything, mock.Anything)
}

func (s *MessagesUsecaseTestSuite) Test_AddReaction() {
	s.registry.messages.On("GetMessage", mock.Anything, int64(100)).Return(s.message(100, lucas), nil)
	s.expectMember(s.room, pierre.ID, true)
	s.registry.messages.On("AddReaction", mock.Anything, mock.MatchedBy(func(r *models.MessageReaction) bool {
		return r.Reaction == "👍" && r.UserID == pierre.ID
	})).Return(&models.MessageReaction{ID: 1}, true, nil)
	s.registry.messages.On("GetHydrated", mock.Anything, int64(100)).Return(s.hydrated(100, lucas), nil)
	s.notifier.On("Notify", models.RoomAudience(s.room.ID), mock.MatchedBy(func(e models.Event) bool {
		return e.Type == models.EventReactionAdded
	})).Once()

	isNew, err := s.messages.AddReaction(s.ctx, pierre, 100, "👍")
	require.NoError(s.T(), err)
	assert.True(s.T(), isNew)
	s.assertExpectations()
}

func (s *MessagesUsecaseTestSuite) Test_RemoveReaction_Missing() {
	s.registry.messages.On("GetMessage", mock.Anything, int64(100)).Return(s.message(100, lucas), nil)
	s.expectMember(s.room, pierre.ID, true)
	s.registry.messages.On("RemoveReaction", mock.Anything, int64(100), pierre.ID, "👍").Return(false, nil)

	removed, err := s.messages.RemoveReaction(s.ctx, pierre, 100, "👍")
	require.NoError(s.T(), err)
	assert.False(s.T(), removed)
}

func (s *MessagesUsecaseTestSuite) Test_MarkRead_MovesCursor() {
	newest := fixedNow.Add(-time.Minute)
	s.expectMember(s.room, pierre.ID, true)
	s.registry.messages.On("SelectMessages", mock.Anything, mock.Anything, mock.Anything).
		Return([]models.HydratedMessage{{ID: 101, CreatedAt: newest}}, nil)
	s.registry.rooms.On("UpdateLastRead", mock.Anything, s.room.ID, pierre.ID, newest).Return(nil)
	s.registry.messages.On("AdvanceDeliveries", mock.Anything, pierre.ID, []int64{100, 101}, models.DeliveryRead, fixedNow).
		Return(int64(2), nil)

	roomID := s.room.ID
	updated, err := s.messages.MarkRead(s.ctx, pierre, &roomID, []int64{100, 101})
	require.NoError(s.T(), err)
	assert.Equal(s.T(), int64(2), updated)
	s.assertExpectations()
}

func (s *MessagesUsecaseTestSuite) Test_MarkRead_Empty() {
	updated, err := s.messages.MarkRead(s.ctx, pierre, nil, nil)
	require.NoError(s.T(), err)
	assert.Zero(s.T(), updated)
}

func (s *MessagesUsecaseTestSuite) Test_Undelivered_AdvancesToDelivered() {
	s.registry.messages.On("SelectMessages", mock.Anything, storage.UndeliveredSelector(pierre.ID), mock.Anything).
		Return([]models.HydratedMessage{{ID: 100}, {ID: 102}}, nil)
	s.registry.messages.On("AdvanceDeliveries", mock.Anything, pierre.ID, []int64{100, 102}, models.DeliveryDelivered, fixedNow).
		Return(int64(2), nil)

	messages, err := s.messages.Undelivered(s.ctx, pierre)
	require.NoError(s.T(), err)
	assert.Len(s.T(), messages, 2)
	s.assertExpectations()
}

func (s *MessagesUsecaseTestSuite) Test_MarkDelivered() {
	s.registry.messages.On("MarkDelivered", mock.Anything, int64(100), []int64{pierre.ID}, fixedNow).Return(int64(1), nil)

	n, err := s.messages.MarkDelivered(s.ctx, 100, []int64{pierre.ID})
	require.NoError(s.T(), err)
	assert.Equal(s.T(), int64(1), n)

	n, err = s.messages.MarkDelivered(s.ctx, 100, nil)
	require.NoError(s.T(), err)
	assert.Zero(s.T(), n)
	s.registry.messages.AssertNumberOfCalls(s.T(), "MarkDelivered", 1)
}

func (s *MessagesUsecaseTestSuite) Test_Undelivered_Nothing() {
	s.registry.messages.On("SelectMessages", mock.Anything, mock.Anything, mock.Anything).Return(nil, nil)

	messages, err := s.messages.Undelivered(s.ctx, pierre)
	require.NoError(s.T(), err)
	assert.Empty(s.T(), messages)
	s.registry.messages.AssertNotCalled(s.T(), "AdvanceDeliveries", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}
