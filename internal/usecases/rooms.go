package usecases

import (
	"context"
	"errors"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/practice-sem-2/quartier-chat-service/internal/models"
	storage "github.com/practice-sem-2/quartier-chat-service/internal/storages"
)

const roomDetailMessages = 50

type RoomsUsecase struct {
	usecase
}

func NewRoomsUsecase(r storage.Registry, opts ...Option) *RoomsUsecase {
	return &RoomsUsecase{
		usecase: newUsecase(r, opts),
	}
}

// ListRoomsForUser returns the user's rooms, most recently active first, with
// unread counters and the last visible message.
func (u *RoomsUsecase) ListRoomsForUser(ctx context.Context, user *models.User) ([]models.RoomSummary, error) {
	if err := requireUser(user); err != nil {
		return nil, err
	}

	rooms, err := u.registry.GetRoomsStore().ListUserRooms(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	ids := make([]int64, len(rooms))
	for i := range rooms {
		ids[i] = rooms[i].ID
	}

	last, err := u.registry.GetMessagesStore().LastMessages(ctx, ids)
	if err != nil {
		return nil, err
	}

	for i := range rooms {
		if msg, ok := last[rooms[i].ID]; ok {
			rooms[i].LastMessage = &msg
		}
	}
	return rooms, nil
}

func (u *RoomsUsecase) ListAvailableRooms(ctx context.Context, user *models.User) ([]models.RoomSummary, error) {
	if err := requireUser(user); err != nil {
		return nil, err
	}
	return u.registry.GetRoomsStore().ListQuartierGroupRooms(ctx, user.QuartierID)
}

// GetRoom returns the room with its members and latest messages. Non-members
// are refused so that the existence of private rooms does not leak.
func (u *RoomsUsecase) GetRoom(ctx context.Context, user *models.User, roomID int64) (*models.RoomDetail, error) {
	if err := requireUser(user); err != nil {
		return nil, err
	}

	var detail *models.RoomDetail
	err := u.registry.Atomic(ctx, func(r storage.Registry) error {
		room, err := requireMember(ctx, r, roomID, user.ID)
		if err != nil {
			return err
		}

		members, err := r.GetRoomsStore().ListMembers(ctx, roomID)
		if err != nil {
			return err
		}

		messages, err := r.GetMessagesStore().SelectMessages(ctx,
			sq.Eq{"m.chat_room_id": roomID, "m.is_deleted": false},
			storage.SelectOptions{
				Limit:   roomDetailMessages,
				OrderBy: []string{"m.created_at DESC", "m.id DESC"},
			})
		if err != nil {
			return err
		}

		detail = &models.RoomDetail{
			ChatRoom: *room,
			IsMember: true,
			Members:  members,
			Messages: chronological(messages),
		}
		return nil
	})
	return detail, err
}

// CreateGroupRoom creates the room with the creator as admin and the requested
// users as members, all in one transaction.
func (u *RoomsUsecase) CreateGroupRoom(ctx context.Context, user *models.User, create models.GroupRoomCreate) (*models.ChatRoom, error) {
	if err := requireUser(user); err != nil {
		return nil, err
	}

	create.Name = strings.TrimSpace(create.Name)
	if err := u.validate.Struct(create); err != nil {
		return nil, err
	}

	members := make([]int64, 0, len(create.MemberIDs))
	for _, id := range create.MemberIDs {
		if id != user.ID {
			members = append(members, id)
		}
	}

	now := u.timestamp()
	var room *models.ChatRoom
	err := u.registry.Atomic(ctx, func(r storage.Registry) error {
		store := r.GetRoomsStore()

		var err error
		room, err = store.CreateRoom(ctx, &models.ChatRoom{
			Name:        create.Name,
			Description: create.Description,
			QuartierID:  user.QuartierID,
			RoomType:    models.RoomTypeGroup,
			CreatedBy:   &user.ID,
			IsActive:    true,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
		if err != nil {
			return err
		}

		err = store.AddMembers(ctx, room.ID, []int64{user.ID}, models.RoleAdmin, now)
		if err != nil {
			return err
		}

		if len(members) == 0 {
			return nil
		}
		return store.AddMembers(ctx, room.ID, members, models.RoleMember, now)
	})
	if err != nil {
		return nil, err
	}

	u.roomCreated(room, append([]int64{user.ID}, members...))
	return room, nil
}

// FindOrCreateDirectRoom returns the single active direct room between user and
// target, creating it when needed. created reports whether this call created it.
func (u *RoomsUsecase) FindOrCreateDirectRoom(ctx context.Context, user *models.User, targetID int64) (room *models.ChatRoom, created bool, err error) {
	if err := requireUser(user); err != nil {
		return nil, false, err
	}
	if targetID == user.ID {
		return nil, false, ErrSelfDirectRoom
	}

	target, err := u.registry.GetUsersStore().GetUser(ctx, targetID)
	if err != nil {
		return nil, false, err
	}
	if target.QuartierID != user.QuartierID {
		return nil, false, ErrOutsideQuartier
	}

	room, created, err = u.findOrCreateDirect(ctx, user.QuartierID, user, target)
	if errors.Is(err, storage.ErrDirectRoomExists) {
		// a concurrent caller committed first, its room is visible now
		room, created, err = u.findOrCreateDirect(ctx, user.QuartierID, user, target)
	}
	if err != nil {
		return nil, false, err
	}

	if created {
		u.roomCreated(room, []int64{user.ID, target.ID})
	}
	return room, created, nil
}

func (u *RoomsUsecase) findOrCreateDirect(ctx context.Context, quartierID int64, a, b *models.User) (*models.ChatRoom, bool, error) {
	identifier := models.DirectRoomIdentifier(a.ID, b.ID)
	store := u.registry.GetRoomsStore()

	room, err := store.GetActiveDirectRoom(ctx, identifier)
	if err == nil {
		return room, false, nil
	} else if !errors.Is(err, storage.ErrRoomNotFound) {
		return nil, false, err
	}

	room, err = store.FindDirectRoomByMembers(ctx, a.ID, b.ID)
	if err == nil {
		if err = store.SetDirectRoomIdentifier(ctx, room.ID, identifier); err != nil {
			return nil, false, err
		}
		ident := identifier
		room.DirectRoomIdentifier = &ident
		return room, false, nil
	} else if !errors.Is(err, storage.ErrRoomNotFound) {
		return nil, false, err
	}

	low, high := a, b
	if low.ID > high.ID {
		low, high = high, low
	}

	created := false
	now := u.timestamp()
	err = u.registry.Atomic(ctx, func(r storage.Registry) error {
		store := r.GetRoomsStore()

		existing, err := store.GetActiveDirectRoom(ctx, identifier)
		if err == nil {
			room = existing
			return nil
		} else if !errors.Is(err, storage.ErrRoomNotFound) {
			return err
		}

		room, err = store.CreateRoom(ctx, &models.ChatRoom{
			Name:                 models.DirectRoomName(low.ID, high.ID, low.Prenom, high.Prenom),
			QuartierID:           quartierID,
			RoomType:             models.RoomTypeDirect,
			CreatedBy:            &a.ID,
			IsActive:             true,
			DirectRoomIdentifier: &identifier,
			CreatedAt:            now,
			UpdatedAt:            now,
		})
		if err != nil {
			return err
		}

		if err = store.AddMembers(ctx, room.ID, []int64{low.ID}, models.RoleAdmin, now); err != nil {
			return err
		}
		if err = store.AddMembers(ctx, room.ID, []int64{high.ID}, models.RoleMember, now); err != nil {
			return err
		}
		created = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return room, created, nil
}

func (u *RoomsUsecase) roomCreated(room *models.ChatRoom, members []int64) {
	u.notifier.Notify(models.UsersAudience(members...), models.Event{
		Type:    models.EventRoomCreated,
		Payload: models.RoomPayload{Room: room},
	})
	u.publish(storage.UpdateRoomCreated, func(p storage.UpdatesPublisher) error {
		return p.RoomCreated(&models.RoomCreated{
			UpdateMeta: models.UpdateMeta{Timestamp: room.CreatedAt, Audience: members},
			Room:       *room,
		})
	})
}

// JoinRoom makes the user a member of a group room of their quartier.
// Joining a room the user already belongs to changes nothing.
func (u *RoomsUsecase) JoinRoom(ctx context.Context, user *models.User, roomID int64) (*models.ChatRoom, error) {
	if err := requireUser(user); err != nil {
		return nil, err
	}

	now := u.timestamp()
	joined := false
	var room *models.ChatRoom
	err := u.registry.Atomic(ctx, func(r storage.Registry) error {
		store := r.GetRoomsStore()

		var err error
		room, err = store.GetRoom(ctx, roomID)
		if err != nil {
			return err
		}
		if room.RoomType == models.RoomTypeDirect {
			return ErrDirectRoomMembership
		}
		if room.QuartierID != user.QuartierID {
			return ErrOutsideQuartier
		}

		isMember, err := store.IsMember(ctx, roomID, user.ID)
		if err != nil || isMember {
			return err
		}

		joined = true
		return store.AddMembers(ctx, roomID, []int64{user.ID}, models.RoleMember, now)
	})
	if err != nil {
		return nil, err
	}

	if joined {
		u.notifier.Notify(models.RoomAudience(roomID), models.Event{
			Type:    models.EventUserJoinedRoom,
			Payload: models.RoomMemberPayload{RoomID: roomID, User: user.Summary()},
		})
		u.publish(storage.UpdateMemberAdded, func(p storage.UpdatesPublisher) error {
			return p.MemberAdded(&models.MemberAdded{
				UpdateMeta: models.UpdateMeta{Timestamp: now},
				ChatRoomID: roomID,
				UserID:     user.ID,
			})
		})
	}
	return room, nil
}

func (u *RoomsUsecase) LeaveRoom(ctx context.Context, user *models.User, roomID int64) error {
	if err := requireUser(user); err != nil {
		return err
	}

	err := u.registry.Atomic(ctx, func(r storage.Registry) error {
		room, err := requireMember(ctx, r, roomID, user.ID)
		if err != nil {
			return err
		}
		if room.RoomType == models.RoomTypeDirect {
			return ErrDirectRoomMembership
		}
		return r.GetRoomsStore().RemoveMember(ctx, roomID, user.ID)
	})
	if err != nil {
		return err
	}

	u.notifier.Detach(roomID, user.ID)
	u.notifier.Notify(models.RoomAudience(roomID), models.Event{
		Type:    models.EventUserLeftRoom,
		Payload: models.RoomMemberPayload{RoomID: roomID, User: user.Summary()},
	})
	u.publish(storage.UpdateMemberRemoved, func(p storage.UpdatesPublisher) error {
		return p.MemberRemoved(&models.MemberRemoved{
			UpdateMeta: models.UpdateMeta{Timestamp: u.timestamp()},
			ChatRoomID: roomID,
			UserID:     user.ID,
		})
	})
	return nil
}

func (u *RoomsUsecase) ListMembers(ctx context.Context, user *models.User, roomID int64) ([]models.RoomMember, error) {
	if err := requireUser(user); err != nil {
		return nil, err
	}

	var members []models.RoomMember
	err := u.registry.Atomic(ctx, func(r storage.Registry) error {
		if _, err := requireMember(ctx, r, roomID, user.ID); err != nil {
			return err
		}

		var err error
		members, err = r.GetRoomsStore().ListMembers(ctx, roomID)
		return err
	})
	return members, err
}

// MarkRoomRead moves the user's read cursor to now and marks every delivery of
// the room as read. It returns the number of deliveries that changed.
func (u *RoomsUsecase) MarkRoomRead(ctx context.Context, user *models.User, roomID int64) (int64, error) {
	if err := requireUser(user); err != nil {
		return 0, err
	}

	now := u.timestamp()
	var updated int64
	err := u.registry.Atomic(ctx, func(r storage.Registry) error {
		if _, err := requireMember(ctx, r, roomID, user.ID); err != nil {
			return err
		}

		if err := r.GetRoomsStore().UpdateLastRead(ctx, roomID, user.ID, now); err != nil {
			return err
		}

		var err error
		updated, err = r.GetMessagesStore().MarkRoomDeliveriesRead(ctx, roomID, user.ID, now)
		return err
	})
	return updated, err
}

func (u *RoomsUsecase) UnreadCount(ctx context.Context, user *models.User, roomID int64) (int64, error) {
	if err := requireUser(user); err != nil {
		return 0, err
	}

	if _, err := requireMember(ctx, u.registry, roomID, user.ID); err != nil {
		return 0, err
	}
	return u.registry.GetMessagesStore().CountUnread(ctx, roomID, user.ID)
}

// DeactivateRoom soft deletes a room. Only room admins may do it.
func (u *RoomsUsecase) DeactivateRoom(ctx context.Context, user *models.User, roomID int64) error {
	if err := requireUser(user); err != nil {
		return err
	}

	now := u.timestamp()
	var room *models.ChatRoom
	var members []int64
	err := u.registry.Atomic(ctx, func(r storage.Registry) error {
		var err error
		room, err = requireMember(ctx, r, roomID, user.ID)
		if err != nil {
			return err
		}

		store := r.GetRoomsStore()
		member, err := store.GetMember(ctx, roomID, user.ID)
		if err != nil {
			return err
		}
		if member.Role != models.RoleAdmin {
			return ErrInsufficientRole
		}

		members, err = store.MemberIDs(ctx, roomID)
		if err != nil {
			return err
		}
		return store.DeactivateRoom(ctx, roomID, now)
	})
	if err != nil {
		return err
	}

	room.IsActive = false
	room.UpdatedAt = now
	u.notifier.Notify(models.UsersAudience(members...), models.Event{
		Type:    models.EventRoomUpdated,
		Payload: models.RoomPayload{Room: room},
	})
	u.notifier.Detach(roomID, members...)
	return nil
}

// chronological reverses a newest-first page.
func chronological(messages []models.HydratedMessage) []models.HydratedMessage {
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages
}
