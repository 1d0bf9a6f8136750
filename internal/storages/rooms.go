package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/practice-sem-2/quartier-chat-service/internal/models"
)

const (
	memberCountColumn = "(SELECT COUNT(*) FROM chat_room_members cm WHERE cm.chat_room_id = cr.id) AS member_count"
	unreadCountColumn = `(SELECT COUNT(*) FROM messages m
		WHERE m.chat_room_id = cr.id
		  AND NOT m.is_deleted
		  AND m.created_at > crm.last_read_at
		  AND (m.sender_id IS NULL OR m.sender_id <> crm.user_id)) AS unread_count`
)

type RoomsStorage struct {
	db Scope
}

func NewRoomsStorage(db Scope) *RoomsStorage {
	return &RoomsStorage{
		db: db,
	}
}

func (s *RoomsStorage) CreateRoom(ctx context.Context, room *models.ChatRoom) (*models.ChatRoom, error) {
	query, args, err := sq.Insert("chat_rooms").
		Columns("name", "description", "quartier_id", "room_type", "created_by",
			"is_active", "direct_room_identifier", "created_at", "updated_at").
		Values(room.Name, room.Description, room.QuartierID, room.RoomType, room.CreatedBy,
			true, room.DirectRoomIdentifier, room.CreatedAt, room.UpdatedAt).
		Suffix("RETURNING *").
		PlaceholderFormat(sq.Dollar).
		ToSql()

	if err != nil {
		return nil, err
	}

	created := models.ChatRoom{}
	err = s.db.GetContext(ctx, &created, query, args...)

	if GetPgxConstraintName(err) == DirectIdentifierUniqueKey {
		return nil, ErrDirectRoomExists
	} else if err != nil {
		return nil, err
	}
	return &created, nil
}

func (s *RoomsStorage) getRoom(ctx context.Context, selector sq.Sqlizer) (*models.ChatRoom, error) {
	query, args, err := sq.Select("cr.*").
		From("chat_rooms cr").
		Where(selector).
		Where(sq.Eq{"cr.is_active": true}).
		OrderBy("cr.created_at", "cr.id").
		Limit(1).
		PlaceholderFormat(sq.Dollar).
		ToSql()

	if err != nil {
		return nil, err
	}

	room := models.ChatRoom{}
	err = s.db.GetContext(ctx, &room, query, args...)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRoomNotFound
	} else if err != nil {
		return nil, err
	}
	return &room, nil
}

func (s *RoomsStorage) GetRoom(ctx context.Context, roomID int64) (*models.ChatRoom, error) {
	return s.getRoom(ctx, sq.Eq{"cr.id": roomID})
}

func (s *RoomsStorage) GetActiveDirectRoom(ctx context.Context, identifier string) (*models.ChatRoom, error) {
	return s.getRoom(ctx, sq.Eq{
		"cr.room_type":              models.RoomTypeDirect,
		"cr.direct_room_identifier": identifier,
	})
}

// FindDirectRoomByMembers finds a direct room whose members are exactly the two
// given users. It serves rooms created before identifiers were assigned.
func (s *RoomsStorage) FindDirectRoomByMembers(ctx context.Context, userA, userB int64) (*models.ChatRoom, error) {
	return s.getRoom(ctx, sq.And{
		sq.Eq{"cr.room_type": models.RoomTypeDirect},
		sq.Expr("(SELECT COUNT(*) FROM chat_room_members m WHERE m.chat_room_id = cr.id) = 2"),
		sq.Expr("EXISTS (SELECT 1 FROM chat_room_members m WHERE m.chat_room_id = cr.id AND m.user_id = ?)", userA),
		sq.Expr("EXISTS (SELECT 1 FROM chat_room_members m WHERE m.chat_room_id = cr.id AND m.user_id = ?)", userB),
	})
}

func (s *RoomsStorage) SetDirectRoomIdentifier(ctx context.Context, roomID int64, identifier string) error {
	_, err := s.exec(ctx, sq.Update("chat_rooms").
		Set("direct_room_identifier", identifier).
		Where(sq.Eq{"id": roomID, "direct_room_identifier": nil}))

	if GetPgxConstraintName(err) == DirectIdentifierUniqueKey {
		return ErrDirectRoomExists
	}
	return err
}

func (s *RoomsStorage) ListUserRooms(ctx context.Context, userID int64) ([]models.RoomSummary, error) {
	query, args, err := sq.Select("cr.*", memberCountColumn, unreadCountColumn).
		From("chat_rooms cr").
		Join("chat_room_members crm ON crm.chat_room_id = cr.id").
		Where(sq.Eq{"crm.user_id": userID, "cr.is_active": true}).
		OrderBy("cr.updated_at DESC", "cr.id DESC").
		PlaceholderFormat(sq.Dollar).
		ToSql()

	if err != nil {
		return nil, err
	}

	rooms := make([]models.RoomSummary, 0)
	err = s.db.SelectContext(ctx, &rooms, query, args...)
	return rooms, err
}

func (s *RoomsStorage) ListQuartierGroupRooms(ctx context.Context, quartierID int64) ([]models.RoomSummary, error) {
	query, args, err := sq.Select("cr.*", memberCountColumn, "0 AS unread_count").
		From("chat_rooms cr").
		Where(sq.Eq{
			"cr.quartier_id": quartierID,
			"cr.room_type":   models.RoomTypeGroup,
			"cr.is_active":   true,
		}).
		OrderBy("cr.updated_at DESC", "cr.id DESC").
		PlaceholderFormat(sq.Dollar).
		ToSql()

	if err != nil {
		return nil, err
	}

	rooms := make([]models.RoomSummary, 0)
	err = s.db.SelectContext(ctx, &rooms, query, args...)
	return rooms, err
}

func (s *RoomsStorage) TouchRoom(ctx context.Context, roomID int64, at time.Time) error {
	count, err := s.exec(ctx, sq.Update("chat_rooms").
		Set("updated_at", at).
		Where(sq.Eq{"id": roomID, "is_active": true}))

	if err != nil {
		return err
	}
	if count == 0 {
		return ErrRoomNotFound
	}
	return nil
}

func (s *RoomsStorage) DeactivateRoom(ctx context.Context, roomID int64, at time.Time) error {
	count, err := s.exec(ctx, sq.Update("chat_rooms").
		Set("is_active", false).
		Set("updated_at", at).
		Where(sq.Eq{"id": roomID, "is_active": true}))

	if err != nil {
		return err
	}
	if count == 0 {
		return ErrRoomNotFound
	}
	return nil
}

// AddMembers upserts memberships. Re-adding an existing member updates the role
// and moves last_read_at to at.
func (s *RoomsStorage) AddMembers(ctx context.Context, roomID int64, userIDs []int64, role models.MemberRole, at time.Time) error {
	if len(userIDs) == 0 {
		return ErrEmptyMembers
	}

	builder := sq.Insert("chat_room_members").
		Columns("chat_room_id", "user_id", "role", "joined_at", "last_read_at").
		Suffix(`ON CONFLICT (chat_room_id, user_id) DO UPDATE
			SET role = EXCLUDED.role,
			    last_read_at = GREATEST(chat_room_members.last_read_at, EXCLUDED.last_read_at)`).
		PlaceholderFormat(sq.Dollar)

	seen := make(map[int64]struct{}, len(userIDs))
	for _, userID := range userIDs {
		if _, ok := seen[userID]; ok {
			continue
		}
		seen[userID] = struct{}{}
		builder = builder.Values(roomID, userID, role, at, at)
	}

	_, err := s.exec(ctx, builder)

	switch GetPgxConstraintName(err) {
	case MembersRoomForeignKey:
		return ErrRoomNotFound
	case MembersUserForeignKey:
		return ErrUserNotFound
	}
	return err
}

func (s *RoomsStorage) RemoveMember(ctx context.Context, roomID, userID int64) error {
	count, err := s.exec(ctx, sq.Delete("chat_room_members").
		Where(sq.Eq{"chat_room_id": roomID, "user_id": userID}))

	if err != nil {
		return err
	}
	if count == 0 {
		return ErrMemberNotFound
	}
	return nil
}

func (s *RoomsStorage) IsMember(ctx context.Context, roomID, userID int64) (bool, error) {
	query, args, err := sq.Select("1").
		From("chat_room_members crm").
		Join("chat_rooms cr ON cr.id = crm.chat_room_id").
		Where(sq.Eq{
			"crm.chat_room_id": roomID,
			"crm.user_id":      userID,
			"cr.is_active":     true,
		}).
		Prefix("SELECT EXISTS (").
		Suffix(")").
		PlaceholderFormat(sq.Dollar).
		ToSql()

	if err != nil {
		return false, err
	}

	ok := false
	err = s.db.GetContext(ctx, &ok, query, args...)
	return ok, err
}

func (s *RoomsStorage) GetMember(ctx context.Context, roomID, userID int64) (*models.ChatRoomMember, error) {
	query, args, err := sq.Select("*").
		From("chat_room_members").
		Where(sq.Eq{"chat_room_id": roomID, "user_id": userID}).
		PlaceholderFormat(sq.Dollar).
		ToSql()

	if err != nil {
		return nil, err
	}

	member := models.ChatRoomMember{}
	err = s.db.GetContext(ctx, &member, query, args...)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMemberNotFound
	} else if err != nil {
		return nil, err
	}
	return &member, nil
}

func (s *RoomsStorage) ListMembers(ctx context.Context, roomID int64) ([]models.RoomMember, error) {
	query, args, err := sq.Select("crm.*", "u.nom", "u.prenom", "u.email").
		From("chat_room_members crm").
		Join("users u ON u.id = crm.user_id").
		Where(sq.Eq{"crm.chat_room_id": roomID}).
		OrderBy("crm.joined_at", "crm.user_id").
		PlaceholderFormat(sq.Dollar).
		ToSql()

	if err != nil {
		return nil, err
	}

	members := make([]models.RoomMember, 0)
	err = s.db.SelectContext(ctx, &members, query, args...)
	return members, err
}

func (s *RoomsStorage) MemberIDs(ctx context.Context, roomID int64) ([]int64, error) {
	query, args, err := sq.Select("user_id").
		From("chat_room_members").
		Where(sq.Eq{"chat_room_id": roomID}).
		OrderBy("user_id").
		PlaceholderFormat(sq.Dollar).
		ToSql()

	if err != nil {
		return nil, err
	}

	ids := make([]int64, 0)
	err = s.db.SelectContext(ctx, &ids, query, args...)
	return ids, err
}

// UpdateLastRead moves the read cursor forward only.
func (s *RoomsStorage) UpdateLastRead(ctx context.Context, roomID, userID int64, at time.Time) error {
	count, err := s.exec(ctx, sq.Update("chat_room_members").
		Set("last_read_at", sq.Expr("GREATEST(last_read_at, ?::timestamptz)", at)).
		Where(sq.Eq{"chat_room_id": roomID, "user_id": userID}))

	if err != nil {
		return err
	}
	if count == 0 {
		return ErrMemberNotFound
	}
	return nil
}

func (s *RoomsStorage) exec(ctx context.Context, builder sq.Sqlizer) (int64, error) {
	return execAffected(ctx, s.db, builder)
}

func execAffected(ctx context.Context, db Scope, builder sq.Sqlizer) (int64, error) {
	query, args, err := builder.ToSql()
	if err != nil {
		return 0, err
	}

	query, err = sq.Dollar.ReplacePlaceholders(query)
	if err != nil {
		return 0, err
	}

	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
