package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/practice-sem-2/quartier-chat-service/internal/models"
)

type PresenceStorage struct {
	db Scope
}

func NewPresenceStorage(db Scope) *PresenceStorage {
	return &PresenceStorage{
		db: db,
	}
}

func (s *PresenceStorage) upsert(ctx context.Context, builder sq.InsertBuilder) (*models.UserPresence, error) {
	query, args, err := builder.
		Suffix("RETURNING *").
		PlaceholderFormat(sq.Dollar).
		ToSql()

	if err != nil {
		return nil, err
	}

	presence := models.UserPresence{}
	err = s.db.GetContext(ctx, &presence, query, args...)
	if err != nil {
		return nil, err
	}
	return &presence, nil
}

func (s *PresenceStorage) SetOnline(ctx context.Context, userID int64, socketID string, at time.Time) (*models.UserPresence, error) {
	return s.upsert(ctx, sq.Insert("user_presence").
		Columns("user_id", "status", "socket_id", "last_seen", "updated_at").
		Values(userID, models.PresenceOnline, socketID, at, at).
		Suffix(`ON CONFLICT (user_id) DO UPDATE
			SET status = EXCLUDED.status,
			    socket_id = EXCLUDED.socket_id,
			    last_seen = EXCLUDED.last_seen,
			    updated_at = EXCLUDED.updated_at`))
}

// SetOffline clears presence only if socketID is still the user's current socket,
// so that closing an older connection does not hide a newer one.
func (s *PresenceStorage) SetOffline(ctx context.Context, userID int64, socketID string, at time.Time) (bool, error) {
	count, err := execAffected(ctx, s.db, sq.Update("user_presence").
		Set("status", models.PresenceOffline).
		Set("socket_id", nil).
		Set("last_seen", at).
		Set("updated_at", at).
		Where(sq.Eq{"user_id": userID}).
		Where(sq.Or{sq.Eq{"socket_id": socketID}, sq.Eq{"socket_id": nil}}))
	return count > 0, err
}

// HandOver moves presence from fromSocketID to toSocketID. The chosen status
// survives; a user found offline comes back online.
func (s *PresenceStorage) HandOver(ctx context.Context, userID int64, fromSocketID, toSocketID string, at time.Time) (bool, error) {
	count, err := execAffected(ctx, s.db, sq.Update("user_presence").
		Set("status", sq.Expr("CASE WHEN status = ? THEN ? ELSE status END", models.PresenceOffline, models.PresenceOnline)).
		Set("socket_id", toSocketID).
		Set("last_seen", at).
		Set("updated_at", at).
		Where(sq.Eq{"user_id": userID}).
		Where(sq.Or{sq.Eq{"socket_id": fromSocketID}, sq.Eq{"socket_id": nil}}))
	return count > 0, err
}

func (s *PresenceStorage) SetStatus(ctx context.Context, userID int64, status models.PresenceStatus, at time.Time) (*models.UserPresence, error) {
	return s.upsert(ctx, sq.Insert("user_presence").
		Columns("user_id", "status", "last_seen", "updated_at").
		Values(userID, status, at, at).
		Suffix(`ON CONFLICT (user_id) DO UPDATE
			SET status = EXCLUDED.status,
			    last_seen = EXCLUDED.last_seen,
			    updated_at = EXCLUDED.updated_at`))
}

func (s *PresenceStorage) Touch(ctx context.Context, userID int64, at time.Time) error {
	_, err := execAffected(ctx, s.db, sq.Update("user_presence").
		Set("last_seen", sq.Expr("GREATEST(last_seen, ?::timestamptz)", at)).
		Where(sq.Eq{"user_id": userID}))
	return err
}

func (s *PresenceStorage) GetPresence(ctx context.Context, userID int64) (*models.UserPresence, error) {
	query, args, err := sq.Select("*").
		From("user_presence").
		Where(sq.Eq{"user_id": userID}).
		PlaceholderFormat(sq.Dollar).
		ToSql()

	if err != nil {
		return nil, err
	}

	presence := models.UserPresence{}
	err = s.db.GetContext(ctx, &presence, query, args...)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPresenceNotFound
	} else if err != nil {
		return nil, err
	}
	return &presence, nil
}

// OnlineInQuartier lists live users: connected, not offline and seen after since.
func (s *PresenceStorage) OnlineInQuartier(ctx context.Context, quartierID int64, since time.Time) ([]models.UserWithPresence, error) {
	query, args, err := sq.Select("u.id", "u.quartier_id", "u.nom", "u.prenom", "u.email", "p.status", "p.last_seen").
		From("users u").
		Join("user_presence p ON p.user_id = u.id").
		Where(sq.Eq{"u.quartier_id": quartierID}).
		Where(sq.NotEq{"p.status": models.PresenceOffline, "p.socket_id": nil}).
		Where(sq.GtOrEq{"p.last_seen": since}).
		OrderBy("u.prenom", "u.nom", "u.id").
		PlaceholderFormat(sq.Dollar).
		ToSql()

	if err != nil {
		return nil, err
	}

	users := make([]models.UserWithPresence, 0)
	err = s.db.SelectContext(ctx, &users, query, args...)
	return users, err
}

// SweepStale forces offline every presence row idle since before.
func (s *PresenceStorage) SweepStale(ctx context.Context, before time.Time) (int64, error) {
	return execAffected(ctx, s.db, sq.Update("user_presence").
		Set("status", models.PresenceOffline).
		Set("socket_id", nil).
		Set("updated_at", sq.Expr("NOW()")).
		Where(sq.Lt{"last_seen": before}).
		Where(sq.Or{
			sq.NotEq{"status": models.PresenceOffline},
			sq.NotEq{"socket_id": nil},
		}))
}

func (s *PresenceStorage) UpsertTyping(ctx context.Context, roomID, userID int64, at time.Time) error {
	_, err := execAffected(ctx, s.db, sq.Insert("typing_indicators").
		Columns("chat_room_id", "user_id", "started_at").
		Values(roomID, userID, at).
		Suffix("ON CONFLICT (chat_room_id, user_id) DO UPDATE SET started_at = EXCLUDED.started_at"))
	return err
}

func (s *PresenceStorage) DeleteTyping(ctx context.Context, roomID, userID int64) (bool, error) {
	count, err := execAffected(ctx, s.db, sq.Delete("typing_indicators").
		Where(sq.Eq{"chat_room_id": roomID, "user_id": userID}))
	return count > 0, err
}

func (s *PresenceStorage) TypingUsers(ctx context.Context, roomID int64, since time.Time) ([]models.TypingIndicator, error) {
	query, args, err := sq.Select("*").
		From("typing_indicators").
		Where(sq.Eq{"chat_room_id": roomID}).
		Where(sq.GtOrEq{"started_at": since}).
		OrderBy("started_at", "user_id").
		PlaceholderFormat(sq.Dollar).
		ToSql()

	if err != nil {
		return nil, err
	}

	typing := make([]models.TypingIndicator, 0)
	err = s.db.SelectContext(ctx, &typing, query, args...)
	return typing, err
}

func (s *PresenceStorage) PurgeTyping(ctx context.Context, before time.Time) (int64, error) {
	return execAffected(ctx, s.db, sq.Delete("typing_indicators").
		Where(sq.Lt{"started_at": before}))
}
