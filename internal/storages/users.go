package storage

import (
	"context"
	"database/sql"
	"errors"

	sq "github.com/Masterminds/squirrel"
	"github.com/practice-sem-2/quartier-chat-service/internal/models"
)

// UsersStorage reads the users table owned by the account service.
type UsersStorage struct {
	db Scope
}

func NewUsersStorage(db Scope) *UsersStorage {
	return &UsersStorage{
		db: db,
	}
}

func (s *UsersStorage) GetUser(ctx context.Context, userID int64) (*models.User, error) {
	query, args, err := sq.Select("id", "quartier_id", "nom", "prenom", "email").
		From("users").
		Where(sq.Eq{"id": userID}).
		PlaceholderFormat(sq.Dollar).
		ToSql()

	if err != nil {
		return nil, err
	}

	user := models.User{}
	err = s.db.GetContext(ctx, &user, query, args...)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	} else if err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *UsersStorage) ListQuartierUsers(ctx context.Context, quartierID int64) ([]models.UserWithPresence, error) {
	query, args, err := sq.Select("u.id", "u.quartier_id", "u.nom", "u.prenom", "u.email",
		"COALESCE(p.status, 'offline') AS status", "p.last_seen").
		From("users u").
		LeftJoin("user_presence p ON p.user_id = u.id").
		Where(sq.Eq{"u.quartier_id": quartierID}).
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
