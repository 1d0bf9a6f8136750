package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/jackc/pgx/v4/stdlib"

	"github.com/jmoiron/sqlx"
	"github.com/practice-sem-2/quartier-chat-service/internal/models"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type PostgresTestSuite struct {
	suite.Suite
	db *sqlx.DB
	m  *migrate.Migrate
}

func (s *PostgresTestSuite) SetupSuite() {
	var err error
	viper.AutomaticEnv()
	viper.SetDefault("MIGRATIONS_DIR", "file://../../migrations")
	dbDsn := viper.GetString("DB_DSN")
	if dbDsn == "" {
		s.T().Skip("DB_DSN is not set")
	}
	migrationsDsn := viper.GetString("MIGRATIONS_DSN")
	if migrationsDsn == "" {
		migrationsDsn = strings.Replace(dbDsn, "postgres://", "pgx://", 1)
	}
	migrationsDir := viper.GetString("MIGRATIONS_DIR")

	s.db, err = sqlx.Connect("pgx", dbDsn)
	require.NoError(s.T(), err, "failed to connect to database")

	s.m, err = migrate.New(migrationsDir, migrationsDsn)

	require.NoError(s.T(), err, "failed to open migrations")

	err = s.m.Up()
	if !errors.Is(err, migrate.ErrNoChange) {
		require.NoError(s.T(), err, "failed to migrate database")
	}
}

func (s *PostgresTestSuite) TearDownSuite() {
	if s.m != nil {
		_ = s.m.Down()
	}
	if s.db != nil {
		_ = s.db.Close()
	}
}

func (s *PostgresTestSuite) TearDownTest() {
	_, err := s.db.Exec(`TRUNCATE typing_indicators, user_presence, message_deliveries, message_reactions,
		messages, chat_room_members, chat_rooms, users RESTART IDENTITY CASCADE`)
	require.NoError(s.T(), err, "can't teardown test")
}

// DB exposes the migrated test database to suites of other packages.
func (s *PostgresTestSuite) DB() *sqlx.DB {
	return s.db
}

func (s *PostgresTestSuite) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}

func (s *PostgresTestSuite) CreateUser(quartierID int64) models.User {
	user := models.User{
		QuartierID: quartierID,
		Nom:        gofakeit.LastName(),
		Prenom:     gofakeit.FirstName(),
		Email:      gofakeit.Email(),
	}
	err := s.db.Get(&user.ID,
		"INSERT INTO users (quartier_id, nom, prenom, email) VALUES ($1, $2, $3, $4) RETURNING id",
		user.QuartierID, user.Nom, user.Prenom, user.Email)
	require.NoError(s.T(), err, "can't create user fixture")
	return user
}

func (s *PostgresTestSuite) createGroupRoom(quartierID, creatorID int64, at time.Time, members ...int64) *models.ChatRoom {
	ctx, cancel := s.ctx()
	defer cancel()

	rooms := NewRoomsStorage(s.db)
	room, err := rooms.CreateRoom(ctx, &models.ChatRoom{
		Name:       gofakeit.Company(),
		QuartierID: quartierID,
		RoomType:   models.RoomTypeGroup,
		CreatedBy:  &creatorID,
		CreatedAt:  at,
		UpdatedAt:  at,
	})
	require.NoError(s.T(), err, "can't create room fixture")
	require.NoError(s.T(), rooms.AddMembers(ctx, room.ID, []int64{creatorID}, models.RoleAdmin, at))
	if len(members) > 0 {
		require.NoError(s.T(), rooms.AddMembers(ctx, room.ID, members, models.RoleMember, at))
	}
	return room
}

func ts(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
