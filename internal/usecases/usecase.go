package usecases

import (
	"context"
	"time"

	"github.com/practice-sem-2/quartier-chat-service/internal/models"
	storage "github.com/practice-sem-2/quartier-chat-service/internal/storages"
	"github.com/sirupsen/logrus"
)

// Notifier fans committed changes out to live connections. Implementations
// must not block on slow peers.
type Notifier interface {
	Notify(audience models.Audience, event models.Event)
	// Detach drops the room subscriptions of users that lost access to it.
	Detach(roomID int64, userIDs ...int64)
}

type nopNotifier struct{}

func (nopNotifier) Notify(models.Audience, models.Event) {}
func (nopNotifier) Detach(int64, ...int64)               {}

type Option func(*usecase)

func WithClock(now func() time.Time) Option {
	return func(u *usecase) {
		u.now = now
	}
}

func WithNotifier(n Notifier) Option {
	return func(u *usecase) {
		if n != nil {
			u.notifier = n
		}
	}
}

func WithLogger(logger logrus.FieldLogger) Option {
	return func(u *usecase) {
		u.logger = logger
	}
}

// WithUpdatesQueue moves updates stream writes off the request goroutine.
func WithUpdatesQueue(q *UpdatesQueue) Option {
	return func(u *usecase) {
		u.updates = q
	}
}

func WithValidator(v *Validator) Option {
	return func(u *usecase) {
		u.validate = v
	}
}

// usecase holds what every usecase shares.
type usecase struct {
	registry storage.Registry
	notifier Notifier
	logger   logrus.FieldLogger
	validate *Validator
	updates  *UpdatesQueue
	now      func() time.Time
}

func newUsecase(r storage.Registry, opts []Option) usecase {
	u := usecase{
		registry: r,
		notifier: nopNotifier{},
		logger:   logrus.StandardLogger(),
		validate: NewValidator(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(&u)
	}
	return u
}

func (u *usecase) timestamp() time.Time {
	return u.now().UTC().Truncate(time.Microsecond)
}

// publish reports failures of the updates stream without failing the request,
// the change is already committed at this point.
func (u *usecase) publish(kind string, fn func(storage.UpdatesPublisher) error) {
	if u.updates != nil {
		u.updates.enqueue(updateJob{kind: kind, publisher: u.registry.GetUpdatesStore(), fn: fn})
		return
	}
	if err := fn(u.registry.GetUpdatesStore()); err != nil {
		u.logger.
			WithError(err).
			WithField("update", kind).
			Error("can't publish update")
	}
}

func requireUser(user *models.User) error {
	if user == nil {
		return ErrAuthenticationRequired
	}
	return nil
}

// requireMember returns the active room if userID is its member.
func requireMember(ctx context.Context, r storage.Registry, roomID, userID int64) (*models.ChatRoom, error) {
	rooms := r.GetRoomsStore()
	room, err := rooms.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}

	isMember, err := rooms.IsMember(ctx, roomID, userID)
	if err != nil {
		return nil, err
	}
	if !isMember {
		return nil, ErrUserIsNotARoomMember
	}
	return room, nil
}
