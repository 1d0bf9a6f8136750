package usecases

import (
	"context"
	"time"

	"github.com/practice-sem-2/quartier-chat-service/internal/models"
	storage "github.com/practice-sem-2/quartier-chat-service/internal/storages"
)

type PresenceConfig struct {
	OnlineWindow time.Duration
	OfflineAfter time.Duration
	TypingTTL    time.Duration
}

func DefaultPresenceConfig() PresenceConfig {
	return PresenceConfig{
		OnlineWindow: 5 * time.Minute,
		OfflineAfter: 24 * time.Hour,
		TypingTTL:    10 * time.Second,
	}
}

// PresenceUsecase tracks who is connected and who is typing. Both are read
// with a staleness window instead of relying on clean disconnects.
type PresenceUsecase struct {
	usecase
	cfg PresenceConfig
}

func NewPresenceUsecase(r storage.Registry, cfg PresenceConfig, opts ...Option) *PresenceUsecase {
	return &PresenceUsecase{
		usecase: newUsecase(r, opts),
		cfg:     cfg,
	}
}

// Connect marks the user online on socketID and tells the quartier.
func (u *PresenceUsecase) Connect(ctx context.Context, user *models.User, socketID string) (*models.UserPresence, error) {
	if err := requireUser(user); err != nil {
		return nil, err
	}

	presence, err := u.registry.GetPresenceStore().SetOnline(ctx, user.ID, socketID, u.timestamp())
	if err != nil {
		return nil, err
	}

	u.presenceChanged(user, presence.Status, presence.LastSeen)
	return presence, nil
}

// Disconnect releases socketID. When the user still holds another connection
// (fallbackSocketID) presence is handed over to it instead of going offline.
// Typing indicators the user left in rooms are cleared.
func (u *PresenceUsecase) Disconnect(ctx context.Context, user *models.User, socketID, fallbackSocketID string, rooms []int64) error {
	if err := requireUser(user); err != nil {
		return err
	}

	now := u.timestamp()
	store := u.registry.GetPresenceStore()

	for _, roomID := range rooms {
		removed, err := store.DeleteTyping(ctx, roomID, user.ID)
		if err != nil {
			return err
		}
		if removed {
			u.typingStopped(roomID, user)
		}
	}

	if fallbackSocketID != "" {
		_, err := store.HandOver(ctx, user.ID, socketID, fallbackSocketID, now)
		return err
	}

	changed, err := store.SetOffline(ctx, user.ID, socketID, now)
	if err != nil {
		return err
	}
	if changed {
		u.presenceChanged(user, models.PresenceOffline, now)
	}
	return nil
}

func (u *PresenceUsecase) UpdateStatus(ctx context.Context, user *models.User, status models.PresenceStatus) (*models.UserPresence, error) {
	if err := requireUser(user); err != nil {
		return nil, err
	}
	if !status.Valid() {
		return nil, ErrInvalidPresenceStatus
	}

	presence, err := u.registry.GetPresenceStore().SetStatus(ctx, user.ID, status, u.timestamp())
	if err != nil {
		return nil, err
	}

	u.presenceChanged(user, presence.Status, presence.LastSeen)
	return presence, nil
}

// Touch refreshes last_seen, it is called on every heartbeat and command.
func (u *PresenceUsecase) Touch(ctx context.Context, user *models.User) error {
	if err := requireUser(user); err != nil {
		return err
	}
	return u.registry.GetPresenceStore().Touch(ctx, user.ID, u.timestamp())
}

func (u *PresenceUsecase) OnlineUsers(ctx context.Context, user *models.User) ([]models.UserWithPresence, error) {
	if err := requireUser(user); err != nil {
		return nil, err
	}
	since := u.timestamp().Add(-u.cfg.OnlineWindow)
	return u.registry.GetPresenceStore().OnlineInQuartier(ctx, user.QuartierID, since)
}

// Neighborhood lists every user of the caller's quartier. Users whose presence
// went stale are reported offline.
func (u *PresenceUsecase) Neighborhood(ctx context.Context, user *models.User) ([]models.UserWithPresence, error) {
	if err := requireUser(user); err != nil {
		return nil, err
	}

	users, err := u.registry.GetUsersStore().ListQuartierUsers(ctx, user.QuartierID)
	if err != nil {
		return nil, err
	}

	since := u.timestamp().Add(-u.cfg.OnlineWindow)
	for i := range users {
		if users[i].LastSeen == nil || users[i].LastSeen.Before(since) {
			users[i].Status = models.PresenceOffline
		}
	}
	return users, nil
}

func (u *PresenceUsecase) StartTyping(ctx context.Context, user *models.User, roomID int64) error {
	if err := requireUser(user); err != nil {
		return err
	}
	if _, err := requireMember(ctx, u.registry, roomID, user.ID); err != nil {
		return err
	}

	if err := u.registry.GetPresenceStore().UpsertTyping(ctx, roomID, user.ID, u.timestamp()); err != nil {
		return err
	}

	u.notifier.Notify(models.Audience{RoomID: roomID, ExcludeUserID: user.ID}, models.Event{
		Type:    models.EventTypingStart,
		Payload: models.TypingPayload{RoomID: roomID, User: user.Summary()},
	})
	return nil
}

func (u *PresenceUsecase) StopTyping(ctx context.Context, user *models.User, roomID int64) error {
	if err := requireUser(user); err != nil {
		return err
	}

	removed, err := u.registry.GetPresenceStore().DeleteTyping(ctx, roomID, user.ID)
	if err != nil {
		return err
	}
	if removed {
		u.typingStopped(roomID, user)
	}
	return nil
}

func (u *PresenceUsecase) TypingUsers(ctx context.Context, user *models.User, roomID int64) ([]models.TypingIndicator, error) {
	if err := requireUser(user); err != nil {
		return nil, err
	}
	if _, err := requireMember(ctx, u.registry, roomID, user.ID); err != nil {
		return nil, err
	}
	since := u.timestamp().Add(-u.cfg.TypingTTL)
	return u.registry.GetPresenceStore().TypingUsers(ctx, roomID, since)
}

// Sweep forces long idle users offline and purges expired typing rows.
func (u *PresenceUsecase) Sweep(ctx context.Context) (swept, purged int64, err error) {
	now := u.timestamp()
	store := u.registry.GetPresenceStore()

	swept, err = store.SweepStale(ctx, now.Add(-u.cfg.OfflineAfter))
	if err != nil {
		return 0, 0, err
	}

	purged, err = store.PurgeTyping(ctx, now.Add(-u.cfg.TypingTTL))
	return swept, purged, err
}

// RunSweeper calls Sweep every interval until ctx is done.
func (u *PresenceUsecase) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			swept, purged, err := u.Sweep(ctx)
			if err != nil {
				u.logger.WithError(err).Error("presence sweep failed")
				continue
			}
			u.logger.
				WithField("swept", swept).
				WithField("purged_typing", purged).
				Debug("presence sweep finished")
		}
	}
}

func (u *PresenceUsecase) presenceChanged(user *models.User, status models.PresenceStatus, lastSeen time.Time) {
	u.notifier.Notify(models.Audience{QuartierID: user.QuartierID, ExcludeUserID: user.ID}, models.Event{
		Type:    models.EventUserPresenceUpdated,
		Payload: models.PresencePayload{User: user.Summary(), Status: status, LastSeen: lastSeen},
	})
}

func (u *PresenceUsecase) typingStopped(roomID int64, user *models.User) {
	u.notifier.Notify(models.Audience{RoomID: roomID, ExcludeUserID: user.ID}, models.Event{
		Type:    models.EventTypingStop,
		Payload: models.TypingPayload{RoomID: roomID, User: user.Summary()},
	})
}
