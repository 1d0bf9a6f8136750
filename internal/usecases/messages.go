package usecases

import (
	"context"
	"errors"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/practice-sem-2/quartier-chat-service/internal/models"
	storage "github.com/practice-sem-2/quartier-chat-service/internal/storages"
)

const (
	DefaultPageLimit = 50
	MaxPageLimit     = 100
	MaxPage          = 100000

	undeliveredBatch = 500
)

type MessagesUsecase struct {
	usecase
}

func NewMessagesUsecase(r storage.Registry, opts ...Option) *MessagesUsecase {
	return &MessagesUsecase{
		usecase: newUsecase(r, opts),
	}
}

// Send stores the message, bumps the room and creates a pending delivery for
// every other member, in one transaction.
func (u *MessagesUsecase) Send(ctx context.Context, sender *models.User, message models.MessageSend) (*models.HydratedMessage, error) {
	if err := requireUser(sender); err != nil {
		return nil, err
	}

	message.Content = strings.TrimSpace(message.Content)
	if message.MessageType == "" {
		message.MessageType = models.MessageTypeText
	}
	if err := u.validate.Struct(message); err != nil {
		return nil, err
	}
	if message.MessageType == models.MessageTypeSystem {
		return nil, ErrSystemMessage
	}

	now := u.timestamp()
	var hydrated *models.HydratedMessage
	var audience []int64
	err := u.registry.Atomic(ctx, func(r storage.Registry) error {
		if _, err := requireMember(ctx, r, message.ChatRoomID, sender.ID); err != nil {
			return err
		}

		store := r.GetMessagesStore()
		if message.ReplyToID != nil {
			replied, err := store.GetMessage(ctx, *message.ReplyToID)
			if errors.Is(err, storage.ErrMessageNotFound) {
				return storage.ErrRepliedMessageNotFound
			} else if err != nil {
				return err
			}
			if replied.ChatRoomID != message.ChatRoomID {
				return ErrCrossRoomReply
			}
		}

		stored, err := store.PutMessage(ctx, &models.Message{
			ChatRoomID:  message.ChatRoomID,
			SenderID:    &sender.ID,
			Content:     message.Content,
			MessageType: message.MessageType,
			ReplyToID:   message.ReplyToID,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
		if err != nil {
			return err
		}

		rooms := r.GetRoomsStore()
		if err = rooms.TouchRoom(ctx, message.ChatRoomID, now); err != nil {
			return err
		}

		audience, err = rooms.MemberIDs(ctx, message.ChatRoomID)
		if err != nil {
			return err
		}

		recipients := make([]int64, 0, len(audience))
		for _, id := range audience {
			if id != sender.ID {
				recipients = append(recipients, id)
			}
		}
		if err = store.CreateDeliveries(ctx, stored.ID, recipients, now); err != nil {
			return err
		}

		hydrated, err = store.GetHydrated(ctx, stored.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	u.notifier.Notify(models.RoomAudience(hydrated.ChatRoomID), models.Event{
		Type:    models.EventMessageReceived,
		Payload: models.MessagePayload{Message: hydrated},
	})
	u.publish(storage.UpdateMessageSent, func(p storage.UpdatesPublisher) error {
		return p.MessageSent(&models.MessageSent{
			UpdateMeta: models.UpdateMeta{Timestamp: now, Audience: audience},
			Message:    *hydrated,
		})
	})
	return hydrated, nil
}

// Edit replaces the content of a message. Only its author can do it.
func (u *MessagesUsecase) Edit(ctx context.Context, editor *models.User, messageID int64, content string) (*models.HydratedMessage, error) {
	if err := requireUser(editor); err != nil {
		return nil, err
	}

	content = strings.TrimSpace(content)
	if err := u.validate.Var("content", content, "required,max=10000"); err != nil {
		return nil, err
	}

	now := u.timestamp()
	var hydrated *models.HydratedMessage
	err := u.registry.Atomic(ctx, func(r storage.Registry) error {
		store := r.GetMessagesStore()
		message, err := u.visibleMessage(ctx, r, messageID, editor.ID)
		if err != nil {
			return err
		}
		if message.SenderID == nil || *message.SenderID != editor.ID {
			return ErrNotMessageAuthor
		}

		if err = store.UpdateContent(ctx, messageID, content, now); err != nil {
			return err
		}
		hydrated, err = store.GetHydrated(ctx, messageID)
		return err
	})
	if err != nil {
		return nil, err
	}

	u.notifier.Notify(models.RoomAudience(hydrated.ChatRoomID), models.Event{
		Type:    models.EventMessageUpdated,
		Payload: models.MessagePayload{Message: hydrated},
	})
	u.publish(storage.UpdateMessageEdited, func(p storage.UpdatesPublisher) error {
		return p.MessageEdited(&models.MessageEdited{
			UpdateMeta: models.UpdateMeta{Timestamp: now},
			Message:    *hydrated,
		})
	})
	return hydrated, nil
}

// Delete soft deletes a message. The author and room moderators may do it.
func (u *MessagesUsecase) Delete(ctx context.Context, requester *models.User, messageID int64) (*models.HydratedMessage, error) {
	if err := requireUser(requester); err != nil {
		return nil, err
	}

	now := u.timestamp()
	var hydrated *models.HydratedMessage
	err := u.registry.Atomic(ctx, func(r storage.Registry) error {
		store := r.GetMessagesStore()
		message, err := u.visibleMessage(ctx, r, messageID, requester.ID)
		if err != nil {
			return err
		}

		if message.SenderID == nil || *message.SenderID != requester.ID {
			member, err := r.GetRoomsStore().GetMember(ctx, message.ChatRoomID, requester.ID)
			if err != nil {
				return err
			}
			if !member.Role.CanModerate() {
				return ErrInsufficientRole
			}
		}

		if err = store.SoftDelete(ctx, messageID, now); err != nil {
			return err
		}
		hydrated, err = store.GetHydrated(ctx, messageID)
		return err
	})
	if err != nil {
		return nil, err
	}

	u.notifier.Notify(models.RoomAudience(hydrated.ChatRoomID), models.Event{
		Type:    models.EventMessageDeleted,
		Payload: models.MessageDeletedPayload{Message: hydrated, DeletedBy: requester.Summary()},
	})
	u.publish(storage.UpdateMessageDeleted, func(p storage.UpdatesPublisher) error {
		return p.MessageDeleted(&models.MessageDeleted{
			UpdateMeta: models.UpdateMeta{Timestamp: now},
			MessageID:  messageID,
			ChatRoomID: hydrated.ChatRoomID,
			DeletedBy:  requester.ID,
		})
	})
	return hydrated, nil
}

// visibleMessage loads a non-deleted message of a room the user belongs to.
func (u *MessagesUsecase) visibleMessage(ctx context.Context, r storage.Registry, messageID, userID int64) (*models.Message, error) {
	message, err := r.GetMessagesStore().GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if message.IsDeleted {
		return nil, storage.ErrMessageNotFound
	}
	if _, err = requireMember(ctx, r, message.ChatRoomID, userID); err != nil {
		return nil, err
	}
	return message, nil
}

// MessageRoom returns the room of a live message the user can see.
func (u *MessagesUsecase) MessageRoom(ctx context.Context, user *models.User, messageID int64) (int64, error) {
	if err := requireUser(user); err != nil {
		return 0, err
	}
	message, err := u.visibleMessage(ctx, u.registry, messageID, user.ID)
	if err != nil {
		return 0, err
	}
	return message.ChatRoomID, nil
}

// List pages backwards from the newest message; every page is chronological.
func (u *MessagesUsecase) List(ctx context.Context, user *models.User, sel models.MessagesSelect) ([]models.HydratedMessage, error) {
	if err := requireUser(user); err != nil {
		return nil, err
	}

	if sel.Limit == 0 {
		sel.Limit = DefaultPageLimit
	} else if sel.Limit > MaxPageLimit {
		sel.Limit = MaxPageLimit
	}
	if sel.Page == 0 {
		sel.Page = 1
	} else if sel.Page > MaxPage {
		return nil, ErrPageOutOfRange
	}

	query := sq.And{sq.Eq{"m.chat_room_id": sel.ChatRoomID, "m.is_deleted": false}}
	if sel.Before != nil {
		query = append(query, sq.Lt{"m.created_at": *sel.Before})
	}
	if sel.After != nil {
		query = append(query, sq.Gt{"m.created_at": *sel.After})
	}

	var messages []models.HydratedMessage
	err := u.registry.Atomic(ctx, func(r storage.Registry) error {
		if _, err := requireMember(ctx, r, sel.ChatRoomID, user.ID); err != nil {
			return err
		}

		var err error
		messages, err = r.GetMessagesStore().SelectMessages(ctx, query, storage.SelectOptions{
			Limit:   sel.Limit,
			Offset:  (sel.Page - 1) * sel.Limit,
			OrderBy: []string{"m.created_at DESC", "m.id DESC"},
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return chronological(messages), nil
}

// AddReaction is idempotent: isNew is false when the user already holds this
// reaction on the message.
func (u *MessagesUsecase) AddReaction(ctx context.Context, user *models.User, messageID int64, reaction string) (isNew bool, err error) {
	if err := requireUser(user); err != nil {
		return false, err
	}

	reaction = strings.TrimSpace(reaction)
	if err := u.validate.Var("reaction", reaction, "required,max=32"); err != nil {
		return false, err
	}

	var hydrated *models.HydratedMessage
	err = u.registry.Atomic(ctx, func(r storage.Registry) error {
		if _, err := u.visibleMessage(ctx, r, messageID, user.ID); err != nil {
			return err
		}

		store := r.GetMessagesStore()
		_, created, err := store.AddReaction(ctx, &models.MessageReaction{
			MessageID: messageID,
			UserID:    user.ID,
			Reaction:  reaction,
			CreatedAt: u.timestamp(),
		})
		if err != nil || !created {
			return err
		}

		isNew = true
		hydrated, err = store.GetHydrated(ctx, messageID)
		return err
	})
	if err != nil || !isNew {
		return false, err
	}

	u.notifier.Notify(models.RoomAudience(hydrated.ChatRoomID), models.Event{
		Type:    models.EventReactionAdded,
		Payload: models.ReactionPayload{Message: hydrated, Reaction: reaction, User: user.Summary()},
	})
	return true, nil
}

// RemoveReaction reports false when there was nothing to remove.
func (u *MessagesUsecase) RemoveReaction(ctx context.Context, user *models.User, messageID int64, reaction string) (removed bool, err error) {
	if err := requireUser(user); err != nil {
		return false, err
	}

	reaction = strings.TrimSpace(reaction)
	var hydrated *models.HydratedMessage
	err = u.registry.Atomic(ctx, func(r storage.Registry) error {
		if _, err := u.visibleMessage(ctx, r, messageID, user.ID); err != nil {
			return err
		}

		store := r.GetMessagesStore()
		removed, err = store.RemoveReaction(ctx, messageID, user.ID, reaction)
		if err != nil || !removed {
			return err
		}

		hydrated, err = store.GetHydrated(ctx, messageID)
		return err
	})
	if err != nil || !removed {
		return false, err
	}

	u.notifier.Notify(models.RoomAudience(hydrated.ChatRoomID), models.Event{
		Type:    models.EventReactionRemoved,
		Payload: models.ReactionPayload{Message: hydrated, Reaction: reaction, User: user.Summary()},
	})
	return true, nil
}

// MarkRead advances the user's deliveries of messageIDs to read. With a room,
// the read cursor of that room also moves up to the newest marked message.
func (u *MessagesUsecase) MarkRead(ctx context.Context, user *models.User, roomID *int64, messageIDs []int64) (int64, error) {
	if err := requireUser(user); err != nil {
		return 0, err
	}
	if len(messageIDs) == 0 {
		return 0, nil
	}

	now := u.timestamp()
	var updated int64
	err := u.registry.Atomic(ctx, func(r storage.Registry) error {
		store := r.GetMessagesStore()

		if roomID != nil {
			if _, err := requireMember(ctx, r, *roomID, user.ID); err != nil {
				return err
			}

			marked, err := store.SelectMessages(ctx, sq.Eq{"m.id": messageIDs, "m.chat_room_id": *roomID},
				storage.SelectOptions{OrderBy: []string{"m.created_at DESC"}, Limit: 1})
			if err != nil {
				return err
			}
			if len(marked) > 0 {
				if err = r.GetRoomsStore().UpdateLastRead(ctx, *roomID, user.ID, marked[0].CreatedAt); err != nil {
					return err
				}
			}
		}

		var err error
		updated, err = store.AdvanceDeliveries(ctx, user.ID, messageIDs, models.DeliveryRead, now)
		return err
	})
	return updated, err
}

// Undelivered returns messages the user has not received yet and marks them
// delivered.
func (u *MessagesUsecase) Undelivered(ctx context.Context, user *models.User) ([]models.HydratedMessage, error) {
	if err := requireUser(user); err != nil {
		return nil, err
	}

	now := u.timestamp()
	var messages []models.HydratedMessage
	err := u.registry.Atomic(ctx, func(r storage.Registry) error {
		store := r.GetMessagesStore()

		var err error
		messages, err = store.SelectMessages(ctx, storage.UndeliveredSelector(user.ID), storage.SelectOptions{
			Limit:   undeliveredBatch,
			OrderBy: []string{"m.created_at", "m.id"},
		})
		if err != nil || len(messages) == 0 {
			return err
		}

		ids := make([]int64, len(messages))
		for i := range messages {
			ids[i] = messages[i].ID
		}
		_, err = store.AdvanceDeliveries(ctx, user.ID, ids, models.DeliveryDelivered, now)
		return err
	})
	return messages, err
}

// MarkDelivered records that messageID reached the live connections of userIDs.
func (u *MessagesUsecase) MarkDelivered(ctx context.Context, messageID int64, userIDs []int64) (int64, error) {
	if len(userIDs) == 0 {
		return 0, nil
	}
	return u.registry.GetMessagesStore().MarkDelivered(ctx, messageID, userIDs, u.timestamp())
}

func (u *MessagesUsecase) UndeliveredCount(ctx context.Context, user *models.User) (int64, error) {
	if err := requireUser(user); err != nil {
		return 0, err
	}
	return u.registry.GetMessagesStore().CountUndelivered(ctx, user.ID)
}
