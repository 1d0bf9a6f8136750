package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/practice-sem-2/quartier-chat-service/internal/models"
)

var hydratedColumns = []string{
	"m.id", "m.chat_room_id", "m.sender_id", "m.content", "m.message_type", "m.reply_to_id",
	"m.created_at", "m.updated_at", "m.is_edited", "m.is_deleted", "m.deleted_at",
	"su.nom AS sender_nom", "su.prenom AS sender_prenom",
	"rm.content AS reply_content", "rm.sender_id AS reply_sender_id", "rm.is_deleted AS reply_is_deleted",
	"ru.nom AS reply_sender_nom", "ru.prenom AS reply_sender_prenom",
}

// messageRow is a message joined with its sender and the message it replies to.
type messageRow struct {
	models.Message
	SenderNom         *string `db:"sender_nom"`
	SenderPrenom      *string `db:"sender_prenom"`
	ReplyContent      *string `db:"reply_content"`
	ReplySenderID     *int64  `db:"reply_sender_id"`
	ReplyIsDeleted    *bool   `db:"reply_is_deleted"`
	ReplySenderNom    *string `db:"reply_sender_nom"`
	ReplySenderPrenom *string `db:"reply_sender_prenom"`
}

func summary(id *int64, nom, prenom *string) *models.UserSummary {
	if id == nil || nom == nil || prenom == nil {
		return nil
	}
	return &models.UserSummary{ID: *id, Nom: *nom, Prenom: *prenom}
}

func (r *messageRow) hydrate() models.HydratedMessage {
	msg := models.HydratedMessage{
		ID:          r.ID,
		ChatRoomID:  r.ChatRoomID,
		SenderID:    r.SenderID,
		Content:     r.Content,
		MessageType: r.MessageType,
		ReplyToID:   r.ReplyToID,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
		IsEdited:    r.IsEdited,
		IsDeleted:   r.IsDeleted,
		DeletedAt:   r.DeletedAt,
		Sender:      summary(r.SenderID, r.SenderNom, r.SenderPrenom),
	}
	if r.ReplyToID != nil && r.ReplyContent != nil {
		msg.ReplyTo = &models.ReplyPreview{
			ID:        *r.ReplyToID,
			Content:   *r.ReplyContent,
			Sender:    summary(r.ReplySenderID, r.ReplySenderNom, r.ReplySenderPrenom),
			IsDeleted: r.ReplyIsDeleted != nil && *r.ReplyIsDeleted,
		}
	}
	msg.Redact()
	return msg
}

type SelectOptions struct {
	Limit   uint64
	Offset  uint64
	OrderBy []string
}

type MessagesStorage struct {
	db Scope
}

func NewMessagesStorage(db Scope) *MessagesStorage {
	return &MessagesStorage{
		db: db,
	}
}

func hydratedSelect() sq.SelectBuilder {
	return sq.Select(hydratedColumns...).
		From("messages m").
		LeftJoin("users su ON su.id = m.sender_id").
		LeftJoin("messages rm ON rm.id = m.reply_to_id").
		LeftJoin("users ru ON ru.id = rm.sender_id").
		PlaceholderFormat(sq.Dollar)
}

func (s *MessagesStorage) PutMessage(ctx context.Context, message *models.Message) (*models.Message, error) {
	query, args, err := sq.Insert("messages").
		Columns("chat_room_id", "sender_id", "content", "message_type", "reply_to_id", "created_at", "updated_at").
		Values(message.ChatRoomID, message.SenderID, message.Content, message.MessageType,
			message.ReplyToID, message.CreatedAt, message.CreatedAt).
		Suffix("RETURNING *").
		PlaceholderFormat(sq.Dollar).
		ToSql()

	if err != nil {
		return nil, err
	}

	created := models.Message{}
	err = s.db.GetContext(ctx, &created, query, args...)

	switch GetPgxConstraintName(err) {
	case MessagesReplyToForeignKey:
		return nil, ErrRepliedMessageNotFound
	case MessagesRoomForeignKey:
		return nil, ErrRoomNotFound
	case MessagesSenderForeignKey:
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &created, nil
}

// GetMessage returns the stored row, deleted or not.
func (s *MessagesStorage) GetMessage(ctx context.Context, messageID int64) (*models.Message, error) {
	query, args, err := sq.Select("*").
		From("messages").
		Where(sq.Eq{"id": messageID}).
		PlaceholderFormat(sq.Dollar).
		ToSql()

	if err != nil {
		return nil, err
	}

	msg := models.Message{}
	err = s.db.GetContext(ctx, &msg, query, args...)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMessageNotFound
	} else if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (s *MessagesStorage) GetHydrated(ctx context.Context, messageID int64) (*models.HydratedMessage, error) {
	messages, err := s.SelectMessages(ctx, sq.Eq{"m.id": messageID})
	if err != nil {
		return nil, err
	}
	if len(messages) == 0 {
		return nil, ErrMessageNotFound
	}
	return &messages[0], nil
}

func (s *MessagesStorage) SelectMessages(ctx context.Context, selector sq.Sqlizer, options ...SelectOptions) ([]models.HydratedMessage, error) {
	option := SelectOptions{}
	if len(options) > 0 {
		option = options[0]
	}

	builder := hydratedSelect().Where(selector)

	if len(option.OrderBy) > 0 {
		builder = builder.OrderBy(option.OrderBy...)
	}

	if option.Limit > 0 {
		builder = builder.Limit(option.Limit)
	}

	if option.Offset > 0 {
		builder = builder.Offset(option.Offset)
	}

	return s.selectHydrated(ctx, builder)
}

// LastMessages returns the most recent non-deleted message of each room.
func (s *MessagesStorage) LastMessages(ctx context.Context, roomIDs []int64) (map[int64]models.HydratedMessage, error) {
	result := make(map[int64]models.HydratedMessage, len(roomIDs))
	if len(roomIDs) == 0 {
		return result, nil
	}

	builder := hydratedSelect().
		Options("DISTINCT ON (m.chat_room_id)").
		Where(sq.Eq{"m.chat_room_id": roomIDs, "m.is_deleted": false}).
		OrderBy("m.chat_room_id", "m.created_at DESC", "m.id DESC")

	messages, err := s.selectHydrated(ctx, builder)
	if err != nil {
		return nil, err
	}

	for _, msg := range messages {
		result[msg.ChatRoomID] = msg
	}
	return result, nil
}

func (s *MessagesStorage) selectHydrated(ctx context.Context, builder sq.SelectBuilder) ([]models.HydratedMessage, error) {
	query, args, err := builder.ToSql()

	if err != nil {
		return nil, err
	}

	rows := make([]messageRow, 0)
	if err = s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}

	messages := make([]models.HydratedMessage, len(rows))
	ids := make([]int64, len(rows))
	for i := range rows {
		messages[i] = rows[i].hydrate()
		ids[i] = rows[i].ID
	}

	reactions, err := s.ListReactions(ctx, ids)
	if err != nil {
		return nil, err
	}

	for i := range messages {
		if r, ok := reactions[messages[i].ID]; ok {
			messages[i].Reactions = r
		}
	}
	return messages, nil
}

func (s *MessagesStorage) UpdateContent(ctx context.Context, messageID int64, content string, at time.Time) error {
	count, err := execAffected(ctx, s.db, sq.Update("messages").
		Set("content", content).
		Set("is_edited", true).
		Set("updated_at", at).
		Where(sq.Eq{"id": messageID, "is_deleted": false}))

	if err != nil {
		return err
	}
	if count == 0 {
		return ErrMessageNotFound
	}
	return nil
}

func (s *MessagesStorage) SoftDelete(ctx context.Context, messageID int64, at time.Time) error {
	count, err := execAffected(ctx, s.db, sq.Update("messages").
		Set("is_deleted", true).
		Set("deleted_at", at).
		Set("updated_at", at).
		Where(sq.Eq{"id": messageID, "is_deleted": false}))

	if err != nil {
		return err
	}
	if count == 0 {
		return ErrMessageNotFound
	}
	return nil
}

func (s *MessagesStorage) CreateDeliveries(ctx context.Context, messageID int64, userIDs []int64, at time.Time) error {
	if len(userIDs) == 0 {
		return nil
	}

	builder := sq.Insert("message_deliveries").
		Columns("message_id", "user_id", "status", "timestamp").
		Suffix("ON CONFLICT (message_id, user_id) DO NOTHING")

	for _, userID := range userIDs {
		builder = builder.Values(messageID, userID, models.DeliverySent, at)
	}

	_, err := execAffected(ctx, s.db, builder)
	return err
}

func lowerStatuses(status models.DeliveryStatus) []models.DeliveryStatus {
	lower := make([]models.DeliveryStatus, 0, 2)
	for _, st := range []models.DeliveryStatus{models.DeliverySent, models.DeliveryDelivered} {
		if st.Rank() < status.Rank() {
			lower = append(lower, st)
		}
	}
	return lower
}

// AdvanceDeliveries moves the user's deliveries to status. Rows already at or
// past status are left untouched.
func (s *MessagesStorage) AdvanceDeliveries(ctx context.Context, userID int64, messageIDs []int64, status models.DeliveryStatus, at time.Time) (int64, error) {
	lower := lowerStatuses(status)
	if len(messageIDs) == 0 || len(lower) == 0 {
		return 0, nil
	}

	return execAffected(ctx, s.db, sq.Update("message_deliveries").
		Set("status", status).
		Set("timestamp", at).
		Where(sq.Eq{
			"user_id":    userID,
			"message_id": messageIDs,
			"status":     lower,
		}))
}

// MarkDelivered moves pending deliveries of one message to delivered for the
// given recipients.
func (s *MessagesStorage) MarkDelivered(ctx context.Context, messageID int64, userIDs []int64, at time.Time) (int64, error) {
	if len(userIDs) == 0 {
		return 0, nil
	}

	return execAffected(ctx, s.db, sq.Update("message_deliveries").
		Set("status", models.DeliveryDelivered).
		Set("timestamp", at).
		Where(sq.Eq{
			"message_id": messageID,
			"user_id":    userIDs,
			"status":     models.DeliverySent,
		}))
}

func (s *MessagesStorage) MarkRoomDeliveriesRead(ctx context.Context, roomID, userID int64, at time.Time) (int64, error) {
	return execAffected(ctx, s.db, sq.Update("message_deliveries").
		Set("status", models.DeliveryRead).
		Set("timestamp", at).
		Where(sq.Eq{"user_id": userID, "status": lowerStatuses(models.DeliveryRead)}).
		Where("message_id IN (SELECT id FROM messages WHERE chat_room_id = ?)", roomID))
}

func (s *MessagesStorage) GetDelivery(ctx context.Context, messageID, userID int64) (*models.MessageDelivery, error) {
	query, args, err := sq.Select("*").
		From("message_deliveries").
		Where(sq.Eq{"message_id": messageID, "user_id": userID}).
		PlaceholderFormat(sq.Dollar).
		ToSql()

	if err != nil {
		return nil, err
	}

	delivery := models.MessageDelivery{}
	err = s.db.GetContext(ctx, &delivery, query, args...)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMessageNotFound
	} else if err != nil {
		return nil, err
	}
	return &delivery, nil
}

// UndeliveredSelector matches live messages whose delivery to userID is still
// "sent", in active rooms userID still belongs to.
func UndeliveredSelector(userID int64) sq.Sqlizer {
	return sq.And{
		sq.Expr("m.id IN (SELECT message_id FROM message_deliveries WHERE user_id = ? AND status = ?)",
			userID, models.DeliverySent),
		sq.Eq{"m.is_deleted": false},
		sq.Expr("EXISTS (SELECT 1 FROM chat_rooms cr WHERE cr.id = m.chat_room_id AND cr.is_active)"),
		sq.Expr("EXISTS (SELECT 1 FROM chat_room_members crm WHERE crm.chat_room_id = m.chat_room_id AND crm.user_id = ?)",
			userID),
	}
}

func (s *MessagesStorage) CountUndelivered(ctx context.Context, userID int64) (int64, error) {
	query, args, err := sq.Select("COUNT(*)").
		From("messages m").
		Where(UndeliveredSelector(userID)).
		PlaceholderFormat(sq.Dollar).
		ToSql()

	if err != nil {
		return 0, err
	}

	var count int64
	err = s.db.GetContext(ctx, &count, query, args...)
	return count, err
}

func (s *MessagesStorage) CountUnread(ctx context.Context, roomID, userID int64) (int64, error) {
	query, args, err := sq.Select("COUNT(*)").
		From("messages m").
		Join("chat_room_members crm ON crm.chat_room_id = m.chat_room_id AND crm.user_id = ?", userID).
		Where(sq.Eq{"m.chat_room_id": roomID, "m.is_deleted": false}).
		Where("m.created_at > crm.last_read_at").
		Where("(m.sender_id IS NULL OR m.sender_id <> crm.user_id)").
		PlaceholderFormat(sq.Dollar).
		ToSql()

	if err != nil {
		return 0, err
	}

	var count int64
	err = s.db.GetContext(ctx, &count, query, args...)
	return count, err
}

// AddReaction returns false when the same user already applied the same reaction.
func (s *MessagesStorage) AddReaction(ctx context.Context, reaction *models.MessageReaction) (*models.MessageReaction, bool, error) {
	query, args, err := sq.Insert("message_reactions").
		Columns("message_id", "user_id", "reaction", "created_at").
		Values(reaction.MessageID, reaction.UserID, reaction.Reaction, reaction.CreatedAt).
		Suffix("ON CONFLICT (message_id, user_id, reaction) DO NOTHING RETURNING *").
		PlaceholderFormat(sq.Dollar).
		ToSql()

	if err != nil {
		return nil, false, err
	}

	created := models.MessageReaction{}
	err = s.db.GetContext(ctx, &created, query, args...)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	} else if GetPgxConstraintName(err) == ReactionsMessageForeignKey {
		return nil, false, ErrMessageNotFound
	} else if err != nil {
		return nil, false, err
	}
	return &created, true, nil
}

func (s *MessagesStorage) RemoveReaction(ctx context.Context, messageID, userID int64, reaction string) (bool, error) {
	count, err := execAffected(ctx, s.db, sq.Delete("message_reactions").
		Where(sq.Eq{"message_id": messageID, "user_id": userID, "reaction": reaction}))
	return count > 0, err
}

func (s *MessagesStorage) ListReactions(ctx context.Context, messageIDs []int64) (map[int64][]models.MessageReaction, error) {
	result := make(map[int64][]models.MessageReaction)
	if len(messageIDs) == 0 {
		return result, nil
	}

	query, args, err := sq.Select("*").
		From("message_reactions").
		Where(sq.Eq{"message_id": messageIDs}).
		OrderBy("created_at", "id").
		PlaceholderFormat(sq.Dollar).
		ToSql()

	if err != nil {
		return nil, err
	}

	reactions := make([]models.MessageReaction, 0)
	if err = s.db.SelectContext(ctx, &reactions, query, args...); err != nil {
		return nil, err
	}

	for _, r := range reactions {
		result[r.MessageID] = append(result[r.MessageID], r)
	}
	return result, nil
}
