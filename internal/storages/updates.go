package storage

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/Shopify/sarama"
	"github.com/practice-sem-2/quartier-chat-service/internal/models"
)

const (
	UpdateRoomCreated    = "room_created"
	UpdateMessageSent    = "message_sent"
	UpdateMessageEdited  = "message_edited"
	UpdateMessageDeleted = "message_deleted"
	UpdateMemberAdded    = "member_added"
	UpdateMemberRemoved  = "member_removed"
)

// Update is the envelope written to the updates topic.
type Update struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

type UpdatesStorage struct {
	cfg      *UpdatesStoreConfig
	producer sarama.SyncProducer
}

type UpdatesStoreConfig struct {
	UpdatesTopic string
}

func NewUpdatesStore(p sarama.SyncProducer, cfg *UpdatesStoreConfig) *UpdatesStorage {
	return &UpdatesStorage{
		producer: p,
		cfg:      cfg,
	}
}

func (s *UpdatesStorage) putUpdate(roomID int64, ts time.Time, update *Update) error {
	if s.producer == nil || s.cfg == nil {
		return nil
	}

	bytes, err := json.Marshal(update)
	if err != nil {
		return err
	}

	_, _, err = s.producer.SendMessage(&sarama.ProducerMessage{
		Topic:     s.cfg.UpdatesTopic,
		Key:       sarama.StringEncoder(strconv.FormatInt(roomID, 10)),
		Value:     sarama.ByteEncoder(bytes),
		Timestamp: ts,
	})

	return err
}

func (s *UpdatesStorage) RoomCreated(room *models.RoomCreated) error {
	return s.putUpdate(room.Room.ID, room.Timestamp, &Update{Type: UpdateRoomCreated, Payload: room})
}

func (s *UpdatesStorage) MessageSent(msg *models.MessageSent) error {
	return s.putUpdate(msg.Message.ChatRoomID, msg.Timestamp, &Update{Type: UpdateMessageSent, Payload: msg})
}

func (s *UpdatesStorage) MessageEdited(msg *models.MessageEdited) error {
	return s.putUpdate(msg.Message.ChatRoomID, msg.Timestamp, &Update{Type: UpdateMessageEdited, Payload: msg})
}

func (s *UpdatesStorage) MessageDeleted(msg *models.MessageDeleted) error {
	return s.putUpdate(msg.ChatRoomID, msg.Timestamp, &Update{Type: UpdateMessageDeleted, Payload: msg})
}

func (s *UpdatesStorage) MemberAdded(member *models.MemberAdded) error {
	return s.putUpdate(member.ChatRoomID, member.Timestamp, &Update{Type: UpdateMemberAdded, Payload: member})
}

func (s *UpdatesStorage) MemberRemoved(member *models.MemberRemoved) error {
	return s.putUpdate(member.ChatRoomID, member.Timestamp, &Update{Type: UpdateMemberRemoved, Payload: member})
}
