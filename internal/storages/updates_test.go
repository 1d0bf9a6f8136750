package storage

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/Shopify/sarama"
	"github.com/Shopify/sarama/mocks"
	"github.com/practice-sem-2/quartier-chat-service/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdatesStorage_MessageSent(t *testing.T) {
	producer := mocks.NewSyncProducer(t, sarama.NewConfig())
	defer func() {
		require.NoError(t, producer.Close())
	}()

	update := models.MessageSent{
		UpdateMeta: models.UpdateMeta{
			Timestamp: time.Now().UTC(),
			Audience:  []int64{3, 34},
		},
		Message: models.HydratedMessage{ID: 7, ChatRoomID: 12, Content: "Hello"},
	}

	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var got struct {
			Type    string             `json:"type"`
			Payload models.MessageSent `json:"payload"`
		}
		if err := json.Unmarshal(val, &got); err != nil {
			return err
		}
		if got.Type != UpdateMessageSent {
			return errors.New("unexpected update type " + got.Type)
		}
		if got.Payload.Message.ID != 7 || got.Payload.Message.Content != "Hello" {
			return errors.New("unexpected payload")
		}
		return nil
	})

	store := NewUpdatesStore(producer, &UpdatesStoreConfig{UpdatesTopic: "test"})
	assert.NoError(t, store.MessageSent(&update), "event should be pushed without error")
}

func TestUpdatesStorage_MemberRemoved_ProducerFailure(t *testing.T) {
	producer := mocks.NewSyncProducer(t, sarama.NewConfig())
	defer func() {
		require.NoError(t, producer.Close())
	}()

	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	store := NewUpdatesStore(producer, &UpdatesStoreConfig{UpdatesTopic: "test"})
	err := store.MemberRemoved(&models.MemberRemoved{ChatRoomID: 1, UserID: 2})
	assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)
}

func TestUpdatesStorage_DisabledWithoutProducer(t *testing.T) {
	store := NewUpdatesStore(nil, nil)
	assert.NoError(t, store.RoomCreated(&models.RoomCreated{Room: models.ChatRoom{ID: 1}}))
}
