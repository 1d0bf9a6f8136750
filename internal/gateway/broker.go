package gateway

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/practice-sem-2/quartier-chat-service/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Envelope is what travels between gateway instances: either an encoded event
// for an audience or a request to drop room subscriptions.
type Envelope struct {
	Audience models.Audience `json:"audience"`
	Event    string          `json:"event,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
	Detach   *Detachment     `json:"detach,omitempty"`
	// MessageID is set for message_received so that receiving instances can
	// record the delivery.
	MessageID int64 `json:"message_id,omitempty"`
}

type Detachment struct {
	RoomID  int64   `json:"room_id"`
	UserIDs []int64 `json:"user_ids"`
}

type Handler func(Envelope)

// Broker moves envelopes to every gateway instance, the publishing one included.
type Broker interface {
	Publish(ctx context.Context, env Envelope) error
	// Subscribe starts delivering envelopes to handler until ctx is done.
	Subscribe(ctx context.Context, handler Handler) error
}

// LocalBroker serves a single instance deployment.
type LocalBroker struct {
	mu       sync.RWMutex
	handlers []Handler
}

func NewLocalBroker() *LocalBroker {
	return &LocalBroker{}
}

func (b *LocalBroker) Publish(_ context.Context, env Envelope) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, h := range b.handlers {
		h(env)
	}
	return nil
}

func (b *LocalBroker) Subscribe(ctx context.Context, handler Handler) error {
	b.mu.Lock()
	b.handlers = append(b.handlers, handler)
	idx := len(b.handlers) - 1
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		b.handlers[idx] = func(Envelope) {}
		b.mu.Unlock()
	}()
	return nil
}

// RedisBroker fans envelopes out through a Redis Pub/Sub channel shared by
// all gateway instances.
type RedisBroker struct {
	rdb     *redis.Client
	channel string
	logger  logrus.FieldLogger
}

func NewRedisBroker(rdb *redis.Client, prefix string, logger logrus.FieldLogger) *RedisBroker {
	return &RedisBroker{
		rdb:     rdb,
		channel: prefix + ":events",
		logger:  logger,
	}
}

func (b *RedisBroker) Publish(ctx context.Context, env Envelope) error {
	bytes, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, b.channel, bytes).Err()
}

func (b *RedisBroker) Subscribe(ctx context.Context, handler Handler) error {
	sub := b.rdb.Subscribe(ctx, b.channel)
	// the first reply confirms the subscription
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return err
	}

	go func() {
		defer sub.Close()
		messages := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				var env Envelope
				if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
					b.logger.
						WithError(err).
						WithField("channel", msg.Channel).
						Warn("skipping malformed envelope")
					continue
				}
				handler(env)
			}
		}
	}()
	return nil
}
