package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/practice-sem-2/quartier-chat-service/internal/models"
	"github.com/practice-sem-2/quartier-chat-service/internal/usecases"
	"github.com/sirupsen/logrus"
)

const (
	publishTimeout = 2 * time.Second
	receiptTimeout = 5 * time.Second
	outboxSize     = 1024
	receiptsSize   = 1024
)

var _ usecases.Notifier = (*Hub)(nil)

type clientSet map[string]*Client

// DeliveryRecorder is told which users had a message written to one of their
// connections.
type DeliveryRecorder interface {
	MarkDelivered(ctx context.Context, messageID int64, userIDs []int64) (int64, error)
}

type receipt struct {
	messageID int64
	userIDs   []int64
}

// Hub indexes the live connections of this instance by user, room and
// quartier. It implements usecases.Notifier: events go through the broker and
// come back to every instance's hub for local delivery.
type Hub struct {
	mu         sync.RWMutex
	clients    clientSet
	byUser     map[int64]clientSet
	byRoom     map[int64]clientSet
	byQuartier map[int64]clientSet

	broker         Broker
	outbox         chan Envelope
	publishTimeout time.Duration

	recorder DeliveryRecorder
	receipts chan receipt

	metrics *Metrics
	logger  logrus.FieldLogger
}

func NewHub(broker Broker, metrics *Metrics, logger logrus.FieldLogger) *Hub {
	return &Hub{
		clients:        clientSet{},
		byUser:         map[int64]clientSet{},
		byRoom:         map[int64]clientSet{},
		byQuartier:     map[int64]clientSet{},
		broker:         broker,
		outbox:         make(chan Envelope, outboxSize),
		publishTimeout: publishTimeout,
		receipts:       make(chan receipt, receiptsSize),
		metrics:        metrics,
		logger:         logger,
	}
}

// RecordDeliveries makes the hub report message_received events written to
// local connections. It must be called before Run.
func (h *Hub) RecordDeliveries(recorder DeliveryRecorder) {
	h.recorder = recorder
}

// Run subscribes the hub to the broker and starts the publishing loop.
// Delivery stops when ctx is done.
func (h *Hub) Run(ctx context.Context) error {
	if err := h.broker.Subscribe(ctx, h.handle); err != nil {
		return err
	}
	go h.drainOutbox(ctx)
	if h.recorder != nil {
		go h.drainReceipts(ctx)
	}
	return nil
}

func index(m map[int64]clientSet, key int64, c *Client) {
	set, ok := m[key]
	if !ok {
		set = clientSet{}
		m[key] = set
	}
	set[c.id] = c
}

func unindex(m map[int64]clientSet, key int64, c *Client) {
	if set, ok := m[key]; ok {
		delete(set, c.id)
		if len(set) == 0 {
			delete(m, key)
		}
	}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[c.id] = c
	index(h.byUser, c.user.ID, c)
	index(h.byQuartier, c.user.QuartierID, c)
	h.metrics.Connections.Inc()
}

// Unregister forgets c and returns the rooms it was subscribed to together
// with another live connection of the same user, if any.
func (h *Hub) Unregister(c *Client) (rooms []int64, fallbackSocketID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c.id]; !ok {
		return nil, ""
	}
	delete(h.clients, c.id)
	unindex(h.byUser, c.user.ID, c)
	unindex(h.byQuartier, c.user.QuartierID, c)
	for roomID := range c.rooms {
		unindex(h.byRoom, roomID, c)
		rooms = append(rooms, roomID)
	}
	c.rooms = map[int64]struct{}{}
	h.metrics.Connections.Dec()

	for id, other := range h.byUser[c.user.ID] {
		if !other.closed() {
			fallbackSocketID = id
			break
		}
	}
	return rooms, fallbackSocketID
}

// IsRegistered reports whether socketID is still a connection of this hub.
func (h *Hub) IsRegistered(socketID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	_, ok := h.clients[socketID]
	return ok
}

func (h *Hub) Subscribe(c *Client, roomID int64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c.id]; !ok {
		return
	}
	c.rooms[roomID] = struct{}{}
	index(h.byRoom, roomID, c)
}

// Unsubscribe reports whether c was subscribed to roomID.
func (h *Hub) Unsubscribe(c *Client, roomID int64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := c.rooms[roomID]; !ok {
		return false
	}
	delete(c.rooms, roomID)
	unindex(h.byRoom, roomID, c)
	return true
}

func (h *Hub) IsSubscribed(c *Client, roomID int64) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	_, ok := c.rooms[roomID]
	return ok
}

// Notify encodes event once and queues it for the broker. It never blocks on
// the broker or on connections; when the broker is unavailable or the queue is
// full the event still reaches the connections of this instance.
func (h *Hub) Notify(audience models.Audience, event models.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.
			WithError(err).
			WithField("event", event.Type).
			Error("can't encode event")
		return
	}

	env := Envelope{Audience: audience, Event: event.Type, Data: data}
	if payload, ok := event.Payload.(models.MessagePayload); ok &&
		event.Type == models.EventMessageReceived && payload.Message != nil {
		env.MessageID = payload.Message.ID
	}
	h.publish(env)
}

// Detach drops the room subscriptions of users on every instance.
func (h *Hub) Detach(roomID int64, userIDs ...int64) {
	h.publish(Envelope{Detach: &Detachment{RoomID: roomID, UserIDs: userIDs}})
}

func (h *Hub) publish(env Envelope) {
	select {
	case h.outbox <- env:
	default:
		h.metrics.OutboxOverflow.Inc()
		h.logger.
			WithField("event", env.Event).
			Warn("broker outbox is full, delivering locally")
		h.handle(env)
	}
}

func (h *Hub) drainOutbox(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-h.outbox:
			h.forward(ctx, env)
		}
	}
}

func (h *Hub) forward(ctx context.Context, env Envelope) {
	ctx, cancel := context.WithTimeout(ctx, h.publishTimeout)
	defer cancel()

	if err := h.broker.Publish(ctx, env); err != nil {
		h.metrics.BrokerFailure.Inc()
		h.logger.
			WithError(err).
			WithField("event", env.Event).
			Warn("broker publish failed, delivering locally")
		h.handle(env)
	}
}

func (h *Hub) handle(env Envelope) {
	if env.Detach != nil {
		h.detachLocal(env.Detach.RoomID, env.Detach.UserIDs)
		return
	}
	h.Deliver(env)
}

func (h *Hub) detachLocal(roomID int64, userIDs []int64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, userID := range userIDs {
		for _, c := range h.byUser[userID] {
			if _, ok := c.rooms[roomID]; ok {
				delete(c.rooms, roomID)
				unindex(h.byRoom, roomID, c)
			}
		}
	}
}

func (h *Hub) targets(audience models.Audience) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()

	seen := map[string]*Client{}
	collect := func(set clientSet) {
		for id, c := range set {
			if c.user.ID != audience.ExcludeUserID {
				seen[id] = c
			}
		}
	}

	if audience.RoomID != 0 {
		collect(h.byRoom[audience.RoomID])
	}
	for _, userID := range audience.UserIDs {
		collect(h.byUser[userID])
	}
	if audience.QuartierID != 0 {
		collect(h.byQuartier[audience.QuartierID])
	}

	out := make([]*Client, 0, len(seen))
	for _, c := range seen {
		out = append(out, c)
	}
	return out
}

// Deliver writes an encoded event to the matching connections of this
// instance. Peers whose send buffer is full are disconnected.
func (h *Hub) Deliver(env Envelope) {
	reached := map[int64]struct{}{}
	for _, c := range h.targets(env.Audience) {
		if c.closed() {
			continue
		}
		if c.trySend(env.Data) {
			h.metrics.Broadcasts.WithLabelValues(env.Event).Inc()
			reached[c.user.ID] = struct{}{}
			continue
		}
		h.metrics.DroppedPeers.Inc()
		h.logger.
			WithField("socket_id", c.id).
			WithField("user_id", c.user.ID).
			Warn("dropping slow peer")
		c.Close()
	}

	if env.MessageID != 0 && len(reached) > 0 && h.recorder != nil {
		userIDs := make([]int64, 0, len(reached))
		for userID := range reached {
			userIDs = append(userIDs, userID)
		}
		h.recordDelivery(receipt{messageID: env.MessageID, userIDs: userIDs})
	}
}

// recordDelivery never blocks; a dropped receipt leaves the deliveries
// pending, so they are reported again by the undelivered endpoint.
func (h *Hub) recordDelivery(r receipt) {
	select {
	case h.receipts <- r:
	default:
		h.metrics.ReceiptsDropped.Inc()
		h.logger.
			WithField("message_id", r.messageID).
			Warn("delivery receipts queue is full")
	}
}

func (h *Hub) drainReceipts(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case r := <-h.receipts:
			h.storeReceipt(ctx, r)
		}
	}
}

func (h *Hub) storeReceipt(ctx context.Context, r receipt) {
	ctx, cancel := context.WithTimeout(ctx, receiptTimeout)
	defer cancel()

	if _, err := h.recorder.MarkDelivered(ctx, r.messageID, r.userIDs); err != nil {
		h.logger.
			WithError(err).
			WithField("message_id", r.messageID).
			Error("can't record message delivery")
	}
}

// CloseAll disconnects every connection, it is used on shutdown.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.Close()
	}
}

// Len returns the number of connections of this instance.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
