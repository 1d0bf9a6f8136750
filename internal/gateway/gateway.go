package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/practice-sem-2/quartier-chat-service/internal/auth"
	"github.com/practice-sem-2/quartier-chat-service/internal/config"
	"github.com/practice-sem-2/quartier-chat-service/internal/models"
	"github.com/practice-sem-2/quartier-chat-service/internal/usecases"
	"github.com/sirupsen/logrus"
)

const disconnectTimeout = 5 * time.Second

type RoomsService interface {
	GetRoom(ctx context.Context, user *models.User, roomID int64) (*models.RoomDetail, error)
}

type MessagesService interface {
	Send(ctx context.Context, sender *models.User, message models.MessageSend) (*models.HydratedMessage, error)
	Edit(ctx context.Context, editor *models.User, messageID int64, content string) (*models.HydratedMessage, error)
	Delete(ctx context.Context, requester *models.User, messageID int64) (*models.HydratedMessage, error)
	AddReaction(ctx context.Context, user *models.User, messageID int64, reaction string) (bool, error)
	RemoveReaction(ctx context.Context, user *models.User, messageID int64, reaction string) (bool, error)
	MessageRoom(ctx context.Context, user *models.User, messageID int64) (int64, error)
	MarkRead(ctx context.Context, user *models.User, roomID *int64, messageIDs []int64) (int64, error)
	UndeliveredCount(ctx context.Context, user *models.User) (int64, error)
}

type PresenceService interface {
	Connect(ctx context.Context, user *models.User, socketID string) (*models.UserPresence, error)
	Disconnect(ctx context.Context, user *models.User, socketID, fallbackSocketID string, rooms []int64) error
	UpdateStatus(ctx context.Context, user *models.User, status models.PresenceStatus) (*models.UserPresence, error)
	Touch(ctx context.Context, user *models.User) error
	StartTyping(ctx context.Context, user *models.User, roomID int64) error
	StopTyping(ctx context.Context, user *models.User, roomID int64) error
	TypingUsers(ctx context.Context, user *models.User, roomID int64) ([]models.TypingIndicator, error)
}

// Gateway upgrades authenticated requests to WebSocket connections and runs
// their commands.
type Gateway struct {
	hub      *Hub
	verifier auth.Verifier
	rooms    RoomsService
	messages MessagesService
	presence PresenceService

	cfg      config.WSConfig
	upgrader websocket.Upgrader
	validate *usecases.Validator
	handlers map[string]commandFunc
	metrics  *Metrics
	logger   logrus.FieldLogger
}

func NewGateway(
	hub *Hub,
	verifier auth.Verifier,
	rooms RoomsService,
	messages MessagesService,
	presence PresenceService,
	cfg config.WSConfig,
	metrics *Metrics,
	logger logrus.FieldLogger,
) *Gateway {
	g := &Gateway{
		hub:      hub,
		verifier: verifier,
		rooms:    rooms,
		messages: messages,
		presence: presence,
		cfg:      cfg,
		validate: usecases.NewValidator(),
		metrics:  metrics,
		logger:   logger,
	}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(cfg.AllowedOrigins),
	}
	g.handlers = g.commands()
	return g
}

// originChecker accepts any origin when allowed is empty.
func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		set[origin] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	user, err := g.verifier.Verify(auth.TokenFromRequest(r))
	if err != nil {
		g.logger.WithError(err).Debug("rejecting websocket connection")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader has already replied
		g.logger.WithError(err).Warn("websocket upgrade failed")
		return
	}

	c := newClient(conn, user, g.cfg, g.logger)
	g.hub.Register(c)
	go c.writePump()

	ctx := context.Background()
	g.connected(ctx, c)
	c.readPump(
		func(raw []byte) { g.dispatch(ctx, c, raw) },
		func() {
			if err := g.presence.Touch(ctx, c.user); err != nil {
				c.logger.WithError(err).Warn("can't refresh presence")
			}
		},
	)
	c.Close()
	g.disconnected(c)
}

func (g *Gateway) connected(ctx context.Context, c *Client) {
	c.logger.Info("client connected")

	if _, err := g.presence.Connect(ctx, c.user, c.id); err != nil {
		c.logger.WithError(err).Error("can't mark user online")
	}

	count, err := g.messages.UndeliveredCount(ctx, c.user)
	if err != nil {
		c.logger.WithError(err).Error("can't count undelivered messages")
		return
	}
	if count > 0 {
		c.Send(models.Event{
			Type:    models.EventUndeliveredNotification,
			Payload: models.UndeliveredPayload{Count: count},
		})
	}
}

func (g *Gateway) disconnected(c *Client) {
	rooms, fallback := g.hub.Unregister(c)

	ctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
	defer cancel()
	if err := g.presence.Disconnect(ctx, c.user, c.id, fallback, rooms); err != nil {
		c.logger.WithError(err).Error("can't release presence")
	}
	// the fallback may have gone away while presence was handed to it
	if fallback != "" && !g.hub.IsRegistered(fallback) {
		if err := g.presence.Disconnect(ctx, c.user, fallback, "", nil); err != nil {
			c.logger.WithError(err).Error("can't release presence")
		}
	}
	c.logger.
		WithField("rooms", len(rooms)).
		Info("client disconnected")
}

// Shutdown closes every connection of this instance.
func (g *Gateway) Shutdown() {
	g.hub.CloseAll()
}
