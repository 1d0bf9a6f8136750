package gateway

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/practice-sem-2/quartier-chat-service/internal/config"
	"github.com/practice-sem-2/quartier-chat-service/internal/models"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Client is one authenticated WebSocket connection. Reads happen on the
// handler goroutine, writes on writePump; everything else talks to the
// connection through the send buffer.
type Client struct {
	id   string
	user *models.User
	conn *websocket.Conn
	cfg  config.WSConfig

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	// guarded by Hub.mu
	rooms map[int64]struct{}

	limiter *rate.Limiter
	logger  logrus.FieldLogger
}

func newClient(conn *websocket.Conn, user *models.User, cfg config.WSConfig, logger logrus.FieldLogger) *Client {
	limit := rate.Inf
	if cfg.CommandsPerSecond > 0 {
		limit = rate.Limit(cfg.CommandsPerSecond)
	}
	buffer := cfg.SendBuffer
	if buffer <= 0 {
		buffer = 1
	}

	id := uuid.NewString()
	return &Client{
		id:      id,
		user:    user,
		conn:    conn,
		cfg:     cfg,
		send:    make(chan []byte, buffer),
		done:    make(chan struct{}),
		rooms:   map[int64]struct{}{},
		limiter: rate.NewLimiter(limit, cfg.CommandsPerSecond),
		logger: logger.
			WithField("socket_id", id).
			WithField("user_id", user.ID),
	}
}

func (c *Client) ID() string {
	return c.id
}

func (c *Client) User() *models.User {
	return c.user
}

// Close asks writePump to close the connection. It is safe to call many times.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

func (c *Client) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// trySend queues data without blocking and reports false when the buffer is full.
func (c *Client) trySend(data []byte) bool {
	if c.closed() {
		return true
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// Send queues an event addressed to this connection only.
func (c *Client) Send(event models.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		c.logger.
			WithError(err).
			WithField("event", event.Type).
			Error("can't encode event")
		return
	}
	if !c.trySend(data) {
		c.logger.Warn("send buffer is full, closing connection")
		c.Close()
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(c.cfg.WriteWait))
			return
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.WithError(err).Debug("write failed")
				c.Close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		}
	}
}

// readPump blocks until the peer goes away or stays silent longer than PongWait.
func (c *Client) readPump(onFrame func([]byte), onPong func()) {
	c.conn.SetReadLimit(c.cfg.MaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		onPong()
		return c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.WithError(err).Info("connection closed unexpectedly")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
		onFrame(data)
	}
}
