package ws

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/beaconhq/beacon/internal/hub"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8 * 1024
)

// ErrSendTimeout is returned when a connection's outbound buffer stays full
// past the bounded send budget.
var ErrSendTimeout = errors.New("send timed out")

// ErrClosed is returned when sending to a connection that is shutting down.
var ErrClosed = errors.New("connection closed")

// Client is one websocket connection. It implements hub.Conn: sends are
// buffered and bounded so a slow reader can never block a dispatch.
type Client struct {
	id          string
	userID      uuid.UUID
	conn        *websocket.Conn
	outbound    chan hub.Event
	done        chan struct{}
	closeOnce   sync.Once
	sendTimeout time.Duration
	logger      *zap.Logger
}

func newClient(conn *websocket.Conn, userID uuid.UUID, sendTimeout time.Duration, logger *zap.Logger) *Client {
	id := uuid.New().String()
	return &Client{
		id:          id,
		userID:      userID,
		conn:        conn,
		outbound:    make(chan hub.Event, 32),
		done:        make(chan struct{}),
		sendTimeout: sendTimeout,
		logger:      logger.With(zap.String("connection_id", id), zap.String("user_id", userID.String())),
	}
}

// ID returns the connection id.
func (c *Client) ID() string { return c.id }

// UserID returns the owning user.
func (c *Client) UserID() uuid.UUID { return c.userID }

// Send queues an event for delivery. It fails, rather than blocks, when the
// buffer stays full past the send budget or the connection is closing.
func (c *Client) Send(ev hub.Event) error {
	timer := time.NewTimer(c.sendTimeout)
	defer timer.Stop()

	select {
	case c.outbound <- ev:
		return nil
	case <-c.done:
		return ErrClosed
	case <-timer.C:
		return ErrSendTimeout
	}
}

// Close tears the connection down. Safe to call more than once.
func (c *Client) Close() {
	c.close()
}

// close signals both pumps to stop. Safe to call more than once.
func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// writePump drains outbound events onto the wire and keeps the connection
// alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case ev := <-c.outbound:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(ev); err != nil {
				c.logger.Debug("write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// clientMessage is the inbound envelope.
type clientMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// readPump reads client events until the connection dies, handing each to
// handle. It owns the connection's read side.
func (c *Client) readPump(handle func(*Client, clientMessage)) {
	defer c.close()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg clientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("unexpected close", zap.Error(err))
			}
			return
		}
		handle(c, msg)
	}
}
