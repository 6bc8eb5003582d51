package party

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// ErrConnClosed reports a Send on a connection already torn down.
var ErrConnClosed = errors.New("connection closed")

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// Screen-share negotiation blobs dominate inbound frame size.
	maxMessageSize = 16 * 1024
)

// wsConn adapts one gorilla websocket to the Conn interface. The read
// pump is the only reader of the socket and the write pump the only
// writer; Close may be called from anywhere.
type wsConn struct {
	id     string
	userID string
	role   Role

	sock     *websocket.Conn
	room     *Room
	presence *PresenceStore
	metrics  *Metrics

	send    chan *Message
	closing chan struct{}
	once    sync.Once
}

func newWSConn(id, userID string, role Role, sock *websocket.Conn, room *Room, presence *PresenceStore, metrics *Metrics, sendQueue int) *wsConn {
	if sendQueue < 1 {
		sendQueue = 1
	}
	return &wsConn{
		id:       id,
		userID:   userID,
		role:     role,
		sock:     sock,
		room:     room,
		presence: presence,
		metrics:  metrics,
		send:     make(chan *Message, sendQueue),
		closing:  make(chan struct{}),
	}
}

func (c *wsConn) ID() string         { return c.id }
func (c *wsConn) UserID() string     { return c.userID }
func (c *wsConn) Role() Role         { return c.role }
func (c *wsConn) RemoteAddr() string { return c.sock.RemoteAddr().String() }

// Send queues a message for the write pump without blocking.
func (c *wsConn) Send(m *Message) error {
	select {
	case c.send <- m:
		return nil
	case <-c.closing:
		return ErrConnClosed
	default:
		return ErrSlowConn
	}
}

// Close tears the connection down. The socket close also unblocks the
// read pump.
func (c *wsConn) Close(reason string) {
	c.once.Do(func() {
		close(c.closing)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
		c.sock.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		c.sock.Close()
	})
}

func (c *wsConn) readPump() {
	defer func() {
		c.room.EnqueueLeave(c, "disconnect")
		c.Close("read loop exited")
		c.metrics.DecrementConnections()
	}()

	c.sock.SetReadLimit(maxMessageSize)
	c.sock.SetReadDeadline(time.Now().Add(pongWait))
	c.sock.SetPongHandler(func(string) error {
		c.sock.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.sock.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Debug().Err(err).Str("module", "party.conn").Str("conn", c.id).Msg("connection closed unexpectedly")
			}
			return
		}
		c.sock.SetReadDeadline(time.Now().Add(pongWait))
		c.presence.Touch(c.id)
		c.metrics.IncrementMessagesReceived()

		var msg Message
		if err := Deserialise(data, &msg); err != nil {
			if errors.Is(err, ErrUnknownType) {
				log.Warn().Str("module", "party.conn").Str("conn", c.id).Str("user", c.userID).Err(err).Msg("message dropped")
				continue
			}
			_ = c.Send(wireError(errValidation("malformed envelope")))
			continue
		}
		msg.Sender = c.userID
		msg.ConnID = c.id

		switch msg.Type {
		case MessageTypeHeartbeat:
			// Liveness already recorded by the Touch above.
		case MessageTypePing:
			_ = c.Send(pongFor(&msg, msg.Payload.(*PingPayload)))
		default:
			if !c.room.EnqueueMessage(c, &msg) {
				return
			}
		}
	}
}

func (c *wsConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close("write loop exited")
	}()

	for {
		select {
		case m := <-c.send:
			if m.Type == MessageTypePong {
				if p, ok := m.Payload.(*PongPayload); ok {
					p.SvcTime = time.Since(m.ReceivedAt).Seconds()
				}
			}
			b, err := m.Serialise()
			if err != nil {
				log.Error().Err(err).Str("module", "party.conn").Str("conn", c.id).Msg("message serialisation failed")
				continue
			}
			c.sock.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.sock.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		case <-ticker.C:
			c.sock.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.sock.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.closing:
			return
		}
	}
}
