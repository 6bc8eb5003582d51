package party

import (
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	dialHandshakeTimeout = 45 * time.Second
	dialWriteWait        = 5 * time.Second
	dialPingPeriod       = 1 * time.Second
)

// Client is a headless watch party client for load generation and
// integration testing.
type Client struct {
	conn    *websocket.Conn
	stop    chan bool
	stopped chan bool

	mu       sync.Mutex
	party    *PartyStatePayload
	playback *VideoStatePayload
	latency  time.Duration
}

// deserialiseServer decodes the server frames the headless client
// consumes. Unhandled types keep a nil payload.
func deserialiseServer(data []byte, m *Message) error {
	var rm receivedMessage
	if err := json.Unmarshal(data, &rm); err != nil {
		return err
	}
	m.ReceivedAt = time.Now()
	m.Type = rm.Type
	m.ClientTimestamp = rm.ClientTimestamp

	var err error
	switch m.Type {
	case MessageTypePartyState:
		var p PartyStatePayload
		err = decodePayload(rm.Payload, &p)
		m.Payload = &p
	case MessageTypeVideoStateUpdate:
		var p VideoStatePayload
		err = decodePayload(rm.Payload, &p)
		m.Payload = &p
	case MessageTypePong:
		var p PongPayload
		err = decodePayload(rm.Payload, &p)
		m.Payload = &p
	}
	return err
}

// Connect dials a party endpoint with the given identity and waits for
// the initial state snapshot.
func Connect(dialer *websocket.Dialer, addr string, partyID string, userID string, role string) (*Client, error) {
	if dialer == nil {
		dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: dialHandshakeTimeout,
			Subprotocols:     []string{WebsocketSubprotocol},
		}
	}
	u, err := url.Parse(addr)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("party", partyID)
	u.RawQuery = q.Encode()

	hdr := http.Header{}
	hdr.Set(HeaderAuthUser, userID)
	if role != "" {
		hdr.Set(HeaderAuthRole, role)
	}

	conn, _, err := dialer.Dial(u.String(), hdr)
	if err != nil {
		return nil, err
	}

	_, b, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return nil, err
	}

	var hello Message
	if err := deserialiseServer(b, &hello); err != nil || hello.Type != MessageTypePartyState {
		conn.WriteMessage(websocket.CloseMessage, []byte{})
		conn.Close()
		if err == nil {
			err = errValidation("expected party state, got %q", hello.Type)
		}
		return nil, err
	}

	c := &Client{
		conn:    conn,
		stop:    make(chan bool),
		stopped: make(chan bool),
	}
	if snap, ok := hello.Payload.(*PartyStatePayload); ok {
		c.party = snap
		c.playback = snap.Playback
	}
	return c, nil
}

// SendMessage writes one message with a bounded deadline.
func (c *Client) SendMessage(msg *Message) error {
	b, err := msg.Serialise()
	if err != nil {
		return err
	}
	c.conn.SetWriteDeadline(time.Now().Add(dialWriteWait))
	return c.conn.WriteMessage(websocket.TextMessage, b)
}

// ClientSendHeartbeat pings the server until the client is stopped.
// Any inbound data frame counts as liveness on the server side, so the
// ping doubles as the heartbeat and yields a latency estimate.
func (c *Client) ClientSendHeartbeat() {
	var ticker = time.NewTicker(dialPingPeriod)
	defer func() {
		ticker.Stop()
		close(c.stopped)
		c.conn.Close()
	}()
	for {
		select {
		case <-ticker.C:
			var ping PingPayload
			ping.Timestamp = float64(time.Now().UnixNano()) / 1000000000.0
			if err := c.SendMessage(&Message{
				Type:    MessageTypePing,
				Payload: &ping,
			}); err != nil {
				return
			}
		case <-c.stop:
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// ClientHandleRecv consumes server frames, tracking playback state and
// round-trip latency until the connection drops.
func (c *Client) ClientHandleRecv() {
	defer func() {
		c.conn.Close()
	}()
	for {
		_, b, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var m Message
		if err := deserialiseServer(b, &m); err != nil {
			continue
		}
		switch pl := m.Payload.(type) {
		case *PongPayload:
			now := float64(time.Now().UnixNano()) / 1000000000.0
			c.mu.Lock()
			c.latency = time.Duration((now - pl.Timestamp) / 2 * float64(time.Second))
			c.mu.Unlock()
		case *VideoStatePayload:
			c.mu.Lock()
			c.playback = pl
			c.mu.Unlock()
		case *PartyStatePayload:
			c.mu.Lock()
			c.party = pl
			c.playback = pl.Playback
			c.mu.Unlock()
		}
	}
}

// Stop asks the send loop to close the connection.
func (c *Client) Stop() {
	close(c.stop)
	<-c.stopped
}

// Latency returns the last estimated one-way latency.
func (c *Client) Latency() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.latency
}

// Playback returns the last playback snapshot seen.
func (c *Client) Playback() *VideoStatePayload {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playback
}

// PartyState returns the last full party snapshot seen.
func (c *Client) PartyState() *PartyStatePayload {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.party
}
