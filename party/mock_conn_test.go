package party

import (
	"sync"
	"time"
)

// mockConn implements Conn with an in-memory inbox. Setting full makes
// every Send fail with ErrSlowConn, mimicking a saturated write buffer.
type mockConn struct {
	id     string
	userID string
	role   Role

	mu          sync.Mutex
	inbox       []*Message
	full        bool
	closed      bool
	closeReason string
}

func newMockConn(id, userID string, role Role) *mockConn {
	return &mockConn{id: id, userID: userID, role: role}
}

func (c *mockConn) ID() string         { return c.id }
func (c *mockConn) UserID() string     { return c.userID }
func (c *mockConn) Role() Role         { return c.role }
func (c *mockConn) RemoteAddr() string { return "mock:" + c.id }

func (c *mockConn) Send(m *Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnClosed
	}
	if c.full {
		return ErrSlowConn
	}
	c.inbox = append(c.inbox, m)
	return nil
}

func (c *mockConn) Close(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.closeReason = reason
}

func (c *mockConn) isClosed() (bool, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed, c.closeReason
}

// received returns a snapshot of everything sent to the connection.
func (c *mockConn) received() []*Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Message, len(c.inbox))
	copy(out, c.inbox)
	return out
}

// lastOfType returns the most recent message of the given type, or nil.
func (c *mockConn) lastOfType(t MessageType) *Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.inbox) - 1; i >= 0; i-- {
		if c.inbox[i].Type == t {
			return c.inbox[i]
		}
	}
	return nil
}

func (c *mockConn) countOfType(t MessageType) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, m := range c.inbox {
		if m.Type == t {
			n++
		}
	}
	return n
}

func (c *mockConn) clearInbox() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inbox = nil
}

// testOptions returns engine tuning with timers too long to fire during
// a test, so every transition observed is one the test drove itself.
func testOptions() Options {
	opts := DefaultOptions()
	opts.SyncInterval = time.Hour
	opts.SweepInterval = time.Hour
	opts.HeartbeatTimeout = time.Hour
	opts.GracePeriod = time.Hour
	return opts
}

// newTestRoom builds a room whose manager is not running; tests drive it
// synchronously through dispatch.
func newTestRoom(opts Options) *Room {
	presence := NewPresenceStore()
	metrics := NewMetrics()
	fanout := NewFanout(presence, nil, metrics)
	return NewRoom("p1", opts, presence, fanout, metrics)
}

// joinAt registers the connection and dispatches its join at the given
// instant.
func joinAt(r *Room, c *mockConn, at time.Time) {
	r.presence.Register(r.ID, c)
	r.dispatch(&event{kind: evJoin, conn: c, at: at})
}

// sendAt dispatches a client message carrying the given payload at the
// given instant.
func sendAt(r *Room, c *mockConn, typ MessageType, payload any, at time.Time) {
	r.dispatch(&event{
		kind: evMessage,
		conn: c,
		at:   at,
		msg: &Message{
			Sender:     c.userID,
			ConnID:     c.id,
			ReceivedAt: at,
			Type:       typ,
			Payload:    payload,
		},
	})
}

func sweepAt(r *Room, at time.Time) {
	r.dispatch(&event{kind: evSweep, at: at})
}

func leaveAt(r *Room, c *mockConn, reason string, at time.Time) {
	r.dispatch(&event{kind: evLeave, conn: c, at: at, reason: reason})
}

// backdate rewrites a connection's last-seen time so a sweep at now sees
// it as stale.
func backdate(ps *PresenceStore, connID string, to time.Time) {
	ps.mu.Lock()
	if e, ok := ps.conns[connID]; ok {
		e.lastSeen = to.UnixNano()
	}
	ps.mu.Unlock()
}
