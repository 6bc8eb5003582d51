package party

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// ErrSlowConn reports a full outbound buffer on Send.
var ErrSlowConn = errors.New("connection outbound buffer full")

// Conn is one live client connection as seen by the engine. The concrete
// websocket implementation lives in wsConn; tests substitute their own.
type Conn interface {
	ID() string
	UserID() string
	Role() Role
	RemoteAddr() string
	// Send queues a message for delivery without blocking. It returns
	// ErrSlowConn when the outbound buffer is full.
	Send(*Message) error
	// Close tears the connection down. Safe to call more than once and
	// from any goroutine.
	Close(reason string)
}

type presenceEntry struct {
	conn     Conn
	partyID  string
	lastSeen int64 // unix nanoseconds
}

// PresenceStore tracks live connections grouped by party. Last-seen
// timestamps are updated lock-free from the read pumps; membership
// changes take the write lock.
type PresenceStore struct {
	mu    sync.RWMutex
	conns map[string]*presenceEntry
	rooms map[string]map[string]*presenceEntry
}

// NewPresenceStore creates an empty presence store.
func NewPresenceStore() *PresenceStore {
	return &PresenceStore{
		conns: make(map[string]*presenceEntry),
		rooms: make(map[string]map[string]*presenceEntry),
	}
}

// Register adds a connection under the given party.
func (ps *PresenceStore) Register(partyID string, c Conn) {
	e := &presenceEntry{
		conn:     c,
		partyID:  partyID,
		lastSeen: time.Now().UnixNano(),
	}
	ps.mu.Lock()
	ps.conns[c.ID()] = e
	room := ps.rooms[partyID]
	if room == nil {
		room = make(map[string]*presenceEntry)
		ps.rooms[partyID] = room
	}
	room[c.ID()] = e
	ps.mu.Unlock()
}

// Unregister removes a connection. It is a no-op for unknown ids.
func (ps *PresenceStore) Unregister(connID string) {
	ps.mu.Lock()
	if e, ok := ps.conns[connID]; ok {
		delete(ps.conns, connID)
		if room, ok := ps.rooms[e.partyID]; ok {
			delete(room, connID)
			if len(room) == 0 {
				delete(ps.rooms, e.partyID)
			}
		}
	}
	ps.mu.Unlock()
}

// Touch records connection liveness. Called on every inbound frame.
func (ps *PresenceStore) Touch(connID string) {
	ps.mu.RLock()
	e := ps.conns[connID]
	ps.mu.RUnlock()
	if e != nil {
		atomic.StoreInt64(&e.lastSeen, time.Now().UnixNano())
	}
}

// LastSeen reports when the connection last showed liveness.
func (ps *PresenceStore) LastSeen(connID string) (time.Time, bool) {
	ps.mu.RLock()
	e := ps.conns[connID]
	ps.mu.RUnlock()
	if e == nil {
		return time.Time{}, false
	}
	return time.Unix(0, atomic.LoadInt64(&e.lastSeen)), true
}

// Get returns the connection with the given id.
func (ps *PresenceStore) Get(connID string) (Conn, bool) {
	ps.mu.RLock()
	e := ps.conns[connID]
	ps.mu.RUnlock()
	if e == nil {
		return nil, false
	}
	return e.conn, true
}

// Connections snapshots the live connection set of a party.
func (ps *PresenceStore) Connections(partyID string) []Conn {
	ps.mu.RLock()
	room := ps.rooms[partyID]
	out := make([]Conn, 0, len(room))
	for _, e := range room {
		out = append(out, e.conn)
	}
	ps.mu.RUnlock()
	return out
}

// Stale returns the party's connections whose last-seen time is before
// the cutoff.
func (ps *PresenceStore) Stale(partyID string, cutoff time.Time) []Conn {
	limit := cutoff.UnixNano()
	ps.mu.RLock()
	room := ps.rooms[partyID]
	var out []Conn
	for _, e := range room {
		if atomic.LoadInt64(&e.lastSeen) < limit {
			out = append(out, e.conn)
		}
	}
	ps.mu.RUnlock()
	return out
}

// Count reports the number of live connections across all parties.
func (ps *PresenceStore) Count() int {
	ps.mu.RLock()
	n := len(ps.conns)
	ps.mu.RUnlock()
	return n
}

// RoomCount reports the number of live connections in one party.
func (ps *PresenceStore) RoomCount(partyID string) int {
	ps.mu.RLock()
	n := len(ps.rooms[partyID])
	ps.mu.RUnlock()
	return n
}
