package party

import (
	"errors"

	"github.com/rs/zerolog/log"
)

// outbound is one delivery produced by a feature handler. A set target
// means unicast to that connection; otherwise the message is broadcast
// to the whole party minus the excluded connection ids.
type outbound struct {
	msg     *Message
	to      Conn
	exclude []string
}

func unicast(c Conn, m *Message) outbound {
	return outbound{msg: m, to: c}
}

func broadcast(m *Message, exclude ...string) outbound {
	return outbound{msg: m, exclude: exclude}
}

// Fanout writes outbound events to a party's live connection set.
// Delivery is best effort per connection: a connection whose buffer is
// full is closed and swept out through the normal leave path instead of
// stalling the rest of the room.
type Fanout struct {
	presence *PresenceStore
	sink     *SinkQueue
	metrics  *Metrics
}

// NewFanout creates a fanout over the given presence store. sink may be
// nil when no persistence collaborator is configured.
func NewFanout(presence *PresenceStore, sink *SinkQueue, metrics *Metrics) *Fanout {
	return &Fanout{presence: presence, sink: sink, metrics: metrics}
}

// Deliver applies a handler's outbound set in order.
func (f *Fanout) Deliver(partyID string, outs []outbound) {
	for _, o := range outs {
		if o.to != nil {
			f.Unicast(o.to, o.msg)
			continue
		}
		f.Broadcast(partyID, o.msg, o.exclude...)
	}
}

// Broadcast sends m to every live connection of the party except the
// excluded connection ids.
func (f *Fanout) Broadcast(partyID string, m *Message, exclude ...string) {
	if f.sink != nil {
		f.sink.Offer(partyID, m)
	}
	for _, c := range f.presence.Connections(partyID) {
		if connExcluded(c.ID(), exclude) {
			continue
		}
		f.send(c, m)
	}
}

// Unicast sends m to a single connection.
func (f *Fanout) Unicast(c Conn, m *Message) {
	f.send(c, m)
}

func (f *Fanout) send(c Conn, m *Message) {
	err := c.Send(m)
	if err == nil {
		f.metrics.IncrementMessagesSent()
		return
	}
	f.metrics.IncrementBroadcastErrors()
	if errors.Is(err, ErrSlowConn) {
		f.metrics.IncrementForcedDisconnects()
		log.Warn().Str("module", "party.fanout").Str("conn", c.ID()).Str("user", c.UserID()).Msg("outbound buffer full, closing connection")
		c.Close("slow consumer")
	}
}

func connExcluded(id string, exclude []string) bool {
	for _, e := range exclude {
		if e == id {
			return true
		}
	}
	return false
}
