package party

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// TakeoverPolicy decides what happens when screen_share_start arrives
// while another session is already active.
type TakeoverPolicy int

// TakeoverPolicy instances
const (
	TakeoverReject TakeoverPolicy = iota
	TakeoverReplace
)

// ParseTakeoverPolicy maps a config string to a policy, defaulting to
// reject.
func ParseTakeoverPolicy(s string) TakeoverPolicy {
	if s == "replace" {
		return TakeoverReplace
	}
	return TakeoverReject
}

// Options carries the tunable behaviour applied to every room on this
// server. Per-party permission flags may still be overridden at party
// creation.
type Options struct {
	SyncInterval     time.Duration
	SweepInterval    time.Duration
	HeartbeatTimeout time.Duration
	GracePeriod      time.Duration
	TypingTTL        time.Duration

	// InitialVideo preloads the party with a video before the first
	// participant connects.
	InitialVideo string

	ChatHistory    int
	InboundQueue   int
	OutboundQueue  int
	MaxChatLength  int
	MaxPollOptions int

	// PlaybackEcho includes the originating connection in playback
	// control broadcasts so the sender gets an idempotent confirmation.
	PlaybackEcho     bool
	AnyoneCanControl bool
	MemberPolls      bool
	ShareTakeover    TakeoverPolicy
}

// DefaultOptions returns the stock engine tuning.
func DefaultOptions() Options {
	return Options{
		SyncInterval:     5 * time.Second,
		SweepInterval:    2 * time.Second,
		HeartbeatTimeout: 30 * time.Second,
		GracePeriod:      30 * time.Second,
		TypingTTL:        6 * time.Second,
		ChatHistory:      256,
		InboundQueue:     256,
		OutboundQueue:    32,
		MaxChatLength:    2000,
		MaxPollOptions:   10,
		PlaybackEcho:     true,
		AnyoneCanControl: false,
		MemberPolls:      false,
		ShareTakeover:    TakeoverReject,
	}
}

// Room lifecycle errors.
var (
	ErrRoomClosed = errors.New("room closed")
	ErrRoomBusy   = errors.New("room busy")
)

type eventKind int

const (
	evMessage eventKind = iota
	evJoin
	evLeave
	evSweep
	evInfo
)

// event is one unit of work on a room's inbound queue. Joins, leaves and
// supervisor sweeps travel the same queue as client messages so that all
// state transitions within a room are totally ordered.
type event struct {
	kind   eventKind
	conn   Conn
	msg    *Message
	at     time.Time
	reason string
	reply  chan *PartyStatePayload
}

// Room runs one party. Its manager goroutine is the sole reader of the
// event queue and the only code allowed to touch the party state.
type Room struct {
	ID string

	opts    Options
	party   *Party
	events  chan *event
	closing chan struct{}
	done    chan struct{}

	presence *PresenceStore
	fanout   *Fanout
	metrics  *Metrics

	graceTimer *time.Timer
	stopOnce   sync.Once
	onStop     func(*Room)
}

// NewRoom creates a room with the given id and no participants. Call
// RunManager to start it.
func NewRoom(id string, opts Options, presence *PresenceStore, fanout *Fanout, metrics *Metrics) *Room {
	if opts.InboundQueue < 1 {
		opts.InboundQueue = 1
	}
	now := time.Now()
	return &Room{
		ID:         id,
		opts:       opts,
		party:      newParty(id, opts, now),
		events:     make(chan *event, opts.InboundQueue),
		closing:    make(chan struct{}),
		done:       make(chan struct{}),
		presence:   presence,
		fanout:     fanout,
		metrics:    metrics,
		graceTimer: time.NewTimer(opts.GracePeriod),
	}
}

// Stop asks the manager to exit. Safe to call more than once and from
// any goroutine.
func (r *Room) Stop() {
	r.stopOnce.Do(func() { close(r.closing) })
}

// Done is closed once the room has fully torn down.
func (r *Room) Done() <-chan struct{} {
	return r.done
}

// stopped reports whether Stop has been called. The events channel is
// buffered, so senders must check this first or risk parking an event in
// a queue nobody will drain.
func (r *Room) stopped() bool {
	select {
	case <-r.closing:
		return true
	default:
		return false
	}
}

// EnqueueMessage queues a client message. The message is shed when the
// queue is full; the return value is false only once the room is
// shutting down.
func (r *Room) EnqueueMessage(c Conn, m *Message) bool {
	if r.stopped() {
		return false
	}
	ev := &event{kind: evMessage, conn: c, msg: m, at: m.ReceivedAt}
	select {
	case r.events <- ev:
		return true
	case <-r.closing:
		return false
	default:
		r.metrics.IncrementMessagesDropped()
		log.Warn().Str("module", "party.room").Str("party", r.ID).Str("conn", c.ID()).Str("type", string(m.Type)).Msg("inbound queue full, message dropped")
		return true
	}
}

// EnqueueJoin queues a join for the connection. Unlike client traffic a
// join is never shed; the call blocks until the manager has capacity.
func (r *Room) EnqueueJoin(c Conn) bool {
	if r.stopped() {
		return false
	}
	select {
	case r.events <- &event{kind: evJoin, conn: c, at: time.Now()}:
		return true
	case <-r.closing:
		return false
	}
}

// EnqueueLeave queues a leave for the connection with the given reason.
func (r *Room) EnqueueLeave(c Conn, reason string) bool {
	if r.stopped() {
		return false
	}
	select {
	case r.events <- &event{kind: evLeave, conn: c, at: time.Now(), reason: reason}:
		return true
	case <-r.closing:
		return false
	}
}

// Info asks the manager for a current state snapshot.
func (r *Room) Info(timeout time.Duration) (*PartyStatePayload, error) {
	if r.stopped() {
		return nil, ErrRoomClosed
	}
	reply := make(chan *PartyStatePayload, 1)
	ev := &event{kind: evInfo, at: time.Now(), reply: reply}
	select {
	case r.events <- ev:
	case <-r.closing:
		return nil, ErrRoomClosed
	case <-time.After(timeout):
		return nil, ErrRoomBusy
	}
	select {
	case snap, ok := <-reply:
		if !ok {
			return nil, ErrRoomClosed
		}
		return snap, nil
	case <-time.After(timeout):
		return nil, ErrRoomBusy
	}
}

// RunManager runs the room's event loop until the party is evicted or
// the room is stopped.
func (r *Room) RunManager() {
	r.metrics.IncrementParties()
	syncTicker := time.NewTicker(r.opts.SyncInterval)
	defer func() {
		syncTicker.Stop()
		r.teardown()
	}()

	go r.runSupervisor()
	log.Info().Str("module", "party.room").Str("party", r.ID).Msg("room started")

	for {
		select {
		case ev := <-r.events:
			r.dispatch(ev)
		case <-syncTicker.C:
			if len(r.party.participants) > 0 {
				r.fanout.Broadcast(r.ID, r.videoStateMessage(time.Now()))
			}
		case <-r.graceTimer.C:
			log.Info().Str("module", "party.room").Str("party", r.ID).Msg("grace period elapsed, evicting party")
			return
		case <-r.closing:
			return
		}
	}
}

// runSupervisor injects periodic sweep events into the room's queue.
// Stale-connection, typing-expiry and poll-deadline handling all happen
// on the manager goroutine, never here.
func (r *Room) runSupervisor() {
	ticker := time.NewTicker(r.opts.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			select {
			case r.events <- &event{kind: evSweep, at: now}:
			case <-r.closing:
				return
			}
		case <-r.closing:
			return
		}
	}
}

func (r *Room) teardown() {
	r.Stop()
	r.drainEvents()
	r.party.Status = PartyStatusEnded
	for _, c := range r.presence.Connections(r.ID) {
		r.presence.Unregister(c.ID())
		c.Close("party ended")
	}
	if r.onStop != nil {
		r.onStop(r)
	}
	r.metrics.DecrementParties()
	close(r.done)
	log.Info().Str("module", "party.room").Str("party", r.ID).Msg("room deregistered")
}

// drainEvents rejects whatever raced into the queue between the stop
// signal and the manager exiting. Joins landed here are closed so the
// client reconnects against a fresh room.
func (r *Room) drainEvents() {
	for {
		select {
		case ev := <-r.events:
			switch ev.kind {
			case evJoin:
				r.presence.Unregister(ev.conn.ID())
				ev.conn.Close("party ended")
			case evLeave:
				r.presence.Unregister(ev.conn.ID())
			case evInfo:
				close(ev.reply)
			}
		default:
			return
		}
	}
}

func (r *Room) dispatch(ev *event) {
	switch ev.kind {
	case evJoin:
		r.handleJoin(ev)
	case evLeave:
		r.handleLeave(ev)
	case evSweep:
		r.handleSweep(ev)
	case evMessage:
		r.handleMessage(ev)
	case evInfo:
		ev.reply <- r.party.snapshot(ev.at)
	}
}

func (r *Room) handleJoin(ev *event) {
	c := ev.conn
	p := r.party
	now := ev.at

	r.stopGrace()
	if p.Status == PartyStatusWaiting {
		p.Status = PartyStatusActive
	}

	if prev := p.participant(c.UserID()); prev != nil {
		// Same user on a fresh connection. Swap the connection in place
		// without join/leave broadcasts.
		if old, ok := r.presence.Get(prev.ConnID); ok && old.ID() != c.ID() {
			r.presence.Unregister(old.ID())
			old.Close("superseded by new connection")
		}
		prev.ConnID = c.ID()
		r.fanout.Unicast(c, r.partyStateMessage(now))
		log.Info().Str("module", "party.room").Str("party", r.ID).Str("user", c.UserID()).Str("conn", c.ID()).Msg("participant reconnected")
		return
	}

	role := c.Role()
	if len(p.participants) == 0 {
		// First connection claims the party.
		role = RoleHost
	} else if role == RoleHost && p.HostID != c.UserID() {
		// The host seat is taken; an incoming host credential degrades
		// to moderator.
		role = RoleModerator
	}

	pt := p.addParticipant(c.UserID(), role, c.ID(), now)
	if role == RoleHost {
		p.HostID = pt.UserID
	}

	r.fanout.Unicast(c, r.partyStateMessage(now))
	r.fanout.Broadcast(r.ID, &Message{
		Type:    MessageTypeParticipantJoined,
		Payload: &ParticipantJoinedPayload{UserID: pt.UserID, Role: pt.Role.String()},
	}, c.ID())
	log.Info().Str("module", "party.room").Str("party", r.ID).Str("user", pt.UserID).Str("role", pt.Role.String()).Str("conn", c.ID()).Msg("participant joined")
}

func (r *Room) handleLeave(ev *event) {
	c := ev.conn
	pt := r.party.participant(c.UserID())
	r.presence.Unregister(c.ID())
	// A leave for a superseded connection must not evict the user's
	// current session.
	if pt == nil || pt.ConnID != c.ID() {
		return
	}
	r.removeParticipant(pt, ev.reason, ev.at)
}

// removeParticipant applies the roster exit transition: screen-share
// cleanup, the participant_left broadcast, host migration and grace
// arming. Runs on the manager goroutine only.
func (r *Room) removeParticipant(pt *Participant, reason string, now time.Time) {
	p := r.party
	p.removeParticipant(pt.UserID)

	var outs []outbound
	if p.share != nil && p.share.OwnerID == pt.UserID {
		p.share = nil
		outs = append(outs, broadcast(&Message{
			Type:    MessageTypeScreenShareStopped,
			Payload: &ScreenShareStoppedPayload{OwnerID: pt.UserID, Reason: "owner_left"},
		}))
	}
	outs = append(outs, broadcast(&Message{
		Type:    MessageTypeParticipantLeft,
		Payload: &ParticipantLeftPayload{UserID: pt.UserID, Reason: reason},
	}))

	if p.HostID == pt.UserID && len(p.participants) > 0 {
		successor := p.electHost()
		successor.Role = RoleHost
		p.HostID = successor.UserID
		outs = append(outs, broadcast(&Message{
			Type:    MessageTypeHostChanged,
			Payload: &HostChangedPayload{UserID: successor.UserID},
		}))
		log.Info().Str("module", "party.room").Str("party", r.ID).Str("user", successor.UserID).Msg("host migrated")
	}

	r.fanout.Deliver(r.ID, outs)
	log.Info().Str("module", "party.room").Str("party", r.ID).Str("user", pt.UserID).Str("reason", reason).Msg("participant left")

	if len(p.participants) == 0 {
		r.armGrace()
	}
}

func (r *Room) handleSweep(ev *event) {
	now := ev.at
	p := r.party

	cutoff := now.Add(-r.opts.HeartbeatTimeout)
	for _, c := range r.presence.Stale(r.ID, cutoff) {
		log.Info().Str("module", "party.room").Str("party", r.ID).Str("conn", c.ID()).Str("user", c.UserID()).Msg("heartbeat timeout")
		pt := p.participant(c.UserID())
		r.presence.Unregister(c.ID())
		c.Close("heartbeat timeout")
		if pt != nil && pt.ConnID == c.ID() {
			r.removeParticipant(pt, "timeout", now)
		}
	}

	for uid, expiry := range p.typing {
		if now.After(expiry) {
			delete(p.typing, uid)
			r.fanout.Broadcast(r.ID, &Message{
				Type:    MessageTypeChatTyping,
				Payload: &TypingPayload{UserID: uid, Typing: false},
			})
		}
	}

	for _, pl := range p.polls {
		if pl.Status == PollStatusOpen && !pl.ClosesAt.IsZero() && now.After(pl.ClosesAt) {
			r.fanout.Deliver(r.ID, r.closePoll(pl))
		}
	}
}

func (r *Room) handleMessage(ev *event) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Str("module", "party.room").Str("party", r.ID).Str("type", string(ev.msg.Type)).Interface("panic", rec).Msg("handler panic, event discarded")
			r.fanout.Unicast(ev.conn, wireError(errInternal("event discarded")))
		}
	}()

	pt := r.party.participant(ev.conn.UserID())
	if pt == nil || pt.ConnID != ev.conn.ID() {
		// Racing disconnect; the sender is no longer on the roster.
		return
	}

	outs, err := r.apply(pt, ev)
	if err != nil {
		r.fanout.Unicast(ev.conn, wireError(err))
		return
	}
	r.fanout.Deliver(r.ID, outs)
}

// apply dispatches over the closed payload set. Adding a message type
// without a case here lands in the validation error, never in a silent
// drop.
func (r *Room) apply(pt *Participant, ev *event) ([]outbound, error) {
	switch pl := ev.msg.Payload.(type) {
	case *VideoPlayPayload:
		return r.applyPlay(pt, ev, pl)
	case *VideoPausePayload:
		return r.applyPause(pt, ev, pl)
	case *VideoSeekPayload:
		return r.applySeek(pt, ev, pl)
	case *VideoLoadPayload:
		return r.applyLoad(pt, ev, pl)
	case *VideoQualityChangePayload:
		return r.applyQualityChange(pt, ev, pl)
	case *VideoSyncRequestPayload:
		return r.applySyncRequest(ev)
	case *ChatMessagePayload:
		return r.applyChatMessage(pt, ev, pl)
	case *ChatEditPayload:
		return r.applyChatEdit(pt, pl)
	case *ChatTypingStartPayload:
		return r.applyTypingStart(pt, ev)
	case *ChatTypingStopPayload:
		return r.applyTypingStop(pt)
	case *ReactionPayload:
		return r.applyReaction(pt, pl)
	case *PollCreatePayload:
		return r.applyPollCreate(pt, ev, pl)
	case *PollVotePayload:
		return r.applyPollVote(pt, pl)
	case *PollClosePayload:
		return r.applyPollClose(pt, pl)
	case *VoiceJoinPayload:
		return r.applyVoiceJoin(pt)
	case *VoiceLeavePayload:
		return r.applyVoiceLeave(pt)
	case *VoiceMutePayload:
		return r.applyVoiceMute(pt, pl)
	case *VoiceUnmutePayload:
		return r.applyVoiceUnmute(pt)
	case *VoiceActivityPayload:
		return r.applyVoiceActivity(pt, pl)
	case *ScreenShareStartPayload:
		return r.applyShareStart(pt, ev)
	case *ScreenShareStopPayload:
		return r.applyShareStop(pt)
	case *ScreenShareSignalPayload:
		return r.applyShareSignal(pt, pl)
	case *HeartbeatPayload:
		return nil, nil
	case *PingPayload:
		return []outbound{unicast(ev.conn, pongFor(ev.msg, pl))}, nil
	default:
		return nil, errValidation("unsupported message type %q", ev.msg.Type)
	}
}

func (r *Room) partyStateMessage(now time.Time) *Message {
	return &Message{Type: MessageTypePartyState, Payload: r.party.snapshot(now)}
}

func (r *Room) videoStateMessage(now time.Time) *Message {
	return &Message{Type: MessageTypeVideoStateUpdate, Payload: r.party.playback.snapshot(now)}
}

func (r *Room) stopGrace() {
	if !r.graceTimer.Stop() {
		select {
		case <-r.graceTimer.C:
		default:
		}
	}
}

func (r *Room) armGrace() {
	r.stopGrace()
	r.graceTimer.Reset(r.opts.GracePeriod)
}
