package party

import (
	"sort"
	"time"
)

// Role is a participant's authority level within a party.
type Role int

// Role enum instances, ordered by increasing authority.
const (
	RoleMember Role = iota
	RoleModerator
	RoleHost
)

func (r Role) String() string {
	switch r {
	case RoleHost:
		return "host"
	case RoleModerator:
		return "moderator"
	default:
		return "member"
	}
}

// ParseRole maps a wire role string to a Role. Unrecognised values
// degrade to member.
func ParseRole(s string) Role {
	switch s {
	case "host":
		return RoleHost
	case "moderator":
		return RoleModerator
	default:
		return RoleMember
	}
}

// PartyStatus is the party lifecycle enum.
type PartyStatus int

// PartyStatus enum instances
const (
	PartyStatusWaiting PartyStatus = iota
	PartyStatusActive
	PartyStatusEnded
)

func (s PartyStatus) String() string {
	switch s {
	case PartyStatusActive:
		return "active"
	case PartyStatusEnded:
		return "ended"
	default:
		return "waiting"
	}
}

// VoiceState is a participant's voice-chat membership.
type VoiceState struct {
	Joined bool
	Muted  bool
}

// Participant is one roster entry. ConnID is a weak reference into the
// presence store; the connection itself is never held here.
type Participant struct {
	UserID    string
	Role      Role
	ConnID    string
	JoinedAt  time.Time
	joinOrder uint64
	Voice     VoiceState
}

func (pt *Participant) info() *ParticipantInfo {
	return &ParticipantInfo{
		UserID:   pt.UserID,
		Role:     pt.Role.String(),
		JoinedAt: unixMs(pt.JoinedAt),
		Voice: VoiceStateInfo{
			Joined: pt.Voice.Joined,
			Muted:  pt.Voice.Muted,
		},
	}
}

// PlaybackState describes the authoritative media playback state in a
// party. Consumers derive the current position from positionMs, playing
// and updatedAt rather than reading a continuously advancing counter.
type PlaybackState struct {
	videoID    string
	positionMs int64
	playing    bool
	quality    string
	updatedAt  time.Time
	updatedBy  string
}

func newPlaybackState(now time.Time) *PlaybackState {
	return &PlaybackState{
		quality:   "auto",
		updatedAt: now,
	}
}

// PositionAt derives the playback position at the given instant.
func (st *PlaybackState) PositionAt(now time.Time) int64 {
	if st.playing {
		return st.positionMs + now.Sub(st.updatedAt).Milliseconds()
	}
	return st.positionMs
}

func (st *PlaybackState) set(positionMs int64, playing bool, by string, at time.Time) {
	st.positionMs = positionMs
	st.playing = playing
	st.updatedBy = by
	st.updatedAt = at
}

func (st *PlaybackState) snapshot(now time.Time) *VideoStatePayload {
	return &VideoStatePayload{
		VideoID:    st.videoID,
		PositionMs: st.PositionAt(now),
		Playing:    st.playing,
		Quality:    st.quality,
		UpdatedBy:  st.updatedBy,
	}
}

// ChatMessage is one entry in a party's bounded chat history.
type ChatMessage struct {
	Seq      uint64
	UserID   string
	Text     string
	ParentID *uint64
	Edited   bool
	SentAt   time.Time
}

func (cm *ChatMessage) broadcast() *ChatBroadcastPayload {
	return &ChatBroadcastPayload{
		Seq:      cm.Seq,
		UserID:   cm.UserID,
		Text:     cm.Text,
		ParentID: cm.ParentID,
		Edited:   cm.Edited,
		SentAt:   unixMs(cm.SentAt),
	}
}

// chatRing keeps the most recent chat messages. Once capacity is reached
// the oldest entry is overwritten.
type chatRing struct {
	buf   []*ChatMessage
	next  int
	count int
}

func newChatRing(capacity int) *chatRing {
	if capacity < 1 {
		capacity = 1
	}
	return &chatRing{buf: make([]*ChatMessage, capacity)}
}

func (r *chatRing) append(m *ChatMessage) {
	r.buf[r.next] = m
	r.next = (r.next + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
}

func (r *chatRing) find(seq uint64) *ChatMessage {
	for _, m := range r.buf {
		if m != nil && m.Seq == seq {
			return m
		}
	}
	return nil
}

func (r *chatRing) len() int {
	return r.count
}

// PollStatus is the poll lifecycle enum.
type PollStatus int

// PollStatus enum instances
const (
	PollStatusOpen PollStatus = iota
	PollStatusClosed
)

func (s PollStatus) String() string {
	if s == PollStatusClosed {
		return "closed"
	}
	return "open"
}

// Poll is one ballot. Votes maps voter id to chosen option index; a
// revote overwrites the previous entry.
type Poll struct {
	ID        string
	CreatorID string
	Question  string
	Options   []string
	Votes     map[string]int
	Status    PollStatus
	CreatedAt time.Time
	ClosesAt  time.Time
}

func (pl *Poll) tallies() map[string]int {
	t := make(map[string]int, len(pl.Options))
	for _, opt := range pl.Options {
		t[opt] = 0
	}
	for _, idx := range pl.Votes {
		if idx >= 0 && idx < len(pl.Options) {
			t[pl.Options[idx]]++
		}
	}
	return t
}

func (pl *Poll) info() *PollInfo {
	return &PollInfo{
		ID:        pl.ID,
		CreatorID: pl.CreatorID,
		Question:  pl.Question,
		Options:   pl.Options,
		Status:    pl.Status.String(),
		Votes:     len(pl.Votes),
		ClosesAt:  unixMs(pl.ClosesAt),
	}
}

// ScreenShareSession records the single active share. A nil session on
// the party means nobody is sharing.
type ScreenShareSession struct {
	OwnerID   string
	StartedAt time.Time
}

func (ss *ScreenShareSession) info() *ScreenShareInfo {
	return &ScreenShareInfo{
		OwnerID:   ss.OwnerID,
		StartedAt: unixMs(ss.StartedAt),
	}
}

// Party is the authoritative record of one room. It is owned exclusively
// by the room's manager goroutine and carries no locking.
type Party struct {
	ID        string
	Status    PartyStatus
	CreatedAt time.Time
	HostID    string

	AnyoneCanControl bool
	MemberPolls      bool

	participants map[string]*Participant
	joinCounter  uint64
	playback     *PlaybackState
	chat         *chatRing
	chatSeq      uint64
	typing       map[string]time.Time
	polls        map[string]*Poll
	share        *ScreenShareSession
}

func newParty(id string, opts Options, now time.Time) *Party {
	p := &Party{
		ID:               id,
		Status:           PartyStatusWaiting,
		CreatedAt:        now,
		AnyoneCanControl: opts.AnyoneCanControl,
		MemberPolls:      opts.MemberPolls,
		participants:     make(map[string]*Participant),
		playback:         newPlaybackState(now),
		chat:             newChatRing(opts.ChatHistory),
		typing:           make(map[string]time.Time),
		polls:            make(map[string]*Poll),
	}
	p.playback.videoID = opts.InitialVideo
	return p
}

func (p *Party) participant(userID string) *Participant {
	return p.participants[userID]
}

func (p *Party) addParticipant(userID string, role Role, connID string, now time.Time) *Participant {
	p.joinCounter++
	pt := &Participant{
		UserID:    userID,
		Role:      role,
		ConnID:    connID,
		JoinedAt:  now,
		joinOrder: p.joinCounter,
	}
	p.participants[userID] = pt
	return pt
}

func (p *Party) removeParticipant(userID string) {
	delete(p.participants, userID)
}

// electHost picks the deterministic host successor: the highest-role
// remaining participant, ties broken by earliest join.
func (p *Party) electHost() *Participant {
	var best *Participant
	for _, pt := range p.participants {
		if best == nil {
			best = pt
			continue
		}
		if pt.Role > best.Role {
			best = pt
			continue
		}
		if pt.Role == best.Role && pt.joinOrder < best.joinOrder {
			best = pt
		}
	}
	return best
}

func (p *Party) roster() []*ParticipantInfo {
	pts := make([]*Participant, 0, len(p.participants))
	for _, pt := range p.participants {
		pts = append(pts, pt)
	}
	sort.Slice(pts, func(i, j int) bool {
		return pts[i].joinOrder < pts[j].joinOrder
	})
	infos := make([]*ParticipantInfo, len(pts))
	for i, pt := range pts {
		infos[i] = pt.info()
	}
	return infos
}

func (p *Party) openPolls() []*PollInfo {
	ids := make([]string, 0, len(p.polls))
	for id, pl := range p.polls {
		if pl.Status == PollStatusOpen {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	infos := make([]*PollInfo, len(ids))
	for i, id := range ids {
		infos[i] = p.polls[id].info()
	}
	return infos
}

// snapshot builds the full party_state payload as of now.
func (p *Party) snapshot(now time.Time) *PartyStatePayload {
	var share *ScreenShareInfo
	if p.share != nil {
		share = p.share.info()
	}
	return &PartyStatePayload{
		PartyID: p.ID,
		Status:  p.Status.String(),
		HostID:  p.HostID,
		Permissions: PermissionsInfo{
			AnyoneCanControl: p.AnyoneCanControl,
			MemberPolls:      p.MemberPolls,
		},
		Playback:     p.playback.snapshot(now),
		Participants: p.roster(),
		Polls:        p.openPolls(),
		ScreenShare:  share,
		ChatSeq:      p.chatSeq,
	}
}

func unixMs(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}
