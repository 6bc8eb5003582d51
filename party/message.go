package party

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// MessageType discriminates wire envelopes.
type MessageType string

// Client-originated message types.
const (
	MessageTypeVideoPlay          MessageType = "video_play"
	MessageTypeVideoPause         MessageType = "video_pause"
	MessageTypeVideoSeek          MessageType = "video_seek"
	MessageTypeVideoLoad          MessageType = "video_load"
	MessageTypeVideoQualityChange MessageType = "video_quality_change"
	MessageTypeVideoSyncRequest   MessageType = "video_sync_request"
	MessageTypeChatMessage        MessageType = "chat_message"
	MessageTypeChatEdit           MessageType = "chat_edit"
	MessageTypeChatTypingStart    MessageType = "chat_typing_start"
	MessageTypeChatTypingStop     MessageType = "chat_typing_stop"
	MessageTypeReaction           MessageType = "reaction"
	MessageTypePollCreate         MessageType = "poll_create"
	MessageTypePollVote           MessageType = "poll_vote"
	MessageTypePollClose          MessageType = "poll_close"
	MessageTypeVoiceJoin          MessageType = "voice_join"
	MessageTypeVoiceLeave         MessageType = "voice_leave"
	MessageTypeVoiceMute          MessageType = "voice_mute"
	MessageTypeVoiceUnmute        MessageType = "voice_unmute"
	MessageTypeVoiceActivity      MessageType = "voice_activity"
	MessageTypeScreenShareStart   MessageType = "screen_share_start"
	MessageTypeScreenShareStop    MessageType = "screen_share_stop"
	MessageTypeScreenShareSignal  MessageType = "screen_share_signal"
	MessageTypeHeartbeat          MessageType = "heartbeat"
	MessageTypePing               MessageType = "ping"
)

// Server-originated message types. chat_message, reaction, voice_activity
// and screen_share_signal are reused for the enriched broadcast forms.
const (
	MessageTypePartyState         MessageType = "party_state"
	MessageTypeVideoStateUpdate   MessageType = "video_state_update"
	MessageTypeParticipantJoined  MessageType = "participant_joined"
	MessageTypeParticipantLeft    MessageType = "participant_left"
	MessageTypeHostChanged        MessageType = "host_changed"
	MessageTypeChatTyping         MessageType = "chat_typing"
	MessageTypePollCreated        MessageType = "poll_created"
	MessageTypePollVoteRecorded   MessageType = "poll_vote_recorded"
	MessageTypePollClosed         MessageType = "poll_closed"
	MessageTypeVoiceState         MessageType = "voice_state"
	MessageTypeScreenShareStarted MessageType = "screen_share_started"
	MessageTypeScreenShareStopped MessageType = "screen_share_stopped"
	MessageTypePong               MessageType = "pong"
	MessageTypeError              MessageType = "error"
)

// ErrUnknownType is returned by Deserialise when the type value is not a
// recognised client message type.
var ErrUnknownType = errors.New("unknown message type")

// Message is the wire envelope. Sender, ConnID and ReceivedAt are engine
// bookkeeping and never serialised.
type Message struct {
	Sender     string    `json:"-"`
	ConnID     string    `json:"-"`
	ReceivedAt time.Time `json:"-"`

	Type            MessageType `json:"type"`
	Payload         any         `json:"payload,omitempty"`
	ClientTimestamp *float64    `json:"client_timestamp,omitempty"`
}

type receivedMessage struct {
	Type            MessageType     `json:"type"`
	Payload         json.RawMessage `json:"payload"`
	ClientTimestamp *float64        `json:"client_timestamp"`
}

// Client payload shapes.

type VideoPlayPayload struct {
	PositionMs int64 `json:"position_ms"`
}

type VideoPausePayload struct {
	PositionMs int64 `json:"position_ms"`
}

type VideoSeekPayload struct {
	PositionMs int64 `json:"position_ms"`
}

type VideoLoadPayload struct {
	VideoID string `json:"video_id"`
}

type VideoQualityChangePayload struct {
	Quality string `json:"quality"`
}

type VideoSyncRequestPayload struct{}

type ChatMessagePayload struct {
	Text     string  `json:"text"`
	ParentID *uint64 `json:"parent_id,omitempty"`
}

type ChatEditPayload struct {
	Seq  uint64 `json:"seq"`
	Text string `json:"text"`
}

type ChatTypingStartPayload struct{}

type ChatTypingStopPayload struct{}

type ReactionPayload struct {
	Emoji string   `json:"emoji"`
	X     *float64 `json:"x,omitempty"`
	Y     *float64 `json:"y,omitempty"`
}

type PollCreatePayload struct {
	Question string   `json:"question"`
	Options  []string `json:"options"`
	// DurationS, when positive, arms an auto-close deadline.
	DurationS int64 `json:"duration_s,omitempty"`
}

type PollVotePayload struct {
	PollID      string `json:"poll_id"`
	OptionIndex int    `json:"option_index"`
}

type PollClosePayload struct {
	PollID string `json:"poll_id"`
}

type VoiceJoinPayload struct{}

type VoiceLeavePayload struct{}

// VoiceMutePayload with an empty TargetID is a self-mute. A moderator may
// set TargetID to force-mute another participant.
type VoiceMutePayload struct {
	TargetID string `json:"target_id,omitempty"`
}

type VoiceUnmutePayload struct{}

type VoiceActivityPayload struct {
	Speaking bool `json:"speaking"`
}

type ScreenShareStartPayload struct{}

type ScreenShareStopPayload struct{}

// ScreenShareSignalPayload carries an opaque negotiation blob relayed
// verbatim to the target connection.
type ScreenShareSignalPayload struct {
	TargetID string          `json:"target_id"`
	Payload  json.RawMessage `json:"payload"`
}

type HeartbeatPayload struct{}

type PingPayload struct {
	Timestamp float64 `json:"sendtime,omitempty"`
}

// Server payload shapes.

// PartyStatePayload is the full snapshot unicast to a connection right
// after its join is processed.
type PartyStatePayload struct {
	PartyID      string             `json:"party_id"`
	Status       string             `json:"status"`
	HostID       string             `json:"host_id"`
	Permissions  PermissionsInfo    `json:"permissions"`
	Playback     *VideoStatePayload `json:"playback"`
	Participants []*ParticipantInfo `json:"participants"`
	Polls        []*PollInfo        `json:"polls"`
	ScreenShare  *ScreenShareInfo   `json:"screen_share,omitempty"`
	ChatSeq      uint64             `json:"chat_seq"`
}

type PermissionsInfo struct {
	AnyoneCanControl bool `json:"anyone_can_control"`
	MemberPolls      bool `json:"member_polls"`
}

type ParticipantInfo struct {
	UserID   string         `json:"user_id"`
	Role     string         `json:"role"`
	JoinedAt int64          `json:"joined_at"`
	Voice    VoiceStateInfo `json:"voice"`
}

type VoiceStateInfo struct {
	Joined bool `json:"joined"`
	Muted  bool `json:"muted"`
}

// VideoStatePayload carries the authoritative playback state. PositionMs
// is derived at send time, so two broadcasts made at different instants
// for the same playing state report different positions.
type VideoStatePayload struct {
	VideoID    string `json:"video_id"`
	PositionMs int64  `json:"position_ms"`
	Playing    bool   `json:"playing"`
	Quality    string `json:"quality"`
	UpdatedBy  string `json:"updated_by,omitempty"`
}

type ParticipantJoinedPayload struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

type ParticipantLeftPayload struct {
	UserID string `json:"user_id"`
	Reason string `json:"reason"`
}

type HostChangedPayload struct {
	UserID string `json:"user_id"`
}

type ChatBroadcastPayload struct {
	Seq      uint64  `json:"seq"`
	UserID   string  `json:"user_id"`
	Text     string  `json:"text"`
	ParentID *uint64 `json:"parent_id,omitempty"`
	Edited   bool    `json:"edited"`
	SentAt   int64   `json:"sent_at"`
}

type TypingPayload struct {
	UserID string `json:"user_id"`
	Typing bool   `json:"typing"`
}

type ReactionBroadcastPayload struct {
	UserID string   `json:"user_id"`
	Emoji  string   `json:"emoji"`
	X      *float64 `json:"x,omitempty"`
	Y      *float64 `json:"y,omitempty"`
}

type PollInfo struct {
	ID        string   `json:"id"`
	CreatorID string   `json:"creator_id"`
	Question  string   `json:"question"`
	Options   []string `json:"options"`
	Status    string   `json:"status"`
	Votes     int      `json:"votes"`
	ClosesAt  int64    `json:"closes_at,omitempty"`
}

type PollCreatedPayload struct {
	Poll *PollInfo `json:"poll"`
}

// PollVoteRecordedPayload reports only the running ballot count. Per-option
// tallies are withheld until the poll closes.
type PollVoteRecordedPayload struct {
	PollID string `json:"poll_id"`
	Votes  int    `json:"votes"`
}

type PollClosedPayload struct {
	PollID  string         `json:"poll_id"`
	Tallies map[string]int `json:"tallies"`
}

type VoiceStatePayload struct {
	UserID string `json:"user_id"`
	Joined bool   `json:"joined"`
	Muted  bool   `json:"muted"`
	Forced bool   `json:"forced,omitempty"`
}

type VoiceActivityBroadcastPayload struct {
	UserID   string `json:"user_id"`
	Speaking bool   `json:"speaking"`
}

type ScreenShareInfo struct {
	OwnerID   string `json:"owner_id"`
	StartedAt int64  `json:"started_at"`
}

type ScreenShareStartedPayload struct {
	OwnerID string `json:"owner_id"`
}

type ScreenShareStoppedPayload struct {
	OwnerID string `json:"owner_id"`
	Reason  string `json:"reason,omitempty"`
}

type ScreenShareSignalRelayPayload struct {
	FromID  string          `json:"from_id"`
	Payload json.RawMessage `json:"payload"`
}

type PongPayload struct {
	Timestamp float64 `json:"sendtime"`
	SvcTime   float64 `json:"servicetime"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Serialise a Message to its wire format as []byte.
func (m *Message) Serialise() ([]byte, error) {
	return json.Marshal(m)
}

// pongFor builds the pong reply to a ping, echoing the client send time.
// The write pump fills in the service time just before the frame goes
// out.
func pongFor(ping *Message, p *PingPayload) *Message {
	return &Message{
		ReceivedAt: ping.ReceivedAt,
		Type:       MessageTypePong,
		Payload:    &PongPayload{Timestamp: p.Timestamp},
	}
}

func decodePayload(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}

// Deserialise a client envelope stored in data back into m, resolving the
// payload to the concrete struct for the declared type. Server-originated
// types are not accepted and report ErrUnknownType.
func Deserialise(data []byte, m *Message) error {
	var rm receivedMessage

	if err := json.Unmarshal(data, &rm); err != nil {
		return err
	}

	m.ReceivedAt = time.Now()
	m.Type = rm.Type
	m.ClientTimestamp = rm.ClientTimestamp

	var err error
	switch m.Type {
	case MessageTypeVideoPlay:
		var p VideoPlayPayload
		err = decodePayload(rm.Payload, &p)
		m.Payload = &p
	case MessageTypeVideoPause:
		var p VideoPausePayload
		err = decodePayload(rm.Payload, &p)
		m.Payload = &p
	case MessageTypeVideoSeek:
		var p VideoSeekPayload
		err = decodePayload(rm.Payload, &p)
		m.Payload = &p
	case MessageTypeVideoLoad:
		var p VideoLoadPayload
		err = decodePayload(rm.Payload, &p)
		m.Payload = &p
	case MessageTypeVideoQualityChange:
		var p VideoQualityChangePayload
		err = decodePayload(rm.Payload, &p)
		m.Payload = &p
	case MessageTypeVideoSyncRequest:
		var p VideoSyncRequestPayload
		err = decodePayload(rm.Payload, &p)
		m.Payload = &p
	case MessageTypeChatMessage:
		var p ChatMessagePayload
		err = decodePayload(rm.Payload, &p)
		m.Payload = &p
	case MessageTypeChatEdit:
		var p ChatEditPayload
		err = decodePayload(rm.Payload, &p)
		m.Payload = &p
	case MessageTypeChatTypingStart:
		var p ChatTypingStartPayload
		err = decodePayload(rm.Payload, &p)
		m.Payload = &p
	case MessageTypeChatTypingStop:
		var p ChatTypingStopPayload
		err = decodePayload(rm.Payload, &p)
		m.Payload = &p
	case MessageTypeReaction:
		var p ReactionPayload
		err = decodePayload(rm.Payload, &p)
		m.Payload = &p
	case MessageTypePollCreate:
		var p PollCreatePayload
		err = decodePayload(rm.Payload, &p)
		m.Payload = &p
	case MessageTypePollVote:
		var p PollVotePayload
		err = decodePayload(rm.Payload, &p)
		m.Payload = &p
	case MessageTypePollClose:
		var p PollClosePayload
		err = decodePayload(rm.Payload, &p)
		m.Payload = &p
	case MessageTypeVoiceJoin:
		var p VoiceJoinPayload
		err = decodePayload(rm.Payload, &p)
		m.Payload = &p
	case MessageTypeVoiceLeave:
		var p VoiceLeavePayload
		err = decodePayload(rm.Payload, &p)
		m.Payload = &p
	case MessageTypeVoiceMute:
		var p VoiceMutePayload
		err = decodePayload(rm.Payload, &p)
		m.Payload = &p
	case MessageTypeVoiceUnmute:
		var p VoiceUnmutePayload
		err = decodePayload(rm.Payload, &p)
		m.Payload = &p
	case MessageTypeVoiceActivity:
		var p VoiceActivityPayload
		err = decodePayload(rm.Payload, &p)
		m.Payload = &p
	case MessageTypeScreenShareStart:
		var p ScreenShareStartPayload
		err = decodePayload(rm.Payload, &p)
		m.Payload = &p
	case MessageTypeScreenShareStop:
		var p ScreenShareStopPayload
		err = decodePayload(rm.Payload, &p)
		m.Payload = &p
	case MessageTypeScreenShareSignal:
		var p ScreenShareSignalPayload
		err = decodePayload(rm.Payload, &p)
		m.Payload = &p
	case MessageTypeHeartbeat:
		var p HeartbeatPayload
		err = decodePayload(rm.Payload, &p)
		m.Payload = &p
	case MessageTypePing:
		var p PingPayload
		err = decodePayload(rm.Payload, &p)
		m.Payload = &p
	default:
		return fmt.Errorf("%w %q", ErrUnknownType, rm.Type)
	}
	return err
}
