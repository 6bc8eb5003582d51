package party

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScreenShare_StartAndStop(t *testing.T) {
	r, host, member := playbackRoom(testOptions())
	now := time.Now()

	sendAt(r, host, MessageTypeScreenShareStart, &ScreenShareStartPayload{}, now)
	m := member.lastOfType(MessageTypeScreenShareStarted)
	require.NotNil(t, m)
	assert.Equal(t, "alice", m.Payload.(*ScreenShareStartedPayload).OwnerID)

	snap := r.party.snapshot(now)
	require.NotNil(t, snap.ScreenShare)
	assert.Equal(t, "alice", snap.ScreenShare.OwnerID)

	t.Run("owner restart conflicts", func(t *testing.T) {
		host.clearInbox()
		sendAt(r, host, MessageTypeScreenShareStart, &ScreenShareStartPayload{}, now)
		m := host.lastOfType(MessageTypeError)
		require.NotNil(t, m)
		assert.Equal(t, CodeConflict, m.Payload.(*ErrorPayload).Code)
	})

	t.Run("owner stops", func(t *testing.T) {
		sendAt(r, host, MessageTypeScreenShareStop, &ScreenShareStopPayload{}, now)
		m := member.lastOfType(MessageTypeScreenShareStopped)
		require.NotNil(t, m)
		pl := m.Payload.(*ScreenShareStoppedPayload)
		assert.Equal(t, "alice", pl.OwnerID)
		assert.Empty(t, pl.Reason)
		assert.Nil(t, r.party.share)
	})

	t.Run("stop without session conflicts", func(t *testing.T) {
		host.clearInbox()
		sendAt(r, host, MessageTypeScreenShareStop, &ScreenShareStopPayload{}, now)
		m := host.lastOfType(MessageTypeError)
		require.NotNil(t, m)
		assert.Equal(t, CodeConflict, m.Payload.(*ErrorPayload).Code)
	})
}

func TestScreenShare_StopAuthorization(t *testing.T) {
	r, host, member := playbackRoom(testOptions())
	mod := newMockConn("c3", "carol", RoleModerator)
	joinAt(r, mod, time.Now())
	sendAt(r, member, MessageTypeScreenShareStart, &ScreenShareStartPayload{}, time.Now())

	t.Run("other member forbidden", func(t *testing.T) {
		host2 := newMockConn("c4", "dave", RoleMember)
		joinAt(r, host2, time.Now())
		sendAt(r, host2, MessageTypeScreenShareStop, &ScreenShareStopPayload{}, time.Now())
		m := host2.lastOfType(MessageTypeError)
		require.NotNil(t, m)
		assert.Equal(t, CodeForbidden, m.Payload.(*ErrorPayload).Code)
		assert.NotNil(t, r.party.share)
	})

	t.Run("moderator stops foreign share", func(t *testing.T) {
		sendAt(r, mod, MessageTypeScreenShareStop, &ScreenShareStopPayload{}, time.Now())
		require.NotNil(t, host.lastOfType(MessageTypeScreenShareStopped))
		assert.Nil(t, r.party.share)
	})
}

func TestScreenShare_TakeoverPolicies(t *testing.T) {
	t.Run("reject keeps first session", func(t *testing.T) {
		r, host, member := playbackRoom(testOptions())
		sendAt(r, host, MessageTypeScreenShareStart, &ScreenShareStartPayload{}, time.Now())
		member.clearInbox()

		sendAt(r, member, MessageTypeScreenShareStart, &ScreenShareStartPayload{}, time.Now())
		m := member.lastOfType(MessageTypeError)
		require.NotNil(t, m)
		assert.Equal(t, CodeConflict, m.Payload.(*ErrorPayload).Code)
		assert.Equal(t, "alice", r.party.share.OwnerID)
	})

	t.Run("replace hands over session", func(t *testing.T) {
		opts := testOptions()
		opts.ShareTakeover = TakeoverReplace
		r, host, member := playbackRoom(opts)
		sendAt(r, host, MessageTypeScreenShareStart, &ScreenShareStartPayload{}, time.Now())
		host.clearInbox()

		sendAt(r, member, MessageTypeScreenShareStart, &ScreenShareStartPayload{}, time.Now())

		var seq []MessageType
		for _, m := range host.received() {
			seq = append(seq, m.Type)
		}
		assert.Equal(t, []MessageType{MessageTypeScreenShareStopped, MessageTypeScreenShareStarted}, seq)
		stopped := host.received()[0].Payload.(*ScreenShareStoppedPayload)
		assert.Equal(t, "alice", stopped.OwnerID)
		assert.Equal(t, "replaced", stopped.Reason)
		assert.Equal(t, "bob", r.party.share.OwnerID)
	})
}

func TestScreenShare_OwnerLeaveStopsSession(t *testing.T) {
	r, host, member := playbackRoom(testOptions())
	sendAt(r, member, MessageTypeScreenShareStart, &ScreenShareStartPayload{}, time.Now())
	host.clearInbox()

	leaveAt(r, member, "disconnect", time.Now())

	var seq []MessageType
	for _, m := range host.received() {
		seq = append(seq, m.Type)
	}
	assert.Equal(t, []MessageType{MessageTypeScreenShareStopped, MessageTypeParticipantLeft}, seq)
	stopped := host.received()[0].Payload.(*ScreenShareStoppedPayload)
	assert.Equal(t, "bob", stopped.OwnerID)
	assert.Equal(t, "owner_left", stopped.Reason)
	assert.Nil(t, r.party.share)
}

func TestScreenShare_SignalRelay(t *testing.T) {
	r, host, member := playbackRoom(testOptions())
	blob := json.RawMessage(`{"sdp":"offer"}`)

	t.Run("no session conflicts", func(t *testing.T) {
		sendAt(r, host, MessageTypeScreenShareSignal, &ScreenShareSignalPayload{TargetID: "bob", Payload: blob}, time.Now())
		m := host.lastOfType(MessageTypeError)
		require.NotNil(t, m)
		assert.Equal(t, CodeConflict, m.Payload.(*ErrorPayload).Code)
	})

	sendAt(r, host, MessageTypeScreenShareStart, &ScreenShareStartPayload{}, time.Now())
	host.clearInbox()
	member.clearInbox()

	t.Run("owner signals viewer", func(t *testing.T) {
		sendAt(r, host, MessageTypeScreenShareSignal, &ScreenShareSignalPayload{TargetID: "bob", Payload: blob}, time.Now())
		m := member.lastOfType(MessageTypeScreenShareSignal)
		require.NotNil(t, m)
		pl := m.Payload.(*ScreenShareSignalRelayPayload)
		assert.Equal(t, "alice", pl.FromID)
		assert.JSONEq(t, `{"sdp":"offer"}`, string(pl.Payload))
		// A signal is never broadcast.
		assert.Equal(t, 0, host.countOfType(MessageTypeScreenShareSignal))
	})

	t.Run("viewer answers owner", func(t *testing.T) {
		sendAt(r, member, MessageTypeScreenShareSignal, &ScreenShareSignalPayload{TargetID: "alice", Payload: blob}, time.Now())
		m := host.lastOfType(MessageTypeScreenShareSignal)
		require.NotNil(t, m)
		assert.Equal(t, "bob", m.Payload.(*ScreenShareSignalRelayPayload).FromID)
	})

	t.Run("viewer to viewer forbidden", func(t *testing.T) {
		c3 := newMockConn("c3", "carol", RoleMember)
		joinAt(r, c3, time.Now())
		member.clearInbox()
		sendAt(r, member, MessageTypeScreenShareSignal, &ScreenShareSignalPayload{TargetID: "carol", Payload: blob}, time.Now())
		m := member.lastOfType(MessageTypeError)
		require.NotNil(t, m)
		assert.Equal(t, CodeForbidden, m.Payload.(*ErrorPayload).Code)
	})

	t.Run("empty target rejected", func(t *testing.T) {
		host.clearInbox()
		sendAt(r, host, MessageTypeScreenShareSignal, &ScreenShareSignalPayload{Payload: blob}, time.Now())
		m := host.lastOfType(MessageTypeError)
		require.NotNil(t, m)
		assert.Equal(t, CodeInvalidPayload, m.Payload.(*ErrorPayload).Code)
	})

	t.Run("self target rejected", func(t *testing.T) {
		host.clearInbox()
		sendAt(r, host, MessageTypeScreenShareSignal, &ScreenShareSignalPayload{TargetID: "alice", Payload: blob}, time.Now())
		m := host.lastOfType(MessageTypeError)
		require.NotNil(t, m)
		assert.Equal(t, CodeInvalidPayload, m.Payload.(*ErrorPayload).Code)
	})

	t.Run("unknown target rejected", func(t *testing.T) {
		host.clearInbox()
		sendAt(r, host, MessageTypeScreenShareSignal, &ScreenShareSignalPayload{TargetID: "nobody", Payload: blob}, time.Now())
		m := host.lastOfType(MessageTypeError)
		require.NotNil(t, m)
		assert.Equal(t, CodeInvalidPayload, m.Payload.(*ErrorPayload).Code)
	})

	t.Run("target without live connection conflicts", func(t *testing.T) {
		// Roster entry outlives a presence entry torn out from under it.
		r.presence.Unregister("cm")
		host.clearInbox()
		sendAt(r, host, MessageTypeScreenShareSignal, &ScreenShareSignalPayload{TargetID: "bob", Payload: blob}, time.Now())
		m := host.lastOfType(MessageTypeError)
		require.NotNil(t, m)
		assert.Equal(t, CodeConflict, m.Payload.(*ErrorPayload).Code)
	})
}
