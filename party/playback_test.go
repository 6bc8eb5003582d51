package party

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// playbackRoom returns a room with a host and a member already joined.
func playbackRoom(opts Options) (*Room, *mockConn, *mockConn) {
	r := newTestRoom(opts)
	host := newMockConn("ch", "alice", RoleMember)
	member := newMockConn("cm", "bob", RoleMember)
	joinAt(r, host, time.Now())
	joinAt(r, member, time.Now())
	host.clearInbox()
	member.clearInbox()
	return r, host, member
}

func videoState(t *testing.T, c *mockConn) *VideoStatePayload {
	t.Helper()
	m := c.lastOfType(MessageTypeVideoStateUpdate)
	require.NotNil(t, m)
	return m.Payload.(*VideoStatePayload)
}

func TestPlayback_PlayBroadcastsAcceptedPosition(t *testing.T) {
	r, host, member := playbackRoom(testOptions())
	at := time.Now()

	sendAt(r, host, MessageTypeVideoPlay, &VideoPlayPayload{PositionMs: 5000}, at)

	// The broadcast is anchored at the arrival time, so the reported
	// position is exactly the accepted one.
	st := videoState(t, member)
	assert.Equal(t, int64(5000), st.PositionMs)
	assert.True(t, st.Playing)
	assert.Equal(t, "alice", st.UpdatedBy)

	// Echo is on by default, so the sender gets the same confirmation.
	assert.Equal(t, int64(5000), videoState(t, host).PositionMs)
}

func TestPlayback_PositionDerivesWhilePlaying(t *testing.T) {
	r, host, member := playbackRoom(testOptions())
	t0 := time.Now()

	sendAt(r, host, MessageTypeVideoPlay, &VideoPlayPayload{PositionMs: 1000}, t0)
	member.clearInbox()

	sendAt(r, member, MessageTypeVideoSyncRequest, &VideoSyncRequestPayload{}, t0.Add(2*time.Second))
	assert.Equal(t, int64(3000), videoState(t, member).PositionMs)

	// The sync reply is a unicast; nobody else hears it.
	assert.Equal(t, 1, host.countOfType(MessageTypeVideoStateUpdate))
}

func TestPlayback_PauseFreezesPosition(t *testing.T) {
	r, host, _ := playbackRoom(testOptions())
	t0 := time.Now()

	sendAt(r, host, MessageTypeVideoPlay, &VideoPlayPayload{PositionMs: 0}, t0)
	sendAt(r, host, MessageTypeVideoPause, &VideoPausePayload{PositionMs: 4800}, t0.Add(5*time.Second))
	host.clearInbox()

	sendAt(r, host, MessageTypeVideoSyncRequest, &VideoSyncRequestPayload{}, t0.Add(10*time.Second))
	st := videoState(t, host)
	assert.Equal(t, int64(4800), st.PositionMs)
	assert.False(t, st.Playing)
}

func TestPlayback_SeekKeepsPlayingFlag(t *testing.T) {
	r, host, _ := playbackRoom(testOptions())
	t0 := time.Now()

	sendAt(r, host, MessageTypeVideoSeek, &VideoSeekPayload{PositionMs: 60000}, t0)
	st := videoState(t, host)
	assert.Equal(t, int64(60000), st.PositionMs)
	assert.False(t, st.Playing)

	sendAt(r, host, MessageTypeVideoPlay, &VideoPlayPayload{PositionMs: 60000}, t0)
	sendAt(r, host, MessageTypeVideoSeek, &VideoSeekPayload{PositionMs: 120000}, t0.Add(time.Second))
	st = videoState(t, host)
	assert.Equal(t, int64(120000), st.PositionMs)
	assert.True(t, st.Playing)
}

func TestPlayback_LoadResetsState(t *testing.T) {
	opts := testOptions()
	opts.InitialVideo = "intro"
	r, host, _ := playbackRoom(opts)
	t0 := time.Now()
	sendAt(r, host, MessageTypeVideoPlay, &VideoPlayPayload{PositionMs: 9000}, t0)
	host.clearInbox()

	sendAt(r, host, MessageTypeVideoLoad, &VideoLoadPayload{VideoID: "feature"}, t0.Add(time.Second))
	st := videoState(t, host)
	assert.Equal(t, "feature", st.VideoID)
	assert.Equal(t, int64(0), st.PositionMs)
	assert.False(t, st.Playing)

	host.clearInbox()
	sendAt(r, host, MessageTypeVideoLoad, &VideoLoadPayload{}, t0.Add(2*time.Second))
	m := host.lastOfType(MessageTypeError)
	require.NotNil(t, m)
	assert.Equal(t, CodeInvalidPayload, m.Payload.(*ErrorPayload).Code)
	assert.Equal(t, "feature", r.party.playback.videoID)
}

func TestPlayback_QualityChangeFoldsPositionForward(t *testing.T) {
	r, host, _ := playbackRoom(testOptions())
	t0 := time.Now()

	sendAt(r, host, MessageTypeVideoPlay, &VideoPlayPayload{PositionMs: 1000}, t0)
	host.clearInbox()

	sendAt(r, host, MessageTypeVideoQualityChange, &VideoQualityChangePayload{Quality: "1080p"}, t0.Add(2*time.Second))
	st := videoState(t, host)
	assert.Equal(t, int64(3000), st.PositionMs)
	assert.Equal(t, "1080p", st.Quality)
	assert.True(t, st.Playing)

	// Re-anchoring did not move the playhead.
	host.clearInbox()
	sendAt(r, host, MessageTypeVideoSyncRequest, &VideoSyncRequestPayload{}, t0.Add(3*time.Second))
	assert.Equal(t, int64(4000), videoState(t, host).PositionMs)
}

func TestPlayback_ControlRequiresRole(t *testing.T) {
	r, host, member := playbackRoom(testOptions())
	host.clearInbox()

	sendAt(r, member, MessageTypeVideoSeek, &VideoSeekPayload{PositionMs: 1000}, time.Now())

	m := member.lastOfType(MessageTypeError)
	require.NotNil(t, m)
	assert.Equal(t, CodeForbidden, m.Payload.(*ErrorPayload).Code)
	assert.Equal(t, 0, host.countOfType(MessageTypeVideoStateUpdate))
	assert.Equal(t, int64(0), r.party.playback.positionMs)
}

func TestPlayback_AnyoneCanControlOverride(t *testing.T) {
	opts := testOptions()
	opts.AnyoneCanControl = true
	r, _, member := playbackRoom(opts)

	sendAt(r, member, MessageTypeVideoPlay, &VideoPlayPayload{PositionMs: 500}, time.Now())
	st := videoState(t, member)
	assert.True(t, st.Playing)
	assert.Equal(t, "bob", st.UpdatedBy)
}

func TestPlayback_NegativePositionRejected(t *testing.T) {
	r, host, _ := playbackRoom(testOptions())
	host.clearInbox()

	sendAt(r, host, MessageTypeVideoPlay, &VideoPlayPayload{PositionMs: -1}, time.Now())
	m := host.lastOfType(MessageTypeError)
	require.NotNil(t, m)
	assert.Equal(t, CodeInvalidPayload, m.Payload.(*ErrorPayload).Code)
	assert.False(t, r.party.playback.playing)
}

func TestPlayback_EchoDisabledExcludesSender(t *testing.T) {
	opts := testOptions()
	opts.PlaybackEcho = false
	r, host, member := playbackRoom(opts)

	sendAt(r, host, MessageTypeVideoPlay, &VideoPlayPayload{PositionMs: 100}, time.Now())
	assert.Equal(t, 0, host.countOfType(MessageTypeVideoStateUpdate))
	assert.Equal(t, 1, member.countOfType(MessageTypeVideoStateUpdate))
}
