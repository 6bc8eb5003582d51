package party

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlaybackState_PositionAt(t *testing.T) {
	t0 := time.Now()
	st := newPlaybackState(t0)

	// Paused state reports the stored position regardless of the clock.
	st.set(1500, false, "alice", t0)
	assert.Equal(t, int64(1500), st.PositionAt(t0.Add(time.Minute)))

	st.set(1500, true, "alice", t0)
	assert.Equal(t, int64(1500), st.PositionAt(t0))
	assert.Equal(t, int64(4500), st.PositionAt(t0.Add(3*time.Second)))

	snap := st.snapshot(t0.Add(time.Second))
	assert.Equal(t, int64(2500), snap.PositionMs)
	assert.Equal(t, "auto", snap.Quality)
	assert.Equal(t, "alice", snap.UpdatedBy)
}

func TestChatRing_Rotation(t *testing.T) {
	ring := newChatRing(3)
	assert.Equal(t, 0, ring.len())

	for i := uint64(1); i <= 4; i++ {
		ring.append(&ChatMessage{Seq: i})
	}
	assert.Equal(t, 3, ring.len())
	assert.Nil(t, ring.find(1))
	require.NotNil(t, ring.find(2))
	require.NotNil(t, ring.find(4))
}

func TestChatRing_MinimumCapacity(t *testing.T) {
	ring := newChatRing(0)
	ring.append(&ChatMessage{Seq: 1})
	assert.Equal(t, 1, ring.len())
	ring.append(&ChatMessage{Seq: 2})
	assert.Equal(t, 1, ring.len())
	assert.Nil(t, ring.find(1))
}

func TestParty_ElectHost(t *testing.T) {
	now := time.Now()

	t.Run("higher role beats earlier join", func(t *testing.T) {
		p := newParty("p1", DefaultOptions(), now)
		p.addParticipant("early", RoleMember, "c1", now)
		p.addParticipant("late", RoleModerator, "c2", now)
		assert.Equal(t, "late", p.electHost().UserID)
	})

	t.Run("join order breaks ties", func(t *testing.T) {
		p := newParty("p1", DefaultOptions(), now)
		p.addParticipant("first", RoleMember, "c1", now)
		p.addParticipant("second", RoleMember, "c2", now)
		p.addParticipant("third", RoleMember, "c3", now)
		assert.Equal(t, "first", p.electHost().UserID)
	})
}

func TestParty_RosterOrderedByJoin(t *testing.T) {
	now := time.Now()
	p := newParty("p1", DefaultOptions(), now)
	p.addParticipant("b", RoleMember, "c1", now)
	p.addParticipant("a", RoleMember, "c2", now)
	p.addParticipant("c", RoleMember, "c3", now)

	roster := p.roster()
	require.Len(t, roster, 3)
	assert.Equal(t, "b", roster[0].UserID)
	assert.Equal(t, "a", roster[1].UserID)
	assert.Equal(t, "c", roster[2].UserID)
}

func TestPoll_Tallies(t *testing.T) {
	poll := &Poll{
		Options: []string{"yes", "no"},
		Votes:   map[string]int{"alice": 0, "bob": 0, "carol": 1, "dave": 9},
	}
	// Options without votes appear with a zero count; an out-of-range
	// ballot is ignored.
	assert.Equal(t, map[string]int{"yes": 2, "no": 1}, poll.tallies())
}

func TestParty_SnapshotShape(t *testing.T) {
	now := time.Now()
	opts := DefaultOptions()
	opts.InitialVideo = "trailer"
	opts.AnyoneCanControl = true
	p := newParty("p1", opts, now)
	p.addParticipant("alice", RoleHost, "c1", now)
	p.HostID = "alice"

	snap := p.snapshot(now)
	assert.Equal(t, "p1", snap.PartyID)
	assert.Equal(t, "waiting", snap.Status)
	assert.Equal(t, "alice", snap.HostID)
	assert.True(t, snap.Permissions.AnyoneCanControl)
	assert.False(t, snap.Permissions.MemberPolls)
	require.NotNil(t, snap.Playback)
	assert.Equal(t, "trailer", snap.Playback.VideoID)
	assert.Nil(t, snap.ScreenShare)
	assert.Empty(t, snap.Polls)
	assert.Equal(t, uint64(0), snap.ChatSeq)
}

func TestParseRole(t *testing.T) {
	assert.Equal(t, RoleHost, ParseRole("host"))
	assert.Equal(t, RoleModerator, ParseRole("moderator"))
	assert.Equal(t, RoleMember, ParseRole("member"))
	assert.Equal(t, RoleMember, ParseRole("superuser"))
	assert.Equal(t, RoleMember, ParseRole(""))
}

func TestRole_Ordering(t *testing.T) {
	assert.True(t, RoleHost > RoleModerator)
	assert.True(t, RoleModerator > RoleMember)
	assert.Equal(t, "host", RoleHost.String())
	assert.Equal(t, "moderator", RoleModerator.String())
	assert.Equal(t, "member", RoleMember.String())
}

func TestUnixMs(t *testing.T) {
	assert.Equal(t, int64(0), unixMs(time.Time{}))
	at := time.UnixMilli(1700000000123)
	assert.Equal(t, int64(1700000000123), unixMs(at))
}

func TestParseTakeoverPolicy(t *testing.T) {
	assert.Equal(t, TakeoverReplace, ParseTakeoverPolicy("replace"))
	assert.Equal(t, TakeoverReject, ParseTakeoverPolicy("reject"))
	assert.Equal(t, TakeoverReject, ParseTakeoverPolicy(""))
}
