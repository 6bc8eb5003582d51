package party

import "time"

// canControl reports whether the participant may issue playback control
// events under the party's permission flags.
func (r *Room) canControl(pt *Participant) bool {
	return pt.Role >= RoleModerator || r.party.AnyoneCanControl
}

// controlBroadcast builds the authoritative state broadcast issued after
// an accepted control event, honouring the self-echo flag.
func (r *Room) controlBroadcast(ev *event, now time.Time) outbound {
	m := r.videoStateMessage(now)
	if r.opts.PlaybackEcho {
		return broadcast(m)
	}
	return broadcast(m, ev.conn.ID())
}

func (r *Room) applyPlay(pt *Participant, ev *event, pl *VideoPlayPayload) ([]outbound, error) {
	if !r.canControl(pt) {
		return nil, errForbidden("playback control requires host or moderator role")
	}
	if pl.PositionMs < 0 {
		return nil, errValidation("position_ms must not be negative")
	}
	// Anchoring on the arrival time keeps the derived position immune
	// to queueing delay inside the room.
	r.party.playback.set(pl.PositionMs, true, pt.UserID, ev.at)
	return []outbound{r.controlBroadcast(ev, ev.at)}, nil
}

func (r *Room) applyPause(pt *Participant, ev *event, pl *VideoPausePayload) ([]outbound, error) {
	if !r.canControl(pt) {
		return nil, errForbidden("playback control requires host or moderator role")
	}
	if pl.PositionMs < 0 {
		return nil, errValidation("position_ms must not be negative")
	}
	r.party.playback.set(pl.PositionMs, false, pt.UserID, ev.at)
	return []outbound{r.controlBroadcast(ev, ev.at)}, nil
}

func (r *Room) applySeek(pt *Participant, ev *event, pl *VideoSeekPayload) ([]outbound, error) {
	if !r.canControl(pt) {
		return nil, errForbidden("playback control requires host or moderator role")
	}
	if pl.PositionMs < 0 {
		return nil, errValidation("position_ms must not be negative")
	}
	st := r.party.playback
	st.set(pl.PositionMs, st.playing, pt.UserID, ev.at)
	return []outbound{r.controlBroadcast(ev, ev.at)}, nil
}

func (r *Room) applyLoad(pt *Participant, ev *event, pl *VideoLoadPayload) ([]outbound, error) {
	if !r.canControl(pt) {
		return nil, errForbidden("playback control requires host or moderator role")
	}
	if pl.VideoID == "" {
		return nil, errValidation("video_id must not be empty")
	}
	st := r.party.playback
	st.videoID = pl.VideoID
	st.set(0, false, pt.UserID, ev.at)
	return []outbound{r.controlBroadcast(ev, ev.at)}, nil
}

func (r *Room) applyQualityChange(pt *Participant, ev *event, pl *VideoQualityChangePayload) ([]outbound, error) {
	if !r.canControl(pt) {
		return nil, errForbidden("playback control requires host or moderator role")
	}
	if pl.Quality == "" {
		return nil, errValidation("quality must not be empty")
	}
	// Fold the derived position forward so re-anchoring updatedAt does
	// not move the playhead.
	st := r.party.playback
	st.set(st.PositionAt(ev.at), st.playing, pt.UserID, ev.at)
	st.quality = pl.Quality
	return []outbound{r.controlBroadcast(ev, ev.at)}, nil
}

// applySyncRequest replies only to the requester with the state derived
// as of the request's arrival. Any participant may ask.
func (r *Room) applySyncRequest(ev *event) ([]outbound, error) {
	return []outbound{unicast(ev.conn, r.videoStateMessage(ev.at))}, nil
}
