package party

func (r *Room) applyVoiceJoin(pt *Participant) ([]outbound, error) {
	if pt.Voice.Joined {
		return nil, errConflict("already in voice chat")
	}
	pt.Voice.Joined = true
	pt.Voice.Muted = false
	return []outbound{r.voiceStateBroadcast(pt, false)}, nil
}

func (r *Room) applyVoiceLeave(pt *Participant) ([]outbound, error) {
	if !pt.Voice.Joined {
		return nil, errConflict("not in voice chat")
	}
	pt.Voice.Joined = false
	pt.Voice.Muted = false
	return []outbound{r.voiceStateBroadcast(pt, false)}, nil
}

func (r *Room) applyVoiceMute(pt *Participant, pl *VoiceMutePayload) ([]outbound, error) {
	target := pt
	forced := false
	if pl.TargetID != "" && pl.TargetID != pt.UserID {
		if pt.Role < RoleModerator {
			return nil, errForbidden("muting another participant requires moderator role")
		}
		target = r.party.participant(pl.TargetID)
		if target == nil {
			return nil, errValidation("participant %q does not exist", pl.TargetID)
		}
		forced = true
	}
	if !target.Voice.Joined {
		return nil, errConflict("participant is not in voice chat")
	}
	if target.Voice.Muted {
		return nil, nil
	}
	target.Voice.Muted = true
	return []outbound{r.voiceStateBroadcast(target, forced)}, nil
}

// Unmute is self-service only; a moderator cannot unmute someone else.
func (r *Room) applyVoiceUnmute(pt *Participant) ([]outbound, error) {
	if !pt.Voice.Joined {
		return nil, errConflict("not in voice chat")
	}
	if !pt.Voice.Muted {
		return nil, nil
	}
	pt.Voice.Muted = false
	return []outbound{r.voiceStateBroadcast(pt, false)}, nil
}

// applyVoiceActivity relays speaking transitions. A muted participant is
// never reported as speaking; such frames are dropped without error.
func (r *Room) applyVoiceActivity(pt *Participant, pl *VoiceActivityPayload) ([]outbound, error) {
	if !pt.Voice.Joined {
		return nil, errConflict("not in voice chat")
	}
	if pl.Speaking && pt.Voice.Muted {
		return nil, nil
	}
	return []outbound{broadcast(&Message{
		Type:    MessageTypeVoiceActivity,
		Payload: &VoiceActivityBroadcastPayload{UserID: pt.UserID, Speaking: pl.Speaking},
	})}, nil
}

func (r *Room) voiceStateBroadcast(pt *Participant, forced bool) outbound {
	return broadcast(&Message{
		Type: MessageTypeVoiceState,
		Payload: &VoiceStatePayload{
			UserID: pt.UserID,
			Joined: pt.Voice.Joined,
			Muted:  pt.Voice.Muted,
			Forced: forced,
		},
	})
}
