package party

func (r *Room) applyShareStart(pt *Participant, ev *event) ([]outbound, error) {
	p := r.party
	if p.share != nil {
		if p.share.OwnerID == pt.UserID {
			return nil, errConflict("already sharing")
		}
		if r.opts.ShareTakeover == TakeoverReject {
			return nil, errConflict("another screen share is active")
		}
		prev := p.share.OwnerID
		p.share = &ScreenShareSession{OwnerID: pt.UserID, StartedAt: ev.at}
		return []outbound{
			broadcast(&Message{
				Type:    MessageTypeScreenShareStopped,
				Payload: &ScreenShareStoppedPayload{OwnerID: prev, Reason: "replaced"},
			}),
			broadcast(&Message{
				Type:    MessageTypeScreenShareStarted,
				Payload: &ScreenShareStartedPayload{OwnerID: pt.UserID},
			}),
		}, nil
	}
	p.share = &ScreenShareSession{OwnerID: pt.UserID, StartedAt: ev.at}
	return []outbound{broadcast(&Message{
		Type:    MessageTypeScreenShareStarted,
		Payload: &ScreenShareStartedPayload{OwnerID: pt.UserID},
	})}, nil
}

func (r *Room) applyShareStop(pt *Participant) ([]outbound, error) {
	p := r.party
	if p.share == nil {
		return nil, errConflict("no screen share is active")
	}
	if p.share.OwnerID != pt.UserID && pt.Role < RoleModerator {
		return nil, errForbidden("only the owner or a moderator may stop a screen share")
	}
	owner := p.share.OwnerID
	p.share = nil
	return []outbound{broadcast(&Message{
		Type:    MessageTypeScreenShareStopped,
		Payload: &ScreenShareStoppedPayload{OwnerID: owner},
	})}, nil
}

// applyShareSignal relays an opaque negotiation blob to one target
// connection. One end of the exchange must be the session owner; the
// payload is never inspected and never broadcast.
func (r *Room) applyShareSignal(pt *Participant, pl *ScreenShareSignalPayload) ([]outbound, error) {
	p := r.party
	if p.share == nil {
		return nil, errConflict("no screen share is active")
	}
	if pl.TargetID == "" {
		return nil, errValidation("target_id must not be empty")
	}
	if pl.TargetID == pt.UserID {
		return nil, errValidation("cannot signal yourself")
	}
	if pt.UserID != p.share.OwnerID && pl.TargetID != p.share.OwnerID {
		return nil, errForbidden("signals must involve the share owner")
	}
	target := p.participant(pl.TargetID)
	if target == nil {
		return nil, errValidation("participant %q does not exist", pl.TargetID)
	}
	tc, ok := r.presence.Get(target.ConnID)
	if !ok {
		return nil, errConflict("participant %q has no live connection", pl.TargetID)
	}
	return []outbound{unicast(tc, &Message{
		Type:    MessageTypeScreenShareSignal,
		Payload: &ScreenShareSignalRelayPayload{FromID: pt.UserID, Payload: pl.Payload},
	})}, nil
}
