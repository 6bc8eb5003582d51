package party

import "strings"

const maxEmojiLength = 64

func (r *Room) applyChatMessage(pt *Participant, ev *event, pl *ChatMessagePayload) ([]outbound, error) {
	text := strings.TrimSpace(pl.Text)
	if text == "" {
		return nil, errValidation("text must not be empty")
	}
	if len(text) > r.opts.MaxChatLength {
		return nil, errValidation("text exceeds %d bytes", r.opts.MaxChatLength)
	}
	p := r.party
	if pl.ParentID != nil && (*pl.ParentID == 0 || *pl.ParentID > p.chatSeq) {
		return nil, errValidation("parent_id %d does not exist", ptrVal(pl.ParentID))
	}

	p.chatSeq++
	cm := &ChatMessage{
		Seq:      p.chatSeq,
		UserID:   pt.UserID,
		Text:     text,
		ParentID: pl.ParentID,
		SentAt:   ev.at,
	}
	p.chat.append(cm)
	return []outbound{broadcast(&Message{
		Type:    MessageTypeChatMessage,
		Payload: cm.broadcast(),
	})}, nil
}

func (r *Room) applyChatEdit(pt *Participant, pl *ChatEditPayload) ([]outbound, error) {
	text := strings.TrimSpace(pl.Text)
	if text == "" {
		return nil, errValidation("text must not be empty")
	}
	if len(text) > r.opts.MaxChatLength {
		return nil, errValidation("text exceeds %d bytes", r.opts.MaxChatLength)
	}
	cm := r.party.chat.find(pl.Seq)
	if cm == nil {
		// Never assigned, or already rotated out of the ring.
		return nil, errConflict("message %d is not editable", pl.Seq)
	}
	if cm.UserID != pt.UserID {
		return nil, errForbidden("only the author may edit a message")
	}
	cm.Text = text
	cm.Edited = true
	return []outbound{broadcast(&Message{
		Type:    MessageTypeChatMessage,
		Payload: cm.broadcast(),
	})}, nil
}

func (r *Room) applyTypingStart(pt *Participant, ev *event) ([]outbound, error) {
	p := r.party
	_, active := p.typing[pt.UserID]
	p.typing[pt.UserID] = ev.at.Add(r.opts.TypingTTL)
	if active {
		// Refresh only; the room already saw the start.
		return nil, nil
	}
	return []outbound{broadcast(&Message{
		Type:    MessageTypeChatTyping,
		Payload: &TypingPayload{UserID: pt.UserID, Typing: true},
	})}, nil
}

func (r *Room) applyTypingStop(pt *Participant) ([]outbound, error) {
	if _, ok := r.party.typing[pt.UserID]; !ok {
		return nil, nil
	}
	delete(r.party.typing, pt.UserID)
	return []outbound{broadcast(&Message{
		Type:    MessageTypeChatTyping,
		Payload: &TypingPayload{UserID: pt.UserID, Typing: false},
	})}, nil
}

// applyReaction is a stateless pass-through; nothing is recorded.
func (r *Room) applyReaction(pt *Participant, pl *ReactionPayload) ([]outbound, error) {
	if pl.Emoji == "" {
		return nil, errValidation("emoji must not be empty")
	}
	if len(pl.Emoji) > maxEmojiLength {
		return nil, errValidation("emoji exceeds %d bytes", maxEmojiLength)
	}
	return []outbound{broadcast(&Message{
		Type: MessageTypeReaction,
		Payload: &ReactionBroadcastPayload{
			UserID: pt.UserID,
			Emoji:  pl.Emoji,
			X:      pl.X,
			Y:      pl.Y,
		},
	})}, nil
}

func ptrVal(v *uint64) uint64 {
	if v == nil {
		return 0
	}
	return *v
}
