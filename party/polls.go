package party

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

func (r *Room) applyPollCreate(pt *Participant, ev *event, pl *PollCreatePayload) ([]outbound, error) {
	if pt.Role < RoleModerator && !r.party.MemberPolls {
		return nil, errForbidden("poll creation requires host or moderator role")
	}
	question := strings.TrimSpace(pl.Question)
	if question == "" {
		return nil, errValidation("question must not be empty")
	}
	if len(pl.Options) < 2 {
		return nil, errValidation("a poll needs at least two options")
	}
	if len(pl.Options) > r.opts.MaxPollOptions {
		return nil, errValidation("a poll allows at most %d options", r.opts.MaxPollOptions)
	}
	seen := make(map[string]struct{}, len(pl.Options))
	options := make([]string, len(pl.Options))
	for i, opt := range pl.Options {
		opt = strings.TrimSpace(opt)
		if opt == "" {
			return nil, errValidation("option %d is empty", i)
		}
		// Tallies are keyed by option label, so labels must be unique.
		if _, dup := seen[opt]; dup {
			return nil, errValidation("duplicate option %q", opt)
		}
		seen[opt] = struct{}{}
		options[i] = opt
	}

	poll := &Poll{
		ID:        uuid.NewString(),
		CreatorID: pt.UserID,
		Question:  question,
		Options:   options,
		Votes:     make(map[string]int),
		Status:    PollStatusOpen,
		CreatedAt: ev.at,
	}
	if pl.DurationS > 0 {
		poll.ClosesAt = ev.at.Add(time.Duration(pl.DurationS) * time.Second)
	}
	r.party.polls[poll.ID] = poll
	return []outbound{broadcast(&Message{
		Type:    MessageTypePollCreated,
		Payload: &PollCreatedPayload{Poll: poll.info()},
	})}, nil
}

func (r *Room) applyPollVote(pt *Participant, pl *PollVotePayload) ([]outbound, error) {
	poll := r.party.polls[pl.PollID]
	if poll == nil {
		return nil, errValidation("poll %q does not exist", pl.PollID)
	}
	if poll.Status == PollStatusClosed {
		return nil, errConflict("poll %q is closed", pl.PollID)
	}
	if pl.OptionIndex < 0 || pl.OptionIndex >= len(poll.Options) {
		return nil, errValidation("option_index out of range")
	}
	// Last vote wins.
	poll.Votes[pt.UserID] = pl.OptionIndex
	return []outbound{broadcast(&Message{
		Type:    MessageTypePollVoteRecorded,
		Payload: &PollVoteRecordedPayload{PollID: poll.ID, Votes: len(poll.Votes)},
	})}, nil
}

func (r *Room) applyPollClose(pt *Participant, pl *PollClosePayload) ([]outbound, error) {
	poll := r.party.polls[pl.PollID]
	if poll == nil {
		return nil, errValidation("poll %q does not exist", pl.PollID)
	}
	if poll.CreatorID != pt.UserID && pt.Role < RoleModerator {
		return nil, errForbidden("only the creator or a moderator may close a poll")
	}
	return r.closePoll(poll), nil
}

// closePoll transitions a poll to closed and builds the final tally
// broadcast. Closing an already closed poll yields nothing, which makes
// explicit close and deadline expiry safely interchangeable.
func (r *Room) closePoll(poll *Poll) []outbound {
	if poll.Status == PollStatusClosed {
		return nil
	}
	poll.Status = PollStatusClosed
	return []outbound{broadcast(&Message{
		Type:    MessageTypePollClosed,
		Payload: &PollClosedPayload{PollID: poll.ID, Tallies: poll.tallies()},
	})}
}
