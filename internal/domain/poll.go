package domain

import "github.com/google/uuid"

type PollID string

func NewPollID() PollID { return PollID(uuid.NewString()) }

type PollOption struct {
	Index int    `json:"index"`
	Label string `json:"label"`
	Votes int    `json:"votes"`
}

// Poll never allows more than one vote per participant; voters are tracked
// as a set so a replayed vote event cannot double count.
type Poll struct {
	ID       PollID                     `json:"id"`
	Question string                     `json:"question"`
	Options  []PollOption               `json:"options"`
	IsActive bool                       `json:"isActive"`
	HasVoted bool                       `json:"hasCurrentUserVoted"`
	Voters   map[ParticipantID]struct{} `json:"-"`
}

func (p *Poll) TotalVotes() int {
	n := 0
	for _, o := range p.Options {
		n += o.Votes
	}
	return n
}

// LeadingOption returns the option with the highest vote count. Ties are
// broken by whichever tied option comes first.
func (p *Poll) LeadingOption() (PollOption, bool) {
	if len(p.Options) == 0 {
		return PollOption{}, false
	}
	lead := p.Options[0]
	for _, o := range p.Options[1:] {
		if o.Votes > lead.Votes {
			lead = o
		}
	}
	return lead, true
}
