package collab

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/stagecast/engine/internal/domain"
	"github.com/stagecast/engine/internal/signal"
)

var (
	ErrAlreadyVoted = errors.New("already voted in this poll")
	ErrPollClosed   = errors.New("poll is not active")
	ErrUnknownPoll  = errors.New("unknown poll")
)

type CreatePollPayload struct {
	SessionID domain.SessionID `json:"sessionId"`
	Question  string           `json:"question"`
	Options   []string         `json:"options"`
}

type NewPollPayload struct {
	ID       domain.PollID `json:"id"`
	Question string        `json:"question"`
	Options  []string      `json:"options"`
	IsActive bool          `json:"isActive"`
}

type SubmitVotePayload struct {
	SessionID   domain.SessionID     `json:"sessionId"`
	PollID      domain.PollID        `json:"pollId"`
	OptionIndex int                  `json:"optionIndex"`
	UserID      domain.ParticipantID `json:"userId"`
}

type VoteCastPayload struct {
	PollID      domain.PollID        `json:"pollId"`
	OptionIndex int                  `json:"optionIndex"`
	VoterID     domain.ParticipantID `json:"voterId"`
}

type ClosePollPayload struct {
	SessionID domain.SessionID `json:"sessionId"`
	PollID    domain.PollID    `json:"pollId"`
}

type PollClosedPayload struct {
	PollID domain.PollID `json:"pollId"`
}

// PollStore caches the session's polls. Votes are tracked per voter id, so
// a replayed vote-cast event is a no-op and one participant can never add
// more than one vote to a poll.
type PollStore struct {
	tx        Transport
	confirm   *Confirmer
	sessionID domain.SessionID
	selfID    domain.ParticipantID
	log       zerolog.Logger

	mu       sync.RWMutex
	order    []domain.PollID
	byID     map[domain.PollID]*domain.Poll
	inflight map[domain.PollID]struct{}
}

func NewPollStore(tx Transport, confirm *Confirmer, sessionID domain.SessionID, selfID domain.ParticipantID) *PollStore {
	return &PollStore{
		tx:        tx,
		confirm:   confirm,
		sessionID: sessionID,
		selfID:    selfID,
		log:       log.With().Str("module", "collab.polls").Logger(),
		byID:      make(map[domain.PollID]*domain.Poll),
		inflight:  make(map[domain.PollID]struct{}),
	}
}

// Create is host-side: publish a new poll to the session.
func (s *PollStore) Create(ctx context.Context, question string, options []string) error {
	m := s.confirm.Begin(signal.TypePollCreated)
	p := CreatePollPayload{SessionID: s.sessionID, Question: question, Options: options}
	if err := s.tx.Send(signal.TypeCreatePoll, p); err != nil {
		s.confirm.Cancel(signal.TypePollCreated, m)
		return err
	}
	_, err := s.confirm.Await(ctx, signal.TypePollCreated, m)
	return err
}

// Vote submits exactly one vote for one option. Double submission before
// the confirmation returns, and voting twice, are both refused locally.
func (s *PollStore) Vote(ctx context.Context, id domain.PollID, optionIndex int) error {
	s.mu.Lock()
	poll, ok := s.byID[id]
	if !ok {
		s.mu.Unlock()
		return ErrUnknownPoll
	}
	if !poll.IsActive {
		s.mu.Unlock()
		return ErrPollClosed
	}
	if optionIndex < 0 || optionIndex >= len(poll.Options) {
		s.mu.Unlock()
		return errors.New("option index out of range")
	}
	if poll.HasVoted {
		s.mu.Unlock()
		return ErrAlreadyVoted
	}
	if _, busy := s.inflight[id]; busy {
		s.mu.Unlock()
		return ErrAlreadyVoted
	}
	s.inflight[id] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.inflight, id)
		s.mu.Unlock()
	}()

	m := s.confirm.Begin(signal.TypePollVoted)
	p := SubmitVotePayload{SessionID: s.sessionID, PollID: id, OptionIndex: optionIndex, UserID: s.selfID}
	if err := s.tx.Send(signal.TypeSubmitVote, p); err != nil {
		s.confirm.Cancel(signal.TypePollVoted, m)
		return err
	}
	_, err := s.confirm.Await(ctx, signal.TypePollVoted, m)
	return err
}

func (s *PollStore) Close(ctx context.Context, id domain.PollID) error {
	m := s.confirm.Begin(signal.TypePollClosed)
	if err := s.tx.Send(signal.TypeClosePoll, ClosePollPayload{SessionID: s.sessionID, PollID: id}); err != nil {
		s.confirm.Cancel(signal.TypePollClosed, m)
		return err
	}
	_, err := s.confirm.Await(ctx, signal.TypePollClosed, m)
	return err
}

func (s *PollStore) ApplyNew(p NewPollPayload) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[p.ID]; ok {
		return
	}
	opts := make([]domain.PollOption, len(p.Options))
	for i, label := range p.Options {
		opts[i] = domain.PollOption{Index: i, Label: label}
	}
	s.byID[p.ID] = &domain.Poll{
		ID:       p.ID,
		Question: p.Question,
		Options:  opts,
		IsActive: p.IsActive,
		Voters:   make(map[domain.ParticipantID]struct{}),
	}
	s.order = append(s.order, p.ID)
}

// ApplyVote increments exactly one option's count, once per voter.
func (s *PollStore) ApplyVote(p VoteCastPayload) {
	s.mu.Lock()
	defer s.mu.Unlock()
	poll, ok := s.byID[p.PollID]
	if !ok {
		return
	}
	if _, seen := poll.Voters[p.VoterID]; seen {
		return
	}
	if p.OptionIndex < 0 || p.OptionIndex >= len(poll.Options) {
		s.log.Debug().Str("poll", string(p.PollID)).Int("option", p.OptionIndex).Msg("vote for unknown option, dropped")
		return
	}
	poll.Voters[p.VoterID] = struct{}{}
	poll.Options[p.OptionIndex].Votes++
	if p.VoterID == s.selfID {
		poll.HasVoted = true
	}
}

func (s *PollStore) ApplyClosed(p PollClosedPayload) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if poll, ok := s.byID[p.PollID]; ok {
		poll.IsActive = false
	}
}

func (s *PollStore) Polls() []domain.Poll {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Poll, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.copyLocked(id))
	}
	return out
}

func (s *PollStore) Get(id domain.PollID) (domain.Poll, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.byID[id]; !ok {
		return domain.Poll{}, false
	}
	return s.copyLocked(id), true
}

func (s *PollStore) copyLocked(id domain.PollID) domain.Poll {
	p := *s.byID[id]
	p.Options = append([]domain.PollOption(nil), p.Options...)
	voters := make(map[domain.ParticipantID]struct{}, len(p.Voters))
	for v := range p.Voters {
		voters[v] = struct{}{}
	}
	p.Voters = voters
	return p
}
