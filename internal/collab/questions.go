package collab

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/stagecast/engine/internal/domain"
	"github.com/stagecast/engine/internal/signal"
)

type AskQuestionPayload struct {
	SessionID domain.SessionID `json:"sessionId"`
	Content   string           `json:"content"`
}

type NewQuestionPayload struct {
	ID      domain.QuestionID    `json:"id"`
	AskerID domain.ParticipantID `json:"askerId"`
	Content string               `json:"content"`
	AskedAt time.Time            `json:"askedAt"`
}

type AnswerQuestionPayload struct {
	SessionID  domain.SessionID  `json:"sessionId"`
	QuestionID domain.QuestionID `json:"questionId"`
	Answer     string            `json:"answer"`
}

type QuestionAnsweredPayload struct {
	QuestionID domain.QuestionID    `json:"questionId"`
	Answer     string               `json:"answer"`
	AnswererID domain.ParticipantID `json:"answererId"`
}

type UpvoteQuestionPayload struct {
	SessionID  domain.SessionID     `json:"sessionId"`
	QuestionID domain.QuestionID    `json:"questionId"`
	UserID     domain.ParticipantID `json:"userId"`
}

type QuestionUpvotedPayload struct {
	QuestionID domain.QuestionID      `json:"questionId"`
	Upvotes    []domain.ParticipantID `json:"upvotes"`
}

// QuestionStore is the local Q&A cache. Upvoters are a set so replayed
// upvote events cannot double count.
type QuestionStore struct {
	tx        Transport
	confirm   *Confirmer
	sessionID domain.SessionID
	selfID    domain.ParticipantID
	log       zerolog.Logger

	mu       sync.RWMutex
	order    []domain.QuestionID
	byID     map[domain.QuestionID]*domain.Question
	inflight map[domain.QuestionID]struct{}
}

func NewQuestionStore(tx Transport, confirm *Confirmer, sessionID domain.SessionID, selfID domain.ParticipantID) *QuestionStore {
	return &QuestionStore{
		tx:        tx,
		confirm:   confirm,
		sessionID: sessionID,
		selfID:    selfID,
		log:       log.With().Str("module", "collab.qa").Logger(),
		byID:      make(map[domain.QuestionID]*domain.Question),
		inflight:  make(map[domain.QuestionID]struct{}),
	}
}

func (s *QuestionStore) Ask(ctx context.Context, content string) error {
	m := s.confirm.Begin(signal.TypeQuestionAsked)
	if err := s.tx.Send(signal.TypeAskQuestion, AskQuestionPayload{SessionID: s.sessionID, Content: content}); err != nil {
		s.confirm.Cancel(signal.TypeQuestionAsked, m)
		return err
	}
	_, err := s.confirm.Await(ctx, signal.TypeQuestionAsked, m)
	return err
}

func (s *QuestionStore) Answer(ctx context.Context, id domain.QuestionID, answer string) error {
	m := s.confirm.Begin(signal.TypeQuestionAnswered)
	if err := s.tx.Send(signal.TypeAnswerQuestion, AnswerQuestionPayload{SessionID: s.sessionID, QuestionID: id, Answer: answer}); err != nil {
		s.confirm.Cancel(signal.TypeQuestionAnswered, m)
		return err
	}
	_, err := s.confirm.Await(ctx, signal.TypeQuestionAnswered, m)
	return err
}

// Upvote counts at most once per participant per question. A second call
// before the first confirmation returns, or after this user's upvote is
// already in the set, is a no-op.
func (s *QuestionStore) Upvote(ctx context.Context, id domain.QuestionID) error {
	s.mu.Lock()
	if q, ok := s.byID[id]; ok {
		if _, voted := q.Upvoters[s.selfID]; voted {
			s.mu.Unlock()
			return nil
		}
	}
	if _, busy := s.inflight[id]; busy {
		s.mu.Unlock()
		return nil
	}
	s.inflight[id] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.inflight, id)
		s.mu.Unlock()
	}()

	m := s.confirm.Begin(signal.TypeQuestionUpvoted)
	p := UpvoteQuestionPayload{SessionID: s.sessionID, QuestionID: id, UserID: s.selfID}
	if err := s.tx.Send(signal.TypeUpvoteQuestion, p); err != nil {
		s.confirm.Cancel(signal.TypeQuestionUpvoted, m)
		return err
	}
	_, err := s.confirm.Await(ctx, signal.TypeQuestionUpvoted, m)
	return err
}

func (s *QuestionStore) ApplyNew(p NewQuestionPayload) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[p.ID]; ok {
		return
	}
	s.byID[p.ID] = &domain.Question{
		ID:       p.ID,
		AskerID:  p.AskerID,
		Content:  p.Content,
		AskedAt:  p.AskedAt,
		Upvoters: make(map[domain.ParticipantID]struct{}),
	}
	s.order = append(s.order, p.ID)
}

func (s *QuestionStore) ApplyAnswered(p QuestionAnsweredPayload) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.byID[p.QuestionID]
	if !ok {
		return
	}
	q.IsAnswered = true
	q.Answer = p.Answer
	q.AnswererID = p.AnswererID
}

// ApplyUpvoted replaces the upvoter set with the hub's authoritative list;
// applying the same event twice leaves the set unchanged.
func (s *QuestionStore) ApplyUpvoted(p QuestionUpvotedPayload) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.byID[p.QuestionID]
	if !ok {
		return
	}
	set := make(map[domain.ParticipantID]struct{}, len(p.Upvotes))
	for _, id := range p.Upvotes {
		set[id] = struct{}{}
	}
	q.Upvoters = set
}

func (s *QuestionStore) Questions() []domain.Question {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Question, 0, len(s.order))
	for _, id := range s.order {
		q := *s.byID[id]
		// Copy the set so callers cannot mutate store state.
		up := make(map[domain.ParticipantID]struct{}, len(q.Upvoters))
		for v := range q.Upvoters {
			up[v] = struct{}{}
		}
		q.Upvoters = up
		out = append(out, q)
	}
	return out
}

func (s *QuestionStore) Get(id domain.QuestionID) (domain.Question, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.byID[id]
	if !ok {
		return domain.Question{}, false
	}
	cp := *q
	up := make(map[domain.ParticipantID]struct{}, len(q.Upvoters))
	for v := range q.Upvoters {
		up[v] = struct{}{}
	}
	cp.Upvoters = up
	return cp, true
}
