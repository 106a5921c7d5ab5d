package domain

import (
	"time"

	"github.com/google/uuid"
)

type QuestionID string

func NewQuestionID() QuestionID { return QuestionID(uuid.NewString()) }

// Question upvoters form a set, not a counter, so a double upvote is a no-op.
type Question struct {
	ID         QuestionID                 `json:"id"`
	AskerID    ParticipantID              `json:"askerId"`
	Content    string                     `json:"content"`
	IsAnswered bool                       `json:"isAnswered"`
	Answer     string                     `json:"answer,omitempty"`
	AnswererID ParticipantID              `json:"answererId,omitempty"`
	Upvoters   map[ParticipantID]struct{} `json:"-"`
	AskedAt    time.Time                  `json:"askedAt"`
}

func (q *Question) UpvoteCount() int { return len(q.Upvoters) }
