package signal

import (
	"encoding/json"

	"github.com/stagecast/engine/internal/domain"
)

// MessageType tags every frame on the signaling channel. The set is closed:
// new kinds are added here and handled in the engine dispatcher, not through
// ad hoc string keys.
type MessageType string

const (
	TypeJoinSession       MessageType = "join-session"
	TypeParticipantJoined MessageType = "participant-joined"
	TypeParticipantLeft   MessageType = "participant-left"

	TypeOffer        MessageType = "webrtc-offer"
	TypeAnswer       MessageType = "webrtc-answer"
	TypeICECandidate MessageType = "ice-candidate"

	TypeMediaState MessageType = "update-media-state"

	TypeSendMessage    MessageType = "send-message"
	TypeNewMessage     MessageType = "new-message"
	TypeMessageSent    MessageType = "message-sent"
	TypeDeleteMessage  MessageType = "delete-message"
	TypeMessageDeleted MessageType = "message-deleted"
	TypeReactMessage   MessageType = "react-message"
	TypeMessageReacted MessageType = "message-reacted"

	TypeAskQuestion      MessageType = "ask-question"
	TypeNewQuestion      MessageType = "new-question"
	TypeQuestionAsked    MessageType = "question-asked"
	TypeAnswerQuestion   MessageType = "answer-question"
	TypeQuestionAnswered MessageType = "question-answered"
	TypeUpvoteQuestion   MessageType = "upvote-question"
	TypeQuestionUpvoted  MessageType = "question-upvoted"

	TypeCreatePoll  MessageType = "create-poll"
	TypeNewPoll     MessageType = "new-poll"
	TypePollCreated MessageType = "poll-created"
	TypeSubmitVote  MessageType = "submit-vote"
	TypeVoteCast    MessageType = "vote-cast"
	TypePollVoted   MessageType = "poll-voted"
	TypeClosePoll   MessageType = "close-poll"
	TypePollClosed  MessageType = "poll-closed"

	TypeFileStart MessageType = "file-start"
	TypeFileChunk MessageType = "file-chunk"
	TypeFileEnd   MessageType = "file-end"

	TypeError MessageType = "error"
)

// Known reports whether t belongs to the closed message set.
func (t MessageType) Known() bool {
	switch t {
	case TypeJoinSession, TypeParticipantJoined, TypeParticipantLeft,
		TypeOffer, TypeAnswer, TypeICECandidate,
		TypeMediaState,
		TypeSendMessage, TypeNewMessage, TypeMessageSent,
		TypeDeleteMessage, TypeMessageDeleted,
		TypeReactMessage, TypeMessageReacted,
		TypeAskQuestion, TypeNewQuestion, TypeQuestionAsked,
		TypeAnswerQuestion, TypeQuestionAnswered,
		TypeUpvoteQuestion, TypeQuestionUpvoted,
		TypeCreatePoll, TypeNewPoll, TypePollCreated,
		TypeSubmitVote, TypeVoteCast, TypePollVoted,
		TypeClosePoll, TypePollClosed,
		TypeFileStart, TypeFileChunk, TypeFileEnd,
		TypeError:
		return true
	}
	return false
}

// Envelope is the single frame shape on the wire. From is re-assigned by the
// relay on inbound frames; To routes targeted frames (offers, answers,
// candidates) to one member instead of the whole session.
type Envelope struct {
	Type    MessageType     `json:"type"`
	To      string          `json:"to,omitempty"`
	From    string          `json:"from,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type JoinSessionPayload struct {
	SessionID domain.SessionID `json:"sessionId"`
}

type ParticipantJoinedPayload struct {
	UserID      domain.ParticipantID `json:"userId"`
	DisplayName string               `json:"displayName,omitempty"`
	Role        domain.Role          `json:"role,omitempty"`
}

type ParticipantLeftPayload struct {
	UserID domain.ParticipantID `json:"userId"`
}

type MediaStatePayload struct {
	IsMuted      *bool `json:"isMuted,omitempty"`
	VideoEnabled *bool `json:"videoEnabled,omitempty"`
}

type ErrorPayload struct {
	Error string `json:"error"`
}
