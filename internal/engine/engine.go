// Package engine ties the session together: one transport, one peer mesh,
// the synchronized collections and the file transfer endpoints, all keyed
// by a single session id. It is an explicit value, not a singleton; the UI
// layer holds a reference.
package engine

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/stagecast/engine/internal/collab"
	"github.com/stagecast/engine/internal/domain"
	"github.com/stagecast/engine/internal/mesh"
	"github.com/stagecast/engine/internal/signal"
	"github.com/stagecast/engine/internal/transfer"
)

// Transport is the slice of the signaling client the engine drives. It is
// an interface so tests can run the whole dispatch path without a relay.
type Transport interface {
	Connect(ctx context.Context) error
	Send(t signal.MessageType, payload any) error
	SendTo(to domain.ParticipantID, t signal.MessageType, payload any) error
	On(t signal.MessageType, h signal.Handler)
	OnDown(fn func(error))
	Connected() bool
	Close()
}

type Options struct {
	SessionID domain.SessionID
	Self      domain.Participant

	WebRTC webrtc.Configuration

	ConfirmTimeout time.Duration

	ChunkSize int
	PaceEvery int
	PaceDelay time.Duration

	// FileSink receives reassembled inbound files.
	FileSink transfer.Sink
}

type Engine struct {
	sessionID domain.SessionID
	self      domain.Participant
	tx        Transport
	log       zerolog.Logger

	mesh    *mesh.Coordinator
	confirm *collab.Confirmer

	chat      *collab.ChatStore
	questions *collab.QuestionStore
	polls     *collab.PollStore

	files *transfer.Sender
	recv  *transfer.Receiver

	roster *roster
}

func New(tx Transport, opts Options) *Engine {
	confirm := collab.NewConfirmer(opts.ConfirmTimeout)
	e := &Engine{
		sessionID: opts.SessionID,
		self:      opts.Self,
		tx:        tx,
		log:       log.With().Str("module", "engine").Str("session", string(opts.SessionID)).Logger(),
		mesh:      mesh.NewCoordinator(opts.WebRTC, tx),
		confirm:   confirm,
		chat:      collab.NewChatStore(tx, confirm, opts.SessionID),
		questions: collab.NewQuestionStore(tx, confirm, opts.SessionID, opts.Self.ID),
		polls:     collab.NewPollStore(tx, confirm, opts.SessionID, opts.Self.ID),
		files:     transfer.NewSender(tx, opts.ChunkSize, opts.PaceEvery, opts.PaceDelay),
		recv:      transfer.NewReceiver(opts.FileSink),
		roster:    newRoster(),
	}
	e.bind()
	return e
}

// bind registers the dispatcher: one handler per message kind in the closed
// set. Adding a kind means adding a constant and a handler here, nothing
// string-keyed.
func (e *Engine) bind() {
	e.tx.On(signal.TypeParticipantJoined, e.onParticipantJoined)
	e.tx.On(signal.TypeParticipantLeft, e.onParticipantLeft)

	e.tx.On(signal.TypeOffer, e.onOffer)
	e.tx.On(signal.TypeAnswer, e.onAnswer)
	e.tx.On(signal.TypeICECandidate, e.onCandidate)

	e.tx.On(signal.TypeMediaState, e.onMediaState)

	e.tx.On(signal.TypeNewMessage, e.onNewMessage)
	e.tx.On(signal.TypeMessageSent, e.confirmOnly(signal.TypeMessageSent))
	e.tx.On(signal.TypeMessageDeleted, e.onMessageDeleted)
	e.tx.On(signal.TypeMessageReacted, e.onMessageReacted)

	e.tx.On(signal.TypeNewQuestion, e.onNewQuestion)
	e.tx.On(signal.TypeQuestionAsked, e.confirmOnly(signal.TypeQuestionAsked))
	e.tx.On(signal.TypeQuestionAnswered, e.onQuestionAnswered)
	e.tx.On(signal.TypeQuestionUpvoted, e.onQuestionUpvoted)

	e.tx.On(signal.TypeNewPoll, e.onNewPoll)
	e.tx.On(signal.TypePollCreated, e.confirmOnly(signal.TypePollCreated))
	e.tx.On(signal.TypeVoteCast, e.onVoteCast)
	e.tx.On(signal.TypePollVoted, e.confirmOnly(signal.TypePollVoted))
	e.tx.On(signal.TypePollClosed, e.onPollClosed)

	e.tx.On(signal.TypeFileStart, e.onFileStart)
	e.tx.On(signal.TypeFileChunk, e.onFileChunk)
	e.tx.On(signal.TypeFileEnd, e.onFileEnd)

	e.tx.On(signal.TypeError, e.onError)

	e.tx.OnDown(func(err error) {
		if err != nil {
			e.log.Error().Err(err).Msg("transport down")
		}
		e.mesh.CloseAll()
	})
}

// Run connects and serves the session until ctx ends.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.tx.Connect(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	e.tx.Close()
	return nil
}

func (e *Engine) Chat() *collab.ChatStore            { return e.chat }
func (e *Engine) Questions() *collab.QuestionStore   { return e.questions }
func (e *Engine) Polls() *collab.PollStore           { return e.polls }
func (e *Engine) Mesh() *mesh.Coordinator            { return e.mesh }
func (e *Engine) Transfers() *transfer.Receiver      { return e.recv }
func (e *Engine) Self() domain.Participant           { return e.self }
func (e *Engine) SessionID() domain.SessionID        { return e.sessionID }
func (e *Engine) Connected() bool                    { return e.tx.Connected() }
func (e *Engine) Participants() []domain.Participant { return e.roster.snapshot() }

// SendFile transmits a file to the session over the signaling channel.
func (e *Engine) SendFile(ctx context.Context, name, mime string, data []byte) (domain.TransferID, error) {
	return e.files.Send(ctx, name, mime, data)
}

// SetMediaState flips local mute/video flags and announces them.
func (e *Engine) SetMediaState(isMuted, videoEnabled *bool) error {
	p := signal.MediaStatePayload{IsMuted: isMuted, VideoEnabled: videoEnabled}
	if isMuted != nil {
		e.self.AudioEnabled = !*isMuted
	}
	if videoEnabled != nil {
		e.self.VideoEnabled = *videoEnabled
	}
	return e.tx.Send(signal.TypeMediaState, p)
}

// SetLocalTracks hands the outbound media tracks to the mesh; all track
// lifecycle flows through the coordinator from here on.
func (e *Engine) SetLocalTracks(audio, video webrtc.TrackLocal) {
	e.mesh.SetLocalTracks(audio, video)
}

// ReplaceVideoTrack swaps outbound video on every live link.
func (e *Engine) ReplaceVideoTrack(track webrtc.TrackLocal) error {
	return e.mesh.ReplaceVideoTrack(track)
}

func (e *Engine) onParticipantJoined(env signal.Envelope) {
	var p signal.ParticipantJoinedPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		e.log.Error().Err(err).Msg("bad participant-joined payload")
		return
	}
	if p.UserID == e.self.ID {
		return
	}
	e.roster.upsert(domain.Participant{ID: p.UserID, DisplayName: p.DisplayName, Role: p.Role})
	e.log.Info().Str("peer", string(p.UserID)).Msg("participant joined")

	// The existing member offers; the joiner only answers.
	if err := e.mesh.OfferTo(p.UserID); err != nil {
		e.log.Error().Err(err).Str("peer", string(p.UserID)).Msg("offer failed")
	}
}

func (e *Engine) onParticipantLeft(env signal.Envelope) {
	var p signal.ParticipantLeftPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		e.log.Error().Err(err).Msg("bad participant-left payload")
		return
	}
	e.roster.remove(p.UserID)
	e.mesh.ClosePeer(p.UserID)
	e.log.Info().Str("peer", string(p.UserID)).Msg("participant left")
}

func (e *Engine) onOffer(env signal.Envelope) {
	var p mesh.OfferPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		e.log.Error().Err(err).Msg("bad offer payload")
		return
	}
	from := domain.ParticipantID(env.From)
	// An offer can arrive before any roster event for its sender.
	if !e.roster.known(from) {
		e.roster.upsert(domain.Participant{ID: from})
	}
	if err := e.mesh.HandleOffer(from, p); err != nil {
		e.log.Error().Err(err).Str("peer", env.From).Msg("answer failed")
	}
}

func (e *Engine) onAnswer(env signal.Envelope) {
	var p mesh.AnswerPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		e.log.Error().Err(err).Msg("bad answer payload")
		return
	}
	if err := e.mesh.HandleAnswer(domain.ParticipantID(env.From), p); err != nil {
		e.log.Error().Err(err).Str("peer", env.From).Msg("apply answer failed")
	}
}

func (e *Engine) onCandidate(env signal.Envelope) {
	var p mesh.CandidatePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		e.log.Error().Err(err).Msg("bad candidate payload")
		return
	}
	if err := e.mesh.HandleCandidate(domain.ParticipantID(env.From), p); err != nil {
		e.log.Error().Err(err).Str("peer", env.From).Msg("add candidate failed")
	}
}

func (e *Engine) onMediaState(env signal.Envelope) {
	var p signal.MediaStatePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		e.log.Error().Err(err).Msg("bad media-state payload")
		return
	}
	e.roster.setMediaState(domain.ParticipantID(env.From), p)
}

func (e *Engine) onNewMessage(env signal.Envelope) {
	var msg domain.ChatMessage
	if err := json.Unmarshal(env.Payload, &msg); err != nil {
		e.log.Error().Err(err).Msg("bad new-message payload")
		return
	}
	e.chat.ApplyNew(msg)
}

func (e *Engine) onMessageDeleted(env signal.Envelope) {
	var p collab.MessageDeletedPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		e.log.Error().Err(err).Msg("bad message-deleted payload")
		return
	}
	e.chat.ApplyDeleted(p.MessageID)
	e.confirm.Deliver(signal.TypeMessageDeleted, env.Payload)
}

func (e *Engine) onMessageReacted(env signal.Envelope) {
	var p collab.MessageReactedPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		e.log.Error().Err(err).Msg("bad message-reacted payload")
		return
	}
	e.chat.ApplyReactions(p.MessageID, p.Reactions)
	e.confirm.Deliver(signal.TypeMessageReacted, env.Payload)
}

func (e *Engine) onNewQuestion(env signal.Envelope) {
	var p collab.NewQuestionPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		e.log.Error().Err(err).Msg("bad new-question payload")
		return
	}
	e.questions.ApplyNew(p)
}

func (e *Engine) onQuestionAnswered(env signal.Envelope) {
	var p collab.QuestionAnsweredPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		e.log.Error().Err(err).Msg("bad question-answered payload")
		return
	}
	e.questions.ApplyAnswered(p)
	e.confirm.Deliver(signal.TypeQuestionAnswered, env.Payload)
}

func (e *Engine) onQuestionUpvoted(env signal.Envelope) {
	var p collab.QuestionUpvotedPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		e.log.Error().Err(err).Msg("bad question-upvoted payload")
		return
	}
	e.questions.ApplyUpvoted(p)
	e.confirm.Deliver(signal.TypeQuestionUpvoted, env.Payload)
}

func (e *Engine) onNewPoll(env signal.Envelope) {
	var p collab.NewPollPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		e.log.Error().Err(err).Msg("bad new-poll payload")
		return
	}
	e.polls.ApplyNew(p)
}

func (e *Engine) onVoteCast(env signal.Envelope) {
	var p collab.VoteCastPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		e.log.Error().Err(err).Msg("bad vote-cast payload")
		return
	}
	e.polls.ApplyVote(p)
}

func (e *Engine) onPollClosed(env signal.Envelope) {
	var p collab.PollClosedPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		e.log.Error().Err(err).Msg("bad poll-closed payload")
		return
	}
	e.polls.ApplyClosed(p)
	e.confirm.Deliver(signal.TypePollClosed, env.Payload)
}

func (e *Engine) onFileStart(env signal.Envelope) {
	var p transfer.StartPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		e.log.Error().Err(err).Msg("bad file-start payload")
		return
	}
	e.recv.HandleStart(p)
}

func (e *Engine) onFileChunk(env signal.Envelope) {
	var p transfer.ChunkPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		e.log.Error().Err(err).Msg("bad file-chunk payload")
		return
	}
	e.recv.HandleChunk(p)
}

func (e *Engine) onFileEnd(env signal.Envelope) {
	var p transfer.EndPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		e.log.Error().Err(err).Msg("bad file-end payload")
		return
	}
	e.recv.HandleEnd(p)
}

func (e *Engine) onError(env signal.Envelope) {
	var p signal.ErrorPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		e.log.Error().Err(err).Msg("bad error payload")
		return
	}
	e.log.Warn().Str("error", p.Error).Msg("relay error")
}

// confirmOnly is for message kinds that exist purely as confirmations.
func (e *Engine) confirmOnly(t signal.MessageType) signal.Handler {
	return func(env signal.Envelope) {
		e.confirm.Deliver(t, env.Payload)
	}
}
