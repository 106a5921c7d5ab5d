package collab

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/stagecast/engine/internal/domain"
	"github.com/stagecast/engine/internal/signal"
)

type SendMessagePayload struct {
	SessionID domain.SessionID `json:"sessionId"`
	Content   string           `json:"content"`
}

type DeleteMessagePayload struct {
	SessionID domain.SessionID `json:"sessionId"`
	MessageID domain.MessageID `json:"messageId"`
}

type MessageDeletedPayload struct {
	MessageID domain.MessageID `json:"messageId"`
}

type ReactMessagePayload struct {
	SessionID domain.SessionID `json:"sessionId"`
	MessageID domain.MessageID `json:"messageId"`
	Emoji     string           `json:"emoji"`
}

type MessageReactedPayload struct {
	MessageID domain.MessageID `json:"messageId"`
	Reactions map[string]int   `json:"reactions"`
}

// ChatStore is the local cache of the session's chat. Append-only except for
// delete-by-id and reaction summary replacement.
type ChatStore struct {
	tx        Transport
	confirm   *Confirmer
	sessionID domain.SessionID
	log       zerolog.Logger

	mu    sync.RWMutex
	order []domain.MessageID
	byID  map[domain.MessageID]*domain.ChatMessage
}

func NewChatStore(tx Transport, confirm *Confirmer, sessionID domain.SessionID) *ChatStore {
	return &ChatStore{
		tx:        tx,
		confirm:   confirm,
		sessionID: sessionID,
		log:       log.With().Str("module", "collab.chat").Logger(),
		byID:      make(map[domain.MessageID]*domain.ChatMessage),
	}
}

// Send submits a chat message and waits for the hub's confirmation. The
// message appears locally only via the new-message push, so a timed-out
// retry with a fresh hub id cannot duplicate a record here.
func (s *ChatStore) Send(ctx context.Context, content string) error {
	m := s.confirm.Begin(signal.TypeMessageSent)
	if err := s.tx.Send(signal.TypeSendMessage, SendMessagePayload{SessionID: s.sessionID, Content: content}); err != nil {
		s.confirm.Cancel(signal.TypeMessageSent, m)
		return err
	}
	_, err := s.confirm.Await(ctx, signal.TypeMessageSent, m)
	return err
}

func (s *ChatStore) Delete(ctx context.Context, id domain.MessageID) error {
	m := s.confirm.Begin(signal.TypeMessageDeleted)
	if err := s.tx.Send(signal.TypeDeleteMessage, DeleteMessagePayload{SessionID: s.sessionID, MessageID: id}); err != nil {
		s.confirm.Cancel(signal.TypeMessageDeleted, m)
		return err
	}
	_, err := s.confirm.Await(ctx, signal.TypeMessageDeleted, m)
	return err
}

func (s *ChatStore) React(ctx context.Context, id domain.MessageID, emoji string) error {
	m := s.confirm.Begin(signal.TypeMessageReacted)
	if err := s.tx.Send(signal.TypeReactMessage, ReactMessagePayload{SessionID: s.sessionID, MessageID: id, Emoji: emoji}); err != nil {
		s.confirm.Cancel(signal.TypeMessageReacted, m)
		return err
	}
	_, err := s.confirm.Await(ctx, signal.TypeMessageReacted, m)
	return err
}

// ApplyNew merges a pushed message; replays of the same id are no-ops.
func (s *ChatStore) ApplyNew(msg domain.ChatMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[msg.ID]; ok {
		return
	}
	cp := msg
	s.byID[msg.ID] = &cp
	s.order = append(s.order, msg.ID)
}

func (s *ChatStore) ApplyDeleted(id domain.MessageID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[id]; !ok {
		return
	}
	delete(s.byID, id)
	for i, mid := range s.order {
		if mid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// ApplyReactions replaces the reaction summary wholesale, which makes a
// replayed event naturally idempotent.
func (s *ChatStore) ApplyReactions(id domain.MessageID, reactions map[string]int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.byID[id]
	if !ok {
		return
	}
	msg.Reactions = reactions
}

// Seed prepends persisted history fetched from the hub's REST surface,
// deduped against anything already pushed live.
func (s *ChatStore) Seed(history []domain.ChatMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prepend := make([]domain.MessageID, 0, len(history))
	for i := range history {
		msg := history[i]
		if _, ok := s.byID[msg.ID]; ok {
			continue
		}
		cp := msg
		s.byID[msg.ID] = &cp
		prepend = append(prepend, msg.ID)
	}
	s.order = append(prepend, s.order...)
}

func (s *ChatStore) Messages() []domain.ChatMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.ChatMessage, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.byID[id])
	}
	return out
}

func (s *ChatStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}
