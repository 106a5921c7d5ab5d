package domain

import (
	"time"

	"github.com/google/uuid"
)

type MessageID string

func NewMessageID() MessageID { return MessageID(uuid.NewString()) }

type MessageKind string

const (
	MessageText         MessageKind = "text"
	MessageSystem       MessageKind = "system"
	MessageAnnouncement MessageKind = "announcement"
)

// ChatMessage is append-only per client view. A delete event removes it by
// id; the only in-place mutation is replacing the reaction summary.
type ChatMessage struct {
	ID         MessageID      `json:"id"`
	SenderID   ParticipantID  `json:"senderId"`
	SenderName string         `json:"senderName"`
	Content    string         `json:"content"`
	Kind       MessageKind    `json:"kind"`
	SentAt     time.Time      `json:"sentAt"`
	Reactions  map[string]int `json:"reactions,omitempty"`
}
