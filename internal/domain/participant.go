// Package domain contains entities without logic, just meta-data.
package domain

import (
	"errors"

	"github.com/google/uuid"
)

const MaxDisplayNameLen = 64

var (
	ErrDisplayNameTooLong = errors.New("display name too long")
	ErrDisplayNameEmpty   = errors.New("display name empty")
)

type ParticipantID string

type Role string

const (
	RoleHost     Role = "host"
	RoleAttendee Role = "attendee"
)

// Participant is the local cache entry for one session member.
// Authoritative membership lives on the relay.
type Participant struct {
	ID           ParticipantID `json:"id"`
	DisplayName  string        `json:"displayName"`
	Role         Role          `json:"role"`
	AudioEnabled bool          `json:"audioEnabled"`
	VideoEnabled bool          `json:"videoEnabled"`
}

func NewParticipant(name string, role Role) (*Participant, error) {
	if len(name) == 0 {
		return nil, ErrDisplayNameEmpty
	}
	if len(name) > MaxDisplayNameLen {
		return nil, ErrDisplayNameTooLong
	}
	return &Participant{
		ID:           ParticipantID(uuid.NewString()),
		DisplayName:  name,
		Role:         role,
		AudioEnabled: true,
		VideoEnabled: true,
	}, nil
}

type SessionID string
