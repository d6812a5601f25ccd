// Package domain contains entities without logic, just meta-data
package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

const MaxDisplayNameLen = 36

var (
	ErrDisplayNameTooLong = errors.New("display name too long")
	ErrDisplayNameEmpty   = errors.New("display name empty")
)

type (
	ParticipantID string
	RoomID        string
	UserID        string
)

// NewParticipantID is generated once per join and never reused.
func NewParticipantID() ParticipantID {
	return ParticipantID(uuid.NewString())
}

// Participant is what a roster shows for one membership.
type Participant struct {
	ID          ParticipantID `json:"id"`
	User        UserID        `json:"user,omitempty"`
	DisplayName string        `json:"name,omitempty"`
}

func (p *Participant) SetDisplayName(name string) error {
	if len(name) == 0 {
		return ErrDisplayNameEmpty
	}
	if len(name) > MaxDisplayNameLen {
		return ErrDisplayNameTooLong
	}
	p.DisplayName = name
	return nil
}

// RoomMembership exists from join until leave or disconnect detection.
type RoomMembership struct {
	Room        RoomID        `json:"room"`
	Participant ParticipantID `json:"participant"`
	JoinedAt    time.Time     `json:"joined_at"`
}

func NewMembership(room RoomID, pid ParticipantID) RoomMembership {
	return RoomMembership{Room: room, Participant: pid, JoinedAt: time.Now()}
}
