// Package signaling exchanges membership and negotiation messages between
// participants of a room.
package signaling

import (
	"context"

	"github.com/dkeye/orbit/internal/domain"
)

type EventKind int

const (
	MemberJoined EventKind = iota
	MemberLeft
	NegotiationReceived
)

func (k EventKind) String() string {
	switch k {
	case MemberJoined:
		return "member_joined"
	case MemberLeft:
		return "member_left"
	case NegotiationReceived:
		return "negotiation"
	default:
		return "unknown"
	}
}

// Event is delivered to the handlers of the local participant Local.
// Snapshot marks a MemberJoined produced from the member list returned to a
// joiner; the joiner must not offer to those members.
type Event struct {
	Kind        EventKind
	Room        domain.RoomID
	Local       domain.ParticipantID
	Participant domain.ParticipantID
	Snapshot    bool
	Message     *domain.NegotiationMessage
}

type Handler func(Event)

// Channel is the transport-agnostic signaling contract. Send, Join and Leave
// fail with core.ErrChannelUnavailable when the transport is down; nothing
// is retried.
type Channel interface {
	Join(ctx context.Context, room domain.RoomID, self domain.ParticipantID) error
	Leave(ctx context.Context, room domain.RoomID, self domain.ParticipantID) error
	Send(ctx context.Context, msg domain.NegotiationMessage) error
	// On registers h for kind. Handlers of one kind run in registration
	// order on the channel's dispatch goroutine.
	On(kind EventKind, h Handler)
	Close() error
}
