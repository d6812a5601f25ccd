package signaling

import (
	"encoding/json"

	"github.com/dkeye/orbit/internal/domain"
)

// Wire types shared by the relay, WSChannel and RedisChannel.
const (
	TypeJoin         = "join"
	TypeJoined       = "joined"
	TypeLeave        = "leave"
	TypeLeft         = "left"
	TypeMemberJoined = "member_joined"
	TypeMemberLeft   = "member_left"
	TypePing         = "ping"
	TypePong         = "pong"
	TypeError        = "error"
)

type Envelope struct {
	Type        string                 `json:"type"`
	Room        domain.RoomID          `json:"room,omitempty"`
	Participant domain.ParticipantID   `json:"participant,omitempty"`
	Name        string                 `json:"name,omitempty"`
	From        domain.ParticipantID   `json:"from,omitempty"`
	To          domain.ParticipantID   `json:"to,omitempty"`
	Round       uint32                 `json:"round,omitempty"`
	Payload     json.RawMessage        `json:"payload,omitempty"`
	Members     []domain.ParticipantID `json:"members,omitempty"`
	Error       string                 `json:"error,omitempty"`
}

func (e Envelope) IsNegotiation() bool {
	return domain.NegotiationKind(e.Type).Valid()
}

func (e Envelope) Negotiation() domain.NegotiationMessage {
	return domain.NegotiationMessage{
		Kind:    domain.NegotiationKind(e.Type),
		From:    e.From,
		To:      e.To,
		Room:    e.Room,
		Round:   e.Round,
		Payload: e.Payload,
	}
}

func EnvelopeOf(msg domain.NegotiationMessage) Envelope {
	return Envelope{
		Type:    string(msg.Kind),
		Room:    msg.Room,
		From:    msg.From,
		To:      msg.To,
		Round:   msg.Round,
		Payload: msg.Payload,
	}
}
