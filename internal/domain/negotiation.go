package domain

import "encoding/json"

type NegotiationKind string

const (
	KindOffer        NegotiationKind = "offer"
	KindAnswer       NegotiationKind = "answer"
	KindIceCandidate NegotiationKind = "candidate"
)

func (k NegotiationKind) Valid() bool {
	switch k {
	case KindOffer, KindAnswer, KindIceCandidate:
		return true
	}
	return false
}

// NegotiationMessage carries an opaque session description or candidate
// between two participants. Payload is never interpreted by the relay.
// Round increases with every offer a sender makes to the same peer.
type NegotiationMessage struct {
	Kind    NegotiationKind `json:"type"`
	From    ParticipantID   `json:"from"`
	To      ParticipantID   `json:"to"`
	Room    RoomID          `json:"room,omitempty"`
	Round   uint32          `json:"round,omitempty"`
	Payload json.RawMessage `json:"payload"`
}
