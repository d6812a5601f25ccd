// Package rtc keeps one negotiated media link per remote participant.
package rtc

import (
	"encoding/json"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/dkeye/orbit/internal/domain"
)

// TransportState is what a MediaConnection reports about its network path.
type TransportState int

const (
	TransportConnected TransportState = iota
	TransportDisconnected
	TransportFailed
	TransportClosed
)

func (s TransportState) String() string {
	switch s {
	case TransportConnected:
		return "connected"
	case TransportDisconnected:
		return "disconnected"
	case TransportFailed:
		return "failed"
	default:
		return "closed"
	}
}

// MediaSink is a negotiated incoming stream. *webrtc.TrackRemote satisfies it.
type MediaSink interface {
	ID() string
	StreamID() string
	Kind() webrtc.RTPCodecType
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// Source is the local outgoing media shared read-only by every link.
type Source interface {
	Tracks() []webrtc.TrackLocal
}

// ConnectionEvents are invoked from transport goroutines.
type ConnectionEvents struct {
	OnCandidate func(candidate json.RawMessage)
	OnTrack     func(sink MediaSink)
	OnState     func(state TransportState)
}

// MediaConnection is the point-to-point transport behind one PeerLink.
// Payloads are opaque JSON session descriptions and candidates.
type MediaConnection interface {
	CreateOffer() (json.RawMessage, error)
	ApplyOffer(offer json.RawMessage) (answer json.RawMessage, err error)
	ApplyAnswer(answer json.RawMessage) error
	AddICECandidate(candidate json.RawMessage) error
	// SetTracks binds the outgoing tracks. It reports whether the change
	// needs a new offer/answer exchange to take effect.
	SetTracks(tracks []webrtc.TrackLocal) (renegotiate bool, err error)
	Close() error
}

type ConnectionFactory func(remote domain.ParticipantID, ev ConnectionEvents) (MediaConnection, error)
