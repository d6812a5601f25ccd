package conference

import (
	"encoding/json"
	"io"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/dkeye/orbit/internal/domain"
	"github.com/dkeye/orbit/internal/rtc"
)

type fakeSink struct{ from domain.ParticipantID }

func (s *fakeSink) ID() string                { return "audio-" + string(s.from) }
func (s *fakeSink) StreamID() string          { return string(s.from) }
func (s *fakeSink) Kind() webrtc.RTPCodecType { return webrtc.RTPCodecTypeAudio }
func (s *fakeSink) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	return nil, nil, io.EOF
}

// loopConn pretends media starts flowing as soon as both descriptions are set.
type loopConn struct {
	remote domain.ParticipantID
	ev     rtc.ConnectionEvents
	sink   *fakeSink

	mu     sync.Mutex
	closed bool
}

func (c *loopConn) CreateOffer() (json.RawMessage, error) {
	return json.RawMessage(`{"type":"offer","sdp":"o"}`), nil
}

func (c *loopConn) ApplyOffer(json.RawMessage) (json.RawMessage, error) {
	go c.ev.OnTrack(c.sink)
	return json.RawMessage(`{"type":"answer","sdp":"a"}`), nil
}

func (c *loopConn) ApplyAnswer(json.RawMessage) error {
	go c.ev.OnTrack(c.sink)
	return nil
}

func (c *loopConn) AddICECandidate(json.RawMessage) error { return nil }

func (c *loopConn) SetTracks([]webrtc.TrackLocal) (bool, error) { return false, nil }

func (c *loopConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.ev.OnState(rtc.TransportClosed)
	return nil
}

func loopFactory(remote domain.ParticipantID, ev rtc.ConnectionEvents) (rtc.MediaConnection, error) {
	return &loopConn{remote: remote, ev: ev, sink: &fakeSink{from: remote}}, nil
}

type notices struct {
	mu    sync.Mutex
	texts []string
}

func (n *notices) Notify(text string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.texts = append(n.texts, text)
}

func (n *notices) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.texts)
}
