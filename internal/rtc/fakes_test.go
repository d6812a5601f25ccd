package rtc

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/dkeye/orbit/internal/domain"
)

type fakeConn struct {
	remote domain.ParticipantID
	ev     ConnectionEvents

	mu          sync.Mutex
	offers      int
	answers     int
	applied     []json.RawMessage
	candidates  []json.RawMessage
	tracks      []webrtc.TrackLocal
	renegotiate bool
	closed      bool
	failOffer   error
}

func (c *fakeConn) CreateOffer() (json.RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failOffer != nil {
		return nil, c.failOffer
	}
	c.offers++
	return json.RawMessage(`{"type":"offer","sdp":"o"}`), nil
}

func (c *fakeConn) ApplyOffer(offer json.RawMessage) (json.RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if string(offer) == "bad" {
		return nil, errors.New("bad sdp")
	}
	c.answers++
	c.applied = append(c.applied, offer)
	return json.RawMessage(`{"type":"answer","sdp":"a"}`), nil
}

func (c *fakeConn) ApplyAnswer(answer json.RawMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.applied = append(c.applied, answer)
	return nil
}

func (c *fakeConn) AddICECandidate(cand json.RawMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.candidates = append(c.candidates, cand)
	return nil
}

func (c *fakeConn) SetTracks(tracks []webrtc.TrackLocal) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tracks = tracks
	return c.renegotiate, nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	// pion reports closed synchronously from Close.
	if c.ev.OnState != nil {
		c.ev.OnState(TransportClosed)
	}
	return nil
}

func (c *fakeConn) candidateCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.candidates)
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type fakeFactory struct {
	mu    sync.Mutex
	conns map[domain.ParticipantID][]*fakeConn
	// renegotiate is copied into new connections.
	renegotiate bool
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{conns: make(map[domain.ParticipantID][]*fakeConn)}
}

func (f *fakeFactory) New(remote domain.ParticipantID, ev ConnectionEvents) (MediaConnection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := &fakeConn{remote: remote, ev: ev, renegotiate: f.renegotiate}
	f.conns[remote] = append(f.conns[remote], c)
	return c, nil
}

func (f *fakeFactory) last(remote domain.ParticipantID) *fakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	cs := f.conns[remote]
	if len(cs) == 0 {
		return nil
	}
	return cs[len(cs)-1]
}

func (f *fakeFactory) count(remote domain.ParticipantID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.conns[remote])
}

type fakeSink struct {
	id string
}

func (s *fakeSink) ID() string                { return s.id }
func (s *fakeSink) StreamID() string          { return "stream-" + s.id }
func (s *fakeSink) Kind() webrtc.RTPCodecType { return webrtc.RTPCodecTypeAudio }
func (s *fakeSink) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	return nil, nil, errors.New("not readable")
}

type fakeSource struct {
	tracks []webrtc.TrackLocal
}

func (s fakeSource) Tracks() []webrtc.TrackLocal { return s.tracks }
