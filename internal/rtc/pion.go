package rtc

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/orbit/internal/domain"
)

func DefaultWebRTCConfig(iceServers []string) webrtc.Configuration {
	if len(iceServers) == 0 {
		iceServers = []string{"stun:stun.l.google.com:19302", "stun:stun1.l.google.com:19302"}
	}
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: iceServers}},
	}
}

// NewAPI builds a pion API with the default codecs and interceptors. A nil
// setting engine uses pion's defaults.
func NewAPI(se *webrtc.SettingEngine) (*webrtc.API, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}
	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, ir); err != nil {
		return nil, err
	}
	opts := []func(*webrtc.API){webrtc.WithMediaEngine(m), webrtc.WithInterceptorRegistry(ir)}
	if se != nil {
		opts = append(opts, webrtc.WithSettingEngine(*se))
	}
	return webrtc.NewAPI(opts...), nil
}

// NewPionFactory returns a factory producing PionConnections.
func NewPionFactory(api *webrtc.API, cfg webrtc.Configuration) ConnectionFactory {
	return func(remote domain.ParticipantID, ev ConnectionEvents) (MediaConnection, error) {
		return NewPionConnection(api, cfg, remote, ev)
	}
}

type sender struct {
	rtp  *webrtc.RTPSender
	mime string
}

// PionConnection wraps a *webrtc.PeerConnection with trickle ICE.
type PionConnection struct {
	pc     *webrtc.PeerConnection
	remote domain.ParticipantID

	mu      sync.Mutex
	senders map[webrtc.RTPCodecType]*sender
}

func NewPionConnection(api *webrtc.API, cfg webrtc.Configuration, remote domain.ParticipantID, ev ConnectionEvents) (*PionConnection, error) {
	var (
		pc  *webrtc.PeerConnection
		err error
	)
	if api != nil {
		pc, err = api.NewPeerConnection(cfg)
	} else {
		pc, err = webrtc.NewPeerConnection(cfg)
	}
	if err != nil {
		return nil, err
	}
	c := &PionConnection{pc: pc, remote: remote, senders: make(map[webrtc.RTPCodecType]*sender)}

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil || ev.OnCandidate == nil {
			return
		}
		b, err := json.Marshal(cand.ToJSON())
		if err != nil {
			log.Error().Err(err).Str("module", "rtc.pion").Msg("marshal candidate")
			return
		}
		ev.OnCandidate(b)
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "rtc.pion").
			Str("remote", string(remote)).
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("remote track")
		if ev.OnTrack != nil {
			ev.OnTrack(track)
		}
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "rtc.pion").Str("remote", string(remote)).Str("state", s.String()).Msg("peer state")
		if ev.OnState == nil {
			return
		}
		switch s {
		case webrtc.PeerConnectionStateConnected:
			ev.OnState(TransportConnected)
		case webrtc.PeerConnectionStateDisconnected:
			ev.OnState(TransportDisconnected)
		case webrtc.PeerConnectionStateFailed:
			ev.OnState(TransportFailed)
		case webrtc.PeerConnectionStateClosed:
			ev.OnState(TransportClosed)
		}
	})

	return c, nil
}

func (c *PionConnection) CreateOffer() (json.RawMessage, error) {
	if err := c.ensureReceivers(); err != nil {
		return nil, err
	}
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return nil, err
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return nil, err
	}
	return json.Marshal(c.pc.LocalDescription())
}

// ensureReceivers makes an offer carry audio and video sections even when
// nothing local is published, so the remote side can send.
func (c *PionConnection) ensureReceivers() error {
	have := map[webrtc.RTPCodecType]bool{}
	for _, t := range c.pc.GetTransceivers() {
		have[t.Kind()] = true
	}
	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
		if have[kind] {
			continue
		}
		if _, err := c.pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (c *PionConnection) ApplyOffer(raw json.RawMessage) (json.RawMessage, error) {
	var offer webrtc.SessionDescription
	if err := json.Unmarshal(raw, &offer); err != nil {
		return nil, fmt.Errorf("decode offer: %w", err)
	}
	if offer.Type != webrtc.SDPTypeOffer {
		return nil, fmt.Errorf("expected offer, got %s", offer.Type)
	}
	if err := c.pc.SetRemoteDescription(offer); err != nil {
		return nil, err
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return nil, err
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return nil, err
	}
	return json.Marshal(c.pc.LocalDescription())
}

func (c *PionConnection) ApplyAnswer(raw json.RawMessage) error {
	var answer webrtc.SessionDescription
	if err := json.Unmarshal(raw, &answer); err != nil {
		return fmt.Errorf("decode answer: %w", err)
	}
	if answer.Type != webrtc.SDPTypeAnswer {
		return fmt.Errorf("expected answer, got %s", answer.Type)
	}
	return c.pc.SetRemoteDescription(answer)
}

func (c *PionConnection) AddICECandidate(raw json.RawMessage) error {
	var ci webrtc.ICECandidateInit
	if err := json.Unmarshal(raw, &ci); err != nil {
		return fmt.Errorf("decode candidate: %w", err)
	}
	return c.pc.AddICECandidate(ci)
}

// SetTracks swaps same-codec tracks in place with ReplaceTrack. A codec
// change or a new kind replaces the sender and needs renegotiation.
func (c *PionConnection) SetTracks(tracks []webrtc.TrackLocal) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	want := make(map[webrtc.RTPCodecType]webrtc.TrackLocal, len(tracks))
	for _, t := range tracks {
		want[t.Kind()] = t
	}

	renegotiate := false
	for kind, s := range c.senders {
		t, ok := want[kind]
		delete(want, kind)
		switch {
		case !ok:
			if err := s.rtp.ReplaceTrack(nil); err != nil {
				return renegotiate, err
			}
		case mimeOf(t) == s.mime:
			if err := s.rtp.ReplaceTrack(t); err != nil {
				return renegotiate, err
			}
		default:
			if err := c.pc.RemoveTrack(s.rtp); err != nil {
				return renegotiate, err
			}
			ns, err := c.addSender(t)
			if err != nil {
				return renegotiate, err
			}
			c.senders[kind] = ns
			renegotiate = true
		}
	}
	for kind, t := range want {
		ns, err := c.addSender(t)
		if err != nil {
			return renegotiate, err
		}
		c.senders[kind] = ns
		renegotiate = true
	}
	return renegotiate && c.pc.RemoteDescription() != nil, nil
}

func (c *PionConnection) addSender(t webrtc.TrackLocal) (*sender, error) {
	s, err := c.pc.AddTrack(t)
	if err != nil {
		return nil, err
	}
	// RTCP has to be read for the interceptors to work.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := s.Read(buf); err != nil {
				return
			}
		}
	}()
	return &sender{rtp: s, mime: mimeOf(t)}, nil
}

func (c *PionConnection) Close() error {
	err := c.pc.Close()
	if err != nil && !errors.Is(err, webrtc.ErrConnectionClosed) {
		log.Error().Err(err).Str("module", "rtc.pion").Str("remote", string(c.remote)).Msg("close error")
		return err
	}
	log.Info().Str("module", "rtc.pion").Str("remote", string(c.remote)).Msg("closed")
	return nil
}

type codecTrack interface {
	Codec() webrtc.RTPCodecCapability
}

func mimeOf(t webrtc.TrackLocal) string {
	if ct, ok := t.(codecTrack); ok {
		return ct.Codec().MimeType
	}
	return t.Kind().String()
}
