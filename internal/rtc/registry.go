package rtc

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/dkeye/orbit/internal/core"
	"github.com/dkeye/orbit/internal/domain"
	"github.com/dkeye/orbit/internal/metrics"
)

const DefaultDisconnectGrace = 5 * time.Second

type link struct {
	remote domain.ParticipantID
	conn   MediaConnection
	closed atomic.Bool

	mu             sync.Mutex
	state          LinkState
	round          uint32
	awaitingAnswer bool
	remoteSet      bool
	dirty          bool
	pending        []json.RawMessage
	sinks          map[MediaSink]struct{}
	grace          *time.Timer
	graceGen       uint64
}

// Registry owns every PeerLink of the local participant.
type Registry struct {
	factory ConnectionFactory
	grace   time.Duration
	metrics *metrics.Metrics
	logger  zerolog.Logger

	mu      sync.RWMutex
	links   map[domain.ParticipantID]*link
	closed  map[domain.ParticipantID]struct{}
	source  Source
	handler handlers
}

type handlers struct {
	remoteMedia  func(remote domain.ParticipantID, sink MediaSink)
	disconnected func(remote domain.ParticipantID)
	candidate    func(remote domain.ParticipantID, payload json.RawMessage)
	renegotiate  func(remote domain.ParticipantID, offer Negotiation)
}

func NewRegistry(factory ConnectionFactory, grace time.Duration) *Registry {
	if grace <= 0 {
		grace = DefaultDisconnectGrace
	}
	return &Registry{
		factory: factory,
		grace:   grace,
		metrics: metrics.DefaultMetrics,
		logger:  log.With().Str("module", "rtc").Logger(),
		links:   make(map[domain.ParticipantID]*link),
		closed:  make(map[domain.ParticipantID]struct{}),
	}
}

func (r *Registry) OnRemoteMedia(fn func(remote domain.ParticipantID, sink MediaSink)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handler.remoteMedia = fn
}

func (r *Registry) OnPeerDisconnected(fn func(remote domain.ParticipantID)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handler.disconnected = fn
}

func (r *Registry) OnLocalCandidate(fn func(remote domain.ParticipantID, payload json.RawMessage)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handler.candidate = fn
}

// OnRenegotiate receives offers the registry starts on its own, for example
// after a codec change in SetLocalSource.
func (r *Registry) OnRenegotiate(fn func(remote domain.ParticipantID, offer Negotiation)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handler.renegotiate = fn
}

func (r *Registry) handlers() handlers {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handler
}

// acquire returns the live link for remote, allocating a fresh one in state
// New when none exists. The returned link is locked.
func (r *Registry) acquire(remote domain.ParticipantID) (*link, error) {
	for {
		r.mu.Lock()
		l, ok := r.links[remote]
		if !ok || l.closed.Load() {
			var err error
			l, err = r.newLinkLocked(remote)
			if err != nil {
				r.mu.Unlock()
				return nil, err
			}
		}
		r.mu.Unlock()

		l.mu.Lock()
		if l.state != StateClosed {
			return l, nil
		}
		l.mu.Unlock()
	}
}

func (r *Registry) newLinkLocked(remote domain.ParticipantID) (*link, error) {
	l := &link{remote: remote, state: StateNew, sinks: make(map[MediaSink]struct{})}
	conn, err := r.factory(remote, ConnectionEvents{
		OnCandidate: func(c json.RawMessage) { r.localCandidate(l, c) },
		OnTrack:     func(s MediaSink) { r.remoteTrack(l, s) },
		OnState:     func(s TransportState) { r.transportState(l, s) },
	})
	if err != nil {
		return nil, fmt.Errorf("create connection for %s: %w", remote, err)
	}
	l.conn = conn
	if r.source != nil {
		if _, err := conn.SetTracks(r.source.Tracks()); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("attach local source for %s: %w", remote, err)
		}
	}
	r.links[remote] = l
	delete(r.closed, remote)
	r.metrics.PeerLinks.Inc()
	r.logger.Debug().Str("remote", string(remote)).Msg("link allocated")
	return l, nil
}

// lookup returns the live link without allocating. tombstone reports that the
// remote had a link which is now closed.
func (r *Registry) lookup(remote domain.ParticipantID) (l *link, tombstone bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.links[remote]
	if ok && !l.closed.Load() {
		return l, false
	}
	_, tombstone = r.closed[remote]
	return nil, tombstone || ok
}

func (r *Registry) CreateOffer(remote domain.ParticipantID) (Negotiation, error) {
	l, err := r.acquire(remote)
	if err != nil {
		r.metrics.RecordNegotiation(string(domain.KindOffer), err)
		return Negotiation{}, err
	}
	defer l.mu.Unlock()

	if l.state != StateNew {
		err := fmt.Errorf("offer to %s in state %s: %w", remote, l.state, core.ErrStaleNegotiation)
		r.metrics.RecordNegotiation(string(domain.KindOffer), err)
		return Negotiation{}, err
	}
	payload, err := l.conn.CreateOffer()
	r.metrics.RecordNegotiation(string(domain.KindOffer), err)
	if err != nil {
		return Negotiation{}, fmt.Errorf("create offer for %s: %w", remote, err)
	}
	l.round++
	l.awaitingAnswer = true
	l.state = StateNegotiating
	r.logger.Info().Str("remote", string(remote)).Uint32("round", l.round).Msg("offer created")
	return Negotiation{Payload: payload, Round: l.round}, nil
}

func (r *Registry) CreateAnswer(remote domain.ParticipantID, offer Negotiation) (Negotiation, error) {
	l, err := r.acquire(remote)
	if err != nil {
		r.metrics.RecordNegotiation(string(domain.KindAnswer), err)
		return Negotiation{}, err
	}

	renegotiation := false
	switch l.state {
	case StateNew:
	case StateConnected:
		// A newer round from the remote side on an idle link.
		if offer.Round > l.round && !l.awaitingAnswer {
			renegotiation = true
			break
		}
		fallthrough
	default:
		state := l.state
		l.mu.Unlock()
		err := fmt.Errorf("offer from %s in state %s: %w", remote, state, core.ErrStaleNegotiation)
		r.metrics.RecordNegotiation(string(domain.KindAnswer), err)
		return Negotiation{}, err
	}

	payload, err := l.conn.ApplyOffer(offer.Payload)
	r.metrics.RecordNegotiation(string(domain.KindAnswer), err)
	if err != nil {
		if renegotiation {
			l.mu.Unlock()
			return Negotiation{}, fmt.Errorf("apply offer from %s: %w", remote, err)
		}
		l.mu.Unlock()
		r.discard(l)
		return Negotiation{}, fmt.Errorf("apply offer from %s: %w", remote, err)
	}
	if offer.Round > l.round {
		l.round = offer.Round
	}
	l.remoteSet = true
	if !renegotiation {
		l.state = StateNegotiating
	}
	r.flushCandidatesLocked(l)
	round := l.round
	l.mu.Unlock()

	r.logger.Info().Str("remote", string(remote)).Uint32("round", round).Bool("renegotiation", renegotiation).Msg("answer created")
	return Negotiation{Payload: payload, Round: round}, nil
}

func (r *Registry) ApplyAnswer(remote domain.ParticipantID, answer Negotiation) error {
	l, _ := r.lookup(remote)
	if l == nil {
		err := fmt.Errorf("answer from %s: %w", remote, core.ErrUnknownPeer)
		r.metrics.RecordNegotiation("apply_answer", err)
		return err
	}
	l.mu.Lock()
	if l.state == StateClosed {
		l.mu.Unlock()
		return fmt.Errorf("answer from %s: %w", remote, core.ErrUnknownPeer)
	}
	if !l.awaitingAnswer || (answer.Round != 0 && answer.Round != l.round) {
		state := l.state
		l.mu.Unlock()
		err := fmt.Errorf("answer from %s in state %s: %w", remote, state, core.ErrStaleNegotiation)
		r.metrics.RecordNegotiation("apply_answer", err)
		return err
	}
	if err := l.conn.ApplyAnswer(answer.Payload); err != nil {
		l.mu.Unlock()
		r.metrics.RecordNegotiation("apply_answer", err)
		return fmt.Errorf("apply answer from %s: %w", remote, err)
	}
	r.metrics.RecordNegotiation("apply_answer", nil)
	l.awaitingAnswer = false
	l.remoteSet = true
	if l.state == StateNegotiating {
		l.state = StateConnected
	}
	r.flushCandidatesLocked(l)

	var fire []func()
	if l.dirty {
		fire = append(fire, r.renegotiateLocked(l)...)
	}
	l.mu.Unlock()

	r.logger.Info().Str("remote", string(remote)).Msg("answer applied")
	for _, f := range fire {
		f()
	}
	return nil
}

func (r *Registry) AddRemoteCandidate(remote domain.ParticipantID, candidate json.RawMessage) error {
	l, tombstone := r.lookup(remote)
	if l == nil {
		if tombstone {
			return nil
		}
		return fmt.Errorf("candidate from %s: %w", remote, core.ErrUnknownPeer)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	switch {
	case l.state == StateClosed:
		return nil
	case !l.remoteSet:
		l.pending = append(l.pending, candidate)
		return nil
	}
	if err := l.conn.AddICECandidate(candidate); err != nil {
		return fmt.Errorf("candidate from %s: %w", remote, err)
	}
	return nil
}

func (r *Registry) flushCandidatesLocked(l *link) {
	for _, c := range l.pending {
		if err := l.conn.AddICECandidate(c); err != nil {
			r.logger.Warn().Err(err).Str("remote", string(l.remote)).Msg("queued candidate rejected")
		}
	}
	l.pending = nil
}

// SetLocalSource binds src to every link and to links created later. A nil
// src stops sending without renegotiating.
func (r *Registry) SetLocalSource(src Source) {
	r.mu.Lock()
	r.source = src
	links := r.snapshotLocked()
	r.mu.Unlock()

	var fire []func()
	for _, l := range links {
		l.mu.Lock()
		if l.state == StateClosed {
			l.mu.Unlock()
			continue
		}
		renegotiate, err := l.conn.SetTracks(tracksOf(src))
		if err != nil {
			r.logger.Error().Err(err).Str("remote", string(l.remote)).Msg("rebind local source failed")
		}
		if renegotiate {
			l.dirty = true
			if l.state == StateConnected && !l.awaitingAnswer {
				fire = append(fire, r.renegotiateLocked(l)...)
			}
		}
		l.mu.Unlock()
	}
	for _, f := range fire {
		f()
	}
}

func (r *Registry) renegotiateLocked(l *link) []func() {
	l.dirty = false
	payload, err := l.conn.CreateOffer()
	r.metrics.RecordNegotiation("renegotiate", err)
	if err != nil {
		r.logger.Error().Err(err).Str("remote", string(l.remote)).Msg("renegotiation offer failed")
		return nil
	}
	l.round++
	l.awaitingAnswer = true
	offer := Negotiation{Payload: payload, Round: l.round}
	remote := l.remote
	h := r.handlers()
	if h.renegotiate == nil {
		return nil
	}
	return []func(){func() { h.renegotiate(remote, offer) }}
}

// Close tears down one link without emitting peer-disconnected.
func (r *Registry) Close(remote domain.ParticipantID) {
	l, _ := r.lookup(remote)
	if l == nil {
		return
	}
	_, _ = r.shutdown(l)
}

// CloseAll closes every link concurrently and drops the local source.
// peer-disconnected is not emitted.
func (r *Registry) CloseAll() error {
	r.mu.Lock()
	links := r.snapshotLocked()
	r.links = make(map[domain.ParticipantID]*link)
	r.closed = make(map[domain.ParticipantID]struct{})
	r.source = nil
	r.mu.Unlock()

	var g errgroup.Group
	for _, l := range links {
		l := l
		g.Go(func() error {
			_, err := r.shutdown(l)
			return err
		})
	}
	err := g.Wait()
	r.logger.Info().Int("links", len(links)).Msg("all links closed")
	return err
}

func (r *Registry) State(remote domain.ParticipantID) (LinkState, bool) {
	l, _ := r.lookup(remote)
	if l == nil {
		return StateClosed, false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state, true
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, l := range r.links {
		if !l.closed.Load() {
			n++
		}
	}
	return n
}

func (r *Registry) snapshotLocked() []*link {
	out := make([]*link, 0, len(r.links))
	for _, l := range r.links {
		out = append(out, l)
	}
	return out
}

// shutdown moves l to Closed and releases its connection. The connection is
// closed outside the link lock because pion reports the closed state
// synchronously.
func (r *Registry) shutdown(l *link) (bool, error) {
	l.mu.Lock()
	if l.state == StateClosed {
		l.mu.Unlock()
		return false, nil
	}
	l.state = StateClosed
	l.closed.Store(true)
	l.graceGen++
	if l.grace != nil {
		l.grace.Stop()
		l.grace = nil
	}
	l.pending = nil
	l.mu.Unlock()

	r.mu.Lock()
	if cur, ok := r.links[l.remote]; ok && cur == l {
		delete(r.links, l.remote)
		r.closed[l.remote] = struct{}{}
	}
	r.mu.Unlock()
	r.metrics.PeerLinks.Dec()

	err := l.conn.Close()
	r.logger.Info().Str("remote", string(l.remote)).Msg("link closed")
	return true, err
}

// discard drops a link that never finished its first negotiation.
func (r *Registry) discard(l *link) {
	_, _ = r.shutdown(l)
}

// fail closes l and emits peer-disconnected.
func (r *Registry) fail(l *link, reason string) {
	if closed, _ := r.shutdown(l); !closed {
		return
	}
	r.metrics.PeerDisconnected.Inc()
	r.logger.Warn().Str("remote", string(l.remote)).Str("reason", reason).Msg("peer disconnected")
	if h := r.handlers(); h.disconnected != nil {
		h.disconnected(l.remote)
	}
}

func (r *Registry) localCandidate(l *link, c json.RawMessage) {
	if l.closed.Load() {
		return
	}
	if h := r.handlers(); h.candidate != nil {
		h.candidate(l.remote, c)
	}
}

func (r *Registry) remoteTrack(l *link, sink MediaSink) {
	l.mu.Lock()
	if l.state == StateClosed {
		l.mu.Unlock()
		return
	}
	if l.state == StateNegotiating && !l.awaitingAnswer {
		l.state = StateConnected
	}
	_, seen := l.sinks[sink]
	l.sinks[sink] = struct{}{}
	l.mu.Unlock()

	if seen {
		return
	}
	if h := r.handlers(); h.remoteMedia != nil {
		h.remoteMedia(l.remote, sink)
	}
}

func (r *Registry) transportState(l *link, s TransportState) {
	l.mu.Lock()
	if l.state == StateClosed {
		l.mu.Unlock()
		return
	}
	switch s {
	case TransportConnected:
		switch {
		case l.state == StateDisconnected:
			l.graceGen++
			if l.grace != nil {
				l.grace.Stop()
				l.grace = nil
			}
			l.state = StateConnected
			r.logger.Info().Str("remote", string(l.remote)).Msg("transport recovered")
		case l.state == StateNegotiating && !l.awaitingAnswer:
			l.state = StateConnected
		}
		l.mu.Unlock()

	case TransportDisconnected:
		if l.state != StateConnected {
			l.mu.Unlock()
			return
		}
		l.state = StateDisconnected
		l.graceGen++
		gen := l.graceGen
		l.grace = time.AfterFunc(r.grace, func() { r.graceExpired(l, gen) })
		l.mu.Unlock()
		r.logger.Warn().Str("remote", string(l.remote)).Dur("grace", r.grace).Msg("transport disconnected")

	case TransportFailed, TransportClosed:
		l.state = StateFailed
		l.mu.Unlock()
		r.fail(l, s.String())

	default:
		l.mu.Unlock()
	}
}

func (r *Registry) graceExpired(l *link, gen uint64) {
	l.mu.Lock()
	if l.graceGen != gen || l.state != StateDisconnected {
		l.mu.Unlock()
		return
	}
	l.grace = nil
	l.mu.Unlock()
	r.fail(l, "grace expired")
}
