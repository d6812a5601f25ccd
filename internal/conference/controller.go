// Package conference drives peer negotiation from signaling events and keeps
// the roster of the local participant's room.
package conference

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/orbit/internal/core"
	"github.com/dkeye/orbit/internal/domain"
	"github.com/dkeye/orbit/internal/rtc"
	"github.com/dkeye/orbit/internal/signaling"
	"github.com/dkeye/orbit/internal/translator"
)

const DefaultNoticeTTL = 5 * time.Second

// PeerRegistry is the part of *rtc.Registry the controller drives.
type PeerRegistry interface {
	CreateOffer(remote domain.ParticipantID) (rtc.Negotiation, error)
	CreateAnswer(remote domain.ParticipantID, offer rtc.Negotiation) (rtc.Negotiation, error)
	ApplyAnswer(remote domain.ParticipantID, answer rtc.Negotiation) error
	AddRemoteCandidate(remote domain.ParticipantID, candidate json.RawMessage) error
	Close(remote domain.ParticipantID)
	CloseAll() error
	OnRemoteMedia(fn func(remote domain.ParticipantID, sink rtc.MediaSink))
	OnPeerDisconnected(fn func(remote domain.ParticipantID))
	OnLocalCandidate(fn func(remote domain.ParticipantID, payload json.RawMessage))
	OnRenegotiate(fn func(remote domain.ParticipantID, offer rtc.Negotiation))
}

type Member struct {
	ID       domain.ParticipantID
	Self     bool
	JoinedAt time.Time
	Sink     rtc.MediaSink
}

// Notice is a time-limited, user-visible message about a structural failure.
type Notice struct {
	Text    string
	Expires time.Time
}

type Options struct {
	Self       domain.Participant
	Channel    signaling.Channel
	Registry   PeerRegistry
	Translator *translator.Handle
	Notifier   core.Notifier
	NoticeTTL  time.Duration
}

type Controller struct {
	self       domain.Participant
	ch         signaling.Channel
	reg        PeerRegistry
	translator *translator.Handle
	notifier   core.Notifier
	noticeTTL  time.Duration
	now        func() time.Time
	logger     zerolog.Logger

	mu       sync.Mutex
	room     domain.RoomID
	joined   bool
	roster   map[domain.ParticipantID]*Member
	notices  []Notice
	onError  func(error)
	onRoster func([]Member)
	onMedia  func(remote domain.ParticipantID, sink rtc.MediaSink)
}

func New(opts Options) *Controller {
	if opts.NoticeTTL <= 0 {
		opts.NoticeTTL = DefaultNoticeTTL
	}
	c := &Controller{
		self:       opts.Self,
		ch:         opts.Channel,
		reg:        opts.Registry,
		translator: opts.Translator,
		notifier:   opts.Notifier,
		noticeTTL:  opts.NoticeTTL,
		now:        time.Now,
		logger:     log.With().Str("module", "conference").Str("self", string(opts.Self.ID)).Logger(),
		roster:     make(map[domain.ParticipantID]*Member),
	}
	c.ch.On(signaling.MemberJoined, c.memberJoined)
	c.ch.On(signaling.MemberLeft, c.memberLeft)
	c.ch.On(signaling.NegotiationReceived, c.negotiation)

	c.reg.OnRemoteMedia(c.remoteMedia)
	c.reg.OnPeerDisconnected(c.peerDisconnected)
	c.reg.OnLocalCandidate(c.localCandidate)
	c.reg.OnRenegotiate(c.renegotiate)
	return c
}

func (c *Controller) OnError(fn func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = fn
}

// OnRosterChange receives a sorted snapshot after every roster change.
func (c *Controller) OnRosterChange(fn func([]Member)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onRoster = fn
}

func (c *Controller) OnRemoteMedia(fn func(remote domain.ParticipantID, sink rtc.MediaSink)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onMedia = fn
}

func (c *Controller) Translator() *translator.Handle { return c.translator }

func (c *Controller) Room() (domain.RoomID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room, c.joined
}

// Join enters room. Transport failures come back as core.ErrChannelUnavailable
// and leave the controller outside any room.
func (c *Controller) Join(ctx context.Context, room domain.RoomID) error {
	c.mu.Lock()
	if c.joined {
		c.mu.Unlock()
		return fmt.Errorf("%s: %w", c.room, core.ErrAlreadyJoined)
	}
	c.room = room
	c.joined = true
	c.roster = map[domain.ParticipantID]*Member{
		c.self.ID: {ID: c.self.ID, Self: true, JoinedAt: c.now()},
	}
	c.mu.Unlock()

	if c.translator != nil {
		c.translator.Bind(room, c.self.ID)
	}
	if err := c.ch.Join(ctx, room, c.self.ID); err != nil {
		c.mu.Lock()
		c.joined = false
		c.room = ""
		c.roster = make(map[domain.ParticipantID]*Member)
		c.mu.Unlock()
		return fmt.Errorf("join %s: %w", room, err)
	}
	c.logger.Info().Str("room", string(room)).Str("name", c.self.DisplayName).Msg("joined room")
	c.rosterChanged()
	return nil
}

// Leave exits the room, closes every link and releases the translator. Links
// are closed even when the channel is down; the channel error is returned.
func (c *Controller) Leave(ctx context.Context) error {
	c.mu.Lock()
	if !c.joined {
		c.mu.Unlock()
		return core.ErrNotJoined
	}
	room := c.room
	c.joined = false
	c.room = ""
	c.roster = make(map[domain.ParticipantID]*Member)
	c.mu.Unlock()

	err := c.ch.Leave(ctx, room, c.self.ID)
	if cerr := c.reg.CloseAll(); cerr != nil {
		c.logger.Warn().Err(cerr).Msg("closing links")
	}
	if c.translator != nil {
		c.translator.Cleanup()
	}
	c.logger.Info().Str("room", string(room)).Msg("left room")
	c.rosterChanged()
	if err != nil {
		return fmt.Errorf("leave %s: %w", room, err)
	}
	return nil
}

// Roster returns the members sorted by id.
func (c *Controller) Roster() []Member {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rosterLocked()
}

func (c *Controller) rosterLocked() []Member {
	out := make([]Member, 0, len(c.roster))
	for _, m := range c.roster {
		out = append(out, *m)
	}
	slices.SortFunc(out, func(a, b Member) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return out
}

// Notices returns the notices that have not expired yet.
func (c *Controller) Notices() []Notice {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	live := c.notices[:0]
	for _, n := range c.notices {
		if now.Before(n.Expires) {
			live = append(live, n)
		}
	}
	c.notices = live
	return slices.Clone(live)
}

// current reports whether ev belongs to the room this controller is in.
func (c *Controller) current(room domain.RoomID, local domain.ParticipantID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.joined && c.room == room && local == c.self.ID
}

func (c *Controller) memberJoined(ev signaling.Event) {
	if ev.Participant == c.self.ID || !c.current(ev.Room, ev.Local) {
		return
	}
	c.mu.Lock()
	if _, ok := c.roster[ev.Participant]; !ok {
		c.roster[ev.Participant] = &Member{ID: ev.Participant, JoinedAt: c.now()}
	}
	c.mu.Unlock()
	c.rosterChanged()

	// Members already present offer to the newcomer; the newcomer waits.
	if ev.Snapshot {
		return
	}
	offer, err := c.reg.CreateOffer(ev.Participant)
	if err != nil {
		c.fail("offer", ev.Participant, err)
		return
	}
	c.send(ev.Room, ev.Participant, domain.KindOffer, offer)
}

func (c *Controller) memberLeft(ev signaling.Event) {
	if !c.current(ev.Room, ev.Local) {
		return
	}
	c.reg.Close(ev.Participant)
	if c.removeMember(ev.Participant) {
		c.rosterChanged()
	}
}

func (c *Controller) removeMember(p domain.ParticipantID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p == c.self.ID {
		return false
	}
	if _, ok := c.roster[p]; !ok {
		return false
	}
	delete(c.roster, p)
	return true
}

func (c *Controller) negotiation(ev signaling.Event) {
	msg := ev.Message
	if msg == nil || msg.To != c.self.ID || !c.current(ev.Room, ev.Local) {
		return
	}
	in := rtc.Negotiation{Payload: msg.Payload, Round: msg.Round}
	switch msg.Kind {
	case domain.KindOffer:
		answer, err := c.reg.CreateAnswer(msg.From, in)
		if err != nil {
			c.fail("answer", msg.From, err)
			return
		}
		c.send(msg.Room, msg.From, domain.KindAnswer, answer)
	case domain.KindAnswer:
		if err := c.reg.ApplyAnswer(msg.From, in); err != nil {
			c.fail("apply answer", msg.From, err)
		}
	case domain.KindIceCandidate:
		if err := c.reg.AddRemoteCandidate(msg.From, msg.Payload); err != nil {
			c.fail("candidate", msg.From, err)
		}
	}
}

func (c *Controller) remoteMedia(remote domain.ParticipantID, sink rtc.MediaSink) {
	c.mu.Lock()
	m, ok := c.roster[remote]
	if ok {
		m.Sink = sink
	}
	fn := c.onMedia
	c.mu.Unlock()
	c.logger.Info().Str("remote", string(remote)).Str("kind", sink.Kind().String()).Msg("remote media available")
	if fn != nil {
		fn(remote, sink)
	}
	if ok {
		c.rosterChanged()
	}
}

func (c *Controller) peerDisconnected(remote domain.ParticipantID) {
	if c.removeMember(remote) {
		c.rosterChanged()
	}
}

func (c *Controller) localCandidate(remote domain.ParticipantID, payload json.RawMessage) {
	room, ok := c.Room()
	if !ok {
		return
	}
	c.send(room, remote, domain.KindIceCandidate, rtc.Negotiation{Payload: payload})
}

func (c *Controller) renegotiate(remote domain.ParticipantID, offer rtc.Negotiation) {
	room, ok := c.Room()
	if !ok {
		return
	}
	c.send(room, remote, domain.KindOffer, offer)
}

func (c *Controller) send(room domain.RoomID, to domain.ParticipantID, kind domain.NegotiationKind, n rtc.Negotiation) {
	msg := domain.NegotiationMessage{
		Kind:    kind,
		From:    c.self.ID,
		To:      to,
		Room:    room,
		Round:   n.Round,
		Payload: n.Payload,
	}
	// Handlers have no caller context; the channel fails fast when down.
	if err := c.ch.Send(context.Background(), msg); err != nil {
		c.fail("send "+string(kind), to, err)
	}
}

// fail applies the error policy: structural errors become notices, the rest
// are surfaced through OnError.
func (c *Controller) fail(op string, remote domain.ParticipantID, err error) {
	if core.Structural(err) {
		c.logger.Warn().Err(err).Str("op", op).Str("remote", string(remote)).Msg("ignored")
		text := fmt.Sprintf("%s with %s: %v", op, remote, err)
		c.mu.Lock()
		c.notices = append(c.notices, Notice{Text: text, Expires: c.now().Add(c.noticeTTL)})
		c.mu.Unlock()
		if c.notifier != nil {
			c.notifier.Notify(text)
		}
		return
	}
	c.logger.Error().Err(err).Str("op", op).Str("remote", string(remote)).Msg("negotiation failed")
	c.mu.Lock()
	fn := c.onError
	c.mu.Unlock()
	if fn != nil {
		fn(fmt.Errorf("%s with %s: %w", op, remote, err))
	}
}

func (c *Controller) rosterChanged() {
	c.mu.Lock()
	fn := c.onRoster
	var snap []Member
	if fn != nil {
		snap = c.rosterLocked()
	}
	c.mu.Unlock()
	if fn != nil {
		fn(snap)
	}
}

// IsFatal reports errors from Join or Leave that end the session.
func IsFatal(err error) bool {
	return errors.Is(err, core.ErrChannelUnavailable) || errors.Is(err, core.ErrMediaAccessDenied)
}
