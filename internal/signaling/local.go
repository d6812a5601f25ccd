package signaling

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/orbit/internal/core"
	"github.com/dkeye/orbit/internal/domain"
)

// Bus is an in-process relay connecting LocalChannels. It backs tests and
// single-process deployments.
type Bus struct {
	mu        sync.Mutex
	rooms     map[domain.RoomID]map[domain.ParticipantID]*LocalChannel
	available bool
}

func NewBus() *Bus {
	return &Bus{
		rooms:     make(map[domain.RoomID]map[domain.ParticipantID]*LocalChannel),
		available: true,
	}
}

// SetAvailable simulates a transport outage.
func (b *Bus) SetAvailable(ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.available = ok
}

// Members returns the participants currently in room.
func (b *Bus) Members(room domain.RoomID) []domain.ParticipantID {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.ParticipantID, 0, len(b.rooms[room]))
	for p := range b.rooms[room] {
		out = append(out, p)
	}
	return out
}

func (b *Bus) Channel() *LocalChannel {
	return &LocalChannel{
		bus: b,
		d:   newDispatcher(log.With().Str("module", "signaling.local").Logger()),
	}
}

type LocalChannel struct {
	bus *Bus
	d   *dispatcher
}

func (c *LocalChannel) On(kind EventKind, h Handler) { c.d.on(kind, h) }

func (c *LocalChannel) Join(_ context.Context, room domain.RoomID, self domain.ParticipantID) error {
	b := c.bus
	b.mu.Lock()
	if !b.available {
		b.mu.Unlock()
		return core.ErrChannelUnavailable
	}
	members := b.rooms[room]
	if _, ok := members[self]; ok {
		b.mu.Unlock()
		return fmt.Errorf("%s in %s: %w", self, room, core.ErrAlreadyJoined)
	}
	if members == nil {
		members = make(map[domain.ParticipantID]*LocalChannel)
		b.rooms[room] = members
	}
	c.d.begin(room, self)
	existing := make([]domain.ParticipantID, 0, len(members))
	for p, other := range members {
		existing = append(existing, p)
		other.d.deliver(Event{Kind: MemberJoined, Room: room, Local: p, Participant: self})
	}
	members[self] = c
	c.d.complete(room, self, existing)
	b.mu.Unlock()
	return nil
}

func (c *LocalChannel) Leave(_ context.Context, room domain.RoomID, self domain.ParticipantID) error {
	b := c.bus
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.available {
		return core.ErrChannelUnavailable
	}
	return c.leaveLocked(room, self)
}

func (c *LocalChannel) leaveLocked(room domain.RoomID, self domain.ParticipantID) error {
	b := c.bus
	members := b.rooms[room]
	if cur, ok := members[self]; !ok || cur != c {
		return fmt.Errorf("%s in %s: %w", self, room, core.ErrNotJoined)
	}
	delete(members, self)
	c.d.left(room, self)
	for p, other := range members {
		other.d.deliver(Event{Kind: MemberLeft, Room: room, Local: p, Participant: self})
	}
	if len(members) == 0 {
		delete(b.rooms, room)
	}
	return nil
}

// Send routes msg to msg.To in msg.Room. A recipient that is gone is not an
// error; the message is dropped.
func (c *LocalChannel) Send(_ context.Context, msg domain.NegotiationMessage) error {
	b := c.bus
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.available {
		return core.ErrChannelUnavailable
	}
	members := b.rooms[msg.Room]
	if cur, ok := members[msg.From]; !ok || cur != c {
		return fmt.Errorf("%s in %s: %w", msg.From, msg.Room, core.ErrNotJoined)
	}
	target, ok := members[msg.To]
	if !ok {
		log.Debug().Str("module", "signaling.local").Str("to", string(msg.To)).Msg("recipient gone, message dropped")
		return nil
	}
	m := msg
	target.d.deliver(Event{Kind: NegotiationReceived, Room: msg.Room, Local: msg.To, Participant: msg.From, Message: &m})
	return nil
}

// Close leaves every room and stops dispatch. Remaining members see
// MemberLeft, as they would on a dropped connection.
func (c *LocalChannel) Close() error {
	b := c.bus
	b.mu.Lock()
	for _, m := range c.d.memberships() {
		_ = c.leaveLocked(m.room, m.self)
	}
	b.mu.Unlock()
	c.d.close()
	return nil
}
