package signaling

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/dkeye/orbit/internal/domain"
)

type membership struct {
	room domain.RoomID
	self domain.ParticipantID
}

type joinState int

const (
	notJoined joinState = iota
	joining
	joined
)

// dispatcher delivers events serially on one goroutine. Negotiation for a
// membership that is still joining is held and released once the join
// completes.
type dispatcher struct {
	logger zerolog.Logger

	mu       sync.Mutex
	handlers map[EventKind][]Handler
	members  map[membership]joinState
	held     map[membership][]Event
	queue    []Event
	closed   bool
	wake     chan struct{}
	done     chan struct{}
}

func newDispatcher(logger zerolog.Logger) *dispatcher {
	d := &dispatcher{
		logger:   logger,
		handlers: make(map[EventKind][]Handler),
		members:  make(map[membership]joinState),
		held:     make(map[membership][]Event),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *dispatcher) on(kind EventKind, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[kind] = append(d.handlers[kind], h)
}

func (d *dispatcher) state(room domain.RoomID, self domain.ParticipantID) joinState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.members[membership{room, self}]
}

// memberships lists every joined or joining membership.
func (d *dispatcher) memberships() []membership {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]membership, 0, len(d.members))
	for m := range d.members {
		out = append(out, m)
	}
	return out
}

func (d *dispatcher) begin(room domain.RoomID, self domain.ParticipantID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.members[membership{room, self}] = joining
}

// complete queues one snapshot MemberJoined per existing member and releases
// any negotiation held during the join.
func (d *dispatcher) complete(room domain.RoomID, self domain.ParticipantID, existing []domain.ParticipantID) {
	key := membership{room, self}
	d.mu.Lock()
	d.members[key] = joined
	for _, p := range existing {
		if p == self {
			continue
		}
		d.pushLocked(Event{Kind: MemberJoined, Room: room, Local: self, Participant: p, Snapshot: true})
	}
	for _, ev := range d.held[key] {
		d.pushLocked(ev)
	}
	delete(d.held, key)
	d.mu.Unlock()
}

func (d *dispatcher) abort(room domain.RoomID, self domain.ParticipantID) {
	d.left(room, self)
}

func (d *dispatcher) left(room domain.RoomID, self domain.ParticipantID) {
	key := membership{room, self}
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.members, key)
	delete(d.held, key)
}

// deliver queues ev for the local participant ev.Local. Events for rooms the
// participant is not in are dropped.
func (d *dispatcher) deliver(ev Event) {
	key := membership{ev.Room, ev.Local}
	d.mu.Lock()
	defer d.mu.Unlock()
	switch d.members[key] {
	case joined:
		d.pushLocked(ev)
	case joining:
		if ev.Kind == NegotiationReceived {
			d.held[key] = append(d.held[key], ev)
			return
		}
		d.pushLocked(ev)
	default:
		d.logger.Debug().Str("room", string(ev.Room)).Str("local", string(ev.Local)).Str("kind", ev.Kind.String()).Msg("event for non-member dropped")
	}
}

func (d *dispatcher) pushLocked(ev Event) {
	if d.closed {
		return
	}
	d.queue = append(d.queue, ev)
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *dispatcher) run() {
	defer close(d.done)
	for range d.wake {
		for {
			d.mu.Lock()
			if len(d.queue) == 0 {
				closed := d.closed
				d.mu.Unlock()
				if closed {
					return
				}
				break
			}
			ev := d.queue[0]
			d.queue = d.queue[1:]
			hs := append([]Handler(nil), d.handlers[ev.Kind]...)
			d.mu.Unlock()

			for _, h := range hs {
				d.safeCall(h, ev)
			}
		}
	}
}

func (d *dispatcher) safeCall(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error().Interface("panic", r).Str("kind", ev.Kind.String()).Msg("handler panicked")
		}
	}()
	h(ev)
}

// close drains queued events and stops the goroutine. Events pushed after
// close are dropped.
func (d *dispatcher) close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		<-d.done
		return
	}
	d.closed = true
	d.mu.Unlock()
	close(d.wake)
	<-d.done
}
