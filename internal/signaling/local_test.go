package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/orbit/internal/core"
	"github.com/dkeye/orbit/internal/domain"
)

const room domain.RoomID = "room-1"

type recorder struct {
	mu     sync.Mutex
	events []Event
	notify chan struct{}
}

func newRecorder(ch Channel) *recorder {
	r := &recorder{notify: make(chan struct{}, 64)}
	for _, k := range []EventKind{MemberJoined, MemberLeft, NegotiationReceived} {
		ch.On(k, r.add)
	}
	return r
}

func (r *recorder) add(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

// wait blocks until n events were recorded.
func (r *recorder) wait(t *testing.T, n int) []Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		r.mu.Lock()
		if len(r.events) >= n {
			out := append([]Event(nil), r.events...)
			r.mu.Unlock()
			return out
		}
		r.mu.Unlock()
		select {
		case <-r.notify:
		case <-deadline:
			t.Fatalf("timed out waiting for %d events", n)
		}
	}
}

func offer(from, to domain.ParticipantID, round uint32) domain.NegotiationMessage {
	return domain.NegotiationMessage{
		Kind:    domain.KindOffer,
		From:    from,
		To:      to,
		Room:    room,
		Round:   round,
		Payload: json.RawMessage(`{"type":"offer","sdp":"x"}`),
	}
}

func TestJoinBroadcastsAndSnapshots(t *testing.T) {
	bus := NewBus()
	a, b := bus.Channel(), bus.Channel()
	defer a.Close()
	defer b.Close()
	ra, rb := newRecorder(a), newRecorder(b)
	ctx := context.Background()

	if err := a.Join(ctx, room, "A"); err != nil {
		t.Fatal(err)
	}
	if err := b.Join(ctx, room, "B"); err != nil {
		t.Fatal(err)
	}

	evA := ra.wait(t, 1)
	if evA[0].Kind != MemberJoined || evA[0].Participant != "B" || evA[0].Snapshot {
		t.Fatalf("A got %+v", evA[0])
	}
	evB := rb.wait(t, 1)
	if evB[0].Kind != MemberJoined || evB[0].Participant != "A" || !evB[0].Snapshot {
		t.Fatalf("B got %+v, want snapshot of A", evB[0])
	}
}

func TestDuplicateJoin(t *testing.T) {
	bus := NewBus()
	a := bus.Channel()
	defer a.Close()
	if err := a.Join(context.Background(), room, "A"); err != nil {
		t.Fatal(err)
	}
	if err := a.Join(context.Background(), room, "A"); !errors.Is(err, core.ErrAlreadyJoined) {
		t.Fatalf("err = %v", err)
	}
}

func TestNegotiationFIFOPerPeer(t *testing.T) {
	bus := NewBus()
	a, b := bus.Channel(), bus.Channel()
	defer a.Close()
	defer b.Close()
	rb := newRecorder(b)
	ctx := context.Background()
	_ = a.Join(ctx, room, "A")
	_ = b.Join(ctx, room, "B")

	for i := uint32(1); i <= 20; i++ {
		if err := a.Send(ctx, offer("A", "B", i)); err != nil {
			t.Fatal(err)
		}
	}
	var rounds []uint32
	for _, ev := range rb.wait(t, 21) {
		if ev.Kind == NegotiationReceived {
			rounds = append(rounds, ev.Message.Round)
		}
	}
	for i, r := range rounds {
		if r != uint32(i+1) {
			t.Fatalf("out of order at %d: %v", i, rounds)
		}
	}
}

func TestLeaveBroadcasts(t *testing.T) {
	bus := NewBus()
	a, b := bus.Channel(), bus.Channel()
	defer a.Close()
	defer b.Close()
	ra := newRecorder(a)
	ctx := context.Background()
	_ = a.Join(ctx, room, "A")
	_ = b.Join(ctx, room, "B")

	if err := b.Leave(ctx, room, "B"); err != nil {
		t.Fatal(err)
	}
	ev := ra.wait(t, 2)[1]
	if ev.Kind != MemberLeft || ev.Participant != "B" {
		t.Fatalf("got %+v", ev)
	}
	if err := b.Leave(ctx, room, "B"); !errors.Is(err, core.ErrNotJoined) {
		t.Fatalf("second leave err = %v", err)
	}
}

func TestCloseActsAsDisconnect(t *testing.T) {
	bus := NewBus()
	a, b := bus.Channel(), bus.Channel()
	defer a.Close()
	ra := newRecorder(a)
	ctx := context.Background()
	_ = a.Join(ctx, room, "A")
	_ = b.Join(ctx, room, "B")

	_ = b.Close()
	var left bool
	for _, ev := range ra.wait(t, 2) {
		left = left || (ev.Kind == MemberLeft && ev.Participant == "B")
	}
	if !left {
		t.Fatal("no member_left after close")
	}
	if got := bus.Members(room); len(got) != 1 {
		t.Fatalf("members = %v", got)
	}
}

func TestUnavailable(t *testing.T) {
	bus := NewBus()
	a := bus.Channel()
	defer a.Close()
	ctx := context.Background()
	_ = a.Join(ctx, room, "A")
	bus.SetAvailable(false)

	if err := a.Send(ctx, offer("A", "B", 1)); !errors.Is(err, core.ErrChannelUnavailable) {
		t.Fatalf("Send err = %v", err)
	}
	if err := a.Join(ctx, "other", "A"); !errors.Is(err, core.ErrChannelUnavailable) {
		t.Fatalf("Join err = %v", err)
	}
	if err := a.Leave(ctx, room, "A"); !errors.Is(err, core.ErrChannelUnavailable) {
		t.Fatalf("Leave err = %v", err)
	}
}

func TestSendToMissingPeerIsDropped(t *testing.T) {
	bus := NewBus()
	a := bus.Channel()
	defer a.Close()
	ctx := context.Background()
	_ = a.Join(ctx, room, "A")
	if err := a.Send(ctx, offer("A", "ghost", 1)); err != nil {
		t.Fatalf("err = %v", err)
	}
	if err := a.Send(ctx, offer("X", "A", 1)); !errors.Is(err, core.ErrNotJoined) {
		t.Fatalf("spoofed sender err = %v", err)
	}
}

func TestHandlersRunInRegistrationOrder(t *testing.T) {
	bus := NewBus()
	a, b := bus.Channel(), bus.Channel()
	defer a.Close()
	defer b.Close()

	var mu sync.Mutex
	var order []int
	done := make(chan struct{})
	for i := 1; i <= 3; i++ {
		i := i
		a.On(MemberJoined, func(Event) {
			mu.Lock()
			order = append(order, i)
			n := len(order)
			mu.Unlock()
			if n == 3 {
				close(done)
			}
		})
	}
	ctx := context.Background()
	_ = a.Join(ctx, room, "A")
	_ = b.Join(ctx, room, "B")

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handlers not called")
	}
	if order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("order = %v", order)
	}
}
