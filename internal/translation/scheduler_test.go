package translation

import (
	"testing"
	"time"
)

func TestScheduler_BackToBackIsGapless(t *testing.T) {
	clock := &fakeClock{}
	player := &fakePlayer{}
	s := NewScheduler(clock, player)

	s.Enqueue(clipOf(300 * time.Millisecond))
	s.Enqueue(clipOf(200 * time.Millisecond))

	if c := s.Cursor(); c != 300*time.Millisecond {
		t.Fatalf("expected cursor 300ms after first schedule, got %v", c)
	}
	clock.Advance(300 * time.Millisecond)

	starts := player.starts()
	if len(starts) != 2 {
		t.Fatalf("expected 2 clips played, got %d", len(starts))
	}
	if starts[0] != 0 {
		t.Errorf("expected first start 0, got %v", starts[0])
	}
	if starts[1] < starts[0]+300*time.Millisecond {
		t.Errorf("second clip overlaps first: %v", starts)
	}
	if c := s.Cursor(); c != 500*time.Millisecond {
		t.Errorf("expected cursor 500ms, got %v", c)
	}
}

func TestScheduler_NeverStartsBeforeNow(t *testing.T) {
	clock := &fakeClock{}
	player := &fakePlayer{}
	s := NewScheduler(clock, player)

	clock.Advance(5 * time.Second)
	s.Enqueue(clipOf(100 * time.Millisecond))

	if got := player.starts(); len(got) != 1 || got[0] != 5*time.Second {
		t.Errorf("expected start at 5s, got %v", got)
	}
}

func TestScheduler_CursorMonotonicAndResetsWhenDrained(t *testing.T) {
	clock := &fakeClock{}
	player := &fakePlayer{}
	s := NewScheduler(clock, player)

	var starts, idles int
	s.SetHooks(func() { starts++ }, func() { idles++ })

	var last time.Duration
	for i := 0; i < 4; i++ {
		s.Enqueue(clipOf(100 * time.Millisecond))
		if c := s.Cursor(); c < last {
			t.Fatalf("cursor went backwards: %v < %v", c, last)
		} else {
			last = c
		}
	}
	for i := 0; i < 4; i++ {
		clock.Advance(100 * time.Millisecond)
		if c := s.Cursor(); i < 3 && c < last {
			t.Fatalf("cursor went backwards: %v < %v", c, last)
		} else {
			last = c
		}
	}

	if s.Playing() {
		t.Error("expected idle after drain")
	}
	if c := s.Cursor(); c != 0 {
		t.Errorf("expected cursor reset to 0, got %v", c)
	}
	if starts != 1 || idles != 1 {
		t.Errorf("expected one start and one idle, got %d/%d", starts, idles)
	}
}

func TestScheduler_StopCancelsPending(t *testing.T) {
	clock := &fakeClock{}
	player := &fakePlayer{}
	s := NewScheduler(clock, player)

	idles := 0
	s.SetHooks(nil, func() { idles++ })

	s.Enqueue(clipOf(100 * time.Millisecond))
	s.Enqueue(clipOf(100 * time.Millisecond))
	s.Stop()
	clock.Advance(time.Second)

	if n := len(player.starts()); n != 1 {
		t.Errorf("expected only the first clip dispatched, got %d", n)
	}
	if idles != 0 {
		t.Errorf("expected no idle hook after stop, got %d", idles)
	}
	if player.stopped != 1 {
		t.Errorf("expected player stopped once, got %d", player.stopped)
	}
	if s.Queued() != 0 || s.Cursor() != 0 {
		t.Errorf("expected cleared scheduler, queued=%d cursor=%v", s.Queued(), s.Cursor())
	}
}

func TestScheduler_IgnoresEmptyClip(t *testing.T) {
	s := NewScheduler(&fakeClock{}, &fakePlayer{})
	s.Enqueue(clipOf(0))
	if s.Playing() {
		t.Error("empty clip must not start playback")
	}
}
