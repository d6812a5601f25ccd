package translation

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dkeye/orbit/internal/domain"
)

type fakeClock struct {
	mu     sync.Mutex
	now    time.Duration
	timers []*fakeTimer
}

type fakeTimer struct {
	c       *fakeClock
	at      time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	was := !t.stopped && !t.fired
	t.stopped = true
	return was
}

func (c *fakeClock) Now() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{c: c, at: c.now + d, f: f}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves time forward, firing due timers in order. Timers created by
// fired callbacks are honored within the same call.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now + d
	c.mu.Unlock()
	for {
		c.mu.Lock()
		sort.SliceStable(c.timers, func(i, j int) bool { return c.timers[i].at < c.timers[j].at })
		var next *fakeTimer
		for _, t := range c.timers {
			if !t.stopped && !t.fired && t.at <= target {
				next = t
				break
			}
		}
		if next == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		next.fired = true
		c.now = next.at
		c.mu.Unlock()
		next.f()
	}
}

type played struct {
	clip domain.AudioClip
	at   time.Duration
}

type fakePlayer struct {
	mu      sync.Mutex
	plays   []played
	stopped int
}

func (p *fakePlayer) Play(clip domain.AudioClip, at time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.plays = append(p.plays, played{clip, at})
}

func (p *fakePlayer) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped++
}

func (p *fakePlayer) starts() []time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]time.Duration, len(p.plays))
	for i, pl := range p.plays {
		out[i] = pl.at
	}
	return out
}

type fakeProvider struct {
	mu    sync.Mutex
	reqs  []Request
	resp  Response
	err   error
	calls chan Request
}

func newFakeProvider(resp Response, err error) *fakeProvider {
	return &fakeProvider{resp: resp, err: err, calls: make(chan Request, 16)}
}

func (f *fakeProvider) Translate(_ context.Context, req Request) (Response, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	f.calls <- req
	return f.resp, f.err
}

func (f *fakeProvider) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reqs)
}

type fakeSpeaker struct {
	mu    sync.Mutex
	texts []string
}

func (s *fakeSpeaker) Speak(_ context.Context, text, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.texts = append(s.texts, text)
	return nil
}

// clipOf returns a clip lasting d at 1 kHz.
func clipOf(d time.Duration) domain.AudioClip {
	return domain.AudioClip{Samples: make([]int16, int(d/time.Millisecond)), SampleRate: 1000}
}
