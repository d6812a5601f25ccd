package translation

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/orbit/internal/domain"
	"github.com/dkeye/orbit/internal/metrics"
)

// Player renders a clip starting at a clock offset. Play must not block.
type Player interface {
	Play(clip domain.AudioClip, at time.Duration)
	// Stop drops everything not yet rendered.
	Stop()
}

// Scheduler plays clips one after another from a single FIFO queue. Each clip
// starts at max(now, cursor) and moves the cursor forward by its duration;
// the cursor goes back to zero once the queue drains.
type Scheduler struct {
	mu      sync.Mutex
	clock   Clock
	player  Player
	queue   []domain.AudioClip
	cursor  time.Duration
	playing bool
	timer   Timer
	gen     uint64

	onStart func()
	onIdle  func()
	metrics *metrics.Metrics
}

func NewScheduler(clock Clock, player Player) *Scheduler {
	if clock == nil {
		clock = NewWallClock()
	}
	return &Scheduler{clock: clock, player: player, metrics: metrics.DefaultMetrics}
}

// SetHooks installs the callbacks fired when playback starts from idle and
// when the queue drains. They run outside the scheduler lock.
func (s *Scheduler) SetHooks(onStart, onIdle func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onStart = onStart
	s.onIdle = onIdle
}

func (s *Scheduler) Enqueue(clip domain.AudioClip) {
	if clip.Duration() <= 0 {
		return
	}
	s.mu.Lock()
	s.queue = append(s.queue, clip)
	s.metrics.PlaybackQueue.Set(float64(len(s.queue)))
	if s.playing {
		s.mu.Unlock()
		return
	}
	s.playing = true
	start := s.onStart
	idle := s.playNextLocked()
	s.mu.Unlock()

	if start != nil {
		start()
	}
	if idle != nil {
		idle()
	}
}

// playNextLocked returns the idle hook when the queue turned out empty.
func (s *Scheduler) playNextLocked() func() {
	if len(s.queue) == 0 {
		s.playing = false
		s.cursor = 0
		s.timer = nil
		s.metrics.PlaybackQueue.Set(0)
		return s.onIdle
	}
	clip := s.queue[0]
	s.queue = s.queue[1:]
	s.metrics.PlaybackQueue.Set(float64(len(s.queue)))

	now := s.clock.Now()
	at := max(now, s.cursor)
	s.player.Play(clip, at)
	s.cursor = at + clip.Duration()

	gen := s.gen
	s.timer = s.clock.AfterFunc(s.cursor-now, func() { s.ended(gen) })
	log.Debug().
		Str("module", "translation.scheduler").
		Dur("at", at).
		Dur("duration", clip.Duration()).
		Int("queued", len(s.queue)).
		Msg("clip scheduled")
	return nil
}

func (s *Scheduler) ended(gen uint64) {
	s.mu.Lock()
	if gen != s.gen || !s.playing {
		s.mu.Unlock()
		return
	}
	idle := s.playNextLocked()
	s.mu.Unlock()
	if idle != nil {
		idle()
	}
}

// Cursor is the offset where the next clip would start.
func (s *Scheduler) Cursor() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

func (s *Scheduler) Playing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing
}

func (s *Scheduler) Queued() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Stop clears the queue and pending playback. No hooks fire for it.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.queue = nil
	s.cursor = 0
	s.playing = false
	s.metrics.PlaybackQueue.Set(0)
	if s.player != nil {
		s.player.Stop()
	}
}
