// Package ducking lowers a competing audio source while translated speech
// plays and brings it back afterwards.
package ducking

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/orbit/internal/domain"
)

// VolumeControl is an externally owned, continuously playing source.
// Volumes are 0-100.
type VolumeControl interface {
	Volume() int
	SetVolume(v int)
}

type Options struct {
	DuckVolume      int
	NormalVolume    int
	DuckDuration    time.Duration
	RestoreDuration time.Duration
	// Frame is the animation tick.
	Frame time.Duration
}

func DefaultOptions() Options {
	return Options{
		DuckVolume:      15,
		NormalVolume:    100,
		DuckDuration:    200 * time.Millisecond,
		RestoreDuration: 500 * time.Millisecond,
		Frame:           16 * time.Millisecond,
	}
}

// Ducker owns the animation of one source. At most one animation runs at a
// time: every transition cancels the previous one and waits for it to exit.
type Ducker struct {
	mu     sync.Mutex
	src    VolumeControl
	opts   Options
	state  domain.DuckState
	cancel context.CancelFunc
	done   chan struct{}
	closed bool
}

func New(src VolumeControl, opts Options) *Ducker {
	def := DefaultOptions()
	if opts.DuckDuration <= 0 {
		opts.DuckDuration = def.DuckDuration
	}
	if opts.RestoreDuration <= 0 {
		opts.RestoreDuration = def.RestoreDuration
	}
	if opts.Frame <= 0 {
		opts.Frame = def.Frame
	}
	opts.DuckVolume = clamp(opts.DuckVolume)
	opts.NormalVolume = clamp(opts.NormalVolume)
	return &Ducker{src: src, opts: opts}
}

func (d *Ducker) State() domain.DuckState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *Ducker) Duck() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed || d.state == domain.DuckDucked {
		return
	}
	d.stopLocked()
	d.state = domain.DuckDucked
	log.Debug().Str("module", "ducking").Int("to", d.opts.DuckVolume).Msg("duck")
	d.animateLocked(d.opts.DuckVolume, d.opts.DuckDuration)
}

func (d *Ducker) Restore() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed || d.state != domain.DuckDucked {
		return
	}
	d.stopLocked()
	d.state = domain.DuckNormal
	log.Debug().Str("module", "ducking").Int("to", d.opts.NormalVolume).Msg("restore")
	d.animateLocked(d.opts.NormalVolume, d.opts.RestoreDuration)
}

// SetNormalVolume changes the resting level. It reaches the source right away
// only while Normal; a ducked source picks it up on the next Restore.
func (d *Ducker) SetNormalVolume(v int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opts.NormalVolume = clamp(v)
	if d.closed || d.state != domain.DuckNormal {
		return
	}
	d.stopLocked()
	d.src.SetVolume(d.opts.NormalVolume)
}

// Wait blocks until the running animation, if any, finishes.
func (d *Ducker) Wait() {
	d.mu.Lock()
	done := d.done
	d.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Close cancels the running animation. No volume changes happen after it returns.
func (d *Ducker) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	d.stopLocked()
}

func (d *Ducker) stopLocked() {
	if d.cancel == nil {
		return
	}
	d.cancel()
	<-d.done
	d.cancel = nil
	d.done = nil
}

func (d *Ducker) animateLocked(target int, dur time.Duration) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	d.cancel = cancel
	d.done = done

	from := d.src.Volume()
	go func() {
		defer close(done)
		if from == target {
			return
		}
		start := time.Now()
		ticker := time.NewTicker(d.opts.Frame)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			p := float64(time.Since(start)) / float64(dur)
			if p >= 1 {
				d.src.SetVolume(target)
				return
			}
			v := float64(from) + float64(target-from)*EaseInOutQuad(p)
			d.src.SetVolume(int(math.Round(v)))
		}
	}()
}

// EaseInOutQuad maps linear progress in [0,1] to an eased value in [0,1].
func EaseInOutQuad(t float64) float64 {
	if t < 0.5 {
		return 2 * t * t
	}
	return -1 + (4-2*t)*t
}

func clamp(v int) int {
	return max(0, min(100, v))
}
