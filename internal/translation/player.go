package translation

import (
	"encoding/binary"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/orbit/internal/domain"
)

// WriterPlayer renders clips as little-endian PCM16 into a writer at their
// scheduled offset. Volume scales samples, 100 being unity gain.
type WriterPlayer struct {
	clock Clock

	mu     sync.Mutex
	w      io.Writer
	volume int
	timers map[Timer]struct{}
}

func NewWriterPlayer(clock Clock, w io.Writer) *WriterPlayer {
	return &WriterPlayer{clock: clock, w: w, volume: 100, timers: make(map[Timer]struct{})}
}

func (p *WriterPlayer) Play(clip domain.AudioClip, at time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var t Timer
	t = p.clock.AfterFunc(max(0, at-p.clock.Now()), func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if _, ok := p.timers[t]; !ok {
			return
		}
		delete(p.timers, t)
		p.render(clip)
	})
	p.timers[t] = struct{}{}
}

func (p *WriterPlayer) render(clip domain.AudioClip) {
	buf := make([]byte, 2*len(clip.Samples))
	for i, s := range clip.Samples {
		v := int32(s) * int32(p.volume) / 100
		binary.LittleEndian.PutUint16(buf[2*i:], uint16(int16(max(-32768, min(32767, v)))))
	}
	if _, err := p.w.Write(buf); err != nil {
		log.Error().Err(err).Str("module", "translation.player").Msg("write clip")
	}
}

func (p *WriterPlayer) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for t := range p.timers {
		t.Stop()
	}
	clear(p.timers)
}

func (p *WriterPlayer) Volume() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.volume
}

func (p *WriterPlayer) SetVolume(v int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.volume = max(0, min(100, v))
}
