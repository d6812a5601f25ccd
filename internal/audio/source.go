package audio

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/dkeye/orbit/internal/core"
)

// Source yields captured PCM16 frames. Read returns io.EOF once capture has
// ended and core.ErrMediaAccessDenied when the device cannot be opened.
type Source interface {
	Read(ctx context.Context) ([]int16, error)
}

// ReaderSource frames raw little-endian PCM16 from a reader, optionally
// paced in real time like a live capture device.
type ReaderSource struct {
	mu         sync.Mutex
	r          io.Reader
	frame      int
	sampleRate int
	pace       bool
	next       time.Time
}

// NewReaderSource reads frames of frameDur at sampleRate. A nil reader
// reports media access denied.
func NewReaderSource(r io.Reader, sampleRate int, frameDur time.Duration, pace bool) *ReaderSource {
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	if frameDur <= 0 {
		frameDur = 20 * time.Millisecond
	}
	frame := int(int64(sampleRate) * int64(frameDur) / int64(time.Second))
	return &ReaderSource{r: r, frame: max(1, frame), sampleRate: sampleRate, pace: pace}
}

func (s *ReaderSource) SampleRate() int { return s.sampleRate }

func (s *ReaderSource) Read(ctx context.Context) ([]int16, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.r == nil {
		return nil, core.ErrMediaAccessDenied
	}
	if s.pace {
		if s.next.IsZero() {
			s.next = time.Now()
		}
		if d := time.Until(s.next); d > 0 {
			t := time.NewTimer(d)
			select {
			case <-ctx.Done():
				t.Stop()
				return nil, ctx.Err()
			case <-t.C:
			}
		}
		s.next = s.next.Add(time.Duration(s.frame) * time.Second / time.Duration(s.sampleRate))
	}
	buf := make([]byte, 2*s.frame)
	n, err := io.ReadFull(s.r, buf)
	if errors.Is(err, io.ErrUnexpectedEOF) {
		err = nil
	}
	if n == 0 && err == nil {
		err = io.EOF
	}
	if n == 0 {
		return nil, err
	}
	return PCM16(buf[:n&^1]), nil
}
