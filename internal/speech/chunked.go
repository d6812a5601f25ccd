package speech

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/orbit/internal/audio"
	"github.com/dkeye/orbit/internal/core"
	"github.com/dkeye/orbit/internal/domain"
)

// Transcriber turns one chunk of PCM16 into text. Failures wrap
// core.ErrTranscriptionUnavailable.
type Transcriber interface {
	Transcribe(ctx context.Context, samples []int16, sampleRate int, locale string) (string, error)
}

// ChunkedRecognizer feeds fixed-length chunks of capture to a request/response
// Transcriber and emits each non-empty answer as a final segment. It backs
// captions where no streaming provider is available.
type ChunkedRecognizer struct {
	tr         Transcriber
	src        audio.Source
	sampleRate int
	interval   time.Duration
}

func NewChunkedRecognizer(tr Transcriber, src audio.Source, sampleRate int, interval time.Duration) *ChunkedRecognizer {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	return &ChunkedRecognizer{tr: tr, src: src, sampleRate: sampleRate, interval: interval}
}

func (c *ChunkedRecognizer) Listen(ctx context.Context, locale string, emit func(domain.TranscriptSegment)) error {
	want := int(int64(c.sampleRate) * int64(c.interval) / int64(time.Second))
	buf := make([]int16, 0, want)
	for {
		frame, err := c.src.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if len(buf) > 0 {
				c.transcribe(ctx, buf, locale, emit)
			}
			return err
		}
		buf = append(buf, frame...)
		if len(buf) < want {
			continue
		}
		c.transcribe(ctx, buf, locale, emit)
		buf = make([]int16, 0, want)
	}
}

// transcribe drops the chunk on provider failure; captions skip a cycle.
func (c *ChunkedRecognizer) transcribe(ctx context.Context, chunk []int16, locale string, emit func(domain.TranscriptSegment)) {
	captured := time.Now()
	text, err := c.tr.Transcribe(ctx, chunk, c.sampleRate, locale)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			log.Warn().Str("module", "speech.chunked").Err(err).Bool("provider", errors.Is(err, core.ErrTranscriptionUnavailable)).Msg("chunk dropped")
		}
		return
	}
	if text == "" {
		return
	}
	emit(domain.TranscriptSegment{Text: text, IsFinal: true, LanguageCode: locale, CapturedAt: captured})
}
