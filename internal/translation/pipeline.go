package translation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/orbit/internal/audio"
	"github.com/dkeye/orbit/internal/core"
	"github.com/dkeye/orbit/internal/domain"
	"github.com/dkeye/orbit/internal/metrics"
)

type Options struct {
	SourceLanguage string
	TargetLanguage string
	// BatchWindow is how often captured audio is flushed to the provider.
	BatchWindow time.Duration
	// FeedbackGuard suppresses capture after a result triggers playback so
	// the pipeline does not translate its own output. It is a fixed interval
	// and does not follow the clip length.
	FeedbackGuard     time.Duration
	CaptureSampleRate int
	OutputSampleRate  int
	CallTimeout       time.Duration
}

func DefaultOptions() Options {
	return Options{
		SourceLanguage:    "en",
		TargetLanguage:    "es",
		BatchWindow:       2000 * time.Millisecond,
		FeedbackGuard:     1000 * time.Millisecond,
		CaptureSampleRate: 16000,
		OutputSampleRate:  audio.DefaultSampleRate,
		CallTimeout:       15 * time.Second,
	}
}

// Pipeline batches captured audio or takes final transcript segments, calls
// the provider and hands synthesized audio to the scheduler. Provider
// failures drop the batch and never stop the loop.
type Pipeline struct {
	provider Provider
	sched    *Scheduler
	speaker  Speaker
	metrics  *metrics.Metrics
	now      func() time.Time
	logger   zerolog.Logger

	mu         sync.Mutex
	opts       Options
	chunks     []int16
	guardUntil time.Time
	gen        uint64
	cancel     context.CancelFunc
	loopDone   chan struct{}
	onResult   func(domain.TranslationResult)
	onError    func(error)
}

func New(provider Provider, sched *Scheduler, speaker Speaker, opts Options) *Pipeline {
	def := DefaultOptions()
	if opts.BatchWindow <= 0 {
		opts.BatchWindow = def.BatchWindow
	}
	if opts.FeedbackGuard < 0 {
		opts.FeedbackGuard = def.FeedbackGuard
	}
	if opts.CaptureSampleRate <= 0 {
		opts.CaptureSampleRate = def.CaptureSampleRate
	}
	if opts.OutputSampleRate <= 0 {
		opts.OutputSampleRate = def.OutputSampleRate
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = def.CallTimeout
	}
	if opts.SourceLanguage == "" {
		opts.SourceLanguage = def.SourceLanguage
	}
	if opts.TargetLanguage == "" {
		opts.TargetLanguage = def.TargetLanguage
	}
	return &Pipeline{
		provider: provider,
		sched:    sched,
		speaker:  speaker,
		opts:     opts,
		metrics:  metrics.DefaultMetrics,
		now:      time.Now,
		logger:   log.With().Str("module", "translation").Logger(),
	}
}

func (p *Pipeline) OnTranslation(fn func(domain.TranslationResult)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onResult = fn
}

func (p *Pipeline) OnError(fn func(error)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onError = fn
}

// SetLanguages changes the codes used by the next provider call. Empty
// values keep the current setting.
func (p *Pipeline) SetLanguages(source, target string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if source != "" {
		p.opts.SourceLanguage = source
	}
	if target != "" {
		p.opts.TargetLanguage = target
	}
	p.logger.Info().Str("source", p.opts.SourceLanguage).Str("target", p.opts.TargetLanguage).Msg("languages updated")
}

func (p *Pipeline) Languages() (source, target string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.opts.SourceLanguage, p.opts.TargetLanguage
}

// Start runs the audio batching loop until Stop or ctx is done.
func (p *Pipeline) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.loopDone = make(chan struct{})
	go p.loop(ctx, p.gen, p.opts.BatchWindow, p.loopDone)
	p.logger.Info().Dur("window", p.opts.BatchWindow).Msg("batching started")
}

func (p *Pipeline) loop(ctx context.Context, gen uint64, window time.Duration, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(window)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.flush(ctx, gen)
		}
	}
}

// Guarded reports whether capture is currently suppressed.
func (p *Pipeline) Guarded() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.guardedLocked()
}

func (p *Pipeline) guardedLocked() bool {
	return p.now().Before(p.guardUntil)
}

// PushAudio appends captured PCM16 to the current batch. It returns false when
// the frame was discarded by the feedback guard.
func (p *Pipeline) PushAudio(samples []int16) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.guardedLocked() {
		return false
	}
	p.chunks = append(p.chunks, samples...)
	return true
}

// SubmitSegment translates a final transcript segment directly. Interim
// segments are superseded by the final one and never reach the provider.
func (p *Pipeline) SubmitSegment(ctx context.Context, seg domain.TranscriptSegment) error {
	if !seg.IsFinal || seg.Text == "" {
		return nil
	}
	p.mu.Lock()
	gen := p.gen
	p.mu.Unlock()
	return p.call(ctx, gen, Request{Text: seg.Text}, "text")
}

// Translate runs one text through the provider outside of any batch.
func (p *Pipeline) Translate(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}
	p.mu.Lock()
	gen := p.gen
	p.mu.Unlock()
	return p.call(ctx, gen, Request{Text: text}, "text")
}

func (p *Pipeline) flush(ctx context.Context, gen uint64) {
	p.mu.Lock()
	if len(p.chunks) == 0 || gen != p.gen {
		p.mu.Unlock()
		return
	}
	samples := p.chunks
	p.chunks = nil
	rate := p.opts.CaptureSampleRate
	p.mu.Unlock()

	_ = p.call(ctx, gen, Request{Audio: audio.EncodeWAV(samples, rate)}, "audio")
}

func (p *Pipeline) call(ctx context.Context, gen uint64, req Request, mode string) error {
	p.mu.Lock()
	req.SourceLanguage = p.opts.SourceLanguage
	req.TargetLanguage = p.opts.TargetLanguage
	timeout := p.opts.CallTimeout
	outRate := p.opts.OutputSampleRate
	p.mu.Unlock()

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	resp, err := p.provider.Translate(callCtx, req)
	p.metrics.RecordProviderCall(mode, err, time.Since(start).Seconds())
	if err != nil {
		if !errors.Is(err, core.ErrTranslationUnavailable) {
			err = fmt.Errorf("%w: %v", core.ErrTranslationUnavailable, err)
		}
		p.metrics.BatchesDropped.WithLabelValues("provider").Inc()
		p.logger.Error().Err(err).Str("mode", mode).Msg("provider call failed, batch dropped")
		p.emitError(gen, err)
		return err
	}

	result := domain.TranslationResult{
		SourceText:         firstNonEmpty(resp.SourceText, req.Text),
		TranslatedText:     resp.TranslatedText,
		SourceLanguageCode: req.SourceLanguage,
		TargetLanguageCode: req.TargetLanguage,
		CreatedAt:          p.now(),
	}

	if resp.AudioData != "" {
		rate := resp.SampleRate
		if rate <= 0 {
			rate = outRate
		}
		clip, derr := audio.DecodeBase64(resp.AudioData, rate)
		if derr != nil {
			p.metrics.BatchesDropped.WithLabelValues("decode").Inc()
			p.logger.Warn().Err(derr).Msg("synthesized audio undecodable, falling back to text")
		} else {
			result.Audio = &clip
		}
	}

	p.mu.Lock()
	if gen != p.gen {
		p.mu.Unlock()
		return nil
	}
	if result.Audio != nil && p.sched != nil {
		p.guardUntil = p.now().Add(p.opts.FeedbackGuard)
		p.chunks = nil
	}
	onResult := p.onResult
	p.mu.Unlock()

	if result.Audio != nil && p.sched != nil {
		p.sched.Enqueue(*result.Audio)
	} else if p.speaker != nil && result.TranslatedText != "" {
		if err := p.speaker.Speak(ctx, result.TranslatedText, result.TargetLanguageCode); err != nil {
			p.logger.Warn().Err(err).Msg("local speech fallback failed")
		}
	}

	p.logger.Info().
		Str("mode", mode).
		Str("target", result.TargetLanguageCode).
		Bool("audio", result.Audio != nil).
		Msg("translation ready")
	if onResult != nil {
		onResult(result)
	}
	return nil
}

func (p *Pipeline) emitError(gen uint64, err error) {
	p.mu.Lock()
	fn := p.onError
	stale := gen != p.gen
	p.mu.Unlock()
	if fn != nil && !stale {
		fn(err)
	}
}

// Stop ends the batching loop, drops buffered audio and clears playback.
// No callbacks fire for work started before Stop once it returns.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	p.gen++
	cancel, done := p.cancel, p.loopDone
	p.cancel, p.loopDone = nil, nil
	p.chunks = nil
	p.guardUntil = time.Time{}
	p.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	if p.sched != nil {
		p.sched.Stop()
	}
	p.logger.Info().Msg("pipeline stopped")
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
