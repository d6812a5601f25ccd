// Package speech captures the local participant's audio and turns it into
// a restartable stream of transcript segments.
package speech

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/orbit/internal/core"
	"github.com/dkeye/orbit/internal/domain"
	"github.com/dkeye/orbit/internal/metrics"
)

// ErrNoSpeech ends a listening session without being an error.
var ErrNoSpeech = errors.New("no speech detected")

// Recognizer runs one listening session. It returns when the provider ends
// the session or ctx is done. A nil error or ErrNoSpeech is an idle end.
type Recognizer interface {
	Listen(ctx context.Context, locale string, emit func(domain.TranscriptSegment)) error
}

type Options struct {
	Language     string
	RestartDelay time.Duration
}

// Engine keeps a Recognizer listening between Start and Stop, restarting
// the session after every idle end.
type Engine struct {
	rec     Recognizer
	delay   time.Duration
	metrics *metrics.Metrics
	logger  zerolog.Logger

	mu        sync.Mutex
	language  string
	active    bool
	gen       uint64
	parent    context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	restart   *time.Timer
	onSegment func(domain.TranscriptSegment)
	onError   func(error)
}

func NewEngine(rec Recognizer, opts Options) *Engine {
	if opts.RestartDelay <= 0 {
		opts.RestartDelay = 100 * time.Millisecond
	}
	if opts.Language == "" {
		opts.Language = "en"
	}
	return &Engine{
		rec:      rec,
		delay:    opts.RestartDelay,
		language: opts.Language,
		metrics:  metrics.DefaultMetrics,
		logger:   log.With().Str("module", "speech").Logger(),
	}
}

func (e *Engine) OnSegment(fn func(domain.TranscriptSegment)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onSegment = fn
}

func (e *Engine) OnError(fn func(error)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onError = fn
}

func (e *Engine) Language() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.language
}

func (e *Engine) Listening() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active {
		return
	}
	e.active = true
	e.parent = ctx
	e.gen++
	e.launchLocked()
	e.logger.Info().Str("language", e.language).Msg("listening started")
}

// Stop cancels the session and any pending restart. Once it returns no
// callback fires.
func (e *Engine) Stop() {
	e.mu.Lock()
	wasActive := e.active
	e.active = false
	cancel, done := e.haltLocked()
	e.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	if wasActive {
		e.logger.Info().Msg("listening stopped")
	}
}

// UpdateLanguage restarts the session only when listening; otherwise the
// language applies on the next Start.
func (e *Engine) UpdateLanguage(code string) {
	e.mu.Lock()
	if code == "" || code == e.language {
		e.mu.Unlock()
		return
	}
	e.language = code
	if !e.active {
		e.mu.Unlock()
		return
	}
	cancel, done := e.haltLocked()
	gen := e.gen
	e.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active && e.gen == gen {
		e.launchLocked()
		e.logger.Info().Str("language", code).Msg("language switched")
	}
}

// halt is used from inside a finished session, which must not wait on itself.
func (e *Engine) halt() {
	e.active = false
	e.gen++
	if e.cancel != nil {
		e.cancel()
	}
	e.cancel, e.done = nil, nil
}

// haltLocked invalidates the current session and returns what the caller
// must wait on outside the lock.
func (e *Engine) haltLocked() (context.CancelFunc, chan struct{}) {
	e.gen++
	if e.restart != nil {
		e.restart.Stop()
		e.restart = nil
	}
	cancel, done := e.cancel, e.done
	e.cancel, e.done = nil, nil
	return cancel, done
}

func (e *Engine) launchLocked() {
	if e.cancel != nil {
		e.cancel()
	}
	ctx, cancel := context.WithCancel(e.parent)
	done := make(chan struct{})
	e.cancel, e.done = cancel, done
	go e.session(ctx, e.gen, Locale(e.language), done)
}

func (e *Engine) session(ctx context.Context, gen uint64, locale string, done chan struct{}) {
	defer close(done)
	err := e.rec.Listen(ctx, locale, func(seg domain.TranscriptSegment) { e.emit(gen, seg) })
	if ctx.Err() != nil {
		return
	}
	e.ended(gen, err)
}

func (e *Engine) emit(gen uint64, seg domain.TranscriptSegment) {
	e.mu.Lock()
	fn := e.onSegment
	live := gen == e.gen && e.active
	lang := e.language
	e.mu.Unlock()
	if !live || fn == nil {
		return
	}
	if seg.LanguageCode == "" {
		seg.LanguageCode = lang
	}
	if seg.CapturedAt.IsZero() {
		seg.CapturedAt = time.Now()
	}
	kind := "interim"
	if seg.IsFinal {
		kind = "final"
	}
	e.metrics.Transcripts.WithLabelValues(kind).Inc()
	fn(seg)
}

func (e *Engine) ended(gen uint64, err error) {
	e.mu.Lock()
	if gen != e.gen || !e.active {
		e.mu.Unlock()
		return
	}
	onError := e.onError

	switch {
	case err == nil || errors.Is(err, ErrNoSpeech):
		e.logger.Debug().Msg("session ended idle, restarting")
		err = nil
	case errors.Is(err, io.EOF):
		e.halt()
		e.mu.Unlock()
		e.logger.Info().Msg("capture ended")
		return
	case errors.Is(err, core.ErrMediaAccessDenied):
		e.halt()
		e.mu.Unlock()
		e.metrics.SpeechErrors.WithLabelValues("media").Inc()
		e.logger.Error().Err(err).Msg("capture unavailable, engine halted")
		if onError != nil {
			onError(err)
		}
		return
	default:
		e.metrics.SpeechErrors.WithLabelValues("recognizer").Inc()
		e.logger.Warn().Err(err).Msg("recognition error, restarting")
	}

	e.restart = time.AfterFunc(e.delay, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if gen != e.gen || !e.active {
			return
		}
		e.restart = nil
		e.metrics.SpeechRestarts.Inc()
		e.launchLocked()
	})
	e.mu.Unlock()

	if err != nil && onError != nil {
		onError(err)
	}
}
