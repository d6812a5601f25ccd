// Package translator binds speech capture, translation and ducking into one
// handle owned by a conference session.
package translator

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/orbit/internal/domain"
	"github.com/dkeye/orbit/internal/ducking"
	"github.com/dkeye/orbit/internal/events"
	"github.com/dkeye/orbit/internal/speech"
	"github.com/dkeye/orbit/internal/translation"
)

// Publisher receives final transcripts and translations. *events.Publisher
// satisfies it.
type Publisher interface {
	PublishTranscript(ctx context.Context, ev events.TranscriptEvent) error
	PublishTranslation(ctx context.Context, ev events.TranslationEvent) error
}

// Settings is what the user can change while translating. Zero values keep
// the current setting.
type Settings struct {
	SourceLanguage    string
	TargetLanguage    string
	SourceVolume      int
	TranslationVolume int
}

type Status struct {
	Listening      bool
	Speaking       bool
	SourceLanguage string
	TargetLanguage string
	Duck           domain.DuckState
}

type Parts struct {
	Engine    *speech.Engine
	Pipeline  *translation.Pipeline
	Scheduler *translation.Scheduler
	Ducker    *ducking.Ducker
	// Output is the translated speech volume, optional.
	Output    ducking.VolumeControl
	Publisher Publisher
}

type Handle struct {
	engine   *speech.Engine
	pipeline *translation.Pipeline
	sched    *translation.Scheduler
	ducker   *ducking.Ducker
	output   ducking.VolumeControl
	pub      Publisher
	logger   zerolog.Logger

	mu            sync.Mutex
	room          domain.RoomID
	self          domain.ParticipantID
	ctx           context.Context
	cancel        context.CancelFunc
	running       bool
	inflight      sync.WaitGroup
	onTranslation func(domain.TranslationResult)
	onError       func(error)
}

func New(p Parts) *Handle {
	h := &Handle{
		engine:   p.Engine,
		pipeline: p.Pipeline,
		sched:    p.Scheduler,
		ducker:   p.Ducker,
		output:   p.Output,
		pub:      p.Publisher,
		logger:   log.With().Str("module", "translator").Logger(),
	}
	if h.sched != nil && h.ducker != nil {
		h.sched.SetHooks(h.ducker.Duck, h.ducker.Restore)
	}
	if h.engine != nil {
		h.engine.OnSegment(h.segment)
		h.engine.OnError(h.fail)
	}
	h.pipeline.OnTranslation(h.translated)
	h.pipeline.OnError(h.fail)
	return h
}

// Bind tags published events with the room and participant of the session.
func (h *Handle) Bind(room domain.RoomID, self domain.ParticipantID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.room, h.self = room, self
}

func (h *Handle) OnTranslation(fn func(domain.TranslationResult)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onTranslation = fn
}

func (h *Handle) OnError(fn func(error)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onError = fn
}

func (h *Handle) Start(ctx context.Context) {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return
	}
	h.ctx, h.cancel = context.WithCancel(ctx)
	h.running = true
	ctx = h.ctx
	h.mu.Unlock()

	h.pipeline.Start(ctx)
	if h.engine != nil {
		h.engine.Start(ctx)
	}
	h.logger.Info().Msg("translator started")
}

// Stop ends listening and playback and waits for in-flight provider calls.
// The competing source is restored.
func (h *Handle) Stop() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.running = false
	cancel := h.cancel
	h.mu.Unlock()

	if h.engine != nil {
		h.engine.Stop()
	}
	cancel()
	h.pipeline.Stop()
	h.inflight.Wait()
	if h.ducker != nil {
		h.ducker.Restore()
	}
	h.logger.Info().Msg("translator stopped")
}

// Cleanup stops and releases the ducker. The handle is unusable afterwards.
func (h *Handle) Cleanup() {
	h.Stop()
	if h.ducker != nil {
		h.ducker.Wait()
		h.ducker.Close()
	}
}

// Speak translates text directly, outside of speech capture.
func (h *Handle) Speak(ctx context.Context, text string) error {
	return h.pipeline.Translate(ctx, text)
}

func (h *Handle) SetSettings(s Settings) {
	if s.SourceLanguage != "" && h.engine != nil {
		h.engine.UpdateLanguage(s.SourceLanguage)
	}
	h.pipeline.SetLanguages(s.SourceLanguage, s.TargetLanguage)
	if s.SourceVolume > 0 && h.ducker != nil {
		h.ducker.SetNormalVolume(s.SourceVolume)
	}
	if s.TranslationVolume > 0 && h.output != nil {
		h.output.SetVolume(s.TranslationVolume)
	}
}

func (h *Handle) Status() Status {
	src, tgt := h.pipeline.Languages()
	st := Status{SourceLanguage: src, TargetLanguage: tgt}
	if h.engine != nil {
		st.Listening = h.engine.Listening()
	}
	if h.sched != nil {
		st.Speaking = h.sched.Playing()
	}
	if h.ducker != nil {
		st.Duck = h.ducker.State()
	}
	return st
}

// segment hands final segments to the pipeline off the recognizer goroutine.
func (h *Handle) segment(seg domain.TranscriptSegment) {
	if !seg.IsFinal {
		return
	}
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	ctx, room, self := h.ctx, h.room, h.self
	h.inflight.Add(1)
	h.mu.Unlock()

	go func() {
		defer h.inflight.Done()
		if h.pub != nil {
			if err := h.pub.PublishTranscript(ctx, events.TranscriptEvent{Room: room, Participant: self, Segment: seg}); err != nil {
				h.logger.Warn().Err(err).Msg("publish transcript failed")
			}
		}
		// Provider failures come back through OnError.
		_ = h.pipeline.SubmitSegment(ctx, seg)
	}()
}

func (h *Handle) translated(res domain.TranslationResult) {
	h.mu.Lock()
	fn, room, self, ctx := h.onTranslation, h.room, h.self, h.ctx
	h.mu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}
	if h.pub != nil {
		if err := h.pub.PublishTranslation(ctx, events.TranslationEvent{Room: room, Participant: self, Result: res}); err != nil {
			h.logger.Warn().Err(err).Msg("publish translation failed")
		}
	}
	if fn != nil {
		fn(res)
	}
}

func (h *Handle) fail(err error) {
	h.mu.Lock()
	fn := h.onError
	h.mu.Unlock()
	h.logger.Warn().Err(err).Msg("translator error")
	if fn != nil {
		fn(err)
	}
}
