package translation

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/orbit/internal/audio"
	"github.com/dkeye/orbit/internal/core"
	"github.com/dkeye/orbit/internal/domain"
)

type resultSink struct {
	mu      sync.Mutex
	results []domain.TranslationResult
	errs    []error
}

func (r *resultSink) result(res domain.TranslationResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, res)
}

func (r *resultSink) err(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func TestSubmitSegment_OnlyFinalCallsProvider(t *testing.T) {
	prov := newFakeProvider(Response{TranslatedText: "hola"}, nil)
	p := New(prov, nil, nil, Options{BatchWindow: 2000 * time.Millisecond})
	ctx := context.Background()

	base := time.Now()
	for _, at := range []time.Duration{500, 1200, 1900} {
		seg := domain.TranscriptSegment{Text: "hel", CapturedAt: base.Add(at * time.Millisecond)}
		if err := p.SubmitSegment(ctx, seg); err != nil {
			t.Fatalf("interim: %v", err)
		}
	}
	final := domain.TranscriptSegment{Text: "hello", IsFinal: true, CapturedAt: base.Add(2100 * time.Millisecond)}
	if err := p.SubmitSegment(ctx, final); err != nil {
		t.Fatalf("final: %v", err)
	}

	if n := prov.count(); n != 1 {
		t.Fatalf("expected exactly one provider call, got %d", n)
	}
	if prov.reqs[0].Text != "hello" {
		t.Errorf("expected text hello, got %q", prov.reqs[0].Text)
	}
	if prov.reqs[0].SourceLanguage != "en" || prov.reqs[0].TargetLanguage != "es" {
		t.Errorf("unexpected languages %+v", prov.reqs[0])
	}
}

func TestMissingAudio_StillEmitsText(t *testing.T) {
	prov := newFakeProvider(Response{TranslatedText: "hola"}, nil)
	clock := &fakeClock{}
	player := &fakePlayer{}
	speaker := &fakeSpeaker{}
	p := New(prov, NewScheduler(clock, player), speaker, Options{})
	sink := &resultSink{}
	p.OnTranslation(sink.result)

	if err := p.Translate(context.Background(), "hello"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(sink.results) != 1 || sink.results[0].TranslatedText != "hola" {
		t.Fatalf("expected translated text emitted, got %+v", sink.results)
	}
	if sink.results[0].Audio != nil {
		t.Error("expected no audio")
	}
	if len(player.starts()) != 0 {
		t.Error("nothing should be scheduled without audio")
	}
	if len(speaker.texts) != 1 || speaker.texts[0] != "hola" {
		t.Errorf("expected local speech fallback, got %v", speaker.texts)
	}
	if p.Guarded() {
		t.Error("guard must not arm without playback")
	}
}

func TestAudioResponse_SchedulesAndArmsGuard(t *testing.T) {
	pcm := make([]byte, 2*2400) // 100ms at 24kHz
	prov := newFakeProvider(Response{
		TranslatedText: "hola",
		AudioData:      base64.StdEncoding.EncodeToString(pcm),
	}, nil)
	clock := &fakeClock{}
	player := &fakePlayer{}
	p := New(prov, NewScheduler(clock, player), nil, Options{FeedbackGuard: time.Second})
	now := time.Unix(1000, 0)
	p.now = func() time.Time { return now }
	sink := &resultSink{}
	p.OnTranslation(sink.result)

	if err := p.Translate(context.Background(), "hello"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sink.results) != 1 || sink.results[0].Audio == nil {
		t.Fatalf("expected result with audio, got %+v", sink.results)
	}
	if d := sink.results[0].Audio.Duration(); d != 100*time.Millisecond {
		t.Errorf("expected 100ms clip, got %v", d)
	}
	if len(player.starts()) != 1 {
		t.Errorf("expected one scheduled clip, got %d", len(player.starts()))
	}

	if p.PushAudio([]int16{1, 2, 3}) {
		t.Error("capture must be suppressed during the feedback guard")
	}
	now = now.Add(1001 * time.Millisecond)
	if !p.PushAudio([]int16{1, 2, 3}) {
		t.Error("capture must resume after the feedback guard")
	}
}

func TestProviderFailure_DropsBatch(t *testing.T) {
	prov := newFakeProvider(Response{}, errors.New("boom"))
	p := New(prov, nil, nil, Options{})
	sink := &resultSink{}
	p.OnTranslation(sink.result)
	p.OnError(sink.err)

	err := p.Translate(context.Background(), "hello")
	if !errors.Is(err, core.ErrTranslationUnavailable) {
		t.Fatalf("expected ErrTranslationUnavailable, got %v", err)
	}
	if len(sink.results) != 0 {
		t.Error("no result expected on failure")
	}
	if len(sink.errs) != 1 {
		t.Errorf("expected one error callback, got %d", len(sink.errs))
	}
}

func TestBatchingLoop_FlushesAudio(t *testing.T) {
	prov := newFakeProvider(Response{TranslatedText: "hola"}, nil)
	p := New(prov, nil, nil, Options{BatchWindow: 20 * time.Millisecond, CaptureSampleRate: 8000})
	p.Start(context.Background())
	defer p.Stop()

	p.PushAudio(make([]int16, 160))

	select {
	case req := <-prov.calls:
		if len(req.Audio) != 44+320 {
			t.Errorf("expected wav of 364 bytes, got %d", len(req.Audio))
		}
		clip, err := audio.Decode(req.Audio, 0)
		if err != nil {
			t.Fatalf("decode batch: %v", err)
		}
		if clip.SampleRate != 8000 || len(clip.Samples) != 160 {
			t.Errorf("unexpected batch clip rate=%d n=%d", clip.SampleRate, len(clip.Samples))
		}
	case <-time.After(time.Second):
		t.Fatal("batch never flushed")
	}

	// Empty windows make no calls.
	time.Sleep(60 * time.Millisecond)
	if n := prov.count(); n != 1 {
		t.Errorf("expected a single call, got %d", n)
	}
}

func TestStop_SuppressesLateResults(t *testing.T) {
	prov := newFakeProvider(Response{TranslatedText: "hola"}, nil)
	p := New(prov, nil, nil, Options{})
	sink := &resultSink{}
	p.OnTranslation(sink.result)

	p.mu.Lock()
	gen := p.gen
	p.mu.Unlock()
	p.Stop()

	if err := p.call(context.Background(), gen, Request{Text: "late"}, "text"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sink.results) != 0 {
		t.Errorf("expected no callbacks after stop, got %d", len(sink.results))
	}
}

func TestSetLanguages(t *testing.T) {
	p := New(newFakeProvider(Response{}, nil), nil, nil, Options{})
	p.SetLanguages("", "fr")
	src, tgt := p.Languages()
	if src != "en" || tgt != "fr" {
		t.Errorf("expected en/fr, got %s/%s", src, tgt)
	}
}
