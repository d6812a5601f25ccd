package speech

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/orbit/internal/core"
	"github.com/dkeye/orbit/internal/domain"
)

type session func(ctx context.Context, emit func(domain.TranscriptSegment)) error

// scriptRecognizer plays one scripted session per Listen call; once the
// script runs out it blocks until cancelled.
type scriptRecognizer struct {
	mu      sync.Mutex
	script  []session
	locales []string
	calls   chan string
}

func newScript(s ...session) *scriptRecognizer {
	return &scriptRecognizer{script: s, calls: make(chan string, 32)}
}

func (r *scriptRecognizer) Listen(ctx context.Context, locale string, emit func(domain.TranscriptSegment)) error {
	r.mu.Lock()
	r.locales = append(r.locales, locale)
	var s session
	if len(r.script) > 0 {
		s, r.script = r.script[0], r.script[1:]
	}
	r.mu.Unlock()
	r.calls <- locale

	if s == nil {
		<-ctx.Done()
		return ctx.Err()
	}
	return s(ctx, emit)
}

func (r *scriptRecognizer) waitCall(t *testing.T) string {
	t.Helper()
	select {
	case l := <-r.calls:
		return l
	case <-time.After(time.Second):
		t.Fatal("recognizer was not (re)started")
		return ""
	}
}

func (r *scriptRecognizer) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.locales)
}

type collector struct {
	mu   sync.Mutex
	segs []domain.TranscriptSegment
	errs []error
}

func (c *collector) seg(s domain.TranscriptSegment) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.segs = append(c.segs, s)
}

func (c *collector) err(e error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errs = append(c.errs, e)
}

func (c *collector) snapshot() ([]domain.TranscriptSegment, []error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.TranscriptSegment(nil), c.segs...), append([]error(nil), c.errs...)
}

func fastEngine(rec Recognizer) (*Engine, *collector) {
	e := NewEngine(rec, Options{Language: "en", RestartDelay: 5 * time.Millisecond})
	c := &collector{}
	e.OnSegment(c.seg)
	e.OnError(c.err)
	return e, c
}

func TestEngine_EmitsInterimAndFinal(t *testing.T) {
	rec := newScript(func(ctx context.Context, emit func(domain.TranscriptSegment)) error {
		emit(domain.TranscriptSegment{Text: "hel"})
		emit(domain.TranscriptSegment{Text: "hello", IsFinal: true})
		<-ctx.Done()
		return nil
	})
	e, c := fastEngine(rec)
	e.Start(context.Background())
	if l := rec.waitCall(t); l != "en-US" {
		t.Errorf("expected locale en-US, got %s", l)
	}
	time.Sleep(20 * time.Millisecond)
	e.Stop()

	segs, errs := c.snapshot()
	if len(segs) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(segs))
	}
	if segs[0].IsFinal || !segs[1].IsFinal {
		t.Errorf("expected interim then final, got %+v", segs)
	}
	if segs[0].LanguageCode != "en" || segs[0].CapturedAt.IsZero() {
		t.Errorf("expected language and timestamp filled, got %+v", segs[0])
	}
	if len(errs) != 0 {
		t.Errorf("expected no errors, got %v", errs)
	}
}

func TestEngine_RestartsSilentlyOnIdleAndNoSpeech(t *testing.T) {
	rec := newScript(
		func(context.Context, func(domain.TranscriptSegment)) error { return nil },
		func(context.Context, func(domain.TranscriptSegment)) error { return ErrNoSpeech },
	)
	e, c := fastEngine(rec)
	e.Start(context.Background())
	defer e.Stop()

	rec.waitCall(t)
	rec.waitCall(t)
	rec.waitCall(t)

	if _, errs := c.snapshot(); len(errs) != 0 {
		t.Errorf("idle ends must not surface errors, got %v", errs)
	}
	if !e.Listening() {
		t.Error("engine should still be listening")
	}
}

func TestEngine_SurfacesErrorsAndRestarts(t *testing.T) {
	boom := errors.New("network")
	rec := newScript(func(context.Context, func(domain.TranscriptSegment)) error { return boom })
	e, c := fastEngine(rec)
	e.Start(context.Background())
	defer e.Stop()

	rec.waitCall(t)
	rec.waitCall(t)

	_, errs := c.snapshot()
	if len(errs) != 1 || !errors.Is(errs[0], boom) {
		t.Errorf("expected the network error surfaced once, got %v", errs)
	}
}

func TestEngine_MediaAccessDeniedIsFatal(t *testing.T) {
	rec := newScript(func(context.Context, func(domain.TranscriptSegment)) error {
		return core.ErrMediaAccessDenied
	})
	e, c := fastEngine(rec)
	e.Start(context.Background())
	rec.waitCall(t)

	time.Sleep(30 * time.Millisecond)
	if e.Listening() {
		t.Error("engine must stop after media access denied")
	}
	if n := rec.callCount(); n != 1 {
		t.Errorf("expected no retry, got %d sessions", n)
	}
	if _, errs := c.snapshot(); len(errs) != 1 || !errors.Is(errs[0], core.ErrMediaAccessDenied) {
		t.Errorf("expected media access denied surfaced, got %v", errs)
	}
}

func TestEngine_CaptureEndStopsQuietly(t *testing.T) {
	rec := newScript(func(context.Context, func(domain.TranscriptSegment)) error { return io.EOF })
	e, c := fastEngine(rec)
	e.Start(context.Background())
	rec.waitCall(t)

	time.Sleep(30 * time.Millisecond)
	if e.Listening() {
		t.Error("engine must stop when capture ends")
	}
	if _, errs := c.snapshot(); len(errs) != 0 {
		t.Errorf("expected no errors, got %v", errs)
	}
}

func TestEngine_UpdateLanguage(t *testing.T) {
	rec := newScript()
	e, _ := fastEngine(rec)

	e.UpdateLanguage("fr")
	if n := rec.callCount(); n != 0 {
		t.Fatalf("inactive engine must not start, got %d sessions", n)
	}

	e.Start(context.Background())
	if l := rec.waitCall(t); l != "fr-FR" {
		t.Errorf("expected lazily applied fr-FR, got %s", l)
	}

	e.UpdateLanguage("de")
	if l := rec.waitCall(t); l != "de-DE" {
		t.Errorf("expected restart with de-DE, got %s", l)
	}
	e.Stop()
	if e.Language() != "de" {
		t.Errorf("expected language de, got %s", e.Language())
	}
}

func TestEngine_NoCallbacksAfterStop(t *testing.T) {
	release := make(chan struct{})
	rec := newScript(func(ctx context.Context, emit func(domain.TranscriptSegment)) error {
		<-release
		emit(domain.TranscriptSegment{Text: "late", IsFinal: true})
		return errors.New("late error")
	})
	e, c := fastEngine(rec)
	e.Start(context.Background())
	rec.waitCall(t)

	go func() {
		time.Sleep(10 * time.Millisecond)
		close(release)
	}()
	e.Stop()

	time.Sleep(20 * time.Millisecond)
	segs, errs := c.snapshot()
	if len(segs) != 0 || len(errs) != 0 {
		t.Errorf("expected silence after stop, got %v %v", segs, errs)
	}
	if n := rec.callCount(); n != 1 {
		t.Errorf("expected no restart after stop, got %d sessions", n)
	}
}

func TestLocale(t *testing.T) {
	tests := map[string]string{
		"en":    "en-US",
		"ja":    "ja-JP",
		"AR":    "ar-SA",
		"pt-BR": "pt-BR",
		"xx":    "en-US",
		"":      "en-US",
	}
	for in, want := range tests {
		if got := Locale(in); got != want {
			t.Errorf("Locale(%q) = %q, want %q", in, got, want)
		}
	}
}
