package events

import (
	"context"
	"testing"

	"github.com/dkeye/orbit/internal/domain"
)

func TestNew_DisabledMode(t *testing.T) {
	tests := []struct {
		name string
		cfg  *Config
	}{
		{"nil", nil},
		{"disabled", &Config{Enabled: false, Brokers: []string{"localhost:9092"}}},
		{"no brokers", &Config{Enabled: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(tt.cfg)
			if p.enabled {
				t.Error("expected publisher to be disabled")
			}
			if p.transcripts != nil || p.translations != nil {
				t.Error("expected no writers when disabled")
			}
		})
	}
}

func TestNew_Enabled(t *testing.T) {
	p := New(&Config{
		Enabled:           true,
		Brokers:           []string{"localhost:9092"},
		TopicTranscripts:  "a",
		TopicTranslations: "b",
	})
	defer p.Close()
	if !p.enabled {
		t.Fatal("expected enabled publisher")
	}
	if p.transcripts.Topic != "a" || p.translations.Topic != "b" {
		t.Errorf("unexpected topics %q %q", p.transcripts.Topic, p.translations.Topic)
	}
}

func TestPublish_Disabled(t *testing.T) {
	p := New(&Config{Enabled: false})
	ctx := context.Background()

	err := p.PublishTranscript(ctx, TranscriptEvent{
		Participant: "p1",
		Segment:     domain.TranscriptSegment{Text: "hello", IsFinal: true},
	})
	if err != nil {
		t.Errorf("expected no error when disabled, got %v", err)
	}
	err = p.PublishTranslation(ctx, TranslationEvent{
		Participant: "p1",
		Result:      domain.TranslationResult{TranslatedText: "hola"},
	})
	if err != nil {
		t.Errorf("expected no error when disabled, got %v", err)
	}
}

func TestPublishTranscript_SkipsInterim(t *testing.T) {
	// An enabled publisher pointing nowhere would fail on write; interim
	// segments must never reach the writer.
	p := New(&Config{Enabled: true, Brokers: []string{"127.0.0.1:1"}, TopicTranscripts: "t"})
	defer p.Close()

	err := p.PublishTranscript(context.Background(), TranscriptEvent{
		Segment: domain.TranscriptSegment{Text: "hel", IsFinal: false},
	})
	if err != nil {
		t.Errorf("expected interim to be skipped, got %v", err)
	}
}
