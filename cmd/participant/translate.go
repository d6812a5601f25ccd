package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	gspeech "cloud.google.com/go/speech/apiv1"

	"github.com/dkeye/orbit/internal/audio"
	"github.com/dkeye/orbit/internal/config"
	"github.com/dkeye/orbit/internal/ducking"
	"github.com/dkeye/orbit/internal/events"
	"github.com/dkeye/orbit/internal/speech"
	"github.com/dkeye/orbit/internal/translation"
	"github.com/dkeye/orbit/internal/translator"
)

// newTranslator assembles the capture, recognition, translation and ducking
// chain. The returned func releases files and clients.
func newTranslator(ctx context.Context, cfg *config.Config, f flags, room ducking.VolumeControl) (*translator.Handle, func(), error) {
	var closers []func() error
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i]()
		}
	}

	var in io.Reader = os.Stdin
	if f.capture != "-" {
		file, err := os.Open(f.capture)
		if err != nil {
			return nil, nil, fmt.Errorf("open capture: %w", err)
		}
		closers = append(closers, file.Close)
		in = file
	}
	rate := cfg.Speech.SampleRate
	src := audio.NewReaderSource(in, rate, 20*time.Millisecond, true)

	var rec speech.Recognizer
	switch cfg.Speech.Provider {
	case "google":
		client, err := gspeech.NewClient(ctx)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("speech client: %w", err)
		}
		closers = append(closers, client.Close)
		rec = speech.NewGoogleRecognizer(client, src, rate)
	default:
		tr := speech.NewHTTPTranscriber(cfg.Translation.Endpoint, cfg.Translation.Timeout)
		rec = speech.NewChunkedRecognizer(tr, src, rate, cfg.Speech.ChunkInterval)
	}
	engine := speech.NewEngine(rec, speech.Options{
		Language:     cfg.Speech.Language,
		RestartDelay: cfg.Speech.RestartDelay,
	})

	var out io.Writer = io.Discard
	if f.playback != "" {
		file, err := os.Create(f.playback)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("open playback: %w", err)
		}
		closers = append(closers, file.Close)
		out = file
	}
	clock := translation.NewWallClock()
	player := translation.NewWriterPlayer(clock, out)
	sched := translation.NewScheduler(clock, player)

	ducker := ducking.New(room, ducking.Options{
		DuckVolume:      cfg.Ducking.DuckVolume,
		NormalVolume:    cfg.Ducking.NormalVolume,
		DuckDuration:    cfg.Ducking.DuckDuration(),
		RestoreDuration: cfg.Ducking.RestoreDuration(),
	})

	provider := translation.NewHTTPProvider(cfg.Translation.Endpoint, cfg.Translation.Timeout)
	pipeline := translation.New(provider, sched, nil, translation.Options{
		SourceLanguage:    cfg.Translation.SourceLanguage,
		TargetLanguage:    cfg.Translation.TargetLanguage,
		BatchWindow:       cfg.Translation.BatchWindow(),
		FeedbackGuard:     cfg.Translation.FeedbackGuard(),
		CaptureSampleRate: rate,
		CallTimeout:       cfg.Translation.Timeout,
	})

	pub := events.New(&events.Config{
		Enabled:           cfg.Kafka.Enabled,
		Brokers:           cfg.Kafka.Brokers,
		TopicTranscripts:  cfg.Kafka.TopicTranscripts,
		TopicTranslations: cfg.Kafka.TopicTranslations,
		Principal:         cfg.Kafka.Principal,
	})
	closers = append(closers, pub.Close)

	h := translator.New(translator.Parts{
		Engine:    engine,
		Pipeline:  pipeline,
		Scheduler: sched,
		Ducker:    ducker,
		Output:    player,
		Publisher: pub,
	})
	return h, closeAll, nil
}
