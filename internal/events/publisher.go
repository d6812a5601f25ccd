// Package events publishes final transcripts and translations for an
// external persister.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"github.com/dkeye/orbit/internal/domain"
	"github.com/dkeye/orbit/internal/metrics"
)

type Config struct {
	Brokers           []string
	TopicTranscripts  string
	TopicTranslations string
	Principal         string
	Enabled           bool
}

// TranscriptEvent is one final transcript row.
type TranscriptEvent struct {
	Room        domain.RoomID            `json:"room"`
	Participant domain.ParticipantID     `json:"participant"`
	Segment     domain.TranscriptSegment `json:"segment"`
}

// TranslationEvent is one translation row.
type TranslationEvent struct {
	Room        domain.RoomID            `json:"room"`
	Participant domain.ParticipantID     `json:"participant"`
	Result      domain.TranslationResult `json:"result"`
}

// Publisher writes events to Kafka, or only logs them when disabled.
type Publisher struct {
	transcripts       *kafka.Writer
	translations      *kafka.Writer
	topicTranscripts  string
	topicTranslations string
	principal         string
	enabled           bool
	metrics           *metrics.Metrics
}

func New(cfg *Config) *Publisher {
	m := metrics.DefaultMetrics
	if cfg == nil {
		log.Info().Str("module", "events").Msg("kafka disabled (nil config), log-only mode")
		return &Publisher{metrics: m}
	}
	p := &Publisher{
		topicTranscripts:  cfg.TopicTranscripts,
		topicTranslations: cfg.TopicTranslations,
		principal:         cfg.Principal,
		metrics:           m,
	}
	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		log.Info().Str("module", "events").Msg("kafka disabled, log-only mode")
		return p
	}

	transport := &kafka.Transport{
		Dial: (&kafka.Dialer{Timeout: 10 * time.Second, DualStack: true}).DialFunc,
	}
	newWriter := func(topic string) *kafka.Writer {
		return &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 10 * time.Millisecond,
			WriteTimeout: 10 * time.Second,
			RequiredAcks: kafka.RequireOne,
			Transport:    transport,
		}
	}
	p.transcripts = newWriter(cfg.TopicTranscripts)
	p.translations = newWriter(cfg.TopicTranslations)
	p.enabled = true

	log.Info().
		Str("module", "events").
		Strs("brokers", cfg.Brokers).
		Str("topic_transcripts", cfg.TopicTranscripts).
		Str("topic_translations", cfg.TopicTranslations).
		Msg("kafka publisher initialized")
	return p
}

// PublishTranscript drops interim segments; only finals are worth keeping.
func (p *Publisher) PublishTranscript(ctx context.Context, ev TranscriptEvent) error {
	if !ev.Segment.IsFinal {
		return nil
	}
	return p.publish(ctx, p.transcripts, p.topicTranscripts, string(ev.Participant), ev)
}

func (p *Publisher) PublishTranslation(ctx context.Context, ev TranslationEvent) error {
	return p.publish(ctx, p.translations, p.topicTranslations, string(ev.Participant), ev)
}

func (p *Publisher) publish(ctx context.Context, w *kafka.Writer, topic, key string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("module", "events").Str("topic", topic).Msg("marshal event")
		return err
	}

	log.Debug().
		Str("module", "events").
		Str("topic", topic).
		Str("key", key).
		RawJSON("payload", payload).
		Msg("publishing event")

	if !p.enabled || w == nil {
		p.metrics.RecordPublish(topic, nil)
		return nil
	}

	err = w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "principal", Value: []byte(p.principal)},
		},
	})
	p.metrics.RecordPublish(topic, err)
	if err != nil {
		log.Error().Err(err).Str("module", "events").Str("topic", topic).Msg("kafka write failed")
	}
	return err
}

func (p *Publisher) Close() error {
	var err error
	for _, w := range []*kafka.Writer{p.transcripts, p.translations} {
		if w == nil {
			continue
		}
		if e := w.Close(); e != nil {
			log.Error().Err(e).Str("module", "events").Str("topic", w.Topic).Msg("close writer")
			err = e
		}
	}
	return err
}
