package domain

import "time"

// TranscriptSegment is one recognized piece of speech. Interim segments are
// superseded by later ones for the same utterance.
type TranscriptSegment struct {
	Text         string    `json:"text"`
	IsFinal      bool      `json:"is_final"`
	LanguageCode string    `json:"language"`
	CapturedAt   time.Time `json:"captured_at"`
}

// AudioClip is decoded mono PCM ready for playback.
type AudioClip struct {
	Samples    []int16
	SampleRate int
}

func (c AudioClip) Duration() time.Duration {
	if c.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(c.Samples)) * time.Second / time.Duration(c.SampleRate)
}

// TranslationResult has no Audio when the provider did not synthesize speech;
// the caller then falls back to local text-to-speech.
type TranslationResult struct {
	SourceText         string     `json:"source_text,omitempty"`
	TranslatedText     string     `json:"translated_text"`
	SourceLanguageCode string     `json:"source_language"`
	TargetLanguageCode string     `json:"target_language"`
	Audio              *AudioClip `json:"-"`
	CreatedAt          time.Time  `json:"created_at"`
}

type DuckState int

const (
	DuckNormal DuckState = iota
	DuckDucked
)

func (s DuckState) String() string {
	if s == DuckDucked {
		return "ducked"
	}
	return "normal"
}
