// Package translation turns captured speech into translated, synthesized
// audio and schedules it for gapless playback.
package translation

import "context"

// Request carries either Text or a WAV encoded Audio batch.
type Request struct {
	Text           string
	Audio          []byte
	SourceLanguage string
	TargetLanguage string
}

// Response mirrors the provider wire format. AudioData is base64 and may be
// empty when no speech was synthesized.
type Response struct {
	TranslatedText string `json:"translatedText"`
	SourceText     string `json:"sourceText,omitempty"`
	AudioData      string `json:"audioData,omitempty"`
	SampleRate     int    `json:"sampleRate,omitempty"`
}

// Provider translates and optionally synthesizes. Failures wrap
// core.ErrTranslationUnavailable.
type Provider interface {
	Translate(ctx context.Context, req Request) (Response, error)
}

// Speaker is the local text-to-speech fallback used when a response has no audio.
type Speaker interface {
	Speak(ctx context.Context, text, language string) error
}
