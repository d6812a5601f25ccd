package core

import "errors"

// Error taxonomy shared by every subsystem. Wrap with %w and test with errors.Is.
var (
	// ErrChannelUnavailable means the signaling transport is down. The caller
	// owns retry and backoff.
	ErrChannelUnavailable = errors.New("signaling channel unavailable")
	// ErrUnknownPeer means an operation referenced a link that does not exist.
	ErrUnknownPeer = errors.New("unknown peer")
	// ErrStaleNegotiation marks a duplicate or out-of-order negotiation message.
	ErrStaleNegotiation = errors.New("stale negotiation")
	// ErrTranscriptionUnavailable and ErrTranslationUnavailable are provider
	// failures; the segment or batch is dropped.
	ErrTranscriptionUnavailable = errors.New("transcription unavailable")
	ErrTranslationUnavailable   = errors.New("translation unavailable")
	// ErrMediaAccessDenied is fatal to the capture session that hit it.
	ErrMediaAccessDenied = errors.New("media access denied")

	ErrAlreadyJoined = errors.New("already joined")
	ErrNotJoined     = errors.New("not joined")
	ErrBackpressure  = errors.New("backpressure")
	ErrClosed        = errors.New("closed")
)

// Structural reports errors that are logged and suppressed rather than
// propagated.
func Structural(err error) bool {
	return errors.Is(err, ErrUnknownPeer) || errors.Is(err, ErrStaleNegotiation)
}
