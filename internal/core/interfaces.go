package core

// Frame is one encoded signaling envelope.
type Frame []byte

// SignalConnection abstracts a message transport owned by an adapter;
// the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// Notifier receives time-limited user-visible notices.
type Notifier interface {
	Notify(text string)
}
