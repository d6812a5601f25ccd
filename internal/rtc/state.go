package rtc

// LinkState only moves forward, except Disconnected may return to Connected
// while the grace timer is running.
type LinkState int

const (
	StateNew LinkState = iota
	StateNegotiating
	StateConnected
	StateDisconnected
	StateFailed
	StateClosed
)

func (s LinkState) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateNegotiating:
		return "negotiating"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Negotiation is one offer or answer with the round it belongs to.
type Negotiation struct {
	Payload []byte
	Round   uint32
}
