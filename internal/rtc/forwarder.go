package rtc

import (
	"context"
	"maps"
	"sync"
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/rs/zerolog"
)

// PacketWriter takes forwarded RTP. *webrtc.TrackLocalStaticRTP and the
// oggwriter/ivfwriter writers satisfy it.
type PacketWriter interface {
	WriteRTP(pkt *rtp.Packet) error
}

type OutputState int32

const (
	OutputOk OutputState = iota
	OutputMuted
	OutputDelete
)

// Output is one subscriber of a Forwarder.
type Output struct {
	w     PacketWriter
	state atomic.Int32
}

func (o *Output) State() OutputState { return OutputState(o.state.Load()) }
func (o *Output) Unmute()            { o.state.Store(int32(OutputOk)) }
func (o *Output) Mute()              { o.state.Store(int32(OutputMuted)) }
func (o *Output) Remove()            { o.state.Store(int32(OutputDelete)) }

// Forwarder reads RTP from a remote sink and fans it out to its outputs.
type Forwarder struct {
	src    MediaSink
	logger zerolog.Logger

	mu      sync.RWMutex
	outputs map[string]*Output
}

func NewForwarder(src MediaSink, logger zerolog.Logger) *Forwarder {
	return &Forwarder{
		src:     src,
		logger:  logger.With().Str("track_id", src.ID()).Logger(),
		outputs: make(map[string]*Output),
	}
}

func (f *Forwarder) AddOutput(key string, w PacketWriter) *Output {
	o := &Output{w: w}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outputs[key] = o
	return o
}

func (f *Forwarder) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.outputs)
}

// Run forwards until the source fails or ctx is done. Every output is marked
// for delete on return.
func (f *Forwarder) Run(ctx context.Context) error {
	defer f.markAllDelete()
	for {
		select {
		case <-ctx.Done():
			f.logger.Info().Msg("forwarder stopped")
			return ctx.Err()
		default:
		}
		pkt, _, err := f.src.ReadRTP()
		if err != nil {
			f.logger.Info().Err(err).Msg("source ended")
			return err
		}
		f.forward(pkt)
	}
}

func (f *Forwarder) forward(pkt *rtp.Packet) {
	f.mu.RLock()
	snapshot := maps.Clone(f.outputs)
	f.mu.RUnlock()

	var dirty []string
	for key, o := range snapshot {
		switch o.State() {
		case OutputDelete:
			dirty = append(dirty, key)
		case OutputMuted:
		case OutputOk:
			if err := o.w.WriteRTP(pkt); err != nil {
				f.logger.Error().Err(err).Str("output", key).Msg("write failed, removing output")
				o.Remove()
				dirty = append(dirty, key)
			}
		}
	}
	if len(dirty) == 0 {
		return
	}
	f.mu.Lock()
	for _, key := range dirty {
		if o, ok := f.outputs[key]; ok && o.State() == OutputDelete {
			delete(f.outputs, key)
		}
	}
	f.mu.Unlock()
}

func (f *Forwarder) markAllDelete() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, o := range f.outputs {
		o.Remove()
	}
}
