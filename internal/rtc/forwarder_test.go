package rtc

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

type packetSink struct {
	mu      sync.Mutex
	packets []*rtp.Packet
}

func (s *packetSink) ID() string                { return "src" }
func (s *packetSink) StreamID() string          { return "stream" }
func (s *packetSink) Kind() webrtc.RTPCodecType { return webrtc.RTPCodecTypeAudio }
func (s *packetSink) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.packets) == 0 {
		return nil, nil, io.EOF
	}
	p := s.packets[0]
	s.packets = s.packets[1:]
	return p, nil, nil
}

type countingWriter struct {
	n    int
	fail bool
}

func (w *countingWriter) WriteRTP(*rtp.Packet) error {
	if w.fail {
		return errors.New("closed")
	}
	w.n++
	return nil
}

func packets(n int) []*rtp.Packet {
	out := make([]*rtp.Packet, n)
	for i := range out {
		out[i] = &rtp.Packet{Header: rtp.Header{SequenceNumber: uint16(i)}}
	}
	return out
}

func TestForwarderFansOut(t *testing.T) {
	src := &packetSink{packets: packets(3)}
	f := NewForwarder(src, zerolog.Nop())

	a, b, broken := &countingWriter{}, &countingWriter{}, &countingWriter{fail: true}
	f.AddOutput("a", a)
	f.AddOutput("b", b).Mute()
	f.AddOutput("broken", broken)

	err := f.Run(context.Background())
	if !errors.Is(err, io.EOF) {
		t.Fatalf("Run err = %v, want EOF", err)
	}
	if a.n != 3 {
		t.Fatalf("a got %d packets, want 3", a.n)
	}
	if b.n != 0 {
		t.Fatalf("muted output got %d packets", b.n)
	}
	if f.Len() != 2 {
		t.Fatalf("outputs = %d, broken output should be removed", f.Len())
	}
}

func TestForwarderRemovedOutput(t *testing.T) {
	src := &packetSink{packets: packets(2)}
	f := NewForwarder(src, zerolog.Nop())
	w := &countingWriter{}
	out := f.AddOutput("w", w)
	out.Remove()

	_ = f.Run(context.Background())
	if w.n != 0 {
		t.Fatalf("removed output got %d packets", w.n)
	}
	if f.Len() != 0 {
		t.Fatalf("outputs = %d", f.Len())
	}
	if out.State() != OutputDelete {
		t.Fatalf("state = %d", out.State())
	}
}

func TestForwarderStopsOnContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f := NewForwarder(&packetSink{packets: packets(5)}, zerolog.Nop())
	out := f.AddOutput("w", &countingWriter{})
	if err := f.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
	if out.State() != OutputDelete {
		t.Fatal("outputs should be marked for delete")
	}
}
