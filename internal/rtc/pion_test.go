package rtc

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"

	"github.com/dkeye/orbit/internal/domain"
)

type candidateBridge struct {
	to   *Registry
	from domain.ParticipantID

	mu     sync.Mutex
	open   bool
	queued []json.RawMessage
}

func (b *candidateBridge) push(c json.RawMessage) {
	b.mu.Lock()
	if !b.open {
		b.queued = append(b.queued, c)
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()
	_ = b.to.AddRemoteCandidate(b.from, c)
}

func (b *candidateBridge) release() {
	b.mu.Lock()
	b.open = true
	q := b.queued
	b.queued = nil
	b.mu.Unlock()
	for _, c := range q {
		_ = b.to.AddRemoteCandidate(b.from, c)
	}
}

func loopbackFactory(t *testing.T) ConnectionFactory {
	t.Helper()
	se := webrtc.SettingEngine{}
	se.SetIncludeLoopbackCandidate(true)
	se.SetNetworkTypes([]webrtc.NetworkType{webrtc.NetworkTypeUDP4})
	api, err := NewAPI(&se)
	if err != nil {
		t.Fatalf("NewAPI: %v", err)
	}
	return NewPionFactory(api, webrtc.Configuration{})
}

func TestPionLoopbackMedia(t *testing.T) {
	if testing.Short() {
		t.Skip("opens UDP sockets")
	}
	ra := NewRegistry(loopbackFactory(t), time.Second)
	rb := NewRegistry(loopbackFactory(t), time.Second)
	defer ra.CloseAll()
	defer rb.CloseAll()

	src, err := NewOpusSource("alice")
	if err != nil {
		t.Fatal(err)
	}
	ra.SetLocalSource(src)

	toB := &candidateBridge{to: rb, from: alice}
	toA := &candidateBridge{to: ra, from: bob}
	ra.OnLocalCandidate(func(_ domain.ParticipantID, c json.RawMessage) { toB.push(c) })
	rb.OnLocalCandidate(func(_ domain.ParticipantID, c json.RawMessage) { toA.push(c) })

	got := make(chan MediaSink, 4)
	rb.OnRemoteMedia(func(remote domain.ParticipantID, sink MediaSink) {
		if remote == alice {
			got <- sink
		}
	})

	offer, err := ra.CreateOffer(bob)
	if err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}
	answer, err := rb.CreateAnswer(alice, offer)
	if err != nil {
		t.Fatalf("CreateAnswer: %v", err)
	}
	if err := ra.ApplyAnswer(bob, answer); err != nil {
		t.Fatalf("ApplyAnswer: %v", err)
	}
	toB.release()
	toA.release()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = src.WriteSample(media.Sample{Data: []byte{0xf8, 0xff, 0xfe}, Duration: 20 * time.Millisecond})
			}
		}
	}()

	select {
	case sink := <-got:
		if sink.Kind() != webrtc.RTPCodecTypeAudio {
			t.Fatalf("kind = %s", sink.Kind())
		}
	case <-ctx.Done():
		t.Fatal("no remote media within timeout")
	}

	// Same codec: swapped without a new offer.
	next, err := NewOpusSource("alice")
	if err != nil {
		t.Fatal(err)
	}
	renegotiated := make(chan struct{}, 1)
	ra.OnRenegotiate(func(domain.ParticipantID, Negotiation) { renegotiated <- struct{}{} })
	ra.SetLocalSource(next)
	select {
	case <-renegotiated:
		t.Fatal("compatible swap renegotiated")
	default:
	}
}
