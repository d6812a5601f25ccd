package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
	"github.com/rs/zerolog"

	"github.com/dkeye/orbit/internal/domain"
	"github.com/dkeye/orbit/internal/logging"
	"github.com/dkeye/orbit/internal/rtc"
)

// roomAudio records every remote audio track to an Ogg file. It is also the
// source the translator ducks: volume 0 mutes the recordings.
type roomAudio struct {
	dir    string
	logger zerolog.Logger
	volume atomic.Int32

	mu      sync.Mutex
	outputs map[string]*rtc.Output
}

func newRoomAudio(dir string) *roomAudio {
	r := &roomAudio{
		dir:     dir,
		logger:  logging.Module("participant.record"),
		outputs: make(map[string]*rtc.Output),
	}
	r.volume.Store(100)
	return r
}

func (r *roomAudio) Volume() int { return int(r.volume.Load()) }

func (r *roomAudio) SetVolume(v int) {
	r.volume.Store(int32(v))
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.outputs {
		if v == 0 {
			o.Mute()
		} else {
			o.Unmute()
		}
	}
}

// Record blocks until the track ends or ctx is done. Video is drained and
// dropped.
func (r *roomAudio) Record(ctx context.Context, remote domain.ParticipantID, sink rtc.MediaSink) {
	fwd := rtc.NewForwarder(sink, r.logger)
	if sink.Kind() != webrtc.RTPCodecTypeAudio {
		_ = fwd.Run(ctx)
		return
	}

	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		r.logger.Error().Err(err).Str("dir", r.dir).Msg("cannot create recording dir")
		_ = fwd.Run(ctx)
		return
	}
	path := filepath.Join(r.dir, fmt.Sprintf("%s-%s.ogg", remote, sink.ID()))
	w, err := oggwriter.New(path, 48000, 2)
	if err != nil {
		r.logger.Error().Err(err).Str("file", path).Msg("cannot open recording")
		_ = fwd.Run(ctx)
		return
	}
	defer w.Close()

	key := string(remote) + "/" + sink.ID()
	out := fwd.AddOutput(key, w)
	if r.Volume() == 0 {
		out.Mute()
	}
	r.mu.Lock()
	r.outputs[key] = out
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.outputs, key)
		r.mu.Unlock()
	}()

	r.logger.Info().Str("remote", string(remote)).Str("file", path).Msg("recording")
	if err := fwd.Run(ctx); err != nil {
		r.logger.Debug().Err(err).Str("remote", string(remote)).Msg("track ended")
	}
}

func (r *roomAudio) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.outputs {
		o.Remove()
	}
}
