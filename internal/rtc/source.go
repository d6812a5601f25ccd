package rtc

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
)

// SampleSource is a local outgoing track fed with encoded samples.
type SampleSource struct {
	track *webrtc.TrackLocalStaticSample
}

func NewSampleSource(codec webrtc.RTPCodecCapability, streamID string) (*SampleSource, error) {
	track, err := webrtc.NewTrackLocalStaticSample(codec, uuid.NewString(), streamID)
	if err != nil {
		return nil, err
	}
	return &SampleSource{track: track}, nil
}

func NewOpusSource(streamID string) (*SampleSource, error) {
	return NewSampleSource(webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeOpus,
		ClockRate: 48000,
		Channels:  2,
	}, streamID)
}

func (s *SampleSource) WriteSample(sample media.Sample) error {
	return s.track.WriteSample(sample)
}

func (s *SampleSource) Track() *webrtc.TrackLocalStaticSample { return s.track }

func (s *SampleSource) Tracks() []webrtc.TrackLocal {
	return []webrtc.TrackLocal{s.track}
}

func tracksOf(src Source) []webrtc.TrackLocal {
	if src == nil {
		return nil
	}
	return src.Tracks()
}

// PublishOgg paces the Opus pages of an Ogg stream into dst until the
// stream ends or ctx is done. io.EOF is reported as nil.
func PublishOgg(ctx context.Context, r io.Reader, dst *SampleSource) error {
	ogg, _, err := oggreader.NewWith(r)
	if err != nil {
		return err
	}
	var lastGranule uint64
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		page, header, err := ogg.ParseNextPage()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		// 48kHz granule clock.
		samples := header.GranulePosition - lastGranule
		lastGranule = header.GranulePosition
		dur := time.Duration(float64(samples)/48000*1000) * time.Millisecond
		if err := dst.WriteSample(media.Sample{Data: page, Duration: dur}); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
