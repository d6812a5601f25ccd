package speech

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/dkeye/orbit/internal/audio"
	"github.com/dkeye/orbit/internal/core"
	"github.com/dkeye/orbit/internal/domain"
)

type streamOpener func(ctx context.Context) (speechpb.Speech_StreamingRecognizeClient, error)

type recognizeFunc func(ctx context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error)

// GoogleRecognizer streams captured audio to Cloud Speech-to-Text with
// interim results. The service ends streams on its own after a while; that
// end is reported as idle so the engine restarts.
type GoogleRecognizer struct {
	open       streamOpener
	src        audio.Source
	sampleRate int
}

// NewGoogleRecognizer requires GOOGLE_APPLICATION_CREDENTIALS to be set.
func NewGoogleRecognizer(client *speech.Client, src audio.Source, sampleRate int) *GoogleRecognizer {
	return &GoogleRecognizer{
		open: func(ctx context.Context) (speechpb.Speech_StreamingRecognizeClient, error) {
			return client.StreamingRecognize(ctx)
		},
		src:        src,
		sampleRate: sampleRate,
	}
}

func (g *GoogleRecognizer) Listen(ctx context.Context, locale string, emit func(domain.TranscriptSegment)) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := g.open(ctx)
	if err != nil {
		return fmt.Errorf("%w: open stream: %v", core.ErrTranscriptionUnavailable, err)
	}
	err = stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					Encoding:                   speechpb.RecognitionConfig_LINEAR16,
					SampleRateHertz:            int32(g.sampleRate),
					LanguageCode:               locale,
					EnableAutomaticPunctuation: true,
				},
				InterimResults: true,
			},
		},
	})
	if err != nil {
		return classify(err)
	}

	sendErr := make(chan error, 1)
	go func() {
		sendErr <- g.pump(ctx, stream)
	}()

	for {
		resp, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				// The sender knows whether capture ended or the service
				// closed an idle stream.
				cancel()
				return <-sendErr
			}
			return classify(err)
		}
		for _, r := range resp.GetResults() {
			alts := r.GetAlternatives()
			if len(alts) == 0 {
				continue
			}
			emit(domain.TranscriptSegment{
				Text:         strings.TrimSpace(alts[0].GetTranscript()),
				IsFinal:      r.GetIsFinal(),
				LanguageCode: locale,
				CapturedAt:   time.Now(),
			})
		}
	}
}

// pump forwards capture frames until the source ends or ctx is done.
func (g *GoogleRecognizer) pump(ctx context.Context, stream speechpb.Speech_StreamingRecognizeClient) error {
	defer stream.CloseSend()
	for {
		frame, err := g.src.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if err := stream.Send(&speechpb.StreamingRecognizeRequest{
			StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{AudioContent: audio.Bytes(frame)},
		}); err != nil {
			return nil
		}
	}
}

// classify maps provider status codes onto the engine's vocabulary.
func classify(err error) error {
	switch status.Code(err) {
	case codes.OutOfRange, codes.DeadlineExceeded:
		return ErrNoSpeech
	case codes.Canceled:
		return context.Canceled
	case codes.PermissionDenied, codes.Unauthenticated:
		return fmt.Errorf("%w: %v", core.ErrTranscriptionUnavailable, err)
	}
	if errors.Is(err, io.EOF) || errors.Is(err, core.ErrMediaAccessDenied) {
		return err
	}
	return fmt.Errorf("%w: %v", core.ErrTranscriptionUnavailable, err)
}

// GoogleTranscriber is the request/response flavour used for chunked captions.
type GoogleTranscriber struct {
	recognize recognizeFunc
}

func NewGoogleTranscriber(client *speech.Client) *GoogleTranscriber {
	return &GoogleTranscriber{
		recognize: func(ctx context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error) {
			return client.Recognize(ctx, req)
		},
	}
}

func (g *GoogleTranscriber) Transcribe(ctx context.Context, samples []int16, sampleRate int, locale string) (string, error) {
	resp, err := g.recognize(ctx, &speechpb.RecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:        speechpb.RecognitionConfig_LINEAR16,
			SampleRateHertz: int32(sampleRate),
			LanguageCode:    locale,
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: audio.Bytes(samples)},
		},
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", core.ErrTranscriptionUnavailable, err)
	}
	var parts []string
	for _, r := range resp.GetResults() {
		if alts := r.GetAlternatives(); len(alts) > 0 {
			parts = append(parts, strings.TrimSpace(alts[0].GetTranscript()))
		}
	}
	return strings.Join(parts, " "), nil
}
