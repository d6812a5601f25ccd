// Command participant joins a room headless: it publishes an Ogg/Opus file,
// records what the other members send and optionally translates its own
// captured speech.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/dkeye/orbit/internal/conference"
	"github.com/dkeye/orbit/internal/config"
	"github.com/dkeye/orbit/internal/core"
	"github.com/dkeye/orbit/internal/domain"
	"github.com/dkeye/orbit/internal/logging"
	"github.com/dkeye/orbit/internal/rtc"
	"github.com/dkeye/orbit/internal/signaling"
	"github.com/dkeye/orbit/internal/translator"
)

type flags struct {
	room      string
	name      string
	transport string
	publish   string
	capture   string
	recordDir string
	playback  string
}

func parseFlags() flags {
	var f flags
	pflag.StringVarP(&f.room, "room", "r", "lobby", "room to join")
	pflag.StringVarP(&f.name, "name", "n", "guest", "display name")
	pflag.StringVar(&f.transport, "transport", "ws", "signaling transport: ws or redis")
	pflag.StringVar(&f.publish, "publish", "", "Ogg/Opus file sent to the room")
	pflag.StringVar(&f.capture, "capture", "", "raw PCM16 mono file to transcribe and translate, - for stdin")
	pflag.StringVar(&f.recordDir, "record-dir", "recordings", "directory for received audio")
	pflag.StringVar(&f.playback, "playback", "", "file receiving translated PCM16 audio")
	pflag.Parse()
	return f
}

type logNotifier struct{ logger zerolog.Logger }

func (n logNotifier) Notify(text string) {
	n.logger.Warn().Msg(text)
}

func main() {
	f := parseFlags()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logging.Init(logging.Config{Level: "info"})
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})

	self := domain.Participant{ID: domain.NewParticipantID()}
	if err := self.SetDisplayName(f.name); err != nil {
		log.Fatal().Err(err).Str("name", f.name).Msg("invalid display name")
	}

	if err := run(ctx, cfg, f, self); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("participant stopped with error")
		os.Exit(1)
	}
	log.Info().Msg("participant exited")
}

func run(ctx context.Context, cfg *config.Config, f flags, self domain.Participant) error {
	ctx, stop := context.WithCancelCause(ctx)
	defer stop(nil)

	ch, err := openChannel(ctx, cfg, f.transport)
	if err != nil {
		return err
	}
	defer ch.Close()

	api, err := rtc.NewAPI(&webrtc.SettingEngine{})
	if err != nil {
		return err
	}
	reg := rtc.NewRegistry(rtc.NewPionFactory(api, rtc.DefaultWebRTCConfig(cfg.RTC.ICEServers)), cfg.RTC.DisconnectGrace)

	src, err := rtc.NewOpusSource(string(self.ID))
	if err != nil {
		return err
	}
	reg.SetLocalSource(src)

	room := newRoomAudio(f.recordDir)
	defer room.Close()

	var handle *translator.Handle
	if f.capture != "" {
		h, closeFn, err := newTranslator(ctx, cfg, f, room)
		if err != nil {
			return err
		}
		defer closeFn()
		handle = h
	}

	ctl := conference.New(conference.Options{
		Self:       self,
		Channel:    ch,
		Registry:   reg,
		Translator: handle,
		Notifier:   logNotifier{logger: logging.Module("participant.notice")},
	})

	g, gctx := errgroup.WithContext(ctx)
	ctl.OnRemoteMedia(func(remote domain.ParticipantID, sink rtc.MediaSink) {
		g.Go(func() error {
			room.Record(gctx, remote, sink)
			return nil
		})
	})
	ctl.OnRosterChange(func(members []conference.Member) {
		ids := make([]string, len(members))
		for i, m := range members {
			ids[i] = string(m.ID)
		}
		log.Info().Str("module", "participant").Strs("members", ids).Msg("roster")
	})
	ctl.OnError(func(err error) {
		log.Error().Err(err).Str("module", "participant").Msg("conference error")
		if conference.IsFatal(err) {
			stop(err)
		}
	})

	if err := ctl.Join(ctx, domain.RoomID(f.room)); err != nil {
		return err
	}

	if f.publish != "" {
		g.Go(func() error { return publish(gctx, f.publish, src) })
	}
	if handle != nil {
		handle.OnTranslation(func(res domain.TranslationResult) {
			log.Info().Str("module", "participant").
				Str("source", res.SourceText).
				Str("translated", res.TranslatedText).
				Msg("translation")
		})
		handle.OnError(func(err error) {
			log.Warn().Err(err).Str("module", "participant").Msg("translator error")
		})
		handle.Start(gctx)
	}

	<-gctx.Done()
	if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
		log.Error().Err(cause).Str("module", "participant").Msg("session ended")
	}

	leaveCtx, leaveCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer leaveCancel()
	if err := ctl.Leave(leaveCtx); err != nil {
		log.Warn().Err(err).Str("module", "participant").Msg("leave")
	}
	return g.Wait()
}

func openChannel(ctx context.Context, cfg *config.Config, transport string) (signaling.Channel, error) {
	switch transport {
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			return nil, fmt.Errorf("%w: %v", core.ErrChannelUnavailable, err)
		}
		return signaling.NewRedisChannel(rdb), nil
	default:
		header := http.Header{}
		if cfg.Relay.Token != "" {
			header.Set("Authorization", "Bearer "+cfg.Relay.Token)
		}
		return signaling.DialWS(ctx, cfg.Relay.URL, header)
	}
}

func publish(ctx context.Context, path string, dst *rtc.SampleSource) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()
	log.Info().Str("module", "participant").Str("file", path).Msg("publishing")
	return rtc.PublishOgg(ctx, file, dst)
}
