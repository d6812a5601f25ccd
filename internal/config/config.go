package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	StaticPath string        `mapstructure:"static_path"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	Secret     string        `mapstructure:"secret"`
	JWTSecret  string        `mapstructure:"jwt_secret"`

	Log         LogConfig         `mapstructure:"log"`
	Relay       RelayConfig       `mapstructure:"relay"`
	Redis       RedisConfig       `mapstructure:"redis"`
	RTC         RTCConfig         `mapstructure:"rtc"`
	Speech      SpeechConfig      `mapstructure:"speech"`
	Translation TranslationConfig `mapstructure:"translation"`
	Ducking     DuckingConfig     `mapstructure:"ducking"`
	Kafka       KafkaConfig       `mapstructure:"kafka"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// RelayConfig is what a participant uses to reach the signaling relay.
type RelayConfig struct {
	URL       string        `mapstructure:"url"`
	Token     string        `mapstructure:"token"`
	JoinLimit int           `mapstructure:"join_limit"`
	JoinEvery time.Duration `mapstructure:"join_every"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type RTCConfig struct {
	ICEServers      []string      `mapstructure:"ice_servers"`
	DisconnectGrace time.Duration `mapstructure:"disconnect_grace"`
}

type SpeechConfig struct {
	Provider      string        `mapstructure:"provider"`
	Language      string        `mapstructure:"language"`
	SampleRate    int           `mapstructure:"sample_rate"`
	RestartDelay  time.Duration `mapstructure:"restart_delay"`
	ChunkInterval time.Duration `mapstructure:"chunk_interval"`
}

type TranslationConfig struct {
	Endpoint        string        `mapstructure:"endpoint"`
	SourceLanguage  string        `mapstructure:"source_language"`
	TargetLanguage  string        `mapstructure:"target_language"`
	BatchWindowMs   int           `mapstructure:"batch_window_ms"`
	FeedbackGuardMs int           `mapstructure:"feedback_guard_ms"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

type DuckingConfig struct {
	DuckVolume        int `mapstructure:"duck_volume"`
	NormalVolume      int `mapstructure:"normal_volume"`
	DuckDurationMs    int `mapstructure:"duck_duration_ms"`
	RestoreDurationMs int `mapstructure:"restore_duration_ms"`
}

type KafkaConfig struct {
	Enabled           bool     `mapstructure:"enabled"`
	Brokers           []string `mapstructure:"brokers"`
	TopicTranscripts  string   `mapstructure:"topic_transcripts"`
	TopicTranslations string   `mapstructure:"topic_translations"`
	Principal         string   `mapstructure:"principal"`
}

func (c DuckingConfig) DuckDuration() time.Duration {
	return time.Duration(c.DuckDurationMs) * time.Millisecond
}

func (c DuckingConfig) RestoreDuration() time.Duration {
	return time.Duration(c.RestoreDurationMs) * time.Millisecond
}

func (c TranslationConfig) BatchWindow() time.Duration {
	return time.Duration(c.BatchWindowMs) * time.Millisecond
}

func (c TranslationConfig) FeedbackGuard() time.Duration {
	return time.Duration(c.FeedbackGuardMs) * time.Millisecond
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 65536)
	v.SetDefault("ping_period", "54s")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("relay.url", "ws://localhost:8080/api/ws/signal")
	v.SetDefault("relay.join_limit", 5)
	v.SetDefault("relay.join_every", "10s")

	v.SetDefault("redis.addr", "")

	v.SetDefault("rtc.ice_servers", []string{"stun:stun.l.google.com:19302", "stun:stun1.l.google.com:19302"})
	v.SetDefault("rtc.disconnect_grace", "5s")

	v.SetDefault("speech.provider", "google")
	v.SetDefault("speech.language", "en")
	v.SetDefault("speech.sample_rate", 16000)
	v.SetDefault("speech.restart_delay", "100ms")
	v.SetDefault("speech.chunk_interval", "3s")

	v.SetDefault("translation.source_language", "en")
	v.SetDefault("translation.target_language", "es")
	v.SetDefault("translation.batch_window_ms", 2000)
	v.SetDefault("translation.feedback_guard_ms", 1000)
	v.SetDefault("translation.timeout", "15s")

	v.SetDefault("ducking.duck_volume", 15)
	v.SetDefault("ducking.normal_volume", 100)
	v.SetDefault("ducking.duck_duration_ms", 200)
	v.SetDefault("ducking.restore_duration_ms", 500)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.topic_transcripts", "orbit.transcripts")
	v.SetDefault("kafka.topic_translations", "orbit.translations")
	v.SetDefault("kafka.principal", "orbit")
}

func Load() (*Config, error) {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return LoadFile(fmt.Sprintf("config/config.%s.yaml", env))
}

// LoadFile reads one yaml file; a missing file leaves defaults in place.
// ORBIT_* environment variables override both.
func LoadFile(fileName string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)
	v.SetEnvPrefix("orbit")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.normalize()
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Msg("config ready")
	return &cfg, nil
}

func (c *Config) normalize() {
	c.Ducking.DuckVolume = clampVolume(c.Ducking.DuckVolume)
	c.Ducking.NormalVolume = clampVolume(c.Ducking.NormalVolume)
	if c.Ducking.DuckDurationMs <= 0 {
		c.Ducking.DuckDurationMs = 200
	}
	if c.Ducking.RestoreDurationMs <= 0 {
		c.Ducking.RestoreDurationMs = 500
	}
	if c.Translation.BatchWindowMs <= 0 {
		c.Translation.BatchWindowMs = 2000
	}
	if c.Translation.FeedbackGuardMs < 0 {
		c.Translation.FeedbackGuardMs = 1000
	}
	if c.RTC.DisconnectGrace <= 0 {
		c.RTC.DisconnectGrace = 5 * time.Second
	}
	if c.Speech.RestartDelay <= 0 {
		c.Speech.RestartDelay = 100 * time.Millisecond
	}
}

func clampVolume(v int) int {
	return max(0, min(100, v))
}
