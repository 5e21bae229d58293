// Package config provides the configuration schema and loader for the
// livecast client.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level maps l to a [slog.Level]. Unknown values map to Info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Defaults applied by [ApplyDefaults].
const (
	DefaultChannelURL        = "ws://localhost:8000/generate-podcast"
	DefaultAskURL            = "http://localhost:8000/ask"
	DefaultDialTimeout       = 10 * time.Second
	DefaultAskTimeout        = 60 * time.Second
	DefaultSessionDuration   = 5
	DefaultSkipOffset        = 5 * time.Second
	DefaultSpeculativeWindow = 2
	DefaultThreshold         = 1
	DefaultTranscriptDelay   = 500 * time.Millisecond
	DefaultOutputSampleRate  = 44100
	DefaultInputSampleRate   = 16000
	DefaultFramesPerBuffer   = 1024
	DefaultServiceName       = "livecast"
)

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	LogLevel  LogLevel        `yaml:"log_level"`
	Server    ServerConfig    `yaml:"server"`
	Session   SessionConfig   `yaml:"session"`
	Playback  PlaybackConfig  `yaml:"playback"`
	Audio     AudioConfig     `yaml:"audio"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig locates the generation server.
type ServerConfig struct {
	// ChannelURL is the WebSocket endpoint of the persistent channel
	// (ws:// or wss://).
	ChannelURL string `yaml:"channel_url"`

	// AskURL is the HTTP endpoint of the question exchange.
	AskURL string `yaml:"ask_url"`

	// DialTimeout bounds the channel handshake.
	DialTimeout time.Duration `yaml:"dial_timeout"`

	// AskTimeout bounds one question exchange.
	AskTimeout time.Duration `yaml:"ask_timeout"`
}

// SessionConfig holds the parameters sent in the init message.
type SessionConfig struct {
	Topic string `yaml:"topic"`

	// Duration is the requested length in minutes.
	Duration int `yaml:"duration"`
}

// PlaybackConfig tunes the playback state machine.
type PlaybackConfig struct {
	SkipOffset        time.Duration  `yaml:"skip_offset"`
	SpeculativeWindow *int           `yaml:"speculative_window"`
	Threshold         *int           `yaml:"backpressure_threshold"`
	TranscriptDelay   *time.Duration `yaml:"transcript_delay"`
	HideFirstTurn     *bool          `yaml:"hide_first_turn"`
}

// AudioConfig selects the device formats.
type AudioConfig struct {
	OutputSampleRate int `yaml:"output_sample_rate"`
	FramesPerBuffer  int `yaml:"frames_per_buffer"`
	InputSampleRate  int `yaml:"input_sample_rate"`
}

// TelemetryConfig controls the local HTTP surface.
type TelemetryConfig struct {
	// ListenAddr serves /metrics, /healthz, /readyz and /status. Empty
	// disables the server.
	ListenAddr string `yaml:"listen_addr"`

	ServiceName string `yaml:"service_name"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills zero values in cfg. Pointer fields distinguish an
// explicit zero from an omitted value.
func ApplyDefaults(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = LogInfo
	}
	setDefault(&cfg.Server.ChannelURL, DefaultChannelURL)
	setDefault(&cfg.Server.AskURL, DefaultAskURL)
	setDefault(&cfg.Server.DialTimeout, DefaultDialTimeout)
	setDefault(&cfg.Server.AskTimeout, DefaultAskTimeout)
	setDefault(&cfg.Session.Duration, DefaultSessionDuration)
	setDefault(&cfg.Playback.SkipOffset, DefaultSkipOffset)
	setDefaultPtr(&cfg.Playback.SpeculativeWindow, DefaultSpeculativeWindow)
	setDefaultPtr(&cfg.Playback.Threshold, DefaultThreshold)
	setDefaultPtr(&cfg.Playback.TranscriptDelay, DefaultTranscriptDelay)
	setDefaultPtr(&cfg.Playback.HideFirstTurn, true)
	setDefault(&cfg.Audio.OutputSampleRate, DefaultOutputSampleRate)
	setDefault(&cfg.Audio.InputSampleRate, DefaultInputSampleRate)
	setDefault(&cfg.Audio.FramesPerBuffer, DefaultFramesPerBuffer)
	setDefault(&cfg.Telemetry.ServiceName, DefaultServiceName)
}

func setDefault[T comparable](dst *T, v T) {
	var zero T
	if *dst == zero {
		*dst = v
	}
}

func setDefaultPtr[T any](dst **T, v T) {
	if *dst == nil {
		*dst = &v
	}
}
