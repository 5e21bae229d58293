package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables consulted by [ApplyEnv].
const (
	EnvChannelURL    = "LIVECAST_CHANNEL_URL"
	EnvAskURL        = "LIVECAST_ASK_URL"
	EnvTopic         = "LIVECAST_TOPIC"
	EnvDuration      = "LIVECAST_DURATION"
	EnvLogLevel      = "LIVECAST_LOG_LEVEL"
	EnvTelemetryAddr = "LIVECAST_TELEMETRY_ADDR"
)

// LookupFunc reads an environment variable; [os.LookupEnv] satisfies it.
type LookupFunc func(key string) (string, bool)

// Load reads the YAML configuration file at path, applies defaults and
// LIVECAST_* environment overrides, and returns a validated [Config].
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	cfg, err := parse(bytes.NewReader(data), os.LookupEnv)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. The environment is not consulted.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	return parse(r, nil)
}

func parse(r io.Reader, lookup LookupFunc) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if lookup != nil {
		if err := ApplyEnv(cfg, lookup); err != nil {
			return nil, err
		}
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process
// environment. Variables that are already set win. Missing files are
// skipped.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("config: load %q: %w", p, err)
		}
	}
	return nil
}

// ApplyEnv overrides cfg with LIVECAST_* variables found through lookup.
func ApplyEnv(cfg *Config, lookup LookupFunc) error {
	if v, ok := lookup(EnvChannelURL); ok && v != "" {
		cfg.Server.ChannelURL = v
	}
	if v, ok := lookup(EnvAskURL); ok && v != "" {
		cfg.Server.AskURL = v
	}
	if v, ok := lookup(EnvTopic); ok && v != "" {
		cfg.Session.Topic = v
	}
	if v, ok := lookup(EnvDuration); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: %s %q: %w", EnvDuration, v, err)
		}
		cfg.Session.Duration = n
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		cfg.LogLevel = LogLevel(v)
	}
	if v, ok := lookup(EnvTelemetryAddr); ok {
		cfg.Telemetry.ListenAddr = v
	}
	return nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.LogLevel != "" && !cfg.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("log_level %q is invalid; valid values: debug, info, warn, error", cfg.LogLevel))
	}

	// Server
	if err := validateURL(cfg.Server.ChannelURL, "ws", "wss"); err != nil {
		errs = append(errs, fmt.Errorf("server.channel_url: %w", err))
	}
	if err := validateURL(cfg.Server.AskURL, "http", "https"); err != nil {
		errs = append(errs, fmt.Errorf("server.ask_url: %w", err))
	}
	if cfg.Server.DialTimeout < 0 {
		errs = append(errs, fmt.Errorf("server.dial_timeout %s must not be negative", cfg.Server.DialTimeout))
	}
	if cfg.Server.AskTimeout < 0 {
		errs = append(errs, fmt.Errorf("server.ask_timeout %s must not be negative", cfg.Server.AskTimeout))
	}

	// Session
	if cfg.Session.Duration <= 0 {
		errs = append(errs, fmt.Errorf("session.duration %d must be positive", cfg.Session.Duration))
	}

	// Playback
	if cfg.Playback.SkipOffset < 0 {
		errs = append(errs, fmt.Errorf("playback.skip_offset %s must not be negative", cfg.Playback.SkipOffset))
	}
	if w := cfg.Playback.SpeculativeWindow; w != nil && *w < 0 {
		errs = append(errs, fmt.Errorf("playback.speculative_window %d must not be negative", *w))
	}
	if th := cfg.Playback.Threshold; th != nil && *th < 0 {
		errs = append(errs, fmt.Errorf("playback.backpressure_threshold %d must not be negative", *th))
	}
	if d := cfg.Playback.TranscriptDelay; d != nil && *d < 0 {
		errs = append(errs, fmt.Errorf("playback.transcript_delay %s must not be negative", *d))
	}

	// Audio
	for _, f := range []struct {
		name string
		v    int
	}{
		{"audio.output_sample_rate", cfg.Audio.OutputSampleRate},
		{"audio.input_sample_rate", cfg.Audio.InputSampleRate},
		{"audio.frames_per_buffer", cfg.Audio.FramesPerBuffer},
	} {
		if f.v < 0 {
			errs = append(errs, fmt.Errorf("%s %d must not be negative", f.name, f.v))
		}
	}

	return errors.Join(errs...)
}

func validateURL(raw string, schemes ...string) error {
	if raw == "" {
		return errors.New("is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	for _, s := range schemes {
		if u.Scheme == s {
			if u.Host == "" {
				return fmt.Errorf("%q has no host", raw)
			}
			return nil
		}
	}
	return fmt.Errorf("%q must use scheme %v", raw, schemes)
}
