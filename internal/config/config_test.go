package config_test

import (
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/livecast/internal/config"
)

// ── helpers ──────────────────────────────────────────────────────────────────

const sampleYAML = `
log_level: debug
server:
  channel_url: wss://pods.example.com/generate-podcast
  ask_url: https://pods.example.com/ask
  dial_timeout: 3s
  ask_timeout: 45s
session:
  topic: "Deep sea vents"
  duration: 10
playback:
  skip_offset: 10s
  speculative_window: 0
  backpressure_threshold: 2
  transcript_delay: 0s
  hide_first_turn: false
audio:
  output_sample_rate: 48000
  frames_per_buffer: 512
  input_sample_rate: 16000
telemetry:
  listen_addr: "127.0.0.1:9464"
  service_name: livecast-test
`

func mustLoad(t *testing.T, yaml string) *config.Config {
	t.Helper()
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	return cfg
}

// ── tests ────────────────────────────────────────────────────────────────────

func TestLoadFromReader_FullConfig(t *testing.T) {
	t.Parallel()
	cfg := mustLoad(t, sampleYAML)

	if cfg.LogLevel != config.LogDebug {
		t.Errorf("log_level = %q, want debug", cfg.LogLevel)
	}
	if cfg.Server.ChannelURL != "wss://pods.example.com/generate-podcast" {
		t.Errorf("channel_url = %q", cfg.Server.ChannelURL)
	}
	if cfg.Server.DialTimeout != 3*time.Second || cfg.Server.AskTimeout != 45*time.Second {
		t.Errorf("timeouts = %s/%s", cfg.Server.DialTimeout, cfg.Server.AskTimeout)
	}
	if cfg.Session.Topic != "Deep sea vents" || cfg.Session.Duration != 10 {
		t.Errorf("session = %+v", cfg.Session)
	}
	if cfg.Playback.SkipOffset != 10*time.Second {
		t.Errorf("skip_offset = %s", cfg.Playback.SkipOffset)
	}
	// Explicit zeros survive defaulting.
	if *cfg.Playback.SpeculativeWindow != 0 {
		t.Errorf("speculative_window = %d, want 0", *cfg.Playback.SpeculativeWindow)
	}
	if *cfg.Playback.TranscriptDelay != 0 {
		t.Errorf("transcript_delay = %s, want 0", *cfg.Playback.TranscriptDelay)
	}
	if *cfg.Playback.HideFirstTurn {
		t.Error("hide_first_turn = true, want false")
	}
	if *cfg.Playback.Threshold != 2 {
		t.Errorf("backpressure_threshold = %d, want 2", *cfg.Playback.Threshold)
	}
	if cfg.Audio.OutputSampleRate != 48000 || cfg.Audio.FramesPerBuffer != 512 {
		t.Errorf("audio = %+v", cfg.Audio)
	}
	if cfg.Telemetry.ListenAddr != "127.0.0.1:9464" || cfg.Telemetry.ServiceName != "livecast-test" {
		t.Errorf("telemetry = %+v", cfg.Telemetry)
	}
}

func TestLoadFromReader_Defaults(t *testing.T) {
	t.Parallel()
	cfg := mustLoad(t, "")

	if cfg.LogLevel != config.LogInfo {
		t.Errorf("log_level = %q, want info", cfg.LogLevel)
	}
	if cfg.Server.ChannelURL != config.DefaultChannelURL || cfg.Server.AskURL != config.DefaultAskURL {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Session.Duration != config.DefaultSessionDuration {
		t.Errorf("duration = %d", cfg.Session.Duration)
	}
	if *cfg.Playback.SpeculativeWindow != config.DefaultSpeculativeWindow {
		t.Errorf("speculative_window = %d", *cfg.Playback.SpeculativeWindow)
	}
	if *cfg.Playback.TranscriptDelay != config.DefaultTranscriptDelay {
		t.Errorf("transcript_delay = %s", *cfg.Playback.TranscriptDelay)
	}
	if !*cfg.Playback.HideFirstTurn {
		t.Error("hide_first_turn default = false, want true")
	}
	if cfg.Audio.OutputSampleRate != config.DefaultOutputSampleRate {
		t.Errorf("output_sample_rate = %d", cfg.Audio.OutputSampleRate)
	}
	if cfg.Telemetry.ListenAddr != "" {
		t.Errorf("telemetry.listen_addr = %q, want empty", cfg.Telemetry.ListenAddr)
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("server:\n  chanel_url: ws://x\n"))
	if err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
	if !strings.Contains(err.Error(), "chanel_url") {
		t.Errorf("error should name the field, got: %v", err)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		yaml    string
		wantErr []string
	}{
		{
			name:    "invalid log level",
			yaml:    "log_level: verbose\n",
			wantErr: []string{"log_level"},
		},
		{
			name:    "channel url wrong scheme",
			yaml:    "server:\n  channel_url: http://localhost/ws\n",
			wantErr: []string{"server.channel_url"},
		},
		{
			name:    "ask url wrong scheme",
			yaml:    "server:\n  ask_url: ws://localhost/ask\n",
			wantErr: []string{"server.ask_url"},
		},
		{
			name:    "url without host",
			yaml:    "server:\n  channel_url: ws:///path\n",
			wantErr: []string{"no host"},
		},
		{
			name:    "non-positive duration",
			yaml:    "session:\n  duration: -1\n",
			wantErr: []string{"session.duration"},
		},
		{
			name:    "negative window and threshold",
			yaml:    "playback:\n  speculative_window: -1\n  backpressure_threshold: -3\n",
			wantErr: []string{"playback.speculative_window", "playback.backpressure_threshold"},
		},
		{
			name:    "negative delay",
			yaml:    "playback:\n  transcript_delay: -1s\n",
			wantErr: []string{"playback.transcript_delay"},
		},
		{
			name:    "negative sample rate",
			yaml:    "audio:\n  output_sample_rate: -44100\n",
			wantErr: []string{"audio.output_sample_rate"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tt.yaml))
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			for _, want := range tt.wantErr {
				if !strings.Contains(err.Error(), want) {
					t.Errorf("error should mention %q, got: %v", want, err)
				}
			}
		})
	}
}

func TestValidate_JoinsAllErrors(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	cfg.LogLevel = "loud"
	cfg.Session.Duration = 0
	cfg.Server.AskURL = ""

	err := config.Validate(cfg)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	for _, want := range []string{"log_level", "session.duration", "server.ask_url"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("joined error missing %q: %v", want, err)
		}
	}
}

func TestLogLevel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		level config.LogLevel
		valid bool
		want  slog.Level
	}{
		{config.LogDebug, true, slog.LevelDebug},
		{config.LogInfo, true, slog.LevelInfo},
		{config.LogWarn, true, slog.LevelWarn},
		{config.LogError, true, slog.LevelError},
		{"trace", false, slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := tt.level.IsValid(); got != tt.valid {
			t.Errorf("%q.IsValid() = %v, want %v", tt.level, got, tt.valid)
		}
		if got := tt.level.Level(); got != tt.want {
			t.Errorf("%q.Level() = %v, want %v", tt.level, got, tt.want)
		}
	}
}
