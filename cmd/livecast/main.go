// Command livecast is a terminal client for a live-generated podcast server.
//
// It opens one generation session, plays the audio segments as they stream
// in, and lets the listener interrupt with typed or spoken questions.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/livecast/internal/app"
	"github.com/MrWong99/livecast/internal/config"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "livecast.yaml", "path to the YAML configuration file")
	envPath := flag.String("env", ".env", "optional dotenv file with LIVECAST_* variables")
	topic := flag.String("topic", "", "podcast topic (overrides session.topic)")
	duration := flag.Int("duration", 0, "podcast length in minutes (overrides session.duration)")
	showVersion := flag.Bool("version", false, "print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("livecast", version)
		return 0
	}

	// ── Load configuration ────────────────────────────────────────────────────
	if err := config.LoadDotEnv(*envPath); err != nil {
		fmt.Fprintf(os.Stderr, "livecast: %v\n", err)
		return 1
	}

	cfg, fromFile, err := loadConfig(*configPath, flagSet("config"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "livecast: %v\n", err)
		return 1
	}
	if *topic != "" {
		cfg.Session.Topic = *topic
	}
	if *duration != 0 {
		cfg.Session.Duration = *duration
	}
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "livecast: %v\n", err)
		return 1
	}
	if cfg.Session.Topic == "" {
		fmt.Fprintln(os.Stderr, "livecast: a topic is required (-topic, session.topic or LIVECAST_TOPIC)")
		return 2
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(cfg.LogLevel.Level())
	logger := newLogger(level)
	slog.SetDefault(logger)

	slog.Info("livecast starting",
		"version", version,
		"topic", cfg.Session.Topic,
		"duration", cfg.Session.Duration,
		"channel_url", cfg.Server.ChannelURL,
		"log_level", cfg.LogLevel,
	)

	// ── Config reload (log level only) ────────────────────────────────────────
	if fromFile {
		w, err := config.NewWatcher(*configPath, func(oldCfg, newCfg *config.Config) {
			d := config.Diff(oldCfg, newCfg)
			if d.LogLevelChanged {
				level.Set(d.NewLogLevel.Level())
				slog.Info("log level changed", "log_level", d.NewLogLevel)
			}
			if len(d.RestartRequired) > 0 {
				slog.Warn("config changes take effect on the next session", "sections", d.RestartRequired)
			}
		})
		if err != nil {
			slog.Warn("config watcher disabled", "err", err)
		} else {
			defer w.Stop()
		}
	}

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, app.WithVersion(version), app.WithLogger(logger))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}
	if addr := application.TelemetryAddr(); addr != "" {
		slog.Info("telemetry enabled", "addr", addr)
	}

	runErr := application.Run(ctx)
	if runErr != nil {
		slog.Error("session error", "err", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	if runErr != nil {
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// loadConfig reads path. A missing file is only an error when the path was
// given explicitly; otherwise defaults plus environment overrides are used.
// The second result reports whether the file was read.
func loadConfig(path string, explicit bool) (*config.Config, bool, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, true, nil
	}
	if explicit || !errors.Is(err, fs.ErrNotExist) {
		return nil, false, err
	}
	cfg = config.Default()
	if err := config.ApplyEnv(cfg, os.LookupEnv); err != nil {
		return nil, false, err
	}
	return cfg, false, nil
}

// flagSet reports whether the named flag was given on the command line.
func flagSet(name string) bool {
	set := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

// newLogger returns a text logger on stderr whose level follows lvl.
func newLogger(lvl slog.Leveler) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
