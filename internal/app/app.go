// Package app wires the livecast subsystems into a running client.
//
// The App struct owns the full lifecycle: New creates the channel, the audio
// devices, the ask client and the coordinator; Run drives the session, the
// console and the telemetry server; Shutdown releases the devices and flushes
// telemetry.
//
// For testing, inject fakes via functional options (WithChannel, WithPlayer,
// etc.). When an option is not provided, New creates real implementations
// from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/livecast/internal/ask"
	"github.com/MrWong99/livecast/internal/channel"
	"github.com/MrWong99/livecast/internal/config"
	"github.com/MrWong99/livecast/internal/coordinator"
	"github.com/MrWong99/livecast/internal/health"
	"github.com/MrWong99/livecast/internal/observe"
	"github.com/MrWong99/livecast/internal/playback"
	"github.com/MrWong99/livecast/pkg/audio"
	"github.com/MrWong99/livecast/pkg/audio/portaudio"
)

const shutdownTimeout = 5 * time.Second

// App owns all subsystem lifetimes for one listening session.
type App struct {
	cfg *config.Config
	log *slog.Logger

	ch        coordinator.Channel
	asker     coordinator.Asker
	player    audio.Player
	rec       audio.Recorder
	in        io.Reader
	out       io.Writer
	version   string
	noConsole bool

	metrics   *observe.Metrics
	telemetry *observe.Provider
	listener  net.Listener
	server    *http.Server

	coord *coordinator.Coordinator
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithChannel injects the session transport instead of dialing the
// configured WebSocket endpoint.
func WithChannel(ch coordinator.Channel) Option {
	return func(a *App) { a.ch = ch }
}

// WithAsker injects the question exchange instead of the HTTP client.
func WithAsker(as coordinator.Asker) Option {
	return func(a *App) { a.asker = as }
}

// WithPlayer injects the output device instead of opening PortAudio.
func WithPlayer(p audio.Player) Option {
	return func(a *App) { a.player = p }
}

// WithRecorder injects the microphone instead of the PortAudio recorder.
func WithRecorder(r audio.Recorder) Option {
	return func(a *App) { a.rec = r }
}

// WithConsole sets the command input and output; the defaults are stdin and
// stdout.
func WithConsole(in io.Reader, out io.Writer) Option {
	return func(a *App) { a.in, a.out = in, out }
}

// WithoutConsole disables the command reader. The session then runs until
// the context is cancelled.
func WithoutConsole() Option {
	return func(a *App) { a.noConsole = true }
}

// WithVersion sets the service version reported in telemetry.
func WithVersion(v string) Option {
	return func(a *App) { a.version = v }
}

// WithLogger sets the logger; the default is slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.log = l }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The telemetry
// listener, when configured, is bound here so that [App.TelemetryAddr] is
// known before Run.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{
		cfg: cfg,
		log: slog.Default(),
		in:  os.Stdin,
		out: os.Stdout,
	}
	for _, o := range opts {
		o(a)
	}

	if err := a.initTelemetry(ctx); err != nil {
		return nil, err
	}
	if err := a.initTransport(); err != nil {
		a.closeTelemetry()
		return nil, err
	}
	if err := a.initAudio(); err != nil {
		a.closeTelemetry()
		return nil, err
	}

	a.coord = coordinator.New(a.sessionConfig(), a.ch, a.player, a.asker,
		coordinator.WithRecorder(a.rec),
		coordinator.WithMetrics(a.metrics),
		coordinator.WithLogger(a.log),
	)
	a.initServer()
	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initTelemetry installs the OTel providers and binds the telemetry listener
// when telemetry.listen_addr is set. Otherwise metrics go to the global
// (no-op) provider.
func (a *App) initTelemetry(ctx context.Context) error {
	if a.cfg.Telemetry.ListenAddr == "" {
		a.metrics = observe.DefaultMetrics()
		return nil
	}

	p, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    a.cfg.Telemetry.ServiceName,
		ServiceVersion: a.version,
	})
	if err != nil {
		return fmt.Errorf("app: init telemetry: %w", err)
	}
	a.telemetry = p

	m, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		a.closeTelemetry()
		return fmt.Errorf("app: init metrics: %w", err)
	}
	a.metrics = m

	ln, err := net.Listen("tcp", a.cfg.Telemetry.ListenAddr)
	if err != nil {
		a.closeTelemetry()
		return fmt.Errorf("app: listen %s: %w", a.cfg.Telemetry.ListenAddr, err)
	}
	a.listener = ln
	return nil
}

func (a *App) initTransport() error {
	if a.ch == nil {
		a.ch = channel.New(a.cfg.Server.ChannelURL,
			channel.WithDialTimeout(a.cfg.Server.DialTimeout),
			channel.WithLogger(a.log),
		)
	}
	if a.asker == nil {
		c, err := ask.New(a.cfg.Server.AskURL, ask.WithTimeout(a.cfg.Server.AskTimeout))
		if err != nil {
			return fmt.Errorf("app: ask client: %w", err)
		}
		a.asker = c
	}
	return nil
}

func (a *App) initAudio() error {
	if a.player == nil {
		p, err := portaudio.NewPlayer(portaudio.PlayerConfig{
			SampleRate:      a.cfg.Audio.OutputSampleRate,
			FramesPerBuffer: a.cfg.Audio.FramesPerBuffer,
		})
		if err != nil {
			return fmt.Errorf("app: open output device: %w", err)
		}
		a.player = p
	}
	if a.rec == nil {
		a.rec = portaudio.NewRecorder(portaudio.RecorderConfig{
			SampleRate:      a.cfg.Audio.InputSampleRate,
			FramesPerBuffer: a.cfg.Audio.FramesPerBuffer,
		})
	}
	return nil
}

func (a *App) sessionConfig() coordinator.Config {
	pb := playback.DefaultConfig()
	pb.SkipOffset = a.cfg.Playback.SkipOffset
	if w := a.cfg.Playback.SpeculativeWindow; w != nil {
		pb.SpeculativeWindow = *w
	}
	if th := a.cfg.Playback.Threshold; th != nil {
		pb.Threshold = *th
	}

	cfg := coordinator.Config{
		Topic:           a.cfg.Session.Topic,
		Duration:        a.cfg.Session.Duration,
		Playback:        pb,
		TranscriptDelay: coordinator.DefaultTranscriptDelay,
	}
	if d := a.cfg.Playback.TranscriptDelay; d != nil {
		cfg.TranscriptDelay = *d
	}
	if h := a.cfg.Playback.HideFirstTurn; h != nil {
		cfg.HideFirstTurn = *h
	}
	return cfg
}

// initServer builds the telemetry HTTP server: health probes, the session
// status and Prometheus metrics, all behind the request middleware.
func (a *App) initServer() {
	if a.listener == nil {
		return
	}
	mux := http.NewServeMux()
	health.New(
		health.WithChecker(health.Checker{Name: "channel", Check: a.coord.Ready}),
		health.WithStatus(func() any { return a.coord.Snapshot() }),
	).Register(mux)
	mux.Handle("GET /metrics", a.telemetry.MetricsHandler())

	a.server = &http.Server{
		Handler:           observe.Middleware(a.metrics)(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Coordinator returns the session coordinator.
func (a *App) Coordinator() *coordinator.Coordinator { return a.coord }

// TelemetryAddr returns the bound telemetry address, or "" when disabled.
func (a *App) TelemetryAddr() string {
	if a.listener == nil {
		return ""
	}
	return a.listener.Addr().String()
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run drives the session until ctx is cancelled or the listener quits. It
// returns nil on either.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.coord.Run(gctx)
	})

	if a.server != nil {
		g.Go(func() error {
			a.log.Info("telemetry listening", "addr", a.listener.Addr().String())
			if err := a.server.Serve(a.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("app: telemetry server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer scancel()
			return a.server.Shutdown(sctx)
		})
	}

	if !a.noConsole {
		con := NewConsole(a.coord, a.in, a.out)
		updates := a.coord.Subscribe()
		g.Go(func() error {
			con.Follow(gctx, updates)
			return nil
		})
		g.Go(func() error {
			err := con.Run(gctx)
			if errors.Is(err, ErrQuit) {
				cancel()
				return nil
			}
			if errors.Is(err, coordinator.ErrStopped) {
				return nil
			}
			return err
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown releases the audio devices and flushes telemetry. Call it after
// Run has returned.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	if a.rec != nil {
		if err := a.rec.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("app: stop recorder: %w", err))
		}
	}
	if a.player != nil {
		if err := a.player.Close(); err != nil {
			errs = append(errs, fmt.Errorf("app: close player: %w", err))
		}
	}
	if a.telemetry != nil {
		if err := a.telemetry.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("app: telemetry shutdown: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (a *App) closeTelemetry() {
	if a.listener != nil {
		a.listener.Close()
		a.listener = nil
	}
	if a.telemetry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = a.telemetry.Shutdown(ctx)
		a.telemetry = nil
	}
}
