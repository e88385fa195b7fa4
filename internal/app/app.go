// Package app wires the voice command pipeline into a running application.
//
// The App struct owns the full lifecycle: New creates and connects the
// classifier, assembler, transcription adapter, dispatcher and session loop,
// Run executes the loop alongside the optional diagnostics server and config
// watcher, and Shutdown tears everything down in order.
//
// Providers are built by main.go through the config registry. Tests inject
// mock providers and use the functional options to capture output.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voicebible/internal/command"
	"github.com/MrWong99/voicebible/internal/config"
	"github.com/MrWong99/voicebible/internal/health"
	"github.com/MrWong99/voicebible/internal/listen"
	"github.com/MrWong99/voicebible/internal/observe"
	"github.com/MrWong99/voicebible/internal/session"
	"github.com/MrWong99/voicebible/internal/transcribe"
	"github.com/MrWong99/voicebible/pkg/audio"
	"github.com/MrWong99/voicebible/pkg/provider/stt"
	"github.com/MrWong99/voicebible/pkg/provider/vad"
)

// serverShutdownTimeout bounds the graceful stop of the diagnostics server.
const serverShutdownTimeout = 5 * time.Second

// loudnessScale converts mean absolute amplitude into bar cells for the debug
// loudness meter.
const (
	loudnessScale   = 500
	loudnessBarMax  = 40
	loudnessBarCell = "█"
)

// Providers holds one interface value per provider slot. Populated by main.go
// via the config registry. All three are required.
type Providers struct {
	Audio audio.Source
	VAD   vad.Engine
	STT   stt.Transcriber
}

// App owns all subsystem lifetimes and drives the command session.
type App struct {
	cfg       *config.Config
	providers *Providers

	// Options.
	out        io.Writer
	metrics    *observe.Metrics
	level      *slog.LevelVar
	version    string
	configPath string
	watchOpts  []config.WatcherOption

	// Subsystems, initialised in New and torn down in Shutdown.
	classifier vad.Classifier
	dispatcher *command.Dispatcher
	adapter    *transcribe.Adapter
	loop       *session.Loop
	watcher    *config.Watcher
	handler    http.Handler
	server     *http.Server
	listener   net.Listener

	mu    sync.Mutex
	final command.State

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithOutput sets where reply and status lines are written. Defaults to
// os.Stdout.
func WithOutput(w io.Writer) Option {
	return func(a *App) { a.out = w }
}

// WithMetrics sets the metrics recorder. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLevelVar lets config reloads change the log level at runtime.
func WithLevelVar(lv *slog.LevelVar) Option {
	return func(a *App) { a.level = lv }
}

// WithVersion reports v on /healthz.
func WithVersion(v string) Option {
	return func(a *App) { a.version = v }
}

// WithConfigPath names the file the config was loaded from. When
// server.watch_config is set the file is polled and hot-reloadable changes
// are applied to the running session.
func WithConfigPath(path string) Option {
	return func(a *App) { a.configPath = path }
}

// WithWatcherOptions passes options to the config watcher.
func WithWatcherOptions(opts ...config.WatcherOption) Option {
	return func(a *App) { a.watchOpts = append(a.watchOpts, opts...) }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. It creates the
// classifier, binds the diagnostics listener and starts nothing; call Run to
// begin listening. On error every resource acquired so far is released.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (_ *App, err error) {
	if cfg == nil {
		return nil, errors.New("app: config must not be nil")
	}
	if providers == nil || providers.Audio == nil || providers.VAD == nil || providers.STT == nil {
		return nil, errors.New("app: audio, vad and stt providers are required")
	}

	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	defer func() {
		if err != nil {
			a.runClosers(context.Background())
		}
	}()

	// ── 1. Command dispatcher ────────────────────────────────────────────
	a.dispatcher, err = command.New(command.Config{
		WakePhrase:         cfg.Commands.WakePhrase,
		ExitPhrase:         cfg.Commands.ExitPhrase,
		FuzzyWakeThreshold: cfg.Commands.FuzzyWakeThreshold,
	})
	if err != nil {
		return nil, fmt.Errorf("app: init dispatcher: %w", err)
	}

	// ── 2. Activity classifier ───────────────────────────────────────────
	a.classifier, err = providers.VAD.NewClassifier(vad.Config{
		SampleRate:      cfg.Audio.SampleRate,
		FrameDurationMs: cfg.Audio.FrameDurationMs,
		Aggressiveness:  cfg.VAD.Aggressiveness,
	})
	if err != nil {
		return nil, fmt.Errorf("app: init classifier: %w", err)
	}
	a.closers = append(a.closers, a.classifier.Close)

	// ── 3. Utterance assembler ───────────────────────────────────────────
	asm, err := listen.New(listen.Config{
		Window:                cfg.Listen.Window,
		PollTimeout:           cfg.Listen.PollTimeout,
		FrameSize:             cfg.Audio.FrameSize(),
		SampleRate:            cfg.Audio.SampleRate,
		TrailingSilenceFrames: cfg.Listen.TrailingSilenceFrames,
	}, a.classifier,
		listen.WithMetrics(a.metrics),
		listen.WithFrameObserver(logLoudness),
	)
	if err != nil {
		return nil, fmt.Errorf("app: init assembler: %w", err)
	}

	// ── 4. Transcription adapter ─────────────────────────────────────────
	a.adapter = transcribe.New(providers.STT, transcribe.Config{
		Language: cfg.Transcription.Language,
		Keywords: a.dispatcher.Keywords(),
		DumpDir:  cfg.Transcription.DumpDir,
	}, transcribe.WithMetrics(a.metrics))

	// ── 5. Session loop ──────────────────────────────────────────────────
	loopOpts := []session.Option{session.WithMetrics(a.metrics)}
	if a.out != nil {
		loopOpts = append(loopOpts, session.WithOutput(a.out))
	}
	a.loop = session.New(session.Config{
		Capture: audio.CaptureConfig{
			Format: audio.Format{
				SampleRate:      cfg.Audio.SampleRate,
				FrameDurationMs: cfg.Audio.FrameDurationMs,
				Channels:        cfg.Audio.Channels,
			},
			Device:    cfg.Audio.Device,
			QueueSize: cfg.Audio.QueueSize,
		},
		Cooldown:          cfg.Listen.Cooldown,
		CaptureBackoffMax: cfg.Listen.CaptureBackoffMax,
	}, providers.Audio, asm, a.adapter, a.dispatcher, loopOpts...)

	// ── 6. Diagnostics endpoint ──────────────────────────────────────────
	a.handler = a.buildHandler()
	if addr := cfg.Server.ListenAddr; addr != "" {
		var lc net.ListenConfig
		ln, err := lc.Listen(ctx, "tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("app: listen on %q: %w", addr, err)
		}
		a.listener = ln
		a.server = &http.Server{
			Handler:           a.handler,
			ReadHeaderTimeout: 5 * time.Second,
		}
		a.closers = append(a.closers, a.closeServer)
	}

	// ── 7. Config watcher ────────────────────────────────────────────────
	if cfg.Server.WatchConfig {
		if a.configPath == "" {
			slog.Warn("app: watch_config set but config was not loaded from a file, not watching")
		} else {
			w, err := config.NewWatcher(a.configPath, a.ApplyConfig, a.watchOpts...)
			if err != nil {
				return nil, fmt.Errorf("app: init config watcher: %w", err)
			}
			a.watcher = w
			a.closers = append(a.closers, func() error {
				w.Stop()
				return nil
			})
		}
	}

	return a, nil
}

// buildHandler assembles the diagnostics mux: /metrics, /healthz and /readyz
// behind the tracing middleware.
func (a *App) buildHandler() http.Handler {
	checkers := []health.Checker{
		health.CaptureCheck(a.loop, health.DefaultCaptureFailureLimit),
		health.SessionCheck(a.loop),
	}
	if pr, ok := a.providers.STT.(health.ProviderReporter); ok {
		checkers = append(checkers, health.ProviderCheck("stt", pr))
	}

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	health.New(checkers, health.WithVersion(a.version)).Register(mux)
	return observe.Middleware(a.metrics)(mux)
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run executes the session loop and blocks until it ends or ctx is
// cancelled. The diagnostics server and config watcher run alongside and are
// stopped when the loop returns.
//
// Run returns nil when the session ended through the exit phrase, and
// context.Canceled (or the cancellation cause) when ctx was cancelled first.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	if a.server != nil {
		g.Go(func() error {
			slog.Info("diagnostics server listening", "addr", a.listener.Addr().String())
			if err := a.server.Serve(a.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("app: serve diagnostics: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			return a.closeServer()
		})
	}

	if a.watcher != nil {
		g.Go(func() error { return a.watcher.Run(gctx) })
	}

	g.Go(func() error {
		defer cancel()
		state, err := a.loop.Run(gctx)
		a.mu.Lock()
		a.final = state
		a.mu.Unlock()
		return err
	})

	slog.Info("app running",
		"wake_phrase", a.cfg.Commands.WakePhrase,
		"exit_phrase", a.cfg.Commands.ExitPhrase,
	)
	return g.Wait()
}

// State returns the command state the session loop finished with. It is the
// zero State until Run has returned.
func (a *App) State() command.State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.final
}

// Handler returns the diagnostics HTTP handler. It is available even when
// server.listen_addr is empty.
func (a *App) Handler() http.Handler { return a.handler }

// Addr returns the bound diagnostics address, or nil when the server is
// disabled.
func (a *App) Addr() net.Addr {
	if a.listener == nil {
		return nil
	}
	return a.listener.Addr()
}

// ─── Hot reload ──────────────────────────────────────────────────────────────

// ApplyConfig applies the hot-reloadable differences between old and new to
// the running session. Changes that need a restart are logged and ignored.
func (a *App) ApplyConfig(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.Empty() {
		return
	}

	if d.LogLevelChanged {
		if a.level != nil {
			a.level.Set(d.NewLogLevel.SlogLevel())
			slog.Info("config: log level changed", "level", string(d.NewLogLevel))
		} else {
			slog.Warn("config: log level change ignored, level is fixed")
		}
	}
	if d.PhrasesChanged {
		if err := a.dispatcher.SetPhrases(d.WakePhrase, d.ExitPhrase); err != nil {
			slog.Warn("config: rejected command phrases", "err", err)
		} else {
			a.adapter.SetKeywords(a.dispatcher.Keywords())
			slog.Info("config: command phrases changed", "wake", d.WakePhrase, "exit", d.ExitPhrase)
		}
	}
	if d.FuzzyThresholdChanged {
		if err := a.dispatcher.SetFuzzyWakeThreshold(d.NewFuzzyThreshold); err != nil {
			slog.Warn("config: rejected fuzzy wake threshold", "err", err)
		} else {
			slog.Info("config: fuzzy wake threshold changed", "threshold", d.NewFuzzyThreshold)
		}
	}
	if d.CooldownChanged {
		a.loop.SetCooldown(d.NewCooldown)
		slog.Info("config: cool-down changed", "cooldown", a.loop.Cooldown())
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config: changes require a restart", "sections", strings.Join(d.RestartRequired, ","))
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in init order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		shutdownErr = a.runClosers(ctx)
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

func (a *App) runClosers(ctx context.Context) error {
	for i, closer := range a.closers {
		select {
		case <-ctx.Done():
			slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
			return ctx.Err()
		default:
		}
		if err := closer(); err != nil {
			slog.Warn("closer error", "index", i, "err", err)
		}
	}
	return nil
}

// closeServer stops the diagnostics server. The listener is closed as well
// in case Serve was never started.
func (a *App) closeServer() error {
	ctx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
	defer cancel()
	err := a.server.Shutdown(ctx)
	if cerr := a.listener.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
		err = errors.Join(err, cerr)
	}
	return err
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// logLoudness prints a loudness meter per classified frame at debug level.
func logLoudness(cf listen.ClassifiedFrame) {
	if !slog.Default().Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	slog.Debug("frame", "index", cf.Index, "speech", cf.Speech, "level", loudnessBar(cf.Loudness))
}

// loudnessBar renders mean absolute amplitude as a bar of at most
// loudnessBarMax cells.
func loudnessBar(loudness float64) string {
	n := min(int(loudness/loudnessScale), loudnessBarMax)
	if n <= 0 {
		return ""
	}
	return strings.Repeat(loudnessBarCell, n)
}
