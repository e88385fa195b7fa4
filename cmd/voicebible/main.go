// Command voicebible listens on the microphone for spoken commands and
// answers them until the exit phrase is heard or the process is interrupted.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/afero"

	"github.com/MrWong99/voicebible/internal/app"
	"github.com/MrWong99/voicebible/internal/config"
	"github.com/MrWong99/voicebible/internal/observe"
	"github.com/MrWong99/voicebible/internal/resilience"
	"github.com/MrWong99/voicebible/pkg/audio"
	"github.com/MrWong99/voicebible/pkg/audio/ffmpeg"
	audiomock "github.com/MrWong99/voicebible/pkg/audio/mock"
	"github.com/MrWong99/voicebible/pkg/audio/portaudio"
	"github.com/MrWong99/voicebible/pkg/audio/wavfile"
	"github.com/MrWong99/voicebible/pkg/provider/stt"
	"github.com/MrWong99/voicebible/pkg/provider/stt/deepgram"
	"github.com/MrWong99/voicebible/pkg/provider/stt/openai"
	"github.com/MrWong99/voicebible/pkg/provider/stt/whisper"
	"github.com/MrWong99/voicebible/pkg/provider/vad"
	"github.com/MrWong99/voicebible/pkg/provider/vad/energy"
	"github.com/MrWong99/voicebible/pkg/provider/vad/webrtc"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const defaultConfigPath = "voicebible.yaml"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", defaultConfigPath, "path to the YAML configuration file")
	showVersion := flag.Bool("version", false, "print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("voicebible", version)
		return 0
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, loadedFrom, err := loadConfig(*configPath, flagSet("config"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voicebible: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voicebible: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(cfg.Server.LogLevel.SlogLevel())
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	slog.Info("voicebible starting",
		"version", version,
		"config", loadedFrom,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "voicebible",
		ServiceVersion: version,
	})
	if err != nil {
		// The loop does not depend on telemetry; run with the no-op providers.
		slog.Warn("telemetry disabled", "err", err)
		otelShutdown = func(context.Context) error { return nil }
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, closeProviders, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}
	defer closeProviders()

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg, loadedFrom)

	application, err := app.New(ctx, cfg, providers,
		app.WithLevelVar(level),
		app.WithVersion(version),
		app.WithConfigPath(loadedFrom),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("listening, say the exit phrase or press Ctrl+C to stop", "exit_phrase", cfg.Commands.ExitPhrase)

	code := 0
	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		code = 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	return code
}

// loadConfig reads the config file. A missing file at the default path
// (explicit is false) falls back to the built-in defaults; loadedFrom is then
// empty.
func loadConfig(path string, explicit bool) (cfg *config.Config, loadedFrom string, err error) {
	cfg, err = config.Load(path)
	switch {
	case err == nil:
		return cfg, path, nil
	case errors.Is(err, os.ErrNotExist) && !explicit:
		return config.Default(), "", nil
	default:
		return nil, "", err
	}
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

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the provider
// from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// ── Audio ─────────────────────────────────────────────────────────────────

	reg.RegisterAudio("portaudio", func(entry config.ProviderEntry) (audio.Source, error) {
		var opts []portaudio.Option
		if d, ok, err := optDuration(entry, "stall_timeout"); err != nil {
			return nil, err
		} else if ok {
			opts = append(opts, portaudio.WithStallTimeout(d))
		}
		return portaudio.New(opts...), nil
	})

	reg.RegisterAudio("ffmpeg", func(entry config.ProviderEntry) (audio.Source, error) {
		var opts []ffmpeg.Option
		if cmd := entry.OptString("command"); cmd != "" {
			opts = append(opts, ffmpeg.WithCommand(cmd))
		}
		if f := entry.OptString("input_format"); f != "" {
			opts = append(opts, ffmpeg.WithInputFormat(f))
		}
		return ffmpeg.New(opts...), nil
	})

	// wav replays a recording; the path comes from options.path or audio.device.
	reg.RegisterAudio("wav", func(entry config.ProviderEntry) (audio.Source, error) {
		speed := entry.OptFloat("speed", 1)
		if speed < 0 {
			return nil, fmt.Errorf("wav: speed must not be negative, got %g", speed)
		}
		return wavfile.New(afero.NewOsFs(), entry.OptString("path"),
			wavfile.WithSpeed(speed),
			wavfile.WithLoop(entry.OptBool("loop", false)),
		), nil
	})

	// mock never delivers a frame; useful to exercise the loop without a device.
	reg.RegisterAudio("mock", func(config.ProviderEntry) (audio.Source, error) {
		return &audiomock.Source{}, nil
	})

	// ── VAD ───────────────────────────────────────────────────────────────────

	reg.RegisterVAD("webrtc", func(config.ProviderEntry) (vad.Engine, error) {
		return webrtc.New(), nil
	})
	reg.RegisterVAD("energy", func(config.ProviderEntry) (vad.Engine, error) {
		return energy.New(), nil
	})

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = entry.OptString("model_path")
		}
		var opts []whisper.NativeOption
		if lang := entry.OptString("language"); lang != "" {
			opts = append(opts, whisper.WithNativeLanguage(lang))
		}
		if n := entry.OptInt("threads", 0); n > 0 {
			opts = append(opts, whisper.WithNativeThreads(uint(n)))
		}
		return whisper.NewNative(modelPath, opts...)
	})

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := entry.OptString("language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		var opts []openai.Option
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		if org := entry.OptString("organization"); org != "" {
			opts = append(opts, openai.WithOrganization(org))
		}
		if d, ok, err := optDuration(entry, "timeout"); err != nil {
			return nil, err
		} else if ok {
			opts = append(opts, openai.WithTimeout(d))
		}
		if n := entry.OptInt("max_retries", -1); n >= 0 {
			opts = append(opts, openai.WithMaxRetries(n))
		}
		return openai.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := entry.OptString("language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	for _, kind := range []string{"audio", "vad", "stt"} {
		slog.Debug("registered providers", "kind", kind, "names", strings.Join(reg.Names(kind), ","))
	}
}

// buildProviders instantiates the providers named in cfg. The STT provider
// and its fallbacks are combined behind a [resilience.STTFallback]. The
// returned func closes every provider that holds resources.
func buildProviders(cfg *config.Config, reg *config.Registry) (_ *app.Providers, closeAll func(), err error) {
	var closers []io.Closer
	closeAll = func() {
		for _, c := range closers {
			if err := c.Close(); err != nil {
				slog.Warn("provider close error", "err", err)
			}
		}
	}
	defer func() {
		if err != nil {
			closeAll()
		}
	}()

	ps := &app.Providers{}

	if ps.Audio, err = reg.CreateAudio(cfg.Providers.Audio); err != nil {
		return nil, nil, fmt.Errorf("create audio provider %q: %w", cfg.Providers.Audio.Name, err)
	}
	slog.Info("provider created", "kind", "audio", "name", cfg.Providers.Audio.Name)

	if ps.VAD, err = reg.CreateVAD(cfg.Providers.VAD); err != nil {
		return nil, nil, fmt.Errorf("create vad provider %q: %w", cfg.Providers.VAD.Name, err)
	}
	slog.Info("provider created", "kind", "vad", "name", cfg.Providers.VAD.Name)

	createSTT := func(entry config.ProviderEntry) (stt.Transcriber, error) {
		t, err := reg.CreateSTT(entry)
		if err != nil {
			return nil, fmt.Errorf("create stt provider %q: %w", entry.Name, err)
		}
		if c, ok := t.(io.Closer); ok {
			closers = append(closers, c)
		}
		slog.Info("provider created", "kind", "stt", "name", entry.Name, "model", entry.Model)
		return t, nil
	}

	primary, err := createSTT(cfg.Providers.STT)
	if err != nil {
		return nil, nil, err
	}
	fb := resilience.NewSTTFallback(primary, cfg.Providers.STT.Name, resilience.FallbackConfig{})
	for _, entry := range cfg.Providers.STTFallbacks {
		t, err := createSTT(entry)
		if err != nil {
			return nil, nil, err
		}
		fb.AddFallback(entry.Name, t)
	}
	ps.STT = fb

	return ps, closeAll, nil
}

// optDuration parses a duration string option. ok is false when the key is
// absent.
func optDuration(entry config.ProviderEntry, key string) (d time.Duration, ok bool, err error) {
	s := entry.OptString(key)
	if s == "" {
		return 0, false, nil
	}
	d, err = time.ParseDuration(s)
	if err != nil {
		return 0, false, fmt.Errorf("%s: option %s: %w", entry.Name, key, err)
	}
	return d, true, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, loadedFrom string) {
	if loadedFrom == "" {
		loadedFrom = "(built-in defaults)"
	}
	chain := cfg.Providers.STT.Name
	for _, fb := range cfg.Providers.STTFallbacks {
		chain += " → " + fb.Name
	}
	format := audio.Format{
		SampleRate:      cfg.Audio.SampleRate,
		FrameDurationMs: cfg.Audio.FrameDurationMs,
		Channels:        cfg.Audio.Channels,
	}

	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║       voicebible, startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Config", loadedFrom)
	printRow("Audio", cfg.Providers.Audio.Name)
	printRow("Device", orDefault(cfg.Audio.Device, "(default)"))
	printRow("Format", format.String())
	printRow("VAD", fmt.Sprintf("%s / level %d", cfg.Providers.VAD.Name, cfg.VAD.Aggressiveness))
	printRow("STT", chain)
	printRow("Window", cfg.Listen.Window.String())
	printRow("Wake phrase", cfg.Commands.WakePhrase)
	printRow("Exit phrase", cfg.Commands.ExitPhrase)
	if cfg.Server.ListenAddr != "" {
		printRow("Listen addr", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(label, value string) {
	if r := []rune(value); len(r) > 21 {
		value = string(r[:20]) + "…"
	}
	fmt.Printf("║  %-12s : %-21s ║\n", label, value)
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
