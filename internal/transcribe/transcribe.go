// Package transcribe adapts an assembled [listen.Utterance] to an
// [stt.Transcriber] and normalises the recognised text for the command
// dispatcher.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"
	"go.opentelemetry.io/otel/attribute"

	"github.com/MrWong99/voicebible/internal/listen"
	"github.com/MrWong99/voicebible/internal/observe"
	"github.com/MrWong99/voicebible/pkg/audio"
	"github.com/MrWong99/voicebible/pkg/provider/stt"
)

// ErrEmptyUtterance is returned for an utterance without frames. The provider
// is not called.
var ErrEmptyUtterance = errors.New("transcribe: utterance has no frames")

// DefaultLanguage is the language hint used when Config.Language is empty.
const DefaultLanguage = "en"

// Config controls the adapter.
type Config struct {
	// Language is the BCP-47 hint passed to the provider.
	Language string

	// Keywords are passed to providers that support vocabulary biasing.
	Keywords []string

	// DumpDir, when set, receives every utterance as a 16-bit mono WAV file.
	DumpDir string
}

// Option is a functional option for [New].
type Option func(*Adapter)

// WithFS sets the filesystem used for utterance dumps. Defaults to the OS
// filesystem.
func WithFS(fs afero.Fs) Option {
	return func(a *Adapter) { a.fs = fs }
}

// WithMetrics records transcription latency on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *Adapter) { a.metrics = m }
}

// Adapter converts utterances to normalised command text. It is safe for
// concurrent use.
type Adapter struct {
	tr       stt.Transcriber
	language string
	dumpDir  string
	fs       afero.Fs
	metrics  *observe.Metrics

	mu       sync.RWMutex
	keywords []string
}

// New creates an Adapter around t.
func New(t stt.Transcriber, cfg Config, opts ...Option) *Adapter {
	lang := cfg.Language
	if lang == "" {
		lang = DefaultLanguage
	}
	a := &Adapter{
		tr:       t,
		language: lang,
		dumpDir:  cfg.DumpDir,
		keywords: slices.Clone(cfg.Keywords),
		fs:       afero.NewOsFs(),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// SetKeywords replaces the vocabulary hints for subsequent calls.
func (a *Adapter) SetKeywords(keywords []string) {
	a.mu.Lock()
	a.keywords = slices.Clone(keywords)
	a.mu.Unlock()
}

// Transcribe sends u to the provider and returns the lower-cased, trimmed
// transcript. Provider errors are wrapped and returned.
func (a *Adapter) Transcribe(ctx context.Context, u *listen.Utterance) (string, error) {
	if u == nil || len(u.Frames) == 0 {
		return "", ErrEmptyUtterance
	}

	ctx, span := observe.StartSpan(ctx, "transcribe.utterance")
	defer span.End()

	samples := u.Samples()
	span.SetAttributes(
		attribute.Int("frames", len(u.Frames)),
		attribute.Int("sample_rate", u.SampleRate),
		attribute.String("language", a.language),
	)

	if a.dumpDir != "" {
		if err := a.dump(u, samples); err != nil {
			observe.Logger(ctx).Warn("transcribe: dump utterance failed", "dir", a.dumpDir, "err", err)
		}
	}

	a.mu.RLock()
	keywords := a.keywords
	a.mu.RUnlock()

	start := time.Now()
	res, err := a.tr.Transcribe(ctx, stt.Request{
		Samples:    audio.Int16ToFloat32(samples),
		SampleRate: u.SampleRate,
		Language:   a.language,
		Keywords:   keywords,
	})
	elapsed := time.Since(start)
	if a.metrics != nil {
		a.metrics.STTDuration.Record(ctx, elapsed.Seconds())
	}
	if err != nil {
		observe.FailSpan(span, err)
		return "", fmt.Errorf("transcribe: provider: %w", err)
	}

	text := strings.ToLower(strings.TrimSpace(res.Text))
	observe.Logger(ctx).Debug("transcribe: utterance recognised",
		slog.Duration("audio", u.Duration()),
		slog.Duration("latency", elapsed),
		slog.String("text", text),
	)
	return text, nil
}

// dump writes the utterance as a WAV file named after its start time.
func (a *Adapter) dump(u *listen.Utterance, samples []int16) error {
	if err := a.fs.MkdirAll(a.dumpDir, 0o755); err != nil {
		return err
	}
	name := filepath.Join(a.dumpDir, "utterance-"+u.Start.UTC().Format("20060102-150405.000")+".wav")
	f, err := a.fs.Create(name)
	if err != nil {
		return err
	}
	if err := audio.WriteWAV(f, samples, u.SampleRate); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
