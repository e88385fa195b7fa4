// Package observe provides application-wide observability primitives for
// voicebible: OpenTelemetry metrics, tracing, trace-aware logging, and HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Window outcomes recorded on [Metrics.Windows].
const (
	OutcomeSpeech       = "speech"
	OutcomeNoSpeech     = "no_speech"
	OutcomeCaptureError = "capture_error"
	OutcomeAborted      = "aborted"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Listening windows ---

	// WindowDuration tracks how long each listening window ran.
	WindowDuration metric.Float64Histogram

	// Windows counts finished windows. Use with attribute:
	//   attribute.String("outcome", ...)
	Windows metric.Int64Counter

	// --- Frames ---

	// Frames counts classified frames. Use with attribute:
	//   attribute.Bool("speech", ...)
	Frames metric.Int64Counter

	// FramesDropped counts frames discarded before classification. Use with
	// attribute:
	//   attribute.String("reason", ...)
	FramesDropped metric.Int64Counter

	// FrameLoudness tracks the mean absolute amplitude of classified frames.
	FrameLoudness metric.Float64Histogram

	// --- Transcription and commands ---

	// STTDuration tracks speech-to-text transcription latency.
	STTDuration metric.Float64Histogram

	// Commands counts dispatched commands. Use with attribute:
	//   attribute.String("action", ...)
	Commands metric.Int64Counter

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// transcription latencies.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30,
}

// windowBuckets covers listening windows from an early trailing-silence cut
// up to the full default window.
var windowBuckets = []float64{
	0.5, 1, 2, 3, 4, 5, 6, 7, 8, 10,
}

// loudnessBuckets are mean absolute int16 amplitudes. 500 is one bar of the
// console level meter.
var loudnessBuckets = []float64{
	50, 100, 250, 500, 1000, 2000, 4000, 8000, 16000,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(scopeName)
	var err error
	met := &Metrics{}

	// Windows.
	if met.WindowDuration, err = m.Float64Histogram("voicebible.window.duration",
		metric.WithDescription("Duration of listening windows."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(windowBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Windows, err = m.Int64Counter("voicebible.windows",
		metric.WithDescription("Total listening windows by outcome."),
	); err != nil {
		return nil, err
	}

	// Frames.
	if met.Frames, err = m.Int64Counter("voicebible.frames",
		metric.WithDescription("Total classified audio frames by speech verdict."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("voicebible.frames.dropped",
		metric.WithDescription("Total audio frames dropped before classification by reason."),
	); err != nil {
		return nil, err
	}
	if met.FrameLoudness, err = m.Float64Histogram("voicebible.frame.loudness",
		metric.WithDescription("Mean absolute amplitude of classified frames."),
		metric.WithExplicitBucketBoundaries(loudnessBuckets...),
	); err != nil {
		return nil, err
	}

	// Transcription.
	if met.STTDuration, err = m.Float64Histogram("voicebible.stt.duration",
		metric.WithDescription("Latency of speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Commands, err = m.Int64Counter("voicebible.commands",
		metric.WithDescription("Total dispatched commands by action."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("voicebible.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("voicebible.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("voicebible.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordWindow records one finished listening window.
func (m *Metrics) RecordWindow(ctx context.Context, outcome string, d time.Duration) {
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.Windows.Add(ctx, 1, attrs)
	m.WindowDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordFrame records one classified frame and its loudness.
func (m *Metrics) RecordFrame(ctx context.Context, speech bool, loudness float64) {
	m.Frames.Add(ctx, 1, metric.WithAttributes(attribute.String("speech", strconv.FormatBool(speech))))
	m.FrameLoudness.Record(ctx, loudness)
}

// RecordFrameDropped records a frame discarded before classification.
func (m *Metrics) RecordFrameDropped(ctx context.Context, reason string, n int64) {
	if n <= 0 {
		return
	}
	m.FramesDropped.Add(ctx, n, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordCommand records a dispatched command.
func (m *Metrics) RecordCommand(ctx context.Context, action string) {
	m.Commands.Add(ctx, 1, metric.WithAttributes(attribute.String("action", action)))
}

// RecordProviderRequest is a convenience method that records a provider
// request counter increment with the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}
