package observe

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

// sumFor returns the counter value of the data point carrying key=value.
func sumFor(t *testing.T, rm metricdata.ResourceMetrics, name, key, value string) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not a sum", name)
	}
	for _, dp := range sum.DataPoints {
		for _, kv := range dp.Attributes.ToSlice() {
			if string(kv.Key) == key && kv.Value.AsString() == value {
				return dp.Value
			}
		}
	}
	t.Fatalf("metric %q has no data point with %s=%s", name, key, value)
	return 0
}

func histogramCount(t *testing.T, rm metricdata.ResourceMetrics, name string) uint64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("metric %q is not a histogram", name)
	}
	var n uint64
	for _, dp := range hist.DataPoints {
		n += dp.Count
	}
	return n
}

func TestHistogramObservation(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	histograms := []struct {
		name string
		h    metric.Float64Histogram
	}{
		{"voicebible.stt.duration", m.STTDuration},
		{"voicebible.window.duration", m.WindowDuration},
		{"voicebible.frame.loudness", m.FrameLoudness},
		{"voicebible.http.request.duration", m.HTTPRequestDuration},
	}

	for _, tc := range histograms {
		tc.h.Record(ctx, 0.123)
		tc.h.Record(ctx, 0.456)
	}

	rm := collect(t, reader)

	for _, tc := range histograms {
		t.Run(tc.name, func(t *testing.T) {
			if got := histogramCount(t, rm, tc.name); got != 2 {
				t.Errorf("sample count = %d, want 2", got)
			}
		})
	}
}

func TestRecordWindow(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordWindow(ctx, OutcomeSpeech, 6*time.Second)
	m.RecordWindow(ctx, OutcomeSpeech, 2*time.Second)
	m.RecordWindow(ctx, OutcomeNoSpeech, 6*time.Second)

	rm := collect(t, reader)
	if got := sumFor(t, rm, "voicebible.windows", "outcome", OutcomeSpeech); got != 2 {
		t.Errorf("speech windows = %d, want 2", got)
	}
	if got := sumFor(t, rm, "voicebible.windows", "outcome", OutcomeNoSpeech); got != 1 {
		t.Errorf("no_speech windows = %d, want 1", got)
	}
	if got := histogramCount(t, rm, "voicebible.window.duration"); got != 3 {
		t.Errorf("window duration samples = %d, want 3", got)
	}
}

func TestRecordFrame(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordFrame(ctx, true, 900)
	m.RecordFrame(ctx, false, 12)
	m.RecordFrame(ctx, false, 8)
	m.RecordFrameDropped(ctx, "undersized", 2)
	m.RecordFrameDropped(ctx, "overflow", 0)

	rm := collect(t, reader)
	if got := sumFor(t, rm, "voicebible.frames", "speech", "true"); got != 1 {
		t.Errorf("speech frames = %d, want 1", got)
	}
	if got := sumFor(t, rm, "voicebible.frames", "speech", "false"); got != 2 {
		t.Errorf("silent frames = %d, want 2", got)
	}
	if got := sumFor(t, rm, "voicebible.frames.dropped", "reason", "undersized"); got != 2 {
		t.Errorf("dropped frames = %d, want 2", got)
	}
	if got := histogramCount(t, rm, "voicebible.frame.loudness"); got != 3 {
		t.Errorf("loudness samples = %d, want 3", got)
	}
}

func TestRecordCommand(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordCommand(ctx, "acknowledge")
	m.RecordCommand(ctx, "acknowledge")
	m.RecordCommand(ctx, "end")

	rm := collect(t, reader)
	if got := sumFor(t, rm, "voicebible.commands", "action", "acknowledge"); got != 2 {
		t.Errorf("acknowledge = %d, want 2", got)
	}
}

func TestCounterIncrement(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	attrs := metric.WithAttributes(
		attribute.String("provider", "whisper"),
		attribute.String("kind", "stt"),
		attribute.String("status", "ok"),
	)
	m.ProviderRequests.Add(ctx, 1, attrs)
	m.ProviderRequests.Add(ctx, 1, attrs)
	m.RecordProviderRequest(ctx, "whisper", "stt", "error")

	rm := collect(t, reader)
	if got := sumFor(t, rm, "voicebible.provider.requests", "status", "ok"); got != 2 {
		t.Errorf("counter value = %d, want 2", got)
	}
	if got := sumFor(t, rm, "voicebible.provider.requests", "status", "error"); got != 1 {
		t.Errorf("counter value = %d, want 1", got)
	}
}

func TestProviderErrorsCounter(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordProviderError(ctx, "deepgram", "stt")

	rm := collect(t, reader)
	if got := sumFor(t, rm, "voicebible.provider.errors", "provider", "deepgram"); got != 1 {
		t.Errorf("counter value = %d, want 1", got)
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	// DefaultMetrics uses the global OTel provider so we just check
	// that repeated calls return the same pointer.
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different pointers")
	}
}
