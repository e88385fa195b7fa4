package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/voicebible/internal/observe"
	"github.com/MrWong99/voicebible/pkg/provider/stt"
	sttmock "github.com/MrWong99/voicebible/pkg/provider/stt/mock"
)

func newSTTFallback(t *testing.T, primary, secondary stt.Transcriber) (*STTFallback, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	fb := NewSTTFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3, ResetTimeout: time.Hour},
	}, WithSTTMetrics(m))
	fb.AddFallback("secondary", secondary)
	return fb, reader
}

// providerCount sums the named counter over data points for provider.
func providerCount(t *testing.T, reader *sdkmetric.ManualReader, metric, provider, status string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != metric {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("%s: unexpected data type %T", metric, m.Data)
			}
			for _, dp := range sum.DataPoints {
				p, _ := dp.Attributes.Value("provider")
				if p.AsString() != provider {
					continue
				}
				if status != "" {
					s, _ := dp.Attributes.Value("status")
					if s.AsString() != status {
						continue
					}
				}
				total += dp.Value
			}
		}
	}
	return total
}

var testRequest = stt.Request{Samples: []float32{0.1, -0.1}, SampleRate: 16000, Language: "en"}

func TestSTTFallback_PrimarySuccess(t *testing.T) {
	t.Parallel()
	primary := &sttmock.Transcriber{Result: stt.Result{Text: "hey bible"}}
	secondary := &sttmock.Transcriber{}
	fb, reader := newSTTFallback(t, primary, secondary)

	res, err := fb.Transcribe(context.Background(), testRequest)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Text != "hey bible" {
		t.Errorf("text = %q, want %q", res.Text, "hey bible")
	}
	if primary.CallCount() != 1 || secondary.CallCount() != 0 {
		t.Fatalf("calls: primary=%d secondary=%d, want 1/0", primary.CallCount(), secondary.CallCount())
	}
	if got := primary.Requests[0].Language; got != "en" {
		t.Errorf("language forwarded = %q", got)
	}
	if got := providerCount(t, reader, "voicebible.provider.requests", "primary", "ok"); got != 1 {
		t.Errorf("primary ok requests = %d, want 1", got)
	}
}

func TestSTTFallback_Failover(t *testing.T) {
	t.Parallel()
	primary := &sttmock.Transcriber{Err: errors.New("primary down")}
	secondary := &sttmock.Transcriber{Result: stt.Result{Text: "stop"}}
	fb, reader := newSTTFallback(t, primary, secondary)

	res, err := fb.Transcribe(context.Background(), testRequest)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Text != "stop" {
		t.Errorf("text = %q, want stop", res.Text)
	}
	if got := providerCount(t, reader, "voicebible.provider.errors", "primary", ""); got != 1 {
		t.Errorf("primary errors = %d, want 1", got)
	}
	if got := providerCount(t, reader, "voicebible.provider.requests", "secondary", "ok"); got != 1 {
		t.Errorf("secondary ok requests = %d, want 1", got)
	}
}

func TestSTTFallback_AllFail(t *testing.T) {
	t.Parallel()
	fb, _ := newSTTFallback(t,
		&sttmock.Transcriber{Err: errors.New("primary down")},
		&sttmock.Transcriber{Err: errors.New("secondary down")},
	)

	_, err := fb.Transcribe(context.Background(), testRequest)
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestSTTFallback_CancelledIsNotAnError(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	primary := &sttmock.Transcriber{Fn: func(ctx context.Context, _ stt.Request) (stt.Result, error) {
		cancel()
		return stt.Result{}, ctx.Err()
	}}
	secondary := &sttmock.Transcriber{}
	fb, reader := newSTTFallback(t, primary, secondary)

	_, err := fb.Transcribe(ctx, testRequest)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if secondary.CallCount() != 0 {
		t.Error("secondary must not be tried after cancellation")
	}
	if got := providerCount(t, reader, "voicebible.provider.requests", "primary", "cancelled"); got != 1 {
		t.Errorf("cancelled requests = %d, want 1", got)
	}
	if got := fb.States()["primary"]; got != StateClosed {
		t.Errorf("primary breaker = %v, want closed", got)
	}
}

func TestSTTFallback_EmptyAudio(t *testing.T) {
	t.Parallel()
	primary := &sttmock.Transcriber{}
	fb, _ := newSTTFallback(t, primary, &sttmock.Transcriber{})

	if _, err := fb.Transcribe(context.Background(), stt.Request{}); !errors.Is(err, stt.ErrEmptyAudio) {
		t.Fatalf("err = %v, want ErrEmptyAudio", err)
	}
	if primary.CallCount() != 0 {
		t.Error("provider must not be called for empty audio")
	}
	if names := fb.Names(); len(names) != 2 || names[0] != "primary" {
		t.Errorf("Names() = %v", names)
	}
}

func TestSTTFallback_Available(t *testing.T) {
	t.Parallel()
	primary := &sttmock.Transcriber{Err: errors.New("down")}
	fb, _ := newSTTFallback(t, primary, &sttmock.Transcriber{})

	for range 3 {
		if _, err := fb.Transcribe(context.Background(), testRequest); err != nil {
			t.Fatalf("fallback should succeed: %v", err)
		}
	}
	avail := fb.Available()
	if avail["primary"] {
		t.Error("primary should be unavailable after 3 failures")
	}
	if !avail["secondary"] {
		t.Error("secondary should be available")
	}
}
