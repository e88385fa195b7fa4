package resilience

import (
	"context"
	"errors"

	"github.com/MrWong99/voicebible/internal/observe"
	"github.com/MrWong99/voicebible/pkg/provider/stt"
)

// STTFallback implements [stt.Transcriber] with failover across several
// backends, each behind its own circuit breaker. Every attempt is counted in
// the provider request metrics; failures also in the provider error counter.
type STTFallback struct {
	group   *FallbackGroup[stt.Transcriber]
	metrics *observe.Metrics
}

var _ stt.Transcriber = (*STTFallback)(nil)

// STTOption configures an [STTFallback].
type STTOption func(*STTFallback)

// WithSTTMetrics sets the metrics recorder. Defaults to [observe.DefaultMetrics].
func WithSTTMetrics(m *observe.Metrics) STTOption {
	return func(f *STTFallback) { f.metrics = m }
}

// NewSTTFallback creates an [STTFallback] with primary as the preferred backend.
func NewSTTFallback(primary stt.Transcriber, primaryName string, cfg FallbackConfig, opts ...STTOption) *STTFallback {
	f := &STTFallback{}
	for _, o := range opts {
		o(f)
	}
	if f.metrics == nil {
		f.metrics = observe.DefaultMetrics()
	}
	userHook := cfg.OnAttempt
	cfg.OnAttempt = func(ctx context.Context, name string, err error) {
		f.record(ctx, name, err)
		if userHook != nil {
			userHook(ctx, name, err)
		}
	}
	f.group = NewFallbackGroup(primary, primaryName, cfg)
	return f
}

// AddFallback registers an additional STT backend.
func (f *STTFallback) AddFallback(name string, t stt.Transcriber) {
	f.group.AddFallback(name, t)
}

// Names returns the backends in failover order.
func (f *STTFallback) Names() []string { return f.group.Names() }

// States reports each backend's breaker state.
func (f *STTFallback) States() map[string]State { return f.group.States() }

// Available reports, per backend, whether its breaker currently admits
// requests.
func (f *STTFallback) Available() map[string]bool {
	states := f.group.States()
	avail := make(map[string]bool, len(states))
	for name, s := range states {
		avail[name] = s != StateOpen
	}
	return avail
}

// Transcribe sends req to the first healthy backend, moving on to the next
// when a backend fails.
func (f *STTFallback) Transcribe(ctx context.Context, req stt.Request) (stt.Result, error) {
	if len(req.Samples) == 0 {
		return stt.Result{}, stt.ErrEmptyAudio
	}
	return ExecuteWithResult(ctx, f.group, func(ctx context.Context, t stt.Transcriber) (stt.Result, error) {
		return t.Transcribe(ctx, req)
	})
}

func (f *STTFallback) record(ctx context.Context, name string, err error) {
	status := "ok"
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = "cancelled"
	default:
		status = "error"
		f.metrics.RecordProviderError(ctx, name, "stt")
	}
	f.metrics.RecordProviderRequest(ctx, name, "stt", status)
}
