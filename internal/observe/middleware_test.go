package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// testSetup creates both metrics and tracing infrastructure for middleware tests.
func testSetup(t *testing.T) (*Metrics, *sdkmetric.ManualReader, *tracetest.InMemoryExporter) {
	t.Helper()

	// Metrics.
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	// Tracing.
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	origTP := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(origTP) })

	return m, reader, exp
}

func serve(t *testing.T, m *Metrics, path string, status int) *httptest.ResponseRecorder {
	t.Helper()
	handler := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
	return rec
}

func TestRouteLabel(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/metrics", "/metrics"},
		{"/healthz", "/healthz"},
		{"/readyz", "/readyz"},
		{"/", "other"},
		{"/wp-login.php", "other"},
		{"/healthz/extra", "other"},
	}
	for _, tt := range tests {
		if got := RouteLabel(tt.path); got != tt.want {
			t.Errorf("RouteLabel(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestMiddleware_SetsCorrelationID(t *testing.T) {
	m, _, _ := testSetup(t)

	var capturedCID string
	handler := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedCID = CorrelationID(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/readyz", nil))

	if len(capturedCID) != 32 {
		t.Fatalf("correlation ID = %q, want 32 hex chars", capturedCID)
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != capturedCID {
		t.Errorf("response X-Correlation-ID = %q, want %q", got, capturedCID)
	}
}

func TestMiddleware_SpanNameUsesRouteLabel(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/healthz", "HTTP GET /healthz"},
		{"/admin/secret", "HTTP GET other"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			m, _, exp := testSetup(t)
			serve(t, m, tt.path, http.StatusOK)

			spans := exp.GetSpans()
			if len(spans) != 1 {
				t.Fatalf("spans = %d, want 1", len(spans))
			}
			if spans[0].Name != tt.want {
				t.Errorf("span name = %q, want %q", spans[0].Name, tt.want)
			}
		})
	}
}

func TestMiddleware_RecordsDuration(t *testing.T) {
	m, reader, _ := testSetup(t)
	serve(t, m, "/metrics", http.StatusOK)
	serve(t, m, "/nope", http.StatusNotFound)
	serve(t, m, "/also-nope", http.StatusNotFound)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	met := findMetric(rm, "voicebible.http.request.duration")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("metric data = %T, want histogram", met.Data)
	}

	counts := map[string]uint64{}
	for _, dp := range hist.DataPoints {
		method, _ := dp.Attributes.Value("method")
		if method.AsString() != "GET" {
			t.Errorf("method = %q, want GET", method.AsString())
		}
		path, _ := dp.Attributes.Value("path")
		counts[path.AsString()] += dp.Count
	}
	if counts["/metrics"] != 1 {
		t.Errorf("/metrics count = %d, want 1", counts["/metrics"])
	}
	if counts["other"] != 2 {
		t.Errorf("other count = %d, want 2", counts["other"])
	}
	if len(counts) != 2 {
		t.Errorf("path labels = %v, want only /metrics and other", counts)
	}
}

func TestMiddleware_CapturesStatusCode(t *testing.T) {
	m, _, exp := testSetup(t)
	rec := serve(t, m, "/readyz", http.StatusServiceUnavailable)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("response status = %d, want 503", rec.Code)
	}
	spans := exp.GetSpans()
	if len(spans) == 0 {
		t.Fatal("no spans recorded")
	}
	found := false
	for _, a := range spans[0].Attributes {
		if string(a.Key) == "http.response.status_code" && a.Value.AsInt64() == 503 {
			found = true
		}
	}
	if !found {
		t.Error("span missing http.response.status_code attribute")
	}
}

func TestMiddleware_PropagatesW3CTraceContext(t *testing.T) {
	m, _, _ := testSetup(t)

	var capturedCID string
	handler := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedCID = CorrelationID(r.Context())
	}))

	req := httptest.NewRequest("GET", "/healthz", nil)
	req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	const want = "4bf92f3577b34da6a3ce929d0e0e4736"
	if capturedCID != want {
		t.Errorf("correlation ID = %q, want %q", capturedCID, want)
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != want {
		t.Errorf("response X-Correlation-ID = %q, want %q", got, want)
	}
}
