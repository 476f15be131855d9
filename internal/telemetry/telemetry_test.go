package telemetry

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatal(err)
	}
	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func TestMetricsRecordJobsAndLoads(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	m.JobFinished(ctx, "translate", "completed", "", 2*time.Second)
	m.JobFinished(ctx, "translate", "failed", "network", time.Second)
	m.LoadObserver("asr")("large-v3", "float32", 3*time.Second, nil)
	m.ModelLoaded(ctx, "translation", "missing", 0, errors.New("not found"))
	m.ArtifactWritten(ctx, "SRT")

	got := collect(t, reader)
	jobs, ok := got["subforge.jobs"].Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("subforge.jobs missing: %v", got)
	}
	if len(jobs.DataPoints) != 2 {
		t.Errorf("job data points = %d, want 2", len(jobs.DataPoints))
	}
	loads, ok := got["subforge.model.loads"].Data.(metricdata.Sum[int64])
	if !ok || len(loads.DataPoints) != 2 {
		t.Errorf("model loads = %+v", got["subforge.model.loads"])
	}
	if _, ok := got["subforge.job.duration"].Data.(metricdata.Histogram[float64]); !ok {
		t.Error("job duration histogram missing")
	}
	if _, ok := got["subforge.artifacts"]; !ok {
		t.Error("artifact counter missing")
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.JobFinished(context.Background(), "translate", "completed", "", time.Second)
	m.ModelLoaded(context.Background(), "asr", "tiny", time.Second, nil)
	m.ArtifactWritten(context.Background(), "SRT")
	m.LoadObserver("asr")("tiny", "", time.Second, nil)
}

func TestSetupServesPrometheus(t *testing.T) {
	p, err := Setup(context.Background(), Options{ServiceName: "subforge-test", Metrics: true}, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Shutdown(context.Background())

	if p.Handler == nil || p.Metrics == nil || p.Tracer == nil {
		t.Fatalf("provider = %+v", p)
	}
	p.Metrics.JobFinished(context.Background(), "transcribe:file", "completed", "", time.Second)

	rec := httptest.NewRecorder()
	p.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "subforge_jobs") {
		t.Errorf("exposition missing subforge_jobs:\n%s", rec.Body.String())
	}
}

func TestSetupWithoutExporters(t *testing.T) {
	p, err := Setup(context.Background(), Options{ServiceName: "subforge-test"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if p.Handler != nil || p.Metrics != nil {
		t.Errorf("expected metrics disabled, got %+v", p)
	}
	_, span := p.Tracer.Start(context.Background(), "noop")
	span.End()
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
}
