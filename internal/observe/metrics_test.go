package observe

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
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

func TestCounterIncrement(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.FramesSent.Add(ctx, 3)
	m.BargeIns.Add(ctx, 1)

	rm := collect(t, reader)
	frames := findMetric(rm, "voxkit.frames.sent")
	if frames == nil {
		t.Fatal("voxkit.frames.sent not found")
	}
	sum, ok := frames.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("unexpected data type %T", frames.Data)
	}
	if got := sum.DataPoints[0].Value; got != 3 {
		t.Errorf("frames sent: got %d, want 3", got)
	}
}

func TestRecordFlush_ReasonAttribute(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordFlush(ctx, "barge_in")
	m.RecordFlush(ctx, "barge_in")
	m.RecordFlush(ctx, "shutdown")

	rm := collect(t, reader)
	flushes := findMetric(rm, "voxkit.playback.flushes")
	if flushes == nil {
		t.Fatal("voxkit.playback.flushes not found")
	}
	sum, ok := flushes.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("unexpected data type %T", flushes.Data)
	}

	byReason := make(map[string]int64)
	for _, dp := range sum.DataPoints {
		if reason, ok := dp.Attributes.Value(attribute.Key("reason")); ok {
			byReason[reason.AsString()] = dp.Value
		}
	}
	if byReason["barge_in"] != 2 {
		t.Errorf("barge_in flushes: got %d, want 2", byReason["barge_in"])
	}
	if byReason["shutdown"] != 1 {
		t.Errorf("shutdown flushes: got %d, want 1", byReason["shutdown"])
	}
}

func TestRecordTurnCompleted(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordTurnCompleted(ctx, 1500*time.Millisecond)

	rm := collect(t, reader)

	completed := findMetric(rm, "voxkit.session.turns_completed")
	if completed == nil {
		t.Fatal("voxkit.session.turns_completed not found")
	}
	if sum := completed.Data.(metricdata.Sum[int64]); sum.DataPoints[0].Value != 1 {
		t.Errorf("turns completed: got %d, want 1", sum.DataPoints[0].Value)
	}

	duration := findMetric(rm, "voxkit.session.turn_duration")
	if duration == nil {
		t.Fatal("voxkit.session.turn_duration not found")
	}
	hist, ok := duration.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("unexpected data type %T", duration.Data)
	}
	dp := hist.DataPoints[0]
	if dp.Count != 1 {
		t.Errorf("histogram count: got %d, want 1", dp.Count)
	}
	if dp.Sum < 1.4 || dp.Sum > 1.6 {
		t.Errorf("histogram sum: got %f, want ~1.5", dp.Sum)
	}
}

func TestActiveSessionsGauge(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ActiveSessions.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, -1)

	rm := collect(t, reader)
	active := findMetric(rm, "voxkit.session.active")
	if active == nil {
		t.Fatal("voxkit.session.active not found")
	}
	if sum := active.Data.(metricdata.Sum[int64]); sum.DataPoints[0].Value != 1 {
		t.Errorf("active sessions: got %d, want 1", sum.DataPoints[0].Value)
	}
}
