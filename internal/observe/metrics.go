// Package observe provides observability primitives for the voxkit client:
// OpenTelemetry metrics and the provider setup that bridges them to a
// Prometheus /metrics endpoint.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A package-level
// default [Metrics] instance ([DefaultMetrics]) is provided for convenience;
// tests should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all voxkit metrics.
const meterName = "github.com/voxkit/voxkit"

// Metrics holds all OpenTelemetry metric instruments for the client.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Counters ---

	// FramesSent counts audio frames transmitted to the service.
	FramesSent metric.Int64Counter

	// FramesDropped counts frames discarded because the link was down.
	FramesDropped metric.Int64Counter

	// ChunksScheduled counts synthesized-audio chunks queued for playback.
	ChunksScheduled metric.Int64Counter

	// ChunksRejected counts inbound chunks dropped as malformed.
	ChunksRejected metric.Int64Counter

	// PlaybackFlushes counts playback flushes. Use with attribute:
	//   attribute.String("reason", ...): "barge_in", "service_stop", "shutdown"
	PlaybackFlushes metric.Int64Counter

	// BargeIns counts user interruptions of an in-progress response.
	BargeIns metric.Int64Counter

	// TurnsCompleted counts conversation turns that reached their terminal
	// response.
	TurnsCompleted metric.Int64Counter

	// TurnsFailed counts turns abandoned after a service error.
	TurnsFailed metric.Int64Counter

	// Reconnects counts transport reconnection attempts.
	Reconnects metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live voice sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- Histograms ---

	// TurnDuration tracks end-of-utterance to terminal-response latency.
	TurnDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// full conversation turns rather than single pipeline stages.
var latencyBuckets = []float64{
	0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.FramesSent, err = m.Int64Counter("voxkit.frames.sent",
		metric.WithDescription("Audio frames transmitted to the voice service."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("voxkit.frames.dropped",
		metric.WithDescription("Audio frames discarded while the link was down."),
	); err != nil {
		return nil, err
	}
	if met.ChunksScheduled, err = m.Int64Counter("voxkit.playback.chunks_scheduled",
		metric.WithDescription("Synthesized audio chunks queued for playback."),
	); err != nil {
		return nil, err
	}
	if met.ChunksRejected, err = m.Int64Counter("voxkit.playback.chunks_rejected",
		metric.WithDescription("Inbound audio chunks dropped as malformed."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackFlushes, err = m.Int64Counter("voxkit.playback.flushes",
		metric.WithDescription("Playback flushes by reason."),
	); err != nil {
		return nil, err
	}
	if met.BargeIns, err = m.Int64Counter("voxkit.session.barge_ins",
		metric.WithDescription("User interruptions of an in-progress response."),
	); err != nil {
		return nil, err
	}
	if met.TurnsCompleted, err = m.Int64Counter("voxkit.session.turns_completed",
		metric.WithDescription("Conversation turns that reached their terminal response."),
	); err != nil {
		return nil, err
	}
	if met.TurnsFailed, err = m.Int64Counter("voxkit.session.turns_failed",
		metric.WithDescription("Conversation turns abandoned after a service error."),
	); err != nil {
		return nil, err
	}
	if met.Reconnects, err = m.Int64Counter("voxkit.transport.reconnects",
		metric.WithDescription("Transport reconnection attempts."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("voxkit.session.active",
		metric.WithDescription("Live voice sessions."),
	); err != nil {
		return nil, err
	}
	if met.TurnDuration, err = m.Float64Histogram("voxkit.session.turn_duration",
		metric.WithDescription("End-of-utterance to terminal-response latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance backed by the
// global OTel meter provider, creating it on first call.
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

// RecordFlush is a convenience method that records a playback flush with its
// reason attribute.
func (m *Metrics) RecordFlush(ctx context.Context, reason string) {
	m.PlaybackFlushes.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}

// RecordTurnCompleted records a completed turn and its duration.
func (m *Metrics) RecordTurnCompleted(ctx context.Context, d time.Duration) {
	m.TurnsCompleted.Add(ctx, 1)
	m.TurnDuration.Record(ctx, d.Seconds())
}
