// Package observe provides application-wide observability primitives for
// wicara: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
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
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all wicara metrics.
const meterName = "github.com/MrWong99/wicara"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Capture path ---

	// FramesSent counts captured frames handed to the live transport.
	FramesSent metric.Int64Counter

	// FramesDropped counts captured frames discarded under backpressure. Use
	// with attribute.String("reason", "not_ready"|"queue_full").
	FramesDropped metric.Int64Counter

	// --- Playback path ---

	// DecodeErrors counts inbound audio frames dropped as malformed.
	DecodeErrors metric.Int64Counter

	// PlaybackScheduled counts buffers placed on the speaker timeline.
	PlaybackScheduled metric.Int64Counter

	// PlaybackUnderruns counts buffers that arrived after the previous one had
	// finished playing.
	PlaybackUnderruns metric.Int64Counter

	// PlaybackAhead tracks how much audio is queued in front of the playback
	// clock after each schedule.
	PlaybackAhead metric.Float64Histogram

	// PlaybackFlushes counts flushes. Use with attribute.String("reason", ...).
	PlaybackFlushes metric.Int64Counter

	// --- Session ---

	// SessionTransitions counts state machine transitions. Use with
	// attribute.String("from", ...), attribute.String("to", ...).
	SessionTransitions metric.Int64Counter

	// ActiveSessions tracks the number of live practice sessions.
	ActiveSessions metric.Int64UpDownCounter

	// TranscriptTurns counts finalized turns. Use with attribute.String("speaker", ...).
	TranscriptTurns metric.Int64Counter

	// --- Providers ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderDuration tracks provider call latency by provider and kind.
	ProviderDuration metric.Float64Histogram

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// generation and synthesis calls, which run from sub-second to tens of seconds.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 40,
}

// aheadBuckets defines bucket boundaries (in seconds) for queued playback.
var aheadBuckets = []float64{
	0.02, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Capture.
	if met.FramesSent, err = m.Int64Counter("wicara.audio.frames.sent",
		metric.WithDescription("Captured audio frames sent to the live transport."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("wicara.audio.frames.dropped",
		metric.WithDescription("Captured audio frames dropped by reason."),
	); err != nil {
		return nil, err
	}

	// Playback.
	if met.DecodeErrors, err = m.Int64Counter("wicara.audio.decode.errors",
		metric.WithDescription("Inbound audio frames dropped as malformed."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackScheduled, err = m.Int64Counter("wicara.playback.scheduled",
		metric.WithDescription("Audio buffers scheduled for playback."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackUnderruns, err = m.Int64Counter("wicara.playback.underruns",
		metric.WithDescription("Buffers that arrived after playback had run dry."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackAhead, err = m.Float64Histogram("wicara.playback.ahead",
		metric.WithDescription("Audio queued ahead of the playback clock."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(aheadBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PlaybackFlushes, err = m.Int64Counter("wicara.playback.flushes",
		metric.WithDescription("Playback flushes by reason."),
	); err != nil {
		return nil, err
	}

	// Session.
	if met.SessionTransitions, err = m.Int64Counter("wicara.session.transitions",
		metric.WithDescription("Session state transitions by source and target state."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("wicara.session.active",
		metric.WithDescription("Number of live practice sessions."),
	); err != nil {
		return nil, err
	}
	if met.TranscriptTurns, err = m.Int64Counter("wicara.transcript.turns",
		metric.WithDescription("Finalized conversation turns by speaker."),
	); err != nil {
		return nil, err
	}

	// Providers.
	if met.ProviderRequests, err = m.Int64Counter("wicara.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderDuration, err = m.Float64Histogram("wicara.provider.duration",
		metric.WithDescription("Latency of provider calls by provider and kind."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("wicara.http.request.duration",
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

// RecordProviderCall records one provider request with its outcome and
// latency.
func (m *Metrics) RecordProviderCall(ctx context.Context, provider, kind string, took time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
	m.ProviderDuration.Record(ctx, took.Seconds(),
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordFrameDropped records one discarded capture frame.
func (m *Metrics) RecordFrameDropped(ctx context.Context, reason string) {
	m.FramesDropped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordScheduled records one scheduled playback buffer.
func (m *Metrics) RecordScheduled(ctx context.Context, ahead time.Duration, underrun bool) {
	m.PlaybackScheduled.Add(ctx, 1)
	m.PlaybackAhead.Record(ctx, ahead.Seconds())
	if underrun {
		m.PlaybackUnderruns.Add(ctx, 1)
	}
}

// RecordFlush records one playback flush.
func (m *Metrics) RecordFlush(ctx context.Context, reason string) {
	m.PlaybackFlushes.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordTransition records one session state transition.
func (m *Metrics) RecordTransition(ctx context.Context, from, to string) {
	m.SessionTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("from", from),
			attribute.String("to", to),
		),
	)
}

// RecordTurn records one finalized transcript turn.
func (m *Metrics) RecordTurn(ctx context.Context, speaker string) {
	m.TranscriptTurns.Add(ctx, 1, metric.WithAttributes(attribute.String("speaker", speaker)))
}
