// Package observe provides application-wide observability primitives for
// voxquiz: OpenTelemetry metrics, distributed tracing, structured logging,
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

// meterName is the instrumentation scope name used for all voxquiz metrics.
const meterName = "github.com/MrWong99/voxquiz"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// BoundaryDuration tracks round-trip latency to the transcription and
	// intent backend. Use with attribute.String("endpoint", ...).
	BoundaryDuration metric.Float64Histogram

	// MediaFetchDuration tracks how long a media download took.
	MediaFetchDuration metric.Float64Histogram

	// --- Counters ---

	// BoundaryRequests counts backend calls. Use with attributes:
	//   attribute.String("endpoint", ...), attribute.String("status", ...)
	BoundaryRequests metric.Int64Counter

	// Captures counts finished utterances. Use with attribute:
	//   attribute.String("outcome", "accepted" | "misfire" | "truncated")
	Captures metric.Int64Counter

	// CodeChecks counts participant code checks by result status.
	CodeChecks metric.Int64Counter

	// Intents counts answer classifications by result kind.
	Intents metric.Int64Counter

	// Answers counts resolved questions. Use with attributes:
	//   attribute.String("source", "voice" | "touch" | "timeout"), attribute.Bool("correct", ...)
	Answers metric.Int64Counter

	// StaleEvents counts asynchronous results dropped because the session
	// had already moved on. Use with attribute.String("kind", ...).
	StaleEvents metric.Int64Counter

	// Sessions counts session terminations by outcome
	// ("finished" | "rejected" | "aborted").
	Sessions metric.Int64Counter

	// MediaLookups counts media cache requests by result
	// ("hit" | "fetched" | "failed").
	MediaLookups metric.Int64Counter

	// --- Distributions ---

	// FinalScore records the score of every finished session.
	FinalScore metric.Int64Histogram

	// --- Gauges ---

	// ActiveSessions is 1 while a participant is playing, 0 otherwise.
	ActiveSessions metric.Int64UpDownCounter

	// DisplayClients tracks the number of connected display pages.
	DisplayClients metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// backend round trips, which include speech recognition and classification.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5, 8, 15,
}

var scoreBuckets = []float64{0, 1, 2, 3, 4, 5}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.BoundaryDuration, err = m.Float64Histogram("voxquiz.boundary.duration",
		metric.WithDescription("Latency of backend transcription and intent calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.MediaFetchDuration, err = m.Float64Histogram("voxquiz.media.fetch.duration",
		metric.WithDescription("Latency of media downloads into the local cache."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.FinalScore, err = m.Int64Histogram("voxquiz.session.score",
		metric.WithDescription("Final score of finished sessions."),
		metric.WithExplicitBucketBoundaries(scoreBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.BoundaryRequests, err = m.Int64Counter("voxquiz.boundary.requests",
		metric.WithDescription("Total backend requests by endpoint and status."),
	); err != nil {
		return nil, err
	}
	if met.Captures, err = m.Int64Counter("voxquiz.captures",
		metric.WithDescription("Finished speech captures by outcome."),
	); err != nil {
		return nil, err
	}
	if met.CodeChecks, err = m.Int64Counter("voxquiz.code_checks",
		metric.WithDescription("Participant code checks by result status."),
	); err != nil {
		return nil, err
	}
	if met.Intents, err = m.Int64Counter("voxquiz.intents",
		metric.WithDescription("Answer classifications by result kind."),
	); err != nil {
		return nil, err
	}
	if met.Answers, err = m.Int64Counter("voxquiz.answers",
		metric.WithDescription("Resolved questions by input source and correctness."),
	); err != nil {
		return nil, err
	}
	if met.StaleEvents, err = m.Int64Counter("voxquiz.stale_events",
		metric.WithDescription("Asynchronous results dropped after the session moved on."),
	); err != nil {
		return nil, err
	}
	if met.Sessions, err = m.Int64Counter("voxquiz.sessions",
		metric.WithDescription("Session terminations by outcome."),
	); err != nil {
		return nil, err
	}
	if met.MediaLookups, err = m.Int64Counter("voxquiz.media.lookups",
		metric.WithDescription("Media cache requests by result."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("voxquiz.active_sessions",
		metric.WithDescription("Number of sessions currently in progress."),
	); err != nil {
		return nil, err
	}
	if met.DisplayClients, err = m.Int64UpDownCounter("voxquiz.display_clients",
		metric.WithDescription("Number of connected display pages."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("voxquiz.http.request.duration",
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

// RecordBoundaryRequest records one backend call: the request counter and the
// latency histogram, both keyed by endpoint.
func (m *Metrics) RecordBoundaryRequest(ctx context.Context, endpoint, status string, d time.Duration) {
	m.BoundaryRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("endpoint", endpoint),
			attribute.String("status", status),
		),
	)
	m.BoundaryDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("endpoint", endpoint)),
	)
}

// RecordCapture counts a finished capture.
func (m *Metrics) RecordCapture(ctx context.Context, outcome string) {
	m.Captures.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordCodeCheck counts a code check result.
func (m *Metrics) RecordCodeCheck(ctx context.Context, status string) {
	m.CodeChecks.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordIntent counts an answer classification result.
func (m *Metrics) RecordIntent(ctx context.Context, kind string) {
	m.Intents.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordAnswer counts a resolved question.
func (m *Metrics) RecordAnswer(ctx context.Context, source string, correct bool) {
	m.Answers.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("source", source),
			attribute.Bool("correct", correct),
		),
	)
}

// RecordStaleEvent counts a dropped asynchronous result.
func (m *Metrics) RecordStaleEvent(ctx context.Context, kind string) {
	m.StaleEvents.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordSessionEnd counts a session termination and, for finished sessions,
// records the final score.
func (m *Metrics) RecordSessionEnd(ctx context.Context, outcome string, score int) {
	m.Sessions.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	if outcome == "finished" {
		m.FinalScore.Record(ctx, int64(score))
	}
}

// RecordMediaLookup counts a media cache request.
func (m *Metrics) RecordMediaLookup(ctx context.Context, result string) {
	m.MediaLookups.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}
