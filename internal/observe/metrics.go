// Package observe carries the observability layer: OpenTelemetry metrics,
// tracing with correlation IDs, slog integration, and the HTTP middleware
// that ties them together.
//
// Metrics flow through the OTel Metrics API and reach Prometheus via the
// exporter installed by [InitProvider], so the usual /metrics scrape keeps
// working. [DefaultMetrics] serves production code; tests should build their
// own instance with [NewMetrics] and a private [metric.MeterProvider].
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope for every instrument below.
const meterName = "github.com/joffreyzhang/kurangame"

// Metrics bundles the application's metric instruments. All fields are safe
// for concurrent use.
type Metrics struct {
	// Latency histograms, one per pipeline stage.
	ActionDuration   metric.Float64Histogram // player action, receipt to final state update
	LLMDuration      metric.Float64Histogram // LLM inference
	ImageDuration    metric.Float64Histogram // image synthesis per asset
	WorldGenDuration metric.Float64Histogram // full world generation per ingest task

	// ProviderRequests counts provider API calls, attributed by provider,
	// kind, and status.
	ProviderRequests metric.Int64Counter

	// ActionsProcessed counts player actions, attributed by mode
	// ("buffered"|"live") and status.
	ActionsProcessed metric.Int64Counter

	// MissionEvents counts mission lifecycle transitions, attributed by
	// event ("generated"|"submitted"|"completed"|"failed"|"abandoned").
	MissionEvents metric.Int64Counter

	// ProviderErrors counts provider failures by provider and kind.
	ProviderErrors metric.Int64Counter

	// Live population gauges.
	ActiveSessions metric.Int64UpDownCounter
	ActiveStreams  metric.Int64UpDownCounter
	ActiveTasks    metric.Int64UpDownCounter

	// HTTPRequestDuration tracks request latency by method and path; the
	// middleware records it.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are histogram boundaries in seconds. LLM and image calls
// routinely run for multiple seconds, so the tail reaches two minutes.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120,
}

// NewMetrics registers every instrument on the given provider. The first
// failed registration aborts construction.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(meterName)
	var firstErr error

	stageHist := func(name, desc string) metric.Float64Histogram {
		h, err := meter.Float64Histogram(name,
			metric.WithDescription(desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		return h
	}
	counter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		if err != nil && firstErr == nil {
			firstErr = err
		}
		return c
	}
	gauge := func(name, desc string) metric.Int64UpDownCounter {
		g, err := meter.Int64UpDownCounter(name, metric.WithDescription(desc))
		if err != nil && firstErr == nil {
			firstErr = err
		}
		return g
	}

	met := &Metrics{
		ActionDuration:   stageHist("kurangame.action.duration", "End-to-end player action processing latency."),
		LLMDuration:      stageHist("kurangame.llm.duration", "Latency of LLM inference."),
		ImageDuration:    stageHist("kurangame.image.duration", "Latency of image synthesis per asset."),
		WorldGenDuration: stageHist("kurangame.worldgen.duration", "Full world-generation latency for an ingest task."),

		ProviderRequests: counter("kurangame.provider.requests", "Total provider API requests by provider, kind, and status."),
		ActionsProcessed: counter("kurangame.actions.processed", "Total player actions by mode and status."),
		MissionEvents:    counter("kurangame.mission.events", "Total mission lifecycle events by event type."),
		ProviderErrors:   counter("kurangame.provider.errors", "Total provider errors by provider and kind."),

		ActiveSessions: gauge("kurangame.active_sessions", "Number of live game sessions."),
		ActiveStreams:  gauge("kurangame.active_streams", "Number of open SSE streams."),
		ActiveTasks:    gauge("kurangame.active_tasks", "Number of ingest tasks currently processing."),
	}

	httpHist, err := meter.Float64Histogram("kurangame.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	)
	if err != nil && firstErr == nil {
		firstErr = err
	}
	met.HTTPRequestDuration = httpHist

	if firstErr != nil {
		return nil, firstErr
	}
	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the shared [Metrics] instance, built on first call
// from [otel.GetMeterProvider]. Panics if instrument registration fails,
// which the global provider never does.
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

// Attr is shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest increments ProviderRequests with the standard
// attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordAction increments ActionsProcessed for one handled player action.
func (m *Metrics) RecordAction(ctx context.Context, mode, status string) {
	m.ActionsProcessed.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("mode", mode),
			attribute.String("status", status),
		),
	)
}

// RecordMissionEvent increments MissionEvents for one lifecycle transition.
func (m *Metrics) RecordMissionEvent(ctx context.Context, event string) {
	m.MissionEvents.Add(ctx, 1,
		metric.WithAttributes(attribute.String("event", event)),
	)
}

// RecordProviderError increments ProviderErrors for one failed provider call.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}
