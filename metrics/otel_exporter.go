package metrics

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// OTelExporter provides OpenTelemetry metrics export following OTel standards
type OTelExporter struct {
	meterProvider *sdkmetric.MeterProvider
	collector     Collector

	// OTel meters and instruments
	meter                metric.Meter
	activeGauge          metric.Int64ObservableGauge
	queuedGauge          metric.Int64ObservableGauge
	perSourceGauge       metric.Int64ObservableGauge
	completedCounter     metric.Int64ObservableCounter
	slowCounter          metric.Int64ObservableCounter
	upstreamReachable    metric.Int64ObservableGauge
	upstreamLatencyGauge metric.Float64ObservableGauge
	deliveryStatusGauge  metric.Int64ObservableGauge
}

// NewOTelExporter creates a new OpenTelemetry metrics exporter with Prometheus format
func NewOTelExporter(collector Collector) (*OTelExporter, error) {
	// Create Prometheus exporter
	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("creating prometheus exporter: %w", err)
	}

	// Create meter provider
	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
	)
	otel.SetMeterProvider(meterProvider)

	// Create meter with service info
	meter := meterProvider.Meter(
		"walcache",
		metric.WithInstrumentationVersion("1.0.0"),
	)

	oe := &OTelExporter{
		meterProvider: meterProvider,
		collector:     collector,
		meter:         meter,
	}

	// Register metrics instruments
	if err := oe.registerInstruments(); err != nil {
		return nil, fmt.Errorf("registering instruments: %w", err)
	}

	return oe, nil
}

// registerInstruments creates and registers all OpenTelemetry metric instruments
func (oe *OTelExporter) registerInstruments() error {
	var err error

	oe.activeGauge, err = oe.meter.Int64ObservableGauge(
		"gateway.connections.active",
		metric.WithDescription("Number of currently admitted connections"),
		metric.WithUnit("{connections}"),
		metric.WithInt64Callback(oe.observeActive),
	)
	if err != nil {
		return fmt.Errorf("creating active connections gauge: %w", err)
	}

	oe.queuedGauge, err = oe.meter.Int64ObservableGauge(
		"gateway.connections.queued",
		metric.WithDescription("Number of connections waiting for a slot"),
		metric.WithUnit("{connections}"),
		metric.WithInt64Callback(oe.observeQueued),
	)
	if err != nil {
		return fmt.Errorf("creating queued connections gauge: %w", err)
	}

	oe.perSourceGauge, err = oe.meter.Int64ObservableGauge(
		"gateway.connections.per_source",
		metric.WithDescription("Number of admitted connections per client source"),
		metric.WithUnit("{connections}"),
		metric.WithInt64Callback(oe.observePerSource),
	)
	if err != nil {
		return fmt.Errorf("creating per-source gauge: %w", err)
	}

	oe.completedCounter, err = oe.meter.Int64ObservableCounter(
		"gateway.connections.completed",
		metric.WithDescription("Total connections released since start"),
		metric.WithUnit("{connections}"),
		metric.WithInt64Callback(oe.observeCompleted),
	)
	if err != nil {
		return fmt.Errorf("creating completed counter: %w", err)
	}

	oe.slowCounter, err = oe.meter.Int64ObservableCounter(
		"gateway.connections.slow",
		metric.WithDescription("Completed connections over the slow threshold"),
		metric.WithUnit("{connections}"),
		metric.WithInt64Callback(oe.observeSlow),
	)
	if err != nil {
		return fmt.Errorf("creating slow counter: %w", err)
	}

	oe.upstreamReachable, err = oe.meter.Int64ObservableGauge(
		"gateway.upstream.reachable",
		metric.WithDescription("Whether the last liveness probe of the upstream succeeded"),
		metric.WithInt64Callback(oe.observeUpstreamReachable),
	)
	if err != nil {
		return fmt.Errorf("creating upstream reachable gauge: %w", err)
	}

	oe.upstreamLatencyGauge, err = oe.meter.Float64ObservableGauge(
		"gateway.upstream.latency",
		metric.WithDescription("Last probe round-trip time per upstream"),
		metric.WithUnit("ms"),
		metric.WithFloat64Callback(oe.observeUpstreamLatency),
	)
	if err != nil {
		return fmt.Errorf("creating upstream latency gauge: %w", err)
	}

	oe.deliveryStatusGauge, err = oe.meter.Int64ObservableGauge(
		"gateway.webhook.deliveries",
		metric.WithDescription("Number of webhook deliveries by status"),
		metric.WithUnit("{deliveries}"),
		metric.WithInt64Callback(oe.observeDeliveryCounts),
	)
	if err != nil {
		return fmt.Errorf("creating delivery status gauge: %w", err)
	}

	return nil
}

// observeActive reports the number of admitted connections
func (oe *OTelExporter) observeActive(ctx context.Context, observer metric.Int64Observer) error {
	connections, err := oe.collector.GetConnectionMetrics(ctx)
	if err != nil {
		return err
	}
	observer.Observe(int64(connections.Active))
	return nil
}

// observeQueued reports the number of queued connections
func (oe *OTelExporter) observeQueued(ctx context.Context, observer metric.Int64Observer) error {
	connections, err := oe.collector.GetConnectionMetrics(ctx)
	if err != nil {
		return err
	}
	observer.Observe(int64(connections.Queued))
	return nil
}

// observePerSource reports admitted connections per client source
func (oe *OTelExporter) observePerSource(ctx context.Context, observer metric.Int64Observer) error {
	connections, err := oe.collector.GetConnectionMetrics(ctx)
	if err != nil {
		return err
	}
	for source, count := range connections.PerSource {
		observer.Observe(int64(count), metric.WithAttributes(
			attribute.String("source", source),
		))
	}
	return nil
}

// observeCompleted reports total released connections
func (oe *OTelExporter) observeCompleted(ctx context.Context, observer metric.Int64Observer) error {
	connections, err := oe.collector.GetConnectionMetrics(ctx)
	if err != nil {
		return err
	}
	observer.Observe(connections.Completed)
	return nil
}

// observeSlow reports slow completed connections
func (oe *OTelExporter) observeSlow(ctx context.Context, observer metric.Int64Observer) error {
	connections, err := oe.collector.GetConnectionMetrics(ctx)
	if err != nil {
		return err
	}
	observer.Observe(connections.SlowRequests)
	return nil
}

// observeUpstreamReachable reports probe outcomes per upstream
func (oe *OTelExporter) observeUpstreamReachable(ctx context.Context, observer metric.Int64Observer) error {
	upstreams, err := oe.collector.GetUpstreamMetrics(ctx)
	if err != nil {
		return err
	}
	for _, u := range upstreams {
		var v int64
		if u.Reachable {
			v = 1
		}
		observer.Observe(v, metric.WithAttributes(
			attribute.String("upstream.url", u.URL),
			attribute.String("upstream.role", u.Role),
		))
	}
	return nil
}

// observeUpstreamLatency reports probe latency per upstream
func (oe *OTelExporter) observeUpstreamLatency(ctx context.Context, observer metric.Float64Observer) error {
	upstreams, err := oe.collector.GetUpstreamMetrics(ctx)
	if err != nil {
		return err
	}
	for _, u := range upstreams {
		if !u.Reachable {
			continue
		}
		observer.Observe(float64(u.Latency.Milliseconds()), metric.WithAttributes(
			attribute.String("upstream.url", u.URL),
			attribute.String("upstream.role", u.Role),
		))
	}
	return nil
}

// observeDeliveryCounts reports webhook delivery counts by status
func (oe *OTelExporter) observeDeliveryCounts(ctx context.Context, observer metric.Int64Observer) error {
	counts, err := oe.collector.GetDeliveryCounts(ctx)
	if err != nil {
		return err
	}
	for status, count := range counts {
		observer.Observe(count, metric.WithAttributes(
			attribute.String("delivery.status", status),
		))
	}
	return nil
}

// ServeHTTP serves Prometheus-formatted metrics on the given HTTP handler
func (oe *OTelExporter) ServeHTTP() http.Handler {
	return promhttp.Handler()
}

// Shutdown gracefully shuts down the meter provider
func (oe *OTelExporter) Shutdown(ctx context.Context) error {
	if oe.meterProvider != nil {
		return oe.meterProvider.Shutdown(ctx)
	}
	return nil
}
