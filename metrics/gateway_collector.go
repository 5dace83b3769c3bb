package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/whereissam/walcache/admission"
	"github.com/whereissam/walcache/upstream"
)

// DeliveryCounter provides delivery counts grouped by status name
type DeliveryCounter interface {
	CountByStatus(ctx context.Context, endpointID string) (map[string]int64, error)
}

// GatewayCollector implements the Collector interface over the live
// gateway components
type GatewayCollector struct {
	controller *admission.Controller
	monitor    *upstream.Monitor
	deliveries DeliveryCounter
}

// NewGatewayCollector creates a collector over the admission controller,
// the health monitor, and the webhook delivery store
func NewGatewayCollector(controller *admission.Controller, monitor *upstream.Monitor, deliveries DeliveryCounter) *GatewayCollector {
	return &GatewayCollector{
		controller: controller,
		monitor:    monitor,
		deliveries: deliveries,
	}
}

// Collect gathers all metrics from the gateway
func (c *GatewayCollector) Collect(ctx context.Context) (Metrics, error) {
	connections, err := c.GetConnectionMetrics(ctx)
	if err != nil {
		return Metrics{}, fmt.Errorf("getting connection metrics: %w", err)
	}

	upstreams, err := c.GetUpstreamMetrics(ctx)
	if err != nil {
		return Metrics{}, fmt.Errorf("getting upstream metrics: %w", err)
	}

	deliveryCounts, err := c.GetDeliveryCounts(ctx)
	if err != nil {
		return Metrics{}, fmt.Errorf("getting delivery counts: %w", err)
	}

	return Metrics{
		Connections:    connections,
		Upstreams:      upstreams,
		DeliveryCounts: deliveryCounts,
		Timestamp:      time.Now(),
	}, nil
}

// GetConnectionMetrics returns the admission controller snapshot
func (c *GatewayCollector) GetConnectionMetrics(_ context.Context) (ConnectionMetrics, error) {
	stats := c.controller.Stats()
	return ConnectionMetrics{
		Active:          stats.Active,
		Queued:          stats.Queued,
		MaxConcurrent:   stats.MaxConcurrent,
		PerSource:       stats.PerSource,
		Completed:       stats.Completed,
		SlowRequests:    stats.SlowRequests,
		AverageDuration: stats.AverageDuration,
	}, nil
}

// GetUpstreamMetrics returns probe outcomes per upstream endpoint
func (c *GatewayCollector) GetUpstreamMetrics(_ context.Context) ([]UpstreamMetrics, error) {
	snapshot := c.monitor.Snapshot()
	out := make([]UpstreamMetrics, 0, len(snapshot.Records))
	for _, rec := range snapshot.Records {
		out = append(out, UpstreamMetrics{
			URL:       rec.URL,
			Role:      rec.Role,
			Reachable: rec.Reachable,
			Latency:   rec.Latency,
		})
	}
	return out, nil
}

// GetDeliveryCounts returns webhook delivery counts by status
func (c *GatewayCollector) GetDeliveryCounts(ctx context.Context) (map[string]int64, error) {
	if c.deliveries == nil {
		return map[string]int64{}, nil
	}
	counts, err := c.deliveries.CountByStatus(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("counting deliveries: %w", err)
	}
	return counts, nil
}
