package metrics

import (
	"context"
	"time"
)

// Metrics represents the current state of the gateway.
type Metrics struct {
	// Connections is a snapshot of the admission state
	Connections ConnectionMetrics `json:"connections"`

	// Upstreams lists the probe outcome for every known upstream endpoint
	Upstreams []UpstreamMetrics `json:"upstreams"`

	// DeliveryCounts maps webhook delivery status name to count
	DeliveryCounts map[string]int64 `json:"delivery_counts"`

	// Timestamp when metrics were collected
	Timestamp time.Time `json:"timestamp"`
}

// ConnectionMetrics represents the admission controller state.
type ConnectionMetrics struct {
	// Active is the number of currently admitted connections
	Active int `json:"active"`

	// Queued is the number of connections waiting for a slot
	Queued int `json:"queued"`

	// MaxConcurrent is the configured global ceiling
	MaxConcurrent int `json:"max_concurrent"`

	// PerSource maps client source to its admitted connection count
	PerSource map[string]int `json:"per_source"`

	// Completed is the total number of connections released so far
	Completed int64 `json:"completed"`

	// SlowRequests counts completed connections over the slow threshold
	SlowRequests int64 `json:"slow_requests"`

	// AverageDuration is the rolling mean of recent connection durations
	AverageDuration time.Duration `json:"average_duration_ns"`
}

// UpstreamMetrics represents the last probe of one upstream endpoint.
type UpstreamMetrics struct {
	// URL is the upstream base URL
	URL string `json:"url"`

	// Role is "aggregator" or "publisher"
	Role string `json:"role"`

	// Reachable is the outcome of the last liveness probe
	Reachable bool `json:"reachable"`

	// Latency is the last probe round-trip time
	Latency time.Duration `json:"latency_ns"`
}

// Collector defines the interface for collecting metrics from the gateway.
type Collector interface {
	// Collect gathers current metrics from the system
	Collect(ctx context.Context) (Metrics, error)

	// GetConnectionMetrics returns the admission controller snapshot
	GetConnectionMetrics(ctx context.Context) (ConnectionMetrics, error)

	// GetUpstreamMetrics returns probe outcomes per upstream endpoint
	GetUpstreamMetrics(ctx context.Context) ([]UpstreamMetrics, error)

	// GetDeliveryCounts returns webhook delivery counts by status
	GetDeliveryCounts(ctx context.Context) (map[string]int64, error)
}
