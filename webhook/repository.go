package webhook

import (
	"context"
	"errors"
	"time"
)

/* Small, focused interfaces following "The Go Way"
 * Interfaces abstract behavior, not things
 * Written for users of the API, not just for testing
 */

// ErrEndpointNotFound is returned for lookups of unregistered endpoints
var ErrEndpointNotFound = errors.New("webhook endpoint not found")

// ErrDeliveryNotFound is returned for lookups of unknown deliveries
var ErrDeliveryNotFound = errors.New("webhook delivery not found")

// EndpointStore provides CRUD over subscriber registrations
type EndpointStore interface {
	CreateEndpoint(ctx context.Context, ep Endpoint) error
	GetEndpoint(ctx context.Context, id string) (Endpoint, error)
	UpdateEndpoint(ctx context.Context, ep Endpoint) error
	DeleteEndpoint(ctx context.Context, id string) error
	ListEndpoints(ctx context.Context) ([]Endpoint, error)
}

// DeliveryStore provides the delivery bookkeeping operations
type DeliveryStore interface {
	CreateDelivery(ctx context.Context, d Delivery) error
	GetDelivery(ctx context.Context, id string) (Delivery, error)
	UpdateDelivery(ctx context.Context, d Delivery) error

	/* ListRetryable returns deliveries in the Retrying state whose
	 * next-retry timestamp has elapsed, oldest first
	 */
	ListRetryable(ctx context.Context, before time.Time) ([]Delivery, error)

	/* ListDeliveries returns recent deliveries, newest first, optionally
	 * scoped to one endpoint (empty endpointID = all)
	 */
	ListDeliveries(ctx context.Context, endpointID string, limit int) ([]Delivery, error)

	// CountByStatus groups delivery counts by status name
	CountByStatus(ctx context.Context, endpointID string) (map[string]int64, error)

	/* SetDeliveryTTL sets an expiration on a terminal delivery
	 * Used to automatically clean up delivered and failed deliveries
	 */
	SetDeliveryTTL(ctx context.Context, id string, ttl time.Duration) error
}

/* Interface composition - combining small interfaces into larger ones
 * This is preferred over large monolithic interfaces
 */
type Repository interface {
	EndpointStore
	DeliveryStore
	Close(ctx context.Context) error
}
