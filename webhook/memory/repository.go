package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/whereissam/walcache/webhook"
)

/* In-memory Repository implementation backed by mutex-guarded maps.
 * Suitable for single-instance deployments and tests; gateway restarts
 * drop registrations and delivery history.
 */

type Repository struct {
	mu         sync.RWMutex
	endpoints  map[string]webhook.Endpoint
	deliveries map[string]webhook.Delivery
	expiries   map[string]time.Time
}

// NewRepository creates an empty in-memory store
func NewRepository() *Repository {
	return &Repository{
		endpoints:  make(map[string]webhook.Endpoint),
		deliveries: make(map[string]webhook.Delivery),
		expiries:   make(map[string]time.Time),
	}
}

func (r *Repository) CreateEndpoint(_ context.Context, ep webhook.Endpoint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.endpoints[ep.ID] = ep
	return nil
}

func (r *Repository) GetEndpoint(_ context.Context, id string) (webhook.Endpoint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ep, ok := r.endpoints[id]
	if !ok {
		return webhook.Endpoint{}, webhook.ErrEndpointNotFound
	}
	return ep, nil
}

func (r *Repository) UpdateEndpoint(_ context.Context, ep webhook.Endpoint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.endpoints[ep.ID]; !ok {
		return webhook.ErrEndpointNotFound
	}
	r.endpoints[ep.ID] = ep
	return nil
}

func (r *Repository) DeleteEndpoint(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.endpoints[id]; !ok {
		return webhook.ErrEndpointNotFound
	}
	delete(r.endpoints, id)
	return nil
}

func (r *Repository) ListEndpoints(_ context.Context) ([]webhook.Endpoint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]webhook.Endpoint, 0, len(r.endpoints))
	for _, ep := range r.endpoints {
		out = append(out, ep)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *Repository) CreateDelivery(_ context.Context, d webhook.Delivery) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deliveries[d.ID] = d
	return nil
}

func (r *Repository) GetDelivery(_ context.Context, id string) (webhook.Delivery, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.deliveries[id]
	if !ok || r.expired(id) {
		return webhook.Delivery{}, webhook.ErrDeliveryNotFound
	}
	return d, nil
}

func (r *Repository) UpdateDelivery(_ context.Context, d webhook.Delivery) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.deliveries[d.ID]; !ok {
		return webhook.ErrDeliveryNotFound
	}
	r.deliveries[d.ID] = d
	return nil
}

func (r *Repository) ListRetryable(_ context.Context, before time.Time) ([]webhook.Delivery, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []webhook.Delivery
	for id, d := range r.deliveries {
		if r.expired(id) {
			continue
		}
		if d.Status == webhook.Retrying && !d.NextRetryAt.After(before) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextRetryAt.Before(out[j].NextRetryAt) })
	return out, nil
}

func (r *Repository) ListDeliveries(_ context.Context, endpointID string, limit int) ([]webhook.Delivery, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []webhook.Delivery
	for id, d := range r.deliveries {
		if r.expired(id) {
			continue
		}
		if endpointID != "" && d.EndpointID != endpointID {
			continue
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *Repository) CountByStatus(_ context.Context, endpointID string) (map[string]int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	counts := make(map[string]int64)
	for id, d := range r.deliveries {
		if r.expired(id) {
			continue
		}
		if endpointID != "" && d.EndpointID != endpointID {
			continue
		}
		counts[d.Status.String()]++
	}
	return counts, nil
}

func (r *Repository) SetDeliveryTTL(_ context.Context, id string, ttl time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.deliveries[id]; !ok {
		return webhook.ErrDeliveryNotFound
	}
	r.expiries[id] = time.Now().Add(ttl)
	return nil
}

func (r *Repository) Close(_ context.Context) error {
	return nil
}

// expired reports whether a delivery's TTL has lapsed; lapsed records
// stay in the map but are hidden from reads. Caller holds the lock.
func (r *Repository) expired(id string) bool {
	exp, ok := r.expiries[id]
	return ok && time.Now().After(exp)
}
