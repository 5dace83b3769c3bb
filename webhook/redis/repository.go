package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/whereissam/walcache/webhook"
)

/* Redis implementation of webhook.Repository
 * Uses Redis Hashes for endpoint and delivery records, a set for the
 * endpoint index, and sorted sets for the retry schedule and the
 * recency listing. Delivery TTLs map directly onto key expiry.
 */

const (
	endpointPrefix   = "webhook:endpoint"   // Hash naming: webhook:endpoint:{id}
	endpointIndexKey = "webhook:endpoints"  // Set of registered endpoint IDs
	deliveryPrefix   = "webhook:delivery"   // Hash naming: webhook:delivery:{id}
	retryScheduleKey = "webhook:retry"      // Sorted set scored by next-retry time
	recentPrefix     = "webhook:deliveries" // Sorted sets scored by creation time
)

type Repository struct {
	client *redis.Client
}

// NewRepository creates a new Redis repository
func NewRepository(addr, password string, db int) (*Repository, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to Redis: %w", err)
	}

	return &Repository{
		client: client,
	}, nil
}

func (r *Repository) CreateEndpoint(ctx context.Context, ep webhook.Endpoint) error {
	if err := r.writeEndpoint(ctx, ep); err != nil {
		return err
	}
	if err := r.client.SAdd(ctx, endpointIndexKey, ep.ID).Err(); err != nil {
		return fmt.Errorf("indexing endpoint: %w", err)
	}
	return nil
}

func (r *Repository) GetEndpoint(ctx context.Context, id string) (webhook.Endpoint, error) {
	data, err := r.client.HGetAll(ctx, endpointKey(id)).Result()
	if err != nil {
		return webhook.Endpoint{}, fmt.Errorf("getting endpoint: %w", err)
	}
	if len(data) == 0 {
		return webhook.Endpoint{}, webhook.ErrEndpointNotFound
	}
	return parseEndpoint(data)
}

func (r *Repository) UpdateEndpoint(ctx context.Context, ep webhook.Endpoint) error {
	exists, err := r.client.Exists(ctx, endpointKey(ep.ID)).Result()
	if err != nil {
		return fmt.Errorf("checking endpoint: %w", err)
	}
	if exists == 0 {
		return webhook.ErrEndpointNotFound
	}
	return r.writeEndpoint(ctx, ep)
}

func (r *Repository) DeleteEndpoint(ctx context.Context, id string) error {
	deleted, err := r.client.Del(ctx, endpointKey(id)).Result()
	if err != nil {
		return fmt.Errorf("deleting endpoint: %w", err)
	}
	if deleted == 0 {
		return webhook.ErrEndpointNotFound
	}
	r.client.SRem(ctx, endpointIndexKey, id)
	return nil
}

func (r *Repository) ListEndpoints(ctx context.Context) ([]webhook.Endpoint, error) {
	ids, err := r.client.SMembers(ctx, endpointIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("listing endpoints: %w", err)
	}

	out := make([]webhook.Endpoint, 0, len(ids))
	for _, id := range ids {
		ep, err := r.GetEndpoint(ctx, id)
		if err != nil {
			// Index entries can outlive their hashes
			continue
		}
		out = append(out, ep)
	}
	return out, nil
}

func (r *Repository) CreateDelivery(ctx context.Context, d webhook.Delivery) error {
	if err := r.writeDelivery(ctx, d); err != nil {
		return err
	}

	score := float64(d.CreatedAt.UnixNano())
	if err := r.client.ZAdd(ctx, recentKey(""), redis.Z{Score: score, Member: d.ID}).Err(); err != nil {
		return fmt.Errorf("indexing delivery: %w", err)
	}
	if err := r.client.ZAdd(ctx, recentKey(d.EndpointID), redis.Z{Score: score, Member: d.ID}).Err(); err != nil {
		return fmt.Errorf("indexing delivery by endpoint: %w", err)
	}
	return nil
}

func (r *Repository) GetDelivery(ctx context.Context, id string) (webhook.Delivery, error) {
	data, err := r.client.HGetAll(ctx, deliveryKey(id)).Result()
	if err != nil {
		return webhook.Delivery{}, fmt.Errorf("getting delivery: %w", err)
	}
	if len(data) == 0 {
		return webhook.Delivery{}, webhook.ErrDeliveryNotFound
	}
	return parseDelivery(data)
}

func (r *Repository) UpdateDelivery(ctx context.Context, d webhook.Delivery) error {
	exists, err := r.client.Exists(ctx, deliveryKey(d.ID)).Result()
	if err != nil {
		return fmt.Errorf("checking delivery: %w", err)
	}
	if exists == 0 {
		return webhook.ErrDeliveryNotFound
	}
	if err := r.writeDelivery(ctx, d); err != nil {
		return err
	}

	// Keep the retry schedule in step with the status
	if d.Status == webhook.Retrying {
		err = r.client.ZAdd(ctx, retryScheduleKey, redis.Z{
			Score:  float64(d.NextRetryAt.UnixNano()),
			Member: d.ID,
		}).Err()
		if err != nil {
			return fmt.Errorf("scheduling retry: %w", err)
		}
	} else {
		r.client.ZRem(ctx, retryScheduleKey, d.ID)
	}
	return nil
}

func (r *Repository) ListRetryable(ctx context.Context, before time.Time) ([]webhook.Delivery, error) {
	ids, err := r.client.ZRangeByScore(ctx, retryScheduleKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(before.UnixNano(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("listing retryable deliveries: %w", err)
	}

	var out []webhook.Delivery
	for _, id := range ids {
		d, err := r.GetDelivery(ctx, id)
		if err != nil {
			// Expired under the scheduler's feet
			r.client.ZRem(ctx, retryScheduleKey, id)
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

func (r *Repository) ListDeliveries(ctx context.Context, endpointID string, limit int) ([]webhook.Delivery, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	ids, err := r.client.ZRevRange(ctx, recentKey(endpointID), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("listing deliveries: %w", err)
	}

	var out []webhook.Delivery
	for _, id := range ids {
		d, err := r.GetDelivery(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

func (r *Repository) CountByStatus(ctx context.Context, endpointID string) (map[string]int64, error) {
	ids, err := r.client.ZRange(ctx, recentKey(endpointID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("counting deliveries: %w", err)
	}

	counts := make(map[string]int64)
	for _, id := range ids {
		status, err := r.client.HGet(ctx, deliveryKey(id), "status").Result()
		if err != nil {
			continue
		}
		counts[status]++
	}
	return counts, nil
}

func (r *Repository) SetDeliveryTTL(ctx context.Context, id string, ttl time.Duration) error {
	if err := r.client.Expire(ctx, deliveryKey(id), ttl).Err(); err != nil {
		return fmt.Errorf("setting TTL on delivery: %w", err)
	}
	return nil
}

// Close closes the Redis connection
func (r *Repository) Close(ctx context.Context) error {
	return r.client.Close()
}

// GetClient returns the underlying Redis client for advanced operations
func (r *Repository) GetClient() *redis.Client {
	return r.client
}

func (r *Repository) writeEndpoint(ctx context.Context, ep webhook.Endpoint) error {
	eventTypesJSON, err := json.Marshal(ep.EventTypes)
	if err != nil {
		return fmt.Errorf("marshaling event types: %w", err)
	}
	headersJSON, err := json.Marshal(ep.Headers)
	if err != nil {
		return fmt.Errorf("marshaling headers: %w", err)
	}
	retryJSON, err := json.Marshal(ep.RetryPolicy)
	if err != nil {
		return fmt.Errorf("marshaling retry policy: %w", err)
	}
	rateLimitJSON := ""
	if ep.RateLimit != nil {
		b, err := json.Marshal(ep.RateLimit)
		if err != nil {
			return fmt.Errorf("marshaling rate limit: %w", err)
		}
		rateLimitJSON = string(b)
	}

	err = r.client.HSet(ctx, endpointKey(ep.ID), map[string]interface{}{
		"id":           ep.ID,
		"url":          ep.URL,
		"secret":       ep.Secret,
		"event_types":  string(eventTypesJSON),
		"active":       strconv.FormatBool(ep.Active),
		"headers":      string(headersJSON),
		"retry_policy": string(retryJSON),
		"rate_limit":   rateLimitJSON,
		"created_at":   ep.CreatedAt.UnixNano(),
		"updated_at":   ep.UpdatedAt.UnixNano(),
	}).Err()
	if err != nil {
		return fmt.Errorf("storing endpoint: %w", err)
	}
	return nil
}

func (r *Repository) writeDelivery(ctx context.Context, d webhook.Delivery) error {
	lastResponseJSON := ""
	if d.LastResponse != nil {
		b, err := json.Marshal(d.LastResponse)
		if err != nil {
			return fmt.Errorf("marshaling response snapshot: %w", err)
		}
		lastResponseJSON = string(b)
	}

	err := r.client.HSet(ctx, deliveryKey(d.ID), map[string]interface{}{
		"id":            d.ID,
		"endpoint_id":   d.EndpointID,
		"event_id":      d.EventID,
		"event_type":    d.EventType,
		"payload":       d.Payload,
		"attempts":      d.Attempts,
		"status":        d.Status.String(),
		"last_response": lastResponseJSON,
		"next_retry_at": d.NextRetryAt.UnixNano(),
		"created_at":    d.CreatedAt.UnixNano(),
		"updated_at":    d.UpdatedAt.UnixNano(),
	}).Err()
	if err != nil {
		return fmt.Errorf("storing delivery: %w", err)
	}
	return nil
}

// Helper functions

func endpointKey(id string) string {
	return fmt.Sprintf("%s:%s", endpointPrefix, id)
}

func deliveryKey(id string) string {
	return fmt.Sprintf("%s:%s", deliveryPrefix, id)
}

func recentKey(endpointID string) string {
	if endpointID == "" {
		return fmt.Sprintf("%s:all", recentPrefix)
	}
	return fmt.Sprintf("%s:%s", recentPrefix, endpointID)
}

func parseEndpoint(data map[string]string) (webhook.Endpoint, error) {
	ep := webhook.Endpoint{
		ID:        data["id"],
		URL:       data["url"],
		Secret:    data["secret"],
		Active:    data["active"] == "true",
		CreatedAt: time.Unix(0, parseInt64(data["created_at"])),
		UpdatedAt: time.Unix(0, parseInt64(data["updated_at"])),
	}
	if s := data["event_types"]; s != "" {
		if err := json.Unmarshal([]byte(s), &ep.EventTypes); err != nil {
			return webhook.Endpoint{}, fmt.Errorf("unmarshaling event types: %w", err)
		}
	}
	if s := data["headers"]; s != "" {
		if err := json.Unmarshal([]byte(s), &ep.Headers); err != nil {
			return webhook.Endpoint{}, fmt.Errorf("unmarshaling headers: %w", err)
		}
	}
	if s := data["retry_policy"]; s != "" {
		if err := json.Unmarshal([]byte(s), &ep.RetryPolicy); err != nil {
			return webhook.Endpoint{}, fmt.Errorf("unmarshaling retry policy: %w", err)
		}
	}
	if s := data["rate_limit"]; s != "" {
		ep.RateLimit = &webhook.RateLimit{}
		if err := json.Unmarshal([]byte(s), ep.RateLimit); err != nil {
			return webhook.Endpoint{}, fmt.Errorf("unmarshaling rate limit: %w", err)
		}
	}
	return ep, nil
}

func parseDelivery(data map[string]string) (webhook.Delivery, error) {
	d := webhook.Delivery{
		ID:         data["id"],
		EndpointID: data["endpoint_id"],
		EventID:    data["event_id"],
		EventType:  data["event_type"],
		Payload:    []byte(data["payload"]),
		Attempts:   int(parseInt64(data["attempts"])),
		Status:     webhook.NewStatus(data["status"]),
		CreatedAt:  time.Unix(0, parseInt64(data["created_at"])),
		UpdatedAt:  time.Unix(0, parseInt64(data["updated_at"])),
	}
	if n := parseInt64(data["next_retry_at"]); n != 0 {
		d.NextRetryAt = time.Unix(0, n)
	}
	if s := data["last_response"]; s != "" {
		d.LastResponse = &webhook.ResponseSnapshot{}
		if err := json.Unmarshal([]byte(s), d.LastResponse); err != nil {
			return webhook.Delivery{}, fmt.Errorf("unmarshaling response snapshot: %w", err)
		}
	}
	return d, nil
}

func parseInt64(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}
