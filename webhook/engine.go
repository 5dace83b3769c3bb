package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/whereissam/walcache/webhook/payload"
	"github.com/whereissam/walcache/webhook/signature"
)

/* Engine fans out domain events to subscriber endpoints. Dispatch is
 * fire-and-forget with respect to the event producer: each endpoint gets
 * its own delivery and its own attempt goroutine, so one failing
 * subscriber never affects another.
 */

// EngineConfig holds delivery knobs
type EngineConfig struct {
	// DeliveryTimeout bounds one POST to a subscriber
	DeliveryTimeout time.Duration

	// PollInterval is the cadence of the retry-scanning loop
	PollInterval time.Duration

	// DeliveredTTL is how long delivered records are kept
	DeliveredTTL time.Duration

	// FailedTTL is how long permanently failed records are kept
	FailedTTL time.Duration
}

// DefaultEngineConfig returns the standard delivery knobs
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		DeliveryTimeout: 30 * time.Second,
		PollInterval:    5 * time.Second,
		DeliveredTTL:    time.Hour,
		FailedTTL:       24 * time.Hour,
	}
}

// Stats aggregates delivery counts, optionally scoped to one endpoint
type Stats struct {
	Total       int64            `json:"total"`
	ByStatus    map[string]int64 `json:"by_status"`
	SuccessRate float64          `json:"success_rate"`
}

// rateWindow is the lazily-reset fixed-window counter for one endpoint
type rateWindow struct {
	count   int
	resetAt time.Time
}

type Engine struct {
	repo   Repository
	config EngineConfig
	client *http.Client
	logger *slog.Logger

	ratesMu sync.Mutex
	rates   map[string]*rateWindow

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewEngine creates a delivery engine over the repository
func NewEngine(repo Repository, config EngineConfig, logger *slog.Logger) *Engine {
	if config.DeliveryTimeout <= 0 {
		config.DeliveryTimeout = 30 * time.Second
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 5 * time.Second
	}
	if config.DeliveredTTL <= 0 {
		config.DeliveredTTL = time.Hour
	}
	if config.FailedTTL <= 0 {
		config.FailedTTL = 24 * time.Hour
	}
	return &Engine{
		repo:   repo,
		config: config,
		client: &http.Client{Timeout: config.DeliveryTimeout},
		logger: logger.With("component", "webhook_engine"),
		rates:  make(map[string]*rateWindow),
	}
}

// Register validates and stores a new endpoint registration
func (e *Engine) Register(ctx context.Context, ep Endpoint) (Endpoint, error) {
	if ep.RetryPolicy == (RetryPolicy{}) {
		ep.RetryPolicy = DefaultRetryPolicy()
	}
	if err := ep.Validate(); err != nil {
		return Endpoint{}, fmt.Errorf("validating endpoint: %w", err)
	}
	ep.ID = uuid.New().String()
	ep.CreatedAt = time.Now()
	ep.UpdatedAt = ep.CreatedAt
	if err := e.repo.CreateEndpoint(ctx, ep); err != nil {
		return Endpoint{}, fmt.Errorf("storing endpoint: %w", err)
	}
	return ep, nil
}

// Update overwrites a registration, keeping its identity and creation time
func (e *Engine) Update(ctx context.Context, ep Endpoint) (Endpoint, error) {
	existing, err := e.repo.GetEndpoint(ctx, ep.ID)
	if err != nil {
		return Endpoint{}, err
	}
	if err := ep.Validate(); err != nil {
		return Endpoint{}, fmt.Errorf("validating endpoint: %w", err)
	}
	ep.CreatedAt = existing.CreatedAt
	ep.UpdatedAt = time.Now()
	if err := e.repo.UpdateEndpoint(ctx, ep); err != nil {
		return Endpoint{}, fmt.Errorf("updating endpoint: %w", err)
	}
	return ep, nil
}

// Delete removes a registration and its rate-window counter
func (e *Engine) Delete(ctx context.Context, id string) error {
	if err := e.repo.DeleteEndpoint(ctx, id); err != nil {
		return err
	}
	e.ratesMu.Lock()
	delete(e.rates, id)
	e.ratesMu.Unlock()
	return nil
}

// Get returns one registration
func (e *Engine) Get(ctx context.Context, id string) (Endpoint, error) {
	return e.repo.GetEndpoint(ctx, id)
}

// List returns all registrations
func (e *Engine) List(ctx context.Context) ([]Endpoint, error) {
	return e.repo.ListEndpoints(ctx)
}

// Deliveries returns recent deliveries, optionally scoped to one endpoint
func (e *Engine) Deliveries(ctx context.Context, endpointID string, limit int) ([]Delivery, error) {
	return e.repo.ListDeliveries(ctx, endpointID, limit)
}

// Dispatch fans an event out to every active subscribed endpoint and
// returns the number of deliveries created. Endpoints whose rate window
// is exhausted are skipped, not queued.
func (e *Engine) Dispatch(ctx context.Context, data payload.EventData) (int, error) {
	env, err := payload.New(data)
	if err != nil {
		return 0, err
	}

	body, err := json.Marshal(env)
	if err != nil {
		return 0, fmt.Errorf("marshaling envelope: %w", err)
	}

	endpoints, err := e.repo.ListEndpoints(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing endpoints: %w", err)
	}

	created := 0
	for _, ep := range endpoints {
		if !ep.Active || !ep.SubscribedTo(env.Event) {
			continue
		}
		if !e.allow(ep) {
			e.logger.Info("delivery skipped by rate limit",
				"endpoint_id", ep.ID,
				"event", env.Event,
			)
			continue
		}

		d := Delivery{
			ID:         uuid.New().String(),
			EndpointID: ep.ID,
			EventID:    env.ID,
			EventType:  env.Event,
			Payload:    body,
			Status:     Pending,
			CreatedAt:  time.Now(),
			UpdatedAt:  time.Now(),
		}
		if err := e.repo.CreateDelivery(ctx, d); err != nil {
			e.logger.Error("storing delivery failed",
				"endpoint_id", ep.ID,
				"event", env.Event,
				"error", err,
			)
			continue
		}
		created++

		e.wg.Add(1)
		go func(ep Endpoint, d Delivery) {
			defer e.wg.Done()
			e.attempt(ep, d)
		}(ep, d)
	}

	return created, nil
}

// attempt executes one delivery attempt and books the outcome. Attempts
// never run under the dispatcher's context: shutdown leaves in-flight
// attempts to finish. Only the POST itself runs under the delivery
// timeout; outcome writes get an unexpired context so a subscriber that
// eats the whole budget cannot also strand the status update.
func (e *Engine) attempt(ep Endpoint, d Delivery) {
	ctx := context.Background()

	d.Attempts++
	d.Status = Delivering
	d.UpdatedAt = time.Now()
	if err := e.repo.UpdateDelivery(ctx, d); err != nil {
		e.logger.Error("updating delivery failed", "delivery_id", d.ID, "error", err)
	}

	postCtx, cancel := context.WithTimeout(ctx, e.config.DeliveryTimeout)
	statusCode, respBody, err := e.post(postCtx, ep, d)
	cancel()
	now := time.Now()

	if err == nil && statusCode >= 200 && statusCode < 300 {
		d.Status = Delivered
		d.LastResponse = &ResponseSnapshot{StatusCode: statusCode, Body: respBody, At: now}
		d.UpdatedAt = now
		if err := e.repo.UpdateDelivery(ctx, d); err != nil {
			e.logger.Error("updating delivery failed", "delivery_id", d.ID, "error", err)
		}
		if err := e.repo.SetDeliveryTTL(ctx, d.ID, e.config.DeliveredTTL); err != nil {
			e.logger.Debug("setting delivery TTL failed", "delivery_id", d.ID, "error", err)
		}
		e.recordDelivered(ep)
		e.logger.Debug("webhook delivered",
			"delivery_id", d.ID,
			"endpoint_id", ep.ID,
			"attempts", d.Attempts,
		)
		return
	}

	snapshot := &ResponseSnapshot{StatusCode: statusCode, Body: respBody, At: now}
	if err != nil {
		snapshot.Error = err.Error()
	}
	d.LastResponse = snapshot
	d.UpdatedAt = now

	// Attempt count is capped at maxRetries+1 (the initial try plus retries)
	if d.Attempts >= ep.RetryPolicy.MaxRetries+1 {
		d.Status = Failed
		if err := e.repo.UpdateDelivery(ctx, d); err != nil {
			e.logger.Error("updating delivery failed", "delivery_id", d.ID, "error", err)
		}
		if err := e.repo.SetDeliveryTTL(ctx, d.ID, e.config.FailedTTL); err != nil {
			e.logger.Debug("setting delivery TTL failed", "delivery_id", d.ID, "error", err)
		}
		e.logger.Warn("webhook delivery failed permanently",
			"delivery_id", d.ID,
			"endpoint_id", ep.ID,
			"attempts", d.Attempts,
			"status", statusCode,
			"error", snapshot.Error,
		)
		return
	}

	d.Status = Retrying
	d.NextRetryAt = now.Add(ep.RetryPolicy.Delay(d.Attempts))
	if err := e.repo.UpdateDelivery(ctx, d); err != nil {
		e.logger.Error("updating delivery failed", "delivery_id", d.ID, "error", err)
	}
	e.logger.Debug("webhook delivery scheduled for retry",
		"delivery_id", d.ID,
		"endpoint_id", ep.ID,
		"attempt", d.Attempts,
		"next_retry_at", d.NextRetryAt,
	)
}

// post issues the signed POST to the subscriber
func (e *Engine) post(ctx context.Context, ep Endpoint, d Delivery) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(d.Payload))
	if err != nil {
		return 0, "", fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Signature", signature.Sign(ep.Secret, d.Payload))
	req.Header.Set("X-Event", d.EventType)
	req.Header.Set("X-Delivery-Id", d.ID)
	req.Header.Set("X-Timestamp", strconv.FormatInt(time.Now().Unix(), 10))
	for k, v := range ep.Headers {
		req.Header.Set(k, v)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("posting webhook: %w", err)
	}
	defer resp.Body.Close()

	// Response bodies are kept only as short snapshots
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	return resp.StatusCode, string(body), nil
}

// allow reports whether the endpoint's fixed rate window has room
func (e *Engine) allow(ep Endpoint) bool {
	if ep.RateLimit == nil {
		return true
	}
	e.ratesMu.Lock()
	defer e.ratesMu.Unlock()

	w := e.window(ep)
	return w.count < ep.RateLimit.Requests
}

// recordDelivered counts a successful delivery against the rate window
func (e *Engine) recordDelivered(ep Endpoint) {
	if ep.RateLimit == nil {
		return
	}
	e.ratesMu.Lock()
	defer e.ratesMu.Unlock()

	e.window(ep).count++
}

// window returns the endpoint's counter, lazily reset on expiry.
// Caller holds ratesMu.
func (e *Engine) window(ep Endpoint) *rateWindow {
	w, ok := e.rates[ep.ID]
	if !ok || time.Now().After(w.resetAt) {
		w = &rateWindow{resetAt: time.Now().Add(ep.RateLimit.Window)}
		e.rates[ep.ID] = w
	}
	return w
}

// Start launches the retry-polling loop
func (e *Engine) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ticker := time.NewTicker(e.config.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.retryDue(ctx)
			}
		}
	}()
}

// retryDue re-attempts every delivery whose backoff has elapsed.
// Deliveries for endpoints deactivated in the interim are skipped, not
// cancelled: they come back when the endpoint does.
func (e *Engine) retryDue(ctx context.Context) {
	due, err := e.repo.ListRetryable(ctx, time.Now())
	if err != nil {
		e.logger.Error("listing retryable deliveries failed", "error", err)
		return
	}

	for _, d := range due {
		ep, err := e.repo.GetEndpoint(ctx, d.EndpointID)
		if err != nil {
			e.logger.Debug("skipping retry for missing endpoint",
				"delivery_id", d.ID,
				"endpoint_id", d.EndpointID,
			)
			continue
		}
		if !ep.Active {
			continue
		}

		e.wg.Add(1)
		go func(ep Endpoint, d Delivery) {
			defer e.wg.Done()
			e.attempt(ep, d)
		}(ep, d)
	}
}

// Shutdown stops the retry loop. In-flight attempts are not cancelled.
func (e *Engine) Shutdown() {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
}

// Stats aggregates delivery counts, optionally scoped to one endpoint
func (e *Engine) Stats(ctx context.Context, endpointID string) (Stats, error) {
	counts, err := e.repo.CountByStatus(ctx, endpointID)
	if err != nil {
		return Stats{}, fmt.Errorf("counting deliveries: %w", err)
	}

	var total int64
	for _, n := range counts {
		total += n
	}
	rate := 0.0
	if total > 0 {
		rate = float64(counts[Delivered.String()]) / float64(total)
	}
	return Stats{Total: total, ByStatus: counts, SuccessRate: rate}, nil
}
