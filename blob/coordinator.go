package blob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/whereissam/walcache/upstream"
)

/* Coordinator retrieves blobs from the healthiest aggregator, failing over
 * across all reachable candidates and optionally a secondary content
 * network. Candidate iteration is strictly sequential so a degraded
 * upstream is never amplified with parallel reads.
 */

// Source identifies which network satisfied a fetch
type Source string

const (
	SourcePrimary   Source = "primary network"
	SourceSecondary Source = "secondary network"
)

// FetchResult is the immutable outcome of a successful fetch
type FetchResult struct {
	ID          string
	Data        []byte
	ContentType string
	Size        int64
	Source      Source
}

// PublishResult is the normalized outcome of a publish, covering both the
// newly-stored and already-certified upstream response shapes
type PublishResult struct {
	BlobID           string
	ObjectID         string
	TxDigest         string
	AlreadyCertified bool
}

// Config holds coordinator knobs
type Config struct {
	// FallbackEnabled turns the secondary content network on
	FallbackEnabled bool

	// FallbackGateway is the secondary network base URL, e.g. an IPFS gateway
	FallbackGateway string

	// FetchTimeout bounds a single read against one candidate
	FetchTimeout time.Duration

	// PublishTimeout bounds a publish call
	PublishTimeout time.Duration

	// RateLimit is the ceiling of upstream requests per minute (0 = 600)
	RateLimit int
}

// DefaultConfig returns standard timeouts and pacing
func DefaultConfig() Config {
	return Config{
		FetchTimeout:   15 * time.Second,
		PublishTimeout: 30 * time.Second,
		RateLimit:      600,
	}
}

type Coordinator struct {
	monitor *upstream.Monitor
	config  Config
	client  *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewCoordinator creates a retrieval coordinator over the health monitor
func NewCoordinator(monitor *upstream.Monitor, config Config, logger *slog.Logger) *Coordinator {
	if config.FetchTimeout <= 0 {
		config.FetchTimeout = 15 * time.Second
	}
	if config.PublishTimeout <= 0 {
		config.PublishTimeout = 30 * time.Second
	}
	rateLimit := config.RateLimit
	if rateLimit <= 0 {
		rateLimit = 600
	}
	return &Coordinator{
		monitor: monitor,
		config:  config,
		client:  &http.Client{},
		limiter: rate.NewLimiter(rate.Limit(float64(rateLimit)/60.0), rateLimit/10+1),
		logger:  logger.With("component", "blob_coordinator"),
	}
}

// Fetch validates the identifier, then tries every reachable aggregator in
// latency order. A 404 moves on to the next candidate; only after every
// primary candidate and the secondary network are exhausted does the fetch
// fail with ErrNotAvailable.
func (c *Coordinator) Fetch(ctx context.Context, id string) (*FetchResult, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}

	candidates := c.monitor.ReachableEndpoints(upstream.Aggregator)
	for _, endpoint := range candidates {
		result, err := c.tryFetch(ctx, endpoint, id)
		if err == nil {
			return result, nil
		}
		if err == errBlobNotFound {
			c.logger.Debug("blob not found on candidate", "endpoint", endpoint, "blob_id", id)
			continue
		}
		c.logger.Warn("candidate fetch failed", "endpoint", endpoint, "blob_id", id, "error", err)
	}

	if c.config.FallbackEnabled && c.config.FallbackGateway != "" {
		result, err := c.tryFallback(ctx, id)
		if err == nil {
			return result, nil
		}
		c.logger.Warn("secondary network fetch failed", "blob_id", id, "error", err)
	}

	return nil, fmt.Errorf("blob %s: %w", id, ErrNotAvailable)
}

// errBlobNotFound is internal control flow for candidate iteration only
var errBlobNotFound = fmt.Errorf("blob not found")

func (c *Coordinator) tryFetch(ctx context.Context, endpoint, id string) (*FetchResult, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.config.FetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodGet, endpoint+"/v1/blobs/"+id, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching blob: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, errBlobNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading blob body: %w", err)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	return &FetchResult{
		ID:          id,
		Data:        data,
		ContentType: contentType,
		Size:        int64(len(data)),
		Source:      SourcePrimary,
	}, nil
}

func (c *Coordinator) tryFallback(ctx context.Context, id string) (*FetchResult, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.config.FetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodGet, c.config.FallbackGateway+"/"+id, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching from secondary network: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading blob body: %w", err)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	return &FetchResult{
		ID:          id,
		Data:        data,
		ContentType: contentType,
		Size:        int64(len(data)),
		Source:      SourceSecondary,
	}, nil
}

// FetchWithRetry wraps Fetch, retrying only on ErrNotAvailable with a fixed
// interval between attempts. Any other error propagates immediately.
func (c *Coordinator) FetchWithRetry(ctx context.Context, id string, maxAttempts int, interval time.Duration) (*FetchResult, error) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result, err := c.Fetch(ctx, id)
		if err == nil {
			return result, nil
		}
		if !errors.Is(err, ErrNotAvailable) {
			return nil, err
		}
		lastErr = err

		if attempt < maxAttempts {
			c.logger.Debug("blob not yet available, retrying",
				"blob_id", id,
				"attempt", attempt,
				"max_attempts", maxAttempts,
			)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(interval):
			}
		}
	}

	return nil, fmt.Errorf("blob %s after %d attempts: %w (last: %v)", id, maxAttempts, ErrRetriesExhausted, lastErr)
}

// WaitForSync polls a lightweight existence probe until the blob is
// reported available or the attempt budget runs out. It never errors.
func (c *Coordinator) WaitForSync(ctx context.Context, id string, maxAttempts int, delay time.Duration) bool {
	if ValidateID(id) != nil {
		return false
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if c.exists(ctx, id) {
			return true
		}
		if attempt < maxAttempts {
			select {
			case <-ctx.Done():
				return false
			case <-time.After(delay):
			}
		}
	}
	return false
}

func (c *Coordinator) exists(ctx context.Context, id string) bool {
	endpoint, ok := c.monitor.BestEndpoint(upstream.Publisher)
	if !ok {
		endpoints := c.monitor.ReachableEndpoints(upstream.Publisher)
		if len(endpoints) == 0 {
			return false
		}
		endpoint = endpoints[len(endpoints)-1]
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return false
	}

	callCtx, cancel := context.WithTimeout(ctx, c.config.FetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodHead, endpoint+"/v1/blobs/"+id, nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

/* Upstream publish response shapes:
 * {"newlyCreated":{"blobObject":{"blobId":"...","id":"..."}}}
 * {"alreadyCertified":{"blobId":"...","event":{"txDigest":"..."}}}
 */
type publishResponse struct {
	NewlyCreated *struct {
		BlobObject struct {
			BlobID string `json:"blobId"`
			ID     string `json:"id"`
		} `json:"blobObject"`
	} `json:"newlyCreated"`
	AlreadyCertified *struct {
		BlobID string `json:"blobId"`
		Event  struct {
			TxDigest string `json:"txDigest"`
		} `json:"event"`
	} `json:"alreadyCertified"`
}

// Publish stores a blob through the best publisher endpoint and normalizes
// the two success shapes into a single PublishResult.
func (c *Coordinator) Publish(ctx context.Context, data []byte, contentType string, epochs int) (*PublishResult, error) {
	endpoint, ok := c.monitor.BestEndpoint(upstream.Publisher)
	if !ok {
		endpoints := c.monitor.ReachableEndpoints(upstream.Publisher)
		if len(endpoints) == 0 {
			return nil, fmt.Errorf("no publisher endpoint available")
		}
		endpoint = endpoints[len(endpoints)-1]
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.config.PublishTimeout)
	defer cancel()

	url := endpoint + "/v1/blobs"
	if epochs > 0 {
		url = fmt.Sprintf("%s?epochs=%d", url, epochs)
	}

	req, err := http.NewRequestWithContext(callCtx, http.MethodPut, url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("publishing blob: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading publish response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &PublishError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var parsed publishResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("parsing publish response: %w", err)
	}

	switch {
	case parsed.NewlyCreated != nil:
		return &PublishResult{
			BlobID:   parsed.NewlyCreated.BlobObject.BlobID,
			ObjectID: parsed.NewlyCreated.BlobObject.ID,
		}, nil
	case parsed.AlreadyCertified != nil:
		return &PublishResult{
			BlobID:           parsed.AlreadyCertified.BlobID,
			TxDigest:         parsed.AlreadyCertified.Event.TxDigest,
			AlreadyCertified: true,
		}, nil
	default:
		return nil, fmt.Errorf("unrecognized publish response shape: %s", string(body))
	}
}
