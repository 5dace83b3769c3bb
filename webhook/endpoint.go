package webhook

import (
	"fmt"
	"math"
	"net/url"
	"time"

	"github.com/whereissam/walcache/webhook/payload"
)

/* Endpoint represents a subscriber registration
 * Uses value semantics as it represents data, not behavior
 */

// MinSecretLength is the minimum accepted signing secret length
const MinSecretLength = 16

// RetryPolicy controls the exponential backoff of failed deliveries
type RetryPolicy struct {
	MaxRetries        int           `json:"max_retries"`
	BackoffMultiplier float64       `json:"backoff_multiplier"`
	InitialDelay      time.Duration `json:"initial_delay"`
}

// DefaultRetryPolicy returns the standard backoff schedule
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:        3,
		BackoffMultiplier: 2.0,
		InitialDelay:      time.Second,
	}
}

// Delay returns the pause before the retry following the given attempt:
// initialDelay x multiplier^(attempt-1)
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return time.Duration(float64(p.InitialDelay) * math.Pow(p.BackoffMultiplier, float64(attempt-1)))
}

// RateLimit is a fixed window ceiling of deliveries per endpoint
type RateLimit struct {
	Requests int           `json:"requests"`
	Window   time.Duration `json:"window"`
}

type Endpoint struct {
	ID          string
	URL         string
	Secret      string
	EventTypes  []string
	Active      bool
	Headers     map[string]string
	RetryPolicy RetryPolicy
	RateLimit   *RateLimit
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Validate checks the registration: well-formed URL, long enough secret,
// and a non-empty set of known event types
func (e *Endpoint) Validate() error {
	u, err := url.Parse(e.URL)
	if err != nil {
		return fmt.Errorf("parsing endpoint URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("endpoint URL scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("endpoint URL host cannot be empty")
	}
	if len(e.Secret) < MinSecretLength {
		return fmt.Errorf("secret must be at least %d characters", MinSecretLength)
	}
	if len(e.EventTypes) == 0 {
		return fmt.Errorf("at least one event type is required")
	}
	for _, et := range e.EventTypes {
		if !payload.KnownEventType(et) {
			return fmt.Errorf("unknown event type: %s", et)
		}
	}
	if e.RetryPolicy.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative")
	}
	if e.RetryPolicy.BackoffMultiplier < 1 {
		return fmt.Errorf("backoff_multiplier must be at least 1")
	}
	if e.RetryPolicy.InitialDelay <= 0 {
		return fmt.Errorf("initial_delay must be positive")
	}
	if e.RateLimit != nil {
		if e.RateLimit.Requests < 1 {
			return fmt.Errorf("rate limit requests must be at least 1")
		}
		if e.RateLimit.Window <= 0 {
			return fmt.Errorf("rate limit window must be positive")
		}
	}
	return nil
}

// SubscribedTo reports whether the endpoint subscribes to the event type
func (e *Endpoint) SubscribedTo(eventType string) bool {
	for _, et := range e.EventTypes {
		if et == eventType {
			return true
		}
	}
	return false
}
