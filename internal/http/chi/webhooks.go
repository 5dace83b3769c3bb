package chi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/whereissam/walcache/webhook"
	"github.com/whereissam/walcache/webhook/payload"
)

/* HTTP layer DTOs for the webhook management API
 * Durations cross the wire as milliseconds; signing secrets are accepted
 * on write and never echoed back.
 */

type retryPolicyDTO struct {
	MaxRetries        int     `json:"max_retries"`
	BackoffMultiplier float64 `json:"backoff_multiplier"`
	InitialDelayMS    int64   `json:"initial_delay_ms"`
}

type rateLimitDTO struct {
	Requests int   `json:"requests"`
	WindowMS int64 `json:"window_ms"`
}

type endpointRequest struct {
	URL         string            `json:"url"`
	Secret      string            `json:"secret"`
	EventTypes  []string          `json:"event_types"`
	Active      *bool             `json:"active"`
	Headers     map[string]string `json:"headers"`
	RetryPolicy *retryPolicyDTO   `json:"retry_policy"`
	RateLimit   *rateLimitDTO     `json:"rate_limit"`
}

type endpointResponse struct {
	ID          string            `json:"id"`
	URL         string            `json:"url"`
	EventTypes  []string          `json:"event_types"`
	Active      bool              `json:"active"`
	Headers     map[string]string `json:"headers,omitempty"`
	RetryPolicy retryPolicyDTO    `json:"retry_policy"`
	RateLimit   *rateLimitDTO     `json:"rate_limit,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

type deliveryResponse struct {
	ID           string                    `json:"id"`
	EndpointID   string                    `json:"endpoint_id"`
	EventID      string                    `json:"event_id"`
	EventType    string                    `json:"event_type"`
	Attempts     int                       `json:"attempts"`
	Status       string                    `json:"status"`
	LastResponse *webhook.ResponseSnapshot `json:"last_response,omitempty"`
	NextRetryAt  *time.Time                `json:"next_retry_at,omitempty"`
	CreatedAt    time.Time                 `json:"created_at"`
}

func (req endpointRequest) toEndpoint() webhook.Endpoint {
	ep := webhook.Endpoint{
		URL:        req.URL,
		Secret:     req.Secret,
		EventTypes: req.EventTypes,
		Active:     true,
		Headers:    req.Headers,
	}
	if req.Active != nil {
		ep.Active = *req.Active
	}
	ep.RetryPolicy = webhook.DefaultRetryPolicy()
	if req.RetryPolicy != nil {
		ep.RetryPolicy = webhook.RetryPolicy{
			MaxRetries:        req.RetryPolicy.MaxRetries,
			BackoffMultiplier: req.RetryPolicy.BackoffMultiplier,
			InitialDelay:      time.Duration(req.RetryPolicy.InitialDelayMS) * time.Millisecond,
		}
	}
	if req.RateLimit != nil {
		ep.RateLimit = &webhook.RateLimit{
			Requests: req.RateLimit.Requests,
			Window:   time.Duration(req.RateLimit.WindowMS) * time.Millisecond,
		}
	}
	return ep
}

func toEndpointResponse(ep webhook.Endpoint) endpointResponse {
	resp := endpointResponse{
		ID:         ep.ID,
		URL:        ep.URL,
		EventTypes: ep.EventTypes,
		Active:     ep.Active,
		Headers:    ep.Headers,
		RetryPolicy: retryPolicyDTO{
			MaxRetries:        ep.RetryPolicy.MaxRetries,
			BackoffMultiplier: ep.RetryPolicy.BackoffMultiplier,
			InitialDelayMS:    ep.RetryPolicy.InitialDelay.Milliseconds(),
		},
		CreatedAt: ep.CreatedAt,
		UpdatedAt: ep.UpdatedAt,
	}
	if ep.RateLimit != nil {
		resp.RateLimit = &rateLimitDTO{
			Requests: ep.RateLimit.Requests,
			WindowMS: ep.RateLimit.Window.Milliseconds(),
		}
	}
	return resp
}

func toDeliveryResponse(d webhook.Delivery) deliveryResponse {
	resp := deliveryResponse{
		ID:           d.ID,
		EndpointID:   d.EndpointID,
		EventID:      d.EventID,
		EventType:    d.EventType,
		Attempts:     d.Attempts,
		Status:       d.Status.String(),
		LastResponse: d.LastResponse,
		CreatedAt:    d.CreatedAt,
	}
	if !d.NextRetryAt.IsZero() {
		t := d.NextRetryAt
		resp.NextRetryAt = &t
	}
	return resp
}

// postEndpoint handles POST /v1/webhooks
func postEndpoint(engine *webhook.Engine) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req endpointRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		ep, err := engine.Register(r.Context(), req.toEndpoint())
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		if err := json.NewEncoder(w).Encode(toEndpointResponse(ep)); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	})
}

// getEndpoints handles GET /v1/webhooks
func getEndpoints(engine *webhook.Engine) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		endpoints, err := engine.List(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		responses := make([]endpointResponse, 0, len(endpoints))
		for _, ep := range endpoints {
			responses = append(responses, toEndpointResponse(ep))
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(responses); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	})
}

// getEndpoint handles GET /v1/webhooks/{id}
func getEndpoint(engine *webhook.Engine) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ep, err := engine.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeEndpointError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(toEndpointResponse(ep)); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	})
}

// putEndpoint handles PUT /v1/webhooks/{id}
func putEndpoint(engine *webhook.Engine) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req endpointRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		ep := req.toEndpoint()
		ep.ID = chi.URLParam(r, "id")

		updated, err := engine.Update(r.Context(), ep)
		if err != nil {
			if errors.Is(err, webhook.ErrEndpointNotFound) {
				http.Error(w, err.Error(), http.StatusNotFound)
				return
			}
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(toEndpointResponse(updated)); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	})
}

// deleteEndpoint handles DELETE /v1/webhooks/{id}
func deleteEndpoint(engine *webhook.Engine) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := engine.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
			writeEndpointError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

// getEndpointStats handles GET /v1/webhooks/{id}/stats
func getEndpointStats(engine *webhook.Engine) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if _, err := engine.Get(r.Context(), id); err != nil {
			writeEndpointError(w, err)
			return
		}

		stats, err := engine.Stats(r.Context(), id)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(stats); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	})
}

// getStats handles GET /v1/webhooks/stats
func getStats(engine *webhook.Engine) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stats, err := engine.Stats(r.Context(), "")
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(stats); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	})
}

// getDeliveries handles GET /v1/webhooks/{id}/deliveries
func getDeliveries(engine *webhook.Engine) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if _, err := engine.Get(r.Context(), id); err != nil {
			writeEndpointError(w, err)
			return
		}

		limit := 50
		if s := r.URL.Query().Get("limit"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n < 1 {
				http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
				return
			}
			limit = n
		}

		deliveries, err := engine.Deliveries(r.Context(), id, limit)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		responses := make([]deliveryResponse, 0, len(deliveries))
		for _, d := range deliveries {
			responses = append(responses, toDeliveryResponse(d))
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(responses); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	})
}

// getEventTypes handles GET /v1/webhooks/events
func getEventTypes() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(map[string][]string{"event_types": payload.EventTypes()}); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	})
}

func writeEndpointError(w http.ResponseWriter, err error) {
	if errors.Is(err, webhook.ErrEndpointNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	http.Error(w, err.Error(), http.StatusInternalServerError)
}
