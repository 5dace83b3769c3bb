package webhook_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whereissam/walcache/webhook"
	"github.com/whereissam/walcache/webhook/memory"
	"github.com/whereissam/walcache/webhook/payload"
	"github.com/whereissam/walcache/webhook/signature"
)

func newEngine(t *testing.T, repo webhook.Repository) *webhook.Engine {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return webhook.NewEngine(repo, webhook.EngineConfig{
		DeliveryTimeout: 2 * time.Second,
		PollInterval:    20 * time.Millisecond,
	}, logger)
}

// registerTestEndpoint registers a subscriber pointed at url with a fast
// retry schedule so whole delivery lifecycles fit in a test run.
func registerTestEndpoint(t *testing.T, e *webhook.Engine, url string, maxRetries int, eventTypes ...string) webhook.Endpoint {
	t.Helper()
	if len(eventTypes) == 0 {
		eventTypes = []string{"blob.uploaded"}
	}
	ep, err := e.Register(context.Background(), webhook.Endpoint{
		URL:        url,
		Secret:     "a-long-enough-signing-secret",
		EventTypes: eventTypes,
		Active:     true,
		RetryPolicy: webhook.RetryPolicy{
			MaxRetries:        maxRetries,
			BackoffMultiplier: 2.0,
			InitialDelay:      10 * time.Millisecond,
		},
	})
	require.NoError(t, err)
	return ep
}

func waitForDelivery(t *testing.T, repo webhook.Repository, endpointID string, status webhook.Status) webhook.Delivery {
	t.Helper()
	var found webhook.Delivery
	require.Eventually(t, func() bool {
		deliveries, err := repo.ListDeliveries(context.Background(), endpointID, 0)
		if err != nil {
			return false
		}
		for _, d := range deliveries {
			if d.Status == status {
				found = d
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)
	return found
}

func TestEngine_Register(t *testing.T) {
	repo := memory.NewRepository()
	e := newEngine(t, repo)

	t.Run("assigns identity and default policy", func(t *testing.T) {
		ep, err := e.Register(context.Background(), webhook.Endpoint{
			URL:        "https://consumer.example.com/hooks",
			Secret:     "a-long-enough-signing-secret",
			EventTypes: []string{"blob.uploaded"},
			Active:     true,
		})
		require.NoError(t, err)

		assert.NotEmpty(t, ep.ID)
		assert.Equal(t, webhook.DefaultRetryPolicy(), ep.RetryPolicy)
		assert.False(t, ep.CreatedAt.IsZero())
	})

	t.Run("rejects invalid registration", func(t *testing.T) {
		_, err := e.Register(context.Background(), webhook.Endpoint{
			URL:        "https://consumer.example.com/hooks",
			Secret:     "short",
			EventTypes: []string{"blob.uploaded"},
		})
		assert.Error(t, err)
	})
}

func TestEngine_Update(t *testing.T) {
	repo := memory.NewRepository()
	e := newEngine(t, repo)

	ep := registerTestEndpoint(t, e, "https://consumer.example.com/hooks", 1)

	t.Run("keeps identity and creation time", func(t *testing.T) {
		updated := ep
		updated.Active = false
		got, err := e.Update(context.Background(), updated)
		require.NoError(t, err)

		assert.Equal(t, ep.ID, got.ID)
		assert.Equal(t, ep.CreatedAt, got.CreatedAt)
		assert.False(t, got.Active)
	})

	t.Run("unknown endpoint", func(t *testing.T) {
		missing := ep
		missing.ID = "nope"
		_, err := e.Update(context.Background(), missing)
		assert.ErrorIs(t, err, webhook.ErrEndpointNotFound)
	})
}

func TestEngine_Dispatch(t *testing.T) {
	t.Run("delivers signed envelope to subscriber", func(t *testing.T) {
		repo := memory.NewRepository()
		e := newEngine(t, repo)

		var gotSig, gotEvent, gotDeliveryID, gotCustom atomic.Value
		var gotBody atomic.Value
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, _ := io.ReadAll(r.Body)
			gotBody.Store(body)
			gotSig.Store(r.Header.Get("X-Signature"))
			gotEvent.Store(r.Header.Get("X-Event"))
			gotDeliveryID.Store(r.Header.Get("X-Delivery-Id"))
			gotCustom.Store(r.Header.Get("X-Tenant"))
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		ep, err := e.Register(context.Background(), webhook.Endpoint{
			URL:         server.URL,
			Secret:      "a-long-enough-signing-secret",
			EventTypes:  []string{"blob.uploaded"},
			Active:      true,
			Headers:     map[string]string{"X-Tenant": "acme"},
			RetryPolicy: webhook.DefaultRetryPolicy(),
		})
		require.NoError(t, err)

		created, err := e.Dispatch(context.Background(), payload.BlobUploaded{BlobID: "abc123", Size: 42})
		require.NoError(t, err)
		assert.Equal(t, 1, created)

		d := waitForDelivery(t, repo, ep.ID, webhook.Delivered)
		assert.Equal(t, 1, d.Attempts)
		require.NotNil(t, d.LastResponse)
		assert.Equal(t, http.StatusOK, d.LastResponse.StatusCode)

		// The signature must verify against the delivered body
		ok, err := signature.Verify("a-long-enough-signing-secret", gotBody.Load().([]byte), gotSig.Load().(string))
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "blob.uploaded", gotEvent.Load().(string))
		assert.Equal(t, d.ID, gotDeliveryID.Load().(string))
		assert.Equal(t, "acme", gotCustom.Load().(string))

		env, err := payload.Parse(gotBody.Load().([]byte))
		require.NoError(t, err)
		assert.Equal(t, "blob.uploaded", env.Event)
	})

	t.Run("skips inactive and unsubscribed endpoints", func(t *testing.T) {
		repo := memory.NewRepository()
		e := newEngine(t, repo)

		inactive := registerTestEndpoint(t, e, "https://consumer.example.com/a", 0)
		inactive.Active = false
		_, err := e.Update(context.Background(), inactive)
		require.NoError(t, err)

		registerTestEndpoint(t, e, "https://consumer.example.com/b", 0, "cache.evicted")

		created, err := e.Dispatch(context.Background(), payload.BlobUploaded{BlobID: "abc123"})
		require.NoError(t, err)
		assert.Equal(t, 0, created)
	})

	t.Run("invalid event data rejected before fan-out", func(t *testing.T) {
		repo := memory.NewRepository()
		e := newEngine(t, repo)

		_, err := e.Dispatch(context.Background(), payload.BlobUploaded{})
		assert.Error(t, err)
	})
}

func TestEngine_Retries(t *testing.T) {
	t.Run("failing endpoint exhausts attempts then fails permanently", func(t *testing.T) {
		repo := memory.NewRepository()
		e := newEngine(t, repo)

		var hits atomic.Int64
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		e.Start(ctx)
		defer e.Shutdown()

		ep := registerTestEndpoint(t, e, server.URL, 2)

		_, err := e.Dispatch(context.Background(), payload.BlobUploaded{BlobID: "abc123"})
		require.NoError(t, err)

		d := waitForDelivery(t, repo, ep.ID, webhook.Failed)
		// Initial attempt plus maxRetries retries
		assert.Equal(t, 3, d.Attempts)
		assert.EqualValues(t, 3, hits.Load())
		require.NotNil(t, d.LastResponse)
		assert.Equal(t, http.StatusInternalServerError, d.LastResponse.StatusCode)
	})

	t.Run("recovering endpoint ends delivered", func(t *testing.T) {
		repo := memory.NewRepository()
		e := newEngine(t, repo)

		var hits atomic.Int64
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if hits.Add(1) < 3 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		e.Start(ctx)
		defer e.Shutdown()

		ep := registerTestEndpoint(t, e, server.URL, 5)

		_, err := e.Dispatch(context.Background(), payload.BlobUploaded{BlobID: "abc123"})
		require.NoError(t, err)

		d := waitForDelivery(t, repo, ep.ID, webhook.Delivered)
		assert.Equal(t, 3, d.Attempts)
	})

	t.Run("one failing endpoint never blocks another", func(t *testing.T) {
		repo := memory.NewRepository()
		e := newEngine(t, repo)

		failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer failing.Close()
		healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
		defer healthy.Close()

		registerTestEndpoint(t, e, failing.URL, 5)
		healthyEP := registerTestEndpoint(t, e, healthy.URL, 0)

		created, err := e.Dispatch(context.Background(), payload.BlobUploaded{BlobID: "abc123"})
		require.NoError(t, err)
		assert.Equal(t, 2, created)

		d := waitForDelivery(t, repo, healthyEP.ID, webhook.Delivered)
		assert.Equal(t, 1, d.Attempts)
	})

	t.Run("retries pause while endpoint is deactivated", func(t *testing.T) {
		repo := memory.NewRepository()
		e := newEngine(t, repo)

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		e.Start(ctx)
		defer e.Shutdown()

		ep := registerTestEndpoint(t, e, server.URL, 10)

		_, err := e.Dispatch(context.Background(), payload.BlobUploaded{BlobID: "abc123"})
		require.NoError(t, err)

		d := waitForDelivery(t, repo, ep.ID, webhook.Retrying)

		ep.Active = false
		_, err = e.Update(context.Background(), ep)
		require.NoError(t, err)

		attemptsAtPause := d.Attempts
		time.Sleep(150 * time.Millisecond)

		got, err := repo.GetDelivery(context.Background(), d.ID)
		require.NoError(t, err)
		assert.Equal(t, webhook.Retrying, got.Status)
		assert.LessOrEqual(t, got.Attempts, attemptsAtPause+1)
	})
}

// strictContextRepo behaves like a store that honors request contexts:
// any write against an expired context is rejected.
type strictContextRepo struct {
	webhook.Repository
}

func (r strictContextRepo) UpdateDelivery(ctx context.Context, d webhook.Delivery) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.Repository.UpdateDelivery(ctx, d)
}

func (r strictContextRepo) SetDeliveryTTL(ctx context.Context, id string, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.Repository.SetDeliveryTTL(ctx, id, ttl)
}

func TestEngine_SlowSubscriberStillBooksOutcome(t *testing.T) {
	// A subscriber that eats the whole delivery budget must not leave the
	// record stuck in Delivering: outcome writes have to land even after
	// the attempt's timeout elapsed, or the retry scan never sees it again.
	repo := strictContextRepo{Repository: memory.NewRepository()}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	e := webhook.NewEngine(repo, webhook.EngineConfig{
		DeliveryTimeout: 50 * time.Millisecond,
		PollInterval:    time.Hour,
	}, logger)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	ep := registerTestEndpoint(t, e, server.URL, 3)

	_, err := e.Dispatch(context.Background(), payload.BlobUploaded{BlobID: "abc123"})
	require.NoError(t, err)

	d := waitForDelivery(t, repo, ep.ID, webhook.Retrying)
	assert.Equal(t, 1, d.Attempts)
	require.NotNil(t, d.LastResponse)
	assert.NotEmpty(t, d.LastResponse.Error)
}

func TestEngine_RateLimit(t *testing.T) {
	repo := memory.NewRepository()
	e := newEngine(t, repo)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	ep, err := e.Register(context.Background(), webhook.Endpoint{
		URL:         server.URL,
		Secret:      "a-long-enough-signing-secret",
		EventTypes:  []string{"blob.uploaded"},
		Active:      true,
		RetryPolicy: webhook.DefaultRetryPolicy(),
		RateLimit:   &webhook.RateLimit{Requests: 1, Window: time.Hour},
	})
	require.NoError(t, err)

	created, err := e.Dispatch(context.Background(), payload.BlobUploaded{BlobID: "abc123"})
	require.NoError(t, err)
	assert.Equal(t, 1, created)

	waitForDelivery(t, repo, ep.ID, webhook.Delivered)

	// Window is spent, further dispatches skip the endpoint
	created, err = e.Dispatch(context.Background(), payload.BlobUploaded{BlobID: "abc123"})
	require.NoError(t, err)
	assert.Equal(t, 0, created)
}

func TestEngine_Stats(t *testing.T) {
	repo := memory.NewRepository()
	e := newEngine(t, repo)

	success := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer success.Close()

	ep := registerTestEndpoint(t, e, success.URL, 0)

	for i := 0; i < 3; i++ {
		_, err := e.Dispatch(context.Background(), payload.BlobUploaded{BlobID: "abc123"})
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		stats, err := e.Stats(context.Background(), ep.ID)
		return err == nil && stats.ByStatus[webhook.Delivered.String()] == 3
	}, 5*time.Second, 10*time.Millisecond)

	stats, err := e.Stats(context.Background(), ep.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Total)
	assert.InDelta(t, 1.0, stats.SuccessRate, 0.001)
}
