package memory_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whereissam/walcache/webhook"
	"github.com/whereissam/walcache/webhook/memory"
)

func newEndpoint(id string, createdAt time.Time) webhook.Endpoint {
	return webhook.Endpoint{
		ID:          id,
		URL:         "https://consumer.example.com/hooks",
		Secret:      "a-long-enough-signing-secret",
		EventTypes:  []string{"blob.uploaded"},
		Active:      true,
		RetryPolicy: webhook.DefaultRetryPolicy(),
		CreatedAt:   createdAt,
		UpdatedAt:   createdAt,
	}
}

func newDelivery(id, endpointID string, status webhook.Status, createdAt time.Time) webhook.Delivery {
	return webhook.Delivery{
		ID:         id,
		EndpointID: endpointID,
		EventID:    "evt-" + id,
		EventType:  "blob.uploaded",
		Payload:    []byte(`{}`),
		Status:     status,
		CreatedAt:  createdAt,
		UpdatedAt:  createdAt,
	}
}

func TestRepository_Endpoints(t *testing.T) {
	ctx := context.Background()

	t.Run("create, get, update, delete", func(t *testing.T) {
		repo := memory.NewRepository()

		ep := newEndpoint("ep-1", time.Now())
		require.NoError(t, repo.CreateEndpoint(ctx, ep))

		got, err := repo.GetEndpoint(ctx, "ep-1")
		require.NoError(t, err)
		assert.Equal(t, ep.URL, got.URL)

		ep.Active = false
		require.NoError(t, repo.UpdateEndpoint(ctx, ep))
		got, err = repo.GetEndpoint(ctx, "ep-1")
		require.NoError(t, err)
		assert.False(t, got.Active)

		require.NoError(t, repo.DeleteEndpoint(ctx, "ep-1"))
		_, err = repo.GetEndpoint(ctx, "ep-1")
		assert.ErrorIs(t, err, webhook.ErrEndpointNotFound)
	})

	t.Run("missing endpoint operations return not found", func(t *testing.T) {
		repo := memory.NewRepository()

		_, err := repo.GetEndpoint(ctx, "nope")
		assert.ErrorIs(t, err, webhook.ErrEndpointNotFound)

		assert.ErrorIs(t, repo.UpdateEndpoint(ctx, newEndpoint("nope", time.Now())), webhook.ErrEndpointNotFound)
		assert.ErrorIs(t, repo.DeleteEndpoint(ctx, "nope"), webhook.ErrEndpointNotFound)
	})

	t.Run("list orders by creation time", func(t *testing.T) {
		repo := memory.NewRepository()

		base := time.Now()
		require.NoError(t, repo.CreateEndpoint(ctx, newEndpoint("ep-b", base.Add(time.Second))))
		require.NoError(t, repo.CreateEndpoint(ctx, newEndpoint("ep-a", base)))

		endpoints, err := repo.ListEndpoints(ctx)
		require.NoError(t, err)
		require.Len(t, endpoints, 2)
		assert.Equal(t, "ep-a", endpoints[0].ID)
		assert.Equal(t, "ep-b", endpoints[1].ID)
	})
}

func TestRepository_Deliveries(t *testing.T) {
	ctx := context.Background()

	t.Run("retryable scoped by due time and status", func(t *testing.T) {
		repo := memory.NewRepository()
		now := time.Now()

		due := newDelivery("d-due", "ep-1", webhook.Retrying, now)
		due.NextRetryAt = now.Add(-time.Second)
		require.NoError(t, repo.CreateDelivery(ctx, due))

		future := newDelivery("d-future", "ep-1", webhook.Retrying, now)
		future.NextRetryAt = now.Add(time.Hour)
		require.NoError(t, repo.CreateDelivery(ctx, future))

		require.NoError(t, repo.CreateDelivery(ctx, newDelivery("d-done", "ep-1", webhook.Delivered, now)))

		got, err := repo.ListRetryable(ctx, now)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "d-due", got[0].ID)
	})

	t.Run("list newest first with endpoint scope and limit", func(t *testing.T) {
		repo := memory.NewRepository()
		base := time.Now()

		for i := 0; i < 3; i++ {
			d := newDelivery(fmt.Sprintf("d-%d", i), "ep-1", webhook.Delivered, base.Add(time.Duration(i)*time.Second))
			require.NoError(t, repo.CreateDelivery(ctx, d))
		}
		require.NoError(t, repo.CreateDelivery(ctx, newDelivery("d-other", "ep-2", webhook.Delivered, base)))

		all, err := repo.ListDeliveries(ctx, "", 0)
		require.NoError(t, err)
		assert.Len(t, all, 4)

		scoped, err := repo.ListDeliveries(ctx, "ep-1", 2)
		require.NoError(t, err)
		require.Len(t, scoped, 2)
		assert.Equal(t, "d-2", scoped[0].ID)
		assert.Equal(t, "d-1", scoped[1].ID)
	})

	t.Run("count by status", func(t *testing.T) {
		repo := memory.NewRepository()
		now := time.Now()

		require.NoError(t, repo.CreateDelivery(ctx, newDelivery("d-1", "ep-1", webhook.Delivered, now)))
		require.NoError(t, repo.CreateDelivery(ctx, newDelivery("d-2", "ep-1", webhook.Delivered, now)))
		require.NoError(t, repo.CreateDelivery(ctx, newDelivery("d-3", "ep-1", webhook.Failed, now)))
		require.NoError(t, repo.CreateDelivery(ctx, newDelivery("d-4", "ep-2", webhook.Failed, now)))

		counts, err := repo.CountByStatus(ctx, "ep-1")
		require.NoError(t, err)
		assert.Equal(t, int64(2), counts[webhook.Delivered.String()])
		assert.Equal(t, int64(1), counts[webhook.Failed.String()])

		all, err := repo.CountByStatus(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, int64(2), all[webhook.Failed.String()])
	})

	t.Run("expired deliveries are hidden", func(t *testing.T) {
		repo := memory.NewRepository()
		now := time.Now()

		require.NoError(t, repo.CreateDelivery(ctx, newDelivery("d-ttl", "ep-1", webhook.Delivered, now)))
		require.NoError(t, repo.SetDeliveryTTL(ctx, "d-ttl", time.Nanosecond))

		time.Sleep(time.Millisecond)

		_, err := repo.GetDelivery(ctx, "d-ttl")
		assert.ErrorIs(t, err, webhook.ErrDeliveryNotFound)

		got, err := repo.ListDeliveries(ctx, "", 0)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("TTL on unknown delivery returns not found", func(t *testing.T) {
		repo := memory.NewRepository()
		assert.ErrorIs(t, repo.SetDeliveryTTL(ctx, "nope", time.Hour), webhook.ErrDeliveryNotFound)
	})
}
