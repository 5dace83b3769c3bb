package webhook

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// deleteOnlyRepo is the minimal store surface Delete touches
type deleteOnlyRepo struct {
	Repository
}

func (deleteOnlyRepo) DeleteEndpoint(ctx context.Context, id string) error { return nil }

func TestDeleteDropsRateWindow(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	e := NewEngine(deleteOnlyRepo{}, DefaultEngineConfig(), logger)

	ep := Endpoint{ID: "ep-1", RateLimit: &RateLimit{Requests: 1, Window: time.Hour}}
	e.recordDelivered(ep)
	require.False(t, e.allow(ep), "window is spent before the delete")

	require.NoError(t, e.Delete(context.Background(), ep.ID))

	e.ratesMu.Lock()
	_, kept := e.rates[ep.ID]
	e.ratesMu.Unlock()
	assert.False(t, kept, "deleting the endpoint drops its rate window")
	assert.True(t, e.allow(ep))
}
