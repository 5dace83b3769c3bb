package upstream_test

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/whereissam/walcache/upstream"
)

func newTestMonitor(t *testing.T, config upstream.EndpointsConfig) *upstream.Monitor {
	t.Helper()
	loader := upstream.NewLoader()
	require.NoError(t, loader.LoadConfig(config))
	return upstream.NewMonitor(loader, upstream.MonitorConfig{
		Interval:     time.Minute,
		ProbeTimeout: 2 * time.Second,
	}, slog.New(slog.NewTextHandler(testWriter{t}, &slog.HandlerOptions{Level: slog.LevelError})))
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func TestCheckAll(t *testing.T) {
	t.Run("records reachable and unreachable endpoints", func(t *testing.T) {
		up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
		defer up.Close()
		down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer down.Close()

		m := newTestMonitor(t, upstream.EndpointsConfig{
			Aggregators: []string{up.URL, down.URL},
			Publishers:  []string{up.URL},
		})
		m.CheckAll(context.Background())

		snap := m.Snapshot()
		require.Len(t, snap.Records, 3)

		byURL := make(map[string]upstream.HealthRecord)
		for _, rec := range snap.Records {
			if rec.Role == "aggregator" {
				byURL[rec.URL] = rec
			}
		}
		assert.True(t, byURL[up.URL].Reachable)
		assert.False(t, byURL[down.URL].Reachable)
		assert.Contains(t, byURL[down.URL].LastError, "unexpected status 500")
		assert.False(t, byURL[up.URL].LastChecked.IsZero())
	})

	t.Run("404 counts as reachable", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		defer srv.Close()

		m := newTestMonitor(t, upstream.EndpointsConfig{
			Aggregators: []string{srv.URL},
			Publishers:  []string{srv.URL},
		})
		m.CheckAll(context.Background())

		best, ok := m.BestEndpoint(upstream.Aggregator)
		require.True(t, ok)
		assert.Equal(t, srv.URL, best)
	})

	t.Run("connection refused recorded as unreachable", func(t *testing.T) {
		m := newTestMonitor(t, upstream.EndpointsConfig{
			Aggregators: []string{"http://127.0.0.1:1"},
			Publishers:  []string{"http://127.0.0.1:1"},
		})
		m.CheckAll(context.Background())

		_, ok := m.BestEndpoint(upstream.Aggregator)
		assert.False(t, ok)

		snap := m.Snapshot()
		assert.Equal(t, 0.0, snap.ReachableRatio)
	})
}

func TestBestEndpoint(t *testing.T) {
	t.Run("single reachable endpoint is always returned", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		m := newTestMonitor(t, upstream.EndpointsConfig{
			Aggregators: []string{srv.URL},
			Publishers:  []string{srv.URL},
		})
		m.CheckAll(context.Background())

		for i := 0; i < 10; i++ {
			best, ok := m.BestEndpoint(upstream.Aggregator)
			require.True(t, ok)
			assert.Equal(t, srv.URL, best)
		}
	})

	t.Run("none reachable returns false", func(t *testing.T) {
		m := newTestMonitor(t, upstream.EndpointsConfig{
			Aggregators: []string{"https://agg1.example.com"},
			Publishers:  []string{"https://pub1.example.com"},
		})
		// No probe has run yet
		_, ok := m.BestEndpoint(upstream.Aggregator)
		assert.False(t, ok)
	})
}

func TestReachableEndpoints(t *testing.T) {
	t.Run("always includes default even when unprobed", func(t *testing.T) {
		m := newTestMonitor(t, upstream.EndpointsConfig{
			Aggregators:       []string{"https://agg1.example.com"},
			Publishers:        []string{"https://pub1.example.com"},
			DefaultAggregator: "https://agg-default.example.com",
		})

		urls := m.ReachableEndpoints(upstream.Aggregator)
		require.Len(t, urls, 1)
		assert.Equal(t, "https://agg-default.example.com", urls[0])
	})

	t.Run("default is not duplicated", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		m := newTestMonitor(t, upstream.EndpointsConfig{
			Aggregators:       []string{srv.URL},
			Publishers:        []string{srv.URL},
			DefaultAggregator: srv.URL,
		})
		m.CheckAll(context.Background())

		urls := m.ReachableEndpoints(upstream.Aggregator)
		require.Len(t, urls, 1)
		assert.Equal(t, srv.URL, urls[0])
	})
}

func TestMonitorStartStop(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := newTestMonitor(t, upstream.EndpointsConfig{
		Aggregators: []string{srv.URL},
		Publishers:  []string{srv.URL},
	})

	m.Start(context.Background())
	defer m.Stop()

	// Start runs the first cycle synchronously
	_, ok := m.BestEndpoint(upstream.Publisher)
	assert.True(t, ok)
}
