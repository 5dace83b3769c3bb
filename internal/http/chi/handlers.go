package chi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httplog"

	"github.com/whereissam/walcache/admission"
	"github.com/whereissam/walcache/blob"
	"github.com/whereissam/walcache/upstream"
	"github.com/whereissam/walcache/webhook"
)

// Handlers sets up the gateway API routes
func Handlers(controller *admission.Controller, monitor *upstream.Monitor, coordinator *blob.Coordinator, engine *webhook.Engine, metricsHandler http.Handler) *chi.Mux {
	logger := httplog.NewLogger("walcache", httplog.Options{
		JSON: true,
	})

	r := chi.NewRouter()
	r.Use(httplog.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	if metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", metricsHandler)
	}

	r.Route("/v1", func(r chi.Router) {
		// Blob reads and writes go through admission
		r.Route("/blobs", func(r chi.Router) {
			r.Use(Admission(controller))
			r.Method(http.MethodGet, "/{id}", getBlob(coordinator))
			r.Method(http.MethodPut, "/", putBlob(coordinator))
		})

		r.Method(http.MethodGet, "/status/connections", getConnections(controller))
		r.Method(http.MethodGet, "/status/upstreams", getUpstreams(monitor))
		r.Method(http.MethodPost, "/admin/connections/kill", postKill(controller))

		r.Route("/webhooks", func(r chi.Router) {
			r.Method(http.MethodGet, "/", getEndpoints(engine))
			r.Method(http.MethodPost, "/", postEndpoint(engine))
			r.Method(http.MethodGet, "/events", getEventTypes())
			r.Method(http.MethodGet, "/stats", getStats(engine))
			r.Method(http.MethodGet, "/{id}", getEndpoint(engine))
			r.Method(http.MethodPut, "/{id}", putEndpoint(engine))
			r.Method(http.MethodDelete, "/{id}", deleteEndpoint(engine))
			r.Method(http.MethodGet, "/{id}/stats", getEndpointStats(engine))
			r.Method(http.MethodGet, "/{id}/deliveries", getDeliveries(engine))
		})
	})

	return r
}
