package chi

import (
	"encoding/json"
	"net/http"

	"github.com/whereissam/walcache/admission"
	"github.com/whereissam/walcache/upstream"
)

// killRequest selects connections to terminate; empty fields mean all
type killRequest struct {
	Source string `json:"source,omitempty"`
	ID     string `json:"id,omitempty"`
}

// killResponse reports how many connections were terminated
type killResponse struct {
	Killed int `json:"killed"`
}

// getConnections handles GET /v1/status/connections
func getConnections(controller *admission.Controller) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(controller.Stats()); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	})
}

// getUpstreams handles GET /v1/status/upstreams
func getUpstreams(monitor *upstream.Monitor) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(monitor.Snapshot()); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	})
}

// postKill handles POST /v1/admin/connections/kill
func postKill(controller *admission.Controller) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req killRequest
		if r.Body != nil && r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
		}

		killed := controller.Kill(req.Source, req.ID)

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(killResponse{Killed: killed}); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	})
}
