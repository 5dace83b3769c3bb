package chi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/whereissam/walcache/blob"
)

/* HTTP layer DTOs for the blob API
 * Separate from domain entities to avoid leaking internal structure
 */

// publishResponse represents the API response after publishing a blob
type publishResponse struct {
	BlobID           string `json:"blob_id"`
	ObjectID         string `json:"object_id,omitempty"`
	TxDigest         string `json:"tx_digest,omitempty"`
	AlreadyCertified bool   `json:"already_certified"`
}

// getBlob handles GET /v1/blobs/{id}
func getBlob(coordinator *blob.Coordinator) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		result, err := coordinator.Fetch(r.Context(), id)
		if err != nil {
			var verr *blob.ValidationError
			switch {
			case errors.As(err, &verr):
				http.Error(w, err.Error(), http.StatusBadRequest)
			case errors.Is(err, blob.ErrNotAvailable):
				http.Error(w, err.Error(), http.StatusNotFound)
			default:
				http.Error(w, err.Error(), http.StatusBadGateway)
			}
			return
		}

		contentType := result.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Content-Length", strconv.FormatInt(result.Size, 10))
		w.Header().Set("X-Blob-Source", string(result.Source))
		w.Write(result.Data)
	})
}

// putBlob handles PUT /v1/blobs
func putBlob(coordinator *blob.Coordinator) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		epochs := 1
		if s := r.URL.Query().Get("epochs"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n < 1 {
				http.Error(w, "epochs must be a positive integer", http.StatusBadRequest)
				return
			}
			epochs = n
		}

		data, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "failed to read request body", http.StatusBadRequest)
			return
		}
		defer r.Body.Close()
		if len(data) == 0 {
			http.Error(w, "request body cannot be empty", http.StatusBadRequest)
			return
		}

		result, err := coordinator.Publish(r.Context(), data, r.Header.Get("Content-Type"), epochs)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		response := publishResponse{
			BlobID:           result.BlobID,
			ObjectID:         result.ObjectID,
			TxDigest:         result.TxDigest,
			AlreadyCertified: result.AlreadyCertified,
		}
		if err := json.NewEncoder(w).Encode(response); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	})
}
