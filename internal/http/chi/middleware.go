package chi

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/whereissam/walcache/admission"
)

/* Admission wraps the blob routes: every request holds a connection slot
 * for its whole lifetime, and overload is answered at the door instead
 * of by a hung request.
 */

// timedWriter injects the response-time header at WriteHeader time,
// since headers cannot change after the status line is sent
type timedWriter struct {
	http.ResponseWriter
	start  time.Time
	status int
	wrote  bool
}

func (w *timedWriter) WriteHeader(status int) {
	if !w.wrote {
		w.wrote = true
		w.status = status
		w.Header().Set("X-Response-Time", time.Since(w.start).String())
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *timedWriter) Write(b []byte) (int, error) {
	if !w.wrote {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

// Admission returns middleware that admits the request through the
// connection controller and releases its slot when the handler returns
func Admission(controller *admission.Controller) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			source := admission.ClientID(r)

			conn, err := controller.Admit(r.Context(), source, r.UserAgent())
			if err != nil {
				writeAdmissionError(w, err)
				return
			}

			w.Header().Set("X-Request-Id", conn.ID)
			tw := &timedWriter{ResponseWriter: w, start: time.Now(), status: http.StatusOK}

			defer func() {
				if rec := recover(); rec != nil {
					controller.Fail(conn.ID, fmt.Errorf("handler panic: %v", rec))
					panic(rec)
				}
				if tw.status >= http.StatusInternalServerError {
					controller.Fail(conn.ID, fmt.Errorf("handler returned %d", tw.status))
					return
				}
				controller.Release(conn.ID)
			}()

			next.ServeHTTP(tw, r)
		})
	}
}

func writeAdmissionError(w http.ResponseWriter, err error) {
	var overloaded *admission.OverloadedError
	var throttled *admission.SourceThrottledError

	switch {
	case errors.As(err, &throttled):
		w.Header().Set("Retry-After", "1")
		http.Error(w, err.Error(), http.StatusTooManyRequests)
	case errors.As(err, &overloaded):
		w.Header().Set("Retry-After", "1")
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	case errors.Is(err, admission.ErrQueueTimeout):
		http.Error(w, err.Error(), http.StatusRequestTimeout)
	case errors.Is(err, admission.ErrQueueFull):
		w.Header().Set("Retry-After", "1")
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	default:
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	}
}
