// Package tracking provides the request-capture and blocklist-enforcement
// middleware. Capture feeds the request log the anomaly detector scans;
// enforcement rejects blocklisted IPs before any handler runs.
package tracking

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"ipguard/internal/models"
	"ipguard/internal/ratelimit"
	"ipguard/internal/storage"
)

// saveTimeout bounds how long a request waits on its log write.
const saveTimeout = 2 * time.Second

// statusRecorder captures the status code a handler writes so the request
// log can record it. Handlers that never call WriteHeader implicitly
// return 200.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Recorder returns middleware that appends one request log record per
// request after the handler completes. A request to the login path that
// ends in 401 is recorded as a failed login attempt. Log writes never
// fail the request they describe; a storage error is logged and dropped.
func Recorder(store storage.Storage, loginPath string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(recorder, r)

			entry := &models.RequestLog{
				IPAddress:   ratelimit.ClientIP(r),
				Method:      r.Method,
				Path:        r.URL.Path,
				StatusCode:  recorder.status,
				FailedLogin: r.URL.Path == loginPath && recorder.status == http.StatusUnauthorized,
				Timestamp:   time.Now().UTC(),
			}

			saveCtx, cancel := context.WithTimeout(context.Background(), saveTimeout)
			defer cancel()
			if err := store.SaveRequest(saveCtx, entry); err != nil {
				slog.Error("request log write failed",
					"ip", entry.IPAddress, "path", entry.Path, "error", err)
			}
		})
	}
}

// Blocklist returns middleware that rejects requests from blocklisted IPs
// with 403 before any other processing. A storage failure fails open: an
// unreachable blocklist must not take the whole service down with it.
func Blocklist(store storage.Storage) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := ratelimit.ClientIP(r)

			blocked, err := store.IsBlocked(r.Context(), ip)
			if err != nil {
				slog.Error("blocklist lookup failed, allowing request", "ip", ip, "error", err)
				next.ServeHTTP(w, r)
				return
			}
			if !blocked {
				next.ServeHTTP(w, r)
				return
			}

			slog.Warn("blocked IP rejected", "ip", ip, "path", r.URL.Path)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusForbidden)
			errorResp := models.NewErrorResponse(
				"Your IP address has been blocked",
				models.ErrorCodeIPBlocked,
			)
			json.NewEncoder(w).Encode(errorResp)
		})
	}
}
