package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"

	"ipguard/internal/models"
)

// RouteOption configures optional route behavior.
type RouteOption func(*mux.Router)

// WithOTelMiddleware adds OpenTelemetry HTTP instrumentation middleware.
func WithOTelMiddleware(serviceName string) RouteOption {
	return func(r *mux.Router) {
		r.Use(otelmux.Middleware(serviceName,
			otelmux.WithFilter(func(r *http.Request) bool {
				return r.URL.Path != "/health" && r.URL.Path != "/metrics"
			}),
		))
	}
}

// WrapAdmission applies the admission chain around a fully built router.
// Router middleware only runs for matched routes; wrapping outside means
// probes to unmatched paths are still screened and recorded. The first
// middleware listed runs first.
func WrapAdmission(handler http.Handler, chain ...mux.MiddlewareFunc) http.Handler {
	for i := len(chain) - 1; i >= 0; i-- {
		handler = chain[i](handler)
	}
	return handler
}

// SetupRoutes configures the HTTP routes for the engine API.
func SetupRoutes(handlers *Handlers, config *models.Config, opts ...RouteOption) *mux.Router {
	router := mux.NewRouter()

	router.Use(loggingMiddleware)
	router.Use(recoveryMiddleware)

	for _, opt := range opts {
		opt(router)
	}

	router.HandleFunc("/health", handlers.HealthCheck).Methods("GET")

	// The login route lives at the configured detection login path so
	// failed attempts land on the path the failed-login classifier counts.
	if config.Detection.LoginPath != "" {
		router.HandleFunc(config.Detection.LoginPath, handlers.Login).Methods("POST")
	}

	api := router.PathPrefix("/api/v1").Subrouter()
	if config.Security.EnableAuth {
		api.Use(adminAuthMiddleware(config.Security.AdminToken))
	}

	api.HandleFunc("/flags", handlers.ListFlags).Methods("GET")
	api.HandleFunc("/blocked", handlers.ListBlocked).Methods("GET")
	api.HandleFunc("/blocked", handlers.BlockIP).Methods("POST")
	api.HandleFunc("/blocked/{ip}", handlers.UnblockIP).Methods("DELETE")
	api.HandleFunc("/scan", handlers.TriggerScan).Methods("POST")

	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeMiddlewareError(w, http.StatusMethodNotAllowed,
			"Method not allowed", models.ErrorCodeInvalidRequest)
	})

	return router
}
