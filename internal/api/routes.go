package api

import (
	"net/http"

	"mailthrottle/internal/models"
	"mailthrottle/internal/throttle"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"
)

// RouteOption configures optional route behavior.
type RouteOption func(*mux.Router)

// WithOTelMiddleware adds OpenTelemetry HTTP instrumentation middleware.
// Health checks are not traced.
func WithOTelMiddleware(serviceName string) RouteOption {
	return func(r *mux.Router) {
		r.Use(otelmux.Middleware(serviceName,
			otelmux.WithFilter(func(r *http.Request) bool {
				return r.URL.Path != "/health" && r.URL.Path != "/api/v1/health"
			}),
		))
	}
}

// WithRateLimit limits status API requests per client IP. A non-positive
// requestsPerMinute leaves the API unlimited.
func WithRateLimit(store throttle.CounterStore, requestsPerMinute int) RouteOption {
	return func(r *mux.Router) {
		if requestsPerMinute > 0 {
			r.Use(rateLimitMiddleware(store, requestsPerMinute))
		}
	}
}

// SetupRoutes configures the status API routes.
func SetupRoutes(handlers *Handlers, opts ...RouteOption) *mux.Router {
	router := mux.NewRouter()

	for _, opt := range opts {
		opt(router)
	}

	// The status API is read-only. Mismatched methods on a subrouter fall
	// through to NotFound in mux, so they are routed here explicitly.
	writeMethods := []string{"POST", "PUT", "DELETE", "PATCH"}

	router.HandleFunc("/health", handlers.HealthCheck).Methods("GET")
	router.HandleFunc("/health", methodNotAllowedHandler).Methods(writeMethods...)

	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/health", handlers.HealthCheck).Methods("GET")
	api.HandleFunc("/mailers", handlers.ListMailers).Methods("GET")
	api.HandleFunc("/mailers/{name}", handlers.GetMailer).Methods("GET")

	api.HandleFunc("/health", methodNotAllowedHandler).Methods(writeMethods...)
	api.HandleFunc("/mailers", methodNotAllowedHandler).Methods(writeMethods...)
	api.HandleFunc("/mailers/{name}", methodNotAllowedHandler).Methods(writeMethods...)

	router.Use(loggingMiddleware)
	router.Use(recoveryMiddleware)

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "Not found", models.ErrorCodeNotFound)
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowedHandler)

	return router
}

func methodNotAllowedHandler(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusMethodNotAllowed, "Method not allowed", models.ErrorCodeMethodNotAllowed)
}
