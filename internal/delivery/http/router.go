package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	httpSwagger "github.com/swaggo/http-swagger"

	"eventregistration/internal/delivery/http/controllers"
	"eventregistration/internal/delivery/http/helpers"
	"eventregistration/internal/delivery/http/middleware"
	"eventregistration/internal/domain"
	"eventregistration/internal/metrics"
)

// RouterDeps holds what NewRouter wires into routes.
type RouterDeps struct {
	Events        *controllers.EventController
	Registrations *controllers.RegistrationController
	Verifier      domain.TokenVerifier
	Logger        *slog.Logger
	// HealthCheck reports whether the storage backend is reachable. Optional.
	HealthCheck func(ctx context.Context) error
}

// HealthResponse is the data payload for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// NewRouter initializes the HTTP router with all application routes
func NewRouter(deps RouterDeps) *http.ServeMux {
	mux := http.NewServeMux()
	requireAuth := middleware.RequireAuth(deps.Verifier, deps.Logger)
	optionalAuth := middleware.OptionalAuth(deps.Verifier, deps.Logger)

	// Events
	mux.HandleFunc("GET /events", deps.Events.ListEvents)
	mux.HandleFunc("GET /events/{eventID}", deps.Events.GetEvent)
	mux.HandleFunc("POST /events", requireAuth(deps.Events.CreateEvent))
	mux.HandleFunc("PATCH /events/{eventID}", requireAuth(deps.Events.UpdateEvent))
	mux.HandleFunc("DELETE /events/{eventID}", requireAuth(deps.Events.DeleteEvent))
	mux.HandleFunc("GET /me/events", requireAuth(deps.Events.ListMyEvents))

	// Registrations
	mux.HandleFunc("GET /events/{eventID}/participants", requireAuth(deps.Registrations.ListParticipants))
	mux.HandleFunc("POST /events/{eventID}/registrations", optionalAuth(deps.Registrations.Register))
	mux.HandleFunc("POST /events/{eventID}/registrations/{participantID}/verify", deps.Registrations.Verify)
	mux.HandleFunc("DELETE /events/{eventID}/registrations/{participantID}", deps.Registrations.Cancel)

	// Ops
	mux.HandleFunc("GET /health", healthHandler(deps.HealthCheck, deps.Logger))
	mux.Handle("GET /metrics", metrics.Handler())

	// Swagger
	mux.Handle("/swagger/", httpSwagger.WrapHandler)

	return mux
}

// NewHandler wraps the router with the middleware chain. Metrics sits directly
// on the mux so it can read the matched route pattern.
func NewHandler(mux http.Handler, logger *slog.Logger, allowedOrigins []string) http.Handler {
	var h http.Handler = middleware.Metrics(mux)
	h = middleware.LoggingMiddleware(logger, h)
	h = middleware.RequestID(h)
	return middleware.CORS(allowedOrigins, h)
}

// health godoc
// @Summary Health check
// @Tags ops
// @Produce json
// @Success 200 {object} helpers.APIResponse "data.status: ok"
// @Failure 503 {object} helpers.APIResponse "error.code: service_unavailable"
// @Router /health [get]
func healthHandler(check func(ctx context.Context) error, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := check(ctx); err != nil {
				logger.WarnContext(r.Context(), "health check failed", "err", err)
				helpers.WriteJSONError(w, http.StatusServiceUnavailable, helpers.ErrCodeServiceUnavailable, "storage unavailable")
				return
			}
		}
		helpers.WriteJSONSuccess(w, http.StatusOK, HealthResponse{Status: "ok"})
	}
}
