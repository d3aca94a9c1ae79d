package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const apiKeyHeader = "X-API-Key"

type KeyValidator interface {
	ValidateAPIKey(ctx context.Context, apiKey string) (string, error)
	CheckRateLimit(ctx context.Context, proctorID string) bool
}

// NewRouter builds the control API. validator may be nil to serve /v1
// without authentication; metrics may be nil to omit /metrics.
func NewRouter(h *HTTPHandler, metrics http.Handler, validator KeyValidator) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(CORSMiddleware)

	r.Get("/health", HealthCheck)
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		if validator != nil {
			r.Use(AuthMiddleware(validator))
		}

		r.Get("/status", h.HandleStatus)

		r.Post("/tracking/start", h.HandleStartTracking)
		r.Post("/tracking/stop", h.HandleStopTracking)
		r.Post("/tracking/calibrate", h.HandleCalibrate)
		r.Post("/tracking/calibration/reset", h.HandleResetCalibration)

		r.Get("/settings", h.HandleGetSettings)
		r.Post("/settings", h.HandleUpdateSettings)

		r.Get("/faces", h.HandleFaces)
		r.Get("/screens", h.HandleScreens)
		r.Post("/screens/refresh", h.HandleRefreshScreens)

		r.Get("/alerts", h.HandleAlerts)
	})

	return r
}

// AuthMiddleware requires a valid X-API-Key and applies its rate limit.
func AuthMiddleware(v KeyValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			proctorID, err := v.ValidateAPIKey(r.Context(), r.Header.Get(apiKeyHeader))
			if err != nil {
				writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "Invalid API key"})
				return
			}

			if !v.CheckRateLimit(r.Context(), proctorID) {
				writeJSON(w, http.StatusTooManyRequests, ErrorResponse{Error: "Rate limit exceeded"})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
