// Package httpapi wires every admission, lifecycle, and read-path
// component into a single chi router, generalizing the teacher's
// Server.Routes composition (internal/httpapi/router.go in the source
// repo) from its many sync-entity route groups into the gateway's five
// endpoint groups, per spec.md §6.
package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/brainhub-io/gateway/internal/cache"
	"github.com/brainhub-io/gateway/internal/datarouting"
	"github.com/brainhub-io/gateway/internal/jobs"
	"github.com/brainhub-io/gateway/internal/lifecycle"
	"github.com/brainhub-io/gateway/internal/ratelimit"
	"github.com/brainhub-io/gateway/internal/security"
	"github.com/brainhub-io/gateway/internal/statushub"
	"github.com/brainhub-io/gateway/internal/token"
	"github.com/brainhub-io/gateway/internal/trace"
	"github.com/brainhub-io/gateway/internal/uploads"
	"github.com/brainhub-io/gateway/internal/users"
	"github.com/brainhub-io/gateway/internal/workerpool"
)

// Server holds every dependency the route handlers need.
type Server struct {
	Router       *datarouting.Router
	Repo         *jobs.Repository
	Lifecycle    *lifecycle.Service
	TokenSvc     *token.Service
	Limiter      *ratelimit.Limiter
	AuthLimiter  *ratelimit.Limiter
	BruteForce   *ratelimit.BruteForceGuard
	Minter       *uploads.Minter
	Artifacts    *uploads.ArtifactFetcher
	Registry     *statushub.Registry
	Hub          *statushub.Hub
	Users        *users.Repository
	SanitizePool *workerpool.Pool
	Fabric       *cache.Fabric

	AllowedOrigins []string
	InternalAPIKey string
	MaxBodyBytes   int64

	StreamHeartbeat   int // seconds
	StreamMaxDuration int // seconds
}

// Routes builds the full gateway router, per spec.md §6's endpoint table.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(trace.Middleware)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(security.SecurityHeaders)

	// Health checks and metrics bypass the admission-sanitation stage
	// entirely (spec.md §4.1 step 2: "Health-check endpoints bypass this
	// stage"). chi's Use applies to every route on a mux regardless of
	// registration order, so the only way to exempt these is to keep
	// them off the sanitized sub-router.
	r.Get("/api/v1/healthz", s.Healthz)
	r.Get("/api/v1/readyz", s.Readyz)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(security.Sanitize(s.SanitizePool, s.MaxBodyBytes))

		r.Route("/api/v1", func(r chi.Router) {
			// Public, unauthenticated endpoints: register/login, rate limited
			// per-IP via a stricter limiter and guarded against brute force.
			r.Group(func(r chi.Router) {
				r.Use(security.Middleware(security.PublicCORS(s.AllowedOrigins)))
				r.Use(security.RateLimit(s.AuthLimiter))
				r.Post("/auth/register", s.Register)
				r.Post("/auth/login", s.Login)
			})

			// Authenticated endpoints.
			r.Group(func(r chi.Router) {
				r.Use(security.Middleware(security.AuthenticatedCORS(s.AllowedOrigins)))
				r.Use(security.BearerAuth(s.TokenSvc))
				r.Use(security.RateLimit(s.Limiter))

				r.Post("/uploads/presigned-url", s.PresignUpload)
				r.Post("/applications", s.SubmitApplication)
				r.Get("/applications/{jobId}", s.GetApplication)
				r.Get("/applications/{jobId}/stream", s.StreamApplication)
				r.Post("/applications/{jobId}/cancel", s.CancelApplication)
				r.Get("/applications/{jobId}/artifact", s.GetArtifact)
				r.Get("/dashboard/stats", s.DashboardStats)
			})

			// Internal, server-to-server: the worker's status callback.
			r.Group(func(r chi.Router) {
				r.Use(security.InternalCORS())
				r.Use(security.InternalAuth(s.InternalAPIKey))
				r.Post("/internal/status", s.InternalStatus)
			})
		})
	})

	log.Info().Msg("gateway http routes registered")
	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode json response")
	}
}

type errorResponse struct {
	Error         string `json:"error"`
	Status        int    `json:"status"`
	Timestamp     string `json:"timestamp"`
	CorrelationID string `json:"correlation_id"`
}

func writeError(w http.ResponseWriter, r *http.Request, code int, message string) {
	writeJSON(w, code, errorResponse{
		Error:         message,
		Status:        code,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		CorrelationID: trace.CorrelationID(r.Context()),
	})
}
