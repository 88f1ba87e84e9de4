package security

import (
	"net/http"

	"github.com/go-chi/cors"
)

// CORSConfig carries the allow-list for a single endpoint class; spec.md
// §4.2 calls for different CORS policies per endpoint class (public
// auth endpoints vs. authenticated job endpoints vs. the internal-only
// status callback), so this is built per route group rather than once
// globally.
type CORSConfig struct {
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowCredentials bool
}

// PublicCORS is the policy for /auth/*.
func PublicCORS(allowedOrigins []string) CORSConfig {
	return CORSConfig{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowCredentials: false,
	}
}

// AuthenticatedCORS is the policy for /uploads/*, /applications/* and
// /dashboard/*.
func AuthenticatedCORS(allowedOrigins []string) CORSConfig {
	return CORSConfig{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowCredentials: true,
	}
}

// Middleware builds a go-chi/cors handler from cfg, grounded on
// jordigilh-kubernaut's go-chi/cors dependency (the teacher has none).
func Middleware(cfg CORSConfig) func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   cfg.AllowedMethods,
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Correlation-ID", "X-Internal-Api-Key"},
		ExposedHeaders:   []string{"X-Correlation-ID", "X-Request-Id"},
		AllowCredentials: cfg.AllowCredentials,
		MaxAge:           300,
	})
}

// InternalCORS disallows all browser cross-origin access; the status
// callback endpoint is only ever called server-to-server.
func InternalCORS() func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins: []string{},
	})
}
