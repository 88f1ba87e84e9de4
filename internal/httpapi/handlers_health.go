package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/brainhub-io/gateway/internal/metrics"
)

// Healthz is a liveness probe: the process is up and serving. It does
// not check any dependency, matching the teacher's /healthz.
func (s *Server) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Readyz is a readiness probe, absent from the teacher (whose /healthz
// is liveness-only). It pings the primary database only; the cache and
// the broker are not checked.
func (s *Server) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := map[string]bool{}

	if err := s.Router.Writer().Ping(ctx); err != nil {
		checks["db"] = false
	} else {
		checks["db"] = true
	}
	metrics.ObservePoolStat(s.Router.Writer().Stat())

	allOK := true
	for _, ok := range checks {
		if !ok {
			allOK = false
		}
	}

	code := http.StatusOK
	if !allOK {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{"checks": checks})
}
