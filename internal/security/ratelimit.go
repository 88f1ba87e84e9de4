package security

import (
	"net/http"
	"strconv"

	"github.com/brainhub-io/gateway/internal/apperr"
	"github.com/brainhub-io/gateway/internal/ratelimit"
)

// RateLimit enforces l's per-subject windows, keying on the
// authenticated subject when BearerAuth has already run, falling back
// to the client's remote address for unauthenticated endpoints (login,
// register) so brute-force and volumetric abuse are still bounded
// before a subject identity exists.
func RateLimit(l *ratelimit.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			subject := SubjectID(r.Context())
			if subject == "" {
				subject = r.RemoteAddr
			}

			decision := l.Check(r.Context(), subject)
			w.Header().Set("X-RateLimit-Minute-Count", strconv.FormatInt(decision.MinuteCount, 10))

			if !decision.Allowed {
				w.Header().Set("Retry-After", strconv.FormatInt(decision.RetryAfterSec, 10))
				msg := "rate limit exceeded"
				err := apperr.New(apperr.KindRateLimited, msg)
				http.Error(w, msg, err.Status())
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
