package security

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/brainhub-io/gateway/internal/apperr"
	"github.com/brainhub-io/gateway/internal/token"
)

type ctxKey string

const subjectKey ctxKey = "subject"

// BearerAuth validates the Authorization header against svc and
// attaches the verified subject id to the request context, adapting
// the teacher's internal/auth.Middleware bearer extraction to delegate
// validation to internal/token instead of the teacher's own
// RS256/HS256 dual-mode JWKS logic (single-issuer HS256 here, per
// spec.md §4.1). Falls back to a `?token=` query parameter when no
// Authorization header is present, per spec.md §4.10: some client
// runtimes backing the long-lived stream connection (EventSource in a
// browser, for one) cannot set request headers.
func BearerAuth(svc *token.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tok := bearerToken(r)
			if tok == "" {
				writeAuthError(w, "missing bearer token")
				return
			}

			claims, err := svc.Verify(r.Context(), tok)
			if err != nil {
				log.Warn().Err(err).Msg("bearer token rejected")
				writeAuthError(w, "invalid or expired token")
				return
			}

			ctx := context.WithValue(r.Context(), subjectKey, claims.SubjectID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerToken extracts the bearer token from the Authorization header,
// falling back to the `token` query parameter when the header is
// absent. The query-param form exists solely for the SSE stream route,
// whose client runtimes (browser EventSource, some mobile http
// clients) cannot attach headers to a long-lived GET.
func bearerToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

// SubjectID extracts the authenticated subject from context. Empty
// string means BearerAuth never ran or rejected the request upstream.
func SubjectID(ctx context.Context) string {
	if v, ok := ctx.Value(subjectKey).(string); ok {
		return v
	}
	return ""
}

// InternalAuth gates server-to-server endpoints (the worker's status
// callback) behind a shared secret header, matching the teacher's
// distinction between user-facing JWT auth and internal trust.
func InternalAuth(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get("X-Internal-Api-Key")
			if subtle.ConstantTimeCompare([]byte(got), []byte(apiKey)) != 1 {
				writeAuthError(w, "invalid internal api key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeAuthError(w http.ResponseWriter, msg string) {
	err := apperr.New(apperr.KindAuth, msg)
	http.Error(w, msg, err.Status())
}
