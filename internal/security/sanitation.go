package security

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/brainhub-io/gateway/internal/apperr"
	"github.com/brainhub-io/gateway/internal/workerpool"
)

const (
	maxHeaderValue = 8 * 1024
	maxURLLength   = 2 * 1024
)

// scannerSignatures are crude but cheap markers of an automated
// vulnerability scanner probing the admission layer, per spec.md §4.2.
// This is a first-pass filter, not a WAF: it rejects the obvious case
// cheaply before anything reaches a handler, it does not attempt to
// catch every encoding of an attack.
var scannerSignatures = regexp.MustCompile(`(?i)(<script|union\s+select|'\s*or\s*'1'\s*=\s*'1|\.\./\.\./|sqlmap|nikto|nmap)`)

// Sanitize rejects requests whose URL, headers, or body trip the
// admission layer's cheap structural checks before any handler or
// downstream dependency sees them. The scanner-signature regex scan --
// the one CPU-bound piece of this check -- runs on pool rather than the
// request goroutine, per spec.md §5, so a flood of large header/query
// values can't starve the runtime scheduler; pool saturation itself
// degrades to a 503 instead of an unbounded goroutine pile-up.
//
// Health-check endpoints are expected to be mounted outside this
// middleware's group entirely (see httpapi.Server.Routes), not
// exempted by path here.
func Sanitize(pool *workerpool.Pool, maxBodyBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxBodyBytes {
				writeRejectedStatus(w, "request body too large", http.StatusRequestEntityTooLarge)
				return
			}

			if len(r.URL.String()) > maxURLLength {
				writeRejected(w, "request URL too long")
				return
			}

			for _, values := range r.Header {
				for _, v := range values {
					if len(v) > maxHeaderValue {
						writeRejected(w, "header value too long")
						return
					}
				}
			}

			if strings.Contains(r.URL.Path, "..") {
				writeRejected(w, "invalid path")
				return
			}

			scanErr := make(chan error, 1)
			submitErr := pool.Submit(r.Context(), func() {
				scanErr <- scanForSignatures(r)
			})
			if submitErr != nil {
				writeRejectedStatus(w, "admission layer overloaded", http.StatusServiceUnavailable)
				return
			}
			if err := <-scanErr; err != nil {
				writeRejected(w, "request rejected")
				return
			}

			r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
			next.ServeHTTP(w, r)
		})
	}
}

func scanForSignatures(r *http.Request) error {
	for _, values := range r.Header {
		for _, v := range values {
			if scannerSignatures.MatchString(v) {
				return apperr.New(apperr.KindValidation, "request rejected")
			}
		}
	}
	if scannerSignatures.MatchString(r.URL.RawQuery) {
		return apperr.New(apperr.KindValidation, "request rejected")
	}
	return nil
}

func writeRejected(w http.ResponseWriter, msg string) {
	err := apperr.New(apperr.KindValidation, msg)
	http.Error(w, msg, err.Status())
}

func writeRejectedStatus(w http.ResponseWriter, msg string, status int) {
	http.Error(w, msg, status)
}
