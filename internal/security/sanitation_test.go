package security

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/brainhub-io/gateway/internal/workerpool"
)

const testMaxBodyBytes = 10 * 1024 * 1024

func testSanitize(t *testing.T) func(http.Handler) http.Handler {
	t.Helper()
	pool := workerpool.New(0, 16, workerpool.Limits{})
	t.Cleanup(pool.Close)
	return Sanitize(pool, testMaxBodyBytes)
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestSanitize_AllowsCleanRequest(t *testing.T) {
	mw := testSanitize(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/applications/abc", nil)
	rec := httptest.NewRecorder()

	mw(okHandler()).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestSanitize_RejectsPathTraversal(t *testing.T) {
	mw := testSanitize(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/../../etc/passwd", nil)
	rec := httptest.NewRecorder()

	mw(okHandler()).ServeHTTP(rec, req)

	if rec.Code == http.StatusOK {
		t.Fatal("expected path traversal to be rejected")
	}
}

func TestSanitize_RejectsScannerSignatureInQuery(t *testing.T) {
	mw := testSanitize(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/applications?q='or'1'='1", nil)
	rec := httptest.NewRecorder()

	mw(okHandler()).ServeHTTP(rec, req)

	if rec.Code == http.StatusOK {
		t.Fatal("expected scanner signature in query string to be rejected")
	}
}

func TestSanitize_RejectsScannerSignatureInHeader(t *testing.T) {
	mw := testSanitize(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/applications", nil)
	req.Header.Set("User-Agent", "sqlmap/1.7")
	rec := httptest.NewRecorder()

	mw(okHandler()).ServeHTTP(rec, req)

	if rec.Code == http.StatusOK {
		t.Fatal("expected scanner signature in header to be rejected")
	}
}

func TestSanitize_RejectsOverlongHeader(t *testing.T) {
	mw := testSanitize(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/applications", nil)
	req.Header.Set("X-Custom", strings.Repeat("a", maxHeaderValue+1))
	rec := httptest.NewRecorder()

	mw(okHandler()).ServeHTTP(rec, req)

	if rec.Code == http.StatusOK {
		t.Fatal("expected overlong header value to be rejected")
	}
}

func TestSanitize_RejectsOversizedBody(t *testing.T) {
	mw := testSanitize(t)
	body := strings.Repeat("a", testMaxBodyBytes+1)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/applications", strings.NewReader(body))
	req.ContentLength = int64(len(body))
	rec := httptest.NewRecorder()

	mw(okHandler()).ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 for a body one byte over the cap, got %d", rec.Code)
	}
}

func TestSanitize_RejectsWhenPoolSaturated(t *testing.T) {
	pool := workerpool.New(0, 16, workerpool.Limits{MaxGoroutines: 1})
	t.Cleanup(pool.Close)
	mw := Sanitize(pool, testMaxBodyBytes)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/applications", nil)
	rec := httptest.NewRecorder()

	mw(okHandler()).ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when pool reports saturation, got %d", rec.Code)
	}
}
