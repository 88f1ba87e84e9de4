package security

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/brainhub-io/gateway/internal/cache"
	"github.com/brainhub-io/gateway/internal/token"
)

func testTokenService(t *testing.T) *token.Service {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	fabric := cache.NewFabric(100, client)
	return token.NewService("test-secret", time.Hour, fabric)
}

func subjectHandler(gotSubject *string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*gotSubject = SubjectID(r.Context())
		w.WriteHeader(http.StatusOK)
	})
}

func TestBearerAuth_AcceptsHeaderToken(t *testing.T) {
	svc := testTokenService(t)
	tok, _, err := svc.Issue("subject-1", nil)
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}

	var gotSubject string
	mw := BearerAuth(svc)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/applications/J1/stream", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()

	mw(subjectHandler(&gotSubject)).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if gotSubject != "subject-1" {
		t.Fatalf("expected subject-1, got %q", gotSubject)
	}
}

// TestBearerAuth_AcceptsQueryToken exercises the stream endpoint's
// query-param fallback: a client that cannot set headers on a
// long-lived connection passes the token as ?token=.
func TestBearerAuth_AcceptsQueryToken(t *testing.T) {
	svc := testTokenService(t)
	tok, _, err := svc.Issue("subject-2", nil)
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}

	var gotSubject string
	mw := BearerAuth(svc)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/applications/J1/stream?token="+tok, nil)
	rec := httptest.NewRecorder()

	mw(subjectHandler(&gotSubject)).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if gotSubject != "subject-2" {
		t.Fatalf("expected subject-2, got %q", gotSubject)
	}
}

func TestBearerAuth_RejectsMissingToken(t *testing.T) {
	svc := testTokenService(t)

	var gotSubject string
	mw := BearerAuth(svc)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/applications/J1/stream", nil)
	rec := httptest.NewRecorder()

	mw(subjectHandler(&gotSubject)).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestBearerAuth_HeaderTakesPrecedenceOverQuery(t *testing.T) {
	svc := testTokenService(t)
	headerTok, _, err := svc.Issue("subject-header", nil)
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}

	var gotSubject string
	mw := BearerAuth(svc)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/applications/J1/stream?token=garbage", nil)
	req.Header.Set("Authorization", "Bearer "+headerTok)
	rec := httptest.NewRecorder()

	mw(subjectHandler(&gotSubject)).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if gotSubject != "subject-header" {
		t.Fatalf("expected subject-header, got %q", gotSubject)
	}
}
