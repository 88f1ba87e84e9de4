package token

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/brainhub-io/gateway/internal/cache"
)

func newTestService(t *testing.T, ttl time.Duration) *Service {
	t.Helper()
	// miniredis-free unit test: a Redis client pointed at an address
	// nothing listens on exercises the cache's fail-as-miss path, which
	// Verify's re-parse fallback tolerates.
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	fabric := cache.NewFabric(100, client)
	return NewService("test-secret", ttl, fabric)
}

func TestIssueAndVerify(t *testing.T) {
	svc := newTestService(t, time.Hour)

	tok, expiresAt, err := svc.Issue("user-1", []string{"user"})
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if expiresAt.Before(time.Now()) {
		t.Fatal("expected future expiry")
	}

	claims, err := svc.Verify(context.Background(), tok)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if claims.SubjectID != "user-1" {
		t.Errorf("expected subject user-1, got %s", claims.SubjectID)
	}
	if len(claims.Roles) != 1 || claims.Roles[0] != "user" {
		t.Errorf("expected roles [user], got %v", claims.Roles)
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	svc := newTestService(t, -time.Second)

	tok, _, err := svc.Issue("user-1", nil)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	if _, err := svc.Verify(context.Background(), tok); err == nil {
		t.Fatal("expected expired token to be rejected")
	}
}

func TestVerifyRejectsTampered(t *testing.T) {
	svc := newTestService(t, time.Hour)

	tok, _, err := svc.Issue("user-1", nil)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	tampered := tok + "x"
	if _, err := svc.Verify(context.Background(), tampered); err == nil {
		t.Fatal("expected tampered token to be rejected")
	}
}

func TestVerifyRejectsEmpty(t *testing.T) {
	svc := newTestService(t, time.Hour)
	if _, err := svc.Verify(context.Background(), ""); err == nil {
		t.Fatal("expected empty token to be rejected")
	}
}
