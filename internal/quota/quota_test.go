package quota

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/brainhub-io/gateway/internal/apperr"
	"github.com/brainhub-io/gateway/internal/cache"
)

func getTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping integration test")
	}

	pool, err := pgxpool.New(context.Background(), dbURL)
	if err != nil {
		t.Fatalf("failed to connect to test database: %v", err)
	}
	ctx := context.Background()
	if _, err := pool.Exec(ctx, "DELETE FROM usage_counter"); err != nil {
		t.Fatalf("failed to clean usage_counter table: %v", err)
	}
	if _, err := pool.Exec(ctx, "DELETE FROM subscriptions"); err != nil {
		t.Fatalf("failed to clean subscriptions table: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}

func newTestFabric(t *testing.T) *cache.Fabric {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return cache.NewFabric(100, client)
}

func TestCheck_AllowsWithinCap(t *testing.T) {
	pool := getTestPool(t)
	ctx := context.Background()
	if _, err := pool.Exec(ctx, `
		INSERT INTO subscriptions (subject_id, monthly_cap, units_per_job) VALUES ($1, $2, $3)`,
		"subject-a", int64(10), int64(1)); err != nil {
		t.Fatalf("failed to seed subscription: %v", err)
	}

	svc := NewService(newTestFabric(t), pool)
	if err := svc.Check(ctx, "subject-a"); err != nil {
		t.Fatalf("expected quota check to pass, got %v", err)
	}
}

func TestCheck_DeniesOverCap(t *testing.T) {
	pool := getTestPool(t)
	ctx := context.Background()
	if _, err := pool.Exec(ctx, `
		INSERT INTO subscriptions (subject_id, monthly_cap, units_per_job) VALUES ($1, $2, $3)`,
		"subject-b", int64(1), int64(1)); err != nil {
		t.Fatalf("failed to seed subscription: %v", err)
	}

	svc := NewService(newTestFabric(t), pool)
	svc.RecordUsage(ctx, "subject-b", 1)

	err := svc.Check(ctx, "subject-b")
	var appErr *apperr.Error
	if !errors.As(err, &appErr) || appErr.Kind != apperr.KindQuota {
		t.Fatalf("expected a quota-kind error, got %v", err)
	}
}

func TestCheck_NoSubscriptionReturnsNotFound(t *testing.T) {
	pool := getTestPool(t)
	svc := NewService(newTestFabric(t), pool)

	err := svc.Check(context.Background(), "subject-unknown")
	var appErr *apperr.Error
	if !errors.As(err, &appErr) || appErr.Kind != apperr.KindNotFound {
		t.Fatalf("expected a not-found-kind error, got %v", err)
	}
}

func TestCheck_UnlimitedPlanAlwaysAllowed(t *testing.T) {
	pool := getTestPool(t)
	ctx := context.Background()
	if _, err := pool.Exec(ctx, `
		INSERT INTO subscriptions (subject_id, monthly_cap, units_per_job) VALUES ($1, NULL, $2)`,
		"subject-unlimited", int64(1)); err != nil {
		t.Fatalf("failed to seed subscription: %v", err)
	}

	svc := NewService(newTestFabric(t), pool)
	for i := 0; i < 5; i++ {
		svc.RecordUsage(ctx, "subject-unlimited", 1_000_000)
		if err := svc.Check(ctx, "subject-unlimited"); err != nil {
			t.Fatalf("expected unlimited plan to always pass, got %v", err)
		}
	}
}

func TestPlanIsCached(t *testing.T) {
	pool := getTestPool(t)
	ctx := context.Background()
	if _, err := pool.Exec(ctx, `
		INSERT INTO subscriptions (subject_id, monthly_cap, units_per_job) VALUES ($1, $2, $3)`,
		"subject-c", int64(5), int64(1)); err != nil {
		t.Fatalf("failed to seed subscription: %v", err)
	}

	svc := NewService(newTestFabric(t), pool)
	if err := svc.Check(ctx, "subject-c"); err != nil {
		t.Fatalf("unexpected error on first check: %v", err)
	}

	if _, err := pool.Exec(ctx, "DELETE FROM subscriptions WHERE subject_id = $1", "subject-c"); err != nil {
		t.Fatalf("failed to delete subscription: %v", err)
	}

	if err := svc.Check(ctx, "subject-c"); err != nil {
		t.Fatalf("expected cached plan to still allow check after row deletion, got %v", err)
	}
}
