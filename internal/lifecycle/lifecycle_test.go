package lifecycle

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
	"github.com/brainhub-io/gateway/internal/datarouting"
	"github.com/brainhub-io/gateway/internal/dispatch"
	"github.com/brainhub-io/gateway/internal/jobs"
	"github.com/brainhub-io/gateway/internal/quota"
)

// testService wires a lifecycle.Service against a real Postgres
// database and a real broker, following the same TEST_DATABASE_URL /
// testing.Short() gate the rest of this package uses for anything that
// cannot be faked without losing what the test is meant to exercise.
func testService(t *testing.T) (*Service, *jobs.Repository) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping integration test")
	}
	brokerURL := os.Getenv("TEST_BROKER_URL")
	if brokerURL == "" {
		t.Skip("TEST_BROKER_URL not set, skipping integration test")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("failed to connect to test database: %v", err)
	}
	t.Cleanup(pool.Close)
	if _, err := pool.Exec(ctx, "DELETE FROM jobs"); err != nil {
		t.Fatalf("failed to clean jobs table: %v", err)
	}
	if _, err := pool.Exec(ctx, "DELETE FROM subscriptions"); err != nil {
		t.Fatalf("failed to clean subscriptions table: %v", err)
	}
	if _, err := pool.Exec(ctx, "DELETE FROM usage_counter"); err != nil {
		t.Fatalf("failed to clean usage_counter table: %v", err)
	}
	if _, err := pool.Exec(ctx, `
		INSERT INTO subscriptions (subject_id, monthly_cap, units_per_job) VALUES ($1, $2, $3)`,
		"subject-lifecycle", int64(1), int64(1)); err != nil {
		t.Fatalf("failed to seed subscription: %v", err)
	}

	router := datarouting.New(pool, nil, datarouting.Config{Strategy: "round-robin"})
	t.Cleanup(router.Close)
	repo := jobs.NewRepository(router)

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	fabric := cache.NewFabric(100, redisClient)
	quotaSvc := quota.NewService(fabric, pool)

	gw, err := dispatch.NewGateway(ctx, brokerURL, 1)
	if err != nil {
		t.Fatalf("failed to connect to test broker: %v", err)
	}
	t.Cleanup(func() { gw.Close() })

	return NewService(repo, quotaSvc, gw), repo
}

func TestSubmit_CreatesPendingJobAndDispatches(t *testing.T) {
	svc, _ := testService(t)

	job, err := svc.Submit(context.Background(), "subject-lifecycle", SubmitRequest{
		JDURL:         "https://example.com/jd.pdf",
		ResumeURI:     "s3://bucket/resume.pdf",
		ModelProvider: "openai",
		ModelName:     "gpt-4",
	})
	if err != nil {
		t.Fatalf("unexpected submit error: %v", err)
	}
	if job.Status != jobs.StatusPending {
		t.Fatalf("expected status PENDING immediately after submit, got %s", job.Status)
	}
}

func TestSubmit_DeniesOverQuota(t *testing.T) {
	svc, _ := testService(t)
	ctx := context.Background()

	req := SubmitRequest{
		JDURL:         "https://example.com/jd.pdf",
		ResumeURI:     "s3://bucket/resume.pdf",
		ModelProvider: "openai",
		ModelName:     "gpt-4",
	}
	if _, err := svc.Submit(ctx, "subject-lifecycle", req); err != nil {
		t.Fatalf("unexpected error on first submit: %v", err)
	}

	_, err := svc.Submit(ctx, "subject-lifecycle", req)
	var appErr *apperr.Error
	if !errors.As(err, &appErr) || appErr.Kind != apperr.KindQuota {
		t.Fatalf("expected a quota-kind error on second submit, got %v", err)
	}
}

func TestSubmit_RejectsMalformedJDURL(t *testing.T) {
	svc, _ := testService(t)

	_, err := svc.Submit(context.Background(), "subject-lifecycle", SubmitRequest{
		JDURL:         "not-a-url",
		ResumeURI:     "s3://bucket/resume.pdf",
		ModelProvider: "openai",
		ModelName:     "gpt-4",
	})
	var appErr *apperr.Error
	if !errors.As(err, &appErr) || appErr.Kind != apperr.KindValidation {
		t.Fatalf("expected a validation-kind error for a malformed jd_url, got %v", err)
	}
}

func TestSubmit_RejectsUnknownModelProvider(t *testing.T) {
	svc, _ := testService(t)

	_, err := svc.Submit(context.Background(), "subject-lifecycle", SubmitRequest{
		JDURL:         "https://example.com/jd.pdf",
		ResumeURI:     "s3://bucket/resume.pdf",
		ModelProvider: "bogus",
		ModelName:     "gpt-4",
	})
	var appErr *apperr.Error
	if !errors.As(err, &appErr) || appErr.Kind != apperr.KindValidation {
		t.Fatalf("expected a validation-kind error for an unknown model provider, got %v", err)
	}
}

func TestCancel_TransitionsPendingJobToCancelled(t *testing.T) {
	svc, repo := testService(t)
	ctx := context.Background()

	job, err := svc.Submit(ctx, "subject-lifecycle", SubmitRequest{
		JDURL:         "https://example.com/jd.pdf",
		ResumeURI:     "s3://bucket/resume.pdf",
		ModelProvider: "openai",
		ModelName:     "gpt-4",
	})
	if err != nil {
		t.Fatalf("unexpected submit error: %v", err)
	}

	cancelled, err := svc.Cancel(ctx, "subject-lifecycle", job.ID)
	if err != nil {
		t.Fatalf("unexpected cancel error: %v", err)
	}
	if cancelled.Status != jobs.StatusCancelled {
		t.Fatalf("expected status CANCELLED, got %s", cancelled.Status)
	}

	stored, err := repo.Get(ctx, job.ID, "subject-lifecycle", true)
	if err != nil {
		t.Fatalf("unexpected get error: %v", err)
	}
	if stored.Status != jobs.StatusCancelled {
		t.Fatalf("expected stored status CANCELLED, got %s", stored.Status)
	}
}

func TestCancel_AlreadyTerminalReturnsConflict(t *testing.T) {
	svc, _ := testService(t)
	ctx := context.Background()

	job, err := svc.Submit(ctx, "subject-lifecycle", SubmitRequest{
		JDURL:         "https://example.com/jd.pdf",
		ResumeURI:     "s3://bucket/resume.pdf",
		ModelProvider: "openai",
		ModelName:     "gpt-4",
	})
	if err != nil {
		t.Fatalf("unexpected submit error: %v", err)
	}

	if _, err := svc.Cancel(ctx, "subject-lifecycle", job.ID); err != nil {
		t.Fatalf("unexpected first cancel error: %v", err)
	}

	_, err = svc.Cancel(ctx, "subject-lifecycle", job.ID)
	if !errors.Is(err, jobs.ErrConflict) {
		t.Fatalf("expected ErrConflict cancelling an already-terminal job, got %v", err)
	}
}
