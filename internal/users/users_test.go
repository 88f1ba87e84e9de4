package users

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
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
	if _, err := pool.Exec(context.Background(), "DELETE FROM users"); err != nil {
		t.Fatalf("failed to clean users table: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}

func TestRegisterAndAuthenticate(t *testing.T) {
	pool := getTestPool(t)
	repo := NewRepository(pool)
	ctx := context.Background()

	subjectID, err := repo.Register(ctx, "alice@example.com", "correct horse battery staple")
	if err != nil {
		t.Fatalf("unexpected register error: %v", err)
	}
	if subjectID == "" {
		t.Fatal("expected a non-empty subject id")
	}

	gotID, err := repo.Authenticate(ctx, "alice@example.com", "correct horse battery staple")
	if err != nil {
		t.Fatalf("unexpected authenticate error: %v", err)
	}
	if gotID != subjectID {
		t.Fatalf("expected subject id %q, got %q", subjectID, gotID)
	}
}

func TestRegisterDuplicatePrincipal(t *testing.T) {
	pool := getTestPool(t)
	repo := NewRepository(pool)
	ctx := context.Background()

	if _, err := repo.Register(ctx, "bob@example.com", "first-password"); err != nil {
		t.Fatalf("unexpected register error: %v", err)
	}

	_, err := repo.Register(ctx, "bob@example.com", "second-password")
	if !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestAuthenticateWrongPassword(t *testing.T) {
	pool := getTestPool(t)
	repo := NewRepository(pool)
	ctx := context.Background()

	if _, err := repo.Register(ctx, "carol@example.com", "right-password"); err != nil {
		t.Fatalf("unexpected register error: %v", err)
	}

	_, err := repo.Authenticate(ctx, "carol@example.com", "wrong-password")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestAuthenticateUnknownPrincipal(t *testing.T) {
	pool := getTestPool(t)
	repo := NewRepository(pool)

	_, err := repo.Authenticate(context.Background(), "nobody@example.com", "whatever")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown principal, got %v", err)
	}
}
