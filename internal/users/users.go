// Package users backs POST /auth/register and /auth/login. The
// distilled spec names these endpoints without specifying where
// credentials live; this supplies the users table and bcrypt hashing
// the endpoint table implies, following the teacher's pattern of a
// thin repository type wrapping pgx directly (internal/service/
// syncservice/*_service.go) rather than an ORM.
package users

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"

	"github.com/brainhub-io/gateway/internal/apperr"
)

// ErrAlreadyExists is returned by Register when the principal is taken.
var ErrAlreadyExists = errors.New("principal already registered")

// ErrInvalidCredentials is returned by Authenticate on any mismatch,
// deliberately not distinguishing unknown-user from wrong-password so
// the response doesn't leak which principals are registered.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Repository persists user credentials against the writer pool.
type Repository struct {
	writer *pgxpool.Pool
}

func NewRepository(writer *pgxpool.Pool) *Repository {
	return &Repository{writer: writer}
}

// Register creates a new user with a bcrypt-hashed password, returning
// the new subject id.
func (r *Repository) Register(ctx context.Context, principal, password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", apperr.Wrap(apperr.KindInternal, "", "failed to hash password", err)
	}

	id := uuid.New().String()
	_, err = r.writer.Exec(ctx, `
		INSERT INTO users (id, principal, password_hash, created_at)
		VALUES ($1, $2, $3, now())`, id, principal, hash)
	if err != nil {
		if isUniqueViolation(err) {
			return "", ErrAlreadyExists
		}
		return "", apperr.Dependency(apperr.OriginDB, err)
	}
	return id, nil
}

// Authenticate verifies principal/password and returns the subject id.
func (r *Repository) Authenticate(ctx context.Context, principal, password string) (string, error) {
	var id, hash string
	err := r.writer.QueryRow(ctx, `
		SELECT id, password_hash FROM users WHERE principal = $1`, principal,
	).Scan(&id, &hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrInvalidCredentials
	}
	if err != nil {
		return "", apperr.Dependency(apperr.OriginDB, err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}
	return id, nil
}

func isUniqueViolation(err error) bool {
	var pgErr interface{ SQLState() string }
	if errors.As(err, &pgErr) {
		return pgErr.SQLState() == "23505"
	}
	return false
}
