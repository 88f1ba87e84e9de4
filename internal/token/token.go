// Package token is the bearer-token service of spec.md §4.2: issues
// short-lived signed tokens carrying {subject id, expiry, roles} and
// verifies them, backed by a validation cache to skip re-parsing and
// signature checking on repeat verification within the token's life. It generalizes the
// teacher's internal/auth/jwt.go, which supports both an upstream RS256
// IdP and a backend HS256 secret; this gateway is the sole issuer, so
// only the HS256 path (the teacher's "backend token" branch) survives,
// adapted to also issue tokens, not just verify them.
package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"

	"github.com/brainhub-io/gateway/internal/cache"
)

const issuer = "brainhub-gateway"

// validationCacheTTL bounds how long a verified token's claims are
// cached, per spec.md §4.2 ("TTL <= 15 min, bounded by token remaining
// life").
const validationCacheTTL = 15 * time.Minute

// Claims is the decoded, trusted view of a token's payload.
type Claims struct {
	SubjectID string
	Roles     []string
	ExpiresAt time.Time
}

// Service issues and verifies bearer tokens.
type Service struct {
	secret []byte
	ttl    time.Duration
	cache  *cache.Fabric
}

func NewService(secret string, ttl time.Duration, cacheFabric *cache.Fabric) *Service {
	return &Service{secret: []byte(secret), ttl: ttl, cache: cacheFabric}
}

// Issue mints a signed token for subjectID with the given roles.
func (s *Service) Issue(subjectID string, roles []string) (string, time.Time, error) {
	now := time.Now().UTC()
	expiresAt := now.Add(s.ttl)

	claims := jwt.MapClaims{
		"sub":   subjectID,
		"roles": roles,
		"iss":   issuer,
		"iat":   now.Unix(),
		"exp":   expiresAt.Unix(),
	}

	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := t.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// Verify validates tokenString's signature and expiry, consulting the
// validation cache before re-parsing. Tokens exactly at expiry are
// rejected (spec.md §8 boundary behavior).
func (s *Service) Verify(ctx context.Context, tokenString string) (Claims, error) {
	if tokenString == "" {
		return Claims{}, errors.New("token is empty")
	}

	cacheKey := "token:" + hashToken(tokenString)
	if cached, ok := s.cache.Get(ctx, cacheKey, cache.FixedPolicy{TTL: validationCacheTTL}); ok {
		claims, err := decodeCachedClaims(cached)
		if err == nil && time.Now().Before(claims.ExpiresAt) {
			return claims, nil
		}
	}

	parsed, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithIssuer(issuer))
	if err != nil || !parsed.Valid {
		return Claims{}, fmt.Errorf("jwt validation failed: %w", err)
	}

	mapClaims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return Claims{}, errors.New("unexpected claims type")
	}

	sub, _ := mapClaims["sub"].(string)
	if sub == "" {
		return Claims{}, errors.New("missing or invalid sub claim")
	}

	expFloat, _ := mapClaims["exp"].(float64)
	expiresAt := time.Unix(int64(expFloat), 0).UTC()
	if !time.Now().Before(expiresAt) {
		return Claims{}, errors.New("token expired")
	}

	var roles []string
	if raw, ok := mapClaims["roles"].([]any); ok {
		for _, r := range raw {
			if s, ok := r.(string); ok {
				roles = append(roles, s)
			}
		}
	}

	claims := Claims{SubjectID: sub, Roles: roles, ExpiresAt: expiresAt}

	ttl := validationCacheTTL
	if remaining := time.Until(expiresAt); remaining < ttl {
		ttl = remaining
	}
	if ttl > 0 {
		if err := s.cache.Set(ctx, cacheKey, encodeCachedClaims(claims), cache.FixedPolicy{TTL: ttl}); err != nil {
			log.Warn().Err(err).Msg("failed to populate token validation cache")
		}
	}

	return claims, nil
}
