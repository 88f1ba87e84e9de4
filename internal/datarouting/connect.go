package datarouting

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// Connect opens a PostgreSQL connection pool, generalizing the teacher's
// internal/db/pg.go Open function (same pool sizing and health-check
// cadence) so it can be called once per primary/replica endpoint.
func Connect(ctx context.Context, url string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, err
	}

	cfg.MaxConns = 20
	cfg.MinConns = 2
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 30 * time.Minute
	cfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	log.Info().
		Int32("max_conns", cfg.MaxConns).
		Int32("min_conns", cfg.MinConns).
		Msg("postgres connection pool created")

	return pool, nil
}

// ConnectAll opens the primary and every replica endpoint. A primary
// failure is returned as an error; a replica that fails to connect is
// logged and left out of the returned slice, with no error returned.
func ConnectAll(ctx context.Context, primaryURL string, replicaURLs []string) (*pgxpool.Pool, []*pgxpool.Pool, error) {
	primary, err := Connect(ctx, primaryURL)
	if err != nil {
		return nil, nil, err
	}

	replicas := make([]*pgxpool.Pool, 0, len(replicaURLs))
	for _, u := range replicaURLs {
		p, err := Connect(ctx, u)
		if err != nil {
			log.Warn().Err(err).Str("url", u).Msg("failed to connect to replica, starting without it")
			continue
		}
		replicas = append(replicas, p)
	}

	return primary, replicas, nil
}
