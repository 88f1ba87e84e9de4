// Package metrics exposes the gateway's operational gauges and counters
// via github.com/prometheus/client_golang, grounded on the pack's own
// use of the library (jordigilh-kubernaut, howardjohn-kgateway) for the
// "Health & metrics" component spec.md §2 names: connection pool
// depths, replication lag, and the §4.3 rate-limiter degraded-mode
// indicator.
package metrics

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DBPoolAcquired/Idle/Total track the primary pool's connection
	// usage, sampled each time Readyz runs so a scrape always reflects
	// state close to the last readiness check.
	DBPoolAcquiredConns = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "brainhub_db_pool_acquired_conns",
		Help: "Connections currently acquired from the primary database pool.",
	})
	DBPoolIdleConns = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "brainhub_db_pool_idle_conns",
		Help: "Idle connections in the primary database pool.",
	})
	DBPoolTotalConns = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "brainhub_db_pool_total_conns",
		Help: "Total connections (idle + acquired) in the primary database pool.",
	})

	// ReplicationLagSeconds and HealthyReplicas are updated by
	// datarouting.Router's probe loop on every probeOnce cycle.
	ReplicationLagSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "brainhub_replication_lag_seconds",
		Help: "Replication lag observed on the primary's pg_stat_replication view.",
	})
	HealthyReplicas = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "brainhub_healthy_replicas",
		Help: "Number of replicas that passed the last health probe.",
	})

	// RateLimiterDegradedTotal counts fail-open decisions made when the
	// Redis-backed rate limiter's store is unreachable or returns a
	// malformed script result, per spec.md §4.3.
	RateLimiterDegradedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "brainhub_rate_limiter_degraded_total",
		Help: "Rate-limit checks that fail-opened because the counter store was unavailable.",
	})
)

// ObservePoolStat updates the DB pool gauges from a pgxpool snapshot,
// called from Readyz so the gauges stay fresh without a dedicated
// polling goroutine.
func ObservePoolStat(stat *pgxpool.Stat) {
	if stat == nil {
		return
	}
	DBPoolAcquiredConns.Set(float64(stat.AcquiredConns()))
	DBPoolIdleConns.Set(float64(stat.IdleConns()))
	DBPoolTotalConns.Set(float64(stat.TotalConns()))
}
