// Package quota enforces a subject's monthly unit quota before a job
// is admitted, per spec.md §4.12. Plan lookups ride the cache fabric's
// "plans" policy (24 h TTL); usage increments are best-effort and
// at-least-once, since a distributed transaction spanning the cache,
// the counter store, and job creation is explicitly out of scope.
package quota

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/brainhub-io/gateway/internal/apperr"
	"github.com/brainhub-io/gateway/internal/cache"
)

// Plan is a subscription tier's monthly allotment. MonthlyCap is nil
// for an unlimited plan, per spec.md §3.
type Plan struct {
	SubjectID   string
	MonthlyCap  *int64
	UnitsPerJob int64
}

// Service reads the subject's plan and current usage, admitting a job
// only if the post-increment usage would stay within MonthlyCap.
type Service struct {
	fabric *cache.Fabric
	writer *pgxpool.Pool
}

func NewService(fabric *cache.Fabric, writer *pgxpool.Pool) *Service {
	return &Service{fabric: fabric, writer: writer}
}

// Check loads subjectID's plan (cached) and current usage counter
// (uncached -- usage must be read fresh to avoid admitting far past
// the cap off a stale cache hit) and returns apperr.KindQuota if
// admitting one more job would exceed MonthlyCap.
func (s *Service) Check(ctx context.Context, subjectID string) error {
	plan, err := s.planFor(ctx, subjectID)
	if err != nil {
		return err
	}

	if plan.MonthlyCap == nil {
		return nil
	}

	used, err := s.unitsUsed(ctx, subjectID)
	if err != nil {
		return err
	}

	if used+plan.UnitsPerJob > *plan.MonthlyCap {
		return apperr.New(apperr.KindQuota, "monthly quota exceeded")
	}
	return nil
}

// RecordUsage increments the subject's usage counter after a
// successful dispatch. Failure is logged, not propagated: spec.md
// §4.12 accepts duplicate or lost increments rather than blocking the
// response on a counter write.
func (s *Service) RecordUsage(ctx context.Context, subjectID string, units int64) {
	_, err := s.writer.Exec(ctx, `
		INSERT INTO usage_counter (subject_id, period, units_used)
		VALUES ($1, date_trunc('month', now()), $2)
		ON CONFLICT (subject_id, period) DO UPDATE SET units_used = usage_counter.units_used + $2`,
		subjectID, units)
	if err != nil {
		log.Warn().Err(err).Str("subject_id", subjectID).Msg("failed to record usage, continuing")
	}
}

func (s *Service) planFor(ctx context.Context, subjectID string) (Plan, error) {
	key := "plans:" + subjectID
	raw, err := s.fabric.GetOrLoad(ctx, key, cache.PlansPolicy, func(ctx context.Context) ([]byte, error) {
		return s.loadPlanFromDB(ctx, subjectID)
	})
	if err != nil {
		return Plan{}, err
	}
	return decodePlan(raw)
}

func (s *Service) loadPlanFromDB(ctx context.Context, subjectID string) ([]byte, error) {
	var monthlyCap *int64
	var perJob int64
	err := s.writer.QueryRow(ctx, `
		SELECT monthly_cap, units_per_job FROM subscriptions WHERE subject_id = $1`, subjectID,
	).Scan(&monthlyCap, &perJob)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.KindNotFound, "no subscription found for subject")
	}
	if err != nil {
		return nil, apperr.Dependency(apperr.OriginDB, err)
	}
	return encodePlan(Plan{SubjectID: subjectID, MonthlyCap: monthlyCap, UnitsPerJob: perJob})
}

func (s *Service) unitsUsed(ctx context.Context, subjectID string) (int64, error) {
	var used int64
	err := s.writer.QueryRow(ctx, `
		SELECT COALESCE(units_used, 0) FROM usage_counter
		WHERE subject_id = $1 AND period = date_trunc('month', now())`, subjectID,
	).Scan(&used)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, apperr.Dependency(apperr.OriginDB, err)
	}
	return used, nil
}

func encodePlan(p Plan) ([]byte, error) {
	return json.Marshal(p)
}

func decodePlan(raw []byte) (Plan, error) {
	var p Plan
	err := json.Unmarshal(raw, &p)
	return p, err
}
