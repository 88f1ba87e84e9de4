package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/brainhub-io/gateway/internal/cache"
	"github.com/brainhub-io/gateway/internal/jobs"
	"github.com/brainhub-io/gateway/internal/security"
)

type dashboardStats struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Cancelled  int `json:"cancelled"`
}

// DashboardStats is GET /dashboard/stats, cached per subject with a 5
// minute TTL per spec.md §4.4's named policy table.
func (s *Server) DashboardStats(w http.ResponseWriter, r *http.Request) {
	subjectID := security.SubjectID(r.Context())
	key := "dashboard:stats:" + subjectID

	raw, err := s.Fabric.GetOrLoad(r.Context(), key, cache.DashboardStats, func(ctx context.Context) ([]byte, error) {
		return s.computeDashboardStats(ctx, subjectID)
	})
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "failed to compute dashboard stats")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}

func (s *Server) computeDashboardStats(ctx context.Context, subjectID string) ([]byte, error) {
	stats := dashboardStats{}
	for _, status := range []jobs.Status{
		jobs.StatusPending, jobs.StatusProcessing, jobs.StatusCompleted,
		jobs.StatusFailed, jobs.StatusCancelled,
	} {
		count, err := s.Repo.CountByStatus(ctx, subjectID, status)
		if err != nil {
			return nil, err
		}
		switch status {
		case jobs.StatusPending:
			stats.Pending = count
		case jobs.StatusProcessing:
			stats.Processing = count
		case jobs.StatusCompleted:
			stats.Completed = count
		case jobs.StatusFailed:
			stats.Failed = count
		case jobs.StatusCancelled:
			stats.Cancelled = count
		}
	}
	return json.Marshal(stats)
}
