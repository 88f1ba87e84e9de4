package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/brainhub-io/gateway/internal/apperr"
	"github.com/brainhub-io/gateway/internal/datarouting"
	"github.com/brainhub-io/gateway/internal/syncx"
)

// Repository is the job store: create, get, transition, list. All
// mutations go through the router's writer face; reads go through the
// reader face unless the caller needs read-after-write consistency
// (the lifecycle service's Cancel passes useWriter=true to Get before
// transitioning, matching spec.md §4.7 "unless the caller explicitly demands
// read-after-write consistency").
type Repository struct {
	router *datarouting.Router
}

func NewRepository(router *datarouting.Router) *Repository {
	return &Repository{router: router}
}

// ErrConflict is returned when a transition's version CAS fails, either
// because another writer won the race or because the job is already
// terminal.
var ErrConflict = errors.New("version conflict or illegal transition")

// ErrNotFound is returned when a job does not exist or is not owned by
// the requesting subject.
var ErrNotFound = errors.New("job not found")

// Create inserts a new job with status PENDING and version 1.
func (r *Repository) Create(ctx context.Context, j *Job) error {
	if j.ID == uuid.Nil {
		j.ID = uuid.New()
	}
	j.Status = StatusPending
	j.Version = 1
	if j.SubmittedAt.IsZero() {
		j.SubmittedAt = time.Now().UTC()
	}
	j.UpdatedAt = j.SubmittedAt

	_, err := r.router.Writer().Exec(ctx, `
		INSERT INTO jobs (id, subject_id, submitted_at, jd_url, resume_uri,
			model_provider, model_name, status, priority, version, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		j.ID, j.SubjectID, j.SubmittedAt, j.JDURL, j.ResumeURI,
		j.ModelProvider, j.ModelName, j.Status, j.Priority, j.Version, j.UpdatedAt,
	)
	if err != nil {
		return apperr.Dependency(apperr.OriginDB, err)
	}
	return nil
}

// Get returns the job iff owned by subjectID. useWriter forces a read
// against the primary for read-after-write consistency.
func (r *Repository) Get(ctx context.Context, id uuid.UUID, subjectID string, useWriter bool) (*Job, error) {
	pool := r.router.Reader(ctx)
	if useWriter {
		pool = r.router.Writer()
	}

	j := &Job{}
	err := pool.QueryRow(ctx, `
		SELECT id, subject_id, submitted_at, jd_url, resume_uri, model_provider,
			model_name, status, priority, version, updated_at, artifact_ref, failure_reason
		FROM jobs WHERE id = $1 AND subject_id = $2`, id, subjectID,
	).Scan(&j.ID, &j.SubjectID, &j.SubmittedAt, &j.JDURL, &j.ResumeURI, &j.ModelProvider,
		&j.ModelName, &j.Status, &j.Priority, &j.Version, &j.UpdatedAt, &j.ArtifactRef, &j.FailureReason)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, apperr.Dependency(apperr.OriginDB, err)
	}
	return j, nil
}

// Patch carries the optional terminal fields a transition may set.
type Patch struct {
	ArtifactRef   *string
	FailureReason *string
}

// Transition performs a compare-and-set on version, enforcing the
// transition DAG. An illegal transition request (from -> to not in the
// DAG) is a programming error and panics, matching spec.md §4.7's
// "programming error and raises"; a version mismatch (another writer
// already moved the job, or it's already terminal) returns ErrConflict,
// which callers treat as a normal, expected race outcome.
func (r *Repository) Transition(ctx context.Context, id uuid.UUID, expectedVersion int, from, to Status, patch Patch) (*Job, error) {
	if !CanTransition(from, to) {
		panic("jobs: illegal transition " + string(from) + " -> " + string(to))
	}

	tag, err := r.router.Writer().Exec(ctx, `
		UPDATE jobs SET status = $1, version = version + 1, updated_at = now(),
			artifact_ref = COALESCE($2, artifact_ref),
			failure_reason = COALESCE($3, failure_reason)
		WHERE id = $4 AND version = $5 AND status = $6`,
		to, patch.ArtifactRef, patch.FailureReason, id, expectedVersion, from,
	)
	if err != nil {
		return nil, apperr.Dependency(apperr.OriginDB, err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrConflict
	}

	return r.getAny(ctx, id)
}

// getAny fetches a job by id alone, used internally after a transition
// where the caller (the status hub) may not know the owning subject.
func (r *Repository) getAny(ctx context.Context, id uuid.UUID) (*Job, error) {
	j := &Job{}
	err := r.router.Writer().QueryRow(ctx, `
		SELECT id, subject_id, submitted_at, jd_url, resume_uri, model_provider,
			model_name, status, priority, version, updated_at, artifact_ref, failure_reason
		FROM jobs WHERE id = $1`, id,
	).Scan(&j.ID, &j.SubjectID, &j.SubmittedAt, &j.JDURL, &j.ResumeURI, &j.ModelProvider,
		&j.ModelName, &j.Status, &j.Priority, &j.Version, &j.UpdatedAt, &j.ArtifactRef, &j.FailureReason)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, apperr.Dependency(apperr.OriginDB, err)
	}
	return j, nil
}

// TransitionByID transitions without requiring the caller to already
// hold the current row (fetches current version first). Used by the
// status hub consumer, which is idempotent on conflict per spec.md §4.9.
func (r *Repository) TransitionByID(ctx context.Context, id uuid.UUID, to Status, patch Patch) (*Job, error) {
	current, err := r.getAny(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status.IsTerminal() || current.Status == to {
		return nil, ErrConflict
	}
	return r.Transition(ctx, id, current.Version, current.Status, to, patch)
}

// ListFilter narrows List by status; zero value lists all.
type ListFilter struct {
	Status Status
}

// CountByStatus returns how many of subjectID's jobs are in status,
// served from the reader face since dashboard stats tolerate brief
// staleness (it sits behind a 5-minute cache anyway).
func (r *Repository) CountByStatus(ctx context.Context, subjectID string, status Status) (int, error) {
	var count int
	err := r.router.Reader(ctx).QueryRow(ctx, `
		SELECT count(*) FROM jobs WHERE subject_id = $1 AND status = $2`, subjectID, status,
	).Scan(&count)
	if err != nil {
		return 0, apperr.Dependency(apperr.OriginDB, err)
	}
	return count, nil
}

// Page is a cursor-paginated window over a subject's jobs, served from
// the reader face, generalizing the teacher's base64(ms|uuid) cursor
// (internal/syncx/cursor.go) from sync pull pagination to job listing.
type Page struct {
	Jobs       []*Job
	NextCursor string
}

// List returns a page of jobs owned by subjectID, newest first.
func (r *Repository) List(ctx context.Context, subjectID string, filter ListFilter, cursor string, limit int) (*Page, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	var afterMs int64 = 1<<63 - 1
	var afterID uuid.UUID
	if c, ok := syncx.DecodeCursor(cursor); ok {
		afterMs = c.Ms
		afterID = c.UID
	}

	pool := r.router.Reader(ctx)

	var rows pgx.Rows
	var err error
	if filter.Status != "" {
		rows, err = pool.Query(ctx, `
			SELECT id, subject_id, submitted_at, jd_url, resume_uri, model_provider,
				model_name, status, priority, version, updated_at, artifact_ref, failure_reason
			FROM jobs
			WHERE subject_id = $1 AND status = $2
				AND (EXTRACT(EPOCH FROM submitted_at)*1000 < $3
					OR (EXTRACT(EPOCH FROM submitted_at)*1000 = $3 AND id < $4))
			ORDER BY submitted_at DESC, id DESC
			LIMIT $5`, subjectID, filter.Status, afterMs, afterID, limit+1)
	} else {
		rows, err = pool.Query(ctx, `
			SELECT id, subject_id, submitted_at, jd_url, resume_uri, model_provider,
				model_name, status, priority, version, updated_at, artifact_ref, failure_reason
			FROM jobs
			WHERE subject_id = $1
				AND (EXTRACT(EPOCH FROM submitted_at)*1000 < $2
					OR (EXTRACT(EPOCH FROM submitted_at)*1000 = $2 AND id < $3))
			ORDER BY submitted_at DESC, id DESC
			LIMIT $4`, subjectID, afterMs, afterID, limit+1)
	}
	if err != nil {
		return nil, apperr.Dependency(apperr.OriginDB, err)
	}
	defer rows.Close()

	var out []*Job
	for rows.Next() {
		j := &Job{}
		if err := rows.Scan(&j.ID, &j.SubjectID, &j.SubmittedAt, &j.JDURL, &j.ResumeURI, &j.ModelProvider,
			&j.ModelName, &j.Status, &j.Priority, &j.Version, &j.UpdatedAt, &j.ArtifactRef, &j.FailureReason); err != nil {
			return nil, apperr.Dependency(apperr.OriginDB, err)
		}
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Dependency(apperr.OriginDB, err)
	}

	page := &Page{}
	if len(out) > limit {
		last := out[limit-1]
		page.NextCursor = syncx.EncodeCursor(syncx.Cursor{
			Ms:  last.SubmittedAt.UnixMilli(),
			UID: last.ID,
		})
		out = out[:limit]
	}
	page.Jobs = out
	return page, nil
}
