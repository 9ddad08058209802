package repo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"forge/internal/domain"
)

const jobColumns = `id, tenant_id, requester_id, artifact_id, operation, config, status, progress, result_ref, error_detail, error_category, hold_id, queued_at, started_at, finished_at`

// JobRepositoryPG implements domain.JobRepository.
type JobRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewJobRepository creates a new job repository backed by PostgreSQL.
func NewJobRepository(pool *pgxpool.Pool) *JobRepositoryPG {
	return &JobRepositoryPG{pool: pool}
}

// Create inserts a new job record.
func (r *JobRepositoryPG) Create(ctx context.Context, job *domain.Job) error {
	query := `
INSERT INTO generation_jobs (` + jobColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15);
`
	_, err := r.pool.Exec(ctx, query,
		job.ID,
		job.TenantID,
		job.RequesterID,
		job.ArtifactID,
		job.Operation,
		job.Config,
		job.Status,
		job.Progress,
		job.ResultRef,
		job.ErrorDetail,
		job.ErrorCategory,
		job.HoldID,
		job.QueuedAt,
		job.StartedAt,
		job.FinishedAt,
	)
	return err
}

// Get fetches a job by its identifier.
func (r *JobRepositoryPG) Get(ctx context.Context, id string) (*domain.Job, error) {
	query := `
SELECT ` + jobColumns + `
FROM generation_jobs
WHERE id = $1;
`
	return r.scanJob(r.pool.QueryRow(ctx, query, id))
}

// ClaimQueued atomically moves the oldest QUEUED job to RUNNING and returns
// it. FOR UPDATE SKIP LOCKED guarantees first-claimed-wins: two workers can
// never receive the same job.
func (r *JobRepositoryPG) ClaimQueued(ctx context.Context) (*domain.Job, error) {
	query := `
WITH next_job AS (
    SELECT id
    FROM generation_jobs
    WHERE status = 'QUEUED'
    ORDER BY queued_at ASC
    FOR UPDATE SKIP LOCKED
    LIMIT 1
),
claimed AS (
    UPDATE generation_jobs
    SET status = 'RUNNING', started_at = now()
    WHERE id IN (SELECT id FROM next_job)
    RETURNING ` + jobColumns + `
)
SELECT ` + jobColumns + ` FROM claimed;
`
	job, err := r.scanJob(r.pool.QueryRow(ctx, query))
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ErrNoJobAvailable
	}
	return job, err
}

// UpdateProgress raises progress on a RUNNING job. GREATEST keeps the value
// monotonic even when reports arrive out of order.
func (r *JobRepositoryPG) UpdateProgress(ctx context.Context, id string, percent int) (int, bool, error) {
	query := `
UPDATE generation_jobs
SET progress = GREATEST(progress, $2)
WHERE id = $1 AND status = 'RUNNING'
RETURNING progress;
`
	var effective int
	if err := r.pool.QueryRow(ctx, query, id, percent).Scan(&effective); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return effective, true, nil
}

// FinishSuccess completes a RUNNING job.
func (r *JobRepositoryPG) FinishSuccess(ctx context.Context, id, resultRef string) (bool, error) {
	query := `
UPDATE generation_jobs
SET status = 'SUCCEEDED', progress = 100, result_ref = $2, finished_at = now()
WHERE id = $1 AND status = 'RUNNING';
`
	tag, err := r.pool.Exec(ctx, query, id, resultRef)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// FinishFailure fails a RUNNING job with detail and category.
func (r *JobRepositoryPG) FinishFailure(ctx context.Context, id, detail string, category domain.ErrorCategory) (bool, error) {
	query := `
UPDATE generation_jobs
SET status = 'FAILED', error_detail = $2, error_category = $3, finished_at = now()
WHERE id = $1 AND status = 'RUNNING';
`
	tag, err := r.pool.Exec(ctx, query, id, detail, category)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// CancelQueued cancels a job that no worker has claimed yet.
func (r *JobRepositoryPG) CancelQueued(ctx context.Context, id string) (bool, error) {
	query := `
UPDATE generation_jobs
SET status = 'CANCELLED', finished_at = now()
WHERE id = $1 AND status = 'QUEUED';
`
	tag, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *JobRepositoryPG) scanJob(row pgx.Row) (*domain.Job, error) {
	var job domain.Job
	if err := row.Scan(
		&job.ID,
		&job.TenantID,
		&job.RequesterID,
		&job.ArtifactID,
		&job.Operation,
		&job.Config,
		&job.Status,
		&job.Progress,
		&job.ResultRef,
		&job.ErrorDetail,
		&job.ErrorCategory,
		&job.HoldID,
		&job.QueuedAt,
		&job.StartedAt,
		&job.FinishedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &job, nil
}

var _ domain.JobRepository = (*JobRepositoryPG)(nil)
