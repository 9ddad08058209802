// Package orchestrator owns the generation job state machine. Workers never
// touch job state directly: they claim through the orchestrator and hand back
// progress and outcome events, which this package interprets against the
// QUEUED→RUNNING→{SUCCEEDED,FAILED} / QUEUED→CANCELLED transition rules.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"forge/internal/domain"
	"forge/internal/gate"
	"forge/internal/progress"
	"forge/internal/queue"
)

const (
	defaultAdmitAttempts = 3
	defaultAdmitBackoff  = 200 * time.Millisecond
)

// OperationSpec carries admission and execution settings for one operation
// type.
type OperationSpec struct {
	CostCredits int64
	RateMax     int
	RateWindow  time.Duration
	Deadline    time.Duration
}

// Outcome is the event a worker emits when a job finishes. Exactly one of
// ResultRef and ErrDetail is set.
type Outcome struct {
	ResultRef   string
	ErrDetail   string
	ErrCategory domain.ErrorCategory
}

// Success builds a successful outcome.
func Success(resultRef string) Outcome {
	return Outcome{ResultRef: resultRef}
}

// Failure builds a failed outcome.
func Failure(detail string, category domain.ErrorCategory) Outcome {
	return Outcome{ErrDetail: detail, ErrCategory: category}
}

// Orchestrator admits, queues and finalizes generation jobs.
type Orchestrator struct {
	artifacts domain.ArtifactRepository
	jobs      domain.JobRepository
	ledger    domain.CreditLedger
	limiter   gate.Limiter
	notifier  queue.Notifier
	hub       progress.Stream
	ops       map[domain.OperationType]OperationSpec
	logger    zerolog.Logger

	admitAttempts int
	admitBackoff  time.Duration
}

// New wires an orchestrator. notifier may be queue.NopNotifier{} when no
// broker is configured.
func New(
	artifacts domain.ArtifactRepository,
	jobs domain.JobRepository,
	ledger domain.CreditLedger,
	limiter gate.Limiter,
	notifier queue.Notifier,
	hub progress.Stream,
	ops map[domain.OperationType]OperationSpec,
	logger zerolog.Logger,
) *Orchestrator {
	return &Orchestrator{
		artifacts:     artifacts,
		jobs:          jobs,
		ledger:        ledger,
		limiter:       limiter,
		notifier:      notifier,
		hub:           hub,
		ops:           ops,
		logger:        logger,
		admitAttempts: defaultAdmitAttempts,
		admitBackoff:  defaultAdmitBackoff,
	}
}

// Deadline returns the execution deadline for an operation type.
func (o *Orchestrator) Deadline(op domain.OperationType) time.Duration {
	if spec, ok := o.ops[op]; ok && spec.Deadline > 0 {
		return spec.Deadline
	}
	return 2 * time.Minute
}

// Submit admits a generation request. The artifact check, the rate gate and
// the credit reserve all run before any job row exists, so a rejection leaves
// nothing behind. Submission only enqueues; it never waits for a worker.
func (o *Orchestrator) Submit(ctx context.Context, tenantID, userID, artifactID string, op domain.OperationType, config json.RawMessage) (*domain.Job, error) {
	if !domain.KnownOperation(op) {
		return nil, fmt.Errorf("%w: unsupported operation %q", domain.ErrInvalidRequest, op)
	}
	spec, ok := o.ops[op]
	if !ok {
		return nil, fmt.Errorf("%w: operation %q not configured", domain.ErrInvalidRequest, op)
	}

	artifact, err := o.artifacts.Get(ctx, artifactID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrArtifactNotReady
		}
		return nil, err
	}
	if artifact.TenantID != tenantID || artifact.Status != domain.ArtifactStatusVerified {
		return nil, domain.ErrArtifactNotReady
	}

	var decision gate.Decision
	key := gate.Key(tenantID, userID, op)
	err = o.retryTransient(ctx, func() error {
		var allowErr error
		decision, allowErr = o.limiter.Allow(ctx, key, spec.RateMax, spec.RateWindow)
		return allowErr
	})
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		return nil, &domain.RateLimitedError{RetryAfter: decision.RetryAfter, Limit: spec.RateMax}
	}

	var hold *domain.CreditHold
	err = o.retryTransient(ctx, func() error {
		var resErr error
		hold, resErr = o.ledger.Reserve(ctx, tenantID, spec.CostCredits)
		return resErr
	})
	if err != nil {
		return nil, err
	}

	job := &domain.Job{
		ID:          uuid.NewString(),
		TenantID:    tenantID,
		RequesterID: userID,
		ArtifactID:  artifactID,
		Operation:   op,
		Config:      config,
		Status:      domain.JobStatusQueued,
		HoldID:      hold.ID,
		QueuedAt:    time.Now().UTC(),
	}
	if err := o.jobs.Create(ctx, job); err != nil {
		if relErr := o.ledger.Release(ctx, hold.ID); relErr != nil {
			o.logger.Error().Err(relErr).Str("hold_id", hold.ID).Msg("orchestrator: release after failed create")
		}
		return nil, fmt.Errorf("create job: %w", err)
	}

	// The notification carries the job id only; workers re-read job state so
	// a stale payload can never race a cancellation.
	if err := o.notifier.JobQueued(ctx, job.ID); err != nil {
		o.logger.Warn().Err(err).Str("job_id", job.ID).Msg("orchestrator: queue notification failed")
	}
	o.hub.Publish(progress.Update{JobID: job.ID, Status: domain.JobStatusQueued, Percent: 0})

	o.logger.Info().
		Str("job_id", job.ID).
		Str("tenant_id", tenantID).
		Str("operation", string(op)).
		Msg("orchestrator: job queued")
	return job, nil
}

// Claim hands the oldest queued job to a worker, or ErrNoJobAvailable. The
// repository transition is conditional, so contending workers lose silently
// rather than sharing a job.
func (o *Orchestrator) Claim(ctx context.Context) (*domain.Job, error) {
	job, err := o.jobs.ClaimQueued(ctx)
	if err != nil {
		return nil, err
	}
	o.hub.Publish(progress.Update{JobID: job.ID, Status: domain.JobStatusRunning, Percent: job.Progress})
	return job, nil
}

// ReportProgress records a progress sample for a running job. Values never
// regress; reports against non-running jobs are ignored.
func (o *Orchestrator) ReportProgress(ctx context.Context, jobID string, percent int) error {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	effective, applied, err := o.jobs.UpdateProgress(ctx, jobID, percent)
	if err != nil {
		return err
	}
	if !applied {
		return nil
	}
	o.hub.Publish(progress.Update{JobID: jobID, Status: domain.JobStatusRunning, Percent: effective})
	return nil
}

// ReportResult finalizes a job and settles its credit hold. It is idempotent:
// the terminal transition is conditional, and only the caller that wins it
// settles credits, so duplicate delivery can never double-commit or
// double-refund.
func (o *Orchestrator) ReportResult(ctx context.Context, jobID string, outcome Outcome) error {
	job, err := o.jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return nil
	}

	if outcome.ErrDetail == "" {
		applied, err := o.jobs.FinishSuccess(ctx, jobID, outcome.ResultRef)
		if err != nil {
			return err
		}
		if !applied {
			return nil
		}
		if err := o.ledger.Commit(ctx, job.HoldID); err != nil {
			return fmt.Errorf("commit hold: %w", err)
		}
		o.hub.Publish(progress.Update{JobID: jobID, Status: domain.JobStatusSucceeded, Percent: 100})
		o.logger.Info().Str("job_id", jobID).Msg("orchestrator: job succeeded")
		return nil
	}

	category := outcome.ErrCategory
	if category == "" {
		category = domain.ErrorCategoryWorker
	}
	applied, err := o.jobs.FinishFailure(ctx, jobID, outcome.ErrDetail, category)
	if err != nil {
		return err
	}
	if !applied {
		return nil
	}
	if err := o.ledger.Release(ctx, job.HoldID); err != nil {
		return fmt.Errorf("release hold: %w", err)
	}
	o.hub.Publish(progress.Update{JobID: jobID, Status: domain.JobStatusFailed, Percent: job.Progress})
	o.logger.Warn().
		Str("job_id", jobID).
		Str("category", string(category)).
		Str("detail", outcome.ErrDetail).
		Msg("orchestrator: job failed")
	return nil
}

// Cancel cancels a job that no worker has claimed yet and refunds its hold.
// Cancelling a running job is not supported; the worker deadline bounds how
// long a running job can live.
func (o *Orchestrator) Cancel(ctx context.Context, jobID string) (*domain.Job, error) {
	applied, err := o.jobs.CancelQueued(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !applied {
		job, err := o.jobs.Get(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if job.Status == domain.JobStatusCancelled {
			return job, nil
		}
		return nil, domain.ErrNotCancellable
	}

	job, err := o.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if err := o.ledger.Release(ctx, job.HoldID); err != nil {
		return nil, fmt.Errorf("release hold: %w", err)
	}
	o.hub.Publish(progress.Update{JobID: jobID, Status: domain.JobStatusCancelled, Percent: job.Progress})
	o.logger.Info().Str("job_id", jobID).Msg("orchestrator: job cancelled")
	return job, nil
}

// retryTransient runs fn with bounded exponential backoff, retrying only
// failures classified ErrBackendUnavailable. Everything else, a possibly
// committed database error included, surfaces immediately.
func (o *Orchestrator) retryTransient(ctx context.Context, fn func() error) error {
	backoff := o.admitBackoff
	var err error
	for attempt := 0; attempt < o.admitAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
		if err = fn(); err == nil || !errors.Is(err, domain.ErrBackendUnavailable) {
			return err
		}
	}
	return err
}

// GetJob returns the authoritative job state.
func (o *Orchestrator) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	return o.jobs.Get(ctx, jobID)
}

// Subscribe attaches an observer to a job's progress stream.
func (o *Orchestrator) Subscribe(jobID string) (<-chan progress.Update, func()) {
	return o.hub.Subscribe(jobID)
}
