package domain

import "context"

// ArtifactRepository defines persistence for artifact records.
type ArtifactRepository interface {
	Create(ctx context.Context, a *Artifact) error
	Get(ctx context.Context, id string) (*Artifact, error)
	// Transition moves an artifact from one status to another as a single
	// conditional update. It reports whether the update applied; false with a
	// nil error means the artifact was not in the expected status.
	Transition(ctx context.Context, id string, from, to ArtifactStatus) (bool, error)
	// MarkVerified flips the artifact to VERIFIED and records the
	// store-observed size plus the checksum the client confirmed with (kept so
	// repeat confirmations can be matched exactly). An empty checksum leaves
	// the declared one in place. No-op once a terminal status is reached.
	MarkVerified(ctx context.Context, id string, actualSize int64, checksum string) (bool, error)
}

// JobRepository defines persistence for generation jobs. Every mutating method
// is a single conditional operation; callers rely on the applied flag to
// detect lost races instead of reading state first.
type JobRepository interface {
	Create(ctx context.Context, job *Job) error
	Get(ctx context.Context, id string) (*Job, error)
	// ClaimQueued atomically transitions one QUEUED job to RUNNING and returns
	// it. First-claimed-wins; returns ErrNoJobAvailable when the queue is
	// empty.
	ClaimQueued(ctx context.Context) (*Job, error)
	// UpdateProgress raises the progress of a RUNNING job, never lowering it,
	// and returns the effective value after the update.
	UpdateProgress(ctx context.Context, id string, percent int) (int, bool, error)
	FinishSuccess(ctx context.Context, id, resultRef string) (bool, error)
	FinishFailure(ctx context.Context, id, detail string, category ErrorCategory) (bool, error)
	// CancelQueued transitions a QUEUED job to CANCELLED. A job already
	// claimed by a worker cannot be cancelled.
	CancelQueued(ctx context.Context, id string) (bool, error)
}

// CreditLedger is the atomic check-and-reserve interface over tenant credit
// balances. Reserve is a single decrement-if-sufficient operation, safe under
// concurrent reservations from the same tenant.
type CreditLedger interface {
	Reserve(ctx context.Context, tenantID string, amount int64) (*CreditHold, error)
	// Commit settles a held reservation. Settling a hold that is no longer
	// HELD is a no-op, which makes result delivery idempotent.
	Commit(ctx context.Context, holdID string) error
	// Release refunds a held reservation in full. Same no-op rule as Commit.
	Release(ctx context.Context, holdID string) error
	Available(ctx context.Context, tenantID string) (int64, error)
}
