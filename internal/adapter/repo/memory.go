package repo

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"forge/internal/domain"
)

// The in-memory repositories below mirror the PostgreSQL ones for development
// and test environments where a database is not available. Each mutation holds
// one mutex for its full duration, which preserves the same atomicity the SQL
// statements provide.

// MemoryArtifactRepository implements domain.ArtifactRepository in memory.
type MemoryArtifactRepository struct {
	mu        sync.Mutex
	artifacts map[string]*domain.Artifact
}

func NewMemoryArtifactRepository() *MemoryArtifactRepository {
	return &MemoryArtifactRepository{artifacts: make(map[string]*domain.Artifact)}
}

func (r *MemoryArtifactRepository) Create(ctx context.Context, a *domain.Artifact) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *a
	r.artifacts[a.ID] = &clone
	return nil
}

func (r *MemoryArtifactRepository) Get(ctx context.Context, id string) (*domain.Artifact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.artifacts[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	clone := *a
	return &clone, nil
}

func (r *MemoryArtifactRepository) Transition(ctx context.Context, id string, from, to domain.ArtifactStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.artifacts[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	if a.Status != from {
		return false, nil
	}
	a.Status = to
	return true, nil
}

func (r *MemoryArtifactRepository) MarkVerified(ctx context.Context, id string, actualSize int64, checksum string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.artifacts[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	if a.Status == domain.ArtifactStatusVerified || a.Status == domain.ArtifactStatusRejected {
		return false, nil
	}
	a.Status = domain.ArtifactStatusVerified
	a.ActualSize = actualSize
	if checksum != "" {
		a.Checksum = checksum
	}
	return true, nil
}

// MemoryJobRepository implements domain.JobRepository in memory.
type MemoryJobRepository struct {
	mu   sync.Mutex
	jobs map[string]*domain.Job
}

func NewMemoryJobRepository() *MemoryJobRepository {
	return &MemoryJobRepository{jobs: make(map[string]*domain.Job)}
}

func (r *MemoryJobRepository) Create(ctx context.Context, job *domain.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *job
	r.jobs[job.ID] = &clone
	return nil
}

func (r *MemoryJobRepository) Get(ctx context.Context, id string) (*domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	clone := *job
	return &clone, nil
}

func (r *MemoryJobRepository) ClaimQueued(ctx context.Context) (*domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var queued []*domain.Job
	for _, job := range r.jobs {
		if job.Status == domain.JobStatusQueued {
			queued = append(queued, job)
		}
	}
	if len(queued) == 0 {
		return nil, domain.ErrNoJobAvailable
	}
	sort.Slice(queued, func(i, j int) bool { return queued[i].QueuedAt.Before(queued[j].QueuedAt) })
	job := queued[0]
	job.Status = domain.JobStatusRunning
	now := time.Now().UTC()
	job.StartedAt = &now
	clone := *job
	return &clone, nil
}

func (r *MemoryJobRepository) UpdateProgress(ctx context.Context, id string, percent int) (int, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok || job.Status != domain.JobStatusRunning {
		return 0, false, nil
	}
	if percent > job.Progress {
		job.Progress = percent
	}
	return job.Progress, true, nil
}

func (r *MemoryJobRepository) FinishSuccess(ctx context.Context, id, resultRef string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok || job.Status != domain.JobStatusRunning {
		return false, nil
	}
	job.Status = domain.JobStatusSucceeded
	job.Progress = 100
	job.ResultRef = resultRef
	now := time.Now().UTC()
	job.FinishedAt = &now
	return true, nil
}

func (r *MemoryJobRepository) FinishFailure(ctx context.Context, id, detail string, category domain.ErrorCategory) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok || job.Status != domain.JobStatusRunning {
		return false, nil
	}
	job.Status = domain.JobStatusFailed
	job.ErrorDetail = detail
	job.ErrorCategory = category
	now := time.Now().UTC()
	job.FinishedAt = &now
	return true, nil
}

func (r *MemoryJobRepository) CancelQueued(ctx context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok || job.Status != domain.JobStatusQueued {
		return false, nil
	}
	job.Status = domain.JobStatusCancelled
	now := time.Now().UTC()
	job.FinishedAt = &now
	return true, nil
}

// MemoryCreditLedger implements domain.CreditLedger in memory.
type MemoryCreditLedger struct {
	mu       sync.Mutex
	balances map[string]int64
	holds    map[string]*domain.CreditHold
}

func NewMemoryCreditLedger() *MemoryCreditLedger {
	return &MemoryCreditLedger{
		balances: make(map[string]int64),
		holds:    make(map[string]*domain.CreditHold),
	}
}

// SetBalance seeds a tenant's available balance.
func (l *MemoryCreditLedger) SetBalance(tenantID string, balance int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[tenantID] = balance
}

func (l *MemoryCreditLedger) Reserve(ctx context.Context, tenantID string, amount int64) (*domain.CreditHold, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	balance, ok := l.balances[tenantID]
	if !ok || balance < amount {
		return nil, domain.ErrInsufficientCredit
	}
	l.balances[tenantID] = balance - amount
	hold := &domain.CreditHold{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		Amount:    amount,
		Status:    domain.HoldStatusHeld,
		CreatedAt: time.Now().UTC(),
	}
	l.holds[hold.ID] = hold
	clone := *hold
	return &clone, nil
}

func (l *MemoryCreditLedger) Commit(ctx context.Context, holdID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	hold, ok := l.holds[holdID]
	if !ok || hold.Status != domain.HoldStatusHeld {
		return nil
	}
	hold.Status = domain.HoldStatusCommitted
	return nil
}

func (l *MemoryCreditLedger) Release(ctx context.Context, holdID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	hold, ok := l.holds[holdID]
	if !ok || hold.Status != domain.HoldStatusHeld {
		return nil
	}
	hold.Status = domain.HoldStatusReleased
	l.balances[hold.TenantID] += hold.Amount
	return nil
}

func (l *MemoryCreditLedger) Available(ctx context.Context, tenantID string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	balance, ok := l.balances[tenantID]
	if !ok {
		return 0, domain.ErrNotFound
	}
	return balance, nil
}

var (
	_ domain.ArtifactRepository = (*MemoryArtifactRepository)(nil)
	_ domain.JobRepository      = (*MemoryJobRepository)(nil)
	_ domain.CreditLedger       = (*MemoryCreditLedger)(nil)
)
