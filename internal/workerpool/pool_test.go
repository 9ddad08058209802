package workerpool

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"forge/internal/adapter/repo"
	"forge/internal/domain"
	"forge/internal/gate"
	"forge/internal/orchestrator"
	"forge/internal/progress"
	"forge/internal/queue"
)

func newTestOrchestrator(t *testing.T, deadline time.Duration) (*orchestrator.Orchestrator, *repo.MemoryCreditLedger) {
	t.Helper()
	artifacts := repo.NewMemoryArtifactRepository()
	jobs := repo.NewMemoryJobRepository()
	ledger := repo.NewMemoryCreditLedger()
	ledger.SetBalance("tenant-a", 1000)

	a := &domain.Artifact{ID: "artifact-1", TenantID: "tenant-a", Status: domain.ArtifactStatusVerified}
	if err := artifacts.Create(context.Background(), a); err != nil {
		t.Fatalf("seed artifact: %v", err)
	}

	specs := map[domain.OperationType]orchestrator.OperationSpec{
		domain.OperationImage: {CostCredits: 10, RateMax: 100, RateWindow: time.Minute, Deadline: deadline},
	}
	orc := orchestrator.New(artifacts, jobs, ledger, gate.NewMemoryLimiter(), queue.NopNotifier{}, progress.NewHub(), specs, zerolog.Nop())
	return orc, ledger
}

func submitJob(t *testing.T, orc *orchestrator.Orchestrator) *domain.Job {
	t.Helper()
	job, err := orc.Submit(context.Background(), "tenant-a", "user-1", "artifact-1", domain.OperationImage, nil)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	return job
}

func waitTerminal(t *testing.T, orc *orchestrator.Orchestrator, jobID string) *domain.Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := orc.GetJob(context.Background(), jobID)
		if err != nil {
			t.Fatalf("GetJob() error = %v", err)
		}
		if job.Status.Terminal() {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s never reached a terminal state", jobID)
	return nil
}

func TestPoolRunsJobToSuccess(t *testing.T) {
	orc, ledger := newTestOrchestrator(t, time.Minute)
	job := submitJob(t, orc)

	generate := func(ctx context.Context, job *domain.Job, report func(int)) (string, error) {
		report(50)
		return "results/" + job.ID, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	pool := New(2, orc, generate, 10*time.Millisecond, nil, zerolog.Nop())
	go func() {
		defer close(done)
		_ = pool.Run(ctx)
	}()

	finished := waitTerminal(t, orc, job.ID)
	cancel()
	<-done

	if finished.Status != domain.JobStatusSucceeded {
		t.Fatalf("Status = %s, want SUCCEEDED", finished.Status)
	}
	if finished.ResultRef != "results/"+job.ID {
		t.Fatalf("ResultRef = %q", finished.ResultRef)
	}
	if balance, _ := ledger.Available(context.Background(), "tenant-a"); balance != 990 {
		t.Fatalf("balance = %d, want 990: success commits the hold", balance)
	}
}

func TestPoolEnforcesDeadline(t *testing.T) {
	orc, ledger := newTestOrchestrator(t, 30*time.Millisecond)
	job := submitJob(t, orc)

	generate := func(ctx context.Context, job *domain.Job, report func(int)) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	pool := New(1, orc, generate, 10*time.Millisecond, nil, zerolog.Nop())
	go func() {
		defer close(done)
		_ = pool.Run(ctx)
	}()

	finished := waitTerminal(t, orc, job.ID)
	cancel()
	<-done

	if finished.Status != domain.JobStatusFailed {
		t.Fatalf("Status = %s, want FAILED", finished.Status)
	}
	if finished.ErrorCategory != domain.ErrorCategoryTimeout {
		t.Fatalf("ErrorCategory = %s, want timeout", finished.ErrorCategory)
	}
	if balance, _ := ledger.Available(context.Background(), "tenant-a"); balance != 1000 {
		t.Fatalf("balance = %d, want refunded 1000", balance)
	}
}

func TestPoolContainsPanicsAndKeepsRunning(t *testing.T) {
	orc, _ := newTestOrchestrator(t, time.Minute)
	bad := submitJob(t, orc)
	good := submitJob(t, orc)

	generate := func(ctx context.Context, job *domain.Job, report func(int)) (string, error) {
		if job.ID == bad.ID {
			panic("generator blew up")
		}
		return "results/" + job.ID, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	pool := New(1, orc, generate, 10*time.Millisecond, nil, zerolog.Nop())
	go func() {
		defer close(done)
		_ = pool.Run(ctx)
	}()

	badFinished := waitTerminal(t, orc, bad.ID)
	goodFinished := waitTerminal(t, orc, good.ID)
	cancel()
	<-done

	if badFinished.Status != domain.JobStatusFailed || badFinished.ErrorCategory != domain.ErrorCategoryWorker {
		t.Fatalf("panicked job = %s/%s, want FAILED/worker_failure", badFinished.Status, badFinished.ErrorCategory)
	}
	if goodFinished.Status != domain.JobStatusSucceeded {
		t.Fatalf("job after panic = %s, want SUCCEEDED: the executor must survive", goodFinished.Status)
	}
}

func TestPoolWakesOnNotification(t *testing.T) {
	orc, _ := newTestOrchestrator(t, time.Minute)

	generate := func(ctx context.Context, job *domain.Job, report func(int)) (string, error) {
		return "results/" + job.ID, nil
	}

	wake := make(chan string, 1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	// Poll interval far beyond the test horizon: only the wake channel can
	// unblock an idle executor in time.
	pool := New(1, orc, generate, time.Hour, wake, zerolog.Nop())
	go func() {
		defer close(done)
		_ = pool.Run(ctx)
	}()

	// Let the executor drain its first empty claim and park on the wake select.
	time.Sleep(20 * time.Millisecond)

	job := submitJob(t, orc)
	wake <- job.ID

	finished := waitTerminal(t, orc, job.ID)
	cancel()
	<-done

	if finished.Status != domain.JobStatusSucceeded {
		t.Fatalf("Status = %s, want SUCCEEDED", finished.Status)
	}
}

// countingJobs tallies claim attempts so a test can tell parked from spinning.
type countingJobs struct {
	*repo.MemoryJobRepository
	mu     sync.Mutex
	claims int
}

func (r *countingJobs) ClaimQueued(ctx context.Context) (*domain.Job, error) {
	r.mu.Lock()
	r.claims++
	r.mu.Unlock()
	return r.MemoryJobRepository.ClaimQueued(ctx)
}

func (r *countingJobs) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.claims
}

func TestPoolFallsBackToPollingWhenWakeChannelCloses(t *testing.T) {
	jobs := &countingJobs{MemoryJobRepository: repo.NewMemoryJobRepository()}
	specs := map[domain.OperationType]orchestrator.OperationSpec{
		domain.OperationImage: {CostCredits: 10, RateMax: 100, RateWindow: time.Minute, Deadline: time.Minute},
	}
	orc := orchestrator.New(repo.NewMemoryArtifactRepository(), jobs, repo.NewMemoryCreditLedger(),
		gate.NewMemoryLimiter(), queue.NopNotifier{}, progress.NewHub(), specs, zerolog.Nop())

	// A broker restart closes the wake channel for good.
	wake := make(chan string)
	close(wake)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	pool := New(1, orc, func(ctx context.Context, job *domain.Job, report func(int)) (string, error) {
		return "", nil
	}, time.Hour, wake, zerolog.Nop())
	go func() {
		defer close(done)
		_ = pool.Run(ctx)
	}()

	time.Sleep(150 * time.Millisecond)
	cancel()
	<-done

	// One claim on startup, one after draining the closed channel; after that
	// the executor must park on its poll interval instead of spinning.
	if n := jobs.count(); n > 2 {
		t.Fatalf("claim attempts with closed wake channel = %d, want at most 2", n)
	}
}

func TestPoolStopsOnContextCancel(t *testing.T) {
	orc, _ := newTestOrchestrator(t, time.Minute)
	pool := New(3, orc, func(ctx context.Context, job *domain.Job, report func(int)) (string, error) {
		return "", nil
	}, 10*time.Millisecond, nil, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- pool.Run(ctx) }()

	cancel()
	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run() error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pool did not stop after context cancellation")
	}
}
