// Package workerpool runs a bounded set of executors against the job queue.
// The generation algorithm itself is an injected function; the pool's job is
// to claim work, enforce the per-operation deadline and make sure no failure
// mode, panics included, takes an executor slot down with it.
package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"forge/internal/domain"
	"forge/internal/orchestrator"
)

// GenerateFunc produces the result reference for a claimed job. It must honor
// ctx cancellation; report may be called with progress percentages as work
// advances.
type GenerateFunc func(ctx context.Context, job *domain.Job, report func(percent int)) (string, error)

// Pool is a fixed-size set of concurrent executors.
type Pool struct {
	size     int
	orc      *orchestrator.Orchestrator
	generate GenerateFunc
	poll     time.Duration
	wake     <-chan string
	logger   zerolog.Logger
}

// New creates a pool of size executors. wake may be nil, in which case the
// pool relies on its poll interval alone.
func New(size int, orc *orchestrator.Orchestrator, generate GenerateFunc, poll time.Duration, wake <-chan string, logger zerolog.Logger) *Pool {
	if size < 1 {
		size = 1
	}
	if poll <= 0 {
		poll = 2 * time.Second
	}
	return &Pool{size: size, orc: orc, generate: generate, poll: poll, wake: wake, logger: logger}
}

// Run starts the executors and blocks until ctx is cancelled and all of them
// have returned.
func (p *Pool) Run(ctx context.Context) error {
	p.logger.Info().Int("size", p.size).Msg("workerpool: started")
	var wg sync.WaitGroup
	for i := 0; i < p.size; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			p.runExecutor(ctx, slot)
		}(i)
	}
	wg.Wait()
	p.logger.Info().Msg("workerpool: stopped")
	return ctx.Err()
}

func (p *Pool) runExecutor(ctx context.Context, slot int) {
	ticker := time.NewTicker(p.poll)
	defer ticker.Stop()
	wake := p.wake

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := p.orc.Claim(ctx)
		if err != nil {
			if !errors.Is(err, domain.ErrNoJobAvailable) {
				p.logger.Error().Err(err).Int("slot", slot).Msg("workerpool: claim failed")
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			case _, ok := <-wake:
				if !ok {
					// The broker feed died and a closed channel is always
					// ready. Go nil so the select blocks and the poll
					// interval alone paces the claims.
					p.logger.Warn().Int("slot", slot).Msg("workerpool: wake channel closed, polling only")
					wake = nil
				}
			}
			continue
		}

		p.handle(ctx, slot, job)
	}
}

func (p *Pool) handle(ctx context.Context, slot int, job *domain.Job) {
	p.logger.Info().
		Int("slot", slot).
		Str("job_id", job.ID).
		Str("operation", string(job.Operation)).
		Msg("workerpool: picked job")

	outcome := p.execute(ctx, job)
	if err := p.orc.ReportResult(ctx, job.ID, outcome); err != nil {
		p.logger.Error().Err(err).Str("job_id", job.ID).Msg("workerpool: report result failed")
	}
}

// execute runs the generation function under the operation deadline and maps
// every failure mode onto a job outcome.
func (p *Pool) execute(ctx context.Context, job *domain.Job) (outcome orchestrator.Outcome) {
	runCtx, cancel := context.WithTimeout(ctx, p.orc.Deadline(job.Operation))
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().Str("job_id", job.ID).Any("panic", r).Msg("workerpool: generation panicked")
			outcome = orchestrator.Failure(fmt.Sprintf("generation panicked: %v", r), domain.ErrorCategoryWorker)
		}
	}()

	report := func(percent int) {
		if err := p.orc.ReportProgress(runCtx, job.ID, percent); err != nil {
			p.logger.Warn().Err(err).Str("job_id", job.ID).Msg("workerpool: progress report failed")
		}
	}

	resultRef, err := p.generate(runCtx, job, report)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return orchestrator.Failure("generation exceeded its deadline", domain.ErrorCategoryTimeout)
		}
		return orchestrator.Failure(err.Error(), domain.ErrorCategoryWorker)
	}
	return orchestrator.Success(resultRef)
}
