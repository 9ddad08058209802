package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	amqp "github.com/rabbitmq/amqp091-go"

	"forge/internal/adapter/repo"
	"forge/internal/domain"
	"forge/internal/gate"
	"forge/internal/infra"
	"forge/internal/orchestrator"
	"forge/internal/progress"
	"forge/internal/queue"
	"forge/internal/workerpool"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: db connection failed")
	}
	defer pool.Close()

	redisClient, err := infra.NewRedisClient(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: redis connection failed")
	}
	defer redisClient.Close()

	var wake <-chan string
	if cfg.AMQPURL != "" {
		conn, err := amqp.Dial(cfg.AMQPURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("worker: amqp connection failed")
		}
		defer conn.Close()
		waker, err := queue.NewRabbitWaker(conn, "jobs.exchange", "jobs.queued", "jobs.workers", logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("worker: amqp waker init failed")
		}
		wake, err = waker.Start(ctx)
		if err != nil {
			logger.Fatal().Err(err).Msg("worker: amqp consume failed")
		}
	} else {
		logger.Warn().Msg("worker: AMQP_URL not set, relying on polling alone")
	}

	artifacts := repo.NewArtifactRepository(pool)
	jobs := repo.NewJobRepository(pool)
	ledger := repo.NewCreditLedger(pool)

	// Publishes go out through the redis relay so the API's SSE subscribers
	// see worker-side updates. Nothing subscribes in this process, so the
	// relay's receive loop is not run here.
	relay := progress.NewRelay(redisClient, progress.NewHub(), logger)

	orc := orchestrator.New(artifacts, jobs, ledger, gate.NewRedisLimiter(redisClient), queue.NopNotifier{}, relay, operationSpecs(cfg), logger)

	// The real generation providers are deployment-specific and injected here.
	// Without one configured, jobs run through a synthetic generator so the
	// pipeline stays exercisable end to end.
	logger.Warn().Msg("worker: no generation provider configured, using synthetic generation")

	workers := workerpool.New(cfg.WorkerPoolSize, orc, syntheticGenerate, cfg.WorkerPollInterval, wake, logger)
	if err := workers.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("worker: stopped with error")
	}
	logger.Info().Msg("worker: stopped")
}

func operationSpecs(cfg *infra.Config) map[domain.OperationType]orchestrator.OperationSpec {
	specs := make(map[domain.OperationType]orchestrator.OperationSpec, len(cfg.Operations))
	for op, oc := range cfg.Operations {
		specs[op] = orchestrator.OperationSpec{
			CostCredits: oc.CostCredits,
			RateMax:     oc.RateMax,
			RateWindow:  oc.RateWindow,
			Deadline:    oc.Deadline,
		}
	}
	return specs
}

// syntheticGenerate stands in for a real provider: it walks progress forward
// and emits a deterministic result key under the job's tenant prefix.
func syntheticGenerate(ctx context.Context, job *domain.Job, report func(percent int)) (string, error) {
	for _, pct := range []int{10, 40, 70} {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
		report(pct)
	}
	return fmt.Sprintf("results/%s/%s", job.TenantID, job.ID), nil
}
