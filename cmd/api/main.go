package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	amqp "github.com/rabbitmq/amqp091-go"

	"forge/internal/adapter/repo"
	"forge/internal/domain"
	"forge/internal/gate"
	"forge/internal/http/handlers"
	"forge/internal/http/httpapi"
	"forge/internal/infra"
	"forge/internal/objectstore"
	"forge/internal/orchestrator"
	"forge/internal/progress"
	"forge/internal/queue"
	"forge/internal/registrar"
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
		logger.Fatal().Err(err).Msg("api: db connection failed")
	}
	defer pool.Close()

	redisClient, err := infra.NewRedisClient(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: redis connection failed")
	}
	defer redisClient.Close()

	store, err := objectstore.NewS3Gateway(objectstore.Config{
		Endpoint:       cfg.S3Endpoint,
		AccessKey:      cfg.S3AccessKey,
		SecretKey:      cfg.S3SecretKey,
		Region:         cfg.S3Region,
		UseSSL:         cfg.S3UseSSL,
		Bucket:         cfg.S3Bucket,
		MaxUploadBytes: cfg.UploadMaxBytes,
		UploadTTL:      cfg.UploadGrantTTL,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("api: object store init failed")
	}

	var notifier queue.Notifier = queue.NopNotifier{}
	if cfg.AMQPURL != "" {
		conn, err := amqp.Dial(cfg.AMQPURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("api: amqp connection failed")
		}
		defer conn.Close()
		rabbit, err := queue.NewRabbitNotifier(conn, "jobs.exchange", "jobs.queued")
		if err != nil {
			logger.Fatal().Err(err).Msg("api: amqp notifier init failed")
		}
		defer rabbit.Close()
		notifier = rabbit
	} else {
		logger.Warn().Msg("api: AMQP_URL not set, workers rely on polling alone")
	}

	artifacts := repo.NewArtifactRepository(pool)
	jobs := repo.NewJobRepository(pool)
	ledger := repo.NewCreditLedger(pool)
	limiter := gate.NewRedisLimiter(redisClient)

	// The worker runs in its own process, so progress flows through the redis
	// relay: local publishes are mirrored out and worker-side updates are fed
	// back into this hub for the SSE subscribers.
	hub := progress.NewHub()
	relay := progress.NewRelay(redisClient, hub, logger)
	go func() {
		if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("api: progress relay stopped")
		}
	}()

	reg := registrar.New(artifacts, store, logger)
	orc := orchestrator.New(artifacts, jobs, ledger, limiter, notifier, relay, operationSpecs(cfg), logger)

	app := handlers.NewApp(reg, orc, store, cfg.DownloadGrantTTL, logger)
	server := infra.NewHTTPServer(cfg, httpapi.NewRouter(app))

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()
	logger.Info().Str("port", cfg.Port).Msg("api: started")

	select {
	case <-ctx.Done():
	case err := <-errCh:
		logger.Fatal().Err(err).Msg("api: server stopped unexpectedly")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("api: shutdown failed")
	}
	logger.Info().Msg("api: stopped")
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
