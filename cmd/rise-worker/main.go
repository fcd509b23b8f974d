// RISE Worker — выполняет simulation runs.
//
// Worker:
//   - Получает запросы run.requested из RabbitMQ
//   - Подбирает PENDING runs из БД (polling fallback)
//   - Выполняет пайплайн симуляции SFINCS в Docker
//   - Публикует run.completed
//
// При заданном RISE_RUN_SCHEDULE worker также создаёт прогнозные
// runs по cron-расписанию.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ngwpc/rise/internal/config"
	"github.com/ngwpc/rise/internal/container"
	"github.com/ngwpc/rise/internal/mq"
	"github.com/ngwpc/rise/internal/publish"
	"github.com/ngwpc/rise/internal/repo"
	"github.com/ngwpc/rise/internal/runner"
	"github.com/ngwpc/rise/internal/scheduler"
	"github.com/ngwpc/rise/internal/telemetry"
	"github.com/ngwpc/rise/internal/worker"
)

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger()
	logger.Info("starting rise-worker")

	cfg, err := config.Load()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// DB pool
	pool, err := repo.NewPool(ctx)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("database connected")

	runRepo := repo.NewRunRepo(pool)

	// RabbitMQ
	var publisher *mq.Publisher
	var mqConn *mq.Connection

	mqConn, err = mq.NewConnection(cfg.AMQPURL, logger)
	if err != nil {
		logger.Warn("RabbitMQ not available, running in polling-only mode", "error", err)
		mqConn = nil
	} else {
		defer mqConn.Close()
		logger.Info("RabbitMQ connected")

		if err := mq.SetupTopology(mqConn); err != nil {
			logger.Warn("failed to setup topology", "error", err)
		}

		publisher = mq.NewPublisher(mqConn, logger)
	}

	// Docker
	engine, err := container.NewEngine(logger)
	if err != nil {
		logger.Error("failed to create docker client", "error", err)
		os.Exit(1)
	}
	defer engine.Close()

	if err := engine.Ready(ctx); err != nil {
		logger.Error("docker daemon not available", "error", err)
		os.Exit(1)
	}
	logger.Info("docker daemon connected")

	metrics := telemetry.NewMetrics()

	publishClient := publish.NewClient(cfg.PublishURL, logger,
		publish.WithWaitTimeout(cfg.PublishWaitTimeout),
	)

	exec := runner.New(engine, publishClient, metrics, logger,
		runner.WithContainerUser(cfg.ContainerUser),
		runner.WithKeepScratch(cfg.KeepScratch),
	)

	workerCfg := worker.Config{
		Store:        runRepo,
		Executor:     exec,
		Conn:         mqConn,
		Logger:       logger,
		PollInterval: cfg.PollInterval,
	}
	// Типизированный nil указатель не должен попасть в интерфейс
	if publisher != nil {
		workerCfg.Publisher = publisher
	}
	w := worker.New(workerCfg)

	// Прогнозное расписание (опционально)
	if cfg.RunSchedule != "" {
		schedCfg := scheduler.Config{
			Store:      runRepo,
			Logger:     logger,
			Expr:       cfg.RunSchedule,
			Spec:       cfg.Spec,
			Serverless: true,
		}
		if publisher != nil {
			schedCfg.Publisher = publisher
		}
		sched, err := scheduler.New(schedCfg)
		if err != nil {
			logger.Error("invalid run schedule", "schedule", cfg.RunSchedule, "error", err)
			os.Exit(1)
		}

		go func() {
			if err := sched.Start(ctx); err != nil && ctx.Err() == nil {
				logger.Error("scheduler stopped", "error", err)
				cancel()
			}
		}()
	}

	// HTTP mux: /healthz + /metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	port := ":8082"
	if v := os.Getenv("WORKER_PORT"); v != "" {
		port = ":" + v
	}

	go func() {
		logger.Info("listening", "addr", port)
		if err := http.ListenAndServe(port, mux); err != nil {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	// Блокируется до отмены контекста
	if err := w.Start(ctx); err != nil && ctx.Err() == nil {
		logger.Error("worker stopped", "error", err)
		os.Exit(1)
	}

	logger.Info("rise-worker stopped")
}
