// RISE API — HTTP API сервиса симуляций.
//
// Отдаёт endpoint'ы publish (/api/v1/publish/*), историю runs
// (/api/v1/runs), /healthz и /metrics.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ngwpc/rise/internal/api"
	"github.com/ngwpc/rise/internal/config"
	"github.com/ngwpc/rise/internal/domain"
	"github.com/ngwpc/rise/internal/mq"
	"github.com/ngwpc/rise/internal/repo"
	"github.com/ngwpc/rise/internal/telemetry"
)

var (
	startTime = time.Now()
	reqTotal  = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rise_api_http_requests_total",
		Help: "Total HTTP requests handled by rise_api",
	})
)

// runStore адаптирует repo.RunRepo к фильтру API.
type runStore struct {
	*repo.RunRepo
}

func (s runStore) List(ctx context.Context, filter api.RunFilter) ([]domain.Run, error) {
	return s.RunRepo.List(ctx, repo.RunFilter{
		Status: filter.Status,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	})
}

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger()
	logger.Info("starting rise-api")

	cfg, err := config.Load()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	// Подключаемся к базе данных
	pool, err := repo.NewPool(context.Background())
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("connected to database")

	runRepo := repo.NewRunRepo(pool)

	// RabbitMQ: API публикует run.requested; без брокера runs
	// подбирает polling fallback worker'а
	var publisher api.RequestPublisher
	mqConn, err := mq.NewConnection(cfg.AMQPURL, logger)
	if err != nil {
		logger.Warn("RabbitMQ not available, relying on worker polling", "error", err)
	} else {
		defer mqConn.Close()
		logger.Info("RabbitMQ connected")

		if err := mq.SetupTopology(mqConn); err != nil {
			logger.Warn("failed to setup topology", "error", err)
		}

		publisher = mq.NewPublisher(mqConn, logger)
	}

	// Создаём API handler
	handler := api.NewHandler(api.Config{
		Store:     runStore{runRepo},
		Publisher: publisher,
		Logger:    logger,
		Spec:      cfg.Spec,
	})

	mux := http.NewServeMux()

	// Health и metrics
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		reqTotal.Inc()
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "ok %s", time.Since(startTime))
	})
	mux.Handle("/metrics", promhttp.Handler())

	// API маршруты
	mux.Handle("/api/", handler.Routes())

	addr := ":" + cfg.HTTPPort

	// Создаём HTTP сервер с возможностью graceful shutdown
	server := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	// Запускаем сервер в горутине
	go func() {
		logger.Info("listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Ожидаем сигнал завершения
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	<-ctx.Done()
	logger.Info("shutting down")

	// Graceful shutdown с таймаутом 10 секунд
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	logger.Info("stopped")
}
