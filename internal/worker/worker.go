// Package worker выполняет simulation runs из очереди.
//
// Основной путь доставки — очередь runs.requested. Подстраховка —
// периодический polling PENDING runs из БД: он подбирает runs,
// чьё сообщение потерялось (например, RabbitMQ был недоступен
// в момент создания run).
//
// Симуляции тяжёлые, поэтому worker выполняет их строго по одной.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ngwpc/rise/internal/domain"
	"github.com/ngwpc/rise/internal/mq"
	"github.com/ngwpc/rise/internal/repo"
)

// pendingBatchSize — сколько PENDING runs подбирается за один poll.
const pendingBatchSize = 5

// RunStore — хранилище runs.
type RunStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Run, error)
	Update(ctx context.Context, run *domain.Run) error
	ListPending(ctx context.Context, limit int) ([]domain.Run, error)
}

// Executor выполняет пайплайн симуляции для run.
type Executor interface {
	Execute(ctx context.Context, run *domain.Run) error
}

// CompletionPublisher публикует события о завершённых runs.
type CompletionPublisher interface {
	PublishRunCompleted(ctx context.Context, payload mq.RunCompletedPayload) error
}

// Worker потребляет запросы на симуляцию и выполняет их.
type Worker struct {
	store     RunStore
	executor  Executor
	publisher CompletionPublisher
	conn      *mq.Connection
	logger    *slog.Logger

	pollInterval time.Duration

	// runMu сериализует выполнение симуляций между consumer и poll loop.
	runMu sync.Mutex
}

// Config — конфигурация Worker.
type Config struct {
	Store     RunStore
	Executor  Executor
	Publisher CompletionPublisher
	Conn      *mq.Connection
	Logger    *slog.Logger

	// PollInterval — интервал polling fallback. 0 — значение по умолчанию.
	PollInterval time.Duration
}

// New создаёт Worker.
func New(cfg Config) *Worker {
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = 10 * time.Second
	}

	return &Worker{
		store:        cfg.Store,
		executor:     cfg.Executor,
		publisher:    cfg.Publisher,
		conn:         cfg.Conn,
		logger:       cfg.Logger,
		pollInterval: pollInterval,
	}
}

// Start запускает consumer и polling fallback.
// Блокируется до отмены контекста.
func (w *Worker) Start(ctx context.Context) error {
	var wg sync.WaitGroup

	if w.conn != nil {
		consumer := mq.NewConsumer(w.conn, w.logger, mq.ConsumerConfig{
			Queue:    string(mq.QueueRunsRequested),
			Handler:  w.handleRunRequested,
			Prefetch: 1,
		})

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				w.logger.Error("consumer stopped", "error", err)
			}
		}()
	} else {
		w.logger.Warn("no broker connection, relying on polling only")
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		w.pollLoop(ctx)
	}()

	w.logger.Info("worker started", "poll_interval", w.pollInterval)

	<-ctx.Done()
	wg.Wait()
	return ctx.Err()
}

// pollLoop периодически подбирает PENDING runs из БД.
func (w *Worker) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.pollPending(ctx)
		}
	}
}

// pollPending выполняет один проход polling fallback.
func (w *Worker) pollPending(ctx context.Context) {
	runs, err := w.store.ListPending(ctx, pendingBatchSize)
	if err != nil {
		w.logger.Error("failed to list pending runs", "error", err)
		return
	}

	for i := range runs {
		if ctx.Err() != nil {
			return
		}
		if err := w.processRun(ctx, &runs[i]); err != nil {
			w.logger.Error("failed to process pending run",
				"run_id", runs[i].ID,
				"error", err,
			)
		}
	}
}

// handleRunRequested обрабатывает сообщение run.requested.
func (w *Worker) handleRunRequested(ctx context.Context, d *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.RunRequestedPayload](&d.Message)
	if err != nil {
		// Некорректный payload — повтор не поможет
		return fmt.Errorf("%w: parse run.requested payload: %v", mq.ErrPermanent, err)
	}

	run, err := w.store.GetByID(ctx, payload.RunID)
	if errors.Is(err, repo.ErrNotFound) {
		// Run неизвестен: создан в другой среде либо уже удалён
		w.logger.Warn("run not found, dropping message", "run_id", payload.RunID)
		return nil
	}
	if err != nil {
		// Инфраструктурная ошибка — вернуть в очередь
		return err
	}

	if run.Status != domain.RunStatusPending {
		// Сообщение уже обработано (например, polling успел раньше)
		w.logger.Info("run already picked up, skipping",
			"run_id", run.ID,
			"status", run.Status,
		)
		return nil
	}

	return w.processRun(ctx, run)
}

// processRun выполняет один run от PENDING до терминального статуса.
func (w *Worker) processRun(ctx context.Context, run *domain.Run) error {
	w.runMu.Lock()
	defer w.runMu.Unlock()

	// Пока ждали очередь на выполнение, run мог подобрать consumer
	current, err := w.store.GetByID(ctx, run.ID)
	if err != nil {
		return err
	}
	if current.Status != domain.RunStatusPending {
		return nil
	}
	run = current

	logger := w.logger.With("run_id", run.ID)

	run.MarkRunning()
	if err := w.store.Update(ctx, run); err != nil {
		return err
	}

	logger.Info("run started", "serverless", run.Serverless)

	execErr := w.executor.Execute(ctx, run)
	if execErr != nil {
		run.MarkFailed(execErr.Error())
	} else {
		run.MarkSucceeded()
	}

	if err := w.store.Update(ctx, run); err != nil {
		logger.Error("failed to persist run result", "status", run.Status, "error", err)
		return err
	}

	w.publishCompleted(ctx, run)

	logger.Info("run finished",
		"status", run.Status,
		"duration", run.Duration(),
	)
	return nil
}

// publishCompleted публикует событие run.completed.
// Ошибка публикации не влияет на исход run: статус уже в БД.
func (w *Worker) publishCompleted(ctx context.Context, run *domain.Run) {
	if w.publisher == nil {
		return
	}

	err := w.publisher.PublishRunCompleted(ctx, mq.RunCompletedPayload{
		RunID:      run.ID,
		Status:     run.Status,
		Error:      run.Error,
		ExitCode:   run.ExitCode,
		DurationMs: run.Duration().Milliseconds(),
	})
	if err != nil {
		w.logger.Warn("failed to publish run.completed", "run_id", run.ID, "error", err)
	}
}
