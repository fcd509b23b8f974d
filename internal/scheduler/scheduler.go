// Package scheduler создаёт прогнозные simulation runs по cron-расписанию.
//
// Scheduler не выполняет симуляции сам: он создаёт PENDING run
// и публикует run.requested, а выполнение берёт на себя worker.
// Ключ идемпотентности "forecast_{due}" гарантирует, что несколько
// экземпляров scheduler не создадут дубликатов для одного срабатывания.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/ngwpc/rise/internal/domain"
	"github.com/ngwpc/rise/internal/repo"
)

// RunStore — создание runs и поиск по ключу идемпотентности.
type RunStore interface {
	Create(ctx context.Context, run *domain.Run) error
	GetByIdempotencyKey(ctx context.Context, key string) (*domain.Run, error)
}

// RequestPublisher публикует запросы на выполнение симуляции.
type RequestPublisher interface {
	PublishRunRequested(ctx context.Context, runID uuid.UUID, serverless bool) error
}

// Scheduler создаёт runs по расписанию.
type Scheduler struct {
	store     RunStore
	publisher RequestPublisher
	clock     clockwork.Clock
	logger    *slog.Logger

	expr       string
	spec       domain.SimulationSpec
	serverless bool
}

// Config — конфигурация Scheduler.
type Config struct {
	Store     RunStore
	Publisher RequestPublisher
	Logger    *slog.Logger

	// Expr — cron-выражение расписания (5 полей).
	Expr string

	// Spec — спецификация создаваемых runs.
	Spec domain.SimulationSpec

	// Serverless — создавать ли runs с serverless-хуками.
	Serverless bool

	// Clock — источник времени. Nil — реальные часы.
	Clock clockwork.Clock
}

// New создаёт Scheduler. Выражение валидируется сразу.
func New(cfg Config) (*Scheduler, error) {
	if err := ValidateCronExpr(cfg.Expr); err != nil {
		return nil, err
	}

	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &Scheduler{
		store:      cfg.Store,
		publisher:  cfg.Publisher,
		clock:      clock,
		logger:     cfg.Logger,
		expr:       cfg.Expr,
		spec:       cfg.Spec.WithDefaults(),
		serverless: cfg.Serverless,
	}, nil
}

// Start запускает цикл расписания. Блокируется до отмены контекста.
func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info("scheduler started", "schedule", s.expr)

	for {
		due, err := CalculateNextDue(s.expr, s.clock.Now())
		if err != nil {
			return err
		}

		s.logger.Debug("next forecast run scheduled", "due", due)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.clock.After(due.Sub(s.clock.Now())):
		}

		if err := s.enqueueForecast(ctx, due); err != nil {
			s.logger.Error("failed to enqueue forecast run", "due", due, "error", err)
		}
	}
}

// IdempotencyKey возвращает ключ идемпотентности для срабатывания due.
func IdempotencyKey(due time.Time) string {
	return "forecast_" + due.UTC().Format(time.RFC3339)
}

// enqueueForecast создаёт run для срабатывания due и публикует запрос.
func (s *Scheduler) enqueueForecast(ctx context.Context, due time.Time) error {
	key := IdempotencyKey(due)

	run := domain.NewRun(s.spec, s.serverless)
	run.IdempotencyKey = key

	err := s.store.Create(ctx, run)
	if errors.Is(err, repo.ErrAlreadyExists) {
		// Другой экземпляр scheduler успел первым
		s.logger.Info("forecast run already scheduled", "idempotency_key", key)
		return nil
	}
	if err != nil {
		return fmt.Errorf("create forecast run: %w", err)
	}

	s.logger.Info("forecast run created", "run_id", run.ID, "idempotency_key", key)

	if s.publisher == nil {
		return nil
	}
	if err := s.publisher.PublishRunRequested(ctx, run.ID, run.Serverless); err != nil {
		// Run уже в БД: его подберёт polling fallback worker'а
		s.logger.Warn("failed to publish run.requested, relying on polling",
			"run_id", run.ID,
			"error", err,
		)
	}
	return nil
}
