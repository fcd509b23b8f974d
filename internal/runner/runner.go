// Package runner реализует пайплайн одного запуска симуляции SFINCS.
//
// Этапы выполняются строго последовательно:
//
//	publish → wait → pull → stage → simulate → extract
//
// Первые два этапа выполняются только для serverless runs.
// Ошибка любого этапа прерывает пайплайн; scratch-директория
// удаляется при любом исходе (если не включён keep-scratch).
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ngwpc/rise/internal/container"
	"github.com/ngwpc/rise/internal/domain"
	"github.com/ngwpc/rise/internal/stage"
	"github.com/ngwpc/rise/internal/telemetry"
)

// Имена этапов пайплайна (значения метки stage в метриках).
const (
	StagePublish  = "publish"
	StageWait     = "wait"
	StagePull     = "pull"
	StageStage    = "stage"
	StageSimulate = "simulate"
	StageExtract  = "extract"
)

// PublishClient — клиент publish-сервиса.
type PublishClient interface {
	NotifyStart(ctx context.Context) error
	WaitReady(ctx context.Context) error
}

// Engine — контейнерный движок симуляции.
type Engine interface {
	EnsureImage(ctx context.Context, ref string) error
	Run(ctx context.Context, opts container.RunOptions) (int, error)
}

// Workspace — scratch-директория run.
type Workspace interface {
	DataDir() string
	ExtractOutput(outputFile, destDir string) error
	Dispose() error
}

// prepareFunc создаёт scratch и копирует в него датасет.
// Подменяется в тестах.
type prepareFunc func(logger *slog.Logger, scratchRoot, runID, datasetDir string) (Workspace, error)

// Runner выполняет пайплайн симуляции.
type Runner struct {
	publish PublishClient
	engine  Engine
	prepare prepareFunc
	metrics *telemetry.Metrics
	logger  *slog.Logger

	containerUser string
	keepScratch   bool
}

// Option настраивает Runner.
type Option func(*Runner)

// WithContainerUser задаёт пользователя контейнера ("uid:gid").
// По умолчанию — uid:gid текущего процесса.
func WithContainerUser(user string) Option {
	return func(r *Runner) {
		r.containerUser = user
	}
}

// WithKeepScratch отключает удаление scratch после run (для отладки).
func WithKeepScratch(keep bool) Option {
	return func(r *Runner) {
		r.keepScratch = keep
	}
}

// New создаёт Runner.
func New(engine Engine, publish PublishClient, metrics *telemetry.Metrics, logger *slog.Logger, opts ...Option) *Runner {
	r := &Runner{
		publish: publish,
		engine:  engine,
		prepare: func(logger *slog.Logger, scratchRoot, runID, datasetDir string) (Workspace, error) {
			return stage.Prepare(logger, scratchRoot, runID, datasetDir)
		},
		metrics: metrics,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Execute выполняет пайплайн для run и мутирует run по ходу:
// ScratchDir после staging, ExitCode после симуляции.
//
// Статусами run управляет вызывающая сторона; Execute возвращает
// ошибку первого сломавшегося этапа. Если симуляция завершилась
// с ненулевым кодом, ошибка — *ExitError.
func (r *Runner) Execute(ctx context.Context, run *domain.Run) error {
	logger := telemetry.WithRunID(r.logger, run.ID.String())
	spec := run.Spec.WithDefaults()

	r.metrics.RunsInFlight.Inc()
	defer r.metrics.RunsInFlight.Dec()

	started := time.Now()
	err := r.execute(ctx, logger, run, spec)
	elapsed := time.Since(started)

	r.metrics.RunDuration.Observe(elapsed.Seconds())
	if err != nil {
		r.metrics.RunsTotal.WithLabelValues("failed").Inc()
		logger.Error("run failed", "error", err, "duration", elapsed)
		return err
	}

	r.metrics.RunsTotal.WithLabelValues("succeeded").Inc()
	logger.Info("run succeeded", "duration", elapsed)
	return nil
}

func (r *Runner) execute(ctx context.Context, logger *slog.Logger, run *domain.Run, spec domain.SimulationSpec) error {
	if run.Serverless {
		if err := r.runStage(ctx, logger, StagePublish, r.publish.NotifyStart); err != nil {
			return err
		}

		waitStarted := time.Now()
		if err := r.runStage(ctx, logger, StageWait, r.publish.WaitReady); err != nil {
			return err
		}
		r.metrics.PublishWaitDuration.Observe(time.Since(waitStarted).Seconds())
	}

	if err := r.runStage(ctx, logger, StagePull, func(ctx context.Context) error {
		return r.engine.EnsureImage(ctx, spec.Image)
	}); err != nil {
		return err
	}

	var ws Workspace
	if err := r.runStage(ctx, logger, StageStage, func(context.Context) error {
		var err error
		ws, err = r.prepare(logger, spec.ScratchRoot, run.ID.String(), spec.DataDir)
		return err
	}); err != nil {
		return err
	}
	run.ScratchDir = ws.DataDir()

	defer func() {
		if r.keepScratch {
			logger.Info("keeping scratch directory", "scratch", run.ScratchDir)
			return
		}
		if err := ws.Dispose(); err != nil {
			logger.Warn("failed to dispose scratch", "error", err)
		}
	}()

	if err := r.runStage(ctx, logger, StageSimulate, func(ctx context.Context) error {
		exitCode, err := r.engine.Run(ctx, container.RunOptions{
			Image:             spec.Image,
			HostDataDir:       ws.DataDir(),
			ContainerDataPath: domain.ContainerDataPath,
			User:              r.containerUser,
		})
		if err != nil {
			return err
		}
		run.ExitCode = &exitCode
		if exitCode != 0 {
			return &ExitError{Code: exitCode}
		}
		return nil
	}); err != nil {
		return err
	}

	return r.runStage(ctx, logger, StageExtract, func(context.Context) error {
		return ws.ExtractOutput(spec.OutputFile, spec.DataDir)
	})
}

// runStage выполняет этап, измеряя длительность и считая ошибки.
func (r *Runner) runStage(ctx context.Context, logger *slog.Logger, name string, fn func(context.Context) error) error {
	stageLogger := telemetry.WithStage(logger, name)
	stageLogger.Info("stage started")

	started := time.Now()
	err := fn(ctx)
	elapsed := time.Since(started)

	r.metrics.StageDuration.WithLabelValues(name).Observe(elapsed.Seconds())
	if err != nil {
		r.metrics.StageFailures.WithLabelValues(name).Inc()
		stageLogger.Error("stage failed", "error", err, "duration", elapsed)
		return fmt.Errorf("stage %s: %w", name, err)
	}

	stageLogger.Info("stage finished", "duration", elapsed)
	return nil
}
