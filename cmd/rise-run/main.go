// rise-run — одноразовый запуск симуляции SFINCS.
//
// Выполняет полный пайплайн локально, без БД и брокера:
// pull образа, staging датасета, контейнер, извлечение артефакта.
// С флагом -s/--serverless перед симуляцией уведомляется
// publish-сервис и ожидается его готовность.
//
// Код выхода процесса — код выхода контейнера симуляции,
// если она завершилась неуспешно; 1 для остальных ошибок.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ngwpc/rise/internal/config"
	"github.com/ngwpc/rise/internal/container"
	"github.com/ngwpc/rise/internal/domain"
	"github.com/ngwpc/rise/internal/publish"
	"github.com/ngwpc/rise/internal/runner"
	"github.com/ngwpc/rise/internal/telemetry"
)

// newRootCmd собирает команду. Сам пайплайн передаётся снаружи,
// чтобы разбор аргументов тестировался без Docker.
func newRootCmd(execute func(ctx context.Context, serverless bool) error) *cobra.Command {
	var serverless bool

	cmd := &cobra.Command{
		Use:   "rise-run",
		Short: "Run a single SFINCS simulation",
		Args:  cobra.NoArgs,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return execute(cmd.Context(), serverless)
		},
	}

	cmd.Flags().BoolVarP(&serverless, "serverless", "s", false,
		"notify the publish service and wait for readiness before simulating")

	return cmd
}

func main() {
	logger := telemetry.SetupLogger()

	cfg, err := config.Load()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	root := newRootCmd(func(ctx context.Context, serverless bool) error {
		return runOnce(ctx, logger, cfg, serverless)
	})

	if err := root.ExecuteContext(ctx); err != nil {
		// Неуспешная симуляция — выходим кодом контейнера
		var exitErr *runner.ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		os.Exit(1)
	}
}

// runOnce выполняет один run целиком.
func runOnce(ctx context.Context, logger *slog.Logger, cfg *config.Config, serverless bool) error {
	engine, err := container.NewEngine(logger)
	if err != nil {
		return err
	}
	defer engine.Close()

	if err := engine.Ready(ctx); err != nil {
		return err
	}

	publishClient := publish.NewClient(cfg.PublishURL, logger,
		publish.WithWaitTimeout(cfg.PublishWaitTimeout),
	)

	exec := runner.New(engine, publishClient, telemetry.NewMetrics(), logger,
		runner.WithContainerUser(cfg.ContainerUser),
		runner.WithKeepScratch(cfg.KeepScratch),
	)

	run := domain.NewRun(cfg.Spec, serverless)
	run.MarkRunning()

	logger.Info("starting simulation run",
		"run_id", run.ID,
		"serverless", serverless,
		"image", run.Spec.Image,
	)

	return exec.Execute(ctx, run)
}
