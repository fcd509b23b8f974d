// Package container — обёртка над Docker Engine API для запуска симуляции.
//
// Клиент конфигурируется из стандартных переменных окружения
// (DOCKER_HOST и т.д.). Контейнер симуляции запускается от пользователя
// хост-процесса (uid:gid), чтобы файлы на bind mount были доступны
// обеим сторонам без расширения прав.
package container

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
)

// removeTimeout — сколько ждём удаления контейнера после завершения.
const removeTimeout = 30 * time.Second

// Engine — клиент Docker Engine.
type Engine struct {
	client *client.Client
	logger *slog.Logger
}

// NewEngine создаёт клиент Docker из окружения.
func NewEngine(logger *slog.Logger) (*Engine, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return &Engine{client: cli, logger: logger}, nil
}

// Ready проверяет доступность Docker daemon.
func (e *Engine) Ready(ctx context.Context) error {
	if _, err := e.client.Ping(ctx); err != nil {
		return fmt.Errorf("ping docker daemon: %w", err)
	}
	return nil
}

// Close освобождает ресурсы клиента.
func (e *Engine) Close() error {
	return e.client.Close()
}

// EnsureImage гарантирует наличие образа локально.
// Если образ уже скачан, pull не выполняется — повторный запуск дёшев.
func (e *Engine) EnsureImage(ctx context.Context, ref string) error {
	if _, err := e.client.ImageInspect(ctx, ref); err == nil {
		e.logger.Debug("image already present", "image", ref)
		return nil
	}

	e.logger.Info("pulling image", "image", ref)

	reader, err := e.client.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pull image %s: %w", ref, err)
	}
	defer reader.Close()

	// Дочитываем поток статуса до конца — pull завершается только с ним
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("read pull progress: %w", err)
	}

	return nil
}

// RunOptions — параметры запуска контейнера симуляции.
type RunOptions struct {
	// Image — контейнерный образ.
	Image string

	// HostDataDir — директория на хосте, монтируемая read-write.
	HostDataDir string

	// ContainerDataPath — точка монтирования внутри контейнера.
	ContainerDataPath string

	// User — пользователь контейнера в формате "uid:gid".
	// Пустая строка — uid:gid текущего процесса.
	User string
}

// CurrentUser возвращает uid:gid текущего процесса.
func CurrentUser() string {
	return fmt.Sprintf("%d:%d", os.Getuid(), os.Getgid())
}

// Run запускает контейнер и блокируется до его завершения.
//
// Логи контейнера транслируются в структурированный лог построчно.
// Возвращает код выхода контейнера; сам вызов успешен и при
// ненулевом коде — интерпретация кода на вызывающей стороне.
func (e *Engine) Run(ctx context.Context, opts RunOptions) (int, error) {
	user := opts.User
	if user == "" {
		user = CurrentUser()
	}

	cfg := &container.Config{
		Image: opts.Image,
		User:  user,
		Tty:   true,
	}
	hostCfg := &container.HostConfig{
		Binds: []string{fmt.Sprintf("%s:%s:rw", opts.HostDataDir, opts.ContainerDataPath)},
	}

	created, err := e.client.ContainerCreate(ctx, cfg, hostCfg, nil, nil, "")
	if err != nil {
		return -1, fmt.Errorf("create container: %w", err)
	}

	// Контейнер создан — удаляем его при любом исходе
	defer func() {
		removeCtx, cancel := context.WithTimeout(context.Background(), removeTimeout)
		defer cancel()
		if err := e.client.ContainerRemove(removeCtx, created.ID, container.RemoveOptions{Force: true}); err != nil {
			e.logger.Warn("failed to remove container", "container_id", created.ID, "error", err)
		}
	}()

	if err := e.client.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return -1, fmt.Errorf("start container: %w", err)
	}

	e.logger.Info("container started", "container_id", created.ID, "image", opts.Image, "user", user)

	// Транслируем логи контейнера в наш лог
	logs, err := e.client.ContainerLogs(ctx, created.ID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if err != nil {
		e.logger.Warn("failed to attach container logs", "container_id", created.ID, "error", err)
	} else {
		go e.streamLogs(logs)
	}

	statusCh, errCh := e.client.ContainerWait(ctx, created.ID, container.WaitConditionNotRunning)

	select {
	case err := <-errCh:
		return -1, fmt.Errorf("wait container: %w", err)
	case status := <-statusCh:
		if status.Error != nil {
			return int(status.StatusCode), fmt.Errorf("container wait: %s", status.Error.Message)
		}
		return int(status.StatusCode), nil
	case <-ctx.Done():
		return -1, ctx.Err()
	}
}

// streamLogs построчно переносит вывод контейнера в лог.
func (e *Engine) streamLogs(logs io.ReadCloser) {
	defer logs.Close()

	scanner := bufio.NewScanner(logs)
	// Строки вывода модели бывают длинными
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		e.logger.Info("sfincs", "line", scanner.Text())
	}
}
