// Package publish — HTTP-клиент внешнего publish-сервиса.
//
// Сервис выполняет пре-процессинг данных перед симуляцией.
// Наблюдаемый контракт минимален:
//   - GET /api/v1/publish/start/  — уведомление о старте (ответ игнорируется)
//   - GET /api/v1/publish/status/ — готовность пре-процессинга
//
// Вместо фиксированной паузы клиент опрашивает status endpoint
// с экспоненциальной задержкой и общим таймаутом. Истечение таймаута —
// отдельная ошибка ErrWaitTimeout, run при этом не продолжается.
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
)

// Ошибки клиента.
var (
	// ErrNotify — не удалось уведомить publish-сервис о старте.
	ErrNotify = errors.New("publish start notification failed")

	// ErrWaitTimeout — publish-сервис не стал готов за отведённое время.
	ErrWaitTimeout = errors.New("publish service readiness timeout")
)

// Параметры ожидания по умолчанию.
const (
	defaultInitialDelay = time.Second
	defaultMaxDelay     = 10 * time.Second
	defaultWaitTimeout  = 2 * time.Minute
	defaultHTTPTimeout  = 30 * time.Second
)

// StatusReady — значение поля status, означающее готовность.
const StatusReady = "ready"

// Client — клиент publish-сервиса.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	clock      clockwork.Clock

	initialDelay time.Duration
	maxDelay     time.Duration
	waitTimeout  time.Duration
}

// Option настраивает Client.
type Option func(*Client)

// WithWaitTimeout задаёт общий таймаут ожидания готовности.
func WithWaitTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.waitTimeout = d
		}
	}
}

// WithBackoff задаёт начальную и максимальную задержку между опросами.
func WithBackoff(initial, max time.Duration) Option {
	return func(c *Client) {
		if initial > 0 {
			c.initialDelay = initial
		}
		if max > 0 {
			c.maxDelay = max
		}
	}
}

// WithClock подменяет источник времени (для тестов).
func WithClock(clock clockwork.Clock) Option {
	return func(c *Client) {
		c.clock = clock
	}
}

// WithHTTPClient подменяет HTTP-клиент.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// NewClient создаёт клиент publish-сервиса.
func NewClient(baseURL string, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL:      baseURL,
		httpClient:   &http.Client{Timeout: defaultHTTPTimeout},
		logger:       logger,
		clock:        clockwork.NewRealClock(),
		initialDelay: defaultInitialDelay,
		maxDelay:     defaultMaxDelay,
		waitTimeout:  defaultWaitTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NotifyStart уведомляет publish-сервис о старте run.
//
// Тело и статус ответа не интерпретируются: уведомление fire-and-forget,
// фатальна только сетевая ошибка.
func (c *Client) NotifyStart(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/publish/start/", nil)
	if err != nil {
		return fmt.Errorf("%w: create request: %v", ErrNotify, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotify, err)
	}
	defer resp.Body.Close()

	c.logger.Info("publish service notified", "status_code", resp.StatusCode)
	return nil
}

// statusResponse — ответ status endpoint'а.
type statusResponse struct {
	Status string `json:"status"`
}

// WaitReady опрашивает status endpoint до готовности.
//
// Задержка между опросами растёт экспоненциально от initial до max.
// Если готовность не наступила за waitTimeout — ErrWaitTimeout.
// Ошибки отдельных опросов не фатальны: сервис может ещё подниматься.
func (c *Client) WaitReady(ctx context.Context) error {
	deadline := c.clock.Now().Add(c.waitTimeout)
	delay := c.initialDelay

	for attempt := 1; ; attempt++ {
		ready, err := c.checkStatus(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Warn("publish status poll failed", "attempt", attempt, "error", err)
		}
		if ready {
			c.logger.Info("publish service ready", "attempts", attempt)
			return nil
		}

		// Следующий опрос не успевает до дедлайна — сообщаем о таймауте,
		// а не продолжаем run молча.
		if c.clock.Now().Add(delay).After(deadline) {
			return fmt.Errorf("%w after %s (%d attempts)", ErrWaitTimeout, c.waitTimeout, attempt)
		}

		c.logger.Debug("publish service not ready, backing off",
			"attempt", attempt,
			"delay", delay,
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.clock.After(delay):
		}

		delay = min(delay*2, c.maxDelay)
	}
}

// checkStatus выполняет один опрос status endpoint'а.
func (c *Client) checkStatus(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/publish/status/", nil)
	if err != nil {
		return false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var status statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return false, fmt.Errorf("decode status: %w", err)
	}

	return status.Status == StatusReady, nil
}
