// Package cli — операторский CLI сервиса RISE (бинарь rise).
//
// Команды ходят в HTTP API; прямого доступа к БД или брокеру у CLI нет.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Run — представление run в ответах API.
type Run struct {
	ID         string     `json:"id"`
	Status     string     `json:"status"`
	Serverless bool       `json:"serverless"`
	Image      string     `json:"image"`
	ScratchDir string     `json:"scratch_dir,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	DurationMs int64      `json:"duration_ms,omitempty"`
	Error      string     `json:"error,omitempty"`
	ExitCode   *int       `json:"exit_code,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// StartResult — ответ на запуск симуляции.
type StartResult struct {
	RunID  string `json:"run_id"`
	Status string `json:"status"`
}

// PublishStatus — ответ publish status endpoint'а.
type PublishStatus struct {
	Status string `json:"status"`
	RunID  string `json:"run_id,omitempty"`
}

type runList struct {
	Runs []Run `json:"runs"`
}

type apiError struct {
	Error string `json:"error"`
}

// Client — HTTP-клиент API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент API.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// StartRun запускает новую симуляцию.
func (c *Client) StartRun(ctx context.Context) (*StartResult, error) {
	var result StartResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/publish/start/", &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetRun возвращает run по ID.
func (c *Client) GetRun(ctx context.Context, id string) (*Run, error) {
	var run Run
	if err := c.do(ctx, http.MethodGet, "/api/v1/runs/"+id, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// ListRuns возвращает историю runs.
func (c *Client) ListRuns(ctx context.Context, status string, limit int) ([]Run, error) {
	path := fmt.Sprintf("/api/v1/runs?limit=%d", limit)
	if status != "" {
		path += "&status=" + status
	}

	var list runList
	if err := c.do(ctx, http.MethodGet, path, &list); err != nil {
		return nil, err
	}
	return list.Runs, nil
}

// GetPublishStatus возвращает готовность пре-процессинга.
func (c *Client) GetPublishStatus(ctx context.Context) (*PublishStatus, error) {
	var status PublishStatus
	if err := c.do(ctx, http.MethodGet, "/api/v1/publish/status/", &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// do выполняет запрос и декодирует ответ в out.
func (c *Client) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s %s: %s (status %d)", method, path, apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
