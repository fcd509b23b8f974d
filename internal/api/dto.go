package api

import (
	"time"

	"github.com/ngwpc/rise/internal/domain"
	"github.com/ngwpc/rise/internal/publish"
)

// startResponse — ответ на запрос запуска симуляции.
type startResponse struct {
	RunID  string `json:"run_id"`
	Status string `json:"status"`
}

// statusResponse — ответ publish status endpoint'а.
//
// Контракт опрашивается runner'ом в serverless-режиме:
// "processing", пока последний run не завершён, иначе "ready".
type statusResponse struct {
	Status string `json:"status"`
	RunID  string `json:"run_id,omitempty"`
}

// Значения поля status.
const (
	statusReady      = publish.StatusReady
	statusProcessing = "processing"
)

// runResponse — представление run в API.
type runResponse struct {
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

// runListResponse — ответ со списком runs.
type runListResponse struct {
	Runs []runResponse `json:"runs"`
}

// toRunResponse конвертирует domain.Run в представление API.
func toRunResponse(run *domain.Run) runResponse {
	return runResponse{
		ID:         run.ID.String(),
		Status:     string(run.Status),
		Serverless: run.Serverless,
		Image:      run.Spec.Image,
		ScratchDir: run.ScratchDir,
		StartedAt:  run.StartedAt,
		FinishedAt: run.FinishedAt,
		DurationMs: run.Duration().Milliseconds(),
		Error:      run.Error,
		ExitCode:   run.ExitCode,
		CreatedAt:  run.CreatedAt,
	}
}
