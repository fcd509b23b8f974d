package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/ngwpc/rise/internal/domain"
	"github.com/ngwpc/rise/internal/repo"
)

// startRequest — опциональное тело запроса на запуск.
//
// Исторические клиенты дёргают endpoint простым GET без тела:
// тогда применяются значения по умолчанию (serverless run на
// сконфигурированном датасете).
type startRequest struct {
	DataDir    string `json:"data_dir,omitempty"`
	Serverless *bool  `json:"serverless,omitempty"`
}

// startRun создаёт run и ставит его в очередь.
//
// Ответ — 202 Accepted: симуляция выполняется worker'ом асинхронно,
// прогресс доступен через /api/v1/runs/{id}.
func (h *Handler) startRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req startRequest
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	spec := h.spec
	if req.DataDir != "" {
		spec.DataDir = req.DataDir
	}
	serverless := true
	if req.Serverless != nil {
		serverless = *req.Serverless
	}

	run := domain.NewRun(spec, serverless)
	if err := h.store.Create(ctx, run); err != nil {
		h.logger.Error("failed to create run", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create run")
		return
	}

	if h.publisher != nil {
		if err := h.publisher.PublishRunRequested(ctx, run.ID, run.Serverless); err != nil {
			// Run уже в БД: его подберёт polling fallback worker'а
			h.logger.Warn("failed to publish run.requested, relying on polling",
				"run_id", run.ID,
				"error", err,
			)
		}
	}

	h.logger.Info("run accepted", "run_id", run.ID)

	writeJSON(w, http.StatusAccepted, startResponse{
		RunID:  run.ID.String(),
		Status: string(run.Status),
	})
}

// publishStatus сообщает готовность пре-процессинга.
//
// "processing", пока последний созданный run не достиг терминального
// статуса; "ready" в остальных случаях (в том числе когда runs ещё
// не было).
func (h *Handler) publishStatus(w http.ResponseWriter, r *http.Request) {
	latest, err := h.store.GetLatest(r.Context())
	if errors.Is(err, repo.ErrNotFound) {
		writeJSON(w, http.StatusOK, statusResponse{Status: statusReady})
		return
	}
	if err != nil {
		h.logger.Error("failed to load latest run", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load latest run")
		return
	}

	status := statusProcessing
	if latest.IsFinished() {
		status = statusReady
	}

	writeJSON(w, http.StatusOK, statusResponse{
		Status: status,
		RunID:  latest.ID.String(),
	})
}
