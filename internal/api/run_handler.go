package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/ngwpc/rise/internal/domain"
	"github.com/ngwpc/rise/internal/repo"
)

// listRuns возвращает историю runs, новые первыми.
//
// Query-параметры: status, limit, offset.
func (h *Handler) listRuns(w http.ResponseWriter, r *http.Request) {
	filter := RunFilter{
		Status: domain.RunStatus(r.URL.Query().Get("status")),
	}

	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = limit
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		offset, err := strconv.Atoi(v)
		if err != nil || offset < 0 {
			writeError(w, http.StatusBadRequest, "invalid offset")
			return
		}
		filter.Offset = offset
	}

	runs, err := h.store.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("failed to list runs", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}

	resp := runListResponse{Runs: make([]runResponse, 0, len(runs))}
	for i := range runs {
		resp.Runs = append(resp.Runs, toRunResponse(&runs[i]))
	}

	writeJSON(w, http.StatusOK, resp)
}

// getRun возвращает один run по ID.
func (h *Handler) getRun(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid run id")
		return
	}

	run, err := h.store.GetByID(r.Context(), id)
	if errors.Is(err, repo.ErrNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to load run", "run_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load run")
		return
	}

	writeJSON(w, http.StatusOK, toRunResponse(run))
}
