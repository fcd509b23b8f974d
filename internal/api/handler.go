// Package api — HTTP API сервиса RISE.
//
// Endpoints:
//
//	GET|POST /api/v1/publish/start/  — создать simulation run (202)
//	GET      /api/v1/publish/status/ — готовность последнего run
//	GET      /api/v1/runs            — история runs
//	GET      /api/v1/runs/{id}       — один run
//
// publish/start/ принимает и GET: исторические клиенты дёргают
// endpoint простым GET без тела.
package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/ngwpc/rise/internal/domain"
)

// RunStore — хранилище runs для API.
type RunStore interface {
	Create(ctx context.Context, run *domain.Run) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Run, error)
	GetLatest(ctx context.Context) (*domain.Run, error)
	List(ctx context.Context, filter RunFilter) ([]domain.Run, error)
}

// RunFilter — параметры фильтрации списка runs.
// Дублирует repo.RunFilter, чтобы API не зависел от слоя БД напрямую.
type RunFilter struct {
	Status domain.RunStatus
	Limit  int
	Offset int
}

// RequestPublisher публикует запросы на выполнение симуляции.
type RequestPublisher interface {
	PublishRunRequested(ctx context.Context, runID uuid.UUID, serverless bool) error
}

// Handler — HTTP-обработчики API.
type Handler struct {
	store     RunStore
	publisher RequestPublisher
	logger    *slog.Logger
	spec      domain.SimulationSpec
}

// Config — конфигурация Handler.
type Config struct {
	Store     RunStore
	Publisher RequestPublisher
	Logger    *slog.Logger

	// Spec — спецификация создаваемых runs.
	Spec domain.SimulationSpec
}

// NewHandler создаёт Handler.
func NewHandler(cfg Config) *Handler {
	return &Handler{
		store:     cfg.Store,
		publisher: cfg.Publisher,
		logger:    cfg.Logger,
		spec:      cfg.Spec.WithDefaults(),
	}
}

// Routes возвращает роутер API с middleware.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/publish/start/", h.startRun)
	mux.HandleFunc("POST /api/v1/publish/start/", h.startRun)
	mux.HandleFunc("GET /api/v1/publish/status/", h.publishStatus)
	mux.HandleFunc("GET /api/v1/runs", h.listRuns)
	mux.HandleFunc("GET /api/v1/runs/{id}", h.getRun)

	return Chain(mux,
		Recovery(h.logger),
		Logging(h.logger),
	)
}
