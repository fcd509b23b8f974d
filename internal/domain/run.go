package domain

import (
	"time"

	"github.com/google/uuid"
)

// Run — один запуск гидродинамической симуляции SFINCS.
//
// Run создаётся когда:
// - Оператор вызывает rise-run напрямую (без БД, только in-memory)
// - API получает запрос на /api/v1/publish/start/
// - Scheduler создаёт run по cron-расписанию
type Run struct {
	// ID — уникальный идентификатор run.
	// Также ключ per-run scratch-директории.
	ID uuid.UUID `json:"id"`

	// Status — текущий статус выполнения.
	Status RunStatus `json:"status"`

	// Serverless — выполнять ли serverless-хуки
	// (уведомление publish-сервиса и ожидание его готовности).
	Serverless bool `json:"serverless"`

	// Spec — параметры симуляции (образ, датасет, артефакт).
	Spec SimulationSpec `json:"spec"`

	// ScratchDir — фактическая scratch-директория этого run.
	// Заполняется на этапе staging.
	ScratchDir string `json:"scratch_dir,omitempty"`

	// StartedAt — время начала выполнения (когда статус стал RUNNING).
	// Nil, если run ещё не начался.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// FinishedAt — время завершения (успешного или с ошибкой).
	// Nil, если run ещё выполняется.
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// Error — текст ошибки, если run завершился с FAILED.
	Error string `json:"error,omitempty"`

	// ExitCode — код выхода контейнера симуляции.
	// Nil, пока контейнер не завершился.
	ExitCode *int `json:"exit_code,omitempty"`

	// IdempotencyKey — ключ идемпотентности для предотвращения дубликатов.
	// Для scheduled runs: "forecast_{next_due_at}".
	IdempotencyKey string `json:"idempotency_key,omitempty"`

	// CreatedAt — время создания run.
	CreatedAt time.Time `json:"created_at"`
}

// NewRun создаёт run в статусе PENDING с указанной спецификацией.
func NewRun(spec SimulationSpec, serverless bool) *Run {
	return &Run{
		ID:         uuid.New(),
		Status:     RunStatusPending,
		Serverless: serverless,
		Spec:       spec,
		CreatedAt:  time.Now(),
	}
}

// Duration возвращает продолжительность выполнения.
// Возвращает 0, если run ещё не завершён.
func (r *Run) Duration() time.Duration {
	if r.StartedAt == nil || r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(*r.StartedAt)
}

// IsFinished возвращает true, если run завершён (в любом статусе).
func (r *Run) IsFinished() bool {
	return r.Status.IsTerminal()
}

// MarkRunning переводит run в статус RUNNING.
func (r *Run) MarkRunning() {
	now := time.Now()
	r.Status = RunStatusRunning
	r.StartedAt = &now
}

// MarkSucceeded переводит run в статус SUCCEEDED.
func (r *Run) MarkSucceeded() {
	now := time.Now()
	r.Status = RunStatusSucceeded
	r.FinishedAt = &now
}

// MarkFailed переводит run в статус FAILED с ошибкой.
func (r *Run) MarkFailed(err string) {
	now := time.Now()
	r.Status = RunStatusFailed
	r.FinishedAt = &now
	r.Error = err
}

// MarkCancelled переводит run в статус CANCELLED.
func (r *Run) MarkCancelled() {
	now := time.Now()
	r.Status = RunStatusCancelled
	r.FinishedAt = &now
}
