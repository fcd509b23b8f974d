package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ngwpc/rise/internal/domain"
)

// RunRepo — репозиторий истории simulation runs.
//
// Схема:
//
//	CREATE TABLE runs (
//	    id              UUID PRIMARY KEY,
//	    status          TEXT NOT NULL,
//	    serverless      BOOLEAN NOT NULL DEFAULT FALSE,
//	    spec            JSONB NOT NULL,
//	    scratch_dir     TEXT,
//	    started_at      TIMESTAMPTZ,
//	    finished_at     TIMESTAMPTZ,
//	    error           TEXT,
//	    exit_code       INT,
//	    idempotency_key TEXT,
//	    created_at      TIMESTAMPTZ NOT NULL,
//	    UNIQUE (idempotency_key)
//	);
type RunRepo struct {
	pool *pgxpool.Pool
}

// NewRunRepo создаёт новый RunRepo.
func NewRunRepo(pool *pgxpool.Pool) *RunRepo {
	return &RunRepo{pool: pool}
}

const runColumns = `id, status, serverless, spec, scratch_dir, started_at,
       finished_at, error, exit_code, idempotency_key, created_at`

// Create создаёт новый run.
func (r *RunRepo) Create(ctx context.Context, run *domain.Run) error {
	specJSON, err := json.Marshal(run.Spec)
	if err != nil {
		return fmt.Errorf("marshal spec: %w", err)
	}

	query := `
		INSERT INTO runs (id, status, serverless, spec, idempotency_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err = r.pool.Exec(ctx, query,
		run.ID,
		run.Status,
		run.Serverless,
		specJSON,
		nullString(run.IdempotencyKey),
		run.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			// Нарушение уникальности idempotency_key
			return ErrAlreadyExists
		}
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// GetByID возвращает run по ID.
func (r *RunRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE id = $1`
	return scanRun(r.pool.QueryRow(ctx, query, id))
}

// GetByIdempotencyKey возвращает run по ключу идемпотентности.
func (r *RunRepo) GetByIdempotencyKey(ctx context.Context, key string) (*domain.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE idempotency_key = $1`
	return scanRun(r.pool.QueryRow(ctx, query, key))
}

// GetLatest возвращает последний созданный run.
// Используется publish status endpoint'ом.
func (r *RunRepo) GetLatest(ctx context.Context) (*domain.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY created_at DESC LIMIT 1`
	return scanRun(r.pool.QueryRow(ctx, query))
}

// Update обновляет изменяемые поля run.
func (r *RunRepo) Update(ctx context.Context, run *domain.Run) error {
	query := `
		UPDATE runs
		SET status = $2, scratch_dir = $3, started_at = $4,
		    finished_at = $5, error = $6, exit_code = $7
		WHERE id = $1
	`
	result, err := r.pool.Exec(ctx, query,
		run.ID,
		run.Status,
		nullString(run.ScratchDir),
		run.StartedAt,
		run.FinishedAt,
		nullString(run.Error),
		run.ExitCode,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// List возвращает runs с фильтрацией по статусу.
func (r *RunRepo) List(ctx context.Context, filter RunFilter) ([]domain.Run, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT ` + runColumns + `
		FROM runs
		WHERE ($1::text IS NULL OR status = $1)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.pool.Query(ctx, query,
		nullString(string(filter.Status)),
		limit,
		filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	return collectRuns(rows)
}

// ListPending возвращает runs в статусе PENDING (для polling fallback).
func (r *RunRepo) ListPending(ctx context.Context, limit int) ([]domain.Run, error) {
	query := `
		SELECT ` + runColumns + `
		FROM runs
		WHERE status = 'PENDING'
		ORDER BY created_at ASC
		LIMIT $1
	`
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending runs: %w", err)
	}
	defer rows.Close()

	return collectRuns(rows)
}

// --- Helpers ---

// RunFilter — параметры фильтрации runs.
type RunFilter struct {
	Status domain.RunStatus
	Limit  int
	Offset int
}

func collectRuns(rows pgx.Rows) ([]domain.Run, error) {
	var runs []domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// scanRun сканирует одну строку в Run.
func scanRun(row pgx.Row) (*domain.Run, error) {
	var run domain.Run
	var specJSON []byte
	var scratchDir, runError, idempotencyKey *string

	err := row.Scan(
		&run.ID,
		&run.Status,
		&run.Serverless,
		&specJSON,
		&scratchDir,
		&run.StartedAt,
		&run.FinishedAt,
		&runError,
		&run.ExitCode,
		&idempotencyKey,
		&run.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}

	if specJSON != nil {
		if err := json.Unmarshal(specJSON, &run.Spec); err != nil {
			return nil, fmt.Errorf("unmarshal spec: %w", err)
		}
	}

	if scratchDir != nil {
		run.ScratchDir = *scratchDir
	}
	if runError != nil {
		run.Error = *runError
	}
	if idempotencyKey != nil {
		run.IdempotencyKey = *idempotencyKey
	}

	return &run, nil
}

// nullString возвращает nil для пустой строки (для NULL в БД).
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
