package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/ngwpc/rise/internal/domain"
	"github.com/ngwpc/rise/internal/mq"
	"github.com/ngwpc/rise/internal/repo"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(testWriter{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

type testWriter struct{}

func (testWriter) Write(p []byte) (int, error) { return len(p), nil }

// memStore — in-memory RunStore.
type memStore struct {
	mu   sync.Mutex
	runs map[uuid.UUID]*domain.Run
}

func newMemStore(runs ...*domain.Run) *memStore {
	s := &memStore{runs: make(map[uuid.UUID]*domain.Run)}
	for _, r := range runs {
		clone := *r
		s.runs[r.ID] = &clone
	}
	return s
}

func (s *memStore) GetByID(_ context.Context, id uuid.UUID) (*domain.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	clone := *run
	return &clone, nil
}

func (s *memStore) Update(_ context.Context, run *domain.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[run.ID]; !ok {
		return repo.ErrNotFound
	}
	clone := *run
	s.runs[run.ID] = &clone
	return nil
}

func (s *memStore) ListPending(_ context.Context, limit int) ([]domain.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var pending []domain.Run
	for _, run := range s.runs {
		if run.Status == domain.RunStatusPending && len(pending) < limit {
			pending = append(pending, *run)
		}
	}
	return pending, nil
}

type fakeExecutor struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeExecutor) Execute(_ context.Context, run *domain.Run) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls += 1
	if f.err == nil {
		code := 0
		run.ExitCode = &code
	}
	return f.err
}

func (f *fakeExecutor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakePublisher struct {
	mu       sync.Mutex
	payloads []mq.RunCompletedPayload
	err      error
}

func (f *fakePublisher) PublishRunCompleted(_ context.Context, payload mq.RunCompletedPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, payload)
	return f.err
}

func newTestWorker(store RunStore, executor Executor, publisher CompletionPublisher) *Worker {
	return New(Config{
		Store:     store,
		Executor:  executor,
		Publisher: publisher,
		Logger:    testLogger(),
	})
}

// requestedDelivery строит сообщение run.requested так, как оно
// выглядит после прохождения через JSON.
func requestedDelivery(runID uuid.UUID, serverless bool) *mq.Delivery {
	return &mq.Delivery{
		Message: mq.Message{
			ID:   uuid.New().String(),
			Type: mq.MessageTypeRunRequested,
			Payload: map[string]any{
				"run_id":     runID.String(),
				"serverless": serverless,
			},
		},
	}
}

func TestHandleRunRequested_Success(t *testing.T) {
	run := domain.NewRun(domain.SimulationSpec{}.WithDefaults(), true)
	store := newMemStore(run)
	executor := &fakeExecutor{}
	publisher := &fakePublisher{}
	w := newTestWorker(store, executor, publisher)

	err := w.handleRunRequested(context.Background(), requestedDelivery(run.ID, true))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stored, _ := store.GetByID(context.Background(), run.ID)
	if stored.Status != domain.RunStatusSucceeded {
		t.Errorf("expected SUCCEEDED, got %s", stored.Status)
	}
	if stored.StartedAt == nil || stored.FinishedAt == nil {
		t.Error("start/finish timestamps not recorded")
	}

	if len(publisher.payloads) != 1 {
		t.Fatalf("expected 1 run.completed event, got %d", len(publisher.payloads))
	}
	if publisher.payloads[0].Status != domain.RunStatusSucceeded {
		t.Errorf("unexpected completed status: %s", publisher.payloads[0].Status)
	}
}

func TestHandleRunRequested_ExecutorFailure(t *testing.T) {
	run := domain.NewRun(domain.SimulationSpec{}.WithDefaults(), false)
	store := newMemStore(run)
	executor := &fakeExecutor{err: errors.New("stage simulate: boom")}
	publisher := &fakePublisher{}
	w := newTestWorker(store, executor, publisher)

	// Ошибка симуляции — исход run, а не ошибка обработки сообщения
	err := w.handleRunRequested(context.Background(), requestedDelivery(run.ID, false))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stored, _ := store.GetByID(context.Background(), run.ID)
	if stored.Status != domain.RunStatusFailed {
		t.Errorf("expected FAILED, got %s", stored.Status)
	}
	if stored.Error != "stage simulate: boom" {
		t.Errorf("error text not recorded: %q", stored.Error)
	}

	if len(publisher.payloads) != 1 || publisher.payloads[0].Status != domain.RunStatusFailed {
		t.Errorf("run.completed must carry FAILED status: %+v", publisher.payloads)
	}
}

func TestHandleRunRequested_AlreadyPicked(t *testing.T) {
	run := domain.NewRun(domain.SimulationSpec{}.WithDefaults(), false)
	run.MarkRunning()
	store := newMemStore(run)
	executor := &fakeExecutor{}
	w := newTestWorker(store, executor, &fakePublisher{})

	if err := w.handleRunRequested(context.Background(), requestedDelivery(run.ID, false)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if executor.callCount() != 0 {
		t.Error("run in non-PENDING status must not be executed again")
	}
}

func TestHandleRunRequested_UnknownRun(t *testing.T) {
	store := newMemStore()
	executor := &fakeExecutor{}
	w := newTestWorker(store, executor, &fakePublisher{})

	// Неизвестный run — сообщение отбрасывается, не requeue
	if err := w.handleRunRequested(context.Background(), requestedDelivery(uuid.New(), false)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if executor.callCount() != 0 {
		t.Error("executor must not run for unknown run")
	}
}

func TestHandleRunRequested_InvalidPayload(t *testing.T) {
	w := newTestWorker(newMemStore(), &fakeExecutor{}, &fakePublisher{})

	d := &mq.Delivery{
		Message: mq.Message{
			ID:      uuid.New().String(),
			Type:    mq.MessageTypeRunRequested,
			Payload: map[string]any{"run_id": "not-a-uuid"},
		},
	}

	err := w.handleRunRequested(context.Background(), d)
	if !errors.Is(err, mq.ErrPermanent) {
		t.Fatalf("expected ErrPermanent for invalid payload, got %v", err)
	}
}

func TestPollPending_ProcessesAll(t *testing.T) {
	first := domain.NewRun(domain.SimulationSpec{}.WithDefaults(), false)
	second := domain.NewRun(domain.SimulationSpec{}.WithDefaults(), true)
	store := newMemStore(first, second)
	executor := &fakeExecutor{}
	publisher := &fakePublisher{}
	w := newTestWorker(store, executor, publisher)

	w.pollPending(context.Background())

	if executor.callCount() != 2 {
		t.Fatalf("expected 2 executions, got %d", executor.callCount())
	}
	for _, id := range []uuid.UUID{first.ID, second.ID} {
		stored, _ := store.GetByID(context.Background(), id)
		if stored.Status != domain.RunStatusSucceeded {
			t.Errorf("run %s: expected SUCCEEDED, got %s", id, stored.Status)
		}
	}
}

func TestProcessRun_PublisherErrorTolerated(t *testing.T) {
	run := domain.NewRun(domain.SimulationSpec{}.WithDefaults(), false)
	store := newMemStore(run)
	publisher := &fakePublisher{err: errors.New("broker down")}
	w := newTestWorker(store, &fakeExecutor{}, publisher)

	if err := w.processRun(context.Background(), run); err != nil {
		t.Fatalf("publish failure must not fail the run: %v", err)
	}

	stored, _ := store.GetByID(context.Background(), run.ID)
	if stored.Status != domain.RunStatusSucceeded {
		t.Errorf("expected SUCCEEDED, got %s", stored.Status)
	}
}
