package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/ngwpc/rise/internal/domain"
	"github.com/ngwpc/rise/internal/repo"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(testWriter{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

type testWriter struct{}

func (testWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestValidateCronExpr(t *testing.T) {
	tests := []struct {
		expr    string
		wantErr bool
	}{
		{"0 */6 * * *", false},
		{"*/15 * * * *", false},
		{"0 0 * * 1", false},
		{"", true},
		{"not a cron", true},
		{"0 0 * *", true}, // 4 поля
	}

	for _, tt := range tests {
		err := ValidateCronExpr(tt.expr)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateCronExpr(%q): err=%v, wantErr=%v", tt.expr, err, tt.wantErr)
		}
	}
}

func TestCalculateNextDue(t *testing.T) {
	from := time.Date(2026, 8, 26, 10, 30, 0, 0, time.UTC)

	due, err := CalculateNextDue("0 */6 * * *", from)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	if !due.Equal(want) {
		t.Errorf("next due: got %v, want %v", due, want)
	}
}

func TestIdempotencyKey(t *testing.T) {
	due := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	if got := IdempotencyKey(due); got != "forecast_2026-08-26T12:00:00Z" {
		t.Errorf("unexpected key: %s", got)
	}
}

// memStore — in-memory RunStore с уникальностью по ключу идемпотентности.
type memStore struct {
	mu   sync.Mutex
	runs []*domain.Run
}

func (s *memStore) Create(_ context.Context, run *domain.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.runs {
		if run.IdempotencyKey != "" && existing.IdempotencyKey == run.IdempotencyKey {
			return repo.ErrAlreadyExists
		}
	}
	clone := *run
	s.runs = append(s.runs, &clone)
	return nil
}

func (s *memStore) GetByIdempotencyKey(_ context.Context, key string) (*domain.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, run := range s.runs {
		if run.IdempotencyKey == key {
			clone := *run
			return &clone, nil
		}
	}
	return nil, repo.ErrNotFound
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.runs)
}

type fakePublisher struct {
	mu   sync.Mutex
	runs []uuid.UUID
}

func (f *fakePublisher) PublishRunRequested(_ context.Context, runID uuid.UUID, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, runID)
	return nil
}

func TestNew_InvalidExpr(t *testing.T) {
	_, err := New(Config{
		Store:  &memStore{},
		Logger: testLogger(),
		Expr:   "garbage",
	})
	if err == nil {
		t.Fatal("expected error for invalid cron expression")
	}
}

func TestEnqueueForecast_CreatesAndPublishes(t *testing.T) {
	store := &memStore{}
	publisher := &fakePublisher{}

	s, err := New(Config{
		Store:      store,
		Publisher:  publisher,
		Logger:     testLogger(),
		Expr:       "0 */6 * * *",
		Serverless: true,
	})
	if err != nil {
		t.Fatal(err)
	}

	due := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	if err := s.enqueueForecast(context.Background(), due); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if store.count() != 1 {
		t.Fatalf("expected 1 run, got %d", store.count())
	}

	run, err := store.GetByIdempotencyKey(context.Background(), IdempotencyKey(due))
	if err != nil {
		t.Fatalf("run not found by idempotency key: %v", err)
	}
	if run.Status != domain.RunStatusPending {
		t.Errorf("expected PENDING, got %s", run.Status)
	}
	if !run.Serverless {
		t.Error("serverless flag not propagated")
	}

	if len(publisher.runs) != 1 || publisher.runs[0] != run.ID {
		t.Errorf("run.requested not published for %s: %v", run.ID, publisher.runs)
	}
}

func TestEnqueueForecast_Idempotent(t *testing.T) {
	store := &memStore{}
	publisher := &fakePublisher{}

	s, err := New(Config{
		Store:     store,
		Publisher: publisher,
		Logger:    testLogger(),
		Expr:      "0 */6 * * *",
	})
	if err != nil {
		t.Fatal(err)
	}

	due := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	for range 3 {
		if err := s.enqueueForecast(context.Background(), due); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if store.count() != 1 {
		t.Errorf("duplicate forecast runs created: %d", store.count())
	}
	if len(publisher.runs) != 1 {
		t.Errorf("duplicate run.requested published: %d", len(publisher.runs))
	}
}

func TestStart_FiresOnSchedule(t *testing.T) {
	store := &memStore{}
	clock := clockwork.NewFakeClockAt(time.Date(2026, 8, 26, 11, 59, 0, 0, time.UTC))

	s, err := New(Config{
		Store:  store,
		Logger: testLogger(),
		Expr:   "0 */6 * * *",
		Clock:  clock,
	})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	// До срабатывания в 12:00 — одна минута
	clock.BlockUntil(1)
	clock.Advance(time.Minute)

	// Ждём, пока run появится, затем останавливаем
	deadline := time.After(2 * time.Second)
	for store.count() == 0 {
		select {
		case <-deadline:
			t.Fatal("scheduler did not fire")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	cancel()
	<-done

	if store.count() != 1 {
		t.Errorf("expected 1 run, got %d", store.count())
	}
}
