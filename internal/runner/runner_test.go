package runner

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/ngwpc/rise/internal/container"
	"github.com/ngwpc/rise/internal/domain"
	"github.com/ngwpc/rise/internal/telemetry"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(testWriter{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

type testWriter struct{}

func (testWriter) Write(p []byte) (int, error) { return len(p), nil }

// calls накапливает порядок вызовов, общий для всех фейков.
type calls struct {
	order []string
}

func (c *calls) record(name string) {
	c.order = append(c.order, name)
}

type fakePublish struct {
	calls     *calls
	notifyErr error
	waitErr   error
}

func (f *fakePublish) NotifyStart(context.Context) error {
	f.calls.record("notify")
	return f.notifyErr
}

func (f *fakePublish) WaitReady(context.Context) error {
	f.calls.record("wait")
	return f.waitErr
}

type fakeEngine struct {
	calls    *calls
	pullErr  error
	exitCode int
	runErr   error

	gotImage string
	gotOpts  container.RunOptions
}

func (f *fakeEngine) EnsureImage(_ context.Context, ref string) error {
	f.calls.record("pull")
	f.gotImage = ref
	return f.pullErr
}

func (f *fakeEngine) Run(_ context.Context, opts container.RunOptions) (int, error) {
	f.calls.record("simulate")
	f.gotOpts = opts
	return f.exitCode, f.runErr
}

type fakeWorkspace struct {
	calls      *calls
	extractErr error
}

func (f *fakeWorkspace) DataDir() string { return "/tmp/sfincs_temp/run-x/ngwpc_data" }

func (f *fakeWorkspace) ExtractOutput(_, _ string) error {
	f.calls.record("extract")
	return f.extractErr
}

func (f *fakeWorkspace) Dispose() error {
	f.calls.record("dispose")
	return nil
}

// harness собирает Runner на фейках.
type harness struct {
	runner    *Runner
	calls     *calls
	publish   *fakePublish
	engine    *fakeEngine
	workspace *fakeWorkspace

	prepareErr error
}

func newHarness(opts ...Option) *harness {
	c := &calls{}
	h := &harness{
		calls:     c,
		publish:   &fakePublish{calls: c},
		engine:    &fakeEngine{calls: c},
		workspace: &fakeWorkspace{calls: c},
	}
	h.runner = New(h.engine, h.publish, telemetry.NewMetricsForTesting(), testLogger(), opts...)
	h.runner.prepare = func(*slog.Logger, string, string, string) (Workspace, error) {
		c.record("stage")
		if h.prepareErr != nil {
			return nil, h.prepareErr
		}
		return h.workspace, nil
	}
	return h
}

func assertOrder(t *testing.T, got, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("call order mismatch: got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("call order mismatch: got %v, want %v", got, want)
		}
	}
}

func TestExecute_ServerlessStageOrder(t *testing.T) {
	h := newHarness()
	run := domain.NewRun(domain.SimulationSpec{}.WithDefaults(), true)

	if err := h.runner.Execute(context.Background(), run); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	assertOrder(t, h.calls.order, []string{"notify", "wait", "pull", "stage", "simulate", "extract", "dispose"})

	if h.engine.gotImage != domain.DefaultImage {
		t.Errorf("unexpected image: %s", h.engine.gotImage)
	}
	if h.engine.gotOpts.ContainerDataPath != domain.ContainerDataPath {
		t.Errorf("unexpected mount point: %s", h.engine.gotOpts.ContainerDataPath)
	}
	if run.ScratchDir != h.workspace.DataDir() {
		t.Errorf("scratch dir not recorded on run: %s", run.ScratchDir)
	}
	if run.ExitCode == nil || *run.ExitCode != 0 {
		t.Errorf("exit code not recorded: %v", run.ExitCode)
	}
}

func TestExecute_NonServerlessSkipsPublish(t *testing.T) {
	h := newHarness()
	run := domain.NewRun(domain.SimulationSpec{}.WithDefaults(), false)

	if err := h.runner.Execute(context.Background(), run); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	assertOrder(t, h.calls.order, []string{"pull", "stage", "simulate", "extract", "dispose"})
}

func TestExecute_WaitFailureAbortsBeforePull(t *testing.T) {
	h := newHarness()
	h.publish.waitErr = errors.New("not ready in time")
	run := domain.NewRun(domain.SimulationSpec{}.WithDefaults(), true)

	if err := h.runner.Execute(context.Background(), run); err == nil {
		t.Fatal("expected error")
	}

	assertOrder(t, h.calls.order, []string{"notify", "wait"})
}

func TestExecute_SimulationFailureSkipsExtract(t *testing.T) {
	h := newHarness()
	h.engine.exitCode = 9
	run := domain.NewRun(domain.SimulationSpec{}.WithDefaults(), false)

	err := h.runner.Execute(context.Background(), run)

	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("expected *ExitError, got %v", err)
	}
	if exitErr.Code != 9 {
		t.Errorf("expected exit code 9, got %d", exitErr.Code)
	}
	if run.ExitCode == nil || *run.ExitCode != 9 {
		t.Errorf("exit code not recorded on run: %v", run.ExitCode)
	}

	// Артефакт не извлекается, но scratch всё равно удаляется
	assertOrder(t, h.calls.order, []string{"pull", "stage", "simulate", "dispose"})
}

func TestExecute_ExtractFailureStillDisposes(t *testing.T) {
	h := newHarness()
	h.workspace.extractErr = errors.New("artifact missing")
	run := domain.NewRun(domain.SimulationSpec{}.WithDefaults(), false)

	if err := h.runner.Execute(context.Background(), run); err == nil {
		t.Fatal("expected error")
	}

	assertOrder(t, h.calls.order, []string{"pull", "stage", "simulate", "extract", "dispose"})
}

func TestExecute_KeepScratch(t *testing.T) {
	h := newHarness(WithKeepScratch(true))
	run := domain.NewRun(domain.SimulationSpec{}.WithDefaults(), false)

	if err := h.runner.Execute(context.Background(), run); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	assertOrder(t, h.calls.order, []string{"pull", "stage", "simulate", "extract"})
}

func TestExecute_StageFailure(t *testing.T) {
	h := newHarness()
	h.prepareErr = errors.New("dataset missing")
	run := domain.NewRun(domain.SimulationSpec{}.WithDefaults(), false)

	if err := h.runner.Execute(context.Background(), run); err == nil {
		t.Fatal("expected error")
	}

	assertOrder(t, h.calls.order, []string{"pull", "stage"})
}

func TestExecute_ContainerUserPassedThrough(t *testing.T) {
	h := newHarness(WithContainerUser("1042:1042"))
	run := domain.NewRun(domain.SimulationSpec{}.WithDefaults(), false)

	if err := h.runner.Execute(context.Background(), run); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if h.engine.gotOpts.User != "1042:1042" {
		t.Errorf("container user not passed through: %q", h.engine.gotOpts.User)
	}
}
