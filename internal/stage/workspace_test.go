package stage

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// makeDataset создаёт тестовый датасет с вложенной структурой.
func makeDataset(t *testing.T) string {
	t.Helper()

	dir := filepath.Join(t.TempDir(), "ngwpc_data")
	if err := os.MkdirAll(filepath.Join(dir, "subgrid"), 0o755); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(dir, "sfincs.inp"), "tref = 20190520")
	writeFile(t, filepath.Join(dir, "subgrid", "depths.bin"), "binary-ish")
	return dir
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func TestPrepare_CopiesDataset(t *testing.T) {
	dataset := makeDataset(t)
	scratchRoot := t.TempDir()

	ws, err := Prepare(testLogger(), scratchRoot, "run-1", dataset)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := readFile(t, filepath.Join(ws.DataDir(), "sfincs.inp")); got != "tref = 20190520" {
		t.Errorf("unexpected staged content: %q", got)
	}
	if got := readFile(t, filepath.Join(ws.DataDir(), "subgrid", "depths.bin")); got != "binary-ish" {
		t.Errorf("nested file not staged: %q", got)
	}

	// Директория датасета называется как исходная
	if filepath.Base(ws.DataDir()) != "ngwpc_data" {
		t.Errorf("unexpected data dir name: %s", ws.DataDir())
	}
}

func TestPrepare_RemovesStaleScratch(t *testing.T) {
	dataset := makeDataset(t)
	scratchRoot := t.TempDir()

	// Остатки предыдущей попытки того же run
	stale := filepath.Join(scratchRoot, "run-1", "ngwpc_data")
	if err := os.MkdirAll(stale, 0o755); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(stale, "leftover.nc"), "old")

	ws, err := Prepare(testLogger(), scratchRoot, "run-1", dataset)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := os.Stat(filepath.Join(ws.DataDir(), "leftover.nc")); !os.IsNotExist(err) {
		t.Error("stale scratch content must not survive staging")
	}
}

func TestPrepare_MissingDataset(t *testing.T) {
	_, err := Prepare(testLogger(), t.TempDir(), "run-1", filepath.Join(t.TempDir(), "no-such-dir"))
	if err == nil {
		t.Fatal("expected error for missing dataset")
	}
}

func TestExtractOutput_OverwritesPrevious(t *testing.T) {
	dataset := makeDataset(t)
	writeFile(t, filepath.Join(dataset, "sfincs_map.nc"), "previous result")

	ws, err := Prepare(testLogger(), t.TempDir(), "run-1", dataset)
	if err != nil {
		t.Fatal(err)
	}

	// Контейнер "записал" новый результат в scratch
	writeFile(t, filepath.Join(ws.DataDir(), "sfincs_map.nc"), "fresh result")

	if err := ws.ExtractOutput("sfincs_map.nc", dataset); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := readFile(t, filepath.Join(dataset, "sfincs_map.nc")); got != "fresh result" {
		t.Errorf("dataset copy not overwritten: %q", got)
	}
}

func TestExtractOutput_Missing(t *testing.T) {
	dataset := makeDataset(t)

	ws, err := Prepare(testLogger(), t.TempDir(), "run-1", dataset)
	if err != nil {
		t.Fatal(err)
	}

	err = ws.ExtractOutput("sfincs_map.nc", dataset)
	if !errors.Is(err, ErrOutputMissing) {
		t.Fatalf("expected ErrOutputMissing, got %v", err)
	}
}

func TestDispose_RemovesScratch(t *testing.T) {
	dataset := makeDataset(t)
	scratchRoot := t.TempDir()

	ws, err := Prepare(testLogger(), scratchRoot, "run-1", dataset)
	if err != nil {
		t.Fatal(err)
	}

	if err := ws.Dispose(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := os.Stat(filepath.Join(scratchRoot, "run-1")); !os.IsNotExist(err) {
		t.Error("scratch must be removed after dispose")
	}
}
