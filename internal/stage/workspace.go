// Package stage управляет scratch-директориями симуляции.
//
// Каждый run получает собственную директорию {scratch_root}/{run_id},
// в которую копируется рабочий датасет. Контейнер читает и пишет только
// копию; после завершения run из копии извлекается выходной артефакт,
// а директория удаляется.
//
// Инварианты:
//   - два run никогда не делят scratch-состояние;
//   - устаревшая директория с тем же run ID удаляется перед staging;
//   - постоянный датасет меняется только при извлечении артефакта.
package stage

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
)

// ErrOutputMissing — контейнер завершился, но артефакт не создан.
var ErrOutputMissing = errors.New("output artifact not found in scratch")

// Workspace — scratch-директория одного run.
type Workspace struct {
	// runDir — корень scratch этого run: {scratch_root}/{run_id}.
	runDir string

	// dataDir — директория датасета внутри scratch (монтируется в контейнер).
	dataDir string

	logger *slog.Logger
}

// DataDir возвращает директорию датасета внутри scratch.
func (w *Workspace) DataDir() string {
	return w.dataDir
}

// Prepare создаёт scratch для run и копирует в него рабочий датасет.
//
// Существующая директория этого run удаляется целиком: run не должен
// видеть остатки предыдущей попытки.
func Prepare(logger *slog.Logger, scratchRoot, runID, datasetDir string) (*Workspace, error) {
	if _, err := os.Stat(datasetDir); err != nil {
		return nil, fmt.Errorf("working dataset %s: %w", datasetDir, err)
	}

	runDir := filepath.Join(scratchRoot, runID)
	dataDir := filepath.Join(runDir, filepath.Base(datasetDir))

	if err := os.RemoveAll(runDir); err != nil {
		return nil, fmt.Errorf("reset scratch %s: %w", runDir, err)
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create scratch %s: %w", dataDir, err)
	}

	if err := copyTree(datasetDir, dataDir); err != nil {
		return nil, fmt.Errorf("stage dataset: %w", err)
	}

	logger.Info("dataset staged", "scratch", dataDir, "source", datasetDir)

	return &Workspace{
		runDir:  runDir,
		dataDir: dataDir,
		logger:  logger,
	}, nil
}

// ExtractOutput копирует выходной артефакт из scratch в destDir,
// перезаписывая предыдущую версию.
func (w *Workspace) ExtractOutput(outputFile, destDir string) error {
	src := filepath.Join(w.dataDir, outputFile)
	if _, err := os.Stat(src); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrOutputMissing, src)
		}
		return fmt.Errorf("stat output %s: %w", src, err)
	}

	dst := filepath.Join(destDir, outputFile)
	if err := copyFile(src, dst); err != nil {
		return fmt.Errorf("extract output: %w", err)
	}

	w.logger.Info("output extracted", "artifact", outputFile, "dest", dst)
	return nil
}

// Dispose удаляет scratch-директорию run.
// Вызывается независимо от исхода run.
func (w *Workspace) Dispose() error {
	if err := os.RemoveAll(w.runDir); err != nil {
		return fmt.Errorf("dispose scratch %s: %w", w.runDir, err)
	}
	w.logger.Debug("scratch disposed", "scratch", w.runDir)
	return nil
}

// copyTree рекурсивно копирует директорию src в существующую dst.
func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		if d.IsDir() {
			if rel == "." {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return err
			}
			return os.MkdirAll(target, info.Mode().Perm())
		}

		return copyFile(path, target)
	})
}

// copyFile копирует один файл с сохранением прав, перезаписывая dst.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}

	return out.Close()
}
