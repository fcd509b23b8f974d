package runner

import "fmt"

// ExitError — симуляция завершилась с ненулевым кодом выхода контейнера.
//
// Код сохраняется, чтобы вызывающая сторона (rise-run) могла завершить
// процесс тем же кодом.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("simulation exited with code %d", e.Code)
}
