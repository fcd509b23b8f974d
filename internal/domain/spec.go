package domain

// Значения по умолчанию для симуляции SFINCS.
//
// Образ закреплён за конкретной версией модели: результаты расчёта
// должны быть воспроизводимы между запусками.
const (
	// DefaultImage — закреплённый образ SFINCS.
	DefaultImage = "deltares/sfincs-cpu:sfincs-v2.0.3-Cauberg"

	// DefaultDataDir — постоянная директория рабочего датасета
	// (относительно рабочей директории процесса).
	DefaultDataDir = "data/SFINCS/ngwpc_data"

	// DefaultScratchRoot — корень для per-run scratch-директорий.
	DefaultScratchRoot = "/tmp/sfincs_temp"

	// DefaultOutputFile — имя выходного артефакта симуляции.
	DefaultOutputFile = "sfincs_map.nc"

	// ContainerDataPath — точка монтирования датасета внутри контейнера.
	ContainerDataPath = "/data"
)

// SimulationSpec — параметры одного запуска симуляции.
//
// Пустые поля означают значения по умолчанию (см. WithDefaults).
type SimulationSpec struct {
	// Image — контейнерный образ SFINCS.
	Image string `json:"image"`

	// DataDir — постоянная директория рабочего датасета.
	// Читается при staging и получает выходной артефакт при завершении.
	DataDir string `json:"data_dir"`

	// ScratchRoot — корень, под которым создаётся per-run scratch.
	ScratchRoot string `json:"scratch_root"`

	// OutputFile — имя артефакта, извлекаемого из scratch после симуляции.
	OutputFile string `json:"output_file"`
}

// WithDefaults возвращает копию спецификации с заполненными
// значениями по умолчанию для пустых полей.
func (s SimulationSpec) WithDefaults() SimulationSpec {
	if s.Image == "" {
		s.Image = DefaultImage
	}
	if s.DataDir == "" {
		s.DataDir = DefaultDataDir
	}
	if s.ScratchRoot == "" {
		s.ScratchRoot = DefaultScratchRoot
	}
	if s.OutputFile == "" {
		s.OutputFile = DefaultOutputFile
	}
	return s
}
