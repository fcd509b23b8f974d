// Package domain содержит основные сущности системы RISE.
//
//   - run.go    — Run, запуск симуляции с жизненным циклом статусов
//   - status.go — RunStatus и проверка терминальности
//   - spec.go   — SimulationSpec, параметры симуляции и значения по умолчанию
//
// Пакет не зависит от инфраструктуры (БД, очереди, docker) —
// только чистые типы и переходы состояний.
package domain
