// Package mq предоставляет инфраструктуру для работы с RabbitMQ.
//
// Структура:
//   - connection.go — управление соединением (reconnect, graceful shutdown)
//   - topology.go   — объявление exchanges, queues, bindings
//   - publisher.go  — публикация сообщений
//   - consumer.go   — потребление сообщений
//
// Типы сообщений:
//   - run.requested — запрошен запуск симуляции
//   - run.completed — симуляция завершена
//
// Топология:
//   - rise.runs (direct)
//     ├── runs.requested [routing: requested] — потребитель: Worker, DLQ: dlq.runs
//     └── runs.completed [routing: completed] — потребители: downstream
//   - rise.dlq (direct)
//     └── dlq.runs [routing: runs] — ручной разбор
package mq
