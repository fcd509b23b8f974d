package mq

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange — тип для имени обменника.
type Exchange string

// Queue — тип для имени очереди.
type Queue string

// RoutingKey — тип для ключа маршрутизации.
type RoutingKey string

// Обменники.
const (
	ExchangeRuns Exchange = "rise.runs"
	ExchangeDLQ  Exchange = "rise.dlq"
)

// Очереди.
const (
	QueueRunsRequested Queue = "runs.requested"
	QueueRunsCompleted Queue = "runs.completed"
	QueueDLQRuns       Queue = "dlq.runs"
)

// Routing keys.
const (
	RoutingKeyRequested RoutingKey = "requested"
	RoutingKeyCompleted RoutingKey = "completed"
	RoutingKeyDLQRuns   RoutingKey = "runs"
)

// SetupTopology объявляет обменники, очереди и привязки.
// Идемпотентно: повторное объявление с теми же параметрами безопасно.
func SetupTopology(conn *Connection) error {
	return conn.WithChannel(func(ch *amqp.Channel) error {
		exchanges := []Exchange{ExchangeRuns, ExchangeDLQ}
		for _, ex := range exchanges {
			err := ch.ExchangeDeclare(
				string(ex), // name
				"direct",   // type
				true,       // durable
				false,      // auto-deleted
				false,      // internal
				false,      // no-wait
				nil,        // arguments
			)
			if err != nil {
				return fmt.Errorf("declare exchange %s: %w", ex, err)
			}
		}

		// runs.requested — с DLQ: некорректные запросы уходят в dlq.runs
		dlqArgs := amqp.Table{
			"x-dead-letter-exchange":    string(ExchangeDLQ),
			"x-dead-letter-routing-key": string(RoutingKeyDLQRuns),
		}

		queues := []struct {
			name Queue
			args amqp.Table
		}{
			{QueueRunsRequested, dlqArgs},
			{QueueRunsCompleted, nil},
			{QueueDLQRuns, nil},
		}

		for _, q := range queues {
			_, err := ch.QueueDeclare(
				string(q.name), // name
				true,           // durable
				false,          // delete when unused
				false,          // exclusive
				false,          // no-wait
				q.args,         // arguments
			)
			if err != nil {
				return fmt.Errorf("declare queue %s: %w", q.name, err)
			}
		}

		bindings := []struct {
			queue      Queue
			routingKey RoutingKey
			exchange   Exchange
		}{
			{QueueRunsRequested, RoutingKeyRequested, ExchangeRuns},
			{QueueRunsCompleted, RoutingKeyCompleted, ExchangeRuns},
			{QueueDLQRuns, RoutingKeyDLQRuns, ExchangeDLQ},
		}

		for _, b := range bindings {
			err := ch.QueueBind(
				string(b.queue),      // queue name
				string(b.routingKey), // routing key
				string(b.exchange),   // exchange
				false,                // no-wait
				nil,                  // arguments
			)
			if err != nil {
				return fmt.Errorf("bind queue %s to %s: %w", b.queue, b.exchange, err)
			}
		}

		return nil
	})
}
