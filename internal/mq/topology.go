package mq

import (
	"context"
	"fmt"
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange — тип для имени обменника.
type Exchange string

// Queue — тип для имени очереди.
type Queue string

// RoutingKey — тип для ключа маршрутизации.
type RoutingKey string

// Exchanges — имена обменников.
const (
	ExchangeJobs Exchange = "agenthire.jobs"
	ExchangeDLQ  Exchange = "agenthire.dlq"
)

// Queues — имена очередей.
const (
	QueueJobsDue    Queue = "jobs.due"
	QueueJobsEvents Queue = "jobs.events"
	QueueDLQJobs    Queue = "dlq.jobs"
)

// Routing keys.
const (
	RoutingKeyDue     RoutingKey = "due"
	RoutingKeyEvent   RoutingKey = "event"
	RoutingKeyDLQJobs RoutingKey = "jobs"
)

type exchangeDecl struct {
	name Exchange
	kind string
}

type queueDecl struct {
	name Queue
	args amqp.Table
}

type bindingDecl struct {
	queue      Queue
	routingKey RoutingKey
	exchange   Exchange
}

var topologyExchanges = []exchangeDecl{
	{ExchangeJobs, amqp.ExchangeDirect},
	{ExchangeDLQ, amqp.ExchangeDirect},
}

var topologyQueues = []queueDecl{
	// jobs.due — сигналы пробуждения воркеров; необработанные уходят в DLQ.
	{QueueJobsDue, amqp.Table{
		"x-dead-letter-exchange":    string(ExchangeDLQ),
		"x-dead-letter-routing-key": string(RoutingKeyDLQJobs),
	}},
	// jobs.events — переходы jobs для внешних потребителей.
	{QueueJobsEvents, nil},
	{QueueDLQJobs, nil},
}

var topologyBindings = []bindingDecl{
	{QueueJobsDue, RoutingKeyDue, ExchangeJobs},
	{QueueJobsEvents, RoutingKeyEvent, ExchangeJobs},
	{QueueDLQJobs, RoutingKeyDLQJobs, ExchangeDLQ},
}

// SetupTopology объявляет exchanges, очереди и привязки. Идемпотентна.
func SetupTopology(ctx context.Context, conn *Connection) error {
	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		for _, ex := range topologyExchanges {
			if err := ch.ExchangeDeclare(string(ex.name), ex.kind, true, false, false, false, nil); err != nil {
				return fmt.Errorf("declare exchange %s: %w", ex.name, err)
			}
		}

		for _, q := range topologyQueues {
			if _, err := ch.QueueDeclare(string(q.name), true, false, false, false, q.args); err != nil {
				return fmt.Errorf("declare queue %s: %w", q.name, err)
			}
		}

		for _, b := range topologyBindings {
			if err := ch.QueueBind(string(b.queue), string(b.routingKey), string(b.exchange), false, nil); err != nil {
				return fmt.Errorf("bind queue %s to %s: %w", b.queue, b.exchange, err)
			}
		}
		return nil
	})
}

// TopologyInfo возвращает описание топологии для логирования.
func TopologyInfo() string {
	var b strings.Builder
	b.WriteString("AgentHire RabbitMQ topology:\n")
	for _, ex := range topologyExchanges {
		fmt.Fprintf(&b, "  %s (%s)\n", ex.name, ex.kind)
		for _, bind := range topologyBindings {
			if bind.exchange != ex.name {
				continue
			}
			fmt.Fprintf(&b, "    └── %s [routing: %s]\n", bind.queue, bind.routingKey)
		}
	}
	return b.String()
}
