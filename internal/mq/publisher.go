package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/shaiso/AgentHire/internal/domain"
)

// MessageType — тип сообщения в очереди.
type MessageType string

// Типы сообщений.
const (
	// MessageTypeJobDue — job стал due, воркерам стоит выполнить тик.
	MessageTypeJobDue MessageType = "job.due"

	// MessageTypeJobEvent — переход job (тип события — в payload).
	MessageTypeJobEvent MessageType = "job.event"
)

// Message — JSON-конверт всех сообщений.
type Message struct {
	ID        string      `json:"id"`
	Type      MessageType `json:"type"`
	Payload   any         `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// JobDuePayload — payload сообщения job.due.
type JobDuePayload struct {
	JobID uuid.UUID `json:"job_id"`
}

// Publisher публикует сообщения в RabbitMQ.
//
// Реализует scheduler.EventPublisher и scheduler.WakeupPublisher.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPublisher создаёт Publisher.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	return &Publisher{conn: conn, logger: logger}
}

func newMessage(typ MessageType, payload any) *Message {
	return &Message{
		ID:        uuid.NewString(),
		Type:      typ,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}

// Publish публикует сообщение в exchange с routing key.
func (p *Publisher) Publish(ctx context.Context, exchange Exchange, routingKey RoutingKey, msg *Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	return p.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		err := ch.PublishWithContext(ctx, string(exchange), string(routingKey), false, false, amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    msg.ID,
			Type:         string(msg.Type),
			Timestamp:    msg.Timestamp,
			Body:         body,
		})
		if err != nil {
			return fmt.Errorf("publish to %s/%s: %w", exchange, routingKey, err)
		}

		p.logger.Debug("published message",
			"exchange", exchange,
			"routing_key", routingKey,
			"message_id", msg.ID,
			"type", msg.Type,
		)
		return nil
	})
}

// PublishJobDue будит воркеров: job можно выполнять прямо сейчас.
func (p *Publisher) PublishJobDue(ctx context.Context, jobID uuid.UUID) error {
	return p.Publish(ctx, ExchangeJobs, RoutingKeyDue, newMessage(MessageTypeJobDue, JobDuePayload{JobID: jobID}))
}

// PublishJobEvent публикует переход job в jobs.events.
func (p *Publisher) PublishJobEvent(ctx context.Context, ev domain.JobEvent) error {
	return p.Publish(ctx, ExchangeJobs, RoutingKeyEvent, newMessage(MessageTypeJobEvent, ev))
}
