package mq

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/shaiso/AgentHire/internal/domain"
	"github.com/shaiso/AgentHire/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAcker struct {
	acked   int
	nacked  int
	requeue bool
}

func (f *fakeAcker) Ack(uint64, bool) error { f.acked++; return nil }

func (f *fakeAcker) Nack(_ uint64, _ bool, requeue bool) error {
	f.nacked++
	f.requeue = requeue
	return nil
}

func (f *fakeAcker) Reject(_ uint64, requeue bool) error {
	f.nacked++
	f.requeue = requeue
	return nil
}

func newTestConsumer(h Handler) *Consumer {
	return NewConsumer(nil, ConsumerConfig{Queue: QueueJobsDue, Handler: h, Logger: telemetry.Discard()})
}

func delivery(t *testing.T, acker *fakeAcker, msg any) amqp.Delivery {
	t.Helper()
	body, err := json.Marshal(msg)
	require.NoError(t, err)
	return amqp.Delivery{Acknowledger: acker, Body: body}
}

func TestTopology_BindingsReferenceDeclaredNames(t *testing.T) {
	exchanges := map[Exchange]bool{}
	for _, ex := range topologyExchanges {
		exchanges[ex.name] = true
	}
	queues := map[Queue]bool{}
	for _, q := range topologyQueues {
		queues[q.name] = true
	}

	for _, b := range topologyBindings {
		assert.True(t, exchanges[b.exchange], "exchange %s", b.exchange)
		assert.True(t, queues[b.queue], "queue %s", b.queue)
	}

	// jobs.due отправляет отказы в DLQ по существующей привязке.
	for _, q := range topologyQueues {
		if q.name != QueueJobsDue {
			continue
		}
		assert.Equal(t, string(ExchangeDLQ), q.args["x-dead-letter-exchange"])
		assert.Equal(t, string(RoutingKeyDLQJobs), q.args["x-dead-letter-routing-key"])
	}
}

func TestTopologyInfo(t *testing.T) {
	info := TopologyInfo()
	assert.Contains(t, info, "agenthire.jobs")
	assert.Contains(t, info, "jobs.due [routing: due]")
	assert.Contains(t, info, "dlq.jobs [routing: jobs]")
}

func TestParsePayload_JobDue(t *testing.T) {
	id := uuid.New()
	raw, err := json.Marshal(newMessage(MessageTypeJobDue, JobDuePayload{JobID: id}))
	require.NoError(t, err)

	var msg Message
	require.NoError(t, json.Unmarshal(raw, &msg))
	assert.Equal(t, MessageTypeJobDue, msg.Type)
	assert.NotEmpty(t, msg.ID)

	p, err := ParsePayload[JobDuePayload](&msg)
	require.NoError(t, err)
	assert.Equal(t, id, p.JobID)
}

func TestParsePayload_JobEvent(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	job := &domain.Job{ID: uuid.New(), HireID: uuid.New(), Status: domain.JobStatusFailed, Attempts: 3, LastError: "boom"}
	ev := domain.NewJobEvent(domain.JobEventFailed, job, "w1", now)

	raw, err := json.Marshal(newMessage(MessageTypeJobEvent, ev))
	require.NoError(t, err)

	var msg Message
	require.NoError(t, json.Unmarshal(raw, &msg))
	got, err := ParsePayload[domain.JobEvent](&msg)
	require.NoError(t, err)
	assert.Equal(t, domain.JobEventFailed, got.Type)
	assert.Equal(t, job.ID, got.JobID)
	assert.Equal(t, "boom", got.Error)
}

func TestConsumer_HandleAcksOnSuccess(t *testing.T) {
	var got *Message
	c := newTestConsumer(func(_ context.Context, msg *Message) error {
		got = msg
		return nil
	})

	acker := &fakeAcker{}
	c.handle(context.Background(), delivery(t, acker, newMessage(MessageTypeJobDue, JobDuePayload{JobID: uuid.New()})))

	require.NotNil(t, got)
	assert.Equal(t, MessageTypeJobDue, got.Type)
	assert.Equal(t, 1, acker.acked)
	assert.Zero(t, acker.nacked)
}

func TestConsumer_HandleRequeuesOnceOnHandlerError(t *testing.T) {
	c := newTestConsumer(func(context.Context, *Message) error { return errors.New("busy") })

	acker := &fakeAcker{}
	c.handle(context.Background(), delivery(t, acker, newMessage(MessageTypeJobDue, nil)))
	assert.Equal(t, 1, acker.nacked)
	assert.True(t, acker.requeue)

	// Повторная доставка с ошибкой уходит в DLQ.
	acker = &fakeAcker{}
	d := delivery(t, acker, newMessage(MessageTypeJobDue, nil))
	d.Redelivered = true
	c.handle(context.Background(), d)
	assert.Equal(t, 1, acker.nacked)
	assert.False(t, acker.requeue)
}

func TestConsumer_HandleDeadLettersMalformed(t *testing.T) {
	called := false
	c := newTestConsumer(func(context.Context, *Message) error { called = true; return nil })

	acker := &fakeAcker{}
	c.handle(context.Background(), amqp.Delivery{Acknowledger: acker, Body: []byte("{not json")})

	assert.False(t, called)
	assert.Equal(t, 1, acker.nacked)
	assert.False(t, acker.requeue)
}

func TestConnection_WithChannelHonoursContext(t *testing.T) {
	c := &Connection{}

	err := c.WithChannel(context.Background(), func(*amqp.Channel) error { return nil })
	assert.ErrorIs(t, err, ErrNoChannel)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = c.WithChannel(ctx, func(*amqp.Channel) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, c.IsConnected())
}
