package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/shaiso/AgentHire/internal/mq"
	"github.com/shaiso/AgentHire/internal/scheduler"
)

// Значения по умолчанию.
const (
	defaultTickInterval = time.Second
	defaultPrefetch     = 1
)

// Engine — то, что воркер вызывает на каждом шаге. Реализуется *scheduler.Runtime.
type Engine interface {
	RecoverExpiredLeases(ctx context.Context) (int, error)
	Tick(ctx context.Context, opts scheduler.TickOptions) (scheduler.TickResult, error)
}

// Config — конфигурация Worker.
type Config struct {
	// Runtime — обязательный движок планировщика.
	Runtime Engine

	// Conn — соединение RabbitMQ для wake-ups. Nil — только polling.
	Conn *mq.Connection

	// Prefetch — prefetch consumer'а jobs.due (default: 1).
	Prefetch int

	// TickInterval — период polling (default: 1s).
	TickInterval time.Duration

	// Concurrency — передаётся в TickOptions. 0 — значение Runtime.
	Concurrency int

	// WorkerID — передаётся в TickOptions. Пусто — ID Runtime.
	WorkerID string

	Logger *slog.Logger
}

// Worker периодически восстанавливает истёкшие lease и выполняет тик.
type Worker struct {
	engine       Engine
	conn         *mq.Connection
	prefetch     int
	tickInterval time.Duration
	opts         scheduler.TickOptions
	logger       *slog.Logger

	wakeCh chan struct{}

	mu       sync.Mutex
	started  bool
	stopped  bool
	cancel   context.CancelFunc
	consumer *mq.Consumer
	wg       sync.WaitGroup
}

// New создаёт Worker.
func New(cfg Config) (*Worker, error) {
	if cfg.Runtime == nil {
		return nil, ErrNoRuntime
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = defaultTickInterval
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = defaultPrefetch
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Worker{
		engine:       cfg.Runtime,
		conn:         cfg.Conn,
		prefetch:     cfg.Prefetch,
		tickInterval: cfg.TickInterval,
		opts:         scheduler.TickOptions{WorkerID: cfg.WorkerID, Concurrency: cfg.Concurrency},
		logger:       cfg.Logger.With("component", "worker"),
		wakeCh:       make(chan struct{}, 1),
	}, nil
}

// Start запускает цикл и, если задан Conn, consumer очереди jobs.due.
// Не блокируется.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.started {
		return ErrAlreadyStarted
	}
	w.started = true

	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	w.logger.Info("starting worker",
		"tick_interval", w.tickInterval,
		"concurrency", w.opts.Concurrency,
		"event_driven", w.conn != nil,
	)

	if w.conn != nil {
		w.consumer = mq.NewConsumer(w.conn, mq.ConsumerConfig{
			Queue:    mq.QueueJobsDue,
			Handler:  w.handleJobDue,
			Prefetch: w.prefetch,
			Logger:   w.logger,
		})

		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			if err := w.consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				w.logger.Error("jobs.due consumer error", "error", err)
			}
		}()
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.loop(ctx)
	}()

	return nil
}

// Stop останавливает воркер и дожидается текущего шага.
func (w *Worker) Stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	cancel, consumer := w.cancel, w.consumer
	w.mu.Unlock()

	w.logger.Info("stopping worker...")

	if cancel != nil {
		cancel()
	}
	if consumer != nil {
		consumer.Stop()
	}
	w.wg.Wait()

	w.logger.Info("worker stopped")
}

// IsStopped сообщает, был ли вызван Stop.
func (w *Worker) IsStopped() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stopped
}

// Wake просит выполнить шаг немедленно. Не блокируется.
func (w *Worker) Wake() {
	select {
	case w.wakeCh <- struct{}{}:
	default:
	}
}

// RunOnce выполняет один шаг: восстановление истёкших lease, затем тик.
//
// Ошибка восстановления логируется и не мешает тику.
func (w *Worker) RunOnce(ctx context.Context) (scheduler.TickResult, error) {
	recovered, err := w.engine.RecoverExpiredLeases(ctx)
	if err != nil {
		w.logger.Error("failed to recover expired leases", "error", err)
	} else if recovered > 0 {
		w.logger.Info("recovered expired leases", "count", recovered)
	}

	res, err := w.engine.Tick(ctx, w.opts)
	if err != nil {
		return res, err
	}

	if res.Claimed > 0 || res.Lost > 0 {
		w.logger.Debug("tick finished",
			"due", res.Due,
			"claimed", res.Claimed,
			"succeeded", res.Succeeded,
			"retrying", res.Retrying,
			"failed", res.Failed,
			"skipped", res.Skipped,
			"lost", res.Lost,
		)
	}
	return res, nil
}

// loop выполняет шаги по таймеру и по сигналам пробуждения.
func (w *Worker) loop(ctx context.Context) {
	ticker := time.NewTicker(w.tickInterval)
	defer ticker.Stop()

	// Первый шаг сразу: подхватываем jobs, ставшие due, пока воркер был выключен.
	w.step(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-w.wakeCh:
		}
		w.step(ctx)
	}
}

func (w *Worker) step(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if _, err := w.RunOnce(ctx); err != nil && ctx.Err() == nil {
		w.logger.Error("tick failed", "error", err)
	}
}

// handleJobDue превращает сообщение job.due в пробуждение цикла.
func (w *Worker) handleJobDue(_ context.Context, msg *mq.Message) error {
	if msg.Type != mq.MessageTypeJobDue {
		w.logger.Warn("unexpected message type", "type", msg.Type, "message_id", msg.ID)
		return nil
	}

	if p, err := mq.ParsePayload[mq.JobDuePayload](msg); err == nil {
		w.logger.Debug("job due wake-up", "job_id", p.JobID)
	}
	w.Wake()
	return nil
}
