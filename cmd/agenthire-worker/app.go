package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/shaiso/AgentHire/internal/agentcard"
	"github.com/shaiso/AgentHire/internal/config"
	"github.com/shaiso/AgentHire/internal/invoke"
	"github.com/shaiso/AgentHire/internal/mq"
	"github.com/shaiso/AgentHire/internal/repo"
	"github.com/shaiso/AgentHire/internal/scheduler"
	"github.com/shaiso/AgentHire/internal/telemetry"
)

// app — конфигурация и логгер, общие для всех команд.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
}

func loadApp(path string) (*app, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger := telemetry.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)
	return &app{cfg: cfg, logger: logger}, nil
}

// openStore открывает хранилище и применяет схему.
func (a *app) openStore(ctx context.Context) (repo.Store, error) {
	store, err := repo.Open(ctx, a.cfg.Database.Driver, a.cfg.Database.URL)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}

	a.logger.Info("store ready", "driver", a.cfg.Database.Driver)
	return store, nil
}

// connectMQ подключается к RabbitMQ. Nil без ошибки — режим только polling.
func (a *app) connectMQ(ctx context.Context) *mq.Connection {
	if a.cfg.RabbitMQ.URL == "" {
		a.logger.Info("RabbitMQ not configured, running in polling-only mode")
		return nil
	}

	conn, err := mq.NewConnection(mq.ConnectionConfig{URL: a.cfg.RabbitMQ.URL, Logger: a.logger})
	if err != nil {
		a.logger.Warn("RabbitMQ not available, running in polling-only mode", "error", err)
		return nil
	}

	if err := mq.SetupTopology(ctx, conn); err != nil {
		a.logger.Warn("failed to setup topology", "error", err)
	} else {
		a.logger.Debug(mq.TopologyInfo())
	}
	return conn
}

// newRuntime собирает Runtime. conn и reg могут быть nil.
func (a *app) newRuntime(store repo.Store, conn *mq.Connection, reg prometheus.Registerer) (*scheduler.Runtime, error) {
	s := a.cfg.Scheduler

	cfg := scheduler.Config{
		Store: store,
		AgentCards: agentcard.New(agentcard.Config{
			Timeout: a.cfg.Invoke.CardFetchTimeout,
		}),
		Invoke: invoke.NewHTTPInvoker(invoke.Config{
			Timeout:    a.cfg.Invoke.Timeout,
			RatePerSec: a.cfg.Invoke.RatePerSec,
		}).Invoke,
		Logger:             a.logger,
		WorkerID:           s.WorkerID,
		DefaultMaxRetries:  s.DefaultMaxRetries,
		LeaseDuration:      s.LeaseDuration,
		MaxDueBatch:        s.MaxDueBatch,
		AgentCardTTL:       s.AgentCardTTL,
		DefaultConcurrency: s.Concurrency,
	}
	if conn != nil {
		cfg.Publisher = mq.NewPublisher(conn, a.logger)
	}
	if reg != nil {
		cfg.Metrics = scheduler.NewMetrics("agenthire", reg)
	}

	return scheduler.New(cfg)
}
