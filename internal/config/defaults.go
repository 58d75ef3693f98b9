package config

import (
	"time"

	"github.com/shaiso/AgentHire/internal/repo"
	"github.com/shaiso/AgentHire/internal/scheduler"
)

const (
	DefaultTickInterval     = time.Second
	DefaultInvokeTimeout    = 30 * time.Second
	DefaultInvokeRate       = 10
	DefaultCardFetchTimeout = 10 * time.Second
	// DefaultLeaseDuration покрывает загрузку agent card и вызов с таймаутами по умолчанию.
	DefaultLeaseDuration    = 2 * time.Minute
	DefaultPort             = 8082
	DefaultPrefetch         = 1
)

func applyDefaults(c *Config) {
	if c.Database.Driver == "" {
		c.Database.Driver = repo.DriverMemory
	}
	if c.Database.URL == "" && c.Database.Driver == repo.DriverPostgres {
		c.Database.URL = repo.DefaultPostgresDSN
	}

	if c.RabbitMQ.Prefetch == 0 {
		c.RabbitMQ.Prefetch = DefaultPrefetch
	}

	s := &c.Scheduler
	if s.TickInterval == 0 {
		s.TickInterval = DefaultTickInterval
	}
	if s.Concurrency == 0 {
		s.Concurrency = scheduler.DefaultConcurrency
	}
	if s.DefaultMaxRetries == 0 {
		s.DefaultMaxRetries = scheduler.DefaultMaxRetries
	}
	if s.LeaseDuration == 0 {
		s.LeaseDuration = DefaultLeaseDuration
	}
	if s.MaxDueBatch == 0 {
		s.MaxDueBatch = scheduler.DefaultMaxDueBatch
	}
	if s.AgentCardTTL == 0 {
		s.AgentCardTTL = scheduler.DefaultAgentCardTTL
	}

	if c.Invoke.Timeout == 0 {
		c.Invoke.Timeout = DefaultInvokeTimeout
	}
	if c.Invoke.RatePerSec == 0 {
		c.Invoke.RatePerSec = DefaultInvokeRate
	}
	if c.Invoke.CardFetchTimeout == 0 {
		c.Invoke.CardFetchTimeout = DefaultCardFetchTimeout
	}

	if c.Server.Port == 0 {
		c.Server.Port = DefaultPort
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}
