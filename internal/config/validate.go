package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shaiso/AgentHire/internal/repo"
)

// Validate проверяет конфигурацию и возвращает все найденные ошибки.
func (c *Config) Validate() error {
	var errs []error

	switch strings.ToLower(c.Database.Driver) {
	case repo.DriverMemory:
	case repo.DriverPostgres, "postgresql", "pgx":
		if c.Database.URL == "" {
			errs = append(errs, fmt.Errorf("database.url is required for driver %q", c.Database.Driver))
		}
	case repo.DriverSQLite, "sqlite3":
		if c.Database.URL == "" {
			errs = append(errs, fmt.Errorf("database.url (file path) is required for driver %q", c.Database.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid database.driver: %s (expected: memory, postgres, sqlite)", c.Database.Driver))
	}

	s := c.Scheduler
	if s.TickInterval < 0 {
		errs = append(errs, fmt.Errorf("scheduler.tick_interval must be positive"))
	}
	if s.Concurrency < 0 {
		errs = append(errs, fmt.Errorf("scheduler.concurrency must be positive"))
	}
	if s.DefaultMaxRetries < 0 {
		errs = append(errs, fmt.Errorf("scheduler.default_max_retries must be positive"))
	}
	if s.LeaseDuration < 0 {
		errs = append(errs, fmt.Errorf("scheduler.lease_duration must be positive"))
	}
	if s.MaxDueBatch < 0 {
		errs = append(errs, fmt.Errorf("scheduler.max_due_batch must be positive"))
	}
	if s.AgentCardTTL < 0 {
		errs = append(errs, fmt.Errorf("scheduler.agent_card_ttl must be positive"))
	}

	if c.Invoke.Timeout < 0 {
		errs = append(errs, fmt.Errorf("invoke.timeout must be positive"))
	}
	if c.Invoke.RatePerSec < 0 {
		errs = append(errs, fmt.Errorf("invoke.rate_per_sec must be positive"))
	}
	// Lease не должен истечь, пока воркер ещё загружает card и вызывает агента.
	if budget := c.Invoke.Timeout + c.Invoke.CardFetchTimeout; s.LeaseDuration > 0 && s.LeaseDuration <= budget {
		errs = append(errs, fmt.Errorf("scheduler.lease_duration (%s) must exceed invoke.timeout + invoke.card_fetch_timeout (%s)", s.LeaseDuration, budget))
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid server.port: %d", c.Server.Port))
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("invalid logging.level: %s (expected: debug, info, warn, error)", c.Logging.Level))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("invalid logging.format: %s (expected: json, text)", c.Logging.Format))
	}

	return errors.Join(errs...)
}
