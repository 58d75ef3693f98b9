// Package config загружает конфигурацию воркера AgentHire.
//
// Порядок: TOML файл (опционально), затем переменные окружения,
// затем значения по умолчанию. Validate собирает все ошибки сразу.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Config — конфигурация процесса agenthire-worker.
type Config struct {
	Database  DatabaseConfig  `toml:"database"`
	RabbitMQ  RabbitMQConfig  `toml:"rabbitmq"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	Invoke    InvokeConfig    `toml:"invoke"`
	Server    ServerConfig    `toml:"server"`
	Logging   LoggingConfig   `toml:"logging"`
}

// DatabaseConfig — выбор хранилища.
type DatabaseConfig struct {
	// Driver — memory, postgres или sqlite.
	Driver string `toml:"driver"`

	// URL — DSN Postgres или путь к файлу SQLite.
	URL string `toml:"url"`
}

// RabbitMQConfig — брокер для wake-ups и событий. Пустой URL — только polling.
type RabbitMQConfig struct {
	URL string `toml:"url"`

	// Prefetch — prefetch consumer'а jobs.due.
	Prefetch int `toml:"prefetch"`
}

// SchedulerConfig — параметры Runtime и цикла воркера.
type SchedulerConfig struct {
	WorkerID          string        `toml:"worker_id"`
	TickInterval      time.Duration `toml:"tick_interval"`
	Concurrency       int           `toml:"concurrency"`
	DefaultMaxRetries int           `toml:"default_max_retries"`
	LeaseDuration     time.Duration `toml:"lease_duration"`
	MaxDueBatch       int           `toml:"max_due_batch"`
	AgentCardTTL      time.Duration `toml:"agent_card_ttl"`
}

// InvokeConfig — HTTP вызовы агентов.
type InvokeConfig struct {
	Timeout          time.Duration `toml:"timeout"`
	RatePerSec       int           `toml:"rate_per_sec"`
	CardFetchTimeout time.Duration `toml:"card_fetch_timeout"`
}

// ServerConfig — HTTP сервер /healthz и /metrics.
type ServerConfig struct {
	Port int `toml:"port"`
}

// LoggingConfig — уровень и формат slog.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Load читает конфигурацию. Пустой path — только окружение и defaults.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)

	return &cfg, nil
}

// Addr возвращает адрес HTTP сервера.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}
