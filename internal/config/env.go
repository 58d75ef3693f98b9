package config

import (
	"fmt"
	"os"
	"strconv"
)

// Переменные окружения, перекрывающие файл.
const (
	EnvDBDriver    = "DB_DRIVER"
	EnvDBURL       = "DB_URL"
	EnvRabbitMQURL = "RABBITMQ_URL"
	EnvWorkerPort  = "WORKER_PORT"
	EnvLogLevel    = "LOG_LEVEL"
	EnvLogFormat   = "LOG_FORMAT"
	EnvWorkerID    = "WORKER_ID"
)

func applyEnv(c *Config) error {
	setString(&c.Database.Driver, EnvDBDriver)
	setString(&c.Database.URL, EnvDBURL)
	setString(&c.RabbitMQ.URL, EnvRabbitMQURL)
	setString(&c.Logging.Level, EnvLogLevel)
	setString(&c.Logging.Format, EnvLogFormat)
	setString(&c.Scheduler.WorkerID, EnvWorkerID)

	if v := os.Getenv(EnvWorkerPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: invalid port %q: %w", EnvWorkerPort, v, err)
		}
		c.Server.Port = port
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
