package repo

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/AgentHire/internal/domain"
)

// Поддерживаемые драйверы хранилища.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Store — полный набор возможностей, который реализуют все бэкенды.
// scheduler.Store — его подмножество.
type Store interface {
	PutHire(ctx context.Context, hire *domain.Hire) error
	GetHire(ctx context.Context, id uuid.UUID) (*domain.Hire, bool, error)
	DeleteHire(ctx context.Context, id uuid.UUID) error
	UpdateHireStatusIf(ctx context.Context, id uuid.UUID, expectStatus, newStatus domain.HireStatus, updatedAt time.Time) (bool, error)
	SaveAgentCard(ctx context.Context, hireID uuid.UUID, card *domain.AgentCard, cachedAt time.Time) error

	PutJob(ctx context.Context, job *domain.Job) error
	GetJob(ctx context.Context, id uuid.UUID) (*domain.Job, bool, error)
	ListJobsByHire(ctx context.Context, hireID uuid.UUID) ([]domain.Job, error)
	GetDueJobs(ctx context.Context, now time.Time, limit int) ([]domain.Job, error)
	ClaimJob(ctx context.Context, jobID uuid.UUID, workerID string, now time.Time, lease time.Duration) (bool, error)
	UpdateJobIf(ctx context.Context, job *domain.Job, expectStatus domain.JobStatus, expectLease *domain.Lease) (bool, error)
	GetExpiredLeases(ctx context.Context, now time.Time) ([]domain.Job, error)

	// Migrate приводит схему к актуальной версии.
	Migrate(ctx context.Context) error
	Close() error
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*PostgresStore)(nil)
	_ Store = (*SQLiteStore)(nil)
)

// Open создаёт хранилище по имени драйвера.
//
// Для postgres dsn — строка подключения (пусто — DefaultPostgresDSN),
// для sqlite — путь к файлу, для memory игнорируется.
// SQLite мигрирует схему при открытии, Postgres — через Store.Migrate.
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case DriverMemory, "":
		return NewMemoryStore(), nil
	case DriverPostgres, "postgresql", "pgx":
		pool, err := NewPool(ctx, PoolConfig{DSN: dsn})
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return NewPostgresStore(pool), nil
	case DriverSQLite, "sqlite3":
		return OpenSQLite(ctx, dsn)
	default:
		return nil, fmt.Errorf("open store %q: %w", driver, ErrUnknownDriver)
	}
}
