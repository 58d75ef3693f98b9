package scheduler

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/AgentHire/internal/domain"
)

// Store — долговременное хранилище hires и jobs.
//
// Чтение неизвестной записи возвращает (nil, false, nil), а не ошибку.
// ClaimJob — единственный примитив взаимного исключения между воркерами:
// реализация обязана выполнять его атомарно.
type Store interface {
	PutHire(ctx context.Context, hire *domain.Hire) error
	GetHire(ctx context.Context, id uuid.UUID) (*domain.Hire, bool, error)
	DeleteHire(ctx context.Context, id uuid.UUID) error

	// UpdateHireStatusIf атомарно меняет статус hire, только если в хранилище
	// у него статус expectStatus. Остальные поля hire не трогаются.
	UpdateHireStatusIf(ctx context.Context, id uuid.UUID, expectStatus, newStatus domain.HireStatus, updatedAt time.Time) (bool, error)

	PutJob(ctx context.Context, job *domain.Job) error
	GetJob(ctx context.Context, id uuid.UUID) (*domain.Job, bool, error)
	ListJobsByHire(ctx context.Context, hireID uuid.UUID) ([]domain.Job, error)

	// GetDueJobs возвращает до limit jobs в статусе pending с next_run_at <= now,
	// у которых hire активен, по возрастанию next_run_at.
	GetDueJobs(ctx context.Context, now time.Time, limit int) ([]domain.Job, error)

	// ClaimJob атомарно переводит due pending job в leased за workerID
	// с истечением now+lease. false — job уже захвачен или больше не подходит.
	ClaimJob(ctx context.Context, jobID uuid.UUID, workerID string, now time.Time, lease time.Duration) (bool, error)

	// UpdateJobIf атомарно сохраняет job, только если в хранилище у него
	// статус expectStatus и lease равен expectLease (nil — без lease).
	UpdateJobIf(ctx context.Context, job *domain.Job, expectStatus domain.JobStatus, expectLease *domain.Lease) (bool, error)
}

// LeaseScanner — опциональная возможность хранилища: поиск истёкших lease.
type LeaseScanner interface {
	// GetExpiredLeases возвращает leased jobs, чей lease истёк к моменту now.
	GetExpiredLeases(ctx context.Context, now time.Time) ([]domain.Job, error)
}

// AgentCardCache — опциональная возможность хранилища: обновление кэша
// agent card без перезаписи остальных полей hire.
type AgentCardCache interface {
	SaveAgentCard(ctx context.Context, hireID uuid.UUID, card *domain.AgentCard, cachedAt time.Time) error
}
