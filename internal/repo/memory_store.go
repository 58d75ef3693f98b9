package repo

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/AgentHire/internal/domain"
)

// MemoryStore — хранилище в памяти процесса.
//
// Подходит для тестов и одиночного воркера. Все операции выполняются
// под одним мьютексом, поэтому ClaimJob атомарен. Записи хранятся копиями:
// вызывающий код не может изменить состояние хранилища в обход методов.
type MemoryStore struct {
	mu    sync.Mutex
	hires map[uuid.UUID]*domain.Hire
	jobs  map[uuid.UUID]*domain.Job
}

// NewMemoryStore создаёт пустое хранилище.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		hires: make(map[uuid.UUID]*domain.Hire),
		jobs:  make(map[uuid.UUID]*domain.Job),
	}
}

func (m *MemoryStore) PutHire(_ context.Context, hire *domain.Hire) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hires[hire.ID] = hire.Clone()
	return nil
}

func (m *MemoryStore) GetHire(_ context.Context, id uuid.UUID) (*domain.Hire, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.hires[id]
	if !ok {
		return nil, false, nil
	}
	return h.Clone(), true, nil
}

// DeleteHire удаляет hire вместе с его jobs.
func (m *MemoryStore) DeleteHire(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.hires, id)
	for jobID, j := range m.jobs {
		if j.HireID == id {
			delete(m.jobs, jobID)
		}
	}
	return nil
}

// UpdateHireStatusIf меняет статус hire, если текущий равен expectStatus.
func (m *MemoryStore) UpdateHireStatusIf(_ context.Context, id uuid.UUID, expectStatus, newStatus domain.HireStatus, updatedAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.hires[id]
	if !ok || h.Status != expectStatus {
		return false, nil
	}
	h.Status = newStatus
	h.UpdatedAt = updatedAt
	return true, nil
}

func (m *MemoryStore) SaveAgentCard(_ context.Context, hireID uuid.UUID, card *domain.AgentCard, cachedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.hires[hireID]
	if !ok {
		return fmt.Errorf("save agent card: hire %s: %w", hireID, ErrNotFound)
	}
	t := cachedAt
	h.Agent.Card = card.Clone()
	h.Agent.CachedAt = &t
	return nil
}

func (m *MemoryStore) PutJob(_ context.Context, job *domain.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.hires[job.HireID]; !ok {
		return fmt.Errorf("put job: hire %s: %w", job.HireID, ErrNotFound)
	}
	m.jobs[job.ID] = job.Clone()
	return nil
}

func (m *MemoryStore) GetJob(_ context.Context, id uuid.UUID) (*domain.Job, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, false, nil
	}
	return j.Clone(), true, nil
}

func (m *MemoryStore) ListJobsByHire(_ context.Context, hireID uuid.UUID) ([]domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Job, 0)
	for _, j := range m.jobs {
		if j.HireID == hireID {
			out = append(out, *j.Clone())
		}
	}
	sort.Slice(out, func(a, b int) bool {
		return out[a].CreatedAt.Before(out[b].CreatedAt)
	})
	return out, nil
}

func (m *MemoryStore) GetDueJobs(_ context.Context, now time.Time, limit int) ([]domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Job, 0)
	for _, j := range m.jobs {
		if !m.claimableLocked(j, now) {
			continue
		}
		out = append(out, *j.Clone())
	}
	sortByNextRun(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) ClaimJob(_ context.Context, jobID uuid.UUID, workerID string, now time.Time, lease time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok || !m.claimableLocked(j, now) {
		return false, nil
	}
	j.MarkLeased(workerID, now, lease)
	return true, nil
}

func (m *MemoryStore) UpdateJobIf(_ context.Context, job *domain.Job, expectStatus domain.JobStatus, expectLease *domain.Lease) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.jobs[job.ID]
	if !ok {
		return false, nil
	}
	if cur.Status != expectStatus || !cur.Lease.Equal(expectLease) {
		return false, nil
	}
	m.jobs[job.ID] = job.Clone()
	return true, nil
}

func (m *MemoryStore) GetExpiredLeases(_ context.Context, now time.Time) ([]domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Job, 0)
	for _, j := range m.jobs {
		if j.Status == domain.JobStatusLeased && j.Lease != nil && !j.Lease.Live(now) {
			out = append(out, *j.Clone())
		}
	}
	sortByNextRun(out)
	return out, nil
}

// claimableLocked проверяет, что job due и его hire активен.
// Вызывается под m.mu.
func (m *MemoryStore) claimableLocked(j *domain.Job, now time.Time) bool {
	if !j.IsDue(now) {
		return false
	}
	h, ok := m.hires[j.HireID]
	return ok && h.IsActive()
}

// sortByNextRun сортирует jobs по next_run_at, при равенстве — по ID.
func sortByNextRun(jobs []domain.Job) {
	sort.Slice(jobs, func(a, b int) bool {
		if !jobs[a].NextRunAt.Equal(jobs[b].NextRunAt) {
			return jobs[a].NextRunAt.Before(jobs[b].NextRunAt)
		}
		return jobs[a].ID.String() < jobs[b].ID.String()
	})
}

// Migrate — no-op: схемы нет.
func (m *MemoryStore) Migrate(context.Context) error { return nil }

// Close — no-op.
func (m *MemoryStore) Close() error { return nil }
