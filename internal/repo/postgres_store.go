package repo

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/AgentHire/internal/domain"
	"github.com/shaiso/AgentHire/internal/repo/migrations"
)

// PostgresStore — хранилище hires и jobs в Postgres.
//
// ClaimJob реализован одним условным UPDATE: при конкурентных вызовах
// строку обновляет ровно одна транзакция, остальные видят уже leased job.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore создаёт хранилище поверх готового пула.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Close закрывает пул соединений.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// Migrate применяет встроенные миграции, ещё не записанные в schema_migrations.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	files, err := fs.Glob(migrations.Files, "postgres/*.sql")
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}
	sort.Strings(files)

	for _, name := range files {
		var exists bool
		if err := s.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version = $1)`, name,
		).Scan(&exists); err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if exists {
			continue
		}

		body, err := migrations.Files.ReadFile(name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}

		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin migration %s: %w", name, err)
		}
		if _, err := tx.Exec(ctx, string(body)); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
		if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, name); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("record migration %s: %w", name, err)
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit migration %s: %w", name, err)
		}
	}
	return nil
}

// PutHire создаёт или перезаписывает hire.
func (s *PostgresStore) PutHire(ctx context.Context, hire *domain.Hire) error {
	b, err := encodeHire(hire)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO hires (id, agent_url, agent_card, agent_card_cached_at, wallet, status, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE
		SET agent_url = EXCLUDED.agent_url,
		    agent_card = EXCLUDED.agent_card,
		    agent_card_cached_at = EXCLUDED.agent_card_cached_at,
		    wallet = EXCLUDED.wallet,
		    status = EXCLUDED.status,
		    metadata = EXCLUDED.metadata,
		    updated_at = EXCLUDED.updated_at
	`
	_, err = s.pool.Exec(ctx, query,
		hire.ID,
		hire.Agent.URL,
		b.card,
		hire.Agent.CachedAt,
		b.wallet,
		hire.Status,
		b.metadata,
		hire.CreatedAt,
		hire.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert hire: %w", err)
	}
	return nil
}

// UpdateHireStatusIf меняет статус hire, если в БД он равен expectStatus.
func (s *PostgresStore) UpdateHireStatusIf(ctx context.Context, id uuid.UUID, expectStatus, newStatus domain.HireStatus, updatedAt time.Time) (bool, error) {
	query := `
		UPDATE hires
		SET status = $3, updated_at = $4
		WHERE id = $1 AND status = $2
	`
	tag, err := s.pool.Exec(ctx, query, id, string(expectStatus), string(newStatus), updatedAt)
	if err != nil {
		return false, fmt.Errorf("update hire status: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// GetHire возвращает hire по ID.
func (s *PostgresStore) GetHire(ctx context.Context, id uuid.UUID) (*domain.Hire, bool, error) {
	query := `
		SELECT id, agent_url, agent_card, agent_card_cached_at, wallet, status, metadata, created_at, updated_at
		FROM hires
		WHERE id = $1
	`
	hire, err := scanPgHire(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return hire, true, nil
}

// DeleteHire удаляет hire; jobs удаляются каскадно.
func (s *PostgresStore) DeleteHire(ctx context.Context, id uuid.UUID) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM hires WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete hire: %w", err)
	}
	return nil
}

// SaveAgentCard обновляет только кэш agent card, не трогая статус hire.
func (s *PostgresStore) SaveAgentCard(ctx context.Context, hireID uuid.UUID, card *domain.AgentCard, cachedAt time.Time) error {
	b, err := encodeHire(&domain.Hire{Agent: domain.AgentRef{Card: card}})
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE hires SET agent_card = $2, agent_card_cached_at = $3 WHERE id = $1`,
		hireID, b.card, cachedAt,
	)
	if err != nil {
		return fmt.Errorf("save agent card: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("save agent card: hire %s: %w", hireID, ErrNotFound)
	}
	return nil
}

const pgJobColumns = `id, hire_id, entrypoint_key, input, schedule, next_run_at, scheduled_at,
	attempts, max_retries, status, idempotency_key, lease_worker_id, lease_expires_at,
	last_error, created_at, updated_at`

// PutJob создаёт или перезаписывает job безусловно.
func (s *PostgresStore) PutJob(ctx context.Context, job *domain.Job) error {
	b, err := encodeJob(job)
	if err != nil {
		return err
	}
	worker, expires := leaseColumns(job.Lease)

	query := `
		INSERT INTO jobs (` + pgJobColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (id) DO UPDATE
		SET entrypoint_key = EXCLUDED.entrypoint_key,
		    input = EXCLUDED.input,
		    schedule = EXCLUDED.schedule,
		    next_run_at = EXCLUDED.next_run_at,
		    scheduled_at = EXCLUDED.scheduled_at,
		    attempts = EXCLUDED.attempts,
		    max_retries = EXCLUDED.max_retries,
		    status = EXCLUDED.status,
		    idempotency_key = EXCLUDED.idempotency_key,
		    lease_worker_id = EXCLUDED.lease_worker_id,
		    lease_expires_at = EXCLUDED.lease_expires_at,
		    last_error = EXCLUDED.last_error,
		    updated_at = EXCLUDED.updated_at
	`
	_, err = s.pool.Exec(ctx, query,
		job.ID,
		job.HireID,
		job.EntrypointKey,
		b.input,
		b.schedule,
		job.NextRunAt,
		job.ScheduledAt,
		job.Attempts,
		job.MaxRetries,
		job.Status,
		nullString(job.IdempotencyKey),
		worker,
		expires,
		nullString(job.LastError),
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert job: %w", err)
	}
	return nil
}

// GetJob возвращает job по ID.
func (s *PostgresStore) GetJob(ctx context.Context, id uuid.UUID) (*domain.Job, bool, error) {
	query := `SELECT ` + pgJobColumns + ` FROM jobs WHERE id = $1`
	job, err := scanPgJob(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return job, true, nil
}

// ListJobsByHire возвращает jobs hire в порядке создания.
func (s *PostgresStore) ListJobsByHire(ctx context.Context, hireID uuid.UUID) ([]domain.Job, error) {
	query := `SELECT ` + pgJobColumns + ` FROM jobs WHERE hire_id = $1 ORDER BY created_at ASC, id ASC`
	return s.queryJobs(ctx, "list jobs by hire", query, hireID)
}

// GetDueJobs возвращает due jobs активных hires.
func (s *PostgresStore) GetDueJobs(ctx context.Context, now time.Time, limit int) ([]domain.Job, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT ` + prefixed("j", pgJobColumns) + `
		FROM jobs j
		JOIN hires h ON h.id = j.hire_id
		WHERE j.status = 'pending' AND j.next_run_at <= $1 AND h.status = 'active'
		ORDER BY j.next_run_at ASC, j.id ASC
		LIMIT $2
	`
	return s.queryJobs(ctx, "get due jobs", query, now, limit)
}

// ClaimJob атомарно захватывает due job.
func (s *PostgresStore) ClaimJob(ctx context.Context, jobID uuid.UUID, workerID string, now time.Time, lease time.Duration) (bool, error) {
	query := `
		UPDATE jobs j
		SET status = 'leased', lease_worker_id = $2, lease_expires_at = $3, updated_at = $4
		WHERE j.id = $1
		  AND j.status = 'pending'
		  AND j.next_run_at <= $4
		  AND EXISTS (SELECT 1 FROM hires h WHERE h.id = j.hire_id AND h.status = 'active')
	`
	tag, err := s.pool.Exec(ctx, query, jobID, workerID, now.Add(lease), now)
	if err != nil {
		return false, fmt.Errorf("claim job: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// UpdateJobIf сохраняет job, если статус и lease в БД совпадают с ожидаемыми.
func (s *PostgresStore) UpdateJobIf(ctx context.Context, job *domain.Job, expectStatus domain.JobStatus, expectLease *domain.Lease) (bool, error) {
	b, err := encodeJob(job)
	if err != nil {
		return false, err
	}
	worker, expires := leaseColumns(job.Lease)
	expWorker, expExpires := leaseColumns(expectLease)

	query := `
		UPDATE jobs
		SET entrypoint_key = $2, input = $3, schedule = $4, next_run_at = $5, scheduled_at = $6,
		    attempts = $7, max_retries = $8, status = $9, idempotency_key = $10,
		    lease_worker_id = $11, lease_expires_at = $12, last_error = $13, updated_at = $14
		WHERE id = $1
		  AND status = $15
		  AND lease_worker_id IS NOT DISTINCT FROM $16::text
		  AND lease_expires_at IS NOT DISTINCT FROM $17::timestamptz
	`
	tag, err := s.pool.Exec(ctx, query,
		job.ID,
		job.EntrypointKey,
		b.input,
		b.schedule,
		job.NextRunAt,
		job.ScheduledAt,
		job.Attempts,
		job.MaxRetries,
		job.Status,
		nullString(job.IdempotencyKey),
		worker,
		expires,
		nullString(job.LastError),
		job.UpdatedAt,
		expectStatus,
		expWorker,
		expExpires,
	)
	if err != nil {
		return false, fmt.Errorf("update job: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// GetExpiredLeases возвращает leased jobs с истёкшим lease.
func (s *PostgresStore) GetExpiredLeases(ctx context.Context, now time.Time) ([]domain.Job, error) {
	query := `
		SELECT ` + pgJobColumns + `
		FROM jobs
		WHERE status = 'leased' AND lease_expires_at <= $1
		ORDER BY next_run_at ASC, id ASC
	`
	return s.queryJobs(ctx, "get expired leases", query, now)
}

func (s *PostgresStore) queryJobs(ctx context.Context, op, query string, args ...any) ([]domain.Job, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	jobs := make([]domain.Job, 0)
	for rows.Next() {
		job, err := scanPgJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return jobs, nil
}

func scanPgHire(row pgx.Row) (*domain.Hire, error) {
	var (
		h        domain.Hire
		b        hireBlobs
		cachedAt *time.Time
	)
	err := row.Scan(
		&h.ID,
		&h.Agent.URL,
		&b.card,
		&cachedAt,
		&b.wallet,
		&h.Status,
		&b.metadata,
		&h.CreatedAt,
		&h.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan hire: %w", err)
	}
	if cachedAt != nil {
		t := cachedAt.UTC()
		h.Agent.CachedAt = &t
	}
	h.CreatedAt = h.CreatedAt.UTC()
	h.UpdatedAt = h.UpdatedAt.UTC()
	if err := decodeHire(&h, b); err != nil {
		return nil, err
	}
	return &h, nil
}

func scanPgJob(row pgx.Row) (*domain.Job, error) {
	var (
		j              domain.Job
		b              jobBlobs
		idempotencyKey *string
		leaseWorker    *string
		leaseExpires   *time.Time
		lastError      *string
	)
	err := row.Scan(
		&j.ID,
		&j.HireID,
		&j.EntrypointKey,
		&b.input,
		&b.schedule,
		&j.NextRunAt,
		&j.ScheduledAt,
		&j.Attempts,
		&j.MaxRetries,
		&j.Status,
		&idempotencyKey,
		&leaseWorker,
		&leaseExpires,
		&lastError,
		&j.CreatedAt,
		&j.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan job: %w", err)
	}

	j.IdempotencyKey = derefString(idempotencyKey)
	j.LastError = derefString(lastError)
	if leaseWorker != nil && leaseExpires != nil {
		j.Lease = &domain.Lease{WorkerID: *leaseWorker, ExpiresAt: leaseExpires.UTC()}
	}
	j.NextRunAt = j.NextRunAt.UTC()
	j.ScheduledAt = j.ScheduledAt.UTC()
	j.CreatedAt = j.CreatedAt.UTC()
	j.UpdatedAt = j.UpdatedAt.UTC()

	if err := decodeJob(&j, b); err != nil {
		return nil, err
	}
	return &j, nil
}

// leaseColumns раскладывает lease на nullable-колонки.
func leaseColumns(l *domain.Lease) (*string, *time.Time) {
	if l == nil {
		return nil, nil
	}
	w := l.WorkerID
	t := l.ExpiresAt
	return &w, &t
}
