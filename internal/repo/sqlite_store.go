package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/AgentHire/internal/domain"
	"github.com/shaiso/AgentHire/internal/repo/migrations"

	_ "modernc.org/sqlite"
)

// SQLiteStore — хранилище в одном файле SQLite для однонодовых установок.
//
// Все времена хранятся как epoch-миллисекунды. Пул ограничен одним
// соединением, поэтому условные UPDATE выполняются строго последовательно.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite открывает (или создаёт) базу по пути и применяет миграции.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	s := &SQLiteStore{db: db}
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close закрывает базу.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Migrate применяет встроенные миграции sqlite/*.sql.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    TEXT PRIMARY KEY,
			applied_at INTEGER NOT NULL
		)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	files, err := fs.Glob(migrations.Files, "sqlite/*.sql")
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}
	sort.Strings(files)

	for _, name := range files {
		var n int
		if err := s.db.QueryRowContext(ctx,
			`SELECT COUNT(1) FROM schema_migrations WHERE version = ?`, name,
		).Scan(&n); err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if n > 0 {
			continue
		}

		body, err := migrations.Files.ReadFile(name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := s.db.ExecContext(ctx, string(body)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
		if _, err := s.db.ExecContext(ctx,
			`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`,
			name, time.Now().UnixMilli(),
		); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
	}
	return nil
}

func (s *SQLiteStore) PutHire(ctx context.Context, hire *domain.Hire) error {
	b, err := encodeHire(hire)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO hires (id, agent_url, agent_card, agent_card_cached_at, wallet, status, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE
		SET agent_url = excluded.agent_url,
		    agent_card = excluded.agent_card,
		    agent_card_cached_at = excluded.agent_card_cached_at,
		    wallet = excluded.wallet,
		    status = excluded.status,
		    metadata = excluded.metadata,
		    updated_at = excluded.updated_at`,
		hire.ID.String(),
		hire.Agent.URL,
		nullBlob(b.card),
		nullMillis(hire.Agent.CachedAt),
		string(b.wallet),
		string(hire.Status),
		nullBlob(b.metadata),
		hire.CreatedAt.UnixMilli(),
		hire.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("upsert hire: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpdateHireStatusIf(ctx context.Context, id uuid.UUID, expectStatus, newStatus domain.HireStatus, updatedAt time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE hires SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(newStatus), updatedAt.UnixMilli(), id.String(), string(expectStatus),
	)
	if err != nil {
		return false, fmt.Errorf("update hire status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update hire status: %w", err)
	}
	return n == 1, nil
}

func (s *SQLiteStore) GetHire(ctx context.Context, id uuid.UUID) (*domain.Hire, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, agent_url, agent_card, agent_card_cached_at, wallet, status, metadata, created_at, updated_at
		FROM hires WHERE id = ?`, id.String())
	hire, err := scanSQLiteHire(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return hire, true, nil
}

func (s *SQLiteStore) DeleteHire(ctx context.Context, id uuid.UUID) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM hires WHERE id = ?`, id.String()); err != nil {
		return fmt.Errorf("delete hire: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SaveAgentCard(ctx context.Context, hireID uuid.UUID, card *domain.AgentCard, cachedAt time.Time) error {
	b, err := encodeHire(&domain.Hire{Agent: domain.AgentRef{Card: card}})
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE hires SET agent_card = ?, agent_card_cached_at = ? WHERE id = ?`,
		nullBlob(b.card), cachedAt.UnixMilli(), hireID.String(),
	)
	if err != nil {
		return fmt.Errorf("save agent card: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("save agent card: hire %s: %w", hireID, ErrNotFound)
	}
	return nil
}

const sqliteJobColumns = `id, hire_id, entrypoint_key, input, schedule, next_run_at, scheduled_at,
	attempts, max_retries, status, idempotency_key, lease_worker_id, lease_expires_at,
	last_error, created_at, updated_at`

func (s *SQLiteStore) PutJob(ctx context.Context, job *domain.Job) error {
	b, err := encodeJob(job)
	if err != nil {
		return err
	}
	worker, expires := sqliteLease(job.Lease)
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO jobs (`+sqliteJobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE
		SET entrypoint_key = excluded.entrypoint_key,
		    input = excluded.input,
		    schedule = excluded.schedule,
		    next_run_at = excluded.next_run_at,
		    scheduled_at = excluded.scheduled_at,
		    attempts = excluded.attempts,
		    max_retries = excluded.max_retries,
		    status = excluded.status,
		    idempotency_key = excluded.idempotency_key,
		    lease_worker_id = excluded.lease_worker_id,
		    lease_expires_at = excluded.lease_expires_at,
		    last_error = excluded.last_error,
		    updated_at = excluded.updated_at`,
		job.ID.String(),
		job.HireID.String(),
		job.EntrypointKey,
		nullBlob(b.input),
		string(b.schedule),
		job.NextRunAt.UnixMilli(),
		job.ScheduledAt.UnixMilli(),
		job.Attempts,
		job.MaxRetries,
		string(job.Status),
		nullString(job.IdempotencyKey),
		worker,
		expires,
		nullString(job.LastError),
		job.CreatedAt.UnixMilli(),
		job.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("upsert job: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetJob(ctx context.Context, id uuid.UUID) (*domain.Job, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteJobColumns+` FROM jobs WHERE id = ?`, id.String())
	job, err := scanSQLiteJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return job, true, nil
}

func (s *SQLiteStore) ListJobsByHire(ctx context.Context, hireID uuid.UUID) ([]domain.Job, error) {
	return s.queryJobs(ctx, "list jobs by hire",
		`SELECT `+sqliteJobColumns+` FROM jobs WHERE hire_id = ? ORDER BY created_at ASC, id ASC`,
		hireID.String())
}

func (s *SQLiteStore) GetDueJobs(ctx context.Context, now time.Time, limit int) ([]domain.Job, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.queryJobs(ctx, "get due jobs", `
		SELECT `+prefixed("j", sqliteJobColumns)+`
		FROM jobs j
		JOIN hires h ON h.id = j.hire_id
		WHERE j.status = 'pending' AND j.next_run_at <= ? AND h.status = 'active'
		ORDER BY j.next_run_at ASC, j.id ASC
		LIMIT ?`,
		now.UnixMilli(), limit)
}

func (s *SQLiteStore) ClaimJob(ctx context.Context, jobID uuid.UUID, workerID string, now time.Time, lease time.Duration) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'leased', lease_worker_id = ?, lease_expires_at = ?, updated_at = ?
		WHERE id = ?
		  AND status = 'pending'
		  AND next_run_at <= ?
		  AND EXISTS (SELECT 1 FROM hires h WHERE h.id = jobs.hire_id AND h.status = 'active')`,
		workerID, now.Add(lease).UnixMilli(), now.UnixMilli(), jobID.String(), now.UnixMilli(),
	)
	if err != nil {
		return false, fmt.Errorf("claim job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim job: %w", err)
	}
	return n == 1, nil
}

func (s *SQLiteStore) UpdateJobIf(ctx context.Context, job *domain.Job, expectStatus domain.JobStatus, expectLease *domain.Lease) (bool, error) {
	b, err := encodeJob(job)
	if err != nil {
		return false, err
	}
	worker, expires := sqliteLease(job.Lease)
	expWorker, expExpires := sqliteLease(expectLease)

	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET entrypoint_key = ?, input = ?, schedule = ?, next_run_at = ?, scheduled_at = ?,
		    attempts = ?, max_retries = ?, status = ?, idempotency_key = ?,
		    lease_worker_id = ?, lease_expires_at = ?, last_error = ?, updated_at = ?
		WHERE id = ?
		  AND status = ?
		  AND lease_worker_id IS ?
		  AND lease_expires_at IS ?`,
		job.EntrypointKey,
		nullBlob(b.input),
		string(b.schedule),
		job.NextRunAt.UnixMilli(),
		job.ScheduledAt.UnixMilli(),
		job.Attempts,
		job.MaxRetries,
		string(job.Status),
		nullString(job.IdempotencyKey),
		worker,
		expires,
		nullString(job.LastError),
		job.UpdatedAt.UnixMilli(),
		job.ID.String(),
		string(expectStatus),
		expWorker,
		expExpires,
	)
	if err != nil {
		return false, fmt.Errorf("update job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update job: %w", err)
	}
	return n == 1, nil
}

func (s *SQLiteStore) GetExpiredLeases(ctx context.Context, now time.Time) ([]domain.Job, error) {
	return s.queryJobs(ctx, "get expired leases", `
		SELECT `+sqliteJobColumns+`
		FROM jobs
		WHERE status = 'leased' AND lease_expires_at <= ?
		ORDER BY next_run_at ASC, id ASC`,
		now.UnixMilli())
}

func (s *SQLiteStore) queryJobs(ctx context.Context, op, query string, args ...any) ([]domain.Job, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	jobs := make([]domain.Job, 0)
	for rows.Next() {
		job, err := scanSQLiteJob(rows)
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

// sqlScanner — общий интерфейс *sql.Row и *sql.Rows.
type sqlScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteHire(row sqlScanner) (*domain.Hire, error) {
	var (
		h                    domain.Hire
		card, metadata       sql.NullString
		wallet, status       string
		cachedAt             sql.NullInt64
		createdAt, updatedAt int64
	)
	err := row.Scan(&h.ID, &h.Agent.URL, &card, &cachedAt, &wallet, &status, &metadata, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan hire: %w", err)
	}

	h.Status = domain.ParseHireStatus(status)
	h.CreatedAt = fromMillis(createdAt)
	h.UpdatedAt = fromMillis(updatedAt)
	if cachedAt.Valid {
		t := fromMillis(cachedAt.Int64)
		h.Agent.CachedAt = &t
	}

	b := hireBlobs{wallet: []byte(wallet)}
	if card.Valid {
		b.card = []byte(card.String)
	}
	if metadata.Valid {
		b.metadata = []byte(metadata.String)
	}
	if err := decodeHire(&h, b); err != nil {
		return nil, err
	}
	return &h, nil
}

func scanSQLiteJob(row sqlScanner) (*domain.Job, error) {
	var (
		j                                   domain.Job
		input, idemKey, leaseWorker, lastEr sql.NullString
		schedule, status                    string
		nextRunAt, scheduledAt              int64
		createdAt, updatedAt                int64
		leaseExpires                        sql.NullInt64
	)
	err := row.Scan(
		&j.ID,
		&j.HireID,
		&j.EntrypointKey,
		&input,
		&schedule,
		&nextRunAt,
		&scheduledAt,
		&j.Attempts,
		&j.MaxRetries,
		&status,
		&idemKey,
		&leaseWorker,
		&leaseExpires,
		&lastEr,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan job: %w", err)
	}

	j.Status = domain.ParseJobStatus(status)
	j.NextRunAt = fromMillis(nextRunAt)
	j.ScheduledAt = fromMillis(scheduledAt)
	j.CreatedAt = fromMillis(createdAt)
	j.UpdatedAt = fromMillis(updatedAt)
	j.IdempotencyKey = idemKey.String
	j.LastError = lastEr.String
	if leaseWorker.Valid && leaseExpires.Valid {
		j.Lease = &domain.Lease{WorkerID: leaseWorker.String, ExpiresAt: fromMillis(leaseExpires.Int64)}
	}

	b := jobBlobs{schedule: []byte(schedule)}
	if input.Valid {
		b.input = []byte(input.String)
	}
	if err := decodeJob(&j, b); err != nil {
		return nil, err
	}
	return &j, nil
}

func sqliteLease(l *domain.Lease) (any, any) {
	if l == nil {
		return nil, nil
	}
	return l.WorkerID, l.ExpiresAt.UnixMilli()
}

func nullBlob(b []byte) any {
	if b == nil {
		return nil
	}
	return string(b)
}

func nullMillis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
