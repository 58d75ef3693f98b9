package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Job — единица работы внутри hire, которую можно независимо захватить (lease).
//
// Job создаётся при создании hire (первый) или через AddJob.
// Воркер захватывает due job через атомарный claim, вызывает entrypoint агента
// и записывает результат: перепланирование, retry или финальный статус.
type Job struct {
	// ID — уникальный идентификатор job.
	ID uuid.UUID `json:"id"`

	// HireID — ссылка на родительский hire.
	HireID uuid.UUID `json:"hire_id"`

	// EntrypointKey — ключ вызываемой точки входа агента.
	EntrypointKey string `json:"entrypoint_key"`

	// Input — JSON-совместимые входные данные вызова.
	Input any `json:"input,omitempty"`

	// Schedule — расписание запуска.
	Schedule Schedule `json:"schedule"`

	// NextRunAt — когда job станет due.
	NextRunAt time.Time `json:"next_run_at"`

	// ScheduledAt — номинальное время текущего запуска.
	// Не меняется при retry и восстановлении lease, поэтому ключ
	// идемпотентности одного запуска стабилен.
	ScheduledAt time.Time `json:"scheduled_at"`

	// Attempts — количество неудачных попыток текущего запуска.
	Attempts int `json:"attempts"`

	// MaxRetries — потолок попыток; при Attempts >= MaxRetries job падает в FAILED.
	MaxRetries int `json:"max_retries"`

	// Status — текущий статус job.
	Status JobStatus `json:"status"`

	// IdempotencyKey — явный ключ идемпотентности (опционально).
	IdempotencyKey string `json:"idempotency_key,omitempty"`

	// Lease — активный захват воркером. Nil, если job не захвачен.
	Lease *Lease `json:"lease,omitempty"`

	// LastError — текст последней ошибки.
	LastError string `json:"last_error,omitempty"`

	// CreatedAt — время создания.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt — время последнего обновления.
	UpdatedAt time.Time `json:"updated_at"`
}

// Lease — ограниченный по времени эксклюзивный захват job воркером.
//
// Хранится внутри записи job, поэтому меняется атомарно вместе с её статусом.
type Lease struct {
	// WorkerID — идентификатор воркера-владельца.
	WorkerID string `json:"worker_id"`

	// ExpiresAt — момент истечения lease.
	ExpiresAt time.Time `json:"expires_at"`
}

// Live возвращает true, если lease ещё действует.
func (l *Lease) Live(now time.Time) bool {
	return l != nil && l.ExpiresAt.After(now)
}

// Equal сравнивает два lease (nil == nil).
func (l *Lease) Equal(other *Lease) bool {
	if l == nil || other == nil {
		return l == nil && other == nil
	}
	return l.WorkerID == other.WorkerID && l.ExpiresAt.Equal(other.ExpiresAt)
}

// IsDue проверяет, пора ли выполнять job.
func (j *Job) IsDue(now time.Time) bool {
	return j.Status == JobStatusPending && !j.NextRunAt.After(now)
}

// IsFinished возвращает true, если job завершён.
func (j *Job) IsFinished() bool {
	return j.Status.IsTerminal()
}

// EffectiveIdempotencyKey возвращает ключ, передаваемый в вызов.
//
// Явный ключ используется как есть. Иначе ключ строится из ID job и
// номинального времени запуска: "{job_id}_{scheduled_at_unix_ms}".
func (j *Job) EffectiveIdempotencyKey() string {
	if j.IdempotencyKey != "" {
		return j.IdempotencyKey
	}
	return fmt.Sprintf("%s_%d", j.ID, j.ScheduledAt.UnixMilli())
}

// MarkLeased переводит job в статус LEASED.
func (j *Job) MarkLeased(workerID string, now time.Time, d time.Duration) {
	j.Status = JobStatusLeased
	j.Lease = &Lease{WorkerID: workerID, ExpiresAt: now.Add(d)}
	j.UpdatedAt = now
}

// ReleaseLease возвращает захваченный job в PENDING без учёта попытки.
func (j *Job) ReleaseLease(now time.Time) {
	j.Status = JobStatusPending
	j.Lease = nil
	j.UpdatedAt = now
}

// RecordSuccess записывает успешный вызов.
//
// once → COMPLETED. interval/cron → PENDING со следующим next_run_at.
// В обоих случаях Attempts сбрасывается.
func (j *Job) RecordSuccess(now time.Time) error {
	j.Lease = nil
	j.Attempts = 0
	j.LastError = ""
	j.UpdatedAt = now

	if !j.Schedule.IsRecurring() {
		j.Status = JobStatusCompleted
		return nil
	}

	next, err := j.Schedule.Next(now)
	if err != nil {
		j.Status = JobStatusFailed
		j.LastError = err.Error()
		return err
	}

	j.Status = JobStatusPending
	j.NextRunAt = next
	j.ScheduledAt = next
	return nil
}

// RecordFailure записывает неудачную попытку.
//
// Возвращает true, если job перепланирован на retry,
// false — если попытки исчерпаны и job перешёл в FAILED.
func (j *Job) RecordFailure(now time.Time, errMsg string, backoff func(attempts int) time.Duration) bool {
	j.Attempts++
	j.Lease = nil
	j.LastError = errMsg
	j.UpdatedAt = now

	if j.Attempts < j.MaxRetries {
		j.Status = JobStatusPending
		j.NextRunAt = now.Add(backoff(j.Attempts))
		return true
	}

	j.Status = JobStatusFailed
	return false
}

// RecoverLease возвращает job с истёкшим lease в очередь.
// Истёкший lease считается неудачной попыткой.
// next_run_at не меняется: job снова due немедленно.
func (j *Job) RecoverLease(now time.Time) bool {
	workerID := ""
	if j.Lease != nil {
		workerID = j.Lease.WorkerID
	}

	j.Attempts++
	j.Lease = nil
	j.LastError = fmt.Sprintf("lease expired (worker %s)", workerID)
	j.UpdatedAt = now

	if j.Attempts < j.MaxRetries {
		j.Status = JobStatusPending
		return true
	}

	j.Status = JobStatusFailed
	return false
}

// Pause приостанавливает job. Повторная пауза — no-op.
// Захваченный или завершённый job поставить на паузу нельзя.
func (j *Job) Pause(now time.Time) bool {
	switch j.Status {
	case JobStatusPending:
		j.Status = JobStatusPaused
		j.UpdatedAt = now
		return true
	case JobStatusPaused:
		return true
	default:
		return false
	}
}

// Resume возобновляет job с указанного времени.
//
// PAUSED → PENDING. FAILED → PENDING со сбросом попыток.
// PENDING переносится на at.
func (j *Job) Resume(now, at time.Time) bool {
	switch j.Status {
	case JobStatusPaused:
		j.Status = JobStatusPending
		j.NextRunAt = at
		j.ScheduledAt = at
		j.UpdatedAt = now
		return true
	case JobStatusFailed:
		j.Status = JobStatusPending
		j.Attempts = 0
		j.LastError = ""
		j.NextRunAt = at
		j.ScheduledAt = at
		j.UpdatedAt = now
		return true
	case JobStatusPending:
		j.NextRunAt = at
		j.ScheduledAt = at
		j.UpdatedAt = now
		return true
	default:
		return false
	}
}
