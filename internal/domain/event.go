package domain

import (
	"time"

	"github.com/google/uuid"
)

// JobEventType — тип события жизненного цикла job.
type JobEventType string

const (
	// JobEventSucceeded — вызов успешен, job перепланирован или завершён.
	JobEventSucceeded JobEventType = "job.succeeded"

	// JobEventRetrying — вызов неудачен, назначен retry.
	JobEventRetrying JobEventType = "job.retrying"

	// JobEventFailed — попытки исчерпаны.
	JobEventFailed JobEventType = "job.failed"

	// JobEventRecovered — истёкший lease снят, job возвращён в очередь или провален.
	JobEventRecovered JobEventType = "job.recovered"
)

// JobEvent — уведомление о переходе job, публикуемое после записи в хранилище.
type JobEvent struct {
	Type       JobEventType `json:"type"`
	JobID      uuid.UUID    `json:"job_id"`
	HireID     uuid.UUID    `json:"hire_id"`
	WorkerID   string       `json:"worker_id,omitempty"`
	Status     JobStatus    `json:"status"`
	Attempts   int          `json:"attempts"`
	NextRunAt  time.Time    `json:"next_run_at"`
	Error      string       `json:"error,omitempty"`
	OccurredAt time.Time    `json:"occurred_at"`
}

// NewJobEvent снимает событие с текущего состояния job.
func NewJobEvent(typ JobEventType, job *Job, workerID string, now time.Time) JobEvent {
	return JobEvent{
		Type:       typ,
		JobID:      job.ID,
		HireID:     job.HireID,
		WorkerID:   workerID,
		Status:     job.Status,
		Attempts:   job.Attempts,
		NextRunAt:  job.NextRunAt,
		Error:      job.LastError,
		OccurredAt: now,
	}
}
