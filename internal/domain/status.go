package domain

// HireStatus — статус найма (hire).
//
// Жизненный цикл:
//
//	ACTIVE ⇄ PAUSED
//	ACTIVE | PAUSED → CANCELED (терминальный)
type HireStatus string

const (
	// HireStatusActive — найм активен, его jobs выполняются по расписанию.
	HireStatusActive HireStatus = "active"

	// HireStatusPaused — найм приостановлен, jobs не выбираются.
	HireStatusPaused HireStatus = "paused"

	// HireStatusCanceled — найм отменён навсегда.
	HireStatusCanceled HireStatus = "canceled"
)

// IsTerminal возвращает true, если статус финальный.
func (s HireStatus) IsTerminal() bool {
	return s == HireStatusCanceled
}

// String возвращает строковое представление HireStatus.
func (s HireStatus) String() string {
	return string(s)
}

// ParseHireStatus парсит строку в HireStatus.
func ParseHireStatus(s string) HireStatus {
	switch s {
	case "paused":
		return HireStatusPaused
	case "canceled":
		return HireStatusCanceled
	default:
		return HireStatusActive
	}
}

// JobStatus — статус job.
//
// Жизненный цикл:
//
//	PENDING → LEASED → PENDING (успех recurring / retry)
//	                 ↘ COMPLETED (успех once)
//	                 ↘ FAILED (исчерпаны попытки)
//	PENDING ⇄ PAUSED
type JobStatus string

const (
	// JobStatusPending — job ждёт своего next_run_at.
	JobStatusPending JobStatus = "pending"

	// JobStatusLeased — job захвачен воркером (есть lease).
	JobStatusLeased JobStatus = "leased"

	// JobStatusFailed — попытки исчерпаны.
	JobStatusFailed JobStatus = "failed"

	// JobStatusCompleted — одноразовый job успешно выполнен.
	JobStatusCompleted JobStatus = "completed"

	// JobStatusPaused — job приостановлен вручную.
	JobStatusPaused JobStatus = "paused"
)

// IsTerminal возвращает true, если статус финальный.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusFailed, JobStatusCompleted:
		return true
	default:
		return false
	}
}

// String возвращает строковое представление JobStatus.
func (s JobStatus) String() string {
	return string(s)
}

// ParseJobStatus парсит строку в JobStatus.
func ParseJobStatus(s string) JobStatus {
	switch s {
	case "leased":
		return JobStatusLeased
	case "failed":
		return JobStatusFailed
	case "completed":
		return JobStatusCompleted
	case "paused":
		return JobStatusPaused
	default:
		return JobStatusPending
	}
}
