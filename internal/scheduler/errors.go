package scheduler

import "errors"

// Ошибки операций Runtime.
var (
	// ErrHireNotFound — hire не найден.
	ErrHireNotFound = errors.New("hire not found")

	// ErrJobNotFound — job не найден.
	ErrJobNotFound = errors.New("job not found")

	// ErrHireCanceled — операция над отменённым hire.
	ErrHireCanceled = errors.New("hire canceled")

	// ErrInvalidTransition — переход статуса недопустим
	// (например, пауза захваченного job).
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrUnknownEntrypoint — в agent card нет запрошенной точки входа.
	ErrUnknownEntrypoint = errors.New("unknown entrypoint")

	// ErrMissingDependency — в Config не задана обязательная зависимость.
	ErrMissingDependency = errors.New("missing dependency")

	// ErrConflict — job или hire изменён конкурентно между чтением и записью.
	ErrConflict = errors.New("concurrent modification")
)
