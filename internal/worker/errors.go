package worker

import "errors"

// Ошибки воркера.
var (
	// ErrNoRuntime — в Config не передан Runtime.
	ErrNoRuntime = errors.New("worker: runtime is required")

	// ErrAlreadyStarted — повторный Start.
	ErrAlreadyStarted = errors.New("worker: already started")
)
