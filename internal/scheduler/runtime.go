package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/AgentHire/internal/domain"
	"github.com/shaiso/AgentHire/internal/telemetry"
	"github.com/shaiso/AgentHire/internal/wallet"
)

// Значения по умолчанию для Config.
const (
	DefaultMaxRetries    = 3
	DefaultLeaseDuration = 30 * time.Second
	DefaultMaxDueBatch   = 50
	DefaultAgentCardTTL  = 5 * time.Minute
	DefaultConcurrency   = 4
)

// Config — зависимости и параметры Runtime.
type Config struct {
	// Store — обязательное хранилище hires и jobs.
	Store Store

	// AgentCards — обязательный загрузчик agent card.
	AgentCards AgentCardFetcher

	// Invoke — обязательная функция вызова entrypoint.
	Invoke InvokeFunc

	// WalletResolver — опционально. Без него jobs выполняются без подписанта.
	WalletResolver wallet.Resolver

	// Publisher — опционально, события о переходах jobs.
	Publisher EventPublisher

	// Metrics — опционально.
	Metrics *Metrics

	// Logger — по умолчанию slog.Default().
	Logger *slog.Logger

	// Clock — источник времени. По умолчанию time.Now.
	Clock func() time.Time

	// WorkerID — идентификатор воркера, если TickOptions.WorkerID пуст.
	// По умолчанию генерируется.
	WorkerID string

	DefaultMaxRetries  int           // default: 3
	LeaseDuration      time.Duration // default: 30s
	MaxDueBatch        int           // default: 50
	AgentCardTTL       time.Duration // default: 5m
	DefaultConcurrency int           // default: 4
}

// Runtime — движок планировщика: переходы состояний hires и jobs поверх Store.
//
// Runtime не держит собственных таймеров и блокировок: его вызывает внешний
// драйвер (worker), а взаимное исключение между воркерами обеспечивает
// Store.ClaimJob.
type Runtime struct {
	store     Store
	cards     AgentCardFetcher
	invoke    InvokeFunc
	wallets   wallet.Resolver
	publisher EventPublisher
	metrics   *Metrics
	logger    *slog.Logger
	clock     func() time.Time
	workerID  string

	maxRetries  int
	lease       time.Duration
	maxDueBatch int
	cardTTL     time.Duration
	concurrency int
}

// New создаёт Runtime. Отсутствие Store, AgentCards или Invoke — ошибка конфигурации.
func New(cfg Config) (*Runtime, error) {
	var missing []string
	if cfg.Store == nil {
		missing = append(missing, "Store")
	}
	if cfg.AgentCards == nil {
		missing = append(missing, "AgentCards")
	}
	if cfg.Invoke == nil {
		missing = append(missing, "Invoke")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("new scheduler: %w: %s", ErrMissingDependency, strings.Join(missing, ", "))
	}

	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.WorkerID == "" {
		cfg.WorkerID = "worker-" + uuid.NewString()[:8]
	}
	if cfg.DefaultMaxRetries <= 0 {
		cfg.DefaultMaxRetries = DefaultMaxRetries
	}
	if cfg.LeaseDuration <= 0 {
		cfg.LeaseDuration = DefaultLeaseDuration
	}
	if cfg.MaxDueBatch <= 0 {
		cfg.MaxDueBatch = DefaultMaxDueBatch
	}
	if cfg.AgentCardTTL <= 0 {
		cfg.AgentCardTTL = DefaultAgentCardTTL
	}
	if cfg.DefaultConcurrency <= 0 {
		cfg.DefaultConcurrency = DefaultConcurrency
	}

	return &Runtime{
		store:       cfg.Store,
		cards:       cfg.AgentCards,
		invoke:      cfg.Invoke,
		wallets:     cfg.WalletResolver,
		publisher:   cfg.Publisher,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger,
		clock:       cfg.Clock,
		workerID:    cfg.WorkerID,
		maxRetries:  cfg.DefaultMaxRetries,
		lease:       cfg.LeaseDuration.Truncate(time.Millisecond),
		maxDueBatch: cfg.MaxDueBatch,
		cardTTL:     cfg.AgentCardTTL,
		concurrency: cfg.DefaultConcurrency,
	}, nil
}

// WorkerID возвращает идентификатор воркера по умолчанию.
func (r *Runtime) WorkerID() string {
	return r.workerID
}

// now возвращает текущее время в UTC с точностью до миллисекунды,
// чтобы значения lease совпадали после записи в любое хранилище.
func (r *Runtime) now() time.Time {
	return r.clock().UTC().Truncate(time.Millisecond)
}

// CreateHireRequest — параметры нового hire и его первого job.
type CreateHireRequest struct {
	// AgentURL — базовый URL агента или полный URL agent card.
	AgentURL string

	Wallet        domain.WalletRef
	EntrypointKey string
	Schedule      domain.Schedule
	Input         any

	// MaxRetries <= 0 — DefaultMaxRetries.
	MaxRetries     int
	IdempotencyKey string
	Metadata       map[string]any
}

// CreateHire загружает agent card, сохраняет hire (active) и первый job (pending).
func (r *Runtime) CreateHire(ctx context.Context, req CreateHireRequest) (*domain.Hire, *domain.Job, error) {
	if err := req.Schedule.Validate(); err != nil {
		return nil, nil, fmt.Errorf("create hire: %w", err)
	}

	card, err := r.cards.FetchAgentCard(ctx, req.AgentURL)
	if err != nil {
		return nil, nil, fmt.Errorf("create hire: resolve agent card: %w", err)
	}
	if _, ok := card.Entrypoint(req.EntrypointKey); !ok {
		return nil, nil, fmt.Errorf("create hire: %w: %q", ErrUnknownEntrypoint, req.EntrypointKey)
	}

	now := r.now()
	cachedAt := now
	hire := &domain.Hire{
		ID: uuid.New(),
		Agent: domain.AgentRef{
			URL:      req.AgentURL,
			Card:     card,
			CachedAt: &cachedAt,
		},
		Wallet:    req.Wallet,
		Status:    domain.HireStatusActive,
		Metadata:  req.Metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}

	job, err := r.newJob(hire.ID, req.EntrypointKey, req.Schedule, req.Input, req.MaxRetries, req.IdempotencyKey, now)
	if err != nil {
		return nil, nil, fmt.Errorf("create hire: %w", err)
	}

	if err := r.store.PutHire(ctx, hire); err != nil {
		return nil, nil, fmt.Errorf("create hire: put hire: %w", err)
	}
	if err := r.store.PutJob(ctx, job); err != nil {
		if delErr := r.store.DeleteHire(ctx, hire.ID); delErr != nil {
			r.logger.Error("failed to roll back hire", "hire_id", hire.ID, "error", delErr)
		}
		return nil, nil, fmt.Errorf("create hire: put job: %w", err)
	}

	r.logger.Info("hire created",
		"hire_id", hire.ID,
		"job_id", job.ID,
		"agent_url", req.AgentURL,
		"entrypoint", req.EntrypointKey,
		"schedule", req.Schedule.Kind,
		"next_run_at", job.NextRunAt,
	)
	r.wakeUp(ctx, job, now)
	return hire, job, nil
}

// AddJobRequest — параметры дополнительного job существующего hire.
type AddJobRequest struct {
	HireID         uuid.UUID
	EntrypointKey  string
	Schedule       domain.Schedule
	Input          any
	MaxRetries     int
	IdempotencyKey string
}

// AddJob добавляет job к hire. Неизвестный или отменённый hire — ошибка.
func (r *Runtime) AddJob(ctx context.Context, req AddJobRequest) (*domain.Job, error) {
	hire, err := r.loadHire(ctx, req.HireID)
	if err != nil {
		return nil, fmt.Errorf("add job: %w", err)
	}
	if hire.Status == domain.HireStatusCanceled {
		return nil, fmt.Errorf("add job: hire %s: %w", hire.ID, ErrHireCanceled)
	}
	if err := req.Schedule.Validate(); err != nil {
		return nil, fmt.Errorf("add job: %w", err)
	}
	if card := hire.Agent.Card; card != nil {
		if _, ok := card.Entrypoint(req.EntrypointKey); !ok {
			return nil, fmt.Errorf("add job: %w: %q", ErrUnknownEntrypoint, req.EntrypointKey)
		}
	}

	now := r.now()
	job, err := r.newJob(hire.ID, req.EntrypointKey, req.Schedule, req.Input, req.MaxRetries, req.IdempotencyKey, now)
	if err != nil {
		return nil, fmt.Errorf("add job: %w", err)
	}
	if err := r.store.PutJob(ctx, job); err != nil {
		return nil, fmt.Errorf("add job: put job: %w", err)
	}

	r.logger.Info("job added",
		"hire_id", hire.ID,
		"job_id", job.ID,
		"entrypoint", req.EntrypointKey,
		"next_run_at", job.NextRunAt,
	)
	if hire.IsActive() {
		r.wakeUp(ctx, job, now)
	}
	return job, nil
}

func (r *Runtime) newJob(hireID uuid.UUID, entrypoint string, sched domain.Schedule, input any, maxRetries int, idemKey string, now time.Time) (*domain.Job, error) {
	first, err := sched.Initial(now)
	if err != nil {
		return nil, err
	}
	first = first.Truncate(time.Millisecond)
	if maxRetries <= 0 {
		maxRetries = r.maxRetries
	}
	return &domain.Job{
		ID:             uuid.New(),
		HireID:         hireID,
		EntrypointKey:  entrypoint,
		Input:          input,
		Schedule:       sched,
		NextRunAt:      first,
		ScheduledAt:    first,
		MaxRetries:     maxRetries,
		Status:         domain.JobStatusPending,
		IdempotencyKey: idemKey,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// PauseHire приостанавливает hire. Повторный вызов — no-op.
func (r *Runtime) PauseHire(ctx context.Context, id uuid.UUID) (*domain.Hire, error) {
	return r.transitionHire(ctx, "pause hire", id, func(h *domain.Hire, now time.Time) bool {
		return h.Pause(now)
	})
}

// ResumeHire возобновляет hire. Для активного hire — no-op.
func (r *Runtime) ResumeHire(ctx context.Context, id uuid.UUID) (*domain.Hire, error) {
	return r.transitionHire(ctx, "resume hire", id, func(h *domain.Hire, now time.Time) bool {
		return h.Resume(now)
	})
}

// CancelHire отменяет hire навсегда. Его jobs больше не захватываются:
// хранилище отбирает due jobs только активных hires.
func (r *Runtime) CancelHire(ctx context.Context, id uuid.UUID) (*domain.Hire, error) {
	return r.transitionHire(ctx, "cancel hire", id, func(h *domain.Hire, now time.Time) bool {
		h.Cancel(now)
		return true
	})
}

func (r *Runtime) transitionHire(ctx context.Context, op string, id uuid.UUID, apply func(*domain.Hire, time.Time) bool) (*domain.Hire, error) {
	hire, err := r.loadHire(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	before := hire.Status
	if !apply(hire, r.now()) {
		return nil, fmt.Errorf("%s %s: %w", op, id, ErrHireCanceled)
	}
	if hire.Status == before {
		return hire, nil
	}

	// Пишется только статус: Agent.Card и CachedAt обновляет execute.
	ok, err := r.store.UpdateHireStatusIf(ctx, id, before, hire.Status, hire.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("%s: update hire: %w", op, err)
	}
	if !ok {
		return nil, fmt.Errorf("%s %s: %w", op, id, ErrConflict)
	}
	r.logger.Info("hire status changed", "hire_id", id, "from", before, "to", hire.Status)
	return hire, nil
}

// PauseJob приостанавливает job. Захваченный или завершённый job — ErrInvalidTransition.
func (r *Runtime) PauseJob(ctx context.Context, jobID uuid.UUID) (*domain.Job, error) {
	return r.transitionJob(ctx, "pause job", jobID, func(j *domain.Job, now time.Time) bool {
		return j.Pause(now)
	})
}

// ResumeJob возобновляет приостановленный или проваленный job.
// nextRunAt == nil — job становится due немедленно.
// Ожидающий job переносится на nextRunAt; без nextRunAt — no-op.
func (r *Runtime) ResumeJob(ctx context.Context, jobID uuid.UUID, nextRunAt *time.Time) (*domain.Job, error) {
	job, err := r.transitionJob(ctx, "resume job", jobID, func(j *domain.Job, now time.Time) bool {
		if j.Status == domain.JobStatusPending && nextRunAt == nil {
			return true
		}
		at := now
		if nextRunAt != nil {
			at = nextRunAt.UTC().Truncate(time.Millisecond)
		}
		return j.Resume(now, at)
	})
	if err != nil {
		return nil, err
	}
	r.wakeUp(ctx, job, r.now())
	return job, nil
}

func (r *Runtime) transitionJob(ctx context.Context, op string, jobID uuid.UUID, apply func(*domain.Job, time.Time) bool) (*domain.Job, error) {
	job, ok, err := r.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("%s: get job: %w", op, err)
	}
	if !ok {
		return nil, fmt.Errorf("%s %s: %w", op, jobID, ErrJobNotFound)
	}

	expectStatus := job.Status
	expectLease := job.Lease
	nextRunAt := job.NextRunAt
	if !apply(job, r.now()) {
		return nil, fmt.Errorf("%s %s: %w: job is %s", op, jobID, ErrInvalidTransition, expectStatus)
	}
	if job.Status == expectStatus && job.NextRunAt.Equal(nextRunAt) {
		return job, nil
	}

	updated, err := r.store.UpdateJobIf(ctx, job, expectStatus, expectLease)
	if err != nil {
		return nil, fmt.Errorf("%s: update job: %w", op, err)
	}
	if !updated {
		return nil, fmt.Errorf("%s %s: %w", op, jobID, ErrConflict)
	}
	r.logger.Info("job status changed", "job_id", jobID, "from", expectStatus, "to", job.Status)
	return job, nil
}

// GetHire возвращает hire или (nil, false), если его нет.
func (r *Runtime) GetHire(ctx context.Context, id uuid.UUID) (*domain.Hire, bool, error) {
	return r.store.GetHire(ctx, id)
}

// GetJob возвращает job или (nil, false), если его нет.
func (r *Runtime) GetJob(ctx context.Context, id uuid.UUID) (*domain.Job, bool, error) {
	return r.store.GetJob(ctx, id)
}

// ListJobs возвращает jobs hire. Для неизвестного hire — пустой список.
func (r *Runtime) ListJobs(ctx context.Context, hireID uuid.UUID) ([]domain.Job, error) {
	return r.store.ListJobsByHire(ctx, hireID)
}

func (r *Runtime) loadHire(ctx context.Context, id uuid.UUID) (*domain.Hire, error) {
	hire, ok, err := r.store.GetHire(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get hire: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("hire %s: %w", id, ErrHireNotFound)
	}
	return hire, nil
}

// publish отправляет событие. Ошибка публикации не влияет на состояние job.
func (r *Runtime) publish(ctx context.Context, ev domain.JobEvent) {
	if r.publisher == nil {
		return
	}
	if err := r.publisher.PublishJobEvent(ctx, ev); err != nil {
		r.logger.Warn("failed to publish job event",
			"event", ev.Type,
			"job_id", ev.JobID,
			"error", err,
		)
	}
}

// WakeupPublisher — опциональная возможность Publisher: будить воркеров,
// когда job становится due немедленно.
type WakeupPublisher interface {
	PublishJobDue(ctx context.Context, jobID uuid.UUID) error
}

func (r *Runtime) wakeUp(ctx context.Context, job *domain.Job, now time.Time) {
	wp, ok := r.publisher.(WakeupPublisher)
	if !ok || !job.IsDue(now) {
		return
	}
	if err := wp.PublishJobDue(ctx, job.ID); err != nil {
		telemetry.WithJobID(r.logger, job.ID.String()).Warn("failed to publish job.due", "error", err)
	}
}
